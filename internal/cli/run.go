package cli

import (
	"fmt"
	"strings"

	"github.com/rileyhilliard/jumpssh/internal/errors"
	"github.com/rileyhilliard/jumpssh/internal/ui"
	"github.com/rileyhilliard/jumpssh/pkg/jump"
	"github.com/spf13/cobra"
)

type runFlags struct {
	Commands []string
	User     string
	Timeout  string
	Inputs   []string
	Buffered bool
}

func newRunCmd(global *GlobalFlags) *cobra.Command {
	flags := &runFlags{}
	cmd := &cobra.Command{
		Use:   "run [flags] [-- command...]",
		Short: "Run a command on the last hop of the chain",
		Long: `Run a shell command on the chain's target host. Output is streamed as it
arrives and jump exits with the command's exit code.

Repeat -c to run several commands in order; each runs only if the previous
one succeeded. Use --input to answer interactive prompts.

Examples:
  jump run -- df -h
  jump run -c "cd /srv/app" -c "git pull" -c "make deploy"
  jump run --user postgres -- psql -c 'select 1'
  jump run --input 'Continue? [y/N]=y' -- ./upgrade.sh`,
		RunE: func(cmd *cobra.Command, args []string) error {
			command, err := buildCommand(flags.Commands, args)
			if err != nil {
				return err
			}
			return withTarget(cmd, global, func(e *env, target *jump.Session) error {
				return runOnTarget(cmd, e, target, command, flags)
			})
		},
	}
	cmd.Flags().StringArrayVarP(&flags.Commands, "cmd", "c", nil, "command to run; repeat to chain with &&")
	cmd.Flags().StringVarP(&flags.User, "user", "u", "", "run as this user through sudo")
	cmd.Flags().StringVar(&flags.Timeout, "timeout", "", "command timeout (e.g., 30s); overrides the config default")
	cmd.Flags().StringArrayVar(&flags.Inputs, "input", nil, "answer a prompt, as prompt=answer")
	cmd.Flags().BoolVar(&flags.Buffered, "buffered", false, "print output when the command ends instead of streaming")
	return cmd
}

// buildCommand combines -c values and trailing args into one Command.
func buildCommand(cmds, args []string) (jump.Command, error) {
	all := append([]string(nil), cmds...)
	if len(args) > 0 {
		all = append(all, strings.Join(args, " "))
	}
	command := jump.Cmds(all...)
	if err := command.Validate(); err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrConfig,
			"Nothing to run",
			"Pass a command after --, or with -c.")
	}
	return command, nil
}

func runOnTarget(cmd *cobra.Command, e *env, target *jump.Session, command jump.Command, flags *runFlags) error {
	inputs, err := ParseInputs(flags.Inputs)
	if err != nil {
		return err
	}

	opts := []jump.RunOption{
		jump.WithRaiseIfError(false),
		jump.WithInputData(inputs),
		jump.WithContinuousOutput(!flags.Buffered && !e.flags.JSON),
		jump.WithOutput(e.stdout),
	}
	if flags.User != "" {
		opts = append(opts, jump.WithUser(flags.User))
	}
	if cmd.Flags().Changed("timeout") {
		timeout, err := ParseDuration("timeout", flags.Timeout)
		if err != nil {
			return err
		}
		opts = append(opts, jump.WithTimeout(timeout))
	}

	if e.showProgress() {
		display := ui.NewPhaseDisplay(e.stderr)
		display.Divider()
		display.CommandPrompt(command.String())
	}

	res, err := target.RunCmd(cmd.Context(), command, opts...)
	if err != nil {
		return err
	}

	if e.flags.JSON {
		if err := WriteJSONSuccess(e.stdout, map[string]interface{}{
			"host":      target.Destination().String(),
			"command":   command.String(),
			"exit_code": res.ExitCode,
			"output":    res.Output,
		}); err != nil {
			return err
		}
	} else if flags.Buffered {
		fmt.Fprint(e.stdout, res.Output)
	}

	if res.ExitCode != 0 {
		return errors.NewExitError(res.ExitCode)
	}
	return nil
}
