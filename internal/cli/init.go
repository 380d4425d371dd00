package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/rileyhilliard/jumpssh/internal/config"
	"github.com/rileyhilliard/jumpssh/internal/errors"
	"github.com/spf13/cobra"
)

// InitOptions holds options for the init command.
type InitOptions struct {
	Path           string
	Name           string
	Hops           []string
	Force          bool
	NonInteractive bool
}

func newInitCmd(global *GlobalFlags) *cobra.Command {
	opts := InitOptions{}
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create .jump.yaml or add a chain to it",
		Long: `Write a starter .jump.yaml in the current directory. When the file already
exists the chain is added to it, keeping existing comments.

Hops come from --hop flags, or from prompts when none are given.

Examples:
  jump init
  jump -J ops@bastion -J deploy@10.0.0.5:2222 init --name prod`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.Hops = global.Hops
			if opts.Path == "" {
				opts.Path = global.Config
			}
			if opts.Path == "" {
				opts.Path = filepath.Join(".", config.ConfigFileName)
			}
			if !interactive() {
				opts.NonInteractive = true
			}
			path, err := Init(opts)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Chain '%s' saved to %s\n", strings.ToLower(opts.Name), path)
			return nil
		},
	}
	cmd.Flags().StringVar(&opts.Name, "name", "default", "chain name")
	cmd.Flags().BoolVarP(&opts.Force, "force", "f", false, "overwrite an existing config instead of adding to it")
	return cmd
}

// Init writes a new config or adds a chain to an existing one and returns
// the file path.
func Init(opts InitOptions) (string, error) {
	name := strings.ToLower(strings.TrimSpace(opts.Name))
	if name == "" || strings.ContainsAny(name, " \t\n") {
		return "", errors.New(errors.ErrConfig,
			fmt.Sprintf("'%s' isn't a usable chain name", opts.Name),
			"Chain names can't be empty or contain whitespace.")
	}

	chain, err := initChain(opts)
	if err != nil {
		return "", err
	}
	if chain != nil {
		if err := config.ValidateChain(name, chain); err != nil {
			return "", err
		}
	}

	_, statErr := os.Stat(opts.Path)
	if statErr == nil && opts.Force && !opts.NonInteractive {
		ok, err := confirm(fmt.Sprintf("Overwrite %s?", opts.Path), false)
		if err != nil {
			return "", errors.WrapWithCode(err, errors.ErrConfig, "Failed to get user input", "")
		}
		if !ok {
			return "", errors.New(errors.ErrConfig,
				"Left "+opts.Path+" unchanged",
				"Drop --force to add the chain to the existing file.")
		}
	}
	if statErr == nil && !opts.Force {
		if chain == nil {
			return "", errors.New(errors.ErrConfig,
				fmt.Sprintf("Config file already exists: %s", opts.Path),
				"Give hops with --hop to add a chain, or use --force to overwrite")
		}
		if err := config.AddChain(opts.Path, name, chain); err != nil {
			return "", errors.WrapWithCode(err, errors.ErrConfig,
				"Couldn't add the chain", "Check that "+opts.Path+" is valid YAML.")
		}
		return opts.Path, nil
	}

	if err := config.WriteStarter(opts.Path, config.StarterConfig(name, chain), true); err != nil {
		return "", errors.WrapWithCode(err, errors.ErrConfig,
			"Couldn't write the config file", "Check directory permissions.")
	}
	return opts.Path, nil
}

// initChain returns the hops to save: from --hop, from prompts, or nil for
// the example chain when neither is available.
func initChain(opts InitOptions) (config.Chain, error) {
	if len(opts.Hops) > 0 {
		return ParseHops(opts.Hops)
	}
	if opts.NonInteractive {
		return nil, nil
	}

	var gateway, target string
	hopInput := func(title, placeholder string, value *string) *huh.Input {
		return huh.NewInput().
			Title(title).
			Description("[user@]host[:port] or an SSH config alias").
			Placeholder(placeholder).
			Value(value).
			Validate(func(s string) error {
				if strings.TrimSpace(s) == "" {
					return fmt.Errorf("a host is required")
				}
				_, err := ParseHop(s)
				return err
			})
	}

	form := huh.NewForm(
		huh.NewGroup(hopInput("Gateway", "ops@bastion.example.com", &gateway)),
		huh.NewGroup(hopInput("Target behind the gateway", "deploy@10.0.0.5", &target)),
	)
	if err := form.Run(); err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrConfig,
			"Failed to get user input",
			"Pass hops with --hop to skip the prompts")
	}
	return ParseHops([]string{gateway, target})
}
