// Package cli implements the jump command line: run commands and move files
// on a host reached through a chain of SSH gateways.
package cli

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/charmbracelet/lipgloss"
	"github.com/rileyhilliard/jumpssh/internal/errors"
	"github.com/rileyhilliard/jumpssh/internal/ui"
	"github.com/rileyhilliard/jumpssh/pkg/sshutil"
	"github.com/spf13/cobra"
)

// NewRootCmd builds the jump command tree.
func NewRootCmd() *cobra.Command {
	flags := &GlobalFlags{}

	root := &cobra.Command{
		Use:   "jump",
		Short: "Run commands and move files through chained SSH gateways",
		Long: `jump reaches a host through one or more SSH gateways and runs commands or
transfers files there. Chains come from .jump.yaml or from repeated --hop flags.

Examples:
  jump run -- uptime
  jump -J ops@bastion -J deploy@10.0.0.5 run -- systemctl status nginx
  jump --chain prod put ./app.conf /etc/app.conf --sudo --mode 644
  jump check`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	AddGlobalFlags(root, flags)

	root.AddCommand(
		newRunCmd(flags),
		newPutCmd(flags),
		newGetCmd(flags),
		newWriteCmd(flags),
		newExistsCmd(flags),
		newCheckCmd(flags),
		newHostsCmd(flags),
		newInitCmd(flags),
		newVersionCmd(),
	)
	return root
}

// Execute runs the CLI and exits with the command's status.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	root := NewRootCmd()
	err := root.ExecuteContext(ctx)
	stop()
	sshutil.CloseAgent()
	os.Exit(handleError(err, root.ErrOrStderr(), jsonRequested(root)))
}

func jsonRequested(root *cobra.Command) bool {
	v, err := root.PersistentFlags().GetBool("json")
	return err == nil && v
}

// handleError reports err and returns the process exit code.
func handleError(err error, w io.Writer, asJSON bool) int {
	if err == nil {
		return 0
	}

	var exitErr *errors.ExitError
	if stderrors.As(err, &exitErr) {
		return exitErr.Code
	}

	if asJSON {
		_ = WriteJSONFromError(w, err)
	} else {
		fmt.Fprint(w, renderError(err))
	}

	if code, ok := errors.GetExitCode(err); ok && code > 0 {
		return code
	}
	return 1
}

// renderError styles the first line of a structured error.
func renderError(err error) string {
	msg := err.Error()
	if !strings.HasSuffix(msg, "\n") {
		msg += "\n"
	}
	var structured *errors.Error
	if !stderrors.As(err, &structured) {
		return lipgloss.NewStyle().Foreground(ui.ColorError).Render(ui.SymbolFail+" "+strings.TrimSuffix(msg, "\n")) + "\n"
	}
	first, rest, _ := strings.Cut(msg, "\n")
	return lipgloss.NewStyle().Foreground(ui.ColorError).Bold(true).Render(first) + "\n" + rest
}
