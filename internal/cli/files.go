package cli

import (
	"fmt"
	"io"

	"github.com/rileyhilliard/jumpssh/internal/errors"
	"github.com/rileyhilliard/jumpssh/pkg/jump"
	"github.com/spf13/cobra"
)

func (f *FileFlags) options() []jump.FileOption {
	var opts []jump.FileOption
	if f.Owner != "" {
		opts = append(opts, jump.WithOwner(f.Owner))
	}
	if f.Mode != "" {
		opts = append(opts, jump.WithPermissions(f.Mode))
	}
	if f.Sudo {
		opts = append(opts, jump.WithSudo(true))
	}
	return opts
}

func newPutCmd(global *GlobalFlags) *cobra.Command {
	flags := &FileFlags{}
	cmd := &cobra.Command{
		Use:   "put LOCAL REMOTE",
		Short: "Upload a file to the last hop",
		Long: `Upload a local file to the chain's target host. --owner and --mode are
applied through sudo after the upload.

Examples:
  jump put ./app.conf /tmp/app.conf
  jump put ./id_deploy /home/deploy/.ssh/id_ed25519 --owner deploy --mode 600`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withTarget(cmd, global, func(e *env, target *jump.Session) error {
				if err := target.Put(cmd.Context(), args[0], args[1], flags.options()...); err != nil {
					return err
				}
				return report(e, "Uploaded %s to %s:%s", args[0], target.Destination(), args[1])
			})
		},
	}
	AddFileFlags(cmd, flags)
	return cmd
}

func newGetCmd(global *GlobalFlags) *cobra.Command {
	var sudo bool
	cmd := &cobra.Command{
		Use:   "get REMOTE LOCAL",
		Short: "Download a file from the last hop",
		Long: `Download a file from the chain's target host. When LOCAL is a directory the
file keeps its remote name. With --sudo, files the login user can't read are
copied aside through sudo first.

Examples:
  jump get /var/log/app.log ./
  jump get /etc/shadow ./shadow --sudo`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withTarget(cmd, global, func(e *env, target *jump.Session) error {
				if err := target.Get(cmd.Context(), args[0], args[1], sudo); err != nil {
					return err
				}
				return report(e, "Downloaded %s:%s to %s", target.Destination(), args[0], args[1])
			})
		},
	}
	cmd.Flags().BoolVar(&sudo, "sudo", false, "fall back to sudo when the file isn't readable")
	return cmd
}

func newWriteCmd(global *GlobalFlags) *cobra.Command {
	flags := &FileFlags{}
	var content string
	cmd := &cobra.Command{
		Use:   "write REMOTE",
		Short: "Write content to a file on the last hop",
		Long: `Write --content, or stdin when --content isn't given, to a file on the
chain's target host.

Examples:
  jump write /etc/motd --content 'maintenance tonight' --sudo
  cat nginx.conf | jump write /etc/nginx/nginx.conf --sudo --owner root --mode 644`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("content") {
				data, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return errors.WrapWithCode(err, errors.ErrIO, "Couldn't read stdin", "")
				}
				content = string(data)
			}
			return withTarget(cmd, global, func(e *env, target *jump.Session) error {
				if err := target.File(cmd.Context(), args[0], content, flags.options()...); err != nil {
					return err
				}
				return report(e, "Wrote %d bytes to %s:%s", len(content), target.Destination(), args[0])
			})
		},
	}
	cmd.Flags().StringVar(&content, "content", "", "file content (default: read stdin)")
	AddFileFlags(cmd, flags)
	return cmd
}

func newExistsCmd(global *GlobalFlags) *cobra.Command {
	var sudo bool
	cmd := &cobra.Command{
		Use:   "exists PATH",
		Short: "Check whether a path exists on the last hop",
		Long: `Print true or false and exit 0 or 1 accordingly.

Examples:
  jump exists /etc/nginx/nginx.conf
  jump exists /root/.ssh --sudo`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withTarget(cmd, global, func(e *env, target *jump.Session) error {
				ok, err := target.Exists(cmd.Context(), args[0], sudo)
				if err != nil {
					return err
				}
				if e.flags.JSON {
					if err := WriteJSONSuccess(e.stdout, map[string]interface{}{"path": args[0], "exists": ok}); err != nil {
						return err
					}
				} else {
					fmt.Fprintln(e.stdout, ok)
				}
				if !ok {
					return errors.NewExitError(1)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&sudo, "sudo", false, "test through sudo")
	return cmd
}

// report prints a confirmation, or a JSON success envelope.
func report(e *env, format string, args ...interface{}) error {
	msg := fmt.Sprintf(format, args...)
	if e.flags.JSON {
		return WriteJSONSuccess(e.stdout, map[string]string{"message": msg})
	}
	if !e.flags.Quiet {
		fmt.Fprintln(e.stderr, msg)
	}
	return nil
}
