// Package transfer moves files to and from a remote host over sftp, using
// sudo through the command runner where plain sftp access is not enough.
package transfer

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/rileyhilliard/jumpssh/internal/errors"
	"github.com/rileyhilliard/jumpssh/internal/logger"
	"github.com/rileyhilliard/jumpssh/internal/runner"
	"github.com/rileyhilliard/jumpssh/internal/util"
	"github.com/rileyhilliard/jumpssh/pkg/sshutil"
)

// StagingPrefix names temporary copies made on the remote host.
const StagingPrefix = "/tmp/jumpssh-"

// Remote is a connection that can run commands and serve sftp.
type Remote interface {
	runner.ChannelOpener
	// SFTP returns the connection's sftp client, opening it on first use.
	SFTP() (sshutil.SFTPClient, error)
}

// Options control ownership and privilege for uploads and writes.
type Options struct {
	Owner       string
	Permissions string
	Sudo        bool
	Logger      logger.Logger
}

// Option configures Options.
type Option func(*Options)

// WithOwner chowns the remote file to owner (user or user:group) through sudo.
func WithOwner(owner string) Option {
	return func(o *Options) { o.Owner = owner }
}

// WithPermissions sets the remote file mode from an octal string such as "600".
func WithPermissions(perm string) Option {
	return func(o *Options) { o.Permissions = perm }
}

// WithSudo writes through a staging file moved into place with sudo.
func WithSudo(enabled bool) Option {
	return func(o *Options) { o.Sudo = enabled }
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(o *Options) { o.Logger = l }
}

func newOptions(opts []Option) (Options, error) {
	o := Options{Logger: logger.Noop()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.Permissions != "" {
		if _, err := ParsePermissions(o.Permissions); err != nil {
			return o, err
		}
	}
	return o, nil
}

// ParsePermissions parses an octal mode string like "644" or "0755".
func ParsePermissions(perm string) (os.FileMode, error) {
	mode, err := strconv.ParseUint(perm, 8, 32)
	if err != nil || mode > 07777 {
		return 0, errors.New(errors.ErrType,
			fmt.Sprintf("Invalid permissions '%s'", perm),
			"Use an octal mode such as 600 or 0755.")
	}
	return os.FileMode(mode), nil
}

// Put uploads localPath to remotePath, then applies owner and permissions.
// A missing local file fails before anything touches the remote host.
func Put(ctx context.Context, r Remote, localPath, remotePath string, opts ...Option) error {
	o, err := newOptions(opts)
	if err != nil {
		return err
	}

	info, err := os.Stat(localPath)
	if err != nil {
		if stderrors.Is(err, fs.ErrNotExist) {
			return errors.NewIOError(syscall.ENOENT, localPath,
				fmt.Sprintf("Local file '%s' does not exist", localPath))
		}
		return errors.NewIOError(errnoOf(err, syscall.EIO), localPath, err.Error())
	}
	if info.IsDir() {
		return errors.NewIOError(syscall.EISDIR, localPath,
			fmt.Sprintf("Local path '%s' is a directory", localPath))
	}

	src, err := os.Open(localPath)
	if err != nil {
		return errors.NewIOError(errnoOf(err, syscall.EIO), localPath, err.Error())
	}
	defer src.Close()

	client, err := r.SFTP()
	if err != nil {
		return err
	}

	o.Logger.Debug("uploading %s to %s", localPath, remotePath)
	if err := upload(client, src, remotePath); err != nil {
		return err
	}
	return applyAttributes(ctx, r, remotePath, o, true)
}

// Get downloads remotePath to localPath. If localPath is a directory the
// file keeps its remote name. With useSudo, a file the login user can't read
// is copied to a world-readable staging file with sudo, downloaded, and the
// staging copy removed.
func Get(ctx context.Context, r Remote, remotePath, localPath string, useSudo bool, opts ...Option) error {
	o, err := newOptions(opts)
	if err != nil {
		return err
	}

	if info, err := os.Stat(localPath); err == nil && info.IsDir() {
		localPath = filepath.Join(localPath, path.Base(remotePath))
	}

	client, err := r.SFTP()
	if err != nil {
		return err
	}

	o.Logger.Debug("downloading %s to %s", remotePath, localPath)
	err = download(client, remotePath, localPath)
	if err == nil || !useSudo || !stderrors.Is(err, fs.ErrPermission) {
		return err
	}

	staged := StagingPrefix + uuid.NewString()
	o.Logger.Debug("%s is not readable, staging it at %s", remotePath, staged)
	defer func() {
		cleanup := runner.Cmd(util.Sudo(true, "rm -f "+util.ShellQuote(staged)))
		if _, err := runner.Run(context.WithoutCancel(ctx), r, cleanup); err != nil {
			o.Logger.Warn("couldn't remove staging file %s: %v", staged, err)
		}
	}()

	stage := runner.Cmds(
		util.Sudo(true, "cp "+util.ShellQuote(remotePath)+" "+util.ShellQuote(staged)),
		util.Sudo(true, "chmod a+r "+util.ShellQuote(staged)),
	)
	if _, err := runner.Run(ctx, r, stage, runner.WithLogger(o.Logger)); err != nil {
		var runErr *errors.RunCmdError
		if stderrors.As(err, &runErr) {
			return stagingError(remotePath, runErr)
		}
		return err
	}

	return download(client, staged, localPath)
}

// File writes content to remotePath. Without sudo a permission failure is an
// EACCES IOError; with sudo the content is written to a staging file and
// moved into place.
func File(ctx context.Context, r Remote, remotePath, content string, opts ...Option) error {
	o, err := newOptions(opts)
	if err != nil {
		return err
	}

	client, err := r.SFTP()
	if err != nil {
		return err
	}

	if !o.Sudo {
		o.Logger.Debug("writing %d bytes to %s", len(content), remotePath)
		if err := upload(client, strings.NewReader(content), remotePath); err != nil {
			return err
		}
		return applyAttributes(ctx, r, remotePath, o, false)
	}

	staged := StagingPrefix + uuid.NewString()
	o.Logger.Debug("writing %d bytes to %s via %s", len(content), remotePath, staged)
	if err := upload(client, strings.NewReader(content), staged); err != nil {
		return err
	}

	move := runner.Cmd(util.Sudo(true, "mv "+util.ShellQuote(staged)+" "+util.ShellQuote(remotePath)))
	if _, err := runner.Run(ctx, r, move, runner.WithLogger(o.Logger)); err != nil {
		if rmErr := client.Remove(staged); rmErr != nil {
			o.Logger.Warn("couldn't remove staging file %s: %v", staged, rmErr)
		}
		return err
	}
	return applyAttributes(ctx, r, remotePath, o, true)
}

// Exists reports whether remotePath exists. A leading ~/ is left for the
// remote shell to expand. Any non-zero status from test -e
// counts as absent, including paths hidden by permissions. Transport failures
// are returned as errors.
func Exists(ctx context.Context, r Remote, remotePath string, useSudo bool, opts ...runner.Option) (bool, error) {
	cmd := runner.Cmd(util.Sudo(useSudo, "test -e "+util.ShellQuotePreserveTilde(remotePath)))
	code, err := runner.ExitCode(ctx, r, cmd, opts...)
	if err != nil {
		return false, err
	}
	return code == 0, nil
}

// upload copies src into a newly created remote file.
func upload(client sshutil.SFTPClient, src io.Reader, remotePath string) error {
	dst, err := client.Create(remotePath)
	if err != nil {
		return remoteIOError(err, remotePath)
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return remoteIOError(err, remotePath)
	}
	if err := dst.Close(); err != nil {
		return remoteIOError(err, remotePath)
	}
	return nil
}

// download copies remotePath into localPath, removing a partial local file
// on failure. Remote errors keep fs.ErrPermission matchable.
func download(client sshutil.SFTPClient, remotePath, localPath string) error {
	src, err := client.Open(remotePath)
	if err != nil {
		return remoteIOError(err, remotePath)
	}
	defer src.Close()

	dst, err := os.Create(localPath)
	if err != nil {
		return errors.NewIOError(errnoOf(err, syscall.EIO), localPath, err.Error())
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		os.Remove(localPath)
		return remoteIOError(err, remotePath)
	}
	if err := dst.Close(); err != nil {
		os.Remove(localPath)
		return errors.NewIOError(errnoOf(err, syscall.EIO), localPath, err.Error())
	}
	return nil
}

// applyAttributes chowns and chmods remotePath. chown always needs sudo;
// chmod uses sudo when privileged is set.
func applyAttributes(ctx context.Context, r Remote, remotePath string, o Options, privileged bool) error {
	var cmds []string
	quoted := util.ShellQuote(remotePath)
	if o.Owner != "" {
		cmds = append(cmds, util.Sudo(true, "chown "+util.ShellQuote(o.Owner)+" "+quoted))
	}
	if o.Permissions != "" {
		cmds = append(cmds, util.Sudo(privileged, "chmod "+util.ShellQuote(o.Permissions)+" "+quoted))
	}
	if len(cmds) == 0 {
		return nil
	}
	_, err := runner.Run(ctx, r, runner.Cmds(cmds...), runner.WithLogger(o.Logger))
	return err
}

// remoteIOError maps sftp failures onto IOError errnos.
func remoteIOError(err error, remotePath string) error {
	switch {
	case stderrors.Is(err, fs.ErrPermission):
		return errors.NewIOError(syscall.EACCES, remotePath, "Permission denied")
	case stderrors.Is(err, fs.ErrNotExist):
		return errors.NewIOError(syscall.ENOENT, remotePath,
			fmt.Sprintf("Remote path '%s' does not exist", remotePath))
	}
	return errors.NewIOError(syscall.EIO, remotePath, err.Error())
}

func stagingError(remotePath string, runErr *errors.RunCmdError) error {
	if strings.Contains(runErr.Output, "No such file") {
		return errors.NewIOError(syscall.ENOENT, remotePath,
			fmt.Sprintf("Remote path '%s' does not exist", remotePath))
	}
	return errors.NewIOError(syscall.EACCES, remotePath,
		fmt.Sprintf("Permission denied, and sudo couldn't read it: %s", strings.TrimSpace(runErr.Output)))
}

// errnoOf returns the errno inside err, or fallback.
func errnoOf(err error, fallback syscall.Errno) syscall.Errno {
	var errno syscall.Errno
	if stderrors.As(err, &errno) {
		return errno
	}
	return fallback
}
