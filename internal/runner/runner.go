package runner

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/rileyhilliard/jumpssh/internal/errors"
	"github.com/rileyhilliard/jumpssh/internal/logger"
	"github.com/rileyhilliard/jumpssh/internal/util"
	"github.com/rileyhilliard/jumpssh/pkg/sshutil"
	"golang.org/x/crypto/ssh"
)

// Result is the outcome of a command that ran to completion.
type Result struct {
	ExitCode int
	// Output is stdout and stderr merged in arrival order.
	Output string
}

// Options control a single Run.
type Options struct {
	User             string
	RaiseIfError     bool
	ContinuousOutput bool
	Output           io.Writer
	Timeout          time.Duration
	Inputs           map[string]string
	Logger           logger.Logger
}

// Option configures Options.
type Option func(*Options)

// WithUser runs the command as another user through sudo.
func WithUser(user string) Option {
	return func(o *Options) { o.User = user }
}

// WithRaiseIfError controls whether a non-zero exit returns *errors.RunCmdError.
// Defaults to true.
func WithRaiseIfError(raise bool) Option {
	return func(o *Options) { o.RaiseIfError = raise }
}

// WithContinuousOutput echoes output chunks as they arrive.
func WithContinuousOutput(enabled bool) Option {
	return func(o *Options) { o.ContinuousOutput = enabled }
}

// WithOutput sets where continuous output goes. Defaults to os.Stdout.
func WithOutput(w io.Writer) Option {
	return func(o *Options) { o.Output = w }
}

// WithTimeout bounds how long the command may run. Zero means no bound.
func WithTimeout(d time.Duration) Option {
	return func(o *Options) { o.Timeout = d }
}

// WithInput answers prompt with value followed by a newline, once.
func WithInput(prompt, value string) Option {
	return func(o *Options) {
		if o.Inputs == nil {
			o.Inputs = make(map[string]string)
		}
		o.Inputs[prompt] = value
	}
}

// WithInputData adds every prompt/value pair in data.
func WithInputData(data map[string]string) Option {
	return func(o *Options) {
		for prompt, value := range data {
			WithInput(prompt, value)(o)
		}
	}
}

// WithLogger sets the logger for command tracing.
func WithLogger(l logger.Logger) Option {
	return func(o *Options) { o.Logger = l }
}

// NewOptions applies opts over the defaults.
func NewOptions(opts ...Option) Options {
	o := Options{
		RaiseIfError: true,
		Output:       os.Stdout,
		Logger:       logger.Noop(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Terminal requested for commands that answer prompts. Echo is off so typed
// answers don't show up in the output.
const (
	ptyTerm = "xterm"
	ptyRows = 40
	ptyCols = 80
)

var ptyModes = ssh.TerminalModes{
	ssh.ECHO:          0,
	ssh.TTY_OP_ISPEED: 14400,
	ssh.TTY_OP_OSPEED: 14400,
}

// ChannelOpener opens exec channels. sshutil.Conn satisfies it.
type ChannelOpener interface {
	NewExec() (sshutil.ExecChannel, error)
}

// Run executes cmd on a fresh exec channel from conn.
//
// Output is read incrementally. When inputs are configured the command runs on
// a pseudo-terminal, and each prompt's value is written to stdin the first
// time the prompt appears. Stdin stays open until the command exits, so a
// command waiting on input that never comes runs into the timeout. If the
// timeout elapses the channel is closed and *errors.TimeoutError is returned.
// A non-zero exit returns *errors.RunCmdError alongside the Result unless
// raising was disabled.
func Run(ctx context.Context, conn ChannelOpener, cmd Command, opts ...Option) (Result, error) {
	if err := cmd.Validate(); err != nil {
		return Result{}, err
	}
	o := NewOptions(opts...)
	shell := util.AsUser(o.User, cmd.Shell())

	ch, err := conn.NewExec()
	if err != nil {
		return Result{}, channelError(err, "Couldn't open an exec channel")
	}
	defer ch.Close()

	stdin, err := ch.StdinPipe()
	if err != nil {
		return Result{}, channelError(err, "Couldn't attach stdin")
	}
	stdout, err := ch.StdoutPipe()
	if err != nil {
		return Result{}, channelError(err, "Couldn't attach stdout")
	}
	stderr, err := ch.StderrPipe()
	if err != nil {
		return Result{}, channelError(err, "Couldn't attach stderr")
	}

	if len(o.Inputs) > 0 {
		if err := ch.RequestPty(ptyTerm, ptyRows, ptyCols, ptyModes); err != nil {
			return Result{}, channelError(err, "Couldn't allocate a terminal")
		}
	}

	o.Logger.Debug("running: %s", shell)
	start := time.Now()
	if err := ch.Start(shell); err != nil {
		return Result{}, channelError(err, fmt.Sprintf("Couldn't start '%s'", cmd))
	}

	matcher := newPromptMatcher(o.Inputs)

	chunks := make(chan []byte)
	stop := make(chan struct{})
	defer close(stop)

	var readers sync.WaitGroup
	readers.Add(2)
	go forward(stdout, chunks, stop, &readers)
	go forward(stderr, chunks, stop, &readers)

	exited := make(chan error, 1)
	go func() {
		readers.Wait()
		exited <- ch.Wait()
	}()

	var timeout <-chan time.Time
	if o.Timeout > 0 {
		timer := time.NewTimer(o.Timeout)
		defer timer.Stop()
		timeout = timer.C
	}

	var output bytes.Buffer
	for {
		select {
		case chunk := <-chunks:
			output.Write(chunk)
			if o.ContinuousOutput && o.Output != nil {
				_, _ = o.Output.Write(chunk)
			}
			if matcher.done() {
				continue
			}
			for _, value := range matcher.feed(chunk) {
				if _, err := io.WriteString(stdin, value+"\n"); err != nil {
					o.Logger.Warn("couldn't answer prompt for '%s': %v", cmd, err)
				}
			}

		case waitErr := <-exited:
			code, err := exitCode(waitErr)
			if err != nil {
				return Result{}, err
			}
			res := Result{ExitCode: code, Output: output.String()}
			o.Logger.Debug("'%s' exited with %d after %s", cmd, code, time.Since(start).Round(time.Millisecond))
			if code != 0 && o.RaiseIfError {
				return res, &errors.RunCmdError{ExitCode: code, Command: cmd.String(), Output: res.Output}
			}
			return res, nil

		case <-timeout:
			elapsed := time.Since(start)
			o.Logger.Debug("'%s' timed out after %s, closing channel", cmd, elapsed)
			_ = ch.Close()
			return Result{}, &errors.TimeoutError{Command: cmd.String(), Elapsed: elapsed}

		case <-ctx.Done():
			_ = ch.Close()
			return Result{}, ctx.Err()
		}
	}
}

// forward sends everything read from r to chunks until EOF or stop.
func forward(r io.Reader, chunks chan<- []byte, stop <-chan struct{}, wg *sync.WaitGroup) {
	defer wg.Done()
	buf := make([]byte, 32*1024)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			chunk := append([]byte(nil), buf[:n]...)
			select {
			case chunks <- chunk:
			case <-stop:
				return
			}
		}
		if err != nil {
			return
		}
	}
}

// exitCode extracts the remote exit status from a Wait error.
func exitCode(waitErr error) (int, error) {
	if waitErr == nil {
		return 0, nil
	}
	var status interface{ ExitStatus() int }
	if stderrors.As(waitErr, &status) {
		return status.ExitStatus(), nil
	}
	return -1, errors.WrapWithCode(waitErr, errors.ErrSSH,
		"Command ended without an exit status",
		"The connection may have dropped. Check the session is still active.")
}

func channelError(err error, message string) error {
	var structured *errors.Error
	if stderrors.As(err, &structured) {
		return err
	}
	return errors.WrapWithCode(err, errors.ErrSSH, message,
		"Connection may have been closed. Try reconnecting.")
}

// Output runs cmd and returns its merged output.
func Output(ctx context.Context, conn ChannelOpener, cmd Command, opts ...Option) (string, error) {
	res, err := Run(ctx, conn, cmd, opts...)
	return res.Output, err
}

// ExitCode runs cmd and returns its exit status without treating non-zero
// as an error.
func ExitCode(ctx context.Context, conn ChannelOpener, cmd Command, opts ...Option) (int, error) {
	opts = append(opts, WithRaiseIfError(false))
	res, err := Run(ctx, conn, cmd, opts...)
	if err != nil {
		return -1, err
	}
	return res.ExitCode, nil
}
