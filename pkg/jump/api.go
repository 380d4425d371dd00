package jump

import (
	"github.com/rileyhilliard/jumpssh/internal/errors"
	"github.com/rileyhilliard/jumpssh/internal/runner"
	"github.com/rileyhilliard/jumpssh/internal/transfer"
)

// Commands and results.
type (
	// Command is an ordered list of shell commands run as one invocation.
	Command = runner.Command
	// Result is a finished command's exit status and merged output.
	Result = runner.Result
	// RunOption configures RunCmd, GetCmdOutput and GetExitCode.
	RunOption = runner.Option
	// FileOption configures Put and File.
	FileOption = transfer.Option
)

// Cmd returns a single-command Command.
func Cmd(cmd string) Command { return runner.Cmd(cmd) }

// Cmds returns a Command of several commands, each run only if the previous
// one succeeded.
func Cmds(cmds ...string) Command { return runner.Cmds(cmds...) }

// ParseCommand converts a string or list of strings, as decoded from YAML or
// JSON, into a Command. Anything else is an ErrType error.
func ParseCommand(v any) (Command, error) { return runner.ParseCommand(v) }

// Run options.
var (
	WithUser             = runner.WithUser
	WithRaiseIfError     = runner.WithRaiseIfError
	WithContinuousOutput = runner.WithContinuousOutput
	WithOutput           = runner.WithOutput
	WithTimeout          = runner.WithTimeout
	WithInput            = runner.WithInput
	WithInputData        = runner.WithInputData
)

// File options.
var (
	WithOwner       = transfer.WithOwner
	WithPermissions = transfer.WithPermissions
	WithSudo        = transfer.WithSudo
)

// Errors.
type (
	Error        = errors.Error
	RunCmdError  = errors.RunCmdError
	TimeoutError = errors.TimeoutError
	IOError      = errors.IOError
)

// Error codes, matched with IsCode.
const (
	ErrConfig     = errors.ErrConfig
	ErrSSH        = errors.ErrSSH
	ErrConnection = errors.ErrConnection
	ErrState      = errors.ErrState
	ErrTimeout    = errors.ErrTimeout
	ErrExec       = errors.ErrExec
	ErrIO         = errors.ErrIO
	ErrType       = errors.ErrType
)

// IsCode reports whether err carries the given error code.
func IsCode(err error, code string) bool { return errors.IsCode(err, code) }
