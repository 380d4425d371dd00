package errors

import (
	"errors"
	"fmt"
	"strings"
	"syscall"
	"time"
)

// Error codes for categorizing errors
const (
	ErrConfig     = "CONFIG"
	ErrSSH        = "SSH"
	ErrConnection = "CONNECTION"
	ErrState      = "STATE"
	ErrTimeout    = "TIMEOUT"
	ErrExec       = "EXEC"
	ErrIO         = "IO"
	ErrType       = "TYPE"
)

// Error represents a structured error with code, message, suggestion, and optional cause.
// Rendered as:
//
//	✗ <What failed>
//
//	  <Why it failed - technical details>
//
//	  <How to fix it - actionable steps>
type Error struct {
	Code       string
	Message    string
	Suggestion string
	Cause      error
}

// New creates a new structured error with the given code, message, and suggestion.
func New(code, message, suggestion string) *Error {
	return &Error{
		Code:       code,
		Message:    message,
		Suggestion: suggestion,
	}
}

// Wrap wraps an existing error with a message, defaulting to ErrSSH code.
func Wrap(err error, message string) *Error {
	return &Error{
		Code:    ErrSSH,
		Message: message,
		Cause:   err,
	}
}

// WrapWithCode wraps an existing error with a specific code, message, and suggestion.
func WrapWithCode(err error, code, message, suggestion string) *Error {
	return &Error{
		Code:       code,
		Message:    message,
		Suggestion: suggestion,
		Cause:      err,
	}
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteString(fmt.Sprintf("✗ %s\n", e.Message))

	if e.Cause != nil {
		b.WriteString(fmt.Sprintf("\n  %s\n", e.Cause.Error()))
	}

	if e.Suggestion != "" {
		b.WriteString(fmt.Sprintf("\n  %s\n", e.Suggestion))
	}

	return b.String()
}

// Unwrap returns the underlying cause for use with errors.Is/errors.As.
func (e *Error) Unwrap() error {
	return e.Cause
}

// ErrorCode returns the error's category code.
func (e *Error) ErrorCode() string {
	return e.Code
}

// coder is implemented by every error type in this package.
type coder interface {
	ErrorCode() string
}

// IsCode checks if err (or anything it wraps) carries the given code.
func IsCode(err error, code string) bool {
	if err == nil {
		return false
	}
	var c coder
	if errors.As(err, &c) {
		return c.ErrorCode() == code
	}
	return false
}

// RunCmdError is returned when a remote command exits non-zero and the caller
// asked for failures to be raised.
type RunCmdError struct {
	ExitCode int
	// Command is the command text as the caller gave it, before joining or
	// privilege wrapping.
	Command string
	Output  string
}

func (e *RunCmdError) Error() string {
	return fmt.Sprintf("command '%s' exited with code %d", e.Command, e.ExitCode)
}

// ErrorCode implements coder.
func (e *RunCmdError) ErrorCode() string {
	return ErrExec
}

// TimeoutError is returned when a command does not complete within its bound.
type TimeoutError struct {
	Command string
	Elapsed time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("command '%s' timed out after %s", e.Command, e.Elapsed.Round(time.Millisecond))
}

// ErrorCode implements coder.
func (e *TimeoutError) ErrorCode() string {
	return ErrTimeout
}

// Timeout reports true so callers checking net.Error-style timeouts match.
func (e *TimeoutError) Timeout() bool {
	return true
}

// IOError carries an errno for local or remote file failures.
// errors.Is(err, syscall.ENOENT) and errors.Is(err, fs.ErrNotExist) both work.
type IOError struct {
	Errno   syscall.Errno
	Message string
	Path    string
}

// NewIOError creates an IOError for path.
func NewIOError(errno syscall.Errno, path, message string) *IOError {
	return &IOError{Errno: errno, Path: path, Message: message}
}

func (e *IOError) Error() string {
	if e.Path == "" || strings.Contains(e.Message, e.Path) {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Message, e.Path)
}

// Unwrap exposes the errno.
func (e *IOError) Unwrap() error {
	return e.Errno
}

// ErrorCode implements coder.
func (e *IOError) ErrorCode() string {
	return ErrIO
}

// ExitError signals that the process should exit with Code without printing
// an additional error message.
type ExitError struct {
	Code int
}

// NewExitError creates an ExitError.
func NewExitError(code int) *ExitError {
	return &ExitError{Code: code}
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("exit code %d", e.Code)
}

// GetExitCode extracts the exit code carried by an ExitError or RunCmdError.
func GetExitCode(err error) (int, bool) {
	if err == nil {
		return 0, false
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code, true
	}
	var runErr *RunCmdError
	if errors.As(err, &runErr) {
		return runErr.ExitCode, true
	}
	return 0, false
}
