package cli

import (
	"encoding/json"
	stderrors "errors"
	"io"
	"strings"

	"github.com/rileyhilliard/jumpssh/internal/errors"
	"github.com/rileyhilliard/jumpssh/internal/host"
)

// JSONEnvelope wraps command output in a consistent structure for machine parsing.
// All --json output should use this envelope.
type JSONEnvelope struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *JSONError  `json:"error,omitempty"`
}

// JSONError provides structured error information for machine parsing.
type JSONError struct {
	Code       string      `json:"code"`
	Message    string      `json:"message"`
	Suggestion string      `json:"suggestion,omitempty"`
	Details    interface{} `json:"details,omitempty"`
}

// Error codes for machine-readable output.
const (
	ErrCodeConfigNotFound    = "CONFIG_NOT_FOUND"
	ErrCodeConfigInvalid     = "CONFIG_INVALID"
	ErrCodeSSHTimeout        = "SSH_TIMEOUT"
	ErrCodeSSHAuthFailed     = "SSH_AUTH_FAILED"
	ErrCodeSSHHostKey        = "SSH_HOST_KEY"
	ErrCodeSSHConnectionFail = "SSH_CONNECTION_FAILED"
	ErrCodeSessionState      = "SESSION_STATE"
	ErrCodeCommandFailed     = "COMMAND_FAILED"
	ErrCodeCommandTimeout    = "COMMAND_TIMEOUT"
	ErrCodeIO                = "IO_ERROR"
	ErrCodeUnknown           = "UNKNOWN"
)

// WriteJSONSuccess writes a successful response with data to the writer.
func WriteJSONSuccess(w io.Writer, data interface{}) error {
	return writeJSONEnvelope(w, JSONEnvelope{Success: true, Data: data})
}

// WriteJSONFromError converts a Go error to a JSON error response.
func WriteJSONFromError(w io.Writer, err error) error {
	return writeJSONEnvelope(w, JSONEnvelope{Success: false, Error: ErrorToJSON(err)})
}

// writeJSONEnvelope writes the envelope with consistent formatting.
func writeJSONEnvelope(w io.Writer, env JSONEnvelope) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(env)
}

// ErrorToJSON converts a Go error to a JSONError with appropriate code mapping.
func ErrorToJSON(err error) *JSONError {
	if err == nil {
		return nil
	}

	var probeErr *host.ProbeError
	if stderrors.As(err, &probeErr) {
		return probeErrorToJSON(probeErr)
	}

	var structured *errors.Error
	if stderrors.As(err, &structured) {
		return &JSONError{
			Code:       mapErrorCode(structured.Code, structured.Message),
			Message:    structured.Message,
			Suggestion: structured.Suggestion,
		}
	}

	var runErr *errors.RunCmdError
	if stderrors.As(err, &runErr) {
		return &JSONError{
			Code:    ErrCodeCommandFailed,
			Message: runErr.Error(),
			Details: map[string]interface{}{"exit_code": runErr.ExitCode, "output": runErr.Output},
		}
	}

	var ioErr *errors.IOError
	if stderrors.As(err, &ioErr) {
		return &JSONError{
			Code:    ErrCodeIO,
			Message: ioErr.Error(),
			Details: map[string]interface{}{"errno": ioErr.Errno.Error(), "path": ioErr.Path},
		}
	}

	if errors.IsCode(err, errors.ErrTimeout) {
		return &JSONError{Code: ErrCodeCommandTimeout, Message: err.Error()}
	}

	return &JSONError{
		Code:    ErrCodeUnknown,
		Message: err.Error(),
	}
}

// mapErrorCode maps internal error codes to machine-readable codes.
func mapErrorCode(internalCode, message string) string {
	switch internalCode {
	case errors.ErrConfig:
		// Distinguish between not found and invalid
		msgLower := strings.ToLower(message)
		if strings.Contains(msgLower, "not found") {
			return ErrCodeConfigNotFound
		}
		return ErrCodeConfigInvalid
	case errors.ErrSSH, errors.ErrConnection:
		return ErrCodeSSHConnectionFail
	case errors.ErrState:
		return ErrCodeSessionState
	case errors.ErrExec:
		return ErrCodeCommandFailed
	case errors.ErrTimeout:
		return ErrCodeCommandTimeout
	case errors.ErrIO:
		return ErrCodeIO
	}

	return ErrCodeUnknown
}

// probeErrorToJSON converts a probe error to JSON with specific SSH error codes.
func probeErrorToJSON(probeErr *host.ProbeError) *JSONError {
	var code string
	var suggestion string

	switch probeErr.Reason {
	case host.FailTimeout:
		code = ErrCodeSSHTimeout
		suggestion = "Check the host is reachable from the previous hop"
	case host.FailAuth:
		code = ErrCodeSSHAuthFailed
		suggestion = "Check the hop's user, password, or key"
	case host.FailHostKey:
		code = ErrCodeSSHHostKey
		suggestion = "Verify the host key with ssh, or pass --insecure"
	case host.FailResolve:
		code = ErrCodeSSHConnectionFail
		suggestion = "Check hostname spelling and SSH config"
	default:
		code = ErrCodeSSHConnectionFail
	}

	return &JSONError{
		Code:       code,
		Message:    probeErr.Error(),
		Suggestion: suggestion,
		Details: map[string]interface{}{
			"reason":      probeErr.Reason.String(),
			"destination": probeErr.Destination.String(),
		},
	}
}
