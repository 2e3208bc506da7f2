// Package kernelctl implements the kernel's operator CLI: chain
// verification, projection replay, and run inspection against a live
// Postgres database. Structured after the teacher pack's cobra-based CLI
// convention (exit-coded errors, JSON/text output toggle).
package kernelctl

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// Exit codes, mirroring the grounding CLI's convention of a distinct code
// for "the check failed" versus "the command itself errored".
const (
	ExitSuccess      = 0
	ExitCheckFailed  = 1
	ExitCommandError = 2
)

// ExitError carries the process exit code an error should produce.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error { return e.Err }

func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the process exit code from an error, defaulting to
// ExitCommandError for anything not explicitly an *ExitError.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitCommandError
}

// PrintResult writes v to w as pretty JSON when json is true, otherwise
// delegates to text, a caller-supplied human-readable renderer.
func PrintResult(w io.Writer, asJSON bool, v any, text func(io.Writer, any) error) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	return text(w, v)
}
