package completion

import (
	"fmt"
)

// Error codes surfaced to the caller for display.
const (
	CodeNoModelSelected  = "no_model_selected"
	CodeUnknownProvider  = "unknown_provider"
	CodeModelStartFailed = "model_start_failed"
	CodeCompletionFailed = "completion_failed"
	CodeRecoveryFailed   = "recovery_failed"
)

// Error is the structured error value crossing the component boundary,
// suitable for toast/banner display.
type Error struct {
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(code, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}
