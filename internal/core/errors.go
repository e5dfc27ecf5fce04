package core

import "errors"

// Error codes for domain errors.
const (
	ErrCodeNameExists = "name_exists"
	ErrCodeBanned     = "banned"
	ErrCodeDisposed   = "disposed"
	ErrCodeUnknown    = "unknown_participant"
)

var (
	ErrNameExists = errors.New("participant name already exists")
	ErrBanned     = errors.New("remote address is banned")
	ErrDisposed   = errors.New("node is disposed")
	ErrUnknown    = errors.New("participant is not registered")
)

// CoreError wraps a code and human-readable message.
type CoreError struct {
	Code    string
	Message string
	Err     error
}

func (e *CoreError) Error() string {
	return e.Message
}

func (e *CoreError) Unwrap() error {
	return e.Err
}

func coreError(code, msg string, err error) *CoreError {
	return &CoreError{Code: code, Message: msg, Err: err}
}
