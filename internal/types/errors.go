package types

import (
	"errors"
	"fmt"
)

const (
	CodeUnauthorized     = "UNAUTHORIZED"
	CodeNotReady         = "NOT_READY"
	CodeTransportFailure = "TRANSPORT_FAILURE"
	CodeRemoteRejection  = "REMOTE_REJECTION"
	CodeValidation       = "VALIDATION"
	CodeNotFound         = "NOT_FOUND"
)

// CodedError is a typed error used for stable API mapping.
type CodedError struct {
	Code    string
	Message string
	Cause   error
}

func (e *CodedError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
}

func (e *CodedError) Unwrap() error { return e.Cause }

// NewError builds a CodedError.
func NewError(code, msg string, cause error) error {
	return &CodedError{Code: code, Message: msg, Cause: cause}
}

// Message returns the human-readable part of err: the CodedError message
// when err carries one, err.Error() otherwise.
func Message(err error) string {
	var coded *CodedError
	if errors.As(err, &coded) {
		if coded.Message != "" {
			return coded.Message
		}
	}
	return err.Error()
}

// CodeOf returns the CodedError code carried by err, or "".
func CodeOf(err error) string {
	var coded *CodedError
	if errors.As(err, &coded) {
		return coded.Code
	}
	return ""
}
