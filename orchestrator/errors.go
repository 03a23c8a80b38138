package orchestrator

import (
	"errors"
	"fmt"
)

// Kind is the machine-readable classification of an orchestration failure.
type Kind string

const (
	// KindValidation marks bad input; never retried.
	KindValidation Kind = "validation"
	// KindAuth marks OAuth or credential-signing misconfiguration/rejection.
	KindAuth Kind = "auth"
	// KindProvider marks a failed or timed-out remote provider call.
	KindProvider Kind = "provider"
	// KindCapacity marks the session limit being reached after a sweep;
	// retryable later.
	KindCapacity Kind = "capacity"
)

// Absence of a session is not an error: stop and status report it through
// StopResult.Found / StatusResult.HasSession instead of a tagged failure.

// Error is a tagged orchestration failure with a human-readable message.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf extracts the Kind from an error chain, or "" for untagged errors.
func KindOf(err error) Kind {
	var oe *Error
	if errors.As(err, &oe) {
		return oe.Kind
	}
	return ""
}

func validationError(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

func authError(msg string, err error) *Error {
	return &Error{Kind: KindAuth, Message: msg, Err: err}
}

func providerError(msg string, err error) *Error {
	return &Error{Kind: KindProvider, Message: msg, Err: err}
}

func capacityError(max int) *Error {
	return &Error{Kind: KindCapacity, Message: fmt.Sprintf("session limit of %d reached, retry later", max)}
}
