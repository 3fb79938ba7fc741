package examapi

import (
	"errors"
	"fmt"
)

var (
	// ErrUnauthorized is returned when the credential is missing or refused.
	// It always arrives wrapped in a TransportError; callers treat it like any
	// other transport failure.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrNotFound is returned when the exam service has no such resource.
	ErrNotFound = errors.New("not found")
	// ErrEmptyBlueprint is a generation that produced no items.
	ErrEmptyBlueprint = errors.New("exam service returned an empty blueprint")
)

// TransportError is any failure to get a usable 2xx answer from the exam service.
type TransportError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("examapi %s: status %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("examapi %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// MalformedResponseError is a payload rejected at the boundary.
type MalformedResponseError struct {
	Op  string
	Err error
}

func (e *MalformedResponseError) Error() string {
	return fmt.Sprintf("examapi %s: malformed response: %v", e.Op, e.Err)
}

func (e *MalformedResponseError) Unwrap() error { return e.Err }

// GenerationError means no exam could be built. It is not retried automatically.
type GenerationError struct {
	Reason string
	Err    error
}

func (e *GenerationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("generate exam: %s: %v", e.Reason, e.Err)
	}
	return "generate exam: " + e.Reason
}

func (e *GenerationError) Unwrap() error { return e.Err }

// IsTransport reports whether err is a transport-level failure worth retrying
// at the next natural trigger.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}
