package core

import (
	"errors"
	"fmt"
)

// Error kinds of the ingestion path. Concrete error types in other packages
// match these through errors.Is.
var (
	ErrNetwork     = errors.New("network error")
	ErrProtocol    = errors.New("protocol error")
	ErrDecode      = errors.New("decode error")
	ErrValidation  = errors.New("validation error")
	ErrPersistence = errors.New("persistence error")
)

// ValidationError reports a raw auction field that is missing or cannot be
// read. Reason is empty for a missing field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("validation: %s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("validation: missing %s", e.Field)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// Kind names the error kind of err for logs and metric labels.
func Kind(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, ErrNetwork):
		return "network"
	case errors.Is(err, ErrProtocol):
		return "protocol"
	case errors.Is(err, ErrDecode):
		return "decode"
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrPersistence):
		return "persistence"
	default:
		return "unexpected"
	}
}
