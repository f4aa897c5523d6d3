package cossdk

import (
	"errors"
	"fmt"
)

// ErrorKind classifies envelope failures so callers can branch on them.
type ErrorKind string

const (
	ErrKindValidation ErrorKind = "validation"
	ErrKindNotFound   ErrorKind = "not_found"
	ErrKindNotAllowed ErrorKind = "not_allowed"
	ErrKindTransport  ErrorKind = "transport"
	ErrKindStore      ErrorKind = "store"
)

// Sentinels for errors.Is branching on the Go side of the wire.
var (
	ErrValidation = errors.New("invalid request")
	ErrNotFound   = errors.New("not found")
	ErrNotAllowed = errors.New("not allowed")
	ErrTransport  = errors.New("transport failure")
	ErrStore      = errors.New("store failure")
)

// Error is the wire form carried in the envelope's error slot.
type Error struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message,omitempty"`
}

func NewError(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Message == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (k ErrorKind) sentinel() error {
	switch k {
	case ErrKindValidation:
		return ErrValidation
	case ErrKindNotFound:
		return ErrNotFound
	case ErrKindNotAllowed:
		return ErrNotAllowed
	case ErrKindStore:
		return ErrStore
	default:
		return ErrTransport
	}
}

// Err converts the wire error into a sentinel-wrapped Go error.
func (e *Error) Err() error {
	if e == nil {
		return nil
	}
	if e.Message == "" {
		return e.Kind.sentinel()
	}
	return fmt.Errorf("%w: %s", e.Kind.sentinel(), e.Message)
}

// ErrorFrom maps a Go error back to its wire form. Unrecognized errors are
// reported as store failures so they are never silently dropped.
func ErrorFrom(err error) *Error {
	if err == nil {
		return nil
	}
	kind := ErrKindStore
	switch {
	case errors.Is(err, ErrValidation):
		kind = ErrKindValidation
	case errors.Is(err, ErrNotFound):
		kind = ErrKindNotFound
	case errors.Is(err, ErrNotAllowed):
		kind = ErrKindNotAllowed
	case errors.Is(err, ErrTransport):
		kind = ErrKindTransport
	}
	return &Error{Kind: kind, Message: err.Error()}
}
