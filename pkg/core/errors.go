package core

import (
	"errors"
	"fmt"
)

// Standard sentinel errors for comparison using errors.Is()
// These are generic errors that can be wrapped with additional context
var (
	// Message errors
	ErrInvalidMessage = errors.New("invalid message")

	// Configuration errors
	ErrInvalidConfiguration = errors.New("invalid configuration")
	ErrMissingConfiguration = errors.New("missing required configuration")

	// Store errors
	ErrStore       = errors.New("store error")
	ErrRunNotFound = errors.New("run not found")
	ErrRunExists   = errors.New("run already exists")
	ErrRowShape    = errors.New("row length does not match run columns")

	// Instrumentation errors
	ErrUnknownCall = errors.New("exit without matching enter")

	// State errors
	ErrAlreadyStarted = errors.New("already started")
	ErrNotStarted     = errors.New("not started")
)

// PulseError provides structured error information with context.
// It implements the error interface and supports error wrapping.
type PulseError struct {
	Op      string // Operation that failed (e.g., "store.InsertRow")
	Kind    string // Error kind (e.g., "message", "store", "config")
	ID      string // Optional run or call ID involved
	Message string // Human-readable message
	Err     error  // Underlying error for wrapping
}

// Error returns the string representation of the error
func (e *PulseError) Error() string {
	if e.Op != "" && e.Err != nil {
		if e.ID != "" {
			return fmt.Sprintf("%s [%s]: %v", e.Op, e.ID, e.Err)
		}
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s error", e.Kind)
}

// Unwrap returns the underlying error for use with errors.Is/As
func (e *PulseError) Unwrap() error {
	return e.Err
}

// NewPulseError creates a new PulseError
func NewPulseError(op, kind string, err error) *PulseError {
	return &PulseError{
		Op:   op,
		Kind: kind,
		Err:  err,
	}
}

// IsInvalidMessage reports whether err is an invalid message error
func IsInvalidMessage(err error) bool {
	return errors.Is(err, ErrInvalidMessage)
}

// IsConfigurationError reports whether err stems from missing or invalid configuration
func IsConfigurationError(err error) bool {
	return errors.Is(err, ErrMissingConfiguration) || errors.Is(err, ErrInvalidConfiguration)
}

// IsStoreError reports whether err is a transient store failure
func IsStoreError(err error) bool {
	return errors.Is(err, ErrStore)
}

// IsNotFound reports whether err means the requested run does not exist
func IsNotFound(err error) bool {
	return errors.Is(err, ErrRunNotFound)
}
