// Package core provides the conversation engine: tier resolution, canonical
// answer matching, knowledge retrieval, and persona-grounded generation.
package core

import (
	"errors"
	"fmt"

	"github.com/personify-ai/converse-go/pkg/storage"
)

// Predefined errors for common failure scenarios.
var (
	// ErrNotFound indicates that a referenced agent, canonical answer, or
	// grant does not exist. Aliased to the storage sentinel so errors.Is
	// matches across layers.
	ErrNotFound = storage.ErrNotFound

	// ErrInvalidConfig indicates that the provided configuration is invalid.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrInvalidInput indicates that the provided input is invalid.
	ErrInvalidInput = errors.New("invalid input")

	// ErrRetrievalUnavailable indicates that knowledge retrieval failed.
	// Answering absorbs it and degrades to ungrounded generation.
	ErrRetrievalUnavailable = errors.New("retrieval unavailable")

	// ErrGenerationFailed indicates that the language model could not
	// produce a reply. Unlike retrieval failures this is terminal.
	ErrGenerationFailed = errors.New("generation failed")

	// ErrTierViolation indicates that content above the requester's tier
	// reached the reply path. This is a programming error, never an
	// expected runtime condition.
	ErrTierViolation = errors.New("tier violation")
)

// EngineError wraps errors with operation context.
//
// Error() returns: "converse: <Op>: <Err>"
type EngineError struct {
	// Op is the name of the operation that failed.
	Op string

	// Err is the underlying error.
	Err error
}

// Error returns a formatted error message.
func (e *EngineError) Error() string {
	return fmt.Sprintf("converse: %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error for error unwrapping.
func (e *EngineError) Unwrap() error {
	return e.Err
}

// NewEngineError creates a new EngineError wrapping the given error.
// If err is nil, returns nil, which allows unconditional wrapping at
// return sites.
func NewEngineError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &EngineError{Op: op, Err: err}
}
