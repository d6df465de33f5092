package engine

import (
	"errors"
	"fmt"
)

// ErrCancelled is surfaced when the abort signal terminated the stream
var ErrCancelled = errors.New("turn cancelled")

// EngineError represents a failure of the underlying engine process
type EngineError struct {
	Message string
	Stderr  string
	Cause   error
}

func (e *EngineError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("engine error: %s: %v", e.Message, e.Cause)
	}
	return fmt.Sprintf("engine error: %s", e.Message)
}

func (e *EngineError) Unwrap() error {
	return e.Cause
}

// ParseError represents an unparseable line from the engine stream
type ParseError struct {
	Message string
	Data    []byte
	Cause   error
}

func (e *ParseError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("parse error: %s: %v", e.Message, e.Cause)
	}
	return fmt.Sprintf("parse error: %s", e.Message)
}

func (e *ParseError) Unwrap() error {
	return e.Cause
}
