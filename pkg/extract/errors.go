package extract

import (
	"errors"
	"fmt"
)

var (
	ErrEmptyEvent           = errors.New("extract: event text is empty")
	ErrNoClient             = errors.New("extract: no model client configured")
	ErrUnknownTool          = errors.New("extract: unknown tool")
	ErrMalformedPayload     = errors.New("extract: malformed graph payload")
	ErrDanglingRelationship = errors.New("extract: relationship references an unknown node id")
	ErrBadValue             = errors.New("extract: property value does not match its declared type")
	ErrInvalidExample       = errors.New("extract: invalid example")
)

// ToolError is a failed tool call. Its message is what the model sees.
type ToolError struct {
	Tool string
	Err  error
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("tool %s: %v", e.Tool, e.Err)
}

func (e *ToolError) Unwrap() error { return e.Err }

// ShapeError describes why a submitted graph could not be turned into a
// candidate at all, before any ontology rule is checked.
type ShapeError struct {
	Node     string // local id used by the model, if any
	Property string
	Err      error
	Detail   string
}

func (e *ShapeError) Error() string {
	msg := e.Err.Error()
	if e.Node != "" {
		msg += ": node " + e.Node
	}
	if e.Property != "" {
		msg += ", property " + e.Property
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

func (e *ShapeError) Unwrap() error { return e.Err }
