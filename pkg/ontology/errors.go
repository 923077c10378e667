package ontology

import (
	"errors"
	"fmt"
)

// ErrSchemaParse is wrapped by every error returned while loading an ontology.
var ErrSchemaParse = errors.New("ontology: malformed schema")

// ParseError describes why an ontology document was rejected.
type ParseError struct {
	Class    string
	Property string
	Reason   string
}

func parseErr(class, property, reason string) *ParseError {
	return &ParseError{Class: class, Property: property, Reason: reason}
}

func (e *ParseError) Error() string {
	switch {
	case e.Class != "" && e.Property != "":
		return fmt.Sprintf("%s: class %s, property %s: %s", ErrSchemaParse, e.Class, e.Property, e.Reason)
	case e.Class != "":
		return fmt.Sprintf("%s: class %s: %s", ErrSchemaParse, e.Class, e.Reason)
	default:
		return fmt.Sprintf("%s: %s", ErrSchemaParse, e.Reason)
	}
}

func (e *ParseError) Unwrap() error { return ErrSchemaParse }
