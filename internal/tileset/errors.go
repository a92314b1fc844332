package tileset

import (
	"errors"
	"fmt"
)

var ErrUnknownDocument = errors.New("unknown tileset document")

// SchemaError reports a tileset document that misses a required field or declares an invalid one.
// It fails the whole load.
type SchemaError struct {
	Path  string // location of the offending object, root.children[2] for instance
	Field string
	Err   error
}

func (e *SchemaError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("tileset schema error at %s.%s: %v", e.Path, e.Field, e.Err)
	}
	return fmt.Sprintf("tileset schema error at %s: missing %s", e.Path, e.Field)
}

func (e *SchemaError) Unwrap() error {
	return e.Err
}

func missingField(path, field string) *SchemaError {
	return &SchemaError{Path: path, Field: field}
}

func invalidField(path, field string, err error) *SchemaError {
	return &SchemaError{Path: path, Field: field, Err: err}
}
