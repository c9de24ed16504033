// Package diag defines the error model shared by every compilation stage.
//
// All failures of a generation run are reported as *Error values carrying a
// stable Code plus enough context (namespace, offending type and the JSON
// pointer of the schema node) to be shown to an operator verbatim.
package diag

import (
	"errors"
	"fmt"
	"strings"
)

// Error codes (exported consts for IDE completion and type safety by convention)
const (
	// CodeMalformedSpec: the input document does not parse as a method/schema document.
	CodeMalformedSpec = "malformed_spec"
	// CodeUnresolvedReference: a $ref target is missing from the dictionary.
	CodeUnresolvedReference = "unresolved_reference"
	// CodeConflictingFieldType: two allOf fragments declare one field with incompatible types.
	CodeConflictingFieldType = "conflicting_field_type"
	// CodeEnumNameCollision: two enum literals normalize to the same identifier.
	CodeEnumNameCollision = "enum_name_collision"
	// CodeUnsupportedSchemaConstruct: the mapper has no rule for a schema shape.
	CodeUnsupportedSchemaConstruct = "unsupported_schema_construct"
	// CodeEmissionError: internal invariant violation detected while emitting.
	CodeEmissionError = "emission_error"
)

// Sentinels usable with errors.Is; matching compares codes only.
var (
	ErrMalformedSpec              = &Error{Code: CodeMalformedSpec}
	ErrUnresolvedReference        = &Error{Code: CodeUnresolvedReference}
	ErrConflictingFieldType       = &Error{Code: CodeConflictingFieldType}
	ErrEnumNameCollision          = &Error{Code: CodeEnumNameCollision}
	ErrUnsupportedSchemaConstruct = &Error{Code: CodeUnsupportedSchemaConstruct}
	ErrEmissionError              = &Error{Code: CodeEmissionError}
)

// Error is a fatal compilation failure.
type Error struct {
	Code      string // One of the codes listed above.
	Namespace string // Namespace being compiled, when known.
	Type      string // Offending schema or proto type name, when known.
	Path      string // JSON Pointer of the schema node (for example: main.json#/components/schemas/FELT).
	Message   string
	Cause     error // Optional: underlying error.
}

// Newf creates an Error with a formatted message.
func Newf(code, format string, a ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, a...)}
}

// Wrap creates an Error that records cause as its underlying error.
func Wrap(code string, cause error, format string, a ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, a...), Cause: cause}
}

// Error renders "code [namespace] type at path: message: cause".
func (e *Error) Error() string {
	b := &strings.Builder{}
	b.WriteString(e.Code)
	if e.Namespace != "" {
		fmt.Fprintf(b, " [%s]", e.Namespace)
	}
	if e.Type != "" {
		fmt.Fprintf(b, " %s", e.Type)
	}
	if e.Path != "" {
		fmt.Fprintf(b, " at %s", e.Path)
	}
	if e.Message != "" {
		fmt.Fprintf(b, ": %s", e.Message)
	}
	if e.Cause != nil {
		fmt.Fprintf(b, ": %v", e.Cause)
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Cause }

// Is reports whether target is an *Error with the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// InNamespace returns a copy of e with Namespace set unless already present.
func (e *Error) InNamespace(ns string) *Error {
	c := *e
	if c.Namespace == "" {
		c.Namespace = ns
	}
	return &c
}

// ForType returns a copy of e with Type and Path filled in where empty.
func (e *Error) ForType(name, path string) *Error {
	c := *e
	if c.Type == "" {
		c.Type = name
	}
	if c.Path == "" {
		c.Path = path
	}
	return &c
}

// As extracts an *Error from err using errors.As internally.
func As(err error) (*Error, bool) {
	if err == nil {
		return nil, false
	}
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// InNamespace annotates err with ns when it carries an *Error; other errors
// are returned unchanged.
func InNamespace(err error, ns string) error {
	if e, ok := As(err); ok && e == err {
		return e.InNamespace(ns)
	}
	return err
}
