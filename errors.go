package openrpc2proto

import "github.com/reoring/openrpc2proto/diag"

// Error is the typed failure every stage returns; see package diag.
type Error = diag.Error

// Error codes, re-exported for callers that only import the root package.
const (
	CodeMalformedSpec              = diag.CodeMalformedSpec
	CodeUnresolvedReference        = diag.CodeUnresolvedReference
	CodeConflictingFieldType       = diag.CodeConflictingFieldType
	CodeEnumNameCollision          = diag.CodeEnumNameCollision
	CodeUnsupportedSchemaConstruct = diag.CodeUnsupportedSchemaConstruct
	CodeEmissionError              = diag.CodeEmissionError
)

// AsError extracts an *Error from err.
func AsError(err error) (*Error, bool) { return diag.As(err) }
