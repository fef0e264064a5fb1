// Package apperr defines the error taxonomy shared by the data engine and
// the HTTP boundary that renders it.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"sort"
)

// Kind classifies an error for status mapping.
type Kind int

const (
	KindInternal Kind = iota
	KindAuthentication
	KindAuthorization
	KindRateLimit
	KindValidation
	KindNotFound
	KindConflict
	KindBadRequest
	KindSchemaSync
)

// Error codes carried in the error_code field of responses.
const (
	CodeMissingAPIKey     = "MISSING_API_KEY"
	CodeInvalidAPIKey     = "INVALID_API_KEY"
	CodeUnauthorized      = "UNAUTHORIZED"
	CodeAPIKeyInvalid     = "API_KEY_INVALID"
	CodeMethodNotAllowed  = "METHOD_NOT_ALLOWED"
	CodeTableAccessDenied = "TABLE_ACCESS_DENIED"
	CodeAccessDenied      = "ACCESS_DENIED"
	CodeRateLimited       = "RATE_LIMIT_EXCEEDED"
	CodeValidation        = "VALIDATION_ERROR"
	CodeTableNotFound     = "TABLE_NOT_FOUND"
	CodeRecordNotFound    = "RECORD_NOT_FOUND"
	CodeNotFound          = "NOT_FOUND"
	CodeConflict          = "CONFLICT"
	CodeBadRequest        = "BAD_REQUEST"
	CodeSchemaSync        = "SCHEMA_SYNC_FAILED"
	CodeInternal          = "INTERNAL_ERROR"
)

// Error is a classified application error.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	// Fields holds per-field messages for validation errors.
	Fields map[string][]string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Status returns the HTTP status for the error's kind.
func (e *Error) Status() int {
	switch e.Kind {
	case KindAuthentication:
		return http.StatusUnauthorized
	case KindAuthorization:
		return http.StatusForbidden
	case KindRateLimit:
		return http.StatusTooManyRequests
	case KindValidation:
		return http.StatusUnprocessableEntity
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindBadRequest:
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// As extracts an *Error from err.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsKind reports whether err is an *Error of kind k.
func IsKind(err error, k Kind) bool {
	e, ok := As(err)
	return ok && e.Kind == k
}

func Authentication(code, msg string) *Error {
	return &Error{Kind: KindAuthentication, Code: code, Message: msg}
}

func Authorization(code, msg string) *Error {
	return &Error{Kind: KindAuthorization, Code: code, Message: msg}
}

// AccessDenied is a rule denial for an operation on table.
func AccessDenied(op, table string) *Error {
	return Authorization(CodeAccessDenied, fmt.Sprintf("You are not allowed to %s records in %s.", op, table))
}

func RateLimited(msg string) *Error {
	return &Error{Kind: KindRateLimit, Code: CodeRateLimited, Message: msg}
}

func TableNotFound(table string) *Error {
	return &Error{Kind: KindNotFound, Code: CodeTableNotFound, Message: fmt.Sprintf("Table '%s' not found.", table)}
}

func RecordNotFound(table string, id any) *Error {
	return &Error{Kind: KindNotFound, Code: CodeRecordNotFound, Message: fmt.Sprintf("Record %v not found in %s.", id, table)}
}

func NotFound(msg string) *Error {
	return &Error{Kind: KindNotFound, Code: CodeNotFound, Message: msg}
}

func Conflict(msg string, err error) *Error {
	return &Error{Kind: KindConflict, Code: CodeConflict, Message: msg, Err: err}
}

func BadRequest(msg string, err error) *Error {
	return &Error{Kind: KindBadRequest, Code: CodeBadRequest, Message: msg, Err: err}
}

func SchemaSync(msg string, err error) *Error {
	return &Error{Kind: KindSchemaSync, Code: CodeSchemaSync, Message: msg, Err: err}
}

func Internal(msg string, err error) *Error {
	return &Error{Kind: KindInternal, Code: CodeInternal, Message: msg, Err: err}
}

// Validation collects per-field messages into a 422 error.
type Validation struct {
	fields map[string][]string
}

// Add records msg against field.
func (v *Validation) Add(field, msg string) {
	if v.fields == nil {
		v.fields = make(map[string][]string)
	}
	v.fields[field] = append(v.fields[field], msg)
}

// Has reports whether field already has an error.
func (v *Validation) Has(field string) bool {
	return len(v.fields[field]) > 0
}

// Empty reports whether no errors were recorded.
func (v *Validation) Empty() bool { return len(v.fields) == 0 }

// Err returns the collected errors as an *Error, or nil if there are none.
func (v *Validation) Err() error {
	if v.Empty() {
		return nil
	}
	return &Error{Kind: KindValidation, Code: CodeValidation, Message: v.message(), Fields: v.fields}
}

// message summarises like "The name field is required. (and 1 more error)".
func (v *Validation) message() string {
	keys := make([]string, 0, len(v.fields))
	total := 0
	for k, msgs := range v.fields {
		keys = append(keys, k)
		total += len(msgs)
	}
	sort.Strings(keys)
	first := v.fields[keys[0]][0]
	switch rest := total - 1; rest {
	case 0:
		return first
	case 1:
		return fmt.Sprintf("%s (and 1 more error)", first)
	default:
		return fmt.Sprintf("%s (and %d more errors)", first, rest)
	}
}

// FieldError is shorthand for a single-field validation error.
func FieldError(field, msg string) error {
	var v Validation
	v.Add(field, msg)
	return v.Err()
}
