package element

import (
	"errors"
	"fmt"
	"net/http"
)

// FailureKind is the taxonomy tag every failed operation carries.
type FailureKind string

const (
	// NetworkFailure covers unreachable backends, timeouts and 5xx
	// responses.
	NetworkFailure FailureKind = "network"

	// ValidationFailure means the backend rejected the attributes.
	ValidationFailure FailureKind = "validation"

	// ConflictFailure covers duplicate keys and deletes of elements that
	// other elements still reference.
	ConflictFailure FailureKind = "conflict"

	// NotFoundFailure means the id is unknown (stale).
	NotFoundFailure FailureKind = "not_found"
)

// Status categories used in the backend's error envelope.
const (
	CategoryValidation = "validation"
	CategoryConflict   = "conflict"
	CategoryNotFound   = "not_found"
	CategoryServer     = "server"
)

// Sentinels for errors.Is.
var (
	ErrNetwork    = &Error{Kind: NetworkFailure}
	ErrValidation = &Error{Kind: ValidationFailure}
	ErrConflict   = &Error{Kind: ConflictFailure}
	ErrNotFound   = &Error{Kind: NotFoundFailure}
)

// Error is a failed element operation.
type Error struct {
	Kind        FailureKind
	Title       string
	Detail      string
	FieldErrors map[string]string
	Status      int   // HTTP status when the failure came from a response
	Err         error // underlying cause, if any
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Title != "" {
		msg += ": " + e.Title
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so errors.Is(err, ErrNotFound)
// works for every not-found failure.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf returns the taxonomy tag of err, or "" if err is not an *Error.
func KindOf(err error) FailureKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// NotFound builds a not-found failure for id.
func NotFound(id string) *Error {
	return &Error{Kind: NotFoundFailure, Title: "element not found", Detail: id, Status: http.StatusNotFound}
}

// Conflict builds a conflict failure.
func Conflict(format string, args ...any) *Error {
	return &Error{Kind: ConflictFailure, Title: "conflict", Detail: fmt.Sprintf(format, args...), Status: http.StatusConflict}
}

// Invalid builds a validation failure carrying field-level messages.
func Invalid(detail string, fields map[string]string) *Error {
	return &Error{Kind: ValidationFailure, Title: "validation failed", Detail: detail, FieldErrors: fields, Status: http.StatusBadRequest}
}

// Network wraps a transport-level cause.
func Network(err error) *Error {
	return &Error{Kind: NetworkFailure, Title: "backend unreachable", Err: err}
}

// KindForStatus maps an envelope category, falling back to the HTTP
// status when the category is missing or unknown.
func KindForStatus(category string, status int) FailureKind {
	switch category {
	case CategoryValidation:
		return ValidationFailure
	case CategoryConflict:
		return ConflictFailure
	case CategoryNotFound:
		return NotFoundFailure
	case CategoryServer:
		return NetworkFailure
	}
	switch {
	case status == http.StatusNotFound:
		return NotFoundFailure
	case status == http.StatusConflict:
		return ConflictFailure
	case status >= 400 && status < 500:
		return ValidationFailure
	default:
		return NetworkFailure
	}
}

// Category is the envelope category for k.
func (k FailureKind) Category() string {
	switch k {
	case ValidationFailure:
		return CategoryValidation
	case ConflictFailure:
		return CategoryConflict
	case NotFoundFailure:
		return CategoryNotFound
	default:
		return CategoryServer
	}
}

// HTTPStatus is the status the reference server answers with for k.
func (k FailureKind) HTTPStatus() int {
	switch k {
	case ValidationFailure:
		return http.StatusBadRequest
	case ConflictFailure:
		return http.StatusConflict
	case NotFoundFailure:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
