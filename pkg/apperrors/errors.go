package apperrors

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrConflict        = errors.New("conflict")
	ErrShareDisabled   = errors.New("report sharing is not configured")
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrForbiddenEmail  = errors.New("email not allowed")
)

// Kind classifies a gateway failure. The string value is what clients see in
// the "type" field of an error response.
type Kind string

const (
	KindInvalidParameter     Kind = "invalid_parameter"
	KindUnknownTemplate      Kind = "unknown_template"
	KindUnauthorizedRelation Kind = "unauthorized_relation"
	KindForbiddenOperation   Kind = "forbidden_operation"
	KindQueryTimeout         Kind = "query_timeout"
	KindWarehouse            Kind = "warehouse_error"
)

// Error is a classified gateway error. Fragment holds the single piece of
// input that caused a rejection (a parameter name, relation or keyword) and is
// the only part of a rejected query that may be echoed back to a caller.
type Error struct {
	Kind     Kind
	Fragment string
	Message  string
	Err      error
}

func (e *Error) Error() string {
	if e.Fragment != "" {
		return fmt.Sprintf("%s: %s", e.Message, e.Fragment)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error of the same kind, so callers can write
// errors.Is(err, &apperrors.Error{Kind: apperrors.KindQueryTimeout}).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

func InvalidParameter(name, format string, args ...any) *Error {
	return &Error{Kind: KindInvalidParameter, Fragment: name, Message: fmt.Sprintf(format, args...)}
}

func UnknownTemplate(id string) *Error {
	return &Error{Kind: KindUnknownTemplate, Fragment: id, Message: "unknown query template"}
}

func UnauthorizedRelation(relation string) *Error {
	return &Error{Kind: KindUnauthorizedRelation, Fragment: relation, Message: "relation is not allowed"}
}

func ForbiddenOperation(keyword string) *Error {
	return &Error{Kind: KindForbiddenOperation, Fragment: keyword, Message: "operation is not allowed"}
}

func QueryTimeout(err error) *Error {
	return &Error{Kind: KindQueryTimeout, Message: "query exceeded the execution timeout", Err: err}
}

func Warehouse(message string, err error) *Error {
	return &Error{Kind: KindWarehouse, Message: message, Err: err}
}

// KindOf returns the kind of a classified error, or "" if err is not one.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// HTTPStatus maps an error to the status code the HTTP layer responds with.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindInvalidParameter:
		return http.StatusBadRequest
	case KindUnauthorizedRelation, KindForbiddenOperation:
		return http.StatusForbidden
	case KindQueryTimeout:
		return http.StatusGatewayTimeout
	case KindUnknownTemplate, KindWarehouse:
		return http.StatusInternalServerError
	}
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrShareDisabled):
		return http.StatusNotFound
	case errors.Is(err, ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, ErrForbiddenEmail):
		return http.StatusForbidden
	case errors.Is(err, ErrConflict):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

// TypeName is the "type" field of an error response for err.
func TypeName(err error) string {
	if kind := KindOf(err); kind != "" {
		return string(kind)
	}
	switch {
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrShareDisabled):
		return "share_disabled"
	case errors.Is(err, ErrUnauthenticated):
		return "unauthorized"
	case errors.Is(err, ErrForbiddenEmail):
		return "forbidden"
	case errors.Is(err, ErrConflict):
		return "conflict"
	}
	return "internal_error"
}
