package apperrors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"invalid parameter", InvalidParameter("date_from", "not a date"), http.StatusBadRequest},
		{"unknown template", UnknownTemplate("nope"), http.StatusInternalServerError},
		{"unauthorized relation", UnauthorizedRelation("a.b.c"), http.StatusForbidden},
		{"forbidden operation", ForbiddenOperation("DROP"), http.StatusForbidden},
		{"timeout", QueryTimeout(context.DeadlineExceeded), http.StatusGatewayTimeout},
		{"warehouse", Warehouse("boom", nil), http.StatusInternalServerError},
		{"wrapped", fmt.Errorf("failed to run report: %w", ForbiddenOperation("DROP")), http.StatusForbidden},
		{"not found", fmt.Errorf("conversation: %w", ErrNotFound), http.StatusNotFound},
		{"share disabled", ErrShareDisabled, http.StatusNotFound},
		{"unauthenticated", ErrUnauthenticated, http.StatusUnauthorized},
		{"plain", errors.New("x"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, HTTPStatus(tt.err))
		})
	}
}

func TestError_IsMatchesKind(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", QueryTimeout(context.DeadlineExceeded))

	assert.True(t, errors.Is(err, &Error{Kind: KindQueryTimeout}))
	assert.False(t, errors.Is(err, &Error{Kind: KindWarehouse}))
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestError_MessageNamesFragmentOnly(t *testing.T) {
	err := UnauthorizedRelation("other_project.secret.table")
	assert.Equal(t, "relation is not allowed: other_project.secret.table", err.Error())
}

func TestTypeName(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{UnauthorizedRelation("a.b.c"), "unauthorized_relation"},
		{fmt.Errorf("wrapped: %w", QueryTimeout(context.DeadlineExceeded)), "query_timeout"},
		{fmt.Errorf("conversation x: %w", ErrNotFound), "not_found"},
		{ErrShareDisabled, "share_disabled"},
		{ErrUnauthenticated, "unauthorized"},
		{ErrForbiddenEmail, "forbidden"},
		{ErrConflict, "conflict"},
		{errors.New("boom"), "internal_error"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, TypeName(tt.err), tt.err.Error())
	}
}
