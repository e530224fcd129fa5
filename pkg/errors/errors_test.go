package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsMatchesByCode(t *testing.T) {
	err := fmt.Errorf("create role: %w", DuplicateRole("doctor"))

	assert.True(t, stderrors.Is(err, ErrDuplicateRole))
	assert.False(t, stderrors.Is(err, ErrAlreadyAssigned))
	assert.Equal(t, "create role: role doctor already exists", err.Error())
}

func TestDeniedWrappingStoreUnavailable(t *testing.T) {
	err := Denied("authorization store unavailable", StoreUnavailable(stderrors.New("dial tcp: refused")))

	assert.True(t, stderrors.Is(err, ErrDenied))
	assert.True(t, stderrors.Is(err, ErrStoreUnavailable))
	assert.Equal(t, http.StatusForbidden, HTTPStatus(err))
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"not found", NotFound("user", nil), http.StatusNotFound},
		{"role not found", RoleNotFound("nurse"), http.StatusNotFound},
		{"assignment not found", AssignmentNotFound("doctor"), http.StatusNotFound},
		{"duplicate role", DuplicateRole("doctor"), http.StatusConflict},
		{"already assigned", AlreadyAssigned("doctor"), http.StatusConflict},
		{"conflict", Conflict("email already registered"), http.StatusConflict},
		{"unknown permission", UnknownPermission("user.fly"), http.StatusBadRequest},
		{"denied", Denied("", nil), http.StatusForbidden},
		{"unauthorized", Unauthorized(nil), http.StatusUnauthorized},
		{"store unavailable", StoreUnavailable(nil), http.StatusServiceUnavailable},
		{"plain error", stderrors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, HTTPStatus(tt.err))
		})
	}
}

func TestPublicMessageHidesPlainErrors(t *testing.T) {
	assert.Equal(t, "internal server error", PublicMessage(stderrors.New("pq: password authentication failed")))
	assert.Equal(t, "user not found", PublicMessage(NotFound("user", stderrors.New("sql: no rows"))))
}
