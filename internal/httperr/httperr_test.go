package httperr

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"blacksheep/internal/model"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func TestStatus(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{model.ErrInvalidCredentials, http.StatusUnauthorized},
		{model.ErrInvalidAPIKey, http.StatusUnauthorized},
		{model.ErrInvalidToken, http.StatusUnauthorized},
		{model.ErrForbidden, http.StatusForbidden},
		{fmt.Errorf("user: %w", model.ErrNotFound), http.StatusNotFound},
		{model.ErrDuplicateUsername, http.StatusConflict},
		{model.ErrDuplicateModelName, http.StatusConflict},
		{model.ErrConflictingGrant, http.StatusConflict},
		{model.ErrLimitExceeded, http.StatusTooManyRequests},
		{model.ErrRateLimited, http.StatusTooManyRequests},
		{fmt.Errorf("%w: bad", model.ErrInvalidInput), http.StatusBadRequest},
		{model.ErrUnsupportedProvider, http.StatusBadRequest},
		{fmt.Errorf("%w: upstream returned 500", model.ErrProviderFailure), http.StatusBadGateway},
		{context.Canceled, statusClientClosed},
		{errors.New("disk on fire"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			status, msg := Status(tt.err)
			assert.Equal(t, tt.status, status)
			assert.NotEmpty(t, msg)
		})
	}
}

func TestStatus_MessagesDoNotLeakInternals(t *testing.T) {
	_, msg := Status(errors.New("dial tcp 10.0.0.3:5432: connection refused"))
	assert.Equal(t, "Internal server error", msg)

	_, msg = Status(fmt.Errorf("%w: upstream returned 401: key sk-123 revoked", model.ErrProviderFailure))
	assert.Equal(t, "Error calling model provider", msg)

	_, msg = Status(fmt.Errorf("model: %w", model.ErrNotFound))
	assert.Equal(t, "Model not found", msg)

	_, msg = Status(fmt.Errorf("user: %w", model.ErrNotFound))
	assert.Equal(t, "User not found", msg)

	_, msg = Status(model.ErrNotFound)
	assert.Equal(t, "Not found", msg)
}

func TestAbort(t *testing.T) {
	gin.SetMode(gin.TestMode)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	rr := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rr)
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)

	Abort(c, logger, model.ErrForbidden)

	assert.True(t, c.IsAborted())
	assert.Equal(t, http.StatusForbidden, rr.Code)
	assert.JSONEq(t, `{"error":"Not enough permissions"}`, rr.Body.String())
}
