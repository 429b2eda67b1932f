// Package httperr maps domain errors to HTTP responses.
package httperr

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"blacksheep/internal/model"

	"github.com/gin-gonic/gin"
)

// statusClientClosed is the nginx convention for a request the client gave up on.
const statusClientClosed = 499

// Status returns the HTTP status for err and the message safe to show the caller.
func Status(err error) (int, string) {
	switch {
	case errors.Is(err, model.ErrInvalidCredentials):
		return http.StatusUnauthorized, "Incorrect username or password"
	case errors.Is(err, model.ErrInvalidAPIKey):
		return http.StatusUnauthorized, "Invalid API key"
	case errors.Is(err, model.ErrInvalidToken):
		return http.StatusUnauthorized, "Invalid or expired token"
	case errors.Is(err, model.ErrForbidden):
		return http.StatusForbidden, "Not enough permissions"
	case errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound, notFoundMessage(err)
	case errors.Is(err, model.ErrDuplicateUsername):
		return http.StatusConflict, "Username already registered"
	case errors.Is(err, model.ErrDuplicateModelName):
		return http.StatusConflict, "Model name already exists"
	case errors.Is(err, model.ErrConflictingGrant):
		return http.StatusConflict, "Access grant was modified concurrently, retry the request"
	case errors.Is(err, model.ErrLimitExceeded):
		return http.StatusTooManyRequests, "Usage limit exceeded"
	case errors.Is(err, model.ErrRateLimited):
		return http.StatusTooManyRequests, "Rate limit exceeded"
	case errors.Is(err, model.ErrInvalidInput):
		return http.StatusBadRequest, capitalize(err.Error())
	case errors.Is(err, model.ErrUnsupportedProvider):
		return http.StatusBadRequest, capitalize(err.Error())
	case errors.Is(err, model.ErrProviderFailure):
		return http.StatusBadGateway, "Error calling model provider"
	case errors.Is(err, context.Canceled):
		return statusClientClosed, "Request canceled"
	default:
		return http.StatusInternalServerError, "Internal server error"
	}
}

// Abort writes err as a JSON error body and stops the handler chain.
// Unmapped errors are logged since their text is not shown to the caller.
func Abort(c *gin.Context, logger *slog.Logger, err error) {
	status, msg := Status(err)
	if status == http.StatusInternalServerError {
		logger.Error("request failed", "method", c.Request.Method, "path", c.FullPath(), "error", err)
	}
	c.AbortWithStatusJSON(status, gin.H{"error": msg})
}

// BadRequest reports a body or query that could not be bound.
func BadRequest(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": msg})
}

// notFoundMessage turns "user: not found" into "User not found".
func notFoundMessage(err error) string {
	what, ok := strings.CutSuffix(err.Error(), ": "+model.ErrNotFound.Error())
	if !ok || what == "" || strings.Contains(what, ": ") {
		return "Not found"
	}
	return capitalize(what) + " not found"
}

func capitalize(s string) string {
	if s == "" || s[0] < 'a' || s[0] > 'z' {
		return s
	}
	return string(s[0]-'a'+'A') + s[1:]
}
