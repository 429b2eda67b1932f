// Package api serves the public, self-service and inference endpoints.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"blacksheep/internal/auth"
	"blacksheep/internal/authz"
	"blacksheep/internal/credential"
	"blacksheep/internal/httperr"
	"blacksheep/internal/ledger"
	"blacksheep/internal/model"
	"blacksheep/internal/proxy"
	"blacksheep/internal/registry"
	"blacksheep/internal/usage"

	"github.com/gin-gonic/gin"
)

// Pinger reports database reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Handler struct {
	db       Pinger
	store    *credential.Store
	registry *registry.Registry
	ledger   *ledger.Ledger
	usage    *usage.Accountant
	gateway  *proxy.Gateway
	logger   *slog.Logger
}

type loginRequest struct {
	Username string `json:"username" form:"username" binding:"required"`
	Password string `json:"password" form:"password" binding:"required"`
}

type passwordRequest struct {
	CurrentPassword string `json:"current_password" binding:"required"`
	NewPassword     string `json:"new_password" binding:"required"`
}

func (h *Handler) RootHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"message": "Blacksheep LLM gateway"})
}

func (h *Handler) HealthHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	if err := h.db.Ping(ctx); err != nil {
		h.logger.Error("health check failed", "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "database": "unreachable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "database": "ok"})
}

// LoginHandler accepts a JSON body or an OAuth2-style password form.
func (h *Handler) LoginHandler(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBind(&req); err != nil {
		httperr.BadRequest(c, "username and password are required")
		return
	}
	token, expiresAt, err := h.store.Login(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		httperr.Abort(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"access_token": token,
		"token_type":   "bearer",
		"expires_at":   expiresAt,
	})
}

func (h *Handler) MeHandler(c *gin.Context) {
	user, ok := auth.UserFrom(c)
	if !ok {
		httperr.Abort(c, h.logger, model.ErrInvalidToken)
		return
	}
	c.JSON(http.StatusOK, user)
}

func (h *Handler) ChangePasswordHandler(c *gin.Context) {
	caller, ok := callerOf(c, h.logger)
	if !ok {
		return
	}
	var req passwordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httperr.BadRequest(c, "current_password and new_password are required")
		return
	}
	if err := h.store.ChangePassword(c.Request.Context(), caller, req.CurrentPassword, req.NewPassword); err != nil {
		httperr.Abort(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Password updated successfully"})
}

func (h *Handler) RegenerateAPIKeyHandler(c *gin.Context) {
	caller, ok := callerOf(c, h.logger)
	if !ok {
		return
	}
	key, err := h.store.RegenerateAPIKey(c.Request.Context(), caller, caller.Username)
	if err != nil {
		httperr.Abort(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"api_key": key})
}

func (h *Handler) MyGrantsHandler(c *gin.Context) {
	caller, ok := callerOf(c, h.logger)
	if !ok {
		return
	}
	grants, err := h.ledger.Grants(c.Request.Context(), caller, caller.Username)
	if err != nil {
		httperr.Abort(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, grants)
}

// UsageHandler reports a user's usage. start_date and end_date are optional
// RFC3339 bounds of a [start, end) window over the usage records.
func (h *Handler) UsageHandler(c *gin.Context) {
	caller, ok := callerOf(c, h.logger)
	if !ok {
		return
	}
	from, err := parseTime(c.Query("start_date"))
	if err != nil {
		httperr.BadRequest(c, "start_date must be an RFC3339 timestamp")
		return
	}
	to, err := parseTime(c.Query("end_date"))
	if err != nil {
		httperr.BadRequest(c, "end_date must be an RFC3339 timestamp")
		return
	}

	snap, err := h.usage.UsageOf(c.Request.Context(), caller, c.Param("username"), from, to)
	if err != nil {
		httperr.Abort(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (h *Handler) ListModelsHandler(c *gin.Context) {
	caller, ok := callerOf(c, h.logger)
	if !ok {
		return
	}
	models, err := h.registry.ListModels(c.Request.Context(), caller)
	if err != nil {
		httperr.Abort(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, models)
}

func (h *Handler) CallHandler(c *gin.Context) {
	caller, ok := callerOf(c, h.logger)
	if !ok {
		return
	}
	var req proxy.CallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httperr.BadRequest(c, "Invalid request body")
		return
	}
	resp, err := h.gateway.Call(c.Request.Context(), caller, req)
	if err != nil {
		httperr.Abort(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func callerOf(c *gin.Context, logger *slog.Logger) (authz.Identity, bool) {
	id, ok := auth.IdentityFrom(c)
	if !ok {
		httperr.Abort(c, logger, model.ErrInvalidToken)
	}
	return id, ok
}

func parseTime(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrInvalidInput, err)
	}
	return &t, nil
}
