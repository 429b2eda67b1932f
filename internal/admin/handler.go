package admin

import (
	"log/slog"
	"net/http"

	"blacksheep/internal/auth"
	"blacksheep/internal/authz"
	"blacksheep/internal/credential"
	"blacksheep/internal/httperr"
	"blacksheep/internal/ledger"
	"blacksheep/internal/model"
	"blacksheep/internal/registry"
	"blacksheep/internal/usage"

	"github.com/gin-gonic/gin"
)

type CreateUserRequest struct {
	Username   string `json:"username" binding:"required"`
	Password   string `json:"password" binding:"required"`
	Role       string `json:"role"`
	UsageLimit *int64 `json:"usage_limit"`
	RateLimit  int    `json:"rate_limit"`
}

type RoleRequest struct {
	Role string `json:"role" binding:"required"`
}

type LimitRequest struct {
	UsageLimit *int64 `json:"usage_limit" binding:"required"`
}

type CreditRequest struct {
	Tokens int64 `json:"tokens" binding:"required"`
}

type CreateModelRequest struct {
	Name           string               `json:"name" binding:"required"`
	Description    string               `json:"description"`
	Provider       string               `json:"provider" binding:"required"`
	ProviderConfig model.ProviderConfig `json:"provider_config"`
}

type GrantRequest struct {
	Username    string `json:"username" binding:"required"`
	ModelName   string `json:"model_name" binding:"required"`
	AccessLevel string `json:"access_level" binding:"required"`
}

// Handler serves the admin endpoints. Every operation is gated by the
// component it calls, so the handler only translates HTTP.
type Handler struct {
	store    *credential.Store
	registry *registry.Registry
	ledger   *ledger.Ledger
	usage    *usage.Accountant
	logger   *slog.Logger
}

func NewHandler(store *credential.Store, reg *registry.Registry, led *ledger.Ledger, acct *usage.Accountant, logger *slog.Logger) *Handler {
	return &Handler{
		store:    store,
		registry: reg,
		ledger:   led,
		usage:    acct,
		logger:   logger.With("component", "admin"),
	}
}

func (h *Handler) caller(c *gin.Context) (authz.Identity, bool) {
	id, ok := auth.IdentityFrom(c)
	if !ok {
		httperr.Abort(c, h.logger, model.ErrInvalidToken)
	}
	return id, ok
}

// User handlers

func (h *Handler) ListUsersHandler(c *gin.Context) {
	actor, ok := h.caller(c)
	if !ok {
		return
	}
	users, err := h.store.List(c.Request.Context(), actor)
	if err != nil {
		httperr.Abort(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, users)
}

func (h *Handler) CreateUserHandler(c *gin.Context) {
	actor, ok := h.caller(c)
	if !ok {
		return
	}
	var req CreateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httperr.BadRequest(c, "username and password are required")
		return
	}
	role := model.RoleUser
	if req.Role != "" {
		r, err := model.ParseRole(req.Role)
		if err != nil {
			httperr.Abort(c, h.logger, err)
			return
		}
		role = r
	}

	user, err := h.store.CreateUser(c.Request.Context(), actor, credential.NewUser{
		Username:   req.Username,
		Password:   req.Password,
		Role:       role,
		UsageLimit: req.UsageLimit,
		RateLimit:  req.RateLimit,
	})
	if err != nil {
		httperr.Abort(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, user)
}

func (h *Handler) GetUserHandler(c *gin.Context) {
	actor, ok := h.caller(c)
	if !ok {
		return
	}
	user, err := h.store.Get(c.Request.Context(), actor, c.Param("username"))
	if err != nil {
		httperr.Abort(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

func (h *Handler) DeleteUserHandler(c *gin.Context) {
	actor, ok := h.caller(c)
	if !ok {
		return
	}
	if err := h.store.DeleteUser(c.Request.Context(), actor, c.Param("username")); err != nil {
		httperr.Abort(c, h.logger, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) SetRoleHandler(c *gin.Context) {
	actor, ok := h.caller(c)
	if !ok {
		return
	}
	var req RoleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httperr.BadRequest(c, "role is required")
		return
	}
	user, err := h.store.SetRole(c.Request.Context(), actor, c.Param("username"), model.Role(req.Role))
	if err != nil {
		httperr.Abort(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

func (h *Handler) SetLimitHandler(c *gin.Context) {
	actor, ok := h.caller(c)
	if !ok {
		return
	}
	var req LimitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httperr.BadRequest(c, "usage_limit is required")
		return
	}
	user, err := h.usage.SetLimit(c.Request.Context(), actor, c.Param("username"), *req.UsageLimit)
	if err != nil {
		httperr.Abort(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

func (h *Handler) RegenerateAPIKeyHandler(c *gin.Context) {
	actor, ok := h.caller(c)
	if !ok {
		return
	}
	key, err := h.store.RegenerateAPIKey(c.Request.Context(), actor, c.Param("username"))
	if err != nil {
		httperr.Abort(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"username": c.Param("username"), "api_key": key})
}

func (h *Handler) ResetUsageHandler(c *gin.Context) {
	actor, ok := h.caller(c)
	if !ok {
		return
	}
	if err := h.usage.ResetUser(c.Request.Context(), actor, c.Param("username")); err != nil {
		httperr.Abort(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Usage reset successfully"})
}

func (h *Handler) CreditUsageHandler(c *gin.Context) {
	actor, ok := h.caller(c)
	if !ok {
		return
	}
	var req CreditRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httperr.BadRequest(c, "tokens is required")
		return
	}
	user, err := h.usage.Credit(c.Request.Context(), actor, c.Param("username"), req.Tokens)
	if err != nil {
		httperr.Abort(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

func (h *Handler) UserGrantsHandler(c *gin.Context) {
	actor, ok := h.caller(c)
	if !ok {
		return
	}
	grants, err := h.ledger.Grants(c.Request.Context(), actor, c.Param("username"))
	if err != nil {
		httperr.Abort(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, grants)
}

// Model handlers

func (h *Handler) CreateModelHandler(c *gin.Context) {
	actor, ok := h.caller(c)
	if !ok {
		return
	}
	var req CreateModelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httperr.BadRequest(c, "name and provider are required")
		return
	}
	summary, err := h.registry.CreateModel(c.Request.Context(), actor, registry.NewModel{
		Name:           req.Name,
		Description:    req.Description,
		Provider:       model.Provider(req.Provider),
		ProviderConfig: req.ProviderConfig,
	})
	if err != nil {
		httperr.Abort(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, summary)
}

func (h *Handler) GetModelHandler(c *gin.Context) {
	actor, ok := h.caller(c)
	if !ok {
		return
	}
	summary, err := h.registry.Get(c.Request.Context(), actor, c.Param("name"))
	if err != nil {
		httperr.Abort(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (h *Handler) DeleteModelHandler(c *gin.Context) {
	actor, ok := h.caller(c)
	if !ok {
		return
	}
	if err := h.registry.DeleteModel(c.Request.Context(), actor, c.Param("name")); err != nil {
		httperr.Abort(c, h.logger, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Grant handlers

func (h *Handler) SetGrantHandler(c *gin.Context) {
	actor, ok := h.caller(c)
	if !ok {
		return
	}
	var req GrantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httperr.BadRequest(c, "username, model_name and access_level are required")
		return
	}
	view, err := h.ledger.Grant(c.Request.Context(), actor, req.Username, req.ModelName, model.AccessLevel(req.AccessLevel))
	if err != nil {
		httperr.Abort(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *Handler) RevokeGrantHandler(c *gin.Context) {
	actor, ok := h.caller(c)
	if !ok {
		return
	}
	if err := h.ledger.Revoke(c.Request.Context(), actor, c.Param("username"), c.Param("model")); err != nil {
		httperr.Abort(c, h.logger, err)
		return
	}
	c.Status(http.StatusNoContent)
}
