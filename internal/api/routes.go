package api

import (
	"log/slog"

	"blacksheep/internal/auth"
	"blacksheep/internal/cache"
	"blacksheep/internal/credential"
	"blacksheep/internal/ledger"
	"blacksheep/internal/proxy"
	"blacksheep/internal/registry"
	"blacksheep/internal/usage"

	"github.com/gin-gonic/gin"
)

// Deps are the components behind the public routes.
type Deps struct {
	DB       Pinger
	Users    auth.UserLookup
	Tokens   *auth.TokenIssuer
	Store    *credential.Store
	Registry *registry.Registry
	Ledger   *ledger.Ledger
	Usage    *usage.Accountant
	Gateway  *proxy.Gateway
	// Limiter may be nil, which disables rate limiting.
	Limiter   cache.Limiter
	RateLimit cache.RateLimitOptions
}

func SetupRoutes(router *gin.Engine, deps Deps, logger *slog.Logger) {
	handler := &Handler{
		db:       deps.DB,
		store:    deps.Store,
		registry: deps.Registry,
		ledger:   deps.Ledger,
		usage:    deps.Usage,
		gateway:  deps.Gateway,
		logger:   logger.With("component", "api"),
	}

	router.GET("/", handler.RootHandler)
	router.GET("/health", handler.HealthHandler)
	router.POST("/login", handler.LoginHandler)

	jwt := auth.JWTAuth(deps.Tokens, deps.Users)

	usersGroup := router.Group("/users")
	usersGroup.Use(jwt)
	{
		usersGroup.GET("/me", handler.MeHandler)
		usersGroup.POST("/password", handler.ChangePasswordHandler)
		usersGroup.POST("/me/api-key", handler.RegenerateAPIKeyHandler)
		usersGroup.GET("/me/grants", handler.MyGrantsHandler)
	}

	router.GET("/usage/:username", jwt, handler.UsageHandler)
	router.GET("/models", jwt, handler.ListModelsHandler)

	apiGroup := router.Group("/api")
	apiGroup.Use(auth.APIKeyAuth(deps.Store), cache.RateLimit(deps.Limiter, deps.RateLimit, logger))
	{
		apiGroup.POST("/call", handler.CallHandler)
	}
}
