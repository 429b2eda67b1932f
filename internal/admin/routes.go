package admin

import (
	"log/slog"

	"blacksheep/internal/auth"
	"blacksheep/internal/credential"
	"blacksheep/internal/ledger"
	"blacksheep/internal/registry"
	"blacksheep/internal/usage"

	"github.com/gin-gonic/gin"
)

// Deps are the components behind the admin routes.
type Deps struct {
	Users    auth.UserLookup
	Tokens   *auth.TokenIssuer
	Store    *credential.Store
	Registry *registry.Registry
	Ledger   *ledger.Ledger
	Usage    *usage.Accountant
}

func SetupRoutes(router *gin.Engine, deps Deps, logger *slog.Logger) {
	handler := NewHandler(deps.Store, deps.Registry, deps.Ledger, deps.Usage, logger)

	adminGroup := router.Group("/admin")
	adminGroup.Use(auth.JWTAuth(deps.Tokens, deps.Users))
	{
		usersGroup := adminGroup.Group("/users")
		{
			usersGroup.GET("", handler.ListUsersHandler)
			usersGroup.POST("", handler.CreateUserHandler)
			usersGroup.GET("/:username", handler.GetUserHandler)
			usersGroup.DELETE("/:username", handler.DeleteUserHandler)
			usersGroup.PUT("/:username/role", handler.SetRoleHandler)
			usersGroup.PUT("/:username/limit", handler.SetLimitHandler)
			usersGroup.POST("/:username/api-key", handler.RegenerateAPIKeyHandler)
			usersGroup.POST("/:username/usage/reset", handler.ResetUsageHandler)
			usersGroup.POST("/:username/usage/credit", handler.CreditUsageHandler)
			usersGroup.GET("/:username/grants", handler.UserGrantsHandler)
		}

		modelsGroup := adminGroup.Group("/models")
		{
			modelsGroup.POST("", handler.CreateModelHandler)
			modelsGroup.GET("/:name", handler.GetModelHandler)
			modelsGroup.DELETE("/:name", handler.DeleteModelHandler)
		}

		grantsGroup := adminGroup.Group("/grants")
		{
			grantsGroup.PUT("", handler.SetGrantHandler)
			grantsGroup.DELETE("/:username/:model", handler.RevokeGrantHandler)
		}
	}
}
