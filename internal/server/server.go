// Package server assembles the HTTP router.
package server

import (
	"log/slog"
	"net/http"
	"slices"
	"time"

	"blacksheep/internal/admin"
	"blacksheep/internal/api"
	"blacksheep/internal/config"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// NewRouter builds the gin engine with every route and the cross-cutting
// middleware: recovery, request id, CORS and access logging.
func NewRouter(cfg *config.Config, deps api.Deps, log *slog.Logger) *gin.Engine {
	router := gin.New()
	router.Use(customRecovery(log))
	router.Use(requestID())
	router.Use(cors.New(corsConfig(cfg.CORS)))
	router.Use(accessLog(log))

	// If debug mode is enabled, add the gin logger as well.
	if cfg.Debug {
		router.Use(gin.Logger())
	}

	api.SetupRoutes(router, deps, log)
	admin.SetupRoutes(router, admin.Deps{
		Users:    deps.Users,
		Tokens:   deps.Tokens,
		Store:    deps.Store,
		Registry: deps.Registry,
		Ledger:   deps.Ledger,
		Usage:    deps.Usage,
	}, log)

	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
	})
	return router
}

func corsConfig(cfg config.CORSConfig) cors.Config {
	c := cors.Config{
		AllowMethods:  []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Authorization", "X-API-Key", RequestIDHeader},
		ExposeHeaders: []string{RequestIDHeader, "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After"},
		MaxAge:        12 * time.Hour,
	}
	if len(cfg.AllowedOrigins) == 0 || slices.Contains(cfg.AllowedOrigins, "*") {
		c.AllowAllOrigins = true
	} else {
		c.AllowOrigins = cfg.AllowedOrigins
	}
	return c
}
