package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"blacksheep/internal/api"
	"blacksheep/internal/auth"
	"blacksheep/internal/cache"
	"blacksheep/internal/config"
	"blacksheep/internal/credential"
	"blacksheep/internal/db"
	"blacksheep/internal/events"
	"blacksheep/internal/ledger"
	"blacksheep/internal/logger"
	"blacksheep/internal/provider"
	"blacksheep/internal/proxy"
	"blacksheep/internal/registry"
	"blacksheep/internal/scheduler"
	"blacksheep/internal/server"
	"blacksheep/internal/usage"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
)

const shutdownTimeout = 5 * time.Second

func configPath() string {
	if p := os.Getenv(config.EnvPrefix + "CONFIG"); p != "" {
		return p
	}
	return "config.yaml"
}

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("Error loading .env file", "error", err)
	}

	// Load configuration
	cfg, warning, err := config.LoadConfig(configPath())
	if err != nil {
		// Use a temporary logger for startup errors
		slog.Error("Error loading configuration", "error", err)
		os.Exit(1)
	}

	// Setup logger
	log := logger.NewWithFormat(os.Stdout, cfg.Logging.Format, cfg.Debug)
	log.Info("Logger initialized", "debug_mode", cfg.Debug, "environment", cfg.Environment)
	if warning != "" {
		log.Warn(warning)
	}
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	// Initialize database
	dbService, err := db.NewService(cfg.Database)
	if err != nil {
		log.Error("Error initializing database", "error", err)
		os.Exit(1)
	}
	log.Info("Database initialized", "type", cfg.Database.Type)

	if err := setupAndRunServer(cfg, log, dbService); err != nil {
		log.Error("Server exited with error", "error", err)
		os.Exit(1)
	}
	log.Info("Server exiting")
}

// setupAndRunServer wires every component, serves until SIGINT or SIGTERM
// and then shuts down. It owns dbService and closes it on return.
func setupAndRunServer(cfg *config.Config, log *slog.Logger, dbService db.Service) error {
	defer func() {
		if err := dbService.Close(); err != nil {
			log.Error("Error closing database", "error", err)
		}
	}()
	ctx := context.Background()

	hasher, err := auth.NewPasswordHasher(cfg.Auth.PasswordHash)
	if err != nil {
		return fmt.Errorf("password hasher: %w", err)
	}
	tokens := auth.NewTokenIssuer(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	store := credential.NewStore(dbService, hasher, tokens, credential.Options{
		APIKeyPrefix: cfg.Auth.APIKeyPrefix,
		DefaultLimit: cfg.Usage.DefaultLimit,
	}, log)

	created, err := store.EnsureAdmin(ctx, cfg.Auth.DefaultAdminUsername, cfg.Auth.DefaultAdminPassword)
	if err != nil {
		return fmt.Errorf("bootstrap admin: %w", err)
	}
	if created && cfg.Auth.DefaultAdminPassword == "admin" {
		log.Warn("Default admin uses the default password, change it", "username", cfg.Auth.DefaultAdminUsername)
	}

	// Optional services degrade to no-ops when unavailable.
	var limiter cache.Limiter
	var redisCache *cache.Cache
	if cfg.RateLimit.RedisURL != "" {
		redisCache, err = cache.New(ctx, cfg.RateLimit.RedisURL)
		if err != nil {
			log.Warn("Redis unavailable, rate limiting disabled", "error", err)
		} else {
			limiter = redisCache
			log.Info("Rate limiter enabled", "requests_per_minute", cfg.RateLimit.RequestsPerMinute, "burst", cfg.RateLimit.Burst)
		}
	}

	var publisher events.Publisher = events.Noop{}
	if cfg.Events.NATSURL != "" {
		natsPublisher, err := events.NewNATSPublisher(cfg.Events.NATSURL, cfg.Events.Subject, log)
		if err != nil {
			log.Warn("NATS unavailable, usage events disabled", "error", err)
		} else {
			publisher = natsPublisher
			log.Info("Usage events enabled", "subject", cfg.Events.Subject)
		}
	}

	reg := registry.New(dbService, log)
	led := ledger.New(dbService, log)
	accountant := usage.NewAccountant(dbService, log)
	gateway := proxy.NewGateway(proxy.Deps{
		Models:   reg,
		Levels:   led,
		Usage:    accountant,
		Users:    dbService,
		Provider: provider.NewRouter(cfg.Provider, log),
		Events:   publisher,
	}, cfg.Provider.Timeout, log)

	// Start the scheduler
	sched := scheduler.NewScheduler(accountant, cfg.Usage.ResetSchedule, log)
	if err := sched.Start(); err != nil {
		publisher.Close()
		if redisCache != nil {
			redisCache.Close()
		}
		return fmt.Errorf("scheduler: %w", err)
	}

	router := server.NewRouter(cfg, api.Deps{
		DB:       dbService,
		Users:    dbService,
		Tokens:   tokens,
		Store:    store,
		Registry: reg,
		Ledger:   led,
		Usage:    accountant,
		Gateway:  gateway,
		Limiter:  limiter,
		RateLimit: cache.RateLimitOptions{
			RequestsPerMinute: cfg.RateLimit.RequestsPerMinute,
			Burst:             cfg.RateLimit.Burst,
		},
	}, log)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	serverErr := make(chan error, 1)
	go func() {
		log.Info("Starting server", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	var runErr error
	select {
	case err := <-serverErr:
		runErr = err
	case sig := <-quit:
		log.Info("Shutting down server...", "signal", sig.String())
	}

	// The context is used to inform the server it has 5 seconds to finish
	// the request it is currently handling
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", "error", err)
		if runErr == nil {
			runErr = err
		}
	}

	sched.Stop()
	publisher.Close()
	if redisCache != nil {
		if err := redisCache.Close(); err != nil {
			log.Error("Error closing redis", "error", err)
		}
	}
	return runErr
}
