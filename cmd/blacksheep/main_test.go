package main

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"syscall"
	"testing"
	"time"

	"blacksheep/internal/config"
	"blacksheep/internal/db"
	"blacksheep/internal/logger"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(port int) *config.Config {
	return &config.Config{
		Port:     port,
		Database: config.DatabaseConfig{Type: "sqlite", DSN: "file::memory:"},
		Auth: config.AuthConfig{
			JWTSecret:            "test",
			TokenTTL:             time.Minute,
			PasswordHash:         "bcrypt",
			APIKeyPrefix:         "bsk",
			DefaultAdminUsername: "admin",
			DefaultAdminPassword: "admin",
		},
		Usage:    config.UsageConfig{DefaultLimit: 100},
		CORS:     config.CORSConfig{AllowedOrigins: []string{"*"}},
		Provider: config.ProviderConfig{Timeout: time.Second, AzureAPIVersion: "2024-10-01-preview"},
	}
}

func TestSetupAndRunServer_Failure(t *testing.T) {
	gin.SetMode(gin.TestMode)
	log := logger.NewWithWriter(io.Discard, false)

	t.Run("unknown password hash scheme", func(t *testing.T) {
		cfg := testConfig(0)
		cfg.Auth.PasswordHash = "md5"
		dbService, err := db.NewService(cfg.Database)
		require.NoError(t, err)

		err = setupAndRunServer(cfg, log, dbService)
		assert.Error(t, err)
		assert.Error(t, dbService.Ping(t.Context()), "database should be closed")
	})

	t.Run("invalid reset schedule", func(t *testing.T) {
		cfg := testConfig(0)
		cfg.Usage.ResetSchedule = "every full moon"
		dbService, err := db.NewService(cfg.Database)
		require.NoError(t, err)

		err = setupAndRunServer(cfg, log, dbService)
		assert.ErrorContains(t, err, "scheduler")
	})
}

func TestGracefulShutdown(t *testing.T) {
	gin.SetMode(gin.TestMode)
	const port = 18088
	cfg := testConfig(port)
	cfg.RateLimit.RedisURL = "redis://127.0.0.1:1/0"
	log := logger.NewWithWriter(io.Discard, false)
	dbService, err := db.NewService(cfg.Database)
	require.NoError(t, err)

	// Run the server in a goroutine
	serverExited := make(chan error, 1)
	go func() {
		serverExited <- setupAndRunServer(cfg, log, dbService)
	}()

	// Wait until the server answers so the signal handler is installed.
	url := fmt.Sprintf("http://127.0.0.1:%d/health", port)
	require.Eventually(t, func() bool {
		resp, err := http.Get(url)
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 50*time.Millisecond)

	// Send the interrupt signal
	p, err := os.FindProcess(os.Getpid())
	require.NoError(t, err)
	require.NoError(t, p.Signal(syscall.SIGINT))

	select {
	case err := <-serverExited:
		assert.NoError(t, err)
	case <-time.After(6 * time.Second): // 5s timeout in shutdown + 1s buffer
		t.Fatal("server did not shut down gracefully within the timeout")
	}
}

func TestConfigPath(t *testing.T) {
	t.Setenv(config.EnvPrefix+"CONFIG", "")
	assert.Equal(t, "config.yaml", configPath())

	t.Setenv(config.EnvPrefix+"CONFIG", "/etc/blacksheep.yaml")
	assert.Equal(t, "/etc/blacksheep.yaml", configPath())
}
