package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	tmpfile, err := os.CreateTemp(t.TempDir(), "config-*.yaml")
	require.NoError(t, err)
	_, err = tmpfile.WriteString(content)
	require.NoError(t, err)
	require.NoError(t, tmpfile.Close())
	return tmpfile.Name()
}

func TestLoadConfig(t *testing.T) {
	t.Run("valid config", func(t *testing.T) {
		path := writeConfig(t, `
port: 9090
debug: true
environment: production
database:
  type: sqlite
  dsn: test.db
auth:
  jwt_secret: s3cret
  token_ttl: 45m
  password_hash: argon2id
usage:
  default_limit: 500
  reset_schedule: "@monthly"
cors:
  allowed_origins:
    - https://example.com
`)
		config, warning, err := LoadConfig(path)
		require.NoError(t, err)
		assert.Equal(t, 9090, config.Port)
		assert.True(t, config.Debug)
		assert.Equal(t, "sqlite", config.Database.Type)
		assert.Equal(t, "test.db", config.Database.DSN)
		assert.Equal(t, "s3cret", config.Auth.JWTSecret)
		assert.Equal(t, 45*time.Minute, config.Auth.TokenTTL)
		assert.Equal(t, "argon2id", config.Auth.PasswordHash)
		assert.Equal(t, int64(500), config.Usage.DefaultLimit)
		assert.Equal(t, "@monthly", config.Usage.ResetSchedule)
		assert.Equal(t, []string{"https://example.com"}, config.CORS.AllowedOrigins)
		assert.False(t, config.IsDevelopment())
		// Only the admin password falls back to a default here.
		assert.Contains(t, warning, "default_admin_password")
	})

	t.Run("defaults are applied", func(t *testing.T) {
		path := writeConfig(t, "database:\n  type: sqlite\n  dsn: x.db\n")
		config, warning, err := LoadConfig(path)
		require.NoError(t, err)
		assert.Equal(t, 8080, config.Port)
		assert.Equal(t, "development", config.Environment)
		assert.Equal(t, 30*time.Minute, config.Auth.TokenTTL)
		assert.Equal(t, "bcrypt", config.Auth.PasswordHash)
		assert.Equal(t, "admin", config.Auth.DefaultAdminUsername)
		assert.Equal(t, int64(100000), config.Usage.DefaultLimit)
		assert.Equal(t, "", config.Usage.ResetSchedule)
		assert.Equal(t, "blacksheep.usage", config.Events.Subject)
		assert.Equal(t, []string{"*"}, config.CORS.AllowedOrigins)
		assert.Equal(t, 60*time.Second, config.Provider.Timeout)
		assert.Equal(t, devJWTSecret, config.Auth.JWTSecret)
		assert.Contains(t, warning, "jwt_secret")
		assert.Contains(t, warning, "default_limit")
	})

	t.Run("missing database settings", func(t *testing.T) {
		path := writeConfig(t, "port: 8080\n")
		_, _, err := LoadConfig(path)
		assert.Error(t, err)
	})

	t.Run("non-existent file relies on env", func(t *testing.T) {
		_, _, err := LoadConfig("non-existent-file.yaml")
		assert.Error(t, err)

		t.Setenv("BLACKSHEEP_DATABASE_TYPE", "sqlite")
		t.Setenv("BLACKSHEEP_DATABASE_DSN", "env.db")
		config, _, err := LoadConfig("non-existent-file.yaml")
		require.NoError(t, err)
		assert.Equal(t, "env.db", config.Database.DSN)
	})

	t.Run("invalid yaml", func(t *testing.T) {
		path := writeConfig(t, "database: [sqlite\nport: 8080\n  debug: true")
		_, _, err := LoadConfig(path)
		assert.Error(t, err)
	})

	t.Run("production requires a jwt secret", func(t *testing.T) {
		path := writeConfig(t, "environment: production\ndatabase:\n  type: sqlite\n  dsn: x.db\n")
		_, _, err := LoadConfig(path)
		assert.ErrorContains(t, err, "jwt_secret")
	})
}
