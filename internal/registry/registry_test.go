package registry

import (
	"context"
	"encoding/json"
	"io"
	"testing"

	"blacksheep/internal/authz"
	"blacksheep/internal/config"
	"blacksheep/internal/db"
	"blacksheep/internal/logger"
	"blacksheep/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	admin = authz.Identity{UserID: 1, Username: "alice", Role: model.RoleAdmin}
	bob   = authz.Identity{UserID: 2, Username: "bob", Role: model.RoleUser}
)

func setupRegistry(t *testing.T) (*Registry, db.Service) {
	t.Helper()
	dbService, err := db.NewService(config.DatabaseConfig{Type: "sqlite", DSN: "file::memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { dbService.Close() })
	return New(dbService, logger.NewWithWriter(io.Discard, false)), dbService
}

func gptX() NewModel {
	return NewModel{
		Name:        "gpt-x",
		Description: "test model",
		Provider:    model.ProviderAzureOpenAI,
		ProviderConfig: model.ProviderConfig{
			Endpoint:   "https://example.openai.azure.com",
			Deployment: "gpt-x",
			APIKey:     "super-secret",
		},
	}
}

func modelCount(t *testing.T, s db.Service) int64 {
	var n int64
	require.NoError(t, s.GetDB().Model(&model.AIModel{}).Count(&n).Error)
	return n
}

func TestCreateModel_NonAdminForbidden(t *testing.T) {
	reg, dbService := setupRegistry(t)
	ctx := context.Background()

	_, err := reg.CreateModel(ctx, bob, gptX())
	assert.ErrorIs(t, err, model.ErrForbidden)
	assert.Zero(t, modelCount(t, dbService))

	summary, err := reg.CreateModel(ctx, admin, gptX())
	require.NoError(t, err)
	require.NotNil(t, summary.ProviderConfig)
	assert.Equal(t, "super-secret", summary.ProviderConfig.APIKey)

	models, err := reg.ListModels(ctx, bob)
	require.NoError(t, err)
	require.Len(t, models, 1)
	assert.Nil(t, models[0].ProviderConfig)

	body, err := json.Marshal(models)
	require.NoError(t, err)
	assert.NotContains(t, string(body), "provider_config")
	assert.NotContains(t, string(body), "super-secret")

	models, err = reg.ListModels(ctx, admin)
	require.NoError(t, err)
	require.NotNil(t, models[0].ProviderConfig)
}

func TestCreateModel_DuplicateAndValidation(t *testing.T) {
	reg, dbService := setupRegistry(t)
	ctx := context.Background()

	_, err := reg.CreateModel(ctx, admin, gptX())
	require.NoError(t, err)
	_, err = reg.CreateModel(ctx, admin, gptX())
	assert.ErrorIs(t, err, model.ErrDuplicateModelName)

	bad := gptX()
	bad.Name = "other"
	bad.Provider = "LLAMA"
	_, err = reg.CreateModel(ctx, admin, bad)
	assert.ErrorIs(t, err, model.ErrInvalidInput)

	bad = gptX()
	bad.Name = "other"
	bad.ProviderConfig.Endpoint = ""
	_, err = reg.CreateModel(ctx, admin, bad)
	assert.ErrorIs(t, err, model.ErrInvalidInput)

	assert.Equal(t, int64(1), modelCount(t, dbService))
}

func TestGetAndResolve(t *testing.T) {
	reg, _ := setupRegistry(t)
	ctx := context.Background()
	_, err := reg.CreateModel(ctx, admin, gptX())
	require.NoError(t, err)

	s, err := reg.Get(ctx, bob, "gpt-x")
	require.NoError(t, err)
	assert.Nil(t, s.ProviderConfig)
	assert.Equal(t, model.ProviderAzureOpenAI, s.Provider)

	_, err = reg.Get(ctx, bob, "missing")
	assert.ErrorIs(t, err, model.ErrNotFound)

	m, err := reg.Resolve(ctx, "gpt-x")
	require.NoError(t, err)
	assert.Equal(t, "super-secret", m.ProviderConfig.APIKey)
}

func TestDeleteModel(t *testing.T) {
	reg, dbService := setupRegistry(t)
	ctx := context.Background()
	_, err := reg.CreateModel(ctx, admin, gptX())
	require.NoError(t, err)

	assert.ErrorIs(t, reg.DeleteModel(ctx, bob, "gpt-x"), model.ErrForbidden)
	assert.ErrorIs(t, reg.DeleteModel(ctx, admin, "missing"), model.ErrNotFound)
	require.NoError(t, reg.DeleteModel(ctx, admin, "gpt-x"))
	assert.Zero(t, modelCount(t, dbService))
}
