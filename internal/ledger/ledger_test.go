package ledger

import (
	"context"
	"io"
	"testing"
	"time"

	"blacksheep/internal/authz"
	"blacksheep/internal/config"
	"blacksheep/internal/db"
	"blacksheep/internal/logger"
	"blacksheep/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var admin = authz.Identity{UserID: 1000, Username: "root", Role: model.RoleAdmin}

type fixture struct {
	ledger *Ledger
	db     db.Service
	users  map[string]*model.User
	models map[string]*model.AIModel
}

func setup(t *testing.T, usernames []string, modelNames []string) *fixture {
	t.Helper()
	dbService, err := db.NewService(config.DatabaseConfig{Type: "sqlite", DSN: "file::memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { dbService.Close() })

	f := &fixture{
		ledger: New(dbService, logger.NewWithWriter(io.Discard, false)),
		db:     dbService,
		users:  map[string]*model.User{},
		models: map[string]*model.AIModel{},
	}
	for _, name := range usernames {
		u := &model.User{Username: name, PasswordHash: "h", APIKey: "key-" + name, Role: model.RoleUser, UsageLimit: 100}
		require.NoError(t, dbService.GetDB().Create(u).Error)
		f.users[name] = u
	}
	for _, name := range modelNames {
		m := &model.AIModel{Name: name, Provider: model.ProviderOpenAI}
		require.NoError(t, dbService.GetDB().Create(m).Error)
		f.models[name] = m
	}
	return f
}

func (f *fixture) grantCount(t *testing.T) int64 {
	var n int64
	require.NoError(t, f.db.GetDB().Model(&model.AccessGrant{}).Count(&n).Error)
	return n
}

func TestGrant_NonAdminForbidden(t *testing.T) {
	f := setup(t, []string{"bob"}, []string{"gpt-x"})
	ctx := context.Background()

	_, err := f.ledger.Grant(ctx, authz.IdentityOf(f.users["bob"]), "bob", "gpt-x", model.AccessCall)
	assert.ErrorIs(t, err, model.ErrForbidden)
	assert.Zero(t, f.grantCount(t))

	_, err = f.ledger.Grant(ctx, admin, "bob", "gpt-x", "owner")
	assert.ErrorIs(t, err, model.ErrInvalidInput)
	_, err = f.ledger.Grant(ctx, admin, "ghost", "gpt-x", model.AccessCall)
	assert.ErrorIs(t, err, model.ErrNotFound)
	_, err = f.ledger.Grant(ctx, admin, "bob", "ghost", model.AccessCall)
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestGrant_IdempotentWithTimestamps(t *testing.T) {
	f := setup(t, []string{"bob"}, []string{"gpt-x"})
	ctx := context.Background()
	clock := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	f.ledger.now = func() time.Time { return clock }

	first, err := f.ledger.Grant(ctx, admin, "bob", "gpt-x", model.AccessCall)
	require.NoError(t, err)

	clock = clock.Add(time.Minute)
	second, err := f.ledger.Grant(ctx, admin, "bob", "gpt-x", model.AccessCall)
	require.NoError(t, err)

	assert.Equal(t, int64(1), f.grantCount(t))
	assert.True(t, second.CreatedAt.Equal(first.CreatedAt))
	assert.True(t, second.UpdatedAt.After(first.UpdatedAt))
	assert.Equal(t, model.AccessCall, second.AccessLevel)
}

func TestLevelOf_RevokeEqualsNeverGranted(t *testing.T) {
	f := setup(t, []string{"bob", "carol"}, []string{"gpt-x"})
	ctx := context.Background()
	bob, carol, m := f.users["bob"], f.users["carol"], f.models["gpt-x"]

	_, err := f.ledger.Grant(ctx, admin, "bob", "gpt-x", model.AccessManage)
	require.NoError(t, err)
	level, err := f.ledger.LevelOf(ctx, bob.ID, m.ID)
	require.NoError(t, err)
	assert.Equal(t, model.AccessManage, level)

	require.NoError(t, f.ledger.Revoke(ctx, admin, "bob", "gpt-x"))
	require.NoError(t, f.ledger.Revoke(ctx, admin, "bob", "gpt-x"))

	revoked, err := f.ledger.LevelOf(ctx, bob.ID, m.ID)
	require.NoError(t, err)
	never, err := f.ledger.LevelOf(ctx, carol.ID, m.ID)
	require.NoError(t, err)
	assert.Equal(t, never, revoked)
	assert.Equal(t, model.AccessNone, revoked)

	_, err = f.ledger.Grant(ctx, admin, "bob", "gpt-x", model.AccessRead)
	require.NoError(t, err)
	_, err = f.ledger.Grant(ctx, admin, "bob", "gpt-x", model.AccessNone)
	require.NoError(t, err)
	assert.Zero(t, f.grantCount(t))
}

func TestLevelOf_MissingIdentity(t *testing.T) {
	f := setup(t, []string{"bob"}, []string{"gpt-x"})
	ctx := context.Background()

	_, err := f.ledger.LevelOf(ctx, 999, f.models["gpt-x"].ID)
	assert.ErrorIs(t, err, model.ErrNotFound)
	_, err = f.ledger.LevelOf(ctx, f.users["bob"].ID, 999)
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestGrants(t *testing.T) {
	f := setup(t, []string{"bob", "carol"}, []string{"a", "b"})
	ctx := context.Background()
	_, err := f.ledger.Grant(ctx, admin, "bob", "b", model.AccessRead)
	require.NoError(t, err)
	_, err = f.ledger.Grant(ctx, admin, "bob", "a", model.AccessCall)
	require.NoError(t, err)

	views, err := f.ledger.Grants(ctx, authz.IdentityOf(f.users["bob"]), "bob")
	require.NoError(t, err)
	require.Len(t, views, 2)
	assert.Equal(t, "a", views[0].ModelName)
	assert.Equal(t, model.AccessCall, views[0].AccessLevel)

	_, err = f.ledger.Grants(ctx, authz.IdentityOf(f.users["carol"]), "bob")
	assert.ErrorIs(t, err, model.ErrForbidden)

	views, err = f.ledger.Grants(ctx, admin, "carol")
	require.NoError(t, err)
	assert.Empty(t, views)
}
