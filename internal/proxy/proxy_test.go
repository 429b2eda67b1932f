package proxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"blacksheep/internal/auth"
	"blacksheep/internal/authz"
	"blacksheep/internal/config"
	"blacksheep/internal/credential"
	"blacksheep/internal/db"
	"blacksheep/internal/events"
	"blacksheep/internal/ledger"
	"blacksheep/internal/logger"
	"blacksheep/internal/model"
	"blacksheep/internal/provider"
	"blacksheep/internal/registry"
	"blacksheep/internal/usage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

// scriptedProvider returns queued results in order.
type scriptedProvider struct {
	mu      sync.Mutex
	results []provider.Result
	err     error
	calls   int
	lastReq provider.Request
	onCall  func()
}

func (s *scriptedProvider) Complete(_ context.Context, _ *model.AIModel, req provider.Request) (provider.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.lastReq = req
	if s.onCall != nil {
		s.onCall()
	}
	if s.err != nil {
		return provider.Result{}, s.err
	}
	res := s.results[0]
	s.results = s.results[1:]
	return res, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.UsageEvent
}

func (r *recordingPublisher) PublishUsage(_ context.Context, ev events.UsageEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recordingPublisher) Close() {}

type env struct {
	db       db.Service
	store    *credential.Store
	registry *registry.Registry
	ledger   *ledger.Ledger
	gateway  *Gateway
	provider *scriptedProvider
	events   *recordingPublisher
	alice    authz.Identity
}

func setup(t *testing.T) *env {
	t.Helper()
	dbService, err := db.NewService(config.DatabaseConfig{Type: "sqlite", DSN: "file::memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { dbService.Close() })

	log := logger.NewWithWriter(io.Discard, false)
	hasher, err := auth.NewPasswordHasher(auth.SchemeBcrypt)
	require.NoError(t, err)
	hasher.BcryptCost = bcrypt.MinCost

	e := &env{
		db:       dbService,
		store:    credential.NewStore(dbService, hasher, auth.NewTokenIssuer("s", time.Minute), credential.Options{APIKeyPrefix: "bsk", DefaultLimit: 1000}, log),
		registry: registry.New(dbService, log),
		ledger:   ledger.New(dbService, log),
		provider: &scriptedProvider{},
		events:   &recordingPublisher{},
	}
	e.gateway = NewGateway(Deps{
		Models:   e.registry,
		Levels:   e.ledger,
		Usage:    usage.NewAccountant(dbService, log),
		Users:    dbService,
		Provider: e.provider,
		Events:   e.events,
	}, 5*time.Second, log)

	_, err = e.store.EnsureAdmin(context.Background(), "alice", "admin")
	require.NoError(t, err)
	alice, err := e.store.Verify(context.Background(), "alice", "admin")
	require.NoError(t, err)
	e.alice = authz.IdentityOf(alice)
	return e
}

func (e *env) user(t *testing.T, name string, limit int64) authz.Identity {
	u, err := e.store.CreateUser(context.Background(), e.alice, credential.NewUser{Username: name, Password: "pw", UsageLimit: &limit})
	require.NoError(t, err)
	return authz.IdentityOf(u)
}

func (e *env) model(t *testing.T, name string, p model.Provider) {
	_, err := e.registry.CreateModel(context.Background(), e.alice, registry.NewModel{
		Name:     name,
		Provider: p,
		ProviderConfig: model.ProviderConfig{
			Endpoint: "https://example.openai.azure.com", Deployment: name, APIKey: "k",
		},
	})
	require.NoError(t, err)
}

func (e *env) usageCount(t *testing.T, id authz.Identity) int64 {
	u, err := e.db.GetUserByID(context.Background(), id.UserID)
	require.NoError(t, err)
	return u.UsageCount
}

func consumed(prompt, completion int64) provider.Result {
	return provider.Result{Content: "ok", Usage: model.Consumption{PromptTokens: prompt, CompletionTokens: completion}}
}

func TestCall_EndToEndLimit(t *testing.T) {
	e := setup(t)
	ctx := context.Background()
	bob := e.user(t, "bob", 100)
	e.model(t, "gpt-x", model.ProviderAzureOpenAI)
	_, err := e.ledger.Grant(ctx, e.alice, "bob", "gpt-x", model.AccessCall)
	require.NoError(t, err)

	e.provider.results = []provider.Result{consumed(25, 15), consumed(50, 20)}

	resp, err := e.gateway.Call(ctx, bob, CallRequest{ModelName: "gpt-x", Prompt: "hello"})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Response)
	assert.Equal(t, int64(40), resp.Usage.Total())
	assert.Equal(t, int64(40), e.usageCount(t, bob))

	_, err = e.gateway.Call(ctx, bob, CallRequest{ModelName: "gpt-x", Prompt: "hello again"})
	assert.ErrorIs(t, err, model.ErrLimitExceeded)
	assert.Equal(t, int64(40), e.usageCount(t, bob))

	require.Len(t, e.events.events, 1)
	assert.Equal(t, int64(40), e.events.events[0].TotalTokens)
	assert.Equal(t, "bob", e.events.events[0].Username)
}

func TestCall_Defaults(t *testing.T) {
	e := setup(t)
	ctx := context.Background()
	bob := e.user(t, "bob", 100)
	e.model(t, "gpt-x", model.ProviderAzureOpenAI)
	_, err := e.ledger.Grant(ctx, e.alice, "bob", "gpt-x", model.AccessManage)
	require.NoError(t, err)
	e.provider.results = []provider.Result{consumed(1, 1)}

	_, err = e.gateway.Call(ctx, bob, CallRequest{ModelName: "gpt-x", Prompt: "hi"})
	require.NoError(t, err)
	assert.Equal(t, defaultMaxTokens, e.provider.lastReq.MaxTokens)
	assert.Equal(t, defaultTemperature, e.provider.lastReq.Temperature)
	assert.Equal(t, []provider.Message{{Role: "user", Content: "hi"}}, e.provider.lastReq.Messages)
}

func TestCall_DeniedWithoutCallLevel(t *testing.T) {
	e := setup(t)
	ctx := context.Background()
	bob := e.user(t, "bob", 100)
	e.model(t, "gpt-x", model.ProviderAzureOpenAI)

	_, err := e.gateway.Call(ctx, bob, CallRequest{ModelName: "gpt-x", Prompt: "hi"})
	assert.ErrorIs(t, err, model.ErrForbidden)

	_, err = e.ledger.Grant(ctx, e.alice, "bob", "gpt-x", model.AccessRead)
	require.NoError(t, err)
	_, err = e.gateway.Call(ctx, bob, CallRequest{ModelName: "gpt-x", Prompt: "hi"})
	assert.ErrorIs(t, err, model.ErrForbidden)

	// Admins also need a grant.
	_, err = e.gateway.Call(ctx, e.alice, CallRequest{ModelName: "gpt-x", Prompt: "hi"})
	assert.ErrorIs(t, err, model.ErrForbidden)

	assert.Zero(t, e.provider.calls)
}

func TestCall_ExhaustedUsageSkipsProvider(t *testing.T) {
	e := setup(t)
	ctx := context.Background()
	bob := e.user(t, "bob", 0)
	e.model(t, "gpt-x", model.ProviderAzureOpenAI)
	_, err := e.ledger.Grant(ctx, e.alice, "bob", "gpt-x", model.AccessCall)
	require.NoError(t, err)

	_, err = e.gateway.Call(ctx, bob, CallRequest{ModelName: "gpt-x", Prompt: "hi"})
	assert.ErrorIs(t, err, model.ErrLimitExceeded)
	assert.Zero(t, e.provider.calls)
}

func TestCall_ProviderFailureIsNotCharged(t *testing.T) {
	e := setup(t)
	ctx := context.Background()
	bob := e.user(t, "bob", 100)
	e.model(t, "gpt-x", model.ProviderAzureOpenAI)
	_, err := e.ledger.Grant(ctx, e.alice, "bob", "gpt-x", model.AccessCall)
	require.NoError(t, err)
	e.provider.err = fmt.Errorf("%w: upstream returned status 500", model.ErrProviderFailure)

	_, err = e.gateway.Call(ctx, bob, CallRequest{ModelName: "gpt-x", Prompt: "hi"})
	assert.ErrorIs(t, err, model.ErrProviderFailure)
	assert.Zero(t, e.usageCount(t, bob))
	assert.Empty(t, e.events.events)
}

func TestCall_ClientCancelled(t *testing.T) {
	e := setup(t)
	bob := e.user(t, "bob", 100)
	e.model(t, "gpt-x", model.ProviderAzureOpenAI)
	_, err := e.ledger.Grant(context.Background(), e.alice, "bob", "gpt-x", model.AccessCall)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	e.provider.onCall = cancel
	e.provider.err = context.Canceled

	_, err = e.gateway.Call(ctx, bob, CallRequest{ModelName: "gpt-x", Prompt: "hi"})
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Zero(t, e.usageCount(t, bob))
}

func TestCall_Validation(t *testing.T) {
	e := setup(t)
	ctx := context.Background()
	bob := e.user(t, "bob", 100)
	neg := -1
	hot := 3.0

	for _, req := range []CallRequest{
		{Prompt: "hi"},
		{ModelName: "gpt-x"},
		{ModelName: "gpt-x", Prompt: "hi", MaxTokens: &neg},
		{ModelName: "gpt-x", Prompt: "hi", Temperature: &hot},
	} {
		_, err := e.gateway.Call(ctx, bob, req)
		assert.ErrorIs(t, err, model.ErrInvalidInput)
	}

	_, err := e.gateway.Call(ctx, bob, CallRequest{ModelName: "missing", Prompt: "hi"})
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestCall_UnsupportedProvider(t *testing.T) {
	e := setup(t)
	ctx := context.Background()
	bob := e.user(t, "bob", 100)
	e.model(t, "claude", model.ProviderAnthropic)
	_, err := e.ledger.Grant(ctx, e.alice, "bob", "claude", model.AccessCall)
	require.NoError(t, err)

	e.gateway.provider = provider.NewRouter(config.ProviderConfig{Timeout: time.Second}, logger.NewWithWriter(io.Discard, false))
	_, err = e.gateway.Call(ctx, bob, CallRequest{ModelName: "claude", Prompt: "hi"})
	assert.ErrorIs(t, err, model.ErrUnsupportedProvider)
	assert.Zero(t, e.usageCount(t, bob))
}
