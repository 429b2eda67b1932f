// Package credential manages users, their secrets and API keys.
package credential

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"blacksheep/internal/auth"
	"blacksheep/internal/authz"
	"blacksheep/internal/db"
	"blacksheep/internal/model"
)

const maxUsernameLen = 255

// Options configures a Store.
type Options struct {
	APIKeyPrefix string
	// DefaultLimit is the usage limit given to users created without one.
	DefaultLimit int64
}

// NewUser is the input to CreateUser.
type NewUser struct {
	Username   string
	Password   string
	Role       model.Role
	UsageLimit *int64
	RateLimit  int
}

// Store is the credential store.
type Store struct {
	db     db.Service
	hasher auth.Hasher
	tokens *auth.TokenIssuer
	opts   Options
	logger *slog.Logger
}

func NewStore(dbService db.Service, hasher auth.Hasher, tokens *auth.TokenIssuer, opts Options, logger *slog.Logger) *Store {
	return &Store{
		db:     dbService,
		hasher: hasher,
		tokens: tokens,
		opts:   opts,
		logger: logger.With("component", "credential"),
	}
}

// UserFinder is the lookup used by ResolveSubject.
type UserFinder interface {
	GetUserByUsername(ctx context.Context, username string) (*model.User, error)
}

// ResolveSubject loads the user an action targets and asks the gate whether
// actor may perform it. Non-admins get ErrForbidden instead of ErrNotFound so
// usernames cannot be probed.
func ResolveSubject(ctx context.Context, users UserFinder, actor authz.Identity, action authz.Action, username string) (*model.User, error) {
	u, err := users.GetUserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) && !actor.IsAdmin() {
			return nil, model.ErrForbidden
		}
		return nil, err
	}
	if err := authz.Check(actor, action, authz.Target{UserID: u.ID}); err != nil {
		return nil, err
	}
	return u, nil
}

// CreateUser registers a new user. Admin only.
func (s *Store) CreateUser(ctx context.Context, actor authz.Identity, req NewUser) (*model.User, error) {
	if err := authz.Check(actor, authz.ActionCreateUser, authz.Target{}); err != nil {
		return nil, err
	}
	u, err := s.create(ctx, req)
	if err != nil {
		return nil, err
	}
	s.logger.Info("user created", "username", u.Username, "role", u.Role, "by", actor.Username)
	return u, nil
}

func (s *Store) create(ctx context.Context, req NewUser) (*model.User, error) {
	username := strings.TrimSpace(req.Username)
	if username == "" || len(username) > maxUsernameLen {
		return nil, fmt.Errorf("%w: username must be 1-%d characters", model.ErrInvalidInput, maxUsernameLen)
	}
	if req.Password == "" {
		return nil, fmt.Errorf("%w: password is required", model.ErrInvalidInput)
	}
	role := req.Role
	if role == "" {
		role = model.RoleUser
	}
	if _, err := model.ParseRole(string(role)); err != nil {
		return nil, err
	}
	limit := s.opts.DefaultLimit
	if req.UsageLimit != nil {
		limit = *req.UsageLimit
	}
	if limit < 0 || req.RateLimit < 0 {
		return nil, fmt.Errorf("%w: limits must not be negative", model.ErrInvalidInput)
	}

	if _, err := s.db.GetUserByUsername(ctx, username); err == nil {
		return nil, model.ErrDuplicateUsername
	} else if !errors.Is(err, model.ErrNotFound) {
		return nil, err
	}

	hash, err := s.hasher.Hash(req.Password)
	if errors.Is(err, model.ErrInvalidInput) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	u := &model.User{
		Username:     username,
		PasswordHash: hash,
		Role:         role,
		UsageLimit:   limit,
		RateLimit:    req.RateLimit,
	}
	for attempt := 0; attempt < 2; attempt++ {
		if u.APIKey, err = auth.GenerateAPIKey(s.opts.APIKeyPrefix); err != nil {
			return nil, err
		}
		u.ID = 0
		err = s.db.CreateUser(ctx, u)
		if !errors.Is(err, db.ErrDuplicateAPIKey) {
			break
		}
	}
	if err != nil {
		return nil, err
	}
	return u, nil
}

// EnsureAdmin creates the bootstrap admin if no user holds username yet.
// It reports whether a user was created.
func (s *Store) EnsureAdmin(ctx context.Context, username, password string) (bool, error) {
	_, err := s.db.GetUserByUsername(ctx, username)
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, model.ErrNotFound) {
		return false, err
	}

	u, err := s.create(ctx, NewUser{Username: username, Password: password, Role: model.RoleAdmin})
	if errors.Is(err, model.ErrDuplicateUsername) {
		// Another instance bootstrapped concurrently.
		return false, nil
	}
	if err != nil {
		return false, err
	}
	s.logger.Info("default admin created", "username", u.Username)
	return true, nil
}

// Verify checks a username and secret.
func (s *Store) Verify(ctx context.Context, username, password string) (*model.User, error) {
	u, err := s.db.GetUserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return nil, model.ErrInvalidCredentials
		}
		return nil, err
	}
	ok, err := s.hasher.Verify(password, u.PasswordHash)
	if err != nil {
		s.logger.Error("password verification failed", "username", username, "error", err)
		return nil, model.ErrInvalidCredentials
	}
	if !ok {
		return nil, model.ErrInvalidCredentials
	}
	return u, nil
}

// Login verifies the credentials and issues an access token.
func (s *Store) Login(ctx context.Context, username, password string) (string, time.Time, error) {
	u, err := s.Verify(ctx, username, password)
	if err != nil {
		s.logger.Warn("login failed", "username", username)
		return "", time.Time{}, err
	}
	return s.tokens.Issue(u)
}

// VerifyAPIKey resolves an API key to its user.
func (s *Store) VerifyAPIKey(ctx context.Context, key string) (*model.User, error) {
	if key == "" {
		return nil, model.ErrInvalidAPIKey
	}
	u, err := s.db.GetUserByAPIKey(ctx, key)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return nil, model.ErrInvalidAPIKey
		}
		return nil, err
	}
	return u, nil
}

// ChangePassword replaces the caller's own secret after checking the current one.
func (s *Store) ChangePassword(ctx context.Context, actor authz.Identity, current, next string) error {
	u, err := s.db.GetUserByID(ctx, actor.UserID)
	if err != nil {
		return err
	}
	if err := authz.Check(actor, authz.ActionChangePassword, authz.Target{UserID: u.ID}); err != nil {
		return err
	}
	if next == "" {
		return fmt.Errorf("%w: new password is required", model.ErrInvalidInput)
	}
	ok, err := s.hasher.Verify(current, u.PasswordHash)
	if err != nil || !ok {
		return model.ErrInvalidCredentials
	}
	hash, err := s.hasher.Hash(next)
	if errors.Is(err, model.ErrInvalidInput) {
		return err
	}
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if err := s.db.UpdateUserPassword(ctx, u.ID, hash); err != nil {
		return err
	}
	s.logger.Info("password changed", "username", u.Username)
	return nil
}

// RegenerateAPIKey issues a fresh key for username. The user's identity and
// grants are unchanged.
func (s *Store) RegenerateAPIKey(ctx context.Context, actor authz.Identity, username string) (string, error) {
	u, err := ResolveSubject(ctx, s.db, actor, authz.ActionRegenerateKey, username)
	if err != nil {
		return "", err
	}
	var key string
	for attempt := 0; attempt < 2; attempt++ {
		if key, err = auth.GenerateAPIKey(s.opts.APIKeyPrefix); err != nil {
			return "", err
		}
		err = s.db.UpdateUserAPIKey(ctx, u.ID, key)
		if !errors.Is(err, db.ErrDuplicateAPIKey) {
			break
		}
	}
	if err != nil {
		return "", err
	}
	s.logger.Info("api key regenerated", "username", u.Username, "by", actor.Username)
	return key, nil
}

// SetRole changes a user's role. Admin only.
func (s *Store) SetRole(ctx context.Context, actor authz.Identity, username string, role model.Role) (*model.User, error) {
	if _, err := model.ParseRole(string(role)); err != nil {
		return nil, err
	}
	u, err := ResolveSubject(ctx, s.db, actor, authz.ActionSetRole, username)
	if err != nil {
		return nil, err
	}
	if err := s.db.UpdateUserRole(ctx, u.ID, role); err != nil {
		return nil, err
	}
	u.Role = role
	s.logger.Info("role changed", "username", u.Username, "role", role, "by", actor.Username)
	return u, nil
}

// Get returns the profile of username (self or admin).
func (s *Store) Get(ctx context.Context, actor authz.Identity, username string) (*model.User, error) {
	return ResolveSubject(ctx, s.db, actor, authz.ActionReadProfile, username)
}

// List returns every user. Admin only.
func (s *Store) List(ctx context.Context, actor authz.Identity) ([]model.User, error) {
	if err := authz.Check(actor, authz.ActionListUsers, authz.Target{}); err != nil {
		return nil, err
	}
	return s.db.ListUsers(ctx)
}

// DeleteUser removes username with all its grants and usage records.
// Admins cannot delete themselves.
func (s *Store) DeleteUser(ctx context.Context, actor authz.Identity, username string) error {
	u, err := ResolveSubject(ctx, s.db, actor, authz.ActionDeleteUser, username)
	if err != nil {
		return err
	}
	revoked, err := s.db.DeleteUser(ctx, u.ID)
	if err != nil {
		return err
	}
	s.logger.Info("user deleted", "username", u.Username, "grants_revoked", revoked, "by", actor.Username)
	return nil
}
