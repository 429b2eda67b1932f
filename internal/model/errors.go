package model

import "errors"

// Errors surfaced by the core components. Callers match them with errors.Is.
var (
	ErrDuplicateUsername   = errors.New("username already exists")
	ErrDuplicateModelName  = errors.New("model name already exists")
	ErrInvalidCredentials  = errors.New("invalid username or password")
	ErrInvalidAPIKey       = errors.New("invalid API key")
	ErrInvalidToken        = errors.New("invalid or expired token")
	ErrForbidden           = errors.New("not enough permissions")
	ErrNotFound            = errors.New("not found")
	ErrLimitExceeded       = errors.New("usage limit exceeded")
	ErrConflictingGrant    = errors.New("conflicting access grant")
	ErrInvalidInput        = errors.New("invalid input")
	ErrUnsupportedProvider = errors.New("unsupported provider")
	ErrProviderFailure     = errors.New("provider call failed")
	ErrRateLimited         = errors.New("too many requests")
)
