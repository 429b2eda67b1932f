package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"blacksheep/internal/model"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"
)

// Supported password hash schemes.
const (
	SchemeBcrypt   = "bcrypt"
	SchemeArgon2id = "argon2id"
)

// bcryptMaxLen is the input length bcrypt rejects past.
const bcryptMaxLen = 72

// Argon2id parameters.
const (
	argon2Time    = 3
	argon2Memory  = 64 * 1024
	argon2Threads = 4
	argon2KeyLen  = 32
	argon2SaltLen = 16
)

var (
	// ErrInvalidHash indicates the stored hash is not in a known format.
	ErrInvalidHash = errors.New("invalid hash format")
	// ErrIncompatibleVersion indicates the argon2 version is not supported.
	ErrIncompatibleVersion = errors.New("incompatible argon2 version")
)

// Hasher hashes and verifies secrets.
type Hasher interface {
	Hash(secret string) (string, error)
	Verify(secret, encoded string) (bool, error)
}

// PasswordHasher hashes with its configured scheme and verifies hashes of
// either scheme, detected from the encoded prefix.
type PasswordHasher struct {
	scheme string
	// BcryptCost defaults to bcrypt.DefaultCost.
	BcryptCost int
}

// NewPasswordHasher returns a hasher for scheme ("bcrypt" or "argon2id").
func NewPasswordHasher(scheme string) (*PasswordHasher, error) {
	switch scheme {
	case SchemeBcrypt, SchemeArgon2id:
		return &PasswordHasher{scheme: scheme, BcryptCost: bcrypt.DefaultCost}, nil
	default:
		return nil, fmt.Errorf("unsupported password hash scheme: %s", scheme)
	}
}

func (h *PasswordHasher) Hash(secret string) (string, error) {
	if h.scheme == SchemeArgon2id {
		return hashArgon2id(secret)
	}
	if len(secret) > bcryptMaxLen {
		return "", fmt.Errorf("%w: password must be at most %d bytes", model.ErrInvalidInput, bcryptMaxLen)
	}
	b, err := bcrypt.GenerateFromPassword([]byte(secret), h.BcryptCost)
	if err != nil {
		return "", fmt.Errorf("bcrypt hash: %w", err)
	}
	return string(b), nil
}

func (h *PasswordHasher) Verify(secret, encoded string) (bool, error) {
	switch {
	case strings.HasPrefix(encoded, "$argon2id$"):
		return verifyArgon2id(secret, encoded)
	case strings.HasPrefix(encoded, "$2a$"), strings.HasPrefix(encoded, "$2b$"), strings.HasPrefix(encoded, "$2y$"):
		err := bcrypt.CompareHashAndPassword([]byte(encoded), []byte(secret))
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		return true, nil
	default:
		return false, ErrInvalidHash
	}
}

// hashArgon2id encodes in PHC format: $argon2id$v=19$m=65536,t=3,p=4$<salt>$<hash>
func hashArgon2id(secret string) (string, error) {
	salt := make([]byte, argon2SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	hash := argon2.IDKey([]byte(secret), salt, argon2Time, argon2Memory, argon2Threads, argon2KeyLen)
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, argon2Memory, argon2Time, argon2Threads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(hash),
	), nil
}

func verifyArgon2id(secret, encoded string) (bool, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return false, ErrInvalidHash
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return false, ErrInvalidHash
	}
	if version != argon2.Version {
		return false, ErrIncompatibleVersion
	}

	var memory, iterations uint32
	var threads uint8
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &iterations, &threads); err != nil {
		return false, ErrInvalidHash
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false, ErrInvalidHash
	}
	expected, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return false, ErrInvalidHash
	}

	computed := argon2.IDKey([]byte(secret), salt, iterations, memory, threads, uint32(len(expected)))
	return subtle.ConstantTimeCompare(computed, expected) == 1, nil
}
