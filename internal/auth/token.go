package auth

import (
	"fmt"
	"time"

	"blacksheep/internal/authz"
	"blacksheep/internal/model"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Claims is the JWT payload. Subject carries the username.
type Claims struct {
	UserID uint       `json:"uid"`
	Role   model.Role `json:"role"`
	jwt.RegisteredClaims
}

// TokenIssuer issues and verifies HS256 access tokens.
type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewTokenIssuer(secret string, ttl time.Duration) *TokenIssuer {
	return &TokenIssuer{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// Issue signs a token for u and returns it with its expiry.
func (t *TokenIssuer) Issue(u *model.User) (string, time.Time, error) {
	now := t.now()
	exp := now.Add(t.ttl)
	claims := Claims{
		UserID: u.ID,
		Role:   u.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.Username,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, exp, nil
}

// Parse verifies the token and returns the identity it carries. Every
// failure is reported as model.ErrInvalidToken.
func (t *TokenIssuer) Parse(token string) (authz.Identity, error) {
	var claims Claims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (interface{}, error) {
		return t.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(t.now), jwt.WithExpirationRequired())
	if err != nil || !parsed.Valid || claims.Subject == "" || claims.UserID == 0 {
		return authz.Identity{}, model.ErrInvalidToken
	}
	return authz.Identity{UserID: claims.UserID, Username: claims.Subject, Role: claims.Role}, nil
}
