package auth

import (
	"context"
	"errors"
	"net/http"

	"blacksheep/internal/authz"
	"blacksheep/internal/model"

	"github.com/gin-gonic/gin"
)

const (
	identityKey = "identity"
	userKey     = "user"
)

// UserLookup loads the current state of a user named by a token.
type UserLookup interface {
	GetUserByID(ctx context.Context, id uint) (*model.User, error)
}

// KeyVerifier resolves an API key to its user.
type KeyVerifier interface {
	VerifyAPIKey(ctx context.Context, key string) (*model.User, error)
}

// JWTAuth authenticates requests carrying "Authorization: Bearer <jwt>".
// The role is re-read from storage so demotions and deletions apply to
// tokens already issued.
func JWTAuth(tokens *TokenIssuer, users UserLookup) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c.Request)
		if token == "" {
			unauthorized(c, "Authorization token is required")
			return
		}

		claimed, err := tokens.Parse(token)
		if err != nil {
			unauthorized(c, "Invalid or expired token")
			return
		}

		user, err := users.GetUserByID(c.Request.Context(), claimed.UserID)
		if err != nil {
			if errors.Is(err, model.ErrNotFound) {
				unauthorized(c, "Invalid or expired token")
				return
			}
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
			return
		}
		if user.Username != claimed.Username {
			unauthorized(c, "Invalid or expired token")
			return
		}

		setUser(c, user)
		c.Next()
	}
}

// APIKeyAuth authenticates requests by user API key, taken from a Bearer
// token or the X-API-Key header.
func APIKeyAuth(keys KeyVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := ExtractAPIKey(c.Request)
		if key == "" {
			unauthorized(c, "API key is required")
			return
		}

		user, err := keys.VerifyAPIKey(c.Request.Context(), key)
		if err != nil {
			if errors.Is(err, model.ErrInvalidAPIKey) {
				unauthorized(c, "Invalid API key")
				return
			}
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
			return
		}

		setUser(c, user)
		c.Next()
	}
}

func unauthorized(c *gin.Context, msg string) {
	c.Header("WWW-Authenticate", `Bearer realm="blacksheep"`)
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": msg})
}

func setUser(c *gin.Context, u *model.User) {
	c.Set(userKey, u)
	SetIdentity(c, authz.IdentityOf(u))
}

// UserFrom returns the user loaded by one of the auth middlewares.
func UserFrom(c *gin.Context) (*model.User, bool) {
	v, ok := c.Get(userKey)
	if !ok {
		return nil, false
	}
	u, ok := v.(*model.User)
	return u, ok
}

// SetIdentity stores the authenticated caller on the gin context.
func SetIdentity(c *gin.Context, id authz.Identity) {
	c.Set(identityKey, id)
}

// IdentityFrom returns the caller stored by one of the auth middlewares.
func IdentityFrom(c *gin.Context) (authz.Identity, bool) {
	v, ok := c.Get(identityKey)
	if !ok {
		return authz.Identity{}, false
	}
	id, ok := v.(authz.Identity)
	return id, ok
}
