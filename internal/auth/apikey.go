package auth

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"
)

// apiKeySecretBytes is the entropy of a generated key (hex encoded to 48 chars).
const apiKeySecretBytes = 24

// GenerateAPIKey returns a new random key of the form <prefix>_<hex>.
func GenerateAPIKey(prefix string) (string, error) {
	secret := make([]byte, apiKeySecretBytes)
	if _, err := rand.Read(secret); err != nil {
		return "", fmt.Errorf("generate api key: %w", err)
	}
	if prefix == "" {
		return hex.EncodeToString(secret), nil
	}
	return prefix + "_" + hex.EncodeToString(secret), nil
}

// ExtractAPIKey reads a key from "Authorization: Bearer <key>" or X-API-Key.
func ExtractAPIKey(r *http.Request) string {
	if token := bearerToken(r); token != "" {
		return token
	}
	return strings.TrimSpace(r.Header.Get("X-API-Key"))
}

func bearerToken(r *http.Request) string {
	parts := strings.Fields(r.Header.Get("Authorization"))
	if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
		return parts[1]
	}
	return ""
}
