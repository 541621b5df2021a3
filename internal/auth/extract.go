package auth

import (
	"net/http"
	"strings"
)

const bearerPrefix = "bearer "

// ExtractToken resolves a token from the three places clients may supply it,
// with fixed precedence: explicit field, then query parameter, then
// Authorization header ("Bearer <token>", case-insensitive prefix).
// Returns "" when no token is present anywhere.
func ExtractToken(explicit, query, authHeader string) string {
	if explicit != "" {
		return explicit
	}
	if query != "" {
		return query
	}
	if len(authHeader) > len(bearerPrefix) &&
		strings.EqualFold(authHeader[:len(bearerPrefix)], bearerPrefix) {
		return strings.TrimSpace(authHeader[len(bearerPrefix):])
	}
	return ""
}

// CredentialFromRequest assembles the handshake credential from an HTTP
// upgrade request. Which variant is attempted is selected by which fields
// are present, token taking precedence over session.
func CredentialFromRequest(r *http.Request) Credential {
	q := r.URL.Query()
	return Credential{
		Token:     ExtractToken("", q.Get("token"), r.Header.Get("Authorization")),
		SessionID: q.Get("sessionId"),
		UserID:    q.Get("userId"),
	}
}
