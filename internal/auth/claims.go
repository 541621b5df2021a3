package auth

import "github.com/golang-jwt/jwt/v5"

// TokenTypeAccess is the required token-type claim value when the validator
// is configured to enforce it.
const TokenTypeAccess = "access"

// Claims represents the JWT claims carried by gateway access tokens.
type Claims struct {
	jwt.RegisteredClaims
	TokenType string `json:"type,omitempty"`
	Name      string `json:"name,omitempty"`
	Admin     bool   `json:"admin,omitempty"`
	Tier      string `json:"tier,omitempty"`
}
