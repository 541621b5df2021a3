package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/tradeforge/stream-gateway/internal/domain"
)

// MintResult holds the result of minting an access token.
type MintResult struct {
	Token     string
	JTI       string
	ExpiresAt time.Time
}

// Minter creates signed HS256 access tokens. Production credentials are
// minted by the account service; this minter backs ops tooling and tests.
type Minter struct {
	secret    []byte
	accessTTL time.Duration
	issuer    string
	audience  string
	clock     domain.Clock
}

// MinterConfig holds configuration for creating a Minter.
type MinterConfig struct {
	Secret    string
	AccessTTL time.Duration
	Issuer    string
	Audience  string
	Clock     domain.Clock
}

// NewMinter creates a new token minter.
func NewMinter(cfg MinterConfig) *Minter {
	clock := cfg.Clock
	if clock == nil {
		clock = domain.RealClock{}
	}
	return &Minter{
		secret:    []byte(cfg.Secret),
		accessTTL: cfg.AccessTTL,
		issuer:    cfg.Issuer,
		audience:  cfg.Audience,
		clock:     clock,
	}
}

// MintAccessToken creates a signed access token for the given identity.
// A negative ttl override produces an already-expired token (test use).
func (m *Minter) MintAccessToken(identity domain.Identity, ttlOverride ...time.Duration) (MintResult, error) {
	ttl := m.accessTTL
	if len(ttlOverride) > 0 {
		ttl = ttlOverride[0]
	}

	now := m.clock.Now().UTC()
	jti := uuid.NewString()
	expiresAt := now.Add(ttl)

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identity.UserID,
			Issuer:    m.issuer,
			Audience:  jwt.ClaimStrings{m.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			ID:        jti,
		},
		TokenType: TokenTypeAccess,
		Name:      identity.Name,
		Admin:     identity.Admin,
		Tier:      string(identity.Tier),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, &claims)

	signed, err := token.SignedString(m.secret)
	if err != nil {
		return MintResult{}, fmt.Errorf("sign access token: %w", err)
	}

	return MintResult{Token: signed, JTI: jti, ExpiresAt: expiresAt}, nil
}
