package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/tradeforge/stream-gateway/internal/domain"
)

// Validator validates self-contained signed tokens (HS256 with a shared
// secret). Signature, algorithm, expiry, and not-before are all enforced;
// a subject claim is mandatory.
type Validator struct {
	secret            []byte
	issuer            string
	audience          string
	requireAccessType bool
	clock             domain.Clock
}

// ValidatorConfig holds configuration for creating a Validator.
type ValidatorConfig struct {
	// Secret is the shared HMAC signing secret.
	Secret string

	// Issuer and Audience are enforced when non-empty.
	Issuer   string
	Audience string

	// RequireAccessType enforces a `type: access` claim.
	RequireAccessType bool

	Clock domain.Clock
}

// NewValidator creates a new token validator.
func NewValidator(cfg ValidatorConfig) *Validator {
	clock := cfg.Clock
	if clock == nil {
		clock = domain.RealClock{}
	}
	return &Validator{
		secret:            []byte(cfg.Secret),
		issuer:            cfg.Issuer,
		audience:          cfg.Audience,
		requireAccessType: cfg.RequireAccessType,
		clock:             clock,
	}
}

// Validate parses and fully validates a token, returning the identity it
// carries. All failures map to domain sentinel errors so callers can
// translate them to stable wire codes with errors.Is.
func (v *Validator) Validate(tokenString string) (domain.Identity, error) {
	if tokenString == "" {
		return domain.Identity{}, domain.ErrMissingToken
	}

	var claims Claims

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithTimeFunc(v.clock.Now),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	if v.audience != "" {
		opts = append(opts, jwt.WithAudience(v.audience))
	}

	_, err := jwt.ParseWithClaims(tokenString, &claims, v.keyFunc, opts...)
	if err != nil {
		return domain.Identity{}, classifyTokenError(err)
	}

	// A token without a subject authenticates nobody.
	if claims.Subject == "" {
		return domain.Identity{}, fmt.Errorf("missing sub claim: %w", domain.ErrInvalidToken)
	}

	if v.requireAccessType && claims.TokenType != TokenTypeAccess {
		return domain.Identity{}, fmt.Errorf("token type %q: %w", claims.TokenType, domain.ErrInvalidToken)
	}

	identity := domain.Identity{
		UserID: claims.Subject,
		Name:   claims.Name,
		Admin:  claims.Admin,
		Tier:   domain.Tier(claims.Tier),
	}
	if claims.ExpiresAt != nil {
		identity.ExpiresAt = claims.ExpiresAt.Time
	}

	return identity, nil
}

func (v *Validator) keyFunc(token *jwt.Token) (any, error) {
	if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
		return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
	}
	return v.secret, nil
}

// classifyTokenError maps JWT library errors onto domain sentinels.
// Expiry and not-before get distinct codes; everything else is generic,
// so a forged token never learns which check it failed.
func classifyTokenError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return fmt.Errorf("%w: %w", domain.ErrTokenExpired, err)
	case errors.Is(err, jwt.ErrTokenNotValidYet), errors.Is(err, jwt.ErrTokenUsedBeforeIssued):
		return fmt.Errorf("%w: %w", domain.ErrTokenNotBefore, err)
	default:
		return fmt.Errorf("%w: %w", domain.ErrInvalidToken, err)
	}
}

// Remaining returns how long until the identity's credential expires at the
// validator's current clock reading. Negative when already expired.
func (v *Validator) Remaining(id domain.Identity) time.Duration {
	return id.ExpiresAt.Sub(v.clock.Now())
}
