// Package auth validates the two credential shapes a connecting client may
// present: a server-side session looked up by ID, or a self-contained signed
// token. Both resolve to the same contract - a validated domain.Identity or
// a domain sentinel error.
package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/tradeforge/stream-gateway/internal/domain"
)

// Credential is the tagged credential variant presented at handshake.
// Exactly one shape is attempted: the token variant when Token is set,
// otherwise the session variant. UserID is an optional expected-identity
// hint for the session variant.
type Credential struct {
	Token     string
	SessionID string
	UserID    string
}

// IsZero reports whether no credential material was supplied at all.
func (c Credential) IsZero() bool {
	return c.Token == "" && c.SessionID == ""
}

// SessionRecord is a server-side session with its embedded identity,
// as persisted by the session store.
type SessionRecord struct {
	SessionID string
	UserID    string
	Name      string
	Admin     bool
	Tier      string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// SessionStore looks up sessions by ID. Implementations return
// domain.ErrNotFound when no session exists for the given ID.
type SessionStore interface {
	GetByID(ctx context.Context, sessionID string) (*SessionRecord, error)
}

// Result of a successful gate validation.
type Result struct {
	Identity      domain.Identity
	Authenticated bool

	// SessionID is set for the session variant only.
	SessionID string
}

// Gate intercepts every new connection before any handler runs and
// resolves the presented credential to an identity.
type Gate struct {
	validator      *Validator
	sessions       SessionStore
	allowAnonymous bool
	clock          domain.Clock
}

// GateConfig holds configuration for creating a Gate.
type GateConfig struct {
	Validator *Validator
	Sessions  SessionStore

	// AllowAnonymous permits connections presenting no credential;
	// they carry no identity and stay unauthenticated.
	AllowAnonymous bool

	Clock domain.Clock
}

// NewGate creates an authentication gate.
func NewGate(cfg GateConfig) *Gate {
	clock := cfg.Clock
	if clock == nil {
		clock = domain.RealClock{}
	}
	return &Gate{
		validator:      cfg.Validator,
		sessions:       cfg.Sessions,
		allowAnonymous: cfg.AllowAnonymous,
		clock:          clock,
	}
}

// Validate resolves the credential to an identity. Variant selection is by
// which field is present, never by caller type: a token attempts the signed
// token path, a session ID the store lookup path.
func (g *Gate) Validate(ctx context.Context, cred Credential) (Result, error) {
	switch {
	case cred.Token != "":
		return g.validateToken(cred.Token)

	case cred.SessionID != "":
		return g.validateSession(ctx, cred)

	case g.allowAnonymous:
		return Result{}, nil

	case cred.UserID != "":
		// The client clearly attempted the session variant.
		return Result{}, domain.ErrNoSessionID

	default:
		return Result{}, domain.ErrMissingToken
	}
}

func (g *Gate) validateToken(token string) (Result, error) {
	identity, err := g.validator.Validate(token)
	if err != nil {
		return Result{}, err
	}
	return Result{Identity: identity, Authenticated: true}, nil
}

func (g *Gate) validateSession(ctx context.Context, cred Credential) (Result, error) {
	rec, err := g.sessions.GetByID(ctx, cred.SessionID)
	if err != nil {
		if domain.IsNotFound(err) {
			return Result{}, domain.ErrInvalidSession
		}
		return Result{}, fmt.Errorf("%w: session lookup: %w", domain.ErrDatabase, err)
	}

	if !rec.ExpiresAt.IsZero() && !g.clock.Now().Before(rec.ExpiresAt) {
		return Result{}, domain.ErrSessionExpired
	}

	if rec.UserID == "" {
		return Result{}, domain.ErrNoUserData
	}

	if cred.UserID != "" && cred.UserID != rec.UserID {
		return Result{}, domain.ErrUserMismatch
	}

	return Result{
		Identity: domain.Identity{
			UserID:    rec.UserID,
			Name:      rec.Name,
			Admin:     rec.Admin,
			Tier:      domain.Tier(rec.Tier),
			ExpiresAt: rec.ExpiresAt,
		},
		Authenticated: true,
		SessionID:     rec.SessionID,
	}, nil
}

// Reauthenticate re-verifies a replacement token for an already connected
// identity. Only when the new subject matches the existing identity is the
// swapped expiry returned; any mismatch or invalid token is an error, and
// the caller must force-disconnect - continuing with an untrusted identity
// is unsafe.
func (g *Gate) Reauthenticate(current domain.Identity, token string) (time.Time, error) {
	identity, err := g.validator.Validate(token)
	if err != nil {
		return time.Time{}, err
	}
	if identity.UserID != current.UserID {
		return time.Time{}, fmt.Errorf("reauth subject %q: %w", identity.UserID, domain.ErrUserMismatch)
	}
	return identity.ExpiresAt, nil
}
