package auth_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradeforge/stream-gateway/internal/auth"
	"github.com/tradeforge/stream-gateway/internal/domain"
	"github.com/tradeforge/stream-gateway/internal/domain/domaintest"
)

// fakeSessionStore is an in-memory SessionStore for gate tests.
type fakeSessionStore struct {
	sessions map[string]*auth.SessionRecord
	err      error
}

func (f *fakeSessionStore) GetByID(_ context.Context, sessionID string) (*auth.SessionRecord, error) {
	if f.err != nil {
		return nil, f.err
	}
	rec, ok := f.sessions[sessionID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return rec, nil
}

func newGate(clock *domaintest.FakeClock, store auth.SessionStore, anonymous bool) *auth.Gate {
	return auth.NewGate(auth.GateConfig{
		Validator:      newValidator(clock),
		Sessions:       store,
		AllowAnonymous: anonymous,
		Clock:          clock,
	})
}

func TestGate_ValidateToken(t *testing.T) {
	clock := testClock()
	gate := newGate(clock, &fakeSessionStore{}, false)

	t.Run("valid token attaches identity", func(t *testing.T) {
		minted, err := newMinter(clock).MintAccessToken(domain.Identity{UserID: "user-42", Tier: domain.TierPro})
		require.NoError(t, err)

		res, err := gate.Validate(context.Background(), auth.Credential{Token: minted.Token})

		require.NoError(t, err)
		assert.True(t, res.Authenticated)
		assert.Equal(t, "user-42", res.Identity.UserID)
		assert.Empty(t, res.SessionID)
	})

	t.Run("expired token rejected with ErrTokenExpired", func(t *testing.T) {
		minted, err := newMinter(clock).MintAccessToken(domain.Identity{UserID: "user-42"}, -1*time.Hour)
		require.NoError(t, err)

		_, err = gate.Validate(context.Background(), auth.Credential{Token: minted.Token})

		assert.ErrorIs(t, err, domain.ErrTokenExpired)
	})

	t.Run("token takes precedence over session fields", func(t *testing.T) {
		minted, err := newMinter(clock).MintAccessToken(domain.Identity{UserID: "user-42"})
		require.NoError(t, err)

		res, err := gate.Validate(context.Background(), auth.Credential{
			Token:     minted.Token,
			SessionID: "sess-unknown",
		})

		require.NoError(t, err)
		assert.Equal(t, "user-42", res.Identity.UserID)
	})
}

func TestGate_ValidateSession(t *testing.T) {
	clock := testClock()
	store := &fakeSessionStore{sessions: map[string]*auth.SessionRecord{
		"sess-1": {
			SessionID: "sess-1",
			UserID:    "u1",
			Name:      "Grace",
			Tier:      "basic",
			ExpiresAt: clock.Now().Add(24 * time.Hour),
		},
		"sess-empty": {
			SessionID: "sess-empty",
			ExpiresAt: clock.Now().Add(24 * time.Hour),
		},
		"sess-stale": {
			SessionID: "sess-stale",
			UserID:    "u1",
			ExpiresAt: clock.Now().Add(-1 * time.Minute),
		},
	}}
	gate := newGate(clock, store, false)

	t.Run("valid session attaches identity and session id", func(t *testing.T) {
		res, err := gate.Validate(context.Background(), auth.Credential{SessionID: "sess-1"})

		require.NoError(t, err)
		assert.True(t, res.Authenticated)
		assert.Equal(t, "u1", res.Identity.UserID)
		assert.Equal(t, "Grace", res.Identity.Name)
		assert.Equal(t, domain.TierBasic, res.Identity.Tier)
		assert.Equal(t, "sess-1", res.SessionID)
	})

	t.Run("unknown session rejected with ErrInvalidSession", func(t *testing.T) {
		_, err := gate.Validate(context.Background(), auth.Credential{SessionID: "sess-missing"})

		assert.ErrorIs(t, err, domain.ErrInvalidSession)
	})

	t.Run("expired session rejected with ErrSessionExpired", func(t *testing.T) {
		_, err := gate.Validate(context.Background(), auth.Credential{SessionID: "sess-stale"})

		assert.ErrorIs(t, err, domain.ErrSessionExpired)
	})

	t.Run("session without user data rejected with ErrNoUserData", func(t *testing.T) {
		_, err := gate.Validate(context.Background(), auth.Credential{SessionID: "sess-empty"})

		assert.ErrorIs(t, err, domain.ErrNoUserData)
	})

	t.Run("expected-identity hint mismatch rejected", func(t *testing.T) {
		_, err := gate.Validate(context.Background(), auth.Credential{SessionID: "sess-1", UserID: "u2"})

		assert.ErrorIs(t, err, domain.ErrUserMismatch)
	})

	t.Run("matching hint accepted", func(t *testing.T) {
		_, err := gate.Validate(context.Background(), auth.Credential{SessionID: "sess-1", UserID: "u1"})

		assert.NoError(t, err)
	})

	t.Run("store failure rejected with ErrDatabase", func(t *testing.T) {
		broken := &fakeSessionStore{err: errors.New("connection refused")}
		_, err := newGate(clock, broken, false).Validate(context.Background(), auth.Credential{SessionID: "sess-1"})

		assert.ErrorIs(t, err, domain.ErrDatabase)
	})
}

func TestGate_ValidateNoCredential(t *testing.T) {
	clock := testClock()

	t.Run("rejected by default", func(t *testing.T) {
		_, err := newGate(clock, &fakeSessionStore{}, false).Validate(context.Background(), auth.Credential{})

		assert.ErrorIs(t, err, domain.ErrMissingToken)
	})

	t.Run("user hint without session id rejected with ErrNoSessionID", func(t *testing.T) {
		_, err := newGate(clock, &fakeSessionStore{}, false).Validate(context.Background(), auth.Credential{UserID: "u1"})

		assert.ErrorIs(t, err, domain.ErrNoSessionID)
	})

	t.Run("allowed when anonymous access enabled", func(t *testing.T) {
		res, err := newGate(clock, &fakeSessionStore{}, true).Validate(context.Background(), auth.Credential{})

		require.NoError(t, err)
		assert.False(t, res.Authenticated)
		assert.Empty(t, res.Identity.UserID)
	})
}

func TestGate_Reauthenticate(t *testing.T) {
	clock := testClock()
	gate := newGate(clock, &fakeSessionStore{}, false)
	current := domain.Identity{UserID: "user-42", ExpiresAt: clock.Now().Add(10 * time.Minute)}

	t.Run("matching subject swaps expiry", func(t *testing.T) {
		minted, err := newMinter(clock).MintAccessToken(domain.Identity{UserID: "user-42"})
		require.NoError(t, err)

		expiry, err := gate.Reauthenticate(current, minted.Token)

		require.NoError(t, err)
		assert.Equal(t, minted.ExpiresAt.Unix(), expiry.Unix())
	})

	t.Run("subject mismatch rejected", func(t *testing.T) {
		minted, err := newMinter(clock).MintAccessToken(domain.Identity{UserID: "user-1337"})
		require.NoError(t, err)

		_, err = gate.Reauthenticate(current, minted.Token)

		assert.ErrorIs(t, err, domain.ErrUserMismatch)
	})

	t.Run("invalid replacement token rejected", func(t *testing.T) {
		_, err := gate.Reauthenticate(current, "garbage")

		assert.ErrorIs(t, err, domain.ErrInvalidToken)
	})
}
