package auth_test

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tradeforge/stream-gateway/internal/auth"
)

func TestExtractToken(t *testing.T) {
	tests := []struct {
		name       string
		explicit   string
		query      string
		authHeader string
		want       string
	}{
		{"explicit field wins over everything", "tok-explicit", "tok-query", "Bearer tok-header", "tok-explicit"},
		{"query wins over header", "", "tok-query", "Bearer tok-header", "tok-query"},
		{"bearer header as last resort", "", "", "Bearer tok-header", "tok-header"},
		{"lowercase bearer prefix accepted", "", "", "bearer tok-header", "tok-header"},
		{"mixed-case bearer prefix accepted", "", "", "BeArEr tok-header", "tok-header"},
		{"non-bearer header ignored", "", "", "Basic dXNlcjpwYXNz", ""},
		{"bare bearer prefix yields nothing", "", "", "Bearer ", ""},
		{"nothing supplied", "", "", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := auth.ExtractToken(tt.explicit, tt.query, tt.authHeader)

			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCredentialFromRequest(t *testing.T) {
	t.Run("token from query", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/ws?token=tok-1", nil)

		cred := auth.CredentialFromRequest(r)

		assert.Equal(t, "tok-1", cred.Token)
		assert.True(t, cred.SessionID == "")
	})

	t.Run("token from authorization header", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/ws", nil)
		r.Header.Set("Authorization", "Bearer tok-2")

		cred := auth.CredentialFromRequest(r)

		assert.Equal(t, "tok-2", cred.Token)
	})

	t.Run("session variant fields", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/ws?sessionId=sess-1&userId=u1", nil)

		cred := auth.CredentialFromRequest(r)

		assert.Empty(t, cred.Token)
		assert.Equal(t, "sess-1", cred.SessionID)
		assert.Equal(t, "u1", cred.UserID)
	})
}
