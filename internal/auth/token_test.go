package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/ticket-desk/internal/domain"
)

func TestTokenRoundTrip(t *testing.T) {
	tm := NewTokenManager("secret", time.Hour)
	user := domain.User{ID: "u-1", Name: "Ana", Email: "ana@empresa.com"}

	token, exp, err := tm.GenerateToken(user)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), exp, 5*time.Second)

	claims, err := tm.ParseToken(token)
	require.NoError(t, err)
	assert.Equal(t, "u-1", claims.Subject)
	assert.Equal(t, "ana@empresa.com", claims.Email)
	assert.Equal(t, "Ana", claims.Name)
}

func TestParseTokenRejectsExpiredAndForeign(t *testing.T) {
	issuer := NewTokenManager("secret", time.Minute)
	issuer.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	expired, _, err := issuer.GenerateToken(domain.User{ID: "u-1"})
	require.NoError(t, err)

	tm := NewTokenManager("secret", time.Minute)
	_, err = tm.ParseToken(expired)
	assert.Error(t, err)

	other := NewTokenManager("other-secret", time.Minute)
	foreign, _, err := other.GenerateToken(domain.User{ID: "u-1"})
	require.NoError(t, err)
	_, err = tm.ParseToken(foreign)
	assert.Error(t, err)
}

func TestPasswordHashing(t *testing.T) {
	h := NewPasswordHasher(1)
	hash, err := h.Hash("s3cret-pass")
	require.NoError(t, err)
	assert.True(t, h.Verify(hash, "s3cret-pass"))
	assert.False(t, h.Verify(hash, "wrong"))
	assert.False(t, h.Verify("", "s3cret-pass"))
}
