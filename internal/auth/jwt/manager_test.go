package jwt

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestManager_TokenPair(t *testing.T) {
	m := NewManager(testSecret, "test", 15*time.Minute, 7*24*time.Hour)

	pair, err := m.GenerateTokenPair("owner@example.com")
	require.NoError(t, err)
	assert.Equal(t, int64(15*60), pair.ExpiresIn)

	claims, err := m.ValidateAccessToken(pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "owner@example.com", claims.Identity)
	assert.Equal(t, TokenTypeAccess, claims.TokenType)

	_, err = m.ValidateAccessToken(pair.RefreshToken)
	assert.ErrorIs(t, err, ErrInvalidToken, "refresh token must not authenticate requests")
}

func TestManager_Refresh(t *testing.T) {
	m := NewManager(testSecret, "test", 15*time.Minute, 7*24*time.Hour)
	pair, err := m.GenerateTokenPair("owner@example.com")
	require.NoError(t, err)

	refreshed, err := m.RefreshAccessToken(pair.RefreshToken)
	require.NoError(t, err)
	claims, err := m.ValidateAccessToken(refreshed.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "owner@example.com", claims.Identity)

	_, err = m.RefreshAccessToken(pair.AccessToken)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestManager_Invalid(t *testing.T) {
	m := NewManager(testSecret, "test", 15*time.Minute, time.Hour)

	t.Run("格式错误", func(t *testing.T) {
		_, err := m.ValidateAccessToken("not-a-token")
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("密钥不同", func(t *testing.T) {
		other := NewManager("another-secret-another-secret-xx", "test", 15*time.Minute, time.Hour)
		pair, err := other.GenerateTokenPair("owner@example.com")
		require.NoError(t, err)
		_, err = m.ValidateAccessToken(pair.AccessToken)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("签发者不同", func(t *testing.T) {
		other := NewManager(testSecret, "elsewhere", 15*time.Minute, time.Hour)
		pair, err := other.GenerateTokenPair("owner@example.com")
		require.NoError(t, err)
		_, err = m.ValidateAccessToken(pair.AccessToken)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("已过期", func(t *testing.T) {
		past := NewManager(testSecret, "test", time.Minute, time.Hour)
		past.now = func() time.Time { return time.Now().Add(-time.Hour) }
		pair, err := past.GenerateTokenPair("owner@example.com")
		require.NoError(t, err)
		_, err = m.ValidateAccessToken(pair.AccessToken)
		assert.ErrorIs(t, err, ErrExpiredToken)
	})
}
