package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const secret = "0123456789abcdef0123456789abcdef"

func TestValidateToken(t *testing.T) {
	verifier := NewHMACVerifier(secret)

	t.Run("Valid", func(t *testing.T) {
		token, err := IssueToken(secret, "u1", RoleAdmin, time.Minute)
		require.NoError(t, err)

		claims, err := verifier.ValidateToken(token)
		require.NoError(t, err)
		assert.Equal(t, "u1", claims.UserID)
		assert.True(t, claims.IsAdmin())
	})

	t.Run("Expired", func(t *testing.T) {
		token, err := IssueToken(secret, "u1", "user", -time.Minute)
		require.NoError(t, err)

		_, err = verifier.ValidateToken(token)
		assert.True(t, errors.Is(err, ErrExpiredToken))
	})

	t.Run("WrongSecret", func(t *testing.T) {
		token, err := IssueToken("another-secret-another-secret-xx", "u1", "user", time.Minute)
		require.NoError(t, err)

		_, err = verifier.ValidateToken(token)
		assert.True(t, errors.Is(err, ErrInvalidToken))
	})

	t.Run("Garbage", func(t *testing.T) {
		_, err := verifier.ValidateToken("not-a-token")
		assert.Error(t, err)
	})
}

func TestBearerToken(t *testing.T) {
	token, ok := BearerToken("Bearer abc.def")
	assert.True(t, ok)
	assert.Equal(t, "abc.def", token)

	_, ok = BearerToken("Basic abc")
	assert.False(t, ok)

	_, ok = BearerToken("Bearer ")
	assert.False(t, ok)
}
