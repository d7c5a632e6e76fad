package authentication

import (
	"testing"
	"time"

	"loudfits/internal/auth"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"
)

func TestFromToken(t *testing.T) {
	token, err := auth.IssueToken("any-secret-the-cli-never-sees-0123", "u42", "admin", time.Hour)
	require.NoError(t, err)

	creds, err := FromToken(token)
	require.NoError(t, err)
	assert.Equal(t, "u42", creds.UserID)
	assert.True(t, creds.IsAdmin())
	assert.False(t, creds.Expired(time.Now()))
	assert.True(t, creds.Expired(time.Now().Add(2*time.Hour)))

	_, err = FromToken("not-a-jwt")
	assert.Error(t, err)
}

func TestStoreRoundTrip(t *testing.T) {
	keyring.MockInit()

	_, err := GetTokens()
	assert.ErrorIs(t, err, ErrNoCredentials)

	require.NoError(t, StoreTokens(&StoredCredentials{AccessToken: "tok", UserID: "u1", Role: "customer"}))
	creds, err := GetTokens()
	require.NoError(t, err)
	assert.Equal(t, "tok", creds.AccessToken)
	assert.False(t, creds.IsAdmin())

	require.NoError(t, DeleteTokens())
	require.NoError(t, DeleteTokens())
	_, err = GetTokens()
	assert.ErrorIs(t, err, ErrNoCredentials)
}
