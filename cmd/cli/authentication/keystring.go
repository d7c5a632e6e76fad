package authentication

// keystring.go keeps the bearer token in the OS keyring, on the client side.
import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"loudfits/internal/auth"

	"github.com/golang-jwt/jwt/v5"
	"github.com/zalando/go-keyring"
)

const (
	serviceName = "loudfits-cli"
	tokenKey    = "auth_tokens"
)

var ErrNoCredentials = errors.New("no stored credentials, run `loudfits auth set-token` first")

type StoredCredentials struct {
	AccessToken string `json:"access_token"`
	UserID      string `json:"user_id"`
	Role        string `json:"role"`
	ExpiresAt   int64  `json:"expires_at"`
}

// Expired reports whether the token carried an exp claim in the past
func (c *StoredCredentials) Expired(now time.Time) bool {
	return c.ExpiresAt > 0 && now.Unix() >= c.ExpiresAt
}

func (c *StoredCredentials) IsAdmin() bool {
	claims := auth.Claims{Role: c.Role}
	return claims.IsAdmin()
}

// FromToken reads identity claims out of the token without checking the
// signature; the server is the one that verifies it.
func FromToken(token string) (*StoredCredentials, error) {
	var claims auth.Claims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return nil, fmt.Errorf("malformed token: %w", err)
	}
	creds := &StoredCredentials{
		AccessToken: token,
		UserID:      claims.UserID,
		Role:        claims.Role,
	}
	if creds.UserID == "" {
		creds.UserID = claims.Subject
	}
	if claims.ExpiresAt != nil {
		creds.ExpiresAt = claims.ExpiresAt.Unix()
	}
	return creds, nil
}

func StoreTokens(creds *StoredCredentials) error {
	data, err := json.Marshal(creds)
	if err != nil {
		return err
	}
	return keyring.Set(serviceName, tokenKey, string(data))
}

func GetTokens() (*StoredCredentials, error) {
	value, err := keyring.Get(serviceName, tokenKey)
	if errors.Is(err, keyring.ErrNotFound) {
		return nil, ErrNoCredentials
	}
	if err != nil {
		return nil, err
	}

	var creds StoredCredentials
	if err := json.Unmarshal([]byte(value), &creds); err != nil {
		return nil, err
	}
	return &creds, nil
}

func DeleteTokens() error {
	err := keyring.Delete(serviceName, tokenKey)
	if errors.Is(err, keyring.ErrNotFound) {
		return nil
	}
	return err
}
