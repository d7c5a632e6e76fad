package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("JWT_SECRET", testSecret)

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.HTTPPort)
	assert.Equal(t, "/ws", cfg.WSPath)
	assert.Equal(t, 60*time.Second, cfg.WSPongWait)
	assert.False(t, cfg.TrustClientIdentity)
	assert.True(t, cfg.IsDevelopment())
	assert.NoError(t, cfg.Validate())
}

func TestLoadConfigRequiresSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "placeholder")
	require.NoError(t, os.Unsetenv("JWT_SECRET"))

	_, err := LoadConfig()
	assert.Error(t, err)
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("JWT_SECRET", testSecret)
	t.Setenv("HTTP_PORT", "9090")
	t.Setenv("CORS_ORIGINS", "https://loudfits.shop, https://admin.loudfits.shop")
	t.Setenv("WS_IDLE_TIMEOUT", "90s")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.HTTPPort)
	assert.Equal(t, []string{"https://loudfits.shop", "https://admin.loudfits.shop"}, cfg.CORSOrigins)
	assert.Equal(t, 90*time.Second, cfg.WSIdleTimeout)
}

func TestLoadConfigRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"short secret", "JWT_SECRET", "short"},
		{"empty send buffer", "WS_SEND_BUFFER", "0"},
		{"unknown log level", "LOG_LEVEL", "bogus"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("JWT_SECRET", testSecret)
			t.Setenv(tt.key, tt.value)

			cfg, err := LoadConfig()
			assert.Error(t, err)
			assert.Nil(t, cfg)
		})
	}
}

func TestValidateCollectsErrors(t *testing.T) {
	cfg := &Config{
		HTTPPort:         0,
		LogLevel:         "loud",
		LogFormat:        "xml",
		JWTSecret:        "short",
		WSPath:           "ws",
		WSSendBuffer:     1,
		WSMaxMessageSize: 4096,
		WSPongWait:       time.Second,
		WSWriteWait:      time.Second,
		HistoryLimit:     10,
	}

	err := cfg.Validate()
	require.Error(t, err)
	for _, fragment := range []string{"HTTP_PORT", "LOG_LEVEL", "LOG_FORMAT", "JWT_SECRET", "WS_PATH"} {
		assert.Contains(t, err.Error(), fragment)
	}
}

func TestLoadClientConfig(t *testing.T) {
	t.Setenv("LOUDFITS_RECONNECT_MAX_ATTEMPTS", "10")
	t.Setenv("LOUDFITS_RECONNECT_BASE_DELAY", "3s")

	cfg, err := LoadClientConfig()
	require.NoError(t, err)

	assert.Equal(t, 10, cfg.ReconnectMaxAttempts)
	assert.Equal(t, 3*time.Second, cfg.ReconnectBaseDelay)
	assert.Equal(t, 30*time.Second, cfg.ReconnectCapDelay)
	assert.Equal(t, 100, cfg.NotificationLimit)
}

func TestClientConfigRejectsInvertedDelays(t *testing.T) {
	cfg := &ClientConfig{
		ReconnectBaseDelay: 10 * time.Second,
		ReconnectCapDelay:  time.Second,
		PingInterval:       time.Second,
		NotificationLimit:  100,
	}
	assert.ErrorContains(t, cfg.Validate(), "RECONNECT_CAP_DELAY")
}
