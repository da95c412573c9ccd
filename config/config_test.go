package config

import (
	"testing"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func defaults(t *testing.T) *Config {
	cfg := &Config{}
	require.NoError(t, env.ParseWithOptions(cfg, env.Options{Environment: map[string]string{}}))
	return cfg
}

func TestDefaults(t *testing.T) {
	cfg := defaults(t)
	assert.NoError(t, cfg.Validate())
	assert.Equal(t, 5*time.Minute, cfg.MinInterval())
	assert.Equal(t, time.Hour, cfg.MaxInterval())
	assert.Equal(t, 23, cfg.Monitor.QuietHoursStart)
	assert.Equal(t, 8, cfg.Monitor.QuietHoursEnd)
}

func TestValidate(t *testing.T) {
	cfg := defaults(t)
	cfg.Monitor.MaxIntervalSecs = 10
	assert.Error(t, cfg.Validate())

	cfg = defaults(t)
	cfg.Monitor.QuietHoursStart = 24
	assert.Error(t, cfg.Validate())
}

func TestClampIntervalMinutes(t *testing.T) {
	cfg := defaults(t)
	assert.Equal(t, 20, cfg.ClampIntervalMinutes(0))
	assert.Equal(t, 5, cfg.ClampIntervalMinutes(1))
	assert.Equal(t, 30, cfg.ClampIntervalMinutes(30))
	assert.Equal(t, 60, cfg.ClampIntervalMinutes(600))
}

func TestParseCreds(t *testing.T) {
	cfg := &Config{BasicAuthCreds: "admin:secret, bob : pw"}
	creds, err := cfg.parseCreds()
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"admin": "secret", "bob": "pw"}, creds)

	cfg.BasicAuthCreds = "nocolon"
	_, err = cfg.parseCreds()
	assert.Error(t, err)
}

func TestQuietHoursLocationFallback(t *testing.T) {
	cfg := defaults(t)
	cfg.Monitor.QuietHoursTimezone = "Nowhere/Atlantis"
	assert.Equal(t, time.UTC, cfg.QuietHoursLocation())
}
