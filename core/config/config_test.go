package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadTelegramDefaults(t *testing.T) {
	path := writeConfig(t, `
telegram:
  token: abc
rate_limit:
  interval_ms: 500
  exclude_updates: [" Callback "]
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, TransportTelegram, cfg.Transport)
	assert.Equal(t, RunModeLongpoll, cfg.Telegram.RunMode)
	assert.Equal(t, 1, cfg.Telegram.ButtonsPerRow)
	assert.Equal(t, "configs/catalog.yaml", cfg.CatalogPath)
	assert.Equal(t, []string{UpdateCallback}, cfg.RateLimit.ExcludeUpdates)
	assert.Equal(t, 4, cfg.Dispatcher.Workers)
	assert.Equal(t, 256, cfg.Dispatcher.QueueSize)
	assert.Equal(t, "menubot", cfg.Metrics.Namespace)
	assert.False(t, cfg.Database.Enabled())
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `
transport: whatsapp
whatsapp:
  access_token: from-file
  verify_token: verify
  phone_number_id: "1234"
`)
	t.Setenv("WHATSAPP_ACCESS_TOKEN", "from-env")
	t.Setenv("CATALOG_PATH", "/srv/catalog.yaml")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.WhatsApp.AccessToken)
	assert.Equal(t, "/srv/catalog.yaml", cfg.CatalogPath)
	assert.Equal(t, "https://graph.facebook.com/v22.0", cfg.WhatsApp.APIBase)
	assert.Equal(t, ":8080", cfg.WhatsApp.Listen)
}

func TestNormalizeDatabaseDefaults(t *testing.T) {
	cfg := &Config{
		Telegram: TelegramConfig{Token: "x"},
		Database: DatabaseConfig{Host: "db", User: "bot", Name: "menubot"},
	}
	require.NoError(t, Normalize(cfg))
	assert.Equal(t, "5432", cfg.Database.Port)
	assert.Equal(t, "disable", cfg.Database.SSLMode)
	assert.Equal(t, "migrations", cfg.Database.MigrationsPath)
	assert.Equal(t, 5, cfg.Database.MaxConnections)
}

func TestNormalizeRejects(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{"missing token", Config{}, "telegram token is required"},
		{"bad transport", Config{Transport: "sms"}, `invalid transport "sms"`},
		{"bad run mode", Config{Telegram: TelegramConfig{Token: "x", RunMode: "push"}}, "invalid telegram.run_mode"},
		{"webhook without url", Config{Telegram: TelegramConfig{Token: "x", RunMode: "webhook"}}, "webhook.url is required"},
		{"whatsapp without token", Config{Transport: "whatsapp"}, "whatsapp.access_token is required"},
		{"bad exclude", Config{Telegram: TelegramConfig{Token: "x"}, RateLimit: RateLimitConfig{ExcludeUpdates: []string{"inline"}}}, "invalid rate_limit.exclude_updates"},
		{"database without user", Config{Telegram: TelegramConfig{Token: "x"}, Database: DatabaseConfig{Host: "db"}}, "database.name and database.user"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := tt.cfg
			err := Normalize(&cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
