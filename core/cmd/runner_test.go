package cmd

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	coreconfig "github.com/m3rciful/menubot/core/config"
)

type fakeApp struct {
	runErr   error
	closeErr error
	ran      bool
	closed   bool
}

func (a *fakeApp) Run(context.Context) error { a.ran = true; return a.runErr }
func (a *fakeApp) Close() error              { a.closed = true; return a.closeErr }

func TestConfigPath(t *testing.T) {
	t.Setenv("MENUBOT_TEST_CONFIG", "")
	_, err := ConfigPath("MENUBOT_TEST_CONFIG", "")
	require.Error(t, err)

	p, err := ConfigPath("MENUBOT_TEST_CONFIG", "configs/config.yaml")
	require.NoError(t, err)
	assert.Equal(t, "configs/config.yaml", p)

	t.Setenv("MENUBOT_TEST_CONFIG", "/etc/menubot.yaml")
	p, err = ConfigPath("MENUBOT_TEST_CONFIG", "configs/config.yaml")
	require.NoError(t, err)
	assert.Equal(t, "/etc/menubot.yaml", p)
}

func TestLoadDotEnv(t *testing.T) {
	require.NoError(t, loadDotEnv(filepath.Join(t.TempDir(), "missing.env")))

	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("MENUBOT_DOTENV_PROBE=loaded\n"), 0o600))
	t.Cleanup(func() { _ = os.Unsetenv("MENUBOT_DOTENV_PROBE") })
	require.NoError(t, loadDotEnv(path))
	assert.Equal(t, "loaded", os.Getenv("MENUBOT_DOTENV_PROBE"))
}

func TestRunDrivesApp(t *testing.T) {
	t.Setenv("CONFIG_PATH", "")
	app := &fakeApp{runErr: context.Canceled}
	var loaded string
	shutdowns := 0

	err := Run(Options{
		DefaultConfigPath: "menubot.yaml",
		EnvFile:           filepath.Join(t.TempDir(), "none.env"),
		LoadConfig: func(path string) (*coreconfig.Config, error) {
			loaded = path
			return &coreconfig.Config{Transport: coreconfig.TransportWhatsApp}, nil
		},
		Bootstrap: func(ctx context.Context, cfg *coreconfig.Config) (App, error) {
			assert.Equal(t, coreconfig.TransportWhatsApp, cfg.Transport)
			return app, nil
		},
		ShutdownLogger: func() error { shutdowns++; return nil },
	})
	require.NoError(t, err)
	assert.Equal(t, "menubot.yaml", loaded)
	assert.True(t, app.ran)
	assert.True(t, app.closed)
	assert.Equal(t, 1, shutdowns)
}

func TestRunJoinsRunAndCloseErrors(t *testing.T) {
	t.Setenv("CONFIG_PATH", "")
	runErr := errors.New("transport down")
	closeErr := errors.New("db close")
	app := &fakeApp{runErr: runErr, closeErr: closeErr}

	err := Run(Options{
		DefaultConfigPath: "menubot.yaml",
		EnvFile:           filepath.Join(t.TempDir(), "none.env"),
		LoadConfig:        func(string) (*coreconfig.Config, error) { return &coreconfig.Config{}, nil },
		Bootstrap: func(context.Context, *coreconfig.Config) (App, error) {
			return app, nil
		},
		ShutdownLogger: func() error { return nil },
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, runErr)
	assert.ErrorIs(t, err, closeErr)
}

func TestRunStopsOnBootstrapError(t *testing.T) {
	t.Setenv("CONFIG_PATH", "")
	boom := errors.New("catalog invalid")
	shutdowns := 0

	err := Run(Options{
		DefaultConfigPath: "menubot.yaml",
		EnvFile:           filepath.Join(t.TempDir(), "none.env"),
		LoadConfig:        func(string) (*coreconfig.Config, error) { return &coreconfig.Config{}, nil },
		Bootstrap: func(context.Context, *coreconfig.Config) (App, error) {
			return nil, boom
		},
		ShutdownLogger: func() error { shutdowns++; return nil },
	})
	require.ErrorIs(t, err, boom)
	assert.Zero(t, shutdowns)
}

func TestRunFailsOnConfigError(t *testing.T) {
	t.Setenv("CONFIG_PATH", "")
	err := Run(Options{
		DefaultConfigPath: "menubot.yaml",
		EnvFile:           filepath.Join(t.TempDir(), "none.env"),
		LoadConfig: func(string) (*coreconfig.Config, error) {
			return nil, errors.New("telegram token is required")
		},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load config")
}
