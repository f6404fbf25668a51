package cmd

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/m3rciful/menubot/core/bootstrap"
	coreconfig "github.com/m3rciful/menubot/core/config"
	"github.com/m3rciful/menubot/core/logger"
)

// App is the minimal surface the runner drives.
type App interface {
	Run(ctx context.Context) error
	Close() error
}

// Options describe how to load configuration, bootstrap the app, and run it.
type Options struct {
	ConfigEnvVar      string
	DefaultConfigPath string
	// EnvFile is loaded before the config; a missing file is ignored.
	EnvFile string

	LoadConfig func(path string) (*coreconfig.Config, error)
	Bootstrap  func(ctx context.Context, cfg *coreconfig.Config) (App, error)

	ShutdownLogger func() error
}

// Run loads .env and configuration, bootstraps the app, and serves until
// SIGINT or SIGTERM.
func Run(opts Options) error {
	if err := loadDotEnv(opts.EnvFile); err != nil {
		return fmt.Errorf("cmd: load env file: %w", err)
	}

	cfgPath, err := ConfigPath(opts.ConfigEnvVar, opts.DefaultConfigPath)
	if err != nil {
		return err
	}

	load := opts.LoadConfig
	if load == nil {
		load = coreconfig.Load
	}
	log.Printf("loading config: %s", cfgPath)
	cfg, err := load(cfgPath)
	if err != nil {
		return fmt.Errorf("cmd: failed to load config: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	startedAt := time.Now()
	boot := opts.Bootstrap
	if boot == nil {
		boot = defaultBootstrap
	}
	application, err := boot(ctx, cfg)
	if err != nil {
		return fmt.Errorf("cmd: bootstrap failed: %w", err)
	}

	shutdownLogger := opts.ShutdownLogger
	if shutdownLogger == nil {
		shutdownLogger = logger.Shutdown
	}
	defer func() {
		if err := shutdownLogger(); err != nil {
			log.Printf("logger shutdown error: %v", err)
		}
	}()

	logger.Info(ctx, "app", "bootstrap.done",
		slog.String("status", "ok"),
		slog.Duration("startup_duration", logger.RoundMS(time.Since(startedAt))),
	)
	runErr := application.Run(ctx)
	if errors.Is(runErr, context.Canceled) {
		runErr = nil
	}
	logger.Info(context.Background(), "app", "shutdown", slog.String("status", logger.Status(runErr)))
	return errors.Join(runErr, application.Close())
}

// ConfigPath resolves the config file from envVar, falling back to def.
// An empty envVar means CONFIG_PATH.
func ConfigPath(envVar, def string) (string, error) {
	if envVar == "" {
		envVar = "CONFIG_PATH"
	}
	if p := os.Getenv(envVar); p != "" {
		return p, nil
	}
	if def == "" {
		return "", fmt.Errorf("cmd: config path not provided via %s or DefaultConfigPath", envVar)
	}
	return def, nil
}

func loadDotEnv(path string) error {
	var err error
	if path == "" {
		err = godotenv.Load()
	} else {
		err = godotenv.Load(path)
	}
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

func defaultBootstrap(ctx context.Context, cfg *coreconfig.Config) (App, error) {
	res, err := bootstrap.Run(ctx, bootstrap.Options{Config: cfg})
	if err != nil {
		return nil, err
	}
	app, err := bootstrap.NewApp(cfg, res, bootstrap.AppOptions{})
	if err != nil {
		_ = res.Close()
		return nil, err
	}
	return app, nil
}
