// Package bootstrap initializes process infrastructure: logging, the menu
// catalog and, when configured, the journal database.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"

	"github.com/m3rciful/menubot/core/catalog"
	coreconfig "github.com/m3rciful/menubot/core/config"
	coredatabase "github.com/m3rciful/menubot/core/database"
	"github.com/m3rciful/menubot/core/logger"
)

// Options control the bootstrap pipeline. Nil funcs select the defaults.
type Options struct {
	Config *coreconfig.Config

	LoggerInit  func(*coreconfig.Config) error
	LoadCatalog func(path string) (*catalog.Catalog, error)
	Connect     func(context.Context, coreconfig.DatabaseConfig) (*sqlx.DB, error)
	Migrate     func(context.Context, coreconfig.DatabaseConfig) error
}

// Result exposes infrastructure initialized by Run.
type Result struct {
	Catalog *catalog.Catalog
	// DB is nil when no database is configured.
	DB *sqlx.DB
}

// Close releases the database pool, if any.
func (r *Result) Close() error {
	if r == nil || r.DB == nil {
		return nil
	}
	return r.DB.Close()
}

// Run initializes the logger, loads the catalog, then connects and migrates
// the database when one is configured.
func Run(ctx context.Context, opts Options) (*Result, error) {
	if opts.Config == nil {
		return nil, errors.New("bootstrap: nil config provided")
	}
	cfg := opts.Config

	loggerInit := opts.LoggerInit
	if loggerInit == nil {
		loggerInit = logger.InitLogger
	}
	if err := loggerInit(cfg); err != nil {
		return nil, fmt.Errorf("bootstrap: logger init failed: %w", err)
	}

	load := opts.LoadCatalog
	if load == nil {
		load = catalog.Load
	}
	cat, err := load(cfg.CatalogPath)
	if err != nil {
		logger.Error(ctx, "app", "catalog.load",
			slog.String("status", "error"),
			slog.String("path", cfg.CatalogPath),
			slog.String("err", err.Error()),
		)
		return nil, fmt.Errorf("bootstrap: catalog: %w", err)
	}
	for _, w := range cat.Warnings() {
		logger.Warn(ctx, "app", "catalog.warning", slog.String("node", w.NodeID), slog.String("detail", w.Detail))
	}
	logger.Info(ctx, "app", "catalog.load",
		slog.String("status", "ok"),
		slog.String("path", cfg.CatalogPath),
		slog.Int("nodes", cat.Len()),
		slog.Int("languages", len(cat.Languages())),
		slog.Int("warnings", len(cat.Warnings())),
	)

	res := &Result{Catalog: cat}
	if !cfg.Database.Enabled() {
		logger.Info(ctx, "app", "journal.disabled")
		return res, nil
	}

	connect := opts.Connect
	if connect == nil {
		connect = coredatabase.Connect
	}
	db, err := connect(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: database initialization failed: %w", err)
	}

	migrate := opts.Migrate
	if migrate == nil {
		migrate = coredatabase.Migrate
	}
	if err := migrate(ctx, cfg.Database); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("bootstrap: migrations failed: %w", err)
	}
	res.DB = db
	return res, nil
}
