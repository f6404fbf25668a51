package database

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"

	coreconfig "github.com/m3rciful/menubot/core/config"
	"github.com/m3rciful/menubot/core/logger"
)

// Migrate applies every pending up migration found in cfg.MigrationsPath.
func Migrate(ctx context.Context, cfg coreconfig.DatabaseConfig) error {
	dir, err := filepath.Abs(cfg.MigrationsPath)
	if err != nil {
		return fmt.Errorf("database: migrations path: %w", err)
	}
	files := upFiles(dir)
	if len(files) == 0 {
		return fmt.Errorf("database: no migrations in %s", dir)
	}
	if preview, truncated := logger.SummarizeStrings(files, 6); preview != "" {
		logger.Debug(ctx, "db", "migrate.resolve",
			slog.String("path", dir),
			slog.Int("files_total", len(files)),
			slog.String("files_preview", preview),
			slog.Bool("files_truncated", truncated),
		)
	}

	m, err := migrate.New("file://"+filepath.ToSlash(dir), URL(cfg))
	if err != nil {
		logger.Error(ctx, "db", "migrate.init", slog.String("status", "error"), slog.String("err", err.Error()))
		return fmt.Errorf("database: init migrations: %w", err)
	}
	defer func() {
		if srcErr, dbErr := m.Close(); srcErr != nil || dbErr != nil {
			logger.Warn(ctx, "db", "migrate.close", slog.Any("err", errors.Join(srcErr, dbErr)))
		}
	}()

	from, dirty, _ := m.Version()
	if dirty {
		return fmt.Errorf("database: schema version %d is dirty", from)
	}

	start := time.Now()
	switch err := m.Up(); {
	case errors.Is(err, migrate.ErrNoChange):
	case err != nil:
		logger.Error(ctx, "db", "migrate.apply",
			slog.String("status", "error"),
			slog.Duration("duration", logger.Took(start)),
			slog.String("err", err.Error()),
		)
		return fmt.Errorf("database: apply migrations: %w", err)
	}
	to, _, _ := m.Version()

	applied := appliedBetween(files, uint64(from), uint64(to))
	logger.Info(ctx, "db", "migrate.summary",
		slog.String("status", "ok"),
		slog.Uint64("from_ver", uint64(from)),
		slog.Uint64("to_ver", uint64(to)),
		slog.Int("files", len(applied)),
		slog.Duration("duration", logger.Took(start)),
	)
	return nil
}

func upFiles(dir string) []string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".up.sql") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names
}

func fileVersion(name string) uint64 {
	prefix, _, _ := strings.Cut(name, "_")
	v, _ := strconv.ParseUint(prefix, 10, 64)
	return v
}

// appliedBetween returns the files with a version in (from, to].
func appliedBetween(files []string, from, to uint64) []string {
	var out []string
	for _, f := range files {
		if v := fileVersion(f); v > from && v <= to {
			out = append(out, f)
		}
	}
	return out
}
