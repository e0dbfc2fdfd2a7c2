// Command code-import bulk-loads discount codes from gzip-compressed JSON
// lines, one admin create request per line.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/go-faster/errors"

	"github.com/xenking/tortilla-discounts/internal/domain/discount"
	"github.com/xenking/tortilla-discounts/internal/domain/reward"
	"github.com/xenking/tortilla-discounts/internal/storage/postgres"
)

func main() {
	var (
		pattern     string
		databaseURL string
		workers     int
		author      string
	)

	flag.StringVar(&pattern, "files", "data/codes*.jsonl.gz", "glob of gzip'd JSON-lines files")
	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.IntVar(&workers, "workers", 8, "concurrent inserts")
	flag.StringVar(&author, "created-by", "code-import", "created_by recorded on imported codes")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, pattern, databaseURL, workers, author); err != nil {
		slog.Error("code import failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("code import completed successfully")
}

func run(ctx context.Context, pattern, databaseURL string, workers int, author string) error {
	files, err := filepath.Glob(pattern)
	if err != nil {
		return errors.Wrap(err, "glob input files")
	}
	if len(files) == 0 {
		return errors.Errorf("no files match %q", pattern)
	}

	slog.Info("connecting to database")

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	rewards := postgres.NewRewardRepository(pool)
	registry := discount.NewRegistry(postgres.NewCodeRepository(pool),
		reward.NewSpinWheel(rewards, 0), reward.NewFeedback(rewards, 0), reward.NewDrip(rewards),
	)
	imp := newImporter(registry, workers, author)
	if err := imp.loadExisting(ctx); err != nil {
		return errors.Wrap(err, "load existing codes")
	}

	for _, f := range files {
		if err := imp.importFile(ctx, f); err != nil {
			return errors.Wrapf(err, "import %s", f)
		}
	}

	s := imp.stats()
	slog.Info("import summary",
		slog.Int64("created", s.created),
		slog.Int64("skipped", s.skipped),
		slog.Int64("rejected", s.rejected),
	)
	return nil
}
