package main

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"os"
	"sync/atomic"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	pgzip "github.com/klauspost/pgzip"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/tortilla-discounts/internal/domain/discount"
	"github.com/xenking/tortilla-discounts/internal/wire"
)

const (
	bloomCapacity = 1_000_000
	bloomFPR      = 0.001
	pageSize      = 500
	maxLineBytes  = 1 << 20
	progressEvery = 10_000
)

type importStats struct {
	created, skipped, rejected int64
}

// importer creates codes concurrently. The bloom filter holds every code
// known to exist; a miss means the code is new and skips the existence query.
type importer struct {
	registry *discount.Registry
	workers  int
	author   string
	seen     *bloom.BloomFilter

	created, skipped, rejected atomic.Int64
}

func newImporter(registry *discount.Registry, workers int, author string) *importer {
	if workers < 1 {
		workers = 1
	}
	return &importer{
		registry: registry,
		workers:  workers,
		author:   author,
		seen:     bloom.NewWithEstimates(bloomCapacity, bloomFPR),
	}
}

func (im *importer) stats() importStats {
	return importStats{
		created:  im.created.Load(),
		skipped:  im.skipped.Load(),
		rejected: im.rejected.Load(),
	}
}

// loadExisting pages through the admin codes and adds each to the filter.
func (im *importer) loadExisting(ctx context.Context) error {
	var total int
	for offset := 0; ; offset += pageSize {
		codes, err := im.registry.ListCodes(ctx, discount.ListFilter{
			Source:         discount.SourceAdmin,
			IncludeExpired: true,
			Limit:          pageSize,
			Offset:         offset,
		})
		if err != nil {
			return err
		}
		for _, c := range codes {
			im.seen.AddString(c.Code)
		}
		total += len(codes)
		if len(codes) < pageSize {
			break
		}
	}
	slog.Info("existing codes loaded", slog.Int("count", total))
	return nil
}

func (im *importer) importFile(ctx context.Context, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrap(err, "open")
	}
	defer func() { _ = f.Close() }()

	gz, err := pgzip.NewReader(f)
	if err != nil {
		return errors.Wrap(err, "gzip reader")
	}
	defer func() { _ = gz.Close() }()

	slog.Info("importing file", slog.String("path", path))
	return im.importStream(ctx, gz)
}

// importStream decodes one spec per line and creates them on im.workers
// goroutines. Malformed lines and invalid specs are logged and counted.
func (im *importer) importStream(ctx context.Context, r io.Reader) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(im.workers)

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	var line int
	for sc.Scan() {
		line++
		if err := ctx.Err(); err != nil {
			break
		}
		raw := sc.Bytes()
		if len(raw) == 0 {
			continue
		}

		spec, err := wire.DecodeCodeSpec(jx.DecodeBytes(raw))
		if err != nil {
			slog.Warn("skipping malformed line", slog.Int("line", line), slog.String("error", err.Error()))
			im.rejected.Add(1)
			continue
		}
		spec.Code = discount.NormalizeCode(spec.Code)
		if spec.CreatedBy == "" {
			spec.CreatedBy = im.author
		}

		mayExist := im.seen.TestString(spec.Code)
		im.seen.AddString(spec.Code)

		g.Go(func() error {
			return im.create(ctx, spec, mayExist)
		})

		if line%progressEvery == 0 {
			slog.Info("import progress", slog.Int("lines", line))
		}
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if err := sc.Err(); err != nil {
		return errors.Wrap(err, "scan")
	}
	return ctx.Err()
}

func (im *importer) create(ctx context.Context, spec discount.CodeSpec, mayExist bool) error {
	if mayExist {
		_, err := im.registry.FindByCode(ctx, spec.Code)
		switch {
		case err == nil:
			im.skipped.Add(1)
			return nil
		case !errors.Is(err, discount.ErrUnknownCode):
			return errors.Wrapf(err, "check %s", spec.Code)
		}
	}

	_, err := im.registry.CreateCode(ctx, spec)
	switch {
	case err == nil:
		im.created.Add(1)
	case errors.Is(err, discount.ErrDuplicateCode):
		im.skipped.Add(1)
	case errors.Is(err, discount.ErrInvalidRule):
		slog.Warn("rejected code", slog.String("code", spec.Code), slog.String("error", err.Error()))
		im.rejected.Add(1)
	default:
		return errors.Wrapf(err, "create %s", spec.Code)
	}
	return nil
}
