package pipeline

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"cricsheet/internal/config"
	"cricsheet/internal/cricsheet"
	"cricsheet/internal/storage"
)

// Runner flattens several formats from one archive directory and loads the
// results.
type Runner struct {
	Dir     string
	Formats []cricsheet.Format
	// Workers bounds concurrent formats. <= 0 means one per format.
	Workers int

	Storage storage.Config
	Load    LoadOptions
	Logger  Logger

	// NewRepository is the storage factory seam. Defaults to storage.New.
	NewRepository func(ctx context.Context, cfg storage.Config) (storage.Repository, error)
}

// NewRunner builds a Runner from a pipeline configuration. formats is the
// resolved format list, normally p.ResolvedFormats().
func NewRunner(p config.Pipeline, formats []cricsheet.Format, logger Logger) *Runner {
	return &Runner{
		Dir:     p.Source.DownloadDir,
		Formats: formats,
		Workers: p.Runtime.FormatWorkers,
		Storage: storage.Config{Kind: p.Storage.Kind, DSN: p.Storage.ExpandedDSN()},
		Load: LoadOptions{
			Mode:       p.Storage.Mode,
			AutoCreate: p.Storage.AutoCreateTables(),
			BatchSize:  p.Runtime.BatchSize,
		},
		Logger:        logger,
		NewRepository: storage.New,
	}
}

// Flatten runs FlattenFormat for every format concurrently and returns the
// results in format order. Formats share nothing, so only cancellation stops
// the group early.
func (r *Runner) Flatten(ctx context.Context) ([]Result, error) {
	results := make([]Result, len(r.Formats))

	g, gctx := errgroup.WithContext(ctx)
	workers := r.Workers
	if workers <= 0 {
		workers = len(r.Formats)
	}
	if workers > 0 {
		g.SetLimit(workers)
	}

	for i, f := range r.Formats {
		i, f := i, f
		g.Go(func() error {
			res, err := FlattenFormat(gctx, r.Dir, f, r.Logger)
			if err != nil {
				return fmt.Errorf("pipeline: flatten %s: %w", f.Name, err)
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// FormatLoad reports the tables loaded for one format.
type FormatLoad struct {
	Format string
	Tables []TableLoad
}

// LoadResults opens the configured repository and loads results one format
// at a time, in order. Formats with no tables are skipped.
func (r *Runner) LoadResults(ctx context.Context, results []Result) ([]FormatLoad, error) {
	newRepo := r.NewRepository
	if newRepo == nil {
		newRepo = storage.New
	}
	logf := logfOf(r.Logger)

	repo, err := newRepo(ctx, r.Storage)
	if err != nil {
		return nil, fmt.Errorf("pipeline: open %s storage: %w", r.Storage.Kind, err)
	}
	defer repo.Close()

	loader := &Loader{Repo: repo, Options: r.Load, Logger: r.Logger}

	var out []FormatLoad
	for _, res := range results {
		if res.Tables.Len() == 0 {
			logf("stage=load format=%s msg=%q", res.Format.Name, "no tables; skipped")
			continue
		}
		start := time.Now()
		tables, err := loader.Load(ctx, res.Format, res.Tables)
		if err != nil {
			return out, err
		}
		logf("stage=load format=%s tables=%d duration=%s", res.Format.Name, len(tables), time.Since(start).Truncate(time.Millisecond))
		out = append(out, FormatLoad{Format: res.Format.Name, Tables: tables})
	}
	return out, nil
}

// Run flattens every format and loads the results.
func (r *Runner) Run(ctx context.Context) ([]Result, []FormatLoad, error) {
	results, err := r.Flatten(ctx)
	if err != nil {
		return nil, nil, err
	}
	loads, err := r.LoadResults(ctx, results)
	return results, loads, err
}
