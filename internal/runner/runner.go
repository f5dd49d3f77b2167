// Package runner wires configuration, a warehouse backend, the staging
// loader and the pipeline driver into one run. It owns connection retries,
// logging and metrics; the driver stays free of all three.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"dwh/internal/config"
	"dwh/internal/loader"
	"dwh/internal/pipeline"
	"dwh/internal/queries"
	"dwh/internal/source"
	"dwh/internal/storage"
	"dwh/internal/transformer"
)

// Runner executes warehouse refreshes for one configuration.
type Runner struct {
	Config *config.Config
	Logger *slog.Logger

	// OpenWarehouse defaults to storage.Open.
	OpenWarehouse func(ctx context.Context, cfg storage.Config) (storage.Warehouse, error)

	// Objects reads staging sources for warehouses without a native COPY.
	// Defaults to a source.Mux configured from [AWS] and [S3].
	Objects loader.Objects

	// NewBackOff paces connection attempts; defaults to exponential.
	NewBackOff func() backoff.BackOff
}

// New returns a Runner with production defaults.
func New(cfg *config.Config, logger *slog.Logger) *Runner {
	return &Runner{
		Config:        cfg,
		Logger:        logger,
		OpenWarehouse: storage.Open,
		Objects: source.NewMux(source.S3Options{
			Region:          cfg.S3.Region,
			AccessKeyID:     cfg.AWS.Key,
			SecretAccessKey: cfg.AWS.Secret,
			SessionToken:    cfg.AWS.SessionToken,
			Anonymous:       cfg.AWS.Anonymous,
			Endpoint:        cfg.AWS.Endpoint,
		}),
	}
}

// Statements builds the four statement lists for the configured kind
// without connecting.
func (r *Runner) Statements() (queries.Statements, error) {
	d, err := storage.DialectFor(r.Config.Warehouse.Kind)
	if err != nil {
		return queries.Statements{}, err
	}
	opts, err := r.Config.Options()
	if err != nil {
		return queries.Statements{}, err
	}
	return queries.Build(d, r.Config.Sources(), opts)
}

// Run connects and executes phases (all four when none are given).
func (r *Runner) Run(ctx context.Context, phases ...queries.Phase) error {
	if len(phases) == 0 {
		phases = queries.Phases
	}
	st, err := r.Statements()
	if err != nil {
		return fmt.Errorf("build statements: %w", err)
	}

	wh, err := r.connect(ctx)
	if err != nil {
		return err
	}
	defer wh.Close()

	drv := &pipeline.Driver{
		Exec:     r.executor(wh),
		Observer: &observer{logger: r.logger(), job: r.Config.Metrics.Job},
		Parallel: r.Config.Warehouse.Parallel,
	}

	start := time.Now()
	r.logger().Info("run started", "kind", r.Config.Warehouse.Kind, "phases", phases, "parallel", drv.Parallel)
	if err := drv.RunPhases(ctx, st, phases...); err != nil {
		r.logger().Error("run failed", "err", err, "duration", time.Since(start))
		return err
	}
	r.logger().Info("run finished", "duration", time.Since(start))
	return nil
}

// Preview loads the sources into memory and derives the star schema
// without a warehouse.
func (r *Runner) Preview(ctx context.Context) (transformer.Star, error) {
	st, err := r.Statements()
	if err != nil {
		return transformer.Star{}, fmt.Errorf("build statements: %w", err)
	}
	staging := transformer.NewStaging()
	ld := r.loader(staging)
	for _, s := range st.Copy {
		if _, err := ld.Load(ctx, *s.Load); err != nil {
			return transformer.Star{}, err
		}
	}
	events, err := staging.Events()
	if err != nil {
		return transformer.Star{}, err
	}
	songs, err := staging.Songs()
	if err != nil {
		return transformer.Star{}, err
	}
	opts, err := r.Config.Options()
	if err != nil {
		return transformer.Star{}, err
	}
	return transformer.Derive(events, songs, opts.KeyConflict)
}

// connect opens the warehouse and pings it, retrying up to
// Warehouse.ConnectRetries times. An unknown kind is not retried.
func (r *Runner) connect(ctx context.Context) (storage.Warehouse, error) {
	open := r.OpenWarehouse
	if open == nil {
		open = storage.Open
	}
	cfg := storage.Config{Kind: r.Config.Warehouse.Kind, DSN: r.Config.DSN()}

	var wh storage.Warehouse
	op := func() error {
		w, err := open(ctx, cfg)
		if err != nil {
			if errors.Is(err, storage.ErrUnknownKind) {
				return backoff.Permanent(err)
			}
			return err
		}
		if err := w.Ping(ctx); err != nil {
			w.Close()
			return err
		}
		wh = w
		return nil
	}

	newBackOff := r.NewBackOff
	if newBackOff == nil {
		newBackOff = func() backoff.BackOff { return backoff.NewExponentialBackOff() }
	}
	retries := max(r.Config.Warehouse.ConnectRetries, 0)
	b := backoff.WithContext(backoff.WithMaxRetries(newBackOff(), uint64(retries)), ctx)

	err := backoff.RetryNotify(op, b, func(err error, wait time.Duration) {
		r.logger().Warn("warehouse not reachable, retrying", "kind", cfg.Kind, "err", err, "wait", wait)
	})
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", cfg.Kind, err)
	}
	return wh, nil
}

// executor adds bulk loading to warehouses that accept rows but have no
// COPY from object storage.
func (r *Runner) executor(wh storage.Warehouse) pipeline.Executor {
	rc, ok := wh.(storage.RowCopier)
	if !ok {
		return wh
	}
	return &loadingExecutor{Warehouse: wh, loader: r.loader(rc)}
}

func (r *Runner) loader(rc storage.RowCopier) *loader.Loader {
	return &loader.Loader{
		Objects:   r.Objects,
		Copier:    rc,
		Logger:    r.logger(),
		BatchSize: r.Config.Warehouse.BatchSize,
		Workers:   r.Config.Warehouse.LoadWorkers,
		Job:       r.Config.Metrics.Job,
	}
}

func (r *Runner) logger() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return slog.New(slog.DiscardHandler)
}

type loadingExecutor struct {
	storage.Warehouse
	loader *loader.Loader
}

func (e *loadingExecutor) BulkLoad(ctx context.Context, d storage.LoadDirective) error {
	return e.loader.BulkLoad(ctx, d)
}

var _ pipeline.BulkLoader = (*loadingExecutor)(nil)
