package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"

	"dwh/internal/config"
	"dwh/internal/metrics"
	"dwh/internal/metrics/datadog"
	"dwh/internal/metrics/prompush"
	"dwh/internal/queries"
	"dwh/internal/runner"
)

var errInvalidConfig = errors.New("configuration is invalid")

// rootFlags are shared by every subcommand.
type rootFlags struct {
	config  string
	kind    string
	verbose bool
}

func newRootCmd() *cobra.Command {
	var f rootFlags

	rootCmd := &cobra.Command{
		Use:          "dwh",
		Short:        "Load song and activity logs into a star-schema warehouse.",
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// .env is optional.
			_ = godotenv.Load()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&f.config, "config", "c", "dwh.cfg", "path to the INI configuration file")
	rootCmd.PersistentFlags().StringVar(&f.kind, "kind", "", "override WAREHOUSE.KIND (redshift, postgres, sqlite, mssql)")
	rootCmd.PersistentFlags().BoolVarP(&f.verbose, "verbose", "v", false, "set debug logging level")

	rootCmd.AddCommand(
		newPhasesCmd(&f, "create-tables", "Drop and recreate every table.", queries.PhaseDrop, queries.PhaseCreate),
		newPhasesCmd(&f, "etl", "Load the staging tables and populate the star schema.", queries.PhaseLoad, queries.PhaseTransform),
		newPhasesCmd(&f, "run", "Drop, create, load and transform in one run.", queries.Phases...),
		newStatementsCmd(&f),
		newSchemaCmd(),
		newPreviewCmd(&f),
		newValidateCmd(&f),
	)
	return rootCmd
}

func newLogger(w io.Writer, verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(tint.NewHandler(w, &tint.Options{
		Level:      level,
		TimeFormat: time.Kitchen,
	}))
}

// loadConfig reads the configuration, applies --kind and validates it.
// Warnings are logged; errors are logged and fail the command.
func loadConfig(f *rootFlags, log *slog.Logger) (*config.Config, error) {
	cfg, err := config.Load(f.config)
	if err != nil {
		return nil, err
	}
	if f.kind != "" {
		cfg.Warehouse.Kind = f.kind
	}

	issues := config.Validate(cfg)
	for _, iss := range issues {
		if iss.Severity == config.SeverityError {
			log.Error("config", "path", iss.Path, "issue", iss.Message)
		} else {
			log.Warn("config", "path", iss.Path, "issue", iss.Message)
		}
	}
	if config.HasErrors(issues) {
		return nil, fmt.Errorf("%w: %s", errInvalidConfig, f.config)
	}
	return cfg, nil
}

// setupMetrics installs the configured backend. The returned func flushes
// or closes it and is always safe to call. A backend that fails to start
// leaves metrics disabled.
func setupMetrics(ctx context.Context, cfg *config.Config, log *slog.Logger) func() {
	job := cfg.Metrics.Job
	switch cfg.Metrics.Backend {
	case config.MetricsPushgateway:
		b, err := prompush.NewBackend(job, cfg.Metrics.PushgatewayURL)
		if err != nil {
			log.Warn("metrics: failed to init pushgateway backend; using nop", "err", err)
			return func() {}
		}
		log.Debug("metrics enabled", "backend", cfg.Metrics.Backend, "url", cfg.Metrics.PushgatewayURL, "job", job)
		metrics.SetBackend(b)
		return func() {
			if err := metrics.Flush(); err != nil {
				log.Warn("metrics: flush error", "err", err)
			}
		}

	case config.MetricsDatadog:
		tags := datadog.ParseTagsCSV(cfg.Metrics.Tags)
		b, err := datadog.NewBackend(ctx, datadog.Options{JobName: job, Tags: tags})
		if err != nil {
			log.Warn("metrics: failed to init datadog backend; using nop", "err", err)
			return func() {}
		}
		log.Debug("metrics enabled", "backend", cfg.Metrics.Backend, "job", job, "tags", tags)
		metrics.SetBackend(b)
		return func() {
			// Close stops the flush loop and submits what is buffered.
			if err := b.Close(); err != nil {
				log.Warn("metrics: datadog close error", "err", err)
			}
		}

	default:
		return func() {}
	}
}

func newPhasesCmd(f *rootFlags, use, short string, phases ...queries.Phase) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			log := newLogger(cmd.ErrOrStderr(), f.verbose)
			cfg, err := loadConfig(f, log)
			if err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			closeMetrics := setupMetrics(ctx, cfg, log)
			defer closeMetrics()

			return runner.New(cfg, log).Run(ctx, phases...)
		},
	}
}

func newValidateCmd(f *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration and exit.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			log := newLogger(cmd.ErrOrStderr(), f.verbose)
			if _, err := loadConfig(f, log); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "configuration is valid: %s\n", f.config)
			return nil
		},
	}
}
