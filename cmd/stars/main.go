// Command stars decomposes a directory of raw data files into a star schema:
// it infers a column classification from a sample, builds per-batch fact and
// dimension tables on a bounded worker pool, merges the batches into one
// globally keyed schema and writes the result to the configured backend.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/spf13/pflag"

	"starschema/internal/config"
	"starschema/internal/metrics"
	"starschema/internal/metrics/datadog"
	"starschema/internal/run"
	"starschema/internal/source"
	"starschema/internal/storage"
	"starschema/internal/validate"

	// register all backends with the storage factory.
	_ "starschema/internal/storage/all"
)

func main() {
	os.Exit(realMain())
}

func realMain() int {
	var (
		cfgPath        string
		inputDir       string
		backendKind    string
		dsn            string
		metricsBackend string
		verbose        bool
		dryRun         bool
	)

	pflag.StringVar(&cfgPath, "config", "", "run config JSON path (defaults apply when empty)")
	pflag.StringVar(&inputDir, "input", ".", "directory of source files (.csv, .json, .html)")
	pflag.StringVar(&backendKind, "backend", "", "storage backend kind (postgres, sqlite, mssql); empty disables writing")
	pflag.StringVar(&dsn, "dsn", "", "storage DSN (overrides env STARS_DSN)")
	pflag.StringVar(&metricsBackend, "metrics", "none", "metrics backend (datadog, none)")
	pflag.BoolVarP(&verbose, "verbose", "v", false, "enable debug logs")
	pflag.BoolVar(&dryRun, "dry-run", false, "build and merge but skip the writer")
	pflag.Parse()

	// .env is optional; real environment always wins.
	_ = godotenv.Load()

	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	log := slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      level,
		TimeFormat: time.TimeOnly,
	}))
	slog.SetDefault(log)

	cfg := config.Default()
	if cfgPath != "" {
		var err error
		cfg, err = config.Load(cfgPath)
		if err != nil {
			log.Error("bad configuration", "path", cfgPath, "error", err)
			return 2
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var backend metrics.Backend
	switch metricsBackend {
	case "datadog":
		b, err := datadog.NewBackend(ctx, datadog.Options{
			JobName: cfg.Job,
			Tags:    datadog.ParseTagsCSV(os.Getenv("METRICS_TAGS")),
		})
		if err != nil {
			log.Warn("datadog metrics unavailable, continuing without", "error", err)
		} else {
			defer func() {
				if err := b.Close(); err != nil {
					log.Warn("metrics flush failed", "error", err)
				}
			}()
			backend = b
		}
	case "", "none":
		// metrics disabled
	default:
		log.Warn("unknown metrics backend, metrics disabled", "backend", metricsBackend)
	}

	var writer storage.Writer
	if backendKind != "" && !dryRun {
		if dsn == "" {
			dsn = os.Getenv("STARS_DSN")
		}
		w, err := storage.New(ctx, storage.Config{Kind: backendKind, DSN: dsn})
		if err != nil {
			log.Error("storage backend init failed", "kind", backendKind, "error", err)
			return 2
		}
		defer w.Close()
		writer = w
	}

	var validator validate.Validator
	if cfg.Contract != nil {
		validator = *cfg.Contract
	}

	orch := &run.Orchestrator{
		Cfg:       cfg,
		Source:    source.Dir{Path: inputDir, Options: cfg.SourceOptions},
		Writer:    writer,
		Validator: validator,
		Metrics:   backend,
		Logger:    log,
	}

	summary, err := orch.Run(ctx)
	if err != nil {
		if errors.Is(err, run.ErrNoUsableUnits) {
			printSummary(summary)
			log.Error("run failed", "error", err)
			return 1
		}
		log.Error("run aborted", "error", err)
		return 1
	}

	printSummary(summary)
	return 0
}

func printSummary(s *run.Summary) {
	if s == nil {
		return
	}
	fmt.Printf("run %s: %d/%d units succeeded (%d parse errors, %d validation errors)\n",
		s.RunID, s.Succeeded, s.Units, s.ParseErrors, s.ValidationErrors)
	fmt.Printf("  %d batches, %d fact rows, %d dimensions in %s\n",
		s.Batches, s.FactRows, len(s.DimensionRows), s.Duration.Truncate(time.Millisecond))
}
