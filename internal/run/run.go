// Package run drives a full pipeline run: schema inference over a sample,
// parallel per-batch star schema construction, the sequential merge, and the
// writer handoff.
package run

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"starschema/internal/config"
	"starschema/internal/metrics"
	"starschema/internal/records"
	"starschema/internal/schema"
	"starschema/internal/source"
	"starschema/internal/star"
	"starschema/internal/storage"
	"starschema/internal/validate"
)

// ErrNoUsableUnits reports a run in which every source unit failed. The run
// terminates normally (errors are persisted, the summary is complete) but the
// outcome is a failure.
var ErrNoUsableUnits = errors.New("no source unit produced usable rows")

// UnitState is the terminal state of one source unit.
type UnitState string

const (
	UnitSuccess         UnitState = "success"
	UnitParseError      UnitState = "parse_error"
	UnitValidationError UnitState = "validation_error"
)

// UnitReport records the outcome of one source unit.
type UnitReport struct {
	Unit   string
	Batch  string
	State  UnitState
	Rows   int
	Detail string
}

// Summary is the final accounting of a run.
type Summary struct {
	RunID string

	Units            int
	Succeeded        int
	ParseErrors      int
	ValidationErrors int

	Batches       int
	FactRows      int
	DimensionRows map[string]int

	Reports  []UnitReport
	Duration time.Duration
}

// Orchestrator wires a run together. Source and Cfg are required; Writer,
// Validator, Metrics and Logger are optional collaborators.
type Orchestrator struct {
	Cfg       config.Config
	Source    source.Source
	Writer    storage.Writer
	Validator validate.Validator
	Metrics   metrics.Backend
	Logger    *slog.Logger

	// Injected for deterministic tests. Production uses time.Now and uuid.
	now   func() time.Time
	newID func() string
}

func (o *Orchestrator) clock() time.Time {
	if o.now != nil {
		return o.now()
	}
	return time.Now().UTC()
}

func (o *Orchestrator) id() string {
	if o.newID != nil {
		return o.newID()
	}
	return uuid.NewString()
}

func (o *Orchestrator) logger() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return slog.Default()
}

func (o *Orchestrator) metrics() metrics.Backend {
	if o.Metrics != nil {
		return o.Metrics
	}
	return metrics.Nop{}
}

// batch is one unit of parallel work: a contiguous slice of the unit list.
type batch struct {
	id    string
	units []source.Unit
}

// batchOutcome is what one worker hands back across the merge barrier.
type batchOutcome struct {
	result  *star.BatchResult
	reports []UnitReport
}

// Run executes the pipeline end to end.
//
// Per-unit parse and validation failures are isolated: the unit is excluded,
// recorded in the summary and (when a writer is configured) persisted to the
// error table, and the run continues. Schema inference failures and merge
// consistency violations are fatal. A run where every unit failed returns
// ErrNoUsableUnits together with the complete summary.
func (o *Orchestrator) Run(ctx context.Context) (*Summary, error) {
	started := o.clock()
	runID := o.id()
	log := o.logger().With("run_id", runID, "job", o.Cfg.Job)
	mtr := o.metrics()

	units, err := o.Source.Units(ctx)
	if err != nil {
		return nil, fmt.Errorf("discover units: %w", err)
	}
	log.Info("run started", "units", len(units), "workers", o.Cfg.Workers, "batch_size", o.Cfg.BatchSize)

	info, err := o.inferSchema(ctx, units, mtr)
	if err != nil {
		return nil, err
	}
	builder := star.NewBuilder(o.Cfg, info)
	log.Info("schema inferred",
		"columns", len(info.Columns),
		"measures", len(info.ColumnsByClass(schema.ClassMeasure)),
		"dimensions", len(builder.Dimensions()))

	batches := o.partition(units)

	// Bounded parallel build. Workers only return an error on context
	// cancellation; unit failures are isolated into the per-batch reports.
	outcomes := make([]batchOutcome, len(batches))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.Cfg.Workers)
	for i, b := range batches {
		g.Go(func() error {
			out, err := o.buildBatch(gctx, b, builder, mtr)
			if err != nil {
				return err
			}
			outcomes[i] = out
			return nil
		})
	}

	// The merge barrier: no merging starts until every batch finished.
	if err := g.Wait(); err != nil {
		return nil, err
	}

	summary := &Summary{
		RunID:         runID,
		Units:         len(units),
		Batches:       len(batches),
		DimensionRows: map[string]int{},
	}
	results := make([]*star.BatchResult, 0, len(outcomes))
	for _, out := range outcomes {
		results = append(results, out.result)
		for _, rep := range out.reports {
			summary.Reports = append(summary.Reports, rep)
			switch rep.State {
			case UnitSuccess:
				summary.Succeeded++
			case UnitParseError:
				summary.ParseErrors++
			case UnitValidationError:
				summary.ValidationErrors++
			}
			mtr.IncCounter(metrics.UnitsTotal, 1, metrics.Labels{"state": string(rep.State)})
		}
	}
	mtr.IncCounter(metrics.BatchesTotal, float64(len(batches)), nil)

	mergeStart := o.clock()
	merged, err := star.Merge(results)
	if err != nil {
		return nil, fmt.Errorf("merge batches: %w", err)
	}
	mtr.ObserveHistogram(metrics.StageDurationSeconds, o.clock().Sub(mergeStart).Seconds(), metrics.Labels{"stage": "merge"})

	summary.FactRows = len(merged.Fact.Rows)
	for name, dim := range merged.Dimensions {
		summary.DimensionRows[name] = dim.Len()
	}
	log.Info("batches merged",
		"batches", len(batches),
		"fact_rows", summary.FactRows,
		"dimensions", len(merged.Dimensions))

	if o.Writer != nil {
		if err := o.write(ctx, runID, merged, summary, mtr); err != nil {
			return nil, err
		}
	}

	summary.Duration = o.clock().Sub(started)
	log.Info("run finished",
		"succeeded", summary.Succeeded,
		"parse_errors", summary.ParseErrors,
		"validation_errors", summary.ValidationErrors,
		"duration", summary.Duration)

	if summary.Succeeded == 0 {
		return summary, ErrNoUsableUnits
	}
	return summary, nil
}

// inferSchema analyzes rows sampled from the head of the unit list. Units
// that fail to parse contribute nothing here; they fail properly inside their
// batch later.
func (o *Orchestrator) inferSchema(ctx context.Context, units []source.Unit, mtr metrics.Backend) (*schema.Info, error) {
	start := o.clock()

	n := o.Cfg.SampleUnits
	if n > len(units) {
		n = len(units)
	}

	var sample []records.Record
	for _, u := range units[:n] {
		rows, err := o.readUnit(ctx, u)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			continue
		}
		sample = append(sample, rows...)
	}

	info, err := schema.Analyze(sample, o.Cfg)
	if err != nil {
		return nil, err
	}
	mtr.ObserveHistogram(metrics.StageDurationSeconds, o.clock().Sub(start).Seconds(), metrics.Labels{"stage": "sample"})
	return info, nil
}

// readUnit parses one unit and stamps the audit columns onto every row at
// acquisition time, before classification or building sees them.
func (o *Orchestrator) readUnit(ctx context.Context, u source.Unit) ([]records.Record, error) {
	rows, err := u.Rows(ctx)
	if err != nil {
		return nil, err
	}
	for _, r := range rows {
		r[o.Cfg.AuditColumns.SourceName] = u.Name()
		r[o.Cfg.AuditColumns.SourceFile] = u.Path()
	}
	return rows, nil
}

// partition splits the unit list into contiguous batches of BatchSize. Units
// are already sorted by the source, so batch composition is deterministic.
func (o *Orchestrator) partition(units []source.Unit) []batch {
	var out []batch
	for start := 0; start < len(units); start += o.Cfg.BatchSize {
		end := start + o.Cfg.BatchSize
		if end > len(units) {
			end = len(units)
		}
		out = append(out, batch{id: o.id(), units: units[start:end]})
	}
	return out
}

// buildBatch processes every unit of one batch through the per-unit state
// machine (parse, validate, admit) and builds the batch star schema from the
// admitted rows.
func (o *Orchestrator) buildBatch(ctx context.Context, b batch, builder *star.Builder, mtr metrics.Backend) (batchOutcome, error) {
	start := o.clock()
	log := o.logger().With("batch_id", b.id)

	out := batchOutcome{reports: make([]UnitReport, 0, len(b.units))}
	var admitted []records.Record
	for _, u := range b.units {
		if err := ctx.Err(); err != nil {
			return out, err
		}

		rows, err := o.readUnit(ctx, u)
		if err != nil {
			if ctx.Err() != nil {
				return out, ctx.Err()
			}
			log.Warn("unit parse failed", "unit", u.Name(), "error", err)
			out.reports = append(out.reports, UnitReport{
				Unit: u.Name(), Batch: b.id, State: UnitParseError, Detail: err.Error(),
			})
			continue
		}

		if o.Validator != nil {
			if verdict, reason := o.Validator.ValidateUnit(u.Name(), rows); verdict == validate.VerdictInvalid {
				log.Warn("unit rejected", "unit", u.Name(), "reason", reason)
				out.reports = append(out.reports, UnitReport{
					Unit: u.Name(), Batch: b.id, State: UnitValidationError, Rows: len(rows), Detail: reason,
				})
				continue
			}
		}

		admitted = append(admitted, rows...)
		out.reports = append(out.reports, UnitReport{
			Unit: u.Name(), Batch: b.id, State: UnitSuccess, Rows: len(rows),
		})
	}

	out.result = builder.Build(b.id, admitted, o.clock())
	mtr.ObserveHistogram(metrics.StageDurationSeconds, o.clock().Sub(start).Seconds(), metrics.Labels{"stage": "batch"})
	log.Debug("batch built", "units", len(b.units), "rows", len(out.result.Fact.Rows))
	return out, nil
}

// write hands the merged schema and the per-unit failures to the configured
// writer backend.
func (o *Orchestrator) write(ctx context.Context, runID string, merged *star.MergedStarSchema, summary *Summary, mtr metrics.Backend) error {
	start := o.clock()
	target := storage.Target{
		FactTable:       o.Cfg.FactTable,
		ErrorTable:      o.Cfg.ErrorTable,
		DimensionPrefix: o.Cfg.DimensionPrefix,
	}

	if err := o.Writer.EnsureTables(ctx, target, merged); err != nil {
		return fmt.Errorf("ensure tables: %w", err)
	}

	for name, dim := range merged.Dimensions {
		if err := o.Writer.WriteDimension(ctx, target.DimensionTable(name), dim); err != nil {
			return fmt.Errorf("write dimension %s: %w", name, err)
		}
		mtr.IncCounter(metrics.RowsTotal, float64(dim.Len()), metrics.Labels{"kind": "dimension"})
	}

	if err := o.Writer.WriteFact(ctx, target.FactTable, &merged.Fact); err != nil {
		return fmt.Errorf("write fact: %w", err)
	}
	mtr.IncCounter(metrics.RowsTotal, float64(len(merged.Fact.Rows)), metrics.Labels{"kind": "fact"})

	var errRows []storage.ErrorRow
	for _, rep := range summary.Reports {
		if rep.State == UnitSuccess {
			continue
		}
		errRows = append(errRows, storage.ErrorRow{
			RunID:      runID,
			Unit:       rep.Unit,
			Stage:      stageOf(rep.State),
			Detail:     rep.Detail,
			OccurredAt: o.clock(),
		})
	}
	if len(errRows) > 0 {
		if err := o.Writer.WriteErrors(ctx, target.ErrorTable, errRows); err != nil {
			return fmt.Errorf("write errors: %w", err)
		}
	}

	mtr.ObserveHistogram(metrics.StageDurationSeconds, o.clock().Sub(start).Seconds(), metrics.Labels{"stage": "write"})
	return nil
}

func stageOf(s UnitState) string {
	if s == UnitValidationError {
		return "validation"
	}
	return "parse"
}
