package run

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"starschema/internal/config"
	"starschema/internal/records"
	"starschema/internal/schema"
	"starschema/internal/source"
	"starschema/internal/star"
	"starschema/internal/storage"
	"starschema/internal/validate"
)

// fakeUnit serves fixed rows. Rows returns fresh copies, matching the
// restartable contract of real file units.
type fakeUnit struct {
	name string
	rows []records.Record
	err  error
}

func (u fakeUnit) Name() string { return u.name }
func (u fakeUnit) Path() string { return "/in/" + u.name }

func (u fakeUnit) Rows(ctx context.Context) ([]records.Record, error) {
	if u.err != nil {
		return nil, u.err
	}
	out := make([]records.Record, 0, len(u.rows))
	for _, r := range u.rows {
		cp := make(records.Record, len(r))
		for k, v := range r {
			cp[k] = v
		}
		out = append(out, cp)
	}
	return out, nil
}

type fakeSource struct{ units []source.Unit }

func (s fakeSource) Units(ctx context.Context) ([]source.Unit, error) { return s.units, nil }

// fakeWriter captures everything handed to it. The orchestrator writes
// sequentially, so no locking is needed.
type fakeWriter struct {
	target     storage.Target
	dimensions map[string]*star.DimensionTable
	fact       *star.FactTable
	errRows    []storage.ErrorRow
	closed     bool
}

func (w *fakeWriter) Close() { w.closed = true }

func (w *fakeWriter) EnsureTables(ctx context.Context, target storage.Target, merged *star.MergedStarSchema) error {
	w.target = target
	return nil
}

func (w *fakeWriter) WriteDimension(ctx context.Context, table string, dim *star.DimensionTable) error {
	if w.dimensions == nil {
		w.dimensions = map[string]*star.DimensionTable{}
	}
	w.dimensions[table] = dim
	return nil
}

func (w *fakeWriter) WriteFact(ctx context.Context, table string, fact *star.FactTable) error {
	w.fact = fact
	return nil
}

func (w *fakeWriter) WriteErrors(ctx context.Context, table string, rows []storage.ErrorRow) error {
	w.errRows = append(w.errRows, rows...)
	return nil
}

// rejectUnits fails validation for the named units.
type rejectUnits map[string]string

func (v rejectUnits) ValidateUnit(unit string, rows []records.Record) (validate.Verdict, string) {
	if reason, ok := v[unit]; ok {
		return validate.VerdictInvalid, reason
	}
	return validate.VerdictValid, ""
}

func testConfig() config.Config {
	cfg := config.Default()
	cfg.IdentifierColumn = "transaction_id"
	cfg.BatchSize = 2
	cfg.Workers = 2
	return cfg
}

func salesUnit(name string, n int, category string) fakeUnit {
	rows := make([]records.Record, 0, n)
	for i := 0; i < n; i++ {
		rows = append(rows, records.Record{
			"transaction_id": fmt.Sprintf("%s-%d", name, i),
			"amount":         fmt.Sprintf("%d.50", i),
			"category":       category,
		})
	}
	return fakeUnit{name: name, rows: rows}
}

func newOrchestrator(cfg config.Config, src source.Source, w storage.Writer, v validate.Validator) *Orchestrator {
	seq := 0
	return &Orchestrator{
		Cfg:       cfg,
		Source:    src,
		Writer:    w,
		Validator: v,
		now:       func() time.Time { return time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC) },
		newID: func() string {
			seq++
			return fmt.Sprintf("id-%d", seq)
		},
	}
}

func TestRunEndToEnd(t *testing.T) {
	t.Parallel()

	// 40 sampled rows with 3 distinct categories keeps the category column
	// under the 10% uniqueness fraction, so it classifies as a dimension.
	src := fakeSource{units: []source.Unit{
		salesUnit("a.csv", 10, "electronics"),
		salesUnit("b.csv", 10, "toys"),
		salesUnit("c.csv", 10, "accessories"),
		salesUnit("d.csv", 10, "electronics"),
	}}
	w := &fakeWriter{}
	o := newOrchestrator(testConfig(), src, w, nil)

	summary, err := o.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if summary.Units != 4 || summary.Succeeded != 4 {
		t.Fatalf("summary = %+v", summary)
	}
	if summary.Batches != 2 {
		t.Fatalf("batches = %d, want 2 (4 units / batch size 2)", summary.Batches)
	}
	if summary.FactRows != 40 {
		t.Fatalf("fact rows = %d, want 40", summary.FactRows)
	}

	if w.fact == nil || len(w.fact.Rows) != 40 {
		t.Fatal("fact table not written")
	}
	dim, ok := w.dimensions["dim_category"]
	if !ok {
		t.Fatalf("dimension tables written: %v", w.dimensions)
	}
	if dim.Len() != 3 {
		t.Fatalf("merged category rows = %d, want 3", dim.Len())
	}
	if k, _ := dim.Lookup("accessories"); k != 1 {
		t.Fatalf("accessories key = %d", k)
	}
	if len(w.errRows) != 0 {
		t.Fatalf("unexpected error rows: %v", w.errRows)
	}
	if w.target.FactTable != "fact" || w.target.ErrorTable != "load_errors" {
		t.Fatalf("target = %+v", w.target)
	}
}

func TestRunInjectsAuditColumns(t *testing.T) {
	t.Parallel()

	src := fakeSource{units: []source.Unit{
		salesUnit("a.csv", 5, "toys"),
	}}
	w := &fakeWriter{}
	o := newOrchestrator(testConfig(), src, w, nil)

	if _, err := o.Run(context.Background()); err != nil {
		t.Fatal(err)
	}

	nameCol := w.fact.Index("source_name")
	fileCol := w.fact.Index("source_file")
	if nameCol < 0 || fileCol < 0 {
		t.Fatalf("audit columns missing from fact layout: %v", w.fact.ColumnNames())
	}
	if w.fact.Rows[0][nameCol] != "a.csv" || w.fact.Rows[0][fileCol] != "/in/a.csv" {
		t.Fatalf("audit values = %v, %v", w.fact.Rows[0][nameCol], w.fact.Rows[0][fileCol])
	}
}

func TestRunIsolatesParseErrors(t *testing.T) {
	t.Parallel()

	src := fakeSource{units: []source.Unit{
		salesUnit("good.csv", 3, "toys"),
		fakeUnit{name: "broken.csv", err: errors.New("malformed quoting")},
		salesUnit("also-good.csv", 3, "electronics"),
	}}
	w := &fakeWriter{}
	o := newOrchestrator(testConfig(), src, w, nil)

	summary, err := o.Run(context.Background())
	if err != nil {
		t.Fatalf("parse error must not abort the run: %v", err)
	}

	if summary.Succeeded != 2 || summary.ParseErrors != 1 {
		t.Fatalf("summary = %+v", summary)
	}
	if summary.FactRows != 6 {
		t.Fatalf("fact rows = %d, want only successful units", summary.FactRows)
	}
	if len(w.errRows) != 1 {
		t.Fatalf("error rows = %v", w.errRows)
	}
	e := w.errRows[0]
	if e.Unit != "broken.csv" || e.Stage != "parse" || e.Detail == "" {
		t.Fatalf("error row = %+v", e)
	}
}

func TestRunIsolatesValidationErrors(t *testing.T) {
	t.Parallel()

	src := fakeSource{units: []source.Unit{
		salesUnit("ok.csv", 3, "toys"),
		salesUnit("bad.csv", 3, "toys"),
	}}
	w := &fakeWriter{}
	v := rejectUnits{"bad.csv": "required field missing"}
	o := newOrchestrator(testConfig(), src, w, v)

	summary, err := o.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if summary.Succeeded != 1 || summary.ValidationErrors != 1 {
		t.Fatalf("summary = %+v", summary)
	}
	if summary.FactRows != 3 {
		t.Fatalf("fact rows = %d", summary.FactRows)
	}
	if len(w.errRows) != 1 || w.errRows[0].Stage != "validation" {
		t.Fatalf("error rows = %+v", w.errRows)
	}
}

func TestRunAllUnitsFail(t *testing.T) {
	t.Parallel()

	// Sampling still succeeds (rows parse), but validation rejects every
	// unit, so zero units are admitted anywhere.
	src := fakeSource{units: []source.Unit{
		salesUnit("a.csv", 2, "toys"),
		salesUnit("b.csv", 2, "toys"),
	}}
	w := &fakeWriter{}
	v := rejectUnits{"a.csv": "bad", "b.csv": "bad"}
	o := newOrchestrator(testConfig(), src, w, v)

	summary, err := o.Run(context.Background())
	if !errors.Is(err, ErrNoUsableUnits) {
		t.Fatalf("err = %v, want ErrNoUsableUnits", err)
	}
	if summary == nil || summary.ValidationErrors != 2 {
		t.Fatalf("summary = %+v", summary)
	}
	if len(w.errRows) != 2 {
		t.Fatalf("error rows = %d", len(w.errRows))
	}
}

func TestRunEmptySourceIsFatal(t *testing.T) {
	t.Parallel()

	o := newOrchestrator(testConfig(), fakeSource{}, nil, nil)
	_, err := o.Run(context.Background())
	var infErr *schema.InferenceError
	if !errors.As(err, &infErr) {
		t.Fatalf("err = %v, want *schema.InferenceError", err)
	}
}

func TestRunWithoutWriter(t *testing.T) {
	t.Parallel()

	o := newOrchestrator(testConfig(), fakeSource{units: []source.Unit{
		salesUnit("a.csv", 2, "toys"),
	}}, nil, nil)

	summary, err := o.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if summary.FactRows != 2 {
		t.Fatalf("fact rows = %d", summary.FactRows)
	}
}

func TestRunDeterministicBatching(t *testing.T) {
	t.Parallel()

	units := []source.Unit{
		salesUnit("a.csv", 1, "toys"),
		salesUnit("b.csv", 1, "toys"),
		salesUnit("c.csv", 1, "toys"),
	}
	run := func() []UnitReport {
		o := newOrchestrator(testConfig(), fakeSource{units: units}, nil, nil)
		s, err := o.Run(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		return s.Reports
	}

	a := run()
	b := run()
	if len(a) != len(b) {
		t.Fatal("report lengths differ")
	}
	for i := range a {
		if a[i].Unit != b[i].Unit || a[i].Batch != b[i].Batch {
			t.Fatalf("batch assignment not deterministic: %+v vs %+v", a[i], b[i])
		}
	}
}

func TestRunCancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	o := newOrchestrator(testConfig(), fakeSource{units: []source.Unit{
		salesUnit("a.csv", 2, "toys"),
	}}, nil, nil)

	if _, err := o.Run(ctx); err == nil {
		t.Fatal("cancelled context must abort the run")
	}
}
