package schema

import (
	"errors"
	"fmt"
	"reflect"
	"testing"

	"starschema/internal/config"
	"starschema/internal/records"
)

func testConfig() config.Config {
	cfg := config.Default()
	cfg.IdentifierColumn = "transaction_id"
	return cfg
}

// salesSample builds n rows shaped like a retail extract: unique transaction
// ids, numeric amounts, a low-cardinality category and a free-text note.
func salesSample(n int) []records.Record {
	categories := []string{"electronics", "toys", "accessories"}
	out := make([]records.Record, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, records.Record{
			"transaction_id": fmt.Sprintf("T%04d", i),
			"amount":         fmt.Sprintf("%d.50", i),
			"category":       categories[i%len(categories)],
			"note":           fmt.Sprintf("note for row %d", i),
		})
	}
	return out
}

func TestAnalyzeClassifiesSalesSample(t *testing.T) {
	t.Parallel()

	info, err := Analyze(salesSample(100), testConfig())
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if info.SampleRows != 100 {
		t.Fatalf("SampleRows = %d", info.SampleRows)
	}

	want := map[string]Classification{
		"transaction_id": ClassIdentifier,
		"amount":         ClassMeasure,
		"category":       ClassDimension,
		"note":           ClassPotentialKey, // unique per row, not numeric, not low-cardinality
	}
	for name, class := range want {
		col, ok := info.Column(name)
		if !ok {
			t.Fatalf("column %q missing", name)
		}
		if col.Classification != class {
			t.Errorf("%s classified %s, want %s", name, col.Classification, class)
		}
	}

	id, ok := info.IdentifierColumn()
	if !ok || id != "transaction_id" {
		t.Fatalf("IdentifierColumn = %q, %v", id, ok)
	}
}

func TestAnalyzeCascadeOrder(t *testing.T) {
	t.Parallel()

	// A numeric identifier stays an identifier: the cascade stops at the
	// first match even though every value parses as a number.
	cfg := testConfig()
	var sample []records.Record
	for i := 0; i < 20; i++ {
		sample = append(sample, records.Record{"transaction_id": i})
	}

	info, err := Analyze(sample, cfg)
	if err != nil {
		t.Fatal(err)
	}
	col, _ := info.Column("transaction_id")
	if col.Classification != ClassIdentifier {
		t.Fatalf("numeric identifier classified %s", col.Classification)
	}
	if col.DataType != TypeNumeric {
		t.Fatalf("DataType = %s, want %s", col.DataType, TypeNumeric)
	}
}

func TestAnalyzeAuditColumns(t *testing.T) {
	t.Parallel()

	var sample []records.Record
	for i := 0; i < 10; i++ {
		sample = append(sample, records.Record{
			"source_file": fmt.Sprintf("f%d.csv", i),
			"load_ts":     "2024-01-01T00:00:00Z",
			"v":           i,
		})
	}

	info, err := Analyze(sample, testConfig())
	if err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"source_file", "load_ts"} {
		col, _ := info.Column(name)
		if col.Classification != ClassAudit {
			t.Errorf("%s classified %s, want audit", name, col.Classification)
		}
	}
}

func TestAnalyzeDimensionBoundary(t *testing.T) {
	t.Parallel()

	// Both bounds are strict: a column qualifies as a dimension only when its
	// distinct count is under 10% of the sample AND under the absolute cap.
	build := func(distinct, rows int) []records.Record {
		out := make([]records.Record, 0, rows)
		for i := 0; i < rows; i++ {
			out = append(out, records.Record{"col": fmt.Sprintf("v%03d", i%distinct)})
		}
		return out
	}

	tests := []struct {
		name     string
		distinct int
		rows     int
		want     Classification
	}{
		{"under both bounds", 49, 1000, ClassDimension},
		{"at absolute cap", 50, 1000, ClassAttribute},
		{"at fraction boundary", 100, 1000, ClassAttribute},
		{"just under fraction", 9, 100, ClassDimension},
		{"at fraction strict", 10, 100, ClassAttribute},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			info, err := Analyze(build(tc.distinct, tc.rows), testConfig())
			if err != nil {
				t.Fatal(err)
			}
			col, _ := info.Column("col")
			if col.Classification != tc.want {
				t.Fatalf("distinct=%d rows=%d classified %s, want %s",
					tc.distinct, tc.rows, col.Classification, tc.want)
			}
		})
	}
}

func TestAnalyzeMeasureThreshold(t *testing.T) {
	t.Parallel()

	// 100 high-cardinality values, 81 numeric: ratio 0.81 > 0.8.
	var over []records.Record
	for i := 0; i < 81; i++ {
		over = append(over, records.Record{"mixed": fmt.Sprintf("%d.5", i*7)})
	}
	for i := 0; i < 19; i++ {
		over = append(over, records.Record{"mixed": fmt.Sprintf("txt-%d", i)})
	}

	info, err := Analyze(over, testConfig())
	if err != nil {
		t.Fatal(err)
	}
	col, _ := info.Column("mixed")
	if col.Classification != ClassMeasure {
		t.Fatalf("ratio 0.81 classified %s, want measure", col.Classification)
	}
	if col.DataType != TypeMixedNumeric {
		t.Fatalf("DataType = %s, want %s", col.DataType, TypeMixedNumeric)
	}

	// Exactly at the threshold is not a measure: the rule is strict >.
	var at []records.Record
	for i := 0; i < 80; i++ {
		at = append(at, records.Record{"mixed": fmt.Sprintf("%d.5", i*7)})
	}
	for i := 0; i < 20; i++ {
		at = append(at, records.Record{"mixed": fmt.Sprintf("txt-%d", i)})
	}
	info, err = Analyze(at, testConfig())
	if err != nil {
		t.Fatal(err)
	}
	col, _ = info.Column("mixed")
	if col.Classification == ClassMeasure {
		t.Fatal("ratio exactly at threshold classified as measure")
	}
}

func TestAnalyzeAllNullColumn(t *testing.T) {
	t.Parallel()

	// A 100%-null column has zero distinct values, which satisfies the
	// dimension rule (0 < bounds). Ratios stay finite.
	var sample []records.Record
	for i := 0; i < 30; i++ {
		sample = append(sample, records.Record{"present": i, "ghost": nil})
	}

	info, err := Analyze(sample, testConfig())
	if err != nil {
		t.Fatal(err)
	}
	col, ok := info.Column("ghost")
	if !ok {
		t.Fatal("all-null column dropped from schema")
	}
	if col.Classification != ClassDimension {
		t.Fatalf("all-null classified %s, want dimension", col.Classification)
	}
	if col.NullRatio != 1 {
		t.Fatalf("NullRatio = %v", col.NullRatio)
	}
	if col.NumericRatio != 0 || col.MeanLength != 0 {
		t.Fatalf("ratios not guarded: %+v", col.ColumnProfile)
	}
}

func TestAnalyzeAbsentKeyCountsAsNull(t *testing.T) {
	t.Parallel()

	sample := []records.Record{
		{"a": "x", "b": "1"},
		{"a": "y"},
		{"a": "z"},
	}
	info, err := Analyze(sample, testConfig())
	if err != nil {
		t.Fatal(err)
	}
	col, _ := info.Column("b")
	if got := col.NullRatio; got < 0.66 || got > 0.67 {
		t.Fatalf("NullRatio = %v, want 2/3", got)
	}
}

func TestAnalyzeEmptySample(t *testing.T) {
	t.Parallel()

	_, err := Analyze(nil, testConfig())
	if err == nil {
		t.Fatal("expected error for empty sample")
	}
	var infErr *InferenceError
	if !errors.As(err, &infErr) {
		t.Fatalf("error type %T, want *InferenceError", err)
	}
}

func TestAnalyzeDeterministic(t *testing.T) {
	t.Parallel()

	sample := salesSample(60)
	a, err := Analyze(sample, testConfig())
	if err != nil {
		t.Fatal(err)
	}
	b, err := Analyze(sample, testConfig())
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(a.Columns, b.Columns) {
		t.Fatal("same sample produced different schemas")
	}
}

func TestSampleValuesBoundedAndSorted(t *testing.T) {
	t.Parallel()

	sample := []records.Record{
		{"c": "delta"}, {"c": "alpha"}, {"c": "echo"}, {"c": "bravo"}, {"c": "charlie"},
	}
	info, err := Analyze(sample, testConfig())
	if err != nil {
		t.Fatal(err)
	}
	col, _ := info.Column("c")
	want := []string{"alpha", "bravo", "charlie"}
	if !reflect.DeepEqual(col.SampleValues, want) {
		t.Fatalf("SampleValues = %v, want %v", col.SampleValues, want)
	}
}
