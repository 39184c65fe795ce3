package storage

import (
	"context"
	"testing"
	"time"

	"starschema/internal/star"
)

type stubWriter struct{}

func (stubWriter) Close()                                                          {}
func (stubWriter) EnsureTables(context.Context, Target, *star.MergedStarSchema) error { return nil }
func (stubWriter) WriteDimension(context.Context, string, *star.DimensionTable) error { return nil }
func (stubWriter) WriteFact(context.Context, string, *star.FactTable) error           { return nil }
func (stubWriter) WriteErrors(context.Context, string, []ErrorRow) error              { return nil }

func TestRegisterAndNew(t *testing.T) {
	Register("stub", func(ctx context.Context, cfg Config) (Writer, error) {
		return stubWriter{}, nil
	})

	w, err := New(context.Background(), Config{Kind: "stub", DSN: "ignored"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, ok := w.(stubWriter); !ok {
		t.Fatalf("New returned %T", w)
	}
}

func TestNewUnknownKind(t *testing.T) {
	t.Parallel()

	if _, err := New(context.Background(), Config{Kind: "nope"}); err == nil {
		t.Fatal("unknown kind accepted")
	}
	if _, err := New(context.Background(), Config{}); err == nil {
		t.Fatal("empty kind accepted")
	}
}

func TestRegisterDuplicatePanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("duplicate registration did not panic")
		}
	}()
	f := func(ctx context.Context, cfg Config) (Writer, error) { return stubWriter{}, nil }
	Register("dup", f)
	Register("dup", f)
}

func TestTargetDimensionTable(t *testing.T) {
	t.Parallel()

	target := Target{DimensionPrefix: "dim_"}
	if got := target.DimensionTable("category"); got != "dim_category" {
		t.Fatalf("DimensionTable = %q", got)
	}
}

func TestDimensionConflicts(t *testing.T) {
	t.Parallel()

	// apple=1, cherry=2
	dim := star.NewDimensionTable("fruit", []string{"apple", "cherry"}, time.Unix(0, 0).UTC())

	tests := []struct {
		name     string
		existing map[int64]string
		wantErr  bool
	}{
		{"empty table", nil, false},
		{"identical rows", map[int64]string{1: "apple", 2: "cherry"}, false},
		{"stored row outside this run", map[int64]string{5: "pear"}, false},
		{"stored key holds different value", map[int64]string{1: "apple", 2: "banana"}, true},
		{"stored value holds different key", map[int64]string{3: "cherry"}, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			err := DimensionConflicts(tc.existing, dim)
			if (err != nil) != tc.wantErr {
				t.Fatalf("DimensionConflicts(%v) = %v, wantErr %v", tc.existing, err, tc.wantErr)
			}
		})
	}
}

func TestChunkRows(t *testing.T) {
	t.Parallel()

	rows := make([][]any, 10)
	for i := range rows {
		rows[i] = []any{i, i}
	}

	tests := []struct {
		name      string
		maxParams int
		width     int
		wantLens  []int
	}{
		{"all in one", 100, 2, []int{10}},
		{"split evenly", 10, 2, []int{5, 5}},
		{"uneven tail", 6, 2, []int{3, 3, 3, 1}},
		{"width exceeds budget", 1, 2, []int{1, 1, 1, 1, 1, 1, 1, 1, 1, 1}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			chunks := ChunkRows(rows, tc.maxParams, tc.width)
			if len(chunks) != len(tc.wantLens) {
				t.Fatalf("chunks = %d, want %d", len(chunks), len(tc.wantLens))
			}
			total := 0
			for i, c := range chunks {
				if len(c) != tc.wantLens[i] {
					t.Fatalf("chunk %d len = %d, want %d", i, len(c), tc.wantLens[i])
				}
				total += len(c)
			}
			if total != len(rows) {
				t.Fatalf("chunks cover %d rows, want %d", total, len(rows))
			}
		})
	}

	if got := ChunkRows(nil, 10, 2); got != nil {
		t.Fatalf("ChunkRows(nil) = %v", got)
	}
}
