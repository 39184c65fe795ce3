// Package storage defines the backend-agnostic destination for a merged star
// schema and the registry the concrete backends plug into.
package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"starschema/internal/star"
)

// Config selects and configures a storage backend.
//
// Kind must match a registered backend kind ("postgres", "sqlite", "mssql").
// DSN is passed through to the backend factory; validation is
// backend-specific.
type Config struct {
	Kind string
	DSN  string
}

// Target names the destination tables of a run. Dimension tables are derived
// from the dimension column name and the configured prefix.
type Target struct {
	FactTable       string
	ErrorTable      string
	DimensionPrefix string
}

// DimensionTable returns the destination table for a dimension column.
func (t Target) DimensionTable(dimension string) string {
	return t.DimensionPrefix + dimension
}

// ErrorRow is one persisted per-unit failure.
type ErrorRow struct {
	RunID      string
	Unit       string
	Stage      string // "parse" | "validation"
	Detail     string
	OccurredAt time.Time
}

// Writer persists a merged star schema. Each backend implements these
// semantics in its own idiomatic way (Postgres ON CONFLICT, SQLite OR
// IGNORE, MSSQL NOT EXISTS).
type Writer interface {
	// Close releases backend resources. Call once at shutdown.
	Close()

	// EnsureTables creates the fact, dimension and error tables if they do
	// not exist. Idempotent; safe to run on every invocation.
	EnsureTables(ctx context.Context, target Target, schema *star.MergedStarSchema) error

	// WriteDimension upserts dimension rows by value: rows already present
	// with the same key and value are left untouched. Stored rows that
	// disagree with this run's key assignment fail the write; see
	// DimensionConflicts.
	WriteDimension(ctx context.Context, table string, dim *star.DimensionTable) error

	// WriteFact appends fact rows. Fact rows are never deduplicated.
	WriteFact(ctx context.Context, table string, fact *star.FactTable) error

	// WriteErrors appends per-unit failure rows.
	WriteErrors(ctx context.Context, table string, rows []ErrorRow) error
}

type factory func(ctx context.Context, cfg Config) (Writer, error)

var (
	mu        sync.RWMutex
	factories = map[string]factory{}
)

// Register registers a backend factory under a kind. Call from an init()
// function in the backend package.
//
// Panics on empty kind, nil factory, or duplicate registration: ambiguous
// backend selection should fail at startup, not at run time.
func Register(kind string, f factory) {
	mu.Lock()
	defer mu.Unlock()

	if kind == "" {
		panic("storage: Register called with empty kind")
	}
	if f == nil {
		panic("storage: Register called with nil factory")
	}
	if _, exists := factories[kind]; exists {
		panic(fmt.Sprintf("storage: factory already registered for kind=%q", kind))
	}

	factories[kind] = f
}

// New constructs a Writer for the configured backend kind.
func New(ctx context.Context, cfg Config) (Writer, error) {
	if cfg.Kind == "" {
		return nil, fmt.Errorf("storage: missing kind")
	}

	mu.RLock()
	f := factories[cfg.Kind]
	mu.RUnlock()

	if f == nil {
		return nil, fmt.Errorf("unsupported storage kind=%q", cfg.Kind)
	}
	return f(ctx, cfg)
}

// DimensionConflicts checks rows already stored in a dimension table against
// this run's table. Surrogate keys are assigned per run, so a database loaded
// by an earlier run may hold the same key under a different value or the same
// value under a different key; insert-or-ignore loading would then drop rows
// and leave fact foreign keys resolving to the wrong value. Writers call this
// before inserting and abort on the first mismatch. Stored rows whose key and
// value are both absent from this run's table are ignored.
func DimensionConflicts(existing map[int64]string, dim *star.DimensionTable) error {
	for key, value := range existing {
		if v, ok := dim.Value(key); ok && v != value {
			return fmt.Errorf("stored key %d holds %q but this run assigned it %q", key, value, v)
		}
		if k, ok := dim.Lookup(value); ok && k != key {
			return fmt.Errorf("stored value %q has key %d but this run assigned it key %d", value, key, k)
		}
	}
	return nil
}

// ChunkRows splits a multi-row insert so no chunk exceeds the backend's bind
// parameter budget. width is the number of parameters per row.
func ChunkRows(rows [][]any, maxParams, width int) [][][]any {
	if len(rows) == 0 {
		return nil
	}
	perChunk := 1
	if width > 0 && maxParams/width > 0 {
		perChunk = maxParams / width
	}

	var out [][][]any
	for start := 0; start < len(rows); start += perChunk {
		end := start + perChunk
		if end > len(rows) {
			end = len(rows)
		}
		out = append(out, rows[start:end])
	}
	return out
}
