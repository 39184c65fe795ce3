// Package sqlite implements the storage.Writer interface on SQLite via
// modernc.org/sqlite (pure Go, no cgo).
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"starschema/internal/star"
	"starschema/internal/storage"
)

// maxParams stays well under SQLITE_MAX_VARIABLE_NUMBER on every build of the
// driver.
const maxParams = 900

// Writer implements storage.Writer for SQLite.
//
// SQLite has no native timestamp type, so timestamps are stored as
// RFC3339Nano TEXT for reliable round trips with modernc.org/sqlite.
type Writer struct {
	db *sql.DB
}

func init() {
	storage.Register("sqlite", New)
}

func New(ctx context.Context, cfg storage.Config) (storage.Writer, error) {
	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Writer{db: db}, nil
}

func (w *Writer) Close() { _ = w.db.Close() }

func (w *Writer) EnsureTables(ctx context.Context, target storage.Target, schema *star.MergedStarSchema) error {
	for name := range schema.Dimensions {
		table := target.DimensionTable(name)
		if _, err := w.db.ExecContext(ctx, dimensionDDL(table, name)); err != nil {
			return fmt.Errorf("create dimension table %s: %w", table, err)
		}
	}
	if _, err := w.db.ExecContext(ctx, factDDL(target.FactTable, schema.Fact.Columns)); err != nil {
		return fmt.Errorf("create fact table %s: %w", target.FactTable, err)
	}
	if target.ErrorTable != "" {
		if _, err := w.db.ExecContext(ctx, errorDDL(target.ErrorTable)); err != nil {
			return fmt.Errorf("create error table %s: %w", target.ErrorTable, err)
		}
	}
	return nil
}

// WriteDimension inserts dimension rows with INSERT OR IGNORE, which relies
// on the UNIQUE constraint on the value column for idempotency. Rows already
// stored under a conflicting key assignment fail the write before any insert.
func (w *Writer) WriteDimension(ctx context.Context, table string, dim *star.DimensionTable) error {
	existing, err := w.readDimension(ctx, table, dim.Name)
	if err != nil {
		return fmt.Errorf("read dimension %s: %w", table, err)
	}
	if err := storage.DimensionConflicts(existing, dim); err != nil {
		return fmt.Errorf("dimension %s: %w", table, err)
	}

	rows := make([][]any, 0, dim.Len())
	for _, r := range dim.Rows {
		rows = append(rows, []any{r.Key, r.Value, formatTime(r.CreatedDate), boolInt(r.IsActive)})
	}

	cols := []string{star.DimensionKeyColumn(dim.Name), dim.Name, "created_date", "is_active"}
	for _, chunk := range storage.ChunkRows(rows, maxParams, len(cols)) {
		q, args := buildInsertSQL("INSERT OR IGNORE INTO ", table, cols, chunk)
		if _, err := w.db.ExecContext(ctx, q, args...); err != nil {
			return fmt.Errorf("insert dimension %s: %w", table, err)
		}
	}
	return nil
}

func (w *Writer) WriteFact(ctx context.Context, table string, fact *star.FactTable) error {
	rows := make([][]any, 0, len(fact.Rows))
	for _, r := range fact.Rows {
		out := append([]any(nil), r...)
		for i, c := range fact.Columns {
			if c.Kind == star.KindTimestamp {
				if t, ok := out[i].(time.Time); ok {
					out[i] = formatTime(t)
				}
			}
		}
		rows = append(rows, out)
	}

	cols := fact.ColumnNames()
	for _, chunk := range storage.ChunkRows(rows, maxParams, len(cols)) {
		q, args := buildInsertSQL("INSERT INTO ", table, cols, chunk)
		if _, err := w.db.ExecContext(ctx, q, args...); err != nil {
			return fmt.Errorf("insert fact %s: %w", table, err)
		}
	}
	return nil
}

func (w *Writer) WriteErrors(ctx context.Context, table string, errRows []storage.ErrorRow) error {
	rows := make([][]any, 0, len(errRows))
	for _, e := range errRows {
		rows = append(rows, []any{e.RunID, e.Unit, e.Stage, e.Detail, formatTime(e.OccurredAt)})
	}

	cols := []string{"run_id", "unit", "stage", "detail", "occurred_at"}
	for _, chunk := range storage.ChunkRows(rows, maxParams, len(cols)) {
		q, args := buildInsertSQL("INSERT INTO ", table, cols, chunk)
		if _, err := w.db.ExecContext(ctx, q, args...); err != nil {
			return fmt.Errorf("insert errors %s: %w", table, err)
		}
	}
	return nil
}

func (w *Writer) readDimension(ctx context.Context, table, dimension string) (map[int64]string, error) {
	rows, err := w.db.QueryContext(ctx, selectDimensionSQL(table, dimension))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[int64]string{}
	for rows.Next() {
		var key int64
		var value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, err
		}
		out[key] = value
	}
	return out, rows.Err()
}

func selectDimensionSQL(table, dimension string) string {
	return fmt.Sprintf("SELECT %s, %s FROM %s;",
		sqlIdent(star.DimensionKeyColumn(dimension)), sqlIdent(dimension), sqlIdent(table))
}

func buildInsertSQL(prefix, table string, columns []string, rows [][]any) (string, []any) {
	colList := make([]string, 0, len(columns))
	for _, c := range columns {
		colList = append(colList, sqlIdent(c))
	}
	placeholders := "(" + strings.TrimRight(strings.Repeat("?,", len(columns)), ",") + ")"

	var b strings.Builder
	b.WriteString(prefix)
	b.WriteString(sqlIdent(table))
	b.WriteString(" (")
	b.WriteString(strings.Join(colList, ", "))
	b.WriteString(") VALUES ")

	args := make([]any, 0, len(rows)*len(columns))
	for i, row := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(placeholders)
		args = append(args, row...)
	}
	return b.String(), args
}

func dimensionDDL(table, dimension string) string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
  %s INTEGER PRIMARY KEY,
  %s TEXT NOT NULL UNIQUE,
  created_date TEXT NOT NULL,
  is_active INTEGER NOT NULL
);`, sqlIdent(table), sqlIdent(star.DimensionKeyColumn(dimension)), sqlIdent(dimension))
}

func factDDL(table string, columns []star.FactColumn) string {
	parts := make([]string, 0, len(columns))
	for _, c := range columns {
		parts = append(parts, fmt.Sprintf("%s %s", sqlIdent(c.Name), sqlType(c.Kind)))
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n  %s\n);", sqlIdent(table), strings.Join(parts, ",\n  "))
}

func errorDDL(table string) string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
  run_id TEXT NOT NULL,
  unit TEXT NOT NULL,
  stage TEXT NOT NULL,
  detail TEXT,
  occurred_at TEXT NOT NULL
);`, sqlIdent(table))
}

func sqlType(k star.ColumnKind) string {
	switch k {
	case star.KindInteger:
		return "INTEGER"
	case star.KindNumber:
		return "REAL"
	case star.KindTimestamp:
		return "TEXT"
	default:
		return "TEXT"
	}
}

func sqlIdent(id string) string {
	return `"` + strings.ReplaceAll(id, `"`, `""`) + `"`
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func boolInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}
