// Package postgres implements the storage.Writer interface on PostgreSQL via
// pgx connection pools.
package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"starschema/internal/star"
	"starschema/internal/storage"
)

// maxParams stays under the 65535 bind parameter limit of the extended query
// protocol with room to spare.
const maxParams = 60000

// Writer implements storage.Writer for Postgres.
type Writer struct {
	pool *pgxpool.Pool
}

func init() {
	storage.Register("postgres", New)
}

func New(ctx context.Context, cfg storage.Config) (storage.Writer, error) {
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return &Writer{pool: pool}, nil
}

func (w *Writer) Close() { w.pool.Close() }

func (w *Writer) EnsureTables(ctx context.Context, target storage.Target, schema *star.MergedStarSchema) error {
	for name := range schema.Dimensions {
		table := target.DimensionTable(name)
		if _, err := w.pool.Exec(ctx, dimensionDDL(table, name)); err != nil {
			return fmt.Errorf("create dimension table %s: %w", table, err)
		}
	}
	if _, err := w.pool.Exec(ctx, factDDL(target.FactTable, schema.Fact.Columns)); err != nil {
		return fmt.Errorf("create fact table %s: %w", target.FactTable, err)
	}
	if target.ErrorTable != "" {
		if _, err := w.pool.Exec(ctx, errorDDL(target.ErrorTable)); err != nil {
			return fmt.Errorf("create error table %s: %w", target.ErrorTable, err)
		}
	}
	return nil
}

// WriteDimension inserts dimension rows with ON CONFLICT DO NOTHING on the
// value column, so reprocessing the same values is idempotent. Rows already
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
		rows = append(rows, []any{r.Key, r.Value, r.CreatedDate, r.IsActive})
	}

	cols := []string{star.DimensionKeyColumn(dim.Name), dim.Name, "created_date", "is_active"}
	conflict := fmt.Sprintf(" ON CONFLICT (%s) DO NOTHING", pgIdent(dim.Name))
	for _, chunk := range storage.ChunkRows(rows, maxParams, len(cols)) {
		q, args := buildInsertSQL(table, cols, chunk, conflict)
		if _, err := w.pool.Exec(ctx, q, args...); err != nil {
			return fmt.Errorf("insert dimension %s: %w", table, err)
		}
	}
	return nil
}

func (w *Writer) WriteFact(ctx context.Context, table string, fact *star.FactTable) error {
	cols := fact.ColumnNames()
	for _, chunk := range storage.ChunkRows(fact.Rows, maxParams, len(cols)) {
		q, args := buildInsertSQL(table, cols, chunk, "")
		if _, err := w.pool.Exec(ctx, q, args...); err != nil {
			return fmt.Errorf("insert fact %s: %w", table, err)
		}
	}
	return nil
}

func (w *Writer) WriteErrors(ctx context.Context, table string, errRows []storage.ErrorRow) error {
	rows := make([][]any, 0, len(errRows))
	for _, e := range errRows {
		rows = append(rows, []any{e.RunID, e.Unit, e.Stage, e.Detail, e.OccurredAt})
	}

	cols := []string{"run_id", "unit", "stage", "detail", "occurred_at"}
	for _, chunk := range storage.ChunkRows(rows, maxParams, len(cols)) {
		q, args := buildInsertSQL(table, cols, chunk, "")
		if _, err := w.pool.Exec(ctx, q, args...); err != nil {
			return fmt.Errorf("insert errors %s: %w", table, err)
		}
	}
	return nil
}

func (w *Writer) readDimension(ctx context.Context, table, dimension string) (map[int64]string, error) {
	rows, err := w.pool.Query(ctx, selectDimensionSQL(table, dimension))
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
		pgIdent(star.DimensionKeyColumn(dimension)), pgIdent(dimension), pgIdent(table))
}

// buildInsertSQL constructs one multi-row INSERT and its args. Pure and
// deterministic so placeholder numbering and conflict clauses are unit
// testable without a database.
func buildInsertSQL(table string, columns []string, rows [][]any, suffix string) (string, []any) {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(pgIdent(table))
	b.WriteString(" (")
	for i, c := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(pgIdent(c))
	}
	b.WriteString(") VALUES ")

	args := make([]any, 0, len(rows)*len(columns))
	p := 1
	for i, row := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(")
		for j := range columns {
			if j > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "$%d", p)
			args = append(args, row[j])
			p++
		}
		b.WriteString(")")
	}

	b.WriteString(suffix)
	return b.String(), args
}

func dimensionDDL(table, dimension string) string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
  %s BIGINT PRIMARY KEY,
  %s TEXT NOT NULL UNIQUE,
  created_date TIMESTAMPTZ NOT NULL,
  is_active BOOLEAN NOT NULL
);`, pgIdent(table), pgIdent(star.DimensionKeyColumn(dimension)), pgIdent(dimension))
}

func factDDL(table string, columns []star.FactColumn) string {
	parts := make([]string, 0, len(columns))
	for _, c := range columns {
		parts = append(parts, fmt.Sprintf("%s %s", pgIdent(c.Name), sqlType(c.Kind)))
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n  %s\n);", pgIdent(table), strings.Join(parts, ",\n  "))
}

func errorDDL(table string) string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
  run_id TEXT NOT NULL,
  unit TEXT NOT NULL,
  stage TEXT NOT NULL,
  detail TEXT,
  occurred_at TIMESTAMPTZ NOT NULL
);`, pgIdent(table))
}

func sqlType(k star.ColumnKind) string {
	switch k {
	case star.KindInteger:
		return "BIGINT"
	case star.KindNumber:
		return "DOUBLE PRECISION"
	case star.KindTimestamp:
		return "TIMESTAMPTZ"
	default:
		return "TEXT"
	}
}

func pgIdent(id string) string {
	return `"` + strings.ReplaceAll(id, `"`, `""`) + `"`
}
