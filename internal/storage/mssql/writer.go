// Package mssql implements the storage.Writer interface on Microsoft SQL
// Server via database/sql and the go-mssqldb driver.
package mssql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/microsoft/go-mssqldb"

	"starschema/internal/star"
	"starschema/internal/storage"
)

// maxParams stays under the 2100 bind parameter limit of TDS RPC calls.
const maxParams = 2000

// Writer implements storage.Writer for SQL Server.
type Writer struct {
	db *sql.DB
}

func init() {
	storage.Register("mssql", New)
}

func New(ctx context.Context, cfg storage.Config) (storage.Writer, error) {
	db, err := sql.Open("sqlserver", cfg.DSN)
	if err != nil {
		return nil, err
	}

	// Conservative defaults for bursty end-of-run loads.
	db.SetMaxOpenConns(64)
	db.SetMaxIdleConns(64)

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

// WriteDimension inserts dimension rows one value at a time behind a NOT
// EXISTS guard: SQL Server has no ON CONFLICT, and MERGE is overkill for an
// append-only value set. Rows already stored under a conflicting key
// assignment fail the write before any insert.
func (w *Writer) WriteDimension(ctx context.Context, table string, dim *star.DimensionTable) error {
	existing, err := w.readDimension(ctx, table, dim.Name)
	if err != nil {
		return fmt.Errorf("read dimension %s: %w", table, err)
	}
	if err := storage.DimensionConflicts(existing, dim); err != nil {
		return fmt.Errorf("dimension %s: %w", table, err)
	}

	q := fmt.Sprintf(
		`INSERT INTO %s (%s, %s, created_date, is_active)
SELECT @p1, @p2, @p3, @p4
WHERE NOT EXISTS (SELECT 1 FROM %s WHERE %s = @p2);`,
		msIdent(table), msIdent(star.DimensionKeyColumn(dim.Name)), msIdent(dim.Name),
		msIdent(table), msIdent(dim.Name),
	)

	for _, r := range dim.Rows {
		if _, err := w.db.ExecContext(ctx, q, r.Key, r.Value, r.CreatedDate, r.IsActive); err != nil {
			return fmt.Errorf("insert dimension %s: %w", table, err)
		}
	}
	return nil
}

func (w *Writer) WriteFact(ctx context.Context, table string, fact *star.FactTable) error {
	cols := fact.ColumnNames()
	for _, chunk := range storage.ChunkRows(fact.Rows, maxParams, len(cols)) {
		q, args := buildInsertSQL(table, cols, chunk)
		if _, err := w.db.ExecContext(ctx, q, args...); err != nil {
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
		q, args := buildInsertSQL(table, cols, chunk)
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
		msIdent(star.DimensionKeyColumn(dimension)), msIdent(dimension), msIdent(table))
}

// buildInsertSQL constructs one multi-row INSERT with @pN placeholders and
// positionally named args, pure for unit testing.
func buildInsertSQL(table string, columns []string, rows [][]any) (string, []any) {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(msIdent(table))
	b.WriteString(" (")
	for i, c := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(msIdent(c))
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
			fmt.Fprintf(&b, "@p%d", p)
			args = append(args, sql.Named(fmt.Sprintf("p%d", p), row[j]))
			p++
		}
		b.WriteString(")")
	}

	b.WriteString(";")
	return b.String(), args
}

func dimensionDDL(table, dimension string) string {
	return fmt.Sprintf(`IF OBJECT_ID(N'%s', N'U') IS NULL
CREATE TABLE %s (
  %s BIGINT PRIMARY KEY,
  %s NVARCHAR(450) NOT NULL UNIQUE,
  created_date DATETIMEOFFSET NOT NULL,
  is_active BIT NOT NULL
);`, table, msIdent(table), msIdent(star.DimensionKeyColumn(dimension)), msIdent(dimension))
}

func factDDL(table string, columns []star.FactColumn) string {
	parts := make([]string, 0, len(columns))
	for _, c := range columns {
		parts = append(parts, fmt.Sprintf("%s %s", msIdent(c.Name), sqlType(c.Kind)))
	}
	return fmt.Sprintf("IF OBJECT_ID(N'%s', N'U') IS NULL\nCREATE TABLE %s (\n  %s\n);",
		table, msIdent(table), strings.Join(parts, ",\n  "))
}

func errorDDL(table string) string {
	return fmt.Sprintf(`IF OBJECT_ID(N'%s', N'U') IS NULL
CREATE TABLE %s (
  run_id NVARCHAR(64) NOT NULL,
  unit NVARCHAR(400) NOT NULL,
  stage NVARCHAR(32) NOT NULL,
  detail NVARCHAR(MAX),
  occurred_at DATETIMEOFFSET NOT NULL
);`, table, msIdent(table))
}

func sqlType(k star.ColumnKind) string {
	switch k {
	case star.KindInteger:
		return "BIGINT"
	case star.KindNumber:
		return "FLOAT"
	case star.KindTimestamp:
		return "DATETIMEOFFSET"
	default:
		return "NVARCHAR(MAX)"
	}
}

func msIdent(id string) string {
	return "[" + strings.ReplaceAll(id, "]", "]]") + "]"
}
