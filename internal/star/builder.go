package star

import (
	"sort"
	"time"

	"starschema/internal/config"
	"starschema/internal/records"
	"starschema/internal/schema"
)

// Fact metadata column names appended by the builder.
const (
	ColumnBatchID     = "batch_id"
	ColumnRowHash     = "row_hash"
	ColumnRecordCount = "record_count"
)

// Builder turns one batch of rows into a BatchResult using the schema
// inferred once per run. The column partition is compiled in NewBuilder so
// per-batch work is a plain loop over rows.
type Builder struct {
	cfg  config.Config
	info *schema.Info

	identifier    string // empty when the batch must synthesize ids
	measures      []string
	dimensions    []string
	audit         []string
	hashFields    []string
	countFallback bool

	columns []FactColumn
}

// NewBuilder compiles the column partition for a run.
func NewBuilder(cfg config.Config, info *schema.Info) *Builder {
	b := &Builder{cfg: cfg, info: info}

	b.identifier, _ = info.IdentifierColumn()
	b.measures = info.ColumnsByClass(schema.ClassMeasure)
	b.dimensions = info.ColumnsByClass(schema.ClassDimension)
	b.audit = auditInSchema(cfg, info)
	b.countFallback = len(b.measures) == 0

	// The fingerprint covers the natural content of the row: identifier,
	// measures and raw dimension values. Audit and load metadata stay out so
	// reprocessing the same source yields the same hash.
	b.hashFields = append(b.hashFields, b.measures...)
	b.hashFields = append(b.hashFields, b.dimensions...)
	if b.identifier != "" {
		b.hashFields = append(b.hashFields, b.identifier)
	}
	sort.Strings(b.hashFields)

	idName := b.identifier
	if idName == "" {
		idName = cfg.SyntheticIDColumn
	}
	idKind := KindText
	if b.identifier == "" {
		idKind = KindInteger
	}

	b.columns = append(b.columns, FactColumn{Name: idName, Kind: idKind})
	for _, m := range b.measures {
		b.columns = append(b.columns, FactColumn{Name: m, Kind: KindNumber})
	}
	if b.countFallback {
		b.columns = append(b.columns, FactColumn{Name: ColumnRecordCount, Kind: KindNumber})
	}
	for _, d := range b.dimensions {
		b.columns = append(b.columns, FactColumn{Name: DimensionKeyColumn(d), Kind: KindInteger})
	}
	for _, a := range b.audit {
		b.columns = append(b.columns, FactColumn{Name: a, Kind: KindText})
	}
	b.columns = append(b.columns,
		FactColumn{Name: cfg.AuditColumns.LoadTS, Kind: KindTimestamp},
		FactColumn{Name: ColumnBatchID, Kind: KindText},
		FactColumn{Name: ColumnRowHash, Kind: KindText},
	)

	return b
}

// auditInSchema returns the reserved audit columns that actually occur in the
// schema, sorted. The load timestamp is excluded: the builder stamps it
// itself on every fact row.
func auditInSchema(cfg config.Config, info *schema.Info) []string {
	var out []string
	for _, name := range info.ColumnsByClass(schema.ClassAudit) {
		if name == cfg.AuditColumns.LoadTS {
			continue
		}
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Dimensions returns the dimension column names the builder partitions on.
func (b *Builder) Dimensions() []string {
	return append([]string(nil), b.dimensions...)
}

// Columns returns the fact column layout shared by every batch of the run.
func (b *Builder) Columns() []FactColumn {
	return append([]FactColumn(nil), b.columns...)
}

// Build constructs the BatchResult for one batch of rows.
//
// An empty batch yields an empty fact table and an empty dimension map; that
// is a normal outcome, not an error. Measure values that fail to parse as
// numbers become nulls. Null dimension values never get a dimension row and
// produce a null foreign key.
func (b *Builder) Build(batchID string, rows []records.Record, loadTime time.Time) *BatchResult {
	res := &BatchResult{
		BatchID:    batchID,
		Fact:       FactTable{Columns: b.Columns()},
		Dimensions: map[string]*DimensionTable{},
	}
	if len(rows) == 0 {
		return res
	}

	// Batch-local dimension tables: distinct non-null values, ascending,
	// keys 1..K.
	for _, d := range b.dimensions {
		var values []string
		for _, r := range rows {
			v, ok := r[d]
			if !ok || records.IsNull(v) {
				continue
			}
			values = append(values, records.CanonicalString(v))
		}
		res.Dimensions[d] = NewDimensionTable(d, values, loadTime)
	}

	res.Fact.Rows = make([][]any, 0, len(rows))
	for i, r := range rows {
		out := make([]any, 0, len(b.columns))

		// Identifier: the schema's identifier column, or a batch-local
		// sequential id. Synthesized ids are NOT globally unique across
		// batches; batch_id disambiguates downstream.
		if b.identifier != "" {
			if v, ok := r[b.identifier]; ok && !records.IsNull(v) {
				out = append(out, records.CanonicalString(v))
			} else {
				out = append(out, nil)
			}
		} else {
			out = append(out, int64(i+1))
		}

		for _, m := range b.measures {
			if f, ok := records.ParseNumber(r[m]); ok {
				out = append(out, f)
			} else {
				out = append(out, nil)
			}
		}
		if b.countFallback {
			out = append(out, float64(1))
		}

		for _, d := range b.dimensions {
			v, ok := r[d]
			if !ok || records.IsNull(v) {
				out = append(out, nil)
				continue
			}
			key, ok := res.Dimensions[d].Lookup(records.CanonicalString(v))
			if !ok {
				// Values were collected from these same rows; a miss here
				// would be a builder bug, surfaced as a null key.
				out = append(out, nil)
				continue
			}
			out = append(out, key)
		}

		for _, a := range b.audit {
			if v, ok := r[a]; ok && !records.IsNull(v) {
				out = append(out, records.CanonicalString(v))
			} else {
				out = append(out, nil)
			}
		}

		out = append(out, loadTime, batchID, records.Fingerprint(r, b.hashFields))
		res.Fact.Rows = append(res.Fact.Rows, out)
	}

	return res
}
