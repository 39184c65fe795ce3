// Package star builds per-batch star schemas (one fact table plus dimension
// tables with dense surrogate keys) and merges independently built batches
// into one globally consistent schema.
package star

import (
	"sort"
	"time"
)

// ColumnKind is the coarse storage type of a fact column. Writer backends map
// kinds onto their own SQL types.
type ColumnKind string

const (
	KindText      ColumnKind = "text"
	KindNumber    ColumnKind = "number"
	KindInteger   ColumnKind = "integer"
	KindTimestamp ColumnKind = "timestamp"
)

// FactColumn names one fact-table column and its kind.
type FactColumn struct {
	Name string
	Kind ColumnKind
}

// FactTable holds fact rows positionally, aligned to Columns.
type FactTable struct {
	Columns []FactColumn
	Rows    [][]any
}

// Index returns the position of a column by name, -1 when absent.
func (t *FactTable) Index(name string) int {
	for i, c := range t.Columns {
		if c.Name == name {
			return i
		}
	}
	return -1
}

// ColumnNames returns the column names in table order.
func (t *FactTable) ColumnNames() []string {
	out := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		out[i] = c.Name
	}
	return out
}

// DimensionRow is one dimension value with its surrogate key.
type DimensionRow struct {
	Key         int64
	Value       string
	CreatedDate time.Time
	IsActive    bool
}

// DimensionTable holds the distinct values of one dimension column.
//
// Invariants: Value is unique within the table; keys are dense integers
// starting at 1, assigned in ascending sort order of Value.
type DimensionTable struct {
	Name string
	Rows []DimensionRow

	keyByValue map[string]int64
}

// NewDimensionTable builds a table from the given values: deduplicated,
// sorted ascending, keyed 1..K. createdAt stamps every row.
func NewDimensionTable(name string, values []string, createdAt time.Time) *DimensionTable {
	distinct := make(map[string]struct{}, len(values))
	for _, v := range values {
		distinct[v] = struct{}{}
	}
	sorted := make([]string, 0, len(distinct))
	for v := range distinct {
		sorted = append(sorted, v)
	}
	sort.Strings(sorted)

	t := &DimensionTable{
		Name:       name,
		Rows:       make([]DimensionRow, 0, len(sorted)),
		keyByValue: make(map[string]int64, len(sorted)),
	}
	for i, v := range sorted {
		key := int64(i + 1)
		t.Rows = append(t.Rows, DimensionRow{
			Key:         key,
			Value:       v,
			CreatedDate: createdAt,
			IsActive:    true,
		})
		t.keyByValue[v] = key
	}
	return t
}

// Lookup returns the surrogate key for a value.
func (t *DimensionTable) Lookup(value string) (int64, bool) {
	k, ok := t.keyByValue[value]
	return k, ok
}

// Value returns the value carried by a surrogate key. Keys are dense, so the
// lookup is positional.
func (t *DimensionTable) Value(key int64) (string, bool) {
	if key < 1 || key > int64(len(t.Rows)) {
		return "", false
	}
	return t.Rows[key-1].Value, true
}

// Len returns the number of dimension rows.
func (t *DimensionTable) Len() int { return len(t.Rows) }

// BatchResult is the output of building one batch: a fact table with
// batch-local surrogate keys and the batch-local dimension tables that the
// merge uses to translate those keys back to values. Transient; consumed and
// discarded by the merge.
type BatchResult struct {
	BatchID    string
	Fact       FactTable
	Dimensions map[string]*DimensionTable
}

// MergedStarSchema is the final output of a run: one globally re-keyed fact
// table and one deduplicated dimension table per dimension name.
type MergedStarSchema struct {
	Fact       FactTable
	Dimensions map[string]*DimensionTable
}

// DimensionKeyColumn returns the fact-table foreign-key column name for a
// dimension column.
func DimensionKeyColumn(dimension string) string { return dimension + "_id" }
