package star

import (
	"fmt"
	"sort"
	"time"
)

// MergeConsistencyError signals a protocol violation inside the merge: the
// output would be structurally corrupt, so the run must abort rather than
// silently emit it. It never represents bad input data.
type MergeConsistencyError struct {
	Dimension string
	Detail    string
}

func (e *MergeConsistencyError) Error() string {
	if e.Dimension == "" {
		return fmt.Sprintf("merge consistency: %s", e.Detail)
	}
	return fmt.Sprintf("merge consistency: dimension %q: %s", e.Dimension, e.Detail)
}

// Merge combines independently built batches into one globally consistent
// star schema.
//
// Batches assign surrogate keys locally, so the same integer key refers to
// different values in different batches. The merge therefore re-derives keys
// from values: per dimension it unions the values of every batch, sorts them
// ascending and assigns one global dense key sequence, then rewrites every
// fact foreign key through local key -> value -> global key using the
// batch-local dimension table retained in the BatchResult.
//
// Merge is a pure function of its inputs and is commutative and associative
// across batches up to fact row ordering. Fact rows are concatenated, never
// deduplicated; dimension rows are deduplicated by value.
func Merge(results []*BatchResult) (*MergedStarSchema, error) {
	merged := &MergedStarSchema{
		Dimensions: map[string]*DimensionTable{},
	}
	if len(results) == 0 {
		return merged, nil
	}

	// Every batch of a run shares one builder, so the fact layouts must
	// agree. A mismatch means results from different runs were mixed.
	layout := results[0].Fact.Columns
	for _, r := range results[1:] {
		if !sameLayout(layout, r.Fact.Columns) {
			return nil, &MergeConsistencyError{Detail: "fact column layouts differ across batches"}
		}
	}
	merged.Fact.Columns = append([]FactColumn(nil), layout...)

	// Global dimension tables: union of values, earliest creation date per
	// value so the result does not depend on batch order.
	names := dimensionNames(results)
	created := make(map[string]map[string]time.Time, len(names))
	for _, name := range names {
		created[name] = map[string]time.Time{}
		for _, r := range results {
			t := r.Dimensions[name]
			if t == nil {
				continue
			}
			for _, row := range t.Rows {
				if prev, ok := created[name][row.Value]; !ok || row.CreatedDate.Before(prev) {
					created[name][row.Value] = row.CreatedDate
				}
			}
		}

		values := make([]string, 0, len(created[name]))
		for v := range created[name] {
			values = append(values, v)
		}
		global := NewDimensionTable(name, values, time.Time{})
		for i := range global.Rows {
			global.Rows[i].CreatedDate = created[name][global.Rows[i].Value]
		}
		merged.Dimensions[name] = global
	}

	// Rewrite foreign keys and concatenate fact rows.
	type rewrite struct {
		name   string
		column int
	}
	var rewrites []rewrite
	for _, name := range names {
		if i := merged.Fact.Index(DimensionKeyColumn(name)); i >= 0 {
			rewrites = append(rewrites, rewrite{name: name, column: i})
		}
	}

	for _, r := range results {
		for _, row := range r.Fact.Rows {
			out := append([]any(nil), row...)
			for _, rw := range rewrites {
				raw := out[rw.column]
				if raw == nil {
					continue
				}
				local, ok := raw.(int64)
				if !ok {
					return nil, &MergeConsistencyError{
						Dimension: rw.name,
						Detail:    fmt.Sprintf("batch %s: foreign key has unexpected type %T", r.BatchID, raw),
					}
				}

				batchTable := r.Dimensions[rw.name]
				if batchTable == nil {
					return nil, &MergeConsistencyError{
						Dimension: rw.name,
						Detail:    fmt.Sprintf("batch %s: fact references dimension with no batch table", r.BatchID),
					}
				}
				value, ok := batchTable.Value(local)
				if !ok {
					return nil, &MergeConsistencyError{
						Dimension: rw.name,
						Detail:    fmt.Sprintf("batch %s: local key %d not in batch table", r.BatchID, local),
					}
				}
				global, ok := merged.Dimensions[rw.name].Lookup(value)
				if !ok {
					return nil, &MergeConsistencyError{
						Dimension: rw.name,
						Detail:    fmt.Sprintf("batch %s: value %q missing from merged table", r.BatchID, value),
					}
				}
				out[rw.column] = global
			}
			merged.Fact.Rows = append(merged.Fact.Rows, out)
		}
	}

	if err := validate(merged); err != nil {
		return nil, err
	}
	return merged, nil
}

// validate enforces the structural invariants of the merged schema: dense
// unique global keys per dimension, and every non-null fact foreign key
// resolving to a surviving dimension row.
func validate(m *MergedStarSchema) error {
	for name, t := range m.Dimensions {
		seenKeys := make(map[int64]struct{}, len(t.Rows))
		seenValues := make(map[string]struct{}, len(t.Rows))
		for i, row := range t.Rows {
			if row.Key != int64(i+1) {
				return &MergeConsistencyError{Dimension: name, Detail: fmt.Sprintf("key %d at position %d breaks dense ordering", row.Key, i)}
			}
			if _, dup := seenKeys[row.Key]; dup {
				return &MergeConsistencyError{Dimension: name, Detail: fmt.Sprintf("duplicate global key %d", row.Key)}
			}
			if _, dup := seenValues[row.Value]; dup {
				return &MergeConsistencyError{Dimension: name, Detail: fmt.Sprintf("duplicate value %q after dedup", row.Value)}
			}
			seenKeys[row.Key] = struct{}{}
			seenValues[row.Value] = struct{}{}
		}
	}

	for name, t := range m.Dimensions {
		col := m.Fact.Index(DimensionKeyColumn(name))
		if col < 0 {
			continue
		}
		max := int64(t.Len())
		for i, row := range m.Fact.Rows {
			raw := row[col]
			if raw == nil {
				continue
			}
			key, ok := raw.(int64)
			if !ok || key < 1 || key > max {
				return &MergeConsistencyError{
					Dimension: name,
					Detail:    fmt.Sprintf("fact row %d foreign key %v does not resolve", i, raw),
				}
			}
		}
	}
	return nil
}

func dimensionNames(results []*BatchResult) []string {
	set := map[string]struct{}{}
	for _, r := range results {
		for name := range r.Dimensions {
			set[name] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for name := range set {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func sameLayout(a, b []FactColumn) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
