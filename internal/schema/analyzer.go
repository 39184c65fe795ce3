// Package schema implements sampling-based schema inference: per-column
// statistical profiles and a fixed, ordered classification cascade that
// assigns each column a role in the star decomposition.
package schema

import (
	"fmt"
	"sort"

	"starschema/internal/config"
	"starschema/internal/records"
)

// Classification is the inferred role of a column.
type Classification string

const (
	ClassIdentifier   Classification = "identifier"
	ClassAudit        Classification = "audit"
	ClassMeasure      Classification = "measure"
	ClassDimension    Classification = "dimension"
	ClassPotentialKey Classification = "potential_key"
	ClassAttribute    Classification = "attribute"
)

// DataType is the coarse inferred data type, assigned independently of the
// classification.
type DataType string

const (
	TypeNumeric      DataType = "numeric"
	TypeMixedNumeric DataType = "mixed_numeric"
	TypeText         DataType = "text"
	TypeString       DataType = "string"
)

// Bounds for the dimension cardinality rule and the per-column sample values.
const (
	dimensionUniqueFraction = 0.10
	dimensionUniqueMax      = 50
	maxSampleValues         = 3
)

// ColumnProfile holds the per-column statistics computed over the sample.
type ColumnProfile struct {
	Name string

	// NumericRatio is the fraction of non-null values parseable as a number.
	// Zero when the column has no non-null values.
	NumericRatio float64

	// UniqueCount is the number of distinct non-null values.
	UniqueCount int

	// NullRatio is the fraction of sample rows with a null (or absent) value.
	NullRatio float64

	// MeanLength is the mean canonical string length of non-null values.
	MeanLength float64

	// SampleValues holds up to three distinct values, ascending.
	SampleValues []string
}

// ColumnInfo is one row of the inferred schema.
type ColumnInfo struct {
	ColumnProfile
	Classification Classification
	DataType       DataType
}

// Info is the inferred schema for one run. Immutable once produced.
type Info struct {
	SampleRows int
	Columns    []ColumnInfo

	byName map[string]int
}

// Column returns the info for a column name.
func (s *Info) Column(name string) (ColumnInfo, bool) {
	i, ok := s.byName[name]
	if !ok {
		return ColumnInfo{}, false
	}
	return s.Columns[i], true
}

// ColumnsByClass returns the names of all columns with the given
// classification, in schema (sorted) order.
func (s *Info) ColumnsByClass(c Classification) []string {
	var out []string
	for _, col := range s.Columns {
		if col.Classification == c {
			out = append(out, col.Name)
		}
	}
	return out
}

// IdentifierColumn returns the name of the identifier column, if any.
func (s *Info) IdentifierColumn() (string, bool) {
	for _, col := range s.Columns {
		if col.Classification == ClassIdentifier {
			return col.Name, true
		}
	}
	return "", false
}

// InferenceError is fatal to the run: no classification is possible.
type InferenceError struct {
	Reason string
}

func (e *InferenceError) Error() string {
	return fmt.Sprintf("schema inference: %s", e.Reason)
}

// rule is one step of the classification cascade: first match wins.
type rule struct {
	class Classification
	match func(p ColumnProfile, sampleRows int, cfg config.Config) bool
}

// The cascade is evaluated top to bottom with no backtracking. Order is part
// of the contract: an identifier named like a measure is still an identifier.
var cascade = []rule{
	{ClassIdentifier, func(p ColumnProfile, _ int, cfg config.Config) bool {
		return (cfg.IdentifierColumn != "" && p.Name == cfg.IdentifierColumn) || p.Name == cfg.SyntheticIDColumn
	}},
	{ClassAudit, func(p ColumnProfile, _ int, cfg config.Config) bool {
		return cfg.AuditColumns.Contains(p.Name)
	}},
	{ClassMeasure, func(p ColumnProfile, _ int, cfg config.Config) bool {
		return p.NumericRatio > cfg.NumericRatioThreshold
	}},
	{ClassDimension, func(p ColumnProfile, sampleRows int, _ config.Config) bool {
		return float64(p.UniqueCount) < dimensionUniqueFraction*float64(sampleRows) && p.UniqueCount < dimensionUniqueMax
	}},
	{ClassPotentialKey, func(p ColumnProfile, sampleRows int, _ config.Config) bool {
		return p.UniqueCount == sampleRows
	}},
	{ClassAttribute, func(ColumnProfile, int, config.Config) bool { return true }},
}

// classify runs the cascade for one profile.
func classify(p ColumnProfile, sampleRows int, cfg config.Config) Classification {
	for _, r := range cascade {
		if r.match(p, sampleRows, cfg) {
			return r.class
		}
	}
	return ClassAttribute
}

// dataType assigns the coarse type from the profile.
func dataType(p ColumnProfile) DataType {
	switch {
	case p.NumericRatio > 0.95:
		return TypeNumeric
	case p.NumericRatio > 0.5:
		return TypeMixedNumeric
	case p.MeanLength > 100:
		return TypeText
	default:
		return TypeString
	}
}

// Analyze computes the schema for a bounded sample of rows.
//
// The column set is the union of keys across all sampled rows; a row that
// lacks a column counts as a null for that column. An empty sample returns
// an *InferenceError: with zero rows nothing can be classified.
func Analyze(sample []records.Record, cfg config.Config) (*Info, error) {
	if len(sample) == 0 {
		return nil, &InferenceError{Reason: "sample contains zero rows"}
	}

	columns := records.UnionColumns(sample)
	n := len(sample)

	info := &Info{
		SampleRows: n,
		Columns:    make([]ColumnInfo, 0, len(columns)),
		byName:     make(map[string]int, len(columns)),
	}

	for _, name := range columns {
		p := profileColumn(name, sample)
		ci := ColumnInfo{
			ColumnProfile:  p,
			Classification: classify(p, n, cfg),
			DataType:       dataType(p),
		}
		info.byName[name] = len(info.Columns)
		info.Columns = append(info.Columns, ci)
	}

	return info, nil
}

// profileColumn computes one ColumnProfile over the sample. All ratios are
// guarded against empty denominators: a column with zero non-null values
// yields NumericRatio 0 and MeanLength 0, never a division fault.
func profileColumn(name string, sample []records.Record) ColumnProfile {
	var (
		nonNull   int
		numeric   int
		lengthSum int
	)
	distinct := make(map[string]struct{})

	for _, r := range sample {
		v, ok := r[name]
		if !ok || records.IsNull(v) {
			continue
		}
		nonNull++

		s := records.CanonicalString(v)
		lengthSum += len(s)
		distinct[s] = struct{}{}

		if _, ok := records.ParseNumber(v); ok {
			numeric++
		}
	}

	p := ColumnProfile{
		Name:        name,
		UniqueCount: len(distinct),
		NullRatio:   float64(len(sample)-nonNull) / float64(len(sample)),
	}
	if nonNull > 0 {
		p.NumericRatio = float64(numeric) / float64(nonNull)
		p.MeanLength = float64(lengthSum) / float64(nonNull)
	}

	values := make([]string, 0, len(distinct))
	for v := range distinct {
		values = append(values, v)
	}
	sort.Strings(values)
	if len(values) > maxSampleValues {
		values = values[:maxSampleValues]
	}
	p.SampleValues = values

	return p
}
