// Package config defines the immutable run configuration threaded through
// every pipeline component. There is no ambient state: the analyzer, builder,
// merger and orchestrator all receive the same Config value explicitly.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"runtime"

	"starschema/internal/validate"
)

// Audit holds the reserved audit column names. Columns with these names are
// classified as audit columns by the schema analyzer and copied through to the
// fact table untouched.
type Audit struct {
	SourceName string `json:"source_name"`
	SourceFile string `json:"source_file"`
	LoadTS     string `json:"load_ts"`
}

// Names returns the reserved audit column names in a stable order.
func (a Audit) Names() []string {
	return []string{a.SourceName, a.SourceFile, a.LoadTS}
}

// Contains reports whether name is one of the reserved audit columns.
func (a Audit) Contains(name string) bool {
	return name == a.SourceName || name == a.SourceFile || name == a.LoadTS
}

// Config is the full run configuration.
//
// Zero values are filled in by ApplyDefaults; a Config that passed Validate
// is treated as immutable for the rest of the run.
type Config struct {
	// Job is the logical job name used for metrics tags and log fields.
	Job string `json:"job"`

	// IdentifierColumn is the primary-id attribute name. A column with this
	// name classifies as the identifier. May be empty, in which case each
	// batch synthesizes SyntheticIDColumn with batch-local sequential ids.
	IdentifierColumn string `json:"identifier_column"`

	// SyntheticIDColumn is the reserved name for the synthesized identifier.
	SyntheticIDColumn string `json:"synthetic_id_column"`

	// NumericRatioThreshold is the minimum fraction of numeric non-null
	// values for a column to classify as a measure.
	NumericRatioThreshold float64 `json:"numeric_ratio_threshold"`

	// BatchSize is the number of source units per batch.
	BatchSize int `json:"batch_size"`

	// SampleUnits caps how many source units feed the schema sample.
	SampleUnits int `json:"sample_units"`

	// DimensionPrefix and FactTable control output table naming.
	// A dimension column "category" is written as "<DimensionPrefix>category".
	DimensionPrefix string `json:"dimension_prefix"`
	FactTable       string `json:"fact_table"`
	ErrorTable      string `json:"error_table"`

	// AuditColumns are the reserved audit column names.
	AuditColumns Audit `json:"audit_columns"`

	// Workers bounds the batch worker pool.
	Workers int `json:"workers"`

	// SourceOptions tunes the file parsers (header_map, comma, has_header,
	// table_selector and friends). Keys unknown to a parser are ignored.
	SourceOptions Options `json:"source_options,omitempty"`

	// Contract optionally gates each source unit on a field contract before
	// its rows are admitted to a batch.
	Contract *validate.Contract `json:"contract,omitempty"`
}

// Load reads a JSON config file and applies defaults.
func Load(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	cfg = cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Default returns the built-in configuration with no file involved.
func Default() Config {
	return Config{}.ApplyDefaults()
}

// ApplyDefaults fills zero fields and returns the completed value.
func (c Config) ApplyDefaults() Config {
	if c.Job == "" {
		c.Job = "starschema"
	}
	if c.SyntheticIDColumn == "" {
		c.SyntheticIDColumn = "record_id"
	}
	if c.NumericRatioThreshold <= 0 {
		c.NumericRatioThreshold = 0.8
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 50
	}
	if c.SampleUnits <= 0 {
		c.SampleUnits = 100
	}
	if c.DimensionPrefix == "" {
		c.DimensionPrefix = "dim_"
	}
	if c.FactTable == "" {
		c.FactTable = "fact"
	}
	if c.ErrorTable == "" {
		c.ErrorTable = "load_errors"
	}
	if c.AuditColumns.SourceName == "" {
		c.AuditColumns.SourceName = "source_name"
	}
	if c.AuditColumns.SourceFile == "" {
		c.AuditColumns.SourceFile = "source_file"
	}
	if c.AuditColumns.LoadTS == "" {
		c.AuditColumns.LoadTS = "load_ts"
	}
	if c.Workers <= 0 {
		c.Workers = DefaultWorkers()
	}
	return c
}

// DefaultWorkers returns min(NumCPU-1, 8), never below 1.
func DefaultWorkers() int {
	n := runtime.NumCPU() - 1
	if n > 8 {
		n = 8
	}
	if n < 1 {
		n = 1
	}
	return n
}

// Validate rejects configurations that cannot drive a run.
func (c Config) Validate() error {
	if c.NumericRatioThreshold <= 0 || c.NumericRatioThreshold >= 1 {
		return fmt.Errorf("config: numeric_ratio_threshold must be in (0,1), got %v", c.NumericRatioThreshold)
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("config: batch_size must be positive")
	}
	if c.SampleUnits <= 0 {
		return fmt.Errorf("config: sample_units must be positive")
	}
	if c.Workers <= 0 {
		return fmt.Errorf("config: workers must be positive")
	}
	if c.FactTable == "" {
		return fmt.Errorf("config: fact_table must not be empty")
	}
	if c.IdentifierColumn != "" && c.IdentifierColumn == c.SyntheticIDColumn {
		return fmt.Errorf("config: identifier_column collides with synthetic_id_column %q", c.SyntheticIDColumn)
	}
	return nil
}
