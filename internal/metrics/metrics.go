// Package metrics defines the minimal backend interface the pipeline emits
// metrics through. Concrete backends live in subpackages; the core depends
// only on this interface.
package metrics

// Labels attaches dimensions to a metric sample.
type Labels map[string]string

// Canonical metric names emitted by the pipeline.
const (
	// UnitsTotal counts processed source units, labeled by terminal
	// "state": success, parse_error, validation_error.
	UnitsTotal = "pipeline_units_total"

	// RowsTotal counts emitted rows, labeled by "kind": fact, dimension.
	RowsTotal = "pipeline_rows_total"

	// BatchesTotal counts built batches.
	BatchesTotal = "pipeline_batches_total"

	// StageDurationSeconds observes wall time per pipeline stage, labeled by
	// "stage": sample, batch, merge, write.
	StageDurationSeconds = "pipeline_stage_duration_seconds"
)

// Backend receives metric samples. Implementations must be safe for
// concurrent use; batch workers emit from multiple goroutines.
type Backend interface {
	IncCounter(name string, delta float64, labels Labels)
	ObserveHistogram(name string, value float64, labels Labels)
}

// Nop discards all samples. Used when no metrics backend is configured.
type Nop struct{}

func (Nop) IncCounter(string, float64, Labels)       {}
func (Nop) ObserveHistogram(string, float64, Labels) {}

var _ Backend = Nop{}
