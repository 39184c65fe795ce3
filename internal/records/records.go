// Package records defines the schema-less row representation shared by the
// source parsers, the schema analyzer and the star-schema builder.
//
// A Record maps column names to scalar values. The column set may vary per
// record; table-shaped output derives its column set by unioning keys across
// all records at build time.
package records

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Record is one parsed row: column name -> scalar value.
//
// Scalars are string, json.Number, bool, numeric Go types, time.Time or nil.
// Parsers must not store nested structures in a Record.
type Record map[string]any

// IsNull reports whether v counts as a null cell: nil, or a string/[]byte
// that is empty after trimming.
func IsNull(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	case []byte:
		return len(strings.TrimSpace(string(t))) == 0
	default:
		return false
	}
}

// CanonicalString produces a stable string form of a scalar, used for
// dimension values, surrogate-key lookup and profiling.
//
// Hot-path rules:
//   - Avoid fmt.Sprint for common primitive types.
//   - Strings and []byte are trimmed.
//   - nil maps to "".
func CanonicalString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case []byte:
		return strings.TrimSpace(string(t))
	case bool:
		if t {
			return "true"
		}
		return "false"
	case int:
		return strconv.Itoa(t)
	case int32:
		return strconv.FormatInt(int64(t), 10)
	case int64:
		return strconv.FormatInt(t, 10)
	case float32:
		return strconv.FormatFloat(float64(t), 'g', -1, 32)
	case float64:
		return strconv.FormatFloat(t, 'g', -1, 64)
	case time.Time:
		return t.UTC().Format(time.RFC3339Nano)
	case fmt.Stringer:
		return strings.TrimSpace(t.String())
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

// ParseNumber coerces a scalar to float64. The bool result is false for
// nulls and for values that do not parse as a number.
func ParseNumber(v any) (float64, bool) {
	switch t := v.(type) {
	case nil:
		return 0, false
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int32:
		return float64(t), true
	case int64:
		return float64(t), true
	case bool:
		return 0, false
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return 0, false
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	case []byte:
		return ParseNumber(string(t))
	case fmt.Stringer:
		// json.Number lands here.
		return ParseNumber(t.String())
	default:
		return 0, false
	}
}

// UnionColumns returns the sorted union of column names across records.
func UnionColumns(recs []Record) []string {
	set := make(map[string]struct{})
	for _, r := range recs {
		for k := range r {
			set[k] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
