// Package validate supplies optional per-unit validation verdicts checked
// before a unit's rows are admitted to a batch.
package validate

import (
	"fmt"
	"strings"

	"starschema/internal/records"
)

// Verdict is the outcome of validating one source unit.
type Verdict int

const (
	// VerdictUnknown means no validator ran; rows are admitted.
	VerdictUnknown Verdict = iota
	VerdictValid
	VerdictInvalid
)

func (v Verdict) String() string {
	switch v {
	case VerdictValid:
		return "valid"
	case VerdictInvalid:
		return "invalid"
	default:
		return "unknown"
	}
}

// Validator inspects a unit's rows before batch admission. Implementations
// must treat rows as read-only.
type Validator interface {
	ValidateUnit(unit string, rows []records.Record) (Verdict, string)
}

// Field is one contract rule.
type Field struct {
	Name     string `json:"name"`
	Type     string `json:"type"` // "number" | "text" | "" (any)
	Required bool   `json:"required,omitempty"`
}

// Contract is a minimal field contract: required columns must be present and
// non-null in every row, and typed columns must parse accordingly.
type Contract struct {
	Name   string  `json:"name"`
	Fields []Field `json:"fields"`
}

// ValidateUnit implements Validator. The first violation fails the unit; the
// message names the offending row and field.
func (c Contract) ValidateUnit(unit string, rows []records.Record) (Verdict, string) {
	if len(c.Fields) == 0 {
		return VerdictUnknown, ""
	}

	for i, r := range rows {
		for _, f := range c.Fields {
			v, present := r[f.Name]
			null := !present || records.IsNull(v)

			if f.Required && null {
				return VerdictInvalid, fmt.Sprintf("row %d: required field %q is missing", i+1, f.Name)
			}
			if null {
				continue
			}

			switch strings.ToLower(f.Type) {
			case "number", "numeric", "float", "int", "integer":
				if _, ok := records.ParseNumber(v); !ok {
					return VerdictInvalid, fmt.Sprintf("row %d: field %q is not numeric: %q", i+1, f.Name, records.CanonicalString(v))
				}
			case "", "text", "string":
				// Any scalar passes.
			default:
				return VerdictInvalid, fmt.Sprintf("contract %q: unknown field type %q", c.Name, f.Type)
			}
		}
	}

	return VerdictValid, ""
}
