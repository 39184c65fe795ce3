package records

import (
	"strconv"
	"strings"

	"github.com/zeebo/xxh3"
)

// Fingerprint computes a deterministic row hash from selected fields.
//
// Canonicalization rules:
//   - Fields are concatenated in the given order with the ASCII unit
//     separator (0x1f).
//   - Each component is "name=value" so sparse rows with many missing fields
//     do not collide.
//   - Missing or null values encode as a single NUL byte, distinct from the
//     empty string.
//
// The result is a lowercase hex string. This is a dedupe aid for downstream
// consumers, not a security boundary.
func Fingerprint(r Record, fields []string) string {
	var b strings.Builder
	b.Grow(len(fields) * 16)

	for i, f := range fields {
		if i > 0 {
			b.WriteByte(0x1f)
		}
		b.WriteString(f)
		b.WriteByte('=')

		v, ok := r[f]
		if !ok || IsNull(v) {
			b.WriteByte(0x00)
			continue
		}
		b.WriteString(CanonicalString(v))
	}

	sum := xxh3.HashString(b.String())
	return strconv.FormatUint(sum, 16)
}
