package source

import (
	"encoding/json"
	"fmt"
	"io"

	"starschema/internal/config"
	"starschema/internal/fieldname"
	"starschema/internal/records"
)

// ReadJSONRows parses a JSON unit into records.
//
// Accepted roots:
//   - an array of objects,
//   - an object containing an array-of-objects field (envelope pattern: the
//     largest such array wins),
//   - a single object (one record),
//   - additional top-level objects after the first value (NDJSON).
//
// Nested objects flatten into dot-joined keys; numbers decode as
// json.Number so no precision is lost before measure coercion. Keys pass
// through header_map when present, otherwise fieldname.Normalize.
func ReadJSONRows(r io.Reader, opt config.Options) ([]records.Record, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()

	var root any
	if err := dec.Decode(&root); err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, fmt.Errorf("decode json: %w", err)
	}

	var objs []map[string]any
	switch v := root.(type) {
	case []any:
		for _, it := range v {
			if m, ok := it.(map[string]any); ok {
				objs = append(objs, m)
			}
		}
	case map[string]any:
		if slice := largestObjectSlice(v); slice != nil {
			objs = slice
		} else {
			objs = append(objs, v)
		}
	default:
		return nil, fmt.Errorf("unsupported json root %T", root)
	}

	// NDJSON continuation: further top-level objects.
	for {
		var obj map[string]any
		if err := dec.Decode(&obj); err != nil {
			break
		}
		objs = append(objs, obj)
	}

	hm := opt.StringMap("header_map")
	out := make([]records.Record, 0, len(objs))
	for _, obj := range objs {
		flat := make(records.Record, len(obj))
		flattenObject("", obj, flat)

		row := make(records.Record, len(flat))
		for k, v := range flat {
			if records.IsNull(v) {
				continue
			}
			if mapped, ok := hm[k]; ok {
				k = mapped
			} else {
				k = fieldname.Truncate(fieldname.Normalize(k))
			}
			if k == "" {
				continue
			}
			row[k] = v
		}
		out = append(out, row)
	}

	return out, nil
}

// largestObjectSlice unwraps a records-like envelope without hard-coding
// field names: the largest array-of-objects field is treated as the records.
func largestObjectSlice(root map[string]any) []map[string]any {
	var best []map[string]any
	for _, v := range root {
		arr, ok := v.([]any)
		if !ok || len(arr) == 0 {
			continue
		}
		objs := make([]map[string]any, 0, len(arr))
		for _, elem := range arr {
			m, ok := elem.(map[string]any)
			if !ok {
				objs = nil
				break
			}
			objs = append(objs, m)
		}
		if len(objs) > len(best) {
			best = objs
		}
	}
	return best
}

func flattenObject(prefix string, in map[string]any, out records.Record) {
	for k, v := range in {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		switch t := v.(type) {
		case map[string]any:
			flattenObject(key, t, out)
		case []any:
			// Arrays of scalars are not table cells; drop them. Arrays of
			// objects only matter at the root (envelope handling).
		default:
			out[key] = v
		}
	}
}
