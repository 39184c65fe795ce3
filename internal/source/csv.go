package source

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"starschema/internal/config"
	"starschema/internal/fieldname"
	"starschema/internal/records"
)

// ReadCSVRows parses a CSV unit into records keyed by normalized header
// names.
//
// Options:
//   - has_header (default true)
//   - comma (default ",")
//   - trim_space (default true)
//   - lazy_quotes (default false)
//   - header_map: original header -> canonical column name; headers not in
//     the map are normalized with fieldname.Normalize.
//
// Parsing is lenient about row shape: records with a field count different
// from the header are skipped, and empty cells become absent columns so the
// schema-less row contract holds (the column set may vary per row).
func ReadCSVRows(r io.Reader, opt config.Options) ([]records.Record, error) {
	hasHeader := opt.Bool("has_header", true)
	trim := opt.Bool("trim_space", true)
	hm := opt.StringMap("header_map")

	cr := csv.NewReader(r)
	cr.Comma = opt.Rune("comma", ',')
	cr.LazyQuotes = opt.Bool("lazy_quotes", false)
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = true

	var headers []string
	if hasHeader {
		hdr, err := cr.Read()
		if err != nil {
			if err == io.EOF {
				return nil, nil
			}
			return nil, fmt.Errorf("read header: %w", err)
		}
		headers = make([]string, len(hdr))
		for i, h := range hdr {
			h = strings.TrimSpace(h)
			if i == 0 {
				h = strings.TrimPrefix(h, "\uFEFF")
			}
			if mapped, ok := hm[h]; ok {
				headers[i] = mapped
				continue
			}
			headers[i] = fieldname.Truncate(fieldname.Normalize(h))
		}
	}

	var out []records.Record
	line := 0
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("parse csv record %d: %w", line, err)
		}

		if headers == nil {
			// Headerless input: synthesize positional column names once,
			// sized to the first record.
			headers = make([]string, len(rec))
			for i := range headers {
				headers[i] = fmt.Sprintf("col_%d", i+1)
			}
		}
		if len(rec) != len(headers) {
			continue
		}

		row := make(records.Record, len(headers))
		for i, v := range rec {
			if trim {
				v = strings.TrimSpace(v)
			}
			if v == "" {
				continue
			}
			row[headers[i]] = v
		}
		out = append(out, row)
	}

	return out, nil
}
