package source

import (
	"fmt"
	"io"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"starschema/internal/config"
	"starschema/internal/fieldname"
	"starschema/internal/records"
)

// ReadHTMLRows extracts records from an HTML table. Each data row becomes one
// record keyed by normalized header names.
//
// Options:
//   - table_selector (default "table"): the first match is used.
//   - header_map: original header text -> canonical column name.
//
// Headers come from thead th cells when present, otherwise from the first
// row. Rows with a cell count different from the header are skipped, the same
// lenient shape rule the CSV reader applies.
func ReadHTMLRows(r io.Reader, opt config.Options) ([]records.Record, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	selector := opt.String("table_selector", "table")
	table := doc.Find(selector).First()
	if table.Length() == 0 {
		return nil, fmt.Errorf("no table matches %q", selector)
	}

	hm := opt.StringMap("header_map")
	normalize := func(h string) string {
		h = strings.TrimSpace(h)
		if mapped, ok := hm[h]; ok {
			return mapped
		}
		return fieldname.Truncate(fieldname.Normalize(h))
	}

	var headers []string
	skipFirstRow := false
	table.Find("thead th").Each(func(_ int, sel *goquery.Selection) {
		headers = append(headers, normalize(sel.Text()))
	})
	if headers == nil {
		table.Find("tr").First().Find("th, td").Each(func(_ int, sel *goquery.Selection) {
			headers = append(headers, normalize(sel.Text()))
		})
		skipFirstRow = true
	}
	if len(headers) == 0 {
		return nil, fmt.Errorf("table matched by %q has no header cells", selector)
	}

	var out []records.Record
	table.Find("tr").Each(func(i int, tr *goquery.Selection) {
		if skipFirstRow && i == 0 {
			return
		}
		cells := tr.Find("td")
		if cells.Length() != len(headers) {
			return
		}

		row := make(records.Record, len(headers))
		cells.Each(func(j int, td *goquery.Selection) {
			v := strings.TrimSpace(td.Text())
			if v == "" || headers[j] == "" {
				return
			}
			row[headers[j]] = v
		})
		out = append(out, row)
	})

	return out, nil
}
