package source

import (
	"encoding/json"
	"strings"
	"testing"

	"starschema/internal/config"
)

func TestReadJSONRowsArrayRoot(t *testing.T) {
	t.Parallel()

	in := `[{"Transaction ID":"T1","Amount":19.99},{"Transaction ID":"T2","Amount":5}]`
	rows, err := ReadJSONRows(strings.NewReader(in), nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 {
		t.Fatalf("rows = %d", len(rows))
	}
	if rows[0]["transaction_id"] != "T1" {
		t.Fatalf("row 0 = %v", rows[0])
	}
	// Numbers decode as json.Number, preserving the source text.
	if n, ok := rows[0]["amount"].(json.Number); !ok || n.String() != "19.99" {
		t.Fatalf("amount = %#v", rows[0]["amount"])
	}
}

func TestReadJSONRowsEnvelope(t *testing.T) {
	t.Parallel()

	in := `{"meta":{"count":2},"records":[{"id":"a"},{"id":"b"}]}`
	rows, err := ReadJSONRows(strings.NewReader(in), nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 {
		t.Fatalf("rows = %d, want envelope array unwrapped", len(rows))
	}
	if rows[0]["id"] != "a" || rows[1]["id"] != "b" {
		t.Fatalf("rows = %v", rows)
	}
}

func TestReadJSONRowsSingleObject(t *testing.T) {
	t.Parallel()

	rows, err := ReadJSONRows(strings.NewReader(`{"id":"x","v":1}`), nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 || rows[0]["id"] != "x" {
		t.Fatalf("rows = %v", rows)
	}
}

func TestReadJSONRowsNDJSON(t *testing.T) {
	t.Parallel()

	in := "{\"id\":\"a\"}\n{\"id\":\"b\"}\n{\"id\":\"c\"}\n"
	rows, err := ReadJSONRows(strings.NewReader(in), nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 3 {
		t.Fatalf("rows = %d", len(rows))
	}
}

func TestReadJSONRowsFlattensNested(t *testing.T) {
	t.Parallel()

	in := `[{"id":"a","customer":{"region":"EU","tier":"gold"},"tags":["x","y"]}]`
	rows, err := ReadJSONRows(strings.NewReader(in), nil)
	if err != nil {
		t.Fatal(err)
	}
	r := rows[0]
	if r["customer_region"] != "EU" || r["customer_tier"] != "gold" {
		t.Fatalf("nested keys not flattened: %v", r)
	}
	for k := range r {
		if strings.HasPrefix(k, "tags") {
			t.Fatalf("scalar arrays should be dropped, found %q", k)
		}
	}
}

func TestReadJSONRowsHeaderMap(t *testing.T) {
	t.Parallel()

	in := `[{"Montant":10}]`
	opt := config.Options{"header_map": map[string]any{"Montant": "amount"}}
	rows, err := ReadJSONRows(strings.NewReader(in), opt)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := rows[0]["amount"]; !ok {
		t.Fatalf("header_map not applied: %v", rows[0])
	}
}

func TestReadJSONRowsNullsOmitted(t *testing.T) {
	t.Parallel()

	rows, err := ReadJSONRows(strings.NewReader(`[{"a":"x","b":null,"c":""}]`), nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := rows[0]["b"]; ok {
		t.Fatalf("null value should be absent: %v", rows[0])
	}
	if _, ok := rows[0]["c"]; ok {
		t.Fatalf("empty string should be absent: %v", rows[0])
	}
}

func TestReadJSONRowsScalarRoot(t *testing.T) {
	t.Parallel()

	if _, err := ReadJSONRows(strings.NewReader(`42`), nil); err == nil {
		t.Fatal("scalar root should fail")
	}
}

func TestReadJSONRowsEmptyInput(t *testing.T) {
	t.Parallel()

	rows, err := ReadJSONRows(strings.NewReader(""), nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 0 {
		t.Fatalf("rows = %d", len(rows))
	}
}
