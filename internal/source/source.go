// Package source supplies the row-producing collaborators: discovery of
// source units and per-unit parsing into records. The pipeline core consumes
// the Source and Unit interfaces; Dir is the filesystem implementation.
package source

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"starschema/internal/config"
	"starschema/internal/records"
)

// Unit is one source unit (typically a file). Rows is restartable: each call
// re-reads the unit from the start.
type Unit interface {
	Name() string
	Path() string
	Rows(ctx context.Context) ([]records.Record, error)
}

// Source enumerates the units of a run.
type Source interface {
	Units(ctx context.Context) ([]Unit, error)
}

// Dir is a Source over a directory of data files. One file is one unit;
// the parser is chosen by extension (.csv, .json, .html/.htm).
type Dir struct {
	Path    string
	Options config.Options
}

// Units lists the parseable files under the directory, sorted by name for
// deterministic batching.
func (d Dir) Units(ctx context.Context) ([]Unit, error) {
	entries, err := os.ReadDir(d.Path)
	if err != nil {
		return nil, fmt.Errorf("list source dir: %w", err)
	}

	var out []Unit
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".csv", ".json", ".html", ".htm":
			out = append(out, fileUnit{
				path: filepath.Join(d.Path, e.Name()),
				opt:  d.Options,
			})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out, nil
}

type fileUnit struct {
	path string
	opt  config.Options
}

func (u fileUnit) Name() string { return filepath.Base(u.path) }
func (u fileUnit) Path() string { return u.path }

// Rows opens and parses the whole unit. Parse failures surface as a single
// error; the orchestrator isolates them per unit.
func (u fileUnit) Rows(ctx context.Context) ([]records.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f, err := os.Open(u.path)
	if err != nil {
		return nil, fmt.Errorf("open unit: %w", err)
	}
	defer f.Close()

	switch strings.ToLower(filepath.Ext(u.path)) {
	case ".csv":
		return ReadCSVRows(f, u.opt)
	case ".json":
		return ReadJSONRows(f, u.opt)
	case ".html", ".htm":
		return ReadHTMLRows(f, u.opt)
	default:
		return nil, fmt.Errorf("no parser for %q", u.path)
	}
}
