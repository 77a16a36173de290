// Package export writes the files operators hand to other people: the
// vendor spec sheet, the trend-table workbook and digest reports.
package export

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"qclog/internal/domain"
	"qclog/internal/spec"
)

var ErrNoSpecs = errors.New("no specs available")

// SpecsCSV writes entries with the Specs sheet columns. Numbers are written
// as plain decimals.
func SpecsCSV(w io.Writer, entries []domain.SpecEntry) error {
	if len(entries) == 0 {
		return ErrNoSpecs
	}
	cw := csv.NewWriter(w)
	if err := cw.Write(domain.SpecColumns); err != nil {
		return err
	}
	for _, e := range entries {
		rec := []string{
			string(e.PartType), e.Hole, string(e.Feature),
			num(e.Nominal), num(e.LSL), num(e.USL), num(e.Tolerance()),
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteSpecsCSV writes the spec table, optionally limited to one part, to
// path and returns the absolute path written.
func WriteSpecsCSV(path string, part domain.PartType) (string, error) {
	entries := spec.Filter(part)
	if len(entries) == 0 {
		return "", ErrNoSpecs
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0755); err != nil {
		return "", err
	}
	f, err := os.Create(abs)
	if err != nil {
		return "", err
	}
	if err := SpecsCSV(f, entries); err != nil {
		f.Close()
		return "", fmt.Errorf("writing specs csv: %w", err)
	}
	return abs, f.Close()
}

func num(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
