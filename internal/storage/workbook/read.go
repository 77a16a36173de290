package workbook

import (
	"errors"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"qclog/internal/domain"
	"qclog/internal/spec"
)

var timestampLayouts = []string{
	domain.TimestampLayout,
	"2006-01-02 15:04:05.999999",
	"2006-01-02T15:04:05",
	time.RFC3339,
	"2006-01-02",
}

// ReadAll returns the records of one part table. Any failure, including a
// missing workbook, yields an empty slice.
func (s *Store) ReadAll(part domain.PartType) []domain.Record {
	f, ok := s.open()
	if !ok {
		return []domain.Record{}
	}
	defer f.Close()
	return s.readTable(f, part)
}

// Snapshot loads every sheet so it can be modified and written back whole.
// Record tables that cannot be read come back empty; the spec table is always
// the built-in one. A workbook that exists but cannot be opened yields an
// empty snapshot marked Unreadable.
func (s *Store) Snapshot() *domain.Snapshot {
	f, ok := s.open()
	if !ok {
		snap := domain.NewSnapshot()
		snap.Unreadable = s.Exists()
		return snap
	}
	defer f.Close()
	return s.snapshotFrom(f)
}

func (s *Store) open() (*excelize.File, bool) {
	f, err := excelize.OpenFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			s.log.Debug("workbook not found", "path", s.path)
		} else {
			s.log.Warn("workbook read failed", "path", s.path, "error", err)
		}
		return nil, false
	}
	return f, true
}

func (s *Store) snapshotFrom(f *excelize.File) *domain.Snapshot {
	snap := domain.NewSnapshot()
	for _, part := range domain.PartTypes {
		snap.Tables[part] = s.readTable(f, part)
	}
	snap.Specs = spec.Entries()
	for _, name := range f.GetSheetList() {
		if isManagedSheet(name) {
			continue
		}
		rows, err := f.GetRows(name)
		if err != nil {
			s.log.Warn("could not read sheet, it will be recreated empty", "sheet", name, "error", err)
			rows = nil
		}
		snap.SetOther(name, rows)
	}
	return snap
}

func isManagedSheet(name string) bool {
	return name == domain.SheetMixing || name == domain.SheetGasWater || name == domain.SheetSpecs
}

func (s *Store) readTable(f *excelize.File, part domain.PartType) []domain.Record {
	sheet := part.Sheet()
	if idx, err := f.GetSheetIndex(sheet); err != nil || idx < 0 {
		return []domain.Record{}
	}
	rows, err := f.GetRows(sheet, excelize.Options{RawCellValue: true})
	if err != nil {
		s.log.Warn("sheet read failed", "sheet", sheet, "error", err)
		return []domain.Record{}
	}
	if len(rows) == 0 {
		return []domain.Record{}
	}

	cols := map[string]int{}
	for i, h := range rows[0] {
		h = strings.TrimSpace(h)
		if h == "" || strings.HasPrefix(h, "Unnamed") {
			continue
		}
		if _, dup := cols[h]; !dup {
			cols[h] = i
		}
	}

	out := make([]domain.Record, 0, len(rows)-1)
	for _, row := range rows[1:] {
		if blank(row) {
			continue
		}
		get := func(col string) string {
			i, ok := cols[col]
			if !ok || i >= len(row) {
				return ""
			}
			return strings.TrimSpace(row[i])
		}
		out = append(out, decodeRecord(get, part))
	}
	return out
}

func decodeRecord(get func(string) string, part domain.PartType) domain.Record {
	r := domain.Record{
		Timestamp: parseTimestamp(get(domain.ColTimestamp)),
		Machine:   get(domain.ColMachine),
		PartType:  part,
		Chamber:   get(domain.ColChamber),
		PieceID:   get(domain.ColPieceID),
		PartFlow:  domain.PartFlow(strings.ToUpper(get(domain.ColPartFlow))),
		Hole:      domain.NormalizeHole(get(domain.ColHole)),
		Feature:   domain.Feature(get(domain.ColFeature)),
		Value:     softFloat(get(domain.ColValue)),
		Nominal:   softFloat(get(domain.ColNominal)),
		LSL:       softFloat(get(domain.ColLSL)),
		USL:       softFloat(get(domain.ColUSL)),
		Status:    domain.Status(strings.ToUpper(get(domain.ColStatus))),
		Notes:     get(domain.ColNotes),
		ImagePath: get(domain.ColImagePath),
	}
	if p, err := domain.ParsePartType(get(domain.ColPartType)); err == nil {
		r.PartType = p
	}
	if f, err := domain.ParseFeature(string(r.Feature)); err == nil {
		r.Feature = f
	}
	return r
}

func parseTimestamp(s string) time.Time {
	for _, layout := range timestampLayouts {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t
		}
	}
	return time.Time{}
}

// softFloat treats unparseable cells as absent.
func softFloat(s string) domain.OptFloat {
	v, err := domain.ParseOptFloat(s)
	if err != nil {
		return domain.OptFloat{}
	}
	return v
}

func blank(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

func pad(row []string, n int) []string {
	for len(row) < n {
		row = append(row, "")
	}
	return row
}

// Exists reports whether the canonical workbook is on disk.
func (s *Store) Exists() bool {
	_, err := os.Stat(s.path)
	return err == nil
}

// ModTime is the canonical workbook's modification time, zero when absent.
func (s *Store) ModTime() time.Time {
	info, err := os.Stat(s.path)
	if err != nil {
		return time.Time{}
	}
	return info.ModTime()
}
