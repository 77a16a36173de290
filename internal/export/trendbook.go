package export

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/xuri/excelize/v2"

	"qclog/internal/domain"
	"qclog/internal/storage/workbook"
)

var ErrNoData = errors.New("no measurement data available")

const (
	passValueFill = "CCFFCC"
	failValueFill = "FFCCCC"
	maxSheetName  = 31
	allLabel      = "All"
)

type combo struct{ machine, chamber string }

// TrendWorkbook writes one sheet per (part, machine, chamber) combination,
// with "All" rollups, each holding a time-ordered table per hole feature.
// It returns the sheet names in the order written.
func TrendWorkbook(path string, recordsByPart map[domain.PartType][]domain.Record) ([]string, error) {
	f := excelize.NewFile()
	defer f.Close()
	placeholder := f.GetSheetName(0)

	pass, err := f.NewStyle(&excelize.Style{Fill: excelize.Fill{Type: "pattern", Color: []string{passValueFill}, Pattern: 1}})
	if err != nil {
		return nil, err
	}
	fail, err := f.NewStyle(&excelize.Style{Fill: excelize.Fill{Type: "pattern", Color: []string{failValueFill}, Pattern: 1}})
	if err != nil {
		return nil, err
	}

	used := map[string]bool{}
	var sheets []string
	for _, part := range domain.PartTypes {
		recs := recordsByPart[part]
		if len(recs) == 0 {
			continue
		}
		for _, c := range combos(recs) {
			subset := filterCombo(recs, c)
			if len(subset) == 0 {
				continue
			}
			name := uniqueSheetName(sheetName(part, c), used)
			if _, err := f.NewSheet(name); err != nil {
				return nil, fmt.Errorf("adding sheet %q: %w", name, err)
			}
			if err := writeTrendTables(f, name, subset, pass, fail); err != nil {
				return nil, err
			}
			sheets = append(sheets, name)
		}
	}
	if len(sheets) == 0 {
		return nil, ErrNoData
	}
	if err := f.DeleteSheet(placeholder); err != nil {
		return nil, err
	}
	f.SetActiveSheet(0)

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}
	if err := f.SaveAs(path); err != nil {
		return nil, fmt.Errorf("saving trend workbook: %w", err)
	}
	return sheets, nil
}

func combos(recs []domain.Record) []combo {
	machines := distinct(recs, func(r domain.Record) string { return r.Machine })
	chambers := distinct(recs, func(r domain.Record) string { return r.Chamber })
	out := []combo{{allLabel, allLabel}}
	for _, m := range machines {
		out = append(out, combo{m, allLabel})
	}
	for _, m := range machines {
		for _, ch := range chambers {
			out = append(out, combo{m, ch})
		}
	}
	return out
}

func filterCombo(recs []domain.Record, c combo) []domain.Record {
	var out []domain.Record
	for _, r := range recs {
		if c.machine != allLabel && r.Machine != c.machine {
			continue
		}
		if c.chamber != allLabel && r.Chamber != c.chamber {
			continue
		}
		out = append(out, r)
	}
	return out
}

func writeTrendTables(f *excelize.File, sheet string, recs []domain.Record, pass, fail int) error {
	valueCol := 0
	for i, c := range domain.DataColumns {
		if c == domain.ColValue {
			valueCol = i + 1
		}
	}

	row := 1
	for _, g := range groupByHoleFeature(recs) {
		header := make([]interface{}, len(domain.DataColumns))
		for i, c := range domain.DataColumns {
			header[i] = c
		}
		if err := setRow(f, sheet, row, header); err != nil {
			return err
		}
		row++
		for _, r := range g {
			cells := workbook.RecordCells(r)
			if err := setRow(f, sheet, row, cells); err != nil {
				return err
			}
			if r.Value.Valid {
				style := pass
				if outside(r) {
					style = fail
				}
				cell, _ := excelize.CoordinatesToCellName(valueCol, row)
				if err := f.SetCellStyle(sheet, cell, cell, style); err != nil {
					return err
				}
			}
			row++
		}
		row++
	}
	return nil
}

func setRow(f *excelize.File, sheet string, row int, cells []interface{}) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	return f.SetSheetRow(sheet, cell, &cells)
}

// outside compares against the row's own limits; a missing limit does not
// constrain that side.
func outside(r domain.Record) bool {
	v := r.Value.Value
	return (r.LSL.Valid && v < r.LSL.Value) || (r.USL.Valid && v > r.USL.Value)
}

// groupByHoleFeature orders holes numerically and features by name, with
// each group sorted by time.
func groupByHoleFeature(recs []domain.Record) [][]domain.Record {
	type key struct {
		hole    string
		feature domain.Feature
	}
	groups := map[key][]domain.Record{}
	var keys []key
	for _, r := range recs {
		if r.Hole == "" || r.Feature == "" {
			continue
		}
		k := key{r.Hole, r.Feature}
		if _, ok := groups[k]; !ok {
			keys = append(keys, k)
		}
		groups[k] = append(groups[k], r)
	}
	sort.Slice(keys, func(i, j int) bool {
		hi, hj := domain.HoleSortKey(keys[i].hole), domain.HoleSortKey(keys[j].hole)
		if hi != hj {
			return hi < hj
		}
		return keys[i].feature < keys[j].feature
	})
	out := make([][]domain.Record, 0, len(keys))
	for _, k := range keys {
		g := groups[k]
		sort.SliceStable(g, func(i, j int) bool { return g[i].Timestamp.Before(g[j].Timestamp) })
		out = append(out, g)
	}
	return out
}

var sheetReplacer = strings.NewReplacer(" ", "_", "/", "_", "\\", "_", ":", "_", "?", "_", "*", "_", "[", "_", "]", "_")

func sheetName(part domain.PartType, c combo) string {
	name := sheetReplacer.Replace(fmt.Sprintf("%s_%s_%s", part, c.machine, c.chamber))
	return truncateRunes(name, maxSheetName)
}

// truncateRunes keeps at most n characters of s.
func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

func uniqueSheetName(name string, used map[string]bool) string {
	candidate := name
	for n := 2; used[strings.ToLower(candidate)]; n++ {
		suffix := fmt.Sprintf("~%d", n)
		candidate = truncateRunes(name, maxSheetName-len(suffix)) + suffix
	}
	used[strings.ToLower(candidate)] = true
	return candidate
}

func distinct(recs []domain.Record, field func(domain.Record) string) []string {
	seen := map[string]bool{}
	var out []string
	for _, r := range recs {
		v := field(r)
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}
