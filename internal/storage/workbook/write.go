package workbook

import (
	"fmt"
	"strconv"

	"github.com/xuri/excelize/v2"

	"qclog/internal/domain"
	"qclog/internal/spec"
)

const failFill = "FFC7CE"

var requiredSheets = []string{
	domain.SheetMixing,
	domain.SheetGasWater,
	domain.SheetSpecs,
	domain.SheetGWRef,
	domain.SheetMIRef,
}

// build renders snap into an in-memory workbook. Reference sheets are added
// with their placeholder when the snapshot does not carry them.
func (s *Store) build(snap *domain.Snapshot) (*excelize.File, error) {
	if snap == nil {
		snap = domain.NewSnapshot()
	}
	f := excelize.NewFile()
	first := f.GetSheetName(0)

	order := []string{domain.SheetMixing, domain.SheetGasWater, domain.SheetSpecs}
	other := map[string][][]string{}
	for _, name := range snap.OtherOrder {
		if isManagedSheet(name) {
			continue
		}
		order = append(order, name)
		other[name] = snap.Other[name]
	}
	for _, name := range []string{domain.SheetGWRef, domain.SheetMIRef} {
		if _, ok := other[name]; !ok {
			order = append(order, name)
			other[name] = [][]string{{domain.ReferencePlaceholder}}
		}
	}

	if err := f.SetSheetName(first, order[0]); err != nil {
		f.Close()
		return nil, err
	}
	for _, name := range order[1:] {
		if _, err := f.NewSheet(name); err != nil {
			f.Close()
			return nil, fmt.Errorf("adding sheet %q: %w", name, err)
		}
	}

	for _, part := range domain.PartTypes {
		recs := snap.Tables[part]
		if err := writeRecords(f, part.Sheet(), recs); err != nil {
			f.Close()
			return nil, err
		}
		if err := applyFormatting(f, part.Sheet(), recs); err != nil {
			s.log.Warn("formatting failed, saving without it", "sheet", part.Sheet(), "error", err)
		}
	}

	specs := snap.Specs
	if len(specs) == 0 {
		specs = spec.Entries()
	}
	if err := writeRows(f, domain.SheetSpecs, specRows(specs)); err != nil {
		f.Close()
		return nil, err
	}

	for _, name := range order[3:] {
		rows := make([][]interface{}, 0, len(other[name]))
		for _, r := range other[name] {
			cells := make([]interface{}, len(r))
			for i, c := range r {
				cells[i] = c
			}
			rows = append(rows, cells)
		}
		if err := writeRows(f, name, rows); err != nil {
			f.Close()
			return nil, err
		}
	}
	f.SetActiveSheet(0)
	return f, nil
}

func writeRecords(f *excelize.File, sheet string, recs []domain.Record) error {
	rows := make([][]interface{}, 0, len(recs)+1)
	rows = append(rows, headerRow(domain.DataColumns))
	for _, r := range recs {
		rows = append(rows, RecordCells(r))
	}
	return writeRows(f, sheet, rows)
}

func writeRows(f *excelize.File, sheet string, rows [][]interface{}) error {
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("writing %s row %d: %w", sheet, i+1, err)
		}
	}
	return nil
}

func headerRow(cols []string) []interface{} {
	out := make([]interface{}, len(cols))
	for i, c := range cols {
		out[i] = c
	}
	return out
}

// RecordCells is r laid out in DataColumns order, ready for SetSheetRow.
func RecordCells(r domain.Record) []interface{} {
	ts := ""
	if !r.Timestamp.IsZero() {
		ts = r.Timestamp.Format(domain.TimestampLayout)
	}
	return []interface{}{
		ts,
		r.Machine,
		string(r.PartType),
		r.Chamber,
		r.PieceID,
		string(r.PartFlow),
		r.Hole,
		string(r.Feature),
		r.Value.Cell(),
		r.Nominal.Cell(),
		r.LSL.Cell(),
		r.USL.Cell(),
		string(r.Status),
		r.Notes,
		r.ImagePath,
	}
}

func specRows(entries []domain.SpecEntry) [][]interface{} {
	rows := make([][]interface{}, 0, len(entries)+1)
	rows = append(rows, headerRow(domain.SpecColumns))
	for _, e := range entries {
		rows = append(rows, []interface{}{
			string(e.PartType), e.Hole, string(e.Feature), e.Nominal, e.LSL, e.USL, e.Tolerance(),
		})
	}
	return rows
}

// cellText is the raw text a cell written from v reads back as.
func cellText(v interface{}) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	default:
		return fmt.Sprint(x)
	}
}

// applyFormatting fills FAIL rows and draws a medium bottom border under
// the last row of every (Timestamp, Piece ID) group.
func applyFormatting(f *excelize.File, sheet string, recs []domain.Record) error {
	if len(recs) == 0 {
		return nil
	}
	fill := excelize.Fill{Type: "pattern", Color: []string{failFill}, Pattern: 1}
	border := []excelize.Border{{Type: "bottom", Color: "000000", Style: 2}}

	failStyle, err := f.NewStyle(&excelize.Style{Fill: fill})
	if err != nil {
		return err
	}
	edgeStyle, err := f.NewStyle(&excelize.Style{Border: border})
	if err != nil {
		return err
	}
	failEdgeStyle, err := f.NewStyle(&excelize.Style{Fill: fill, Border: border})
	if err != nil {
		return err
	}
	lastCol, err := excelize.ColumnNumberToName(len(domain.DataColumns))
	if err != nil {
		return err
	}

	for i, r := range recs {
		fail := r.Status == domain.StatusFail
		edge := i == len(recs)-1 || groupKey(recs[i+1]) != groupKey(r)
		var style int
		switch {
		case fail && edge:
			style = failEdgeStyle
		case fail:
			style = failStyle
		case edge:
			style = edgeStyle
		default:
			continue
		}
		row := i + 2
		if err := f.SetCellStyle(sheet, fmt.Sprintf("A%d", row), fmt.Sprintf("%s%d", lastCol, row), style); err != nil {
			return err
		}
	}
	return nil
}

func groupKey(r domain.Record) string {
	return r.Timestamp.Format(domain.TimestampLayout) + "\x00" + r.PieceID
}
