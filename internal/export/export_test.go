package export

import (
	"bytes"
	"encoding/csv"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/xuri/excelize/v2"

	"qclog/internal/domain"
	"qclog/internal/spec"
)

func TestSpecsCSV(t *testing.T) {
	var buf bytes.Buffer
	if err := SpecsCSV(&buf, spec.Filter(domain.GasWaterBlock)); err != nil {
		t.Fatalf("SpecsCSV: %v", err)
	}
	rows, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	if !reflect.DeepEqual(rows[0], domain.SpecColumns) {
		t.Fatalf("header = %v", rows[0])
	}
	if len(rows) != 6 {
		t.Fatalf("expected 5 gas/water specs, got %d", len(rows)-1)
	}
	want := []string{"Gas/Water Block", "H2", "Inner", "6.15", "5.65", "6.65", "0.5"}
	if !reflect.DeepEqual(rows[2], want) {
		t.Fatalf("row = %v, want %v", rows[2], want)
	}

	if err := SpecsCSV(&buf, nil); !errors.Is(err, ErrNoSpecs) {
		t.Fatalf("expected ErrNoSpecs, got %v", err)
	}
}

func TestWriteSpecsCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "specs.csv")
	abs, err := WriteSpecsCSV(path, "")
	if err != nil {
		t.Fatalf("WriteSpecsCSV: %v", err)
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if n := strings.Count(string(data), "\n"); n != 14 {
		t.Fatalf("expected header plus 13 rows, got %d lines", n)
	}
}

func TestWriteReportFile(t *testing.T) {
	dir := t.TempDir()
	date := time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)
	path, err := WriteReportFile("# Digest\n", dir, date, "QC trend/digest")
	if err != nil {
		t.Fatalf("WriteReportFile: %v", err)
	}
	if filepath.Base(path) != "QC_trend_digest_20240304.md" {
		t.Fatalf("unexpected file name %s", filepath.Base(path))
	}
	if data, _ := os.ReadFile(path); string(data) != "# Digest\n" {
		t.Fatalf("unexpected content %q", data)
	}
}

func rec(day int, machine, chamber, hole string, feature domain.Feature, v float64) domain.Record {
	return domain.Record{
		Timestamp: time.Date(2024, 5, day, 9, 0, 0, 0, time.Local),
		Machine:   machine, Chamber: chamber, PieceID: "P1", PartFlow: domain.FlowIn,
		Hole: hole, Feature: feature, Value: domain.Float(v),
		LSL: domain.Float(3.5), USL: domain.Float(4.5), Status: domain.StatusPass,
	}
}

func TestTrendWorkbook(t *testing.T) {
	mixing := []domain.Record{
		rec(3, "SA01", "B", "H1", domain.Inner, 4.7),
		rec(1, "SA01", "A", "H1", domain.Inner, 4.0),
		rec(2, "SA02", "A", "H1", domain.Outer, 4.2),
	}
	for i := range mixing {
		mixing[i].PartType = domain.MixingBlock
	}
	gas := []domain.Record{rec(1, "SA03", "C", "H2", domain.Inner, 4.1)}
	gas[0].PartType = domain.GasWaterBlock

	path := filepath.Join(t.TempDir(), "trendchart.xlsx")
	sheets, err := TrendWorkbook(path, map[domain.PartType][]domain.Record{
		domain.MixingBlock:   mixing,
		domain.GasWaterBlock: gas,
	})
	if err != nil {
		t.Fatalf("TrendWorkbook: %v", err)
	}
	want := []string{
		"Mixing_Block_All_All", "Mixing_Block_SA01_All", "Mixing_Block_SA02_All",
		"Mixing_Block_SA01_A", "Mixing_Block_SA01_B", "Mixing_Block_SA02_A",
		"Gas_Water_Block_All_All", "Gas_Water_Block_SA03_All", "Gas_Water_Block_SA03_C",
	}
	if !reflect.DeepEqual(sheets, want) {
		t.Fatalf("sheets = %v", sheets)
	}

	f, err := excelize.OpenFile(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()
	if !reflect.DeepEqual(f.GetSheetList(), want) {
		t.Fatalf("workbook sheets = %v", f.GetSheetList())
	}

	rows, err := f.GetRows("Mixing_Block_All_All")
	if err != nil {
		t.Fatalf("GetRows: %v", err)
	}
	headers := 0
	for _, r := range rows {
		if len(r) > 0 && r[0] == domain.ColTimestamp {
			headers++
		}
	}
	if headers != 2 {
		t.Fatalf("expected one table per hole feature, got %d", headers)
	}
	if !strings.HasPrefix(rows[1][0], "2024-05-01") || !strings.HasPrefix(rows[2][0], "2024-05-03") {
		t.Fatalf("rows not time ordered: %v / %v", rows[1][0], rows[2][0])
	}

	passStyle, _ := f.GetCellStyle("Mixing_Block_All_All", "I2")
	failStyle, _ := f.GetCellStyle("Mixing_Block_All_All", "I3")
	if passStyle == 0 || failStyle == 0 || passStyle == failStyle {
		t.Fatalf("value cells should carry distinct fills: pass=%d fail=%d", passStyle, failStyle)
	}
}

func TestTrendWorkbookEmpty(t *testing.T) {
	_, err := TrendWorkbook(filepath.Join(t.TempDir(), "t.xlsx"), nil)
	if !errors.Is(err, ErrNoData) {
		t.Fatalf("expected ErrNoData, got %v", err)
	}
}

func TestSheetNames(t *testing.T) {
	long := sheetName(domain.GasWaterBlock, combo{"MACHINE-WITH-LONG-NAME", "North"})
	if len(long) != maxSheetName || strings.ContainsAny(long, " /") {
		t.Fatalf("unexpected sheet name %q", long)
	}
	used := map[string]bool{}
	a := uniqueSheetName(long, used)
	b := uniqueSheetName(long, used)
	if a == b || len(b) > maxSheetName || !strings.HasSuffix(b, "~2") {
		t.Fatalf("names must be unique and short: %q %q", a, b)
	}
}

func TestSheetNamesKeepWholeCharacters(t *testing.T) {
	name := sheetName(domain.MixingBlock, combo{"Maschine-Größe-äöü", "Kammer"})
	if !utf8.ValidString(name) || utf8.RuneCountInString(name) != maxSheetName {
		t.Fatalf("sheet name %q must be %d valid characters", name, maxSheetName)
	}
	if got := truncateRunes("R²R²", 3); got != "R²R" {
		t.Fatalf("truncateRunes = %q", got)
	}
	b := uniqueSheetName(name, map[string]bool{strings.ToLower(name): true})
	if !utf8.ValidString(b) || utf8.RuneCountInString(b) != maxSheetName || !strings.HasSuffix(b, "~2") {
		t.Fatalf("unique name %q", b)
	}
}
