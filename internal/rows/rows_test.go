package rows

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"qclog/internal/domain"
	"qclog/internal/logger"
	"qclog/internal/storage/sqlite"
	"qclog/internal/storage/workbook"
)

func TestParseRowSpec(t *testing.T) {
	tests := []struct {
		in   string
		want []int
	}{
		{"1,3-5,2", []int{1, 2, 3, 4, 5}},
		{"5-3", []int{3, 4, 5}},
		{"abc,2", []int{2}},
		{" 7 , 1 - 2 ,, 7", []int{1, 2, 7}},
		{"", []int{}},
		{"x-y, 4-", []int{}},
	}
	for _, tc := range tests {
		got := ParseRowSpec(tc.in).Within(-100, 100)
		if !reflect.DeepEqual(got, tc.want) {
			t.Fatalf("ParseRowSpec(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestRowSpecWithinClipsRanges(t *testing.T) {
	sel := ParseRowSpec("1-3000000000, 2, -9999999999-0")
	if len(sel) != 3 {
		t.Fatalf("expected three spans, got %v", sel)
	}
	if got := sel.Within(1, 5); !reflect.DeepEqual(got, []int{1, 2, 3, 4, 5}) {
		t.Fatalf("Within(1, 5) = %v", got)
	}
	if got := sel.Within(0, 0); !reflect.DeepEqual(got, []int{0}) {
		t.Fatalf("Within(0, 0) = %v", got)
	}
	if got := ParseRowSpec("50-60").Within(1, 5); len(got) != 0 {
		t.Fatalf("disjoint range should select nothing, got %v", got)
	}
}

func TestDeleteRowsHugeRange(t *testing.T) {
	store := fiveRows()
	ed := NewEditor(store, EditorOptions{Logger: logger.Nop()})
	out := ed.DeleteRows(domain.MixingBlock, ParseRowSpec("4-3000000000"), 1)
	if !out.OK || !reflect.DeepEqual(out.Rows, []int{3, 4}) {
		t.Fatalf("unexpected outcome %+v", out)
	}
	if got := pieces(store.snap.Tables[domain.MixingBlock]); got != "ABC" {
		t.Fatalf("remaining rows = %q, want ABC", got)
	}
}

func TestList(t *testing.T) {
	recs := []domain.Record{{PieceID: "A"}, {PieceID: "A"}, {PieceID: "B"}, {PieceID: "A"}}
	got := List(recs)
	wantStart := []bool{true, false, true, true}
	for i, row := range got {
		if row.Number != i+1 || row.GroupStart != wantStart[i] {
			t.Fatalf("row %d: %+v", i, row)
		}
	}
}

type memStore struct {
	snap   *domain.Snapshot
	status workbook.WriteStatus
	writes int
}

func (m *memStore) Snapshot() *domain.Snapshot { return m.snap.Clone() }

func (m *memStore) AtomicWrite(snap *domain.Snapshot, _ ...workbook.WriteOption) workbook.WriteResult {
	m.writes++
	if m.status == workbook.Locked {
		return workbook.WriteResult{Status: workbook.Locked, Err: domain.ErrLocked}
	}
	m.snap = snap.Clone()
	return workbook.WriteResult{Status: workbook.Saved, Path: "qc.xlsx"}
}

type fakeCache struct{ n int }

func (c *fakeCache) InvalidatePart(domain.PartType) { c.n++ }

type fakeJournal struct{ changes []sqlite.ChangeEntry }

func (j *fakeJournal) RecordChange(c sqlite.ChangeEntry) error {
	j.changes = append(j.changes, c)
	return nil
}

func fiveRows() *memStore {
	snap := domain.NewSnapshot()
	for i := 0; i < 5; i++ {
		snap.Append(domain.MixingBlock, []domain.Record{{
			PieceID: string(rune('A' + i)), Hole: "H1", Feature: domain.Inner,
			Value: domain.Float(4), LSL: domain.Float(3.5), USL: domain.Float(4.5), Status: domain.StatusPass,
		}})
	}
	return &memStore{snap: snap}
}

func pieces(recs []domain.Record) string {
	var b strings.Builder
	for _, r := range recs {
		b.WriteString(r.PieceID)
	}
	return b.String()
}

func TestDeleteScenario(t *testing.T) {
	store := fiveRows()
	cache := &fakeCache{}
	journal := &fakeJournal{}
	ed := NewEditor(store, EditorOptions{Cache: cache, Journal: journal, Logger: logger.Nop()})

	out := ed.DeleteRows(domain.MixingBlock, ParseRowSpec("2-3"), 0)
	if !out.OK {
		t.Fatalf("delete failed: %+v", out)
	}
	if got := pieces(store.snap.Tables[domain.MixingBlock]); got != "ABE" {
		t.Fatalf("remaining rows = %q, want ABE", got)
	}
	if cache.n != 1 || len(journal.changes) != 1 || journal.changes[0].Rows != "2,3" {
		t.Fatalf("side effects missing: cache=%d journal=%+v", cache.n, journal.changes)
	}
}

func TestDeleteRowsOneBasedAndOutOfRange(t *testing.T) {
	store := fiveRows()
	ed := NewEditor(store, EditorOptions{Logger: logger.Nop()})

	out := ed.DeleteRows(domain.MixingBlock, Rows(0, 1, 5, 6), 1)
	if !out.OK || !reflect.DeepEqual(out.Rows, []int{0, 4}) {
		t.Fatalf("unexpected outcome %+v", out)
	}
	if got := pieces(store.snap.Tables[domain.MixingBlock]); got != "BCD" {
		t.Fatalf("remaining rows = %q, want BCD", got)
	}

	out = ed.DeleteRows(domain.MixingBlock, Rows(10, 11), 1)
	if out.OK || !strings.Contains(out.Message, "1-3") {
		t.Fatalf("expected range hint failure, got %+v", out)
	}
	if out := ed.DeleteRows(domain.MixingBlock, nil, 1); out.OK {
		t.Fatal("empty row spec must fail")
	}
}

func TestDeleteRowsLockedIsAnError(t *testing.T) {
	store := fiveRows()
	store.status = workbook.Locked
	ed := NewEditor(store, EditorOptions{Logger: logger.Nop()})

	out := ed.DeleteRows(domain.MixingBlock, Rows(0), 0)
	if out.OK || !strings.Contains(out.Message, "open in another program") {
		t.Fatalf("expected lock error, got %+v", out)
	}
	if len(store.snap.Tables[domain.MixingBlock]) != 5 {
		t.Fatal("table must be unchanged")
	}
}

func TestEditRow(t *testing.T) {
	store := fiveRows()
	ed := NewEditor(store, EditorOptions{Logger: logger.Nop()})

	out := ed.EditRow(domain.MixingBlock, 1, map[string]string{
		"Value": " 4.9 ",
		"notes": "  re-measured ",
		"LSL":   "",
	})
	if !out.OK {
		t.Fatalf("edit failed: %+v", out)
	}
	r := store.snap.Tables[domain.MixingBlock][1]
	if r.Value != domain.Float(4.9) || r.Notes != "re-measured" || r.LSL.Valid {
		t.Fatalf("unexpected record %+v", r)
	}
	if r.Status != domain.StatusPass {
		t.Fatal("status must not be recomputed by default")
	}
}

func TestEditRowValidation(t *testing.T) {
	store := fiveRows()
	ed := NewEditor(store, EditorOptions{Logger: logger.Nop()})

	tests := []map[string]string{
		{"value": "four"},
		{"Part In/Out": "SIDEWAYS"},
		{"feature": "middle"},
		{"status": "MAYBE"},
		{"Part Type": "Gas/Water Block"},
		{"colour": "red"},
		{"timestamp": "yesterday"},
	}
	for _, upd := range tests {
		if out := ed.EditRow(domain.MixingBlock, 0, upd); out.OK {
			t.Fatalf("edit %v should be rejected", upd)
		}
	}
	if store.writes != 0 {
		t.Fatalf("rejected edits must not write, writes=%d", store.writes)
	}
	if out := ed.EditRow(domain.MixingBlock, 9, map[string]string{"notes": "x"}); out.OK {
		t.Fatal("out of range row must be rejected")
	}
}

func TestEditRowRecompute(t *testing.T) {
	store := fiveRows()
	ed := NewEditor(store, EditorOptions{RecomputeStatus: true, Logger: logger.Nop()})

	if out := ed.EditRow(domain.MixingBlock, 0, map[string]string{"value": "4.6"}); !out.OK {
		t.Fatalf("edit failed: %+v", out)
	}
	if got := store.snap.Tables[domain.MixingBlock][0].Status; got != domain.StatusFail {
		t.Fatalf("status = %s, want FAIL", got)
	}

	if out := ed.EditRow(domain.MixingBlock, 0, map[string]string{"value": "4.7", "status": "PASS"}); !out.OK {
		t.Fatalf("edit failed: %+v", out)
	}
	if got := store.snap.Tables[domain.MixingBlock][0].Status; got != domain.StatusPass {
		t.Fatal("an explicit status edit wins over recompute")
	}
}

func TestDeleteImages(t *testing.T) {
	store := fiveRows()
	dir := t.TempDir()
	img := filepath.Join(dir, "A_H1_Inner.jpg")
	if err := os.WriteFile(img, []byte("x"), 0o644); err != nil {
		t.Fatalf("write image: %v", err)
	}
	store.snap.Tables[domain.MixingBlock][0].ImagePath = img
	store.snap.Tables[domain.MixingBlock][1].ImagePath = filepath.Join(dir, "gone.jpg")
	ed := NewEditor(store, EditorOptions{Logger: logger.Nop()})

	out := ed.DeleteImages(domain.MixingBlock, Rows(1, 2, 3), 1)
	if !out.OK {
		t.Fatalf("delete images failed: %+v", out)
	}
	if _, err := os.Stat(img); !errors.Is(err, fs.ErrNotExist) {
		t.Fatal("image file should be removed")
	}
	for i, r := range store.snap.Tables[domain.MixingBlock][:2] {
		if r.ImagePath != "" {
			t.Fatalf("row %d image path not cleared", i)
		}
	}

	store.writes = 0
	out = ed.DeleteImages(domain.MixingBlock, Rows(1), 1)
	if !out.OK || store.writes != 0 {
		t.Fatalf("rows without images need no write: %+v writes=%d", out, store.writes)
	}
}

func TestEditRowTimestamp(t *testing.T) {
	store := fiveRows()
	ed := NewEditor(store, EditorOptions{Logger: logger.Nop()})
	if out := ed.EditRow(domain.MixingBlock, 2, map[string]string{"Timestamp": "2024-04-01 07:30:00"}); !out.OK {
		t.Fatalf("edit failed: %+v", out)
	}
	want := time.Date(2024, 4, 1, 7, 30, 0, 0, time.Local)
	if got := store.snap.Tables[domain.MixingBlock][2].Timestamp; !got.Equal(want) {
		t.Fatalf("timestamp = %v, want %v", got, want)
	}
}

func TestEditsRefuseUnreadableWorkbook(t *testing.T) {
	store := fiveRows()
	store.snap.Unreadable = true
	ed := NewEditor(store, EditorOptions{Logger: logger.Nop()})

	outcomes := []Outcome{
		ed.DeleteRows(domain.MixingBlock, Rows(1), 1),
		ed.DeleteImages(domain.MixingBlock, Rows(1), 1),
		ed.EditRow(domain.MixingBlock, 0, map[string]string{"notes": "x"}),
	}
	for i, out := range outcomes {
		if out.OK || !strings.Contains(out.Message, "could not be read") {
			t.Fatalf("outcome %d: %+v", i, out)
		}
	}
	if store.writes != 0 {
		t.Fatalf("nothing may be written, writes=%d", store.writes)
	}
}
