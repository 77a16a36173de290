package sqlite

import (
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"qclog/internal/storage/workbook"
)

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "qclog-test.db")
	db, err := InitDB(dbPath)
	if err != nil {
		t.Fatalf("InitDB failed: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func warningColumns(t *testing.T, db *sql.DB) int {
	t.Helper()
	var count int
	if err := db.QueryRow(`SELECT COUNT(*) FROM pragma_table_info('ingest_batches') WHERE name = 'warning_count'`).Scan(&count); err != nil {
		t.Fatalf("query pragma_table_info failed: %v", err)
	}
	return count
}

func TestInitDBCreatesWarningCountColumn(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "journal.db")
	db, err := InitDB(dbPath)
	if err != nil {
		t.Fatalf("InitDB failed: %v", err)
	}
	if n := warningColumns(t, db); n != 1 {
		t.Fatalf("expected warning_count column to exist, count=%d", n)
	}
	db.Close()

	again, err := InitDB(dbPath)
	if err != nil {
		t.Fatalf("second InitDB failed: %v", err)
	}
	again.Close()
}

func TestInitDBMigratesOldBatchTable(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "old.db")
	old, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	_, err = old.Exec(`CREATE TABLE ingest_batches (
		id INTEGER PRIMARY KEY AUTOINCREMENT, batch_id TEXT NOT NULL UNIQUE, part_type TEXT NOT NULL,
		piece_id TEXT NOT NULL, machine TEXT DEFAULT '', chamber TEXT DEFAULT '', rows_count INTEGER NOT NULL,
		fail_count INTEGER NOT NULL DEFAULT 0, write_status TEXT NOT NULL, path TEXT DEFAULT '', created_at DATETIME NOT NULL)`)
	if err != nil {
		t.Fatalf("create old table: %v", err)
	}
	old.Close()

	db, err := InitDB(dbPath)
	if err != nil {
		t.Fatalf("InitDB failed: %v", err)
	}
	defer db.Close()
	if n := warningColumns(t, db); n != 1 {
		t.Fatalf("warning_count should be added, count=%d", n)
	}
	if err := RecordBatch(db, BatchEntry{BatchID: "b1", PartType: "Mixing Block", PieceID: "P", Rows: 1, Warnings: 2, WriteStatus: "saved"}); err != nil {
		t.Fatalf("RecordBatch after migration: %v", err)
	}
}

func TestInitDBFailsOnUnusablePath(t *testing.T) {
	if _, err := InitDB(filepath.Join(t.TempDir(), "missing", "dir", "journal.db")); err == nil {
		t.Fatal("expected an error for a path in a missing directory")
	}
}

func TestWriteJournalQueries(t *testing.T) {
	db := newTestDB(t)
	j := Journal{DB: db}
	base := time.Now().UTC().Truncate(time.Second)

	events := []workbook.WriteEvent{
		{Time: base, Target: "qc.xlsx", Status: workbook.Saved, Path: "qc.xlsx", Attempts: 1},
		{Time: base.Add(time.Minute), Target: "qc.xlsx", Status: workbook.Locked, Path: "qc_LOCKED_1.xlsx", Attempts: 1, Error: "locked"},
		{Time: base.Add(2 * time.Minute), Target: "qc.xlsx", Status: workbook.Locked, Attempts: 1, Error: "locked"},
		{Time: base.Add(3 * time.Minute), Target: "qc.xlsx", Status: workbook.Failed, Attempts: 3, Error: "disk"},
	}
	for _, ev := range events {
		if err := j.RecordWrite(ev); err != nil {
			t.Fatalf("RecordWrite failed: %v", err)
		}
	}

	recent, err := RecentWrites(db, 2)
	if err != nil {
		t.Fatalf("RecentWrites failed: %v", err)
	}
	if len(recent) != 2 || recent[0].Status != "failed" || recent[1].Path != "" {
		t.Fatalf("unexpected recent writes: %+v", recent)
	}

	locked, err := LockedWrites(db)
	if err != nil {
		t.Fatalf("LockedWrites failed: %v", err)
	}
	if len(locked) != 1 || locked[0].Path != "qc_LOCKED_1.xlsx" {
		t.Fatalf("expected only the write that produced an alternate file, got %+v", locked)
	}
	if !locked[0].WrittenAt.Equal(base.Add(time.Minute)) {
		t.Fatalf("unexpected written_at: %v", locked[0].WrittenAt)
	}
}

func TestBatchesAndChanges(t *testing.T) {
	db := newTestDB(t)
	j := Journal{DB: db}
	base := time.Now().UTC().Truncate(time.Second)

	if err := j.RecordBatch(BatchEntry{
		BatchID: "b-1", PartType: "Mixing Block", PieceID: "P1", Machine: "SA01",
		Rows: 4, Failures: 1, Warnings: 2, WriteStatus: "saved", Path: "qc.xlsx", CreatedAt: base,
	}); err != nil {
		t.Fatalf("RecordBatch failed: %v", err)
	}
	if err := j.RecordBatch(BatchEntry{
		BatchID: "b-2", PartType: "Gas/Water Block", PieceID: "P2", Rows: 5,
		WriteStatus: "locked", Path: "qc_LOCKED.xlsx", CreatedAt: base.Add(time.Minute),
	}); err != nil {
		t.Fatalf("RecordBatch failed: %v", err)
	}
	if err := j.RecordBatch(BatchEntry{BatchID: "b-1", PartType: "x", PieceID: "x", WriteStatus: "saved"}); err == nil {
		t.Fatal("expected duplicate batch id to be rejected")
	}

	batches, err := RecentBatches(db, 10)
	if err != nil {
		t.Fatalf("RecentBatches failed: %v", err)
	}
	if len(batches) != 2 || batches[0].BatchID != "b-2" {
		t.Fatalf("unexpected batches: %+v", batches)
	}
	if batches[1].Failures != 1 || batches[1].Warnings != 2 || batches[1].Rows != 4 {
		t.Fatalf("unexpected counts: %+v", batches[1])
	}

	if err := j.RecordChange(ChangeEntry{Action: "delete", PartType: "Mixing Block", Rows: "2,3", Path: "qc.xlsx"}); err != nil {
		t.Fatalf("RecordChange failed: %v", err)
	}
	changes, err := RecentChanges(db, 5)
	if err != nil {
		t.Fatalf("RecentChanges failed: %v", err)
	}
	if len(changes) != 1 || changes[0].Rows != "2,3" || changes[0].ChangedAt.IsZero() {
		t.Fatalf("unexpected changes: %+v", changes)
	}
}
