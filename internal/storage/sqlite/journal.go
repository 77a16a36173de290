package sqlite

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// WriteEntry is one workbook write outcome.
type WriteEntry struct {
	ID        int64
	Target    string
	Status    string
	Path      string
	Attempts  int
	Error     string
	WrittenAt time.Time
}

// BatchEntry is one ingestion call that reached the store.
type BatchEntry struct {
	ID          int64
	BatchID     string
	PartType    string
	PieceID     string
	Machine     string
	Chamber     string
	Rows        int
	Failures    int
	Warnings    int
	WriteStatus string
	Path        string
	CreatedAt   time.Time
}

// ChangeEntry records a row edit, delete or image removal.
type ChangeEntry struct {
	ID        int64
	Action    string
	PartType  string
	Rows      string
	Detail    string
	Path      string
	ChangedAt time.Time
}

func InitDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}

	schema := `
	CREATE TABLE IF NOT EXISTS write_journal (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		target     TEXT NOT NULL,
		status     TEXT NOT NULL,
		path       TEXT DEFAULT '',
		attempts   INTEGER NOT NULL DEFAULT 0,
		error      TEXT DEFAULT '',
		written_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_write_journal_written_at ON write_journal(written_at);
	CREATE INDEX IF NOT EXISTS idx_write_journal_status ON write_journal(status);

	CREATE TABLE IF NOT EXISTS ingest_batches (
		id           INTEGER PRIMARY KEY AUTOINCREMENT,
		batch_id     TEXT NOT NULL UNIQUE,
		part_type    TEXT NOT NULL,
		piece_id     TEXT NOT NULL,
		machine      TEXT DEFAULT '',
		chamber      TEXT DEFAULT '',
		rows_count   INTEGER NOT NULL,
		fail_count   INTEGER NOT NULL DEFAULT 0,
		warning_count INTEGER NOT NULL DEFAULT 0,
		write_status TEXT NOT NULL,
		path         TEXT DEFAULT '',
		created_at   DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_ingest_batches_created_at ON ingest_batches(created_at);
	CREATE INDEX IF NOT EXISTS idx_ingest_batches_piece ON ingest_batches(piece_id);

	CREATE TABLE IF NOT EXISTS row_changes (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		action     TEXT NOT NULL,
		part_type  TEXT NOT NULL,
		rows       TEXT DEFAULT '',
		detail     TEXT DEFAULT '',
		path       TEXT DEFAULT '',
		changed_at DATETIME NOT NULL
	);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, err
	}
	// Journals created before warning_count existed.
	if err := addColumnIfMissing(db, "ingest_batches", "warning_count", "INTEGER NOT NULL DEFAULT 0"); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func addColumnIfMissing(db *sql.DB, table, column, decl string) error {
	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM pragma_table_info(?) WHERE name = ?`, table, column).Scan(&n); err != nil {
		return fmt.Errorf("inspecting %s: %w", table, err)
	}
	if n > 0 {
		return nil
	}
	if _, err := db.Exec(fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, column, decl)); err != nil {
		return fmt.Errorf("adding %s.%s: %w", table, column, err)
	}
	return nil
}

func RecordWrite(db *sql.DB, e WriteEntry) error {
	if e.WrittenAt.IsZero() {
		e.WrittenAt = time.Now()
	}
	_, err := db.Exec(
		`INSERT INTO write_journal (target, status, path, attempts, error, written_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		e.Target, e.Status, e.Path, e.Attempts, e.Error, e.WrittenAt,
	)
	return err
}

func RecordBatch(db *sql.DB, b BatchEntry) error {
	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now()
	}
	_, err := db.Exec(
		`INSERT INTO ingest_batches (batch_id, part_type, piece_id, machine, chamber, rows_count, fail_count, warning_count, write_status, path, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.BatchID, b.PartType, b.PieceID, b.Machine, b.Chamber, b.Rows, b.Failures, b.Warnings,
		b.WriteStatus, b.Path, b.CreatedAt,
	)
	return err
}

func RecordChange(db *sql.DB, c ChangeEntry) error {
	if c.ChangedAt.IsZero() {
		c.ChangedAt = time.Now()
	}
	_, err := db.Exec(
		`INSERT INTO row_changes (action, part_type, rows, detail, path, changed_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		c.Action, c.PartType, c.Rows, c.Detail, c.Path, c.ChangedAt,
	)
	return err
}

func RecentWrites(db *sql.DB, limit int) ([]WriteEntry, error) {
	return queryWrites(db,
		`SELECT id, target, status, path, attempts, error, written_at
		 FROM write_journal ORDER BY written_at DESC, id DESC LIMIT ?`, limit)
}

// LockedWrites lists writes whose data went to an alternate file, oldest first.
func LockedWrites(db *sql.DB) ([]WriteEntry, error) {
	return queryWrites(db,
		`SELECT id, target, status, path, attempts, error, written_at
		 FROM write_journal WHERE status = 'locked' AND path != '' ORDER BY written_at, id`)
}

func queryWrites(db *sql.DB, query string, args ...interface{}) ([]WriteEntry, error) {
	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []WriteEntry
	for rows.Next() {
		var e WriteEntry
		if err := rows.Scan(&e.ID, &e.Target, &e.Status, &e.Path, &e.Attempts, &e.Error, &e.WrittenAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func RecentBatches(db *sql.DB, limit int) ([]BatchEntry, error) {
	rows, err := db.Query(
		`SELECT id, batch_id, part_type, piece_id, machine, chamber, rows_count, fail_count, warning_count, write_status, path, created_at
		 FROM ingest_batches ORDER BY created_at DESC, id DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []BatchEntry
	for rows.Next() {
		var b BatchEntry
		if err := rows.Scan(
			&b.ID, &b.BatchID, &b.PartType, &b.PieceID, &b.Machine, &b.Chamber,
			&b.Rows, &b.Failures, &b.Warnings, &b.WriteStatus, &b.Path, &b.CreatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func RecentChanges(db *sql.DB, limit int) ([]ChangeEntry, error) {
	rows, err := db.Query(
		`SELECT id, action, part_type, rows, detail, path, changed_at
		 FROM row_changes ORDER BY changed_at DESC, id DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ChangeEntry
	for rows.Next() {
		var c ChangeEntry
		if err := rows.Scan(&c.ID, &c.Action, &c.PartType, &c.Rows, &c.Detail, &c.Path, &c.ChangedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
