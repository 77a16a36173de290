package sqlite

import (
	"database/sql"

	"qclog/internal/storage/workbook"
)

// Journal adapts the free functions to the interfaces the store and the
// services log through.
type Journal struct {
	DB *sql.DB
}

func (j Journal) RecordWrite(ev workbook.WriteEvent) error {
	return RecordWrite(j.DB, WriteEntry{
		Target:    ev.Target,
		Status:    string(ev.Status),
		Path:      ev.Path,
		Attempts:  ev.Attempts,
		Error:     ev.Error,
		WrittenAt: ev.Time,
	})
}

func (j Journal) RecordBatch(b BatchEntry) error {
	return RecordBatch(j.DB, b)
}

func (j Journal) RecordChange(c ChangeEntry) error {
	return RecordChange(j.DB, c)
}
