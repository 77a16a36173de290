package rows

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"qclog/internal/domain"
	"qclog/internal/logger"
	"qclog/internal/spec"
	"qclog/internal/storage/sqlite"
	"qclog/internal/storage/workbook"
)

type Store interface {
	Snapshot() *domain.Snapshot
	AtomicWrite(snap *domain.Snapshot, opts ...workbook.WriteOption) workbook.WriteResult
}

type Invalidator interface {
	InvalidatePart(part domain.PartType)
}

type ChangeJournal interface {
	RecordChange(c sqlite.ChangeEntry) error
}

// Outcome is what every editor operation reports. Rows are 0-based indices
// into the table as it was before the change.
type Outcome struct {
	OK      bool
	Message string
	Rows    []int
	Write   workbook.WriteResult
}

type EditorOptions struct {
	Evaluator spec.Evaluator
	// RecomputeStatus re-evaluates Status when an edit touches the value,
	// hole, feature or limits and does not set Status itself.
	RecomputeStatus bool
	Cache           Invalidator
	Journal         ChangeJournal
	Logger          *logger.Logger
}

type Editor struct {
	store     Store
	eval      spec.Evaluator
	recompute bool
	cache     Invalidator
	journal   ChangeJournal
	log       *logger.Logger

	removeFile func(string) error
}

func NewEditor(store Store, opts EditorOptions) *Editor {
	return &Editor{
		store:      store,
		eval:       opts.Evaluator,
		recompute:  opts.RecomputeStatus,
		cache:      opts.Cache,
		journal:    opts.Journal,
		log:        logger.OrNop(opts.Logger).With("component", "rows"),
		removeFile: os.Remove,
	}
}

// resolve converts base-relative row numbers to valid 0-based indices.
func resolve(sel RowSpec, base, length int) []int {
	if length == 0 {
		return nil
	}
	numbers := sel.Within(base, length-1+base)
	for i := range numbers {
		numbers[i] -= base
	}
	return numbers
}

func unreadable() Outcome {
	return Outcome{Message: "Workbook could not be read; nothing was changed."}
}

func rangeHint(base, length int) string {
	if length == 0 {
		return "the table is empty"
	}
	return fmt.Sprintf("valid rows are %d-%d", base, length-1+base)
}

// DeleteRows removes the given rows of part. base is 0 or 1 and says how
// numbers are counted.
func (e *Editor) DeleteRows(part domain.PartType, sel RowSpec, base int) Outcome {
	if len(sel) == 0 {
		return Outcome{Message: "No rows specified."}
	}
	snap := e.store.Snapshot()
	if snap.Unreadable {
		return unreadable()
	}
	table := snap.Tables[part]
	idx := resolve(sel, base, len(table))
	if len(idx) == 0 {
		return Outcome{Message: fmt.Sprintf("No valid rows to delete; %s.", rangeHint(base, len(table)))}
	}

	drop := map[int]bool{}
	for _, i := range idx {
		drop[i] = true
	}
	kept := make([]domain.Record, 0, len(table)-len(idx))
	for i, r := range table {
		if !drop[i] {
			kept = append(kept, r)
		}
	}
	snap.Tables[part] = kept

	out := e.persist(snap, part, "delete", idx, "")
	if out.OK {
		out.Message = fmt.Sprintf("Deleted %d row(s) from %s.", len(idx), part)
	}
	return out
}

// DeleteImages clears the Image Path of the given rows and, once that is
// saved, removes the image files. Missing files are not an error.
func (e *Editor) DeleteImages(part domain.PartType, sel RowSpec, base int) Outcome {
	if len(sel) == 0 {
		return Outcome{Message: "No rows specified."}
	}
	snap := e.store.Snapshot()
	if snap.Unreadable {
		return unreadable()
	}
	table := snap.Tables[part]
	idx := resolve(sel, base, len(table))
	if len(idx) == 0 {
		return Outcome{Message: fmt.Sprintf("No valid rows; %s.", rangeHint(base, len(table)))}
	}

	var paths []string
	for _, i := range idx {
		if table[i].ImagePath == "" {
			continue
		}
		paths = append(paths, table[i].ImagePath)
		table[i].ImagePath = ""
	}
	if len(paths) == 0 {
		return Outcome{OK: true, Message: "Selected rows have no images.", Rows: idx}
	}

	out := e.persist(snap, part, "delete-images", idx, fmt.Sprintf("%d image(s)", len(paths)))
	if !out.OK {
		return out
	}
	problems := 0
	for _, path := range paths {
		if err := e.removeFile(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			problems++
			e.log.Warn("image not removed", "path", path, "error", err)
		}
	}
	out.Message = fmt.Sprintf("Removed %d image(s).", len(paths)-problems)
	if problems > 0 {
		out.Message += fmt.Sprintf(" %d file(s) could not be deleted and are no longer referenced.", problems)
	}
	return out
}

// EditRow overwrites fields of one 0-based row. Keys are column headers
// (case-insensitive) or their snake_case forms.
func (e *Editor) EditRow(part domain.PartType, row int, updates map[string]string) Outcome {
	if len(updates) == 0 {
		return Outcome{Message: "No fields to update."}
	}
	snap := e.store.Snapshot()
	if snap.Unreadable {
		return unreadable()
	}
	table := snap.Tables[part]
	if row < 0 || row >= len(table) {
		return Outcome{Message: fmt.Sprintf("Row %d does not exist; %s.", row, rangeHint(0, len(table)))}
	}

	rec := table[row]
	touched := map[string]bool{}
	keys := make([]string, 0, len(updates))
	for k := range updates {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		col, ok := columnFor(k)
		if !ok {
			return Outcome{Message: fmt.Sprintf("Unknown field %q.", k)}
		}
		if err := setField(&rec, col, updates[k]); err != nil {
			return Outcome{Message: fmt.Sprintf("%s: %v", col, err)}
		}
		touched[col] = true
	}

	if e.recompute && !touched[domain.ColStatus] &&
		(touched[domain.ColValue] || touched[domain.ColHole] || touched[domain.ColFeature] || touched[domain.ColLSL] || touched[domain.ColUSL]) {
		rec.Status = e.reevaluate(part, rec)
	}

	table[row] = rec
	out := e.persist(snap, part, "edit", []int{row}, strings.Join(sortedKeys(touched), ", "))
	if out.OK {
		out.Message = fmt.Sprintf("Updated row %d.", row)
	}
	return out
}

// reevaluate uses the row's own limits when it has both, otherwise the
// built-in table.
func (e *Editor) reevaluate(part domain.PartType, r domain.Record) domain.Status {
	if r.LSL.Valid && r.USL.Valid {
		if r.Value.Valid && spec.InSpec(r.Value.Value, r.LSL.Value, r.USL.Value) {
			return domain.StatusPass
		}
		return domain.StatusFail
	}
	return e.eval.Evaluate(part, r.Hole, r.Feature, r.Value).Status
}

func (e *Editor) persist(snap *domain.Snapshot, part domain.PartType, action string, idx []int, detail string) Outcome {
	res := e.store.AtomicWrite(snap, workbook.WithoutFallback())
	out := Outcome{Rows: idx, Write: res}
	switch res.Status {
	case workbook.Saved:
		out.OK = true
	case workbook.Locked:
		out.Message = "Workbook is open in another program. Close it and try again; nothing was changed."
		e.log.Warn("edit blocked by lock", "action", action, "part", part, "error", res.Err)
		return out
	default:
		out.Message = fmt.Sprintf("Could not save changes: %v", res.Err)
		e.log.Error("edit write failed", "action", action, "part", part, "error", res.Err)
		return out
	}

	if e.cache != nil {
		e.cache.InvalidatePart(part)
	}
	if e.journal != nil {
		err := e.journal.RecordChange(sqlite.ChangeEntry{
			Action:    action,
			PartType:  string(part),
			Rows:      joinInts(idx),
			Detail:    detail,
			Path:      res.Path,
			ChangedAt: time.Now(),
		})
		if err != nil {
			e.log.Warn("change journal failed", "action", action, "error", err)
		}
	}
	e.log.Info("rows changed", "action", action, "part", part, "rows", len(idx))
	return out
}

var fieldAliases = map[string]string{
	"timestamp":  domain.ColTimestamp,
	"machine":    domain.ColMachine,
	"chamber":    domain.ColChamber,
	"piece_id":   domain.ColPieceID,
	"piece":      domain.ColPieceID,
	"part_flow":  domain.ColPartFlow,
	"flow":       domain.ColPartFlow,
	"hole":       domain.ColHole,
	"feature":    domain.ColFeature,
	"value":      domain.ColValue,
	"nominal":    domain.ColNominal,
	"lsl":        domain.ColLSL,
	"usl":        domain.ColUSL,
	"status":     domain.ColStatus,
	"notes":      domain.ColNotes,
	"image_path": domain.ColImagePath,
}

func columnFor(key string) (string, bool) {
	k := strings.ToLower(strings.TrimSpace(key))
	if col, ok := fieldAliases[k]; ok {
		return col, true
	}
	for _, col := range domain.DataColumns {
		if strings.EqualFold(col, k) && col != domain.ColPartType {
			return col, true
		}
	}
	return "", false
}

func setField(r *domain.Record, col, raw string) error {
	text := strings.TrimSpace(raw)
	switch col {
	case domain.ColValue, domain.ColNominal, domain.ColLSL, domain.ColUSL:
		v, err := domain.ParseOptFloat(text)
		if err != nil {
			return err
		}
		switch col {
		case domain.ColValue:
			r.Value = v
		case domain.ColNominal:
			r.Nominal = v
		case domain.ColLSL:
			r.LSL = v
		default:
			r.USL = v
		}
	case domain.ColTimestamp:
		t, err := time.ParseInLocation(domain.TimestampLayout, text, time.Local)
		if err != nil {
			return fmt.Errorf("%w: timestamp must look like 2006-01-02 15:04:05", domain.ErrValidation)
		}
		r.Timestamp = t
	case domain.ColPartFlow:
		f, err := domain.ParsePartFlow(text)
		if err != nil {
			return err
		}
		r.PartFlow = f
	case domain.ColFeature:
		f, err := domain.ParseFeature(text)
		if err != nil {
			return err
		}
		r.Feature = f
	case domain.ColStatus:
		s, err := domain.ParseStatus(text)
		if err != nil {
			return err
		}
		r.Status = s
	case domain.ColHole:
		if text == "" {
			return fmt.Errorf("%w: hole cannot be empty", domain.ErrValidation)
		}
		r.Hole = domain.NormalizeHole(text)
	case domain.ColPieceID:
		if text == "" {
			return fmt.Errorf("%w: piece ID cannot be empty", domain.ErrValidation)
		}
		r.PieceID = text
	case domain.ColMachine:
		r.Machine = text
	case domain.ColChamber:
		r.Chamber = text
	case domain.ColNotes:
		r.Notes = text
	case domain.ColImagePath:
		r.ImagePath = text
	}
	return nil
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func joinInts(xs []int) string {
	parts := make([]string, len(xs))
	for i, x := range xs {
		parts[i] = strconv.Itoa(x)
	}
	return strings.Join(parts, ",")
}
