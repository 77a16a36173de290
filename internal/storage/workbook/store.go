// Package workbook persists measurement tables in an xlsx workbook.
//
// Writes always go through a temporary file in the destination directory
// followed by a rename, so the canonical workbook is never seen half written.
package workbook

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/xuri/excelize/v2"

	"qclog/internal/domain"
	"qclog/internal/logger"
	"qclog/internal/spec"
)

type WriteStatus string

const (
	Saved  WriteStatus = "saved"
	Locked WriteStatus = "locked"
	Failed WriteStatus = "failed"
)

// WriteResult is the outcome of AtomicWrite. Path is where the data landed:
// the target for Saved, the alternate file for Locked (empty when fallback
// was disabled), and empty for Failed.
type WriteResult struct {
	Status   WriteStatus
	Path     string
	Target   string
	Attempts int
	Err      error
}

func (r WriteResult) OK() bool { return r.Status == Saved }

// WriteEvent is what the store reports to a Journal after every write.
type WriteEvent struct {
	Time     time.Time
	Target   string
	Status   WriteStatus
	Path     string
	Attempts int
	Error    string
}

type Journal interface {
	RecordWrite(ev WriteEvent) error
}

type Config struct {
	Path       string
	Retries    int
	RetryDelay time.Duration
	Logger     *logger.Logger
	Journal    Journal
}

type Store struct {
	path    string
	retries int
	delay   time.Duration
	log     *logger.Logger
	journal Journal

	now    func() time.Time
	rename func(oldpath, newpath string) error
}

func New(cfg Config) *Store {
	retries := cfg.Retries
	if retries < 1 {
		retries = 3
	}
	return &Store{
		path:    cfg.Path,
		retries: retries,
		delay:   cfg.RetryDelay,
		log:     logger.OrNop(cfg.Logger).With("component", "workbook"),
		journal: cfg.Journal,
		now:     time.Now,
		rename:  os.Rename,
	}
}

func (s *Store) Path() string { return s.path }

type writeOptions struct {
	target   string
	fallback bool
}

type WriteOption func(*writeOptions)

// WithTarget writes to path instead of the canonical workbook.
func WithTarget(path string) WriteOption {
	return func(o *writeOptions) { o.target = path }
}

// WithoutFallback reports a lock conflict instead of writing an alternate file.
func WithoutFallback() WriteOption {
	return func(o *writeOptions) { o.fallback = false }
}

// AtomicWrite persists every table of snap together.
func (s *Store) AtomicWrite(snap *domain.Snapshot, opts ...WriteOption) WriteResult {
	o := writeOptions{target: s.path, fallback: true}
	for _, opt := range opts {
		opt(&o)
	}
	res := s.atomicWrite(snap, o)
	s.report(res)
	return res
}

func (s *Store) atomicWrite(snap *domain.Snapshot, o writeOptions) WriteResult {
	res := WriteResult{Target: o.target}

	f, err := s.build(snap)
	if err != nil {
		res.Status = Failed
		res.Err = fmt.Errorf("building workbook: %w", err)
		return res
	}
	defer f.Close()

	op := func() (struct{}, error) {
		res.Attempts++
		err := s.replaceWith(f, o.target)
		if err == nil {
			return struct{}{}, nil
		}
		if isLockConflict(err) {
			return struct{}{}, backoff.Permanent(fmt.Errorf("%w: %v", domain.ErrLocked, err))
		}
		s.log.Warn("workbook write attempt failed", "target", o.target, "attempt", res.Attempts, "error", err)
		return struct{}{}, err
	}
	_, err = backoff.Retry(context.Background(), op,
		backoff.WithBackOff(backoff.NewConstantBackOff(s.delay)),
		backoff.WithMaxTries(uint(s.retries)),
	)
	if err == nil {
		res.Status = Saved
		res.Path = o.target
		return res
	}

	res.Err = err
	if !o.fallback {
		if errors.Is(err, domain.ErrLocked) {
			res.Status = Locked
		} else {
			res.Status = Failed
		}
		return res
	}

	alt, altErr := s.fallbackPath(o.target)
	if altErr == nil {
		altErr = s.replaceWith(f, alt)
	}
	if altErr != nil {
		res.Status = Failed
		res.Err = fmt.Errorf("%v; alternate write failed: %w", err, altErr)
		return res
	}
	s.log.Warn("canonical workbook unavailable, wrote alternate file", "target", o.target, "alternate", alt, "error", err)
	res.Status = Locked
	res.Path = alt
	return res
}

// replaceWith saves f beside dst and renames it over dst. The temp file
// never outlives the call.
func (s *Store) replaceWith(f *excelize.File, dst string) error {
	dir := filepath.Dir(dst)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".~"+strings.TrimSuffix(filepath.Base(dst), filepath.Ext(dst))+"-*.xlsx")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := f.Write(tmp); err != nil {
		tmp.Close()
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("syncing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := s.rename(tmpName, dst); err != nil {
		return fmt.Errorf("replacing %s: %w", dst, err)
	}
	return nil
}

func (s *Store) fallbackPath(target string) (string, error) {
	ext := filepath.Ext(target)
	base := strings.TrimSuffix(target, ext)
	stamp := s.now().Format("20060102150405")
	if ext == "" {
		ext = ".xlsx"
	}
	candidate := fmt.Sprintf("%s_LOCKED_%s%s", base, stamp, ext)
	for n := 1; n < 1000; n++ {
		if _, err := os.Stat(candidate); errors.Is(err, fs.ErrNotExist) {
			return candidate, nil
		}
		candidate = fmt.Sprintf("%s_LOCKED_%s_%d%s", base, stamp, n, ext)
	}
	return "", fmt.Errorf("no free alternate name for %s", target)
}

// TimestampedPath is the per-ingestion file name used by the timestamped write mode.
func TimestampedPath(canonical string, t time.Time) string {
	ext := filepath.Ext(canonical)
	if ext == "" {
		ext = ".xlsx"
	}
	return fmt.Sprintf("%s_%s%s", strings.TrimSuffix(canonical, filepath.Ext(canonical)), t.Format("20060102_150405"), ext)
}

func (s *Store) report(res WriteResult) {
	if s.journal == nil {
		return
	}
	ev := WriteEvent{
		Time:     s.now(),
		Target:   res.Target,
		Status:   res.Status,
		Path:     res.Path,
		Attempts: res.Attempts,
	}
	if res.Err != nil {
		ev.Error = res.Err.Error()
	}
	if err := s.journal.RecordWrite(ev); err != nil {
		s.log.Warn("journal write failed", "error", err)
	}
}

func isLockConflict(err error) bool {
	return errors.Is(err, fs.ErrPermission) || isPlatformLock(err)
}

// EnsureInitialized creates the workbook if needed, adds any missing sheets
// and refreshes the spec sheet. Calling it repeatedly is a no-op once the
// workbook is complete.
func (s *Store) EnsureInitialized() error {
	if _, err := os.Stat(s.path); errors.Is(err, fs.ErrNotExist) {
		s.log.Info("creating workbook", "path", s.path)
		return s.initWrite(domain.NewSnapshot())
	}

	f, err := excelize.OpenFile(s.path)
	if err != nil {
		s.log.Error("workbook unreadable, recreating it; existing content is lost", "path", s.path, "error", err)
		if rmErr := os.Remove(s.path); rmErr != nil && !errors.Is(rmErr, fs.ErrNotExist) {
			return fmt.Errorf("removing corrupt workbook: %w", rmErr)
		}
		return s.initWrite(domain.NewSnapshot())
	}
	snap := s.snapshotFrom(f)
	complete := hasAllSheets(f) && specsCurrent(f)
	f.Close()
	if complete {
		return nil
	}
	s.log.Info("updating workbook sheets", "path", s.path)
	return s.initWrite(snap)
}

func (s *Store) initWrite(snap *domain.Snapshot) error {
	res := s.AtomicWrite(snap, WithoutFallback())
	if !res.OK() {
		return fmt.Errorf("initializing %s: %w", s.path, res.Err)
	}
	return nil
}

func hasAllSheets(f *excelize.File) bool {
	have := map[string]bool{}
	for _, name := range f.GetSheetList() {
		have[name] = true
	}
	for _, name := range requiredSheets {
		if !have[name] {
			return false
		}
	}
	return true
}

func specsCurrent(f *excelize.File) bool {
	rows, err := f.GetRows(domain.SheetSpecs, excelize.Options{RawCellValue: true})
	if err != nil {
		return false
	}
	want := specRows(spec.Entries())
	if len(rows) != len(want) {
		return false
	}
	for i := range want {
		got := pad(rows[i], len(want[i]))
		for j, cell := range want[i] {
			if got[j] != cellText(cell) {
				return false
			}
		}
	}
	return true
}
