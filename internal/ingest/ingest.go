// Package ingest turns one piece's raw form entries into evaluated records
// and commits them to the workbook.
package ingest

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"qclog/internal/config"
	"qclog/internal/domain"
	slackbot "qclog/internal/integrations/slack"
	"qclog/internal/logger"
	"qclog/internal/spec"
	"qclog/internal/storage/sqlite"
	"qclog/internal/storage/workbook"
)

// Entry is one raw reading as typed by the operator.
type Entry struct {
	Hole    string
	Feature string
	Raw     string
}

// Photo is a pending image for one hole feature. Source is a readable file.
type Photo struct {
	Hole    string
	Feature string
	Source  string
}

type Request struct {
	PartType domain.PartType
	Machine  string
	Chamber  string
	PieceID  string
	PartFlow domain.PartFlow
	Notes    string
	Entries  []Entry
	Photos   []Photo
}

type Result struct {
	OK            bool
	NothingToSave bool
	Message       string
	Warnings      []string
	Write         workbook.WriteResult
	Records       []domain.Record
	BatchID       string
}

type Store interface {
	Path() string
	Snapshot() *domain.Snapshot
	AtomicWrite(snap *domain.Snapshot, opts ...workbook.WriteOption) workbook.WriteResult
}

type Invalidator interface {
	InvalidatePart(part domain.PartType)
}

type Alerter interface {
	SendFailAlert(ctx context.Context, a slackbot.FailAlert) error
}

type BatchJournal interface {
	RecordBatch(b sqlite.BatchEntry) error
}

type Options struct {
	Evaluator spec.Evaluator
	ImageDir  string
	WriteMode string
	// Machines and Chambers, when set, are the accepted values; input is
	// matched case-insensitively and stored in the listed spelling.
	Machines  []string
	Chambers  []string
	Cache     Invalidator
	Alerts    Alerter
	Journal   BatchJournal
	Logger    *logger.Logger
}

type Service struct {
	store     Store
	eval      spec.Evaluator
	imageDir  string
	writeMode string
	machines  []string
	chambers  []string
	cache     Invalidator
	alerts    Alerter
	journal   BatchJournal
	log       *logger.Logger

	now   func() time.Time
	newID func() string
}

func New(store Store, opts Options) *Service {
	mode := opts.WriteMode
	if mode == "" {
		mode = config.WriteModeCanonical
	}
	imageDir := opts.ImageDir
	if imageDir == "" {
		imageDir = "uploaded_images"
	}
	return &Service{
		store:     store,
		eval:      opts.Evaluator,
		imageDir:  imageDir,
		writeMode: mode,
		machines:  opts.Machines,
		chambers:  opts.Chambers,
		cache:     opts.Cache,
		alerts:    opts.Alerts,
		journal:   opts.Journal,
		log:       logger.OrNop(opts.Logger).With("component", "ingest"),
		now:       time.Now,
		newID:     uuid.NewString,
	}
}

// Ingest validates req, evaluates every usable entry and commits them as
// one batch. It never returns an error; failures are reported in Result.
func (s *Service) Ingest(ctx context.Context, req Request) Result {
	pieceID := strings.TrimSpace(req.PieceID)
	if pieceID == "" {
		return Result{Message: "Piece ID is required."}
	}
	if !req.PartType.Valid() {
		return Result{Message: fmt.Sprintf("Unknown part type %q.", req.PartType)}
	}
	machine, ok := pick(s.machines, req.Machine)
	if !ok {
		return Result{Message: fmt.Sprintf("Unknown machine %q; expected one of %s.", req.Machine, strings.Join(s.machines, ", "))}
	}
	chamber, ok := pick(s.chambers, req.Chamber)
	if !ok {
		return Result{Message: fmt.Sprintf("Unknown chamber %q; expected one of %s.", req.Chamber, strings.Join(s.chambers, ", "))}
	}
	flow := req.PartFlow
	if flow == "" {
		flow = domain.FlowIn
	}
	if flow != domain.FlowIn && flow != domain.FlowOut {
		return Result{Message: fmt.Sprintf("Part In/Out must be IN or OUT, got %q.", flow)}
	}

	ts := s.now().Truncate(time.Second)
	var (
		warnings []string
		records  []domain.Record
	)
	for _, e := range req.Entries {
		raw := strings.TrimSpace(e.Raw)
		if raw == "" || raw == "-" {
			continue
		}
		hole := domain.NormalizeHole(e.Hole)
		feature, err := domain.ParseFeature(e.Feature)
		if hole == "" || err != nil {
			warnings = append(warnings, fmt.Sprintf("Skipped %q: hole %q / feature %q not recognised.", raw, e.Hole, e.Feature))
			continue
		}
		value, err := domain.ParseOptFloat(raw)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("%s %s: %q is not a number, skipped.", hole, feature, raw))
			continue
		}

		ev := s.eval.Evaluate(req.PartType, hole, feature, value)
		rec := domain.Record{
			Timestamp: ts,
			Machine:   machine,
			PartType:  req.PartType,
			Chamber:   chamber,
			PieceID:   pieceID,
			PartFlow:  flow,
			Hole:      hole,
			Feature:   feature,
			Value:     value,
			Nominal:   ev.Nominal,
			LSL:       ev.LSL,
			USL:       ev.USL,
			Status:    ev.Status,
			Notes:     strings.TrimSpace(req.Notes),
		}
		if photo, ok := matchPhoto(req.Photos, hole, feature); ok {
			path, err := s.savePhoto(photo, pieceID, hole, feature)
			if err != nil {
				warnings = append(warnings, fmt.Sprintf("%s %s: photo not saved: %v", hole, feature, err))
				s.log.Warn("photo save failed", "piece", pieceID, "hole", hole, "feature", feature, "error", err)
			} else {
				rec.ImagePath = path
			}
		}
		records = append(records, rec)
	}

	if len(records) == 0 {
		return Result{OK: true, NothingToSave: true, Message: "No measurements to save.", Warnings: warnings}
	}

	snap := s.store.Snapshot()
	snap.Append(req.PartType, records)
	var opts []workbook.WriteOption
	switch {
	case snap.Unreadable:
		// Never replace a workbook we could not read.
		warnings = append(warnings, fmt.Sprintf("Workbook %s could not be read; it was left untouched and this batch was saved to a separate file.", s.store.Path()))
		s.log.Warn("workbook unreadable, diverting batch", "path", s.store.Path(), "piece", pieceID)
		opts = append(opts, workbook.WithTarget(workbook.TimestampedPath(s.store.Path(), ts)))
	case s.writeMode == config.WriteModeTimestamped:
		opts = append(opts, workbook.WithTarget(workbook.TimestampedPath(s.store.Path(), ts)))
	}
	res := s.store.AtomicWrite(snap, opts...)

	out := Result{Warnings: warnings, Write: res, Records: records}
	switch res.Status {
	case workbook.Saved:
		out.OK = true
		out.Message = fmt.Sprintf("Saved %d measurement(s) for piece %s to %s.", len(records), pieceID, res.Path)
	case workbook.Locked:
		out.OK = true
		out.Message = fmt.Sprintf("Workbook is locked by another program. Saved %d measurement(s) for piece %s to %s instead.", len(records), pieceID, res.Path)
	default:
		out.Message = fmt.Sprintf("Could not save measurements for piece %s: %v", pieceID, res.Err)
		s.log.Error("ingest write failed", "piece", pieceID, "error", res.Err)
		return out
	}

	out.BatchID = s.newID()
	s.afterCommit(ctx, req, out, len(warnings))
	return out
}

// pick matches v against allowed. Empty input, or an empty allowed list,
// passes through trimmed.
func pick(allowed []string, v string) (string, bool) {
	v = strings.TrimSpace(v)
	if v == "" || len(allowed) == 0 {
		return v, true
	}
	for _, a := range allowed {
		if strings.EqualFold(a, v) {
			return a, true
		}
	}
	return "", false
}

func (s *Service) afterCommit(ctx context.Context, req Request, out Result, warnings int) {
	if s.cache != nil {
		s.cache.InvalidatePart(req.PartType)
	}

	var failures []domain.Record
	for _, r := range out.Records {
		if r.Status == domain.StatusFail {
			failures = append(failures, r)
		}
	}
	first := out.Records[0]

	if s.alerts != nil && len(failures) > 0 {
		err := s.alerts.SendFailAlert(ctx, slackbot.FailAlert{
			PartType:  req.PartType,
			PieceID:   first.PieceID,
			Machine:   first.Machine,
			Chamber:   first.Chamber,
			PartFlow:  first.PartFlow,
			Timestamp: first.Timestamp,
			Failures:  failures,
			Total:     len(out.Records),
			Path:      out.Write.Path,
		})
		if err != nil {
			s.log.Warn("fail alert not sent", "piece", first.PieceID, "error", err)
		}
	}

	if s.journal != nil {
		err := s.journal.RecordBatch(sqlite.BatchEntry{
			BatchID:     out.BatchID,
			PartType:    string(req.PartType),
			PieceID:     first.PieceID,
			Machine:     first.Machine,
			Chamber:     first.Chamber,
			Rows:        len(out.Records),
			Failures:    len(failures),
			Warnings:    warnings,
			WriteStatus: string(out.Write.Status),
			Path:        out.Write.Path,
			CreatedAt:   first.Timestamp,
		})
		if err != nil {
			s.log.Warn("batch journal failed", "batch", out.BatchID, "error", err)
		}
	}
	s.log.Info("measurements ingested", "batch", out.BatchID, "piece", first.PieceID, "rows", len(out.Records), "failures", len(failures), "status", out.Write.Status)
}

func matchPhoto(photos []Photo, hole string, feature domain.Feature) (Photo, bool) {
	for _, p := range photos {
		if domain.NormalizeHole(p.Hole) == hole && strings.EqualFold(strings.TrimSpace(p.Feature), string(feature)) {
			return p, true
		}
	}
	return Photo{}, false
}

var filenameReplacer = strings.NewReplacer(
	"/", "_", "\\", "_", ":", "_", "*", "_", "?", "_",
	"\"", "_", "<", "_", ">", "_", "|", "_", " ", "_",
)

// PhotoName is the stored file name for one hole feature of a piece.
func PhotoName(pieceID, hole string, feature domain.Feature) string {
	return fmt.Sprintf("%s_%s_%s.jpg", filenameReplacer.Replace(pieceID), domain.NormalizeHole(hole), feature)
}

func (s *Service) savePhoto(p Photo, pieceID, hole string, feature domain.Feature) (string, error) {
	if strings.TrimSpace(p.Source) == "" {
		return "", fmt.Errorf("no source file")
	}
	if err := os.MkdirAll(s.imageDir, 0o755); err != nil {
		return "", err
	}
	src, err := os.Open(p.Source)
	if err != nil {
		return "", err
	}
	defer src.Close()

	dst := filepath.Join(s.imageDir, PhotoName(pieceID, hole, feature))
	out, err := os.Create(dst)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(out, src); err != nil {
		out.Close()
		os.Remove(dst)
		return "", err
	}
	if err := out.Close(); err != nil {
		return "", err
	}
	return dst, nil
}
