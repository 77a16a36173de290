package slackbot

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/slack-go/slack"

	"qclog/internal/domain"
	"qclog/internal/logger"
)

// maxAlertLines keeps a FAIL alert readable when a whole piece fails.
const maxAlertLines = 12

// FailAlert describes one committed ingestion batch with FAIL rows.
type FailAlert struct {
	PartType  domain.PartType
	PieceID   string
	Machine   string
	Chamber   string
	PartFlow  domain.PartFlow
	Timestamp time.Time
	Failures  []domain.Record
	Total     int
	Path      string
}

type Notifier struct {
	api     *slack.Client
	channel string
	log     *logger.Logger
}

func New(token, channel string, log *logger.Logger, opts ...slack.Option) *Notifier {
	return &Notifier{
		api:     slack.New(token, opts...),
		channel: channel,
		log:     logger.OrNop(log).With("component", "slack"),
	}
}

func (n *Notifier) SendFailAlert(ctx context.Context, a FailAlert) error {
	if len(a.Failures) == 0 {
		return nil
	}
	_, _, err := n.api.PostMessageContext(ctx, n.channel,
		slack.MsgOptionText(failAlertSummary(a), false),
		slack.MsgOptionBlocks(failAlertBlocks(a)...),
	)
	if err != nil {
		return fmt.Errorf("posting fail alert: %w", err)
	}
	n.log.Info("fail alert posted", "piece", a.PieceID, "failures", len(a.Failures))
	return nil
}

func failAlertSummary(a FailAlert) string {
	return fmt.Sprintf("%s %s: %d of %d readings FAIL", a.PartType, a.PieceID, len(a.Failures), a.Total)
}

func failAlertBlocks(a FailAlert) []slack.Block {
	var where []string
	if a.Machine != "" {
		where = append(where, "machine *"+a.Machine+"*")
	}
	if a.Chamber != "" {
		where = append(where, "chamber *"+a.Chamber+"*")
	}
	if a.PartFlow != "" {
		where = append(where, string(a.PartFlow))
	}

	failures := append([]domain.Record(nil), a.Failures...)
	sort.SliceStable(failures, func(i, j int) bool {
		return domain.HoleSortKey(failures[i].Hole) < domain.HoleSortKey(failures[j].Hole)
	})

	var lines []string
	for i, r := range failures {
		if i == maxAlertLines {
			lines = append(lines, fmt.Sprintf("_...and %d more_", len(failures)-maxAlertLines))
			break
		}
		lines = append(lines, failLine(r))
	}

	meta := a.Timestamp.Format(domain.TimestampLayout)
	if len(where) > 0 {
		meta += " | " + strings.Join(where, ", ")
	}
	if a.Path != "" {
		meta += " | saved to `" + filepath.Base(a.Path) + "`"
	}

	return []slack.Block{
		slack.NewHeaderBlock(slack.NewTextBlockObject(slack.PlainTextType,
			fmt.Sprintf("QC FAIL: %s %s", a.PartType.Short(), a.PieceID), false, false)),
		slack.NewSectionBlock(slack.NewTextBlockObject(slack.MarkdownType, strings.Join(lines, "\n"), false, false), nil, nil),
		slack.NewContextBlock("", slack.NewTextBlockObject(slack.MarkdownType, meta, false, false)),
	}
}

func failLine(r domain.Record) string {
	value := "no value"
	if r.Value.Valid {
		value = fmt.Sprintf("%.3f", r.Value.Value)
	}
	if r.LSL.Valid && r.USL.Valid {
		return fmt.Sprintf("• %s %s: %s (limits %.2f to %.2f)", r.Hole, r.Feature, value, r.LSL.Value, r.USL.Value)
	}
	return fmt.Sprintf("• %s %s: %s (no spec)", r.Hole, r.Feature, value)
}

// PostDigest uploads the digest file with summary as the initial comment.
func (n *Notifier) PostDigest(ctx context.Context, summary, filePath string) error {
	fi, err := os.Stat(filePath)
	if err != nil {
		return fmt.Errorf("reading digest file: %w", err)
	}
	if fi.Size() <= 0 {
		return fmt.Errorf("digest file is empty: %s", filePath)
	}
	_, err = n.api.UploadFileV2Context(ctx, slack.UploadFileV2Parameters{
		File:           filePath,
		FileSize:       int(fi.Size()),
		Filename:       filepath.Base(filePath),
		Channel:        n.channel,
		Title:          strings.TrimSuffix(filepath.Base(filePath), filepath.Ext(filePath)),
		InitialComment: summary,
	})
	if err != nil {
		return fmt.Errorf("uploading digest: %w", err)
	}
	n.log.Info("digest posted", "file", filePath)
	return nil
}
