package digest

import (
	"context"
	"fmt"
	"time"

	"qclog/internal/domain"
	"qclog/internal/export"
	"qclog/internal/integrations/llm"
	"qclog/internal/logger"
)

type Source interface {
	ReadAll(part domain.PartType) []domain.Record
}

type Commentator interface {
	Enabled() bool
	Commentary(ctx context.Context, digest string) (string, llm.Usage, error)
}

type Poster interface {
	PostDigest(ctx context.Context, summary, filePath string) error
}

type RunnerOptions struct {
	OutputDir   string
	Location    *time.Location
	Analyzer    Analyzer
	Commentator Commentator
	Poster      Poster
	Logger      *logger.Logger
}

type Runner struct {
	source    Source
	outputDir string
	loc       *time.Location
	analyzer  Analyzer
	comment   Commentator
	poster    Poster
	log       *logger.Logger

	now func() time.Time
}

func NewRunner(source Source, opts RunnerOptions) *Runner {
	loc := opts.Location
	if loc == nil {
		loc = time.Local
	}
	return &Runner{
		source:    source,
		outputDir: opts.OutputDir,
		loc:       loc,
		analyzer:  opts.Analyzer,
		comment:   opts.Commentator,
		poster:    opts.Poster,
		log:       logger.OrNop(opts.Logger).With("component", "digest"),
		now:       time.Now,
	}
}

// RunResult says what one digest run produced. Commentary and posting
// failures are recorded here and logged; they do not fail the run.
type RunResult struct {
	Digest     Digest
	Path       string
	Commentary string
	Usage      llm.Usage
	Posted     bool
	PostErr    error
}

// Run builds the digest, writes the report file, adds commentary when a
// model is configured and posts the file when a poster is set.
func (r *Runner) Run(ctx context.Context) (RunResult, error) {
	now := r.now().In(r.loc)
	byPart := map[domain.PartType][]domain.Record{}
	for _, part := range domain.PartTypes {
		byPart[part] = r.source.ReadAll(part)
	}
	var d Digest
	if r.analyzer != nil {
		d = BuildWith(r.analyzer, byPart, now)
	} else {
		d = Build(byPart, now)
	}
	res := RunResult{Digest: d}
	content := d.Markdown()

	if r.comment != nil && r.comment.Enabled() {
		text, usage, err := r.comment.Commentary(ctx, content)
		if err != nil {
			r.log.Warn("digest commentary failed", "error", err)
		} else if text != "" {
			res.Commentary = text
			res.Usage = usage
			content += "\n## Commentary\n\n" + text + "\n"
			r.log.Info("digest commentary added", "input_tokens", usage.InputTokens, "output_tokens", usage.OutputTokens)
		}
	}

	path, err := export.WriteReportFile(content, r.outputDir, now, "qc_digest")
	if err != nil {
		return res, fmt.Errorf("writing digest: %w", err)
	}
	res.Path = path
	r.log.Info("digest written", "path", path, "series", len(d.Rows), "attention", len(d.Attention()))

	if r.poster != nil {
		if err := r.poster.PostDigest(ctx, d.Summary(), path); err != nil {
			res.PostErr = err
			r.log.Warn("digest post failed", "error", err)
		} else {
			res.Posted = true
		}
	}
	return res, nil
}
