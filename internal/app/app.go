// Package app wires configuration, storage and integrations into the
// services the CLI drives.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	"qclog/internal/config"
	"qclog/internal/digest"
	"qclog/internal/httpx"
	"qclog/internal/ingest"
	"qclog/internal/integrations/llm"
	slackbot "qclog/internal/integrations/slack"
	"qclog/internal/logger"
	"qclog/internal/rows"
	"qclog/internal/spec"
	"qclog/internal/storage/sqlite"
	"qclog/internal/storage/workbook"
	"qclog/internal/trend"
)

type App struct {
	Config   config.Config
	Log      *logger.Logger
	DB       *sql.DB
	Store    *workbook.Store
	Ingest   *ingest.Service
	Trends   *trend.Service
	Editor   *rows.Editor
	Digest   *digest.Runner
	Notifier *slackbot.Notifier
}

// New opens the journal and builds every service. Close must be called.
func New(cfg config.Config) (*App, error) {
	log, err := logger.New(cfg.LogMode)
	if err != nil {
		return nil, fmt.Errorf("building logger: %w", err)
	}
	appliedHTTPTimeout := httpx.ConfigureExternalHTTPClient(cfg.ExternalHTTPTimeoutSeconds)
	log.Info("config loaded",
		"workbook", cfg.WorkbookPath,
		"write_mode", cfg.IngestWriteMode,
		"unknown_spec_status", cfg.UnknownSpecStatus,
		"timezone", cfg.Timezone,
		"llm_provider", cfg.LLMProvider,
		"slack", cfg.SlackConfigured(),
		"external_http_timeout", appliedHTTPTimeout.String(),
	)

	db, err := sqlite.InitDB(cfg.JournalDBPath)
	if err != nil {
		return nil, fmt.Errorf("init journal: %w", err)
	}
	log.Debug("journal initialized", "path", cfg.JournalDBPath)
	journal := sqlite.Journal{DB: db}

	if err := os.MkdirAll(cfg.ReportOutputDir, 0755); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating report dir: %w", err)
	}

	store := workbook.New(workbook.Config{
		Path:       cfg.WorkbookPath,
		Retries:    cfg.WriteRetries,
		RetryDelay: cfg.RetryDelay(),
		Logger:     log,
		Journal:    journal,
	})
	eval := spec.Evaluator{UnknownAsStatus: cfg.UnknownSpecStatus == "unknown"}
	trends := trend.NewService(store, nil, log)

	a := &App{Config: cfg, Log: log, DB: db, Store: store, Trends: trends}

	ingestOpts := ingest.Options{
		Evaluator: eval,
		ImageDir:  cfg.ImageDir,
		WriteMode: cfg.IngestWriteMode,
		Machines:  cfg.Machines,
		Chambers:  cfg.Chambers,
		Cache:     trends.Cache(),
		Journal:   journal,
		Logger:    log,
	}
	runnerOpts := digest.RunnerOptions{
		OutputDir: cfg.ReportOutputDir,
		Location:  cfg.Location,
		Analyzer:  trends,
		Logger:    log,
	}
	if cfg.LLMConfigured() {
		runnerOpts.Commentator = llm.New(cfg, log)
	}
	if cfg.SlackConfigured() {
		a.Notifier = slackbot.New(cfg.SlackBotToken, cfg.AlertChannelID, log)
		ingestOpts.Alerts = a.Notifier
		runnerOpts.Poster = a.Notifier
	}

	a.Ingest = ingest.New(store, ingestOpts)
	a.Editor = rows.NewEditor(store, rows.EditorOptions{
		Evaluator:       eval,
		RecomputeStatus: cfg.RecomputeStatusOnEdit,
		Cache:           trends.Cache(),
		Journal:         journal,
		Logger:          log,
	})
	a.Digest = digest.NewRunner(store, runnerOpts)
	return a, nil
}

func (a *App) Close() {
	if a.DB != nil {
		a.DB.Close()
	}
	a.Log.Sync()
}

// Serve makes sure the workbook exists, starts the digest schedule and
// blocks until ctx is done.
func (a *App) Serve(ctx context.Context) error {
	if err := a.Store.EnsureInitialized(); err != nil {
		return fmt.Errorf("initializing workbook: %w", err)
	}
	started, err := digest.StartScheduler(ctx, a.Config.DigestSchedule, a.Config.Location, a.Digest, a.Log)
	if err != nil {
		return err
	}
	a.Log.Info("qclog serving", "workbook", a.Store.Path(), "digest", started)
	<-ctx.Done()
	return nil
}
