// Package cli provides the qclog commands using Cobra.
package cli

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"qclog/internal/app"
	"qclog/internal/config"
	"qclog/internal/domain"
)

// Version is set at build time via -ldflags.
var Version = "dev"

// NewRootCmd builds the command tree. Each call returns fresh flag state.
func NewRootCmd() *cobra.Command {
	var configPath string
	root := &cobra.Command{
		Use:   "qclog",
		Short: "Hole-diameter QC logger for Mixing and Gas/Water blocks",
		Long: `qclog records hole-diameter measurements into a shared Excel workbook,
marks each reading PASS or FAIL against the built-in spec table and reports
drift over time.

Examples:
  qclog init
  qclog add --part mi --machine SA01 --chamber A --piece P-100 H1:Inner=4.02 H1:Outer=9.01
  qclog list --part mi
  qclog trend --part mi --hole H1 --feature Inner --from 2024-03-01
  qclog delete --part mi --rows 3-5
  qclog digest`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default $QCLOG_CONFIG or config.yaml)")

	root.AddGroup(
		&cobra.Group{ID: "records", Title: "Record Commands:"},
		&cobra.Group{ID: "analysis", Title: "Analysis Commands:"},
		&cobra.Group{ID: "service", Title: "Service Commands:"},
	)

	open := func() (*app.App, error) {
		path := configPath
		if path == "" {
			path = os.Getenv("QCLOG_CONFIG")
		}
		if path == "" {
			path = "config.yaml"
		}
		cfg, err := config.Load(path)
		if err != nil {
			return nil, fmt.Errorf("config: %w", err)
		}
		return app.New(cfg)
	}

	root.AddCommand(
		newInitCmd(open),
		newAddCmd(open),
		newListCmd(open),
		newDeleteCmd(open),
		newEditCmd(open),
		newDeleteImagesCmd(open),
		newTrendCmd(open),
		newSpecsCmd(open),
		newExportTrendsCmd(open),
		newDigestCmd(open),
		newServeCmd(open),
		newHistoryCmd(open),
	)
	return root
}

type opener func() (*app.App, error)

// withApp opens the application for one command run and closes it after.
func withApp(open opener, fn func(a *app.App) error) error {
	a, err := open()
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}

// Execute runs the root command.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func parsePart(s string) (domain.PartType, error) {
	if strings.TrimSpace(s) == "" {
		return "", fmt.Errorf("--part is required (mixing block / gas/water block, or mi / gw)")
	}
	return domain.ParsePartType(s)
}

// parseDay reads YYYY-MM-DD in loc. Empty input is the zero time.
func parseDay(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	if loc == nil {
		loc = time.Local
	}
	t, err := time.ParseInLocation("2006-01-02", s, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("date %q must look like 2006-01-02", s)
	}
	return t, nil
}
