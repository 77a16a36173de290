package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"qclog/internal/app"
	"qclog/internal/storage/sqlite"
)

func newServeCmd(open opener) *cobra.Command {
	return &cobra.Command{
		Use:     "serve",
		Short:   "Run the scheduled trend digest",
		Long:    `Initialise the workbook and run the digest on digest_schedule until interrupted.`,
		GroupID: "service",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return withApp(open, func(a *app.App) error {
				return a.Serve(ctx)
			})
		},
	}
}

func newHistoryCmd(open opener) *cobra.Command {
	var (
		limit  int
		locked bool
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show the write journal",
		Long: `Show recent workbook writes, ingestion batches and row changes from the journal.
--locked lists only the alternate files data went to while the workbook was locked.`,
		GroupID: "service",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(open, func(a *app.App) error {
				return printHistory(cmd, a, limit, locked)
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "Entries per section")
	cmd.Flags().BoolVar(&locked, "locked", false, "Only list writes that went to an alternate file")
	return cmd
}

func printHistory(cmd *cobra.Command, a *app.App, limit int, locked bool) error {
	w := cmd.OutOrStdout()
	const layout = "2006-01-02 15:04:05"

	if locked {
		writes, err := sqlite.LockedWrites(a.DB)
		if err != nil {
			return fmt.Errorf("reading journal: %w", err)
		}
		if len(writes) == 0 {
			fmt.Fprintln(w, "No writes went to an alternate file.")
			return nil
		}
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "When\tTarget\tSaved to")
		for _, e := range writes {
			fmt.Fprintf(tw, "%s\t%s\t%s\n", e.WrittenAt.In(a.Config.Location).Format(layout), e.Target, e.Path)
		}
		return tw.Flush()
	}

	writes, err := sqlite.RecentWrites(a.DB, limit)
	if err != nil {
		return fmt.Errorf("reading journal: %w", err)
	}
	batches, err := sqlite.RecentBatches(a.DB, limit)
	if err != nil {
		return fmt.Errorf("reading journal: %w", err)
	}
	changes, err := sqlite.RecentChanges(a.DB, limit)
	if err != nil {
		return fmt.Errorf("reading journal: %w", err)
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "Writes")
	fmt.Fprintln(tw, "When\tStatus\tAttempts\tPath\tError")
	for _, e := range writes {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n", e.WrittenAt.In(a.Config.Location).Format(layout), e.Status, e.Attempts, e.Path, e.Error)
	}
	fmt.Fprintln(tw, "\nBatches")
	fmt.Fprintln(tw, "When\tPart\tPiece\tMachine\tChamber\tRows\tFAIL\tWarnings\tWrite")
	for _, b := range batches {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\t%d\t%d\t%s\n", b.CreatedAt.In(a.Config.Location).Format(layout),
			b.PartType, b.PieceID, b.Machine, b.Chamber, b.Rows, b.Failures, b.Warnings, b.WriteStatus)
	}
	fmt.Fprintln(tw, "\nChanges")
	fmt.Fprintln(tw, "When\tAction\tPart\tRows\tDetail")
	for _, c := range changes {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", c.ChangedAt.In(a.Config.Location).Format(layout), c.Action, c.PartType, c.Rows, c.Detail)
	}
	return tw.Flush()
}
