package cli

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"qclog/internal/app"
	"qclog/internal/domain"
	"qclog/internal/ingest"
	"qclog/internal/rows"
)

func newInitCmd(open opener) *cobra.Command {
	return &cobra.Command{
		Use:     "init",
		Short:   "Create or repair the workbook",
		Long:    `Create the workbook with every required sheet, or add missing sheets and refresh the Specs sheet of an existing one.`,
		GroupID: "records",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(open, func(a *app.App) error {
				existed := a.Store.Exists()
				if err := a.Store.EnsureInitialized(); err != nil {
					return err
				}
				if existed {
					fmt.Fprintf(cmd.OutOrStdout(), "Workbook ready: %s\n", a.Store.Path())
				} else {
					fmt.Fprintf(cmd.OutOrStdout(), "Workbook created: %s\n", a.Store.Path())
				}
				return nil
			})
		},
	}
}

func newAddCmd(open opener) *cobra.Command {
	var (
		part, machine, chamber, piece, flow, notes string
		photos                                     []string
	)
	cmd := &cobra.Command{
		Use:   "add HOLE:FEATURE=VALUE...",
		Short: "Record measurements for one piece",
		Long: `Record one piece's hole measurements. Each argument is HOLE:FEATURE=VALUE.
Empty values and "-" are skipped; values that are not numbers are reported and skipped.`,
		Example: `  qclog add --part mi --machine SA01 --chamber A --piece P-100 H1:Inner=4.02 H1:Outer=9.01
  qclog add --part gw --piece G-7 --flow OUT 1:inner=5.93 --photo 1:inner=./h1.jpg`,
		GroupID: "records",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pt, err := parsePart(part)
			if err != nil {
				return err
			}
			req := ingest.Request{
				PartType: pt,
				Machine:  machine,
				Chamber:  chamber,
				PieceID:  piece,
				PartFlow: domain.PartFlow(strings.ToUpper(strings.TrimSpace(flow))),
				Notes:    notes,
			}
			for _, arg := range args {
				hole, feature, raw, err := splitAssignment(arg)
				if err != nil {
					return err
				}
				req.Entries = append(req.Entries, ingest.Entry{Hole: hole, Feature: feature, Raw: raw})
			}
			for _, p := range photos {
				hole, feature, src, err := splitAssignment(p)
				if err != nil {
					return fmt.Errorf("--photo: %w", err)
				}
				req.Photos = append(req.Photos, ingest.Photo{Hole: hole, Feature: feature, Source: src})
			}

			return withApp(open, func(a *app.App) error {
				res := a.Ingest.Ingest(cmd.Context(), req)
				out := cmd.OutOrStdout()
				for _, w := range res.Warnings {
					fmt.Fprintf(out, "warning: %s\n", w)
				}
				fmt.Fprintln(out, res.Message)
				for _, r := range res.Records {
					fmt.Fprintf(out, "  %s %s %s %s\n", r.Hole, r.Feature, r.Value, r.Status)
				}
				if !res.OK {
					return fmt.Errorf("measurements not saved")
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&part, "part", "", "Part type: mixing block (mi) or gas/water block (gw)")
	cmd.Flags().StringVar(&machine, "machine", "", "Machine, e.g. SA01")
	cmd.Flags().StringVar(&chamber, "chamber", "", "Chamber, e.g. A")
	cmd.Flags().StringVar(&piece, "piece", "", "Piece ID (required)")
	cmd.Flags().StringVar(&flow, "flow", "IN", "Part In/Out: IN or OUT")
	cmd.Flags().StringVar(&notes, "notes", "", "Notes stored on every row")
	cmd.Flags().StringArrayVar(&photos, "photo", nil, "Photo for a hole feature as HOLE:FEATURE=PATH (repeatable)")
	return cmd
}

// splitAssignment parses "H1:Inner=4.02" into its three parts. The value may
// be empty.
func splitAssignment(s string) (hole, feature, value string, err error) {
	key, value, ok := strings.Cut(s, "=")
	if !ok {
		return "", "", "", fmt.Errorf("%q must look like HOLE:FEATURE=VALUE", s)
	}
	hole, feature, ok = strings.Cut(key, ":")
	if !ok || strings.TrimSpace(hole) == "" || strings.TrimSpace(feature) == "" {
		return "", "", "", fmt.Errorf("%q must look like HOLE:FEATURE=VALUE", s)
	}
	return strings.TrimSpace(hole), strings.TrimSpace(feature), strings.TrimSpace(value), nil
}

func newListCmd(open opener) *cobra.Command {
	var part string
	cmd := &cobra.Command{
		Use:     "list",
		Short:   "List stored rows of one part",
		Long:    `List stored rows numbered from 1, with a separator whenever the Piece ID changes.`,
		GroupID: "records",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			pt, err := parsePart(part)
			if err != nil {
				return err
			}
			return withApp(open, func(a *app.App) error {
				printRows(cmd.OutOrStdout(), rows.List(a.Store.ReadAll(pt)))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&part, "part", "", "Part type")
	return cmd
}

func printRows(w io.Writer, list []rows.DisplayRow) {
	if len(list) == 0 {
		fmt.Fprintln(w, "No rows.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tTimestamp\tMachine\tChamber\tPiece ID\tIn/Out\tHole\tFeature\tValue\tLSL\tUSL\tStatus\tImage")
	for _, row := range list {
		r := row.Record
		if row.GroupStart && row.Number > 1 {
			fmt.Fprintln(tw, "--\t\t\t\t\t\t\t\t\t\t\t\t")
		}
		ts := ""
		if !r.Timestamp.IsZero() {
			ts = r.Timestamp.Format(domain.TimestampLayout)
		}
		image := ""
		if r.ImagePath != "" {
			image = "yes"
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			row.Number, ts, r.Machine, r.Chamber, r.PieceID, r.PartFlow, r.Hole, r.Feature,
			r.Value, r.LSL, r.USL, r.Status, image)
	}
	tw.Flush()
}

func rowsFlags(cmd *cobra.Command, part, spec *string, zeroBased *bool) {
	cmd.Flags().StringVar(part, "part", "", "Part type")
	cmd.Flags().StringVar(spec, "rows", "", `Rows to act on, e.g. "1,3-5"`)
	cmd.Flags().BoolVar(zeroBased, "zero-based", false, "Row numbers count from 0 instead of 1")
}

func printOutcome(w io.Writer, out rows.Outcome) error {
	fmt.Fprintln(w, out.Message)
	if !out.OK {
		return fmt.Errorf("no changes saved")
	}
	return nil
}

func newDeleteCmd(open opener) *cobra.Command {
	var (
		part, spec string
		zeroBased  bool
	)
	cmd := &cobra.Command{
		Use:     "delete",
		Short:   "Delete rows of one part",
		Example: `  qclog delete --part mi --rows "2,4-6"`,
		GroupID: "records",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			pt, err := parsePart(part)
			if err != nil {
				return err
			}
			return withApp(open, func(a *app.App) error {
				return printOutcome(cmd.OutOrStdout(), a.Editor.DeleteRows(pt, rows.ParseRowSpec(spec), base(zeroBased)))
			})
		},
	}
	rowsFlags(cmd, &part, &spec, &zeroBased)
	return cmd
}

func newDeleteImagesCmd(open opener) *cobra.Command {
	var (
		part, spec string
		zeroBased  bool
	)
	cmd := &cobra.Command{
		Use:     "delete-images",
		Short:   "Remove the stored photos of rows",
		GroupID: "records",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			pt, err := parsePart(part)
			if err != nil {
				return err
			}
			return withApp(open, func(a *app.App) error {
				return printOutcome(cmd.OutOrStdout(), a.Editor.DeleteImages(pt, rows.ParseRowSpec(spec), base(zeroBased)))
			})
		},
	}
	rowsFlags(cmd, &part, &spec, &zeroBased)
	return cmd
}

func base(zeroBased bool) int {
	if zeroBased {
		return 0
	}
	return 1
}

func newEditCmd(open opener) *cobra.Command {
	var (
		part      string
		row       int
		sets      []string
		zeroBased bool
	)
	cmd := &cobra.Command{
		Use:   "edit",
		Short: "Change fields of one row",
		Long: `Change fields of one row. Fields are column headers or their snake_case
names (value, lsl, usl, notes, status, piece_id, ...). Part Type cannot be changed.`,
		Example: `  qclog edit --part mi --row 4 --set value=4.05 --set notes="re-measured"`,
		GroupID: "records",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			pt, err := parsePart(part)
			if err != nil {
				return err
			}
			updates := map[string]string{}
			for _, s := range sets {
				k, v, ok := strings.Cut(s, "=")
				if !ok || strings.TrimSpace(k) == "" {
					return fmt.Errorf("--set %q must look like FIELD=VALUE", s)
				}
				updates[strings.TrimSpace(k)] = v
			}
			idx := row - base(zeroBased)
			return withApp(open, func(a *app.App) error {
				return printOutcome(cmd.OutOrStdout(), a.Editor.EditRow(pt, idx, updates))
			})
		},
	}
	cmd.Flags().StringVar(&part, "part", "", "Part type")
	cmd.Flags().IntVar(&row, "row", 0, "Row number as shown by list")
	cmd.Flags().StringArrayVar(&sets, "set", nil, "FIELD=VALUE (repeatable)")
	cmd.Flags().BoolVar(&zeroBased, "zero-based", false, "Row number counts from 0 instead of 1")
	_ = cmd.MarkFlagRequired("row")
	return cmd
}
