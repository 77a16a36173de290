package cli

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"qclog/internal/app"
	"qclog/internal/domain"
	"qclog/internal/export"
	"qclog/internal/spec"
	"qclog/internal/trend"
)

func newTrendCmd(open opener) *cobra.Command {
	var (
		part, machine, chamber, hole, feature, from, to, where string
		showPoints                                            bool
	)
	cmd := &cobra.Command{
		Use:   "trend",
		Short: "Analyse drift of one hole feature",
		Long: `Fit a line through the selected readings against elapsed days and report slope
(mm/day), R squared, delta, the trend class and how close the last reading is to the limits.

--where takes a boolean expression over machine, chamber, piece, flow, hole,
hole_num, feature, status, notes, value, nominal, lsl, usl, has_value,
has_image, day and hour.`,
		Example: `  qclog trend --part mi --hole H1 --feature Inner
  qclog trend --part gw --hole 3 --feature inner --from 2024-03-01 --to 2024-03-31
  qclog trend --part mi --hole H2 --feature Outer --where 'machine == "SA01" && hour < 12'`,
		GroupID: "analysis",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			pt, err := parsePart(part)
			if err != nil {
				return err
			}
			f := trend.Filter{Machine: machine, Chamber: chamber, Hole: hole, Where: where}
			if feature != "" {
				if f.Feature, err = domain.ParseFeature(feature); err != nil {
					return err
				}
			}
			return withApp(open, func(a *app.App) error {
				if f.From, err = parseDay(from, a.Config.Location); err != nil {
					return err
				}
				if f.To, err = parseDay(to, a.Config.Location); err != nil {
					return err
				}
				an, err := a.Trends.AnalyzeFiltered(pt, f)
				if err != nil {
					return err
				}
				w := cmd.OutOrStdout()
				printAnalysis(w, pt, f, an, showPoints)
				if an.Result.Count == 0 {
					fmt.Fprintf(w, "machines on record: %s\n", orNone(a.Trends.Machines(pt)))
					fmt.Fprintf(w, "chambers on record: %s\n", orNone(a.Trends.Chambers(pt)))
					fmt.Fprintf(w, "holes with specs: %s\n", specHoles(pt))
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&part, "part", "", "Part type")
	cmd.Flags().StringVar(&machine, "machine", "", "Only this machine")
	cmd.Flags().StringVar(&chamber, "chamber", "", "Only this chamber")
	cmd.Flags().StringVar(&hole, "hole", "", "Hole, e.g. H1 or 1")
	cmd.Flags().StringVar(&feature, "feature", "", "Inner or Outer")
	cmd.Flags().StringVar(&from, "from", "", "First day, YYYY-MM-DD")
	cmd.Flags().StringVar(&to, "to", "", "Last day (inclusive), YYYY-MM-DD")
	cmd.Flags().StringVar(&where, "where", "", "Filter expression")
	cmd.Flags().BoolVar(&showPoints, "points", false, "Print every reading in the series")
	return cmd
}

func orAll(s string) string {
	if s == "" {
		return "all"
	}
	return s
}

func orNone(values []string) string {
	if len(values) == 0 {
		return "none"
	}
	return strings.Join(values, ", ")
}

// specHoles renders "H1 (Inner, Outer), H2 (Inner)" for part.
func specHoles(part domain.PartType) string {
	var parts []string
	for _, h := range spec.Holes(part) {
		var feats []string
		for _, f := range spec.Features(part, h) {
			feats = append(feats, string(f))
		}
		parts = append(parts, fmt.Sprintf("%s (%s)", h, strings.Join(feats, ", ")))
	}
	return orNone(parts)
}

func printAnalysis(w io.Writer, part domain.PartType, f trend.Filter, an trend.Analysis, showPoints bool) {
	res := an.Result
	fmt.Fprintf(w, "%s %s %s (machine %s, chamber %s)\n", part, orAll(domain.NormalizeHole(f.Hole)), orAll(string(f.Feature)), orAll(f.Machine), orAll(f.Chamber))
	if res.Count == 0 {
		fmt.Fprintln(w, "No readings match.")
		return
	}
	fmt.Fprintf(w, "points: %d  %s .. %s\n", res.Count, res.Start.Format(domain.TimestampLayout), res.End.Format(domain.TimestampLayout))
	fmt.Fprintf(w, "slope: %+.4f mm/day  R²: %.3f  delta: %+.3f\n", res.Slope, res.RSquared, res.Delta)
	fmt.Fprintf(w, "min %.3f  max %.3f  mean %.3f  stddev %.4f\n", res.Min, res.Max, res.Mean, res.StdDev)
	if res.Proximity != "" {
		fmt.Fprintf(w, "trend: %s  proximity: %s (%.0f%% of tolerance from the nearer limit)\n", res.Trend, res.Proximity, res.ProximityRatio*100)
		fmt.Fprintf(w, "nominal %s  LSL %s  USL %s\n", res.Nominal, res.LSL, res.USL)
	} else {
		fmt.Fprintf(w, "trend: %s  (no limits recorded)\n", res.Trend)
	}
	fmt.Fprintf(w, "out of spec readings: %d\n", len(an.OutOfSpec))
	for _, r := range an.OutOfSpec {
		fmt.Fprintf(w, "  %s  piece %s  %s\n", r.Timestamp.Format(domain.TimestampLayout), r.PieceID, r.Value)
	}
	if showPoints {
		fmt.Fprintln(w, "readings:")
		for _, r := range an.Series {
			fmt.Fprintf(w, "  %s  %s  %s  %s  %s\n", r.Timestamp.Format(domain.TimestampLayout), r.Machine, r.Chamber, r.PieceID, r.Value)
		}
	}
}

func newSpecsCmd(open opener) *cobra.Command {
	var part, out string
	cmd := &cobra.Command{
		Use:   "specs",
		Short: "Export the spec table as CSV",
		Example: `  qclog specs
  qclog specs --part gw --out vendor_specs.csv`,
		GroupID: "analysis",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var pt domain.PartType
			if part != "" && part != "all" {
				var err error
				if pt, err = domain.ParsePartType(part); err != nil {
					return err
				}
			}
			if out == "" {
				return export.SpecsCSV(cmd.OutOrStdout(), spec.Filter(pt))
			}
			path, err := export.WriteSpecsCSV(out, pt)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Specs written to %s\n", path)
			return nil
		},
	}
	cmd.Flags().StringVar(&part, "part", "", "Only this part (default all)")
	cmd.Flags().StringVar(&out, "out", "", "Write to this file instead of stdout")
	return cmd
}

func newExportTrendsCmd(open opener) *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:     "export-trends",
		Short:   "Write per machine and chamber trend tables to a workbook",
		GroupID: "analysis",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(open, func(a *app.App) error {
				path := out
				if path == "" {
					path = filepath.Join(a.Config.ReportOutputDir, "trendchart.xlsx")
				}
				byPart := map[domain.PartType][]domain.Record{}
				for _, pt := range domain.PartTypes {
					byPart[pt] = a.Store.ReadAll(pt)
				}
				sheets, err := export.TrendWorkbook(path, byPart)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d sheet(s) to %s\n", len(sheets), path)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&out, "out", "", "Output workbook (default <report_output_dir>/trendchart.xlsx)")
	return cmd
}

func newDigestCmd(open opener) *cobra.Command {
	return &cobra.Command{
		Use:     "digest",
		Short:   "Build the trend digest now",
		Long:    `Analyse every hole feature, write the markdown digest, add model commentary and post it to Slack when configured.`,
		GroupID: "analysis",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(open, func(a *app.App) error {
				res, err := a.Digest.Run(cmd.Context())
				if err != nil {
					return err
				}
				w := cmd.OutOrStdout()
				fmt.Fprintln(w, res.Digest.Summary())
				fmt.Fprintf(w, "Digest written to %s\n", res.Path)
				if res.Posted {
					fmt.Fprintln(w, "Posted to Slack.")
				} else if res.PostErr != nil {
					fmt.Fprintf(w, "Slack post failed: %v\n", res.PostErr)
				}
				return nil
			})
		},
	}
}
