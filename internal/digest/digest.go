// Package digest analyses every measured hole feature and renders the
// result as a markdown report for the shift.
package digest

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"qclog/internal/domain"
	"qclog/internal/trend"
)

// Row is the analysis of one (part, hole, feature) series.
type Row struct {
	Part    domain.PartType
	Hole    string
	Feature domain.Feature
	Result  trend.Result
}

func (r Row) label() string {
	return fmt.Sprintf("%s %s %s", r.Part, r.Hole, r.Feature)
}

type Digest struct {
	GeneratedAt time.Time
	Records     int
	Rows        []Row
}

// Analyzer returns a cached or fresh analysis of one filtered series.
type Analyzer interface {
	AnalyzeFiltered(part domain.PartType, f trend.Filter) (trend.Analysis, error)
}

type analyzeFunc func(part domain.PartType, recs []domain.Record, f trend.Filter) (trend.Result, error)

func analyzeRecords(_ domain.PartType, recs []domain.Record, f trend.Filter) (trend.Result, error) {
	series, err := trend.Series(recs, f)
	if err != nil {
		return trend.Result{}, err
	}
	return trend.Analyze(trend.PointsFrom(series)), nil
}

// Build analyses every hole feature that has at least one value.
func Build(recordsByPart map[domain.PartType][]domain.Record, now time.Time) Digest {
	return build(recordsByPart, now, analyzeRecords)
}

// BuildWith is Build with each series analysed by an, so repeated digests
// over unchanged data reuse its cache.
func BuildWith(an Analyzer, recordsByPart map[domain.PartType][]domain.Record, now time.Time) Digest {
	return build(recordsByPart, now, func(part domain.PartType, _ []domain.Record, f trend.Filter) (trend.Result, error) {
		a, err := an.AnalyzeFiltered(part, f)
		return a.Result, err
	})
}

func build(recordsByPart map[domain.PartType][]domain.Record, now time.Time, analyze analyzeFunc) Digest {
	d := Digest{GeneratedAt: now}
	for _, part := range domain.PartTypes {
		recs := recordsByPart[part]
		d.Records += len(recs)
		for _, k := range seriesKeys(recs) {
			res, err := analyze(part, recs, trend.Filter{Hole: k.hole, Feature: k.feature})
			if err != nil || res.Count == 0 {
				continue
			}
			d.Rows = append(d.Rows, Row{
				Part:    part,
				Hole:    k.hole,
				Feature: k.feature,
				Result:  res,
			})
		}
	}
	return d
}

type seriesKey struct {
	hole    string
	feature domain.Feature
}

func seriesKeys(recs []domain.Record) []seriesKey {
	seen := map[seriesKey]bool{}
	var keys []seriesKey
	for _, r := range recs {
		if !r.Value.Valid || r.Hole == "" || r.Feature == "" {
			continue
		}
		k := seriesKey{r.Hole, r.Feature}
		if !seen[k] {
			seen[k] = true
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		hi, hj := domain.HoleSortKey(keys[i].hole), domain.HoleSortKey(keys[j].hole)
		if hi != hj {
			return hi < hj
		}
		return keys[i].feature < keys[j].feature
	})
	return keys
}

// Attention lists rows that are out of spec, near a limit or changing fast,
// out-of-spec first.
func (d Digest) Attention() []Row {
	var out []Row
	for _, r := range d.Rows {
		if r.Result.NeedsAttention() {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return rank(out[i].Result) < rank(out[j].Result)
	})
	return out
}

func rank(r trend.Result) int {
	switch {
	case r.Proximity == trend.OutOfSpec:
		return 0
	case r.Proximity == trend.NearLimit:
		return 1
	default:
		return 2
	}
}

// Summary is the one-line caption used when the digest is posted.
func (d Digest) Summary() string {
	n := len(d.Attention())
	if n == 0 {
		return fmt.Sprintf("QC digest %s: %d series analysed, nothing needs attention.", d.GeneratedAt.Format("2006-01-02"), len(d.Rows))
	}
	return fmt.Sprintf("QC digest %s: %d series analysed, %d need attention.", d.GeneratedAt.Format("2006-01-02"), len(d.Rows), n)
}

func (d Digest) Markdown() string {
	var b strings.Builder
	fmt.Fprintf(&b, "# QC Trend Digest %s\n\n", d.GeneratedAt.Format("2006-01-02 15:04"))
	fmt.Fprintf(&b, "Records analysed: %d\n\n", d.Records)

	b.WriteString("## Needs attention\n\n")
	attention := d.Attention()
	if len(attention) == 0 {
		b.WriteString("None.\n")
	}
	for _, r := range attention {
		fmt.Fprintf(&b, "- %s\n", attentionLine(r))
	}

	for _, part := range domain.PartTypes {
		var rows []Row
		for _, r := range d.Rows {
			if r.Part == part {
				rows = append(rows, r)
			}
		}
		if len(rows) == 0 {
			continue
		}
		fmt.Fprintf(&b, "\n## %s\n\n", part)
		b.WriteString("| Hole | Feature | Points | Last | Slope (mm/day) | R² | Delta | Trend | Proximity |\n")
		b.WriteString("|---|---|---|---|---|---|---|---|---|\n")
		for _, r := range rows {
			res := r.Result
			prox := string(res.Proximity)
			if prox == "" {
				prox = "n/a"
			}
			fmt.Fprintf(&b, "| %s | %s | %d | %.3f | %+.4f | %.3f | %+.3f | %s | %s |\n",
				r.Hole, r.Feature, res.Count, res.LastValue, res.Slope, res.RSquared, res.Delta, res.Trend, prox)
		}
	}
	return b.String()
}

func attentionLine(r Row) string {
	res := r.Result
	parts := []string{}
	if res.Proximity == trend.OutOfSpec || res.Proximity == trend.NearLimit {
		parts = append(parts, string(res.Proximity))
	}
	if res.Trend == trend.Rapid {
		parts = append(parts, string(res.Trend))
	}
	line := fmt.Sprintf("**%s**: %s, last %.3f", r.label(), strings.Join(parts, ", "), res.LastValue)
	if res.LSL.Valid && res.USL.Valid {
		line += fmt.Sprintf(" (limits %.2f to %.2f)", res.LSL.Value, res.USL.Value)
	}
	return line + fmt.Sprintf(", slope %+.4f mm/day", res.Slope)
}
