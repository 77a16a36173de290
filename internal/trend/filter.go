package trend

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"qclog/internal/domain"
)

// Filter selects records for a trend. Zero fields match everything. From and
// To are calendar days: records from the start of From through the end of To.
type Filter struct {
	Machine string
	Chamber string
	Hole    string
	Feature domain.Feature
	From    time.Time
	To      time.Time
	// Where is an optional boolean expression over RecordEnv fields,
	// e.g. `value > 4.2 && status == "FAIL"`.
	Where string
}

// RecordEnv is what a Where expression can see.
type RecordEnv struct {
	Machine  string  `expr:"machine"`
	Chamber  string  `expr:"chamber"`
	PieceID  string  `expr:"piece"`
	Flow     string  `expr:"flow"`
	Hole     string  `expr:"hole"`
	HoleNum  int     `expr:"hole_num"`
	Feature  string  `expr:"feature"`
	Status   string  `expr:"status"`
	Notes    string  `expr:"notes"`
	Value    float64 `expr:"value"`
	Nominal  float64 `expr:"nominal"`
	LSL      float64 `expr:"lsl"`
	USL      float64 `expr:"usl"`
	HasValue bool    `expr:"has_value"`
	HasImage bool    `expr:"has_image"`
	Day      string  `expr:"day"`
	Hour     int     `expr:"hour"`
}

func envFor(r domain.Record) RecordEnv {
	return RecordEnv{
		Machine:  r.Machine,
		Chamber:  r.Chamber,
		PieceID:  r.PieceID,
		Flow:     string(r.PartFlow),
		Hole:     r.Hole,
		HoleNum:  domain.HoleSortKey(r.Hole),
		Feature:  string(r.Feature),
		Status:   string(r.Status),
		Notes:    r.Notes,
		Value:    r.Value.Value,
		Nominal:  r.Nominal.Value,
		LSL:      r.LSL.Value,
		USL:      r.USL.Value,
		HasValue: r.Value.Valid,
		HasImage: r.ImagePath != "",
		Day:      r.Timestamp.Format("2006-01-02"),
		Hour:     r.Timestamp.Hour(),
	}
}

// CompileWhere compiles a Where expression. An empty expression matches all.
func CompileWhere(where string) (func(domain.Record) bool, error) {
	where = strings.TrimSpace(where)
	if where == "" {
		return func(domain.Record) bool { return true }, nil
	}
	program, err := expr.Compile(where, expr.Env(RecordEnv{}), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("%w: filter %q: %v", domain.ErrValidation, where, err)
	}
	return func(r domain.Record) bool { return matches(program, r) }, nil
}

func matches(program *vm.Program, r domain.Record) bool {
	out, err := expr.Run(program, envFor(r))
	if err != nil {
		return false
	}
	b, ok := out.(bool)
	return ok && b
}

// Signature identifies the filter for caching.
func (f Filter) Signature() string {
	day := func(t time.Time) string {
		if t.IsZero() {
			return ""
		}
		return t.Format("2006-01-02")
	}
	return strings.Join([]string{
		f.Machine, f.Chamber, domain.NormalizeHole(f.Hole), string(f.Feature),
		day(f.From), day(f.To), strings.TrimSpace(f.Where),
	}, "\x1f")
}

func (f Filter) bounds() (from, to time.Time, err error) {
	if !f.From.IsZero() {
		from = startOfDay(f.From)
	}
	if !f.To.IsZero() {
		to = startOfDay(f.To).AddDate(0, 0, 1)
	}
	if !from.IsZero() && !to.IsZero() && !from.Before(to) {
		return from, to, fmt.Errorf("%w: start date %s is after end date %s", domain.ErrValidation,
			f.From.Format("2006-01-02"), f.To.Format("2006-01-02"))
	}
	return from, to, nil
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// Series applies f to records and returns the matches sorted by timestamp,
// keeping insertion order for equal timestamps. Records without a value
// are not trend points and are dropped.
func Series(records []domain.Record, f Filter) ([]domain.Record, error) {
	from, to, err := f.bounds()
	if err != nil {
		return nil, err
	}
	where, err := CompileWhere(f.Where)
	if err != nil {
		return nil, err
	}
	hole := domain.NormalizeHole(f.Hole)

	out := []domain.Record{}
	for _, r := range records {
		if !r.Value.Valid {
			continue
		}
		if f.Machine != "" && r.Machine != f.Machine {
			continue
		}
		if f.Chamber != "" && r.Chamber != f.Chamber {
			continue
		}
		if hole != "" && r.Hole != hole {
			continue
		}
		if f.Feature != "" && !strings.EqualFold(string(r.Feature), string(f.Feature)) {
			continue
		}
		if !from.IsZero() && r.Timestamp.Before(from) {
			continue
		}
		if !to.IsZero() && !r.Timestamp.Before(to) {
			continue
		}
		if !where(r) {
			continue
		}
		out = append(out, r)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

// OutOfSpecPoints returns the series points outside their own limits.
func OutOfSpecPoints(series []domain.Record) []domain.Record {
	var out []domain.Record
	for _, r := range series {
		if !r.Value.Valid || !r.LSL.Valid || !r.USL.Valid {
			continue
		}
		if r.Value.Value < r.LSL.Value || r.Value.Value > r.USL.Value {
			out = append(out, r)
		}
	}
	return out
}
