// Package trend filters measurement series and fits a drift line to them.
package trend

import (
	"math"
	"sort"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"qclog/internal/domain"
)

type Status string

const (
	Stable   Status = "Stable"
	Drifting Status = "Drifting"
	Rapid    Status = "Rapid change"
)

type Proximity string

const (
	OutOfSpec  Proximity = "Out of Spec"
	NearLimit  Proximity = "Near Limit"
	WithinSpec Proximity = "Within Spec"
)

// Slope thresholds in mm/day.
const (
	stableSlope   = 0.01
	driftingSlope = 0.1
	nearLimitFrac = 0.10
)

// Point is one reading on the time axis.
type Point struct {
	Timestamp time.Time
	Value     float64
	Nominal   domain.OptFloat
	LSL       domain.OptFloat
	USL       domain.OptFloat
}

// Result summarises a series. Proximity is empty when the series carries no
// limits. ProximityRatio is the distance to the nearer limit as a fraction
// of the tolerance span.
type Result struct {
	Count          int
	Slope          float64
	Intercept      float64
	RSquared       float64
	Delta          float64
	Trend          Status
	Proximity      Proximity
	ProximityRatio float64
	Nominal        domain.OptFloat
	LSL            domain.OptFloat
	USL            domain.OptFloat
	FirstValue     float64
	LastValue      float64
	Min            float64
	Max            float64
	Mean           float64
	StdDev         float64
	Start          time.Time
	End            time.Time
}

// PointsFrom converts records to points, skipping records without a value.
func PointsFrom(records []domain.Record) []Point {
	out := make([]Point, 0, len(records))
	for _, r := range records {
		if !r.Value.Valid {
			continue
		}
		out = append(out, Point{Timestamp: r.Timestamp, Value: r.Value.Value, Nominal: r.Nominal, LSL: r.LSL, USL: r.USL})
	}
	return out
}

// Analyze fits value against elapsed days and classifies drift and
// closeness to the spec limits.
func Analyze(points []Point) Result {
	res := Result{Trend: Stable}
	if len(points) == 0 {
		return res
	}
	pts := append([]Point(nil), points...)
	sort.SliceStable(pts, func(i, j int) bool { return pts[i].Timestamp.Before(pts[j].Timestamp) })

	xs := make([]float64, len(pts))
	ys := make([]float64, len(pts))
	start := pts[0].Timestamp
	for _, p := range pts {
		if p.Timestamp.Before(start) {
			start = p.Timestamp
		}
	}
	for i, p := range pts {
		xs[i] = p.Timestamp.Sub(start).Seconds() / 86400
		ys[i] = p.Value
		if !res.Nominal.Valid && p.Nominal.Valid {
			res.Nominal = p.Nominal
		}
		if !res.LSL.Valid && p.LSL.Valid {
			res.LSL = p.LSL
		}
		if !res.USL.Valid && p.USL.Valid {
			res.USL = p.USL
		}
	}

	res.Count = len(pts)
	res.Start = start
	res.End = pts[len(pts)-1].Timestamp
	res.FirstValue = ys[0]
	res.LastValue = ys[len(ys)-1]
	res.Delta = res.LastValue - res.FirstValue
	res.Min = floats.Min(ys)
	res.Max = floats.Max(ys)
	res.Mean, res.StdDev = stat.MeanStdDev(ys, nil)
	if len(ys) < 2 {
		res.StdDev = 0
	}

	if len(pts) < 2 || res.Min == res.Max || floats.Min(xs) == floats.Max(xs) {
		res.Intercept = ys[0]
	} else {
		res.Intercept, res.Slope = stat.LinearRegression(xs, ys, nil, false)
		res.RSquared = rSquared(xs, ys, res.Intercept, res.Slope)
	}
	res.Trend = classifySlope(res.Slope)
	res.Proximity, res.ProximityRatio = proximity(res.LastValue, res.LSL, res.USL)
	return res
}

// rSquared is 1 - SSres/SStot, defined as 1 when SStot is zero.
func rSquared(xs, ys []float64, intercept, slope float64) float64 {
	mean := stat.Mean(ys, nil)
	var ssRes, ssTot float64
	for i := range xs {
		fit := intercept + slope*xs[i]
		ssRes += (ys[i] - fit) * (ys[i] - fit)
		ssTot += (ys[i] - mean) * (ys[i] - mean)
	}
	if ssTot == 0 {
		return 1.0
	}
	return 1 - ssRes/ssTot
}

func classifySlope(slope float64) Status {
	switch abs := math.Abs(slope); {
	case abs < stableSlope:
		return Stable
	case abs < driftingSlope:
		return Drifting
	default:
		return Rapid
	}
}

func proximity(last float64, lsl, usl domain.OptFloat) (Proximity, float64) {
	if !lsl.Valid || !usl.Valid {
		return "", 0
	}
	span := usl.Value - lsl.Value
	if span == 0 {
		span = 1
	}
	ratio := math.Min(math.Abs(last-lsl.Value), math.Abs(usl.Value-last)) / span
	if last < lsl.Value || last > usl.Value {
		return OutOfSpec, ratio
	}
	if ratio < nearLimitFrac {
		return NearLimit, ratio
	}
	return WithinSpec, ratio
}

// NeedsAttention reports results a supervisor should look at.
func (r Result) NeedsAttention() bool {
	return r.Proximity == OutOfSpec || r.Proximity == NearLimit || r.Trend == Rapid
}
