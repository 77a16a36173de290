package domain

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// TimestampLayout is how timestamps are written to the workbook.
const TimestampLayout = "2006-01-02 15:04:05"

type PartType string

const (
	MixingBlock   PartType = "Mixing Block"
	GasWaterBlock PartType = "Gas/Water Block"
)

// PartTypes lists the part types in workbook sheet order.
var PartTypes = []PartType{MixingBlock, GasWaterBlock}

// ParsePartType accepts the canonical names plus the short aliases operators type.
func ParsePartType(s string) (PartType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "mixing block", "mixing", "mb", "mi":
		return MixingBlock, nil
	case "gas/water block", "gas-water block", "gas water block", "gaswater", "gw", "gwb":
		return GasWaterBlock, nil
	default:
		return "", fmt.Errorf("%w: unknown part type %q", ErrValidation, s)
	}
}

// Sheet returns the workbook sheet holding this part's measurements.
func (p PartType) Sheet() string {
	if p == GasWaterBlock {
		return SheetGasWater
	}
	return SheetMixing
}

// Short is the code used in reference sheet names and file names.
func (p PartType) Short() string {
	if p == GasWaterBlock {
		return "GW"
	}
	return "MI"
}

func (p PartType) Valid() bool {
	return p == MixingBlock || p == GasWaterBlock
}

type Feature string

const (
	Inner Feature = "Inner"
	Outer Feature = "Outer"
)

func ParseFeature(s string) (Feature, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "inner", "in", "i":
		return Inner, nil
	case "outer", "out", "o":
		return Outer, nil
	default:
		return "", fmt.Errorf("%w: unknown feature %q", ErrValidation, s)
	}
}

type PartFlow string

const (
	FlowIn  PartFlow = "IN"
	FlowOut PartFlow = "OUT"
)

func ParsePartFlow(s string) (PartFlow, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "IN":
		return FlowIn, nil
	case "OUT":
		return FlowOut, nil
	default:
		return "", fmt.Errorf("%w: part flow must be IN or OUT, got %q", ErrValidation, s)
	}
}

type Status string

const (
	StatusPass    Status = "PASS"
	StatusFail    Status = "FAIL"
	StatusUnknown Status = "UNKNOWN"
)

// ParseStatus maps free text to a Status. Empty input is the null status.
func ParseStatus(s string) (Status, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "":
		return "", nil
	case "PASS":
		return StatusPass, nil
	case "FAIL":
		return StatusFail, nil
	case "UNKNOWN":
		return StatusUnknown, nil
	default:
		return "", fmt.Errorf("%w: unknown status %q", ErrValidation, s)
	}
}

// Record is one stored measurement row.
type Record struct {
	Timestamp time.Time
	Machine   string
	PartType  PartType
	Chamber   string
	PieceID   string
	PartFlow  PartFlow
	Hole      string // normalized, e.g. "H1"
	Feature   Feature
	Value     OptFloat
	Nominal   OptFloat
	LSL       OptFloat
	USL       OptFloat
	Status    Status // frozen at write time
	Notes     string
	ImagePath string
}

// SpecEntry holds the tolerance band for one hole feature.
type SpecEntry struct {
	PartType PartType
	Hole     string
	Feature  Feature
	Nominal  float64
	LSL      float64
	USL      float64
}

// Tolerance is the nominal-to-LSL distance rounded to four decimals.
func (s SpecEntry) Tolerance() float64 {
	v, _ := strconv.ParseFloat(strconv.FormatFloat(s.Nominal-s.LSL, 'f', 4, 64), 64)
	return v
}

// NormalizeHole turns "1", "h1" or "H1" into "H1". Anything else is returned trimmed.
func NormalizeHole(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	rest := s
	if rest[0] == 'H' || rest[0] == 'h' {
		rest = rest[1:]
	}
	if _, err := strconv.Atoi(rest); err == nil && rest != "" {
		return "H" + rest
	}
	return s
}

var firstIntRe = regexp.MustCompile(`\d+`)

// HoleSortKey returns the numeric hole number for sorting, 999 when none is found.
// It accepts "3", "H3" and noisy strings such as "meas_H12_Inner".
func HoleSortKey(s string) int {
	s = strings.TrimSpace(s)
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	if len(s) >= 2 && (s[0] == 'H' || s[0] == 'h') {
		if n, err := strconv.Atoi(s[1:]); err == nil {
			return n
		}
	}
	if m := firstIntRe.FindString(s); m != "" {
		if n, err := strconv.Atoi(m); err == nil {
			return n
		}
	}
	return 999
}
