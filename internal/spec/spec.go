// Package spec holds the built-in tolerance table and the PASS/FAIL evaluator.
package spec

import (
	"sort"

	"qclog/internal/domain"
)

type key struct {
	part    domain.PartType
	hole    string
	feature domain.Feature
}

// band is nominal, LSL, USL.
type band [3]float64

var table = []struct {
	part     domain.PartType
	hole     string
	features map[domain.Feature]band
}{
	{domain.MixingBlock, "H1", map[domain.Feature]band{domain.Inner: {4.00, 3.50, 4.50}, domain.Outer: {9.00, 8.50, 9.50}}},
	{domain.MixingBlock, "H2", map[domain.Feature]band{domain.Inner: {4.00, 3.50, 4.50}, domain.Outer: {9.00, 8.50, 9.50}}},
	{domain.MixingBlock, "H3", map[domain.Feature]band{domain.Inner: {6.40, 5.90, 6.90}, domain.Outer: {9.20, 8.70, 9.70}}},
	{domain.MixingBlock, "H4", map[domain.Feature]band{domain.Inner: {9.20, 8.70, 9.70}, domain.Outer: {12.80, 12.30, 13.30}}},
	{domain.GasWaterBlock, "H1", map[domain.Feature]band{domain.Inner: {5.90, 5.50, 6.40}}},
	{domain.GasWaterBlock, "H2", map[domain.Feature]band{domain.Inner: {6.15, 5.65, 6.65}}},
	{domain.GasWaterBlock, "H3", map[domain.Feature]band{domain.Inner: {6.00, 5.50, 6.50}}},
	{domain.GasWaterBlock, "H4", map[domain.Feature]band{domain.Inner: {6.30, 5.80, 6.80}}},
	{domain.GasWaterBlock, "H5", map[domain.Feature]band{domain.Inner: {6.10, 5.60, 6.60}}},
}

var (
	entries []domain.SpecEntry
	byKey   = map[key]domain.SpecEntry{}
)

func init() {
	for _, row := range table {
		for _, f := range []domain.Feature{domain.Inner, domain.Outer} {
			b, ok := row.features[f]
			if !ok {
				continue
			}
			e := domain.SpecEntry{PartType: row.part, Hole: row.hole, Feature: f, Nominal: b[0], LSL: b[1], USL: b[2]}
			entries = append(entries, e)
			byKey[key{row.part, row.hole, f}] = e
		}
	}
}

// Entries returns a copy of the whole table in part, hole, feature order.
func Entries() []domain.SpecEntry {
	return append([]domain.SpecEntry(nil), entries...)
}

// Filter returns the entries for one part, or all entries when part is empty.
func Filter(part domain.PartType) []domain.SpecEntry {
	if part == "" {
		return Entries()
	}
	var out []domain.SpecEntry
	for _, e := range entries {
		if e.PartType == part {
			out = append(out, e)
		}
	}
	return out
}

// Lookup finds the spec for a hole feature. The hole may be given as "1" or "H1".
func Lookup(part domain.PartType, hole string, feature domain.Feature) (domain.SpecEntry, bool) {
	e, ok := byKey[key{part, domain.NormalizeHole(hole), feature}]
	return e, ok
}

// Holes lists the holes defined for a part, sorted numerically.
func Holes(part domain.PartType) []string {
	seen := map[string]bool{}
	var out []string
	for _, e := range entries {
		if e.PartType == part && !seen[e.Hole] {
			seen[e.Hole] = true
			out = append(out, e.Hole)
		}
	}
	sort.Slice(out, func(i, j int) bool { return domain.HoleSortKey(out[i]) < domain.HoleSortKey(out[j]) })
	return out
}

// Features lists the measured features of one hole.
func Features(part domain.PartType, hole string) []domain.Feature {
	var out []domain.Feature
	for _, f := range []domain.Feature{domain.Inner, domain.Outer} {
		if _, ok := Lookup(part, hole, f); ok {
			out = append(out, f)
		}
	}
	return out
}
