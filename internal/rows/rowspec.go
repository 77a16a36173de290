// Package rows edits and deletes stored measurement rows addressed by
// row numbers typed by an operator.
package rows

import (
	"sort"
	"strconv"
	"strings"

	"qclog/internal/domain"
)

// Span is an inclusive range of row numbers.
type Span struct{ Lo, Hi int }

// RowSpec is a parsed row selection such as "1,3-5". Ranges stay unexpanded
// until they are clipped to a table.
type RowSpec []Span

// Rows is the selection of exactly the given numbers.
func Rows(numbers ...int) RowSpec {
	out := make(RowSpec, len(numbers))
	for i, n := range numbers {
		out[i] = Span{n, n}
	}
	return out
}

// ParseRowSpec parses "1,3-5, 8". Ranges are inclusive and may be written
// high-low. Malformed tokens are ignored.
func ParseRowSpec(text string) RowSpec {
	var out RowSpec
	for _, tok := range strings.Split(text, ",") {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		if lo, hi, ok := parseRange(tok); ok {
			if lo > hi {
				lo, hi = hi, lo
			}
			out = append(out, Span{lo, hi})
			continue
		}
		if n, err := strconv.Atoi(tok); err == nil {
			out = append(out, Span{n, n})
		}
	}
	return out
}

// Within returns the sorted unique numbers of s that fall in [lo, hi].
// Only the overlap of each range is expanded.
func (s RowSpec) Within(lo, hi int) []int {
	seen := map[int]bool{}
	for _, sp := range s {
		a, b := max(sp.Lo, lo), min(sp.Hi, hi)
		if a > b {
			continue
		}
		for i := a; ; i++ {
			seen[i] = true
			if i == b {
				break
			}
		}
	}
	out := make([]int, 0, len(seen))
	for n := range seen {
		out = append(out, n)
	}
	sort.Ints(out)
	return out
}

func parseRange(tok string) (int, int, bool) {
	// Skip a leading sign so "-3" is not read as a range.
	idx := strings.Index(tok[1:], "-")
	if idx < 0 {
		return 0, 0, false
	}
	idx++
	lo, err1 := strconv.Atoi(strings.TrimSpace(tok[:idx]))
	hi, err2 := strconv.Atoi(strings.TrimSpace(tok[idx+1:]))
	if err1 != nil || err2 != nil {
		return 0, 0, false
	}
	return lo, hi, true
}

// DisplayRow is one record as listed to an operator.
type DisplayRow struct {
	Number     int
	GroupStart bool
	Record     domain.Record
}

// List numbers records from 1 and flags where the Piece ID changes, so a
// listing can draw separators without reordering storage.
func List(records []domain.Record) []DisplayRow {
	out := make([]DisplayRow, len(records))
	for i, r := range records {
		out[i] = DisplayRow{
			Number:     i + 1,
			GroupStart: i == 0 || records[i-1].PieceID != r.PieceID,
			Record:     r,
		}
	}
	return out
}
