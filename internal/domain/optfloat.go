package domain

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// OptFloat is a float that may be absent. The zero value is absent.
type OptFloat struct {
	Value float64
	Valid bool
}

func Float(v float64) OptFloat {
	return OptFloat{Value: v, Valid: true}
}

// ParseOptFloat parses trimmed text; empty text is the absent value. NaN and
// infinities are rejected like any other non-number.
func ParseOptFloat(s string) (OptFloat, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return OptFloat{}, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return OptFloat{}, fmt.Errorf("%w: %q is not a number", ErrValidation, s)
	}
	return Float(v), nil
}

// String renders the shortest exact representation, or "" when absent.
func (o OptFloat) String() string {
	if !o.Valid {
		return ""
	}
	return strconv.FormatFloat(o.Value, 'f', -1, 64)
}

// Cell returns the value for a spreadsheet cell: float64 or nil.
func (o OptFloat) Cell() interface{} {
	if !o.Valid {
		return nil
	}
	return o.Value
}
