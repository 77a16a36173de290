package spec

import "qclog/internal/domain"

// Evaluation is the status plus the spec triple copied onto a record.
type Evaluation struct {
	Status  domain.Status
	Nominal domain.OptFloat
	LSL     domain.OptFloat
	USL     domain.OptFloat
}

// Evaluator computes record status against the built-in table.
//
// With UnknownAsStatus unset, a present value for a hole feature that has no
// spec entry passes. With it set, such a value is reported as UNKNOWN.
type Evaluator struct {
	UnknownAsStatus bool
}

// Evaluate applies the default (permissive) evaluator.
func Evaluate(part domain.PartType, hole string, feature domain.Feature, value domain.OptFloat) Evaluation {
	return Evaluator{}.Evaluate(part, hole, feature, value)
}

func (ev Evaluator) Evaluate(part domain.PartType, hole string, feature domain.Feature, value domain.OptFloat) Evaluation {
	entry, ok := Lookup(part, hole, feature)
	if !ok {
		switch {
		case !value.Valid:
			return Evaluation{Status: domain.StatusFail}
		case ev.UnknownAsStatus:
			return Evaluation{Status: domain.StatusUnknown}
		default:
			return Evaluation{Status: domain.StatusPass}
		}
	}
	out := Evaluation{
		Status:  domain.StatusFail,
		Nominal: domain.Float(entry.Nominal),
		LSL:     domain.Float(entry.LSL),
		USL:     domain.Float(entry.USL),
	}
	if value.Valid && InSpec(value.Value, entry.LSL, entry.USL) {
		out.Status = domain.StatusPass
	}
	return out
}

// InSpec reports lsl <= v <= usl.
func InSpec(v, lsl, usl float64) bool {
	return lsl <= v && v <= usl
}
