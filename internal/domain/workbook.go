package domain

import "errors"

const (
	SheetMixing   = "Mixing Block Data"
	SheetGasWater = "Gas-Water Block Data"
	SheetSpecs    = "Specs"
	SheetGWRef    = "GW Reference Photo"
	SheetMIRef    = "MI Reference Photo"
)

// ReferencePlaceholder is the single cell written into an empty reference-photo sheet.
const ReferencePlaceholder = "Image Loads Below"

// Column headers, in workbook order.
const (
	ColTimestamp = "Timestamp"
	ColMachine   = "Machine"
	ColPartType  = "Part Type"
	ColChamber   = "Chamber"
	ColPieceID   = "Piece ID"
	ColPartFlow  = "Part In/Out"
	ColHole      = "Hole"
	ColFeature   = "Feature"
	ColValue     = "Value"
	ColNominal   = "Nominal"
	ColLSL       = "LSL"
	ColUSL       = "USL"
	ColStatus    = "Status"
	ColNotes     = "Notes"
	ColImagePath = "Image Path"
	ColTolerance = "Tolerance"
)

var DataColumns = []string{
	ColTimestamp, ColMachine, ColPartType, ColChamber, ColPieceID, ColPartFlow,
	ColHole, ColFeature, ColValue, ColNominal, ColLSL, ColUSL, ColStatus, ColNotes,
	ColImagePath,
}

var SpecColumns = []string{ColPartType, ColHole, ColFeature, ColNominal, ColLSL, ColUSL, ColTolerance}

var (
	ErrValidation = errors.New("validation error")
	ErrLocked     = errors.New("workbook locked by another process")
)

// Snapshot is every sheet that must be written together.
type Snapshot struct {
	Tables map[PartType][]Record
	Specs  []SpecEntry
	// Other holds sheets the store does not model (reference placeholders,
	// operator-added sheets) as raw rows, in workbook order.
	Other      map[string][][]string
	OtherOrder []string
	// Unreadable is set when the workbook exists but could not be opened,
	// so the snapshot does not reflect what is on disk.
	Unreadable bool
}

func NewSnapshot() *Snapshot {
	return &Snapshot{
		Tables: map[PartType][]Record{MixingBlock: {}, GasWaterBlock: {}},
		Other:  map[string][][]string{},
	}
}

// Append adds records to one part table and returns the full table.
func (s *Snapshot) Append(part PartType, recs []Record) []Record {
	if s.Tables == nil {
		s.Tables = map[PartType][]Record{}
	}
	s.Tables[part] = append(s.Tables[part], recs...)
	return s.Tables[part]
}

// SetOther stores a raw sheet, keeping first-seen order.
func (s *Snapshot) SetOther(name string, rows [][]string) {
	if s.Other == nil {
		s.Other = map[string][][]string{}
	}
	if _, ok := s.Other[name]; !ok {
		s.OtherOrder = append(s.OtherOrder, name)
	}
	s.Other[name] = rows
}

// Clone copies the table slices so callers can mutate one table safely.
func (s *Snapshot) Clone() *Snapshot {
	out := NewSnapshot()
	for part, recs := range s.Tables {
		out.Tables[part] = append([]Record(nil), recs...)
	}
	out.Specs = append([]SpecEntry(nil), s.Specs...)
	for _, name := range s.OtherOrder {
		out.SetOther(name, s.Other[name])
	}
	out.Unreadable = s.Unreadable
	return out
}
