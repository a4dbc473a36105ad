package mir

import (
	"miri/internal/types"
)

type BlockID int32
type LocalID int32

const (
	NoBlockID BlockID = -1
	NoLocalID LocalID = -1
)

type Local struct {
	Type types.TypeID
	Name string
}

type PlaceProjKind uint8

const (
	PlaceProjDeref PlaceProjKind = iota
	PlaceProjField
	PlaceProjIndex
	PlaceProjConstIndex
)

type PlaceProj struct {
	Kind PlaceProjKind

	FieldIdx   int
	IndexLocal LocalID
	// ConstIndex addresses element Offset, counted from the end when FromEnd is set.
	Offset  uint64
	FromEnd bool
}

type PlaceKind uint8

const (
	PlaceLocal PlaceKind = iota
	PlaceArg
	PlaceReturn
	PlaceStatic
)

type Place struct {
	Kind   PlaceKind
	Local  LocalID // local or argument index
	Static Path
	Proj   []PlaceProj
}

// IsWholeSlot reports whether p names a local or argument with no projections.
func (p Place) IsWholeSlot() bool {
	return len(p.Proj) == 0 && (p.Kind == PlaceLocal || p.Kind == PlaceArg)
}

// LocalPlace is shorthand for the place of local id.
func LocalPlace(id LocalID) Place { return Place{Kind: PlaceLocal, Local: id} }

// ArgPlace is shorthand for the place of argument id.
func ArgPlace(id LocalID) Place { return Place{Kind: PlaceArg, Local: id} }

// ReturnPlace is the frame's return slot.
func ReturnPlace() Place { return Place{Kind: PlaceReturn, Local: NoLocalID} }

// Deref appends a dereference projection.
func (p Place) Deref() Place {
	return p.with(PlaceProj{Kind: PlaceProjDeref})
}

// Field appends a field projection.
func (p Place) Field(idx int) Place {
	return p.with(PlaceProj{Kind: PlaceProjField, FieldIdx: idx})
}

// Index appends an index projection using the value of local idx.
func (p Place) Index(idx LocalID) Place {
	return p.with(PlaceProj{Kind: PlaceProjIndex, IndexLocal: idx})
}

func (p Place) with(proj PlaceProj) Place {
	out := p
	out.Proj = make([]PlaceProj, len(p.Proj), len(p.Proj)+1)
	copy(out.Proj, p.Proj)
	out.Proj = append(out.Proj, proj)
	return out
}
