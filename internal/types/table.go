package types

import (
	"fmt"
	"slices"

	"fortio.org/safecast"
)

// Table is the serialisable form of an Interner. TypeIDs are indices into
// Types and stay stable across a round trip.
type Table struct {
	Types   []Type
	Structs []StructInfo
	Tuples  []TupleInfo
	Fns     []FnInfo
	Erased  []ErasedInfo
}

// Table snapshots the interner.
func (in *Interner) Table() Table {
	return Table{
		Types:   slices.Clone(in.types),
		Structs: slices.Clone(in.structs),
		Tuples:  slices.Clone(in.tuples),
		Fns:     slices.Clone(in.fns),
		Erased:  slices.Clone(in.erased),
	}
}

// FromTable rebuilds an interner from a snapshot.
func FromTable(t Table) (*Interner, error) {
	if len(t.Types) == 0 || t.Types[0].Kind != KindInvalid {
		return nil, fmt.Errorf("type table: missing reserved slot 0")
	}
	in := &Interner{
		types:   slices.Clone(t.Types),
		index:   make(map[typeKey]TypeID, len(t.Types)),
		structs: slices.Clone(t.Structs),
		tuples:  slices.Clone(t.Tuples),
		fns:     slices.Clone(t.Fns),
		erased:  slices.Clone(t.Erased),
	}
	if len(in.structs) == 0 || len(in.tuples) == 0 || len(in.fns) == 0 || len(in.erased) == 0 {
		return nil, fmt.Errorf("type table: missing reserved side-table slots")
	}
	tables := map[Kind]int{
		KindStruct: len(in.structs),
		KindTuple:  len(in.tuples),
		KindFnPtr:  len(in.fns),
		KindErased: len(in.erased),
	}
	for i, tt := range in.types {
		if n, ok := tables[tt.Kind]; ok && (tt.Payload == 0 || int(tt.Payload) >= n) {
			return nil, fmt.Errorf("type table: type#%d (%s) payload %d out of range", i, tt.Kind, tt.Payload)
		}
		if tt.Kind != KindStruct && tt.Kind != KindInvalid {
			if int(tt.Elem) >= len(in.types) {
				return nil, fmt.Errorf("type table: type#%d element type#%d out of range", i, tt.Elem)
			}
		}
		id, err := safecast.Conv[uint32](i)
		if err != nil {
			return nil, fmt.Errorf("type table: %w", err)
		}
		key := typeKey(tt)
		if _, exists := in.index[key]; !exists {
			in.index[key] = TypeID(id)
		}
	}
	in.seedBuiltins()
	return in, nil
}
