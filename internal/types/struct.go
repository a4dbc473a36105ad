package types

import "slices"

// StructField describes a single field inside a nominal struct type.
type StructField struct {
	Name string
	Type TypeID
}

// StructInfo stores metadata for a struct type.
type StructInfo struct {
	Name   string
	Fields []StructField
	// DropGlue is the path key of the user destructor, empty when the
	// struct has none. The destructor takes a single &mut Self argument.
	DropGlue string
}

// RegisterStruct allocates a nominal struct type slot and returns its TypeID.
// Fields may be supplied later through SetStructFields for recursive types.
func (in *Interner) RegisterStruct(name string, fields []StructField) TypeID {
	in.structs = append(in.structs, StructInfo{Name: name, Fields: slices.Clone(fields)})
	slot := payloadSlot(len(in.structs)-1, "struct")
	return in.internRaw(Type{Kind: KindStruct, Payload: slot})
}

// SetStructFields stores the resolved field descriptors for the struct type.
func (in *Interner) SetStructFields(typeID TypeID, fields []StructField) {
	info := in.structInfo(typeID)
	if info == nil {
		return
	}
	info.Fields = slices.Clone(fields)
}

// SetDropGlue records the destructor path key for the struct type.
func (in *Interner) SetDropGlue(typeID TypeID, path string) {
	info := in.structInfo(typeID)
	if info == nil {
		return
	}
	info.DropGlue = path
}

// StructInfo returns metadata for the provided struct TypeID.
func (in *Interner) StructInfo(typeID TypeID) (*StructInfo, bool) {
	info := in.structInfo(typeID)
	if info == nil {
		return nil, false
	}
	return info, true
}

func (in *Interner) structInfo(typeID TypeID) *StructInfo {
	tt, ok := in.Lookup(typeID)
	if !ok || tt.Kind != KindStruct {
		return nil
	}
	if tt.Payload == 0 || int(tt.Payload) >= len(in.structs) {
		return nil
	}
	return &in.structs[tt.Payload]
}
