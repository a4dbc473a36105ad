package types

// NeedsDrop reports whether dropping a value of this type runs any glue.
func (in *Interner) NeedsDrop(id TypeID) bool {
	return in.needsDrop(id, make(map[TypeID]bool, 8))
}

func (in *Interner) needsDrop(id TypeID, visiting map[TypeID]bool) bool {
	tt, ok := in.Lookup(id)
	if !ok {
		return false
	}
	switch tt.Kind {
	case KindBox:
		return true
	case KindArray:
		return tt.Count > 0 && in.needsDrop(tt.Elem, visiting)
	case KindSlice:
		return in.needsDrop(tt.Elem, visiting)
	case KindTuple:
		info, ok := in.TupleInfo(id)
		if !ok {
			return false
		}
		for _, elem := range info.Elems {
			if in.needsDrop(elem, visiting) {
				return true
			}
		}
		return false
	case KindStruct:
		if visiting[id] {
			return false
		}
		visiting[id] = true
		defer delete(visiting, id)
		info, ok := in.StructInfo(id)
		if !ok {
			return false
		}
		if info.DropGlue != "" {
			return true
		}
		for _, f := range info.Fields {
			if in.needsDrop(f.Type, visiting) {
				return true
			}
		}
		return false
	default:
		return false
	}
}

// IsUnsized reports whether values of the type carry pointer metadata
// when borrowed (str and slices).
func (in *Interner) IsUnsized(id TypeID) bool {
	tt, ok := in.Lookup(id)
	if !ok {
		return false
	}
	return tt.Kind == KindStr || tt.Kind == KindSlice
}

// ContainsKind reports whether id or any type reachable from it has kind k.
func (in *Interner) ContainsKind(id TypeID, k Kind) bool {
	return in.containsKind(id, k, make(map[TypeID]bool, 8))
}

func (in *Interner) containsKind(id TypeID, k Kind, seen map[TypeID]bool) bool {
	if seen[id] {
		return false
	}
	seen[id] = true
	tt, ok := in.Lookup(id)
	if !ok {
		return false
	}
	if tt.Kind == k {
		return true
	}
	for _, child := range in.Children(id) {
		if in.containsKind(child, k, seen) {
			return true
		}
	}
	return false
}

// Children returns the directly nested TypeIDs of a descriptor.
func (in *Interner) Children(id TypeID) []TypeID {
	tt, ok := in.Lookup(id)
	if !ok {
		return nil
	}
	switch tt.Kind {
	case KindArray, KindSlice, KindPointer, KindBorrow, KindBox:
		return []TypeID{tt.Elem}
	case KindTuple:
		if info, ok := in.TupleInfo(id); ok {
			return cloneTypeArgs(info.Elems)
		}
	case KindFnPtr:
		if info, ok := in.FnInfo(id); ok {
			out := cloneTypeArgs(info.Params)
			return append(out, info.Result)
		}
	case KindStruct:
		if info, ok := in.StructInfo(id); ok {
			out := make([]TypeID, 0, len(info.Fields))
			for _, f := range info.Fields {
				out = append(out, f.Type)
			}
			return out
		}
	case KindErased:
		if info, ok := in.ErasedInfo(id); ok {
			return cloneTypeArgs(info.OriginArgs)
		}
	}
	return nil
}
