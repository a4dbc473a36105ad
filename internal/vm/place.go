package vm

import (
	"fmt"

	"miri/internal/mir"
	"miri/internal/types"
	"miri/internal/value"
)

// placeRef is an evaluated place: an address, the type stored there and, for
// unsized types reached through a fat pointer, the length metadata.
type placeRef struct {
	ptr     value.Pointer
	ty      types.TypeID
	meta    uint64
	hasMeta bool
	slot    *Slot // set for whole-slot places
}

func (t *Thread) evalPlace(f *Frame, p mir.Place) (placeRef, *VMError) {
	var pr placeRef
	switch p.Kind {
	case mir.PlaceLocal, mir.PlaceArg:
		s, ok := f.slot(p.Kind, p.Local)
		if !ok {
			return pr, t.eb.outOfBounds("slot", uint64(max(p.Local, 0)), uint64(len(f.Locals)))
		}
		pr = placeRef{ptr: value.AllocPointer(s.Mem), ty: s.Type}
		if len(p.Proj) == 0 {
			pr.slot = s
		}
	case mir.PlaceReturn:
		pr = placeRef{ptr: value.AllocPointer(f.Ret), ty: f.RetTy}
	case mir.PlaceStatic:
		key := p.Static.Key()
		st := t.m.StaticByKey(key)
		if st == nil {
			return pr, t.eb.unresolved("static", key)
		}
		pr = placeRef{ptr: value.StaticPointer(key), ty: st.Type}
	default:
		return pr, t.eb.invalidProgram("unknown place kind %d", p.Kind)
	}

	for _, proj := range p.Proj {
		next, vmErr := t.project(f, pr, proj)
		if vmErr != nil {
			return pr, vmErr
		}
		pr = next
	}
	return pr, nil
}

func (t *Thread) project(f *Frame, pr placeRef, proj mir.PlaceProj) (placeRef, *VMError) {
	tt := t.typeOf(pr.ty)
	switch proj.Kind {
	case mir.PlaceProjDeref:
		if tt.Kind != types.KindPointer && tt.Kind != types.KindBorrow && tt.Kind != types.KindBox {
			return pr, t.eb.invalidProgram("deref of non-pointer %s", types.Label(t.types, pr.ty))
		}
		target, vmErr := t.loadPointer(pr.ptr)
		if vmErr != nil {
			return pr, vmErr
		}
		out := placeRef{ptr: target, ty: tt.Elem}
		if t.types.IsUnsized(tt.Elem) {
			meta, vmErr := t.loadUint(pr.ptr.Add(int64(t.ptrSize)), t.ptrSize)
			if vmErr != nil {
				return pr, vmErr
			}
			out.meta, out.hasMeta = meta, true
		}
		return out, nil

	case mir.PlaceProjField:
		off, fieldTy, err := t.layout.FieldOffset(pr.ty, proj.FieldIdx)
		if err != nil {
			return pr, t.eb.badLayout(err)
		}
		return placeRef{ptr: pr.ptr.Add(int64(off)), ty: fieldTy}, nil

	case mir.PlaceProjIndex:
		s, ok := f.slot(mir.PlaceLocal, proj.IndexLocal)
		if !ok {
			return pr, t.eb.outOfBounds("index local", uint64(max(proj.IndexLocal, 0)), uint64(len(f.Locals)))
		}
		idx, err := s.Mem.ReadUint(0, s.Mem.Size())
		if err != nil {
			return pr, t.eb.memory("read index", err)
		}
		return t.indexPlace(pr, tt, idx)

	case mir.PlaceProjConstIndex:
		idx := proj.Offset
		if proj.FromEnd {
			n, vmErr := t.placeLen(pr, tt)
			if vmErr != nil {
				return pr, vmErr
			}
			if proj.Offset == 0 || proj.Offset > n {
				return pr, t.eb.outOfBounds("index from end", proj.Offset, n)
			}
			idx = n - proj.Offset
		}
		return t.indexPlace(pr, tt, idx)
	}
	return pr, t.eb.invalidProgram("unknown projection kind %d", proj.Kind)
}

// placeLen is the element count of an array, slice or str place.
func (t *Thread) placeLen(pr placeRef, tt types.Type) (uint64, *VMError) {
	switch tt.Kind {
	case types.KindArray:
		return uint64(tt.Count), nil
	case types.KindSlice, types.KindStr:
		if !pr.hasMeta {
			return 0, t.eb.invalidProgram("unsized place without length")
		}
		return pr.meta, nil
	}
	return 0, t.eb.invalidProgram("index into %s", types.Label(t.types, pr.ty))
}

func (t *Thread) indexPlace(pr placeRef, tt types.Type, idx uint64) (placeRef, *VMError) {
	n, vmErr := t.placeLen(pr, tt)
	if vmErr != nil {
		return pr, vmErr
	}
	if idx >= n {
		return pr, t.eb.outOfBounds("index", idx, n)
	}
	elem := tt.Elem
	if tt.Kind == types.KindStr {
		elem = t.types.Builtins().U8
	}
	stride, vmErr := t.sizeOf(elem)
	if vmErr != nil {
		return pr, vmErr
	}
	off := idx * uint64(stride) //nolint:gosec // layout sizes are non-negative
	return placeRef{ptr: pr.ptr.Add(int64(off)), ty: elem}, nil //nolint:gosec // bounded by allocation size
}

func (t *Thread) readPlace(pr placeRef) (*value.Allocation, *VMError) {
	if t.types.IsUnsized(pr.ty) {
		return nil, t.eb.makeError(PanicLayout, fmt.Sprintf("cannot read unsized %s by value", types.Label(t.types, pr.ty)))
	}
	size, vmErr := t.sizeOf(pr.ty)
	if vmErr != nil {
		return nil, vmErr
	}
	return t.load(pr.ptr, size)
}

func (t *Thread) writePlace(pr placeRef, v *value.Allocation) *VMError {
	size, vmErr := t.sizeOf(pr.ty)
	if vmErr != nil {
		return vmErr
	}
	if v.Size() != size {
		return t.eb.typeMismatch("assignment to "+types.Label(t.types, pr.ty), size, v.Size())
	}
	return t.store(pr.ptr, v)
}
