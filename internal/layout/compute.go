package layout

import (
	"fortio.org/safecast"

	"miri/internal/types"
)

func (e *LayoutEngine) computeLayout(id types.TypeID, state *layoutState) (TypeLayout, *LayoutError) {
	if id == types.NoTypeID || e.Types == nil {
		return TypeLayout{Size: 0, Align: 1}, &LayoutError{Kind: LayoutErrUnknownType, Type: id}
	}
	tt, ok := e.Types.Lookup(id)
	if !ok {
		return TypeLayout{Size: 0, Align: 1}, &LayoutError{Kind: LayoutErrUnknownType, Type: id}
	}

	switch tt.Kind {
	case types.KindUnit, types.KindNever:
		return TypeLayout{Size: 0, Align: 1}, nil

	case types.KindBool:
		return TypeLayout{Size: 1, Align: 1}, nil

	case types.KindChar:
		return scalarLayoutBytes(4), nil

	case types.KindInt, types.KindUint, types.KindFloat:
		if tt.Width == types.WidthSize {
			return e.ptrLayout(), nil
		}
		return scalarLayoutBytes(int(tt.Width) / 8), nil

	case types.KindPointer, types.KindBorrow, types.KindBox:
		if e.Types.IsUnsized(tt.Elem) {
			return e.fatPtrLayout(), nil
		}
		return e.ptrLayout(), nil

	case types.KindFnPtr:
		return e.ptrLayout(), nil

	case types.KindStr, types.KindSlice:
		return TypeLayout{Size: 0, Align: 1}, &LayoutError{Kind: LayoutErrUnsized, Type: id}

	case types.KindArray:
		return e.arrayLayout(id, tt.Elem, tt.Count, state)

	case types.KindTuple:
		info, ok := e.Types.TupleInfo(id)
		if !ok {
			return TypeLayout{Size: 0, Align: 1}, &LayoutError{Kind: LayoutErrUnknownType, Type: id}
		}
		return e.sequentialLayout(info.Elems, state)

	case types.KindStruct:
		info, ok := e.Types.StructInfo(id)
		if !ok {
			return TypeLayout{Size: 0, Align: 1}, &LayoutError{Kind: LayoutErrUnknownType, Type: id}
		}
		fields := make([]types.TypeID, len(info.Fields))
		for i, f := range info.Fields {
			fields[i] = f.Type
		}
		return e.sequentialLayout(fields, state)

	case types.KindErased, types.KindGenericParam:
		return TypeLayout{Size: 0, Align: 1}, &LayoutError{Kind: LayoutErrUnresolved, Type: id}

	default:
		return TypeLayout{Size: 0, Align: 1}, &LayoutError{Kind: LayoutErrUnknownType, Type: id}
	}
}

func (e *LayoutEngine) ptrLayout() TypeLayout {
	ptrSize := e.Target.PtrSize
	ptrAlign := e.Target.PtrAlign
	if ptrSize <= 0 {
		ptrSize = 8
	}
	if ptrAlign <= 0 {
		ptrAlign = ptrSize
	}
	return TypeLayout{Size: ptrSize, Align: ptrAlign}
}

// fatPtrLayout is a data pointer followed by pointer-sized metadata.
func (e *LayoutEngine) fatPtrLayout() TypeLayout {
	p := e.ptrLayout()
	return TypeLayout{Size: 2 * p.Size, Align: p.Align}
}

func scalarLayoutBytes(size int) TypeLayout {
	if size <= 0 {
		return TypeLayout{Size: 0, Align: 1}
	}
	return TypeLayout{Size: size, Align: size}
}

func roundUp(n, align int) int {
	if align <= 1 {
		return n
	}
	r := n % align
	if r == 0 {
		return n
	}
	return n + (align - r)
}

func (e *LayoutEngine) arrayLayout(id, elem types.TypeID, length uint32, state *layoutState) (TypeLayout, *LayoutError) {
	elemLayout, err := e.layoutOf(elem, state)
	if err != nil {
		return TypeLayout{Size: 0, Align: 1}, err
	}
	elemAlign := max(elemLayout.Align, 1)
	stride := roundUp(elemLayout.Size, elemAlign)
	n, convErr := safecast.Conv[int](length)
	if convErr != nil {
		return TypeLayout{Size: 0, Align: 1}, &LayoutError{Kind: LayoutErrLengthConversion, Type: id, Err: convErr}
	}
	if stride > 0 && n > (1<<47)/stride {
		return TypeLayout{Size: 0, Align: 1}, &LayoutError{Kind: LayoutErrLengthConversion, Type: id}
	}
	return TypeLayout{
		Size:  stride * n,
		Align: elemAlign,
	}, nil
}

// sequentialLayout places fields in declaration order, each at the next
// offset satisfying its alignment.
func (e *LayoutEngine) sequentialLayout(fields []types.TypeID, state *layoutState) (TypeLayout, *LayoutError) {
	offsets := make([]int, len(fields))
	fieldTypes := make([]types.TypeID, len(fields))
	size := 0
	align := 1
	for i, f := range fields {
		fl, err := e.layoutOf(f, state)
		if err != nil {
			return TypeLayout{Size: 0, Align: 1}, err
		}
		fAlign := max(fl.Align, 1)
		size = roundUp(size, fAlign)
		offsets[i] = size
		fieldTypes[i] = f
		size += fl.Size
		align = max(align, fAlign)
	}
	size = roundUp(size, align)
	return TypeLayout{
		Size:         size,
		Align:        align,
		FieldOffsets: offsets,
		FieldTypes:   fieldTypes,
	}, nil
}
