package layout_test

import (
	"errors"
	"testing"

	"miri/internal/layout"
	"miri/internal/types"
)

func TestLayoutEngine_Scalars(t *testing.T) {
	in := types.NewInterner()
	b := in.Builtins()
	le := layout.New(layout.X86_64LinuxGNU(), in)

	tests := []struct {
		name  string
		id    types.TypeID
		size  int
		align int
	}{
		{"bool", b.Bool, 1, 1},
		{"u8", b.U8, 1, 1},
		{"i32", b.I32, 4, 4},
		{"u64", b.U64, 8, 8},
		{"usize", b.Usize, 8, 8},
		{"char", b.Char, 4, 4},
		{"unit", b.Unit, 0, 1},
		{"ref", in.Intern(types.MakeBorrow(b.U8, false)), 8, 8},
		{"str ref", in.Intern(types.MakeBorrow(b.Str, false)), 16, 8},
		{"array", in.Intern(types.MakeArray(b.U16, 5)), 10, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, err := le.LayoutOf(tt.id)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if l.Size != tt.size || l.Align != tt.align {
				t.Fatalf("got size=%d align=%d, want size=%d align=%d", l.Size, l.Align, tt.size, tt.align)
			}
		})
	}
}

func TestLayoutEngine_StructPaddingAndOffsets(t *testing.T) {
	in := types.NewInterner()
	b := in.Builtins()
	s := in.RegisterStruct("S", []types.StructField{
		{Name: "a", Type: b.U8},
		{Name: "b", Type: b.U32},
		{Name: "c", Type: b.U16},
	})
	le := layout.New(layout.X86_64LinuxGNU(), in)
	l, err := le.LayoutOf(s)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if l.Size != 12 || l.Align != 4 {
		t.Fatalf("got size=%d align=%d, want 12/4", l.Size, l.Align)
	}
	want := []int{0, 4, 8}
	for i, off := range want {
		if l.FieldOffsets[i] != off {
			t.Fatalf("field %d offset=%d, want %d", i, l.FieldOffsets[i], off)
		}
	}
	off, ty, err := le.FieldOffset(s, 2)
	if err != nil || off != 8 || ty != b.U16 {
		t.Fatalf("FieldOffset(2) = %d, type#%d, %v", off, ty, err)
	}
	if _, _, err := le.FieldOffset(s, 3); err == nil {
		t.Fatal("expected field index error")
	}
}

func TestLayoutEngine_PointerWidthFollowsTarget(t *testing.T) {
	in := types.NewInterner()
	le := layout.New(layout.I686LinuxGNU(), in)
	size, err := le.SizeOf(in.Builtins().Usize)
	if err != nil || size != 4 {
		t.Fatalf("usize on i686 = %d, %v", size, err)
	}
}

func TestLayoutEngine_RecursiveStructReportsCycle(t *testing.T) {
	in := types.NewInterner()
	node := in.RegisterStruct("Node", nil)
	in.SetStructFields(node, []types.StructField{{Name: "next", Type: node}})

	le := layout.New(layout.X86_64LinuxGNU(), in)
	_, err := le.LayoutOf(node)
	if err == nil {
		t.Fatal("expected recursive layout error, got nil")
	}
	var lerr *layout.LayoutError
	if !errors.As(err, &lerr) {
		t.Fatalf("expected *layout.LayoutError, got %T (%v)", err, err)
	}
	if lerr.Kind != layout.LayoutErrRecursiveUnsized {
		t.Fatalf("expected LayoutErrRecursiveUnsized, got kind=%d (%v)", lerr.Kind, lerr)
	}
	if len(lerr.Cycle) != 2 {
		t.Fatalf("expected cycle of length 2, got %+v", lerr.Cycle)
	}
}

func TestLayoutEngine_RecursionThroughBoxIsSized(t *testing.T) {
	in := types.NewInterner()
	node := in.RegisterStruct("List", nil)
	in.SetStructFields(node, []types.StructField{
		{Name: "val", Type: in.Builtins().I64},
		{Name: "next", Type: in.Intern(types.MakeBox(node))},
	})
	le := layout.New(layout.X86_64LinuxGNU(), in)
	size, err := le.SizeOf(node)
	if err != nil || size != 16 {
		t.Fatalf("SizeOf(List) = %d, %v", size, err)
	}
}

func TestLayoutEngine_UnresolvedTypes(t *testing.T) {
	in := types.NewInterner()
	le := layout.New(layout.X86_64LinuxGNU(), in)
	for _, id := range []types.TypeID{
		in.RegisterErased("f", nil, 0),
		in.Intern(types.MakeGenericParam(0)),
		in.Builtins().Str,
	} {
		if _, err := le.LayoutOf(id); err == nil {
			t.Fatalf("expected error for %s", types.Label(in, id))
		}
	}
}
