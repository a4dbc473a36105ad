package types

import "testing"

func TestInternerBuiltins(t *testing.T) {
	in := NewInterner()
	b := in.Builtins()
	if b.Unit == NoTypeID || b.Bool == NoTypeID || b.Usize == NoTypeID {
		t.Fatalf("builtins not initialized")
	}
	unit, _ := in.Lookup(b.Unit)
	if unit.Kind != KindUnit {
		t.Fatalf("expected unit kind, got %v", unit.Kind)
	}
	if got := Label(in, b.Isize); got != "isize" {
		t.Fatalf("expected isize label, got %q", got)
	}
}

func TestInternerDeduplicatesDescriptors(t *testing.T) {
	in := NewInterner()
	elem := in.Builtins().U8
	arr1 := in.Intern(MakeArray(elem, 4))
	arr2 := in.Intern(MakeArray(elem, 4))
	if arr1 != arr2 {
		t.Fatalf("array types should be deduplicated")
	}
	tup1 := in.RegisterTuple([]TypeID{elem, arr1})
	tup2 := in.RegisterTuple([]TypeID{elem, arr2})
	if tup1 != tup2 {
		t.Fatalf("tuple types should be deduplicated")
	}
}

func TestBorrowMutabilityAffectsIdentity(t *testing.T) {
	in := NewInterner()
	elem := in.Builtins().I32
	mut := in.Intern(MakeBorrow(elem, true))
	imm := in.Intern(MakeBorrow(elem, false))
	if mut == imm {
		t.Fatalf("mutable and immutable borrows must differ")
	}
	if got := Label(in, mut); got != "&mut i32" {
		t.Fatalf("unexpected label %q", got)
	}
}

func TestStructsAreNominal(t *testing.T) {
	in := NewInterner()
	fields := []StructField{{Name: "x", Type: in.Builtins().I32}}
	a := in.RegisterStruct("A", fields)
	b := in.RegisterStruct("A", fields)
	if a == b {
		t.Fatalf("struct registrations must yield distinct ids")
	}
}

func TestNeedsDrop(t *testing.T) {
	in := NewInterner()
	b := in.Builtins()
	plain := in.RegisterStruct("Plain", []StructField{{Name: "a", Type: b.I64}})
	node := in.RegisterStruct("Node", nil)
	boxed := in.Intern(MakeBox(node))
	in.SetStructFields(node, []StructField{{Name: "next", Type: boxed}})
	withGlue := in.RegisterStruct("Guard", []StructField{{Name: "n", Type: b.U8}})
	in.SetDropGlue(withGlue, "Guard::drop")

	tests := []struct {
		name string
		id   TypeID
		want bool
	}{
		{"scalar", b.I32, false},
		{"plain struct", plain, false},
		{"box", boxed, true},
		{"recursive through box", node, true},
		{"glue", withGlue, true},
		{"tuple with glue", in.RegisterTuple([]TypeID{b.U8, withGlue}), true},
		{"empty array", in.Intern(MakeArray(withGlue, 0)), false},
		{"borrow", in.Intern(MakeBorrow(withGlue, false)), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := in.NeedsDrop(tt.id); got != tt.want {
				t.Fatalf("NeedsDrop(%s) = %v, want %v", Label(in, tt.id), got, tt.want)
			}
		})
	}
}

func TestTableRoundTrip(t *testing.T) {
	in := NewInterner()
	b := in.Builtins()
	s := in.RegisterStruct("Pair", []StructField{{Name: "a", Type: b.U32}, {Name: "b", Type: b.U64}})
	fn := in.RegisterFn([]TypeID{s}, b.Bool)
	er := in.RegisterErased("make_iter", []TypeID{b.U8}, 0)

	out, err := FromTable(in.Table())
	if err != nil {
		t.Fatalf("FromTable: %v", err)
	}
	if out.Builtins() != b {
		t.Fatalf("builtins changed across round trip")
	}
	if got := Label(out, fn); got != "fn(Pair) -> bool" {
		t.Fatalf("unexpected fn label %q", got)
	}
	info, ok := out.ErasedInfo(er)
	if !ok || info.OriginName != "make_iter" || info.Index != 0 {
		t.Fatalf("erased info lost: %+v", info)
	}
	if again := out.RegisterFn([]TypeID{s}, b.Bool); again != fn {
		t.Fatalf("fn type not deduplicated after round trip: %d vs %d", again, fn)
	}
}
