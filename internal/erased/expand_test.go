package erased_test

import (
	"errors"
	"testing"

	"miri/internal/erased"
	"miri/internal/layout"
	"miri/internal/mir"
	"miri/internal/types"
)

func unitReturn() []mir.Block {
	return []mir.Block{{Term: mir.Terminator{Kind: mir.TermReturn}}}
}

func TestExpand_SubstitutesOriginGenerics(t *testing.T) {
	in := types.NewInterner()
	b := in.Builtins()
	m := mir.NewModule(layout.X86_64LinuxGNU(), in)

	// fn make_iter<T>() -> impl Trait  with template Box<T>
	t0 := in.Intern(types.MakeGenericParam(0))
	m.AddFunc(&mir.Func{
		Path:        mir.P("make_iter"),
		Result:      b.Unit,
		Blocks:      unitReturn(),
		ErasedTypes: []types.TypeID{in.Intern(types.MakeBox(t0))},
	})

	opaque := in.RegisterErased("make_iter", []types.TypeID{b.U32}, 0)
	user := m.AddFunc(&mir.Func{
		Path:   mir.P("user"),
		Result: b.Unit,
		Locals: []mir.Local{{Type: opaque}, {Type: in.Intern(types.MakeBorrow(opaque, false))}},
		Blocks: unitReturn(),
	})

	if err := erased.Expand(m); err != nil {
		t.Fatalf("Expand: %v", err)
	}
	boxU32 := in.Intern(types.MakeBox(b.U32))
	if user.Locals[0].Type != boxU32 {
		t.Fatalf("local 0 = %s, want Box<u32>", types.Label(in, user.Locals[0].Type))
	}
	if user.Locals[1].Type != in.Intern(types.MakeBorrow(boxU32, false)) {
		t.Fatalf("local 1 = %s, want &Box<u32>", types.Label(in, user.Locals[1].Type))
	}
	if err := mir.Validate(m); err != nil {
		t.Fatalf("module should validate after expansion: %v", err)
	}
}

func TestExpand_NestedTemplates(t *testing.T) {
	in := types.NewInterner()
	b := in.Builtins()
	m := mir.NewModule(layout.X86_64LinuxGNU(), in)

	inner := in.RegisterErased("inner", nil, 0)
	m.AddFunc(&mir.Func{Path: mir.P("inner"), Result: b.Unit, Blocks: unitReturn(),
		ErasedTypes: []types.TypeID{b.I64}})
	m.AddFunc(&mir.Func{Path: mir.P("outer"), Result: b.Unit, Blocks: unitReturn(),
		ErasedTypes: []types.TypeID{in.RegisterTuple([]types.TypeID{inner, b.Bool})}})

	got, err := erased.Resolve(m, in.RegisterErased("outer", nil, 0))
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if want := in.RegisterTuple([]types.TypeID{b.I64, b.Bool}); got != want {
		t.Fatalf("got %s, want (i64, bool)", types.Label(in, got))
	}
}

func TestExpand_Errors(t *testing.T) {
	tests := []struct {
		name  string
		setup func(m *mir.Module, in *types.Interner) types.TypeID
		kind  erased.ErrorKind
	}{
		{
			name: "cycle",
			setup: func(m *mir.Module, in *types.Interner) types.TypeID {
				self := in.RegisterErased("loop", nil, 0)
				m.AddFunc(&mir.Func{Path: mir.P("loop"), Result: in.Builtins().Unit, Blocks: unitReturn(),
					ErasedTypes: []types.TypeID{in.Intern(types.MakeBox(self))}})
				return self
			},
			kind: erased.ErrCycle,
		},
		{
			name: "mutual_cycle",
			setup: func(m *mir.Module, in *types.Interner) types.TypeID {
				a := in.RegisterErased("a", nil, 0)
				bb := in.RegisterErased("b", nil, 0)
				m.AddFunc(&mir.Func{Path: mir.P("a"), Result: in.Builtins().Unit, Blocks: unitReturn(),
					ErasedTypes: []types.TypeID{bb}})
				m.AddFunc(&mir.Func{Path: mir.P("b"), Result: in.Builtins().Unit, Blocks: unitReturn(),
					ErasedTypes: []types.TypeID{in.Intern(types.MakeSlice(a))}})
				return a
			},
			kind: erased.ErrCycle,
		},
		{
			name: "growing_cycle",
			setup: func(m *mir.Module, in *types.Interner) types.TypeID {
				// fn grow<T>() with template Box<grow::<Box<T>>#0>
				boxT := in.Intern(types.MakeBox(in.Intern(types.MakeGenericParam(0))))
				next := in.RegisterErased("grow", []types.TypeID{boxT}, 0)
				m.AddFunc(&mir.Func{Path: mir.P("grow"), Result: in.Builtins().Unit, Blocks: unitReturn(),
					ErasedTypes: []types.TypeID{in.Intern(types.MakeBox(next))}})
				return in.RegisterErased("grow", []types.TypeID{in.Builtins().U8}, 0)
			},
			kind: erased.ErrCycle,
		},
		{
			name: "index_out_of_range",
			setup: func(m *mir.Module, in *types.Interner) types.TypeID {
				m.AddFunc(&mir.Func{Path: mir.P("f"), Result: in.Builtins().Unit, Blocks: unitReturn()})
				return in.RegisterErased("f", nil, 2)
			},
			kind: erased.ErrIndexOutOfRange,
		},
		{
			name: "generic_out_of_range",
			setup: func(m *mir.Module, in *types.Interner) types.TypeID {
				m.AddFunc(&mir.Func{Path: mir.P("g"), Result: in.Builtins().Unit, Blocks: unitReturn(),
					ErasedTypes: []types.TypeID{in.Intern(types.MakeGenericParam(3))}})
				return in.RegisterErased("g", []types.TypeID{in.Builtins().U8}, 0)
			},
			kind: erased.ErrGenericOutOfRange,
		},
		{
			name: "unresolved_origin",
			setup: func(_ *mir.Module, in *types.Interner) types.TypeID {
				return in.RegisterErased("missing", nil, 0)
			},
			kind: erased.ErrUnresolvedOrigin,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := types.NewInterner()
			m := mir.NewModule(layout.X86_64LinuxGNU(), in)
			id := tt.setup(m, in)
			m.AddFunc(&mir.Func{Path: mir.P("user"), Result: in.Builtins().Unit,
				Locals: []mir.Local{{Type: id}}, Blocks: unitReturn()})

			err := erased.Expand(m)
			var eerr *erased.Error
			if !errors.As(err, &eerr) {
				t.Fatalf("expected *erased.Error, got %v", err)
			}
			if eerr.Kind != tt.kind {
				t.Fatalf("kind = %d, want %d (%v)", eerr.Kind, tt.kind, eerr)
			}
		})
	}
}

func TestExpand_RekeysFunctions(t *testing.T) {
	in := types.NewInterner()
	b := in.Builtins()
	m := mir.NewModule(layout.X86_64LinuxGNU(), in)
	m.AddFunc(&mir.Func{Path: mir.P("origin"), Result: b.Unit, Blocks: unitReturn(),
		ErasedTypes: []types.TypeID{b.U16}})
	opaque := in.RegisterErased("origin", nil, 0)
	m.AddFunc(&mir.Func{Path: mir.P("consume", opaque), Result: b.Unit, Blocks: unitReturn()})

	if err := erased.Expand(m); err != nil {
		t.Fatal(err)
	}
	if m.Function(mir.P("consume", b.U16)) == nil {
		t.Fatal("consume::<u16> not found after expansion")
	}
	if m.Function(mir.P("consume", opaque)) != nil {
		t.Fatal("stale key for consume still present")
	}
}
