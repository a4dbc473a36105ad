package vm_test

import (
	"slices"
	"testing"

	"miri/internal/layout"
	"miri/internal/mir"
	"miri/internal/testkit"
	"miri/internal/types"
	"miri/internal/value"
	"miri/internal/vm"
)

// intrinsicCase builds main() -> result that calls the intrinsic name::<ty>
// with args and returns its value.
func intrinsicCase(name string, ty func(b types.Builtins) types.TypeID, params []types.TypeID, result types.TypeID, m *mir.Module, b types.Builtins, args ...mir.Operand) {
	arg := ty(b)
	testkit.Intrinsic(m, name, []types.TypeID{arg}, params, result)
	testkit.Func(m, mir.P("main"), nil, result, []types.TypeID{result},
		testkit.Block(testkit.Call(mir.LocalPlace(0), mir.P(name, arg), 1, args...)),
		testkit.Block(testkit.ReturnValue(mir.Copy(mir.LocalPlace(0)))),
	)
}

func TestIntrinsicSizeAndAlign(t *testing.T) {
	m, b := testkit.NewModule()
	s := m.Types.RegisterStruct("S", []types.StructField{
		{Name: "a", Type: b.U8},
		{Name: "b", Type: b.U32},
		{Name: "c", Type: b.U16},
	})
	testkit.Intrinsic(m, "size_of", []types.TypeID{s}, nil, b.Usize)
	testkit.Intrinsic(m, "align_of", []types.TypeID{s}, nil, b.Usize)
	pair := m.Types.RegisterTuple([]types.TypeID{b.Usize, b.Usize})
	testkit.Func(m, mir.P("main"), nil, pair, []types.TypeID{b.Usize, b.Usize},
		testkit.Block(testkit.Call(mir.LocalPlace(0), mir.P("size_of", s), 1)),
		testkit.Block(testkit.Call(mir.LocalPlace(1), mir.P("align_of", s), 2)),
		testkit.Block(testkit.Return(),
			testkit.Aggregate(mir.ReturnPlace(), mir.Copy(mir.LocalPlace(0)), mir.Copy(mir.LocalPlace(1)))),
	)

	eng := layout.New(m.Target, m.Types)
	size, err := eng.SizeOf(s)
	if err != nil {
		t.Fatalf("layout: %v", err)
	}
	align, err := eng.AlignOf(s)
	if err != nil {
		t.Fatalf("layout: %v", err)
	}

	th := vm.New(m, vm.Options{})
	runEntry(t, th, "main")
	if got := returnedUint(t, th, 0, 8); got != uint64(size) { //nolint:gosec // sizes are non-negative
		t.Fatalf("size_of = %d, layout says %d", got, size)
	}
	if got := returnedUint(t, th, 8, 8); got != uint64(align) { //nolint:gosec // alignments are positive
		t.Fatalf("align_of = %d, layout says %d", got, align)
	}
}

func TestIntrinsicIntegerOps(t *testing.T) {
	u8 := func(b types.Builtins) types.TypeID { return b.U8 }
	u16 := func(b types.Builtins) types.TypeID { return b.U16 }
	u32 := func(b types.Builtins) types.TypeID { return b.U32 }

	tests := []struct {
		name string
		ty   func(types.Builtins) types.TypeID
		size int
		args []uint64
		want uint64
	}{
		{name: "ctpop", ty: u8, size: 1, args: []uint64{0xf1}, want: 5},
		{name: "ctlz", ty: u16, size: 2, args: []uint64{0x0100}, want: 7},
		{name: "ctlz", ty: u8, size: 1, args: []uint64{0}, want: 8},
		{name: "cttz", ty: u32, size: 4, args: []uint64{0x80}, want: 7},
		{name: "cttz", ty: u32, size: 4, args: []uint64{0}, want: 32},
		{name: "bswap", ty: u32, size: 4, args: []uint64{0x11223344}, want: 0x44332211},
		{name: "rotate_left", ty: u8, size: 1, args: []uint64{0x81, 1}, want: 0x03},
		{name: "rotate_right", ty: u8, size: 1, args: []uint64{0x81, 1}, want: 0xc0},
		{name: "rotate_left", ty: u16, size: 2, args: []uint64{0x1234, 16}, want: 0x1234},
		{name: "wrapping_add", ty: u8, size: 1, args: []uint64{250, 10}, want: 4},
		{name: "wrapping_sub", ty: u8, size: 1, args: []uint64{3, 5}, want: 254},
		{name: "wrapping_mul", ty: u16, size: 2, args: []uint64{300, 300}, want: 90000 % 65536},
		{name: "exact_div", ty: u32, size: 4, args: []uint64{42, 6}, want: 7},
		{name: "unchecked_rem", ty: u32, size: 4, args: []uint64{43, 6}, want: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, b := testkit.NewModule()
			ty := tt.ty(b)
			params := make([]types.TypeID, len(tt.args))
			args := make([]mir.Operand, len(tt.args))
			for i, a := range tt.args {
				params[i] = ty
				if i == 1 && (tt.name == "rotate_left" || tt.name == "rotate_right") {
					params[i] = b.U32
				}
				args[i] = mir.UintConst(params[i], a)
			}
			intrinsicCase(tt.name, tt.ty, params, ty, m, b, args...)
			th := vm.New(m, vm.Options{})
			runEntry(t, th, "main")
			if got := returnedUint(t, th, 0, tt.size); got != tt.want {
				t.Fatalf("%s%v = %#x, want %#x", tt.name, tt.args, got, tt.want)
			}
		})
	}
}

func TestIntrinsicAddWithOverflow(t *testing.T) {
	m, b := testkit.NewModule()
	pair := m.Types.RegisterTuple([]types.TypeID{b.U8, b.Bool})
	intrinsicCase("add_with_overflow", func(b types.Builtins) types.TypeID { return b.U8 },
		[]types.TypeID{b.U8, b.U8}, pair, m, b,
		mir.UintConst(b.U8, 200), mir.UintConst(b.U8, 100))
	th := vm.New(m, vm.Options{})
	runEntry(t, th, "main")
	if got := returnedUint(t, th, 0, 1); got != 44 {
		t.Fatalf("expected wrapped 44, got %d", got)
	}
	if got := returnedUint(t, th, 1, 1); got != 1 {
		t.Fatalf("expected the overflow flag, got %d", got)
	}
}

func TestIntrinsicArithmeticErrors(t *testing.T) {
	tests := []struct {
		name string
		args []uint64
	}{
		{name: "exact_div", args: []uint64{7, 2}},
		{name: "unchecked_div", args: []uint64{7, 0}},
		{name: "unchecked_rem", args: []uint64{7, 0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, b := testkit.NewModule()
			intrinsicCase(tt.name, func(b types.Builtins) types.TypeID { return b.U32 },
				[]types.TypeID{b.U32, b.U32}, b.U32, m, b,
				mir.UintConst(b.U32, tt.args[0]), mir.UintConst(b.U32, tt.args[1]))
			th := vm.New(m, vm.Options{})
			if vmErr := runUntilFatal(t, th, "main"); vmErr.Code != vm.PanicArithmetic {
				t.Fatalf("expected %s, got %v", vm.PanicArithmetic, vmErr)
			}
		})
	}
}

func TestIntrinsicAtomics(t *testing.T) {
	m, b := testkit.NewModule()
	u32Ptr := m.Types.Intern(types.MakePointer(b.U32, true))
	pair := m.Types.RegisterTuple([]types.TypeID{b.U32, b.Bool})
	u32 := []types.TypeID{b.U32}
	testkit.Intrinsic(m, "atomic_xadd_seqcst", u32, []types.TypeID{u32Ptr, b.U32}, b.U32)
	testkit.Intrinsic(m, "atomic_cxchg_acqrel", u32, []types.TypeID{u32Ptr, b.U32, b.U32}, pair)
	testkit.Intrinsic(m, "atomic_load_relaxed", u32, []types.TypeID{u32Ptr}, b.U32)

	// _0 cell, _1 &cell, _2 old from xadd, _3 failed cxchg, _4 good cxchg, _5 final load
	out := m.Types.RegisterTuple([]types.TypeID{b.U32, b.Bool, b.U32})
	testkit.Func(m, mir.P("main"), nil, out, []types.TypeID{b.U32, u32Ptr, b.U32, pair, pair, b.U32},
		testkit.Block(
			testkit.Call(mir.LocalPlace(2), mir.P("atomic_xadd_seqcst", b.U32), 1,
				mir.Copy(mir.LocalPlace(1)), mir.UintConst(b.U32, 5)),
			mir.Assign(mir.LocalPlace(0), mir.Use(mir.UintConst(b.U32, 10))),
			testkit.AddrOf(mir.LocalPlace(1), mir.LocalPlace(0)),
		),
		testkit.Block(testkit.Call(mir.LocalPlace(3), mir.P("atomic_cxchg_acqrel", b.U32), 2,
			mir.Copy(mir.LocalPlace(1)), mir.UintConst(b.U32, 10), mir.UintConst(b.U32, 99))),
		testkit.Block(testkit.Call(mir.LocalPlace(4), mir.P("atomic_cxchg_acqrel", b.U32), 3,
			mir.Copy(mir.LocalPlace(1)), mir.UintConst(b.U32, 15), mir.UintConst(b.U32, 20))),
		testkit.Block(testkit.Call(mir.LocalPlace(5), mir.P("atomic_load_relaxed", b.U32), 4,
			mir.Copy(mir.LocalPlace(1)))),
		testkit.Block(testkit.Return(),
			testkit.Aggregate(mir.ReturnPlace(),
				mir.Copy(mir.LocalPlace(2)),
				mir.Copy(mir.LocalPlace(3).Field(1)),
				mir.Copy(mir.LocalPlace(5)),
			),
		),
	)
	l, err := layout.New(m.Target, m.Types).LayoutOf(out)
	if err != nil {
		t.Fatalf("layout: %v", err)
	}
	th := vm.New(m, vm.Options{})
	runEntry(t, th, "main")
	offs := l.FieldOffsets
	got := []uint64{returnedUint(t, th, offs[0], 4), returnedUint(t, th, offs[1], 1), returnedUint(t, th, offs[2], 4)}
	if want := []uint64{10, 0, 20}; !slices.Equal(got, want) {
		t.Fatalf("got %v, want %v (old value, failed exchange flag, final)", got, want)
	}
}

func TestIntrinsicDropInPlace(t *testing.T) {
	gm := newGuardModule()
	guardPtr := gm.m.Types.Intern(types.MakePointer(gm.guard, true))
	testkit.Intrinsic(gm.m, "drop_in_place", []types.TypeID{gm.guard}, []types.TypeID{guardPtr}, gm.b.Unit)
	testkit.Func(gm.m, mir.P("main"), nil, gm.b.Unit, []types.TypeID{gm.guard, guardPtr},
		testkit.Block(
			testkit.CallVoid(mir.P("drop_in_place", gm.guard), 1, mir.Copy(mir.LocalPlace(1))),
			gm.newGuard(mir.LocalPlace(0), 1),
			testkit.AddrOf(mir.LocalPlace(1), mir.LocalPlace(0)),
		),
		testkit.Block(testkit.Return(),
			mir.Instr{Kind: mir.InstrSetDropFlag, SetDropFlag: mir.SetDropFlagInstr{Place: mir.LocalPlace(0), Value: false}},
		),
	)
	th := gm.thread(vm.Options{})
	runEntry(t, th, "main")
	if want := []uint64{1}; !slices.Equal(gm.dropped, want) {
		t.Fatalf("dropped %v, want %v", gm.dropped, want)
	}
}

func TestIntrinsicTransmuteSizeMismatch(t *testing.T) {
	m, b := testkit.NewModule()
	intrinsicCase("transmute", func(b types.Builtins) types.TypeID { return b.U32 },
		[]types.TypeID{b.U32}, b.U64, m, b, mir.UintConst(b.U32, 1))
	th := vm.New(m, vm.Options{})
	if vmErr := runUntilFatal(t, th, "main"); vmErr.Code != vm.PanicTypeMismatch {
		t.Fatalf("expected %s, got %v", vm.PanicTypeMismatch, vmErr)
	}
}

func TestIntrinsicOffsetBounds(t *testing.T) {
	m, b := testkit.NewModule()
	th := vm.New(m, vm.Options{})
	p := th.Alloc(4, 1)
	if p.Add(4).Offset != 4 || !p.Add(4).SameBase(p) {
		t.Fatalf("pointer arithmetic lost its base")
	}

	u8Ptr := m.Types.Intern(types.MakePointer(b.U8, true))
	testkit.Intrinsic(m, "offset", []types.TypeID{b.U8}, []types.TypeID{u8Ptr, b.Isize}, u8Ptr)
	testkit.Func(m, mir.P("main"), []types.TypeID{u8Ptr}, u8Ptr, []types.TypeID{u8Ptr},
		testkit.Block(testkit.Call(mir.LocalPlace(0), mir.P("offset", b.U8), 1,
			mir.Copy(mir.ArgPlace(0)), mir.IntConst(b.Isize, 5))),
		testkit.Block(testkit.ReturnValue(mir.Copy(mir.LocalPlace(0)))),
	)
	arg := value.NewAllocation(8, 8)
	if err := arg.WritePointer(0, 8, p); err != nil {
		t.Fatalf("write arg: %v", err)
	}
	if vmErr := th.Start(mir.P("main"), []*value.Allocation{arg}); vmErr != nil {
		t.Fatalf("start: %v", vmErr)
	}
	for range 100 {
		done, vmErr := th.StepOne()
		if vmErr != nil {
			if vmErr.Code != vm.PanicInvalidAccess {
				t.Fatalf("expected %s, got %v", vm.PanicInvalidAccess, vmErr)
			}
			return
		}
		if done {
			t.Fatalf("offset past the end was accepted")
		}
	}
	t.Fatalf("thread still running")
}
