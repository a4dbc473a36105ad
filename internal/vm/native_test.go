package vm_test

import (
	"bytes"
	"slices"
	"testing"

	"miri/internal/mir"
	"miri/internal/testkit"
	"miri/internal/types"
	"miri/internal/value"
	"miri/internal/vm"
)

// catchModule declares __rust_maybe_catch_panic and an entry calling it on
// body. The entry returns (result, vtable word).
func catchModule(body func(m *mir.Module, b types.Builtins) mir.Terminator) *mir.Module {
	m, b := testkit.NewModule()
	u8Ptr := m.Types.Intern(types.MakePointer(b.U8, true))
	usizePtr := m.Types.Intern(types.MakePointer(b.Usize, true))
	fnTy := m.Types.RegisterFn([]types.TypeID{u8Ptr}, b.Unit)
	pair := m.Types.RegisterTuple([]types.TypeID{b.U32, b.Usize})

	testkit.Extern(m, "__rust_maybe_catch_panic", []types.TypeID{fnTy, u8Ptr, usizePtr, usizePtr}, b.U32)
	testkit.Func(m, mir.P("body"), []types.TypeID{u8Ptr}, b.Unit, nil, testkit.Block(body(m, b)))
	testkit.Func(m, mir.P("main"), nil, pair, []types.TypeID{b.Usize, b.Usize, usizePtr, usizePtr, b.U32},
		testkit.Block(
			testkit.Call(mir.LocalPlace(4), mir.P("__rust_maybe_catch_panic"), 1,
				mir.FnConst(fnTy, mir.P("body")),
				mir.UintConst(u8Ptr, 0),
				mir.Copy(mir.LocalPlace(2)),
				mir.Copy(mir.LocalPlace(3)),
			),
			testkit.AddrOf(mir.LocalPlace(2), mir.LocalPlace(0)),
			testkit.AddrOf(mir.LocalPlace(3), mir.LocalPlace(1)),
		),
		testkit.Block(testkit.Return(),
			testkit.Aggregate(mir.ReturnPlace(), mir.Copy(mir.LocalPlace(4)), mir.Copy(mir.LocalPlace(1))),
		),
	)
	return m
}

func TestNativeMaybeCatchPanic(t *testing.T) {
	t.Run("returns", func(t *testing.T) {
		m := catchModule(func(*mir.Module, types.Builtins) mir.Terminator { return testkit.Return() })
		th := vm.New(m, vm.Options{})
		runEntry(t, th, "main")
		if got := returnedUint(t, th, 0, 4); got != 0 {
			t.Fatalf("expected 0, got %d", got)
		}
		if th.State().PanicCount != 0 {
			t.Fatalf("unexpected panic count %d", th.State().PanicCount)
		}
	})

	t.Run("panics", func(t *testing.T) {
		m := catchModule(func(m *mir.Module, b types.Builtins) mir.Terminator {
			return testkit.Panic(m.Types.Intern(types.MakeBorrow(b.Str, false)), "inside")
		})
		th := vm.New(m, vm.Options{})
		runEntry(t, th, "main")
		if got := returnedUint(t, th, 0, 4); got != 1 {
			t.Fatalf("expected 1, got %d", got)
		}
		if got := returnedUint(t, th, 8, 8); got != uint64(len("inside")) {
			t.Fatalf("expected the payload length in the vtable word, got %d", got)
		}
		st := th.State()
		if st.PanicActive || st.PanicCount != 1 {
			t.Fatalf("panic state count=%d active=%v", st.PanicCount, st.PanicActive)
		}
	})
}

func TestNativeWrite(t *testing.T) {
	m, b := testkit.NewModule()
	strRef := m.Types.Intern(types.MakeBorrow(b.Str, false))
	u8Ptr := m.Types.Intern(types.MakePointer(b.U8, false))
	testkit.Extern(m, "write", []types.TypeID{b.I32, u8Ptr, b.Usize}, b.Isize)
	testkit.Func(m, mir.P("main"), nil, b.Isize, []types.TypeID{strRef, u8Ptr, b.Usize, b.Isize},
		testkit.Block(
			testkit.Call(mir.LocalPlace(3), mir.P("write"), 1,
				mir.IntConst(b.I32, 1), mir.Copy(mir.LocalPlace(1)), mir.Copy(mir.LocalPlace(2))),
			mir.Assign(mir.LocalPlace(0), mir.Use(testkit.Str(strRef, "hello\n"))),
			mir.Assign(mir.LocalPlace(1), mir.RValue{Kind: mir.RValueFatPtr, MakeFat: mir.MakeFat{Ptr: mir.Copy(mir.LocalPlace(0))}}),
			mir.Assign(mir.LocalPlace(2), mir.RValue{Kind: mir.RValueFatMeta, MakeFat: mir.MakeFat{Ptr: mir.Copy(mir.LocalPlace(0))}}),
		),
		testkit.Block(testkit.ReturnValue(mir.Copy(mir.LocalPlace(3)))),
	)

	var stdout bytes.Buffer
	th := vm.New(m, vm.Options{Stdout: &stdout})
	runEntry(t, th, "main")
	if got := returnedUint(t, th, 0, 8); got != 6 {
		t.Fatalf("write returned %d, want 6", got)
	}
	if stdout.String() != "hello\n" {
		t.Fatalf("stdout %q", stdout.String())
	}
}

func TestNativeAllocAndDealloc(t *testing.T) {
	m, b := testkit.NewModule()
	u8Ptr := m.Types.Intern(types.MakePointer(b.U8, true))
	u64Ptr := m.Types.Intern(types.MakePointer(b.U64, true))
	testkit.Extern(m, "__rust_alloc", []types.TypeID{b.Usize, b.Usize}, u8Ptr)
	testkit.Extern(m, "__rust_dealloc", []types.TypeID{u8Ptr, b.Usize, b.Usize}, b.Unit)
	testkit.Func(m, mir.P("main"), nil, b.U64, []types.TypeID{u8Ptr, u64Ptr, b.U64},
		testkit.Block(testkit.Call(mir.LocalPlace(0), mir.P("__rust_alloc"), 1,
			mir.UintConst(b.Usize, 8), mir.UintConst(b.Usize, 8))),
		testkit.Block(
			testkit.CallVoid(mir.P("__rust_dealloc"), 2,
				mir.Copy(mir.LocalPlace(0)), mir.UintConst(b.Usize, 8), mir.UintConst(b.Usize, 8)),
			testkit.Cast(mir.LocalPlace(1), mir.Copy(mir.LocalPlace(0)), u64Ptr),
			mir.Assign(mir.LocalPlace(1).Deref(), mir.Use(mir.UintConst(b.U64, 77))),
			mir.Assign(mir.LocalPlace(2), mir.Use(mir.Copy(mir.LocalPlace(1).Deref()))),
		),
		testkit.Block(testkit.ReturnValue(mir.Copy(mir.LocalPlace(2)))),
	)
	th := vm.New(m, vm.Options{})
	runEntry(t, th, "main")
	if got := returnedUint(t, th, 0, 8); got != 77 {
		t.Fatalf("expected 77, got %d", got)
	}
}

func TestNativeUseAfterFreeIsFatal(t *testing.T) {
	m, b := testkit.NewModule()
	u8Ptr := m.Types.Intern(types.MakePointer(b.U8, true))
	testkit.Extern(m, "malloc", []types.TypeID{b.Usize}, u8Ptr)
	testkit.Extern(m, "free", []types.TypeID{u8Ptr}, b.Unit)
	testkit.Func(m, mir.P("main"), nil, b.U8, []types.TypeID{u8Ptr},
		testkit.Block(testkit.Call(mir.LocalPlace(0), mir.P("malloc"), 1, mir.UintConst(b.Usize, 1))),
		testkit.Block(testkit.CallVoid(mir.P("free"), 2, mir.Copy(mir.LocalPlace(0)))),
		testkit.Block(testkit.ReturnValue(mir.Copy(mir.LocalPlace(0).Deref()))),
	)
	th := vm.New(m, vm.Options{})
	if vmErr := runUntilFatal(t, th, "main"); vmErr.Code != vm.PanicUseAfterFree {
		t.Fatalf("expected %s, got %v", vm.PanicUseAfterFree, vmErr)
	}
}

func TestNativeThreadLocals(t *testing.T) {
	m, b := testkit.NewModule()
	u32Ptr := m.Types.Intern(types.MakePointer(b.U32, true))
	u8Ptr := m.Types.Intern(types.MakePointer(b.U8, true))
	testkit.Extern(m, "pthread_key_create", []types.TypeID{u32Ptr, u8Ptr}, b.I32)
	testkit.Extern(m, "pthread_setspecific", []types.TypeID{b.U32, u8Ptr}, b.I32)
	testkit.Extern(m, "pthread_getspecific", []types.TypeID{b.U32}, u8Ptr)
	testkit.Func(m, mir.P("main"), nil, b.U8, []types.TypeID{b.U32, u32Ptr, b.I32, u8Ptr, u8Ptr, b.U8},
		testkit.Block(
			testkit.Call(mir.LocalPlace(2), mir.P("pthread_key_create"), 1, mir.Copy(mir.LocalPlace(1)), mir.UintConst(u8Ptr, 0)),
			testkit.AddrOf(mir.LocalPlace(1), mir.LocalPlace(0)),
		),
		testkit.Block(
			testkit.Call(mir.LocalPlace(2), mir.P("pthread_setspecific"), 2, mir.Copy(mir.LocalPlace(0)), mir.Copy(mir.LocalPlace(3))),
			mir.Assign(mir.LocalPlace(5), mir.Use(mir.UintConst(b.U8, 0x5a))),
			testkit.AddrOf(mir.LocalPlace(3), mir.LocalPlace(5)),
		),
		testkit.Block(testkit.Call(mir.LocalPlace(4), mir.P("pthread_getspecific"), 3, mir.Copy(mir.LocalPlace(0)))),
		testkit.Block(testkit.ReturnValue(mir.Copy(mir.LocalPlace(4).Deref()))),
	)
	th := vm.New(m, vm.Options{})
	runEntry(t, th, "main")
	if got := returnedUint(t, th, 0, 1); got != 0x5a {
		t.Fatalf("expected the stored slot to read back 0x5a, got %#x", got)
	}
}

// TestNativeWrapperContinuation runs a native that calls back into
// interpreted code twice: the first resume pushes another callback and stays,
// the second completes the native call with the callback's result.
func TestNativeWrapperContinuation(t *testing.T) {
	m, b := testkit.NewModule()
	testkit.Extern(m, "twice_doubled", []types.TypeID{b.U32}, b.U32)
	testkit.Func(m, mir.P("double"), []types.TypeID{b.U32}, b.U32, []types.TypeID{b.U32},
		testkit.Block(testkit.ReturnValue(mir.Copy(mir.LocalPlace(0))),
			testkit.Binary(mir.LocalPlace(0), mir.BinMul, mir.Copy(mir.ArgPlace(0)), mir.UintConst(b.U32, 2), false),
		),
	)
	testkit.Func(m, mir.P("main"), nil, b.U32, []types.TypeID{b.U32},
		testkit.Block(testkit.Call(mir.LocalPlace(0), mir.P("twice_doubled"), 1, mir.UintConst(b.U32, 10))),
		testkit.Block(testkit.ReturnValue(mir.Copy(mir.LocalPlace(0)))),
	)

	var seen []uint64
	natives := vm.DefaultNatives()
	natives.Register("twice_doubled", func(th *vm.Thread, c *vm.NativeCall) (*value.Allocation, *vm.VMError) {
		resume := func(th *vm.Thread, result *value.Allocation) (bool, *value.Allocation, *vm.VMError) {
			u, err := result.ReadUint(0, 4)
			if err != nil {
				t.Fatalf("read callback result: %v", err)
			}
			seen = append(seen, u)
			if len(seen) == 1 {
				return false, nil, th.CallPath(mir.P("double"), []*value.Allocation{result.Clone()})
			}
			return true, th.ResultUint(c, u*2), nil
		}
		if vmErr := th.PushWrapper(resume, nil); vmErr != nil {
			return nil, vmErr
		}
		return nil, th.CallPath(mir.P("double"), []*value.Allocation{th.Arg(c, 0).Clone()})
	})

	th := vm.New(m, vm.Options{Natives: natives})
	runEntry(t, th, "main")
	if got := returnedUint(t, th, 0, 4); got != 80 {
		t.Fatalf("expected 80, got %d", got)
	}
	if want := []uint64{20, 40}; !slices.Equal(seen, want) {
		t.Fatalf("callback results %v, want %v", seen, want)
	}
	if th.Depth() != 0 || th.State().CallStackDepth() != 0 {
		t.Fatalf("stack not released: depth=%d guards=%d", th.Depth(), th.State().CallStackDepth())
	}
}
