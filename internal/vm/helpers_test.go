package vm_test

import (
	"testing"

	"miri/internal/mir"
	"miri/internal/testkit"
	"miri/internal/types"
	"miri/internal/value"
	"miri/internal/vm"
)

// guardModule is a module with a Guard struct whose drop glue reports the
// guard's id to the "record" native.
type guardModule struct {
	m       *mir.Module
	b       types.Builtins
	guard   types.TypeID
	strRef  types.TypeID
	natives *vm.Natives
	dropped []uint64
}

func newGuardModule() *guardModule {
	m, b := testkit.NewModule()
	gm := &guardModule{m: m, b: b}
	gm.strRef = m.Types.Intern(types.MakeBorrow(b.Str, false))
	gm.guard = m.Types.RegisterStruct("Guard", []types.StructField{{Name: "id", Type: b.U32}})
	guardRef := m.Types.Intern(types.MakeBorrow(gm.guard, true))
	m.Types.SetDropGlue(gm.guard, mir.P("Guard::drop").Key())

	testkit.Func(m, mir.P("Guard::drop"), []types.TypeID{guardRef}, b.Unit, nil,
		testkit.Block(testkit.CallVoid(mir.P("record"), 1, mir.Copy(mir.ArgPlace(0).Deref().Field(0)))),
		testkit.Block(testkit.Return()),
	)
	testkit.Extern(m, "record", []types.TypeID{b.U32}, b.Unit)

	gm.natives = vm.DefaultNatives()
	gm.natives.Register("record", func(th *vm.Thread, c *vm.NativeCall) (*value.Allocation, *vm.VMError) {
		gm.dropped = append(gm.dropped, th.ArgUint(c, 0))
		return th.ResultUint(c, 0), nil
	})
	return gm
}

// newGuard assigns Guard{id} to dst.
func (gm *guardModule) newGuard(dst mir.Place, id uint64) mir.Instr {
	return testkit.Aggregate(dst, mir.UintConst(gm.b.U32, id))
}

func (gm *guardModule) thread(opts vm.Options) *vm.Thread {
	if opts.Natives == nil {
		opts.Natives = gm.natives
	}
	return vm.New(gm.m, opts)
}

// runEntry starts entry and steps the thread to completion.
func runEntry(t *testing.T, th *vm.Thread, entry string, args ...*value.Allocation) {
	t.Helper()
	if vmErr := th.Start(mir.P(entry), args); vmErr != nil {
		t.Fatalf("start %s: %v", entry, vmErr)
	}
	if err := testkit.Run(th, 10_000); err != nil {
		t.Fatalf("run %s: %v", entry, err)
	}
}

// runUntilFatal steps the thread until StepOne reports an error.
func runUntilFatal(t *testing.T, th *vm.Thread, entry string) *vm.VMError {
	t.Helper()
	if vmErr := th.Start(mir.P(entry), nil); vmErr != nil {
		return vmErr
	}
	for range 10_000 {
		done, vmErr := th.StepOne()
		if vmErr != nil {
			return vmErr
		}
		if done {
			t.Fatalf("%s finished without a fatal error (outcome %s)", entry, th.Outcome().Kind)
		}
	}
	t.Fatalf("%s still running", entry)
	return nil
}

func returnedUint(t *testing.T, th *vm.Thread, off, size int) uint64 {
	t.Helper()
	out := th.Outcome()
	if out.Kind != vm.OutcomeReturned {
		t.Fatalf("expected returned outcome, got %s (%s)", out.Kind, out.Reason)
	}
	u, err := out.Value.ReadUint(off, size)
	if err != nil {
		t.Fatalf("read result: %v", err)
	}
	return u
}
