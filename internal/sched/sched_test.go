package sched_test

import (
	"context"
	"errors"
	"slices"
	"testing"

	"miri/internal/mir"
	"miri/internal/sched"
	"miri/internal/testkit"
	"miri/internal/types"
	"miri/internal/value"
	"miri/internal/vm"
)

type recorder struct {
	seen []uint64
}

func (r *recorder) natives() *vm.Natives {
	n := vm.DefaultNatives()
	n.Register("record", func(th *vm.Thread, c *vm.NativeCall) (*value.Allocation, *vm.VMError) {
		r.seen = append(r.seen, th.ArgUint(c, 0))
		return th.ResultUint(c, 0), nil
	})
	return n
}

// pingPong builds main, which spawns worker and then records 1 and yields
// three times, and worker, which records 2 and yields twice.
func pingPong() *mir.Module {
	m, b := testkit.NewModule()
	fnTy := m.Types.RegisterFn(nil, b.Unit)
	testkit.Extern(m, "record", []types.TypeID{b.U32}, b.Unit)
	testkit.Extern(m, "sched_yield", nil, b.I32)
	testkit.Extern(m, "miri_spawn", []types.TypeID{fnTy}, b.U64)

	testkit.Func(m, mir.P("worker"), nil, b.Unit, []types.TypeID{b.I32},
		testkit.Block(testkit.CallVoid(mir.P("record"), 1, mir.UintConst(b.U32, 2))),
		testkit.Block(testkit.Call(mir.LocalPlace(0), mir.P("sched_yield"), 2)),
		testkit.Block(testkit.CallVoid(mir.P("record"), 3, mir.UintConst(b.U32, 2))),
		testkit.Block(testkit.Return()),
	)
	testkit.Func(m, mir.P("main"), nil, b.Unit, []types.TypeID{b.U32, b.U64, b.I32, b.Bool},
		testkit.Block(testkit.Call(mir.LocalPlace(1), mir.P("miri_spawn"), 1, mir.FnConst(fnTy, mir.P("worker")))),
		testkit.Block(testkit.CallVoid(mir.P("record"), 2, mir.UintConst(b.U32, 1))),
		testkit.Block(testkit.Call(mir.LocalPlace(2), mir.P("sched_yield"), 3)),
		testkit.Block(testkit.If(mir.Copy(mir.LocalPlace(3)), 1, 4),
			testkit.Binary(mir.LocalPlace(0), mir.BinAdd, mir.Copy(mir.LocalPlace(0)), mir.UintConst(b.U32, 1), false),
			testkit.Binary(mir.LocalPlace(3), mir.BinLt, mir.Copy(mir.LocalPlace(0)), mir.UintConst(b.U32, 3), false),
		),
		testkit.Block(testkit.Return()),
	)
	return m
}

func spinModule() *mir.Module {
	m, b := testkit.NewModule()
	testkit.Func(m, mir.P("main"), nil, b.Unit, nil, testkit.Block(testkit.Goto(0)))
	return m
}

func TestSchedYieldInterleaves(t *testing.T) {
	var rec recorder
	s := sched.New(pingPong(), sched.Config{Natives: rec.natives()})
	if _, vmErr := s.Start(mir.P("main"), nil); vmErr != nil {
		t.Fatalf("start: %v", vmErr)
	}
	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if want := []uint64{1, 2, 1, 2, 1}; !slices.Equal(rec.seen, want) {
		t.Fatalf("interleaving %v, want %v", rec.seen, want)
	}
	threads := s.Threads()
	if len(threads) != 2 || threads[1].Entry.Name != "worker" {
		t.Fatalf("unexpected threads %+v", threads)
	}
	for _, th := range threads {
		if th.Status != sched.ThreadDone || th.VM.Outcome().Kind != vm.OutcomeReturned {
			t.Fatalf("thread %d: status %s outcome %s", th.ID, th.Status, th.VM.Outcome().Kind)
		}
	}
	if s.Main().VM.Statics() != s.Statics() || threads[1].VM.Statics() != s.Statics() {
		t.Fatalf("threads do not share the scheduler's statics")
	}
}

func TestSchedQuantumWithoutYield(t *testing.T) {
	var rec recorder
	m := pingPong()
	n := rec.natives()
	n.Register("sched_yield", func(th *vm.Thread, c *vm.NativeCall) (*value.Allocation, *vm.VMError) {
		return th.ResultUint(c, 0), nil
	})
	s := sched.New(m, sched.Config{Natives: n})
	if _, vmErr := s.Start(mir.P("main"), nil); vmErr != nil {
		t.Fatalf("start: %v", vmErr)
	}
	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	// main finishes within one quantum and the worker is abandoned.
	if want := []uint64{1, 1, 1}; !slices.Equal(rec.seen, want) {
		t.Fatalf("recorded %v, want %v", rec.seen, want)
	}
	if w := s.Thread(2); w == nil || w.Status == sched.ThreadDone || w.Turns != 0 {
		t.Fatalf("worker should be spawned but never run: %+v", w)
	}
}

func TestSchedFuel(t *testing.T) {
	s := sched.New(spinModule(), sched.Config{MaxSteps: 100, Quantum: 7})
	if _, vmErr := s.Start(mir.P("main"), nil); vmErr != nil {
		t.Fatalf("start: %v", vmErr)
	}
	err := s.Run(context.Background())
	if !errors.Is(err, sched.ErrOutOfFuel) {
		t.Fatalf("expected ErrOutOfFuel, got %v", err)
	}
	if s.Steps() != 100 {
		t.Fatalf("expected 100 steps, got %d", s.Steps())
	}
}

func TestSchedContextCancel(t *testing.T) {
	s := sched.New(spinModule(), sched.Config{})
	if _, vmErr := s.Start(mir.P("main"), nil); vmErr != nil {
		t.Fatalf("start: %v", vmErr)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := s.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if s.Steps() != 0 {
		t.Fatalf("no step may run after cancellation, got %d", s.Steps())
	}
}

func TestSchedCancelThreadUnwinds(t *testing.T) {
	s := sched.New(spinModule(), sched.Config{MaxSteps: 10_000})
	main, vmErr := s.Start(mir.P("main"), nil)
	if vmErr != nil {
		t.Fatalf("start: %v", vmErr)
	}
	s.Cancel(main.ID)
	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	out := main.VM.Outcome()
	if out.Kind != vm.OutcomePanicked {
		t.Fatalf("expected panicked, got %s", out.Kind)
	}
	if msg, ok := main.VM.PayloadString(out.Payload); !ok || msg != "cancelled" {
		t.Fatalf("payload %q", msg)
	}
}

func TestSchedFatalErrorStopsRun(t *testing.T) {
	m, b := testkit.NewModule()
	testkit.Func(m, mir.P("main"), nil, b.Unit, nil, testkit.Block(testkit.Unreachable()))
	s := sched.New(m, sched.Config{})
	if _, vmErr := s.Start(mir.P("main"), nil); vmErr != nil {
		t.Fatalf("start: %v", vmErr)
	}
	err := s.Run(context.Background())
	var vmErr *vm.VMError
	if !errors.As(err, &vmErr) || vmErr.Code != vm.PanicUnreachable {
		t.Fatalf("expected %s, got %v", vm.PanicUnreachable, err)
	}
}

func TestSchedFuzzIsReproducible(t *testing.T) {
	run := func(seed uint64) []uint64 {
		var rec recorder
		s := sched.New(pingPong(), sched.Config{Natives: rec.natives(), Fuzz: true, Seed: seed})
		if _, vmErr := s.Start(mir.P("main"), nil); vmErr != nil {
			t.Fatalf("start: %v", vmErr)
		}
		if err := s.Run(context.Background()); err != nil {
			t.Fatalf("run: %v", err)
		}
		return rec.seen
	}
	first, second := run(42), run(42)
	if !slices.Equal(first, second) {
		t.Fatalf("same seed gave %v and %v", first, second)
	}
}

func TestSchedStartUnknownEntry(t *testing.T) {
	s := sched.New(spinModule(), sched.Config{})
	if _, vmErr := s.Start(mir.P("missing"), nil); vmErr == nil || vmErr.Code != vm.PanicUnresolvedPath {
		t.Fatalf("expected %s, got %v", vm.PanicUnresolvedPath, vmErr)
	}
	if err := s.Run(context.Background()); err == nil {
		t.Fatalf("Run without a main thread must fail")
	}
}
