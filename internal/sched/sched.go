// Package sched drives several interpreter threads over one module on a
// single goroutine. Threads are stepped round-robin in quanta; a thread that
// calls sched_yield gives up the rest of its quantum. Fuzz mode picks the
// next thread pseudo-randomly from the ready queue for reproducible
// interleavings.
package sched

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"slices"
	"sync/atomic"

	"miri/internal/mir"
	"miri/internal/trace"
	"miri/internal/value"
	"miri/internal/vm"
)

// DefaultQuantum is the number of steps a thread runs before the scheduler
// switches to the next ready thread.
const DefaultQuantum = 1000

// ErrOutOfFuel is returned by Run when Config.MaxSteps is exhausted.
var ErrOutOfFuel = errors.New("step limit exceeded")

// ThreadID identifies a scheduled thread. The first spawned thread is 1.
type ThreadID uint64

// ThreadStatus describes scheduling state.
type ThreadStatus uint8

const (
	ThreadReady ThreadStatus = iota
	ThreadRunning
	ThreadDone
)

func (s ThreadStatus) String() string {
	switch s {
	case ThreadReady:
		return "ready"
	case ThreadRunning:
		return "running"
	case ThreadDone:
		return "done"
	default:
		return fmt.Sprintf("ThreadStatus(%d)", s)
	}
}

// Thread is the scheduler's view of one interpreter thread.
type Thread struct {
	ID     ThreadID
	Entry  mir.Path
	VM     *vm.Thread
	Status ThreadStatus
	Turns  int
}

// Config configures scheduling and the threads it creates.
type Config struct {
	Quantum  int    // steps per turn; 0 means DefaultQuantum
	MaxSteps uint64 // total steps over all threads; 0 means unlimited
	Fuzz     bool
	Seed     uint64

	MaxDepth int
	Tracer   trace.Tracer
	Natives  *vm.Natives
	Stdout   io.Writer
	Stderr   io.Writer
}

// Scheduler owns the threads of one program run and the statics table they
// share.
type Scheduler struct {
	cfg     Config
	m       *mir.Module
	statics *vm.Statics
	tracer  trace.Tracer

	nextID   ThreadID
	threads  map[ThreadID]*Thread
	ready    []ThreadID
	readySet map[ThreadID]struct{}
	current  ThreadID
	steps    atomic.Uint64
	rng      *rand.Rand
}

// New creates a scheduler over m with no threads.
func New(m *mir.Module, cfg Config) *Scheduler {
	if cfg.Quantum <= 0 {
		cfg.Quantum = DefaultQuantum
	}
	s := &Scheduler{
		cfg:      cfg,
		m:        m,
		statics:  vm.NewStatics(m),
		tracer:   cfg.Tracer,
		nextID:   1,
		threads:  make(map[ThreadID]*Thread),
		readySet: make(map[ThreadID]struct{}),
	}
	if s.tracer == nil {
		s.tracer = trace.Nop
	}
	if cfg.Fuzz {
		seed := cfg.Seed
		if seed == 0 {
			seed = 1
		}
		s.rng = rand.New(rand.NewSource(int64(seed))) //nolint:gosec // deterministic scheduler seed
	}
	return s
}

// Start spawns the main thread running path(args).
func (s *Scheduler) Start(path mir.Path, args []*value.Allocation) (*Thread, *vm.VMError) {
	th, vmErr := s.spawn(path, args)
	if vmErr != nil {
		return nil, vmErr
	}
	return th, nil
}

// Spawn implements vm.Spawner.
func (s *Scheduler) Spawn(fn mir.Path, args []*value.Allocation) (uint64, error) {
	th, vmErr := s.spawn(fn, args)
	if vmErr != nil {
		return 0, vmErr
	}
	return uint64(th.ID), nil
}

func (s *Scheduler) spawn(path mir.Path, args []*value.Allocation) (*Thread, *vm.VMError) {
	id := s.nextID
	t := vm.New(s.m, vm.Options{
		ID:       uint64(id),
		MaxDepth: s.cfg.MaxDepth,
		Tracer:   s.tracer,
		Natives:  s.cfg.Natives,
		Statics:  s.statics,
		Spawner:  s,
		Stdout:   s.cfg.Stdout,
		Stderr:   s.cfg.Stderr,
	})
	if vmErr := t.Start(path, args); vmErr != nil {
		return nil, vmErr
	}
	s.nextID++
	th := &Thread{ID: id, Entry: path, VM: t, Status: ThreadReady}
	s.threads[id] = th
	s.enqueue(id)
	trace.Point(s.tracer, trace.ScopeDriver, trace.At{Thread: uint64(id)}, "spawn", path.Key())
	return th, nil
}

// Thread returns a thread by ID.
func (s *Scheduler) Thread(id ThreadID) *Thread {
	return s.threads[id]
}

// Main returns the first spawned thread.
func (s *Scheduler) Main() *Thread {
	return s.threads[1]
}

// Threads returns all threads ordered by ID.
func (s *Scheduler) Threads() []*Thread {
	out := make([]*Thread, 0, len(s.threads))
	for _, th := range s.threads {
		out = append(out, th)
	}
	slices.SortFunc(out, func(a, b *Thread) int { return cmp.Compare(a.ID, b.ID) })
	return out
}

// Steps returns the number of steps executed over all threads. It may be
// read from other goroutines while Run is in progress.
func (s *Scheduler) Steps() uint64 {
	return s.steps.Load()
}

// Statics returns the statics table shared by the scheduler's threads.
func (s *Scheduler) Statics() *vm.Statics {
	return s.statics
}

// Current returns the thread being stepped, or 0 between turns.
func (s *Scheduler) Current() ThreadID {
	return s.current
}

// Cancel makes a live thread unwind with a "cancelled" payload the next time
// it is stepped.
func (s *Scheduler) Cancel(id ThreadID) {
	th := s.threads[id]
	if th == nil || th.Status == ThreadDone {
		return
	}
	th.VM.RequestUnwind(th.VM.StrValue("cancelled"))
}

// Run steps threads until the main thread finishes. Threads still running at
// that point are abandoned. Run returns the first fatal error of any thread,
// ErrOutOfFuel when MaxSteps runs out, or the context's error when ctx is
// cancelled; cancellation is checked between turns.
func (s *Scheduler) Run(ctx context.Context) error {
	span := trace.Begin(s.tracer, trace.ScopeDriver, "sched.run")
	err := s.run(ctx)
	detail := "ok"
	if err != nil {
		detail = err.Error()
	}
	span.With("threads", fmt.Sprint(len(s.threads))).Steps(s.Steps()).End(detail)
	return err
}

func (s *Scheduler) run(ctx context.Context) error {
	main := s.Main()
	if main == nil {
		return errors.New("no main thread")
	}
	for main.Status != ThreadDone {
		if err := ctx.Err(); err != nil {
			return err
		}
		id, ok := s.nextReady()
		if !ok {
			return fmt.Errorf("thread %d blocked with no runnable threads", main.ID)
		}
		if err := s.turn(s.threads[id]); err != nil {
			return err
		}
	}
	return nil
}

// turn runs th for up to one quantum.
func (s *Scheduler) turn(th *Thread) error {
	s.current = th.ID
	th.Status = ThreadRunning
	th.Turns++
	defer func() { s.current = 0 }()

	for range s.cfg.Quantum {
		if s.cfg.MaxSteps != 0 && s.steps.Load() >= s.cfg.MaxSteps {
			s.enqueue(th.ID)
			return fmt.Errorf("%w: %d steps", ErrOutOfFuel, s.cfg.MaxSteps)
		}
		done, vmErr := th.VM.StepOne()
		s.steps.Add(1)
		if vmErr != nil {
			th.Status = ThreadDone
			return vmErr
		}
		if done {
			th.Status = ThreadDone
			trace.Point(s.tracer, trace.ScopeDriver, trace.At{Thread: uint64(th.ID), Step: th.VM.InstructionCount()},
				"exit", th.VM.Outcome().Kind.String())
			return nil
		}
		if th.VM.TakeYield() {
			break
		}
	}
	s.enqueue(th.ID)
	return nil
}

func (s *Scheduler) nextReady() (ThreadID, bool) {
	for len(s.ready) > 0 {
		idx := 0
		if s.rng != nil {
			idx = s.rng.Intn(len(s.ready))
		}
		id := s.ready[idx]
		s.ready = slices.Delete(s.ready, idx, idx+1)
		delete(s.readySet, id)
		if th := s.threads[id]; th != nil && th.Status != ThreadDone {
			return id, true
		}
	}
	return 0, false
}

func (s *Scheduler) enqueue(id ThreadID) {
	if _, ok := s.readySet[id]; ok {
		return
	}
	s.ready = append(s.ready, id)
	s.readySet[id] = struct{}{}
	if th := s.threads[id]; th != nil && th.Status != ThreadDone {
		th.Status = ThreadReady
	}
}
