package testkit

import (
	"fmt"

	"miri/internal/vm"
)

// CheckThreadInvariants runs a minimal set of stack invariants on a thread
// between steps:
// 1) the depth counter matches the number of frames
// 2) at most one panic is in flight and a live panic has a payload
// 3) every compiled frame points at an existing block
func CheckThreadInvariants(t *vm.Thread) error {
	if t == nil {
		return fmt.Errorf("nil thread")
	}
	st := t.State()

	// 1) depth sanity
	if got, want := st.CallStackDepth(), t.Depth(); got != want {
		return fmt.Errorf("call stack depth %d, %d frames on the stack", got, want)
	}

	// 2) panic state
	if st.PanicActive && st.PanicValue == nil {
		return fmt.Errorf("panic active without a payload")
	}

	// 3) frames
	for i, f := range t.Frames() {
		if f == nil {
			return fmt.Errorf("nil frame at depth %d", i)
		}
		if f.Kind != vm.FrameCompiled {
			continue
		}
		if f.Mode == vm.ModeRunning && f.CurrentBlock() == nil {
			return fmt.Errorf("frame %d (%s) at invalid block bb%d", i, f.Func.Path.Name, f.BB)
		}
		if f.Mode == vm.ModeRunning {
			n := len(f.CurrentBlock().Instrs)
			if f.IP < 0 || f.IP > n {
				return fmt.Errorf("frame %d (%s) IP %d outside bb%d with %d statements", i, f.Func.Path.Name, f.IP, f.BB, n)
			}
		}
	}
	return nil
}

// Run steps t until its stack empties, checking invariants after every step.
// It gives up after maxSteps steps.
func Run(t *vm.Thread, maxSteps int) error {
	for range maxSteps {
		done, vmErr := t.StepOne()
		if vmErr != nil {
			return vmErr
		}
		if err := CheckThreadInvariants(t); err != nil {
			return fmt.Errorf("after step %d: %w", t.InstructionCount(), err)
		}
		if done {
			return nil
		}
	}
	return fmt.Errorf("thread still running after %d steps", maxSteps)
}
