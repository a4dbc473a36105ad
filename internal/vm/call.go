package vm

import (
	"fmt"
	"strings"

	"miri/internal/mir"
	"miri/internal/types"
	"miri/internal/value"
)

// NativeCall describes one invocation of a native or intrinsic.
type NativeCall struct {
	Func *mir.Func
	Name string
	Args []*value.Allocation
}

// TypeArg returns the i-th generic argument of the callee path.
func (c *NativeCall) TypeArg(i int) types.TypeID {
	if i < 0 || i >= len(c.Func.Path.Args) {
		return types.NoTypeID
	}
	return c.Func.Path.Args[i]
}

// NativeFunc implements an extern symbol or an intrinsic. It either returns
// the call's result, or pushes a wrapper frame (PushWrapper) followed by an
// interpreted callee and returns nil; the wrapper then produces the result.
type NativeFunc func(t *Thread, call *NativeCall) (*value.Allocation, *VMError)

// execCall dispatches a Call terminator through the compiled, native and
// intrinsic lanes, in that order.
func (t *Thread) execCall(f *Frame, call *mir.CallTerm) *VMError {
	fn, vmErr := t.resolveCallee(f, &call.Callee)
	if vmErr != nil {
		return vmErr
	}
	args := make([]*value.Allocation, len(call.Args))
	argTys := make([]types.TypeID, len(call.Args))
	for i, op := range call.Args {
		v, ty, vmErr := t.evalOperand(f, op)
		if vmErr != nil {
			return vmErr
		}
		args[i] = v
		argTys[i] = ty
	}
	if vmErr := t.checkArgTypes(fn, argTys); vmErr != nil {
		return vmErr
	}
	f.pendingResult = fn.Result

	if fn.HasBody() {
		callee, vmErr := t.newFrame(fn, args)
		if vmErr != nil {
			return vmErr
		}
		callee.returnsTo = returnToCall
		t.pushFrame(callee)
		return nil
	}

	name := fn.Symbol()
	var impl NativeFunc
	if fn.Linkage.ABI != mir.ABIIntrinsic {
		native, ok := t.natives.Lookup(name)
		if !ok {
			return t.eb.makeError(PanicUnknownExtern, fmt.Sprintf("unsupported extern function %q", name))
		}
		impl = native
	} else {
		name = intrinsicName(name)
		intrinsic, ok := lookupIntrinsic(name)
		if !ok {
			return t.eb.unsupportedIntrinsic(name)
		}
		impl = intrinsic
	}
	return t.runNative(f, call, &NativeCall{Func: fn, Name: name, Args: args}, impl)
}

// checkArgTypes rejects a call whose argument types differ from the
// callee's parameters. Byte-compatible types are not interchangeable.
func (t *Thread) checkArgTypes(fn *mir.Func, tys []types.TypeID) *VMError {
	if len(tys) != len(fn.Params) {
		return t.eb.makeError(PanicArgMismatch,
			fmt.Sprintf("%s expects %d arguments, got %d", t.funcLabel(fn), len(fn.Params), len(tys)))
	}
	for i, p := range fn.Params {
		if tys[i] == types.NoTypeID || tys[i] == p.Type {
			continue
		}
		return t.eb.makeError(PanicArgMismatch,
			fmt.Sprintf("%s argument %d: expected %s, got %s", t.funcLabel(fn), i,
				types.Label(t.types, p.Type), types.Label(t.types, tys[i])))
	}
	return nil
}

// checkType rejects a value of type got where want is expected. NoTypeID on
// either side is a type that is not known statically.
func (t *Thread) checkType(what string, want, got types.TypeID) *VMError {
	if want == types.NoTypeID || got == types.NoTypeID || want == got {
		return nil
	}
	return t.eb.makeError(PanicTypeMismatch,
		fmt.Sprintf("%s: expected %s, got %s", what, types.Label(t.types, want), types.Label(t.types, got)))
}

func (t *Thread) resolveCallee(f *Frame, c *mir.Callee) (*mir.Func, *VMError) {
	var key string
	switch c.Kind {
	case mir.CalleePath:
		key = c.Path.Key()
	case mir.CalleeValue:
		v, _, vmErr := t.evalOperand(f, c.Value)
		if vmErr != nil {
			return nil, vmErr
		}
		p := t.valuePointer(v)
		if p.Kind != value.PointerFunction {
			return nil, t.eb.makeError(PanicInvalidAccess, fmt.Sprintf("call through non-function pointer %s", p))
		}
		key = p.Path
	default:
		return nil, t.eb.invalidProgram("unknown callee kind %d", c.Kind)
	}
	fn := t.m.FunctionByKey(key)
	if fn == nil {
		return nil, t.eb.unresolved("function", key)
	}
	return fn, nil
}

// intrinsicName strips a module prefix such as "core::intrinsics::".
func intrinsicName(symbol string) string {
	if i := strings.LastIndex(symbol, "::"); i >= 0 {
		return symbol[i+2:]
	}
	return symbol
}

func (t *Thread) runNative(f *Frame, call *mir.CallTerm, nc *NativeCall, impl NativeFunc) *VMError {
	depth := len(t.stack)
	t.inNative = true
	out, vmErr := impl(t, nc)
	t.inNative = false
	if vmErr != nil {
		return vmErr
	}
	switch {
	case t.aborted:
		return nil
	case t.panicPending:
		t.panicPending = false
		if call.HasCatch {
			return t.catchAt(f)
		}
		t.beginUnwind(f)
		return nil
	case len(t.stack) != depth:
		// A wrapper frame now owns the result.
		return nil
	}
	return t.completeCall(f, out)
}

// PushWrapper installs a native continuation for the native call in
// progress. catch may be nil; otherwise the wrapper is a catch boundary.
func (t *Thread) PushWrapper(resume ResumeFunc, catch CatchFunc) *VMError {
	if !t.inNative {
		return t.eb.invalidProgram("PushWrapper outside a native call")
	}
	if resume == nil {
		return t.eb.invalidProgram("PushWrapper without a resume function")
	}
	w := newWrapperFrame(resume, catch)
	w.returnsTo = returnToCall
	t.pushFrame(w)
	return nil
}

// CallPointer pushes an interpreted call through a function pointer. The
// result goes to the wrapper frame on top of the stack.
func (t *Thread) CallPointer(fnPtr value.Pointer, args []*value.Allocation) *VMError {
	if fnPtr.Kind != value.PointerFunction {
		return t.eb.makeError(PanicInvalidAccess, fmt.Sprintf("call through non-function pointer %s", fnPtr))
	}
	fn := t.m.FunctionByKey(fnPtr.Path)
	if fn == nil {
		return t.eb.unresolved("function", fnPtr.Path)
	}
	return t.callFromWrapper(fn, args)
}

// CallPath is CallPointer by path.
func (t *Thread) CallPath(path mir.Path, args []*value.Allocation) *VMError {
	fn := t.m.Function(path)
	if fn == nil {
		return t.eb.unresolved("function", path.Key())
	}
	return t.callFromWrapper(fn, args)
}

func (t *Thread) callFromWrapper(fn *mir.Func, args []*value.Allocation) *VMError {
	if t.aborted {
		return nil
	}
	if len(t.stack) == 0 || t.top().Kind != FrameWrapper {
		return t.eb.invalidProgram("callback to %s without a native continuation", t.funcLabel(fn))
	}
	if !fn.HasBody() {
		return t.eb.invalidProgram("callback to %s, which has no body", t.funcLabel(fn))
	}
	callee, vmErr := t.newFrame(fn, args)
	if vmErr != nil {
		return vmErr
	}
	callee.returnsTo = returnToWrapper
	t.pushFrame(callee)
	return nil
}
