// Package trace records what the interpreter is doing so that hangs,
// runaway loops and fatal errors can be diagnosed after the fact.
//
// Enable tracing from the command line:
//
//	miri run --trace=- --trace-level=detail prog.mirpack
//
// Tracers:
//
//   - Nop: disabled tracing
//   - StreamTracer: writes each event as it happens (text or NDJSON)
//   - RingTracer: keeps the last N events for a dump after a fatal error
//   - MultiTracer: fans out to several tracers
//
// Events are grouped by scope, coarsest first: ScopeDriver (CLI and
// scheduler), ScopeThread (simulated thread lifecycle), ScopeFrame (calls,
// returns, unwinding) and ScopeStep (every statement and terminator). The
// level decides the finest scope that is recorded:
//
//	phase  -> driver, thread
//	detail -> + frame
//	debug  -> + step
//
// The scheduler brackets each run in a driver span and the engine emits
// point events placed on a simulated thread:
//
//	span := trace.Begin(t, trace.ScopeDriver, "sched.run")
//	trace.Point(t, trace.ScopeThread, trace.At{Thread: 1}, "panic", msg)
//	span.Steps(n).End("ok")
package trace
