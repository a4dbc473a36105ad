package main

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"miri/internal/trace"
)

// tracing is the tracer built from the trace flags plus the heartbeat
// interval, which needs a progress source and so starts later.
type tracing struct {
	trace.Tracer
	heartbeat time.Duration
}

// startHeartbeat samples progress every heartbeat interval until the
// returned stop func is called.
func (t tracing) startHeartbeat(progress func() uint64) func() {
	hb := trace.StartHeartbeat(t.Tracer, t.heartbeat, progress)
	return hb.Stop
}

// setupTracing builds the tracer from the trace flags, falling back to the
// [trace] table of miri.toml for flags left at their defaults. The returned
// cleanup flushes and closes it.
func setupTracing(cmd *cobra.Command, cfg traceConfig) (tracing, func(), error) {
	flags := cmd.Root().PersistentFlags()

	traceOutput, err := flags.GetString("trace")
	if err != nil {
		return tracing{}, nil, fmt.Errorf("failed to get trace flag: %w", err)
	}
	levelStr, err := flags.GetString("trace-level")
	if err != nil {
		return tracing{}, nil, fmt.Errorf("failed to get trace-level flag: %w", err)
	}
	modeStr, err := flags.GetString("trace-mode")
	if err != nil {
		return tracing{}, nil, fmt.Errorf("failed to get trace-mode flag: %w", err)
	}
	ringSize, err := flags.GetInt("trace-ring-size")
	if err != nil {
		return tracing{}, nil, fmt.Errorf("failed to get trace-ring-size flag: %w", err)
	}
	heartbeat, err := flags.GetDuration("trace-heartbeat")
	if err != nil {
		return tracing{}, nil, fmt.Errorf("failed to get trace-heartbeat flag: %w", err)
	}

	if !flags.Changed("trace") && cfg.Output != "" {
		traceOutput = cfg.Output
	}
	if !flags.Changed("trace-level") && cfg.Level != "" {
		levelStr = cfg.Level
	}
	if !flags.Changed("trace-mode") && cfg.Mode != "" {
		modeStr = cfg.Mode
	}
	if !flags.Changed("trace-ring-size") && cfg.RingSize > 0 {
		ringSize = cfg.RingSize
	}

	level, err := trace.ParseLevel(levelStr)
	if err != nil {
		return tracing{}, nil, fmt.Errorf("invalid trace level: %w", err)
	}
	if level == trace.LevelOff {
		return tracing{Tracer: trace.Nop}, func() {}, nil
	}
	mode, err := trace.ParseMode(modeStr)
	if err != nil {
		return tracing{}, nil, fmt.Errorf("invalid trace mode: %w", err)
	}

	tracer, err := trace.New(trace.Config{
		Level:      level,
		Mode:       mode,
		OutputPath: traceOutput,
		RingSize:   ringSize,
	})
	if err != nil {
		return tracing{}, nil, fmt.Errorf("failed to create tracer: %w", err)
	}

	cleanup := func() {
		if err := tracer.Flush(); err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "trace: flush error: %v\n", err)
		}
		if err := tracer.Close(); err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "trace: close error: %v\n", err)
		}
	}
	return tracing{Tracer: tracer, heartbeat: heartbeat}, cleanup, nil
}

// dumpTraceRing writes the driver events and the failing thread's events
// held by the tracer's ring buffer, if it has one.
func dumpTraceRing(w io.Writer, tracer trace.Tracer, thread uint64) {
	ring := trace.RingOf(tracer)
	if ring == nil {
		return
	}
	fmt.Fprintf(w, "--- last trace events (thread %d) ---\n", thread)
	if err := ring.DumpThread(w, trace.FormatText, thread); err != nil {
		fmt.Fprintln(w, err)
	}
}
