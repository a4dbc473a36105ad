package trace

import (
	"fmt"
	"sync"
	"time"
)

// Heartbeat samples a progress counter, usually the scheduler's step count,
// and emits one event per interval. An interval in which the counter did not
// move is reported as a stall, which tells a hung driver apart from a long
// running program.
type Heartbeat struct {
	tracer   Tracer
	interval time.Duration
	progress func() uint64
	stop     chan struct{}
	done     chan struct{}
	once     sync.Once
}

// StartHeartbeat starts the sampling goroutine. It returns nil when tracing
// is disabled or interval is not positive; Stop on nil is a no-op.
func StartHeartbeat(tracer Tracer, interval time.Duration, progress func() uint64) *Heartbeat {
	if tracer == nil || !tracer.Enabled() || interval <= 0 {
		return nil
	}
	if progress == nil {
		progress = func() uint64 { return 0 }
	}
	h := &Heartbeat{
		tracer:   tracer,
		interval: interval,
		progress: progress,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go h.run()
	return h
}

func (h *Heartbeat) run() {
	defer close(h.done)
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	last := h.progress()
	for beat := uint64(1); ; beat++ {
		select {
		case <-h.stop:
			return
		case <-ticker.C:
		}
		cur := h.progress()
		name := "heartbeat"
		if cur == last {
			name = "stall"
		}
		h.tracer.Emit(&Event{
			Time:   time.Now(),
			Kind:   KindHeartbeat,
			Scope:  ScopeDriver,
			Name:   name,
			Detail: fmt.Sprintf("#%d steps=%d (+%d)", beat, cur, cur-last),
		})
		last = cur
	}
}

// Stop ends sampling and waits for the goroutine to exit.
func (h *Heartbeat) Stop() {
	if h == nil {
		return
	}
	h.once.Do(func() { close(h.stop) })
	<-h.done
}
