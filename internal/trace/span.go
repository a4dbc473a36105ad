package trace

import (
	"strconv"
	"sync/atomic"
	"time"
)

var (
	seqCounter  atomic.Uint64
	spanCounter atomic.Uint64
)

// NextSeq returns the next global event sequence number.
func NextSeq() uint64 { return seqCounter.Add(1) }

// At places an event on a simulated thread. The zero value means the event
// comes from outside the engine.
type At struct {
	Thread uint64
	Step   uint64
	Depth  int
}

// Point emits an instant event.
func Point(t Tracer, scope Scope, at At, name, detail string) {
	Mark(t, KindPoint, scope, at, name, detail)
}

// Mark emits an event of any kind without span bookkeeping. The engine
// uses it for frame and thread lifecycle, where the begin and end are paired
// by depth rather than by span ID.
func Mark(t Tracer, kind Kind, scope Scope, at At, name, detail string) {
	if t == nil || !t.Enabled() || !t.Level().ShouldEmit(scope) {
		return
	}
	t.Emit(&Event{
		Time:   time.Now(),
		Kind:   kind,
		Scope:  scope,
		Thread: at.Thread,
		Step:   at.Step,
		Depth:  at.Depth,
		Name:   name,
		Detail: detail,
	})
}

// Span brackets a driver operation such as a scheduler run or one test.
// A span from a disabled tracer is inert; all methods are nil-safe.
type Span struct {
	tracer  Tracer
	id      uint64
	parent  uint64
	scope   Scope
	name    string
	at      At
	started time.Time
	extra   map[string]string
}

// Begin starts a root span.
func Begin(t Tracer, scope Scope, name string) *Span {
	return begin(t, scope, name, 0, At{})
}

// Child starts a span nested in s, attributed to the simulated thread at.
func (s *Span) Child(scope Scope, name string, at At) *Span {
	if s == nil {
		return nil
	}
	return begin(s.tracer, scope, name, s.id, at)
}

func begin(t Tracer, scope Scope, name string, parent uint64, at At) *Span {
	if t == nil || !t.Enabled() || !t.Level().ShouldEmit(scope) {
		return nil
	}
	s := &Span{
		tracer:  t,
		id:      spanCounter.Add(1),
		parent:  parent,
		scope:   scope,
		name:    name,
		at:      at,
		started: time.Now(),
	}
	s.emit(KindSpanBegin, s.started, "")
	return s
}

func (s *Span) emit(kind Kind, now time.Time, detail string) {
	ev := &Event{
		Time:     now,
		Kind:     kind,
		Scope:    s.scope,
		SpanID:   s.id,
		ParentID: s.parent,
		Thread:   s.at.Thread,
		Step:     s.at.Step,
		Depth:    s.at.Depth,
		Name:     s.name,
		Detail:   detail,
	}
	if kind == KindSpanEnd {
		ev.Extra = s.extra
	}
	s.tracer.Emit(ev)
}

// With attaches key=value to the end event.
func (s *Span) With(key, value string) *Span {
	if s == nil {
		return nil
	}
	if s.extra == nil {
		s.extra = make(map[string]string, 2)
	}
	s.extra[key] = value
	return s
}

// Steps records how many interpreter steps ran inside the span.
func (s *Span) Steps(n uint64) *Span {
	return s.With("steps", strconv.FormatUint(n, 10))
}

// End emits the end event and returns the span's wall time.
func (s *Span) End(detail string) time.Duration {
	if s == nil {
		return 0
	}
	now := time.Now()
	s.emit(KindSpanEnd, now, detail)
	return now.Sub(s.started)
}

// ID returns the span ID, 0 for an inert span.
func (s *Span) ID() uint64 {
	if s == nil {
		return 0
	}
	return s.id
}
