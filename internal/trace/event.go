package trace

import "time"

// Kind represents the type of trace event.
type Kind uint8

const (
	// KindSpanBegin marks the start of a logical operation.
	KindSpanBegin Kind = iota + 1
	// KindSpanEnd marks the end of a logical operation.
	KindSpanEnd
	// KindPoint represents an instant event.
	KindPoint
	KindHeartbeat // periodic liveness signal
)

// String returns the string representation of Kind.
func (k Kind) String() string {
	switch k {
	case KindSpanBegin:
		return "begin"
	case KindSpanEnd:
		return "end"
	case KindPoint:
		return "point"
	case KindHeartbeat:
		return "heartbeat"
	default:
		return "unknown"
	}
}

// Scope indicates the granularity level of the event.
// Lower numeric values represent coarser events.
type Scope uint8

const (
	// ScopeDriver covers CLI commands and scheduler rounds.
	ScopeDriver Scope = iota + 1
	// ScopeThread covers simulated thread start, finish, panic and abort.
	ScopeThread
	// ScopeFrame covers frame pushes, pops, unwinding and drop glue.
	ScopeFrame
	// ScopeStep covers every executed statement and terminator.
	ScopeStep
)

// String returns the string representation of Scope.
func (s Scope) String() string {
	switch s {
	case ScopeDriver:
		return "driver"
	case ScopeThread:
		return "thread"
	case ScopeFrame:
		return "frame"
	case ScopeStep:
		return "step"
	default:
		return "unknown"
	}
}

// Event represents a single trace event.
type Event struct {
	Time     time.Time         // wall-clock timestamp
	Seq      uint64            // global sequence number (monotonic)
	Kind     Kind              // event kind
	Scope    Scope             // granularity level
	SpanID   uint64            // unique span identifier
	ParentID uint64            // parent span (0 if root)
	Thread   uint64            // simulated thread ID, 0 outside the engine
	Step     uint64            // thread instruction counter at the event
	Depth    int               // call stack depth at the event
	Name     string            // e.g. "call", "return", "unwind"
	Detail   string            // optional detail message
	Extra    map[string]string // extensible key-value pairs
}
