package trace

import "time"

// Kind represents the type of trace event.
type Kind uint8

const (
	// KindSpanBegin marks the start of a logical operation.
	KindSpanBegin Kind = iota + 1
	// KindSpanEnd marks the end of a logical operation.
	KindSpanEnd
	// KindPoint represents an instant event (e.g. a rejected contribution).
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
	ScopePipeline Scope = iota + 1 // orchestrator run
	ScopeStage                     // one stage of the StageDriver
	ScopeStep                      // one scheduler WorkUnit
	ScopeInstance                  // one transformation instance
)

// String returns the string representation of Scope.
func (s Scope) String() string {
	switch s {
	case ScopePipeline:
		return "pipeline"
	case ScopeStage:
		return "stage"
	case ScopeStep:
		return "step"
	case ScopeInstance:
		return "instance"
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
	Name     string            // e.g. "stage:1", "step:audit/default@1.2.apply.0"
	Detail   string            // optional detail message
	Extra    map[string]string // extensible key-value pairs
}
