package observ

import (
	"fmt"
	"sync/atomic"
)

// Counters are pipeline-wide statistics owned by the caller. A design-time
// host keeps one Counters value across many orchestrator runs and uses the
// initialization/execution counts for its caching decisions; nothing in the
// pipeline keeps this state globally.
type Counters struct {
	Initializations atomic.Int64 // orchestrators built (static order computed)
	Executions      atomic.Int64 // Execute calls
	Stages          atomic.Int64 // stages executed
	Units           atomic.Int64 // WorkUnits executed
	Instances       atomic.Int64 // transformation instances invoked
	Rejected        atomic.Int64 // contributions rejected as too late
	Overflowed      atomic.Int64 // contributions redirected to the overflow sink
}

// CounterSnapshot is a plain copy of Counters.
type CounterSnapshot struct {
	Initializations int64 `json:"initializations" msgpack:"initializations"`
	Executions      int64 `json:"executions" msgpack:"executions"`
	Stages          int64 `json:"stages" msgpack:"stages"`
	Units           int64 `json:"units" msgpack:"units"`
	Instances       int64 `json:"instances" msgpack:"instances"`
	Rejected        int64 `json:"rejected" msgpack:"rejected"`
	Overflowed      int64 `json:"overflowed" msgpack:"overflowed"`
}

// Snapshot reads all counters. Safe on nil.
func (c *Counters) Snapshot() CounterSnapshot {
	if c == nil {
		return CounterSnapshot{}
	}
	return CounterSnapshot{
		Initializations: c.Initializations.Load(),
		Executions:      c.Executions.Load(),
		Stages:          c.Stages.Load(),
		Units:           c.Units.Load(),
		Instances:       c.Instances.Load(),
		Rejected:        c.Rejected.Load(),
		Overflowed:      c.Overflowed.Load(),
	}
}

func (s CounterSnapshot) String() string {
	return fmt.Sprintf(
		"init=%d exec=%d | stages=%d units=%d instances=%d | rejected=%d overflowed=%d",
		s.Initializations, s.Executions, s.Stages, s.Units, s.Instances, s.Rejected, s.Overflowed,
	)
}
