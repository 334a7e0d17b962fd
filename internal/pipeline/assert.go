package pipeline

import "fmt"

// AssertionError is the panic value for broken scheduler invariants:
// colliding or unordered keys, contributions to consumed units, deltas that
// do not replay. It never describes a problem in user input.
type AssertionError struct {
	Msg string
}

func (e *AssertionError) Error() string {
	return "pipeline: assertion failed: " + e.Msg
}

func assertf(format string, args ...any) {
	panic(&AssertionError{Msg: fmt.Sprintf(format, args...)})
}
