package loopbound

import (
	"errors"
	"fmt"
)

// Reasons a loop cannot be analyzed. They are wrapped in *UnanalyzableError.
var (
	ErrNotEmulatable   = errors.New("component is not emulatable")
	ErrDependencyCount = errors.New("port does not have exactly one dependency")
	ErrNonConstantInit = errors.New("initial value is not constant")
	ErrMissingEntry    = errors.New("missing entry")
	ErrCombinational   = errors.New("circuit has no evaluation order")
)

// ErrIterationCap is returned by Count when the decision is still true after
// MaxIterations iterations.
var ErrIterationCap = errors.New("iteration cap reached")

// UnanalyzableError reports a loop whose trip count cannot be determined
// statically. Callers treat it as an unknown bound, never as a failure.
type UnanalyzableError struct {
	Loop   string
	Reason error
	Detail string
}

func (e *UnanalyzableError) Error() string {
	return fmt.Sprintf("loop %q is not analyzable: %v: %s", e.Loop, e.Reason, e.Detail)
}

func (e *UnanalyzableError) Unwrap() error {
	return e.Reason
}

func unanalyzable(loop string, reason error, format string, args ...interface{}) error {
	return &UnanalyzableError{Loop: loop, Reason: reason, Detail: fmt.Sprintf(format, args...)}
}
