package ir

import (
	"errors"
	"fmt"
)

// ErrDivideByZero is returned when emulating a division or remainder by zero.
var ErrDivideByZero = errors.New("division by zero")

// ErrNotEmulatable is returned by Emulate for kinds without a pure function.
var ErrNotEmulatable = errors.New("component is not emulatable")

// InvariantError reports a graph that violates the model's structural
// contract. It is raised with panic: the graph was already inconsistent and no
// caller can repair it.
type InvariantError struct {
	Op  string
	Msg string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("%s: invariant violated: %s", e.Op, e.Msg)
}

// Assertf panics with an *InvariantError when cond is false.
func Assertf(cond bool, op, format string, args ...interface{}) {
	if cond {
		return
	}
	panic(&InvariantError{Op: op, Msg: fmt.Sprintf(format, args...)})
}
