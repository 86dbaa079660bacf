// Package unroll replaces a loop whose trip count is known by a flat block
// holding one copy of the loop body per iteration.
package unroll

import (
	"errors"
	"fmt"

	"github.com/tliron/commonlog"

	"github.com/orcc/xronos-sub010/internal/ir"
)

var log = commonlog.GetLogger("xronos.unroll")

var (
	// ErrUnknownBound is returned for loops without a proven trip count.
	ErrUnknownBound = errors.New("iteration count is unknown")
	// ErrTooManyIterations is returned when the trip count exceeds
	// Options.MaxIterations.
	ErrTooManyIterations = errors.New("too many iterations")
	// ErrTooLarge is returned when the unrolled loop would exceed
	// Options.MaxComponents.
	ErrTooLarge = errors.New("unrolled loop too large")
)

// Options bound the loops Unroll accepts.
type Options struct {
	MaxIterations int
	// MaxComponents limits the number of components the unrolled block may
	// contain. Zero means no limit.
	MaxComponents int
}

// DefaultOptions returns the limits used by the compiler driver.
func DefaultOptions() Options {
	return Options{
		MaxIterations: 65535,
		MaxComponents: 1 << 16,
	}
}

// Unroll replaces loop, whose decision is true for exactly n iterations, by a
// Block with the loop's port and bus shapes, and returns the block. Failed
// preconditions are reported as errors and leave the graph untouched; a graph
// that breaks the loop structure contract panics with *ir.InvariantError.
func Unroll(g *ir.Graph, loop ir.ComponentID, n int, opts Options) (ir.ComponentID, error) {
	l := g.Component(loop)
	if l == nil || l.Loop == nil {
		return ir.NoComponent, fmt.Errorf("unroll: component %d is not a loop", loop)
	}
	if n < 0 {
		return ir.NoComponent, fmt.Errorf("unroll %q: %w", l.Name, ErrUnknownBound)
	}
	if opts.MaxIterations > 0 && n > opts.MaxIterations {
		return ir.NoComponent, fmt.Errorf("unroll %q: %d iterations: %w", l.Name, n, ErrTooManyIterations)
	}
	if g.Component(l.Owner) == nil {
		return ir.NoComponent, fmt.Errorf("unroll %q: loop has no enclosing module", l.Name)
	}
	u := newUnroller(g, l, n)
	if size := u.estimate(); opts.MaxComponents > 0 && size > opts.MaxComponents {
		return ir.NoComponent, fmt.Errorf("unroll %q: %d components: %w", l.Name, size, ErrTooLarge)
	}
	u.build()
	u.rewire()
	u.splice()
	log.Infof("unrolled loop %q: %d iterations into %q", u.name, n, g.Component(u.outer).Name)
	return u.outer, nil
}
