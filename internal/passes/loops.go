package passes

import (
	"errors"
	"fmt"

	"github.com/orcc/xronos-sub010/internal/diag"
	"github.com/orcc/xronos-sub010/internal/ir"
	"github.com/orcc/xronos-sub010/internal/loopbound"
	"github.com/orcc/xronos-sub010/internal/unroll"
)

// LoopBounds annotates every loop with its trip count, or
// ir.IterationsUnknown when the count cannot be established.
type LoopBounds struct{}

// NewLoopBounds constructs the pass.
func NewLoopBounds() *LoopBounds {
	return &LoopBounds{}
}

// Name implements the Pass interface.
func (b *LoopBounds) Name() string {
	return "loop-bounds"
}

// Run implements the Pass interface.
func (b *LoopBounds) Run(g *ir.Graph) error {
	for _, id := range g.Loops(g.Top) {
		annotate(g, id)
	}
	return nil
}

func annotate(g *ir.Graph, loop ir.ComponentID) int {
	l := g.Component(loop)
	n, err := loopbound.Analyze(g, loop)
	l.Loop.Iterations = n
	var ua *loopbound.UnanalyzableError
	switch {
	case err == nil:
		log.Infof("loop %q iterates %d times", l.Name, n)
	case errors.As(err, &ua):
		log.Debugf("%s", ua)
	default:
		log.Debugf("loop %q: %s", l.Name, err)
	}
	return n
}

// LoopUnroll replaces every loop with a known trip count by a flat block.
// Loops are visited innermost first and re-analyzed, so an outer loop becomes
// a candidate once its inner loops are gone.
type LoopUnroll struct {
	reporter *diag.Reporter
	opts     unroll.Options
	unrolled int
}

// NewLoopUnroll constructs the pass. reporter is optional; loops too large to
// unroll are reported as warnings on it.
func NewLoopUnroll(opts unroll.Options, reporter *diag.Reporter) *LoopUnroll {
	return &LoopUnroll{reporter: reporter, opts: opts}
}

// Name implements the Pass interface.
func (u *LoopUnroll) Name() string {
	return "loop-unroll"
}

// Unrolled returns the number of loops replaced by the last Run.
func (u *LoopUnroll) Unrolled() int {
	return u.unrolled
}

// Run implements the Pass interface.
func (u *LoopUnroll) Run(g *ir.Graph) error {
	u.unrolled = 0
	for _, id := range g.Loops(g.Top) {
		l := g.Component(id)
		if l == nil {
			continue
		}
		n := annotate(g, id)
		if n == ir.IterationsUnknown {
			continue
		}
		name, src := l.Name, l.Source
		if _, err := unroll.Unroll(g, id, n, u.opts); err != nil {
			if errors.Is(err, unroll.ErrTooManyIterations) || errors.Is(err, unroll.ErrTooLarge) {
				u.warn(src, fmt.Sprintf("loop %s is not unrolled: %v", name, err))
				continue
			}
			return err
		}
		u.unrolled++
	}
	return nil
}

func (u *LoopUnroll) warn(pos diag.Position, msg string) {
	log.Warningf("%s", msg)
	if u.reporter != nil {
		u.reporter.WarningAt(pos, msg)
	}
}

// RegisterWidth narrows the feedback registers of the remaining loops to the
// range of values they hold while the loop runs.
type RegisterWidth struct {
	shrunk int
}

// NewRegisterWidth constructs the pass.
func NewRegisterWidth() *RegisterWidth {
	return &RegisterWidth{}
}

// Name implements the Pass interface.
func (r *RegisterWidth) Name() string {
	return "register-width"
}

// Shrunk returns the number of registers narrowed by the last Run.
func (r *RegisterWidth) Shrunk() int {
	return r.shrunk
}

// Run implements the Pass interface.
func (r *RegisterWidth) Run(g *ir.Graph) error {
	r.shrunk = 0
	for _, id := range g.Loops(g.Top) {
		c, err := loopbound.BuildCircuit(g, id)
		if err != nil {
			continue
		}
		ranges, err := loopbound.Ranges(g, c)
		if err != nil {
			continue
		}
		for _, port := range c.Tracked {
			reg, ok := c.Registers[port]
			if !ok {
				continue
			}
			if r.narrow(g, reg, ranges[port]) {
				r.shrunk++
			}
		}
	}
	return nil
}

func (r *RegisterWidth) narrow(g *ir.Graph, reg ir.ComponentID, rng loopbound.Range) bool {
	c := g.Component(reg)
	q := g.Bus(g.DataBus(reg, 0))
	want := rng.Width()
	if want.Width >= q.Value.Width {
		return false
	}
	log.Infof("register %q narrowed from %s to %s (range %d..%d)", c.Name, q.Value, want, rng.Min, rng.Max)
	q.Value = want
	g.Port(c.Ports[0]).Value = want
	c.Const = c.Const.Resize(want)
	return true
}
