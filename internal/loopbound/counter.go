package loopbound

import (
	"errors"
	"fmt"

	"github.com/orcc/xronos-sub010/internal/ir"
)

// MaxIterations bounds the number of iterations Count emulates.
const MaxIterations = 65535

// Range is the interval of values a loop variable takes.
type Range struct {
	Min, Max int64
	Value    ir.Value
}

// Width returns the narrowest value type holding every value of the range.
func (r Range) Width() ir.Value {
	return ir.MinWidthFor(r.Min, r.Max)
}

// Count emulates the circuit and returns the number of iterations for which
// the decision evaluates true. It returns ErrIterationCap when the decision is
// still true after MaxIterations iterations, or the emulation error of a
// component.
func Count(g *ir.Graph, c *Circuit) (int, error) {
	n, _, err := run(g, c, nil)
	return n, err
}

// Ranges emulates the circuit like Count and reports, for every tracked port,
// the interval of values it held at the start of each evaluated iteration.
func Ranges(g *ir.Graph, c *Circuit) (map[ir.PortID]Range, error) {
	ranges := make(map[ir.PortID]Range, len(c.Tracked))
	observe := func(port ir.PortID, w ir.Word) {
		v := w.Int64()
		r, ok := ranges[port]
		if !ok {
			ranges[port] = Range{Min: v, Max: v, Value: w.Type}
			return
		}
		if v < r.Min {
			r.Min = v
		}
		if v > r.Max {
			r.Max = v
		}
		ranges[port] = r
	}
	if _, _, err := run(g, c, observe); err != nil {
		return nil, err
	}
	return ranges, nil
}

func run(g *ir.Graph, c *Circuit, observe func(ir.PortID, ir.Word)) (int, map[ir.PortID]ir.Word, error) {
	cur := make(map[ir.PortID]ir.Word, len(c.Tracked))
	for _, port := range c.Tracked {
		cur[port] = c.Start[port]
	}
	values := make(map[ir.BusID]ir.Word, len(c.Sequence)+len(c.Tracked))
	for count := 0; ; count++ {
		if count > MaxIterations {
			return count, cur, ErrIterationCap
		}
		for _, port := range c.Tracked {
			values[c.StartBus[port]] = cur[port]
			if observe != nil {
				observe(port, cur[port])
			}
		}
		taken, err := step(g, c, values)
		if err != nil {
			return count, cur, err
		}
		if !taken {
			return count, cur, nil
		}
		next := make(map[ir.PortID]ir.Word, len(cur))
		for _, port := range c.Tracked {
			w, ok := values[c.Next[port]]
			if !ok {
				return count, cur, fmt.Errorf("no next value for port %q", g.Port(port).Name)
			}
			next[port] = w.Resize(g.Port(port).Value)
		}
		cur = next
	}
}

// step evaluates the sequence once. It reports whether the decision was true.
func step(g *ir.Graph, c *Circuit, values map[ir.BusID]ir.Word) (bool, error) {
	taken := false
	for _, id := range c.Sequence {
		comp := g.Component(id)
		inputs := make([]ir.Word, len(comp.Ports))
		for i, port := range comp.Ports {
			w, ok := values[c.PortBus[port]]
			if !ok {
				return false, fmt.Errorf("input %d of %q is not computed", i, comp.Name)
			}
			inputs[i] = w.Resize(g.Port(port).Value)
		}
		out, err := g.Emulate(id, inputs)
		if err != nil {
			return false, err
		}
		for i, w := range out {
			values[g.DataBus(id, i)] = w
		}
		if id == c.Test {
			if out[0].IsZero() {
				return false, nil
			}
			taken = true
		}
	}
	return taken, nil
}

// Iterations determines the trip count of loop. Any reason the count cannot
// be established yields ir.IterationsUnknown.
func Iterations(g *ir.Graph, loop ir.ComponentID) int {
	n, err := Analyze(g, loop)
	if err != nil {
		return ir.IterationsUnknown
	}
	return n
}

// Analyze is Iterations with the reason for an unknown count.
func Analyze(g *ir.Graph, loop ir.ComponentID) (int, error) {
	c, err := BuildCircuit(g, loop)
	if err != nil {
		return ir.IterationsUnknown, err
	}
	n, err := Count(g, c)
	if err != nil {
		name := g.Component(loop).Name
		if errors.Is(err, ErrIterationCap) {
			log.Debugf("loop %q: decision still true after %d iterations", name, MaxIterations)
		} else {
			log.Debugf("loop %q: emulation failed: %s", name, err)
		}
		return ir.IterationsUnknown, err
	}
	return n, nil
}
