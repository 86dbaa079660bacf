package passes

import (
	"fmt"

	"github.com/orcc/xronos-sub010/internal/diag"
	"github.com/orcc/xronos-sub010/internal/ir"
)

// WidthInference propagates width and signedness facts across the graph,
// fills in values left unknown by the front end, and reports implicit
// truncation or sign changes.
type WidthInference struct {
	reporter      *diag.Reporter
	maxIterations int
}

// NewWidthInference constructs the pass. reporter is optional but recommended
// so the pass can surface precise diagnostics.
func NewWidthInference(reporter *diag.Reporter) *WidthInference {
	return &WidthInference{
		reporter:      reporter,
		maxIterations: 32,
	}
}

// Name implements the Pass interface.
func (w *WidthInference) Name() string {
	return "width-inference"
}

// Run executes the pass over the entire design.
func (w *WidthInference) Run(g *ir.Graph) error {
	if g == nil || g.Component(g.Top) == nil {
		return fmt.Errorf("width inference requires a design with a top module")
	}
	comps := g.Subtree(g.Top)
	changed := true
	iteration := 0
	for changed {
		iteration++
		if iteration > w.maxIterations {
			return fmt.Errorf("width inference did not converge for design %s", g.Name)
		}
		changed = false
		for _, id := range comps {
			if w.visit(g, g.Component(id)) {
				changed = true
			}
		}
	}
	unknown := 0
	for _, id := range comps {
		c := g.Component(id)
		for _, b := range g.AllBuses(id) {
			if bus := g.Bus(b); !bus.IsDone() && bus.Value.IsUnknown() {
				w.report(c, fmt.Sprintf("width of %s could not be inferred", busLabel(c, bus)))
				unknown++
			}
		}
		w.checkInputs(g, c)
	}
	if unknown > 0 {
		return fmt.Errorf("width inference left %d values unknown", unknown)
	}
	if w.reporter != nil && w.reporter.HasErrors() {
		return fmt.Errorf("width inference reported errors")
	}
	return nil
}

func (w *WidthInference) visit(g *ir.Graph, c *ir.Component) bool {
	changed := false
	// Ports take the value of their driver.
	for _, e := range c.Entries {
		for _, p := range c.Ports {
			port := g.Port(p)
			if !port.Value.IsUnknown() {
				continue
			}
			if bus, ok := g.Driver(e, p); ok {
				changed = copyValue(&port.Value, g.Bus(bus).Value) || changed
			}
		}
	}
	switch {
	case c.Kind == ir.InBuf:
		mod := g.Component(c.Owner)
		for i, b := range g.Exit(g.MainExit(c.ID)).Buses {
			changed = copyValue(&g.Bus(b).Value, g.Port(mod.Ports[i]).Value) || changed
		}
	case c.Kind == ir.OutBuf:
		ex := g.Exit(c.ForExit)
		for i, p := range c.Ports {
			changed = copyValue(&g.Bus(ex.Buses[i]).Value, g.Port(p).Value) || changed
		}
	case c.Kind.Emulatable() && c.Kind != ir.Constant:
		out := g.Bus(g.DataBus(c.ID, 0))
		if out.Value.IsUnknown() {
			changed = copyValue(&out.Value, resultFor(g, c)) || changed
		}
	case c.Kind.IsStorage():
		q := g.Bus(g.DataBus(c.ID, 0))
		changed = copyValue(&q.Value, g.Port(c.Ports[0]).Value) || changed
	}
	return changed
}

// resultFor infers the result value of an operator from its operands.
func resultFor(g *ir.Graph, c *ir.Component) ir.Value {
	operand := func(i int) ir.Value {
		if i >= len(c.Ports) {
			return ir.Value{}
		}
		return g.Port(c.Ports[i]).Value
	}
	switch c.Kind {
	case ir.Lt, ir.Le, ir.Gt, ir.Ge, ir.Eq, ir.Ne:
		return ir.Bool
	case ir.Mux:
		return widest(operand(1), operand(2))
	case ir.NoOp, ir.Not, ir.Neg, ir.Shl, ir.Shr:
		return operand(0)
	default:
		return widest(operand(0), operand(1))
	}
}

func widest(a, b ir.Value) ir.Value {
	if a.IsUnknown() || b.IsUnknown() {
		return ir.Value{}
	}
	out := a
	if b.Width > out.Width {
		out.Width = b.Width
	}
	out.Signed = a.Signed || b.Signed
	return out
}

// checkInputs reports data dependencies whose bus does not fit the port.
func (w *WidthInference) checkInputs(g *ir.Graph, c *ir.Component) {
	if c.Kind == ir.Cast || c.Kind.IsStorage() {
		return
	}
	for _, e := range c.Entries {
		for _, p := range c.Ports {
			port := g.Port(p)
			bus, ok := g.Driver(e, p)
			if !ok || port.Value.IsUnknown() {
				continue
			}
			src := g.Bus(bus).Value
			if src.IsUnknown() {
				continue
			}
			if src.Width > port.Value.Width {
				w.warn(c, fmt.Sprintf("%s (%s) truncated to %s on %q; add an explicit conversion",
					busLabel(g.ComponentOf(bus), g.Bus(bus)), src, port.Value, port.Name))
			} else if src.Signed != port.Value.Signed && c.Kind != ir.Shl && c.Kind != ir.Shr {
				w.warn(c, fmt.Sprintf("%s (%s) changes signedness on %q (%s)",
					busLabel(g.ComponentOf(bus), g.Bus(bus)), src, port.Name, port.Value))
			}
		}
	}
}

func (w *WidthInference) report(c *ir.Component, msg string) {
	if w.reporter == nil {
		return
	}
	w.reporter.ErrorAt(c.Source, msg)
}

func (w *WidthInference) warn(c *ir.Component, msg string) {
	if w.reporter == nil {
		return
	}
	w.reporter.WarningAt(c.Source, msg)
}

func copyValue(dst *ir.Value, src ir.Value) bool {
	if src.IsUnknown() || *dst == src || !dst.IsUnknown() {
		return false
	}
	*dst = src
	return true
}

func busLabel(c *ir.Component, b *ir.Bus) string {
	if c == nil {
		return "value"
	}
	return fmt.Sprintf("%s.%s", c.Name, b.Name)
}
