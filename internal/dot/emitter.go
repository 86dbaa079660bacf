// Package dot renders a design as a Graphviz digraph: one cluster per module
// and one edge per dependency.
package dot

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/orcc/xronos-sub010/internal/ir"
)

// Emit writes the DOT representation of the design to outputPath. When
// outputPath is empty or "-", the result is written to stdout.
func Emit(g *ir.Graph, outputPath string) error {
	var w io.Writer
	if outputPath == "" || outputPath == "-" {
		w = os.Stdout
	} else {
		f, err := os.Create(outputPath)
		if err != nil {
			return err
		}
		defer f.Close()
		w = f
	}
	return Write(g, w)
}

// Write renders g onto w.
func Write(g *ir.Graph, w io.Writer) error {
	if g == nil || g.Component(g.Top) == nil {
		return fmt.Errorf("dot: design has no top module")
	}
	pr := &printer{w: w, g: g}
	fmt.Fprintf(w, "digraph %q {\n", g.Name)
	pr.indent++
	pr.line("compound=true;")
	pr.line(`node [shape=box, fontname="monospace"];`)
	pr.emitComponent(g.Top)
	pr.emitEdges()
	pr.indent--
	fmt.Fprintln(w, "}")
	return nil
}

type printer struct {
	w      io.Writer
	g      *ir.Graph
	indent int
}

func (p *printer) line(format string, args ...interface{}) {
	p.printIndent()
	fmt.Fprintf(p.w, format, args...)
	fmt.Fprintln(p.w)
}

func (p *printer) printIndent() {
	fmt.Fprint(p.w, strings.Repeat("  ", p.indent))
}

func (p *printer) emitComponent(id ir.ComponentID) {
	c := p.g.Component(id)
	if c.Module == nil {
		p.line("n%d [label=%q, shape=%s];", c.ID, label(p.g, c), shape(c.Kind))
		return
	}
	p.line("subgraph cluster_%d {", c.ID)
	p.indent++
	p.line("label=%q;", label(p.g, c))
	if c.Kind == ir.Loop {
		p.line("style=rounded;")
	}
	for _, m := range p.g.Members(id) {
		p.emitComponent(m)
	}
	p.indent--
	p.line("}")
}

// emitEdges draws one edge per data and control dependency. Module ports are
// drawn into the module's InBuf and module buses out of the OutBuf feeding
// them, so every edge joins two nodes.
func (p *printer) emitEdges() {
	for _, id := range p.g.Subtree(p.g.Top) {
		c := p.g.Component(id)
		for _, e := range c.Entries {
			for _, d := range p.g.Entry(e).Deps {
				dep := p.g.Dependency(d)
				if dep.Kind == ir.ClockDep || dep.Kind == ir.ResetDep {
					continue
				}
				from := p.source(dep.Bus)
				to := c.ID
				if c.Module != nil {
					to = c.Module.InBuf
				}
				port := p.g.Port(dep.Port)
				if port.Kind == ir.GoPort {
					p.line("n%d -> n%d [style=dashed];", from, to)
					continue
				}
				p.line("n%d -> n%d [label=%q];", from, to, port.Name)
			}
		}
	}
}

func (p *printer) source(bus ir.BusID) ir.ComponentID {
	b := p.g.Bus(bus)
	owner := p.g.Component(b.Owner)
	if owner.Module != nil {
		return p.g.OutBufFor(owner.ID, b.Exit)
	}
	return owner.ID
}

func label(g *ir.Graph, c *ir.Component) string {
	l := fmt.Sprintf("%s %s", c.Kind, c.Name)
	switch {
	case c.Kind == ir.Constant:
		l += " = " + c.Const.String()
	case c.Kind.IsStorage():
		l += " init=" + c.Const.String()
	case c.Kind.IsAccess():
		if r := g.Resource(c.Resource); r != nil {
			l += " " + r.Name
		}
	case c.Loop != nil:
		if c.Loop.Iterations == ir.IterationsUnknown {
			l += " iterations=?"
		} else {
			l += fmt.Sprintf(" iterations=%d", c.Loop.Iterations)
		}
	}
	return l
}

func shape(k ir.Kind) string {
	switch {
	case k == ir.InBuf:
		return "invhouse"
	case k == ir.OutBuf:
		return "house"
	case k == ir.Constant:
		return "plaintext"
	case k.IsStorage():
		return "box3d"
	case k.IsAccess():
		return "cylinder"
	case k == ir.Mux:
		return "trapezium"
	}
	return "box"
}
