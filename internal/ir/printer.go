package ir

import (
	"fmt"
	"io"
	"strings"
)

// Dump writes a simple human-readable representation of the design.
func Dump(g *Graph, w io.Writer) {
	if g == nil || g.Component(g.Top) == nil {
		fmt.Fprintln(w, "<nil design>")
		return
	}
	fmt.Fprintf(w, "design %s\n", g.Name)
	for _, id := range g.Resources() {
		r := g.Resource(id)
		fmt.Fprintf(w, "  %s %s %s[%d] accesses=%d\n", r.Kind, r.Name, r.Value, r.Size, len(r.Accesses))
	}
	dumpComponent(g, w, g.Top, 1)
}

func dumpComponent(g *Graph, w io.Writer, id ComponentID, depth int) {
	c := g.Component(id)
	indent := strings.Repeat("  ", depth)
	fmt.Fprintf(w, "%s%s %s%s\n", indent, c.Kind, c.Name, componentDetail(g, c))
	for i, e := range c.Entries {
		if line := renderEntry(g, e); line != "" {
			if len(c.Entries) > 1 {
				fmt.Fprintf(w, "%s    entry %d: %s\n", indent, i, line)
			} else {
				fmt.Fprintf(w, "%s    <- %s\n", indent, line)
			}
		}
	}
	for _, e := range c.Exits {
		ex := g.Exit(e)
		if len(ex.Buses) == 0 && len(c.Exits) == 1 {
			continue
		}
		buses := make([]string, 0, len(ex.Buses))
		for _, b := range ex.Buses {
			bus := g.Bus(b)
			buses = append(buses, fmt.Sprintf("%s:%s", bus.Name, bus.Value))
		}
		fmt.Fprintf(w, "%s    -> %s(%s)\n", indent, ex.Tag, strings.Join(buses, ", "))
	}
	for _, m := range g.Members(id) {
		dumpComponent(g, w, m, depth+1)
	}
}

func componentDetail(g *Graph, c *Component) string {
	switch {
	case c.Kind == Constant:
		return " = " + c.Const.String()
	case c.Loop != nil:
		if c.Loop.Iterations == IterationsUnknown {
			return " iterations=?"
		}
		return fmt.Sprintf(" iterations=%d", c.Loop.Iterations)
	case c.Body != nil:
		if c.Body.DecisionFirst {
			return " decision-first"
		}
		return " body-first"
	case c.Kind.IsAccess():
		if r := g.Resource(c.Resource); r != nil {
			return " " + r.Name
		}
	}
	return ""
}

func renderEntry(g *Graph, entry EntryID) string {
	e := g.Entry(entry)
	parts := make([]string, 0, len(e.Deps))
	for _, d := range e.Deps {
		dep := g.Dependency(d)
		if dep.Kind == ClockDep || dep.Kind == ResetDep {
			continue
		}
		parts = append(parts, fmt.Sprintf("%s=%s", g.Port(dep.Port).Name, busRef(g, dep.Bus)))
	}
	return strings.Join(parts, " ")
}

func busRef(g *Graph, id BusID) string {
	b := g.Bus(id)
	c := g.Component(b.Owner)
	if b.IsDone() {
		ex := g.Exit(b.Exit)
		if len(c.Exits) > 1 {
			return fmt.Sprintf("%s.%s.done", c.Name, ex.Tag)
		}
		return c.Name + ".done"
	}
	return fmt.Sprintf("%s.%s", c.Name, b.Name)
}
