package ir

import (
	"errors"
	"fmt"
	"strings"

	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"
)

// Verify checks the structural invariants of the design below Top and returns
// every violation found.
func (g *Graph) Verify() error {
	if g.Component(g.Top) == nil {
		return errors.New("verify: graph has no top module")
	}
	var errs []error
	fail := func(format string, args ...interface{}) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	reached := make(map[ComponentID]bool)
	g.Walk(g.Top, func(c *Component) bool {
		if reached[c.ID] {
			fail("component %q is contained twice", c.Name)
			return false
		}
		reached[c.ID] = true
		for _, m := range g.Members(c.ID) {
			if mc := g.Component(m); mc == nil {
				fail("module %q lists a removed member", c.Name)
			} else if mc.Owner != c.ID {
				fail("%q is listed by %q but owned by %d", mc.Name, c.Name, mc.Owner)
			}
		}
		if c.Module != nil && len(c.Module.OutBufs) != len(c.Exits) {
			fail("module %q has %d exits and %d outbufs", c.Name, len(c.Exits), len(c.Module.OutBufs))
		}
		return true
	})

	for _, c := range g.comps {
		if c == nil {
			continue
		}
		if !reached[c.ID] && c.Kind != Pin {
			fail("%s %q is not part of the design", c.Kind, c.Name)
			continue
		}
		for _, e := range c.Exits {
			ex := g.Exit(e)
			if ex == nil || g.Bus(ex.Done) == nil {
				fail("exit of %q has no done bus", c.Name)
			}
		}
		if c.ID == g.Top || c.Kind == InBuf || c.Kind == Pin {
			continue
		}
		for _, e := range c.Entries {
			for _, p := range g.AllPorts(c.ID) {
				if !g.Port(p).Used {
					continue
				}
				if n := len(g.Deps(e, p)); n != 1 {
					fail("port %q of %s %q has %d dependencies in entry %d", g.Port(p).Name, c.Kind, c.Name, n, e)
				}
			}
		}
	}

	for _, d := range g.deps {
		if d == nil {
			continue
		}
		if g.Entry(d.Entry) == nil || g.Port(d.Port) == nil || g.Bus(d.Bus) == nil {
			fail("dependency %d references a removed entity", d.ID)
			continue
		}
		if owner := g.ComponentOf(d.Bus); owner == nil || (!reached[owner.ID] && owner.Kind != Pin) {
			fail("dependency %d reads a bus outside the design", d.ID)
		}
	}

	for _, r := range g.resources {
		if r == nil {
			continue
		}
		for _, a := range r.Accesses {
			c := g.Component(a)
			if c == nil || !reached[a] {
				fail("resource %q references a removed access", r.Name)
			} else if !c.Kind.IsAccess() || c.Resource != r.ID {
				fail("resource %q references %s %q", r.Name, c.Kind, c.Name)
			}
		}
	}

	for _, l := range g.Loops(g.Top) {
		lc := g.Component(l)
		for _, s := range append(append([]ComponentID(nil), lc.Loop.DataRegisters...), lc.Loop.DataLatches...) {
			if sc := g.Component(s); sc == nil || !sc.Kind.IsStorage() {
				fail("loop %q lists a storage element that is not a register or latch", lc.Name)
			}
		}
	}
	return errors.Join(errs...)
}

// CheckAcyclic reports an error if the data and control dependencies between
// the components below root form a cycle. Loops are the only legal source of
// cycles, so a graph without Loop components must pass.
func (g *Graph) CheckAcyclic(root ComponentID) error {
	dg := simple.NewDirectedGraph()
	inTree := make(map[ComponentID]bool)
	for _, id := range g.Subtree(root) {
		inTree[id] = true
		dg.AddNode(simple.Node(id))
	}
	for id := range inTree {
		for _, e := range g.Component(id).Entries {
			for _, d := range g.Entry(e).Deps {
				dep := g.Dependency(d)
				if dep.Kind == ClockDep || dep.Kind == ResetDep {
					continue
				}
				from := g.Bus(dep.Bus).Owner
				if !inTree[from] {
					continue
				}
				if from == id {
					return fmt.Errorf("%q depends on itself", g.Component(id).Name)
				}
				dg.SetEdge(dg.NewEdge(simple.Node(from), simple.Node(id)))
			}
		}
	}
	if _, err := topo.Sort(dg); err != nil {
		var cycles topo.Unorderable
		if errors.As(err, &cycles) && len(cycles) > 0 {
			names := make([]string, 0, len(cycles[0]))
			for _, n := range cycles[0] {
				names = append(names, g.Component(ComponentID(n.ID())).Name)
			}
			return fmt.Errorf("dependency cycle through %s", strings.Join(names, ", "))
		}
		return err
	}
	return nil
}
