package unroll

import (
	"fmt"

	"github.com/orcc/xronos-sub010/internal/ir"
)

// role says how a component of the original loop is found again in the
// unrolled block.
type role uint8

const (
	roleNone     role = iota
	roleLoopIn        // the loop's InBuf: the outer block's InBuf
	roleInit          // inside the init block: the init clone
	roleLoopBody      // the loop body: the iteration before, or the last one
	roleBodyIn        // the loop body's InBuf: the current iteration's InBuf
	roleTest          // inside the test block: the current test clone
	roleBody          // inside the body block: the current body clone
	roleUpdate        // inside the update block: the current update clone
)

// iteration is one instantiation of the loop body.
type iteration struct {
	block  ir.ComponentID
	last   bool
	clones map[role]*ir.CloneMap
	// order lists the template roots in document order.
	order []ir.ComponentID
}

type unroller struct {
	g    *ir.Graph
	loop *ir.Component
	name string
	n    int

	body      *ir.Component
	dec       *ir.Component
	test      ir.ComponentID
	block     ir.ComponentID
	update    ir.ComponentID
	initBlock ir.ComponentID
	first     bool

	roles map[ir.ComponentID]role

	outer     ir.ComponentID
	initClone *ir.CloneMap
	iters     []*iteration
}

func newUnroller(g *ir.Graph, l *ir.Component, n int) *unroller {
	const op = "unroll"
	body := g.Component(l.Loop.Body)
	ir.Assertf(body != nil && body.Body != nil, op, "loop %q has no body", l.Name)
	dec := g.Component(body.Body.Decision)
	ir.Assertf(dec != nil && dec.Decision != nil, op, "loop %q has no decision", l.Name)
	ir.Assertf(g.Component(dec.Decision.Test) != nil, op, "decision of %q has no test", l.Name)
	ir.Assertf(g.Component(body.Body.Body) != nil, op, "loop %q has no body block", l.Name)
	ir.Assertf(g.Component(l.Loop.Init) != nil, op, "loop %q has no init block", l.Name)
	ir.Assertf(len(body.Entries) == 2, op, "body of %q has %d entries", l.Name, len(body.Entries))
	u := &unroller{
		g:         g,
		loop:      l,
		name:      l.Name,
		n:         n,
		body:      body,
		dec:       dec,
		test:      dec.Decision.Test,
		block:     body.Body.Body,
		update:    body.Body.Update,
		initBlock: l.Loop.Init,
		first:     body.Body.DecisionFirst,
		roles:     make(map[ir.ComponentID]role),
	}
	u.roles[l.Module.InBuf] = roleLoopIn
	u.roles[body.ID] = roleLoopBody
	u.roles[body.Module.InBuf] = roleBodyIn
	for r, root := range map[role]ir.ComponentID{
		roleInit:   u.initBlock,
		roleTest:   u.test,
		roleBody:   u.block,
		roleUpdate: u.update,
	} {
		for _, id := range g.Subtree(root) {
			u.roles[id] = r
		}
	}
	return u
}

// estimate returns the number of components the unrolled block will hold.
func (u *unroller) estimate() int {
	per := len(u.g.Subtree(u.test)) + len(u.g.Subtree(u.block)) + len(u.g.Subtree(u.update)) + 2
	return len(u.g.Subtree(u.initBlock)) + 2 + (u.n+1)*per
}

// templates returns the template roots of iteration i in document order.
func (u *unroller) templates(last bool) []ir.ComponentID {
	var out []ir.ComponentID
	work := []ir.ComponentID{u.block}
	if u.update != ir.NoComponent {
		work = append(work, u.update)
	}
	if u.first {
		out = append(out, u.test)
		if !last {
			out = append(out, work...)
		}
		return out
	}
	return append(work, u.test)
}

// build creates the outer block, the init clone and one block per iteration.
// Existing entities change only through Clone, which registers the new
// accesses with their resources and the new readers with outside buses.
func (u *unroller) build() {
	g := u.g
	u.outer = g.NewBlock(u.name + "_unrolled")
	g.Component(u.outer).Source = u.loop.Source
	for _, id := range u.loop.Ports {
		p := g.Port(id)
		g.AddModulePort(u.outer, p.Name, p.Value)
	}
	outerExit := g.MainExit(u.outer)
	for _, id := range g.Exit(g.MainExit(u.loop.ID)).Buses {
		b := g.Bus(id)
		g.AddModuleBus(u.outer, outerExit, b.Name, b.Value)
	}

	u.initClone = g.Clone(u.initBlock)
	g.AddChild(u.outer, u.initClone.Root)

	feedback := g.Exit(g.ExitByTag(u.body.ID, ir.FeedbackExit))
	complete := g.Exit(g.ExitByTag(u.body.ID, ir.CompleteExit))
	for i := 0; i <= u.n; i++ {
		it := &iteration{last: i == u.n, clones: make(map[role]*ir.CloneMap)}
		it.block = g.NewBlock(fmt.Sprintf("%s_iter%d", u.name, i))
		for _, id := range u.body.Ports {
			p := g.Port(id)
			g.AddModulePort(it.block, p.Name, p.Value)
		}
		tmpl := feedback
		if it.last {
			tmpl = complete
		}
		exit := g.MainExit(it.block)
		for _, id := range tmpl.Buses {
			b := g.Bus(id)
			g.AddModuleBus(it.block, exit, b.Name, b.Value)
		}
		for _, root := range u.templates(it.last) {
			m := g.Clone(root)
			it.clones[u.roles[root]] = m
			it.order = append(it.order, root)
			g.AddChild(it.block, m.Root)
		}
		g.AddChild(u.outer, it.block)
		u.iters = append(u.iters, it)
	}
}

// rewire drives every port created by build.
func (u *unroller) rewire() {
	g := u.g
	initRoot := g.Component(u.initClone.Root)
	u.connectLike(u.initBlock, g.Component(u.initBlock).Entries[0], initRoot, -1)
	u.fixInner(u.initBlock, u.initClone, -1)

	for i, it := range u.iters {
		blk := g.Component(it.block)
		entry := u.body.Entries[1]
		if i == 0 {
			entry = u.body.Entries[0]
		}
		u.connectLike(u.body.ID, entry, blk, i)

		tag := ir.FeedbackExit
		if it.last {
			tag = ir.CompleteExit
		}
		tmplOut := g.OutBufFor(u.body.ID, g.ExitByTag(u.body.ID, tag))
		newOut := g.Component(g.OutBufFor(it.block, g.MainExit(it.block)))
		u.connectLike(tmplOut, g.Component(tmplOut).Entries[0], newOut, i)

		for _, root := range it.order {
			m := it.clones[u.roles[root]]
			u.connectLike(root, g.Component(root).Entries[0], g.Component(m.Root), i)
			u.fixInner(root, m, i)
		}
	}

	loopOut := g.OutBufFor(u.loop.ID, g.MainExit(u.loop.ID))
	outerOut := g.Component(g.OutBufFor(u.outer, g.MainExit(u.outer)))
	u.connectLike(loopOut, g.Component(loopOut).Entries[0], outerOut, u.n)
}

// connectLike drives every port of target the way the matching port of tmpl is
// driven under entry, in the context of iteration i (-1 outside iterations).
func (u *unroller) connectLike(tmpl ir.ComponentID, entry ir.EntryID, target *ir.Component, i int) {
	g := u.g
	t := g.Component(tmpl)
	ir.Assertf(len(t.Ports) == len(target.Ports), "unroll", "%q has %d ports, %q has %d", t.Name, len(t.Ports), target.Name, len(target.Ports))
	ports := append([]ir.PortID{t.Go}, t.Ports...)
	news := append([]ir.PortID{target.Go}, target.Ports...)
	for k, p := range ports {
		if !g.Port(p).Used {
			continue
		}
		deps := g.Deps(entry, p)
		ir.Assertf(len(deps) == 1, "unroll", "port %q of %q has %d dependencies", g.Port(p).Name, t.Name, len(deps))
		dep := g.Dependency(deps[0])
		g.ConnectKind(target.Entries[0], news[k], u.mapBus(u.trace(dep.Bus), i), dep.Kind)
	}
}

// fixInner remaps dependencies that Clone copied verbatim because they left the
// template subtree but still point into the loop.
func (u *unroller) fixInner(root ir.ComponentID, m *ir.CloneMap, i int) {
	g := u.g
	for _, id := range g.Subtree(root) {
		if id == root {
			continue
		}
		for _, e := range g.Component(m.Component(id)).Entries {
			for _, d := range append([]ir.DependencyID(nil), g.Entry(e).Deps...) {
				dep := g.Dependency(d)
				if !g.Contains(u.loop.ID, g.Bus(dep.Bus).Owner) || g.Contains(m.Root, g.Bus(dep.Bus).Owner) {
					continue
				}
				g.ConnectKind(e, dep.Port, u.mapBus(u.trace(dep.Bus), i), dep.Kind)
				g.RemoveDependency(d)
			}
		}
	}
}

// trace follows a bus of the original loop through the indirections that have
// no counterpart in the unrolled block: the loop's registers and latches, and
// the decision wrapper around the test block.
func (u *unroller) trace(bus ir.BusID) ir.BusID {
	g := u.g
	for {
		b := g.Bus(bus)
		c := g.Component(b.Owner)
		switch {
		case c.Kind.IsStorage() && g.IsLoopStorage(u.loop.ID, c.ID):
			next, ok := g.Driver(c.Entries[0], c.Ports[0])
			ir.Assertf(ok, "unroll", "data input of %q does not have one dependency", c.Name)
			bus = next
		case c.ID == u.dec.ID:
			if b.IsDone() {
				bus = g.DoneBus(u.test)
				continue
			}
			port := g.OutBufPort(bus)
			ob := g.Component(g.Port(port).Owner)
			next, ok := g.Driver(ob.Entries[0], port)
			ir.Assertf(ok, "unroll", "decision output %q does not have one dependency", b.Name)
			bus = next
		case c.ID == u.dec.Module.InBuf:
			next, ok := g.Driver(u.dec.Entries[0], g.PortFor(bus))
			ir.Assertf(ok, "unroll", "decision input %q does not have one dependency", b.Name)
			bus = next
		default:
			return bus
		}
	}
}

// mapBus selects the bus of the unrolled block at the same position as bus in
// the original loop, in the context of iteration i.
func (u *unroller) mapBus(bus ir.BusID, i int) ir.BusID {
	g := u.g
	b := g.Bus(bus)
	old := g.Component(b.Owner)
	r := u.roles[old.ID]
	var nc ir.ComponentID
	exitIndex := -1
	for k, e := range old.Exits {
		if e == b.Exit {
			exitIndex = k
		}
	}
	switch r {
	case roleLoopIn:
		nc = g.Component(u.outer).Module.InBuf
	case roleInit:
		nc = u.initClone.Component(old.ID)
	case roleLoopBody:
		exitIndex = 0
		if g.Exit(b.Exit).Tag == ir.CompleteExit {
			nc = u.iters[u.n].block
		} else {
			ir.Assertf(i > 0, "unroll", "feedback of %q read before the first iteration", u.name)
			nc = u.iters[i-1].block
		}
	case roleBodyIn:
		ir.Assertf(i >= 0, "unroll", "input of %q read outside an iteration", u.name)
		nc = g.Component(u.iters[i].block).Module.InBuf
	case roleTest, roleBody, roleUpdate:
		ir.Assertf(i >= 0, "unroll", "%q read outside an iteration", old.Name)
		m, ok := u.iters[i].clones[r]
		ir.Assertf(ok, "unroll", "%q has no copy in iteration %d", old.Name, i)
		nc = m.Component(old.ID)
	default:
		ir.Assertf(!g.Contains(u.loop.ID, old.ID), "unroll", "%s %q has no counterpart", old.Kind, old.Name)
		return bus
	}
	n := g.Component(nc)
	ir.Assertf(n != nil && exitIndex >= 0 && exitIndex < len(n.Exits), "unroll", "%q has no exit matching %q", n.Name, old.Name)
	ex := g.Exit(n.Exits[exitIndex])
	if b.IsDone() {
		return ex.Done
	}
	ir.Assertf(b.Index < len(ex.Buses), "unroll", "%q has no bus %d", n.Name, b.Index)
	return ex.Buses[b.Index]
}

// splice releases the original loop's resources, puts the outer block in the
// loop's place and frees the loop.
func (u *unroller) splice() {
	g := u.g
	detached := g.DetachResources(u.loop.ID)
	if detached > 0 {
		log.Debugf("loop %q: released %d memory accesses", u.name, detached)
	}
	oldBuses := g.AllBuses(u.loop.ID)
	newBuses := g.AllBuses(u.outer)
	ir.Assertf(len(oldBuses) == len(newBuses), "unroll", "%q and its replacement have different exits", u.name)
	for k := range oldBuses {
		g.RedirectReaders(oldBuses[k], newBuses[k])
	}
	g.MoveDependencies(u.loop.ID, u.outer)
	g.ReplaceChild(u.loop.ID, u.outer)
	g.Free(u.loop.ID)
}
