package ir

// RedirectReaders moves every dependency reading from onto to.
func (g *Graph) RedirectReaders(from, to BusID) {
	src, dst := g.Bus(from), g.Bus(to)
	Assertf(src != nil && dst != nil, "RedirectReaders", "bus %d or %d does not exist", from, to)
	for _, d := range src.Readers {
		g.Dependency(d).Bus = to
		dst.Readers = append(dst.Readers, d)
	}
	src.Readers = nil
}

// MoveDependencies rewires the dependencies of from's entries onto to. Ports
// are matched by position and the go port onto the go port; from must have a
// single entry and to must have the same port shape.
func (g *Graph) MoveDependencies(from, to ComponentID) {
	const op = "MoveDependencies"
	src, dst := g.Component(from), g.Component(to)
	Assertf(src != nil && dst != nil, op, "component %d or %d does not exist", from, to)
	Assertf(len(src.Entries) == 1 && len(dst.Entries) == 1, op, "%q or %q does not have a single entry", src.Name, dst.Name)
	Assertf(len(src.Ports) == len(dst.Ports), op, "%q has %d ports, %q has %d", src.Name, len(src.Ports), dst.Name, len(dst.Ports))
	entry := g.Entry(src.Entries[0])
	for _, d := range append([]DependencyID(nil), entry.Deps...) {
		dep := g.Dependency(d)
		p := g.Port(dep.Port)
		target := dst.Go
		if p.Kind == DataPort {
			target = dst.Ports[p.Index]
		}
		Assertf(target != NoPort, op, "%q has no port matching %q", dst.Name, p.Name)
		g.ConnectKind(dst.Entries[0], target, dep.Bus, dep.Kind)
		g.RemoveDependency(d)
	}
}

// ReplaceChild puts replacement in old's place inside old's owner, including
// any structural role old had there. old is left without an owner.
func (g *Graph) ReplaceChild(old, replacement ComponentID) {
	const op = "ReplaceChild"
	o, r := g.Component(old), g.Component(replacement)
	Assertf(o != nil && r != nil, op, "component %d or %d does not exist", old, replacement)
	Assertf(r.Owner == NoComponent, op, "%q already has an owner", r.Name)
	parent := g.Component(o.Owner)
	Assertf(parent != nil && parent.Module != nil, op, "%q has no owning module", o.Name)
	found := false
	for i, c := range parent.Module.Children {
		if c == old {
			parent.Module.Children[i] = replacement
			found = true
		}
	}
	Assertf(found, op, "%q is not a child of %q", o.Name, parent.Name)
	swap := func(id *ComponentID) {
		if *id == old {
			*id = replacement
		}
	}
	if parent.Loop != nil {
		swap(&parent.Loop.Init)
		swap(&parent.Loop.Body)
	}
	if parent.Body != nil {
		swap(&parent.Body.Decision)
		swap(&parent.Body.Body)
		swap(&parent.Body.Update)
	}
	if parent.Decision != nil {
		swap(&parent.Decision.Test)
	}
	r.Owner = parent.ID
	o.Owner = NoComponent
}

// DetachResources removes every access component below root from the
// back-references of its resource.
func (g *Graph) DetachResources(root ComponentID) int {
	n := 0
	for _, id := range g.Subtree(root) {
		c := g.Component(id)
		r := g.Resource(c.Resource)
		if r == nil {
			continue
		}
		out := r.Accesses[:0]
		for _, a := range r.Accesses {
			if a != id {
				out = append(out, a)
			} else {
				n++
			}
		}
		r.Accesses = out
	}
	return n
}

// Free disconnects and removes root and every component below it. Handles to
// the removed entities resolve to nil afterwards.
func (g *Graph) Free(root ComponentID) {
	tree := g.Subtree(root)
	for _, id := range tree {
		c := g.Component(id)
		for _, e := range c.Entries {
			for _, d := range append([]DependencyID(nil), g.Entry(e).Deps...) {
				g.RemoveDependency(d)
			}
		}
		for _, b := range g.AllBuses(id) {
			for _, d := range append([]DependencyID(nil), g.Bus(b).Readers...) {
				g.RemoveDependency(d)
			}
		}
	}
	for _, id := range tree {
		c := g.Component(id)
		for _, p := range g.AllPorts(id) {
			g.ports[p] = nil
		}
		for _, e := range c.Exits {
			ex := g.Exit(e)
			g.buses[ex.Done] = nil
			for _, b := range ex.Buses {
				g.buses[b] = nil
			}
			g.exits[e] = nil
		}
		for _, e := range c.Entries {
			g.entries[e] = nil
		}
		if r := g.Resource(c.Resource); r != nil {
			out := r.Accesses[:0]
			for _, a := range r.Accesses {
				if a != id {
					out = append(out, a)
				}
			}
			r.Accesses = out
		}
	}
	for _, id := range tree {
		g.comps[id] = nil
	}
}
