package ir

// CloneMap records the copy of every entity made by Clone.
type CloneMap struct {
	Root       ComponentID
	Components map[ComponentID]ComponentID
	Ports      map[PortID]PortID
	Buses      map[BusID]BusID
	Exits      map[ExitID]ExitID
	Entries    map[EntryID]EntryID
}

func newCloneMap() *CloneMap {
	return &CloneMap{
		Components: make(map[ComponentID]ComponentID),
		Ports:      make(map[PortID]PortID),
		Buses:      make(map[BusID]BusID),
		Exits:      make(map[ExitID]ExitID),
		Entries:    make(map[EntryID]EntryID),
	}
}

// Component returns the copy of id, or id itself when it was not cloned.
func (m *CloneMap) Component(id ComponentID) ComponentID {
	if c, ok := m.Components[id]; ok {
		return c
	}
	return id
}

// Bus returns the copy of id, or id itself when it was not cloned.
func (m *CloneMap) Bus(id BusID) BusID {
	if b, ok := m.Buses[id]; ok {
		return b
	}
	return id
}

// Port returns the copy of id, or NoPort.
func (m *CloneMap) Port(id PortID) PortID {
	if p, ok := m.Ports[id]; ok {
		return p
	}
	return NoPort
}

// Clone deep-copies the subtree rooted at root. The copy is detached: its root
// has no owner and none of its dependencies. Dependencies inside the subtree
// are remapped onto the copy; dependencies of inner components on buses outside
// the subtree are copied as they are. Access components of the copy register
// themselves with their resource.
func (g *Graph) Clone(root ComponentID) *CloneMap {
	c := g.Component(root)
	Assertf(c != nil && c.Kind.Clonable(), "Clone", "component %d cannot be cloned", root)
	m := newCloneMap()
	tree := g.Subtree(root)
	for _, id := range tree {
		g.copyShape(id, m)
	}
	for _, id := range tree {
		g.copyPayload(id, root, m)
	}
	for _, id := range tree {
		if id == root {
			continue
		}
		for _, e := range g.Component(id).Entries {
			for _, d := range g.Entry(e).Deps {
				dep := g.Dependency(d)
				g.ConnectKind(m.Entries[e], m.Ports[dep.Port], m.Bus(dep.Bus), dep.Kind)
			}
		}
	}
	m.Root = m.Components[root]
	return m
}

func (g *Graph) copyShape(id ComponentID, m *CloneMap) {
	old := g.Component(id)
	c := &Component{
		ID:       ComponentID(len(g.comps)),
		Kind:     old.Kind,
		Name:     g.uniqueName(old.Name),
		Owner:    NoComponent,
		Go:       NoPort,
		Clock:    NoPort,
		Reset:    NoPort,
		Source:   old.Source,
		Const:    old.Const,
		Resource: old.Resource,
		ForExit:  NoExit,
	}
	g.comps = append(g.comps, c)
	m.Components[id] = c.ID
	copyPort := func(p PortID) PortID {
		if p == NoPort {
			return NoPort
		}
		op := g.Port(p)
		np := g.addPort(c, op.Kind, op.Name, op.Value)
		g.ports[np].Used = op.Used
		m.Ports[p] = np
		return np
	}
	c.Go = copyPort(old.Go)
	c.Clock = copyPort(old.Clock)
	c.Reset = copyPort(old.Reset)
	for _, p := range old.Ports {
		copyPort(p)
	}
	for _, e := range old.Exits {
		oe := g.Exit(e)
		ne := g.AddExit(c.ID, oe.Tag)
		m.Exits[e] = ne
		m.Buses[oe.Done] = g.Exit(ne).Done
		g.buses[g.Exit(ne).Done].Used = g.Bus(oe.Done).Used
		for _, b := range oe.Buses {
			ob := g.Bus(b)
			nb := g.AddBus(ne, ob.Name, ob.Value)
			g.buses[nb].Used = ob.Used
			m.Buses[b] = nb
		}
	}
	for _, e := range old.Entries {
		m.Entries[e] = g.AddEntry(c.ID, NoExit)
	}
}

func (g *Graph) copyPayload(id, root ComponentID, m *CloneMap) {
	old := g.Component(id)
	c := g.Component(m.Components[id])
	if id != root {
		c.Owner = m.Component(old.Owner)
	}
	if old.ForExit != NoExit {
		c.ForExit = m.Exits[old.ForExit]
	}
	for i, e := range old.Entries {
		if drv := g.Entry(e).Driver; drv != NoExit {
			if ne, ok := m.Exits[drv]; ok {
				drv = ne
			}
			g.Entry(c.Entries[i]).Driver = drv
		}
	}
	if r := g.Resource(old.Resource); r != nil {
		r.Accesses = append(r.Accesses, c.ID)
	}
	list := func(ids []ComponentID) []ComponentID {
		if ids == nil {
			return nil
		}
		out := make([]ComponentID, len(ids))
		for i, x := range ids {
			out[i] = m.Component(x)
		}
		return out
	}
	if old.Module != nil {
		c.Module = &ModuleInfo{
			InBuf:    m.Component(old.Module.InBuf),
			OutBufs:  list(old.Module.OutBufs),
			Children: list(old.Module.Children),
		}
	}
	if old.Loop != nil {
		c.Loop = &LoopInfo{
			Init:            m.Component(old.Loop.Init),
			Body:            m.Component(old.Loop.Body),
			DataRegisters:   list(old.Loop.DataRegisters),
			DataLatches:     list(old.Loop.DataLatches),
			ControlRegister: m.Component(old.Loop.ControlRegister),
			Iterations:      old.Loop.Iterations,
		}
	}
	if old.Body != nil {
		c.Body = &LoopBodyInfo{
			Decision:      m.Component(old.Body.Decision),
			Body:          m.Component(old.Body.Body),
			Update:        m.Component(old.Body.Update),
			DecisionFirst: old.Body.DecisionFirst,
		}
	}
	if old.Decision != nil {
		c.Decision = &DecisionInfo{
			Test:          m.Component(old.Decision.Test),
			TestComponent: m.Component(old.Decision.TestComponent),
		}
	}
}
