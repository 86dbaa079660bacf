package ir

import "fmt"

// uniqueName returns base, or base with a numeric suffix when base is taken.
func (g *Graph) uniqueName(base string) string {
	if base == "" {
		base = "c"
	}
	n := g.names[base]
	g.names[base] = n + 1
	if n == 0 {
		return base
	}
	return fmt.Sprintf("%s_%d", base, n)
}

// newComponent allocates a component with a go port and a single entry.
func (g *Graph) newComponent(kind Kind, name string) *Component {
	c := &Component{
		ID:       ComponentID(len(g.comps)),
		Kind:     kind,
		Name:     g.uniqueName(name),
		Owner:    NoComponent,
		Go:       NoPort,
		Clock:    NoPort,
		Reset:    NoPort,
		Resource: NoResource,
		ForExit:  NoExit,
	}
	g.comps = append(g.comps, c)
	c.Go = g.addPort(c, GoPort, "go", Bool)
	g.AddEntry(c.ID, NoExit)
	return c
}

func (g *Graph) addPort(c *Component, kind PortKind, name string, v Value) PortID {
	p := &Port{
		ID:    PortID(len(g.ports)),
		Owner: c.ID,
		Kind:  kind,
		Index: -1,
		Name:  name,
		Value: v,
		Used:  true,
	}
	if kind == DataPort {
		p.Index = len(c.Ports)
		c.Ports = append(c.Ports, p.ID)
	}
	g.ports = append(g.ports, p)
	return p.ID
}

// AddPort appends a data port to a non-module component.
func (g *Graph) AddPort(id ComponentID, name string, v Value) PortID {
	c := g.Component(id)
	Assertf(c != nil, "AddPort", "component %d does not exist", id)
	return g.addPort(c, DataPort, name, v)
}

// AddExit appends an exit, with its done bus, to a component.
func (g *Graph) AddExit(id ComponentID, tag ExitTag) ExitID {
	c := g.Component(id)
	Assertf(c != nil, "AddExit", "component %d does not exist", id)
	ex := &Exit{
		ID:    ExitID(len(g.exits)),
		Owner: id,
		Tag:   tag,
	}
	g.exits = append(g.exits, ex)
	ex.Done = g.newBus(ex, -1, "done", Bool)
	c.Exits = append(c.Exits, ex.ID)
	return ex.ID
}

func (g *Graph) newBus(ex *Exit, index int, name string, v Value) BusID {
	b := &Bus{
		ID:    BusID(len(g.buses)),
		Owner: ex.Owner,
		Exit:  ex.ID,
		Index: index,
		Name:  name,
		Value: v,
		Used:  true,
	}
	g.buses = append(g.buses, b)
	return b.ID
}

// AddBus appends a data bus to an exit.
func (g *Graph) AddBus(exit ExitID, name string, v Value) BusID {
	ex := g.Exit(exit)
	Assertf(ex != nil, "AddBus", "exit %d does not exist", exit)
	id := g.newBus(ex, len(ex.Buses), name, v)
	ex.Buses = append(ex.Buses, id)
	return id
}

// AddEntry appends an entry to a component.
func (g *Graph) AddEntry(id ComponentID, driver ExitID) EntryID {
	c := g.Component(id)
	Assertf(c != nil, "AddEntry", "component %d does not exist", id)
	e := &Entry{
		ID:     EntryID(len(g.entries)),
		Owner:  id,
		Driver: driver,
	}
	g.entries = append(g.entries, e)
	c.Entries = append(c.Entries, e.ID)
	return e.ID
}

// Connect records that port, under entry, is driven by bus. The dependency kind
// follows the port kind.
func (g *Graph) Connect(entry EntryID, port PortID, bus BusID) DependencyID {
	p := g.Port(port)
	Assertf(p != nil, "Connect", "port %d does not exist", port)
	kind := DataDep
	switch p.Kind {
	case GoPort:
		kind = ControlDep
	case ClockPort:
		kind = ClockDep
	case ResetPort:
		kind = ResetDep
	}
	return g.ConnectKind(entry, port, bus, kind)
}

// ConnectKind records a dependency of an explicit kind.
func (g *Graph) ConnectKind(entry EntryID, port PortID, bus BusID, kind DependencyKind) DependencyID {
	e := g.Entry(entry)
	b := g.Bus(bus)
	p := g.Port(port)
	Assertf(e != nil && b != nil && p != nil, "Connect", "entry %d, port %d or bus %d does not exist", entry, port, bus)
	Assertf(p.Owner == e.Owner, "Connect", "port %q and entry belong to different components", p.Name)
	d := &Dependency{
		ID:    DependencyID(len(g.deps)),
		Kind:  kind,
		Entry: entry,
		Port:  port,
		Bus:   bus,
	}
	g.deps = append(g.deps, d)
	e.Deps = append(e.Deps, d.ID)
	b.Readers = append(b.Readers, d.ID)
	return d.ID
}

// RemoveDependency unlinks a dependency from its entry and bus.
func (g *Graph) RemoveDependency(id DependencyID) {
	d := g.Dependency(id)
	if d == nil {
		return
	}
	if e := g.Entry(d.Entry); e != nil {
		e.Deps = removeDep(e.Deps, id)
	}
	if b := g.Bus(d.Bus); b != nil {
		b.Readers = removeDep(b.Readers, id)
	}
	g.deps[id] = nil
}

func removeDep(list []DependencyID, id DependencyID) []DependencyID {
	out := list[:0]
	for _, d := range list {
		if d != id {
			out = append(out, d)
		}
	}
	return out
}

// ClockBus returns the graph-wide clock signal, creating its pin on demand.
func (g *Graph) ClockBus() BusID {
	if g.clock == NoBus {
		g.clock = g.newPin("clk")
	}
	return g.clock
}

// ResetBus returns the graph-wide reset signal, creating its pin on demand.
func (g *Graph) ResetBus() BusID {
	if g.reset == NoBus {
		g.reset = g.newPin("rst")
	}
	return g.reset
}

func (g *Graph) newPin(name string) BusID {
	c := g.newComponent(Pin, name)
	ex := g.AddExit(c.ID, DoneExit)
	return g.AddBus(ex, name, Bool)
}

// NewConstant creates a constant producing w.
func (g *Graph) NewConstant(name string, w Word) ComponentID {
	c := g.newComponent(Constant, name)
	c.Const = w
	ex := g.AddExit(c.ID, DoneExit)
	g.AddBus(ex, "value", w.Type)
	return c.ID
}

// NewOp creates a primitive operator with one port per operand and a single
// result bus.
func (g *Graph) NewOp(kind Kind, name string, result Value, operands ...Value) ComponentID {
	Assertf(kind.Emulatable() && kind != Constant, "NewOp", "%s is not a primitive operator", kind)
	c := g.newComponent(kind, name)
	for i, v := range operands {
		g.addPort(c, DataPort, fmt.Sprintf("in%d", i), v)
	}
	ex := g.AddExit(c.ID, DoneExit)
	g.AddBus(ex, "result", result)
	return c.ID
}

// NewReg creates a feedback register clocked by the graph clock.
func (g *Graph) NewReg(name string, v Value, init Word) ComponentID {
	return g.newStorage(Reg, name, v, init)
}

// NewLatch creates a data latch clocked by the graph clock.
func (g *Graph) NewLatch(name string, v Value) ComponentID {
	return g.newStorage(Latch, name, v, NewWord(0, v))
}

func (g *Graph) newStorage(kind Kind, name string, v Value, init Word) ComponentID {
	clk, rst := g.ClockBus(), g.ResetBus()
	c := g.newComponent(kind, name)
	c.Const = init
	c.Clock = g.addPort(c, ClockPort, "clk", Bool)
	c.Reset = g.addPort(c, ResetPort, "rst", Bool)
	g.addPort(c, DataPort, "d", v)
	ex := g.AddExit(c.ID, DoneExit)
	g.AddBus(ex, "q", v)
	entry := c.Entries[0]
	g.Connect(entry, c.Clock, clk)
	g.Connect(entry, c.Reset, rst)
	return c.ID
}

// NewResource declares a memory or register object.
func (g *Graph) NewResource(kind ResourceKind, name string, v Value, size int) ResourceID {
	r := &Resource{
		ID:    ResourceID(len(g.resources)),
		Kind:  kind,
		Name:  name,
		Value: v,
		Size:  size,
	}
	g.resources = append(g.resources, r)
	return r.ID
}

// NewAccess creates a component reading or writing res. Reads of arrays, heap
// and absolute memory take an index port; writes add a data port. Register
// accesses have no index.
func (g *Graph) NewAccess(kind Kind, name string, res ResourceID, index Value) ComponentID {
	r := g.Resource(res)
	Assertf(kind.IsAccess(), "NewAccess", "%s is not an access kind", kind)
	Assertf(r != nil, "NewAccess", "resource %d does not exist", res)
	c := g.newComponent(kind, name)
	c.Resource = res
	indexed := kind != RegRead && kind != RegWrite
	if indexed {
		g.addPort(c, DataPort, "index", index)
	}
	ex := g.AddExit(c.ID, DoneExit)
	switch kind {
	case ArrayRead, HeapRead, AbsRead, RegRead:
		g.AddBus(ex, "value", r.Value)
	default:
		g.addPort(c, DataPort, "data", r.Value)
	}
	r.Accesses = append(r.Accesses, c.ID)
	return c.ID
}

// NewModule creates an empty module of the given kind together with its InBuf.
func (g *Graph) NewModule(kind Kind, name string) ComponentID {
	Assertf(kind.IsModule(), "NewModule", "%s is not a module kind", kind)
	c := g.newComponent(kind, name)
	c.Module = &ModuleInfo{}
	inbuf := g.newComponent(InBuf, c.Name+"_in")
	inbuf.Owner = c.ID
	g.AddExit(inbuf.ID, DoneExit)
	c.Module.InBuf = inbuf.ID
	switch kind {
	case Loop:
		c.Loop = &LoopInfo{
			Init:            NoComponent,
			Body:            NoComponent,
			ControlRegister: NoComponent,
			Iterations:      IterationsUnknown,
		}
	case LoopBody:
		c.Body = &LoopBodyInfo{
			Decision: NoComponent,
			Body:     NoComponent,
			Update:   NoComponent,
		}
	case Decision:
		c.Decision = &DecisionInfo{
			Test:          NoComponent,
			TestComponent: NoComponent,
		}
	}
	return c.ID
}

// NewBlock creates an empty Block module with a single done exit.
func (g *Graph) NewBlock(name string) ComponentID {
	b := g.NewModule(Block, name)
	g.AddModuleExit(b, DoneExit)
	return b
}

// AddModulePort appends a data port to a module and mirrors it on the InBuf.
func (g *Graph) AddModulePort(mod ComponentID, name string, v Value) PortID {
	c := g.Component(mod)
	Assertf(c != nil && c.Module != nil, "AddModulePort", "component %d is not a module", mod)
	port := g.addPort(c, DataPort, name, v)
	g.AddBus(g.MainExit(c.Module.InBuf), name, v)
	return port
}

// AddModuleExit appends an exit to a module together with the OutBuf feeding it.
func (g *Graph) AddModuleExit(mod ComponentID, tag ExitTag) ExitID {
	c := g.Component(mod)
	Assertf(c != nil && c.Module != nil, "AddModuleExit", "component %d is not a module", mod)
	exit := g.AddExit(mod, tag)
	ob := g.newComponent(OutBuf, fmt.Sprintf("%s_out_%s", c.Name, tag))
	ob.Owner = mod
	ob.ForExit = exit
	c.Module.OutBufs = append(c.Module.OutBufs, ob.ID)
	return exit
}

// AddModuleBus appends a data bus to a module exit and the matching port to
// its OutBuf.
func (g *Graph) AddModuleBus(mod ComponentID, exit ExitID, name string, v Value) BusID {
	ob := g.Component(g.OutBufFor(mod, exit))
	Assertf(ob != nil, "AddModuleBus", "exit %d of module %d has no outbuf", exit, mod)
	bus := g.AddBus(exit, name, v)
	g.addPort(ob, DataPort, name, v)
	return bus
}

// OutBufFor returns the OutBuf feeding exit of mod.
func (g *Graph) OutBufFor(mod ComponentID, exit ExitID) ComponentID {
	c := g.Component(mod)
	if c == nil || c.Module == nil {
		return NoComponent
	}
	for i, e := range c.Exits {
		if e == exit && i < len(c.Module.OutBufs) {
			return c.Module.OutBufs[i]
		}
	}
	return NoComponent
}

// AddChild appends c to mod's children in document order.
func (g *Graph) AddChild(mod, c ComponentID) {
	m := g.Component(mod)
	child := g.Component(c)
	Assertf(m != nil && m.Module != nil, "AddChild", "component %d is not a module", mod)
	Assertf(child != nil, "AddChild", "component %d does not exist", c)
	Assertf(child.Owner == NoComponent, "AddChild", "%q already belongs to module %d", child.Name, child.Owner)
	child.Owner = mod
	m.Module.Children = append(m.Module.Children, c)
}

// adopt sets the owner of a loop storage element without listing it among the
// children.
func (g *Graph) adopt(mod, c ComponentID) {
	child := g.Component(c)
	Assertf(child != nil && child.Owner == NoComponent, "adopt", "component %d cannot be adopted", c)
	child.Owner = mod
}

// AddDataRegister attaches a feedback register to a loop.
func (g *Graph) AddDataRegister(loop, reg ComponentID) {
	l := g.Component(loop)
	Assertf(l != nil && l.Loop != nil, "AddDataRegister", "component %d is not a loop", loop)
	g.adopt(loop, reg)
	l.Loop.DataRegisters = append(l.Loop.DataRegisters, reg)
}

// AddDataLatch attaches a data latch to a loop.
func (g *Graph) AddDataLatch(loop, latch ComponentID) {
	l := g.Component(loop)
	Assertf(l != nil && l.Loop != nil, "AddDataLatch", "component %d is not a loop", loop)
	g.adopt(loop, latch)
	l.Loop.DataLatches = append(l.Loop.DataLatches, latch)
}

// SetControlRegister attaches the register holding the loop's feedback GO.
func (g *Graph) SetControlRegister(loop, reg ComponentID) {
	l := g.Component(loop)
	Assertf(l != nil && l.Loop != nil, "SetControlRegister", "component %d is not a loop", loop)
	g.adopt(loop, reg)
	l.Loop.ControlRegister = reg
}

// SetTop installs the root module.
func (g *Graph) SetTop(id ComponentID) {
	c := g.Component(id)
	Assertf(c != nil && c.Module != nil, "SetTop", "component %d is not a module", id)
	g.Top = id
}

// Sequence connects the go port of c, under its sole entry, to bus.
func (g *Graph) Sequence(c ComponentID, bus BusID) {
	comp := g.Component(c)
	Assertf(comp != nil, "Sequence", "component %d does not exist", c)
	g.Connect(comp.Entries[0], comp.Go, bus)
}

// Append adds c as the last child of block and sequences its go port after the
// previous sibling, or after the block's own go for the first child.
func (g *Graph) Append(block, c ComponentID) {
	m := g.Component(block)
	Assertf(m != nil && m.Module != nil, "Append", "component %d is not a module", block)
	prev := g.DoneBus(m.Module.InBuf)
	if n := len(m.Module.Children); n > 0 {
		prev = g.DoneBus(m.Module.Children[n-1])
	}
	g.AddChild(block, c)
	g.Sequence(c, prev)
}

// Import adds a data port to mod and returns it along with the InBuf bus that
// carries its value inside the module.
func (g *Graph) Import(mod ComponentID, name string, v Value) (PortID, BusID) {
	p := g.AddModulePort(mod, name, v)
	return p, g.InBufBus(p)
}

// Export adds a data bus to the main exit of mod, driven from inside the
// module by src.
func (g *Graph) Export(mod ComponentID, name string, src BusID) BusID {
	b := g.Bus(src)
	Assertf(b != nil, "Export", "bus %d does not exist", src)
	exit := g.MainExit(mod)
	out := g.AddModuleBus(mod, exit, name, b.Value)
	ob := g.Component(g.OutBufFor(mod, exit))
	g.Connect(ob.Entries[0], ob.Ports[len(ob.Ports)-1], src)
	return out
}

// Seal drives the go port of every OutBuf of block that is still unconnected
// from the done bus of the block's last child.
func (g *Graph) Seal(block ComponentID) {
	m := g.Component(block)
	Assertf(m != nil && m.Module != nil, "Seal", "component %d is not a module", block)
	last := g.DoneBus(m.Module.InBuf)
	if n := len(m.Module.Children); n > 0 {
		last = g.DoneBus(m.Module.Children[n-1])
	}
	for _, id := range m.Module.OutBufs {
		ob := g.Component(id)
		if len(g.Deps(ob.Entries[0], ob.Go)) == 0 {
			g.Sequence(id, last)
		}
	}
}
