// Package loopbound statically determines how many times a loop iterates by
// emulating the part of the loop that decides whether it repeats.
package loopbound

import (
	"fmt"

	"github.com/oleiade/lane"
	"github.com/tliron/commonlog"

	"github.com/orcc/xronos-sub010/internal/ir"
)

var log = commonlog.GetLogger("xronos.loopbound")

// Circuit is the minimal emulatable sub-graph of a loop body that computes the
// loop decision and the next value of every loop variable it depends on.
type Circuit struct {
	Loop ir.ComponentID
	Body ir.ComponentID
	// Test is the component producing the one-bit decision.
	Test ir.ComponentID
	// Sequence lists the circuit's components in evaluation order.
	Sequence []ir.ComponentID
	// PortBus maps every data port of a sequence component to the bus that
	// produces its value: either the result of another sequence component or a
	// bus of the loop body's InBuf.
	PortBus map[ir.PortID]ir.BusID
	// Tracked lists the loop body ports the circuit reads, in discovery order.
	Tracked []ir.PortID
	// StartBus maps a tracked port to the InBuf bus carrying it.
	StartBus map[ir.PortID]ir.BusID
	// Start holds the value of each tracked port on loop entry.
	Start map[ir.PortID]ir.Word
	// Next maps a tracked port to the bus producing its value for the next
	// iteration. Latched ports map to their own StartBus.
	Next map[ir.PortID]ir.BusID
	// Registers maps a tracked port to the feedback register carrying it.
	Registers map[ir.PortID]ir.ComponentID
	// EndBuses are the output buses of the feedback registers reached.
	EndBuses []ir.BusID
}

type builder struct {
	g    *ir.Graph
	loop *ir.Component
	body *ir.Component
	c    *Circuit

	seen    map[ir.ComponentID]bool
	order   []ir.ComponentID
	pending []ir.ComponentID
	work    *lane.Queue
}

// BuildCircuit extracts the decision circuit of loop. It returns an
// *UnanalyzableError when the circuit reaches a component that cannot be
// emulated, a port without exactly one driver, or a non-constant initial
// value.
func BuildCircuit(g *ir.Graph, loop ir.ComponentID) (*Circuit, error) {
	l := g.Component(loop)
	if l == nil || l.Loop == nil {
		return nil, fmt.Errorf("build circuit: component %d is not a loop", loop)
	}
	body := g.Component(l.Loop.Body)
	if body == nil || body.Body == nil {
		return nil, unanalyzable(l.Name, ErrMissingEntry, "loop has no body")
	}
	dec := g.Component(body.Body.Decision)
	if dec == nil || dec.Decision == nil || g.Component(dec.Decision.TestComponent) == nil {
		return nil, unanalyzable(l.Name, ErrMissingEntry, "loop has no decision")
	}
	if g.InitEntry(loop) == ir.NoEntry || g.FeedbackEntry(loop) == ir.NoEntry {
		return nil, unanalyzable(l.Name, ErrMissingEntry, "loop body lacks an initialization or feedback entry")
	}
	b := &builder{
		g:    g,
		loop: l,
		body: body,
		c: &Circuit{
			Loop:      loop,
			Body:      body.ID,
			Test:      dec.Decision.TestComponent,
			PortBus:   make(map[ir.PortID]ir.BusID),
			StartBus:  make(map[ir.PortID]ir.BusID),
			Start:     make(map[ir.PortID]ir.Word),
			Next:      make(map[ir.PortID]ir.BusID),
			Registers: make(map[ir.PortID]ir.ComponentID),
		},
		seen: make(map[ir.ComponentID]bool),
		work: lane.NewQueue(),
	}
	if err := b.run(); err != nil {
		return nil, err
	}
	log.Debugf("loop %q: decision circuit of %d components over %d loop variables", l.Name, len(b.c.Sequence), len(b.c.Tracked))
	return b.c, nil
}

func (b *builder) run() error {
	// Pre-feedback phase: from the test back to the loop body boundary.
	if err := b.enqueue(b.c.Test); err != nil {
		return err
	}
	if err := b.drain(); err != nil {
		return err
	}
	// Post-feedback phase: from each register's data input back to the
	// boundary again. Registers discovered on the way are appended to pending.
	for i := 0; i < len(b.pending); i++ {
		if err := b.follow(b.pending[i]); err != nil {
			return err
		}
		if err := b.drain(); err != nil {
			return err
		}
	}
	for _, port := range b.c.Tracked {
		w, err := b.initial(port)
		if err != nil {
			return err
		}
		b.c.Start[port] = w
	}
	return b.schedule()
}

func (b *builder) enqueue(id ir.ComponentID) error {
	if b.seen[id] {
		return nil
	}
	c := b.g.Component(id)
	if !c.Kind.Emulatable() {
		return unanalyzable(b.loop.Name, ErrNotEmulatable, "%s %q", c.Kind, c.Name)
	}
	b.seen[id] = true
	b.order = append(b.order, id)
	b.work.Enqueue(id)
	return nil
}

func (b *builder) drain() error {
	for !b.work.Empty() {
		id := b.work.Dequeue().(ir.ComponentID)
		c := b.g.Component(id)
		for _, port := range c.Ports {
			bus, err := b.source(port)
			if err != nil {
				return err
			}
			b.c.PortBus[port] = bus
			if err := b.reach(bus); err != nil {
				return err
			}
		}
	}
	return nil
}

// reach records a bus found while walking backward: either a loop body input,
// which becomes tracked, or the result of another component to visit.
func (b *builder) reach(bus ir.BusID) error {
	owner := b.g.ComponentOf(bus)
	if owner.ID == b.body.Module.InBuf {
		return b.track(b.g.PortFor(bus))
	}
	return b.enqueue(owner.ID)
}

// track registers a loop body port read by the circuit and classifies its
// feedback driver.
func (b *builder) track(port ir.PortID) error {
	if _, ok := b.c.StartBus[port]; ok {
		return nil
	}
	p := b.g.Port(port)
	if p == nil || p.Kind != ir.DataPort {
		return unanalyzable(b.loop.Name, ErrDependencyCount, "decision depends on the loop body control input")
	}
	b.c.Tracked = append(b.c.Tracked, port)
	b.c.StartBus[port] = b.g.InBufBus(port)
	drv, ok := b.g.Driver(b.g.FeedbackEntry(b.loop.ID), port)
	if !ok {
		return unanalyzable(b.loop.Name, ErrDependencyCount, "feedback of %q", p.Name)
	}
	storage := b.g.ComponentOf(drv)
	switch {
	case storage.Kind == ir.Reg && b.g.IsLoopStorage(b.loop.ID, storage.ID):
		b.c.Registers[port] = storage.ID
		b.c.EndBuses = append(b.c.EndBuses, drv)
		b.pending = append(b.pending, storage.ID)
	case storage.Kind == ir.Latch && b.g.IsLoopStorage(b.loop.ID, storage.ID):
		b.c.Next[port] = b.c.StartBus[port]
	default:
		return unanalyzable(b.loop.Name, ErrNotEmulatable, "feedback of %q comes from %s %q", p.Name, storage.Kind, storage.Name)
	}
	return nil
}

// follow walks from a feedback register's data input back into the body.
func (b *builder) follow(reg ir.ComponentID) error {
	r := b.g.Component(reg)
	bus, ok := b.g.Driver(r.Entries[0], r.Ports[0])
	if !ok {
		return unanalyzable(b.loop.Name, ErrDependencyCount, "data input of %q", r.Name)
	}
	if b.g.Bus(bus).Owner != b.body.ID {
		return unanalyzable(b.loop.Name, ErrNotEmulatable, "register %q is not fed by the loop body", r.Name)
	}
	src, err := b.throughExit(bus)
	if err != nil {
		return err
	}
	for port, rr := range b.c.Registers {
		if rr == reg {
			b.c.Next[port] = src
		}
	}
	return b.reach(src)
}

// source resolves the bus driving port, looking through every module
// boundary nested inside the loop body.
func (b *builder) source(port ir.PortID) (ir.BusID, error) {
	p := b.g.Port(port)
	owner := b.g.Component(p.Owner)
	entry := b.g.SoleEntry(owner.ID)
	if entry == ir.NoEntry {
		return ir.NoBus, unanalyzable(b.loop.Name, ErrMissingEntry, "%s %q has %d entries", owner.Kind, owner.Name, len(owner.Entries))
	}
	bus, ok := b.g.Driver(entry, port)
	if !ok {
		return ir.NoBus, unanalyzable(b.loop.Name, ErrDependencyCount, "port %q of %q", p.Name, owner.Name)
	}
	return b.resolve(bus)
}

func (b *builder) resolve(bus ir.BusID) (ir.BusID, error) {
	c := b.g.ComponentOf(bus)
	switch {
	case c.ID == b.body.Module.InBuf:
		return bus, nil
	case c.Kind == ir.InBuf:
		if !b.g.Contains(b.body.ID, c.Owner) {
			return ir.NoBus, unanalyzable(b.loop.Name, ErrNotEmulatable, "value enters from outside the loop body")
		}
		return b.source(b.g.PortFor(bus))
	case c.Module != nil && c.ID != b.body.ID && b.g.Contains(b.body.ID, c.ID):
		return b.throughExit(bus)
	default:
		return bus, nil
	}
}

// throughExit resolves a module exit bus to the bus feeding its OutBuf.
func (b *builder) throughExit(bus ir.BusID) (ir.BusID, error) {
	port := b.g.OutBufPort(bus)
	if port == ir.NoPort {
		return ir.NoBus, unanalyzable(b.loop.Name, ErrMissingEntry, "bus %q has no outbuf", b.g.Bus(bus).Name)
	}
	return b.source(port)
}

// schedule orders the collected components so that every component follows
// the components it reads from. A component whose producers are not all
// finished yet goes back to the end of the deque.
func (b *builder) schedule() error {
	d := lane.NewDeque()
	for i := len(b.order) - 1; i >= 0; i-- {
		d.Append(b.order[i])
	}
	done := make(map[ir.ComponentID]bool, len(b.order))
	stalled := 0
	for !d.Empty() {
		id := d.Shift().(ir.ComponentID)
		if !b.ready(id, done) {
			d.Append(id)
			stalled++
			if stalled > d.Size() {
				return unanalyzable(b.loop.Name, ErrCombinational, "%d components wait on each other", d.Size())
			}
			continue
		}
		stalled = 0
		done[id] = true
		b.c.Sequence = append(b.c.Sequence, id)
	}
	return nil
}

func (b *builder) ready(id ir.ComponentID, done map[ir.ComponentID]bool) bool {
	for _, port := range b.g.Component(id).Ports {
		producer := b.g.Bus(b.c.PortBus[port]).Owner
		if b.seen[producer] && !done[producer] {
			return false
		}
	}
	return true
}

// initial computes the value of a tracked port on loop entry from the
// initialization entry, folding constant expressions across module
// boundaries.
func (b *builder) initial(port ir.PortID) (ir.Word, error) {
	bus, ok := b.g.Driver(b.g.InitEntry(b.loop.ID), port)
	if !ok {
		return ir.Word{}, unanalyzable(b.loop.Name, ErrMissingEntry, "no initial value for %q", b.g.Port(port).Name)
	}
	f := &folder{g: b.g, loop: b.loop.Name, memo: make(map[ir.BusID]ir.Word), active: make(map[ir.BusID]bool)}
	w, err := f.value(bus)
	if err != nil {
		return ir.Word{}, err
	}
	return w.Resize(b.g.Port(port).Value), nil
}

type folder struct {
	g      *ir.Graph
	loop   string
	memo   map[ir.BusID]ir.Word
	active map[ir.BusID]bool
}

func (f *folder) value(bus ir.BusID) (ir.Word, error) {
	if w, ok := f.memo[bus]; ok {
		return w, nil
	}
	if f.active[bus] {
		return ir.Word{}, unanalyzable(f.loop, ErrNonConstantInit, "initial value depends on itself")
	}
	f.active[bus] = true
	defer delete(f.active, bus)

	b := f.g.Bus(bus)
	c := f.g.Component(b.Owner)
	var (
		w   ir.Word
		err error
	)
	switch {
	case b.IsDone():
		err = unanalyzable(f.loop, ErrNonConstantInit, "initial value is a control signal of %q", c.Name)
	case c.Kind == ir.InBuf:
		w, err = f.port(f.g.PortFor(bus))
	case c.Module != nil:
		w, err = f.port(f.g.OutBufPort(bus))
	case c.Kind.Emulatable():
		w, err = f.emulate(c, b)
	default:
		err = unanalyzable(f.loop, ErrNonConstantInit, "initial value comes from %s %q", c.Kind, c.Name)
	}
	if err != nil {
		return ir.Word{}, err
	}
	f.memo[bus] = w
	return w, nil
}

func (f *folder) port(port ir.PortID) (ir.Word, error) {
	p := f.g.Port(port)
	if p == nil {
		return ir.Word{}, unanalyzable(f.loop, ErrMissingEntry, "module boundary without a matching port")
	}
	owner := f.g.Component(p.Owner)
	entry := f.g.SoleEntry(owner.ID)
	if entry == ir.NoEntry {
		return ir.Word{}, unanalyzable(f.loop, ErrNonConstantInit, "initial value flows through %s %q with %d entries", owner.Kind, owner.Name, len(owner.Entries))
	}
	bus, ok := f.g.Driver(entry, port)
	if !ok {
		return ir.Word{}, unanalyzable(f.loop, ErrNonConstantInit, "initial value comes from input %q of %q", p.Name, owner.Name)
	}
	w, err := f.value(bus)
	if err != nil {
		return ir.Word{}, err
	}
	return w.Resize(p.Value), nil
}

func (f *folder) emulate(c *ir.Component, out *ir.Bus) (ir.Word, error) {
	inputs := make([]ir.Word, len(c.Ports))
	for i, port := range c.Ports {
		w, err := f.port(port)
		if err != nil {
			return ir.Word{}, err
		}
		inputs[i] = w
	}
	res, err := f.g.Emulate(c.ID, inputs)
	if err != nil {
		return ir.Word{}, unanalyzable(f.loop, ErrNonConstantInit, "%v", err)
	}
	return res[out.Index], nil
}
