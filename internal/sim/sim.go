// Package sim interprets a design without timing: every module runs its
// children in document order, loops iterate until their decision is false,
// and memory accesses act on an in-memory copy of each resource.
package sim

import (
	"errors"
	"fmt"

	"github.com/orcc/xronos-sub010/internal/ir"
)

// ErrIterationLimit is returned when a loop runs longer than
// Options.MaxIterations.
var ErrIterationLimit = errors.New("loop iteration limit exceeded")

// Options configure an interpreter run.
type Options struct {
	// MaxIterations bounds the iterations of any single loop execution.
	MaxIterations int
}

// DefaultOptions returns the limits used by the command line.
func DefaultOptions() Options {
	return Options{MaxIterations: 1 << 20}
}

// Result is the observable state after a run.
type Result struct {
	// Outputs holds the top module's result buses by name, in exit order.
	Outputs []Output
	// Memories holds the final contents of every resource by name.
	Memories map[string][]ir.Word
	// Iterations counts the loop iterations executed.
	Iterations int
}

// Output is one named result of the top module.
type Output struct {
	Name  string
	Value ir.Word
}

// Output returns the result named name.
func (r *Result) Output(name string) (ir.Word, bool) {
	for _, o := range r.Outputs {
		if o.Name == name {
			return o.Value, true
		}
	}
	return ir.Word{}, false
}

// Run executes the design's top module with inputs given by port name.
func Run(g *ir.Graph, inputs map[string]int64, opts Options) (*Result, error) {
	top := g.Component(g.Top)
	if top == nil {
		return nil, fmt.Errorf("sim: design has no top module")
	}
	if opts.MaxIterations <= 0 {
		opts = DefaultOptions()
	}
	m := &machine{
		g:      g,
		opts:   opts,
		values: make(map[ir.BusID]ir.Word),
		mem:    make(map[ir.ResourceID][]ir.Word),
	}
	for _, id := range g.Resources() {
		r := g.Resource(id)
		words := make([]ir.Word, r.Size)
		for i := range words {
			words[i] = ir.NewWord(0, r.Value)
			if i < len(r.Init) {
				words[i] = r.Init[i].Resize(r.Value)
			}
		}
		m.mem[id] = words
	}
	args := make([]ir.Word, len(top.Ports))
	for i, p := range top.Ports {
		port := g.Port(p)
		v, ok := inputs[port.Name]
		if !ok {
			return nil, fmt.Errorf("sim: missing input %q", port.Name)
		}
		args[i] = ir.NewWord(v, port.Value)
	}
	if err := m.enter(top, args); err != nil {
		return nil, err
	}
	exit, err := m.run(top)
	if err != nil {
		return nil, err
	}
	if err := m.leave(top, exit); err != nil {
		return nil, err
	}
	res := &Result{Memories: make(map[string][]ir.Word), Iterations: m.iterations}
	for _, b := range g.Exit(g.MainExit(top.ID)).Buses {
		res.Outputs = append(res.Outputs, Output{Name: g.Bus(b).Name, Value: m.values[b]})
	}
	for id, words := range m.mem {
		res.Memories[g.Resource(id).Name] = words
	}
	return res, nil
}

type machine struct {
	g          *ir.Graph
	opts       Options
	values     map[ir.BusID]ir.Word
	mem        map[ir.ResourceID][]ir.Word
	iterations int
}

func (m *machine) read(c *ir.Component, entry ir.EntryID, port ir.PortID) (ir.Word, error) {
	bus, ok := m.g.Driver(entry, port)
	if !ok {
		return ir.Word{}, fmt.Errorf("%s %q: port %q is not driven", c.Kind, c.Name, m.g.Port(port).Name)
	}
	w, ok := m.values[bus]
	if !ok {
		return ir.Word{}, fmt.Errorf("%s %q reads %q before it is computed", c.Kind, c.Name, m.g.Bus(bus).Name)
	}
	return w.Resize(m.g.Port(port).Value), nil
}

func (m *machine) inputs(c *ir.Component, entry ir.EntryID) ([]ir.Word, error) {
	out := make([]ir.Word, len(c.Ports))
	for i, p := range c.Ports {
		w, err := m.read(c, entry, p)
		if err != nil {
			return nil, err
		}
		out[i] = w
	}
	return out, nil
}

// finish marks exit as taken and the other exits of c as not taken.
func (m *machine) finish(c *ir.Component, exit ir.ExitID) {
	for _, e := range c.Exits {
		m.values[m.g.Exit(e).Done] = ir.BoolWord(e == exit)
	}
}

// exec runs one component under entry.
func (m *machine) exec(id ir.ComponentID, entry ir.EntryID) error {
	g := m.g
	c := g.Component(id)
	switch {
	case c.Kind.Emulatable():
		in, err := m.inputs(c, entry)
		if err != nil {
			return err
		}
		out, err := g.Emulate(id, in)
		if err != nil {
			return err
		}
		for i, w := range out {
			m.values[g.DataBus(id, i)] = w
		}
	case c.Kind.IsAccess():
		if err := m.access(c, entry); err != nil {
			return err
		}
	case c.Kind == ir.Loop:
		return m.loop(c, entry)
	case c.Module != nil:
		in, err := m.inputs(c, entry)
		if err != nil {
			return err
		}
		if err := m.enter(c, in); err != nil {
			return err
		}
		exit, err := m.run(c)
		if err != nil {
			return err
		}
		return m.leave(c, exit)
	default:
		return fmt.Errorf("%s %q cannot run on its own", c.Kind, c.Name)
	}
	m.finish(c, g.MainExit(id))
	return nil
}

// enter places the module's inputs on its InBuf.
func (m *machine) enter(c *ir.Component, in []ir.Word) error {
	ib := m.g.Exit(m.g.MainExit(c.Module.InBuf))
	if len(ib.Buses) != len(in) {
		return fmt.Errorf("%s %q: %d inputs for %d ports", c.Kind, c.Name, len(in), len(ib.Buses))
	}
	for i, b := range ib.Buses {
		m.values[b] = in[i]
	}
	m.values[ib.Done] = ir.BoolWord(true)
	return nil
}

// run executes the children of a Block or Decision and returns the exit taken.
func (m *machine) run(c *ir.Component) (ir.ExitID, error) {
	for _, child := range c.Module.Children {
		if err := m.exec(child, m.g.Component(child).Entries[0]); err != nil {
			return ir.NoExit, err
		}
	}
	if c.Decision != nil {
		cond := m.values[m.g.DataBus(c.Decision.Test, 0)]
		if cond.IsZero() {
			return m.g.ExitByTag(c.ID, ir.FalseExit), nil
		}
		return m.g.ExitByTag(c.ID, ir.TrueExit), nil
	}
	return m.g.MainExit(c.ID), nil
}

// leave copies the OutBuf feeding exit onto the module's buses.
func (m *machine) leave(c *ir.Component, exit ir.ExitID) error {
	ob := m.g.Component(m.g.OutBufFor(c.ID, exit))
	in, err := m.inputs(ob, ob.Entries[0])
	if err != nil {
		return err
	}
	for i, b := range m.g.Exit(exit).Buses {
		m.values[b] = in[i]
	}
	m.finish(c, exit)
	return nil
}

func (m *machine) loop(l *ir.Component, entry ir.EntryID) error {
	g := m.g
	in, err := m.inputs(l, entry)
	if err != nil {
		return err
	}
	if err := m.enter(l, in); err != nil {
		return err
	}
	initBlock := g.Component(l.Loop.Init)
	if err := m.exec(initBlock.ID, initBlock.Entries[0]); err != nil {
		return err
	}
	for _, id := range l.Loop.DataLatches {
		if err := m.latch(id); err != nil {
			return err
		}
	}
	body := g.Component(l.Loop.Body)
	bodyEntry := body.Entries[0]
	for n := 0; ; n++ {
		if n > m.opts.MaxIterations {
			return fmt.Errorf("loop %q: %w", l.Name, ErrIterationLimit)
		}
		exit, err := m.iterate(body, bodyEntry)
		if err != nil {
			return err
		}
		if g.Exit(exit).Tag == ir.CompleteExit {
			break
		}
		m.iterations++
		for _, id := range l.Loop.DataRegisters {
			if err := m.latch(id); err != nil {
				return err
			}
		}
		if l.Loop.ControlRegister != ir.NoComponent {
			if err := m.latch(l.Loop.ControlRegister); err != nil {
				return err
			}
		}
		bodyEntry = body.Entries[1]
	}
	return m.leave(l, g.MainExit(l.ID))
}

// iterate runs the loop body once and returns the exit taken.
func (m *machine) iterate(b *ir.Component, entry ir.EntryID) (ir.ExitID, error) {
	g := m.g
	in, err := m.inputs(b, entry)
	if err != nil {
		return ir.NoExit, err
	}
	if err := m.enter(b, in); err != nil {
		return ir.NoExit, err
	}
	taken := true
	for _, child := range b.Module.Children {
		if err := m.exec(child, g.Component(child).Entries[0]); err != nil {
			return ir.NoExit, err
		}
		if child == b.Body.Decision {
			taken = !m.values[g.Exit(g.ExitByTag(child, ir.TrueExit)).Done].IsZero()
			if !taken && b.Body.DecisionFirst {
				break
			}
		}
	}
	exit := g.ExitByTag(b.ID, ir.FeedbackExit)
	if !taken {
		exit = g.ExitByTag(b.ID, ir.CompleteExit)
	}
	if err := m.leave(b, exit); err != nil {
		return ir.NoExit, err
	}
	return exit, nil
}

// latch copies a storage element's data input onto its output.
func (m *machine) latch(id ir.ComponentID) error {
	c := m.g.Component(id)
	w, err := m.read(c, c.Entries[0], c.Ports[0])
	if err != nil {
		return err
	}
	m.values[m.g.DataBus(id, 0)] = w
	return nil
}

func (m *machine) access(c *ir.Component, entry ir.EntryID) error {
	r := m.g.Resource(c.Resource)
	if r == nil {
		return fmt.Errorf("%s %q has no resource", c.Kind, c.Name)
	}
	words := m.mem[r.ID]
	in, err := m.inputs(c, entry)
	if err != nil {
		return err
	}
	index := 0
	if c.Kind != ir.RegRead && c.Kind != ir.RegWrite {
		index = int(in[0].Uint64())
		in = in[1:]
	}
	if index < 0 || index >= len(words) {
		return fmt.Errorf("%s %q: index %d out of range for %s[%d]", c.Kind, c.Name, index, r.Name, len(words))
	}
	switch c.Kind {
	case ir.ArrayRead, ir.HeapRead, ir.AbsRead, ir.RegRead:
		m.values[m.g.DataBus(c.ID, 0)] = words[index]
	default:
		words[index] = in[0].Resize(r.Value)
	}
	return nil
}
