package ir

import "github.com/orcc/xronos-sub010/internal/diag"

// Handles into the graph arena. A handle stays valid for the lifetime of the
// graph; removed entities leave a tombstone and their handle resolves to nil.
type (
	ComponentID  int32
	PortID       int32
	BusID        int32
	ExitID       int32
	EntryID      int32
	DependencyID int32
	ResourceID   int32
)

const (
	NoComponent  ComponentID  = -1
	NoPort       PortID       = -1
	NoBus        BusID        = -1
	NoExit       ExitID       = -1
	NoEntry      EntryID      = -1
	NoDependency DependencyID = -1
	NoResource   ResourceID   = -1
)

// IterationsUnknown marks a loop whose trip count could not be proven.
const IterationsUnknown = -1

// Kind enumerates every component variant of the intermediate model.
type Kind uint8

const (
	Invalid Kind = iota

	// Primitive operators.
	Constant
	NoOp
	Cast
	Add
	Sub
	Mul
	Div
	Rem
	And
	Or
	Xor
	Not
	Neg
	Shl
	Shr
	Lt
	Le
	Gt
	Ge
	Eq
	Ne
	Mux

	// Storage.
	Reg
	Latch

	// Memory and register accesses. They keep a back-reference on their
	// Resource.
	ArrayRead
	ArrayWrite
	HeapRead
	HeapWrite
	AbsRead
	AbsWrite
	RegRead
	RegWrite

	// Clock and reset sources living outside the module tree.
	Pin

	// Module plumbing.
	InBuf
	OutBuf

	// Modules.
	Block
	Loop
	LoopBody
	Decision
)

var kindNames = [...]string{
	Invalid:    "invalid",
	Constant:   "const",
	NoOp:       "noop",
	Cast:       "cast",
	Add:        "add",
	Sub:        "sub",
	Mul:        "mul",
	Div:        "div",
	Rem:        "rem",
	And:        "and",
	Or:         "or",
	Xor:        "xor",
	Not:        "not",
	Neg:        "neg",
	Shl:        "shl",
	Shr:        "shr",
	Lt:         "lt",
	Le:         "le",
	Gt:         "gt",
	Ge:         "ge",
	Eq:         "eq",
	Ne:         "ne",
	Mux:        "mux",
	Reg:        "reg",
	Latch:      "latch",
	ArrayRead:  "array_read",
	ArrayWrite: "array_write",
	HeapRead:   "heap_read",
	HeapWrite:  "heap_write",
	AbsRead:    "abs_read",
	AbsWrite:   "abs_write",
	RegRead:    "reg_read",
	RegWrite:   "reg_write",
	Pin:        "pin",
	InBuf:      "inbuf",
	OutBuf:     "outbuf",
	Block:      "block",
	Loop:       "loop",
	LoopBody:   "loop_body",
	Decision:   "decision",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) && kindNames[k] != "" {
		return kindNames[k]
	}
	return "?"
}

// Emulatable reports whether components of this kind implement a pure
// emulation function.
func (k Kind) Emulatable() bool {
	switch k {
	case Constant, NoOp, Cast, Add, Sub, Mul, Div, Rem, And, Or, Xor, Not, Neg,
		Shl, Shr, Lt, Le, Gt, Ge, Eq, Ne, Mux:
		return true
	case Reg, Latch, ArrayRead, ArrayWrite, HeapRead, HeapWrite, AbsRead, AbsWrite,
		RegRead, RegWrite, Pin, InBuf, OutBuf, Block, Loop, LoopBody, Decision:
		return false
	default:
		return false
	}
}

// IsModule reports whether components of this kind own a sub-graph.
func (k Kind) IsModule() bool {
	switch k {
	case Block, Loop, LoopBody, Decision:
		return true
	default:
		return false
	}
}

// Clonable reports whether Clone accepts a component of this kind as root.
// Pins are shared by the whole graph and module plumbing is only cloned along
// with its module.
func (k Kind) Clonable() bool {
	switch k {
	case Invalid, Pin, InBuf, OutBuf:
		return false
	default:
		return true
	}
}

// IsAccess reports whether the kind references a memory or register Resource.
func (k Kind) IsAccess() bool {
	switch k {
	case ArrayRead, ArrayWrite, HeapRead, HeapWrite, AbsRead, AbsWrite, RegRead, RegWrite:
		return true
	default:
		return false
	}
}

// IsStorage reports whether the kind is a feedback register or data latch.
func (k Kind) IsStorage() bool {
	return k == Reg || k == Latch
}

// PortKind distinguishes data inputs from the implicit control ports.
type PortKind uint8

const (
	DataPort PortKind = iota
	GoPort
	ClockPort
	ResetPort
)

// ExitTag names the control path an Exit represents.
type ExitTag uint8

const (
	DoneExit ExitTag = iota
	FeedbackExit
	CompleteExit
	TrueExit
	FalseExit
)

func (t ExitTag) String() string {
	switch t {
	case DoneExit:
		return "done"
	case FeedbackExit:
		return "feedback"
	case CompleteExit:
		return "complete"
	case TrueExit:
		return "true"
	case FalseExit:
		return "false"
	default:
		return "?"
	}
}

// DependencyKind types an edge.
type DependencyKind uint8

const (
	DataDep DependencyKind = iota
	ControlDep
	ClockDep
	ResetDep
)

func (k DependencyKind) String() string {
	switch k {
	case DataDep:
		return "data"
	case ControlDep:
		return "control"
	case ClockDep:
		return "clock"
	case ResetDep:
		return "reset"
	default:
		return "?"
	}
}

// ResourceKind classifies memory/register objects referenced by accesses.
type ResourceKind uint8

const (
	ArrayResource ResourceKind = iota
	HeapResource
	AbsoluteResource
	RegisterResource
)

func (k ResourceKind) String() string {
	switch k {
	case ArrayResource:
		return "array"
	case HeapResource:
		return "heap"
	case AbsoluteResource:
		return "absolute"
	case RegisterResource:
		return "register"
	default:
		return "?"
	}
}

// Component is a node of the graph.
type Component struct {
	ID      ComponentID
	Kind    Kind
	Name    string
	Owner   ComponentID
	Go      PortID
	Clock   PortID
	Reset   PortID
	Ports   []PortID
	Exits   []ExitID
	Entries []EntryID
	Source  diag.Position

	// Const is the value produced by a Constant and the initial value of a Reg.
	Const Word
	// Resource is the object an access component reads or writes.
	Resource ResourceID
	// ForExit is the exit of the enclosing module an OutBuf feeds.
	ForExit ExitID

	Module   *ModuleInfo
	Loop     *LoopInfo
	Body     *LoopBodyInfo
	Decision *DecisionInfo
}

// ModuleInfo is carried by every module component.
type ModuleInfo struct {
	InBuf ComponentID
	// OutBufs is parallel to the module's Exits.
	OutBufs []ComponentID
	// Children lists the sub-components in document order. InBuf, OutBufs and
	// loop storage are not part of it.
	Children []ComponentID
}

// LoopInfo describes a Loop module.
type LoopInfo struct {
	Init            ComponentID
	Body            ComponentID
	DataRegisters   []ComponentID
	DataLatches     []ComponentID
	ControlRegister ComponentID
	Iterations      int
}

// LoopBodyInfo describes a LoopBody module.
type LoopBodyInfo struct {
	Decision      ComponentID
	Body          ComponentID
	Update        ComponentID
	DecisionFirst bool
}

// DecisionInfo describes a Decision module.
type DecisionInfo struct {
	Test          ComponentID
	TestComponent ComponentID
}

// Port is an input attachment point.
type Port struct {
	ID    PortID
	Owner ComponentID
	Kind  PortKind
	Index int
	Name  string
	Value Value
	Used  bool
}

// Bus is an output attachment point. Readers lists the dependencies that
// consume it.
type Bus struct {
	ID      BusID
	Owner   ComponentID
	Exit    ExitID
	Index   int
	Name    string
	Value   Value
	Used    bool
	Readers []DependencyID
}

// IsDone reports whether the bus is its exit's done signal.
func (b *Bus) IsDone() bool {
	return b.Index < 0
}

// Exit is a tagged group of output buses with a distinguished done bus.
type Exit struct {
	ID    ExitID
	Owner ComponentID
	Tag   ExitTag
	Done  BusID
	Buses []BusID
}

// Entry groups the dependencies of one incoming control path.
type Entry struct {
	ID     EntryID
	Owner  ComponentID
	Driver ExitID
	Deps   []DependencyID
}

// Dependency records that Port, under Entry, is driven by Bus.
type Dependency struct {
	ID    DependencyID
	Kind  DependencyKind
	Entry EntryID
	Port  PortID
	Bus   BusID
}

// Resource is a memory or register object shared by access components.
type Resource struct {
	ID       ResourceID
	Kind     ResourceKind
	Name     string
	Value    Value
	Size     int
	Init     []Word
	Accesses []ComponentID
}

// Graph is the arena holding every entity of one design.
type Graph struct {
	Name string
	Top  ComponentID

	comps     []*Component
	ports     []*Port
	buses     []*Bus
	exits     []*Exit
	entries   []*Entry
	deps      []*Dependency
	resources []*Resource

	clock BusID
	reset BusID
	names map[string]int
}

// NewGraph returns an empty graph.
func NewGraph(name string) *Graph {
	return &Graph{
		Name:  name,
		Top:   NoComponent,
		clock: NoBus,
		reset: NoBus,
		names: make(map[string]int),
	}
}

// Component resolves a handle; it returns nil for removed or invalid handles.
func (g *Graph) Component(id ComponentID) *Component {
	if id < 0 || int(id) >= len(g.comps) {
		return nil
	}
	return g.comps[id]
}

// Port resolves a port handle.
func (g *Graph) Port(id PortID) *Port {
	if id < 0 || int(id) >= len(g.ports) {
		return nil
	}
	return g.ports[id]
}

// Bus resolves a bus handle.
func (g *Graph) Bus(id BusID) *Bus {
	if id < 0 || int(id) >= len(g.buses) {
		return nil
	}
	return g.buses[id]
}

// Exit resolves an exit handle.
func (g *Graph) Exit(id ExitID) *Exit {
	if id < 0 || int(id) >= len(g.exits) {
		return nil
	}
	return g.exits[id]
}

// Entry resolves an entry handle.
func (g *Graph) Entry(id EntryID) *Entry {
	if id < 0 || int(id) >= len(g.entries) {
		return nil
	}
	return g.entries[id]
}

// Dependency resolves a dependency handle.
func (g *Graph) Dependency(id DependencyID) *Dependency {
	if id < 0 || int(id) >= len(g.deps) {
		return nil
	}
	return g.deps[id]
}

// Resource resolves a resource handle.
func (g *Graph) Resource(id ResourceID) *Resource {
	if id < 0 || int(id) >= len(g.resources) {
		return nil
	}
	return g.resources[id]
}

// Components returns the handles of every live component in creation order.
func (g *Graph) Components() []ComponentID {
	out := make([]ComponentID, 0, len(g.comps))
	for _, c := range g.comps {
		if c != nil {
			out = append(out, c.ID)
		}
	}
	return out
}

// Resources returns the handles of every resource.
func (g *Graph) Resources() []ResourceID {
	out := make([]ResourceID, 0, len(g.resources))
	for _, r := range g.resources {
		if r != nil {
			out = append(out, r.ID)
		}
	}
	return out
}

// ComponentOf returns the component owning a bus.
func (g *Graph) ComponentOf(bus BusID) *Component {
	b := g.Bus(bus)
	if b == nil {
		return nil
	}
	return g.Component(b.Owner)
}

// Members lists every component directly owned by a module: InBuf, children
// in document order, loop storage, then OutBufs.
func (g *Graph) Members(id ComponentID) []ComponentID {
	c := g.Component(id)
	if c == nil || c.Module == nil {
		return nil
	}
	out := make([]ComponentID, 0, len(c.Module.Children)+len(c.Module.OutBufs)+1)
	if c.Module.InBuf != NoComponent {
		out = append(out, c.Module.InBuf)
	}
	out = append(out, c.Module.Children...)
	if c.Loop != nil {
		out = append(out, c.Loop.DataRegisters...)
		out = append(out, c.Loop.DataLatches...)
		if c.Loop.ControlRegister != NoComponent {
			out = append(out, c.Loop.ControlRegister)
		}
	}
	out = append(out, c.Module.OutBufs...)
	return out
}

// Walk visits root and every component below it in pre-order. Returning false
// from fn skips the component's members.
func (g *Graph) Walk(root ComponentID, fn func(c *Component) bool) {
	c := g.Component(root)
	if c == nil {
		return
	}
	if !fn(c) {
		return
	}
	for _, m := range g.Members(root) {
		g.Walk(m, fn)
	}
}

// Subtree returns root and all components below it.
func (g *Graph) Subtree(root ComponentID) []ComponentID {
	var out []ComponentID
	g.Walk(root, func(c *Component) bool {
		out = append(out, c.ID)
		return true
	})
	return out
}

// Contains reports whether c is ancestor or a descendant of ancestor.
func (g *Graph) Contains(ancestor, c ComponentID) bool {
	for cur := c; cur != NoComponent; {
		if cur == ancestor {
			return true
		}
		comp := g.Component(cur)
		if comp == nil {
			return false
		}
		cur = comp.Owner
	}
	return false
}

// ExitByTag returns the first exit of c carrying tag.
func (g *Graph) ExitByTag(id ComponentID, tag ExitTag) ExitID {
	c := g.Component(id)
	if c == nil {
		return NoExit
	}
	for _, e := range c.Exits {
		if ex := g.Exit(e); ex != nil && ex.Tag == tag {
			return e
		}
	}
	return NoExit
}

// MainExit returns the first exit of c.
func (g *Graph) MainExit(id ComponentID) ExitID {
	c := g.Component(id)
	if c == nil || len(c.Exits) == 0 {
		return NoExit
	}
	return c.Exits[0]
}

// DataBus returns the i-th data bus of c's main exit.
func (g *Graph) DataBus(id ComponentID, i int) BusID {
	ex := g.Exit(g.MainExit(id))
	if ex == nil || i < 0 || i >= len(ex.Buses) {
		return NoBus
	}
	return ex.Buses[i]
}

// DoneBus returns the done bus of c's main exit.
func (g *Graph) DoneBus(id ComponentID) BusID {
	ex := g.Exit(g.MainExit(id))
	if ex == nil {
		return NoBus
	}
	return ex.Done
}

// PortFor maps a bus of a module's InBuf to the module port it mirrors. The
// done bus maps to the module's go port.
func (g *Graph) PortFor(inbufBus BusID) PortID {
	b := g.Bus(inbufBus)
	if b == nil {
		return NoPort
	}
	inbuf := g.Component(b.Owner)
	if inbuf == nil || inbuf.Kind != InBuf {
		return NoPort
	}
	mod := g.Component(inbuf.Owner)
	if mod == nil {
		return NoPort
	}
	if b.IsDone() {
		return mod.Go
	}
	if b.Index >= len(mod.Ports) {
		return NoPort
	}
	return mod.Ports[b.Index]
}

// InBufBus maps a module port to the InBuf bus mirroring it inside the module.
func (g *Graph) InBufBus(port PortID) BusID {
	p := g.Port(port)
	if p == nil {
		return NoBus
	}
	mod := g.Component(p.Owner)
	if mod == nil || mod.Module == nil {
		return NoBus
	}
	ex := g.Exit(g.MainExit(mod.Module.InBuf))
	if ex == nil {
		return NoBus
	}
	if p.Kind == GoPort {
		return ex.Done
	}
	if p.Index >= len(ex.Buses) {
		return NoBus
	}
	return ex.Buses[p.Index]
}

// OutBufPort maps a bus on a module exit to the OutBuf port feeding it.
func (g *Graph) OutBufPort(exitBus BusID) PortID {
	b := g.Bus(exitBus)
	if b == nil {
		return NoPort
	}
	mod := g.Component(b.Owner)
	if mod == nil || mod.Module == nil {
		return NoPort
	}
	for i, e := range mod.Exits {
		if e != b.Exit || i >= len(mod.Module.OutBufs) {
			continue
		}
		ob := g.Component(mod.Module.OutBufs[i])
		if ob == nil {
			return NoPort
		}
		if b.IsDone() {
			return ob.Go
		}
		if b.Index >= len(ob.Ports) {
			return NoPort
		}
		return ob.Ports[b.Index]
	}
	return NoPort
}

// Deps returns the dependencies of port under entry.
func (g *Graph) Deps(entry EntryID, port PortID) []DependencyID {
	e := g.Entry(entry)
	if e == nil {
		return nil
	}
	var out []DependencyID
	for _, d := range e.Deps {
		if dep := g.Dependency(d); dep != nil && dep.Port == port {
			out = append(out, d)
		}
	}
	return out
}

// Driver returns the bus driving port under entry. ok is false unless there is
// exactly one dependency.
func (g *Graph) Driver(entry EntryID, port PortID) (BusID, bool) {
	deps := g.Deps(entry, port)
	if len(deps) != 1 {
		return NoBus, false
	}
	return g.Dependency(deps[0]).Bus, true
}

// SoleEntry returns the only entry of c, or NoEntry if c has several.
func (g *Graph) SoleEntry(id ComponentID) EntryID {
	c := g.Component(id)
	if c == nil || len(c.Entries) != 1 {
		return NoEntry
	}
	return c.Entries[0]
}

// AllPorts returns the go, clock, reset and data ports of c.
func (g *Graph) AllPorts(id ComponentID) []PortID {
	c := g.Component(id)
	if c == nil {
		return nil
	}
	out := make([]PortID, 0, len(c.Ports)+3)
	for _, p := range []PortID{c.Go, c.Clock, c.Reset} {
		if p != NoPort {
			out = append(out, p)
		}
	}
	return append(out, c.Ports...)
}

// AllBuses returns every bus of every exit of c, done buses first per exit.
func (g *Graph) AllBuses(id ComponentID) []BusID {
	c := g.Component(id)
	if c == nil {
		return nil
	}
	var out []BusID
	for _, e := range c.Exits {
		ex := g.Exit(e)
		if ex == nil {
			continue
		}
		out = append(out, ex.Done)
		out = append(out, ex.Buses...)
	}
	return out
}

// LoopBodyOf returns the LoopBody of a loop.
func (g *Graph) LoopBodyOf(loop ComponentID) ComponentID {
	c := g.Component(loop)
	if c == nil || c.Loop == nil {
		return NoComponent
	}
	return c.Loop.Body
}

// InitEntry returns the initialization entry of a loop's body.
func (g *Graph) InitEntry(loop ComponentID) EntryID {
	body := g.Component(g.LoopBodyOf(loop))
	if body == nil || len(body.Entries) < 1 {
		return NoEntry
	}
	return body.Entries[0]
}

// FeedbackEntry returns the feedback entry of a loop's body.
func (g *Graph) FeedbackEntry(loop ComponentID) EntryID {
	body := g.Component(g.LoopBodyOf(loop))
	if body == nil || len(body.Entries) < 2 {
		return NoEntry
	}
	return body.Entries[1]
}

// IsDecisionFirst reports whether the loop tests before running its body.
func (g *Graph) IsDecisionFirst(loop ComponentID) bool {
	body := g.Component(g.LoopBodyOf(loop))
	return body != nil && body.Body != nil && body.Body.DecisionFirst
}

// IsBounded reports whether the loop's iteration count is known.
func (g *Graph) IsBounded(loop ComponentID) bool {
	c := g.Component(loop)
	return c != nil && c.Loop != nil && c.Loop.Iterations != IterationsUnknown
}

// IsLoopStorage reports whether c is a data register, data latch or control
// register of loop.
func (g *Graph) IsLoopStorage(loop, c ComponentID) bool {
	l := g.Component(loop)
	if l == nil || l.Loop == nil {
		return false
	}
	if c == l.Loop.ControlRegister {
		return true
	}
	for _, r := range l.Loop.DataRegisters {
		if r == c {
			return true
		}
	}
	for _, r := range l.Loop.DataLatches {
		if r == c {
			return true
		}
	}
	return false
}

// Loops returns every live Loop in post-order (inner loops first), following
// document order among siblings.
func (g *Graph) Loops(root ComponentID) []ComponentID {
	var out []ComponentID
	var visit func(id ComponentID)
	visit = func(id ComponentID) {
		for _, m := range g.Members(id) {
			visit(m)
		}
		if c := g.Component(id); c != nil && c.Kind == Loop {
			out = append(out, id)
		}
	}
	visit(root)
	return out
}
