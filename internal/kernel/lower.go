package kernel

import (
	"fmt"

	"github.com/orcc/xronos-sub010/internal/diag"
	"github.com/orcc/xronos-sub010/internal/ir"
)

// defaultType is given to untyped literals with no typed operand.
var defaultType = ir.Signed(32)

// indexType is the port type of memory indices.
var indexType = ir.Unsigned(32)

// Lower builds the graph of k. Kernel inputs become ports of the top block and
// outputs become buses of its exit.
func Lower(k *Kernel) (*ir.Graph, error) {
	if k == nil {
		return nil, fmt.Errorf("lower: nil kernel")
	}
	g := ir.NewGraph(k.Name)
	top := g.NewBlock(k.Name)
	g.SetTop(top)
	g.Component(top).Source = k.Pos
	l := &lowerer{g: g, arrays: make(map[string]ir.ResourceID)}
	s := newScope(top)
	for _, p := range k.Inputs {
		if _, ok := s.types[p.Name]; ok {
			return nil, errorf(p.Pos, "input %q declared twice", p.Name)
		}
		_, bus := g.Import(top, p.Name, p.Type)
		s.define(p.Name, p.Type, bus)
	}
	for _, a := range k.Arrays {
		if _, ok := l.arrays[a.Name]; ok {
			return nil, errorf(a.Pos, "array %q declared twice", a.Name)
		}
		if a.Size <= 0 {
			return nil, errorf(a.Pos, "array %q must have a positive size", a.Name)
		}
		if len(a.Init) > a.Size {
			return nil, errorf(a.Pos, "array %q has %d initial values for %d elements", a.Name, len(a.Init), a.Size)
		}
		id := g.NewResource(ir.ArrayResource, a.Name, a.Elem, a.Size)
		r := g.Resource(id)
		for _, v := range a.Init {
			w, ok := literal(v, a.Elem)
			if !ok {
				return nil, errorf(a.Pos, "initial value %d of array %q overflows %s", v, a.Name, a.Elem)
			}
			r.Init = append(r.Init, w)
		}
		l.arrays[a.Name] = id
	}
	if err := l.stmts(s, k.Body); err != nil {
		return nil, err
	}
	for _, o := range k.Outputs {
		bus, ok := s.vars[o.Name]
		if !ok {
			return nil, errorf(o.Pos, "output %q is not defined", o.Name)
		}
		g.Export(top, o.Name, bus)
	}
	g.Seal(top)
	return g, nil
}

type lowerer struct {
	g      *ir.Graph
	arrays map[string]ir.ResourceID
	loops  int
}

// scope tracks the bus currently holding every variable inside one block.
type scope struct {
	block ir.ComponentID
	vars  map[string]ir.BusID
	types map[string]ir.Value
	order []string
	// pred is the condition under which stores execute, NoBus outside
	// conditionals.
	pred ir.BusID
}

func newScope(block ir.ComponentID) *scope {
	return &scope{
		block: block,
		vars:  make(map[string]ir.BusID),
		types: make(map[string]ir.Value),
		pred:  ir.NoBus,
	}
}

func (s *scope) define(name string, t ir.Value, bus ir.BusID) {
	if _, ok := s.types[name]; !ok {
		s.order = append(s.order, name)
	}
	s.types[name] = t
	s.vars[name] = bus
}

func (s *scope) branch(pred ir.BusID) *scope {
	c := newScope(s.block)
	for _, name := range s.order {
		c.define(name, s.types[name], s.vars[name])
	}
	c.pred = pred
	return c
}

func (l *lowerer) stmts(s *scope, list []Stmt) error {
	for _, st := range list {
		if err := l.stmt(s, st); err != nil {
			return err
		}
	}
	return nil
}

func (l *lowerer) stmt(s *scope, st Stmt) error {
	switch x := st.(type) {
	case *VarDecl:
		if _, ok := s.types[x.Name]; ok {
			return errorf(x.Pos, "%q redeclared", x.Name)
		}
		if _, ok := l.arrays[x.Name]; ok {
			return errorf(x.Pos, "%q redeclared", x.Name)
		}
		bus, err := l.expr(s, x.Value, x.Type)
		if err != nil {
			return err
		}
		s.define(x.Name, x.Type, l.convert(s, bus, x.Type, x.Pos))
	case *Assign:
		t, ok := s.types[x.Name]
		if !ok {
			return errorf(x.Pos, "assignment to undefined variable %q", x.Name)
		}
		bus, err := l.expr(s, x.Value, t)
		if err != nil {
			return err
		}
		s.vars[x.Name] = l.convert(s, bus, t, x.Pos)
	case *Store:
		return l.store(s, x)
	case *If:
		return l.branches(s, x)
	case *While:
		return l.loop(s, x.Pos, true, nil, x.Cond, x.Body, nil)
	case *For:
		return l.loop(s, x.Pos, true, x.Init, x.Cond, x.Body, x.Post)
	case *DoWhile:
		return l.loop(s, x.Pos, false, nil, x.Cond, x.Body, nil)
	default:
		return errorf(st.Position(), "unsupported statement %T", st)
	}
	return nil
}

func (l *lowerer) store(s *scope, x *Store) error {
	id, ok := l.arrays[x.Array]
	if !ok {
		return errorf(x.Pos, "undefined array %q", x.Array)
	}
	elem := l.g.Resource(id).Value
	idx, err := l.expr(s, x.Index, indexType)
	if err != nil {
		return err
	}
	idx = l.convert(s, idx, indexType, x.Pos)
	val, err := l.expr(s, x.Value, elem)
	if err != nil {
		return err
	}
	val = l.convert(s, val, elem, x.Pos)
	if s.pred != ir.NoBus {
		old := l.access(s, ir.ArrayRead, id, x.Pos, idx)
		val = l.op(s, ir.Mux, x.Pos, elem, s.pred, val, old)
	}
	l.access(s, ir.ArrayWrite, id, x.Pos, idx, val)
	return nil
}

// branches lowers both arms of an if speculatively and merges every variable
// they change with a Mux.
func (l *lowerer) branches(s *scope, x *If) error {
	cond, err := l.cond(s, x.Cond)
	if err != nil {
		return err
	}
	notCond := l.op(s, ir.Not, x.Pos, ir.Bool, cond)
	thenPred, elsePred := cond, notCond
	if s.pred != ir.NoBus {
		thenPred = l.op(s, ir.And, x.Pos, ir.Bool, s.pred, cond)
		elsePred = l.op(s, ir.And, x.Pos, ir.Bool, s.pred, notCond)
	}
	thenS, elseS := s.branch(thenPred), s.branch(elsePred)
	if err := l.stmts(thenS, x.Then); err != nil {
		return err
	}
	if err := l.stmts(elseS, x.Else); err != nil {
		return err
	}
	for _, name := range s.order {
		t, e := thenS.vars[name], elseS.vars[name]
		if t != e {
			s.vars[name] = l.op(s, ir.Mux, x.Pos, s.types[name], cond, t, e)
		}
	}
	return nil
}

func (l *lowerer) loop(s *scope, pos diag.Position, decisionFirst bool, init Stmt, cond Expr, body []Stmt, post Stmt) error {
	g := l.g
	if s.pred != ir.NoBus {
		return errorf(pos, "loops inside conditionals are not supported")
	}
	name := fmt.Sprintf("%s_loop%d", g.Name, l.loops)
	l.loops++

	u := newUsage()
	u.expr(cond)
	u.stmts(body)
	if post != nil {
		u.stmt(post)
	}
	var initName string
	var initType ir.Value
	if d, ok := init.(*VarDecl); ok {
		initName, initType = d.Name, d.Type
	}
	candidates := append([]string(nil), s.order...)
	if initName != "" {
		if _, ok := s.types[initName]; ok {
			return errorf(init.Position(), "%q redeclared", initName)
		}
		candidates = append(candidates, initName)
	}
	var carried, invariant []string
	for _, v := range candidates {
		if u.local[v] {
			continue
		}
		switch {
		case u.written[v]:
			carried = append(carried, v)
		case u.read[v]:
			invariant = append(invariant, v)
		}
	}
	vars := append(append([]string(nil), carried...), invariant...)
	typeOf := func(v string) ir.Value {
		if v == initName {
			return initType
		}
		return s.types[v]
	}

	// Init: every loop variable known before the loop, plus whatever the init
	// statement reads.
	initBlock := g.NewBlock(name + "_init")
	g.Component(initBlock).Source = pos
	is := newScope(initBlock)
	var imports []string
	needed := make(map[string]bool)
	for _, v := range vars {
		needed[v] = true
	}
	if init != nil {
		iu := newUsage()
		iu.stmt(init)
		for v := range iu.read {
			needed[v] = true
		}
	}
	for _, v := range s.order {
		if needed[v] {
			_, bus := g.Import(initBlock, v, s.types[v])
			is.define(v, s.types[v], bus)
			imports = append(imports, v)
		}
	}
	if init != nil {
		if err := l.stmt(is, init); err != nil {
			return err
		}
	}
	for _, v := range vars {
		bus, ok := is.vars[v]
		if !ok {
			return errorf(pos, "loop variable %q has no value before the loop", v)
		}
		g.Export(initBlock, v, bus)
	}
	g.Seal(initBlock)

	// inner opens a block whose ports are the loop variables.
	inner := func(suffix string) (ir.ComponentID, *scope) {
		b := g.NewBlock(name + "_" + suffix)
		g.Component(b).Source = pos
		sc := newScope(b)
		for _, v := range vars {
			_, bus := g.Import(b, v, typeOf(v))
			sc.define(v, typeOf(v), bus)
		}
		return b, sc
	}
	exportCarried := func(b ir.ComponentID, sc *scope) {
		for _, v := range carried {
			g.Export(b, v, sc.vars[v])
		}
		g.Seal(b)
	}

	testBlock, ts := inner("test")
	c, err := l.cond(ts, cond)
	if err != nil {
		return err
	}
	if !isCompare(g.ComponentOf(c).Kind) {
		zero := l.constant(ts, ir.BoolWord(false), cond.Position())
		c = l.op(ts, ir.Ne, cond.Position(), ir.Bool, c, zero)
	}
	g.Export(testBlock, "cond", c)
	g.Seal(testBlock)

	bodyBlock, bs := inner("body")
	if err := l.stmts(bs, body); err != nil {
		return err
	}
	exportCarried(bodyBlock, bs)

	update := ir.NoComponent
	if post != nil {
		var us *scope
		update, us = inner("update")
		if err := l.stmt(us, post); err != nil {
			return err
		}
		exportCarried(update, us)
	}

	loop := g.AssembleLoop(ir.LoopParts{
		Name:          name,
		DecisionFirst: decisionFirst,
		Init:          initBlock,
		Test:          testBlock,
		Body:          bodyBlock,
		Update:        update,
	})
	lc := g.Component(loop)
	lc.Source = pos
	for i, v := range imports {
		g.Connect(lc.Entries[0], lc.Ports[i], s.vars[v])
	}
	g.Append(s.block, loop)
	for i, v := range carried {
		if v == initName {
			continue
		}
		s.vars[v] = g.DataBus(loop, i)
	}
	return nil
}

func isCompare(k ir.Kind) bool {
	switch k {
	case ir.Lt, ir.Le, ir.Gt, ir.Ge, ir.Eq, ir.Ne:
		return true
	}
	return false
}

// cond lowers e as a one-bit condition.
func (l *lowerer) cond(s *scope, e Expr) (ir.BusID, error) {
	bus, err := l.expr(s, e, ir.Value{})
	if err != nil {
		return ir.NoBus, err
	}
	return l.truth(s, bus, e.Position()), nil
}

func (l *lowerer) truth(s *scope, bus ir.BusID, pos diag.Position) ir.BusID {
	t := l.g.Bus(bus).Value
	if t == ir.Bool {
		return bus
	}
	zero := l.constant(s, ir.NewWord(0, t), pos)
	return l.op(s, ir.Ne, pos, ir.Bool, bus, zero)
}

// literal encodes v in t, reporting false when the value does not fit.
func literal(v int64, t ir.Value) (ir.Word, bool) {
	w := ir.NewWord(v, t)
	if w.Int64() != v || (!t.Signed && v < 0) {
		return w, false
	}
	return w, true
}

var binaryKinds = map[string]ir.Kind{
	"+": ir.Add, "-": ir.Sub, "*": ir.Mul, "/": ir.Div, "%": ir.Rem,
	"&": ir.And, "|": ir.Or, "^": ir.Xor, "<<": ir.Shl, ">>": ir.Shr,
	"<": ir.Lt, "<=": ir.Le, ">": ir.Gt, ">=": ir.Ge, "==": ir.Eq, "!=": ir.Ne,
	"&&": ir.And, "||": ir.Or,
}

func (l *lowerer) expr(s *scope, e Expr, hint ir.Value) (ir.BusID, error) {
	switch x := e.(type) {
	case *Lit:
		t := hint
		if x.Type != nil {
			t = *x.Type
		}
		if t.IsUnknown() {
			t = defaultType
		}
		w, ok := literal(x.Value, t)
		if !ok {
			return ir.NoBus, errorf(x.Pos, "constant %d overflows %s", x.Value, t)
		}
		return l.constant(s, w, x.Pos), nil
	case *Ref:
		bus, ok := s.vars[x.Name]
		if !ok {
			return ir.NoBus, errorf(x.Pos, "undefined variable %q", x.Name)
		}
		return bus, nil
	case *Index:
		id, ok := l.arrays[x.Array]
		if !ok {
			return ir.NoBus, errorf(x.Pos, "undefined array %q", x.Array)
		}
		idx, err := l.expr(s, x.Index, indexType)
		if err != nil {
			return ir.NoBus, err
		}
		return l.access(s, ir.ArrayRead, id, x.Pos, l.convert(s, idx, indexType, x.Pos)), nil
	case *Conv:
		bus, err := l.expr(s, x.X, x.Type)
		if err != nil {
			return ir.NoBus, err
		}
		return l.convert(s, bus, x.Type, x.Pos), nil
	case *Unary:
		return l.unary(s, x, hint)
	case *Binary:
		return l.binary(s, x, hint)
	default:
		return ir.NoBus, errorf(e.Position(), "unsupported expression %T", e)
	}
}

func (l *lowerer) unary(s *scope, x *Unary, hint ir.Value) (ir.BusID, error) {
	if x.Op == "!" {
		c, err := l.cond(s, x.X)
		if err != nil {
			return ir.NoBus, err
		}
		return l.op(s, ir.Not, x.Pos, ir.Bool, c), nil
	}
	bus, err := l.expr(s, x.X, hint)
	if err != nil {
		return ir.NoBus, err
	}
	t := l.g.Bus(bus).Value
	switch x.Op {
	case "-":
		return l.op(s, ir.Neg, x.Pos, t, bus), nil
	case "^":
		return l.op(s, ir.Not, x.Pos, t, bus), nil
	}
	return ir.NoBus, errorf(x.Pos, "unknown operator %q", x.Op)
}

func (l *lowerer) binary(s *scope, x *Binary, hint ir.Value) (ir.BusID, error) {
	kind, ok := binaryKinds[x.Op]
	if !ok {
		return ir.NoBus, errorf(x.Pos, "unknown operator %q", x.Op)
	}
	if x.Op == "&&" || x.Op == "||" {
		a, err := l.cond(s, x.X)
		if err != nil {
			return ir.NoBus, err
		}
		b, err := l.cond(s, x.Y)
		if err != nil {
			return ir.NoBus, err
		}
		return l.op(s, kind, x.Pos, ir.Bool, a, b), nil
	}
	tx, ty := l.typeOf(s, x.X), l.typeOf(s, x.Y)
	if kind == ir.Shl || kind == ir.Shr {
		t := tx
		if t.IsUnknown() {
			t = hint
		}
		a, err := l.expr(s, x.X, t)
		if err != nil {
			return ir.NoBus, err
		}
		b, err := l.expr(s, x.Y, ty)
		if err != nil {
			return ir.NoBus, err
		}
		return l.op(s, kind, x.Pos, l.g.Bus(a).Value, a, b), nil
	}
	t := combine(tx, ty)
	if t.IsUnknown() {
		t = hint
		if isCompare(kind) || t.IsUnknown() {
			t = defaultType
		}
	}
	a, err := l.expr(s, x.X, t)
	if err != nil {
		return ir.NoBus, err
	}
	b, err := l.expr(s, x.Y, t)
	if err != nil {
		return ir.NoBus, err
	}
	a, b = l.convert(s, a, t, x.Pos), l.convert(s, b, t, x.Pos)
	result := t
	if isCompare(kind) {
		result = ir.Bool
	}
	return l.op(s, kind, x.Pos, result, a, b), nil
}

// typeOf returns the static type of e, unknown for expressions made only of
// untyped literals.
func (l *lowerer) typeOf(s *scope, e Expr) ir.Value {
	switch x := e.(type) {
	case *Lit:
		if x.Type != nil {
			return *x.Type
		}
	case *Ref:
		return s.types[x.Name]
	case *Index:
		if id, ok := l.arrays[x.Array]; ok {
			return l.g.Resource(id).Value
		}
	case *Conv:
		return x.Type
	case *Unary:
		if x.Op == "!" {
			return ir.Bool
		}
		return l.typeOf(s, x.X)
	case *Binary:
		kind := binaryKinds[x.Op]
		switch {
		case isCompare(kind) || x.Op == "&&" || x.Op == "||":
			return ir.Bool
		case kind == ir.Shl || kind == ir.Shr:
			return l.typeOf(s, x.X)
		}
		return combine(l.typeOf(s, x.X), l.typeOf(s, x.Y))
	}
	return ir.Value{}
}

func combine(a, b ir.Value) ir.Value {
	switch {
	case a.IsUnknown():
		return b
	case b.IsUnknown():
		return a
	}
	out := a
	if b.Width > out.Width {
		out.Width = b.Width
	}
	out.Signed = a.Signed || b.Signed
	return out
}

func (l *lowerer) convert(s *scope, bus ir.BusID, t ir.Value, pos diag.Position) ir.BusID {
	if l.g.Bus(bus).Value == t {
		return bus
	}
	return l.op(s, ir.Cast, pos, t, bus)
}

func (l *lowerer) constant(s *scope, w ir.Word, pos diag.Position) ir.BusID {
	c := l.g.NewConstant(fmt.Sprintf("k%d", w.Int64()), w)
	l.g.Component(c).Source = pos
	l.g.Append(s.block, c)
	return l.g.DataBus(c, 0)
}

// op appends an operator reading args to the scope's block.
func (l *lowerer) op(s *scope, kind ir.Kind, pos diag.Position, result ir.Value, args ...ir.BusID) ir.BusID {
	g := l.g
	vals := make([]ir.Value, len(args))
	for i, a := range args {
		vals[i] = g.Bus(a).Value
	}
	id := g.NewOp(kind, kind.String(), result, vals...)
	c := g.Component(id)
	c.Source = pos
	g.Append(s.block, id)
	for i, a := range args {
		g.Connect(c.Entries[0], c.Ports[i], a)
	}
	return g.DataBus(id, 0)
}

// access appends a memory access. Reads return their value bus; writes
// return NoBus.
func (l *lowerer) access(s *scope, kind ir.Kind, res ir.ResourceID, pos diag.Position, args ...ir.BusID) ir.BusID {
	g := l.g
	name := fmt.Sprintf("%s_%s", g.Resource(res).Name, kind)
	id := g.NewAccess(kind, name, res, indexType)
	c := g.Component(id)
	c.Source = pos
	g.Append(s.block, id)
	for i, a := range args {
		g.Connect(c.Entries[0], c.Ports[i], a)
	}
	return g.DataBus(id, 0)
}

// usage collects the variables a loop reads, writes and declares.
type usage struct {
	read, written, local map[string]bool
}

func newUsage() *usage {
	return &usage{read: make(map[string]bool), written: make(map[string]bool), local: make(map[string]bool)}
}

func (u *usage) stmts(list []Stmt) {
	for _, st := range list {
		u.stmt(st)
	}
}

func (u *usage) stmt(st Stmt) {
	switch x := st.(type) {
	case *VarDecl:
		u.expr(x.Value)
		u.local[x.Name] = true
	case *Assign:
		u.expr(x.Value)
		u.written[x.Name] = true
	case *Store:
		u.expr(x.Index)
		u.expr(x.Value)
	case *If:
		u.expr(x.Cond)
		u.stmts(x.Then)
		u.stmts(x.Else)
	case *While:
		u.expr(x.Cond)
		u.stmts(x.Body)
	case *DoWhile:
		u.stmts(x.Body)
		u.expr(x.Cond)
	case *For:
		if x.Init != nil {
			u.stmt(x.Init)
		}
		u.expr(x.Cond)
		if x.Post != nil {
			u.stmt(x.Post)
		}
		u.stmts(x.Body)
	}
}

func (u *usage) expr(e Expr) {
	switch x := e.(type) {
	case *Ref:
		u.read[x.Name] = true
	case *Binary:
		u.expr(x.X)
		u.expr(x.Y)
	case *Unary:
		u.expr(x.X)
	case *Index:
		u.expr(x.Index)
	case *Conv:
		u.expr(x.X)
	}
}
