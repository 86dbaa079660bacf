package frontend

import (
	"fmt"
	"go/ast"
	"go/constant"
	"go/token"
	"go/types"

	gopackages "golang.org/x/tools/go/packages"

	"github.com/orcc/xronos-sub010/internal/diag"
	"github.com/orcc/xronos-sub010/internal/ir"
	"github.com/orcc/xronos-sub010/internal/kernel"
)

// Convert translates the top-level function name of pkg into a kernel.
//
// Parameters become inputs and named results become outputs that start at
// zero. Arrays declared at the top level of the function body become kernel
// memories. A for loop without a condition is accepted when its last
// statement is `if cond { break }` and becomes a do-while loop.
func Convert(pkg *gopackages.Package, name string) (*kernel.Kernel, error) {
	fn := findFunc(pkg, name)
	if fn == nil {
		return nil, fmt.Errorf("package %s has no function %s", pkg.PkgPath, name)
	}
	c := &converter{fset: pkg.Fset, info: pkg.TypesInfo, sizes: pkg.TypesSizes}
	if c.sizes == nil {
		c.sizes = types.SizesFor("gc", "amd64")
	}
	return c.kernel(fn)
}

func findFunc(pkg *gopackages.Package, name string) *ast.FuncDecl {
	for _, f := range pkg.Syntax {
		for _, d := range f.Decls {
			if fd, ok := d.(*ast.FuncDecl); ok && fd.Recv == nil && fd.Name.Name == name {
				return fd
			}
		}
	}
	return nil
}

type converter struct {
	fset  *token.FileSet
	info  *types.Info
	sizes types.Sizes
	k     *kernel.Kernel
	// depth counts the loops and branches enclosing the statement being
	// converted.
	depth int
}

var binaryOps = map[token.Token]string{
	token.ADD: "+", token.SUB: "-", token.MUL: "*", token.QUO: "/", token.REM: "%",
	token.AND: "&", token.OR: "|", token.XOR: "^", token.SHL: "<<", token.SHR: ">>",
	token.EQL: "==", token.NEQ: "!=", token.LSS: "<", token.LEQ: "<=", token.GTR: ">", token.GEQ: ">=",
	token.LAND: "&&", token.LOR: "||",
}

var assignOps = map[token.Token]string{
	token.ADD_ASSIGN: "+", token.SUB_ASSIGN: "-", token.MUL_ASSIGN: "*", token.QUO_ASSIGN: "/",
	token.REM_ASSIGN: "%", token.AND_ASSIGN: "&", token.OR_ASSIGN: "|", token.XOR_ASSIGN: "^",
	token.SHL_ASSIGN: "<<", token.SHR_ASSIGN: ">>",
}

func (c *converter) pos(p token.Pos) diag.Position {
	pp := c.fset.Position(p)
	return diag.Position{Filename: pp.Filename, Line: pp.Line, Column: pp.Column}
}

func (c *converter) errorf(p token.Pos, format string, args ...interface{}) error {
	return &kernel.Error{Pos: c.pos(p), Msg: fmt.Sprintf(format, args...)}
}

func (c *converter) kernel(fn *ast.FuncDecl) (*kernel.Kernel, error) {
	if fn.Type.TypeParams != nil {
		return nil, c.errorf(fn.Pos(), "kernel %s must not be generic", fn.Name.Name)
	}
	if fn.Body == nil {
		return nil, c.errorf(fn.Pos(), "kernel %s has no body", fn.Name.Name)
	}
	c.k = &kernel.Kernel{Name: fn.Name.Name, Pos: c.pos(fn.Pos())}
	for _, field := range fn.Type.Params.List {
		t, err := c.valueOf(field.Type.Pos(), c.info.TypeOf(field.Type))
		if err != nil {
			return nil, err
		}
		if len(field.Names) == 0 {
			return nil, c.errorf(field.Pos(), "kernel parameters must be named")
		}
		for _, n := range field.Names {
			c.k.Inputs = append(c.k.Inputs, &kernel.Param{Name: n.Name, Type: t, Pos: c.pos(n.Pos())})
		}
	}
	var body []kernel.Stmt
	if fn.Type.Results != nil {
		for _, field := range fn.Type.Results.List {
			if len(field.Names) == 0 {
				return nil, c.errorf(field.Pos(), "kernel results must be named; they become the kernel outputs")
			}
			t, err := c.valueOf(field.Type.Pos(), c.info.TypeOf(field.Type))
			if err != nil {
				return nil, err
			}
			for _, n := range field.Names {
				pos := c.pos(n.Pos())
				body = append(body, &kernel.VarDecl{Name: n.Name, Type: t, Value: &kernel.Lit{Type: &t, Pos: pos}, Pos: pos})
				c.k.Outputs = append(c.k.Outputs, &kernel.Output{Name: n.Name, Pos: pos})
			}
		}
	}
	list := fn.Body.List
	if n := len(list); n > 0 {
		if ret, ok := list[n-1].(*ast.ReturnStmt); ok {
			if len(ret.Results) != 0 {
				return nil, c.errorf(ret.Pos(), "return must not list values; assign the named results instead")
			}
			list = list[:n-1]
		}
	}
	stmts, err := c.stmts(list)
	if err != nil {
		return nil, err
	}
	c.k.Body = append(body, stmts...)
	return c.k, nil
}

// valueOf maps a Go integer or bool type onto a hardware value type.
func (c *converter) valueOf(pos token.Pos, t types.Type) (ir.Value, error) {
	if t == nil {
		return ir.Value{}, c.errorf(pos, "missing type information")
	}
	b, ok := t.Underlying().(*types.Basic)
	if !ok {
		return ir.Value{}, c.errorf(pos, "type %s is not supported; kernels use integers and bool", t)
	}
	info := b.Info()
	switch {
	case b.Kind() == types.Bool || b.Kind() == types.UntypedBool:
		return ir.Bool, nil
	case info&types.IsInteger != 0 && info&types.IsUntyped == 0:
		return ir.Value{Width: int(c.sizes.Sizeof(t)) * 8, Signed: info&types.IsUnsigned == 0}, nil
	}
	return ir.Value{}, c.errorf(pos, "type %s is not supported; kernels use integers and bool", t)
}

func (c *converter) stmts(list []ast.Stmt) ([]kernel.Stmt, error) {
	var out []kernel.Stmt
	for _, s := range list {
		sts, err := c.stmt(s)
		if err != nil {
			return nil, err
		}
		out = append(out, sts...)
	}
	return out, nil
}

func one(st kernel.Stmt, err error) ([]kernel.Stmt, error) {
	if err != nil || st == nil {
		return nil, err
	}
	return []kernel.Stmt{st}, nil
}

func (c *converter) stmt(s ast.Stmt) ([]kernel.Stmt, error) {
	switch x := s.(type) {
	case *ast.DeclStmt:
		return c.decl(x)
	case *ast.AssignStmt:
		return c.assign(x)
	case *ast.IncDecStmt:
		op := "+"
		if x.Tok == token.DEC {
			op = "-"
		}
		return one(c.update(x.X, op, &kernel.Lit{Value: 1, Pos: c.pos(x.TokPos)}, x.Pos()))
	case *ast.IfStmt:
		return one(c.ifStmt(x))
	case *ast.ForStmt:
		return one(c.forStmt(x))
	case *ast.BlockStmt:
		return c.stmts(x.List)
	case *ast.EmptyStmt:
		return nil, nil
	case *ast.ReturnStmt:
		return nil, c.errorf(x.Pos(), "return is only allowed as the last statement of a kernel")
	case *ast.BranchStmt:
		return nil, c.errorf(x.Pos(), "%s is only supported as the exit test of a do-while loop", x.Tok)
	case *ast.RangeStmt:
		return nil, c.errorf(x.Pos(), "range loops are not supported; use a counted for loop")
	}
	return nil, c.errorf(s.Pos(), "unsupported statement %T", s)
}

func (c *converter) decl(x *ast.DeclStmt) ([]kernel.Stmt, error) {
	gd, ok := x.Decl.(*ast.GenDecl)
	if !ok {
		return nil, c.errorf(x.Pos(), "unsupported declaration")
	}
	switch gd.Tok {
	case token.CONST:
		// Constants are folded where they are used.
		return nil, nil
	case token.VAR:
	default:
		return nil, c.errorf(x.Pos(), "%s declarations are not supported in kernels", gd.Tok)
	}
	var out []kernel.Stmt
	for _, spec := range gd.Specs {
		vs := spec.(*ast.ValueSpec)
		if len(vs.Values) != 0 && len(vs.Values) != len(vs.Names) {
			return nil, c.errorf(vs.Pos(), "multi-value declarations are not supported")
		}
		for i, n := range vs.Names {
			var init ast.Expr
			if len(vs.Values) != 0 {
				init = vs.Values[i]
			}
			st, err := c.define(n, init)
			if err != nil {
				return nil, err
			}
			if st != nil {
				out = append(out, st)
			}
		}
	}
	return out, nil
}

// define converts the declaration of n. Arrays are recorded on the kernel and
// yield no statement.
func (c *converter) define(n *ast.Ident, init ast.Expr) (kernel.Stmt, error) {
	if n.Name == "_" {
		return nil, c.errorf(n.Pos(), "blank declarations are not supported")
	}
	obj := c.info.Defs[n]
	if obj == nil {
		return nil, c.errorf(n.Pos(), "%s is already declared", n.Name)
	}
	if arr, ok := obj.Type().Underlying().(*types.Array); ok {
		return nil, c.array(n, arr, init)
	}
	t, err := c.valueOf(n.Pos(), obj.Type())
	if err != nil {
		return nil, err
	}
	pos := c.pos(n.Pos())
	var value kernel.Expr = &kernel.Lit{Type: &t, Pos: pos}
	if init != nil {
		if value, err = c.expr(init); err != nil {
			return nil, err
		}
	}
	return &kernel.VarDecl{Name: n.Name, Type: t, Value: value, Pos: pos}, nil
}

func (c *converter) array(n *ast.Ident, arr *types.Array, init ast.Expr) error {
	if c.depth > 0 {
		return c.errorf(n.Pos(), "array %s must be declared at the top level of the kernel", n.Name)
	}
	elem, err := c.valueOf(n.Pos(), arr.Elem())
	if err != nil {
		return err
	}
	a := &kernel.Array{Name: n.Name, Elem: elem, Size: int(arr.Len()), Pos: c.pos(n.Pos())}
	if init != nil {
		lit, ok := unparen(init).(*ast.CompositeLit)
		if !ok {
			return c.errorf(init.Pos(), "array %s must be initialized with a literal", n.Name)
		}
		for _, e := range lit.Elts {
			if _, keyed := e.(*ast.KeyValueExpr); keyed {
				return c.errorf(e.Pos(), "keyed array literals are not supported")
			}
			tv, ok := c.info.Types[e]
			if !ok || tv.Value == nil {
				return c.errorf(e.Pos(), "elements of array %s must be constants", n.Name)
			}
			v, ok := constantValue(tv.Value)
			if !ok {
				return c.errorf(e.Pos(), "constant %s does not fit in 64 bits", tv.Value)
			}
			a.Init = append(a.Init, v)
		}
	}
	c.k.Arrays = append(c.k.Arrays, a)
	return nil
}

func (c *converter) assign(x *ast.AssignStmt) ([]kernel.Stmt, error) {
	if len(x.Lhs) != 1 || len(x.Rhs) != 1 {
		return nil, c.errorf(x.Pos(), "only single assignments are supported")
	}
	lhs, rhs := x.Lhs[0], x.Rhs[0]
	switch x.Tok {
	case token.DEFINE:
		id, ok := lhs.(*ast.Ident)
		if !ok {
			return nil, c.errorf(lhs.Pos(), "cannot declare %T", lhs)
		}
		return one(c.define(id, rhs))
	case token.ASSIGN:
		value, err := c.expr(rhs)
		if err != nil {
			return nil, err
		}
		return one(c.store(lhs, value, x.Pos()))
	}
	op, ok := assignOps[x.Tok]
	if !ok {
		return nil, c.errorf(x.TokPos, "unsupported assignment operator %s", x.Tok)
	}
	value, err := c.expr(rhs)
	if err != nil {
		return nil, err
	}
	return one(c.update(lhs, op, value, x.Pos()))
}

// update converts lhs op= y.
func (c *converter) update(lhs ast.Expr, op string, y kernel.Expr, pos token.Pos) (kernel.Stmt, error) {
	cur, err := c.expr(lhs)
	if err != nil {
		return nil, err
	}
	return c.store(lhs, &kernel.Binary{Op: op, X: cur, Y: y, Pos: c.pos(pos)}, pos)
}

func (c *converter) store(lhs ast.Expr, value kernel.Expr, pos token.Pos) (kernel.Stmt, error) {
	switch l := unparen(lhs).(type) {
	case *ast.Ident:
		if l.Name == "_" {
			return nil, c.errorf(l.Pos(), "assignments to _ are not supported")
		}
		if c.isArray(l) {
			return nil, c.errorf(l.Pos(), "cannot assign to array %s as a whole", l.Name)
		}
		return &kernel.Assign{Name: l.Name, Value: value, Pos: c.pos(pos)}, nil
	case *ast.IndexExpr:
		name, err := c.arrayName(l.X)
		if err != nil {
			return nil, err
		}
		idx, err := c.expr(l.Index)
		if err != nil {
			return nil, err
		}
		return &kernel.Store{Array: name, Index: idx, Value: value, Pos: c.pos(pos)}, nil
	}
	return nil, c.errorf(lhs.Pos(), "cannot assign to %T", lhs)
}

func (c *converter) ifStmt(x *ast.IfStmt) (kernel.Stmt, error) {
	if x.Init != nil {
		return nil, c.errorf(x.Init.Pos(), "if statements with an init statement are not supported")
	}
	cond, err := c.expr(x.Cond)
	if err != nil {
		return nil, err
	}
	c.depth++
	defer func() { c.depth-- }()
	then, err := c.stmts(x.Body.List)
	if err != nil {
		return nil, err
	}
	var els []kernel.Stmt
	switch e := x.Else.(type) {
	case *ast.BlockStmt:
		els, err = c.stmts(e.List)
	case *ast.IfStmt:
		els, err = one(c.ifStmt(e))
	}
	if err != nil {
		return nil, err
	}
	return &kernel.If{Cond: cond, Then: then, Else: els, Pos: c.pos(x.Pos())}, nil
}

func (c *converter) forStmt(x *ast.ForStmt) (kernel.Stmt, error) {
	c.depth++
	defer func() { c.depth-- }()
	pos := c.pos(x.Pos())
	if x.Cond == nil {
		if x.Init != nil || x.Post != nil {
			return nil, c.errorf(x.Pos(), "counted loops need a condition")
		}
		return c.doWhile(x)
	}
	cond, err := c.expr(x.Cond)
	if err != nil {
		return nil, err
	}
	body, err := c.stmts(x.Body.List)
	if err != nil {
		return nil, err
	}
	if x.Init == nil && x.Post == nil {
		return &kernel.While{Cond: cond, Body: body, Pos: pos}, nil
	}
	single := func(s ast.Stmt, what string) (kernel.Stmt, error) {
		if s == nil {
			return nil, nil
		}
		list, err := c.stmt(s)
		if err != nil {
			return nil, err
		}
		if len(list) != 1 {
			return nil, c.errorf(s.Pos(), "the loop %s must be a single scalar statement", what)
		}
		return list[0], nil
	}
	init, err := single(x.Init, "init")
	if err != nil {
		return nil, err
	}
	post, err := single(x.Post, "post statement")
	if err != nil {
		return nil, err
	}
	return &kernel.For{Init: init, Cond: cond, Post: post, Body: body, Pos: pos}, nil
}

func (c *converter) doWhile(x *ast.ForStmt) (kernel.Stmt, error) {
	list := x.Body.List
	exit := exitTest(list)
	if exit == nil {
		return nil, c.errorf(x.Pos(), "loops without a condition must end with `if cond { break }`")
	}
	body, err := c.stmts(list[:len(list)-1])
	if err != nil {
		return nil, err
	}
	cond, err := c.expr(exit.Cond)
	if err != nil {
		return nil, err
	}
	pos := c.pos(exit.Cond.Pos())
	return &kernel.DoWhile{Body: body, Cond: &kernel.Unary{Op: "!", X: cond, Pos: pos}, Pos: c.pos(x.Pos())}, nil
}

// exitTest returns the trailing `if cond { break }` of a loop body.
func exitTest(list []ast.Stmt) *ast.IfStmt {
	if len(list) == 0 {
		return nil
	}
	is, ok := list[len(list)-1].(*ast.IfStmt)
	if !ok || is.Init != nil || is.Else != nil || len(is.Body.List) != 1 {
		return nil
	}
	br, ok := is.Body.List[0].(*ast.BranchStmt)
	if !ok || br.Tok != token.BREAK || br.Label != nil {
		return nil
	}
	return is
}

func (c *converter) expr(e ast.Expr) (kernel.Expr, error) {
	pos := c.pos(e.Pos())
	if tv, ok := c.info.Types[e]; ok && tv.Value != nil {
		v, ok := constantValue(tv.Value)
		if !ok {
			return nil, c.errorf(e.Pos(), "constant %s does not fit in 64 bits", tv.Value)
		}
		lit := &kernel.Lit{Value: v, Pos: pos}
		if b, basic := tv.Type.(*types.Basic); !basic || b.Info()&types.IsUntyped == 0 || b.Kind() == types.UntypedBool {
			t, err := c.valueOf(e.Pos(), tv.Type)
			if err != nil {
				return nil, err
			}
			lit.Type = &t
		}
		return lit, nil
	}
	switch x := e.(type) {
	case *ast.ParenExpr:
		return c.expr(x.X)
	case *ast.Ident:
		if c.isArray(x) {
			return nil, c.errorf(x.Pos(), "array %s must be indexed", x.Name)
		}
		if _, ok := c.info.Uses[x].(*types.Var); !ok {
			return nil, c.errorf(x.Pos(), "%s is not a variable", x.Name)
		}
		return &kernel.Ref{Name: x.Name, Pos: pos}, nil
	case *ast.BinaryExpr:
		op, ok := binaryOps[x.Op]
		if !ok {
			return nil, c.errorf(x.OpPos, "unsupported operator %s", x.Op)
		}
		l, err := c.expr(x.X)
		if err != nil {
			return nil, err
		}
		r, err := c.expr(x.Y)
		if err != nil {
			return nil, err
		}
		return &kernel.Binary{Op: op, X: l, Y: r, Pos: pos}, nil
	case *ast.UnaryExpr:
		var op string
		switch x.Op {
		case token.ADD:
			return c.expr(x.X)
		case token.SUB:
			op = "-"
		case token.NOT:
			op = "!"
		case token.XOR:
			op = "^"
		default:
			return nil, c.errorf(x.Pos(), "unsupported operator %s", x.Op)
		}
		inner, err := c.expr(x.X)
		if err != nil {
			return nil, err
		}
		return &kernel.Unary{Op: op, X: inner, Pos: pos}, nil
	case *ast.IndexExpr:
		name, err := c.arrayName(x.X)
		if err != nil {
			return nil, err
		}
		idx, err := c.expr(x.Index)
		if err != nil {
			return nil, err
		}
		return &kernel.Index{Array: name, Index: idx, Pos: pos}, nil
	case *ast.CallExpr:
		if tv, ok := c.info.Types[x.Fun]; ok && tv.IsType() && len(x.Args) == 1 {
			t, err := c.valueOf(x.Fun.Pos(), tv.Type)
			if err != nil {
				return nil, err
			}
			arg, err := c.expr(x.Args[0])
			if err != nil {
				return nil, err
			}
			return &kernel.Conv{Type: t, X: arg, Pos: pos}, nil
		}
		return nil, c.errorf(x.Pos(), "function calls are not supported in kernels")
	}
	return nil, c.errorf(e.Pos(), "unsupported expression %T", e)
}

func (c *converter) isArray(id *ast.Ident) bool {
	obj := c.info.ObjectOf(id)
	if obj == nil {
		return false
	}
	_, ok := obj.Type().Underlying().(*types.Array)
	return ok
}

func (c *converter) arrayName(e ast.Expr) (string, error) {
	id, ok := unparen(e).(*ast.Ident)
	if !ok || !c.isArray(id) {
		return "", c.errorf(e.Pos(), "only local arrays can be indexed")
	}
	return id.Name, nil
}

func constantValue(v constant.Value) (int64, bool) {
	switch v.Kind() {
	case constant.Bool:
		if constant.BoolVal(v) {
			return 1, true
		}
		return 0, true
	case constant.Int:
		if x, exact := constant.Int64Val(v); exact {
			return x, true
		}
		if x, exact := constant.Uint64Val(v); exact {
			return int64(x), true
		}
	}
	return 0, false
}

func unparen(e ast.Expr) ast.Expr {
	for {
		p, ok := e.(*ast.ParenExpr)
		if !ok {
			return e
		}
		e = p.X
	}
}
