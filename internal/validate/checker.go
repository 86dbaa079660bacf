// Package validate rejects Go constructs that have no hardware meaning before
// a Go kernel is converted.
package validate

import (
	"fmt"
	"go/ast"
	"go/constant"
	"go/token"
	"go/types"

	"golang.org/x/tools/go/packages"
	"golang.org/x/tools/go/ssa"
	"golang.org/x/tools/go/ssa/ssautil"

	"github.com/orcc/xronos-sub010/internal/diag"
)

// CheckProgram validates that the functions of pkgs only use the kernel
// subset of Go: integer and bool scalars, fixed-size local arrays, structured
// control flow and no calls.
func CheckProgram(prog *ssa.Program, pkgs []*ssa.Package, astPkgs []*packages.Package, reporter *diag.Reporter) error {
	if prog == nil {
		return fmt.Errorf("no SSA program provided for validation")
	}
	if reporter == nil {
		return fmt.Errorf("no reporter provided for validation")
	}

	c := &checker{
		reporter:   reporter,
		allowedPkg: make(map[*ssa.Package]struct{}),
		astPkgs:    astPkgs,
	}
	for _, pkg := range pkgs {
		if pkg != nil {
			c.allowedPkg[pkg] = struct{}{}
		}
	}
	c.run(prog)
	if c.errCount > 0 {
		return fmt.Errorf("validation failed with %d issue(s)", c.errCount)
	}
	return nil
}

type checker struct {
	reporter   *diag.Reporter
	errCount   int
	allowedPkg map[*ssa.Package]struct{}
	astPkgs    []*packages.Package
}

func (c *checker) run(prog *ssa.Program) {
	c.checkASTLoops()
	for fn := range ssautil.AllFunctions(prog) {
		if fn == nil || len(fn.Blocks) == 0 || fn.Pkg == nil || fn.Pkg.Pkg == nil {
			continue
		}
		if len(c.allowedPkg) > 0 {
			if _, ok := c.allowedPkg[fn.Pkg]; !ok {
				continue
			}
		}
		if fn.Synthetic != "" {
			continue
		}
		c.checkFunction(fn)
	}
}

func (c *checker) checkFunction(fn *ssa.Function) {
	for _, p := range fn.Params {
		if !supportedScalar(p.Type()) {
			c.error(p.Pos(), "parameter %s has type %s; kernel inputs must be integers or bool", p.Name(), p.Type())
		}
	}
	for _, block := range fn.Blocks {
		for _, instr := range block.Instrs {
			c.inspectInstruction(fn, instr)
		}
	}
}

func (c *checker) inspectInstruction(fn *ssa.Function, instr ssa.Instruction) {
	switch inst := instr.(type) {
	case *ssa.Go:
		c.error(inst.Pos(), "goroutines are not supported in kernels")
	case *ssa.Defer:
		c.error(inst.Pos(), "defer is not supported in kernels")
	case *ssa.Call:
		c.checkCall(fn, inst)
	case *ssa.MakeChan, *ssa.Send:
		c.error(inst.Pos(), "channels are not supported in kernels")
	case *ssa.UnOp:
		if inst.Op == token.ARROW {
			c.error(inst.Pos(), "channels are not supported in kernels")
		}
	case *ssa.Select:
		c.error(inst.Pos(), "select statements are not supported in kernels")
	case *ssa.MakeMap, *ssa.MapUpdate, *ssa.Lookup:
		c.error(inst.Pos(), "maps are not supported in kernels")
	case *ssa.MakeSlice, *ssa.Slice:
		c.error(inst.Pos(), "slices are not supported; use fixed-size arrays")
	case *ssa.MakeClosure:
		c.error(inst.Pos(), "closures are not supported in kernels")
	case *ssa.MakeInterface:
		c.error(inst.Pos(), "interfaces are not supported in kernels")
	case *ssa.Panic:
		c.error(inst.Pos(), "panic is not supported in kernels")
	case *ssa.Alloc:
		c.checkAlloc(inst)
	}
}

func (c *checker) checkCall(current *ssa.Function, call *ssa.Call) {
	if call.Call.IsInvoke() {
		c.error(call.Pos(), "interface method calls are not supported")
		return
	}
	switch callee := call.Call.Value.(type) {
	case *ssa.Builtin:
		c.error(call.Pos(), "builtin %s is not supported in kernels", callee.Name())
		return
	case *ssa.Function:
		if callee == current {
			c.error(call.Pos(), "recursion is not supported; refactor %s to an iterative form", current.Name())
			return
		}
		c.error(call.Pos(), "call to %s is not supported; kernels must be a single function", callee.Name())
		return
	}
	c.error(call.Pos(), "dynamic calls are not supported in kernels")
}

// checkAlloc accepts local arrays of supported scalars and scalar variables
// whose address is taken by the SSA builder.
func (c *checker) checkAlloc(a *ssa.Alloc) {
	ptr, ok := a.Type().Underlying().(*types.Pointer)
	if !ok {
		return
	}
	elem := ptr.Elem()
	if arr, ok := elem.Underlying().(*types.Array); ok {
		if !supportedScalar(arr.Elem()) {
			c.error(a.Pos(), "array element type %s is not supported; only integers or bool are allowed", arr.Elem())
		}
		return
	}
	if !supportedScalar(elem) {
		c.error(a.Pos(), "variables of type %s are not supported in kernels", elem)
	}
}

// checkASTLoops rejects loop shapes the converter cannot express and warns
// about loops whose bounds are not compile-time constants.
func (c *checker) checkASTLoops() {
	for _, pkg := range c.astPkgs {
		if pkg == nil {
			continue
		}
		info := pkg.TypesInfo
		for _, file := range pkg.Syntax {
			if file == nil {
				continue
			}
			var walk func(n ast.Node, inBranch bool)
			walk = func(n ast.Node, inBranch bool) {
				ast.Inspect(n, func(n ast.Node) bool {
					switch s := n.(type) {
					case *ast.IfStmt:
						if s.Init != nil {
							walk(s.Init, inBranch)
						}
						walk(s.Body, true)
						if s.Else != nil {
							walk(s.Else, true)
						}
						return false
					case *ast.RangeStmt:
						c.error(s.For, "range loops are not supported; use a counted for loop")
					case *ast.SwitchStmt, *ast.TypeSwitchStmt:
						c.error(s.Pos(), "switch statements are not supported; use if/else")
					case *ast.LabeledStmt:
						c.error(s.Pos(), "labels are not supported in kernels")
					case *ast.ForStmt:
						c.checkFor(s, info, inBranch)
					}
					return true
				})
			}
			walk(file, false)
		}
	}
}

func (c *checker) checkFor(stmt *ast.ForStmt, info *types.Info, inBranch bool) {
	if inBranch {
		c.error(stmt.For, "loops inside conditionals are not supported")
		return
	}
	if stmt.Cond == nil {
		if !endsWithBreak(stmt.Body) {
			c.error(stmt.For, "loops without a condition must end with `if cond { break }`")
		}
		return
	}
	if stmt.Init == nil && stmt.Post == nil {
		return
	}
	n, ok := staticTripCount(stmt, info)
	switch {
	case !ok:
		c.warning(stmt.For, "loop bounds are not compile-time constants; the loop is unrolled only if its trip count can be proven")
	case n > maxUnrolledIterations:
		c.warning(stmt.For, "loop runs %d iterations and stays rolled; at most %d are unrolled", n, maxUnrolledIterations)
	}
}

// maxUnrolledIterations matches the iteration cap of the loop analysis.
const maxUnrolledIterations = 65535

func endsWithBreak(body *ast.BlockStmt) bool {
	if body == nil || len(body.List) == 0 {
		return false
	}
	is, ok := body.List[len(body.List)-1].(*ast.IfStmt)
	if !ok || is.Else != nil || len(is.Body.List) != 1 {
		return false
	}
	br, ok := is.Body.List[0].(*ast.BranchStmt)
	return ok && br.Tok == token.BREAK && br.Label == nil
}

func (c *checker) error(pos token.Pos, format string, args ...any) {
	c.errCount++
	c.reporter.Error(pos, fmt.Sprintf(format, args...))
}

func (c *checker) warning(pos token.Pos, format string, args ...any) {
	c.reporter.Warning(pos, fmt.Sprintf(format, args...))
}

func supportedScalar(t types.Type) bool {
	b, ok := t.Underlying().(*types.Basic)
	if !ok {
		return false
	}
	return b.Info()&types.IsInteger != 0 || b.Kind() == types.Bool
}

// inductionLoop is a counted loop `for i := start; i op limit; i += step`.
type inductionLoop struct {
	iter  string
	start int64
	limit int64
	op    token.Token
	step  int64
}

// staticTripCount returns the number of iterations of a counted loop whose
// start, limit and step are constants.
func staticTripCount(stmt *ast.ForStmt, info *types.Info) (int64, bool) {
	l, ok := matchInduction(stmt, info)
	if !ok {
		return 0, false
	}
	return l.trips()
}

func (l inductionLoop) trips() (int64, bool) {
	span, step := l.limit-l.start, l.step
	if step < 0 {
		span, step = -span, -step
	}
	switch {
	case l.op == token.NEQ:
		if (l.step > 0) != (l.limit >= l.start) || span%step != 0 {
			return 0, false
		}
		return span / step, true
	case (l.op == token.LSS || l.op == token.LEQ) && l.step <= 0,
		(l.op == token.GTR || l.op == token.GEQ) && l.step >= 0:
		return 0, false
	}
	inclusive := l.op == token.LEQ || l.op == token.GEQ
	switch {
	case span < 0, span == 0 && !inclusive:
		return 0, true
	case inclusive:
		return span/step + 1, true
	}
	return (span + step - 1) / step, true
}

func matchInduction(stmt *ast.ForStmt, info *types.Info) (inductionLoop, bool) {
	var l inductionLoop
	if stmt == nil || stmt.Init == nil || stmt.Cond == nil || stmt.Post == nil {
		return l, false
	}
	init, ok := stmt.Init.(*ast.AssignStmt)
	if !ok || len(init.Lhs) != 1 || len(init.Rhs) != 1 {
		return l, false
	}
	ident, ok := init.Lhs[0].(*ast.Ident)
	if !ok || ident.Name == "_" {
		return l, false
	}
	l.iter = ident.Name
	if l.start, ok = constantIntValue(info, init.Rhs[0]); !ok {
		return l, false
	}
	cond, ok := stmt.Cond.(*ast.BinaryExpr)
	if !ok || !isIdent(cond.X, l.iter) {
		return l, false
	}
	switch cond.Op {
	case token.LSS, token.LEQ, token.GTR, token.GEQ, token.NEQ:
		l.op = cond.Op
	default:
		return l, false
	}
	if l.limit, ok = constantIntValue(info, cond.Y); !ok {
		return l, false
	}
	if l.step, ok = stepOf(stmt.Post, l.iter, info); !ok || l.step == 0 {
		return l, false
	}
	return l, true
}

// stepOf recognizes i++, i--, i += c, i -= c, i = i + c and i = i - c.
func stepOf(stmt ast.Stmt, iter string, info *types.Info) (int64, bool) {
	switch s := stmt.(type) {
	case *ast.IncDecStmt:
		if !isIdent(s.X, iter) {
			return 0, false
		}
		if s.Tok == token.INC {
			return 1, true
		}
		return -1, true
	case *ast.AssignStmt:
		if len(s.Lhs) != 1 || len(s.Rhs) != 1 || !isIdent(s.Lhs[0], iter) {
			return 0, false
		}
		op, rhs := s.Tok, s.Rhs[0]
		if op == token.ASSIGN {
			bin, ok := rhs.(*ast.BinaryExpr)
			if !ok || !isIdent(bin.X, iter) {
				return 0, false
			}
			op, rhs = bin.Op, bin.Y
		}
		v, ok := constantIntValue(info, rhs)
		if !ok {
			return 0, false
		}
		switch op {
		case token.ADD_ASSIGN, token.ADD:
			return v, true
		case token.SUB_ASSIGN, token.SUB:
			return -v, true
		}
	}
	return 0, false
}

func isIdent(e ast.Expr, name string) bool {
	id, ok := e.(*ast.Ident)
	return ok && id.Name == name
}

func constantIntValue(info *types.Info, expr ast.Expr) (int64, bool) {
	if info == nil {
		return 0, false
	}
	tv, ok := info.Types[expr]
	if !ok || tv.Value == nil || tv.Value.Kind() != constant.Int {
		return 0, false
	}
	return constant.Int64Val(tv.Value)
}
