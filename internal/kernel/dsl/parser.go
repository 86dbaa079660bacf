// Package dsl parses the textual kernel description language (.kd files)
// into kernel syntax trees.
package dsl

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"

	"github.com/orcc/xronos-sub010/internal/diag"
	"github.com/orcc/xronos-sub010/internal/ir"
	"github.com/orcc/xronos-sub010/internal/kernel"
)

var parser = buildParser()

func buildParser() *participle.Parser[File] {
	p, err := participle.Build[File](
		participle.Lexer(kernelLexer),
		participle.Elide("Whitespace", "Comment"),
		participle.UseLookahead(2),
	)
	if err != nil {
		panic(fmt.Errorf("failed to build parser: %w", err))
	}
	return p
}

// ParseFile reads and parses a kernel description.
func ParseFile(path string) (*kernel.Kernel, error) {
	source, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return Parse(path, string(source))
}

// Parse parses source. Syntax and type errors are returned as *kernel.Error.
func Parse(filename, source string) (*kernel.Kernel, error) {
	f, err := parser.ParseString(filename, source)
	if err != nil {
		var pe participle.Error
		if errors.As(err, &pe) {
			return nil, &kernel.Error{Pos: position(pe.Position()), Msg: pe.Message()}
		}
		return nil, err
	}
	return convert(f.Kernel)
}

// Excerpt returns the source line holding pos and a caret under its column.
func Excerpt(source string, pos diag.Position) (line, caret string, ok bool) {
	lines := strings.Split(source, "\n")
	if pos.Line <= 0 || pos.Line > len(lines) {
		return "", "", false
	}
	line = strings.TrimRight(lines[pos.Line-1], "\r")
	col := pos.Column
	if col < 1 {
		col = 1
	}
	return line, strings.Repeat(" ", col-1) + "^", true
}

func position(p lexer.Position) diag.Position {
	return diag.Position{Filename: p.Filename, Line: p.Line, Column: p.Column}
}

var precedence = map[string]int{
	"||": 1,
	"&&": 2,
	"==": 3, "!=": 3, "<": 3, "<=": 3, ">": 3, ">=": 3,
	"+": 4, "-": 4, "|": 4, "^": 4,
	"*": 5, "/": 5, "%": 5, "<<": 5, ">>": 5, "&": 5,
}

func convert(d *KernelDecl) (*kernel.Kernel, error) {
	k := &kernel.Kernel{Name: d.Name, Pos: position(d.Pos)}
	for _, p := range d.Params {
		t, err := typeOf(p.Type, p.Pos)
		if err != nil {
			return nil, err
		}
		k.Inputs = append(k.Inputs, &kernel.Param{Name: p.Name, Type: t, Pos: position(p.Pos)})
	}
	for _, s := range d.Body {
		switch {
		case s.Array != nil:
			a, err := array(s.Array)
			if err != nil {
				return nil, err
			}
			k.Arrays = append(k.Arrays, a)
		case s.Output != nil:
			for _, n := range s.Output.Names {
				k.Outputs = append(k.Outputs, &kernel.Output{Name: n.Value, Pos: position(n.Pos)})
			}
		default:
			st, err := stmt(s)
			if err != nil {
				return nil, err
			}
			k.Body = append(k.Body, st)
		}
	}
	return k, nil
}

func typeOf(name string, pos lexer.Position) (ir.Value, error) {
	t, err := kernel.ParseType(name)
	if err != nil {
		return ir.Value{}, &kernel.Error{Pos: position(pos), Msg: err.Error()}
	}
	return t, nil
}

func integer(text string, neg bool, pos lexer.Position) (int64, error) {
	v, err := strconv.ParseInt(text, 0, 64)
	if err != nil {
		u, uerr := strconv.ParseUint(text, 0, 64)
		if uerr != nil {
			return 0, &kernel.Error{Pos: position(pos), Msg: fmt.Sprintf("invalid integer %q", text)}
		}
		v = int64(u)
	}
	if neg {
		v = -v
	}
	return v, nil
}

func array(a *ArrayDecl) (*kernel.Array, error) {
	elem, err := typeOf(a.Elem, a.Pos)
	if err != nil {
		return nil, err
	}
	size, err := integer(a.Size, false, a.Pos)
	if err != nil {
		return nil, err
	}
	out := &kernel.Array{Name: a.Name, Elem: elem, Size: int(size), Pos: position(a.Pos)}
	for _, n := range a.Init {
		v, err := integer(n.Value, n.Neg, n.Pos)
		if err != nil {
			return nil, err
		}
		out.Init = append(out.Init, v)
	}
	return out, nil
}

func stmts(list []*Statement) ([]kernel.Stmt, error) {
	var out []kernel.Stmt
	for _, s := range list {
		st, err := stmt(s)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, nil
}

func stmt(s *Statement) (kernel.Stmt, error) {
	pos := position(s.Pos)
	switch {
	case s.Array != nil:
		return nil, &kernel.Error{Pos: pos, Msg: "arrays must be declared at kernel level"}
	case s.Output != nil:
		return nil, &kernel.Error{Pos: pos, Msg: "outputs must be declared at kernel level"}
	case s.Var != nil:
		return varStmt(s.Var)
	case s.Assign != nil:
		return assign(s.Assign)
	case s.If != nil:
		return ifStmt(s.If)
	case s.While != nil:
		cond, err := expr(s.While.Cond)
		if err != nil {
			return nil, err
		}
		body, err := stmts(s.While.Body)
		if err != nil {
			return nil, err
		}
		return &kernel.While{Cond: cond, Body: body, Pos: pos}, nil
	case s.Do != nil:
		body, err := stmts(s.Do.Body)
		if err != nil {
			return nil, err
		}
		cond, err := expr(s.Do.Cond)
		if err != nil {
			return nil, err
		}
		return &kernel.DoWhile{Body: body, Cond: cond, Pos: pos}, nil
	case s.For != nil:
		return forStmt(s.For)
	}
	return nil, &kernel.Error{Pos: pos, Msg: "empty statement"}
}

func varStmt(v *VarStmt) (kernel.Stmt, error) {
	t, err := typeOf(v.Type, v.Pos)
	if err != nil {
		return nil, err
	}
	x, err := expr(v.Value)
	if err != nil {
		return nil, err
	}
	return &kernel.VarDecl{Name: v.Name, Type: t, Value: x, Pos: position(v.Pos)}, nil
}

func assign(a *AssignStmt) (kernel.Stmt, error) {
	x, err := expr(a.Value)
	if err != nil {
		return nil, err
	}
	if a.Index == nil {
		return &kernel.Assign{Name: a.Target, Value: x, Pos: position(a.Pos)}, nil
	}
	idx, err := expr(a.Index)
	if err != nil {
		return nil, err
	}
	return &kernel.Store{Array: a.Target, Index: idx, Value: x, Pos: position(a.Pos)}, nil
}

func ifStmt(s *IfStmt) (kernel.Stmt, error) {
	cond, err := expr(s.Cond)
	if err != nil {
		return nil, err
	}
	then, err := stmts(s.Then)
	if err != nil {
		return nil, err
	}
	out := &kernel.If{Cond: cond, Then: then, Pos: position(s.Pos)}
	if s.Else != nil {
		if s.Else.If != nil {
			nested, err := ifStmt(s.Else.If)
			if err != nil {
				return nil, err
			}
			out.Else = []kernel.Stmt{nested}
		} else if out.Else, err = stmts(s.Else.Block); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func forStmt(f *ForStmt) (kernel.Stmt, error) {
	out := &kernel.For{Pos: position(f.Pos)}
	var err error
	if f.Init != nil {
		if f.Init.Var != nil {
			out.Init, err = varStmt(f.Init.Var)
		} else {
			out.Init, err = assign(f.Init.Assign)
		}
		if err != nil {
			return nil, err
		}
	}
	if out.Cond, err = expr(f.Cond); err != nil {
		return nil, err
	}
	if f.Post != nil {
		if out.Post, err = assign(f.Post); err != nil {
			return nil, err
		}
	}
	if out.Body, err = stmts(f.Body); err != nil {
		return nil, err
	}
	return out, nil
}

func expr(e *Expr) (kernel.Expr, error) {
	left, err := unary(e.Left)
	if err != nil {
		return nil, err
	}
	c := &climber{ops: e.Ops}
	return c.parse(left, 1)
}

// climber folds a flat operator chain by precedence.
type climber struct {
	ops []*BinOp
	i   int
}

func (c *climber) parse(lhs kernel.Expr, min int) (kernel.Expr, error) {
	for c.i < len(c.ops) && precedence[c.ops[c.i].Op] >= min {
		op := c.ops[c.i]
		c.i++
		rhs, err := unary(op.Right)
		if err != nil {
			return nil, err
		}
		for c.i < len(c.ops) && precedence[c.ops[c.i].Op] > precedence[op.Op] {
			if rhs, err = c.parse(rhs, precedence[op.Op]+1); err != nil {
				return nil, err
			}
		}
		lhs = &kernel.Binary{Op: op.Op, X: lhs, Y: rhs, Pos: position(op.Pos)}
	}
	return lhs, nil
}

func unary(u *Unary) (kernel.Expr, error) {
	x, err := primary(u.Value)
	if err != nil {
		return nil, err
	}
	if u.Op == "" {
		return x, nil
	}
	if lit, ok := x.(*kernel.Lit); ok && u.Op == "-" {
		lit.Value = -lit.Value
		lit.Pos = position(u.Pos)
		return lit, nil
	}
	return &kernel.Unary{Op: u.Op, X: x, Pos: position(u.Pos)}, nil
}

func primary(p *Primary) (kernel.Expr, error) {
	pos := position(p.Pos)
	switch {
	case p.Number != nil:
		v, err := integer(*p.Number, false, p.Pos)
		if err != nil {
			return nil, err
		}
		return &kernel.Lit{Value: v, Pos: pos}, nil
	case p.Bool != nil:
		t := ir.Bool
		v := int64(0)
		if *p.Bool == "true" {
			v = 1
		}
		return &kernel.Lit{Value: v, Type: &t, Pos: pos}, nil
	case p.Conv != nil:
		t, err := typeOf(p.Conv.Type, p.Conv.Pos)
		if err != nil {
			return nil, err
		}
		x, err := expr(p.Conv.X)
		if err != nil {
			return nil, err
		}
		return &kernel.Conv{Type: t, X: x, Pos: pos}, nil
	case p.Index != nil:
		idx, err := expr(p.Index.Index)
		if err != nil {
			return nil, err
		}
		return &kernel.Index{Array: p.Index.Array, Index: idx, Pos: pos}, nil
	case p.Ref != nil:
		return &kernel.Ref{Name: *p.Ref, Pos: pos}, nil
	case p.Parens != nil:
		return expr(p.Parens)
	}
	return nil, &kernel.Error{Pos: pos, Msg: "empty expression"}
}
