// Package kernel defines the structured kernels accepted by the compiler and
// lowers them into the intermediate model.
package kernel

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/orcc/xronos-sub010/internal/diag"
	"github.com/orcc/xronos-sub010/internal/ir"
)

// Kernel is one hardware function: scalar inputs, memories, a statement list
// and the variables it exposes as outputs.
type Kernel struct {
	Name    string
	Inputs  []*Param
	Arrays  []*Array
	Body    []Stmt
	Outputs []*Output
	Pos     diag.Position
}

// Param is a scalar input.
type Param struct {
	Name string
	Type ir.Value
	Pos  diag.Position
}

// Array is a memory of Size elements.
type Array struct {
	Name string
	Elem ir.Value
	Size int
	Init []int64
	Pos  diag.Position
}

// Output names a variable whose final value is a kernel result.
type Output struct {
	Name string
	Pos  diag.Position
}

// Stmt is a kernel statement.
type Stmt interface {
	stmtNode()
	Position() diag.Position
}

// Expr is a kernel expression.
type Expr interface {
	exprNode()
	Position() diag.Position
}

type (
	// VarDecl declares a variable with an initial value.
	VarDecl struct {
		Name  string
		Type  ir.Value
		Value Expr
		Pos   diag.Position
	}
	// Assign stores into an existing variable.
	Assign struct {
		Name  string
		Value Expr
		Pos   diag.Position
	}
	// Store writes one array element.
	Store struct {
		Array string
		Index Expr
		Value Expr
		Pos   diag.Position
	}
	// If runs Then or Else depending on Cond.
	If struct {
		Cond Expr
		Then []Stmt
		Else []Stmt
		Pos  diag.Position
	}
	// While tests Cond before every iteration.
	While struct {
		Cond Expr
		Body []Stmt
		Pos  diag.Position
	}
	// DoWhile runs Body once before testing Cond.
	DoWhile struct {
		Body []Stmt
		Cond Expr
		Pos  diag.Position
	}
	// For is a While with an initialization and a post statement.
	For struct {
		Init Stmt
		Cond Expr
		Post Stmt
		Body []Stmt
		Pos  diag.Position
	}
)

func (*VarDecl) stmtNode() {}
func (*Assign) stmtNode()  {}
func (*Store) stmtNode()   {}
func (*If) stmtNode()      {}
func (*While) stmtNode()   {}
func (*DoWhile) stmtNode() {}
func (*For) stmtNode()     {}

func (s *VarDecl) Position() diag.Position { return s.Pos }
func (s *Assign) Position() diag.Position  { return s.Pos }
func (s *Store) Position() diag.Position   { return s.Pos }
func (s *If) Position() diag.Position      { return s.Pos }
func (s *While) Position() diag.Position   { return s.Pos }
func (s *DoWhile) Position() diag.Position { return s.Pos }
func (s *For) Position() diag.Position     { return s.Pos }

type (
	// Lit is an integer literal. Untyped literals take the type of the other
	// operand.
	Lit struct {
		Value int64
		Type  *ir.Value
		Pos   diag.Position
	}
	// Ref reads a variable or input.
	Ref struct {
		Name string
		Pos  diag.Position
	}
	// Binary applies Op to X and Y.
	Binary struct {
		Op   string
		X, Y Expr
		Pos  diag.Position
	}
	// Unary applies Op ("-", "!", "^") to X.
	Unary struct {
		Op  string
		X   Expr
		Pos diag.Position
	}
	// Index reads one array element.
	Index struct {
		Array string
		Index Expr
		Pos   diag.Position
	}
	// Conv converts X to Type.
	Conv struct {
		Type ir.Value
		X    Expr
		Pos  diag.Position
	}
)

func (*Lit) exprNode()    {}
func (*Ref) exprNode()    {}
func (*Binary) exprNode() {}
func (*Unary) exprNode()  {}
func (*Index) exprNode()  {}
func (*Conv) exprNode()   {}

func (e *Lit) Position() diag.Position    { return e.Pos }
func (e *Ref) Position() diag.Position    { return e.Pos }
func (e *Binary) Position() diag.Position { return e.Pos }
func (e *Unary) Position() diag.Position  { return e.Pos }
func (e *Index) Position() diag.Position  { return e.Pos }
func (e *Conv) Position() diag.Position   { return e.Pos }

// ParseType parses a type name: "bool", "uN" or "sN" with 1 <= N <= 64.
func ParseType(name string) (ir.Value, error) {
	if name == "bool" {
		return ir.Bool, nil
	}
	if len(name) < 2 || (name[0] != 'u' && name[0] != 's') {
		return ir.Value{}, fmt.Errorf("unknown type %q", name)
	}
	width, err := strconv.Atoi(name[1:])
	if err != nil || width < 1 || width > ir.MaxWidth {
		return ir.Value{}, fmt.Errorf("unknown type %q", name)
	}
	return ir.Value{Width: width, Signed: name[0] == 's'}, nil
}

// IsTypeName reports whether name denotes a type.
func IsTypeName(name string) bool {
	_, err := ParseType(name)
	return err == nil
}

// Error is a problem found while lowering a kernel.
type Error struct {
	Pos diag.Position
	Msg string
}

func (e *Error) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s: %s", e.Pos, e.Msg)
	}
	return e.Msg
}

func errorf(pos diag.Position, format string, args ...interface{}) error {
	return &Error{Pos: pos, Msg: fmt.Sprintf(format, args...)}
}

// String renders an expression in source form.
func String(e Expr) string {
	var sb strings.Builder
	writeExpr(&sb, e)
	return sb.String()
}

func writeExpr(sb *strings.Builder, e Expr) {
	switch x := e.(type) {
	case *Lit:
		fmt.Fprintf(sb, "%d", x.Value)
	case *Ref:
		sb.WriteString(x.Name)
	case *Binary:
		sb.WriteString("(")
		writeExpr(sb, x.X)
		fmt.Fprintf(sb, " %s ", x.Op)
		writeExpr(sb, x.Y)
		sb.WriteString(")")
	case *Unary:
		sb.WriteString(x.Op)
		writeExpr(sb, x.X)
	case *Index:
		fmt.Fprintf(sb, "%s[", x.Array)
		writeExpr(sb, x.Index)
		sb.WriteString("]")
	case *Conv:
		fmt.Fprintf(sb, "%s(", x.Type)
		writeExpr(sb, x.X)
		sb.WriteString(")")
	default:
		sb.WriteString("?")
	}
}
