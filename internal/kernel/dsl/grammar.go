package dsl

import (
	"github.com/alecthomas/participle/v2/lexer"
)

var kernelLexer = lexer.MustStateful(lexer.Rules{
	"Root": {
		{"Comment", `//[^\n]*`, nil},
		{"Ident", `[a-zA-Z_][a-zA-Z0-9_]*`, nil},
		{"Integer", `0x[0-9a-fA-F]+|[0-9]+`, nil},
		// Longest operators first.
		{"Operator", `(\|\||&&|==|!=|<=|>=|<<|>>|[-+*/%&|^<>=!])`, nil},
		{"Punctuation", `[{}[\]():;,]`, nil},
		{"Whitespace", `[ \t\r\n]+`, nil},
	},
})

type File struct {
	Pos    lexer.Position
	Kernel *KernelDecl `@@`
}

type KernelDecl struct {
	Pos    lexer.Position
	Name   string       `"kernel" @Ident "("`
	Params []*Param     `[ @@ { "," @@ } ] ")" "{"`
	Body   []*Statement `@@* "}"`
}

type Param struct {
	Pos  lexer.Position
	Name string `@Ident ":"`
	Type string `@Ident`
}

type Statement struct {
	Pos    lexer.Position
	Array  *ArrayDecl  `  @@`
	Output *OutputStmt `| @@`
	If     *IfStmt     `| @@`
	While  *WhileStmt  `| @@`
	Do     *DoStmt     `| @@`
	For    *ForStmt    `| @@`
	Var    *VarStmt    `| @@ ";"`
	Assign *AssignStmt `| @@ ";"`
}

type ArrayDecl struct {
	Pos  lexer.Position
	Name string     `"array" @Ident "["`
	Size string     `@Integer "]" ":"`
	Elem string     `@Ident`
	Init []*Integer `[ "=" "{" [ @@ { "," @@ } ] "}" ] ";"`
}

type Integer struct {
	Pos   lexer.Position
	Neg   bool   `@"-"?`
	Value string `@Integer`
}

type OutputStmt struct {
	Pos   lexer.Position
	Names []*Name `"output" @@ { "," @@ } ";"`
}

type Name struct {
	Pos   lexer.Position
	Value string `@Ident`
}

type VarStmt struct {
	Pos   lexer.Position
	Name  string `"var" @Ident ":"`
	Type  string `@Ident "="`
	Value *Expr  `@@`
}

type AssignStmt struct {
	Pos    lexer.Position
	Target string `@Ident`
	Index  *Expr  `[ "[" @@ "]" ]`
	Value  *Expr  `"=" @@`
}

type SimpleStmt struct {
	Pos    lexer.Position
	Var    *VarStmt    `  @@`
	Assign *AssignStmt `| @@`
}

type IfStmt struct {
	Pos  lexer.Position
	Cond *Expr        `"if" "(" @@ ")"`
	Then []*Statement `"{" @@* "}"`
	Else *ElseClause  `[ "else" @@ ]`
}

type ElseClause struct {
	Pos   lexer.Position
	If    *IfStmt      `  @@`
	Block []*Statement `| "{" @@* "}"`
}

type WhileStmt struct {
	Pos  lexer.Position
	Cond *Expr        `"while" "(" @@ ")"`
	Body []*Statement `"{" @@* "}"`
}

type DoStmt struct {
	Pos  lexer.Position
	Body []*Statement `"do" "{" @@* "}"`
	Cond *Expr        `"while" "(" @@ ")" ";"`
}

type ForStmt struct {
	Pos  lexer.Position
	Init *SimpleStmt  `"for" "(" [ @@ ] ";"`
	Cond *Expr        `@@ ";"`
	Post *AssignStmt  `[ @@ ] ")"`
	Body []*Statement `"{" @@* "}"`
}

// Expr is a flat operator chain; precedence is applied during conversion.
type Expr struct {
	Pos  lexer.Position
	Left *Unary   `@@`
	Ops  []*BinOp `{ @@ }`
}

type BinOp struct {
	Pos   lexer.Position
	Op    string `@("||" | "&&" | "==" | "!=" | "<=" | ">=" | "<<" | ">>" | "<" | ">" | "+" | "-" | "*" | "/" | "%" | "&" | "|" | "^")`
	Right *Unary `@@`
}

type Unary struct {
	Pos   lexer.Position
	Op    string   `[ @("-" | "!" | "^") ]`
	Value *Primary `@@`
}

type Primary struct {
	Pos    lexer.Position
	Number *string    `  @Integer`
	Bool   *string    `| @("true" | "false")`
	Conv   *ConvExpr  `| @@`
	Index  *IndexExpr `| @@`
	Ref    *string    `| @Ident`
	Parens *Expr      `| "(" @@ ")"`
}

type ConvExpr struct {
	Pos  lexer.Position
	Type string `@Ident "("`
	X    *Expr  `@@ ")"`
}

type IndexExpr struct {
	Pos   lexer.Position
	Array string `@Ident "["`
	Index *Expr  `@@ "]"`
}
