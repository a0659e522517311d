// Package ast defines the node set the external parser builds and the
// compiler walks: expressions and statements for qatam, a small
// dynamically-typed scripting language.
package ast

import (
	"bytes"
	"strings"

	"github.com/yosefbeder/qatam/internal/token"
)

type Node interface {
	TokenLiteral() string
	String() string
	Tok() token.Token
}

type Statement interface {
	Node
	statementNode()
}

type Expression interface {
	Node
	expressionNode()
}

// Program is the root of a parsed script or module.
type Program struct {
	Statements []Statement
}

func (p *Program) TokenLiteral() string {
	if len(p.Statements) > 0 {
		return p.Statements[0].TokenLiteral()
	}
	return ""
}
func (p *Program) Tok() token.Token {
	if len(p.Statements) > 0 {
		return p.Statements[0].Tok()
	}
	return token.Token{}
}
func (p *Program) String() string {
	var out bytes.Buffer
	for _, s := range p.Statements {
		out.WriteString(s.String())
	}
	return out.String()
}

// ---- expressions ----

type Identifier struct {
	Token token.Token
	Name  string
}

func (i *Identifier) expressionNode()      {}
func (i *Identifier) TokenLiteral() string { return i.Token.Literal }
func (i *Identifier) Tok() token.Token     { return i.Token }
func (i *Identifier) String() string      { return i.Name }

type NumberLiteral struct {
	Token token.Token
	Value float64
}

func (n *NumberLiteral) expressionNode()      {}
func (n *NumberLiteral) TokenLiteral() string { return n.Token.Literal }
func (n *NumberLiteral) Tok() token.Token     { return n.Token }
func (n *NumberLiteral) String() string      { return n.Token.Literal }

type StringLiteral struct {
	Token token.Token
	Value string
}

func (s *StringLiteral) expressionNode()      {}
func (s *StringLiteral) TokenLiteral() string { return s.Token.Literal }
func (s *StringLiteral) Tok() token.Token     { return s.Token }
func (s *StringLiteral) String() string      { return "\"" + s.Value + "\"" }

type BoolLiteral struct {
	Token token.Token
	Value bool
}

func (b *BoolLiteral) expressionNode()      {}
func (b *BoolLiteral) TokenLiteral() string { return b.Token.Literal }
func (b *BoolLiteral) Tok() token.Token     { return b.Token }
func (b *BoolLiteral) String() string      { return b.Token.Literal }

type NilLiteral struct {
	Token token.Token
}

func (n *NilLiteral) expressionNode()      {}
func (n *NilLiteral) TokenLiteral() string { return n.Token.Literal }
func (n *NilLiteral) Tok() token.Token     { return n.Token }
func (n *NilLiteral) String() string      { return "nil" }

type ListLiteral struct {
	Token    token.Token
	Elements []Expression
}

func (l *ListLiteral) expressionNode()      {}
func (l *ListLiteral) TokenLiteral() string { return l.Token.Literal }
func (l *ListLiteral) Tok() token.Token     { return l.Token }
func (l *ListLiteral) String() string {
	parts := make([]string, len(l.Elements))
	for i, e := range l.Elements {
		parts[i] = e.String()
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

// HashMapEntry is one `key: value` (or destructuring `key: pattern =
// default`) pair of a hash-map literal. Default is nil outside
// destructuring context. Shorthand `{x}` parses as Key=Value=identifier
// x with Default nil.
type HashMapEntry struct {
	Key     Expression
	Value   Expression
	Default Expression
}

type HashMapLiteral struct {
	Token   token.Token
	Entries []HashMapEntry
}

func (h *HashMapLiteral) expressionNode()      {}
func (h *HashMapLiteral) TokenLiteral() string { return h.Token.Literal }
func (h *HashMapLiteral) Tok() token.Token     { return h.Token }
func (h *HashMapLiteral) String() string {
	parts := make([]string, len(h.Entries))
	for i, e := range h.Entries {
		parts[i] = e.Key.String() + ": " + e.Value.String()
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

type UnaryExpression struct {
	Token token.Token
	Op    string
	Right Expression
}

func (u *UnaryExpression) expressionNode()      {}
func (u *UnaryExpression) TokenLiteral() string { return u.Token.Literal }
func (u *UnaryExpression) Tok() token.Token     { return u.Token }
func (u *UnaryExpression) String() string      { return "(" + u.Op + u.Right.String() + ")" }

type BinaryExpression struct {
	Token token.Token
	Op    string
	Left  Expression
	Right Expression
}

func (b *BinaryExpression) expressionNode()      {}
func (b *BinaryExpression) TokenLiteral() string { return b.Token.Literal }
func (b *BinaryExpression) Tok() token.Token     { return b.Token }
func (b *BinaryExpression) String() string {
	return "(" + b.Left.String() + " " + b.Op + " " + b.Right.String() + ")"
}

// AssignExpression covers plain `=` and compound `+= -= *= /= %=`.
// Pop indicates whether the enclosing statement discards the result
// (true for a bare `a = b` expression statement).
type AssignExpression struct {
	Token  token.Token
	Op     string
	Target Expression
	Value  Expression
	Pop    bool
}

func (a *AssignExpression) expressionNode()      {}
func (a *AssignExpression) TokenLiteral() string { return a.Token.Literal }
func (a *AssignExpression) Tok() token.Token     { return a.Token }
func (a *AssignExpression) String() string {
	return "(" + a.Target.String() + " " + a.Op + " " + a.Value.String() + ")"
}

type CallExpression struct {
	Token  token.Token
	Callee Expression
	Args   []Expression
}

func (c *CallExpression) expressionNode()      {}
func (c *CallExpression) TokenLiteral() string { return c.Token.Literal }
func (c *CallExpression) Tok() token.Token     { return c.Token }
func (c *CallExpression) String() string {
	parts := make([]string, len(c.Args))
	for i, a := range c.Args {
		parts[i] = a.String()
	}
	return c.Callee.String() + "(" + strings.Join(parts, ", ") + ")"
}

// Member unifies `.name` and `[expr]` access: Computed is false for the
// former (Key is always a *StringLiteral) and true for the latter (Key
// is an arbitrary expression).
type Member struct {
	Token    token.Token
	Instance Expression
	Key      Expression
	Computed bool
}

func (m *Member) expressionNode()      {}
func (m *Member) TokenLiteral() string { return m.Token.Literal }
func (m *Member) Tok() token.Token     { return m.Token }
func (m *Member) String() string {
	if m.Computed {
		return m.Instance.String() + "[" + m.Key.String() + "]"
	}
	return m.Instance.String() + "." + m.Key.String()
}

// Param is one entry of a lambda's parameter list: Pattern is an
// Identifier, ListLiteral, or HashMapLiteral (destructuring), Default is
// non-nil only for optional parameters.
type Param struct {
	Pattern Expression
	Default Expression
}

type Lambda struct {
	Token    token.Token
	Required []Param
	Optional []Param
	Variadic *Param // nil if the lambda is not variadic
	Body     *BlockStatement
}

func (l *Lambda) expressionNode()      {}
func (l *Lambda) TokenLiteral() string { return l.Token.Literal }
func (l *Lambda) Tok() token.Token     { return l.Token }
func (l *Lambda) String() string {
	var out bytes.Buffer
	out.WriteString("|")
	parts := []string{}
	for _, p := range l.Required {
		parts = append(parts, p.Pattern.String())
	}
	for _, p := range l.Optional {
		parts = append(parts, p.Pattern.String()+" = "+p.Default.String())
	}
	if l.Variadic != nil {
		parts = append(parts, "*"+l.Variadic.Pattern.String())
	}
	out.WriteString(strings.Join(parts, ", "))
	out.WriteString("| ")
	out.WriteString(l.Body.String())
	return out.String()
}

// ---- statements ----

type BlockStatement struct {
	Token      token.Token
	Statements []Statement
}

func (b *BlockStatement) statementNode()       {}
func (b *BlockStatement) TokenLiteral() string { return b.Token.Literal }
func (b *BlockStatement) Tok() token.Token     { return b.Token }
func (b *BlockStatement) String() string {
	var out bytes.Buffer
	out.WriteString("{ ")
	for _, s := range b.Statements {
		out.WriteString(s.String())
		out.WriteString("; ")
	}
	out.WriteString("}")
	return out.String()
}

// VarDecl binds Value to Target (a destructuring-capable pattern).
type VarDecl struct {
	Token  token.Token
	Target Expression // Identifier | ListLiteral | HashMapLiteral
	Value  Expression
}

func (v *VarDecl) statementNode()       {}
func (v *VarDecl) TokenLiteral() string { return v.Token.Literal }
func (v *VarDecl) Tok() token.Token     { return v.Token }
func (v *VarDecl) String() string {
	return "var " + v.Target.String() + " = " + v.Value.String()
}

// FunctionDecl is sugar for `var name = |params| body`, except the
// lambda's own slot 0 is bound to name so the body can recurse.
type FunctionDecl struct {
	Token  token.Token
	Name   string
	Lambda *Lambda
}

func (f *FunctionDecl) statementNode()       {}
func (f *FunctionDecl) TokenLiteral() string { return f.Token.Literal }
func (f *FunctionDecl) Tok() token.Token     { return f.Token }
func (f *FunctionDecl) String() string {
	return "fn " + f.Name + f.Lambda.String()
}

type ReturnStatement struct {
	Token token.Token
	Value Expression // nil for bare `return`
}

func (r *ReturnStatement) statementNode()       {}
func (r *ReturnStatement) TokenLiteral() string { return r.Token.Literal }
func (r *ReturnStatement) Tok() token.Token     { return r.Token }
func (r *ReturnStatement) String() string {
	if r.Value == nil {
		return "return"
	}
	return "return " + r.Value.String()
}

type ThrowStatement struct {
	Token token.Token
	Value Expression // nil for bare `throw`
}

func (t *ThrowStatement) statementNode()       {}
func (t *ThrowStatement) TokenLiteral() string { return t.Token.Literal }
func (t *ThrowStatement) Tok() token.Token     { return t.Token }
func (t *ThrowStatement) String() string {
	if t.Value == nil {
		return "throw"
	}
	return "throw " + t.Value.String()
}

type TryCatchStatement struct {
	Token   token.Token
	Try     *BlockStatement
	ErrName string
	Catch   *BlockStatement
}

func (t *TryCatchStatement) statementNode()       {}
func (t *TryCatchStatement) TokenLiteral() string { return t.Token.Literal }
func (t *TryCatchStatement) Tok() token.Token     { return t.Token }
func (t *TryCatchStatement) String() string {
	return "try " + t.Try.String() + " catch (" + t.ErrName + ") " + t.Catch.String()
}

// IfStatement's Else may be nil, a *BlockStatement, or another
// *IfStatement (an `else if` chain).
type IfStatement struct {
	Token token.Token
	Cond  Expression
	Then  *BlockStatement
	Else  Statement
}

func (i *IfStatement) statementNode()       {}
func (i *IfStatement) TokenLiteral() string { return i.Token.Literal }
func (i *IfStatement) Tok() token.Token     { return i.Token }
func (i *IfStatement) String() string {
	out := "if " + i.Cond.String() + " " + i.Then.String()
	if i.Else != nil {
		out += " else " + i.Else.String()
	}
	return out
}

type WhileStatement struct {
	Token token.Token
	Cond  Expression
	Body  *BlockStatement
}

func (w *WhileStatement) statementNode()       {}
func (w *WhileStatement) TokenLiteral() string { return w.Token.Literal }
func (w *WhileStatement) Tok() token.Token     { return w.Token }
func (w *WhileStatement) String() string {
	return "while " + w.Cond.String() + " " + w.Body.String()
}

type LoopStatement struct {
	Token token.Token
	Body  *BlockStatement
}

func (l *LoopStatement) statementNode()       {}
func (l *LoopStatement) TokenLiteral() string { return l.Token.Literal }
func (l *LoopStatement) Tok() token.Token     { return l.Token }
func (l *LoopStatement) String() string      { return "loop " + l.Body.String() }

type BreakStatement struct {
	Token token.Token
}

func (b *BreakStatement) statementNode()       {}
func (b *BreakStatement) TokenLiteral() string { return b.Token.Literal }
func (b *BreakStatement) Tok() token.Token     { return b.Token }
func (b *BreakStatement) String() string      { return "break" }

type ContinueStatement struct {
	Token token.Token
}

func (c *ContinueStatement) statementNode()       {}
func (c *ContinueStatement) TokenLiteral() string { return c.Token.Literal }
func (c *ContinueStatement) Tok() token.Token     { return c.Token }
func (c *ContinueStatement) String() string      { return "continue" }

// ImportStatement binds the module's export hash-map to Pattern
// (destructuring-capable), loading it from Path.
type ImportStatement struct {
	Token   token.Token
	Pattern Expression
	Path    string
}

func (im *ImportStatement) statementNode()       {}
func (im *ImportStatement) TokenLiteral() string { return im.Token.Literal }
func (im *ImportStatement) Tok() token.Token     { return im.Token }
func (im *ImportStatement) String() string {
	return "import " + im.Pattern.String() + " from \"" + im.Path + "\""
}

// ExportStatement wraps a top-level VarDecl or FunctionDecl, marking its
// bound local(s) as exported from the enclosing module.
type ExportStatement struct {
	Token token.Token
	Decl  Statement // *VarDecl | *FunctionDecl
}

func (e *ExportStatement) statementNode()       {}
func (e *ExportStatement) TokenLiteral() string { return e.Token.Literal }
func (e *ExportStatement) Tok() token.Token     { return e.Token }
func (e *ExportStatement) String() string      { return "export " + e.Decl.String() }

type ForInStatement struct {
	Token token.Token
	Var   Expression // usually an Identifier; destructuring patterns allowed
	Iter  Expression
	Body  *BlockStatement
}

func (f *ForInStatement) statementNode()       {}
func (f *ForInStatement) TokenLiteral() string { return f.Token.Literal }
func (f *ForInStatement) Tok() token.Token     { return f.Token }
func (f *ForInStatement) String() string {
	return "for " + f.Var.String() + " in " + f.Iter.String() + " " + f.Body.String()
}

// ExpressionStatement is a bare expression used for effect; the
// compiler pops its value off the operand stack.
type ExpressionStatement struct {
	Token token.Token
	Expr  Expression
}

func (e *ExpressionStatement) statementNode()       {}
func (e *ExpressionStatement) TokenLiteral() string { return e.Token.Literal }
func (e *ExpressionStatement) Tok() token.Token     { return e.Token }
func (e *ExpressionStatement) String() string      { return e.Expr.String() }
