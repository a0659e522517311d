// Package compiler turns a parsed qatam program into a chunk: it
// resolves lexical scopes, destructuring patterns, closure capture, and
// control-flow patches, emitting bytecode as it walks the AST.
package compiler

import (
	"fmt"

	"golang.org/x/exp/slices"

	"github.com/yosefbeder/qatam/internal/ast"
	"github.com/yosefbeder/qatam/internal/chunk"
	"github.com/yosefbeder/qatam/internal/token"
	"github.com/yosefbeder/qatam/internal/value"
)

// ErrKind enumerates spec.md §4.2's compile-error table.
type ErrKind int

const (
	TooManyConsts ErrKind = iota
	HugeSize
	HugeJump
	TooManyLocals
	TooManyUpvalues
	SameVarInScope
	InvalidDes
	ReturnOutsideFunction
	OutsideLoopBreak
	OutsideLoopContinue
	InvalidImportUsage
	InvalidExportUsage
	TooManyExports
	TooManyArgs
	BackSlashMisuse
	DefaultInObject
	Io
	ModuleParser
)

var errMessages = map[ErrKind]string{
	TooManyConsts:         "too many constants in one chunk",
	HugeSize:              "list/hash-map/unpack has too many elements",
	HugeJump:               "jump offset is too large",
	TooManyLocals:         "too many locals in one function",
	TooManyUpvalues:       "too many upvalues in one function",
	SameVarInScope:        "a variable with this name is already declared in this scope",
	InvalidDes:            "invalid destructuring target",
	ReturnOutsideFunction: "'return' outside of a function",
	OutsideLoopBreak:      "'break' outside of a loop",
	OutsideLoopContinue:   "'continue' outside of a loop",
	InvalidImportUsage:    "'import' is only allowed at the top level of a script or module",
	InvalidExportUsage:    "'export' is only allowed at the top level of a module",
	TooManyExports:        "too many exported names in one module",
	TooManyArgs:           "too many arguments in one call",
	BackSlashMisuse:       "invalid escape sequence",
	DefaultInObject:       "default value is not allowed in a hash-map literal",
	Io:                    "failed to read the imported module",
	ModuleParser:          "failed to parse the imported module",
}

// CompileError is a single accumulated diagnostic, carrying the token it
// was raised at for position reporting.
type CompileError struct {
	Kind  ErrKind
	Token token.Token
	Msg   string
}

func (e *CompileError) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = errMessages[e.Kind]
	}
	return fmt.Sprintf("%s: %s", e.Token.Pos(), msg)
}

func newErr(kind ErrKind, tok token.Token, detail string) *CompileError {
	return &CompileError{Kind: kind, Token: tok, Msg: joinMsg(errMessages[kind], detail)}
}

func joinMsg(base, detail string) string {
	if detail == "" {
		return base
	}
	return base + ": " + detail
}

// Kind distinguishes the three compiler modes spec.md names.
type Kind int

const (
	Script Kind = iota
	FunctionKind
	Module
)

type local struct {
	name     string
	token    token.Token
	depth    int
	captured bool
	exported bool
}

type upvalueDesc struct {
	isLocal bool
	index   int
}

type loopCtx struct {
	start  int
	breaks []int
}

// ModuleLoader resolves and parses an imported source file relative to
// an importer path, returning its parsed program and its resolved
// absolute path (used for nested relative imports and for diagnostics).
// The internal/loader package supplies the concrete implementation
// backed by the lexer/parser.
type ModuleLoader interface {
	Load(importerPath, importPath string) (*ast.Program, string, error)
}

// Compiler walks one function/module/script's AST and emits into its
// own Chunk. Nested function compilers hold a pointer to their
// enclosing compiler so name resolution can walk outward.
type Compiler struct {
	kind       Kind
	chunk      *chunk.Chunk
	enclosing  *Compiler
	scopeDepth int
	locals     []local
	upvalues   []upvalueDesc
	loops      []loopCtx
	funcDepth  int // 0 at Script/Module top level, >0 inside nested functions
	sourcePath string
	loader     ModuleLoader
	errs       []*CompileError
}

// NewScript creates a top-level script compiler for the file at
// sourcePath (used to resolve relative imports); loader resolves
// `import ... from "..."` statements.
func NewScript(sourcePath string, loader ModuleLoader) *Compiler {
	c := &Compiler{
		kind:       Script,
		chunk:      chunk.New(sourcePath),
		sourcePath: sourcePath,
		loader:     loader,
	}
	// Slot 0 is reserved (unused at script level, kept for uniformity
	// with function/module compilers so local indices line up).
	c.locals = append(c.locals, local{name: "", depth: 0})
	return c
}

func NewModule(sourcePath string, loader ModuleLoader) *Compiler {
	c := NewScript(sourcePath, loader)
	c.kind = Module
	return c
}

func newFunctionCompiler(enclosing *Compiler, selfName string) *Compiler {
	c := &Compiler{
		kind:       FunctionKind,
		chunk:      chunk.New(enclosing.sourcePath),
		enclosing:  enclosing,
		sourcePath: enclosing.sourcePath,
		loader:     enclosing.loader,
		funcDepth:  enclosing.funcDepth + 1,
	}
	// Slot 0 holds the function's own name so the body can recurse by
	// name without resolving through globals; anonymous lambdas bind an
	// empty name here instead.
	c.locals = append(c.locals, local{name: selfName, depth: 0})
	return c
}

func (c *Compiler) addErr(e *CompileError) { c.errs = append(c.errs, e) }

func (c *Compiler) err(kind ErrKind, tok token.Token) {
	c.addErr(newErr(kind, tok, ""))
}

// Compile compiles a top-level script Program into a Function value
// wrapping its chunk, along with any accumulated diagnostics. If
// diagnostics is non-empty the Function is nil.
func Compile(prog *ast.Program, sourcePath string, loader ModuleLoader) (*value.Function, []*CompileError) {
	c := NewScript(sourcePath, loader)
	return c.compileTop(prog)
}

// CompileModule compiles a Program as an importable module: its
// exported top-level locals are bundled into a trailing hash-map.
func CompileModule(prog *ast.Program, sourcePath string, loader ModuleLoader) (*value.Function, []*CompileError) {
	c := NewModule(sourcePath, loader)
	return c.compileTop(prog)
}

func (c *Compiler) compileTop(prog *ast.Program) (*value.Function, []*CompileError) {
	for _, stmt := range prog.Statements {
		c.stmt(stmt)
	}
	if c.kind == Module {
		c.emitModuleEpilogue(prog.Tok())
	}
	if len(c.errs) > 0 {
		return nil, c.errs
	}
	fn := &value.Function{
		Name:     "",
		Chunk:    c.chunk,
		Arity:    value.Arity{Kind: value.Fixed, Required: 0},
		BodyIP:   0,
		Defaults: []int{0},
	}
	return fn, nil
}

func (c *Compiler) emitModuleEpilogue(tok token.Token) {
	names := []string{}
	for _, l := range c.locals {
		if l.exported {
			names = append(names, l.name)
		}
	}
	if len(names) > 0xffff {
		c.err(TooManyExports, tok)
		return
	}
	for _, name := range names {
		c.emitConstantString(name, tok)
		idx := c.findLocalIndex(name)
		c.emitByteInstr(chunk.GET_LOCAL, tok, idx)
	}
	if err := c.chunk.WriteBuild(chunk.BUILD_HASH_MAP, tok, len(names)); err != nil {
		c.err(HugeSize, tok)
	}
	c.chunk.WriteInstr(chunk.RET, tok)
}

func (c *Compiler) findLocalIndex(name string) int {
	for i := len(c.locals) - 1; i >= 0; i-- {
		if c.locals[i].name == name {
			return i
		}
	}
	return -1
}

// ---- emit helpers ----

func (c *Compiler) emitByteInstr(op chunk.OpCode, tok token.Token, b int) {
	c.chunk.WriteInstr(op, tok)
	c.chunk.WriteByte(byte(b), tok)
}

func (c *Compiler) emitConstantString(s string, tok token.Token) {
	if err := c.chunk.WriteInstrConst(chunk.CONST8, chunk.CONST16, tok, value.NewStringValue(s)); err != nil {
		c.err(TooManyConsts, tok)
	}
}

func (c *Compiler) emitConstant(v value.Value, tok token.Token) {
	if err := c.chunk.WriteInstrConst(chunk.CONST8, chunk.CONST16, tok, v); err != nil {
		c.err(TooManyConsts, tok)
	}
}

// ---- scope management ----

func (c *Compiler) beginScope() { c.scopeDepth++ }

func (c *Compiler) endScope(tok token.Token) {
	c.scopeDepth--
	for len(c.locals) > 0 && c.locals[len(c.locals)-1].depth > c.scopeDepth {
		last := c.locals[len(c.locals)-1]
		if last.captured {
			c.chunk.WriteInstr(chunk.CLOSE_UPVALUE, tok)
		} else {
			c.chunk.WriteInstr(chunk.POP_LOCAL, tok)
		}
		c.locals = c.locals[:len(c.locals)-1]
	}
}

func (c *Compiler) inGlobalScope() bool {
	return c.kind == Script && c.scopeDepth == 0
}

func (c *Compiler) addLocal(name string, tok token.Token) (int, bool) {
	if name != "_" {
		for i := len(c.locals) - 1; i >= 0; i-- {
			if c.locals[i].depth < c.scopeDepth {
				break
			}
			if c.locals[i].name == name {
				c.err(SameVarInScope, tok)
				return -1, false
			}
		}
	}
	if len(c.locals) >= 256 {
		c.err(TooManyLocals, tok)
		return -1, false
	}
	c.locals = append(c.locals, local{name: name, token: tok, depth: c.scopeDepth})
	return len(c.locals) - 1, true
}

// ---- name resolution ----

func (c *Compiler) resolveLocal(name string) int {
	for i := len(c.locals) - 1; i >= 0; i-- {
		if c.locals[i].name == name {
			return i
		}
	}
	return -1
}

func (c *Compiler) addUpvalue(isLocal bool, index int, tok token.Token) int {
	if i := slices.IndexFunc(c.upvalues, func(uv upvalueDesc) bool {
		return uv.isLocal == isLocal && uv.index == index
	}); i != -1 {
		return i
	}
	if len(c.upvalues) >= 256 {
		c.err(TooManyUpvalues, tok)
		return 0
	}
	c.upvalues = append(c.upvalues, upvalueDesc{isLocal: isLocal, index: index})
	return len(c.upvalues) - 1
}

func (c *Compiler) resolveUpvalue(name string, tok token.Token) int {
	if c.enclosing == nil {
		return -1
	}
	if idx := c.enclosing.resolveLocal(name); idx != -1 {
		c.enclosing.locals[idx].captured = true
		return c.addUpvalue(true, idx, tok)
	}
	if idx := c.enclosing.resolveUpvalue(name, tok); idx != -1 {
		return c.addUpvalue(false, idx, tok)
	}
	return -1
}

// loadVariable emits the get-sequence for an identifier reference.
func (c *Compiler) loadVariable(name string, tok token.Token) {
	if idx := c.resolveLocal(name); idx != -1 {
		c.emitByteInstr(chunk.GET_LOCAL, tok, idx)
		return
	}
	if idx := c.resolveUpvalue(name, tok); idx != -1 {
		c.emitByteInstr(chunk.GET_UPVALUE, tok, idx)
		return
	}
	if err := c.chunk.WriteInstrConst(chunk.GET_GLOBAL8, chunk.GET_GLOBAL16, tok, value.NewStringValue(name)); err != nil {
		c.err(TooManyConsts, tok)
	}
}

// storeVariable emits the set-sequence for an identifier assignment
// target, leaving the value on the operand stack.
func (c *Compiler) storeVariable(name string, tok token.Token) {
	if idx := c.resolveLocal(name); idx != -1 {
		c.emitByteInstr(chunk.SET_LOCAL, tok, idx)
		return
	}
	if idx := c.resolveUpvalue(name, tok); idx != -1 {
		c.emitByteInstr(chunk.SET_UPVALUE, tok, idx)
		return
	}
	if err := c.chunk.WriteInstrConst(chunk.SET_GLOBAL8, chunk.SET_GLOBAL16, tok, value.NewStringValue(name)); err != nil {
		c.err(TooManyConsts, tok)
	}
}

// defineVariable finishes a declaration for name: DEF_GLOBAL in global
// scope of a Script compiler, or a new local slot otherwise (a Module's
// top-level names are locals, so its epilogue can bundle the exports).
func (c *Compiler) defineVariable(name string, tok token.Token) {
	if c.inGlobalScope() {
		if err := c.chunk.WriteInstrConst(chunk.DEF_GLOBAL8, chunk.DEF_GLOBAL16, tok, value.NewStringValue(name)); err != nil {
			c.err(TooManyConsts, tok)
		}
		return
	}
	c.addLocal(name, tok)
	c.chunk.WriteInstr(chunk.DEF_LOCAL, tok)
}

// ---- statements ----

func (c *Compiler) stmt(s ast.Statement) {
	switch n := s.(type) {
	case *ast.ExpressionStatement:
		c.expr(n.Expr, false)
		if a, ok := n.Expr.(*ast.AssignExpression); !ok || !a.Pop {
			c.chunk.WriteInstr(chunk.POP, n.Token)
		}
	case *ast.VarDecl:
		c.varDecl(n, false)
	case *ast.FunctionDecl:
		c.functionDecl(n, false)
	case *ast.BlockStatement:
		c.beginScope()
		for _, st := range n.Statements {
			c.stmt(st)
		}
		c.endScope(n.Token)
	case *ast.IfStatement:
		c.ifStmt(n)
	case *ast.WhileStatement:
		c.whileStmt(n)
	case *ast.LoopStatement:
		c.loopStmt(n)
	case *ast.ForInStatement:
		c.forInStmt(n)
	case *ast.BreakStatement:
		c.breakStmt(n)
	case *ast.ContinueStatement:
		c.continueStmt(n)
	case *ast.ReturnStatement:
		c.returnStmt(n)
	case *ast.ThrowStatement:
		c.throwStmt(n)
	case *ast.TryCatchStatement:
		c.tryCatchStmt(n)
	case *ast.ImportStatement:
		c.importStmt(n)
	case *ast.ExportStatement:
		c.exportStmt(n)
	default:
		panic(fmt.Sprintf("compiler: unhandled statement %T", s))
	}
}

func (c *Compiler) varDecl(n *ast.VarDecl, exported bool) {
	c.expr(n.Value, false)
	c.definable(n.Target, exported)
}

func (c *Compiler) functionDecl(n *ast.FunctionDecl, exported bool) {
	c.compileLambda(n.Lambda, n.Name, n.Token)
	if c.inGlobalScope() {
		if err := c.chunk.WriteInstrConst(chunk.DEF_GLOBAL8, chunk.DEF_GLOBAL16, n.Token, value.NewStringValue(n.Name)); err != nil {
			c.err(TooManyConsts, n.Token)
		}
		return
	}
	idx, ok := c.addLocal(n.Name, n.Token)
	if ok && exported {
		c.locals[idx].exported = true
	}
	c.chunk.WriteInstr(chunk.DEF_LOCAL, n.Token)
}

func (c *Compiler) ifStmt(n *ast.IfStatement) {
	c.expr(n.Cond, false)
	elseJump := c.chunk.WriteJump(chunk.POP_JUMP_IF_FALSY, n.Token)
	c.stmt(n.Then)
	endJump := c.chunk.WriteJump(chunk.JUMP, n.Token)
	if err := c.chunk.SettleJump(elseJump); err != nil {
		c.err(HugeJump, n.Token)
	}
	if n.Else != nil {
		c.stmt(n.Else)
	}
	if err := c.chunk.SettleJump(endJump); err != nil {
		c.err(HugeJump, n.Token)
	}
}

func (c *Compiler) whileStmt(n *ast.WhileStatement) {
	start := c.chunk.Len()
	c.loops = append(c.loops, loopCtx{start: start})
	c.expr(n.Cond, false)
	endJump := c.chunk.WriteJump(chunk.POP_JUMP_IF_FALSY, n.Token)
	c.stmt(n.Body)
	if err := c.chunk.WriteLoop(n.Token, start); err != nil {
		c.err(HugeJump, n.Token)
	}
	if err := c.chunk.SettleJump(endJump); err != nil {
		c.err(HugeJump, n.Token)
	}
	c.endLoop(n.Token)
}

func (c *Compiler) loopStmt(n *ast.LoopStatement) {
	start := c.chunk.Len()
	c.loops = append(c.loops, loopCtx{start: start})
	c.stmt(n.Body)
	if err := c.chunk.WriteLoop(n.Token, start); err != nil {
		c.err(HugeJump, n.Token)
	}
	c.endLoop(n.Token)
}

func (c *Compiler) forInStmt(n *ast.ForInStatement) {
	c.expr(n.Iter, false)
	c.chunk.WriteInstr(chunk.ITER, n.Token)
	start := c.chunk.Len()
	c.loops = append(c.loops, loopCtx{start: start})
	endJump := c.chunk.WriteJump(chunk.FOR_ITER, n.Token)
	c.beginScope()
	c.definable(n.Var, false)
	for _, st := range n.Body.Statements {
		c.stmt(st)
	}
	c.endScope(n.Token)
	if err := c.chunk.WriteLoop(n.Token, start); err != nil {
		c.err(HugeJump, n.Token)
	}
	if err := c.chunk.SettleJump(endJump); err != nil {
		c.err(HugeJump, n.Token)
	}
	c.endLoop(n.Token)
}

func (c *Compiler) endLoop(tok token.Token) {
	l := c.loops[len(c.loops)-1]
	c.loops = c.loops[:len(c.loops)-1]
	for _, b := range l.breaks {
		if err := c.chunk.SettleJump(b); err != nil {
			c.err(HugeJump, tok)
		}
	}
}

func (c *Compiler) breakStmt(n *ast.BreakStatement) {
	if len(c.loops) == 0 {
		c.err(OutsideLoopBreak, n.Token)
		return
	}
	ip := c.chunk.WriteJump(chunk.JUMP, n.Token)
	top := len(c.loops) - 1
	c.loops[top].breaks = append(c.loops[top].breaks, ip)
}

func (c *Compiler) continueStmt(n *ast.ContinueStatement) {
	if len(c.loops) == 0 {
		c.err(OutsideLoopContinue, n.Token)
		return
	}
	start := c.loops[len(c.loops)-1].start
	if err := c.chunk.WriteLoop(n.Token, start); err != nil {
		c.err(HugeJump, n.Token)
	}
}

func (c *Compiler) returnStmt(n *ast.ReturnStatement) {
	if c.funcDepth == 0 {
		c.err(ReturnOutsideFunction, n.Token)
		return
	}
	if n.Value != nil {
		c.expr(n.Value, false)
	} else {
		c.emitConstant(value.NewNil(), n.Token)
	}
	c.chunk.WriteInstr(chunk.RET, n.Token)
}

func (c *Compiler) throwStmt(n *ast.ThrowStatement) {
	if n.Value != nil {
		c.expr(n.Value, false)
	} else {
		c.emitConstant(value.NewNil(), n.Token)
	}
	c.chunk.WriteInstr(chunk.THROW, n.Token)
}

func (c *Compiler) tryCatchStmt(n *ast.TryCatchStatement) {
	handlerIP := c.chunk.WriteJump(chunk.APPEND_HANDLER, n.Token)
	c.stmt(n.Try)
	c.chunk.WriteInstr(chunk.POP_HANDLER, n.Token)
	endJump := c.chunk.WriteJump(chunk.JUMP, n.Token)
	if err := c.chunk.SettleJump(handlerIP); err != nil {
		c.err(HugeJump, n.Token)
	}
	c.beginScope()
	c.addLocal(n.ErrName, n.Token)
	c.chunk.WriteInstr(chunk.DEF_LOCAL, n.Token)
	for _, st := range n.Catch.Statements {
		c.stmt(st)
	}
	c.endScope(n.Token)
	if err := c.chunk.SettleJump(endJump); err != nil {
		c.err(HugeJump, n.Token)
	}
}

func (c *Compiler) importStmt(n *ast.ImportStatement) {
	if c.funcDepth != 0 || c.scopeDepth != 0 {
		c.err(InvalidImportUsage, n.Token)
		return
	}
	prog, resolvedPath, err := c.loader.Load(c.sourcePath, n.Path)
	if err != nil {
		c.addErr(newErr(Io, n.Token, err.Error()))
		return
	}
	fn, errs := CompileModule(prog, resolvedPath, c.loader)
	if len(errs) > 0 {
		c.addErr(newErr(ModuleParser, n.Token, fmt.Sprintf("%d error(s) compiling %s", len(errs), resolvedPath)))
		return
	}
	if err := c.chunk.WriteClosure(n.Token, value.NewFunction(fn), nil); err != nil {
		c.err(TooManyConsts, n.Token)
	}
	c.chunk.WriteCall(n.Token, 0)
	c.definable(n.Pattern, false)
}

func (c *Compiler) exportStmt(n *ast.ExportStatement) {
	if c.kind != Module || c.funcDepth != 0 || c.scopeDepth != 0 {
		c.err(InvalidExportUsage, n.Token)
		return
	}
	switch decl := n.Decl.(type) {
	case *ast.VarDecl:
		c.varDecl(decl, true)
	case *ast.FunctionDecl:
		c.functionDecl(decl, true)
	default:
		c.err(InvalidExportUsage, n.Token)
	}
}

// ---- destructuring ----

// definable binds the value currently on top of the operand stack to a
// pattern: identifier, list literal, or hash-map literal.
func (c *Compiler) definable(target ast.Expression, exported bool) {
	switch t := target.(type) {
	case *ast.Identifier:
		if t.Name == "_" && c.inGlobalScope() {
			c.chunk.WriteInstr(chunk.POP, t.Token)
			return
		}
		c.defineVariable(t.Name, t.Token)
		if exported {
			if idx := c.findLocalIndex(t.Name); idx != -1 {
				c.locals[idx].exported = true
			}
		}
	case *ast.ListLiteral:
		if err := c.chunk.WriteListUnpack(t.Token, len(t.Elements)); err != nil {
			c.err(HugeSize, t.Token)
		}
		for i := len(t.Elements) - 1; i >= 0; i-- {
			c.definable(t.Elements[i], exported)
		}
	case *ast.HashMapLiteral:
		flags := make([]bool, len(t.Entries))
		for i, e := range t.Entries {
			key := e.Key.(*ast.Identifier)
			c.emitConstantString(key.Name, t.Token)
			flags[i] = e.Default != nil
			if e.Default != nil {
				c.expr(e.Default, false)
			}
		}
		if err := c.chunk.WriteHashMapUnpack(t.Token, flags); err != nil {
			c.err(HugeSize, t.Token)
		}
		for i := len(t.Entries) - 1; i >= 0; i-- {
			c.definable(t.Entries[i].Value, exported)
		}
	default:
		c.err(InvalidDes, target.Tok())
	}
}

// ---- lambdas / functions ----

// paramSlotName synthesizes a unique per-position local name for
// non-identifier (destructuring) parameter patterns, since the raw
// pattern itself isn't a name to resolve by.
func paramSlotName(i int) string { return fmt.Sprintf("#param%d", i) }

// bindParam reserves the next local slot for one parameter. Identifier
// patterns bind by their own name (visible directly in the body);
// destructuring patterns bind to a synthetic name and get expanded by
// the destructuring prelude in compileLambda.
func (fc *Compiler) bindParam(pattern ast.Expression) {
	name := paramSlotName(len(fc.locals))
	if id, ok := pattern.(*ast.Identifier); ok {
		name = id.Name
	}
	fc.locals = append(fc.locals, local{name: name, token: pattern.Tok(), depth: 0})
}

// slotNameFor finds the synthetic or identifier name bound for pattern
// by a previous bindParam call (matched by token identity).
func (fc *Compiler) slotNameFor(pattern ast.Expression) string {
	for i := len(fc.locals) - 1; i >= 0; i-- {
		if fc.locals[i].token == pattern.Tok() {
			return fc.locals[i].name
		}
	}
	return ""
}

// storeParamSlot stores the value on top of the stack (a default-value
// result, or the reduced variadic list) into the slot reserved for
// pattern.
func (fc *Compiler) storeParamSlot(pattern ast.Expression) {
	idx := fc.resolveLocal(fc.slotNameFor(pattern))
	fc.emitByteInstr(chunk.SET_LOCAL, pattern.Tok(), idx)
	fc.chunk.WriteInstr(chunk.POP, pattern.Tok())
}

func (c *Compiler) compileLambda(l *ast.Lambda, selfName string, declToken token.Token) {
	fc := newFunctionCompiler(c, selfName)

	arity := value.Arity{Kind: value.Fixed, Required: len(l.Required), Optional: len(l.Optional)}
	if l.Variadic != nil {
		arity.Kind = value.Variadic
	}

	// Parameters occupy locals 1..N in declaration order (slot 0 is the
	// self-name reserved by newFunctionCompiler).
	for _, p := range l.Required {
		fc.bindParam(p.Pattern)
	}
	for _, p := range l.Optional {
		fc.bindParam(p.Pattern)
	}
	if l.Variadic != nil {
		fc.bindParam(l.Variadic.Pattern)
	}

	// (1) default-value cascade: defaults[j] is the entry ip to use when
	// j optionals were supplied. Sub-chunks run in declaration order
	// d_1, d_2, ..., d_k so falling through from defaults[j] writes
	// exactly the remaining (optional-j) defaults d_{j+1}..d_k.
	defaults := make([]int, len(l.Optional)+1)
	for j, opt := range l.Optional {
		defaults[j] = fc.chunk.Len()
		fc.expr(opt.Default, false)
		fc.storeParamSlot(opt.Pattern)
	}
	defaults[len(l.Optional)] = fc.chunk.Len()

	// (2) variadic reduction
	if l.Variadic != nil {
		fc.chunk.WriteInstr(chunk.BUILD_VARIADIC, declToken)
		fc.storeParamSlot(l.Variadic.Pattern)
	}

	bodyIP := fc.chunk.Len()

	// (3) destructuring prelude: re-read each non-identifier parameter's
	// already-bound slot and destructure it in place, in reverse
	// declaration order.
	allParams := append(append(append([]ast.Param{}, l.Required...), l.Optional...), optionalVariadic(l.Variadic)...)
	for i := len(allParams) - 1; i >= 0; i-- {
		p := allParams[i]
		if _, ok := p.Pattern.(*ast.Identifier); ok {
			continue
		}
		idx := fc.resolveLocal(fc.slotNameFor(p.Pattern))
		fc.emitByteInstr(chunk.GET_LOCAL, declToken, idx)
		fc.definable(p.Pattern, false)
	}

	// (4) body
	fc.beginScope()
	for _, st := range l.Body.Statements {
		fc.stmt(st)
	}
	fc.endScope(declToken)

	// (5) implicit trailing return
	fc.emitConstant(value.NewNil(), declToken)
	fc.chunk.WriteInstr(chunk.RET, declToken)

	c.errs = append(c.errs, fc.errs...)

	fn := &value.Function{
		Name:         selfName,
		Chunk:        fc.chunk,
		Arity:        arity,
		Defaults:     defaults,
		BodyIP:       bodyIP,
		UpvalueCount: len(fc.upvalues),
	}
	descs := make([]chunk.UpvalueDescriptor, len(fc.upvalues))
	for i, uv := range fc.upvalues {
		descs[i] = chunk.UpvalueDescriptor{IsLocal: uv.isLocal, Index: uv.index}
	}
	if err := c.chunk.WriteClosure(declToken, value.NewFunction(fn), descs); err != nil {
		c.err(TooManyConsts, declToken)
	}
}

func optionalVariadic(p *ast.Param) []ast.Param {
	if p == nil {
		return nil
	}
	return []ast.Param{*p}
}

// ---- expressions ----

func (c *Compiler) expr(e ast.Expression, statementLevel bool) {
	switch n := e.(type) {
	case *ast.NilLiteral:
		c.emitConstant(value.NewNil(), n.Token)
	case *ast.BoolLiteral:
		c.emitConstant(value.NewBool(n.Value), n.Token)
	case *ast.NumberLiteral:
		c.emitConstant(value.NewNumber(n.Value), n.Token)
	case *ast.StringLiteral:
		decoded, ok := decodeStringLiteral(n.Value)
		if !ok {
			c.err(BackSlashMisuse, n.Token)
			decoded = n.Value
		}
		c.emitConstant(value.NewStringValue(decoded), n.Token)
	case *ast.Identifier:
		c.loadVariable(n.Name, n.Token)
	case *ast.ListLiteral:
		for _, el := range n.Elements {
			c.expr(el, false)
		}
		if err := c.chunk.WriteBuild(chunk.BUILD_LIST, n.Token, len(n.Elements)); err != nil {
			c.err(HugeSize, n.Token)
		}
	case *ast.HashMapLiteral:
		for _, entry := range n.Entries {
			if entry.Default != nil {
				c.err(DefaultInObject, n.Token)
			}
			key := entry.Key.(*ast.Identifier)
			c.emitConstantString(key.Name, n.Token)
			c.expr(entry.Value, false)
		}
		if err := c.chunk.WriteBuild(chunk.BUILD_HASH_MAP, n.Token, len(n.Entries)); err != nil {
			c.err(HugeSize, n.Token)
		}
	case *ast.UnaryExpression:
		c.expr(n.Right, false)
		switch n.Op {
		case "-":
			c.chunk.WriteInstr(chunk.NEG, n.Token)
		case "!":
			c.chunk.WriteInstr(chunk.NOT, n.Token)
		}
	case *ast.BinaryExpression:
		c.binary(n)
	case *ast.AssignExpression:
		c.assign(n)
	case *ast.CallExpression:
		c.call(n)
	case *ast.Member:
		c.expr(n.Instance, false)
		c.memberKey(n)
		c.chunk.WriteInstr(chunk.GET, n.Token)
	case *ast.Lambda:
		c.compileLambda(n, "", n.Token)
	default:
		panic(fmt.Sprintf("compiler: unhandled expression %T", e))
	}
}

// memberKey compiles the key half of a Member node: a constant string
// for `.name`, or the arbitrary computed expression for `[expr]`.
func (c *Compiler) memberKey(n *ast.Member) {
	if !n.Computed {
		key := n.Key.(*ast.StringLiteral)
		c.emitConstant(value.NewStringValue(key.Value), n.Token)
		return
	}
	c.expr(n.Key, false)
}

var binaryOps = map[string]chunk.OpCode{
	"+": chunk.ADD, "-": chunk.SUB, "*": chunk.MUL, "/": chunk.DIV, "%": chunk.REM,
	"==": chunk.EQ, "!=": chunk.NOT_EQ,
	">": chunk.GREATER, ">=": chunk.GREATER_EQ, "<": chunk.LESS, "<=": chunk.LESS_EQ,
}

func (c *Compiler) binary(n *ast.BinaryExpression) {
	if n.Op == "&&" {
		c.expr(n.Left, false)
		end := c.chunk.WriteJump(chunk.JUMP_IF_FALSY_OR_POP, n.Token)
		c.expr(n.Right, false)
		if err := c.chunk.SettleJump(end); err != nil {
			c.err(HugeJump, n.Token)
		}
		return
	}
	if n.Op == "||" {
		c.expr(n.Left, false)
		end := c.chunk.WriteJump(chunk.JUMP_IF_TRUTHY_OR_POP, n.Token)
		c.expr(n.Right, false)
		if err := c.chunk.SettleJump(end); err != nil {
			c.err(HugeJump, n.Token)
		}
		return
	}
	c.expr(n.Left, false)
	c.expr(n.Right, false)
	op, ok := binaryOps[n.Op]
	if !ok {
		panic("compiler: unknown binary operator " + n.Op)
	}
	c.chunk.WriteInstr(op, n.Token)
}

var compoundOps = map[string]string{
	"+=": "+", "-=": "-", "*=": "*", "/=": "/", "%=": "%",
}

func (c *Compiler) assign(n *ast.AssignExpression) {
	op, isCompound := compoundOps[n.Op]

	if member, ok := n.Target.(*ast.Member); ok {
		// get(a); push(e); OP; set(a) — instance and key are each
		// evaluated twice for a compound assignment, matching the
		// original source's desugaring exactly (see SPEC_FULL.md §4).
		if isCompound {
			c.expr(member.Instance, false)
			c.memberKey(member)
			c.chunk.WriteInstr(chunk.GET, n.Token)
			c.expr(n.Value, false)
			c.chunk.WriteInstr(binaryOps[op], n.Token)
		} else {
			c.expr(n.Value, false)
		}
		c.expr(member.Instance, false)
		c.memberKey(member)
		c.chunk.WriteInstr(chunk.SET, n.Token)
		if n.Pop {
			c.chunk.WriteInstr(chunk.POP, n.Token)
		}
		return
	}

	id, ok := n.Target.(*ast.Identifier)
	if !ok {
		c.err(InvalidDes, n.Token)
		return
	}
	if isCompound {
		c.loadVariable(id.Name, n.Token)
		c.expr(n.Value, false)
		c.chunk.WriteInstr(binaryOps[op], n.Token)
	} else {
		c.expr(n.Value, false)
	}
	c.storeVariable(id.Name, n.Token)
	if n.Pop {
		c.chunk.WriteInstr(chunk.POP, n.Token)
	}
}

func (c *Compiler) call(n *ast.CallExpression) {
	c.expr(n.Callee, false)
	if len(n.Args) > 255 {
		c.err(TooManyArgs, n.Token)
	}
	for _, a := range n.Args {
		c.expr(a, false)
	}
	c.chunk.WriteCall(n.Token, len(n.Args))
}

// Errors exposes accumulated diagnostics (used by tests that compile a
// single function in isolation).
func (c *Compiler) Errors() []*CompileError { return c.errs }

// decodeStringLiteral resolves the lexer's raw string payload (where a
// backslash is kept verbatim alongside the character it precedes) into
// its final runtime value, rejecting any escape the lexer didn't
// recognize as legal. Kept in the compiler rather than the lexer so
// malformed escapes surface as a BackSlashMisuse compile error, not a
// lex error.
func decodeStringLiteral(raw string) (string, bool) {
	var out []byte
	ok := true
	for i := 0; i < len(raw); i++ {
		ch := raw[i]
		if ch != '\\' {
			out = append(out, ch)
			continue
		}
		i++
		if i >= len(raw) {
			ok = false
			break
		}
		switch raw[i] {
		case 'n':
			out = append(out, '\n')
		case 'r':
			out = append(out, '\r')
		case 't':
			out = append(out, '\t')
		case '"':
			out = append(out, '"')
		case '\\':
			out = append(out, '\\')
		default:
			ok = false
		}
	}
	return string(out), ok
}
