// Package parser implements a Pratt parser turning a qatam token stream
// into the internal/ast node set the compiler walks.
package parser

import (
	"fmt"
	"strconv"

	"github.com/yosefbeder/qatam/internal/ast"
	"github.com/yosefbeder/qatam/internal/lexer"
	"github.com/yosefbeder/qatam/internal/token"
)

type precedence int

const (
	_ precedence = iota
	LOWEST
	ASSIGNMENT
	LOGIC_OR
	LOGIC_AND
	EQUALITY
	COMPARISON
	TERM
	FACTOR
	UNARY
	CALL
)

var precedences = map[token.TokenType]precedence{
	token.ASSIGN:     ASSIGNMENT,
	token.PLUS_EQ:    ASSIGNMENT,
	token.MINUS_EQ:   ASSIGNMENT,
	token.STAR_EQ:    ASSIGNMENT,
	token.SLASH_EQ:   ASSIGNMENT,
	token.PERCENT_EQ: ASSIGNMENT,
	token.OR_OR:      LOGIC_OR,
	token.AND_AND:    LOGIC_AND,
	token.EQ:         EQUALITY,
	token.NEQ:        EQUALITY,
	token.LT:         COMPARISON,
	token.GT:         COMPARISON,
	token.LTE:        COMPARISON,
	token.GTE:        COMPARISON,
	token.PLUS:       TERM,
	token.MINUS:      TERM,
	token.STAR:       FACTOR,
	token.SLASH:      FACTOR,
	token.PERCENT:    FACTOR,
	token.LPAREN:     CALL,
	token.LBRACKET:   CALL,
	token.DOT:        CALL,
}

var compoundOps = map[token.TokenType]string{
	token.ASSIGN:     "=",
	token.PLUS_EQ:    "+=",
	token.MINUS_EQ:   "-=",
	token.STAR_EQ:    "*=",
	token.SLASH_EQ:   "/=",
	token.PERCENT_EQ: "%=",
}

// Parser is a single-use Pratt parser; each call to New is good for one
// Program.
type Parser struct {
	l *lexer.Lexer

	curToken  token.Token
	peekToken token.Token

	errors []string

	prefixFns map[token.TokenType]func() ast.Expression
	infixFns  map[token.TokenType]func(ast.Expression) ast.Expression
}

func New(l *lexer.Lexer) *Parser {
	p := &Parser{l: l}
	p.nextToken()
	p.nextToken()

	p.prefixFns = map[token.TokenType]func() ast.Expression{
		token.IDENTIFIER: p.parseIdentifier,
		token.NUMBER:     p.parseNumber,
		token.STRING:     p.parseString,
		token.TRUE:       p.parseBool,
		token.FALSE:      p.parseBool,
		token.NIL:        p.parseNil,
		token.BANG:       p.parseUnary,
		token.MINUS:      p.parseUnary,
		token.LPAREN:     p.parseGroup,
		token.LBRACKET:   p.parseListLiteral,
		token.LBRACE:     p.parseHashMapLiteral,
		token.PIPE:       p.parseLambda,
		// An adjacent `||` lexes as one OR_OR token; in prefix position
		// (start of an expression) it can only be a zero-param lambda,
		// since `||` as an infix operator is only ever looked up after a
		// left operand has already been parsed.
		token.OR_OR: p.parseEmptyLambda,
	}
	p.infixFns = map[token.TokenType]func(ast.Expression) ast.Expression{
		token.PLUS:       p.parseBinary,
		token.MINUS:      p.parseBinary,
		token.STAR:       p.parseBinary,
		token.SLASH:      p.parseBinary,
		token.PERCENT:    p.parseBinary,
		token.EQ:         p.parseBinary,
		token.NEQ:        p.parseBinary,
		token.LT:         p.parseBinary,
		token.GT:         p.parseBinary,
		token.LTE:        p.parseBinary,
		token.GTE:        p.parseBinary,
		token.AND_AND:    p.parseBinary,
		token.OR_OR:      p.parseBinary,
		token.LPAREN:     p.parseCall,
		token.LBRACKET:   p.parseIndex,
		token.DOT:        p.parseDot,
		token.ASSIGN:     p.parseAssign,
		token.PLUS_EQ:    p.parseAssign,
		token.MINUS_EQ:   p.parseAssign,
		token.STAR_EQ:    p.parseAssign,
		token.SLASH_EQ:   p.parseAssign,
		token.PERCENT_EQ: p.parseAssign,
	}
	return p
}

func (p *Parser) Errors() []string { return p.errors }

func (p *Parser) errorf(format string, args ...interface{}) {
	p.errors = append(p.errors, fmt.Sprintf("%s: %s", p.curToken.Pos(), fmt.Sprintf(format, args...)))
}

func (p *Parser) nextToken() {
	p.curToken = p.peekToken
	p.peekToken = p.l.NextToken()
}

func (p *Parser) curIs(t token.TokenType) bool  { return p.curToken.Type == t }
func (p *Parser) peekIs(t token.TokenType) bool { return p.peekToken.Type == t }

func (p *Parser) expect(t token.TokenType) bool {
	if p.peekIs(t) {
		p.nextToken()
		return true
	}
	p.errorf("expected next token to be %s, got %s", t, p.peekToken.Type)
	return false
}

func (p *Parser) curPrecedence() precedence {
	if pr, ok := precedences[p.curToken.Type]; ok {
		return pr
	}
	return LOWEST
}

func (p *Parser) peekPrecedence() precedence {
	if pr, ok := precedences[p.peekToken.Type]; ok {
		return pr
	}
	return LOWEST
}

// ParseProgram consumes the whole token stream and returns the root
// Program node.
func (p *Parser) ParseProgram() *ast.Program {
	prog := &ast.Program{}
	for !p.curIs(token.EOF) {
		if stmt := p.parseStatement(); stmt != nil {
			prog.Statements = append(prog.Statements, stmt)
		}
		p.nextToken()
	}
	return prog
}

// ---- statements ----

func (p *Parser) parseStatement() ast.Statement {
	switch p.curToken.Type {
	case token.VAR:
		return p.parseVarDecl()
	case token.FN:
		return p.parseFunctionDecl()
	case token.IF:
		return p.parseIf()
	case token.WHILE:
		return p.parseWhile()
	case token.LOOP:
		return p.parseLoop()
	case token.FOR:
		return p.parseForIn()
	case token.BREAK:
		tok := p.curToken
		p.consumeSemi()
		return &ast.BreakStatement{Token: tok}
	case token.CONTINUE:
		tok := p.curToken
		p.consumeSemi()
		return &ast.ContinueStatement{Token: tok}
	case token.RETURN:
		return p.parseReturn()
	case token.THROW:
		return p.parseThrow()
	case token.TRY:
		return p.parseTryCatch()
	case token.IMPORT:
		return p.parseImport()
	case token.EXPORT:
		return p.parseExport()
	case token.LBRACE:
		return p.parseBlock()
	case token.SEMI:
		return nil
	default:
		return p.parseExpressionStatement()
	}
}

// consumeSemi swallows one optional trailing `;`.
func (p *Parser) consumeSemi() {
	if p.peekIs(token.SEMI) {
		p.nextToken()
	}
}

func (p *Parser) parseBlock() *ast.BlockStatement {
	block := &ast.BlockStatement{Token: p.curToken}
	p.nextToken() // consume '{'
	for !p.curIs(token.RBRACE) && !p.curIs(token.EOF) {
		if stmt := p.parseStatement(); stmt != nil {
			block.Statements = append(block.Statements, stmt)
		}
		p.nextToken()
	}
	return block
}

func (p *Parser) parseVarDecl() ast.Statement {
	tok := p.curToken
	p.nextToken()
	target := p.parseDestructurePattern()
	if !p.expect(token.ASSIGN) {
		return nil
	}
	p.nextToken()
	value := p.parseExpression(LOWEST)
	p.consumeSemi()
	return &ast.VarDecl{Token: tok, Target: target, Value: value}
}

// parseDestructurePattern parses an Identifier, a `[a, b]` list pattern,
// or a `{a, b: c}` hash-map pattern.
func (p *Parser) parseDestructurePattern() ast.Expression {
	switch p.curToken.Type {
	case token.LBRACKET:
		return p.parseListPattern()
	case token.LBRACE:
		return p.parseHashMapPattern()
	default:
		return &ast.Identifier{Token: p.curToken, Name: p.curToken.Literal}
	}
}

func (p *Parser) parseListPattern() ast.Expression {
	lit := &ast.ListLiteral{Token: p.curToken}
	if p.peekIs(token.RBRACKET) {
		p.nextToken()
		return lit
	}
	p.nextToken()
	lit.Elements = append(lit.Elements, p.parseDestructurePattern())
	for p.peekIs(token.COMMA) {
		p.nextToken()
		p.nextToken()
		lit.Elements = append(lit.Elements, p.parseDestructurePattern())
	}
	p.expect(token.RBRACKET)
	return lit
}

func (p *Parser) parseHashMapPattern() ast.Expression {
	lit := &ast.HashMapLiteral{Token: p.curToken}
	if p.peekIs(token.RBRACE) {
		p.nextToken()
		return lit
	}
	p.nextToken()
	lit.Entries = append(lit.Entries, p.parseHashMapPatternEntry())
	for p.peekIs(token.COMMA) {
		p.nextToken()
		p.nextToken()
		lit.Entries = append(lit.Entries, p.parseHashMapPatternEntry())
	}
	p.expect(token.RBRACE)
	return lit
}

// parseHashMapPatternEntry parses `key`, `key: pattern`, or
// `key: pattern = default`.
func (p *Parser) parseHashMapPatternEntry() ast.HashMapEntry {
	keyTok := p.curToken
	key := &ast.Identifier{Token: keyTok, Name: keyTok.Literal}
	var val ast.Expression = &ast.Identifier{Token: keyTok, Name: keyTok.Literal}
	var def ast.Expression
	if p.peekIs(token.COLON) {
		p.nextToken()
		p.nextToken()
		val = p.parseDestructurePattern()
	}
	if p.peekIs(token.ASSIGN) {
		p.nextToken()
		p.nextToken()
		def = p.parseExpression(LOWEST)
	}
	return ast.HashMapEntry{Key: key, Value: val, Default: def}
}

func (p *Parser) parseFunctionDecl() ast.Statement {
	tok := p.curToken
	if !p.expect(token.IDENTIFIER) {
		return nil
	}
	name := p.curToken.Literal
	lambda := p.parseLambdaAfterName(tok)
	return &ast.FunctionDecl{Token: tok, Name: name, Lambda: lambda}
}

// parseLambdaAfterName parses `(params) { body }` — the `fn name(...)`
// sugar shares its parameter-list syntax with a plain lambda.
func (p *Parser) parseLambdaAfterName(tok token.Token) *ast.Lambda {
	l := &ast.Lambda{Token: tok}
	if !p.expect(token.LPAREN) {
		return l
	}
	p.parseParamList(l, token.RPAREN)
	if !p.expect(token.LBRACE) {
		return l
	}
	l.Body = p.parseBlock()
	return l
}

// parseParamList reads params up to (and consuming) closingTok, filling
// Required/Optional/Variadic on l. Assumes curToken is the opening
// delimiter on entry.
func (p *Parser) parseParamList(l *ast.Lambda, closingTok token.TokenType) {
	if p.peekIs(closingTok) {
		p.nextToken()
		return
	}
	p.nextToken()
	for {
		if p.curIs(token.STAR) {
			p.nextToken()
			pattern := p.parseDestructurePattern()
			l.Variadic = &ast.Param{Pattern: pattern}
		} else {
			pattern := p.parseDestructurePattern()
			var def ast.Expression
			if p.peekIs(token.ASSIGN) {
				p.nextToken()
				p.nextToken()
				def = p.parseExpression(LOWEST)
			}
			if def != nil {
				l.Optional = append(l.Optional, ast.Param{Pattern: pattern, Default: def})
			} else {
				l.Required = append(l.Required, ast.Param{Pattern: pattern})
			}
		}
		if p.peekIs(token.COMMA) {
			p.nextToken()
			p.nextToken()
			continue
		}
		break
	}
	p.expect(closingTok)
}

func (p *Parser) parseIf() ast.Statement {
	tok := p.curToken
	p.nextToken()
	cond := p.parseExpression(LOWEST)
	if !p.expect(token.LBRACE) {
		return nil
	}
	then := p.parseBlock()
	stmt := &ast.IfStatement{Token: tok, Cond: cond, Then: then}
	if p.peekIs(token.ELSE) {
		p.nextToken()
		if p.peekIs(token.IF) {
			p.nextToken()
			stmt.Else = p.parseIf()
		} else if p.expect(token.LBRACE) {
			stmt.Else = p.parseBlock()
		}
	}
	return stmt
}

func (p *Parser) parseWhile() ast.Statement {
	tok := p.curToken
	p.nextToken()
	cond := p.parseExpression(LOWEST)
	if !p.expect(token.LBRACE) {
		return nil
	}
	return &ast.WhileStatement{Token: tok, Cond: cond, Body: p.parseBlock()}
}

func (p *Parser) parseLoop() ast.Statement {
	tok := p.curToken
	if !p.expect(token.LBRACE) {
		return nil
	}
	return &ast.LoopStatement{Token: tok, Body: p.parseBlock()}
}

func (p *Parser) parseForIn() ast.Statement {
	tok := p.curToken
	p.nextToken()
	v := p.parseDestructurePattern()
	if !p.expect(token.IN) {
		return nil
	}
	p.nextToken()
	iter := p.parseExpression(LOWEST)
	if !p.expect(token.LBRACE) {
		return nil
	}
	return &ast.ForInStatement{Token: tok, Var: v, Iter: iter, Body: p.parseBlock()}
}

func (p *Parser) parseReturn() ast.Statement {
	tok := p.curToken
	if p.peekIs(token.SEMI) || p.peekIs(token.RBRACE) {
		p.consumeSemi()
		return &ast.ReturnStatement{Token: tok}
	}
	p.nextToken()
	val := p.parseExpression(LOWEST)
	p.consumeSemi()
	return &ast.ReturnStatement{Token: tok, Value: val}
}

func (p *Parser) parseThrow() ast.Statement {
	tok := p.curToken
	if p.peekIs(token.SEMI) || p.peekIs(token.RBRACE) {
		p.consumeSemi()
		return &ast.ThrowStatement{Token: tok}
	}
	p.nextToken()
	val := p.parseExpression(LOWEST)
	p.consumeSemi()
	return &ast.ThrowStatement{Token: tok, Value: val}
}

func (p *Parser) parseTryCatch() ast.Statement {
	tok := p.curToken
	if !p.expect(token.LBRACE) {
		return nil
	}
	tryBlock := p.parseBlock()
	if !p.expect(token.CATCH) {
		return nil
	}
	if !p.expect(token.LPAREN) {
		return nil
	}
	if !p.expect(token.IDENTIFIER) {
		return nil
	}
	errName := p.curToken.Literal
	if !p.expect(token.RPAREN) {
		return nil
	}
	if !p.expect(token.LBRACE) {
		return nil
	}
	catchBlock := p.parseBlock()
	return &ast.TryCatchStatement{Token: tok, Try: tryBlock, ErrName: errName, Catch: catchBlock}
}

func (p *Parser) parseImport() ast.Statement {
	tok := p.curToken
	p.nextToken()
	pattern := p.parseDestructurePattern()
	if !p.expect(token.FROM) {
		return nil
	}
	if !p.expect(token.STRING) {
		return nil
	}
	path := p.curToken.Literal
	p.consumeSemi()
	return &ast.ImportStatement{Token: tok, Pattern: pattern, Path: path}
}

func (p *Parser) parseExport() ast.Statement {
	tok := p.curToken
	p.nextToken()
	var decl ast.Statement
	switch p.curToken.Type {
	case token.VAR:
		decl = p.parseVarDecl()
	case token.FN:
		decl = p.parseFunctionDecl()
	default:
		p.errorf("export expects a var or fn declaration, got %s", p.curToken.Type)
		return nil
	}
	return &ast.ExportStatement{Token: tok, Decl: decl}
}

func (p *Parser) parseExpressionStatement() ast.Statement {
	tok := p.curToken
	expr := p.parseExpression(LOWEST)
	if assign, ok := expr.(*ast.AssignExpression); ok {
		assign.Pop = true
	}
	p.consumeSemi()
	return &ast.ExpressionStatement{Token: tok, Expr: expr}
}

// ---- expressions ----

func (p *Parser) parseExpression(prec precedence) ast.Expression {
	prefix, ok := p.prefixFns[p.curToken.Type]
	if !ok {
		p.errorf("no prefix parse function for %s", p.curToken.Type)
		return nil
	}
	left := prefix()

	for !p.peekIs(token.SEMI) && prec < p.peekPrecedence() {
		infix, ok := p.infixFns[p.peekToken.Type]
		if !ok {
			return left
		}
		p.nextToken()
		left = infix(left)
	}
	return left
}

func (p *Parser) parseIdentifier() ast.Expression {
	return &ast.Identifier{Token: p.curToken, Name: p.curToken.Literal}
}

func (p *Parser) parseNumber() ast.Expression {
	v, err := strconv.ParseFloat(p.curToken.Literal, 64)
	if err != nil {
		p.errorf("invalid number literal %q", p.curToken.Literal)
	}
	return &ast.NumberLiteral{Token: p.curToken, Value: v}
}

func (p *Parser) parseString() ast.Expression {
	return &ast.StringLiteral{Token: p.curToken, Value: p.curToken.Literal}
}

func (p *Parser) parseBool() ast.Expression {
	return &ast.BoolLiteral{Token: p.curToken, Value: p.curToken.Type == token.TRUE}
}

func (p *Parser) parseNil() ast.Expression {
	return &ast.NilLiteral{Token: p.curToken}
}

func (p *Parser) parseUnary() ast.Expression {
	tok := p.curToken
	op := "-"
	if tok.Type == token.BANG {
		op = "!"
	}
	p.nextToken()
	return &ast.UnaryExpression{Token: tok, Op: op, Right: p.parseExpression(UNARY)}
}

func (p *Parser) parseGroup() ast.Expression {
	p.nextToken()
	expr := p.parseExpression(LOWEST)
	p.expect(token.RPAREN)
	return expr
}

func (p *Parser) parseListLiteral() ast.Expression {
	lit := &ast.ListLiteral{Token: p.curToken}
	lit.Elements = p.parseExpressionList(token.RBRACKET)
	return lit
}

func (p *Parser) parseExpressionList(end token.TokenType) []ast.Expression {
	var list []ast.Expression
	if p.peekIs(end) {
		p.nextToken()
		return list
	}
	p.nextToken()
	list = append(list, p.parseExpression(LOWEST))
	for p.peekIs(token.COMMA) {
		p.nextToken()
		p.nextToken()
		list = append(list, p.parseExpression(LOWEST))
	}
	p.expect(end)
	return list
}

// parseHashMapLiteral parses `{key: value, ...}` and the shorthand
// `{x}` (Key=Value=identifier x).
func (p *Parser) parseHashMapLiteral() ast.Expression {
	lit := &ast.HashMapLiteral{Token: p.curToken}
	if p.peekIs(token.RBRACE) {
		p.nextToken()
		return lit
	}
	p.nextToken()
	lit.Entries = append(lit.Entries, p.parseHashMapLiteralEntry())
	for p.peekIs(token.COMMA) {
		p.nextToken()
		p.nextToken()
		lit.Entries = append(lit.Entries, p.parseHashMapLiteralEntry())
	}
	p.expect(token.RBRACE)
	return lit
}

func (p *Parser) parseHashMapLiteralEntry() ast.HashMapEntry {
	keyTok := p.curToken
	if p.peekIs(token.COLON) {
		key := &ast.Identifier{Token: keyTok, Name: keyTok.Literal}
		p.nextToken() // consume ':'
		p.nextToken()
		val := p.parseExpression(LOWEST)
		return ast.HashMapEntry{Key: key, Value: val}
	}
	// Shorthand `{x}`: key and value both come from the identifier.
	key := &ast.Identifier{Token: keyTok, Name: keyTok.Literal}
	val := &ast.Identifier{Token: keyTok, Name: keyTok.Literal}
	return ast.HashMapEntry{Key: key, Value: val}
}

// parseEmptyLambda handles `|| { body }`: the lexer already collapsed
// the two adjacent pipes into one OR_OR token, so there is no parameter
// list to read.
func (p *Parser) parseEmptyLambda() ast.Expression {
	tok := p.curToken
	l := &ast.Lambda{Token: tok}
	if !p.expect(token.LBRACE) {
		return l
	}
	l.Body = p.parseBlock()
	return l
}

func (p *Parser) parseLambda() ast.Expression {
	tok := p.curToken
	l := &ast.Lambda{Token: tok}
	p.parseParamList(l, token.PIPE)
	if !p.expect(token.LBRACE) {
		return l
	}
	l.Body = p.parseBlock()
	return l
}

func (p *Parser) parseBinary(left ast.Expression) ast.Expression {
	tok := p.curToken
	op := opSymbol(tok.Type)
	prec := p.curPrecedence()
	p.nextToken()
	right := p.parseExpression(prec)
	return &ast.BinaryExpression{Token: tok, Op: op, Left: left, Right: right}
}

func opSymbol(t token.TokenType) string {
	switch t {
	case token.PLUS:
		return "+"
	case token.MINUS:
		return "-"
	case token.STAR:
		return "*"
	case token.SLASH:
		return "/"
	case token.PERCENT:
		return "%"
	case token.EQ:
		return "=="
	case token.NEQ:
		return "!="
	case token.LT:
		return "<"
	case token.GT:
		return ">"
	case token.LTE:
		return "<="
	case token.GTE:
		return ">="
	case token.AND_AND:
		return "&&"
	case token.OR_OR:
		return "||"
	}
	return string(t)
}

func (p *Parser) parseCall(callee ast.Expression) ast.Expression {
	tok := p.curToken
	args := p.parseExpressionList(token.RPAREN)
	return &ast.CallExpression{Token: tok, Callee: callee, Args: args}
}

func (p *Parser) parseIndex(left ast.Expression) ast.Expression {
	tok := p.curToken
	p.nextToken()
	key := p.parseExpression(LOWEST)
	p.expect(token.RBRACKET)
	return &ast.Member{Token: tok, Instance: left, Key: key, Computed: true}
}

func (p *Parser) parseDot(left ast.Expression) ast.Expression {
	tok := p.curToken
	if !p.expect(token.IDENTIFIER) {
		return left
	}
	key := &ast.StringLiteral{Token: p.curToken, Value: p.curToken.Literal}
	return &ast.Member{Token: tok, Instance: left, Key: key, Computed: false}
}

func (p *Parser) parseAssign(left ast.Expression) ast.Expression {
	tok := p.curToken
	op := compoundOps[tok.Type]
	p.nextToken()
	value := p.parseExpression(ASSIGNMENT - 1)
	return &ast.AssignExpression{Token: tok, Op: op, Target: left, Value: value}
}
