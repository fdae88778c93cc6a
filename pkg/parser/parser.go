// Package parser turns Ai source text into an ast.Program.
package parser

import (
	"errors"
	"fmt"
	"strconv"

	"ai/interpreter-go/pkg/ast"
)

// maxErrors bounds the diagnostics collected from one source file.
const maxErrors = 25

// bailout unwinds a statement after a syntax error has been recorded.
type bailout struct{}

// Parser is a recursive-descent parser over a token slice.
type Parser struct {
	tokens  []Token
	current int
	errs    []error
}

// Parse parses source into a program. Every syntax error is reported; the
// returned error is an errors.Join of *ParseError values.
func Parse(source string) (*ast.Program, error) {
	tokens, lexErrs := NewLexer(source).Tokens()
	p := &Parser{tokens: tokens, errs: lexErrs}
	prog := p.parseProgram()
	if len(p.errs) > 0 {
		return prog, errors.Join(p.errs...)
	}
	return prog, nil
}

func (p *Parser) parseProgram() *ast.Program {
	prog := &ast.Program{}
	for !p.atEnd() && len(p.errs) < maxErrors {
		if p.check(TokenRBrace) {
			p.record(p.peek(), "unexpected '}'")
			p.advance()
			continue
		}
		if stmt := p.statementOrRecover(); stmt != nil {
			prog.Statements = append(prog.Statements, stmt)
		}
	}
	return prog
}

func (p *Parser) statementOrRecover() (stmt ast.Statement) {
	start := p.current
	defer func() {
		if r := recover(); r != nil {
			if _, ok := r.(bailout); !ok {
				panic(r)
			}
			stmt = nil
			p.synchronize(start)
		}
	}()
	return p.statement()
}

// synchronize skips to the next plausible statement boundary.
func (p *Parser) synchronize(start int) {
	if p.current == start && !p.atEnd() {
		p.advance()
	}
	for !p.atEnd() {
		if p.previous().Type == TokenSemicolon {
			return
		}
		switch p.peek().Type {
		case TokenRBrace, TokenUse, TokenSequence, TokenParallel, TokenRace,
			TokenIf, TokenUnless, TokenWhile, TokenUntil, TokenYield, TokenReturn:
			return
		}
		p.advance()
	}
}

//-----------------------------------------------------------------------------
// Statements
//-----------------------------------------------------------------------------

func (p *Parser) statement() ast.Statement {
	tok := p.peek()
	switch tok.Type {
	case TokenUse:
		p.advance()
		name := p.consume(TokenVariable, "expected '$name' after 'use'")
		p.consume(TokenSemicolon, "expected ';' after use declaration")
		return &ast.UseStatement{Span: spanForToken(tok), Name: name.Lexeme}
	case TokenSequence, TokenParallel, TokenRace:
		return p.groupDeclaration()
	case TokenIf, TokenUnless:
		return p.ifStatement()
	case TokenWhile, TokenUntil:
		p.advance()
		cond := p.expression()
		body := p.block()
		return &ast.WhileStatement{Span: spanForToken(tok), Invert: tok.Type == TokenUntil, Condition: cond, Body: body}
	case TokenYield:
		p.advance()
		p.consume(TokenSemicolon, "expected ';' after 'yield'")
		return &ast.YieldStatement{Span: spanForToken(tok)}
	case TokenReturn:
		p.advance()
		var value ast.Expression
		if !p.check(TokenSemicolon) {
			value = p.valueOrCall()
		}
		p.consume(TokenSemicolon, "expected ';' after return value")
		return &ast.ReturnStatement{Span: spanForToken(tok), Value: value}
	case TokenVariable:
		p.advance()
		p.consume(TokenAssign, "expected '=' after variable")
		value := p.valueOrCall()
		p.consume(TokenSemicolon, "expected ';' after assignment")
		return &ast.AssignStatement{Span: spanForToken(tok), Name: tok.Lexeme, Value: value}
	case TokenIdent:
		call := p.call(TokenSemicolon)
		p.consume(TokenSemicolon, "expected ';' after statement")
		return &ast.ExecStatement{Call: call}
	case TokenGroup:
		p.fail(tok, "group declaration needs 'sequence', 'parallel' or 'race'")
	default:
		p.fail(tok, fmt.Sprintf("unexpected %s at start of statement", describe(tok)))
	}
	return nil
}

func (p *Parser) groupDeclaration() ast.Statement {
	tok := p.advance()
	kind := ast.GroupSequence
	switch tok.Type {
	case TokenParallel:
		kind = ast.GroupParallel
	case TokenRace:
		kind = ast.GroupRace
	}
	p.consume(TokenGroup, fmt.Sprintf("expected 'group' after '%s'", tok.Lexeme))
	name := p.consume(TokenIdent, "expected group name")
	decl := &ast.GroupDeclaration{Span: spanForToken(tok), Kind: kind, Name: name.Lexeme}
	for p.check(TokenVariable) {
		decl.Params = append(decl.Params, p.advance().Lexeme)
	}
	decl.Body = p.block()
	return decl
}

func (p *Parser) ifStatement() ast.Statement {
	tok := p.advance()
	stmt := &ast.IfStatement{Span: spanForToken(tok), Invert: tok.Type == TokenUnless}
	stmt.Condition = p.expression()
	stmt.Then = p.block()
	if p.match(TokenElse) {
		if p.check(TokenIf) || p.check(TokenUnless) {
			stmt.Else = []ast.Statement{p.ifStatement()}
		} else {
			stmt.Else = p.block()
		}
	}
	return stmt
}

func (p *Parser) block() []ast.Statement {
	p.consume(TokenLBrace, "expected '{'")
	var stmts []ast.Statement
	for !p.check(TokenRBrace) && !p.atEnd() && len(p.errs) < maxErrors {
		if stmt := p.statementOrRecover(); stmt != nil {
			stmts = append(stmts, stmt)
		}
	}
	p.consume(TokenRBrace, "expected '}' to close block")
	return stmts
}

// valueOrCall parses the right-hand side of an assignment or return: a
// leading identifier makes it a call with words and values, anything else is
// an ordinary expression.
func (p *Parser) valueOrCall() ast.Expression {
	if p.check(TokenIdent) {
		return p.call(TokenSemicolon)
	}
	return p.expression()
}

// call parses `name arg...` up to (not including) the closing token.
func (p *Parser) call(closer TokenType) *ast.Call {
	name := p.consume(TokenIdent, "expected callable name")
	call := &ast.Call{Span: spanForToken(name), Name: name.Lexeme}
	for !p.check(closer) && !p.atEnd() {
		if p.check(TokenIdent) {
			call.Args = append(call.Args, ast.Arg{Word: p.advance().Lexeme})
			continue
		}
		call.Args = append(call.Args, ast.Arg{Value: p.unary()})
	}
	return call
}

//-----------------------------------------------------------------------------
// Expressions
//-----------------------------------------------------------------------------

func (p *Parser) expression() ast.Expression {
	return p.or()
}

func (p *Parser) or() ast.Expression {
	expr := p.xor()
	for p.check(TokenOr) {
		op := p.advance()
		expr = &ast.Binary{Span: spanForToken(op), Operator: "or", Left: expr, Right: p.xor()}
	}
	return expr
}

func (p *Parser) xor() ast.Expression {
	expr := p.and()
	for p.check(TokenXor) {
		op := p.advance()
		expr = &ast.Binary{Span: spanForToken(op), Operator: "xor", Left: expr, Right: p.and()}
	}
	return expr
}

func (p *Parser) and() ast.Expression {
	expr := p.equality()
	for p.check(TokenAnd) {
		op := p.advance()
		expr = &ast.Binary{Span: spanForToken(op), Operator: "and", Left: expr, Right: p.equality()}
	}
	return expr
}

func (p *Parser) equality() ast.Expression {
	expr := p.comparison()
	for p.check(TokenEqual) || p.check(TokenNotEqual) {
		op := p.advance()
		expr = &ast.Binary{Span: spanForToken(op), Operator: op.Lexeme, Left: expr, Right: p.comparison()}
	}
	return expr
}

func (p *Parser) comparison() ast.Expression {
	expr := p.term()
	for p.check(TokenLess) || p.check(TokenLessEq) || p.check(TokenGreater) || p.check(TokenGreaterEq) {
		op := p.advance()
		expr = &ast.Binary{Span: spanForToken(op), Operator: op.Lexeme, Left: expr, Right: p.term()}
	}
	return expr
}

func (p *Parser) term() ast.Expression {
	expr := p.factor()
	for p.check(TokenPlus) || p.check(TokenMinus) {
		op := p.advance()
		expr = &ast.Binary{Span: spanForToken(op), Operator: op.Lexeme, Left: expr, Right: p.factor()}
	}
	return expr
}

func (p *Parser) factor() ast.Expression {
	expr := p.unary()
	for p.check(TokenStar) || p.check(TokenSlash) || p.check(TokenPercent) {
		op := p.advance()
		expr = &ast.Binary{Span: spanForToken(op), Operator: op.Lexeme, Left: expr, Right: p.unary()}
	}
	return expr
}

func (p *Parser) unary() ast.Expression {
	tok := p.peek()
	switch tok.Type {
	case TokenMinus:
		p.advance()
		// Fold a negated integer literal so the most negative integer is
		// expressible.
		if p.check(TokenInt) && p.peekAt(1).Type != TokenCaret && p.peekAt(1).Type != TokenLBracket {
			lit := p.advance()
			return &ast.Literal{Span: spanForToken(tok), Value: p.parseInt(lit, "-"+lit.Lexeme)}
		}
		return &ast.Unary{Span: spanForToken(tok), Operator: "-", Operand: p.unary()}
	case TokenNot, TokenBang:
		p.advance()
		return &ast.Unary{Span: spanForToken(tok), Operator: "not", Operand: p.unary()}
	}
	return p.power()
}

// power is right-associative and binds tighter than prefix minus.
func (p *Parser) power() ast.Expression {
	expr := p.postfix()
	if p.check(TokenCaret) {
		op := p.advance()
		return &ast.Binary{Span: spanForToken(op), Operator: "^", Left: expr, Right: p.unary()}
	}
	return expr
}

func (p *Parser) postfix() ast.Expression {
	expr := p.primary()
	for p.check(TokenLBracket) {
		open := p.advance()
		index := p.expression()
		p.consume(TokenRBracket, "expected ']' after index")
		expr = &ast.Index{Span: spanForToken(open), Container: expr, Index: index}
	}
	return expr
}

func (p *Parser) primary() ast.Expression {
	tok := p.peek()
	switch tok.Type {
	case TokenInt:
		p.advance()
		return &ast.Literal{Span: spanForToken(tok), Value: p.parseInt(tok, tok.Lexeme)}
	case TokenFloat:
		p.advance()
		f, err := strconv.ParseFloat(tok.Lexeme, 64)
		if err != nil {
			p.record(tok, fmt.Sprintf("invalid float literal %s", tok.Lexeme))
		}
		return &ast.Literal{Span: spanForToken(tok), Value: f}
	case TokenString:
		p.advance()
		return &ast.Literal{Span: spanForToken(tok), Value: tok.Lexeme}
	case TokenTrue, TokenFalse:
		p.advance()
		return &ast.Literal{Span: spanForToken(tok), Value: tok.Type == TokenTrue}
	case TokenVoid:
		p.advance()
		return &ast.Literal{Span: spanForToken(tok), Value: nil}
	case TokenVariable:
		p.advance()
		return &ast.Variable{Span: spanForToken(tok), Name: tok.Lexeme}
	case TokenIdent:
		// A bare name in expression position is a call without arguments.
		p.advance()
		return &ast.Call{Span: spanForToken(tok), Name: tok.Lexeme}
	case TokenLParen:
		p.advance()
		var expr ast.Expression
		if p.check(TokenIdent) {
			expr = p.call(TokenRParen)
		} else {
			expr = p.expression()
		}
		p.consume(TokenRParen, "expected ')'")
		return expr
	case TokenPipe:
		p.advance()
		operand := p.expression()
		p.consume(TokenPipe, "expected closing '|'")
		return &ast.Unary{Span: spanForToken(tok), Operator: "abs", Operand: operand}
	case TokenLBracket:
		p.advance()
		list := &ast.ListLiteral{Span: spanForToken(tok)}
		if !p.check(TokenRBracket) {
			for {
				list.Elements = append(list.Elements, p.expression())
				if !p.match(TokenComma) || p.check(TokenRBracket) {
					break
				}
			}
		}
		p.consume(TokenRBracket, "expected ']' after list elements")
		return list
	}
	p.fail(tok, fmt.Sprintf("expected expression, found %s", describe(tok)))
	return nil
}

func (p *Parser) parseInt(tok Token, text string) int64 {
	n, err := strconv.ParseInt(text, 10, 64)
	if err != nil {
		p.record(tok, fmt.Sprintf("integer literal %s out of range", text))
		return 0
	}
	return n
}

//-----------------------------------------------------------------------------
// Token helpers
//-----------------------------------------------------------------------------

func (p *Parser) peek() Token { return p.tokens[p.current] }

func (p *Parser) peekAt(offset int) Token {
	if i := p.current + offset; i < len(p.tokens) {
		return p.tokens[i]
	}
	return p.tokens[len(p.tokens)-1]
}

func (p *Parser) previous() Token {
	if p.current == 0 {
		return Token{}
	}
	return p.tokens[p.current-1]
}

func (p *Parser) atEnd() bool { return p.peek().Type == TokenEOF }

func (p *Parser) advance() Token {
	tok := p.peek()
	if !p.atEnd() {
		p.current++
	}
	return tok
}

func (p *Parser) check(t TokenType) bool { return p.peek().Type == t }

func (p *Parser) match(t TokenType) bool {
	if !p.check(t) {
		return false
	}
	p.advance()
	return true
}

func (p *Parser) consume(t TokenType, message string) Token {
	if p.check(t) {
		return p.advance()
	}
	p.fail(p.peek(), fmt.Sprintf("%s, found %s", message, describe(p.peek())))
	return Token{}
}

func (p *Parser) record(tok Token, message string) {
	p.errs = append(p.errs, &ParseError{Message: message, Location: locationForToken(tok)})
}

func (p *Parser) fail(tok Token, message string) {
	p.record(tok, message)
	panic(bailout{})
}

func describe(tok Token) string {
	switch tok.Type {
	case TokenEOF:
		return "end of input"
	case TokenIdent:
		return fmt.Sprintf("name %q", tok.Lexeme)
	case TokenVariable:
		return fmt.Sprintf("variable $%s", tok.Lexeme)
	case TokenString:
		return fmt.Sprintf("string %q", tok.Lexeme)
	case TokenInt, TokenFloat:
		return fmt.Sprintf("number %s", tok.Lexeme)
	default:
		return fmt.Sprintf("'%s'", tok.Lexeme)
	}
}
