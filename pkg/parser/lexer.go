package parser

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// TokenType classifies a lexeme.
type TokenType string

const (
	TokenIdent    TokenType = "IDENT"
	TokenVariable TokenType = "VARIABLE"
	TokenInt      TokenType = "INT"
	TokenFloat    TokenType = "FLOAT"
	TokenString   TokenType = "STRING"

	TokenUse      TokenType = "use"
	TokenSequence TokenType = "sequence"
	TokenParallel TokenType = "parallel"
	TokenRace     TokenType = "race"
	TokenGroup    TokenType = "group"
	TokenIf       TokenType = "if"
	TokenUnless   TokenType = "unless"
	TokenElse     TokenType = "else"
	TokenWhile    TokenType = "while"
	TokenUntil    TokenType = "until"
	TokenYield    TokenType = "yield"
	TokenReturn   TokenType = "return"
	TokenTrue     TokenType = "true"
	TokenFalse    TokenType = "false"
	TokenVoid     TokenType = "void"
	TokenAnd      TokenType = "and"
	TokenOr       TokenType = "or"
	TokenXor      TokenType = "xor"
	TokenNot      TokenType = "not"

	TokenLParen    TokenType = "("
	TokenRParen    TokenType = ")"
	TokenLBrace    TokenType = "{"
	TokenRBrace    TokenType = "}"
	TokenLBracket  TokenType = "["
	TokenRBracket  TokenType = "]"
	TokenComma     TokenType = ","
	TokenSemicolon TokenType = ";"
	TokenPipe      TokenType = "|"
	TokenPlus      TokenType = "+"
	TokenMinus     TokenType = "-"
	TokenStar      TokenType = "*"
	TokenSlash     TokenType = "/"
	TokenPercent   TokenType = "%"
	TokenCaret     TokenType = "^"
	TokenAssign    TokenType = "="
	TokenEqual     TokenType = "=="
	TokenNotEqual  TokenType = "!="
	TokenLess      TokenType = "<"
	TokenLessEq    TokenType = "<="
	TokenGreater   TokenType = ">"
	TokenGreaterEq TokenType = ">="
	TokenBang      TokenType = "!"

	TokenEOF TokenType = "EOF"
)

var keywords = map[string]TokenType{
	"use":      TokenUse,
	"sequence": TokenSequence,
	"parallel": TokenParallel,
	"race":     TokenRace,
	"group":    TokenGroup,
	"if":       TokenIf,
	"unless":   TokenUnless,
	"else":     TokenElse,
	"while":    TokenWhile,
	"until":    TokenUntil,
	"yield":    TokenYield,
	"return":   TokenReturn,
	"true":     TokenTrue,
	"false":    TokenFalse,
	"void":     TokenVoid,
	"and":      TokenAnd,
	"or":       TokenOr,
	"xor":      TokenXor,
	"not":      TokenNot,
}

// Token is one lexeme with its position. For strings Lexeme holds the
// decoded text; for variables it holds the name without '$'.
type Token struct {
	Type   TokenType
	Lexeme string
	Line   int
	Column int
}

func (t Token) String() string {
	return fmt.Sprintf("[%s] '%s'", t.Type, t.Lexeme)
}

// Lexer turns source text into tokens. Errors are collected rather than
// aborting so the parser can report all of them at once.
type Lexer struct {
	src    string
	start  int
	pos    int
	line   int
	col    int
	sline  int
	scol   int
	tokens []Token
	errs   []error
}

// NewLexer constructs a lexer over source.
func NewLexer(source string) *Lexer {
	return &Lexer{src: source, line: 1, col: 1}
}

// Tokens scans the whole input. The returned slice always ends with EOF.
func (l *Lexer) Tokens() ([]Token, []error) {
	for {
		l.skipSpaceAndComments()
		l.start, l.sline, l.scol = l.pos, l.line, l.col
		if l.atEnd() {
			break
		}
		l.scan()
	}
	l.tokens = append(l.tokens, Token{Type: TokenEOF, Line: l.line, Column: l.col})
	return l.tokens, l.errs
}

func (l *Lexer) atEnd() bool { return l.pos >= len(l.src) }

func (l *Lexer) peek() rune {
	if l.atEnd() {
		return 0
	}
	r, _ := utf8.DecodeRuneInString(l.src[l.pos:])
	return r
}

func (l *Lexer) peekNext() rune {
	if l.atEnd() {
		return 0
	}
	_, w := utf8.DecodeRuneInString(l.src[l.pos:])
	if l.pos+w >= len(l.src) {
		return 0
	}
	r, _ := utf8.DecodeRuneInString(l.src[l.pos+w:])
	return r
}

func (l *Lexer) advance() rune {
	r, w := utf8.DecodeRuneInString(l.src[l.pos:])
	l.pos += w
	if r == '\n' {
		l.line++
		l.col = 1
	} else {
		l.col++
	}
	return r
}

func (l *Lexer) match(want rune) bool {
	if l.peek() != want {
		return false
	}
	l.advance()
	return true
}

func (l *Lexer) skipSpaceAndComments() {
	for !l.atEnd() {
		r := l.peek()
		switch {
		case unicode.IsSpace(r):
			l.advance()
		case r == '#', r == '/' && l.peekNext() == '/':
			for !l.atEnd() && l.peek() != '\n' {
				l.advance()
			}
		default:
			return
		}
	}
}

func (l *Lexer) emit(t TokenType, lexeme string) {
	l.tokens = append(l.tokens, Token{Type: t, Lexeme: lexeme, Line: l.sline, Column: l.scol})
}

func (l *Lexer) errorf(format string, args ...any) {
	l.errs = append(l.errs, &ParseError{
		Message:  fmt.Sprintf(format, args...),
		Location: SourceLocation{Line: l.sline, Column: l.scol},
	})
}

func (l *Lexer) scan() {
	r := l.advance()
	switch r {
	case '(':
		l.emit(TokenLParen, "(")
	case ')':
		l.emit(TokenRParen, ")")
	case '{':
		l.emit(TokenLBrace, "{")
	case '}':
		l.emit(TokenRBrace, "}")
	case '[':
		l.emit(TokenLBracket, "[")
	case ']':
		l.emit(TokenRBracket, "]")
	case ',':
		l.emit(TokenComma, ",")
	case ';':
		l.emit(TokenSemicolon, ";")
	case '|':
		l.emit(TokenPipe, "|")
	case '+':
		l.emit(TokenPlus, "+")
	case '-':
		l.emit(TokenMinus, "-")
	case '*':
		l.emit(TokenStar, "*")
	case '/':
		l.emit(TokenSlash, "/")
	case '%':
		l.emit(TokenPercent, "%")
	case '^':
		l.emit(TokenCaret, "^")
	case '=':
		if l.match('=') {
			l.emit(TokenEqual, "==")
		} else {
			l.emit(TokenAssign, "=")
		}
	case '!':
		if l.match('=') {
			l.emit(TokenNotEqual, "!=")
		} else {
			l.emit(TokenBang, "!")
		}
	case '<':
		if l.match('=') {
			l.emit(TokenLessEq, "<=")
		} else {
			l.emit(TokenLess, "<")
		}
	case '>':
		if l.match('=') {
			l.emit(TokenGreaterEq, ">=")
		} else {
			l.emit(TokenGreater, ">")
		}
	case '"', '\'':
		l.scanString(r)
	case '$':
		if !isIdentStart(l.peek()) {
			l.errorf("expected variable name after '$'")
			return
		}
		for isIdentPart(l.peek()) {
			l.advance()
		}
		l.emit(TokenVariable, l.src[l.start+1:l.pos])
	default:
		switch {
		case isDigit(r):
			l.scanNumber()
		case isIdentStart(r):
			for isIdentPart(l.peek()) {
				l.advance()
			}
			text := l.src[l.start:l.pos]
			if kw, ok := keywords[text]; ok {
				l.emit(kw, text)
			} else {
				l.emit(TokenIdent, text)
			}
		default:
			l.errorf("unexpected character %q", r)
		}
	}
}

func (l *Lexer) scanNumber() {
	kind := TokenInt
	for isDigit(l.peek()) || l.peek() == '_' {
		l.advance()
	}
	if l.peek() == '.' && isDigit(l.peekNext()) {
		kind = TokenFloat
		l.advance()
		for isDigit(l.peek()) || l.peek() == '_' {
			l.advance()
		}
	}
	if p := l.peek(); p == 'e' || p == 'E' {
		save, saveLine, saveCol := l.pos, l.line, l.col
		l.advance()
		if s := l.peek(); s == '+' || s == '-' {
			l.advance()
		}
		if isDigit(l.peek()) {
			kind = TokenFloat
			for isDigit(l.peek()) {
				l.advance()
			}
		} else {
			l.pos, l.line, l.col = save, saveLine, saveCol
		}
	}
	l.emit(kind, strings.ReplaceAll(l.src[l.start:l.pos], "_", ""))
}

func (l *Lexer) scanString(quote rune) {
	var b strings.Builder
	for {
		if l.atEnd() || l.peek() == '\n' {
			l.errorf("unterminated string")
			return
		}
		r := l.advance()
		if r == quote {
			break
		}
		if r != '\\' {
			b.WriteRune(r)
			continue
		}
		if l.atEnd() {
			l.errorf("unterminated string")
			return
		}
		switch esc := l.advance(); esc {
		case 'n':
			b.WriteByte('\n')
		case 't':
			b.WriteByte('\t')
		case 'r':
			b.WriteByte('\r')
		case '\\', '\'', '"':
			b.WriteRune(esc)
		default:
			l.errorf("unknown escape sequence \\%c", esc)
		}
	}
	l.emit(TokenString, b.String())
}

func isDigit(r rune) bool { return r >= '0' && r <= '9' }

func isIdentStart(r rune) bool { return r == '_' || unicode.IsLetter(r) }

func isIdentPart(r rune) bool { return isIdentStart(r) || unicode.IsDigit(r) }
