package parser

import (
	"errors"
	"fmt"

	"ai/interpreter-go/pkg/ast"
)

// SourceLocation captures a source position for parser diagnostics.
type SourceLocation struct {
	Line   int
	Column int
}

func (l SourceLocation) String() string {
	return fmt.Sprintf("%d:%d", l.Line, l.Column)
}

// ParseError includes a message plus a best-effort source location.
type ParseError struct {
	Message  string
	Location SourceLocation
}

func (e *ParseError) Error() string {
	if e.Location.Line == 0 {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Location, e.Message)
}

// Errors flattens an error returned by Parse into its individual diagnostics.
func Errors(err error) []*ParseError {
	if err == nil {
		return nil
	}
	var out []*ParseError
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		for _, e := range joined.Unwrap() {
			out = append(out, Errors(e)...)
		}
		return out
	}
	var pe *ParseError
	if errors.As(err, &pe) {
		out = append(out, pe)
	}
	return out
}

func locationForToken(tok Token) SourceLocation {
	return SourceLocation{Line: tok.Line, Column: tok.Column}
}

func spanForToken(tok Token) ast.Span {
	return ast.Span{Line: tok.Line, Column: tok.Column}
}
