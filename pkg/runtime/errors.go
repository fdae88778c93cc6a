package runtime

import (
	"errors"
	"fmt"
)

// ErrorKind classifies every failure the runtime reports.
type ErrorKind int

const (
	LoadError ErrorKind = iota
	ArithmeticError
	IndexError
	TypeError
	EnvironmentError
	CancelledError
	InvalidState
	LimitError
)

func (k ErrorKind) String() string {
	switch k {
	case LoadError:
		return "LoadError"
	case ArithmeticError:
		return "ArithmeticError"
	case IndexError:
		return "IndexError"
	case TypeError:
		return "TypeError"
	case EnvironmentError:
		return "EnvironmentError"
	case CancelledError:
		return "CancelledError"
	case InvalidState:
		return "InvalidState"
	case LimitError:
		return "LimitError"
	default:
		return fmt.Sprintf("ErrorKind(%d)", int(k))
	}
}

// Error is a classified runtime failure. IP is the instruction pointer at the
// time of the fault, or -1 when the error is not tied to an instruction.
type Error struct {
	Kind    ErrorKind
	Message string
	IP      int
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	} else if e.Err != nil {
		msg = msg + ": " + e.Err.Error()
	}
	if e.IP >= 0 {
		return fmt.Sprintf("%s at ip %d: %s", e.Kind, e.IP, msg)
	}
	return fmt.Sprintf("%s: %s", e.Kind, msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches kind sentinels, so callers can write errors.Is(err, ErrArithmetic).
func (e *Error) Is(target error) bool {
	if e == nil {
		return false
	}
	if s, ok := target.(kindSentinel); ok {
		return e.Kind == ErrorKind(s)
	}
	return false
}

type kindSentinel ErrorKind

func (s kindSentinel) Error() string { return ErrorKind(s).String() }

var (
	ErrLoad         error = kindSentinel(LoadError)
	ErrArithmetic   error = kindSentinel(ArithmeticError)
	ErrIndex        error = kindSentinel(IndexError)
	ErrType         error = kindSentinel(TypeError)
	ErrEnvironment  error = kindSentinel(EnvironmentError)
	ErrCancelled    error = kindSentinel(CancelledError)
	ErrInvalidState error = kindSentinel(InvalidState)
	ErrLimit        error = kindSentinel(LimitError)
)

// NewError builds an error with no instruction pointer attached.
func NewError(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), IP: -1}
}

// WrapError classifies err, keeping it reachable through Unwrap.
func WrapError(kind ErrorKind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), IP: -1, Err: err}
}

// At returns a copy of e pinned to ip.
func (e *Error) At(ip int) *Error {
	if e == nil {
		return nil
	}
	out := *e
	out.IP = ip
	return &out
}

// AsError extracts a classified error, classifying unknown errors as kind.
func AsError(err error, kind ErrorKind) *Error {
	if err == nil {
		return nil
	}
	var re *Error
	if errors.As(err, &re) {
		return re
	}
	return &Error{Kind: kind, IP: -1, Err: err}
}
