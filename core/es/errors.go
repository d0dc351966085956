package es

import (
	"errors"
	"fmt"
	"strings"
)

// Kind is the stable discriminant of an engine error.
type Kind int

const (
	KindUnknown Kind = iota
	KindMissingArgument
	KindInvalidArgument
	KindNotImplemented
	KindPrecondition
	KindConcurrency
)

func (k Kind) String() string {
	switch k {
	case KindMissingArgument:
		return "missing_argument"
	case KindInvalidArgument:
		return "invalid_argument"
	case KindNotImplemented:
		return "not_implemented"
	case KindPrecondition:
		return "precondition"
	case KindConcurrency:
		return "concurrency"
	default:
		return "unknown"
	}
}

// Error is returned for every failure the engine classifies. Callers match
// on Kind (or the Err* sentinels via errors.Is) and read Arg for the
// offending argument or method name.
type Error struct {
	Kind Kind
	// Arg names the missing/invalid argument or the unimplemented method.
	Arg string
	Msg string
	// Expected and Actual are set for concurrency errors when known.
	Expected Version
	Actual   Version
	Err      error
}

// Sentinels for errors.Is. They match any *Error of the same kind.
var (
	ErrMissingArgument = &Error{Kind: KindMissingArgument}
	ErrInvalidArgument = &Error{Kind: KindInvalidArgument}
	ErrNotImplemented  = &Error{Kind: KindNotImplemented}
	ErrPrecondition    = &Error{Kind: KindPrecondition}
	ErrConcurrency     = &Error{Kind: KindConcurrency}
)

func (e *Error) Error() string {
	var sb strings.Builder
	sb.WriteString(e.Kind.String())
	if e.Arg != "" {
		sb.WriteString(": ")
		sb.WriteString(e.Arg)
	}
	if e.Msg != "" {
		sb.WriteString(": ")
		sb.WriteString(e.Msg)
	}
	if e.Kind == KindConcurrency && (e.Expected != 0 || e.Actual != 0) {
		fmt.Fprintf(&sb, " (expected version %d, got %d)", e.Expected, e.Actual)
	}
	if e.Err != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Err.Error())
	}
	return sb.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches sentinels by kind. A target carrying an Arg must match it too.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind != e.Kind {
		return false
	}
	return t.Arg == "" || t.Arg == e.Arg
}

func MissingArgument(arg string) *Error { return &Error{Kind: KindMissingArgument, Arg: arg} }
func InvalidArgument(arg string) *Error { return &Error{Kind: KindInvalidArgument, Arg: arg} }
func NotImplemented(method string) *Error {
	return &Error{Kind: KindNotImplemented, Arg: method}
}

// Precondition reports a violated domain invariant.
func Precondition(format string, args ...any) *Error {
	return &Error{Kind: KindPrecondition, Msg: fmt.Sprintf(format, args...)}
}

// Concurrency reports a failed optimistic-concurrency check.
func Concurrency(expected, actual Version) *Error {
	return &Error{Kind: KindConcurrency, Expected: expected, Actual: actual}
}

// ConcurrencyCause wraps a backend error that signals a lost CAS.
func ConcurrencyCause(cause error) *Error {
	return &Error{Kind: KindConcurrency, Err: cause}
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

func IsConcurrency(err error) bool { return errors.Is(err, ErrConcurrency) }
