package vm

import (
	"fmt"

	"github.com/pkg/errors"
)

func errShortRead(field string) error {
	return errors.Errorf("short read: %s", field)
}

func errBadTag(tag byte) error {
	return errors.Errorf("unknown constant tag: %d", tag)
}

func errBadObjTag(tag byte) error {
	return errors.Errorf("unrecognized object type: %d", tag)
}

// ErrorKind distinguishes the fatal-error categories of §7: a loader error
// is a malformed bytecode image, a runtime error is anything the
// interpreter loop hits while executing trusted-but-wrong bytecode.
type ErrorKind int

const (
	KindRuntime ErrorKind = iota
	KindLoader
	KindNative
)

// RuntimeError is the single fatal-error type returned by the core package.
// It never panics or calls os.Exit itself — that's the host wrapper's job —
// it just carries enough context for one to do so.
type RuntimeError struct {
	Kind    ErrorKind
	Message string
	Line    int
}

func (e *RuntimeError) Error() string {
	if e == nil {
		return "runtime error: unknown"
	}
	if e.Line > 0 {
		return fmt.Sprintf("runtime error at line %d: %s", e.Line, e.Message)
	}
	return fmt.Sprintf("runtime error: %s", e.Message)
}

func NewRuntimeError(message string, line int) *RuntimeError {
	return &RuntimeError{Kind: KindRuntime, Message: message, Line: line}
}

func newNativeError(message string) *RuntimeError {
	return &RuntimeError{Kind: KindNative, Message: message}
}

// wrapLoaderErr wraps a lower-level decode failure (a short read, a bad
// tag) with github.com/pkg/errors to prefix it with context, and folds the
// wrapped message into the same RuntimeError shape the interpreter uses.
// Only the message text is kept; the stack trace is not carried along.
func wrapLoaderErr(err error, context string) *RuntimeError {
	wrapped := errors.Wrap(err, context)
	return &RuntimeError{Kind: KindLoader, Message: wrapped.Error()}
}
