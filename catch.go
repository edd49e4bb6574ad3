package scoped

import (
	"runtime"
	"strings"
)

// Try runs fn and converts a panic into an unchecked *Error, so a panic never
// crosses the caller's boundary. Runtime panics are classified by kind and
// kept as the cause.
func Try(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fromPanic(r)
		}
	}()
	return fn()
}

func fromPanic(r any) error {
	switch v := r.(type) {
	case runtime.Error:
		return Wrap(classifyRuntime(v), v, v.Error())
	case *Error:
		return v
	case error:
		return Wrap(KindRuntime, v, v.Error())
	default:
		return Newf(KindRuntime, "panic: %v", v)
	}
}

func classifyRuntime(err runtime.Error) Kind {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "divide by zero"):
		return KindArithmetic
	case strings.Contains(msg, "nil pointer dereference"):
		return KindNilDereference
	case strings.Contains(msg, "index out of range"), strings.Contains(msg, "slice bounds out of range"):
		return KindIndexOutOfRange
	default:
		return KindRuntime
	}
}

// Handler handles the failures it matches.
type Handler struct {
	match  func(err error) bool
	handle func(err error)
}

// On matches failures with an E on the primary path and passes that E to fn.
// Suppressed failures of an *Outcome are not matched; reach them with
// SuppressedOf.
func On[E error](fn func(E)) Handler {
	return Handler{
		match: func(err error) bool {
			_, ok := asPrimary[E](err)
			return ok
		},
		handle: func(err error) {
			target, _ := asPrimary[E](err)
			fn(target)
		},
	}
}

// OnKind matches failures whose primary *Error has the given kind.
func OnKind(kind Kind, fn func(*Error)) Handler {
	return Handler{
		match: func(err error) bool {
			k, ok := KindOf(err)
			return ok && k == kind
		},
		handle: func(err error) {
			e, _ := asPrimary[*Error](err)
			fn(e)
		},
	}
}

// OnAny matches every failure. Declare it last as the general fallback.
func OnAny(fn func(error)) Handler {
	return Handler{
		match:  func(error) bool { return true },
		handle: fn,
	}
}

// Catch passes err to the first handler, in declaration order, that matches
// it and returns nil. Handlers match the primary failure of an *Outcome, not
// its suppressed ones. An unmatched err is returned unchanged.
func Catch(err error, handlers ...Handler) error {
	if err == nil {
		return nil
	}
	for _, h := range handlers {
		if h.match == nil || !h.match(err) {
			continue
		}
		if h.handle != nil {
			h.handle(err)
		}
		return nil
	}
	return err
}
