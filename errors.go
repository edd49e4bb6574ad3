package scoped

import (
	"errors"
	"fmt"
)

// Kind classifies a failure.
type Kind string

const (
	// KindResource is the checked domain failure: callers are expected to
	// handle it explicitly.
	KindResource Kind = "resource"

	// Unchecked kinds. They originate from runtime panics that Try and Run
	// convert into errors.
	KindArithmetic      Kind = "arithmetic"
	KindNilDereference  Kind = "nil_dereference"
	KindIndexOutOfRange Kind = "index_out_of_range"
	KindRuntime         Kind = "runtime"
)

// Checked reports whether failures of this kind must be handled by the caller.
// It does not change how scopes release resources.
func (k Kind) Checked() bool {
	return k == KindResource
}

func (k Kind) String() string {
	return string(k)
}

// Error is a named failure with a message and an optional chained cause.
// It is never mutated after construction.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

// New returns a failure without a cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf is New with fmt formatting.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap returns a failure chained to the earlier failure that caused it.
func Wrap(kind Kind, cause error, message string) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Is matches another *Error with the same kind and message, so callers can
// compare against a template failure with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || e == nil || t == nil {
		return false
	}
	return e.Kind == t.Kind && e.Message == t.Message
}

// KindOf returns the kind of the outermost *Error in err's chain. Inside an
// *Outcome only the primary failure is classified.
func KindOf(err error) (Kind, bool) {
	e, ok := asPrimary[*Error](err)
	if !ok {
		return "", false
	}
	return e.Kind, true
}

// IsChecked reports whether err carries a checked failure kind on its
// primary path.
func IsChecked(err error) bool {
	k, ok := KindOf(err)
	return ok && k.Checked()
}

// Outcome is a primary failure plus the failures suppressed while cleaning up
// after it, in the order they occurred.
type Outcome struct {
	Primary    error
	Suppressed []error
}

func (o *Outcome) Error() string {
	if o == nil || o.Primary == nil {
		return ""
	}
	if len(o.Suppressed) == 0 {
		return o.Primary.Error()
	}
	return fmt.Sprintf("%s (%d suppressed)", o.Primary.Error(), len(o.Suppressed))
}

// Unwrap exposes the primary failure followed by every suppressed one.
func (o *Outcome) Unwrap() []error {
	if o == nil {
		return nil
	}
	errs := make([]error, 0, 1+len(o.Suppressed))
	if o.Primary != nil {
		errs = append(errs, o.Primary)
	}
	return append(errs, o.Suppressed...)
}

// AddSuppressed attaches errs to primary. Nil entries are dropped. The result
// is primary itself when nothing remains to attach. An *Outcome primary is
// copied, not modified.
func AddSuppressed(primary error, errs ...error) error {
	if primary == nil {
		return nil
	}
	extra := make([]error, 0, len(errs))
	for _, err := range errs {
		if err != nil {
			extra = append(extra, err)
		}
	}
	if len(extra) == 0 {
		return primary
	}
	if o, ok := primary.(*Outcome); ok {
		suppressed := make([]error, 0, len(o.Suppressed)+len(extra))
		suppressed = append(suppressed, o.Suppressed...)
		suppressed = append(suppressed, extra...)
		return &Outcome{Primary: o.Primary, Suppressed: suppressed}
	}
	return &Outcome{Primary: primary, Suppressed: extra}
}

// SuppressedOf returns the suppressed failures of the first *Outcome in err's
// chain.
func SuppressedOf(err error) []error {
	var o *Outcome
	if !errors.As(err, &o) {
		return nil
	}
	return append([]error(nil), o.Suppressed...)
}

// PrimaryOf returns the primary failure when err is an *Outcome, err otherwise.
func PrimaryOf(err error) error {
	var o *Outcome
	if errors.As(err, &o) && o.Primary != nil {
		return o.Primary
	}
	return err
}

// asPrimary is errors.As restricted to the primary path: it descends into
// an *Outcome through Primary only, never into the suppressed failures.
func asPrimary[E error](err error) (E, bool) {
	var zero E
	for err != nil {
		if e, ok := err.(E); ok {
			return e, true
		}
		switch x := err.(type) {
		case *Outcome:
			if x == nil {
				return zero, false
			}
			err = x.Primary
		case interface{ Unwrap() error }:
			err = x.Unwrap()
		case interface{ Unwrap() []error }:
			for _, inner := range x.Unwrap() {
				if e, ok := asPrimary[E](inner); ok {
					return e, true
				}
			}
			return zero, false
		default:
			return zero, false
		}
	}
	return zero, false
}

// ErrScopeReleased means the scope was already released.
var ErrScopeReleased = errors.New("scope already released")

// DefinitionNotFoundError means a (kind, driver) definition is not registered.
type DefinitionNotFoundError struct {
	Kind   string
	Driver string
}

func (e DefinitionNotFoundError) Error() string {
	return fmt.Sprintf("resource definition not found: kind=%q driver=%q", e.Kind, e.Driver)
}

// DuplicateResourceError means the same ID is acquired twice in one scope.
type DuplicateResourceError struct {
	ID ID
}

func (e DuplicateResourceError) Error() string {
	return fmt.Sprintf("duplicate resource in scope: %s", e.ID.String())
}

// ResourceNotFoundError means the scope holds no resource with this ID.
type ResourceNotFoundError struct {
	ID ID
}

func (e ResourceNotFoundError) Error() string {
	return fmt.Sprintf("resource not held by scope: %s", e.ID.String())
}

// TypeMismatchError means UseAs[T] failed to cast the held resource to T.
type TypeMismatchError struct {
	ID       ID
	Expected string
	Actual   string
}

func (e TypeMismatchError) Error() string {
	return fmt.Sprintf("resource type mismatch for %s: expected=%s actual=%s",
		e.ID.String(), e.Expected, e.Actual)
}

// AcquireError wraps a failure raised while acquiring a resource.
type AcquireError struct {
	ID  ID
	Err error
}

func (e AcquireError) Error() string {
	return fmt.Sprintf("acquire resource %s: %v", e.ID.String(), e.Err)
}

func (e AcquireError) Unwrap() error { return e.Err }

// ReleaseError wraps a failure raised while releasing a resource.
type ReleaseError struct {
	ID  ID
	Err error
}

func (e ReleaseError) Error() string {
	return fmt.Sprintf("release resource %s: %v", e.ID.String(), e.Err)
}

func (e ReleaseError) Unwrap() error { return e.Err }
