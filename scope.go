package scoped

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"

	"github.com/google/uuid"
)

type heldResource struct {
	id       ID
	instance any
	def      compiledDefinition
}

// Scope is the lexical region owning acquired resources.
// It provides:
// 1) acquisition in declaration order
// 2) typed access to held resources
// 3) one reverse-order release that collects failures into an Outcome
//
// A Scope is owned by one goroutine and is not safe for concurrent use.
type Scope struct {
	id       string
	registry *Registry
	logger   *slog.Logger
	trace    *Trace

	held     []heldResource
	index    map[string]int
	released bool
}

// Option configures a Scope.
type Option func(*Scope)

// WithLogger sets the logger for lifecycle events. Defaults to discarding.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scope) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithTrace records acquire and release events into t.
func WithTrace(t *Trace) Option {
	return func(s *Scope) {
		s.trace = t
	}
}

// NewScope returns an empty scope backed by registry.
func NewScope(registry *Registry, opts ...Option) (*Scope, error) {
	if registry == nil {
		return nil, fmt.Errorf("new scope: registry is nil")
	}
	s := &Scope{
		id:       uuid.NewString(),
		registry: registry,
		logger:   slog.New(slog.DiscardHandler),
		index:    make(map[string]int),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(slog.String("scope_id", s.id))
	return s, nil
}

// ID returns the scope identifier used in log records.
func (s *Scope) ID() string {
	return s.id
}

// Acquire opens the resource declared by spec and takes ownership of it.
// A failed acquisition leaves nothing to release for spec.
func (s *Scope) Acquire(ctx context.Context, spec ResourceSpec) (any, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if s.released {
		return nil, ErrScopeReleased
	}

	id := spec.ID()
	if err := validateID(id); err != nil {
		return nil, fmt.Errorf("acquire resource %s/%s: %w", spec.Kind, spec.Name, err)
	}
	if spec.Driver == "" {
		return nil, fmt.Errorf("acquire resource %s: driver is empty", id.String())
	}
	key := id.String()
	if _, exists := s.index[key]; exists {
		return nil, DuplicateResourceError{ID: id}
	}

	def, ok := s.registry.get(spec.Kind, spec.Driver)
	if !ok {
		return nil, DefinitionNotFoundError{Kind: spec.Kind, Driver: spec.Driver}
	}

	opt, err := def.decode(spec.Options)
	if err != nil {
		return nil, fmt.Errorf("decode options for %s: %w", key, err)
	}

	var instance any
	err = Try(func() error {
		var acquireErr error
		instance, acquireErr = def.acquire(ctx, id, opt)
		return acquireErr
	})
	s.trace.Record(OpAcquire, id, err)
	if err != nil {
		s.logger.InfoContext(ctx, "resource acquisition failed",
			slog.String("resource", key),
			slog.String("driver", spec.Driver),
			slog.Any("error", err),
		)
		return nil, AcquireError{ID: id, Err: err}
	}

	s.index[key] = len(s.held)
	s.held = append(s.held, heldResource{id: id, instance: instance, def: def})
	s.logger.DebugContext(ctx, "resource acquired",
		slog.String("resource", key),
		slog.String("driver", spec.Driver),
		slog.Int("held", len(s.held)),
	)
	return instance, nil
}

// Held returns the IDs of held resources in acquisition order.
func (s *Scope) Held() []ID {
	ids := make([]ID, len(s.held))
	for i := range s.held {
		ids[i] = s.held[i].id
	}
	return ids
}

// Resolved returns a held instance.
func (s *Scope) Resolved(id ID) (any, bool) {
	i, ok := s.index[id.String()]
	if !ok {
		return nil, false
	}
	return s.held[i].instance, true
}

// Released reports whether Release has run.
func (s *Scope) Released() bool {
	return s.released
}

// UseAs is a typed wrapper around Resolved.
func UseAs[T any](s *Scope, id ID) (T, error) {
	var zero T
	v, ok := s.Resolved(id)
	if !ok {
		return zero, ResourceNotFoundError{ID: id}
	}
	typed, ok := v.(T)
	if !ok {
		return zero, TypeMismatchError{
			ID:       id,
			Expected: reflect.TypeOf((*T)(nil)).Elem().String(),
			Actual:   fmt.Sprintf("%T", v),
		}
	}
	return typed, nil
}

// Release releases every held resource in reverse acquisition order. Every
// release is attempted; failures are wrapped in ReleaseError and accumulate in
// attempt order.
//
// With a non-nil cause the result is cause with the release failures
// suppressed onto it. Without one, the first release failure is primary and
// the rest are suppressed onto it. Only the first call releases; later calls
// return ErrScopeReleased.
func (s *Scope) Release(ctx context.Context, cause error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if s.released {
		return ErrScopeReleased
	}
	s.released = true

	var failures []error
	for i := len(s.held) - 1; i >= 0; i-- {
		h := s.held[i]
		key := h.id.String()

		err := Try(func() error { return h.def.release(ctx, h.instance) })
		s.trace.Record(OpRelease, h.id, err)
		if err != nil {
			failures = append(failures, ReleaseError{ID: h.id, Err: err})
			s.logger.InfoContext(ctx, "resource release failed",
				slog.String("resource", key),
				slog.Bool("suppressed", cause != nil || len(failures) > 1),
				slog.Any("error", err),
			)
			continue
		}
		s.logger.DebugContext(ctx, "resource released", slog.String("resource", key))
	}
	s.held = nil
	s.index = nil

	if cause != nil {
		return AddSuppressed(cause, failures...)
	}
	if len(failures) == 0 {
		return nil
	}
	return AddSuppressed(failures[0], failures[1:]...)
}

// Run acquires specs in order, runs body and releases the scope.
//
// If an acquisition fails, the resources already acquired are released and
// the acquisition failure is primary. A panic in body is converted by Try and
// handled like any other body failure, so release failures are still
// suppressed onto it.
func Run(ctx context.Context, registry *Registry, specs []ResourceSpec, body func(ctx context.Context, s *Scope) error, opts ...Option) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if body == nil {
		return fmt.Errorf("run scope: body is nil")
	}
	s, err := NewScope(registry, opts...)
	if err != nil {
		return err
	}

	for _, spec := range specs {
		if _, err := s.Acquire(ctx, spec); err != nil {
			return s.Release(ctx, err)
		}
	}

	err = Try(func() error { return body(ctx, s) })
	if err != nil {
		s.logger.DebugContext(ctx, "scope body failed",
			slog.String("kind", kindAttr(err)),
			slog.Any("error", err),
		)
	}
	return s.Release(ctx, err)
}

func kindAttr(err error) string {
	if k, ok := KindOf(err); ok {
		return k.String()
	}
	return "unclassified"
}

func validateID(id ID) error {
	if id.Kind == "" {
		return fmt.Errorf("id.kind is empty")
	}
	if id.Name == "" {
		return fmt.Errorf("id.name is empty")
	}
	return nil
}
