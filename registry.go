package scoped

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
)

type registryKey struct {
	kind   string
	driver string
}

type compiledDefinition struct {
	decode    func(raw json.RawMessage) (any, error)
	acquire   func(ctx context.Context, id ID, opt any) (any, error)
	releaseFn func(ctx context.Context, out any) error
}

// release runs the registered hook, falling back to io.Closer.
func (d compiledDefinition) release(ctx context.Context, out any) error {
	if d.releaseFn != nil {
		return d.releaseFn(ctx, out)
	}
	if closer, ok := out.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

// Registry stores all registered resource definitions by (kind, driver).
type Registry struct {
	mu   sync.RWMutex
	defs map[registryKey]compiledDefinition
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		defs: make(map[registryKey]compiledDefinition),
	}
}

// Register registers one resource definition with generics.
func Register[Opt any, Out any](r *Registry, kind string, driver string, def Definition[Opt, Out]) error {
	if r == nil {
		return fmt.Errorf("register resource definition: registry is nil")
	}
	if kind == "" {
		return fmt.Errorf("register resource definition: kind is empty")
	}
	if driver == "" {
		return fmt.Errorf("register resource definition: driver is empty")
	}
	if def.Acquire == nil {
		return fmt.Errorf("register resource definition: acquire func is nil for %s:%s", kind, driver)
	}

	decodeFn := def.Decode
	if decodeFn == nil {
		decodeFn = defaultDecode[Opt]
	}

	compiled := compiledDefinition{
		decode: func(raw json.RawMessage) (any, error) {
			opt, err := decodeFn(raw)
			if err != nil {
				return nil, err
			}
			return opt, nil
		},
		acquire: func(ctx context.Context, id ID, opt any) (any, error) {
			typed, ok := opt.(Opt)
			if !ok {
				return nil, fmt.Errorf("acquire option type mismatch: want=%T got=%T", *new(Opt), opt)
			}
			return def.Acquire(ctx, id, typed)
		},
	}
	if def.Release != nil {
		compiled.releaseFn = func(ctx context.Context, out any) error {
			typed, ok := out.(Out)
			if !ok {
				return fmt.Errorf("release output type mismatch: want=%T got=%T", *new(Out), out)
			}
			return def.Release(ctx, typed)
		}
	}

	k := registryKey{kind: kind, driver: driver}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.defs[k]; exists {
		return fmt.Errorf("register resource definition: duplicate definition for %s:%s", kind, driver)
	}
	r.defs[k] = compiled
	return nil
}

// MustRegister panics on registration error; intended for bootstrap code paths.
func MustRegister[Opt any, Out any](r *Registry, kind string, driver string, def Definition[Opt, Out]) {
	if err := Register(r, kind, driver, def); err != nil {
		panic(err)
	}
}

func (r *Registry) get(kind string, driver string) (compiledDefinition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.defs[registryKey{kind: kind, driver: driver}]
	return def, ok
}

func defaultDecode[Opt any](raw json.RawMessage) (Opt, error) {
	var opt Opt
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return opt, nil
	}
	if err := json.Unmarshal(raw, &opt); err != nil {
		return opt, err
	}
	return opt, nil
}
