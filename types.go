package scoped

import (
	"context"
	"encoding/json"
)

// ID is the unique identifier of a resource within a scope.
// Kind identifies the resource type (for example, handle or file).
// Name identifies one instance within the same kind.
type ID struct {
	Kind string `json:"kind" yaml:"kind"`
	Name string `json:"name" yaml:"name"`
}

func (id ID) String() string {
	return id.Kind + "/" + id.Name
}

// ResourceSpec declares one acquisition of a scope.
type ResourceSpec struct {
	Kind    string          `json:"kind" yaml:"kind"`
	Name    string          `json:"name" yaml:"name"`
	Driver  string          `json:"driver" yaml:"driver"`
	Options json.RawMessage `json:"options,omitempty" yaml:"options,omitempty"`
}

func (s ResourceSpec) ID() ID {
	return ID{Kind: s.Kind, Name: s.Name}
}

// Definition describes the lifecycle of one (kind, driver).
//
// Decode converts raw options into Opt. Defaults to JSON decoding.
// Acquire opens the resource and must be provided. It receives the ID so one
// definition can serve several named instances.
// Release is an optional cleanup hook. If omitted, io.Closer is used when possible.
type Definition[Opt any, Out any] struct {
	Decode  func(raw json.RawMessage) (Opt, error)
	Acquire func(ctx context.Context, id ID, opt Opt) (Out, error)
	Release func(ctx context.Context, out Out) error
}
