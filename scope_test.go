package scoped

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorderOpt struct {
	FailAcquire bool `json:"fail_acquire"`
	FailRelease bool `json:"fail_release"`
}

type testRecorder struct {
	name        string
	order       *[]string
	failRelease bool
}

func (r *testRecorder) Close() error {
	*r.order = append(*r.order, r.name)
	if r.failRelease {
		return New(KindResource, "failed to close "+r.name)
	}
	return nil
}

func newRecorderRegistry(t *testing.T, order *[]string) *Registry {
	t.Helper()
	reg := NewRegistry()
	require.NoError(t, Register(reg, "rec", "mem", Definition[recorderOpt, *testRecorder]{
		Acquire: func(_ context.Context, id ID, opt recorderOpt) (*testRecorder, error) {
			if opt.FailAcquire {
				return nil, New(KindResource, "cannot open "+id.Name)
			}
			return &testRecorder{name: id.Name, order: order, failRelease: opt.FailRelease}, nil
		},
	}))
	return reg
}

func recSpec(t *testing.T, name string, opt recorderOpt) ResourceSpec {
	t.Helper()
	return ResourceSpec{Kind: "rec", Name: name, Driver: "mem", Options: mustRawJSON(t, opt)}
}

func recID(name string) ID {
	return ID{Kind: "rec", Name: name}
}

func TestRunReleasesInReverseOrder(t *testing.T) {
	var order []string
	reg := newRecorderRegistry(t, &order)
	trace := NewTrace()

	var held []ID
	err := Run(context.Background(), reg, []ResourceSpec{
		recSpec(t, "a", recorderOpt{}),
		recSpec(t, "b", recorderOpt{}),
		recSpec(t, "c", recorderOpt{}),
	}, func(_ context.Context, s *Scope) error {
		held = s.Held()
		return nil
	}, WithTrace(trace))

	require.NoError(t, err)
	assert.Equal(t, []ID{recID("a"), recID("b"), recID("c")}, held)
	assert.Equal(t, []string{"c", "b", "a"}, order)
	assert.Equal(t, []ID{recID("a"), recID("b"), recID("c")}, trace.AcquireOrder())
	assert.Equal(t, []ID{recID("c"), recID("b"), recID("a")}, trace.ReleaseOrder())
}

func TestRunBodyFailureSuppressesReleaseFailures(t *testing.T) {
	var order []string
	reg := newRecorderRegistry(t, &order)
	bodyErr := New(KindResource, "body failed")

	err := Run(context.Background(), reg, []ResourceSpec{
		recSpec(t, "a", recorderOpt{FailRelease: true}),
		recSpec(t, "b", recorderOpt{}),
		recSpec(t, "c", recorderOpt{FailRelease: true}),
	}, func(context.Context, *Scope) error {
		return bodyErr
	})

	require.Error(t, err)
	assert.Equal(t, []string{"c", "b", "a"}, order)
	assert.Same(t, bodyErr, PrimaryOf(err))
	assert.True(t, errors.Is(err, bodyErr))

	suppressed := SuppressedOf(err)
	require.Len(t, suppressed, 2)
	var first, second ReleaseError
	require.True(t, errors.As(suppressed[0], &first))
	require.True(t, errors.As(suppressed[1], &second))
	assert.Equal(t, recID("c"), first.ID)
	assert.Equal(t, recID("a"), second.ID)
	assert.Equal(t, "failed to close c", first.Err.Error())
	assert.Equal(t, "body failed (2 suppressed)", err.Error())
}

func TestRunReleaseFailuresWithoutBodyFailure(t *testing.T) {
	var order []string
	reg := newRecorderRegistry(t, &order)

	err := Run(context.Background(), reg, []ResourceSpec{
		recSpec(t, "a", recorderOpt{FailRelease: true}),
		recSpec(t, "b", recorderOpt{FailRelease: true}),
		recSpec(t, "c", recorderOpt{}),
	}, func(context.Context, *Scope) error {
		return nil
	})

	require.Error(t, err)
	assert.Equal(t, []string{"c", "b", "a"}, order)

	var primary ReleaseError
	require.True(t, errors.As(PrimaryOf(err), &primary))
	assert.Equal(t, recID("b"), primary.ID)

	suppressed := SuppressedOf(err)
	require.Len(t, suppressed, 1)
	var next ReleaseError
	require.True(t, errors.As(suppressed[0], &next))
	assert.Equal(t, recID("a"), next.ID)
}

func TestRunSingleReleaseFailureIsNotAnOutcome(t *testing.T) {
	var order []string
	reg := newRecorderRegistry(t, &order)

	err := Run(context.Background(), reg, []ResourceSpec{
		recSpec(t, "a", recorderOpt{}),
		recSpec(t, "b", recorderOpt{FailRelease: true}),
	}, func(context.Context, *Scope) error {
		return nil
	})

	require.Error(t, err)
	var releaseErr ReleaseError
	require.True(t, errors.As(err, &releaseErr))
	assert.Equal(t, recID("b"), releaseErr.ID)
	var outcome *Outcome
	assert.False(t, errors.As(err, &outcome))
	assert.Nil(t, SuppressedOf(err))
	assert.Equal(t, []string{"b", "a"}, order)
}

func TestRunAcquireFailureReleasesOnlyAcquired(t *testing.T) {
	var order []string
	reg := newRecorderRegistry(t, &order)
	called := false

	err := Run(context.Background(), reg, []ResourceSpec{
		recSpec(t, "a", recorderOpt{FailRelease: true}),
		recSpec(t, "b", recorderOpt{}),
		recSpec(t, "c", recorderOpt{FailAcquire: true}),
		recSpec(t, "d", recorderOpt{}),
	}, func(context.Context, *Scope) error {
		called = true
		return nil
	})

	require.Error(t, err)
	assert.False(t, called, "body must not run when acquisition fails")
	assert.Equal(t, []string{"b", "a"}, order)

	var acquireErr AcquireError
	require.True(t, errors.As(PrimaryOf(err), &acquireErr))
	assert.Equal(t, recID("c"), acquireErr.ID)
	assert.True(t, errors.Is(err, New(KindResource, "cannot open c")))

	suppressed := SuppressedOf(err)
	require.Len(t, suppressed, 1)
	var releaseErr ReleaseError
	require.True(t, errors.As(suppressed[0], &releaseErr))
	assert.Equal(t, recID("a"), releaseErr.ID)
}

func TestRunBodyPanicStillReleases(t *testing.T) {
	var order []string
	reg := newRecorderRegistry(t, &order)

	err := Run(context.Background(), reg, []ResourceSpec{
		recSpec(t, "a", recorderOpt{}),
		recSpec(t, "b", recorderOpt{FailRelease: true}),
	}, func(context.Context, *Scope) error {
		values := make([]int, 2)
		idx := 5
		values[idx] = 1
		return nil
	})

	require.Error(t, err)
	assert.Equal(t, []string{"b", "a"}, order)
	kind, ok := KindOf(PrimaryOf(err))
	require.True(t, ok)
	assert.Equal(t, KindIndexOutOfRange, kind)
	assert.False(t, IsChecked(PrimaryOf(err)))
	assert.Len(t, SuppressedOf(err), 1)
}

func TestRunNilBody(t *testing.T) {
	err := Run(context.Background(), NewRegistry(), nil, nil)
	require.Error(t, err)
}

func TestScopeReleaseOnlyOnce(t *testing.T) {
	var order []string
	reg := newRecorderRegistry(t, &order)
	s, err := NewScope(reg)
	require.NoError(t, err)

	_, err = s.Acquire(context.Background(), recSpec(t, "a", recorderOpt{}))
	require.NoError(t, err)

	require.NoError(t, s.Release(context.Background(), nil))
	assert.True(t, s.Released())
	assert.ErrorIs(t, s.Release(context.Background(), nil), ErrScopeReleased)
	assert.Equal(t, []string{"a"}, order)

	_, err = s.Acquire(context.Background(), recSpec(t, "b", recorderOpt{}))
	assert.ErrorIs(t, err, ErrScopeReleased)
	assert.Empty(t, s.Held())
}

func TestScopeReleaseWithCauseAndNoFailures(t *testing.T) {
	var order []string
	reg := newRecorderRegistry(t, &order)
	s, err := NewScope(reg)
	require.NoError(t, err)
	_, err = s.Acquire(context.Background(), recSpec(t, "a", recorderOpt{}))
	require.NoError(t, err)

	cause := errors.New("cause")
	assert.Same(t, cause, s.Release(context.Background(), cause))
}

func TestScopeAcquireValidation(t *testing.T) {
	var order []string
	reg := newRecorderRegistry(t, &order)
	s, err := NewScope(reg)
	require.NoError(t, err)
	ctx := context.Background()

	_, err = s.Acquire(ctx, recSpec(t, "a", recorderOpt{}))
	require.NoError(t, err)

	_, err = s.Acquire(ctx, recSpec(t, "a", recorderOpt{}))
	var dupErr DuplicateResourceError
	assert.True(t, errors.As(err, &dupErr))

	_, err = s.Acquire(ctx, ResourceSpec{Kind: "rec", Name: "b", Driver: "missing"})
	var defErr DefinitionNotFoundError
	assert.True(t, errors.As(err, &defErr))

	_, err = s.Acquire(ctx, ResourceSpec{Kind: "rec", Driver: "mem"})
	assert.Error(t, err)

	_, err = s.Acquire(ctx, ResourceSpec{Kind: "rec", Name: "c"})
	assert.Error(t, err)

	_, err = s.Acquire(ctx, ResourceSpec{Kind: "rec", Name: "d", Driver: "mem", Options: json.RawMessage(`{`)})
	assert.Error(t, err)

	assert.Equal(t, []ID{recID("a")}, s.Held())
}

func TestUseAs(t *testing.T) {
	var order []string
	reg := newRecorderRegistry(t, &order)
	s, err := NewScope(reg)
	require.NoError(t, err)
	_, err = s.Acquire(context.Background(), recSpec(t, "a", recorderOpt{}))
	require.NoError(t, err)

	rec, err := UseAs[*testRecorder](s, recID("a"))
	require.NoError(t, err)
	assert.Equal(t, "a", rec.name)

	_, err = UseAs[string](s, recID("a"))
	var typeErr TypeMismatchError
	assert.True(t, errors.As(err, &typeErr))

	_, err = UseAs[*testRecorder](s, recID("zzz"))
	var notFound ResourceNotFoundError
	assert.True(t, errors.As(err, &notFound))
}

func TestReleaseHookAndPanics(t *testing.T) {
	type opt struct{}
	var released []string

	reg := NewRegistry()
	require.NoError(t, Register(reg, "hook", "mem", Definition[opt, string]{
		Acquire: func(_ context.Context, id ID, _ opt) (string, error) {
			return id.Name, nil
		},
		Release: func(_ context.Context, name string) error {
			released = append(released, name)
			if name == "boom" {
				var m map[string]int
				m["x"] = 1
			}
			return nil
		},
	}))
	require.NoError(t, Register(reg, "hook", "panicky", Definition[opt, string]{
		Acquire: func(context.Context, ID, opt) (string, error) {
			panic("acquire exploded")
		},
	}))

	err := Run(context.Background(), reg, []ResourceSpec{
		{Kind: "hook", Name: "boom", Driver: "mem"},
		{Kind: "hook", Name: "quiet", Driver: "mem"},
	}, func(context.Context, *Scope) error { return nil })

	require.Error(t, err)
	assert.Equal(t, []string{"quiet", "boom"}, released)
	var releaseErr ReleaseError
	require.True(t, errors.As(err, &releaseErr))
	assert.Equal(t, ID{Kind: "hook", Name: "boom"}, releaseErr.ID)
	kind, ok := KindOf(releaseErr.Err)
	require.True(t, ok)
	assert.Equal(t, KindRuntime, kind)

	err = Run(context.Background(), reg, []ResourceSpec{
		{Kind: "hook", Name: "p", Driver: "panicky"},
	}, func(context.Context, *Scope) error { return nil })
	var acquireErr AcquireError
	require.True(t, errors.As(err, &acquireErr))
	assert.Equal(t, "panic: acquire exploded", acquireErr.Err.Error())
}

func TestRegisterValidation(t *testing.T) {
	type opt struct{}
	acquire := func(context.Context, ID, opt) (struct{}, error) { return struct{}{}, nil }

	assert.Error(t, Register(nil, "k", "d", Definition[opt, struct{}]{Acquire: acquire}))

	reg := NewRegistry()
	assert.Error(t, Register(reg, "", "d", Definition[opt, struct{}]{Acquire: acquire}))
	assert.Error(t, Register(reg, "k", "", Definition[opt, struct{}]{Acquire: acquire}))
	assert.Error(t, Register(reg, "k", "d", Definition[opt, struct{}]{}))
	require.NoError(t, Register(reg, "k", "d", Definition[opt, struct{}]{Acquire: acquire}))
	assert.Error(t, Register(reg, "k", "d", Definition[opt, struct{}]{Acquire: acquire}))
	assert.Panics(t, func() {
		MustRegister(reg, "k", "d", Definition[opt, struct{}]{Acquire: acquire})
	})
}

func TestNewScopeNilRegistry(t *testing.T) {
	_, err := NewScope(nil)
	assert.Error(t, err)
}

func mustRawJSON(t *testing.T, v any) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err, fmt.Sprintf("marshal %T", v))
	return data
}
