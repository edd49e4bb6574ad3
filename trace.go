package scoped

import (
	"fmt"
	"strings"
)

// Op is a step in a resource lifecycle.
type Op string

const (
	OpAcquire Op = "acquire"
	OpUse     Op = "use"
	OpRelease Op = "release"
)

// Event is one recorded lifecycle step. Err is set when the step failed.
type Event struct {
	Seq int   `json:"seq"`
	Op  Op    `json:"op"`
	ID  ID    `json:"id"`
	Err error `json:"-"`
}

// Trace is an ordered log of lifecycle events. A nil *Trace records nothing.
type Trace struct {
	events []Event
}

// NewTrace returns an empty trace.
func NewTrace() *Trace {
	return &Trace{}
}

// Record appends one event.
func (t *Trace) Record(op Op, id ID, err error) {
	if t == nil {
		return
	}
	t.events = append(t.events, Event{Seq: len(t.events) + 1, Op: op, ID: id, Err: err})
}

// Events returns a snapshot of recorded events.
func (t *Trace) Events() []Event {
	if t == nil {
		return nil
	}
	events := make([]Event, len(t.events))
	copy(events, t.events)
	return events
}

// AcquireOrder returns the IDs of successful acquisitions in order.
func (t *Trace) AcquireOrder() []ID {
	return t.order(OpAcquire, false)
}

// ReleaseOrder returns the IDs of attempted releases in order, failed ones included.
func (t *Trace) ReleaseOrder() []ID {
	return t.order(OpRelease, true)
}

func (t *Trace) order(op Op, withFailed bool) []ID {
	if t == nil {
		return nil
	}
	var ids []ID
	for _, e := range t.events {
		if e.Op != op || (e.Err != nil && !withFailed) {
			continue
		}
		ids = append(ids, e.ID)
	}
	return ids
}

// Mermaid exports a Mermaid sequence diagram of the trace.
func (t *Trace) Mermaid() string {
	var b strings.Builder
	b.WriteString("sequenceDiagram\n")
	b.WriteString("    participant scope\n")

	seen := make(map[string]string)
	events := t.Events()
	for _, e := range events {
		key := e.ID.String()
		if _, ok := seen[key]; ok {
			continue
		}
		alias := fmt.Sprintf("r%d", len(seen))
		seen[key] = alias
		b.WriteString(fmt.Sprintf("    participant %s as %s\n", alias, escapeMermaid(key)))
	}
	for _, e := range events {
		alias := seen[e.ID.String()]
		if e.Err == nil {
			b.WriteString(fmt.Sprintf("    scope->>%s: %d. %s\n", alias, e.Seq, e.Op))
			continue
		}
		b.WriteString(fmt.Sprintf("    scope-x%s: %d. %s failed\n", alias, e.Seq, e.Op))
		b.WriteString(fmt.Sprintf("    Note right of %s: %s\n", alias, escapeMermaid(e.Err.Error())))
	}
	return b.String()
}

func escapeMermaid(s string) string {
	s = strings.ReplaceAll(s, "\"", "#quot;")
	return strings.ReplaceAll(s, ";", "#59;")
}
