// Package tracker is the capability registry: the scene runtime declares
// which tracker capabilities exist and the experiment config chooses which
// of them to instantiate.
package tracker

import (
	"fmt"

	"github.com/emirpasic/gods/maps/treemap"

	"vrflow/internal/telemetry"
)

// Emitter is the write side trackers get. *telemetry.SessionEmitter
// satisfies it.
type Emitter interface {
	Emit(eventType telemetry.EventType, name string, value any, ctx map[string]any) error
}

// Tracker is driven by the frame loop. Begin and End bracket one session;
// Sample is called once per frame while the session is open and unpaused.
type Tracker interface {
	Name() string
	Begin(tag telemetry.SessionTag)
	Sample(dt float64)
	End()
}

// Factory builds a tracker bound to an emitter.
type Factory func(em Emitter) Tracker

// Registry maps capability names to factories.
type Registry struct {
	factories *treemap.Map
}

func NewRegistry() *Registry {
	return &Registry{factories: treemap.NewWithStringComparator()}
}

// Register adds a capability. Names are unique.
func (r *Registry) Register(name string, f Factory) error {
	if name == "" || f == nil {
		return fmt.Errorf("register tracker: name and factory are required")
	}
	if _, dup := r.factories.Get(name); dup {
		return fmt.Errorf("tracker %q already registered", name)
	}
	r.factories.Put(name, f)
	return nil
}

func (r *Registry) Has(name string) bool {
	_, ok := r.factories.Get(name)
	return ok
}

// Names lists registered capabilities in order.
func (r *Registry) Names() []string {
	keys := r.factories.Keys()
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = k.(string)
	}
	return out
}

// Build instantiates the requested capabilities in name order, once each.
// Any unregistered name fails the whole build.
func (r *Registry) Build(names []string, em Emitter) ([]Tracker, error) {
	wanted := treemap.NewWithStringComparator()
	for _, name := range names {
		f, ok := r.factories.Get(name)
		if !ok {
			return nil, fmt.Errorf("no tracker registered for capability %q", name)
		}
		wanted.Put(name, f)
	}

	out := make([]Tracker, 0, wanted.Size())
	it := wanted.Iterator()
	for it.Next() {
		out = append(out, it.Value().(Factory)(em))
	}
	return out, nil
}
