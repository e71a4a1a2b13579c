// Package roles maps event names onto the analysis roles used by the
// reporting tooling (success/fail, task boundaries, error and help events).
package roles

import (
	"fmt"
	"strings"

	"github.com/emirpasic/gods/trees/redblacktree"
)

type Role string

const (
	ActionSuccess   Role = "action_success"
	ActionFail      Role = "action_fail"
	TaskStart       Role = "task_start"
	TaskEnd         Role = "task_end"
	TaskRestart     Role = "task_restart"
	SessionStart    Role = "session_start"
	SessionEnd      Role = "session_end"
	NavigationError Role = "navigation_error"
	InterfaceError  Role = "interface_error"
	HelpEvent       Role = "help_event"
)

var known = map[Role]bool{
	ActionSuccess:   true,
	ActionFail:      true,
	TaskStart:       true,
	TaskEnd:         true,
	TaskRestart:     true,
	SessionStart:    true,
	SessionEnd:      true,
	NavigationError: true,
	InterfaceError:  true,
	HelpEvent:       true,
}

var defaults = map[string]Role{
	"target_hit":              ActionSuccess,
	"target_miss":             ActionFail,
	"goal_reached":            ActionSuccess,
	"fall_detected":           ActionFail,
	"object_placed_correctly": ActionSuccess,
	"object_dropped":          ActionFail,
	"task_start":              TaskStart,
	"task_end":                TaskEnd,
	"task_restart":            TaskRestart,
	"session_start":           SessionStart,
	"session_end":             SessionEnd,
	"collision":               NavigationError,
	"navigation_error":        NavigationError,
	"controller_error":        InterfaceError,
	"wrong_button":            InterfaceError,
	"help_requested":          HelpEvent,
	"guide_used":              HelpEvent,
	"hint_used":               HelpEvent,
}

// Known reports whether r is one of the roles the analysis understands.
func Known(r Role) bool { return known[r] }

// Entry is one event-name to role binding.
type Entry struct {
	Event string
	Role  Role
}

// Registry holds the resolved bindings, ordered by event name.
type Registry struct {
	tree *redblacktree.Tree
}

// Default returns the built-in bindings.
func Default() *Registry {
	r := &Registry{tree: redblacktree.NewWithStringComparator()}
	for event, role := range defaults {
		r.tree.Put(event, role)
	}
	return r
}

// New layers overrides (event name -> role) on top of the defaults. An
// empty role removes the binding.
func New(overrides map[string]string) (*Registry, error) {
	r := Default()
	for event, role := range overrides {
		event = strings.TrimSpace(event)
		if event == "" {
			return nil, fmt.Errorf("event role: empty event name")
		}
		if role == "" {
			r.tree.Remove(event)
			continue
		}
		if !Known(Role(role)) {
			return nil, fmt.Errorf("event role for %q: unknown role %q", event, role)
		}
		r.tree.Put(event, Role(role))
	}
	return r, nil
}

func (r *Registry) Lookup(event string) (Role, bool) {
	v, ok := r.tree.Get(event)
	if !ok {
		return "", false
	}
	return v.(Role), true
}

// Entries lists every binding in event-name order.
func (r *Registry) Entries() []Entry {
	out := make([]Entry, 0, r.tree.Size())
	it := r.tree.Iterator()
	for it.Next() {
		out = append(out, Entry{Event: it.Key().(string), Role: it.Value().(Role)})
	}
	return out
}

// Events returns the event names bound to role, in order.
func (r *Registry) Events(role Role) []string {
	var out []string
	for _, e := range r.Entries() {
		if e.Role == role {
			out = append(out, e.Event)
		}
	}
	return out
}
