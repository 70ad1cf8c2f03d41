// Package notify turns host push notifications into cache invalidations and
// listener callbacks.
package notify

import (
	"sort"
	"sync"
)

// ListenerID identifies a registered listener for removal.
type ListenerID int64

// Listener is called with no payload; it re-queries what it needs.
type Listener func()

type entry struct {
	id ListenerID
	fn Listener
}

// Registry holds listeners for "a named context changed" and "the set of
// contexts changed".
type Registry struct {
	byContext map[string][]entry
	contexts  []entry
	owner     map[ListenerID]string // listener ID -> context name, "" for list listeners
	nextID    ListenerID
	mu        sync.RWMutex
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		byContext: make(map[string][]entry),
		owner:     make(map[ListenerID]string),
	}
}

// OnContextChange registers fn for changes to the named context.
func (r *Registry) OnContextChange(name string, fn Listener) ListenerID {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	id := r.nextID
	r.byContext[name] = append(r.byContext[name], entry{id, fn})
	r.owner[id] = name
	return id
}

// OnContextListChange registers fn for changes to the set of contexts.
func (r *Registry) OnContextListChange(fn Listener) ListenerID {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	id := r.nextID
	r.contexts = append(r.contexts, entry{id, fn})
	r.owner[id] = ""
	return id
}

// Remove unregisters a listener. It returns false if id is unknown.
func (r *Registry) Remove(id ListenerID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	name, ok := r.owner[id]
	if !ok {
		return false
	}
	delete(r.owner, id)
	if r.hasContextEntry(name, id) {
		r.byContext[name] = without(r.byContext[name], id)
		if len(r.byContext[name]) == 0 {
			delete(r.byContext, name)
		}
		return true
	}
	r.contexts = without(r.contexts, id)
	return true
}

func (r *Registry) hasContextEntry(name string, id ListenerID) bool {
	for _, e := range r.byContext[name] {
		if e.id == id {
			return true
		}
	}
	return false
}

func without(entries []entry, id ListenerID) []entry {
	result := make([]entry, 0, len(entries))
	for _, e := range entries {
		if e.id != id {
			result = append(result, e)
		}
	}
	return result
}

// ContextListeners returns a copy of the listeners for the named context in
// registration order.
func (r *Registry) ContextListeners(name string) []Listener {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return listeners(r.byContext[name])
}

// ContextListListeners returns a copy of the context-list listeners.
func (r *Registry) ContextListListeners() []Listener {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return listeners(r.contexts)
}

func listeners(entries []entry) []Listener {
	if len(entries) == 0 {
		return nil
	}
	result := make([]Listener, len(entries))
	for i, e := range entries {
		result[i] = e.fn
	}
	return result
}

// WatchedContexts returns the sorted names of contexts that have listeners.
func (r *Registry) WatchedContexts() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.byContext))
	for name := range r.byContext {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
