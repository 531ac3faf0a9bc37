package reusablestore

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// Listener receives the current value of a key after each mutation or
// resolved read. nil signals absence (removal or observed expiry).
type Listener func(value *DataValue)

// registry maps backend keys to their registered listeners. Empty sets
// are pruned on unsubscribe so the map does not grow with churn.
type registry struct {
	mu   sync.RWMutex
	subs map[string]map[uuid.UUID]Listener
}

func newRegistry() *registry {
	return &registry{subs: make(map[string]map[uuid.UUID]Listener)}
}

// subscribe registers a listener and returns an idempotent unsubscribe
// function.
func (r *registry) subscribe(key string, fn Listener) func() {
	id := uuid.New()

	r.mu.Lock()
	set, ok := r.subs[key]
	if !ok {
		set = make(map[uuid.UUID]Listener)
		r.subs[key] = set
	}
	set[id] = fn
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			set, ok := r.subs[key]
			if !ok {
				return
			}
			delete(set, id)
			if len(set) == 0 {
				delete(r.subs, key)
			}
		})
	}
}

// notify invokes every listener registered for key with the given value.
// Listeners run outside the registry lock; a panicking listener is
// isolated so the remaining listeners still fire.
func (r *registry) notify(key string, value *DataValue) {
	r.mu.RLock()
	set, ok := r.subs[key]
	if !ok {
		r.mu.RUnlock()
		return
	}
	listeners := make([]Listener, 0, len(set))
	for _, fn := range set {
		listeners = append(listeners, fn)
	}
	r.mu.RUnlock()

	for _, fn := range listeners {
		invoke(fn, key, value)
	}
}

func invoke(fn Listener, key string, value *DataValue) {
	defer func() {
		if rec := recover(); rec != nil {
			slog.Warn("cache listener panicked", "key", key, "panic", rec)
		}
	}()
	fn(value)
}
