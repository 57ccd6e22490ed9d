package router

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/realtime/internal/infrastructure/logging"
	"github.com/GriffinCanCode/AgentOS/realtime/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/AgentOS/realtime/internal/protocol"
)

// Pseudo event types.
const (
	// EventMessage receives every frame whose type is not recognized,
	// including raw fallback frames.
	EventMessage = "message"
	// EventAll receives every frame that is not suppressed.
	EventAll = "*"
)

// Listener receives frames for one key.
type Listener func(protocol.Frame)

// StateListener receives connection state changes for one key.
type StateListener func(StateEvent)

// ListenerID identifies a registration for Off and OffState.
type ListenerID uint64

// StateEvent describes one connection state change.
type StateEvent struct {
	Key   protocol.ConnectionKey
	State string
	// Err is set on closes and on the terminal failure.
	Err error
	// Attempt is the retry number a scheduled reconnect will use.
	Attempt int
	// RetryIn is the delay until that reconnect.
	RetryIn time.Duration
	// Reconnected is set when the record had been open before.
	Reconnected bool
}

type entry struct {
	id ListenerID
	fn Listener
}

type stateEntry struct {
	id ListenerID
	fn StateListener
}

type keyListeners struct {
	byType map[string][]entry
	state  []stateEntry
}

// Router dispatches frames and state events.
type Router struct {
	logger  *zap.Logger
	metrics *monitoring.Metrics

	mu     sync.RWMutex
	nextID ListenerID
	keys   map[protocol.ConnectionKey]*keyListeners
}

// New creates a router. Both arguments may be nil.
func New(logger *zap.Logger, metrics *monitoring.Metrics) *Router {
	return &Router{
		logger:  logging.OrNop(logger).Named("router"),
		metrics: metrics,
		keys:    make(map[protocol.ConnectionKey]*keyListeners),
	}
}

func (r *Router) listenersLocked(key protocol.ConnectionKey) *keyListeners {
	kl, ok := r.keys[key]
	if !ok {
		kl = &keyListeners{byType: make(map[string][]entry)}
		r.keys[key] = kl
	}
	return kl
}

// On registers fn for frames of eventType on key.
func (r *Router) On(key protocol.ConnectionKey, eventType string, fn Listener) ListenerID {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	kl := r.listenersLocked(key)
	kl.byType[eventType] = append(kl.byType[eventType], entry{id: r.nextID, fn: fn})
	return r.nextID
}

// Off removes a registration made with On. It reports whether it existed.
func (r *Router) Off(key protocol.ConnectionKey, eventType string, id ListenerID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	kl, ok := r.keys[key]
	if !ok {
		return false
	}
	list := kl.byType[eventType]
	for i, e := range list {
		if e.id != id {
			continue
		}
		// Copy so in-flight dispatches keep their snapshot.
		next := make([]entry, 0, len(list)-1)
		next = append(next, list[:i]...)
		next = append(next, list[i+1:]...)
		if len(next) == 0 {
			delete(kl.byType, eventType)
		} else {
			kl.byType[eventType] = next
		}
		r.pruneLocked(key, kl)
		return true
	}
	return false
}

// OnState registers fn for state changes of key.
func (r *Router) OnState(key protocol.ConnectionKey, fn StateListener) ListenerID {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	kl := r.listenersLocked(key)
	kl.state = append(kl.state, stateEntry{id: r.nextID, fn: fn})
	return r.nextID
}

// OffState removes a registration made with OnState.
func (r *Router) OffState(key protocol.ConnectionKey, id ListenerID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	kl, ok := r.keys[key]
	if !ok {
		return false
	}
	for i, e := range kl.state {
		if e.id != id {
			continue
		}
		next := make([]stateEntry, 0, len(kl.state)-1)
		next = append(next, kl.state[:i]...)
		kl.state = append(next, kl.state[i+1:]...)
		r.pruneLocked(key, kl)
		return true
	}
	return false
}

func (r *Router) pruneLocked(key protocol.ConnectionKey, kl *keyListeners) {
	if len(kl.byType) == 0 && len(kl.state) == 0 {
		delete(r.keys, key)
	}
}

// Suppressed reports whether frames of type t never reach listeners.
func Suppressed(t string) bool {
	return t == protocol.TypePing || t == protocol.TypePong
}

// EventTypes returns the event types a frame of type t is delivered to,
// in delivery order, excluding EventAll.
func EventTypes(t string) []string {
	if Suppressed(t) {
		return nil
	}
	if protocol.IsKnownInbound(t) {
		return []string{t}
	}
	// Decode fallbacks only reach generic listeners.
	if t == "" || t == protocol.TypeRaw {
		return []string{EventMessage}
	}
	return []string{EventMessage, t}
}

// Dispatch delivers f to the listeners of key. It runs every listener
// synchronously on the calling goroutine, so frames dispatched one after
// another from a single goroutine are observed in that order.
func (r *Router) Dispatch(key protocol.ConnectionKey, f protocol.Frame) {
	types := EventTypes(f.Type)
	if types == nil {
		return
	}

	r.mu.RLock()
	kl, ok := r.keys[key]
	var calls []entry
	if ok {
		for _, t := range types {
			calls = append(calls, kl.byType[t]...)
		}
		calls = append(calls, kl.byType[EventAll]...)
	}
	r.mu.RUnlock()

	for _, e := range calls {
		r.invoke(key, f.Type, func() { e.fn(f) })
	}
}

// PublishState delivers ev to the state listeners of ev.Key.
func (r *Router) PublishState(ev StateEvent) {
	r.mu.RLock()
	var calls []stateEntry
	if kl, ok := r.keys[ev.Key]; ok {
		calls = append(calls, kl.state...)
	}
	r.mu.RUnlock()

	for _, e := range calls {
		r.invoke(ev.Key, "state", func() { e.fn(ev) })
	}
}

func (r *Router) invoke(key protocol.ConnectionKey, event string, call func()) {
	defer func() {
		if rec := recover(); rec != nil {
			r.metrics.RecordListenerPanic()
			r.logger.Error("listener panicked",
				zap.String("key", key.String()),
				zap.String("event", event),
				zap.String("panic", fmt.Sprint(rec)),
			)
		}
	}()
	call()
}

// Clear drops every listener of key.
func (r *Router) Clear(key protocol.ConnectionKey) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.keys, key)
}

// Reset drops every listener of every key.
func (r *Router) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.keys = make(map[protocol.ConnectionKey]*keyListeners)
}

// Len returns the number of registrations for key.
func (r *Router) Len(key protocol.ConnectionKey) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	kl, ok := r.keys[key]
	if !ok {
		return 0
	}
	n := len(kl.state)
	for _, list := range kl.byType {
		n += len(list)
	}
	return n
}
