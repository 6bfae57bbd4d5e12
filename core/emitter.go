package core

import (
	"sync"
	"time"

	"github.com/hupe1980/agentcoop/logging"
)

// Handler receives events from an Emitter. Handlers run synchronously on the
// emitting goroutine, in subscription order.
type Handler func(Event)

type subscription struct {
	id      uint64
	handler Handler
}

// Emitter is an explicit publish/subscribe table mapping event names to an
// ordered list of handlers. Every component embeds one for its domain events.
//
// Emit invokes all handlers registered for the event name before returning.
// A panicking handler is recovered and logged at the dispatch boundary; it
// never aborts delivery to the remaining handlers or the mutating call that
// triggered the emission.
type Emitter struct {
	mu     sync.RWMutex
	nextID uint64
	subs   map[string][]subscription
	logger logging.Logger
}

// NewEmitter constructs an empty emitter. A nil logger is replaced by the
// no-op logger.
func NewEmitter(logger logging.Logger) *Emitter {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	return &Emitter{subs: make(map[string][]subscription), logger: logger}
}

// Subscribe registers a handler under the given event name and returns an
// unsubscribe function. Multiple handlers per name are allowed and are
// invoked in registration order.
func (e *Emitter) Subscribe(event string, h Handler) func() {
	e.mu.Lock()
	e.nextID++
	id := e.nextID
	e.subs[event] = append(e.subs[event], subscription{id: id, handler: h})
	e.mu.Unlock()

	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		subs := e.subs[event]
		for i, s := range subs {
			if s.id == id {
				e.subs[event] = append(subs[:i:i], subs[i+1:]...)
				break
			}
		}
	}
}

// Emit delivers the payload to every handler currently subscribed under the
// event name. Zero subscribers is not an error; the emission is dropped.
func (e *Emitter) Emit(event string, payload any) {
	e.mu.RLock()
	subs := make([]subscription, len(e.subs[event]))
	copy(subs, e.subs[event])
	e.mu.RUnlock()

	ev := Event{Type: event, Timestamp: time.Now().UTC(), Payload: payload}
	for _, s := range subs {
		e.dispatch(event, s.handler, ev)
	}
}

func (e *Emitter) dispatch(event string, h Handler, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("event handler panicked", "event", event, "panic", r)
		}
	}()
	h(ev)
}
