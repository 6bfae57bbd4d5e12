// Package bus implements inter-agent message delivery: direct and broadcast
// messages, typed event fan-out and a bounded recent-activity history.
package bus

import (
	"sync"
	"time"

	"github.com/hupe1980/agentcoop/core"
	"github.com/hupe1980/agentcoop/logging"
)

// DefaultMaxHistorySize bounds the FIFO history buffer when no cap is given.
const DefaultMaxHistorySize = 1000

// MessageBus handles all inter-agent communication.
//
// It supports:
//   - Direct messages (agent-to-agent)
//   - Broadcasts (agent-to-all)
//   - Topic-based subscriptions via string event names
//   - A bounded FIFO history for recent-activity queries
//
// The full message index is unbounded by identifier; the history buffer
// evicts oldest-first past the configured cap. Send never fails: a missing
// recipient or zero subscribers silently drops the notification while the
// message itself is still stored.
type MessageBus struct {
	mu             sync.RWMutex
	messages       map[string]core.Message
	order          []string
	history        []core.Message
	maxHistorySize int
	emitter        *core.Emitter
	logger         logging.Logger
}

// Option customizes a MessageBus.
type Option func(*MessageBus)

// WithMaxHistorySize overrides the bounded history cap. Non-positive values
// keep the default.
func WithMaxHistorySize(n int) Option {
	return func(b *MessageBus) {
		if n > 0 {
			b.maxHistorySize = n
		}
	}
}

// WithLogger sets the bus logger.
func WithLogger(logger logging.Logger) Option {
	return func(b *MessageBus) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// New constructs a MessageBus with the default history cap.
func New(opts ...Option) *MessageBus {
	b := &MessageBus{
		messages:       make(map[string]core.Message),
		maxHistorySize: DefaultMaxHistorySize,
		logger:         logging.NoOpLogger{},
	}
	for _, opt := range opts {
		opt(b)
	}
	b.emitter = core.NewEmitter(b.logger)
	return b
}

// Send builds and stores a message, appends it to the bounded history, then
// emits message_received followed by the type-scoped "message:<type>" event.
// An empty to means broadcast. The returned message is immutable.
func (b *MessageBus) Send(from string, msgType core.MessageType, payload core.Payload, to string) core.Message {
	msg := core.Message{
		ID:        core.NewID(),
		Type:      msgType,
		From:      from,
		To:        to,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	}

	b.mu.Lock()
	b.messages[msg.ID] = msg
	b.order = append(b.order, msg.ID)
	b.history = append(b.history, msg)
	if len(b.history) > b.maxHistorySize {
		b.history = b.history[1:]
	}
	b.mu.Unlock()

	b.logger.Debug("message sent", "message_id", msg.ID, "type", msgType, "from", from, "to", to)

	b.emitter.Emit(core.EventMessageReceived, msg)
	b.emitter.Emit(core.MessageEventName(msgType), msg)

	return msg
}

// SendDirect sends a direct message from one agent to another.
func (b *MessageBus) SendDirect(from, to, content string, data map[string]any) core.Message {
	return b.Send(from, core.MessageDirect, core.DirectPayload{Content: content, Data: data}, to)
}

// Broadcast sends a named event with data to all agents.
func (b *MessageBus) Broadcast(from, event string, data map[string]any) core.Message {
	return b.Send(from, core.MessageBroadcast, core.BroadcastPayload{Event: event, Data: data}, "")
}

// Subscribe registers a handler under an arbitrary string event name (the
// literal bus events message_received / "message:<type>" or caller-defined
// names) and returns an unsubscribe function. Handlers are invoked in
// registration order; a panicking handler is recovered at the dispatch
// boundary and never aborts delivery to the remaining handlers.
func (b *MessageBus) Subscribe(event string, h core.Handler) func() {
	return b.emitter.Subscribe(event, h)
}

// SubscribeAgent delivers messages addressed to the agent plus broadcasts.
// This is delivery-by-filtering over message_received, not a separate
// channel: broadcast delivery to N agents costs N filter evaluations per
// send. Returns an unsubscribe function.
func (b *MessageBus) SubscribeAgent(agentID string, h func(core.Message)) func() {
	return b.Subscribe(core.EventMessageReceived, func(ev core.Event) {
		msg, ok := ev.Payload.(core.Message)
		if !ok {
			return
		}
		if msg.To == "" || msg.To == agentID {
			h(msg)
		}
	})
}

// Get returns the message with the given id.
func (b *MessageBus) Get(messageID string) (core.Message, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	msg, ok := b.messages[messageID]
	return msg, ok
}

// GetAll returns every stored message in send order.
func (b *MessageBus) GetAll() []core.Message {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.allLocked()
}

// allLocked snapshots the index in send order; caller must hold the lock.
func (b *MessageBus) allLocked() []core.Message {
	msgs := make([]core.Message, 0, len(b.order))
	for _, id := range b.order {
		msgs = append(msgs, b.messages[id])
	}
	return msgs
}

// MessagesForAgent returns messages the agent sent or received, including
// broadcasts.
func (b *MessageBus) MessagesForAgent(agentID string) []core.Message {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var msgs []core.Message
	for _, m := range b.allLocked() {
		if m.From == agentID || m.To == agentID || (m.To == "" && m.Type == core.MessageBroadcast) {
			msgs = append(msgs, m)
		}
	}
	return msgs
}

// MessagesBetween returns the direct traffic between two agents in either
// direction.
func (b *MessageBus) MessagesBetween(agentA, agentB string) []core.Message {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var msgs []core.Message
	for _, m := range b.allLocked() {
		if (m.From == agentA && m.To == agentB) || (m.From == agentB && m.To == agentA) {
			msgs = append(msgs, m)
		}
	}
	return msgs
}

// History returns the most recent limit entries from the bounded history
// buffer in arrival order. A non-positive limit defaults to 100.
func (b *MessageBus) History(limit int) []core.Message {
	if limit <= 0 {
		limit = 100
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	start := 0
	if len(b.history) > limit {
		start = len(b.history) - limit
	}
	out := make([]core.Message, len(b.history)-start)
	copy(out, b.history[start:])
	return out
}

// ClearHistory wipes both the message index and the history buffer. This is
// a full reset, not a windowed trim.
func (b *MessageBus) ClearHistory() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.messages = make(map[string]core.Message)
	b.order = nil
	b.history = nil
}
