package storage

import (
	"context"
	"sync"

	"github.com/hupe1980/agentcoop/core"
)

// MemoryStore is a volatile Storage implementation keeping all records in
// process-local maps guarded by an RWMutex. It is best suited for tests or
// ephemeral demo servers. Records are cloned on save and retrieval to avoid
// accidental external mutation of internal state.
//
// Messages are bounded: past the configured cap the oldest entries are
// dropped.
type MemoryStore struct {
	mu          sync.RWMutex
	agents      map[string]*core.Agent
	tasks       map[string]*core.Task
	contexts    map[string]*core.Context
	messages    []core.Message
	maxMessages int
	connected   bool
}

// Compile-time interface compliance.
var _ core.Storage = (*MemoryStore)(nil)

// NewMemoryStore returns an empty in-memory store. A non-positive cap
// defaults to 1000 retained messages.
func NewMemoryStore(maxMessages int) *MemoryStore {
	if maxMessages <= 0 {
		maxMessages = 1000
	}
	return &MemoryStore{
		agents:      make(map[string]*core.Agent),
		tasks:       make(map[string]*core.Task),
		contexts:    make(map[string]*core.Context),
		maxMessages: maxMessages,
	}
}

// Connect marks the store usable.
func (s *MemoryStore) Connect(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = true
	return nil
}

// Close disconnects and drops all state.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = false
	s.agents = make(map[string]*core.Agent)
	s.tasks = make(map[string]*core.Task)
	s.contexts = make(map[string]*core.Context)
	s.messages = nil
	return nil
}

// Connected reports whether Connect has been called.
func (s *MemoryStore) Connected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connected
}

// SaveAgent stores a clone of the agent.
func (s *MemoryStore) SaveAgent(_ context.Context, agent *core.Agent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.agents[agent.ID] = agent.Clone()
	return nil
}

// GetAgent returns a clone of the stored agent or ErrNotFound.
func (s *MemoryStore) GetAgent(_ context.Context, id string) (*core.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	agent, ok := s.agents[id]
	if !ok {
		return nil, ErrNotFound
	}
	return agent.Clone(), nil
}

// ListAgents returns clones of every stored agent.
func (s *MemoryStore) ListAgents(context.Context) ([]*core.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*core.Agent, 0, len(s.agents))
	for _, a := range s.agents {
		out = append(out, a.Clone())
	}
	return out, nil
}

// DeleteAgent removes the agent if present.
func (s *MemoryStore) DeleteAgent(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.agents, id)
	return nil
}

// SaveTask stores a clone of the task.
func (s *MemoryStore) SaveTask(_ context.Context, task *core.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[task.ID] = task.Clone()
	return nil
}

// GetTask returns a clone of the stored task or ErrNotFound.
func (s *MemoryStore) GetTask(_ context.Context, id string) (*core.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	task, ok := s.tasks[id]
	if !ok {
		return nil, ErrNotFound
	}
	return task.Clone(), nil
}

// ListTasks returns clones of every stored task.
func (s *MemoryStore) ListTasks(context.Context) ([]*core.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*core.Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, t.Clone())
	}
	return out, nil
}

// DeleteTask removes the task if present.
func (s *MemoryStore) DeleteTask(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tasks, id)
	return nil
}

// SaveContext stores a clone of the context.
func (s *MemoryStore) SaveContext(_ context.Context, c *core.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contexts[c.ID] = c.Clone()
	return nil
}

// GetContext returns a clone of the stored context or ErrNotFound.
func (s *MemoryStore) GetContext(_ context.Context, id string) (*core.Context, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.contexts[id]
	if !ok {
		return nil, ErrNotFound
	}
	return c.Clone(), nil
}

// ListContexts returns clones of every stored context.
func (s *MemoryStore) ListContexts(context.Context) ([]*core.Context, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*core.Context, 0, len(s.contexts))
	for _, c := range s.contexts {
		out = append(out, c.Clone())
	}
	return out, nil
}

// DeleteContext removes the context if present.
func (s *MemoryStore) DeleteContext(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.contexts, id)
	return nil
}

// SaveMessage appends the message, trimming to the retention cap.
func (s *MemoryStore) SaveMessage(_ context.Context, msg core.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, msg)
	if len(s.messages) > s.maxMessages {
		s.messages = s.messages[len(s.messages)-s.maxMessages:]
	}
	return nil
}

// ListMessages returns stored messages in arrival order, optionally bounded
// by timestamp and count.
func (s *MemoryStore) ListMessages(_ context.Context, opts core.MessageQuery) ([]core.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msgs := s.messages
	if !opts.Before.IsZero() {
		filtered := make([]core.Message, 0, len(msgs))
		for _, m := range msgs {
			if m.Timestamp.Before(opts.Before) {
				filtered = append(filtered, m)
			}
		}
		msgs = filtered
	}
	if opts.Limit > 0 && len(msgs) > opts.Limit {
		msgs = msgs[len(msgs)-opts.Limit:]
	}
	out := make([]core.Message, len(msgs))
	copy(out, msgs)
	return out, nil
}
