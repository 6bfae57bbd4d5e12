// Package contextstore implements hierarchical shared workspaces: mutable
// key/value documents agents use to pass state between task steps, maintain
// state across handoffs and build up collective knowledge.
package contextstore

import (
	"strings"
	"sync"
	"time"

	"github.com/hupe1980/agentcoop/core"
	"github.com/hupe1980/agentcoop/logging"
)

// Update is the payload of the context_updated event.
type Update struct {
	Context   *core.Context  `json:"context"`
	Updates   map[string]any `json:"updates"`
	UpdatedBy string         `json:"updated_by"`
}

// ParticipantChange is the payload of the participant add/remove events.
type ParticipantChange struct {
	Context *core.Context `json:"context"`
	AgentID string        `json:"agent_id"`
}

// Store manages shared contexts. All state is owned exclusively by the store
// and guarded by a single mutex; events are delivered after the mutation
// completes, so subscribers may call back into the store.
type Store struct {
	mu       sync.RWMutex
	contexts map[string]*core.Context
	emitter  *core.Emitter
	logger   logging.Logger
}

// New constructs an empty context store. A nil logger is replaced by the
// no-op logger.
func New(logger logging.Logger) *Store {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	return &Store{
		contexts: make(map[string]*core.Context),
		emitter:  core.NewEmitter(logger),
		logger:   logger,
	}
}

// Create builds a new context with the creator as sole participant. The
// parent context id, when set, is not verified to exist; a dangling parent
// reference is permitted. Emits context_created.
func (s *Store) Create(req core.ContextCreateRequest, createdBy string) *core.Context {
	now := time.Now().UTC()
	c := &core.Context{
		ID:              core.NewID(),
		Name:            req.Name,
		Description:     req.Description,
		Data:            req.InitialData,
		Participants:    []string{createdBy},
		ParentContextID: req.ParentContextID,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if c.Data == nil {
		c.Data = map[string]any{}
	}

	s.mu.Lock()
	s.contexts[c.ID] = c
	s.mu.Unlock()

	s.logger.Info("context created", "context_id", c.ID, "name", c.Name, "created_by", createdBy)
	s.emitter.Emit(core.EventContextCreated, c.Clone())
	return c.Clone()
}

// CreateChild creates a context with the parent forced to parentID. Parent
// existence is not checked.
func (s *Store) CreateChild(parentID string, req core.ContextCreateRequest, createdBy string) *core.Context {
	req.ParentContextID = parentID
	return s.Create(req, createdBy)
}

// Get returns the context with the given id, or nil if unknown.
func (s *Store) Get(contextID string) *core.Context {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.contexts[contextID]
	if !ok {
		return nil
	}
	return c.Clone()
}

// GetAll returns a snapshot of every context.
func (s *Store) GetAll() []*core.Context {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*core.Context, 0, len(s.contexts))
	for _, c := range s.contexts {
		out = append(out, c.Clone())
	}
	return out
}

// Children returns the direct child contexts of the given parent.
func (s *Store) Children(parentID string) []*core.Context {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*core.Context
	for _, c := range s.contexts {
		if c.ParentContextID == parentID {
			out = append(out, c.Clone())
		}
	}
	return out
}

// Update deep-merges the patch into the context document and adds the
// updater to the participants if absent. Object-valued keys merge
// recursively; arrays, scalars and nulls replace the existing value
// wholesale, even if the existing value was itself an object. Returns nil if
// the id is unknown. Emits context_updated with the patch and updater.
func (s *Store) Update(contextID string, updates map[string]any, updatedBy string) *core.Context {
	s.mu.Lock()
	c, ok := s.contexts[contextID]
	if !ok {
		s.mu.Unlock()
		return nil
	}
	if !c.HasParticipant(updatedBy) {
		c.Participants = append(c.Participants, updatedBy)
	}
	c.Data = deepMerge(c.Data, updates)
	c.UpdatedAt = time.Now().UTC()
	snapshot := c.Clone()
	s.mu.Unlock()

	s.logger.Debug("context updated", "context_id", contextID, "updated_by", updatedBy)
	s.emitter.Emit(core.EventContextUpdated, Update{Context: snapshot, Updates: updates, UpdatedBy: updatedBy})
	return snapshot.Clone()
}

// SetValue updates a single key in the context document.
func (s *Store) SetValue(contextID, key string, value any, updatedBy string) *core.Context {
	return s.Update(contextID, map[string]any{key: value}, updatedBy)
}

// Value reads a single key from the context document, falling back to
// defaultValue when the context is unknown or the key is absent.
func (s *Store) Value(contextID, key string, defaultValue any) any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.contexts[contextID]
	if !ok {
		return defaultValue
	}
	if v, ok := c.Data[key]; ok && v != nil {
		return v
	}
	return defaultValue
}

// Delete removes the context and every descendant, depth-first with children
// deleted before their parent; nothing is orphaned. Returns false if the id
// is unknown. Emits context_deleted once per deleted node.
func (s *Store) Delete(contextID string) bool {
	s.mu.Lock()
	if _, ok := s.contexts[contextID]; !ok {
		s.mu.Unlock()
		return false
	}
	deleted := s.deleteLocked(contextID)
	s.mu.Unlock()

	for _, c := range deleted {
		s.logger.Info("context deleted", "context_id", c.ID)
		s.emitter.Emit(core.EventContextDeleted, c)
	}
	return true
}

// deleteLocked removes the subtree rooted at contextID and returns the
// removed nodes in deletion order (children before self). Caller must hold
// the write lock.
func (s *Store) deleteLocked(contextID string) []*core.Context {
	c, ok := s.contexts[contextID]
	if !ok {
		return nil
	}
	var deleted []*core.Context
	var childIDs []string
	for id, candidate := range s.contexts {
		if candidate.ParentContextID == contextID {
			childIDs = append(childIDs, id)
		}
	}
	for _, id := range childIDs {
		deleted = append(deleted, s.deleteLocked(id)...)
	}
	delete(s.contexts, contextID)
	return append(deleted, c.Clone())
}

// AddParticipant adds the agent to the participant list if absent. Adding an
// existing participant is a no-op that still returns true; only an unknown
// context id yields false. Emits context_participant_added on actual change.
func (s *Store) AddParticipant(contextID, agentID string) bool {
	s.mu.Lock()
	c, ok := s.contexts[contextID]
	if !ok {
		s.mu.Unlock()
		return false
	}
	if c.HasParticipant(agentID) {
		s.mu.Unlock()
		return true
	}
	c.Participants = append(c.Participants, agentID)
	c.UpdatedAt = time.Now().UTC()
	snapshot := c.Clone()
	s.mu.Unlock()

	s.emitter.Emit(core.EventContextParticipantAdded, ParticipantChange{Context: snapshot, AgentID: agentID})
	return true
}

// RemoveParticipant removes the agent from the participant list. Removing a
// non-member is a no-op that still returns true; only an unknown context id
// yields false. Emits context_participant_removed on actual change.
func (s *Store) RemoveParticipant(contextID, agentID string) bool {
	s.mu.Lock()
	c, ok := s.contexts[contextID]
	if !ok {
		s.mu.Unlock()
		return false
	}
	idx := -1
	for i, p := range c.Participants {
		if p == agentID {
			idx = i
			break
		}
	}
	if idx < 0 {
		s.mu.Unlock()
		return true
	}
	c.Participants = append(c.Participants[:idx], c.Participants[idx+1:]...)
	c.UpdatedAt = time.Now().UTC()
	snapshot := c.Clone()
	s.mu.Unlock()

	s.emitter.Emit(core.EventContextParticipantRemoved, ParticipantChange{Context: snapshot, AgentID: agentID})
	return true
}

// ContextsForAgent returns every context the agent participates in.
func (s *Store) ContextsForAgent(agentID string) []*core.Context {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*core.Context
	for _, c := range s.contexts {
		if c.HasParticipant(agentID) {
			out = append(out, c.Clone())
		}
	}
	return out
}

// Search returns contexts whose name or description contains the query,
// case-insensitively.
func (s *Store) Search(query string) []*core.Context {
	lower := strings.ToLower(query)
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*core.Context
	for _, c := range s.contexts {
		if strings.Contains(strings.ToLower(c.Name), lower) || strings.Contains(strings.ToLower(c.Description), lower) {
			out = append(out, c.Clone())
		}
	}
	return out
}

// Subscribe registers a handler for store events and returns an unsubscribe
// function.
func (s *Store) Subscribe(event string, h core.Handler) func() {
	return s.emitter.Subscribe(event, h)
}

// deepMerge returns a new document with source merged into target. Only
// values that are plain objects on both sides merge recursively; any other
// source value replaces the target value wholesale.
func deepMerge(target, source map[string]any) map[string]any {
	result := make(map[string]any, len(target)+len(source))
	for k, v := range target {
		result[k] = v
	}
	for k, sv := range source {
		srcMap, srcIsMap := sv.(map[string]any)
		dstMap, dstIsMap := result[k].(map[string]any)
		if srcIsMap && dstIsMap {
			result[k] = deepMerge(dstMap, srcMap)
			continue
		}
		result[k] = sv
	}
	return result
}
