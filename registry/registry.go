// Package registry implements the agent directory: who exists and what can
// they do. It is the single source of truth for agent identity, capability
// tags and status; other components reference agents only by identifier.
package registry

import (
	"strings"
	"sync"
	"time"

	"github.com/hupe1980/agentcoop/core"
	"github.com/hupe1980/agentcoop/logging"
)

// StatusChange is the payload of the agent_status_changed event, carrying the
// agent after the change plus the previous status.
type StatusChange struct {
	Agent     *core.Agent      `json:"agent"`
	OldStatus core.AgentStatus `json:"old_status"`
}

// AgentRegistry manages agent registration, discovery and status tracking.
//
// All state is owned exclusively by the registry and guarded by a single
// mutex. Status transitions are caller-driven and unconstrained (any status
// may follow any other); the registry enforces no state machine of its own.
// Events are delivered after the mutation completes, so subscribers may call
// back into the registry.
type AgentRegistry struct {
	mu      sync.RWMutex
	agents  map[string]*core.Agent
	emitter *core.Emitter
	logger  logging.Logger
}

// New constructs an empty registry. A nil logger is replaced by the no-op
// logger.
func New(logger logging.Logger) *AgentRegistry {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	return &AgentRegistry{
		agents:  make(map[string]*core.Agent),
		emitter: core.NewEmitter(logger),
		logger:  logger,
	}
}

// Register creates a new agent from the registration request. The agent
// starts idle with a fresh identifier and registration timestamps. Register
// never fails. Emits agent_registered.
func (r *AgentRegistry) Register(reg core.AgentRegistration) *core.Agent {
	now := time.Now().UTC()
	agent := &core.Agent{
		ID:           core.NewID(),
		Name:         reg.Name,
		Description:  reg.Description,
		Capabilities: append([]core.Capability(nil), reg.Capabilities...),
		Status:       core.AgentIdle,
		Metadata:     reg.Metadata,
		RegisteredAt: now,
		LastSeenAt:   now,
	}
	if agent.Metadata == nil {
		agent.Metadata = map[string]any{}
	}

	r.mu.Lock()
	r.agents[agent.ID] = agent
	r.mu.Unlock()

	r.logger.Info("agent registered", "agent_id", agent.ID, "name", agent.Name, "capabilities", agent.Capabilities)
	r.emitter.Emit(core.EventAgentRegistered, agent.Clone())
	return agent.Clone()
}

// Unregister removes the agent. Returns false if the id is unknown. Emits
// agent_unregistered carrying the removed agent.
func (r *AgentRegistry) Unregister(agentID string) bool {
	r.mu.Lock()
	agent, ok := r.agents[agentID]
	if ok {
		delete(r.agents, agentID)
	}
	r.mu.Unlock()
	if !ok {
		return false
	}

	r.logger.Info("agent unregistered", "agent_id", agentID)
	r.emitter.Emit(core.EventAgentUnregistered, agent.Clone())
	return true
}

// Get returns the agent with the given id, or nil if unknown.
func (r *AgentRegistry) Get(agentID string) *core.Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	agent, ok := r.agents[agentID]
	if !ok {
		return nil
	}
	return agent.Clone()
}

// GetAll returns a snapshot of every registered agent.
func (r *AgentRegistry) GetAll() []*core.Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	agents := make([]*core.Agent, 0, len(r.agents))
	for _, a := range r.agents {
		agents = append(agents, a.Clone())
	}
	return agents
}

// FindByCapabilities returns agents matching the capability query. With
// MatchAll the agent's capability set must be a superset of the query;
// otherwise one overlapping capability suffices. An empty query capability
// list matches every agent under match-any semantics.
func (r *AgentRegistry) FindByCapabilities(query core.CapabilityQuery) []*core.Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var matches []*core.Agent
	for _, agent := range r.agents {
		if matchesQuery(agent, query) {
			matches = append(matches, agent.Clone())
		}
	}
	return matches
}

func matchesQuery(agent *core.Agent, query core.CapabilityQuery) bool {
	if query.MatchAll {
		for _, cap := range query.Capabilities {
			if !agent.HasCapability(cap) {
				return false
			}
		}
		return true
	}
	if len(query.Capabilities) == 0 {
		// An empty match-any query matches everything.
		return true
	}
	for _, cap := range query.Capabilities {
		if agent.HasCapability(cap) {
			return true
		}
	}
	return false
}

// FindByName returns agents whose name contains the given string,
// case-insensitively.
func (r *AgentRegistry) FindByName(name string) []*core.Agent {
	lower := strings.ToLower(name)
	r.mu.RLock()
	defer r.mu.RUnlock()
	var matches []*core.Agent
	for _, agent := range r.agents {
		if strings.Contains(strings.ToLower(agent.Name), lower) {
			matches = append(matches, agent.Clone())
		}
	}
	return matches
}

// UpdateStatus overwrites the agent's status and refreshes its last-seen
// timestamp. Returns false if the id is unknown. Emits agent_status_changed
// carrying the previous status.
func (r *AgentRegistry) UpdateStatus(agentID string, status core.AgentStatus) bool {
	r.mu.Lock()
	agent, ok := r.agents[agentID]
	if !ok {
		r.mu.Unlock()
		return false
	}
	oldStatus := agent.Status
	agent.Status = status
	agent.LastSeenAt = time.Now().UTC()
	snapshot := agent.Clone()
	r.mu.Unlock()

	r.logger.Debug("agent status changed", "agent_id", agentID, "from", oldStatus, "to", status)
	r.emitter.Emit(core.EventAgentStatusChanged, StatusChange{Agent: snapshot, OldStatus: oldStatus})
	return true
}

// UpdateMetadata merges the given key/value pairs into the agent's metadata
// and refreshes its last-seen timestamp. Returns false if the id is unknown.
func (r *AgentRegistry) UpdateMetadata(agentID string, metadata map[string]any) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	agent, ok := r.agents[agentID]
	if !ok {
		return false
	}
	for k, v := range metadata {
		agent.Metadata[k] = v
	}
	agent.LastSeenAt = time.Now().UTC()
	return true
}

// AllCapabilities returns the set of unique capability tags across all
// registered agents.
func (r *AgentRegistry) AllCapabilities() []core.Capability {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[core.Capability]struct{})
	var caps []core.Capability
	for _, agent := range r.agents {
		for _, cap := range agent.Capabilities {
			if _, ok := seen[cap]; !ok {
				seen[cap] = struct{}{}
				caps = append(caps, cap)
			}
		}
	}
	return caps
}

// Has reports whether an agent with the given id is registered.
func (r *AgentRegistry) Has(agentID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.agents[agentID]
	return ok
}

// Count returns the number of registered agents.
func (r *AgentRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.agents)
}

// Subscribe registers a handler for registry events and returns an
// unsubscribe function.
func (r *AgentRegistry) Subscribe(event string, h core.Handler) func() {
	return r.emitter.Subscribe(event, h)
}
