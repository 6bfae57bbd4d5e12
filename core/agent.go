package core

import "time"

// AgentStatus describes the availability of a registered agent.
type AgentStatus string

const (
	// AgentIdle indicates the agent is available for work.
	AgentIdle AgentStatus = "idle"
	// AgentBusy indicates the agent is working on an assigned task.
	AgentBusy AgentStatus = "busy"
	// AgentOffline indicates the agent has disconnected.
	AgentOffline AgentStatus = "offline"
	// AgentError indicates the agent reported a fault.
	AgentError AgentStatus = "error"
)

// Capability is a free-text tag describing something an agent can do. Tasks
// are routed to agents by querying these tags.
type Capability = string

// Agent is an external actor (human or automated) registered with the
// coordination core and addressable by identifier. The registry is the sole
// owner; other components reference agents only by ID.
type Agent struct {
	ID           string         `json:"id"`
	Name         string         `json:"name"`
	Description  string         `json:"description"`
	Capabilities []Capability   `json:"capabilities"`
	Status       AgentStatus    `json:"status"`
	Metadata     map[string]any `json:"metadata"`
	RegisteredAt time.Time      `json:"registered_at"`
	LastSeenAt   time.Time      `json:"last_seen_at"`
}

// Clone returns a deep copy so callers cannot mutate registry state through
// a returned agent.
func (a *Agent) Clone() *Agent {
	cp := *a
	cp.Capabilities = append([]Capability(nil), a.Capabilities...)
	cp.Metadata = cloneMap(a.Metadata)
	return &cp
}

// HasCapability reports whether the agent carries the given capability tag.
func (a *Agent) HasCapability(cap Capability) bool {
	for _, c := range a.Capabilities {
		if c == cap {
			return true
		}
	}
	return false
}

// AgentRegistration is the request payload for registering a new agent.
type AgentRegistration struct {
	Name         string         `json:"name"`
	Description  string         `json:"description"`
	Capabilities []Capability   `json:"capabilities"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// CapabilityQuery selects agents by capability tags. With MatchAll set the
// agent must carry every queried capability; otherwise one overlapping tag
// suffices. An empty capability list matches every agent under match-any
// semantics.
type CapabilityQuery struct {
	Capabilities []Capability `json:"capabilities"`
	MatchAll     bool         `json:"match_all,omitempty"`
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	cp := make(map[string]any, len(m))
	for k, v := range m {
		if nested, ok := v.(map[string]any); ok {
			cp[k] = cloneMap(nested)
			continue
		}
		cp[k] = v
	}
	return cp
}
