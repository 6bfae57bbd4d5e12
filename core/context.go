package core

import "time"

// Context is a shared, hierarchical key/value workspace used to pass state
// between agents across a task's lifetime. Mutation happens only through the
// context store's merge-update operations.
type Context struct {
	ID              string         `json:"id"`
	Name            string         `json:"name"`
	Description     string         `json:"description"`
	Data            map[string]any `json:"data"`
	Participants    []string       `json:"participants"`
	ParentContextID string         `json:"parent_context_id,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// Clone returns a deep copy so callers cannot mutate store state through a
// returned context.
func (c *Context) Clone() *Context {
	cp := *c
	cp.Data = cloneMap(c.Data)
	cp.Participants = append([]string(nil), c.Participants...)
	return &cp
}

// HasParticipant reports whether the agent is a participant of the context.
func (c *Context) HasParticipant(agentID string) bool {
	for _, p := range c.Participants {
		if p == agentID {
			return true
		}
	}
	return false
}

// ContextCreateRequest is the request payload for creating a context.
type ContextCreateRequest struct {
	Name            string         `json:"name"`
	Description     string         `json:"description"`
	InitialData     map[string]any `json:"initial_data,omitempty"`
	ParentContextID string         `json:"parent_context_id,omitempty"`
}
