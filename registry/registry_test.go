package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/hupe1980/agentcoop/core"
)

func newTestRegistry() *AgentRegistry {
	return New(nil)
}

func TestRegisterDefaults(t *testing.T) {
	r := newTestRegistry()

	agent := r.Register(core.AgentRegistration{
		Name:         "worker",
		Capabilities: []core.Capability{"compute"},
	})

	assert.NotEmpty(t, agent.ID)
	assert.Equal(t, core.AgentIdle, agent.Status)
	assert.NotNil(t, agent.Metadata)
	assert.False(t, agent.RegisteredAt.IsZero())
	assert.Equal(t, agent.RegisteredAt, agent.LastSeenAt)
	assert.Equal(t, 1, r.Count())
}

func TestRegisterAllowsDuplicateNames(t *testing.T) {
	r := newTestRegistry()

	a := r.Register(core.AgentRegistration{Name: "worker"})
	b := r.Register(core.AgentRegistration{Name: "worker"})

	assert.NotEqual(t, a.ID, b.ID)
	assert.Equal(t, 2, r.Count())
}

func TestUnregister(t *testing.T) {
	r := newTestRegistry()
	agent := r.Register(core.AgentRegistration{Name: "worker"})

	var removed *core.Agent
	r.Subscribe(core.EventAgentUnregistered, func(ev core.Event) {
		removed, _ = ev.Payload.(*core.Agent)
	})

	assert.True(t, r.Unregister(agent.ID))
	assert.Nil(t, r.Get(agent.ID))
	assert.NotNil(t, removed)
	assert.Equal(t, agent.ID, removed.ID)

	assert.False(t, r.Unregister(agent.ID))
	assert.False(t, r.Unregister("missing"))
}

func TestFindByCapabilities(t *testing.T) {
	r := newTestRegistry()
	r.Register(core.AgentRegistration{Name: "researcher", Capabilities: []core.Capability{"research", "web"}})
	r.Register(core.AgentRegistration{Name: "writer", Capabilities: []core.Capability{"writing"}})
	r.Register(core.AgentRegistration{Name: "hybrid", Capabilities: []core.Capability{"research", "writing"}})

	matchAny := r.FindByCapabilities(core.CapabilityQuery{
		Capabilities: []core.Capability{"research", "writing"},
	})
	assert.Len(t, matchAny, 3)

	matchAll := r.FindByCapabilities(core.CapabilityQuery{
		Capabilities: []core.Capability{"research", "writing"},
		MatchAll:     true,
	})
	assert.Len(t, matchAll, 1)
	assert.Equal(t, "hybrid", matchAll[0].Name)

	// An empty match-any query matches every agent.
	all := r.FindByCapabilities(core.CapabilityQuery{})
	assert.Len(t, all, 3)

	none := r.FindByCapabilities(core.CapabilityQuery{
		Capabilities: []core.Capability{"review"},
	})
	assert.Empty(t, none)
}

func TestFindByName(t *testing.T) {
	r := newTestRegistry()
	r.Register(core.AgentRegistration{Name: "ResearchBot"})
	r.Register(core.AgentRegistration{Name: "WriterBot"})

	assert.Len(t, r.FindByName("bot"), 2)
	assert.Len(t, r.FindByName("RESEARCH"), 1)
	assert.Empty(t, r.FindByName("reviewer"))
}

func TestUpdateStatus(t *testing.T) {
	r := newTestRegistry()
	agent := r.Register(core.AgentRegistration{Name: "worker"})

	var change StatusChange
	r.Subscribe(core.EventAgentStatusChanged, func(ev core.Event) {
		change, _ = ev.Payload.(StatusChange)
	})

	assert.True(t, r.UpdateStatus(agent.ID, core.AgentBusy))
	got := r.Get(agent.ID)
	assert.Equal(t, core.AgentBusy, got.Status)
	assert.True(t, got.LastSeenAt.After(agent.LastSeenAt) || got.LastSeenAt.Equal(agent.LastSeenAt))

	assert.Equal(t, core.AgentIdle, change.OldStatus)
	assert.Equal(t, core.AgentBusy, change.Agent.Status)

	// Transitions are unconstrained.
	assert.True(t, r.UpdateStatus(agent.ID, core.AgentError))
	assert.True(t, r.UpdateStatus(agent.ID, core.AgentIdle))

	assert.False(t, r.UpdateStatus("missing", core.AgentBusy))
}

func TestUpdateMetadata(t *testing.T) {
	r := newTestRegistry()
	agent := r.Register(core.AgentRegistration{
		Name:     "worker",
		Metadata: map[string]any{"region": "eu", "version": 1},
	})

	assert.True(t, r.UpdateMetadata(agent.ID, map[string]any{"version": 2, "zone": "a"}))
	got := r.Get(agent.ID)
	assert.Equal(t, "eu", got.Metadata["region"])
	assert.Equal(t, 2, got.Metadata["version"])
	assert.Equal(t, "a", got.Metadata["zone"])

	assert.False(t, r.UpdateMetadata("missing", map[string]any{}))
}

func TestAllCapabilities(t *testing.T) {
	r := newTestRegistry()
	r.Register(core.AgentRegistration{Name: "a", Capabilities: []core.Capability{"x", "y"}})
	r.Register(core.AgentRegistration{Name: "b", Capabilities: []core.Capability{"y", "z"}})

	assert.ElementsMatch(t, []core.Capability{"x", "y", "z"}, r.AllCapabilities())
}

func TestGetReturnsIsolatedCopy(t *testing.T) {
	r := newTestRegistry()
	agent := r.Register(core.AgentRegistration{
		Name:     "worker",
		Metadata: map[string]any{"k": "v"},
	})

	got := r.Get(agent.ID)
	got.Name = "mutated"
	got.Metadata["k"] = "mutated"

	fresh := r.Get(agent.ID)
	assert.Equal(t, "worker", fresh.Name)
	assert.Equal(t, "v", fresh.Metadata["k"])
}
