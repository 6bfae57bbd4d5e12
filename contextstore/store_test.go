package contextstore

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/hupe1980/agentcoop/core"
)

func TestCreateDefaults(t *testing.T) {
	s := New(nil)

	c := s.Create(core.ContextCreateRequest{Name: "workspace"}, "creator")

	assert.NotEmpty(t, c.ID)
	assert.NotNil(t, c.Data)
	assert.Equal(t, []string{"creator"}, c.Participants)
	assert.Equal(t, c.CreatedAt, c.UpdatedAt)
}

func TestUpdateMergesAndAddsParticipant(t *testing.T) {
	s := New(nil)
	c := s.Create(core.ContextCreateRequest{
		Name:        "workspace",
		InitialData: map[string]any{"stage": "research", "count": 1},
	}, "creator")

	updated := s.Update(c.ID, map[string]any{"stage": "drafting"}, "editor")

	assert.Equal(t, "drafting", updated.Data["stage"])
	assert.Equal(t, 1, updated.Data["count"])
	assert.ElementsMatch(t, []string{"creator", "editor"}, updated.Participants)

	assert.Nil(t, s.Update("missing", map[string]any{}, "editor"))
}

func TestDeepMergeNestedObjects(t *testing.T) {
	s := New(nil)
	c := s.Create(core.ContextCreateRequest{
		Name: "workspace",
		InitialData: map[string]any{
			"settings": map[string]any{"theme": "dark", "lang": "en"},
		},
	}, "creator")

	updated := s.Update(c.ID, map[string]any{
		"settings": map[string]any{"lang": "de"},
	}, "creator")

	settings := updated.Data["settings"].(map[string]any)
	assert.Equal(t, "dark", settings["theme"])
	assert.Equal(t, "de", settings["lang"])
}

func TestDeepMergeReplacesArraysAndScalars(t *testing.T) {
	s := New(nil)
	c := s.Create(core.ContextCreateRequest{
		Name: "workspace",
		InitialData: map[string]any{
			"tags":   []any{"a", "b"},
			"nested": map[string]any{"keep": true},
		},
	}, "creator")

	updated := s.Update(c.ID, map[string]any{
		"tags":   []any{"c"},
		"nested": "flattened",
	}, "creator")

	assert.Equal(t, []any{"c"}, updated.Data["tags"])
	// A non-object source value replaces an object target wholesale.
	assert.Equal(t, "flattened", updated.Data["nested"])

	restored := s.Update(c.ID, map[string]any{"nested": nil}, "creator")
	assert.Nil(t, restored.Data["nested"])
}

func TestSetValueAndValue(t *testing.T) {
	s := New(nil)
	c := s.Create(core.ContextCreateRequest{Name: "workspace"}, "creator")

	s.SetValue(c.ID, "stage", "review", "creator")

	assert.Equal(t, "review", s.Value(c.ID, "stage", "fallback"))
	assert.Equal(t, "fallback", s.Value(c.ID, "missing", "fallback"))
	assert.Equal(t, "fallback", s.Value("missing", "stage", "fallback"))
}

func TestChildrenAndHierarchy(t *testing.T) {
	s := New(nil)
	parent := s.Create(core.ContextCreateRequest{Name: "parent"}, "creator")
	child := s.CreateChild(parent.ID, core.ContextCreateRequest{Name: "child"}, "creator")

	assert.Equal(t, parent.ID, child.ParentContextID)
	children := s.Children(parent.ID)
	assert.Len(t, children, 1)
	assert.Equal(t, child.ID, children[0].ID)

	// A dangling parent reference is allowed.
	orphan := s.Create(core.ContextCreateRequest{Name: "orphan", ParentContextID: "gone"}, "creator")
	assert.Equal(t, "gone", orphan.ParentContextID)
}

func TestDeleteCascadesToDescendants(t *testing.T) {
	s := New(nil)
	root := s.Create(core.ContextCreateRequest{Name: "root"}, "creator")
	child := s.CreateChild(root.ID, core.ContextCreateRequest{Name: "child"}, "creator")
	grandchild := s.CreateChild(child.ID, core.ContextCreateRequest{Name: "grandchild"}, "creator")
	sibling := s.Create(core.ContextCreateRequest{Name: "sibling"}, "creator")

	var deleted []string
	s.Subscribe(core.EventContextDeleted, func(ev core.Event) {
		if c, ok := ev.Payload.(*core.Context); ok {
			deleted = append(deleted, c.ID)
		}
	})

	assert.True(t, s.Delete(root.ID))
	assert.Nil(t, s.Get(root.ID))
	assert.Nil(t, s.Get(child.ID))
	assert.Nil(t, s.Get(grandchild.ID))
	assert.NotNil(t, s.Get(sibling.ID))

	// Children are deleted before their parent.
	assert.Equal(t, []string{grandchild.ID, child.ID, root.ID}, deleted)

	assert.False(t, s.Delete(root.ID))
}

func TestParticipantChangesAreIdempotent(t *testing.T) {
	s := New(nil)
	c := s.Create(core.ContextCreateRequest{Name: "workspace"}, "creator")

	events := 0
	s.Subscribe(core.EventContextParticipantAdded, func(core.Event) { events++ })
	s.Subscribe(core.EventContextParticipantRemoved, func(core.Event) { events++ })

	assert.True(t, s.AddParticipant(c.ID, "agent-1"))
	assert.True(t, s.AddParticipant(c.ID, "agent-1")) // no-op, still true
	assert.Len(t, s.Get(c.ID).Participants, 2)

	assert.True(t, s.RemoveParticipant(c.ID, "agent-1"))
	assert.True(t, s.RemoveParticipant(c.ID, "agent-1")) // no-op, still true
	assert.Len(t, s.Get(c.ID).Participants, 1)

	// Only actual changes emit events.
	assert.Equal(t, 2, events)

	assert.False(t, s.AddParticipant("missing", "agent-1"))
	assert.False(t, s.RemoveParticipant("missing", "agent-1"))
}

func TestContextsForAgent(t *testing.T) {
	s := New(nil)
	a := s.Create(core.ContextCreateRequest{Name: "a"}, "agent-1")
	s.Create(core.ContextCreateRequest{Name: "b"}, "agent-2")
	c := s.Create(core.ContextCreateRequest{Name: "c"}, "agent-2")
	s.AddParticipant(c.ID, "agent-1")

	contexts := s.ContextsForAgent("agent-1")
	ids := []string{contexts[0].ID, contexts[1].ID}
	assert.ElementsMatch(t, []string{a.ID, c.ID}, ids)
}

func TestSearch(t *testing.T) {
	s := New(nil)
	s.Create(core.ContextCreateRequest{Name: "Article Workspace"}, "a")
	s.Create(core.ContextCreateRequest{Name: "misc", Description: "workspace for spikes"}, "a")
	s.Create(core.ContextCreateRequest{Name: "other"}, "a")

	assert.Len(t, s.Search("WORKSPACE"), 2)
	assert.Empty(t, s.Search("nope"))
}

func TestGetReturnsIsolatedCopy(t *testing.T) {
	s := New(nil)
	c := s.Create(core.ContextCreateRequest{
		Name:        "workspace",
		InitialData: map[string]any{"k": "v"},
	}, "creator")

	got := s.Get(c.ID)
	got.Data["k"] = "mutated"
	got.Participants[0] = "mutated"

	fresh := s.Get(c.ID)
	assert.Equal(t, "v", fresh.Data["k"])
	assert.Equal(t, "creator", fresh.Participants[0])
}
