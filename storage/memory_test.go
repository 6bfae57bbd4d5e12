package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/hupe1980/agentcoop/core"
)

func TestMemoryStoreLifecycle(t *testing.T) {
	s := NewMemoryStore(10)
	ctx := context.Background()

	assert.False(t, s.Connected())
	assert.NoError(t, s.Connect(ctx))
	assert.True(t, s.Connected())

	assert.NoError(t, s.SaveAgent(ctx, &core.Agent{ID: "a-1", Name: "worker"}))
	assert.NoError(t, s.Close())
	assert.False(t, s.Connected())

	// Close drops all state.
	assert.NoError(t, s.Connect(ctx))
	_, err := s.GetAgent(ctx, "a-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreAgents(t *testing.T) {
	s := NewMemoryStore(10)
	ctx := context.Background()
	_ = s.Connect(ctx)

	agent := &core.Agent{ID: "a-1", Name: "worker", Metadata: map[string]any{"k": "v"}}
	assert.NoError(t, s.SaveAgent(ctx, agent))

	// The store keeps its own copy.
	agent.Name = "mutated"
	got, err := s.GetAgent(ctx, "a-1")
	assert.NoError(t, err)
	assert.Equal(t, "worker", got.Name)

	// Save is an upsert.
	got.Status = core.AgentBusy
	assert.NoError(t, s.SaveAgent(ctx, got))
	again, _ := s.GetAgent(ctx, "a-1")
	assert.Equal(t, core.AgentBusy, again.Status)

	all, err := s.ListAgents(ctx)
	assert.NoError(t, err)
	assert.Len(t, all, 1)

	assert.NoError(t, s.DeleteAgent(ctx, "a-1"))
	_, err = s.GetAgent(ctx, "a-1")
	assert.ErrorIs(t, err, ErrNotFound)

	// Deleting a missing id is not an error.
	assert.NoError(t, s.DeleteAgent(ctx, "ghost"))
}

func TestMemoryStoreTasksAndContexts(t *testing.T) {
	s := NewMemoryStore(10)
	ctx := context.Background()
	_ = s.Connect(ctx)

	assert.NoError(t, s.SaveTask(ctx, &core.Task{ID: "t-1", Type: "analyze"}))
	task, err := s.GetTask(ctx, "t-1")
	assert.NoError(t, err)
	assert.Equal(t, "analyze", task.Type)
	tasks, _ := s.ListTasks(ctx)
	assert.Len(t, tasks, 1)
	assert.NoError(t, s.DeleteTask(ctx, "t-1"))
	_, err = s.GetTask(ctx, "t-1")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.NoError(t, s.SaveContext(ctx, &core.Context{ID: "c-1", Name: "workspace"}))
	c, err := s.GetContext(ctx, "c-1")
	assert.NoError(t, err)
	assert.Equal(t, "workspace", c.Name)
	contexts, _ := s.ListContexts(ctx)
	assert.Len(t, contexts, 1)
	assert.NoError(t, s.DeleteContext(ctx, "c-1"))
	_, err = s.GetContext(ctx, "c-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreMessageRetention(t *testing.T) {
	s := NewMemoryStore(3)
	ctx := context.Background()
	_ = s.Connect(ctx)

	base := time.Now().UTC()
	for i := 0; i < 5; i++ {
		msg := core.Message{
			ID:        core.NewID(),
			Type:      core.MessageDirect,
			From:      "a",
			To:        "b",
			Payload:   core.DirectPayload{Content: string(rune('a' + i))},
			Timestamp: base.Add(time.Duration(i) * time.Second),
		}
		assert.NoError(t, s.SaveMessage(ctx, msg))
	}

	msgs, err := s.ListMessages(ctx, core.MessageQuery{})
	assert.NoError(t, err)
	assert.Len(t, msgs, 3)
	first := msgs[0].Payload.(core.DirectPayload)
	assert.Equal(t, "c", first.Content)

	limited, err := s.ListMessages(ctx, core.MessageQuery{Limit: 2})
	assert.NoError(t, err)
	assert.Len(t, limited, 2)
	last := limited[1].Payload.(core.DirectPayload)
	assert.Equal(t, "e", last.Content)

	before, err := s.ListMessages(ctx, core.MessageQuery{Before: base.Add(4 * time.Second)})
	assert.NoError(t, err)
	assert.Len(t, before, 2)
}

func TestMemoryStoreImplementsStorage(t *testing.T) {
	var _ core.Storage = (*MemoryStore)(nil)
}
