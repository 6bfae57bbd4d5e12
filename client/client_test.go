package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentcoop"
	"github.com/hupe1980/agentcoop/core"
	"github.com/hupe1980/agentcoop/server"
)

func newTestClient(t *testing.T) (*Client, *agentcoop.AgentCoop) {
	t.Helper()
	coop := agentcoop.New()
	ts := httptest.NewServer(server.New(coop).Handler())
	t.Cleanup(ts.Close)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	c, err := Dial(context.Background(), url)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c, coop
}

func TestClientAgentAndTaskFlow(t *testing.T) {
	c, coop := newTestClient(t)
	ctx := context.Background()

	agent, err := c.RegisterAgent(ctx, core.AgentRegistration{
		Name:         "worker",
		Capabilities: []core.Capability{"compute"},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, agent.ID)
	assert.NotNil(t, coop.GetAgent(agent.ID))

	agents, err := c.ListAgents(ctx, nil, false)
	require.NoError(t, err)
	assert.Len(t, agents, 1)

	task, err := c.CreateTask(ctx, core.TaskRequest{Type: "analyze"}, agent.ID)
	require.NoError(t, err)
	assert.Equal(t, core.TaskPending, task.Status)

	task, err = c.AssignTask(ctx, task.ID, agent.ID)
	require.NoError(t, err)
	assert.Equal(t, core.TaskAssigned, task.Status)

	task, err = c.StartTask(ctx, task.ID)
	require.NoError(t, err)

	task, err = c.CompleteTask(ctx, task.ID, agentcoop.TaskCompletion{Success: true})
	require.NoError(t, err)
	assert.Equal(t, core.TaskCompleted, task.Status)

	status, err := c.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, status.Agents)
	assert.Equal(t, 1, status.Tasks.Completed)
}

func TestClientServerErrorsSurfaceAsServerError(t *testing.T) {
	c, _ := newTestClient(t)

	_, err := c.GetAgent(context.Background(), "missing")
	require.Error(t, err)

	var srvErr *ServerError
	require.ErrorAs(t, err, &srvErr)
	assert.Equal(t, server.CodeNotFound, srvErr.Code)
}

func TestClientContextOperations(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()

	created, err := c.CreateContext(ctx, core.ContextCreateRequest{
		Name:        "workspace",
		InitialData: map[string]any{"stage": "start"},
	}, "creator")
	require.NoError(t, err)

	updated, err := c.UpdateContext(ctx, created.ID, map[string]any{"stage": "end"}, "editor")
	require.NoError(t, err)
	assert.Equal(t, "end", updated.Data["stage"])

	contexts, err := c.ListContexts(ctx, "editor")
	require.NoError(t, err)
	assert.Len(t, contexts, 1)
}

func TestClientReceivesSubscribedMessages(t *testing.T) {
	c, coop := newTestClient(t)
	ctx := context.Background()

	inbox := make(chan core.Message, 4)
	c.OnMessage(func(m core.Message) { inbox <- m })

	require.NoError(t, c.Subscribe(ctx, "agent-1"))

	coop.SendMessage("agent-2", "agent-1", "direct hello", nil)
	coop.BroadcastMessage("agent-2", "all-hands", nil)
	coop.SendMessage("agent-2", "someone-else", "not for us", nil)

	var got []core.Message
	timeout := time.After(3 * time.Second)
	for len(got) < 2 {
		select {
		case m := <-inbox:
			got = append(got, m)
		case <-timeout:
			t.Fatalf("timed out waiting for messages, got %d", len(got))
		}
	}

	assert.Equal(t, core.MessageDirect, got[0].Type)
	assert.Equal(t, "agent-1", got[0].To)
	assert.Equal(t, core.MessageBroadcast, got[1].Type)

	select {
	case m := <-inbox:
		t.Fatalf("unexpected extra message: %+v", m)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestClientCallTimeout(t *testing.T) {
	// A server that upgrades the socket but never answers.
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(ts.Close)

	c, err := Dial(context.Background(), "ws"+strings.TrimPrefix(ts.URL, "http"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err = c.Call(ctx, server.OpStatusGet, nil, nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
