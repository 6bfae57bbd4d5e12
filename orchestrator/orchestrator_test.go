package orchestrator

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/hupe1980/agentcoop/bus"
	"github.com/hupe1980/agentcoop/core"
	"github.com/hupe1980/agentcoop/registry"
)

type fixture struct {
	registry *registry.AgentRegistry
	bus      *bus.MessageBus
	orch     *Orchestrator
}

func newFixture() *fixture {
	r := registry.New(nil)
	b := bus.New()
	return &fixture{registry: r, bus: b, orch: New(r, b, nil)}
}

func (f *fixture) agent(name string, caps ...core.Capability) *core.Agent {
	return f.registry.Register(core.AgentRegistration{Name: name, Capabilities: caps})
}

func TestCreateDefaults(t *testing.T) {
	f := newFixture()

	task := f.orch.Create(core.TaskRequest{Type: "analyze"}, "creator")

	assert.NotEmpty(t, task.ID)
	assert.Equal(t, core.TaskPending, task.Status)
	assert.Equal(t, core.DefaultTaskPriority, task.Priority)
	assert.NotNil(t, task.Payload)
	assert.Empty(t, task.Subtasks)
	assert.Nil(t, task.Result)
	assert.Nil(t, task.CompletedAt)
}

func TestCreateAutoAssignsByCapability(t *testing.T) {
	f := newFixture()
	worker := f.agent("worker", "compute")

	task := f.orch.Create(core.TaskRequest{
		Type:                 "analyze",
		RequiredCapabilities: []core.Capability{"compute"},
	}, "creator")

	assert.Equal(t, core.TaskAssigned, task.Status)
	assert.Equal(t, worker.ID, task.AssignedTo)
	assert.Equal(t, core.AgentBusy, f.registry.Get(worker.ID).Status)
}

func TestCreateStaysPendingWithoutCapableAgent(t *testing.T) {
	f := newFixture()
	f.agent("worker", "compute")

	task := f.orch.Create(core.TaskRequest{
		Type:                 "analyze",
		RequiredCapabilities: []core.Capability{"compute", "gpu"},
	}, "creator")

	assert.Equal(t, core.TaskPending, task.Status)
	assert.Empty(t, task.AssignedTo)
}

func TestAssignSendsTaskRequestToAgent(t *testing.T) {
	f := newFixture()
	worker := f.agent("worker")
	task := f.orch.Create(core.TaskRequest{Type: "analyze"}, "creator")

	var inbox []core.Message
	f.bus.SubscribeAgent(worker.ID, func(m core.Message) { inbox = append(inbox, m) })

	assert.True(t, f.orch.Assign(task.ID, worker.ID))

	assert.Len(t, inbox, 1)
	assert.Equal(t, core.MessageTaskRequest, inbox[0].Type)
	assert.Equal(t, "creator", inbox[0].From)
	payload, ok := inbox[0].Payload.(core.TaskRequestPayload)
	assert.True(t, ok)
	assert.Equal(t, "analyze", payload.Task.Type)
}

func TestAssignRejections(t *testing.T) {
	f := newFixture()
	worker := f.agent("worker")
	other := f.agent("other")
	task := f.orch.Create(core.TaskRequest{Type: "analyze"}, "creator")

	assert.False(t, f.orch.Assign(task.ID, "missing"))
	assert.False(t, f.orch.Assign("missing", worker.ID))

	assert.True(t, f.orch.Assign(task.ID, worker.ID))
	// Reassignment of an already assigned task is rejected.
	assert.False(t, f.orch.Assign(task.ID, other.ID))
	assert.Equal(t, worker.ID, f.orch.Get(task.ID).AssignedTo)
}

func TestStateMachineTransitions(t *testing.T) {
	f := newFixture()
	worker := f.agent("worker")
	task := f.orch.Create(core.TaskRequest{Type: "analyze"}, "creator")

	// Start requires assigned.
	assert.False(t, f.orch.Start(task.ID))

	assert.True(t, f.orch.Assign(task.ID, worker.ID))
	assert.True(t, f.orch.Start(task.ID))
	assert.Equal(t, core.TaskInProgress, f.orch.Get(task.ID).Status)

	// Start is not idempotent.
	assert.False(t, f.orch.Start(task.ID))

	assert.True(t, f.orch.Complete(task.ID, core.TaskResult{Success: true}))
	got := f.orch.Get(task.ID)
	assert.Equal(t, core.TaskCompleted, got.Status)
	assert.NotNil(t, got.CompletedAt)

	// Terminal states reject everything.
	assert.False(t, f.orch.Complete(task.ID, core.TaskResult{Success: true}))
	assert.False(t, f.orch.Cancel(task.ID, "too late"))
}

func TestCompleteFromAssignedSkippingStart(t *testing.T) {
	f := newFixture()
	worker := f.agent("worker")
	task := f.orch.Create(core.TaskRequest{Type: "analyze"}, "creator")
	f.orch.Assign(task.ID, worker.ID)

	assert.True(t, f.orch.Complete(task.ID, core.TaskResult{Success: true}))
	assert.Equal(t, core.TaskCompleted, f.orch.Get(task.ID).Status)
}

func TestCompleteFailureFreesAgentAndNotifiesCreator(t *testing.T) {
	f := newFixture()
	worker := f.agent("worker")
	task := f.orch.Create(core.TaskRequest{Type: "analyze"}, "creator")
	f.orch.Assign(task.ID, worker.ID)
	f.orch.Start(task.ID)

	var creatorInbox []core.Message
	f.bus.SubscribeAgent("creator", func(m core.Message) { creatorInbox = append(creatorInbox, m) })

	var failedEvents int
	f.orch.Subscribe(core.EventTaskFailed, func(core.Event) { failedEvents++ })

	assert.True(t, f.orch.Complete(task.ID, core.TaskResult{Success: false, Error: "boom"}))

	got := f.orch.Get(task.ID)
	assert.Equal(t, core.TaskFailed, got.Status)
	assert.Equal(t, "boom", got.Result.Error)
	assert.Equal(t, core.AgentIdle, f.registry.Get(worker.ID).Status)
	assert.Equal(t, 1, failedEvents)

	assert.Len(t, creatorInbox, 1)
	assert.Equal(t, core.MessageTaskResponse, creatorInbox[0].Type)
	payload, ok := creatorInbox[0].Payload.(core.TaskResponsePayload)
	assert.True(t, ok)
	assert.Equal(t, task.ID, payload.TaskID)
	assert.False(t, payload.Result.Success)
}

func TestCancel(t *testing.T) {
	f := newFixture()
	worker := f.agent("worker")
	task := f.orch.Create(core.TaskRequest{Type: "analyze"}, "creator")
	f.orch.Assign(task.ID, worker.ID)

	var cancellation Cancellation
	f.orch.Subscribe(core.EventTaskCancelled, func(ev core.Event) {
		cancellation, _ = ev.Payload.(Cancellation)
	})

	assert.True(t, f.orch.Cancel(task.ID, "changed plans"))

	got := f.orch.Get(task.ID)
	assert.Equal(t, core.TaskCancelled, got.Status)
	assert.False(t, got.Result.Success)
	assert.Equal(t, "changed plans", got.Result.Error)
	assert.Equal(t, core.AgentIdle, f.registry.Get(worker.ID).Status)
	assert.Equal(t, "changed plans", cancellation.Reason)

	assert.False(t, f.orch.Cancel("missing", ""))
}

func TestCancelDefaultsReason(t *testing.T) {
	f := newFixture()
	task := f.orch.Create(core.TaskRequest{Type: "analyze"}, "creator")

	assert.True(t, f.orch.Cancel(task.ID, ""))
	assert.Equal(t, "Task cancelled", f.orch.Get(task.ID).Result.Error)
}

func TestCreateSubtaskInheritsContext(t *testing.T) {
	f := newFixture()
	parent := f.orch.Create(core.TaskRequest{Type: "pipeline", ContextID: "ctx-1"}, "creator")

	sub := f.orch.CreateSubtask(parent.ID, core.TaskRequest{Type: "step"}, "creator")

	assert.Equal(t, parent.ID, sub.ParentTaskID)
	assert.Equal(t, "ctx-1", sub.ContextID)
	assert.Equal(t, []string{sub.ID}, f.orch.Get(parent.ID).Subtasks)

	assert.Nil(t, f.orch.CreateSubtask("missing", core.TaskRequest{Type: "step"}, "creator"))
}

func TestParentCompletionCascade(t *testing.T) {
	f := newFixture()
	worker := f.agent("worker")
	parent := f.orch.Create(core.TaskRequest{Type: "pipeline"}, "creator")
	sub1 := f.orch.CreateSubtask(parent.ID, core.TaskRequest{Type: "step-1"}, "creator")
	sub2 := f.orch.CreateSubtask(parent.ID, core.TaskRequest{Type: "step-2"}, "creator")

	f.orch.Assign(parent.ID, worker.ID)
	f.orch.Start(parent.ID)

	finish := func(taskID string, artifactName string) {
		f.orch.Assign(taskID, worker.ID)
		f.orch.Start(taskID)
		f.orch.Complete(taskID, core.TaskResult{
			Success:   true,
			Artifacts: []core.Artifact{{ID: core.NewID(), Type: "doc", Name: artifactName}},
		})
	}

	finish(sub1.ID, "one.md")
	assert.Equal(t, core.TaskInProgress, f.orch.Get(parent.ID).Status)

	finish(sub2.ID, "two.md")

	got := f.orch.Get(parent.ID)
	assert.Equal(t, core.TaskCompleted, got.Status)
	assert.True(t, got.Result.Success)

	results, ok := got.Result.Data["subtask_results"].([]map[string]any)
	assert.True(t, ok)
	assert.Len(t, results, 2)

	names := []string{got.Result.Artifacts[0].Name, got.Result.Artifacts[1].Name}
	assert.ElementsMatch(t, []string{"one.md", "two.md"}, names)
}

func TestParentFailsWhenAnySubtaskFails(t *testing.T) {
	f := newFixture()
	parent := f.orch.Create(core.TaskRequest{Type: "pipeline"}, "creator")
	sub1 := f.orch.CreateSubtask(parent.ID, core.TaskRequest{Type: "step-1"}, "creator")
	sub2 := f.orch.CreateSubtask(parent.ID, core.TaskRequest{Type: "step-2"}, "creator")

	worker := f.agent("worker")
	f.orch.Assign(parent.ID, worker.ID)
	f.orch.Start(parent.ID)

	f.orch.Assign(sub1.ID, worker.ID)
	f.orch.Complete(sub1.ID, core.TaskResult{Success: true})

	f.orch.Assign(sub2.ID, worker.ID)
	f.orch.Complete(sub2.ID, core.TaskResult{Success: false, Error: "step failed"})

	got := f.orch.Get(parent.ID)
	assert.Equal(t, core.TaskFailed, got.Status)
	assert.False(t, got.Result.Success)
}

func TestCascadeSkipsParentNotInProgress(t *testing.T) {
	f := newFixture()
	worker := f.agent("worker")
	parent := f.orch.Create(core.TaskRequest{Type: "pipeline"}, "creator")
	sub := f.orch.CreateSubtask(parent.ID, core.TaskRequest{Type: "step"}, "creator")

	f.orch.Assign(sub.ID, worker.ID)
	f.orch.Complete(sub.ID, core.TaskResult{Success: true})

	// The parent is still pending, so the cascade leaves it alone.
	assert.Equal(t, core.TaskPending, f.orch.Get(parent.ID).Status)
}

func TestCascadeTriggersOnCancelledSubtask(t *testing.T) {
	f := newFixture()
	worker := f.agent("worker")
	parent := f.orch.Create(core.TaskRequest{Type: "pipeline"}, "creator")
	sub := f.orch.CreateSubtask(parent.ID, core.TaskRequest{Type: "step"}, "creator")

	f.orch.Assign(parent.ID, worker.ID)
	f.orch.Start(parent.ID)

	f.orch.Cancel(sub.ID, "not needed")

	// A cancelled subtask counts as terminal but not successful.
	got := f.orch.Get(parent.ID)
	assert.Equal(t, core.TaskFailed, got.Status)
	assert.False(t, got.Result.Success)
}

func TestRecursiveCascade(t *testing.T) {
	f := newFixture()
	worker := f.agent("worker")
	root := f.orch.Create(core.TaskRequest{Type: "root"}, "creator")
	mid := f.orch.CreateSubtask(root.ID, core.TaskRequest{Type: "mid"}, "creator")
	leaf := f.orch.CreateSubtask(mid.ID, core.TaskRequest{Type: "leaf"}, "creator")

	f.orch.Assign(root.ID, worker.ID)
	f.orch.Start(root.ID)
	f.orch.Assign(mid.ID, worker.ID)
	f.orch.Start(mid.ID)

	f.orch.Assign(leaf.ID, worker.ID)
	f.orch.Complete(leaf.ID, core.TaskResult{Success: true})

	assert.Equal(t, core.TaskCompleted, f.orch.Get(mid.ID).Status)
	assert.Equal(t, core.TaskCompleted, f.orch.Get(root.ID).Status)
}

func TestQueries(t *testing.T) {
	f := newFixture()
	worker := f.agent("worker")
	t1 := f.orch.Create(core.TaskRequest{Type: "a"}, "alice")
	t2 := f.orch.Create(core.TaskRequest{Type: "b"}, "bob")
	f.orch.Assign(t1.ID, worker.ID)

	assert.Len(t, f.orch.GetAll(), 2)
	assert.Len(t, f.orch.GetByStatus(core.TaskPending), 1)
	assert.Len(t, f.orch.GetByStatus(core.TaskAssigned), 1)
	assert.Len(t, f.orch.GetByAgent(worker.ID), 1)
	assert.Len(t, f.orch.GetByCreator("alice"), 1)
	assert.Len(t, f.orch.GetByCreator("bob"), 1)
	assert.Nil(t, f.orch.Get("missing"))
	_ = t2
}

func TestGetTaskTreePreOrder(t *testing.T) {
	f := newFixture()
	root := f.orch.Create(core.TaskRequest{Type: "root"}, "creator")
	child1 := f.orch.CreateSubtask(root.ID, core.TaskRequest{Type: "c1"}, "creator")
	grand := f.orch.CreateSubtask(child1.ID, core.TaskRequest{Type: "g"}, "creator")
	child2 := f.orch.CreateSubtask(root.ID, core.TaskRequest{Type: "c2"}, "creator")

	tree := f.orch.GetTaskTree(root.ID)
	ids := make([]string, len(tree))
	for i, task := range tree {
		ids[i] = task.ID
	}
	assert.Equal(t, []string{root.ID, child1.ID, grand.ID, child2.ID}, ids)
}

func TestAddArtifactAndLogLazilyInitializeResult(t *testing.T) {
	f := newFixture()
	task := f.orch.Create(core.TaskRequest{Type: "a"}, "creator")

	assert.True(t, f.orch.AddLog(task.ID, "starting"))
	assert.True(t, f.orch.AddArtifact(task.ID, core.Artifact{ID: core.NewID(), Name: "partial.md"}))

	got := f.orch.Get(task.ID)
	assert.Equal(t, []string{"starting"}, got.Result.Logs)
	assert.Len(t, got.Result.Artifacts, 1)

	assert.False(t, f.orch.AddLog("missing", "x"))
	assert.False(t, f.orch.AddArtifact("missing", core.Artifact{}))
}

// Full research/write/review round trip across all components.
func TestResearchPipelineScenario(t *testing.T) {
	f := newFixture()

	researcher := f.agent("ResearchBot", "research")
	writer := f.agent("WriterBot", "writing")

	task := f.orch.Create(core.TaskRequest{
		Type:                 "research",
		Description:          "Collect sources",
		RequiredCapabilities: []core.Capability{"research"},
	}, writer.ID)

	assert.Equal(t, core.TaskAssigned, task.Status)
	assert.Equal(t, researcher.ID, task.AssignedTo)
	assert.Equal(t, core.AgentBusy, f.registry.Get(researcher.ID).Status)

	assert.True(t, f.orch.Start(task.ID))
	assert.True(t, f.orch.Complete(task.ID, core.TaskResult{
		Success: true,
		Data:    map[string]any{"sources": 3},
	}))

	assert.Equal(t, core.AgentIdle, f.registry.Get(researcher.ID).Status)

	// The task_request from assignment plus the task_response back.
	traffic := f.bus.MessagesBetween(researcher.ID, writer.ID)
	assert.Len(t, traffic, 2)
	assert.Equal(t, core.MessageTaskRequest, traffic[0].Type)
	assert.Equal(t, core.MessageTaskResponse, traffic[1].Type)
}
