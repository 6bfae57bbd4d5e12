// Package orchestrator implements the task lifecycle state machine and work
// distribution: capability-based auto-assignment, explicit assignment,
// progress tracking, results and the parent/subtask completion cascade.
//
// Lifecycle: pending → assigned → in_progress → {completed | failed}, with
// cancelled reachable from any non-terminal state. Completed, failed and
// cancelled are terminal.
package orchestrator

import (
	"fmt"
	"sync"
	"time"

	"github.com/hupe1980/agentcoop/bus"
	"github.com/hupe1980/agentcoop/core"
	"github.com/hupe1980/agentcoop/logging"
	"github.com/hupe1980/agentcoop/registry"
)

// Assignment is the payload of the task_assigned event.
type Assignment struct {
	Task  *core.Task  `json:"task"`
	Agent *core.Agent `json:"agent"`
}

// Cancellation is the payload of the task_cancelled event.
type Cancellation struct {
	Task   *core.Task `json:"task"`
	Reason string     `json:"reason,omitempty"`
}

// Orchestrator owns all task state. It depends on the registry to find and
// mark agents and on the bus to notify agents of assignments and results;
// both are always reached through their public operations and never while
// the orchestrator's own lock is held, so subscribers may call back into any
// component without deadlocking.
type Orchestrator struct {
	mu       sync.RWMutex
	tasks    map[string]*core.Task
	registry *registry.AgentRegistry
	bus      *bus.MessageBus
	emitter  *core.Emitter
	logger   logging.Logger
}

// New constructs an orchestrator bound to the given registry and bus. A nil
// logger is replaced by the no-op logger.
func New(reg *registry.AgentRegistry, b *bus.MessageBus, logger logging.Logger) *Orchestrator {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	return &Orchestrator{
		tasks:    make(map[string]*core.Task),
		registry: reg,
		bus:      b,
		emitter:  core.NewEmitter(logger),
		logger:   logger,
	}
}

// Create builds a new pending task. Priority defaults to 5 when unset. Emits
// task_created. When the request names required capabilities, an
// auto-assignment attempt runs immediately as a side effect of creation; its
// failure leaves the task pending.
func (o *Orchestrator) Create(req core.TaskRequest, createdBy string) *core.Task {
	now := time.Now().UTC()
	task := &core.Task{
		ID:           core.NewID(),
		Type:         req.Type,
		Description:  req.Description,
		Payload:      req.Payload,
		Status:       core.TaskPending,
		Priority:     req.Priority,
		CreatedBy:    createdBy,
		ParentTaskID: req.ParentTaskID,
		Subtasks:     []string{},
		ContextID:    req.ContextID,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if task.Priority == 0 {
		task.Priority = core.DefaultTaskPriority
	}
	if task.Payload == nil {
		task.Payload = map[string]any{}
	}

	o.mu.Lock()
	o.tasks[task.ID] = task
	o.mu.Unlock()

	o.logger.Info("task created", "task_id", task.ID, "type", task.Type, "created_by", createdBy)
	o.emitter.Emit(core.EventTaskCreated, task.Clone())

	if len(req.RequiredCapabilities) > 0 {
		o.AssignToCapableAgent(task.ID, req.RequiredCapabilities)
	}

	return o.Get(task.ID)
}

// Assign hands a pending task to a specific agent: sets the assignee,
// transitions to assigned, marks the agent busy, emits task_assigned and
// sends a task_request message to the agent carrying a sanitized view of the
// task. Returns false if the task or agent is unknown or the task is not
// pending; reassignment of an already assigned task is rejected.
func (o *Orchestrator) Assign(taskID, agentID string) bool {
	agent := o.registry.Get(agentID)
	if agent == nil {
		return false
	}

	o.mu.Lock()
	task, ok := o.tasks[taskID]
	if !ok || task.Status != core.TaskPending {
		o.mu.Unlock()
		return false
	}
	task.AssignedTo = agentID
	task.Status = core.TaskAssigned
	task.UpdatedAt = time.Now().UTC()
	snapshot := task.Clone()
	o.mu.Unlock()

	o.registry.UpdateStatus(agentID, core.AgentBusy)

	o.logger.Info("task assigned", "task_id", taskID, "agent_id", agentID)
	o.emitter.Emit(core.EventTaskAssigned, Assignment{Task: snapshot, Agent: agent})

	o.bus.Send(snapshot.CreatedBy, core.MessageTaskRequest, core.TaskRequestPayload{
		Task: core.TaskRequest{
			Type:         snapshot.Type,
			Description:  snapshot.Description,
			Payload:      snapshot.Payload,
			Priority:     snapshot.Priority,
			ParentTaskID: snapshot.ParentTaskID,
			ContextID:    snapshot.ContextID,
		},
	}, agentID)

	return true
}

// AssignToCapableAgent finds agents carrying all given capabilities, filters
// to idle ones and delegates to Assign with the first candidate. First-match
// is the deliberate policy; there is no load balancing or scoring. Returns
// false with no side effect when no idle capable agent exists.
func (o *Orchestrator) AssignToCapableAgent(taskID string, capabilities []core.Capability) bool {
	candidates := o.registry.FindByCapabilities(core.CapabilityQuery{
		Capabilities: capabilities,
		MatchAll:     true,
	})

	for _, candidate := range candidates {
		if candidate.Status == core.AgentIdle {
			return o.Assign(taskID, candidate.ID)
		}
	}
	return false
}

// Start transitions an assigned task to in_progress. Any other current state
// fails. Emits task_started.
func (o *Orchestrator) Start(taskID string) bool {
	o.mu.Lock()
	task, ok := o.tasks[taskID]
	if !ok || task.Status != core.TaskAssigned {
		o.mu.Unlock()
		return false
	}
	task.Status = core.TaskInProgress
	task.UpdatedAt = time.Now().UTC()
	snapshot := task.Clone()
	o.mu.Unlock()

	o.logger.Debug("task started", "task_id", taskID)
	o.emitter.Emit(core.EventTaskStarted, snapshot)
	return true
}

// Complete finishes a task with the given result: valid only from assigned
// or in_progress. The status becomes completed on success and failed
// otherwise; the assignee is freed back to idle; task_completed or
// task_failed is emitted; a task_response message goes back to the task's
// creator; and a terminal subtask triggers the parent-completion cascade.
func (o *Orchestrator) Complete(taskID string, result core.TaskResult) bool {
	o.mu.Lock()
	task, ok := o.tasks[taskID]
	if !ok || (task.Status != core.TaskInProgress && task.Status != core.TaskAssigned) {
		o.mu.Unlock()
		return false
	}
	if result.Success {
		task.Status = core.TaskCompleted
	} else {
		task.Status = core.TaskFailed
	}
	task.Result = result.Clone()
	now := time.Now().UTC()
	task.UpdatedAt = now
	task.CompletedAt = &now
	snapshot := task.Clone()
	o.mu.Unlock()

	if snapshot.AssignedTo != "" {
		o.registry.UpdateStatus(snapshot.AssignedTo, core.AgentIdle)
	}

	event := core.EventTaskCompleted
	if !result.Success {
		event = core.EventTaskFailed
	}
	o.logger.Info("task finished", "task_id", taskID, "success", result.Success)
	o.emitter.Emit(event, snapshot)

	if snapshot.ParentTaskID != "" {
		o.checkParentCompletion(snapshot.ParentTaskID)
	}

	if snapshot.AssignedTo != "" {
		o.bus.Send(snapshot.AssignedTo, core.MessageTaskResponse, core.TaskResponsePayload{
			TaskID: taskID,
			Result: result,
		}, snapshot.CreatedBy)
	}

	return true
}

// Cancel abandons a task from any non-terminal state, writing a synthetic
// failed result and freeing the assignee. Emits task_cancelled. No bus
// message is sent for cancellation; it is observed via events only.
func (o *Orchestrator) Cancel(taskID, reason string) bool {
	o.mu.Lock()
	task, ok := o.tasks[taskID]
	if !ok || task.Status.Terminal() {
		o.mu.Unlock()
		return false
	}
	task.Status = core.TaskCancelled
	task.UpdatedAt = time.Now().UTC()
	errText := reason
	if errText == "" {
		errText = "Task cancelled"
	}
	task.Result = &core.TaskResult{
		Success:   false,
		Error:     errText,
		Logs:      []string{},
		Artifacts: []core.Artifact{},
	}
	snapshot := task.Clone()
	o.mu.Unlock()

	if snapshot.AssignedTo != "" {
		o.registry.UpdateStatus(snapshot.AssignedTo, core.AgentIdle)
	}

	o.logger.Info("task cancelled", "task_id", taskID, "reason", reason)
	o.emitter.Emit(core.EventTaskCancelled, Cancellation{Task: snapshot, Reason: reason})

	if snapshot.ParentTaskID != "" {
		o.checkParentCompletion(snapshot.ParentTaskID)
	}

	return true
}

// CreateSubtask creates a task under the given parent, inheriting the
// parent's context, and appends it to the parent's subtask list. The parent
// status is not otherwise changed. Returns nil if the parent is unknown.
func (o *Orchestrator) CreateSubtask(parentID string, req core.TaskRequest, createdBy string) *core.Task {
	o.mu.RLock()
	parent, ok := o.tasks[parentID]
	if !ok {
		o.mu.RUnlock()
		return nil
	}
	contextID := parent.ContextID
	o.mu.RUnlock()

	req.ParentTaskID = parentID
	req.ContextID = contextID
	subtask := o.Create(req, createdBy)

	o.mu.Lock()
	if parent, ok := o.tasks[parentID]; ok {
		parent.Subtasks = append(parent.Subtasks, subtask.ID)
		parent.UpdatedAt = time.Now().UTC()
	}
	o.mu.Unlock()

	return subtask
}

// Get returns the task with the given id, or nil if unknown.
func (o *Orchestrator) Get(taskID string) *core.Task {
	o.mu.RLock()
	defer o.mu.RUnlock()
	task, ok := o.tasks[taskID]
	if !ok {
		return nil
	}
	return task.Clone()
}

// GetAll returns a snapshot of every task.
func (o *Orchestrator) GetAll() []*core.Task {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]*core.Task, 0, len(o.tasks))
	for _, t := range o.tasks {
		out = append(out, t.Clone())
	}
	return out
}

// GetByStatus returns tasks currently in the given status.
func (o *Orchestrator) GetByStatus(status core.TaskStatus) []*core.Task {
	o.mu.RLock()
	defer o.mu.RUnlock()
	var out []*core.Task
	for _, t := range o.tasks {
		if t.Status == status {
			out = append(out, t.Clone())
		}
	}
	return out
}

// GetByAgent returns tasks assigned to the given agent.
func (o *Orchestrator) GetByAgent(agentID string) []*core.Task {
	o.mu.RLock()
	defer o.mu.RUnlock()
	var out []*core.Task
	for _, t := range o.tasks {
		if t.AssignedTo == agentID {
			out = append(out, t.Clone())
		}
	}
	return out
}

// GetByCreator returns tasks created by the given agent.
func (o *Orchestrator) GetByCreator(agentID string) []*core.Task {
	o.mu.RLock()
	defer o.mu.RUnlock()
	var out []*core.Task
	for _, t := range o.tasks {
		if t.CreatedBy == agentID {
			out = append(out, t.Clone())
		}
	}
	return out
}

// GetSubtasks returns the direct subtasks of a task in list order.
func (o *Orchestrator) GetSubtasks(taskID string) []*core.Task {
	o.mu.RLock()
	defer o.mu.RUnlock()
	task, ok := o.tasks[taskID]
	if !ok {
		return nil
	}
	var out []*core.Task
	for _, id := range task.Subtasks {
		if sub, ok := o.tasks[id]; ok {
			out = append(out, sub.Clone())
		}
	}
	return out
}

// GetTaskTree returns the task and all descendants in pre-order.
func (o *Orchestrator) GetTaskTree(taskID string) []*core.Task {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.treeLocked(taskID)
}

func (o *Orchestrator) treeLocked(taskID string) []*core.Task {
	task, ok := o.tasks[taskID]
	if !ok {
		return nil
	}
	out := []*core.Task{task.Clone()}
	for _, id := range task.Subtasks {
		out = append(out, o.treeLocked(id)...)
	}
	return out
}

// AddArtifact appends an artifact to the task's result, lazily initializing
// an empty result container if none exists yet. Returns false only if the
// task id is unknown.
func (o *Orchestrator) AddArtifact(taskID string, artifact core.Artifact) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	task, ok := o.tasks[taskID]
	if !ok {
		return false
	}
	ensureResult(task)
	task.Result.Artifacts = append(task.Result.Artifacts, artifact)
	task.UpdatedAt = time.Now().UTC()
	return true
}

// AddLog appends a log line to the task's result, lazily initializing an
// empty result container if none exists yet. Returns false only if the task
// id is unknown.
func (o *Orchestrator) AddLog(taskID, log string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	task, ok := o.tasks[taskID]
	if !ok {
		return false
	}
	ensureResult(task)
	task.Result.Logs = append(task.Result.Logs, log)
	task.UpdatedAt = time.Now().UTC()
	return true
}

// Subscribe registers a handler for orchestrator events and returns an
// unsubscribe function.
func (o *Orchestrator) Subscribe(event string, h core.Handler) func() {
	return o.emitter.Subscribe(event, h)
}

func ensureResult(task *core.Task) {
	if task.Result == nil {
		task.Result = &core.TaskResult{
			Success:   false,
			Logs:      []string{},
			Artifacts: []core.Artifact{},
		}
	}
}

// checkParentCompletion runs after a subtask reaches a terminal state. If
// the parent is in_progress and every subtask is terminal, the parent is
// completed with success only when all subtasks completed, aggregated
// subtask results and the subtasks' artifacts flattened into the parent
// result. Completing the parent recursively triggers the same check on the
// grandparent. A parent with zero subtasks is never auto-completed.
func (o *Orchestrator) checkParentCompletion(parentID string) {
	o.mu.RLock()
	parent, ok := o.tasks[parentID]
	if !ok {
		o.mu.RUnlock()
		return
	}
	var subtasks []*core.Task
	for _, id := range parent.Subtasks {
		if sub, ok := o.tasks[id]; ok {
			subtasks = append(subtasks, sub.Clone())
		}
	}
	parentStatus := parent.Status
	o.mu.RUnlock()

	if len(subtasks) == 0 || parentStatus != core.TaskInProgress {
		return
	}

	allSuccess := true
	for _, sub := range subtasks {
		if !sub.Status.Terminal() {
			return
		}
		if sub.Status != core.TaskCompleted {
			allSuccess = false
		}
	}

	subtaskResults := make([]map[string]any, 0, len(subtasks))
	var artifacts []core.Artifact
	for _, sub := range subtasks {
		subtaskResults = append(subtaskResults, map[string]any{
			"task_id": sub.ID,
			"status":  sub.Status,
			"result":  sub.Result,
		})
		if sub.Result != nil {
			artifacts = append(artifacts, sub.Result.Artifacts...)
		}
	}
	if artifacts == nil {
		artifacts = []core.Artifact{}
	}

	o.Complete(parentID, core.TaskResult{
		Success:   allSuccess,
		Data:      map[string]any{"subtask_results": subtaskResults},
		Logs:      []string{fmt.Sprintf("All %d subtasks completed", len(subtasks))},
		Artifacts: artifacts,
	})
}
