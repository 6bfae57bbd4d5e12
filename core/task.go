package core

import "time"

// TaskStatus tracks a task through its lifecycle state machine:
//
//	pending → assigned → in_progress → {completed | failed}
//
// with cancelled reachable from any non-terminal state. Completed, failed and
// cancelled are terminal.
type TaskStatus string

const (
	// TaskPending means the task exists but has no assignee yet.
	TaskPending TaskStatus = "pending"
	// TaskAssigned means an agent accepted (or was handed) the task.
	TaskAssigned TaskStatus = "assigned"
	// TaskInProgress means the assignee reported starting work.
	TaskInProgress TaskStatus = "in_progress"
	// TaskCompleted means the task finished successfully.
	TaskCompleted TaskStatus = "completed"
	// TaskFailed means the task finished unsuccessfully.
	TaskFailed TaskStatus = "failed"
	// TaskCancelled means the task was abandoned before finishing.
	TaskCancelled TaskStatus = "cancelled"
)

// Terminal reports whether the status is a final lifecycle state.
func (s TaskStatus) Terminal() bool {
	return s == TaskCompleted || s == TaskFailed || s == TaskCancelled
}

// DefaultTaskPriority is used when a task request does not specify one.
// Lower values are more urgent.
const DefaultTaskPriority = 5

// Task is a unit of work with a tracked lifecycle, optional assignee and
// optional parent/subtask relationships. The orchestrator is the sole owner.
// Subtasks is append-only and is the only mechanism for building task trees.
type Task struct {
	ID           string         `json:"id"`
	Type         string         `json:"type"`
	Description  string         `json:"description"`
	Payload      map[string]any `json:"payload"`
	Status       TaskStatus     `json:"status"`
	Priority     int            `json:"priority"`
	CreatedBy    string         `json:"created_by"`
	AssignedTo   string         `json:"assigned_to,omitempty"`
	ParentTaskID string         `json:"parent_task_id,omitempty"`
	Subtasks     []string       `json:"subtasks"`
	ContextID    string         `json:"context_id,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
	CompletedAt  *time.Time     `json:"completed_at,omitempty"`
	Result       *TaskResult    `json:"result,omitempty"`
}

// Clone returns a deep copy so callers cannot mutate orchestrator state
// through a returned task.
func (t *Task) Clone() *Task {
	cp := *t
	cp.Payload = cloneMap(t.Payload)
	cp.Subtasks = append([]string(nil), t.Subtasks...)
	if t.CompletedAt != nil {
		at := *t.CompletedAt
		cp.CompletedAt = &at
	}
	if t.Result != nil {
		cp.Result = t.Result.Clone()
	}
	return &cp
}

// TaskRequest is the request payload for creating a task. When
// RequiredCapabilities is non-empty the orchestrator immediately attempts
// capability-based auto-assignment as a side effect of creation.
type TaskRequest struct {
	Type                 string         `json:"type"`
	Description          string         `json:"description"`
	Payload              map[string]any `json:"payload"`
	Priority             int            `json:"priority,omitempty"`
	ParentTaskID         string         `json:"parent_task_id,omitempty"`
	ContextID            string         `json:"context_id,omitempty"`
	RequiredCapabilities []Capability   `json:"required_capabilities,omitempty"`
}

// TaskResult records the outcome of a task execution.
type TaskResult struct {
	Success   bool           `json:"success"`
	Data      map[string]any `json:"data,omitempty"`
	Error     string         `json:"error,omitempty"`
	Logs      []string       `json:"logs"`
	Artifacts []Artifact     `json:"artifacts"`
}

// Clone returns a deep copy of the result.
func (r *TaskResult) Clone() *TaskResult {
	cp := *r
	cp.Data = cloneMap(r.Data)
	cp.Logs = append([]string(nil), r.Logs...)
	cp.Artifacts = append([]Artifact(nil), r.Artifacts...)
	for i := range cp.Artifacts {
		cp.Artifacts[i].Metadata = cloneMap(cp.Artifacts[i].Metadata)
	}
	return &cp
}

// Artifact is an output produced by task execution (a document, a file
// reference, structured data) attached to the task result.
type Artifact struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Name      string         `json:"name"`
	Content   any            `json:"content"`
	Metadata  map[string]any `json:"metadata"`
	CreatedAt time.Time      `json:"created_at"`
}
