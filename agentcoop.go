// Package agentcoop provides a high-level façade over the four coordination
// components (agent registry, message bus, context store and task
// orchestrator), enabling independent software agents to discover each
// other, exchange messages, share mutable workspaces and hand off units of
// work with tracked lifecycle. Most applications interact with this package
// by:
//  1. Creating an AgentCoop via New() (optionally overriding logger,
//     storage or history cap)
//  2. Registering agents with their capability tags
//  3. Creating tasks, contexts and messages through the convenience wrappers
//     or by reaching the components directly via Registry/Bus/Context/
//     Orchestrator
//
// All defaults are safe for local development and testing; production
// deployments typically supply a durable Storage implementation and a
// structured logger.
package agentcoop

import (
	"context"
	"time"

	"github.com/hupe1980/agentcoop/bus"
	"github.com/hupe1980/agentcoop/contextstore"
	"github.com/hupe1980/agentcoop/core"
	"github.com/hupe1980/agentcoop/logging"
	"github.com/hupe1980/agentcoop/metrics"
	"github.com/hupe1980/agentcoop/orchestrator"
	"github.com/hupe1980/agentcoop/registry"
)

// Options configures the AgentCoop instance.
type Options struct {
	// MaxMessageHistory bounds the bus history buffer (default 1000).
	MaxMessageHistory int

	// Storage, when set, receives best-effort write-through mirrors of every
	// create/update/delete. The in-memory state stays authoritative; queries
	// never read from storage.
	Storage core.Storage

	// Metrics, when set, tracks task and message throughput.
	Metrics *metrics.Collector

	// Logger (defaults to NoOp logger if nil).
	Logger logging.Logger
}

// WithMaxMessageHistory overrides the bus history cap.
func WithMaxMessageHistory(n int) func(*Options) {
	return func(o *Options) { o.MaxMessageHistory = n }
}

// WithStorage attaches a write-through persistence backend.
func WithStorage(s core.Storage) func(*Options) {
	return func(o *Options) { o.Storage = s }
}

// WithMetrics attaches a metrics collector.
func WithMetrics(m *metrics.Collector) func(*Options) {
	return func(o *Options) { o.Metrics = m }
}

// WithLogger sets the logger shared by all components.
func WithLogger(l logging.Logger) func(*Options) {
	return func(o *Options) { o.Logger = l }
}

// AgentCoop is the unified coordination surface composing the four core
// components. The components are exported so callers needing the full
// operation set can reach them directly; the façade methods cover the common
// paths.
type AgentCoop struct {
	Registry     *registry.AgentRegistry
	Bus          *bus.MessageBus
	Context      *contextstore.Store
	Orchestrator *orchestrator.Orchestrator

	opts    Options
	logger  logging.Logger
	started time.Time
}

// New creates a new AgentCoop instance with optional overrides.
func New(optFns ...func(o *Options)) *AgentCoop {
	opts := Options{
		MaxMessageHistory: bus.DefaultMaxHistorySize,
		Logger:            logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}

	reg := registry.New(opts.Logger)
	b := bus.New(bus.WithMaxHistorySize(opts.MaxMessageHistory), bus.WithLogger(opts.Logger))
	ctxStore := contextstore.New(opts.Logger)
	orch := orchestrator.New(reg, b, opts.Logger)

	coop := &AgentCoop{
		Registry:     reg,
		Bus:          b,
		Context:      ctxStore,
		Orchestrator: orch,
		opts:         opts,
		logger:       opts.Logger,
		started:      time.Now().UTC(),
	}

	if opts.Storage != nil {
		coop.mirrorToStorage(opts.Storage)
	}
	if opts.Metrics != nil {
		coop.trackMetrics(opts.Metrics)
	}

	return coop
}

// ==================== Agent management ====================

// RegisterAgent registers a new agent.
func (c *AgentCoop) RegisterAgent(reg core.AgentRegistration) *core.Agent {
	return c.Registry.Register(reg)
}

// UnregisterAgent removes an agent.
func (c *AgentCoop) UnregisterAgent(agentID string) bool {
	return c.Registry.Unregister(agentID)
}

// GetAgent returns an agent by id, or nil if unknown.
func (c *AgentCoop) GetAgent(agentID string) *core.Agent {
	return c.Registry.Get(agentID)
}

// GetAllAgents returns all registered agents.
func (c *AgentCoop) GetAllAgents() []*core.Agent {
	return c.Registry.GetAll()
}

// FindAgentsByCapabilities finds agents carrying the given capabilities.
func (c *AgentCoop) FindAgentsByCapabilities(capabilities []core.Capability, matchAll bool) []*core.Agent {
	return c.Registry.FindByCapabilities(core.CapabilityQuery{Capabilities: capabilities, MatchAll: matchAll})
}

// ==================== Task management ====================

// CreateTask creates a new task.
func (c *AgentCoop) CreateTask(req core.TaskRequest, createdBy string) *core.Task {
	return c.Orchestrator.Create(req, createdBy)
}

// AssignTask hands a pending task to a specific agent.
func (c *AgentCoop) AssignTask(taskID, agentID string) bool {
	return c.Orchestrator.Assign(taskID, agentID)
}

// StartTask marks an assigned task in progress.
func (c *AgentCoop) StartTask(taskID string) bool {
	return c.Orchestrator.Start(taskID)
}

// ArtifactInput describes an artifact attached to a task completion; ids and
// creation timestamps are stamped by CompleteTask.
type ArtifactInput struct {
	Type     string         `json:"type"`
	Name     string         `json:"name"`
	Content  any            `json:"content"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// TaskCompletion is the façade-level completion request.
type TaskCompletion struct {
	Success   bool            `json:"success"`
	Data      map[string]any  `json:"data,omitempty"`
	Error     string          `json:"error,omitempty"`
	Logs      []string        `json:"logs,omitempty"`
	Artifacts []ArtifactInput `json:"artifacts,omitempty"`
}

// CompleteTask finishes a task, assigning fresh identifiers and timestamps
// to the supplied artifacts.
func (c *AgentCoop) CompleteTask(taskID string, completion TaskCompletion) bool {
	artifacts := make([]core.Artifact, 0, len(completion.Artifacts))
	for _, a := range completion.Artifacts {
		metadata := a.Metadata
		if metadata == nil {
			metadata = map[string]any{}
		}
		artifacts = append(artifacts, core.Artifact{
			ID:        core.NewID(),
			Type:      a.Type,
			Name:      a.Name,
			Content:   a.Content,
			Metadata:  metadata,
			CreatedAt: time.Now().UTC(),
		})
	}
	logs := completion.Logs
	if logs == nil {
		logs = []string{}
	}
	return c.Orchestrator.Complete(taskID, core.TaskResult{
		Success:   completion.Success,
		Data:      completion.Data,
		Error:     completion.Error,
		Logs:      logs,
		Artifacts: artifacts,
	})
}

// CancelTask abandons a non-terminal task.
func (c *AgentCoop) CancelTask(taskID, reason string) bool {
	return c.Orchestrator.Cancel(taskID, reason)
}

// GetTask returns a task by id, or nil if unknown.
func (c *AgentCoop) GetTask(taskID string) *core.Task {
	return c.Orchestrator.Get(taskID)
}

// GetAllTasks returns all tasks.
func (c *AgentCoop) GetAllTasks() []*core.Task {
	return c.Orchestrator.GetAll()
}

// ==================== Context management ====================

// CreateContext creates a new shared context.
func (c *AgentCoop) CreateContext(req core.ContextCreateRequest, createdBy string) *core.Context {
	return c.Context.Create(req, createdBy)
}

// GetContext returns a context by id, or nil if unknown.
func (c *AgentCoop) GetContext(contextID string) *core.Context {
	return c.Context.Get(contextID)
}

// UpdateContext deep-merges updates into a context document.
func (c *AgentCoop) UpdateContext(contextID string, updates map[string]any, updatedBy string) *core.Context {
	return c.Context.Update(contextID, updates, updatedBy)
}

// GetContextsForAgent returns every context the agent participates in.
func (c *AgentCoop) GetContextsForAgent(agentID string) []*core.Context {
	return c.Context.ContextsForAgent(agentID)
}

// ==================== Messaging ====================

// SendMessage sends a direct message between agents.
func (c *AgentCoop) SendMessage(from, to, content string, data map[string]any) core.Message {
	return c.Bus.SendDirect(from, to, content, data)
}

// BroadcastMessage broadcasts a named event to all agents.
func (c *AgentCoop) BroadcastMessage(from, event string, data map[string]any) core.Message {
	return c.Bus.Broadcast(from, event, data)
}

// SubscribeToMessages delivers the agent's direct messages plus broadcasts
// to the handler; returns an unsubscribe function.
func (c *AgentCoop) SubscribeToMessages(agentID string, handler func(core.Message)) func() {
	return c.Bus.SubscribeAgent(agentID, handler)
}

// ==================== System info ====================

// TaskCounts summarizes tasks by lifecycle stage.
type TaskCounts struct {
	Total      int `json:"total"`
	Pending    int `json:"pending"`
	InProgress int `json:"in_progress"`
	Completed  int `json:"completed"`
}

// Status is a point-in-time system summary.
type Status struct {
	Agents   int        `json:"agents"`
	Tasks    TaskCounts `json:"tasks"`
	Contexts int        `json:"contexts"`
	Messages int        `json:"messages"`
	Uptime   float64    `json:"uptime_seconds"`
}

// GetStatus returns a system status summary.
func (c *AgentCoop) GetStatus() Status {
	tasks := c.Orchestrator.GetAll()
	counts := TaskCounts{Total: len(tasks)}
	for _, t := range tasks {
		switch t.Status {
		case core.TaskPending:
			counts.Pending++
		case core.TaskInProgress:
			counts.InProgress++
		case core.TaskCompleted:
			counts.Completed++
		}
	}
	return Status{
		Agents:   c.Registry.Count(),
		Tasks:    counts,
		Contexts: len(c.Context.GetAll()),
		Messages: len(c.Bus.GetAll()),
		Uptime:   time.Since(c.started).Seconds(),
	}
}

// mirrorToStorage wires component events into best-effort write-through
// persistence. Failures are logged and never affect the in-memory mutation
// that triggered them.
func (c *AgentCoop) mirrorToStorage(store core.Storage) {
	bg := context.Background()
	persist := func(op string, err error) {
		if err != nil {
			c.logger.Warn("storage write-through failed", "op", op, "error", err)
		}
	}

	c.Registry.Subscribe(core.EventAgentRegistered, func(ev core.Event) {
		if a, ok := ev.Payload.(*core.Agent); ok {
			persist("save_agent", store.SaveAgent(bg, a))
		}
	})
	c.Registry.Subscribe(core.EventAgentStatusChanged, func(ev core.Event) {
		if ch, ok := ev.Payload.(registry.StatusChange); ok {
			persist("save_agent", store.SaveAgent(bg, ch.Agent))
		}
	})
	c.Registry.Subscribe(core.EventAgentUnregistered, func(ev core.Event) {
		if a, ok := ev.Payload.(*core.Agent); ok {
			persist("delete_agent", store.DeleteAgent(bg, a.ID))
		}
	})

	c.Bus.Subscribe(core.EventMessageReceived, func(ev core.Event) {
		if m, ok := ev.Payload.(core.Message); ok {
			persist("save_message", store.SaveMessage(bg, m))
		}
	})

	c.Context.Subscribe(core.EventContextCreated, func(ev core.Event) {
		if ctx, ok := ev.Payload.(*core.Context); ok {
			persist("save_context", store.SaveContext(bg, ctx))
		}
	})
	c.Context.Subscribe(core.EventContextUpdated, func(ev core.Event) {
		if up, ok := ev.Payload.(contextstore.Update); ok {
			persist("save_context", store.SaveContext(bg, up.Context))
		}
	})
	c.Context.Subscribe(core.EventContextDeleted, func(ev core.Event) {
		if ctx, ok := ev.Payload.(*core.Context); ok {
			persist("delete_context", store.DeleteContext(bg, ctx.ID))
		}
	})

	saveTask := func(t *core.Task) { persist("save_task", store.SaveTask(bg, t)) }
	c.Orchestrator.Subscribe(core.EventTaskCreated, func(ev core.Event) {
		if t, ok := ev.Payload.(*core.Task); ok {
			saveTask(t)
		}
	})
	c.Orchestrator.Subscribe(core.EventTaskAssigned, func(ev core.Event) {
		if a, ok := ev.Payload.(orchestrator.Assignment); ok {
			saveTask(a.Task)
		}
	})
	c.Orchestrator.Subscribe(core.EventTaskStarted, func(ev core.Event) {
		if t, ok := ev.Payload.(*core.Task); ok {
			saveTask(t)
		}
	})
	c.Orchestrator.Subscribe(core.EventTaskCompleted, func(ev core.Event) {
		if t, ok := ev.Payload.(*core.Task); ok {
			saveTask(t)
		}
	})
	c.Orchestrator.Subscribe(core.EventTaskFailed, func(ev core.Event) {
		if t, ok := ev.Payload.(*core.Task); ok {
			saveTask(t)
		}
	})
	c.Orchestrator.Subscribe(core.EventTaskCancelled, func(ev core.Event) {
		if cn, ok := ev.Payload.(orchestrator.Cancellation); ok {
			saveTask(cn.Task)
		}
	})
}

// trackMetrics wires component events into the metrics collector.
func (c *AgentCoop) trackMetrics(m *metrics.Collector) {
	c.Orchestrator.Subscribe(core.EventTaskCreated, func(core.Event) {
		m.RecordTaskCreated()
	})
	finished := func(ev core.Event) {
		t, ok := ev.Payload.(*core.Task)
		if !ok {
			return
		}
		var dur time.Duration
		if t.CompletedAt != nil {
			dur = t.CompletedAt.Sub(t.CreatedAt)
		}
		m.RecordTaskCompleted(dur, t.Status == core.TaskCompleted)
	}
	c.Orchestrator.Subscribe(core.EventTaskCompleted, finished)
	c.Orchestrator.Subscribe(core.EventTaskFailed, finished)

	c.Bus.Subscribe(core.EventMessageReceived, func(ev core.Event) {
		msg, ok := ev.Payload.(core.Message)
		if !ok {
			return
		}
		if msg.To == "" {
			m.RecordBroadcast()
		}
		m.RecordMessageSent(msg.From)
	})
}
