// Package client is the WebSocket client for the coordination server. It
// correlates request frames with their responses and surfaces pushed message
// events through a handler callback.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hupe1980/agentcoop"
	"github.com/hupe1980/agentcoop/core"
	"github.com/hupe1980/agentcoop/logging"
	"github.com/hupe1980/agentcoop/server"
)

// DefaultCallTimeout bounds a single request/response round trip.
const DefaultCallTimeout = 30 * time.Second

// Options configures the client.
type Options struct {
	// Credential is sent as a bearer token during the upgrade.
	Credential string

	// CallTimeout bounds each call when the caller's context has no
	// deadline.
	CallTimeout time.Duration

	// Logger (defaults to NoOp logger if nil).
	Logger logging.Logger
}

// WithCredential authenticates the connection with the given credential.
func WithCredential(credential string) func(*Options) {
	return func(o *Options) { o.Credential = credential }
}

// WithCallTimeout overrides the default per-call timeout.
func WithCallTimeout(d time.Duration) func(*Options) {
	return func(o *Options) { o.CallTimeout = d }
}

// WithLogger sets the client logger.
func WithLogger(l logging.Logger) func(*Options) {
	return func(o *Options) { o.Logger = l }
}

// ServerError is an error frame returned by the server.
type ServerError struct {
	Code    string
	Message string
}

// Error implements the error interface.
func (e *ServerError) Error() string { return fmt.Sprintf("%s: %s", e.Code, e.Message) }

type callResult struct {
	payload json.RawMessage
	err     error
}

// Client is a coordination server connection. It is safe for concurrent use;
// calls from multiple goroutines are multiplexed over the single socket.
type Client struct {
	opts   Options
	logger logging.Logger
	ws     *websocket.Conn

	writeMu sync.Mutex

	mu       sync.Mutex
	pending  map[string]chan callResult
	handlers []func(core.Message)
	closed   bool

	done chan struct{}
}

// Dial connects to the server's /ws endpoint.
func Dial(ctx context.Context, url string, optFns ...func(o *Options)) (*Client, error) {
	opts := Options{
		CallTimeout: DefaultCallTimeout,
		Logger:      logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = DefaultCallTimeout
	}

	var header http.Header
	if opts.Credential != "" {
		header = http.Header{"Authorization": []string{"Bearer " + opts.Credential}}
	}
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}

	c := &Client{
		opts:    opts,
		logger:  opts.Logger,
		ws:      ws,
		pending: make(map[string]chan callResult),
		done:    make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// Close tears down the connection and fails all in-flight calls.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()
	return c.ws.Close()
}

// OnMessage registers a handler for pushed message events. Handlers run on
// the read loop goroutine and must not block.
func (c *Client) OnMessage(fn func(core.Message)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers = append(c.handlers, fn)
}

func (c *Client) readLoop() {
	defer func() {
		c.mu.Lock()
		c.closed = true
		pending := c.pending
		c.pending = make(map[string]chan callResult)
		c.mu.Unlock()
		for _, ch := range pending {
			ch <- callResult{err: fmt.Errorf("connection closed")}
		}
		close(c.done)
	}()

	for {
		var resp struct {
			ID        string          `json:"id"`
			Type      string          `json:"type"`
			RequestID string          `json:"request_id"`
			Event     string          `json:"event"`
			Payload   json.RawMessage `json:"payload"`
		}
		if err := c.ws.ReadJSON(&resp); err != nil {
			return
		}

		switch resp.Type {
		case server.FrameResponse:
			c.deliver(resp.RequestID, callResult{payload: resp.Payload})
		case server.FrameError:
			var ep server.ErrorPayload
			_ = json.Unmarshal(resp.Payload, &ep)
			c.deliver(resp.RequestID, callResult{err: &ServerError{Code: ep.Code, Message: ep.Message}})
		case server.FrameEvent:
			if resp.Event != "message.received" {
				continue
			}
			var msg core.Message
			if err := json.Unmarshal(resp.Payload, &msg); err != nil {
				c.logger.Warn("bad event payload", "error", err)
				continue
			}
			c.mu.Lock()
			handlers := append([]func(core.Message){}, c.handlers...)
			c.mu.Unlock()
			for _, fn := range handlers {
				fn(msg)
			}
		}
	}
}

func (c *Client) deliver(requestID string, res callResult) {
	c.mu.Lock()
	ch, ok := c.pending[requestID]
	delete(c.pending, requestID)
	c.mu.Unlock()
	if ok {
		ch <- res
	}
}

// Call sends one request frame and waits for its correlated response. The
// result is decoded into out when out is non-nil.
func (c *Client) Call(ctx context.Context, opType string, payload, out any) error {
	var raw json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode payload: %w", err)
		}
		raw = data
	}

	req := server.Request{ID: core.NewID(), Type: opType, Payload: raw}
	ch := make(chan callResult, 1)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return fmt.Errorf("connection closed")
	}
	c.pending[req.ID] = ch
	c.mu.Unlock()

	c.writeMu.Lock()
	err := c.ws.WriteJSON(req)
	c.writeMu.Unlock()
	if err != nil {
		c.deliver(req.ID, callResult{})
		return fmt.Errorf("send %s: %w", opType, err)
	}

	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.CallTimeout)
		defer cancel()
	}

	select {
	case res := <-ch:
		if res.err != nil {
			return res.err
		}
		if out != nil && len(res.payload) > 0 {
			if err := json.Unmarshal(res.payload, out); err != nil {
				return fmt.Errorf("decode %s response: %w", opType, err)
			}
		}
		return nil
	case <-ctx.Done():
		c.deliver(req.ID, callResult{})
		return ctx.Err()
	}
}

// ==================== Agent operations ====================

// RegisterAgent registers an agent and binds this connection to it, so the
// agent's messages arrive as events.
func (c *Client) RegisterAgent(ctx context.Context, reg core.AgentRegistration) (*core.Agent, error) {
	var agent core.Agent
	if err := c.Call(ctx, server.OpAgentRegister, reg, &agent); err != nil {
		return nil, err
	}
	return &agent, nil
}

// UnregisterAgent removes an agent.
func (c *Client) UnregisterAgent(ctx context.Context, agentID string) error {
	return c.Call(ctx, server.OpAgentUnregister, map[string]string{"agent_id": agentID}, nil)
}

// ListAgents returns agents, optionally filtered by capabilities.
func (c *Client) ListAgents(ctx context.Context, capabilities []core.Capability, matchAll bool) ([]*core.Agent, error) {
	var agents []*core.Agent
	payload := map[string]any{}
	if len(capabilities) > 0 {
		payload["capabilities"] = capabilities
		payload["match_all"] = matchAll
	}
	if err := c.Call(ctx, server.OpAgentList, payload, &agents); err != nil {
		return nil, err
	}
	return agents, nil
}

// GetAgent returns one agent.
func (c *Client) GetAgent(ctx context.Context, agentID string) (*core.Agent, error) {
	var agent core.Agent
	if err := c.Call(ctx, server.OpAgentGet, map[string]string{"agent_id": agentID}, &agent); err != nil {
		return nil, err
	}
	return &agent, nil
}

// ==================== Task operations ====================

// CreateTask creates a task.
func (c *Client) CreateTask(ctx context.Context, req core.TaskRequest, createdBy string) (*core.Task, error) {
	var task core.Task
	payload := map[string]any{"task": req, "created_by": createdBy}
	if err := c.Call(ctx, server.OpTaskCreate, payload, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

// AssignTask assigns a pending task to an agent.
func (c *Client) AssignTask(ctx context.Context, taskID, agentID string) (*core.Task, error) {
	var task core.Task
	payload := map[string]string{"task_id": taskID, "agent_id": agentID}
	if err := c.Call(ctx, server.OpTaskAssign, payload, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

// StartTask marks an assigned task in progress.
func (c *Client) StartTask(ctx context.Context, taskID string) (*core.Task, error) {
	var task core.Task
	if err := c.Call(ctx, server.OpTaskStart, map[string]string{"task_id": taskID}, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

// CompleteTask finishes a task with a result.
func (c *Client) CompleteTask(ctx context.Context, taskID string, result agentcoop.TaskCompletion) (*core.Task, error) {
	var task core.Task
	payload := map[string]any{"task_id": taskID, "result": result}
	if err := c.Call(ctx, server.OpTaskComplete, payload, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

// CancelTask abandons a non-terminal task.
func (c *Client) CancelTask(ctx context.Context, taskID, reason string) (*core.Task, error) {
	var task core.Task
	payload := map[string]string{"task_id": taskID, "reason": reason}
	if err := c.Call(ctx, server.OpTaskCancel, payload, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

// GetTask returns one task.
func (c *Client) GetTask(ctx context.Context, taskID string) (*core.Task, error) {
	var task core.Task
	if err := c.Call(ctx, server.OpTaskGet, map[string]string{"task_id": taskID}, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

// ListTasks returns tasks, optionally filtered by status or assignee.
func (c *Client) ListTasks(ctx context.Context, status core.TaskStatus, agentID string) ([]*core.Task, error) {
	var tasks []*core.Task
	payload := map[string]any{}
	if status != "" {
		payload["status"] = status
	}
	if agentID != "" {
		payload["agent_id"] = agentID
	}
	if err := c.Call(ctx, server.OpTaskList, payload, &tasks); err != nil {
		return nil, err
	}
	return tasks, nil
}

// ==================== Context operations ====================

// CreateContext creates a shared context.
func (c *Client) CreateContext(ctx context.Context, req core.ContextCreateRequest, createdBy string) (*core.Context, error) {
	var sc core.Context
	payload := map[string]any{"context": req, "created_by": createdBy}
	if err := c.Call(ctx, server.OpContextCreate, payload, &sc); err != nil {
		return nil, err
	}
	return &sc, nil
}

// GetContext returns one context.
func (c *Client) GetContext(ctx context.Context, contextID string) (*core.Context, error) {
	var sc core.Context
	if err := c.Call(ctx, server.OpContextGet, map[string]string{"context_id": contextID}, &sc); err != nil {
		return nil, err
	}
	return &sc, nil
}

// UpdateContext deep-merges updates into a context.
func (c *Client) UpdateContext(ctx context.Context, contextID string, updates map[string]any, updatedBy string) (*core.Context, error) {
	var sc core.Context
	payload := map[string]any{"context_id": contextID, "updates": updates, "updated_by": updatedBy}
	if err := c.Call(ctx, server.OpContextUpdate, payload, &sc); err != nil {
		return nil, err
	}
	return &sc, nil
}

// ListContexts returns contexts, optionally scoped to a participant.
func (c *Client) ListContexts(ctx context.Context, agentID string) ([]*core.Context, error) {
	var contexts []*core.Context
	payload := map[string]any{}
	if agentID != "" {
		payload["agent_id"] = agentID
	}
	if err := c.Call(ctx, server.OpContextList, payload, &contexts); err != nil {
		return nil, err
	}
	return contexts, nil
}

// ==================== Message operations ====================

// SendMessage sends a direct message.
func (c *Client) SendMessage(ctx context.Context, from, to, content string, data map[string]any) (core.Message, error) {
	var msg core.Message
	payload := map[string]any{"from": from, "to": to, "content": content, "data": data}
	err := c.Call(ctx, server.OpMessageSend, payload, &msg)
	return msg, err
}

// Broadcast sends an event to all agents.
func (c *Client) Broadcast(ctx context.Context, from, event string, data map[string]any) (core.Message, error) {
	var msg core.Message
	payload := map[string]any{"from": from, "event": event, "data": data}
	err := c.Call(ctx, server.OpMessageBroadcast, payload, &msg)
	return msg, err
}

// Subscribe binds this connection to an agent's message stream.
func (c *Client) Subscribe(ctx context.Context, agentID string) error {
	return c.Call(ctx, server.OpMessageSubscribe, map[string]string{"agent_id": agentID}, nil)
}

// ==================== System info ====================

// Status returns the server-side system summary.
func (c *Client) Status(ctx context.Context) (agentcoop.Status, error) {
	var st agentcoop.Status
	err := c.Call(ctx, server.OpStatusGet, nil, &st)
	return st, err
}
