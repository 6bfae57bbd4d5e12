package server

import (
	"encoding/json"
	"errors"

	"github.com/hupe1980/agentcoop"
	"github.com/hupe1980/agentcoop/auth"
	"github.com/hupe1980/agentcoop/core"
)

var errHandled = errors.New("request failed")

// mutating marks the operations requiring write permission; everything else
// needs read.
var mutating = map[string]bool{
	OpAgentRegister:    true,
	OpAgentUnregister:  true,
	OpTaskCreate:       true,
	OpTaskAssign:       true,
	OpTaskStart:        true,
	OpTaskComplete:     true,
	OpTaskCancel:       true,
	OpContextCreate:    true,
	OpContextUpdate:    true,
	OpMessageSend:      true,
	OpMessageBroadcast: true,
}

// dispatch routes one request frame to its operation handler. The returned
// error only signals failure for metrics; the client already received an
// error frame.
func (s *Server) dispatch(c *wsConn, authCtx *auth.Context, req Request) error {
	if mutating[req.Type] && !authCtx.Permissions.Write {
		s.sendError(c, req.ID, CodeUnauthorized, "write permission required")
		return errHandled
	}
	if !mutating[req.Type] && !authCtx.Permissions.Read {
		s.sendError(c, req.ID, CodeUnauthorized, "read permission required")
		return errHandled
	}

	switch req.Type {
	case OpAgentRegister:
		return s.opAgentRegister(c, req)
	case OpAgentUnregister:
		return s.opAgentUnregister(c, req)
	case OpAgentList:
		return s.opAgentList(c, req)
	case OpAgentGet:
		return s.opAgentGet(c, req)
	case OpTaskCreate:
		return s.opTaskCreate(c, req)
	case OpTaskAssign:
		return s.opTaskAssign(c, req)
	case OpTaskStart:
		return s.opTaskStart(c, req)
	case OpTaskComplete:
		return s.opTaskComplete(c, req)
	case OpTaskCancel:
		return s.opTaskCancel(c, req)
	case OpTaskGet:
		return s.opTaskGet(c, req)
	case OpTaskList:
		return s.opTaskList(c, req)
	case OpContextCreate:
		return s.opContextCreate(c, req)
	case OpContextGet:
		return s.opContextGet(c, req)
	case OpContextUpdate:
		return s.opContextUpdate(c, req)
	case OpContextList:
		return s.opContextList(c, req)
	case OpMessageSend:
		return s.opMessageSend(c, req)
	case OpMessageBroadcast:
		return s.opMessageBroadcast(c, req)
	case OpMessageSubscribe:
		return s.opMessageSubscribe(c, req)
	case OpStatusGet:
		s.sendResponse(c, req.ID, s.coop.GetStatus())
		return nil
	default:
		s.sendError(c, req.ID, CodeUnknownOperation, "unknown operation: "+req.Type)
		return errHandled
	}
}

// decode unmarshals the request payload, reporting malformed payloads to the
// client.
func (s *Server) decode(c *wsConn, req Request, v any) bool {
	if len(req.Payload) == 0 {
		return true
	}
	if err := json.Unmarshal(req.Payload, v); err != nil {
		s.sendError(c, req.ID, CodeInvalidRequest, "malformed payload: "+err.Error())
		return false
	}
	return true
}

// ==================== Agent operations ====================

func (s *Server) opAgentRegister(c *wsConn, req Request) error {
	var reg core.AgentRegistration
	if !s.decode(c, req, &reg) {
		return errHandled
	}
	if reg.Name == "" {
		s.sendError(c, req.ID, CodeInvalidRequest, "agent name is required")
		return errHandled
	}
	agent := s.coop.RegisterAgent(reg)
	s.bindAgent(c, agent.ID)
	s.sendResponse(c, req.ID, agent)
	return nil
}

func (s *Server) opAgentUnregister(c *wsConn, req Request) error {
	var p struct {
		AgentID string `json:"agent_id"`
	}
	if !s.decode(c, req, &p) {
		return errHandled
	}
	if !s.coop.UnregisterAgent(p.AgentID) {
		s.sendError(c, req.ID, CodeNotFound, "agent not found: "+p.AgentID)
		return errHandled
	}
	s.sendResponse(c, req.ID, map[string]any{"unregistered": true})
	return nil
}

func (s *Server) opAgentList(c *wsConn, req Request) error {
	var p struct {
		Capabilities []core.Capability `json:"capabilities,omitempty"`
		MatchAll     bool              `json:"match_all,omitempty"`
	}
	if !s.decode(c, req, &p) {
		return errHandled
	}
	if len(p.Capabilities) > 0 {
		s.sendResponse(c, req.ID, s.coop.FindAgentsByCapabilities(p.Capabilities, p.MatchAll))
		return nil
	}
	s.sendResponse(c, req.ID, s.coop.GetAllAgents())
	return nil
}

func (s *Server) opAgentGet(c *wsConn, req Request) error {
	var p struct {
		AgentID string `json:"agent_id"`
	}
	if !s.decode(c, req, &p) {
		return errHandled
	}
	agent := s.coop.GetAgent(p.AgentID)
	if agent == nil {
		s.sendError(c, req.ID, CodeNotFound, "agent not found: "+p.AgentID)
		return errHandled
	}
	s.sendResponse(c, req.ID, agent)
	return nil
}

// ==================== Task operations ====================

func (s *Server) opTaskCreate(c *wsConn, req Request) error {
	var p struct {
		Task      core.TaskRequest `json:"task"`
		CreatedBy string           `json:"created_by"`
	}
	if !s.decode(c, req, &p) {
		return errHandled
	}
	if p.Task.Type == "" {
		s.sendError(c, req.ID, CodeInvalidRequest, "task type is required")
		return errHandled
	}
	if p.CreatedBy == "" {
		p.CreatedBy = c.boundAgent()
	}
	s.sendResponse(c, req.ID, s.coop.CreateTask(p.Task, p.CreatedBy))
	return nil
}

func (s *Server) opTaskAssign(c *wsConn, req Request) error {
	var p struct {
		TaskID  string `json:"task_id"`
		AgentID string `json:"agent_id"`
	}
	if !s.decode(c, req, &p) {
		return errHandled
	}
	if !s.coop.AssignTask(p.TaskID, p.AgentID) {
		s.sendError(c, req.ID, CodeOperationFailed, "task could not be assigned")
		return errHandled
	}
	s.sendResponse(c, req.ID, s.coop.GetTask(p.TaskID))
	return nil
}

func (s *Server) opTaskStart(c *wsConn, req Request) error {
	var p struct {
		TaskID string `json:"task_id"`
	}
	if !s.decode(c, req, &p) {
		return errHandled
	}
	if !s.coop.StartTask(p.TaskID) {
		s.sendError(c, req.ID, CodeOperationFailed, "task could not be started")
		return errHandled
	}
	s.sendResponse(c, req.ID, s.coop.GetTask(p.TaskID))
	return nil
}

func (s *Server) opTaskComplete(c *wsConn, req Request) error {
	var p struct {
		TaskID string                   `json:"task_id"`
		Result agentcoop.TaskCompletion `json:"result"`
	}
	if !s.decode(c, req, &p) {
		return errHandled
	}
	if !s.coop.CompleteTask(p.TaskID, p.Result) {
		s.sendError(c, req.ID, CodeOperationFailed, "task could not be completed")
		return errHandled
	}
	s.sendResponse(c, req.ID, s.coop.GetTask(p.TaskID))
	return nil
}

func (s *Server) opTaskCancel(c *wsConn, req Request) error {
	var p struct {
		TaskID string `json:"task_id"`
		Reason string `json:"reason"`
	}
	if !s.decode(c, req, &p) {
		return errHandled
	}
	if !s.coop.CancelTask(p.TaskID, p.Reason) {
		s.sendError(c, req.ID, CodeOperationFailed, "task could not be cancelled")
		return errHandled
	}
	s.sendResponse(c, req.ID, s.coop.GetTask(p.TaskID))
	return nil
}

func (s *Server) opTaskGet(c *wsConn, req Request) error {
	var p struct {
		TaskID string `json:"task_id"`
	}
	if !s.decode(c, req, &p) {
		return errHandled
	}
	task := s.coop.GetTask(p.TaskID)
	if task == nil {
		s.sendError(c, req.ID, CodeNotFound, "task not found: "+p.TaskID)
		return errHandled
	}
	s.sendResponse(c, req.ID, task)
	return nil
}

func (s *Server) opTaskList(c *wsConn, req Request) error {
	var p struct {
		Status  core.TaskStatus `json:"status,omitempty"`
		AgentID string          `json:"agent_id,omitempty"`
	}
	if !s.decode(c, req, &p) {
		return errHandled
	}
	switch {
	case p.AgentID != "":
		s.sendResponse(c, req.ID, s.coop.Orchestrator.GetByAgent(p.AgentID))
	case p.Status != "":
		s.sendResponse(c, req.ID, s.coop.Orchestrator.GetByStatus(p.Status))
	default:
		s.sendResponse(c, req.ID, s.coop.GetAllTasks())
	}
	return nil
}

// ==================== Context operations ====================

func (s *Server) opContextCreate(c *wsConn, req Request) error {
	var p struct {
		Context   core.ContextCreateRequest `json:"context"`
		CreatedBy string                    `json:"created_by"`
	}
	if !s.decode(c, req, &p) {
		return errHandled
	}
	if p.Context.Name == "" {
		s.sendError(c, req.ID, CodeInvalidRequest, "context name is required")
		return errHandled
	}
	if p.CreatedBy == "" {
		p.CreatedBy = c.boundAgent()
	}
	s.sendResponse(c, req.ID, s.coop.CreateContext(p.Context, p.CreatedBy))
	return nil
}

func (s *Server) opContextGet(c *wsConn, req Request) error {
	var p struct {
		ContextID string `json:"context_id"`
	}
	if !s.decode(c, req, &p) {
		return errHandled
	}
	ctx := s.coop.GetContext(p.ContextID)
	if ctx == nil {
		s.sendError(c, req.ID, CodeNotFound, "context not found: "+p.ContextID)
		return errHandled
	}
	s.sendResponse(c, req.ID, ctx)
	return nil
}

func (s *Server) opContextUpdate(c *wsConn, req Request) error {
	var p struct {
		ContextID string         `json:"context_id"`
		Updates   map[string]any `json:"updates"`
		UpdatedBy string         `json:"updated_by"`
	}
	if !s.decode(c, req, &p) {
		return errHandled
	}
	if p.UpdatedBy == "" {
		p.UpdatedBy = c.boundAgent()
	}
	ctx := s.coop.UpdateContext(p.ContextID, p.Updates, p.UpdatedBy)
	if ctx == nil {
		s.sendError(c, req.ID, CodeNotFound, "context not found: "+p.ContextID)
		return errHandled
	}
	s.sendResponse(c, req.ID, ctx)
	return nil
}

func (s *Server) opContextList(c *wsConn, req Request) error {
	var p struct {
		AgentID string `json:"agent_id,omitempty"`
	}
	if !s.decode(c, req, &p) {
		return errHandled
	}
	if p.AgentID != "" {
		s.sendResponse(c, req.ID, s.coop.GetContextsForAgent(p.AgentID))
		return nil
	}
	s.sendResponse(c, req.ID, s.coop.Context.GetAll())
	return nil
}

// ==================== Message operations ====================

func (s *Server) opMessageSend(c *wsConn, req Request) error {
	var p struct {
		From    string         `json:"from"`
		To      string         `json:"to"`
		Content string         `json:"content"`
		Data    map[string]any `json:"data,omitempty"`
	}
	if !s.decode(c, req, &p) {
		return errHandled
	}
	if p.From == "" {
		p.From = c.boundAgent()
	}
	if p.To == "" {
		s.sendError(c, req.ID, CodeInvalidRequest, "message recipient is required")
		return errHandled
	}
	s.sendResponse(c, req.ID, s.coop.SendMessage(p.From, p.To, p.Content, p.Data))
	return nil
}

func (s *Server) opMessageBroadcast(c *wsConn, req Request) error {
	var p struct {
		From  string         `json:"from"`
		Event string         `json:"event"`
		Data  map[string]any `json:"data,omitempty"`
	}
	if !s.decode(c, req, &p) {
		return errHandled
	}
	if p.From == "" {
		p.From = c.boundAgent()
	}
	s.sendResponse(c, req.ID, s.coop.BroadcastMessage(p.From, p.Event, p.Data))
	return nil
}

func (s *Server) opMessageSubscribe(c *wsConn, req Request) error {
	var p struct {
		AgentID string `json:"agent_id"`
	}
	if !s.decode(c, req, &p) {
		return errHandled
	}
	if p.AgentID == "" {
		s.sendError(c, req.ID, CodeInvalidRequest, "agent_id is required")
		return errHandled
	}
	s.bindAgent(c, p.AgentID)
	s.sendResponse(c, req.ID, map[string]any{"subscribed": true, "agent_id": p.AgentID})
	return nil
}

// boundAgent returns the agent id bound to this connection, if any.
func (c *wsConn) boundAgent() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.agentID
}
