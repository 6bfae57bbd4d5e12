package server

import "encoding/json"

// Request is a client frame. Type selects the operation and Payload carries
// its operation-specific arguments.
type Request struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Response frame kinds.
const (
	FrameResponse = "response"
	FrameError    = "error"
	FrameEvent    = "event"
)

// Response is a server frame. For responses and errors RequestID echoes the
// originating request id; events carry the event name in Event.
type Response struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	RequestID string `json:"request_id,omitempty"`
	Event     string `json:"event,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// ErrorPayload is the payload of error frames.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Operation names accepted over the socket.
const (
	OpAgentRegister   = "agent.register"
	OpAgentUnregister = "agent.unregister"
	OpAgentList       = "agent.list"
	OpAgentGet        = "agent.get"

	OpTaskCreate   = "task.create"
	OpTaskAssign   = "task.assign"
	OpTaskStart    = "task.start"
	OpTaskComplete = "task.complete"
	OpTaskCancel   = "task.cancel"
	OpTaskGet      = "task.get"
	OpTaskList     = "task.list"

	OpContextCreate = "context.create"
	OpContextGet    = "context.get"
	OpContextUpdate = "context.update"
	OpContextList   = "context.list"

	OpMessageSend      = "message.send"
	OpMessageBroadcast = "message.broadcast"
	OpMessageSubscribe = "message.subscribe"

	OpStatusGet = "status.get"
)

// Error codes returned in error frames.
const (
	CodeInvalidRequest   = "invalid_request"
	CodeUnknownOperation = "unknown_operation"
	CodeNotFound         = "not_found"
	CodeOperationFailed  = "operation_failed"
	CodeRateLimited      = "rate_limited"
	CodeUnauthorized     = "unauthorized"
)
