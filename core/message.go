package core

import (
	"encoding/json"
	"fmt"
	"time"
)

// MessageType tags the payload variant carried by a message.
type MessageType string

const (
	// MessageTaskRequest carries a task handed to an agent for execution.
	MessageTaskRequest MessageType = "task_request"
	// MessageTaskResponse carries the result of an executed task.
	MessageTaskResponse MessageType = "task_response"
	// MessageContextUpdate announces a change to a shared context.
	MessageContextUpdate MessageType = "context_update"
	// MessageBroadcast is an unaddressed message delivered to every agent subscriber.
	MessageBroadcast MessageType = "broadcast"
	// MessageDirect is an agent-to-agent message.
	MessageDirect MessageType = "direct"
)

// Message is a unit of inter-agent communication. It is immutable once
// created; the bus is the only writer. An empty To means broadcast.
type Message struct {
	ID            string      `json:"id"`
	Type          MessageType `json:"type"`
	From          string      `json:"from"`
	To            string      `json:"to,omitempty"`
	Payload       Payload     `json:"payload"`
	Timestamp     time.Time   `json:"timestamp"`
	CorrelationID string      `json:"correlation_id,omitempty"`
}

// Payload represents a polymorphic message body. Concrete payload types
// implement the unexported isPayload marker enabling a closed set.
type Payload interface {
	isPayload()
	// Kind returns the wire discriminator for the payload variant.
	Kind() MessageType
}

// TaskRequestPayload hands a unit of work to an agent.
type TaskRequestPayload struct {
	Task TaskRequest `json:"task"`
}

func (TaskRequestPayload) isPayload() {}

// Kind implements Payload for TaskRequestPayload.
func (TaskRequestPayload) Kind() MessageType { return MessageTaskRequest }

// TaskResponsePayload reports the outcome of a completed task.
type TaskResponsePayload struct {
	TaskID string     `json:"task_id"`
	Result TaskResult `json:"result"`
}

func (TaskResponsePayload) isPayload() {}

// Kind implements Payload for TaskResponsePayload.
func (TaskResponsePayload) Kind() MessageType { return MessageTaskResponse }

// ContextUpdatePayload announces a merge-update applied to a shared context.
type ContextUpdatePayload struct {
	ContextID string         `json:"context_id"`
	Updates   map[string]any `json:"updates"`
}

func (ContextUpdatePayload) isPayload() {}

// Kind implements Payload for ContextUpdatePayload.
func (ContextUpdatePayload) Kind() MessageType { return MessageContextUpdate }

// BroadcastPayload is a named event fanned out to all agents.
type BroadcastPayload struct {
	Event string         `json:"event"`
	Data  map[string]any `json:"data"`
}

func (BroadcastPayload) isPayload() {}

// Kind implements Payload for BroadcastPayload.
func (BroadcastPayload) Kind() MessageType { return MessageBroadcast }

// DirectPayload is free-form agent-to-agent content.
type DirectPayload struct {
	Content string         `json:"content"`
	Data    map[string]any `json:"data,omitempty"`
}

func (DirectPayload) isPayload() {}

// Kind implements Payload for DirectPayload.
func (DirectPayload) Kind() MessageType { return MessageDirect }

// payloadEnvelope is the wire shape for payloads: the concrete fields plus a
// "kind" discriminator so the variant survives a JSON round trip.
type payloadEnvelope struct {
	Kind MessageType `json:"kind"`
}

// MarshalJSON encodes the message with the payload variant discriminated by
// a "kind" field, matching the wire protocol consumed by clients.
func (m Message) MarshalJSON() ([]byte, error) {
	type alias Message
	raw, err := json.Marshal(alias(m))
	if err != nil {
		return nil, err
	}
	if m.Payload == nil {
		return raw, nil
	}
	body, err := json.Marshal(m.Payload)
	if err != nil {
		return nil, err
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, err
	}
	fields["kind"], _ = json.Marshal(m.Payload.Kind())
	tagged, err := json.Marshal(fields)
	if err != nil {
		return nil, err
	}
	var outer map[string]json.RawMessage
	if err := json.Unmarshal(raw, &outer); err != nil {
		return nil, err
	}
	outer["payload"] = tagged
	return json.Marshal(outer)
}

// UnmarshalJSON decodes a message, reconstructing the concrete payload type
// from the "kind" discriminator.
func (m *Message) UnmarshalJSON(data []byte) error {
	type alias struct {
		ID            string          `json:"id"`
		Type          MessageType     `json:"type"`
		From          string          `json:"from"`
		To            string          `json:"to,omitempty"`
		Payload       json.RawMessage `json:"payload"`
		Timestamp     time.Time       `json:"timestamp"`
		CorrelationID string          `json:"correlation_id,omitempty"`
	}
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	m.ID = a.ID
	m.Type = a.Type
	m.From = a.From
	m.To = a.To
	m.Timestamp = a.Timestamp
	m.CorrelationID = a.CorrelationID
	if len(a.Payload) == 0 || string(a.Payload) == "null" {
		m.Payload = nil
		return nil
	}
	p, err := UnmarshalPayload(a.Payload)
	if err != nil {
		return err
	}
	m.Payload = p
	return nil
}

// UnmarshalPayload decodes a payload envelope into its concrete variant.
func UnmarshalPayload(data []byte) (Payload, error) {
	var env payloadEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, err
	}
	switch env.Kind {
	case MessageTaskRequest:
		var p TaskRequestPayload
		return p, json.Unmarshal(data, &p)
	case MessageTaskResponse:
		var p TaskResponsePayload
		return p, json.Unmarshal(data, &p)
	case MessageContextUpdate:
		var p ContextUpdatePayload
		return p, json.Unmarshal(data, &p)
	case MessageBroadcast:
		var p BroadcastPayload
		return p, json.Unmarshal(data, &p)
	case MessageDirect:
		var p DirectPayload
		return p, json.Unmarshal(data, &p)
	default:
		return nil, fmt.Errorf("unknown payload kind %q", env.Kind)
	}
}
