package core

import (
	"time"

	"github.com/google/uuid"
)

// Component event names emitted on the internal publish/subscribe tables.
// Bus message fan-out additionally uses EventMessageReceived plus a
// per-message-type name built with MessageEventName.
const (
	EventAgentRegistered    = "agent_registered"
	EventAgentUnregistered  = "agent_unregistered"
	EventAgentStatusChanged = "agent_status_changed"

	EventMessageReceived = "message_received"

	EventContextCreated            = "context_created"
	EventContextUpdated            = "context_updated"
	EventContextDeleted            = "context_deleted"
	EventContextParticipantAdded   = "context_participant_added"
	EventContextParticipantRemoved = "context_participant_removed"

	EventTaskCreated   = "task_created"
	EventTaskAssigned  = "task_assigned"
	EventTaskStarted   = "task_started"
	EventTaskCompleted = "task_completed"
	EventTaskFailed    = "task_failed"
	EventTaskCancelled = "task_cancelled"
)

// MessageEventName returns the type-scoped bus event name for a message type,
// e.g. "message:direct".
func MessageEventName(t MessageType) string { return "message:" + string(t) }

// Event is the unit delivered to subscribers of a component's emitter. After
// emission it should be treated as immutable.
type Event struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload"`
}

// NewID generates a collision-resistant unique identifier used for agents,
// messages, contexts, tasks and artifacts.
func NewID() string { return uuid.NewString() }
