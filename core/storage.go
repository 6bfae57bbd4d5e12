package core

import (
	"context"
	"time"
)

// Storage is the write-through persistence boundary. The core holds the
// authoritative in-memory copy and never reads from storage to satisfy a
// query; implementations mirror create/update/delete calls into durable
// storage on a best-effort basis.
//
// Implementations must be safe for concurrent use.
type Storage interface {
	SaveAgent(ctx context.Context, agent *Agent) error
	GetAgent(ctx context.Context, id string) (*Agent, error)
	ListAgents(ctx context.Context) ([]*Agent, error)
	DeleteAgent(ctx context.Context, id string) error

	SaveTask(ctx context.Context, task *Task) error
	GetTask(ctx context.Context, id string) (*Task, error)
	ListTasks(ctx context.Context) ([]*Task, error)
	DeleteTask(ctx context.Context, id string) error

	SaveContext(ctx context.Context, c *Context) error
	GetContext(ctx context.Context, id string) (*Context, error)
	ListContexts(ctx context.Context) ([]*Context, error)
	DeleteContext(ctx context.Context, id string) error

	SaveMessage(ctx context.Context, msg Message) error
	ListMessages(ctx context.Context, opts MessageQuery) ([]Message, error)

	Connect(ctx context.Context) error
	Close() error
	Connected() bool
}

// MessageQuery narrows a stored-message listing. A zero Limit means no limit;
// a zero Before means no upper bound on timestamps.
type MessageQuery struct {
	Limit  int
	Before time.Time
}
