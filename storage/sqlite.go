package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/hupe1980/agentcoop/core"
	_ "modernc.org/sqlite"
)

// SQLiteStore is a durable Storage implementation backed by a single SQLite
// database file. Records are serialized as JSON documents keyed by id, which
// keeps the schema stable as the domain types evolve. Suitable for
// single-node deployments; it survives process restarts but is not
// distributed.
type SQLiteStore struct {
	mu          sync.RWMutex
	path        string
	db          *sql.DB
	maxMessages int
}

// Compile-time interface compliance.
var _ core.Storage = (*SQLiteStore)(nil)

// NewSQLiteStore prepares a store writing to the given database path. The
// connection is opened by Connect. A non-positive message cap defaults to
// 1000 retained messages.
func NewSQLiteStore(path string, maxMessages int) *SQLiteStore {
	if maxMessages <= 0 {
		maxMessages = 1000
	}
	return &SQLiteStore{path: path, maxMessages: maxMessages}
}

// Connect opens the database, enables WAL mode and runs idempotent schema
// migrations.
func (s *SQLiteStore) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db != nil {
		return nil
	}

	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", s.path+"?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL")
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}

	// SQLite supports a single writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := migrate(ctx, db); err != nil {
		db.Close()
		return fmt.Errorf("migrate: %w", err)
	}

	s.db = db
	return nil
}

func migrate(ctx context.Context, db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS agents (
		id TEXT PRIMARY KEY,
		doc TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS tasks (
		id TEXT PRIMARY KEY,
		doc TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS contexts (
		id TEXT PRIMARY KEY,
		doc TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS messages (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL,
		timestamp DATETIME NOT NULL,
		doc TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_messages_timestamp ON messages(timestamp);
	`
	_, err := db.ExecContext(ctx, schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// Connected reports whether the database connection is open.
func (s *SQLiteStore) Connected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.db != nil
}

func (s *SQLiteStore) conn() (*sql.DB, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.db == nil {
		return nil, ErrNotConnected
	}
	return s.db, nil
}

func (s *SQLiteStore) saveDoc(ctx context.Context, table, id string, v any) error {
	db, err := s.conn()
	if err != nil {
		return err
	}
	doc, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s %s: %w", table, id, err)
	}
	_, err = db.ExecContext(ctx,
		fmt.Sprintf(`INSERT INTO %s (id, doc) VALUES (?, ?) ON CONFLICT(id) DO UPDATE SET doc = excluded.doc`, table),
		id, string(doc))
	return err
}

func (s *SQLiteStore) getDoc(ctx context.Context, table, id string, v any) error {
	db, err := s.conn()
	if err != nil {
		return err
	}
	var doc string
	err = db.QueryRowContext(ctx, fmt.Sprintf(`SELECT doc FROM %s WHERE id = ?`, table), id).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return json.Unmarshal([]byte(doc), v)
}

func (s *SQLiteStore) deleteDoc(ctx context.Context, table, id string) error {
	db, err := s.conn()
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = ?`, table), id)
	return err
}

func (s *SQLiteStore) listDocs(ctx context.Context, table string, decode func(doc string) error) error {
	db, err := s.conn()
	if err != nil {
		return err
	}
	rows, err := db.QueryContext(ctx, fmt.Sprintf(`SELECT doc FROM %s`, table))
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return err
		}
		if err := decode(doc); err != nil {
			return err
		}
	}
	return rows.Err()
}

// SaveAgent upserts the agent document.
func (s *SQLiteStore) SaveAgent(ctx context.Context, agent *core.Agent) error {
	return s.saveDoc(ctx, "agents", agent.ID, agent)
}

// GetAgent loads an agent document or returns ErrNotFound.
func (s *SQLiteStore) GetAgent(ctx context.Context, id string) (*core.Agent, error) {
	var agent core.Agent
	if err := s.getDoc(ctx, "agents", id, &agent); err != nil {
		return nil, err
	}
	return &agent, nil
}

// ListAgents loads every agent document.
func (s *SQLiteStore) ListAgents(ctx context.Context) ([]*core.Agent, error) {
	var out []*core.Agent
	err := s.listDocs(ctx, "agents", func(doc string) error {
		var agent core.Agent
		if err := json.Unmarshal([]byte(doc), &agent); err != nil {
			return err
		}
		out = append(out, &agent)
		return nil
	})
	return out, err
}

// DeleteAgent removes the agent document.
func (s *SQLiteStore) DeleteAgent(ctx context.Context, id string) error {
	return s.deleteDoc(ctx, "agents", id)
}

// SaveTask upserts the task document.
func (s *SQLiteStore) SaveTask(ctx context.Context, task *core.Task) error {
	return s.saveDoc(ctx, "tasks", task.ID, task)
}

// GetTask loads a task document or returns ErrNotFound.
func (s *SQLiteStore) GetTask(ctx context.Context, id string) (*core.Task, error) {
	var task core.Task
	if err := s.getDoc(ctx, "tasks", id, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

// ListTasks loads every task document.
func (s *SQLiteStore) ListTasks(ctx context.Context) ([]*core.Task, error) {
	var out []*core.Task
	err := s.listDocs(ctx, "tasks", func(doc string) error {
		var task core.Task
		if err := json.Unmarshal([]byte(doc), &task); err != nil {
			return err
		}
		out = append(out, &task)
		return nil
	})
	return out, err
}

// DeleteTask removes the task document.
func (s *SQLiteStore) DeleteTask(ctx context.Context, id string) error {
	return s.deleteDoc(ctx, "tasks", id)
}

// SaveContext upserts the context document.
func (s *SQLiteStore) SaveContext(ctx context.Context, c *core.Context) error {
	return s.saveDoc(ctx, "contexts", c.ID, c)
}

// GetContext loads a context document or returns ErrNotFound.
func (s *SQLiteStore) GetContext(ctx context.Context, id string) (*core.Context, error) {
	var c core.Context
	if err := s.getDoc(ctx, "contexts", id, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// ListContexts loads every context document.
func (s *SQLiteStore) ListContexts(ctx context.Context) ([]*core.Context, error) {
	var out []*core.Context
	err := s.listDocs(ctx, "contexts", func(doc string) error {
		var c core.Context
		if err := json.Unmarshal([]byte(doc), &c); err != nil {
			return err
		}
		out = append(out, &c)
		return nil
	})
	return out, err
}

// DeleteContext removes the context document.
func (s *SQLiteStore) DeleteContext(ctx context.Context, id string) error {
	return s.deleteDoc(ctx, "contexts", id)
}

// SaveMessage appends the message and trims the table to the retention cap.
func (s *SQLiteStore) SaveMessage(ctx context.Context, msg core.Message) error {
	db, err := s.conn()
	if err != nil {
		return err
	}
	doc, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message %s: %w", msg.ID, err)
	}
	if _, err := db.ExecContext(ctx,
		`INSERT INTO messages (id, timestamp, doc) VALUES (?, ?, ?)`,
		msg.ID, msg.Timestamp, string(doc)); err != nil {
		return err
	}
	_, err = db.ExecContext(ctx,
		`DELETE FROM messages WHERE seq <= (SELECT MAX(seq) FROM messages) - ?`, s.maxMessages)
	return err
}

// ListMessages returns stored messages in arrival order, optionally bounded
// by timestamp and count.
func (s *SQLiteStore) ListMessages(ctx context.Context, opts core.MessageQuery) ([]core.Message, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}

	query := `SELECT doc FROM messages`
	var args []any
	if !opts.Before.IsZero() {
		query += ` WHERE timestamp < ?`
		args = append(args, opts.Before)
	}
	query += ` ORDER BY seq DESC`
	if opts.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, opts.Limit)
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []core.Message
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		var msg core.Message
		if err := json.Unmarshal([]byte(doc), &msg); err != nil {
			return nil, err
		}
		out = append(out, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// Newest-first from the query; flip to arrival order.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}
