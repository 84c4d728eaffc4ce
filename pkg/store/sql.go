// Package store provides SQL-backed persistence for sessions and
// workflows, supporting PostgreSQL, MySQL, and SQLite via database/sql —
// the same dialect-parameterized, JSON-column approach the teacher uses
// for its own SQL-backed services.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	// Database drivers, blank-imported for side-effect registration.
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/stepflowhq/stepflow/pkg/session"
	"github.com/stepflowhq/stepflow/pkg/workflow"
)

// Dialect names the supported SQL backends.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectMySQL    Dialect = "mysql"
	DialectSQLite   Dialect = "sqlite"
)

func (d Dialect) driverName() string {
	if d == DialectSQLite {
		return "sqlite3"
	}
	return string(d)
}

func (d Dialect) placeholder(n int) string {
	if d == DialectPostgres {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

// Open opens a database/sql connection for dialect against dsn and
// verifies it with a bounded ping, mirroring the teacher's SQL task
// service's connection setup.
func Open(ctx context.Context, dialect Dialect, dsn string) (*sql.DB, error) {
	switch dialect {
	case DialectPostgres, DialectMySQL, DialectSQLite:
	default:
		return nil, fmt.Errorf("store: unsupported dialect %q", dialect)
	}

	db, err := sql.Open(dialect.driverName(), dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", dialect, err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: ping %s: %w", dialect, err)
	}
	return db, nil
}

// SessionStore is a SQL-backed session.Store persisting SessionState as a
// single JSON-text column per spec.md section 6's "sessions(session_id
// PK, state JSON, created_at, updated_at)" layout.
type SessionStore struct {
	db      *sql.DB
	dialect Dialect
}

// NewSessionStore creates the sessions table if absent and returns a
// SessionStore over db.
func NewSessionStore(ctx context.Context, db *sql.DB, dialect Dialect) (*SessionStore, error) {
	s := &SessionStore{db: db, dialect: dialect}
	if err := s.initSchema(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SessionStore) initSchema(ctx context.Context) error {
	const schema = `
CREATE TABLE IF NOT EXISTS sessions (
    session_id VARCHAR(64) PRIMARY KEY,
    state TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);
`
	_, err := s.db.ExecContext(ctx, schema)
	if err != nil {
		return fmt.Errorf("store: create sessions schema: %w", err)
	}
	return nil
}

func (s *SessionStore) Create(ctx context.Context) (*session.State, error) {
	id := uuid.NewString()
	state := session.New(id)
	now := time.Now()

	data, err := json.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("store: marshal session %s: %w", id, err)
	}

	query := fmt.Sprintf(
		"INSERT INTO sessions (session_id, state, created_at, updated_at) VALUES (%s, %s, %s, %s)",
		s.dialect.placeholder(1), s.dialect.placeholder(2), s.dialect.placeholder(3), s.dialect.placeholder(4),
	)
	if _, err := s.db.ExecContext(ctx, query, id, string(data), now, now); err != nil {
		return nil, fmt.Errorf("store: insert session %s: %w", id, err)
	}
	return state, nil
}

func (s *SessionStore) Get(ctx context.Context, id string) (*session.State, error) {
	query := fmt.Sprintf("SELECT state FROM sessions WHERE session_id = %s", s.dialect.placeholder(1))
	var raw string
	err := s.db.QueryRowContext(ctx, query, id).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, session.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: query session %s: %w", id, err)
	}

	var state session.State
	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		return nil, fmt.Errorf("store: unmarshal session %s: %w", id, err)
	}
	return &state, nil
}

func (s *SessionStore) Save(ctx context.Context, state *session.State) error {
	state.UpdatedAt = time.Now()
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("store: marshal session %s: %w", state.SessionID, err)
	}

	query := fmt.Sprintf(
		"UPDATE sessions SET state = %s, updated_at = %s WHERE session_id = %s",
		s.dialect.placeholder(1), s.dialect.placeholder(2), s.dialect.placeholder(3),
	)
	res, err := s.db.ExecContext(ctx, query, string(data), state.UpdatedAt, state.SessionID)
	if err != nil {
		return fmt.Errorf("store: update session %s: %w", state.SessionID, err)
	}
	if rows, err := res.RowsAffected(); err == nil && rows == 0 {
		return session.ErrNotFound
	}
	return nil
}

func (s *SessionStore) Delete(ctx context.Context, id string) (bool, error) {
	query := fmt.Sprintf("DELETE FROM sessions WHERE session_id = %s", s.dialect.placeholder(1))
	res, err := s.db.ExecContext(ctx, query, id)
	if err != nil {
		return false, fmt.Errorf("store: delete session %s: %w", id, err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("store: rows affected for delete %s: %w", id, err)
	}
	return rows > 0, nil
}

func (s *SessionStore) List(ctx context.Context) ([]*session.State, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT state FROM sessions")
	if err != nil {
		return nil, fmt.Errorf("store: list sessions: %w", err)
	}
	defer rows.Close()

	var out []*session.State
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("store: scan session row: %w", err)
		}
		var state session.State
		if err := json.Unmarshal([]byte(raw), &state); err != nil {
			return nil, fmt.Errorf("store: unmarshal session row: %w", err)
		}
		out = append(out, &state)
	}
	return out, rows.Err()
}

var _ session.Store = (*SessionStore)(nil)

// WorkflowStore is a SQL-backed workflow.Store persisting Workflow
// definitions as a single JSON-text column per spec.md section 6's
// "workflows(workflow_id PK, title, workflow_data JSON, version,
// created_at, updated_at)" layout.
type WorkflowStore struct {
	db      *sql.DB
	dialect Dialect
}

// NewWorkflowStore creates the workflows table if absent and returns a
// WorkflowStore over db.
func NewWorkflowStore(ctx context.Context, db *sql.DB, dialect Dialect) (*WorkflowStore, error) {
	s := &WorkflowStore{db: db, dialect: dialect}
	if err := s.initSchema(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *WorkflowStore) initSchema(ctx context.Context) error {
	const schema = `
CREATE TABLE IF NOT EXISTS workflows (
    workflow_id VARCHAR(128) PRIMARY KEY,
    title VARCHAR(255) NOT NULL,
    workflow_data TEXT NOT NULL,
    version INTEGER NOT NULL DEFAULT 1,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);
`
	_, err := s.db.ExecContext(ctx, schema)
	if err != nil {
		return fmt.Errorf("store: create workflows schema: %w", err)
	}
	return nil
}

// Put inserts or replaces a workflow definition, storing w.Version as given
// and setting updated_at to now. Exposed for the seeding pipeline that
// loads YAML-authored workflows into a durable store.
func (s *WorkflowStore) Put(ctx context.Context, w *workflow.Workflow) error {
	if err := w.Validate(); err != nil {
		return fmt.Errorf("store: validate workflow %s: %w", w.Name, err)
	}

	data, err := json.Marshal(w)
	if err != nil {
		return fmt.Errorf("store: marshal workflow %s: %w", w.Name, err)
	}
	now := time.Now()

	var upsert string
	switch s.dialect {
	case DialectPostgres:
		upsert = `
INSERT INTO workflows (workflow_id, title, workflow_data, version, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $5)
ON CONFLICT (workflow_id) DO UPDATE SET
    title = EXCLUDED.title, workflow_data = EXCLUDED.workflow_data,
    version = EXCLUDED.version, updated_at = EXCLUDED.updated_at
`
	case DialectMySQL:
		upsert = `
INSERT INTO workflows (workflow_id, title, workflow_data, version, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?)
ON DUPLICATE KEY UPDATE title = VALUES(title), workflow_data = VALUES(workflow_data),
    version = VALUES(version), updated_at = VALUES(updated_at)
`
	default: // sqlite
		upsert = `
INSERT INTO workflows (workflow_id, title, workflow_data, version, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT (workflow_id) DO UPDATE SET title = excluded.title, workflow_data = excluded.workflow_data,
    version = excluded.version, updated_at = excluded.updated_at
`
	}

	var execErr error
	if s.dialect == DialectPostgres {
		_, execErr = s.db.ExecContext(ctx, upsert, w.Name, w.Title, string(data), w.Version, now)
	} else {
		_, execErr = s.db.ExecContext(ctx, upsert, w.Name, w.Title, string(data), w.Version, now, now)
	}
	if execErr != nil {
		return fmt.Errorf("store: upsert workflow %s: %w", w.Name, execErr)
	}
	return nil
}

func (s *WorkflowStore) Get(id string) (*workflow.Workflow, error) {
	query := fmt.Sprintf("SELECT workflow_data FROM workflows WHERE workflow_id = %s", s.dialect.placeholder(1))
	var raw string
	err := s.db.QueryRowContext(context.Background(), query, id).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, workflow.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: query workflow %s: %w", id, err)
	}

	var w workflow.Workflow
	if err := json.Unmarshal([]byte(raw), &w); err != nil {
		return nil, fmt.Errorf("store: unmarshal workflow %s: %w", id, err)
	}
	return &w, nil
}

func (s *WorkflowStore) Exists(id string) bool {
	query := fmt.Sprintf("SELECT 1 FROM workflows WHERE workflow_id = %s", s.dialect.placeholder(1))
	var dummy int
	err := s.db.QueryRowContext(context.Background(), query, id).Scan(&dummy)
	return err == nil
}

var _ workflow.Store = (*WorkflowStore)(nil)
