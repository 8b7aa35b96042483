// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package task

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/a2aproject/a2a-go/a2a"
	"github.com/a2aproject/a2a-go/a2asrv"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// SQLStore is a SQL-backed a2asrv.TaskStore. Task status, history,
// artifacts and metadata are stored as JSON columns so the schema stays
// stable across protocol revisions.
type SQLStore struct {
	db      *sql.DB
	dialect string
}

const createTasksTableSQL = `
CREATE TABLE IF NOT EXISTS a2a_tasks (
    id VARCHAR(255) PRIMARY KEY,
    context_id VARCHAR(255) NOT NULL,
    status_json TEXT NOT NULL,
    history_json TEXT,
    artifacts_json TEXT,
    metadata_json TEXT,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
)`

// Index creation is split into separate statements for SQLite.
var createTasksIndexSQL = []string{
	`CREATE INDEX IF NOT EXISTS idx_a2a_tasks_context_id ON a2a_tasks(context_id)`,
	`CREATE INDEX IF NOT EXISTS idx_a2a_tasks_updated_at ON a2a_tasks(updated_at)`,
}

// NewSQLStore creates a SQL-backed TaskStore and initializes its schema.
// The db connection should be shared with any other services on the same
// database to avoid SQLite "database is locked" errors.
func NewSQLStore(db *sql.DB, dialect string) (*SQLStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}

	normalized := dialect
	if dialect == "sqlite3" {
		normalized = "sqlite"
	}
	switch normalized {
	case "postgres", "mysql", "sqlite":
	default:
		return nil, fmt.Errorf("unsupported dialect: %s (supported: postgres, mysql, sqlite)", dialect)
	}

	s := &SQLStore{db: db, dialect: normalized}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return s, nil
}

func (s *SQLStore) initSchema() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if _, err := s.db.ExecContext(ctx, createTasksTableSQL); err != nil {
		return fmt.Errorf("failed to create a2a_tasks table: %w", err)
	}
	for _, stmt := range createTasksIndexSQL {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}

	return nil
}

// upsertSQL returns the dialect-specific insert-or-update statement.
func (s *SQLStore) upsertSQL() string {
	switch s.dialect {
	case "postgres":
		return `
INSERT INTO a2a_tasks (id, context_id, status_json, history_json, artifacts_json, metadata_json, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (id) DO UPDATE SET
    context_id = EXCLUDED.context_id,
    status_json = EXCLUDED.status_json,
    history_json = EXCLUDED.history_json,
    artifacts_json = EXCLUDED.artifacts_json,
    metadata_json = EXCLUDED.metadata_json,
    updated_at = EXCLUDED.updated_at`
	case "mysql":
		return `
INSERT INTO a2a_tasks (id, context_id, status_json, history_json, artifacts_json, metadata_json, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON DUPLICATE KEY UPDATE
    context_id = VALUES(context_id),
    status_json = VALUES(status_json),
    history_json = VALUES(history_json),
    artifacts_json = VALUES(artifacts_json),
    metadata_json = VALUES(metadata_json),
    updated_at = VALUES(updated_at)`
	default:
		// SQLite 3.24+ UPSERT preserves created_at, unlike INSERT OR REPLACE.
		return `
INSERT INTO a2a_tasks (id, context_id, status_json, history_json, artifacts_json, metadata_json, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
    context_id = excluded.context_id,
    status_json = excluded.status_json,
    history_json = excluded.history_json,
    artifacts_json = excluded.artifacts_json,
    metadata_json = excluded.metadata_json,
    updated_at = excluded.updated_at`
	}
}

// getSQL returns the dialect-specific select-by-id statement.
func (s *SQLStore) getSQL() string {
	if s.dialect == "postgres" {
		return `
SELECT id, context_id, status_json, history_json, artifacts_json, metadata_json
FROM a2a_tasks
WHERE id = $1`
	}
	return `
SELECT id, context_id, status_json, history_json, artifacts_json, metadata_json
FROM a2a_tasks
WHERE id = ?`
}

// Save stores or replaces a task (implements a2asrv.TaskStore).
func (s *SQLStore) Save(ctx context.Context, task *a2a.Task) error {
	if task == nil {
		return fmt.Errorf("task is required")
	}

	statusJSON, historyJSON, artifactsJSON, metadataJSON, err := serializeTask(task)
	if err != nil {
		return fmt.Errorf("failed to serialize task: %w", err)
	}

	now := time.Now()
	_, err = s.db.ExecContext(ctx, s.upsertSQL(),
		string(task.ID), task.ContextID,
		statusJSON, historyJSON, artifactsJSON, metadataJSON,
		now, now,
	)
	if err != nil {
		return fmt.Errorf("failed to save task: %w", err)
	}

	slog.Debug("Task saved", "taskID", task.ID, "state", task.Status.State)
	return nil
}

// Get retrieves a task by ID (implements a2asrv.TaskStore). Unknown IDs
// return a2a.ErrTaskNotFound.
func (s *SQLStore) Get(ctx context.Context, taskID a2a.TaskID) (*a2a.Task, error) {
	var (
		id, contextID                                        string
		statusJSON, historyJSON, artifactsJSON, metadataJSON string
	)
	err := s.db.QueryRowContext(ctx, s.getSQL(), string(taskID)).Scan(
		&id, &contextID, &statusJSON, &historyJSON, &artifactsJSON, &metadataJSON,
	)
	if err == sql.ErrNoRows {
		return nil, a2a.ErrTaskNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query task: %w", err)
	}

	return deserializeTask(id, contextID, statusJSON, historyJSON, artifactsJSON, metadataJSON)
}

// Close closes the database connection.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

func serializeTask(task *a2a.Task) (status, history, artifacts, metadata string, err error) {
	statusJSON, err := json.Marshal(task.Status)
	if err != nil {
		return "", "", "", "", fmt.Errorf("failed to marshal status: %w", err)
	}

	historyJSON := []byte("[]")
	if len(task.History) > 0 {
		if historyJSON, err = json.Marshal(task.History); err != nil {
			return "", "", "", "", fmt.Errorf("failed to marshal history: %w", err)
		}
	}

	artifactsJSON := []byte("[]")
	if len(task.Artifacts) > 0 {
		if artifactsJSON, err = json.Marshal(task.Artifacts); err != nil {
			return "", "", "", "", fmt.Errorf("failed to marshal artifacts: %w", err)
		}
	}

	metadataJSON := []byte("{}")
	if len(task.Metadata) > 0 {
		if metadataJSON, err = json.Marshal(task.Metadata); err != nil {
			return "", "", "", "", fmt.Errorf("failed to marshal metadata: %w", err)
		}
	}

	return string(statusJSON), string(historyJSON), string(artifactsJSON), string(metadataJSON), nil
}

func deserializeTask(id, contextID, statusJSON, historyJSON, artifactsJSON, metadataJSON string) (*a2a.Task, error) {
	task := &a2a.Task{
		ID:        a2a.TaskID(id),
		ContextID: contextID,
		History:   make([]*a2a.Message, 0),
		Artifacts: make([]*a2a.Artifact, 0),
		Metadata:  make(map[string]any),
	}

	if statusJSON == "" {
		return nil, fmt.Errorf("status_json is required but was empty")
	}
	if err := json.Unmarshal([]byte(statusJSON), &task.Status); err != nil {
		return nil, fmt.Errorf("failed to unmarshal status: %w", err)
	}

	if historyJSON != "" && historyJSON != "[]" {
		if err := json.Unmarshal([]byte(historyJSON), &task.History); err != nil {
			return nil, fmt.Errorf("failed to unmarshal history: %w", err)
		}
	}
	if artifactsJSON != "" && artifactsJSON != "[]" {
		if err := json.Unmarshal([]byte(artifactsJSON), &task.Artifacts); err != nil {
			return nil, fmt.Errorf("failed to unmarshal artifacts: %w", err)
		}
	}
	if metadataJSON != "" && metadataJSON != "{}" {
		if err := json.Unmarshal([]byte(metadataJSON), &task.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}

	return task, nil
}

// Compile-time interface compliance check
var _ a2asrv.TaskStore = (*SQLStore)(nil)
