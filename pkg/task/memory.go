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

// Package task provides a2asrv.TaskStore implementations: an in-memory
// store for single-process deployments and a SQL-backed store for
// persistence across restarts.
package task

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/a2aproject/a2a-go/a2a"
	"github.com/a2aproject/a2a-go/a2asrv"
)

// MemoryStore is an in-memory a2asrv.TaskStore. Save acts as an upsert,
// so a task can be stored before any status update references it. Tasks
// are copied on both Save and Get so callers cannot mutate stored state.
type MemoryStore struct {
	mu    sync.RWMutex
	tasks map[a2a.TaskID]*a2a.Task
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tasks: make(map[a2a.TaskID]*a2a.Task),
	}
}

// Save stores or replaces a task (implements a2asrv.TaskStore).
func (s *MemoryStore) Save(ctx context.Context, task *a2a.Task) error {
	if task == nil {
		return fmt.Errorf("task is required")
	}
	if task.ID == "" {
		return fmt.Errorf("task id is required")
	}

	copied, err := cloneTask(task)
	if err != nil {
		return fmt.Errorf("failed to copy task: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[task.ID] = copied

	return nil
}

// Get retrieves a task by ID (implements a2asrv.TaskStore). Unknown IDs
// return a2a.ErrTaskNotFound and leave the store untouched.
func (s *MemoryStore) Get(ctx context.Context, taskID a2a.TaskID) (*a2a.Task, error) {
	s.mu.RLock()
	stored, ok := s.tasks[taskID]
	s.mu.RUnlock()

	if !ok {
		return nil, a2a.ErrTaskNotFound
	}

	copied, err := cloneTask(stored)
	if err != nil {
		return nil, fmt.Errorf("failed to copy task: %w", err)
	}
	return copied, nil
}

// Len returns the number of stored tasks.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tasks)
}

// cloneTask deep-copies a task via a JSON round-trip.
func cloneTask(task *a2a.Task) (*a2a.Task, error) {
	data, err := json.Marshal(task)
	if err != nil {
		return nil, err
	}

	var copied a2a.Task
	if err := json.Unmarshal(data, &copied); err != nil {
		return nil, err
	}
	return &copied, nil
}

// Compile-time interface compliance check
var _ a2asrv.TaskStore = (*MemoryStore)(nil)
