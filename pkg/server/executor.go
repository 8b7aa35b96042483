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

// Package server exposes the weather agent over the A2A protocol.
//
// Executor implements a2asrv.AgentExecutor and translates agent updates
// into A2A events:
//   - New task: TaskStatusUpdateEvent with TaskStateSubmitted
//   - Each non-final agent update: TaskStatusUpdateEvent with TaskStateWorking
//   - Final agent update: TaskArtifactUpdateEvent with the response text
//     (LastChunk=true), then TaskStatusUpdateEvent with TaskStateCompleted
//   - Agent error: exactly one TaskStatusUpdateEvent with TaskStateFailed
//   - Cancel: TaskStatusUpdateEvent with TaskStateCanceled
package server

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/a2aproject/a2a-go/a2a"
	"github.com/a2aproject/a2a-go/a2asrv"
	"github.com/a2aproject/a2a-go/a2asrv/eventqueue"

	"github.com/kadirpekel/skycast/pkg/agent"
)

// supportedOutputModes lists the media types the agent can produce.
var supportedOutputModes = []string{"text", "text/plain"}

// eventWriter is the queue surface the executor needs.
type eventWriter interface {
	Write(ctx context.Context, event a2a.Event) error
}

// Executor bridges the weather agent to a2asrv.AgentExecutor.
type Executor struct {
	agent   *agent.Agent
	metrics *Metrics
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithMetrics attaches task metrics to the executor.
func WithMetrics(m *Metrics) ExecutorOption {
	return func(e *Executor) {
		e.metrics = m
	}
}

// NewExecutor creates an Executor for the given agent.
func NewExecutor(a *agent.Agent, opts ...ExecutorOption) (*Executor, error) {
	if a == nil {
		return nil, fmt.Errorf("agent is required")
	}

	e := &Executor{agent: a}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Execute implements a2asrv.AgentExecutor.
func (e *Executor) Execute(ctx context.Context, reqCtx *a2asrv.RequestContext, queue eventqueue.Queue) error {
	return e.execute(ctx, reqCtx, queue)
}

func (e *Executor) execute(ctx context.Context, reqCtx *a2asrv.RequestContext, q eventWriter) error {
	start := time.Now()

	msg := reqCtx.Message
	if msg == nil {
		slog.Error("Execute: message not provided")
		return fmt.Errorf("message not provided")
	}

	if err := validateOutputModes(acceptedOutputModes(msg)); err != nil {
		slog.Error("Execute: output mode validation failed", "error", err)
		return err
	}

	query, err := extractQuery(msg)
	if err != nil {
		slog.Error("Execute: query extraction failed", "error", err)
		return err
	}

	// Emit TaskStateSubmitted for new tasks
	if reqCtx.StoredTask == nil {
		event := a2a.NewStatusUpdateEvent(reqCtx, a2a.TaskStateSubmitted, nil)
		if err := q.Write(ctx, event); err != nil {
			return fmt.Errorf("failed to write submitted event: %w", err)
		}
	}

	slog.Debug("Execute: running agent", "taskID", reqCtx.TaskID, "contextID", reqCtx.ContextID)

	// lastText tracks the latest response content for the artifact. The
	// first update is a boilerplate processing notice and is skipped.
	var lastText string
	first := true
	for update, err := range e.agent.Stream(ctx, query, reqCtx.ContextID) {
		if err != nil {
			e.observeTask(a2a.TaskStateFailed, start)
			failed := toFailedStatusEvent(reqCtx, fmt.Errorf("agent run failed: %w", err))
			if writeErr := q.Write(ctx, failed); writeErr != nil {
				return fmt.Errorf("failed to write error event: %w (original: %w)", writeErr, err)
			}
			return nil
		}

		if update.TaskComplete {
			return e.finish(ctx, reqCtx, q, lastText, update.Content, start)
		}

		if update.RequireInput {
			e.observeTask(a2a.TaskStateInputRequired, start)
			event := a2a.NewStatusUpdateEvent(reqCtx, a2a.TaskStateInputRequired, taskMessage(reqCtx, update.Content))
			event.Final = true
			return q.Write(ctx, event)
		}

		event := a2a.NewStatusUpdateEvent(reqCtx, a2a.TaskStateWorking, taskMessage(reqCtx, update.Content))
		if err := q.Write(ctx, event); err != nil {
			return fmt.Errorf("failed to write working event: %w", err)
		}
		if first {
			first = false
		} else {
			lastText = update.Content
		}
	}

	// The agent always ends its stream with a final update, so getting here
	// means the consumer stopped the iteration.
	return nil
}

// finish emits the response artifact and the completed terminal event.
func (e *Executor) finish(ctx context.Context, reqCtx *a2asrv.RequestContext, q eventWriter, lastText, finalText string, start time.Time) error {
	text := lastText
	if text == "" {
		text = finalText
	}

	artifact := a2a.NewArtifactEvent(reqCtx, a2a.TextPart{Text: text})
	artifact.LastChunk = true
	if err := q.Write(ctx, artifact); err != nil {
		return fmt.Errorf("failed to write artifact event: %w", err)
	}

	event := a2a.NewStatusUpdateEvent(reqCtx, a2a.TaskStateCompleted, taskMessage(reqCtx, finalText))
	event.Final = true
	if err := q.Write(ctx, event); err != nil {
		return fmt.Errorf("failed to write completed event: %w", err)
	}

	e.observeTask(a2a.TaskStateCompleted, start)
	return nil
}

// Cancel implements a2asrv.AgentExecutor. Each run is independent, so
// cancellation just marks the task canceled.
func (e *Executor) Cancel(ctx context.Context, reqCtx *a2asrv.RequestContext, queue eventqueue.Queue) error {
	return e.cancel(ctx, reqCtx, queue)
}

func (e *Executor) cancel(ctx context.Context, reqCtx *a2asrv.RequestContext, q eventWriter) error {
	e.observeTask(a2a.TaskStateCanceled, time.Now())
	event := a2a.NewStatusUpdateEvent(reqCtx, a2a.TaskStateCanceled, nil)
	event.Final = true
	return q.Write(ctx, event)
}

func (e *Executor) observeTask(state a2a.TaskState, start time.Time) {
	if e.metrics != nil {
		e.metrics.ObserveTask(state, time.Since(start))
	}
}

// extractQuery pulls the user query out of the message. The first part
// must be text; any further text parts are appended.
func extractQuery(msg *a2a.Message) (string, error) {
	if len(msg.Parts) == 0 {
		return "", fmt.Errorf("message has no parts")
	}

	first, ok := msg.Parts[0].(a2a.TextPart)
	if !ok {
		return "", fmt.Errorf("unsupported message part type %T: only text is supported", msg.Parts[0])
	}

	query := first.Text
	for _, part := range msg.Parts[1:] {
		if tp, ok := part.(a2a.TextPart); ok {
			query += "\n" + tp.Text
		}
	}

	if strings.TrimSpace(query) == "" {
		return "", fmt.Errorf("message text is empty")
	}
	return query, nil
}

// validateOutputModes checks the client's accepted output modes against
// what the agent can produce. An empty list means no preference.
func validateOutputModes(accepted []string) error {
	if len(accepted) == 0 {
		return nil
	}
	for _, mode := range accepted {
		for _, supported := range supportedOutputModes {
			if strings.EqualFold(mode, supported) {
				return nil
			}
		}
	}
	return fmt.Errorf("unsupported output modes %v (supported: %v)", accepted, supportedOutputModes)
}

// acceptedOutputModes reads the client's accepted output modes from the
// message metadata, mirroring the acceptedOutputModes send configuration.
func acceptedOutputModes(msg *a2a.Message) []string {
	if msg.Metadata == nil {
		return nil
	}

	switch v := msg.Metadata["acceptedOutputModes"].(type) {
	case []string:
		return v
	case []any:
		modes := make([]string, 0, len(v))
		for _, m := range v {
			if s, ok := m.(string); ok {
				modes = append(modes, s)
			}
		}
		return modes
	}
	return nil
}

func taskMessage(reqCtx *a2asrv.RequestContext, text string) *a2a.Message {
	return a2a.NewMessageForTask(a2a.MessageRoleAgent, reqCtx, a2a.TextPart{Text: text})
}

func toFailedStatusEvent(reqCtx *a2asrv.RequestContext, cause error) *a2a.TaskStatusUpdateEvent {
	event := a2a.NewStatusUpdateEvent(reqCtx, a2a.TaskStateFailed, taskMessage(reqCtx, cause.Error()))
	event.Final = true
	return event
}

// Ensure Executor implements a2asrv.AgentExecutor
var _ a2asrv.AgentExecutor = (*Executor)(nil)
