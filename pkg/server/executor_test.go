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

package server

import (
	"context"
	"fmt"
	"iter"
	"testing"

	"github.com/a2aproject/a2a-go/a2a"
	"github.com/a2aproject/a2a-go/a2asrv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/skycast/pkg/agent"
	"github.com/kadirpekel/skycast/pkg/model"
	"github.com/kadirpekel/skycast/pkg/tool"
	"github.com/kadirpekel/skycast/pkg/tool/weathertool"
)

// recordingQueue captures the events the executor writes.
type recordingQueue struct {
	events []a2a.Event
	err    error
}

func (q *recordingQueue) Write(ctx context.Context, event a2a.Event) error {
	if q.err != nil {
		return q.err
	}
	q.events = append(q.events, event)
	return nil
}

// scriptedLLM yields one canned response per call.
type scriptedLLM struct {
	responses []*model.Response
	errs      []error
	calls     int
}

func (f *scriptedLLM) Name() string { return "scripted" }
func (f *scriptedLLM) Close() error { return nil }

func (f *scriptedLLM) GenerateContent(ctx context.Context, req *model.Request, stream bool) iter.Seq2[*model.Response, error] {
	return func(yield func(*model.Response, error) bool) {
		i := f.calls
		f.calls++

		if i < len(f.errs) && f.errs[i] != nil {
			yield(nil, f.errs[i])
			return
		}
		if i >= len(f.responses) {
			yield(nil, fmt.Errorf("scripted: unexpected call %d", i))
			return
		}
		yield(f.responses[i], nil)
	}
}

func scriptedText(text string) *model.Response {
	return &model.Response{
		Content: &model.Content{
			Parts: []a2a.Part{a2a.TextPart{Text: text}},
			Role:  a2a.MessageRoleAgent,
		},
		TurnComplete: true,
		FinishReason: model.FinishReasonStop,
	}
}

func scriptedToolCall(id, name string, args map[string]any) *model.Response {
	return &model.Response{
		Content:      &model.Content{Role: a2a.MessageRoleAgent},
		ToolCalls:    []tool.ToolCall{{ID: id, Name: name, Args: args}},
		FinishReason: model.FinishReasonToolCalls,
	}
}

func newExecutor(t *testing.T, llm model.LLM) *Executor {
	t.Helper()

	wt, err := weathertool.New()
	require.NoError(t, err)
	a, err := agent.New(llm, agent.WithTools(wt))
	require.NoError(t, err)
	e, err := NewExecutor(a)
	require.NoError(t, err)
	return e
}

func newRequest(text string) *a2asrv.RequestContext {
	return &a2asrv.RequestContext{
		TaskID:    "task-1",
		ContextID: "ctx-1",
		Message:   a2a.NewMessage(a2a.MessageRoleUser, a2a.TextPart{Text: text}),
	}
}

func statusEvents(t *testing.T, events []a2a.Event) []*a2a.TaskStatusUpdateEvent {
	t.Helper()
	var out []*a2a.TaskStatusUpdateEvent
	for _, ev := range events {
		if s, ok := ev.(*a2a.TaskStatusUpdateEvent); ok {
			out = append(out, s)
		}
	}
	return out
}

func artifactEvents(t *testing.T, events []a2a.Event) []*a2a.TaskArtifactUpdateEvent {
	t.Helper()
	var out []*a2a.TaskArtifactUpdateEvent
	for _, ev := range events {
		if a, ok := ev.(*a2a.TaskArtifactUpdateEvent); ok {
			out = append(out, a)
		}
	}
	return out
}

func artifactText(t *testing.T, ev *a2a.TaskArtifactUpdateEvent) string {
	t.Helper()
	var text string
	for _, part := range ev.Artifact.Parts {
		if tp, ok := part.(a2a.TextPart); ok {
			text += tp.Text
		}
	}
	return text
}

func TestExecuteTokyoWeather(t *testing.T) {
	llm := &scriptedLLM{
		responses: []*model.Response{
			scriptedToolCall("call_1", "get_weather", map[string]any{"location": "Tokyo"}),
			scriptedText("The weather in Tokyo is Rainy with a temperature of 28°C and humidity of 75%. TERMINATE"),
		},
	}
	e := newExecutor(t, llm)
	queue := &recordingQueue{}

	err := e.execute(context.Background(), newRequest("What's the weather in Tokyo?"), queue)
	require.NoError(t, err)

	statuses := statusEvents(t, queue.events)
	require.NotEmpty(t, statuses)
	assert.Equal(t, a2a.TaskStateSubmitted, statuses[0].Status.State)

	last := statuses[len(statuses)-1]
	assert.Equal(t, a2a.TaskStateCompleted, last.Status.State)
	assert.True(t, last.Final)

	// All status events before the terminal one are non-final working updates.
	for _, s := range statuses[1 : len(statuses)-1] {
		assert.Equal(t, a2a.TaskStateWorking, s.Status.State)
		assert.False(t, s.Final)
	}

	artifacts := artifactEvents(t, queue.events)
	require.Len(t, artifacts, 1)
	assert.True(t, artifacts[0].LastChunk)
	text := artifactText(t, artifacts[0])
	assert.Contains(t, text, "Tokyo")
	assert.Contains(t, text, "Rainy")
	assert.Contains(t, text, "28")
	assert.Contains(t, text, "75")
}

func TestExecuteBoundedWorkingEvents(t *testing.T) {
	llm := &scriptedLLM{
		responses: []*model.Response{
			scriptedText("working on it"),
			scriptedText("working on it"),
			scriptedText("working on it"),
			scriptedText("working on it"),
		},
	}
	e := newExecutor(t, llm)
	queue := &recordingQueue{}

	err := e.execute(context.Background(), newRequest("hello"), queue)
	require.NoError(t, err)

	var nonFinal, finals int
	for _, s := range statusEvents(t, queue.events) {
		if s.Status.State == a2a.TaskStateSubmitted {
			continue
		}
		if s.Final {
			finals++
			assert.Equal(t, a2a.TaskStateCompleted, s.Status.State)
		} else {
			nonFinal++
		}
	}
	assert.LessOrEqual(t, nonFinal, 5)
	assert.Equal(t, 1, finals)
}

func TestExecuteAgentErrorEmitsSingleFailedEvent(t *testing.T) {
	llm := &scriptedLLM{errs: []error{fmt.Errorf("model unavailable")}}
	e := newExecutor(t, llm)
	queue := &recordingQueue{}

	err := e.execute(context.Background(), newRequest("hello"), queue)
	require.NoError(t, err)

	var failed []*a2a.TaskStatusUpdateEvent
	for _, s := range statusEvents(t, queue.events) {
		if s.Status.State == a2a.TaskStateFailed {
			failed = append(failed, s)
		}
	}
	require.Len(t, failed, 1)
	assert.True(t, failed[0].Final)
	require.NotNil(t, failed[0].Status.Message)

	// No terminal completed event after a failure.
	last := queue.events[len(queue.events)-1]
	ev, ok := last.(*a2a.TaskStatusUpdateEvent)
	require.True(t, ok)
	assert.Equal(t, a2a.TaskStateFailed, ev.Status.State)
}

func TestExecuteSkipsSubmittedForStoredTask(t *testing.T) {
	llm := &scriptedLLM{
		responses: []*model.Response{scriptedText("done TERMINATE")},
	}
	e := newExecutor(t, llm)
	queue := &recordingQueue{}

	reqCtx := newRequest("hello")
	reqCtx.StoredTask = &a2a.Task{
		ID:        "task-1",
		ContextID: "ctx-1",
		Status:    a2a.TaskStatus{State: a2a.TaskStateWorking},
	}

	err := e.execute(context.Background(), reqCtx, queue)
	require.NoError(t, err)

	for _, s := range statusEvents(t, queue.events) {
		assert.NotEqual(t, a2a.TaskStateSubmitted, s.Status.State)
	}
}

func TestExecuteRejectsMissingMessage(t *testing.T) {
	e := newExecutor(t, &scriptedLLM{})
	queue := &recordingQueue{}

	err := e.execute(context.Background(), &a2asrv.RequestContext{TaskID: "task-1"}, queue)
	require.Error(t, err)
	assert.Empty(t, queue.events)
}

func TestExecuteRejectsNonTextMessage(t *testing.T) {
	e := newExecutor(t, &scriptedLLM{})
	queue := &recordingQueue{}

	reqCtx := &a2asrv.RequestContext{
		TaskID:    "task-1",
		ContextID: "ctx-1",
		Message: a2a.NewMessage(a2a.MessageRoleUser, a2a.DataPart{
			Data: map[string]any{"location": "Tokyo"},
		}),
	}

	err := e.execute(context.Background(), reqCtx, queue)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "only text is supported")
	assert.Empty(t, queue.events)
}

func TestExecuteRejectsUnsupportedOutputModes(t *testing.T) {
	e := newExecutor(t, &scriptedLLM{})
	queue := &recordingQueue{}

	reqCtx := newRequest("hello")
	reqCtx.Message.Metadata = map[string]any{
		"acceptedOutputModes": []any{"image/png"},
	}

	err := e.execute(context.Background(), reqCtx, queue)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported output modes")
	assert.Empty(t, queue.events)
}

func TestExecutePropagatesQueueFailure(t *testing.T) {
	llm := &scriptedLLM{
		responses: []*model.Response{scriptedText("done TERMINATE")},
	}
	e := newExecutor(t, llm)
	queue := &recordingQueue{err: fmt.Errorf("queue closed")}

	err := e.execute(context.Background(), newRequest("hello"), queue)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "queue closed")
}

func TestValidateOutputModes(t *testing.T) {
	assert.NoError(t, validateOutputModes(nil))
	assert.NoError(t, validateOutputModes([]string{"text"}))
	assert.NoError(t, validateOutputModes([]string{"text/plain"}))
	assert.NoError(t, validateOutputModes([]string{"image/png", "TEXT"}))
	assert.Error(t, validateOutputModes([]string{"image/png"}))
	assert.Error(t, validateOutputModes([]string{"application/json", "audio/mpeg"}))
}

func TestExtractQuery(t *testing.T) {
	msg := a2a.NewMessage(a2a.MessageRoleUser,
		a2a.TextPart{Text: "Weather in Paris?"},
		a2a.TextPart{Text: "Use fahrenheit."},
	)
	query, err := extractQuery(msg)
	require.NoError(t, err)
	assert.Equal(t, "Weather in Paris?\nUse fahrenheit.", query)

	_, err = extractQuery(a2a.NewMessage(a2a.MessageRoleUser))
	assert.Error(t, err)

	_, err = extractQuery(a2a.NewMessage(a2a.MessageRoleUser, a2a.TextPart{Text: "   "}))
	assert.Error(t, err)
}

func TestCancelEmitsCanceledEvent(t *testing.T) {
	e := newExecutor(t, &scriptedLLM{})
	queue := &recordingQueue{}

	err := e.cancel(context.Background(), newRequest("hello"), queue)
	require.NoError(t, err)

	statuses := statusEvents(t, queue.events)
	require.Len(t, statuses, 1)
	assert.Equal(t, a2a.TaskStateCanceled, statuses[0].Status.State)
	assert.True(t, statuses[0].Final)
}
