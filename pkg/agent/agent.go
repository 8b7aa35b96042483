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

// Package agent wraps an LLM and a set of tools in a bounded chat loop.
//
// Each Invoke or Stream call runs a fresh conversation: the user query is
// sent to the model, tool calls are executed and fed back, and the loop
// ends when the model's text mentions the stop phrase or the message cap
// is reached. There is no conversation memory across calls.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"log/slog"
	"strings"

	"github.com/a2aproject/a2a-go/a2a"
	"github.com/google/uuid"

	"github.com/kadirpekel/skycast/pkg/model"
	"github.com/kadirpekel/skycast/pkg/tool"
)

const (
	// DefaultStopPhrase ends the chat loop when mentioned in model output.
	DefaultStopPhrase = "TERMINATE"

	// DefaultMaxMessages caps the conversation length (user message included).
	DefaultMaxMessages = 5

	// DefaultSystemInstruction is the assistant prompt.
	DefaultSystemInstruction = "You are a helpful weather assistant. " +
		"Use the get_weather tool to answer weather questions. " +
		"Provide friendly, informative responses. " +
		"When you have fully answered the user's question, end your response with 'TERMINATE'."

	processingNotice = "Processing your weather request..."
	fallbackResponse = "I couldn't process your weather request."
)

// Update is one item of a streaming agent run.
type Update struct {
	// Content is the update text.
	Content string

	// TaskComplete marks the single final update of a stream.
	TaskComplete bool

	// RequireInput indicates the agent needs more user input.
	RequireInput bool
}

// Agent runs a tool-using chat loop against an LLM.
type Agent struct {
	llm               model.LLM
	tools             map[string]tool.CallableTool
	defs              []tool.Definition
	systemInstruction string
	stopPhrase        string
	maxMessages       int
}

// Option configures an Agent.
type Option func(*Agent)

// WithTools attaches callable tools to the agent.
func WithTools(tools ...tool.CallableTool) Option {
	return func(a *Agent) {
		for _, t := range tools {
			a.tools[t.Name()] = t
			a.defs = append(a.defs, tool.ToDefinition(t))
		}
	}
}

// WithSystemInstruction overrides the assistant prompt.
func WithSystemInstruction(instruction string) Option {
	return func(a *Agent) {
		a.systemInstruction = instruction
	}
}

// WithStopPhrase overrides the termination phrase.
func WithStopPhrase(phrase string) Option {
	return func(a *Agent) {
		a.stopPhrase = phrase
	}
}

// WithMaxMessages overrides the message cap.
func WithMaxMessages(max int) Option {
	return func(a *Agent) {
		a.maxMessages = max
	}
}

// New creates an Agent.
func New(llm model.LLM, opts ...Option) (*Agent, error) {
	if llm == nil {
		return nil, fmt.Errorf("agent: llm is required")
	}

	a := &Agent{
		llm:               llm,
		tools:             make(map[string]tool.CallableTool),
		systemInstruction: DefaultSystemInstruction,
		stopPhrase:        DefaultStopPhrase,
		maxMessages:       DefaultMaxMessages,
	}
	for _, opt := range opts {
		opt(a)
	}

	return a, nil
}

// Invoke runs the chat loop to completion and returns the text of the final
// produced message, or a fallback string if the model produced none.
// sessionID is accepted for protocol symmetry but carries no continuity.
func (a *Agent) Invoke(ctx context.Context, query, sessionID string) (string, error) {
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	slog.Debug("Agent invoke", "sessionID", sessionID)

	var finalText string
	_, err := a.run(ctx, query, func(text string) bool {
		finalText = text
		return true
	})
	if err != nil {
		return "", err
	}

	if finalText == "" {
		return fallbackResponse, nil
	}
	return finalText, nil
}

// Stream runs the chat loop and yields updates as they are produced.
//
// The sequence starts with an immediate processing notice, continues with
// one non-final update per produced message, and ends with exactly one
// final update (TaskComplete=true) naming the termination reason. Errors
// from the model propagate through the iterator and end the sequence.
func (a *Agent) Stream(ctx context.Context, query, sessionID string) iter.Seq2[*Update, error] {
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	slog.Debug("Agent stream", "sessionID", sessionID)

	return func(yield func(*Update, error) bool) {
		if !yield(&Update{Content: processingNotice}, nil) {
			return
		}

		stopped := false
		stopReason, err := a.run(ctx, query, func(text string) bool {
			if !yield(&Update{Content: text}, nil) {
				stopped = true
				return false
			}
			return true
		})
		if stopped {
			return
		}
		if err != nil {
			yield(nil, err)
			return
		}

		yield(&Update{
			Content:      fmt.Sprintf("Task completed successfully. Reason: %s", stopReason),
			TaskComplete: true,
		}, nil)
	}
}

// run drives the chat loop. emit is called once per produced text message
// and may return false to stop early. Returns the termination reason.
func (a *Agent) run(ctx context.Context, query string, emit func(text string) bool) (string, error) {
	messages := []*a2a.Message{
		a2a.NewMessage(a2a.MessageRoleUser, a2a.TextPart{Text: query}),
	}
	messageCount := 1

	for messageCount < a.maxMessages {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		resp, err := a.generate(ctx, messages)
		if err != nil {
			return "", err
		}
		messageCount++

		text := resp.TextContent()
		if text != "" && !emit(text) {
			return "", nil
		}

		if !resp.HasToolCalls() {
			if strings.Contains(text, a.stopPhrase) {
				return fmt.Sprintf("Text '%s' mentioned", a.stopPhrase), nil
			}
			if messageCount >= a.maxMessages {
				break
			}
			// Model finished its turn without the stop phrase; nudge it on
			// by continuing the loop with its own message in the history.
			messages = append(messages, resp.ToMessage())
			continue
		}

		messages = append(messages, a.toolCallMessage(text, resp.ToolCalls))

		results, err := a.executeToolCalls(ctx, resp.ToolCalls)
		if err != nil {
			return "", err
		}
		messages = append(messages, results)
	}

	return fmt.Sprintf("Maximum number of messages %d reached", a.maxMessages), nil
}

// generate issues one non-streaming model call and returns its response.
func (a *Agent) generate(ctx context.Context, messages []*a2a.Message) (*model.Response, error) {
	req := &model.Request{
		Messages:          messages,
		Tools:             a.defs,
		SystemInstruction: a.systemInstruction,
	}

	var final *model.Response
	for resp, err := range a.llm.GenerateContent(ctx, req, false) {
		if err != nil {
			return nil, err
		}
		if !resp.Partial {
			final = resp
		}
	}

	if final == nil {
		return nil, fmt.Errorf("model returned no response")
	}
	return final, nil
}

// toolCallMessage builds the agent history message carrying tool calls.
func (a *Agent) toolCallMessage(text string, calls []tool.ToolCall) *a2a.Message {
	var parts []a2a.Part
	if text != "" {
		parts = append(parts, a2a.TextPart{Text: text})
	}
	for _, tc := range calls {
		parts = append(parts, a2a.DataPart{
			Data: map[string]any{
				"type":      "tool_use",
				"id":        tc.ID,
				"name":      tc.Name,
				"arguments": tc.Args,
			},
		})
	}
	return a2a.NewMessage(a2a.MessageRoleAgent, parts...)
}

// executeToolCalls runs each requested tool and builds the result message.
// Tool failures become error results in the history rather than aborting
// the loop, so the model can recover or report them.
func (a *Agent) executeToolCalls(ctx context.Context, calls []tool.ToolCall) (*a2a.Message, error) {
	parts := make([]a2a.Part, 0, len(calls))

	for _, tc := range calls {
		content, callErr := a.executeToolCall(ctx, tc)

		data := map[string]any{
			"type":         "tool_result",
			"tool_call_id": tc.ID,
			"content":      content,
		}
		if callErr != "" {
			data["error"] = callErr
			if content == "" {
				data["content"] = "Error: " + callErr
			}
		}
		parts = append(parts, a2a.DataPart{Data: data})
	}

	return a2a.NewMessage(a2a.MessageRoleUser, parts...), nil
}

func (a *Agent) executeToolCall(ctx context.Context, tc tool.ToolCall) (content, callErr string) {
	t, ok := a.tools[tc.Name]
	if !ok {
		slog.Warn("Unknown tool requested", "tool", tc.Name)
		return "", fmt.Sprintf("unknown tool: %s", tc.Name)
	}

	result, err := t.Call(ctx, tc.Args)
	if err != nil {
		slog.Warn("Tool call failed", "tool", tc.Name, "error", err)
		return "", err.Error()
	}

	if report, ok := result["report"].(string); ok {
		return report, ""
	}

	encoded, err := json.Marshal(result)
	if err != nil {
		return "", fmt.Sprintf("failed to encode tool result: %v", err)
	}
	return string(encoded), ""
}
