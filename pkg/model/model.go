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

// Package model defines the LLM interface.
//
// A single GenerateContent method handles both streaming and non-streaming
// calls and returns iter.Seq2[*Response, error]:
//   - non-streaming: yields exactly one Response (Partial=false)
//   - streaming: yields partial Responses (Partial=true), then a final
//     aggregated Response (Partial=false) suitable for history persistence
package model

import (
	"context"
	"iter"

	"github.com/a2aproject/a2a-go/a2a"

	"github.com/kadirpekel/skycast/pkg/tool"
)

// LLM is the interface for language models.
type LLM interface {
	// Name returns the model identifier.
	Name() string

	// GenerateContent produces responses for the given request.
	GenerateContent(ctx context.Context, req *Request, stream bool) iter.Seq2[*Response, error]

	// Close releases any resources held by the LLM.
	Close() error
}

// Request contains the input for an LLM call.
type Request struct {
	// Messages is the conversation history.
	Messages []*a2a.Message

	// Tools available for the model to call.
	Tools []tool.Definition

	// Config contains generation configuration.
	Config *GenerateConfig

	// SystemInstruction is prepended to the conversation.
	SystemInstruction string
}

// GenerateConfig contains configuration for generation.
type GenerateConfig struct {
	// Temperature controls randomness (0-2).
	Temperature *float64

	// MaxTokens limits the response length.
	MaxTokens *int

	// StopSequences terminates generation.
	StopSequences []string
}

// Response contains the result of an LLM call.
type Response struct {
	// Content is the generated content (text, tool calls, etc.)
	Content *Content

	// Partial indicates whether this is a streaming chunk (true) or a
	// final response (false).
	Partial bool

	// TurnComplete indicates whether the model has finished its turn.
	TurnComplete bool

	// ToolCalls requested by the model.
	ToolCalls []tool.ToolCall

	// Usage statistics.
	Usage *Usage

	// FinishReason indicates why generation stopped.
	FinishReason FinishReason
}

// Content represents the content of a response.
type Content struct {
	// Parts contains the content parts (text, data).
	Parts []a2a.Part

	// Role identifies the sender (agent/user).
	Role a2a.MessageRole
}

// Usage contains token usage statistics.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// FinishReason indicates why generation stopped.
type FinishReason string

const (
	FinishReasonStop      FinishReason = "stop"
	FinishReasonLength    FinishReason = "length"
	FinishReasonToolCalls FinishReason = "tool_calls"
	FinishReasonError     FinishReason = "error"
)

// TextContent extracts text from a response.
func (r *Response) TextContent() string {
	if r == nil || r.Content == nil {
		return ""
	}

	var text string
	for _, part := range r.Content.Parts {
		if tp, ok := part.(a2a.TextPart); ok {
			text += tp.Text
		}
	}
	return text
}

// HasToolCalls returns whether the response contains tool calls.
func (r *Response) HasToolCalls() bool {
	return len(r.ToolCalls) > 0
}

// ToMessage converts a Response to an a2a.Message.
func (r *Response) ToMessage() *a2a.Message {
	if r == nil || r.Content == nil {
		return nil
	}
	return a2a.NewMessage(r.Content.Role, r.Content.Parts...)
}
