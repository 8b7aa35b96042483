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

package model

import (
	"github.com/a2aproject/a2a-go/a2a"

	"github.com/kadirpekel/skycast/pkg/tool"
)

// StreamingAggregator accumulates partial streaming responses and produces
// a final aggregated response for history persistence.
//
// Usage:
//
//	aggregator := NewStreamingAggregator()
//	// per text delta: yield aggregator.ProcessTextDelta(delta)
//	// per tool call:  yield aggregator.ProcessToolCall(tc)
//	if final := aggregator.Close(); final != nil {
//	    yield(final, nil)
//	}
type StreamingAggregator struct {
	text         string
	role         a2a.MessageRole
	toolCalls    []tool.ToolCall
	usage        *Usage
	finishReason FinishReason
}

// NewStreamingAggregator creates a new streaming aggregator.
func NewStreamingAggregator() *StreamingAggregator {
	return &StreamingAggregator{
		role: a2a.MessageRoleAgent,
	}
}

// ProcessTextDelta accumulates a text delta and returns a partial response
// for real-time consumption, or nil for an empty delta.
func (s *StreamingAggregator) ProcessTextDelta(text string) *Response {
	if text == "" {
		return nil
	}

	s.text += text

	return &Response{
		Content: &Content{
			Parts: []a2a.Part{a2a.TextPart{Text: text}},
			Role:  s.role,
		},
		Partial: true,
	}
}

// ProcessToolCall accumulates a complete tool call and returns a partial
// response carrying it.
func (s *StreamingAggregator) ProcessToolCall(tc tool.ToolCall) *Response {
	s.toolCalls = append(s.toolCalls, tc)

	return &Response{
		Content: &Content{
			Parts: []a2a.Part{
				a2a.DataPart{
					Data: map[string]any{
						"type":      "tool_use",
						"id":        tc.ID,
						"name":      tc.Name,
						"arguments": tc.Args,
					},
				},
			},
			Role: s.role,
		},
		Partial:   true,
		ToolCalls: []tool.ToolCall{tc},
	}
}

// SetUsage sets the usage statistics (typically from the done event).
func (s *StreamingAggregator) SetUsage(usage *Usage) {
	s.usage = usage
}

// SetFinishReason sets the finish reason.
func (s *StreamingAggregator) SetFinishReason(reason FinishReason) {
	s.finishReason = reason
}

// Close generates the final aggregated response with Partial=false.
// Returns nil if nothing was accumulated.
func (s *StreamingAggregator) Close() *Response {
	if s.text == "" && len(s.toolCalls) == 0 {
		return nil
	}

	var parts []a2a.Part
	if s.text != "" {
		parts = append(parts, a2a.TextPart{Text: s.text})
	}

	resp := &Response{
		Content: &Content{
			Parts: parts,
			Role:  s.role,
		},
		Partial:      false,
		TurnComplete: true,
		ToolCalls:    s.toolCalls,
		Usage:        s.usage,
		FinishReason: s.finishReason,
	}

	s.text = ""
	s.toolCalls = nil
	s.usage = nil
	s.finishReason = ""

	return resp
}
