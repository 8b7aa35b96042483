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

package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/a2aproject/a2a-go/a2a"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/skycast/pkg/model"
	"github.com/kadirpekel/skycast/pkg/tool"
)

func TestNewRequiresAPIKey(t *testing.T) {
	_, err := New("", "gpt-4o-mini")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "API key")

	_, err = New("key", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model")
}

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := New("test-key", "gpt-4o-mini", WithBaseURL(server.URL))
	require.NoError(t, err)
	return client
}

func collect(t *testing.T, seq func(func(*model.Response, error) bool)) ([]*model.Response, error) {
	t.Helper()
	var responses []*model.Response
	var firstErr error
	seq(func(resp *model.Response, err error) bool {
		if err != nil {
			firstErr = err
			return false
		}
		responses = append(responses, resp)
		return true
	})
	return responses, firstErr
}

func TestGenerateText(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "gpt-4o-mini", req.Model)
		assert.False(t, req.Stream)

		resp := chatResponse{
			Choices: []chatChoice{{
				Message:      chatMessage{Role: "assistant", Content: "It is sunny. TERMINATE"},
				FinishReason: "stop",
			}},
			Usage: &chatUsage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
		}
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	})

	req := &model.Request{
		Messages: []*a2a.Message{
			a2a.NewMessage(a2a.MessageRoleUser, a2a.TextPart{Text: "Weather in Tokyo?"}),
		},
	}

	responses, err := collect(t, client.GenerateContent(context.Background(), req, false))
	require.NoError(t, err)
	require.Len(t, responses, 1)

	resp := responses[0]
	assert.Equal(t, "It is sunny. TERMINATE", resp.TextContent())
	assert.True(t, resp.TurnComplete)
	assert.Equal(t, model.FinishReasonStop, resp.FinishReason)
	require.NotNil(t, resp.Usage)
	assert.Equal(t, 15, resp.Usage.TotalTokens)
}

func TestGenerateToolCall(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.Tools, 1)
		assert.Equal(t, "get_weather", req.Tools[0].Function.Name)
		assert.Equal(t, "auto", req.ToolChoice)

		resp := chatResponse{
			Choices: []chatChoice{{
				Message: chatMessage{
					Role: "assistant",
					ToolCalls: []chatToolCall{{
						ID:   "call_1",
						Type: "function",
						Function: chatFunctionCall{
							Name:      "get_weather",
							Arguments: `{"location":"Tokyo","unit":"celsius"}`,
						},
					}},
				},
				FinishReason: "tool_calls",
			}},
		}
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	})

	req := &model.Request{
		Messages: []*a2a.Message{
			a2a.NewMessage(a2a.MessageRoleUser, a2a.TextPart{Text: "Weather in Tokyo?"}),
		},
		Tools: []tool.Definition{{Name: "get_weather", Description: "Get weather"}},
	}

	responses, err := collect(t, client.GenerateContent(context.Background(), req, false))
	require.NoError(t, err)
	require.Len(t, responses, 1)

	resp := responses[0]
	require.True(t, resp.HasToolCalls())
	assert.Equal(t, "call_1", resp.ToolCalls[0].ID)
	assert.Equal(t, "get_weather", resp.ToolCalls[0].Name)
	assert.Equal(t, "Tokyo", resp.ToolCalls[0].Args["location"])
	assert.Equal(t, model.FinishReasonToolCalls, resp.FinishReason)
}

func TestGenerateStream(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.True(t, req.Stream)

		w.Header().Set("Content-Type", "text/event-stream")
		chunks := []string{
			`{"choices":[{"delta":{"content":"The weather "}}]}`,
			`{"choices":[{"delta":{"content":"is rainy."}}]}`,
			`{"choices":[{"delta":{},"finish_reason":"stop"}]}`,
		}
		for _, chunk := range chunks {
			fmt.Fprintf(w, "data: %s\n\n", chunk)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	})

	req := &model.Request{
		Messages: []*a2a.Message{
			a2a.NewMessage(a2a.MessageRoleUser, a2a.TextPart{Text: "Weather?"}),
		},
	}

	responses, err := collect(t, client.GenerateContent(context.Background(), req, true))
	require.NoError(t, err)
	require.Len(t, responses, 3)

	assert.True(t, responses[0].Partial)
	assert.Equal(t, "The weather ", responses[0].TextContent())
	assert.True(t, responses[1].Partial)

	final := responses[2]
	assert.False(t, final.Partial)
	assert.True(t, final.TurnComplete)
	assert.Equal(t, "The weather is rainy.", final.TextContent())
	assert.Equal(t, model.FinishReasonStop, final.FinishReason)
}

func TestGenerateStreamToolCallDeltas(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		chunks := []string{
			`{"choices":[{"delta":{"tool_calls":[{"id":"call_1","type":"function","function":{"name":"get_weather","arguments":"{\"locat"}}]}}]}`,
			`{"choices":[{"delta":{"tool_calls":[{"function":{"arguments":"ion\":\"Paris\"}"}}]}}]}`,
			`{"choices":[{"delta":{},"finish_reason":"tool_calls"}]}`,
		}
		for _, chunk := range chunks {
			fmt.Fprintf(w, "data: %s\n\n", chunk)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	})

	req := &model.Request{
		Messages: []*a2a.Message{
			a2a.NewMessage(a2a.MessageRoleUser, a2a.TextPart{Text: "Weather in Paris?"}),
		},
	}

	responses, err := collect(t, client.GenerateContent(context.Background(), req, true))
	require.NoError(t, err)
	require.Len(t, responses, 2)

	assert.True(t, responses[0].Partial)
	require.Len(t, responses[0].ToolCalls, 1)
	assert.Equal(t, "Paris", responses[0].ToolCalls[0].Args["location"])

	final := responses[1]
	assert.False(t, final.Partial)
	require.Len(t, final.ToolCalls, 1)
	assert.Equal(t, model.FinishReasonToolCalls, final.FinishReason)
}

func TestGenerateAPIError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error":{"message":"Invalid API key","type":"invalid_request_error","code":"invalid_api_key"}}`)
	})

	req := &model.Request{
		Messages: []*a2a.Message{
			a2a.NewMessage(a2a.MessageRoleUser, a2a.TextPart{Text: "hi"}),
		},
	}

	_, err := collect(t, client.GenerateContent(context.Background(), req, false))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Invalid API key")
}

func TestConvertMessages(t *testing.T) {
	messages := []*a2a.Message{
		a2a.NewMessage(a2a.MessageRoleUser, a2a.TextPart{Text: "Weather in Tokyo?"}),
		a2a.NewMessage(a2a.MessageRoleAgent, a2a.DataPart{Data: map[string]any{
			"type":      "tool_use",
			"id":        "call_1",
			"name":      "get_weather",
			"arguments": map[string]any{"location": "Tokyo"},
		}}),
		a2a.NewMessage(a2a.MessageRoleUser, a2a.DataPart{Data: map[string]any{
			"type":         "tool_result",
			"tool_call_id": "call_1",
			"content":      "Rainy, 28C",
		}}),
		a2a.NewMessage(a2a.MessageRoleAgent, a2a.TextPart{Text: "It is rainy. TERMINATE"}),
	}

	converted := convertMessages(messages)
	require.Len(t, converted, 4)

	assert.Equal(t, "user", converted[0].Role)
	assert.Equal(t, "Weather in Tokyo?", converted[0].Content)

	assert.Equal(t, "assistant", converted[1].Role)
	require.Len(t, converted[1].ToolCalls, 1)
	assert.Equal(t, "call_1", converted[1].ToolCalls[0].ID)
	assert.JSONEq(t, `{"location":"Tokyo"}`, converted[1].ToolCalls[0].Function.Arguments)

	assert.Equal(t, "tool", converted[2].Role)
	assert.Equal(t, "call_1", converted[2].ToolCallID)
	assert.Equal(t, "Rainy, 28C", converted[2].Content)

	assert.Equal(t, "assistant", converted[3].Role)
	assert.Equal(t, "It is rainy. TERMINATE", converted[3].Content)
}

func TestBuildRequestSystemInstruction(t *testing.T) {
	client, err := New("key", "gpt-4o-mini")
	require.NoError(t, err)

	req := client.buildRequest(&model.Request{
		SystemInstruction: "You are a weather assistant.",
		Messages: []*a2a.Message{
			a2a.NewMessage(a2a.MessageRoleUser, a2a.TextPart{Text: "hi"}),
		},
	}, false)

	require.Len(t, req.Messages, 2)
	assert.Equal(t, "system", req.Messages[0].Role)
	assert.Equal(t, "You are a weather assistant.", req.Messages[0].Content)
}
