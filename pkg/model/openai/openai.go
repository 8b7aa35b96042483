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

// Package openai implements model.LLM against the OpenAI chat completions API.
package openai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"net/http"
	"time"

	"github.com/a2aproject/a2a-go/a2a"

	"github.com/kadirpekel/skycast/pkg/httpclient"
	"github.com/kadirpekel/skycast/pkg/model"
	"github.com/kadirpekel/skycast/pkg/tool"
)

const defaultBaseURL = "https://api.openai.com/v1"

// Config contains the client configuration.
type Config struct {
	Model       string
	APIKey      string
	BaseURL     string
	Temperature *float64
	MaxTokens   int
	Timeout     time.Duration
	MaxRetries  int
}

// Option configures the client.
type Option func(*Config)

func WithBaseURL(url string) Option {
	return func(c *Config) {
		c.BaseURL = url
	}
}

func WithTemperature(temp float64) Option {
	return func(c *Config) {
		c.Temperature = &temp
	}
}

func WithMaxTokens(max int) Option {
	return func(c *Config) {
		c.MaxTokens = max
	}
}

func WithTimeout(timeout time.Duration) Option {
	return func(c *Config) {
		c.Timeout = timeout
	}
}

func WithMaxRetries(max int) Option {
	return func(c *Config) {
		c.MaxRetries = max
	}
}

// Client calls the OpenAI chat completions API.
type Client struct {
	config     Config
	httpClient *httpclient.Client
}

// New creates an OpenAI client. The API key is required.
func New(apiKey, modelName string, opts ...Option) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai: API key is required")
	}
	if modelName == "" {
		return nil, fmt.Errorf("openai: model name is required")
	}

	cfg := Config{
		Model:   modelName,
		APIKey:  apiKey,
		BaseURL: defaultBaseURL,
		Timeout: 60 * time.Second,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	httpClient := httpclient.New(
		httpclient.WithHTTPClient(&http.Client{Timeout: cfg.Timeout}),
		httpclient.WithMaxRetries(cfg.MaxRetries),
		httpclient.WithHeaderParser(httpclient.ParseOpenAIHeaders),
	)

	return &Client{
		config:     cfg,
		httpClient: httpClient,
	}, nil
}

// Name implements model.LLM.
func (c *Client) Name() string {
	return c.config.Model
}

// Close implements model.LLM.
func (c *Client) Close() error {
	return nil
}

// GenerateContent implements model.LLM.
func (c *Client) GenerateContent(ctx context.Context, req *model.Request, stream bool) iter.Seq2[*model.Response, error] {
	if stream {
		return c.generateStream(ctx, req)
	}
	return c.generate(ctx, req)
}

// Wire types for the chat completions API.

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   *int          `json:"max_tokens,omitempty"`
	Temperature *float64      `json:"temperature,omitempty"`
	Stop        []string      `json:"stop,omitempty"`
	Stream      bool          `json:"stream"`
	Tools       []chatTool    `json:"tools,omitempty"`
	ToolChoice  string        `json:"tool_choice,omitempty"`
}

type chatMessage struct {
	Role       string         `json:"role"`
	Content    string         `json:"content"`
	ToolCalls  []chatToolCall `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
}

type chatTool struct {
	Type     string           `json:"type"`
	Function chatToolFunction `json:"function"`
}

type chatToolFunction struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

type chatToolCall struct {
	ID       string           `json:"id"`
	Type     string           `json:"type"`
	Function chatFunctionCall `json:"function"`
}

type chatFunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type chatResponse struct {
	Choices []chatChoice `json:"choices"`
	Usage   *chatUsage   `json:"usage,omitempty"`
	Error   *apiError    `json:"error,omitempty"`
}

type chatChoice struct {
	Message      chatMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

type chatStreamResponse struct {
	Choices []chatStreamChoice `json:"choices"`
	Usage   *chatUsage         `json:"usage,omitempty"`
	Error   *apiError          `json:"error,omitempty"`
}

type chatStreamChoice struct {
	Delta        chatDelta `json:"delta"`
	FinishReason string    `json:"finish_reason"`
}

type chatDelta struct {
	Content   string         `json:"content,omitempty"`
	ToolCalls []chatToolCall `json:"tool_calls,omitempty"`
}

type chatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type apiError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code"`
}

func (c *Client) generate(ctx context.Context, req *model.Request) iter.Seq2[*model.Response, error] {
	return func(yield func(*model.Response, error) bool) {
		body, err := c.doRequest(ctx, c.buildRequest(req, false))
		if err != nil {
			yield(nil, err)
			return
		}
		defer body.Close()

		data, err := io.ReadAll(body)
		if err != nil {
			yield(nil, fmt.Errorf("failed to read response: %w", err))
			return
		}

		var response chatResponse
		if err := json.Unmarshal(data, &response); err != nil {
			yield(nil, fmt.Errorf("failed to unmarshal response: %w", err))
			return
		}

		if response.Error != nil {
			yield(nil, fmt.Errorf("openai API error: %s", response.Error.Message))
			return
		}
		if len(response.Choices) == 0 {
			yield(nil, fmt.Errorf("no response choices returned"))
			return
		}

		choice := response.Choices[0]

		var parts []a2a.Part
		if choice.Message.Content != "" {
			parts = append(parts, a2a.TextPart{Text: choice.Message.Content})
		}

		toolCalls, err := parseToolCalls(choice.Message.ToolCalls)
		if err != nil {
			yield(nil, err)
			return
		}

		resp := &model.Response{
			Content: &model.Content{
				Parts: parts,
				Role:  a2a.MessageRoleAgent,
			},
			TurnComplete: true,
			ToolCalls:    toolCalls,
			FinishReason: toFinishReason(choice.FinishReason),
		}
		if response.Usage != nil {
			resp.Usage = &model.Usage{
				PromptTokens:     response.Usage.PromptTokens,
				CompletionTokens: response.Usage.CompletionTokens,
				TotalTokens:      response.Usage.TotalTokens,
			}
		}

		yield(resp, nil)
	}
}

func (c *Client) generateStream(ctx context.Context, req *model.Request) iter.Seq2[*model.Response, error] {
	return func(yield func(*model.Response, error) bool) {
		body, err := c.doRequest(ctx, c.buildRequest(req, true))
		if err != nil {
			yield(nil, err)
			return
		}
		defer body.Close()

		aggregator := model.NewStreamingAggregator()
		reader := bufio.NewReader(body)
		pending := make([]*chatToolCall, 0)

		// flushToolCalls feeds accumulated tool calls through the aggregator.
		// Returns stopped=true when the consumer broke out of the range.
		flushToolCalls := func() (stopped bool, err error) {
			for _, tc := range pending {
				parsed, err := parseToolCalls([]chatToolCall{*tc})
				if err != nil {
					return false, err
				}
				if resp := aggregator.ProcessToolCall(parsed[0]); resp != nil {
					if !yield(resp, nil) {
						return true, nil
					}
				}
			}
			pending = pending[:0]
			return false, nil
		}

		for {
			line, err := reader.ReadBytes('\n')
			if err != nil {
				if err == io.EOF {
					break
				}
				yield(nil, fmt.Errorf("failed to read stream: %w", err))
				return
			}

			line = bytes.TrimSpace(line)
			if !bytes.HasPrefix(line, []byte("data: ")) {
				continue
			}
			line = line[6:]

			if bytes.Equal(line, []byte("[DONE]")) {
				break
			}

			var chunk chatStreamResponse
			if err := json.Unmarshal(line, &chunk); err != nil {
				continue
			}

			if chunk.Error != nil {
				yield(nil, fmt.Errorf("openai API error: %s", chunk.Error.Message))
				return
			}

			if chunk.Usage != nil {
				aggregator.SetUsage(&model.Usage{
					PromptTokens:     chunk.Usage.PromptTokens,
					CompletionTokens: chunk.Usage.CompletionTokens,
					TotalTokens:      chunk.Usage.TotalTokens,
				})
			}

			if len(chunk.Choices) == 0 {
				continue
			}
			choice := chunk.Choices[0]

			if choice.Delta.Content != "" {
				if resp := aggregator.ProcessTextDelta(choice.Delta.Content); resp != nil {
					if !yield(resp, nil) {
						return
					}
				}
			}

			// Tool call deltas arrive with an ID on the first chunk and
			// argument fragments on the rest.
			for _, deltaCall := range choice.Delta.ToolCalls {
				if deltaCall.ID != "" {
					tc := deltaCall
					pending = append(pending, &tc)
				} else if len(pending) > 0 {
					pending[len(pending)-1].Function.Arguments += deltaCall.Function.Arguments
				}
			}

			if choice.FinishReason != "" {
				aggregator.SetFinishReason(toFinishReason(choice.FinishReason))
			}
		}

		stopped, err := flushToolCalls()
		if err != nil {
			yield(nil, err)
			return
		}
		if stopped {
			return
		}

		if final := aggregator.Close(); final != nil {
			yield(final, nil)
		}
	}
}

func (c *Client) buildRequest(req *model.Request, stream bool) chatRequest {
	messages := make([]chatMessage, 0, len(req.Messages)+1)

	if req.SystemInstruction != "" {
		messages = append(messages, chatMessage{
			Role:    "system",
			Content: req.SystemInstruction,
		})
	}

	messages = append(messages, convertMessages(req.Messages)...)

	request := chatRequest{
		Model:       c.config.Model,
		Messages:    messages,
		Temperature: c.config.Temperature,
		Stream:      stream,
	}

	if c.config.MaxTokens > 0 {
		maxTokens := c.config.MaxTokens
		request.MaxTokens = &maxTokens
	}

	if req.Config != nil {
		if req.Config.Temperature != nil {
			request.Temperature = req.Config.Temperature
		}
		if req.Config.MaxTokens != nil {
			request.MaxTokens = req.Config.MaxTokens
		}
		request.Stop = req.Config.StopSequences
	}

	if len(req.Tools) > 0 {
		request.Tools = convertTools(req.Tools)
		request.ToolChoice = "auto"
	}

	return request
}

// convertMessages maps a2a messages onto chat completion messages. Tool
// calls and tool results travel as DataParts in the history (see the agent
// package); they become assistant tool_calls and role "tool" messages here.
func convertMessages(messages []*a2a.Message) []chatMessage {
	result := make([]chatMessage, 0, len(messages))

	for _, msg := range messages {
		if msg == nil {
			continue
		}

		var text string
		var toolCalls []chatToolCall
		var toolResults []chatMessage

		for _, part := range msg.Parts {
			switch p := part.(type) {
			case a2a.TextPart:
				text += p.Text

			case a2a.DataPart:
				switch p.Data["type"] {
				case "tool_use":
					id, _ := p.Data["id"].(string)
					name, _ := p.Data["name"].(string)
					args, _ := p.Data["arguments"].(map[string]any)
					argsJSON, _ := json.Marshal(args)
					toolCalls = append(toolCalls, chatToolCall{
						ID:   id,
						Type: "function",
						Function: chatFunctionCall{
							Name:      name,
							Arguments: string(argsJSON),
						},
					})

				case "tool_result":
					id, _ := p.Data["tool_call_id"].(string)
					content, _ := p.Data["content"].(string)
					toolResults = append(toolResults, chatMessage{
						Role:       "tool",
						Content:    content,
						ToolCallID: id,
					})
				}
			}
		}

		if text != "" || len(toolCalls) > 0 {
			result = append(result, chatMessage{
				Role:      toChatRole(msg.Role),
				Content:   text,
				ToolCalls: toolCalls,
			})
		}

		result = append(result, toolResults...)
	}

	return result
}

func toChatRole(role a2a.MessageRole) string {
	if role == a2a.MessageRoleAgent {
		return "assistant"
	}
	return "user"
}

func convertTools(tools []tool.Definition) []chatTool {
	result := make([]chatTool, len(tools))
	for i, t := range tools {
		result[i] = chatTool{
			Type: "function",
			Function: chatToolFunction{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		}
	}
	return result
}

func parseToolCalls(calls []chatToolCall) ([]tool.ToolCall, error) {
	if len(calls) == 0 {
		return nil, nil
	}

	result := make([]tool.ToolCall, len(calls))
	for i, tc := range calls {
		var args map[string]any
		if tc.Function.Arguments != "" {
			if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
				return nil, fmt.Errorf("failed to parse tool arguments: %w", err)
			}
		}
		result[i] = tool.ToolCall{
			ID:   tc.ID,
			Name: tc.Function.Name,
			Args: args,
		}
	}
	return result, nil
}

func toFinishReason(reason string) model.FinishReason {
	switch reason {
	case "stop":
		return model.FinishReasonStop
	case "length":
		return model.FinishReasonLength
	case "tool_calls":
		return model.FinishReasonToolCalls
	default:
		return model.FinishReason(reason)
	}
}

func (c *Client) doRequest(ctx context.Context, request chatRequest) (io.ReadCloser, error) {
	requestBody, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+"/chat/completions", bytes.NewReader(requestBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}

	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(requestBody)), nil
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.config.APIKey)

	resp, err := c.httpClient.Do(req)
	if resp != nil && resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		if apiErr := parseErrorResponse(body); apiErr != nil {
			return nil, fmt.Errorf("API request failed with status %d: %s (type: %s, code: %s)",
				resp.StatusCode, apiErr.Message, apiErr.Type, apiErr.Code)
		}
		return nil, fmt.Errorf("API request failed with status %d: %s", resp.StatusCode, string(body))
	}
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}

	return resp.Body, nil
}

// parseErrorResponse extracts error information from API error responses.
func parseErrorResponse(body []byte) *apiError {
	if len(body) == 0 {
		return nil
	}
	var errorResp struct {
		Error apiError `json:"error"`
	}
	if err := json.Unmarshal(body, &errorResp); err == nil && errorResp.Error.Message != "" {
		return &errorResp.Error
	}
	return nil
}

// Ensure Client implements model.LLM
var _ model.LLM = (*Client)(nil)
