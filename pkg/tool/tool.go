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

// Package tool defines interfaces for tools that agents can invoke.
//
// Tools are capabilities an LLM can call through function calling, such as
// looking up data or calling external APIs. A tool declares its name,
// description and parameter schema; the agent loop executes it when the
// model requests it.
package tool

import "context"

// Tool defines the base interface for a callable tool.
type Tool interface {
	// Name returns the unique name of the tool.
	Name() string

	// Description returns a human-readable description of what the tool does.
	// Used by LLMs to decide when to use this tool.
	Description() string
}

// CallableTool extends Tool with synchronous execution capability.
type CallableTool interface {
	Tool

	// Call executes the tool with the given arguments.
	// This is a blocking call that waits for completion.
	Call(ctx context.Context, args map[string]any) (map[string]any, error)

	// Schema returns the JSON schema for the tool's parameters.
	// Returns nil if the tool takes no parameters.
	Schema() map[string]any
}

// Definition represents a tool definition for LLM function calling.
type Definition struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// ToDefinition converts a tool to a Definition.
func ToDefinition(t Tool) Definition {
	def := Definition{
		Name:        t.Name(),
		Description: t.Description(),
	}

	if ct, ok := t.(CallableTool); ok {
		def.Parameters = ct.Schema()
	}

	return def
}

// ToolCall represents an LLM's request to invoke a tool.
type ToolCall struct {
	ID   string
	Name string
	Args map[string]any
}

// ToolResult represents the result of a tool invocation.
// Used for building the conversation history.
type ToolResult struct {
	ToolCallID string
	Content    string
	Error      string
}
