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
	"testing"

	"github.com/a2aproject/a2a-go/a2a"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/skycast/pkg/tool"
)

func TestTextContent(t *testing.T) {
	resp := &Response{
		Content: &Content{
			Parts: []a2a.Part{
				a2a.TextPart{Text: "Hello, "},
				a2a.DataPart{Data: map[string]any{"type": "tool_use"}},
				a2a.TextPart{Text: "world"},
			},
			Role: a2a.MessageRoleAgent,
		},
	}

	assert.Equal(t, "Hello, world", resp.TextContent())
	assert.Equal(t, "", (*Response)(nil).TextContent())
}

func TestAggregatorTextOnly(t *testing.T) {
	agg := NewStreamingAggregator()

	partial := agg.ProcessTextDelta("The weather ")
	require.NotNil(t, partial)
	assert.True(t, partial.Partial)
	assert.Equal(t, "The weather ", partial.TextContent())

	assert.Nil(t, agg.ProcessTextDelta(""))
	agg.ProcessTextDelta("is sunny.")
	agg.SetFinishReason(FinishReasonStop)

	final := agg.Close()
	require.NotNil(t, final)
	assert.False(t, final.Partial)
	assert.True(t, final.TurnComplete)
	assert.Equal(t, "The weather is sunny.", final.TextContent())
	assert.Equal(t, FinishReasonStop, final.FinishReason)
}

func TestAggregatorToolCalls(t *testing.T) {
	agg := NewStreamingAggregator()

	tc := tool.ToolCall{ID: "call_1", Name: "get_weather", Args: map[string]any{"location": "Tokyo"}}
	partial := agg.ProcessToolCall(tc)
	require.NotNil(t, partial)
	require.Len(t, partial.ToolCalls, 1)

	dp, ok := partial.Content.Parts[0].(a2a.DataPart)
	require.True(t, ok)
	assert.Equal(t, "tool_use", dp.Data["type"])
	assert.Equal(t, "get_weather", dp.Data["name"])

	final := agg.Close()
	require.NotNil(t, final)
	assert.True(t, final.HasToolCalls())
	assert.Equal(t, "call_1", final.ToolCalls[0].ID)
}

func TestAggregatorEmptyCloseReturnsNil(t *testing.T) {
	agg := NewStreamingAggregator()
	assert.Nil(t, agg.Close())
}
