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

package logger

import (
	"bytes"
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"INFO", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"bogus", slog.LevelWarn},
		{"", slog.LevelWarn},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			level, err := ParseLevel(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, level)
		})
	}
}

func TestTextHandlerSimpleFormat(t *testing.T) {
	var buf bytes.Buffer
	h := &textHandler{
		handler: slog.NewTextHandler(&buf, nil),
		writer:  &buf,
	}

	record := slog.NewRecord(time.Now(), slog.LevelInfo, "server started", 0)
	record.AddAttrs(slog.String("host", "localhost"), slog.Int("port", 10000))

	require.NoError(t, h.Handle(context.Background(), record))

	out := buf.String()
	assert.Equal(t, "INFO server started host=localhost port=10000\n", out)
}

func TestTextHandlerVerboseIncludesTimestamp(t *testing.T) {
	var buf bytes.Buffer
	h := &textHandler{
		handler: slog.NewTextHandler(&buf, nil),
		writer:  &buf,
		verbose: true,
	}

	ts := time.Date(2025, 6, 1, 12, 30, 0, 0, time.UTC)
	record := slog.NewRecord(ts, slog.LevelWarn, "slow request", 0)

	require.NoError(t, h.Handle(context.Background(), record))
	assert.Equal(t, "2025/06/01 12:30:00 WARN slow request\n", buf.String())
}

func TestGetLoggerInitializesDefault(t *testing.T) {
	defaultLogger = nil
	logger := GetLogger()
	require.NotNil(t, logger)
	assert.Same(t, logger, GetLogger())
}
