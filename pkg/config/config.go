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

// Package config defines the SkyCast configuration model.
//
// Configuration is loaded from YAML with ${ENV_VAR} expansion, then defaults
// are applied and the result validated. All fields are optional; a zero
// Config produces a working local server as long as OPENAI_API_KEY is set.
package config

import (
	"fmt"
	"net"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration.
type Config struct {
	// Server configures the HTTP listener.
	Server ServerConfig `yaml:"server,omitempty" json:"server,omitempty"`

	// LLM configures the OpenAI model client.
	LLM LLMConfig `yaml:"llm,omitempty" json:"llm,omitempty"`

	// TaskStore configures task persistence.
	TaskStore TaskStoreConfig `yaml:"task_store,omitempty" json:"task_store,omitempty"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	// Host to bind (default "localhost").
	Host string `yaml:"host,omitempty" json:"host,omitempty"`

	// Port to bind (default 10000).
	Port int `yaml:"port,omitempty" json:"port,omitempty"`
}

// Address returns the host:port bind address.
func (c ServerConfig) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// LLMConfig configures the OpenAI model client.
type LLMConfig struct {
	// Model name (default "gpt-4o-mini").
	Model string `yaml:"model,omitempty" json:"model,omitempty"`

	// APIKey for authentication. Supports ${VAR} expansion; falls back to
	// the OPENAI_API_KEY environment variable.
	APIKey string `yaml:"api_key,omitempty" json:"api_key,omitempty"`

	// BaseURL overrides the default API endpoint.
	BaseURL string `yaml:"base_url,omitempty" json:"base_url,omitempty"`

	// Temperature for generation.
	Temperature *float64 `yaml:"temperature,omitempty" json:"temperature,omitempty"`

	// MaxTokens limits response length.
	MaxTokens int `yaml:"max_tokens,omitempty" json:"max_tokens,omitempty"`

	// Timeout for a single model call, in seconds.
	Timeout int `yaml:"timeout,omitempty" json:"timeout,omitempty"`

	// MaxRetries for rate-limited or failed requests.
	MaxRetries int `yaml:"max_retries,omitempty" json:"max_retries,omitempty"`
}

// TaskStoreBackend identifies the task store backend type.
type TaskStoreBackend string

const (
	TaskStoreMemory TaskStoreBackend = "memory"
	TaskStoreSQL    TaskStoreBackend = "sql"
)

// TaskStoreConfig configures task persistence.
type TaskStoreConfig struct {
	// Backend type: "memory" (default) or "sql".
	Backend TaskStoreBackend `yaml:"backend,omitempty" json:"backend,omitempty"`

	// Driver for the sql backend: "sqlite", "postgres" or "mysql".
	Driver string `yaml:"driver,omitempty" json:"driver,omitempty"`

	// DSN is the database connection string for the sql backend.
	DSN string `yaml:"dsn,omitempty" json:"dsn,omitempty"`
}

// SetDefaults applies default values.
func (c *Config) SetDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "localhost"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 10000
	}

	if c.LLM.Model == "" {
		c.LLM.Model = "gpt-4o-mini"
	}
	if c.LLM.APIKey == "" {
		c.LLM.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if c.LLM.BaseURL == "" {
		c.LLM.BaseURL = "https://api.openai.com/v1"
	}
	if c.LLM.Temperature == nil {
		temp := 0.7
		c.LLM.Temperature = &temp
	}
	if c.LLM.MaxTokens == 0 {
		c.LLM.MaxTokens = 1024
	}
	if c.LLM.Timeout == 0 {
		c.LLM.Timeout = 60
	}

	if c.TaskStore.Backend == "" {
		c.TaskStore.Backend = TaskStoreMemory
	}
	if c.TaskStore.Backend == TaskStoreSQL && c.TaskStore.Driver == "" {
		c.TaskStore.Driver = "sqlite"
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server port %d out of range", c.Server.Port)
	}

	if c.LLM.APIKey == "" {
		return fmt.Errorf("llm api_key is required (set OPENAI_API_KEY)")
	}
	if c.LLM.Temperature != nil && (*c.LLM.Temperature < 0 || *c.LLM.Temperature > 2) {
		return fmt.Errorf("llm temperature must be between 0 and 2")
	}

	switch c.TaskStore.Backend {
	case TaskStoreMemory:
	case TaskStoreSQL:
		switch c.TaskStore.Driver {
		case "sqlite", "sqlite3", "postgres", "mysql":
		default:
			return fmt.Errorf("unsupported task store driver %q (supported: sqlite, postgres, mysql)", c.TaskStore.Driver)
		}
		if c.TaskStore.DSN == "" {
			return fmt.Errorf("task store dsn is required for the sql backend")
		}
	default:
		return fmt.Errorf("unsupported task store backend %q (supported: memory, sql)", c.TaskStore.Backend)
	}

	return nil
}

// Load reads a YAML config file, expands environment variables, applies
// defaults and validates the result. An empty path yields the defaults.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}

		var raw map[string]interface{}
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}

		expanded, err := yaml.Marshal(ExpandEnvVarsInData(raw))
		if err != nil {
			return nil, fmt.Errorf("failed to expand config: %w", err)
		}

		if err := yaml.Unmarshal(expanded, cfg); err != nil {
			return nil, fmt.Errorf("failed to decode config: %w", err)
		}
	}

	cfg.SetDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}
