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

// Command skycast runs the A2A weather agent server.
//
// Usage:
//
//	skycast serve
//	skycast serve --host 0.0.0.0 --port 10000
//	skycast serve --config skycast.yaml
//
// The OPENAI_API_KEY environment variable (or the config file's llm.api_key)
// must be set.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/alecthomas/kong"

	"github.com/kadirpekel/skycast/pkg/agent"
	"github.com/kadirpekel/skycast/pkg/config"
	"github.com/kadirpekel/skycast/pkg/model/openai"
	"github.com/kadirpekel/skycast/pkg/server"
	"github.com/kadirpekel/skycast/pkg/task"
	"github.com/kadirpekel/skycast/pkg/tool/weathertool"
)

// CLI defines the command-line interface.
type CLI struct {
	Version VersionCmd `cmd:"" help:"Show version information."`
	Serve   ServeCmd   `cmd:"" default:"1" help:"Start the A2A weather agent server."`

	Config    string `short:"c" help:"Path to config file." type:"path"`
	LogLevel  string `help:"Log level (debug, info, warn, error)." default:"info"`
	LogFile   string `help:"Log file path (empty = stderr)."`
	LogFormat string `help:"Log format (simple, verbose, json)." default:"simple"`
}

// VersionCmd shows version information.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	version := "dev"
	if info, ok := debug.ReadBuildInfo(); ok {
		if info.Main.Version != "(devel)" && info.Main.Version != "" {
			version = info.Main.Version
		}
	}
	fmt.Printf("skycast version %s\n", version)
	return nil
}

// ServeCmd starts the A2A server.
type ServeCmd struct {
	Host string `help:"Host to bind." default:"localhost"`
	Port int    `help:"Port to listen on." default:"10000"`

	Model       string  `help:"OpenAI model name."`
	APIKey      string  `name:"api-key" help:"OpenAI API key (defaults to OPENAI_API_KEY)."`
	BaseURL     string  `name:"base-url" help:"Custom API base URL."`
	Temperature float64 `help:"Temperature for generation." default:"-1"`

	NoMetrics bool `name:"no-metrics" help:"Disable the Prometheus /metrics endpoint."`
}

func (c *ServeCmd) Run(cli *CLI) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		slog.Info("Shutting down...")
		cancel()
	}()

	cfg, err := c.loadConfig(cli.Config)
	if err != nil {
		return err
	}

	llm, err := openai.New(cfg.LLM.APIKey, cfg.LLM.Model,
		openai.WithBaseURL(cfg.LLM.BaseURL),
		openai.WithTemperature(*cfg.LLM.Temperature),
		openai.WithMaxTokens(cfg.LLM.MaxTokens),
		openai.WithTimeout(time.Duration(cfg.LLM.Timeout)*time.Second),
		openai.WithMaxRetries(cfg.LLM.MaxRetries),
	)
	if err != nil {
		return fmt.Errorf("failed to create model client: %w", err)
	}
	defer func() { _ = llm.Close() }()

	weather, err := weathertool.New()
	if err != nil {
		return fmt.Errorf("failed to create weather tool: %w", err)
	}

	weatherAgent, err := agent.New(llm, agent.WithTools(weather))
	if err != nil {
		return fmt.Errorf("failed to create agent: %w", err)
	}

	var executorOpts []server.ExecutorOption
	var serverOpts []server.HTTPServerOption

	if !c.NoMetrics {
		metrics := server.NewMetrics()
		executorOpts = append(executorOpts, server.WithMetrics(metrics))
		serverOpts = append(serverOpts, server.WithServerMetrics(metrics))
	}

	executor, err := server.NewExecutor(weatherAgent, executorOpts...)
	if err != nil {
		return fmt.Errorf("failed to create executor: %w", err)
	}

	store, err := task.NewStoreFromConfig(cfg.TaskStore)
	if err != nil {
		return fmt.Errorf("failed to create task store: %w", err)
	}
	serverOpts = append(serverOpts, server.WithTaskStore(store))
	if cfg.TaskStore.Backend == config.TaskStoreSQL {
		slog.Info("Task persistence enabled", "driver", cfg.TaskStore.Driver)
	}

	srv := server.NewHTTPServer(cfg, executor, serverOpts...)

	fmt.Printf("\nWeather agent ready!\n")
	fmt.Printf("   Agent Card:  http://%s/.well-known/agent-card.json\n", srv.Address())
	fmt.Printf("   JSON-RPC:    http://%s/\n", srv.Address())
	fmt.Printf("   Health:      http://%s/health\n", srv.Address())
	if !c.NoMetrics {
		fmt.Printf("   Metrics:     http://%s/metrics\n", srv.Address())
	}
	fmt.Println("\nPress Ctrl+C to stop")

	return srv.Start(ctx)
}

// loadConfig builds the effective config from file and flags.
// Flags override file values; defaults fill the rest.
func (c *ServeCmd) loadConfig(configPath string) (*config.Config, error) {
	cfg := &config.Config{}
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
		cfg = loaded
		slog.Info("Loaded configuration", "path", configPath)
	}

	if c.Host != "" && c.Host != "localhost" {
		cfg.Server.Host = c.Host
	}
	if c.Port != 0 && c.Port != 10000 {
		cfg.Server.Port = c.Port
	}
	if c.Model != "" {
		cfg.LLM.Model = c.Model
	}
	if c.APIKey != "" {
		cfg.LLM.APIKey = c.APIKey
	}
	if c.BaseURL != "" {
		cfg.LLM.BaseURL = c.BaseURL
	}
	if c.Temperature >= 0 {
		cfg.LLM.Temperature = &c.Temperature
	}

	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func main() {
	_ = config.LoadEnvFiles()

	cli := CLI{}
	ctx := kong.Parse(&cli,
		kong.Name("skycast"),
		kong.Description("SkyCast - A2A weather agent server"),
		kong.UsageOnError(),
	)

	cleanup, err := initLoggerFromCLI(cli.LogLevel, cli.LogFile, cli.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	if cleanup != nil {
		defer cleanup()
	}

	err = ctx.Run(&cli)
	ctx.FatalIfErrorf(err)
}
