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

package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/a2aproject/a2a-go/a2a"
	"github.com/a2aproject/a2a-go/a2asrv"

	"github.com/kadirpekel/skycast/pkg/config"
)

// HTTPServer serves the weather agent over JSON-RPC with SSE streaming,
// using a2a-go native handlers for protocol compliance.
type HTTPServer struct {
	cfg    *config.Config
	server *http.Server

	// TaskStore for persistent task storage (nil = a2a-go in-memory)
	taskStore a2asrv.TaskStore

	metrics *Metrics

	jsonRPCHandler http.Handler
	cardHandler    http.Handler
	card           *a2a.AgentCard
}

// HTTPServerOption configures the HTTP server.
type HTTPServerOption func(*HTTPServer)

// WithTaskStore sets the task store for persistent task storage.
// If not set, a2a-go uses its internal in-memory store.
func WithTaskStore(store a2asrv.TaskStore) HTTPServerOption {
	return func(s *HTTPServer) {
		s.taskStore = store
	}
}

// WithServerMetrics exposes Prometheus metrics at /metrics.
func WithServerMetrics(m *Metrics) HTTPServerOption {
	return func(s *HTTPServer) {
		s.metrics = m
	}
}

// NewHTTPServer creates an HTTP server around the executor.
func NewHTTPServer(cfg *config.Config, executor *Executor, opts ...HTTPServerOption) *HTTPServer {
	s := &HTTPServer{cfg: cfg}
	for _, opt := range opts {
		opt(s)
	}

	var handlerOpts []a2asrv.RequestHandlerOption
	if s.taskStore != nil {
		handlerOpts = append(handlerOpts, a2asrv.WithTaskStore(s.taskStore))
	}

	requestHandler := a2asrv.NewHandler(executor, handlerOpts...)
	s.jsonRPCHandler = a2asrv.NewJSONRPCHandler(requestHandler)
	s.card = buildAgentCard(cfg)
	s.cardHandler = a2asrv.NewStaticAgentCardHandler(s.card)

	return s
}

// buildAgentCard creates the A2A agent card.
func buildAgentCard(cfg *config.Config) *a2a.AgentCard {
	return &a2a.AgentCard{
		Name:               "Weather Assistant",
		Description:        "Provides current weather information for major cities worldwide.",
		URL:                "http://" + cfg.Server.Address() + "/",
		Version:            "1.0.0",
		ProtocolVersion:    "1.0",
		DefaultInputModes:  supportedOutputModes,
		DefaultOutputModes: supportedOutputModes,
		Skills: []a2a.AgentSkill{{
			ID:          "weather_information",
			Name:        "Weather Information",
			Description: "Reports current conditions, temperature and humidity for a city.",
			Tags:        []string{"weather", "assistant"},
			Examples:    []string{"What's the weather in Tokyo?", "Weather in Paris in fahrenheit"},
		}},
		Capabilities: a2a.AgentCapabilities{
			Streaming:              true,
			PushNotifications:      false,
			StateTransitionHistory: false,
		},
		PreferredTransport: a2a.TransportProtocolJSONRPC,
	}
}

// Card returns the served agent card.
func (s *HTTPServer) Card() *a2a.AgentCard {
	return s.card
}

// Address returns the configured bind address.
func (s *HTTPServer) Address() string {
	return s.cfg.Server.Address()
}

// Start runs the server until ctx is canceled or the listener fails.
func (s *HTTPServer) Start(ctx context.Context) error {
	var handler http.Handler = s.setupRoutes()
	handler = s.corsMiddleware(handler)
	handler = s.loggingMiddleware(handler)

	s.server = &http.Server{
		Addr:         s.cfg.Server.Address(),
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	slog.Info("HTTP server starting", "address", s.cfg.Server.Address())

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return s.Shutdown(context.Background())
	}
}

// Shutdown gracefully shuts down the server.
func (s *HTTPServer) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	slog.Info("HTTP server shutting down")
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("HTTP shutdown error: %w", err)
	}
	return nil
}

// setupRoutes configures the HTTP routes:
//   - POST /                             → JSON-RPC (a2a-go native)
//   - GET  /                             → Agent card
//   - GET  /.well-known/agent-card.json  → Agent card (a2a-go native)
//   - GET  /health                       → Health check
//   - GET  /metrics                      → Prometheus metrics (if enabled)
func (s *HTTPServer) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/", s.handleRoot)
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle(a2asrv.WellKnownAgentCardPath, s.cardHandler)

	if s.metrics != nil {
		mux.Handle("/metrics", s.metrics.Handler())
		slog.Info("Metrics endpoint enabled", "path", "/metrics")
	}

	return mux
}

func (s *HTTPServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	switch r.Method {
	case http.MethodPost:
		s.jsonRPCHandler.ServeHTTP(w, r)
	case http.MethodGet, http.MethodOptions:
		s.cardHandler.ServeHTTP(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// corsMiddleware adds permissive CORS headers for development clients.
func (s *HTTPServer) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// loggingMiddleware logs requests. The ResponseWriter is not wrapped
// because that breaks http.Flusher for SSE.
func (s *HTTPServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		slog.Debug("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start),
		)
	})
}
