// Package toolserver is the HTTP surface of the tool side: descriptor
// listing, tool invocation, health and a mock generate endpoint for
// development without an LLM runtime.
package toolserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/haasonsaas/switchboard/internal/homeassistant"
	"github.com/haasonsaas/switchboard/internal/tools"
)

// maxRequestBody bounds request payloads on every POST route.
const maxRequestBody = 1 << 20

// Server serves the tool invocation API.
type Server struct {
	dispatcher   *tools.Dispatcher
	synchronizer *homeassistant.Synchronizer
	logger       *slog.Logger
	version      string

	httpServer *http.Server
	listener   net.Listener
}

// NewServer wires the HTTP surface around a dispatcher. The
// synchronizer is consulted only for /health; it is required because
// the health payload always names the cache backend and connection
// state, even when Home Assistant is not configured.
func NewServer(dispatcher *tools.Dispatcher, synchronizer *homeassistant.Synchronizer, version string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		dispatcher:   dispatcher,
		synchronizer: synchronizer,
		logger:       logger.With("component", "toolserver"),
		version:      version,
	}
}

// Handler returns the route table. Exposed so tests can drive the
// surface through httptest without binding a port.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleRoot)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/v1/tools/list", s.handleList)
	mux.HandleFunc("/v1/tools/call", s.handleCall)
	mux.HandleFunc("/v1/generate", s.handleGenerate)
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

// Start binds addr and serves in the background.
func (s *Server) Start(addr string) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("toolserver: listen %s: %w", addr, err)
	}
	s.httpServer = server
	s.listener = listener

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server error", "error", err)
		}
	}()
	s.logger.Info("tool server listening", "addr", addr)
	return nil
}

// Stop drains in-flight requests until ctx expires.
func (s *Server) Stop(ctx context.Context) {
	if s.httpServer == nil {
		return
	}
	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Warn("http server shutdown error", "error", err)
	}
	s.httpServer = nil
	s.listener = nil
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "not found"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"service": "switchboard",
		"version": s.version,
		"endpoints": map[string]any{
			"health":   "/health",
			"tools":    "/v1/tools/list",
			"call":     "/v1/tools/call",
			"generate": "/v1/generate",
			"metrics":  "/metrics",
		},
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"error": "method not allowed"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"cache_backend":  s.synchronizer.CacheBackend(),
		"home_assistant": s.synchronizer.Health().String(),
	})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"error": "method not allowed"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tools": s.dispatcher.Registry().Descriptors()})
}

// handleCall runs one tool. Typed failures ride back inside the result
// envelope with HTTP 200; non-200 is reserved for requests that never
// reached the dispatcher.
func (s *Server) handleCall(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"error": "method not allowed"})
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	defer r.Body.Close()

	var call tools.Call
	if err := json.NewDecoder(r.Body).Decode(&call); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeJSON(w, http.StatusRequestEntityTooLarge, map[string]any{"error": "request too large"})
			return
		}
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid JSON body"})
		return
	}
	if call.ToolName == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "tool_name is required"})
		return
	}
	writeJSON(w, http.StatusOK, s.dispatcher.Dispatch(r.Context(), call))
}

type generateRequest struct {
	Prompt string `json:"prompt"`
}

// handleGenerate is a development stand-in for an LLM runtime: it
// echoes the prompt so the orchestrator pipeline can be exercised
// end to end without a model.
func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"error": "method not allowed"})
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	defer r.Body.Close()

	var req generateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid JSON body"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"response": "Mock response to: " + req.Prompt,
		"model":    "mock",
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		// Best-effort: the client may have gone away mid-response.
		return
	}
}
