// Package orchestrator is the chat-facing HTTP surface: chat routing,
// transcription, feedback, interaction lookups and upstream health.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/haasonsaas/switchboard/internal/interaction"
	"github.com/haasonsaas/switchboard/internal/llm"
	"github.com/haasonsaas/switchboard/internal/router"
	"github.com/haasonsaas/switchboard/internal/tools"
	"github.com/haasonsaas/switchboard/internal/transcribe"
)

// probeTimeout bounds each upstream health probe.
const probeTimeout = 2 * time.Second

// maxRequestBody bounds JSON request payloads.
const maxRequestBody = 1 << 20

// maxAudioUpload bounds transcription uploads. Mono 16-bit 16kHz runs
// about 2MB per minute, so this comfortably covers voice clips.
const maxAudioUpload = 25 << 20

// Config wires the orchestrator surface. Log, Feedback and Transcriber
// may be nil; the matching endpoints then answer 503.
type Config struct {
	Chat        *router.ChatService
	ToolClient  *router.ToolClient
	Provider    llm.Provider
	Feedback    *interaction.FeedbackService
	Log         interaction.Log
	Transcriber *transcribe.Client
	Version     string
	Logger      *slog.Logger
}

// Server serves the orchestrator API.
type Server struct {
	chat        *router.ChatService
	toolClient  *router.ToolClient
	provider    llm.Provider
	feedback    *interaction.FeedbackService
	log         interaction.Log
	transcriber *transcribe.Client
	logger      *slog.Logger
	version     string

	httpServer *http.Server
	listener   net.Listener
}

// NewServer builds the HTTP surface from cfg.
func NewServer(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		chat:        cfg.Chat,
		toolClient:  cfg.ToolClient,
		provider:    cfg.Provider,
		feedback:    cfg.Feedback,
		log:         cfg.Log,
		transcriber: cfg.Transcriber,
		logger:      logger.With("component", "orchestrator"),
		version:     cfg.Version,
	}
}

// Handler returns the route table. Exposed so tests can drive the
// surface through httptest without binding a port.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleRoot)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/tools", s.handleTools)
	mux.HandleFunc("/chat", s.handleChat)
	mux.HandleFunc("/test-tool", s.handleTestTool)
	mux.HandleFunc("/feedback", s.handleFeedback)
	mux.HandleFunc("/interaction/", s.handleGetInteraction)
	mux.HandleFunc("/interactions/", s.handleListInteractions)
	mux.HandleFunc("/transcribe", s.handleTranscribe)
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
		return fmt.Errorf("orchestrator: listen %s: %w", addr, err)
	}
	s.httpServer = server
	s.listener = listener

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server error", "error", err)
		}
	}()
	s.logger.Info("orchestrator listening", "addr", addr)
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
		"service": "switchboard-orchestrator",
		"version": s.version,
		"model":   s.provider.Model(),
		"endpoints": map[string]any{
			"chat":         "/chat",
			"health":       "/health",
			"tools":        "/tools",
			"test_tool":    "/test-tool",
			"feedback":     "/feedback",
			"interaction":  "/interaction/{session_id}/{interaction_id}",
			"interactions": "/interactions/{session_id}",
			"transcribe":   "/transcribe",
			"metrics":      "/metrics",
		},
	})
}

// handleHealth probes the LLM runtime and the tool server concurrently.
// Each upstream reports connected, error (answered with a failure
// status) or disconnected (unreachable).
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"error": "method not allowed"})
		return
	}

	var wg sync.WaitGroup
	var llmErr, toolErr error
	wg.Add(2)
	go func() {
		defer wg.Done()
		ctx, cancel := context.WithTimeout(r.Context(), probeTimeout)
		defer cancel()
		llmErr = s.provider.Probe(ctx)
	}()
	go func() {
		defer wg.Done()
		ctx, cancel := context.WithTimeout(r.Context(), probeTimeout)
		defer cancel()
		toolErr = s.toolClient.Probe(ctx)
	}()
	wg.Wait()

	llmStatus := llmProbeStatus(llmErr)
	toolStatus := toolProbeStatus(toolErr)
	status := "ok"
	if llmStatus != "connected" || toolStatus != "connected" {
		status = "degraded"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      status,
		"service":     "switchboard-orchestrator",
		"llm":         llmStatus,
		"tool_server": toolStatus,
		"model":       s.provider.Model(),
	})
}

func llmProbeStatus(err error) string {
	switch {
	case err == nil:
		return "connected"
	case errors.Is(err, llm.ErrUnhealthy):
		return "error"
	default:
		return "disconnected"
	}
}

func toolProbeStatus(err error) string {
	var ue *tools.UpstreamError
	switch {
	case err == nil:
		return "connected"
	case errors.As(err, &ue):
		return "error"
	default:
		return "disconnected"
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		// Best-effort: the client may have gone away mid-response.
		return
	}
}
