package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/haasonsaas/switchboard/internal/observability"
)

func TestOllamaGenerate(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" {
			t.Errorf("path = %q, want /api/generate", r.URL.Path)
		}
		var req ollamaGenerateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Stream {
			t.Error("stream = true, want false")
		}
		if req.Model != "llama3.2" {
			t.Errorf("model = %q, want llama3.2", req.Model)
		}
		if req.Prompt == "" {
			t.Error("prompt is empty")
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"response": "USE_TOOL:get_network_time:{}"})
	}))
	defer srv.Close()

	p := NewOllama(Config{URL: srv.URL, Model: "llama3.2"})
	got, err := p.Generate(context.Background(), "what time is it")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if got != "USE_TOOL:get_network_time:{}" {
		t.Errorf("completion = %q", got)
	}
}

func TestOllamaGenerateUpstreamStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "model is loading", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	p := NewOllama(Config{URL: srv.URL, Model: "llama3.2"})
	_, err := p.Generate(context.Background(), "hello")
	if err == nil {
		t.Fatal("want error on 503")
	}
	if !strings.Contains(err.Error(), "503") {
		t.Errorf("error %q should carry the upstream status", err)
	}
}

func TestOllamaGenerateAPIError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"error": "model 'missing' not found"})
	}))
	defer srv.Close()

	p := NewOllama(Config{URL: srv.URL, Model: "missing"})
	_, err := p.Generate(context.Background(), "hello")
	if err == nil || !strings.Contains(err.Error(), "not found") {
		t.Fatalf("err = %v, want ollama error body", err)
	}
}

func TestOpenAIGenerate(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("path = %q, want /v1/chat/completions", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("authorization = %q", got)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":     "chatcmpl-1",
			"object": "chat.completion",
			"model":  "gpt-4o-mini",
			"choices": []map[string]any{
				{
					"index":         0,
					"message":       map[string]any{"role": "assistant", "content": "the lights are off"},
					"finish_reason": "stop",
				},
			},
		})
	}))
	defer srv.Close()

	p := NewOpenAI(Config{URL: srv.URL, APIKey: "test-key", Model: "gpt-4o-mini"})
	got, err := p.Generate(context.Background(), "are the lights on?")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if got != "the lights are off" {
		t.Errorf("completion = %q", got)
	}
}

func TestNewSelectsProvider(t *testing.T) {
	t.Parallel()

	tests := []struct {
		provider string
		wantName string
		wantErr  bool
	}{
		{provider: "", wantName: "ollama"},
		{provider: "ollama", wantName: "ollama"},
		{provider: "openai", wantName: "openai"},
		{provider: "gemini", wantErr: true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run("provider_"+tt.provider, func(t *testing.T) {
			t.Parallel()

			p, err := New(Config{Provider: tt.provider, Model: "m"})
			if tt.wantErr {
				if err == nil {
					t.Fatalf("New(%q) succeeded, want error", tt.provider)
				}
				return
			}
			if err != nil {
				t.Fatalf("New(%q): %v", tt.provider, err)
			}
			if p.Name() != tt.wantName {
				t.Errorf("Name() = %q, want %q", p.Name(), tt.wantName)
			}
		})
	}
}

func TestOllamaProbe(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/tags" {
			t.Errorf("path = %q, want /api/tags", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"models": []any{}})
	}))
	defer srv.Close()

	p := NewOllama(Config{URL: srv.URL, Model: "llama3.2"})
	if err := p.Probe(context.Background()); err != nil {
		t.Fatalf("Probe: %v", err)
	}
}

func TestOllamaProbeUnhealthy(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "oom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	p := NewOllama(Config{URL: srv.URL, Model: "llama3.2"})
	err := p.Probe(context.Background())
	if !errors.Is(err, ErrUnhealthy) {
		t.Fatalf("err = %v, want ErrUnhealthy", err)
	}
}

func TestOllamaProbeUnreachable(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	p := NewOllama(Config{URL: url, Model: "llama3.2"})
	err := p.Probe(context.Background())
	if err == nil {
		t.Fatal("want error for unreachable daemon")
	}
	if errors.Is(err, ErrUnhealthy) {
		t.Errorf("transport failure should not be ErrUnhealthy: %v", err)
	}
}

func TestOpenAIProbeUnhealthy(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/models" {
			t.Errorf("path = %q, want /v1/models", r.URL.Path)
		}
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{"message": "bad key", "type": "invalid_request_error"},
		})
	}))
	defer srv.Close()

	p := NewOpenAI(Config{URL: srv.URL, APIKey: "bad", Model: "gpt-4o-mini"})
	err := p.Probe(context.Background())
	if !errors.Is(err, ErrUnhealthy) {
		t.Fatalf("err = %v, want ErrUnhealthy", err)
	}
}

type stubProvider struct {
	text string
	err  error
}

func (s *stubProvider) Name() string  { return "stub" }
func (s *stubProvider) Model() string { return "stub-model" }
func (s *stubProvider) Generate(context.Context, string) (string, error) {
	return s.text, s.err
}
func (s *stubProvider) Probe(context.Context) error { return s.err }

func TestWithMetricsCountsOutcomes(t *testing.T) {
	t.Parallel()

	metrics := observability.NewMetricsWith(prometheus.NewRegistry())

	ok := WithMetrics(&stubProvider{text: "hi"}, metrics)
	if _, err := ok.Generate(context.Background(), "p"); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if _, err := ok.Generate(context.Background(), "p"); err != nil {
		t.Fatalf("Generate: %v", err)
	}

	bad := WithMetrics(&stubProvider{err: errors.New("down")}, metrics)
	if _, err := bad.Generate(context.Background(), "p"); err == nil {
		t.Fatal("want error from failing provider")
	}

	success := testutil.ToFloat64(metrics.LLMRequests.WithLabelValues("stub", "stub-model", "success"))
	if success != 2 {
		t.Errorf("success count = %v, want 2", success)
	}
	failure := testutil.ToFloat64(metrics.LLMRequests.WithLabelValues("stub", "stub-model", "error"))
	if failure != 1 {
		t.Errorf("error count = %v, want 1", failure)
	}
}

func TestWithMetricsNilPassthrough(t *testing.T) {
	t.Parallel()

	p := &stubProvider{text: "hi"}
	if got := WithMetrics(p, nil); got != Provider(p) {
		t.Error("nil metrics should return the provider unchanged")
	}
}
