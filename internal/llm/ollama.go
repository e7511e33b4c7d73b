package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultOllamaURL = "http://localhost:11434"

// maxOllamaResponse caps how much of a generate response is decoded.
const maxOllamaResponse = 4 << 20

// Ollama talks to Ollama's native generate endpoint. Completions are
// requested unstreamed because the router scans the full text for
// tool-call lines before anything is shown to the user.
type Ollama struct {
	client  *http.Client
	baseURL string
	model   string
}

// NewOllama creates an Ollama provider from cfg. URL defaults to the
// local daemon; Timeout defaults to two minutes, which covers cold model
// loads on small hardware.
func NewOllama(cfg Config) *Ollama {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.URL), "/")
	if baseURL == "" {
		baseURL = defaultOllamaURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &Ollama{
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
		model:   strings.TrimSpace(cfg.Model),
	}
}

// Name returns "ollama".
func (p *Ollama) Name() string { return "ollama" }

// Model returns the configured model identifier.
func (p *Ollama) Model() string { return p.model }

type ollamaGenerateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

type ollamaGenerateResponse struct {
	Response string `json:"response"`
	Error    string `json:"error"`
}

// Probe checks the daemon by listing local models.
func (p *Ollama) Probe(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/api/tags", nil)
	if err != nil {
		return fmt.Errorf("llm: build probe request: %w", err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("llm: ollama probe: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 8<<10))

	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("llm: ollama probe status %d: %w", resp.StatusCode, ErrUnhealthy)
	}
	return nil
}

// Generate posts prompt to /api/generate and returns the completion.
func (p *Ollama) Generate(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(ollamaGenerateRequest{
		Model:  p.model,
		Prompt: prompt,
		Stream: false,
	})
	if err != nil {
		return "", fmt.Errorf("llm: marshal generate request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("llm: build generate request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("llm: ollama request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 8<<10))
		return "", fmt.Errorf("llm: ollama status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var out ollamaGenerateResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxOllamaResponse)).Decode(&out); err != nil {
		return "", fmt.Errorf("llm: decode ollama response: %w", err)
	}
	if out.Error != "" {
		return "", fmt.Errorf("llm: ollama: %s", out.Error)
	}
	return out.Response, nil
}
