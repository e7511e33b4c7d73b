package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAI generates completions through an OpenAI-compatible chat
// endpoint. A custom URL points it at local runtimes (vLLM, LM Studio,
// Ollama's /v1 shim); an empty URL means api.openai.com.
type OpenAI struct {
	client *openai.Client
	model  string
}

// NewOpenAI creates an OpenAI provider from cfg.
func NewOpenAI(cfg Config) *OpenAI {
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if base := strings.TrimRight(strings.TrimSpace(cfg.URL), "/"); base != "" {
		// The SDK expects the /v1 prefix to be part of the base URL.
		if !strings.HasSuffix(base, "/v1") {
			base += "/v1"
		}
		clientConfig.BaseURL = base
	}
	if cfg.Timeout > 0 {
		clientConfig.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}
	return &OpenAI{
		client: openai.NewClientWithConfig(clientConfig),
		model:  strings.TrimSpace(cfg.Model),
	}
}

// Name returns "openai".
func (p *OpenAI) Name() string { return "openai" }

// Model returns the configured model identifier.
func (p *OpenAI) Model() string { return p.model }

// Probe checks the endpoint by listing models.
func (p *OpenAI) Probe(ctx context.Context) error {
	if _, err := p.client.ListModels(ctx); err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) {
			return fmt.Errorf("llm: openai probe status %d: %w", apiErr.HTTPStatusCode, ErrUnhealthy)
		}
		var reqErr *openai.RequestError
		if errors.As(err, &reqErr) {
			return fmt.Errorf("llm: openai probe status %d: %w", reqErr.HTTPStatusCode, ErrUnhealthy)
		}
		return fmt.Errorf("llm: openai probe: %w", err)
	}
	return nil
}

// Generate sends prompt as a single user message and returns the first
// choice.
func (p *OpenAI) Generate(ctx context.Context, prompt string) (string, error) {
	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: p.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		return "", fmt.Errorf("llm: openai request: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("llm: openai returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}
