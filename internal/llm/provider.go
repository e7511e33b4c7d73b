// Package llm contains the completion providers behind the
// orchestrator's tool-calling pipeline. A Provider takes one prompt and
// returns one completion; conversation state stays with the caller, so
// providers hold no history and are safe for concurrent use.
package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/haasonsaas/switchboard/internal/observability"
)

// ErrUnhealthy reports that a provider answered a probe with an error
// status. Callers use it to tell a misbehaving service apart from an
// unreachable one.
var ErrUnhealthy = errors.New("llm: provider unhealthy")

// Provider generates a completion for a single prompt.
type Provider interface {
	// Name returns the stable lowercase provider identifier.
	Name() string

	// Model returns the model completions are generated with.
	Model() string

	// Generate returns the completion for prompt.
	Generate(ctx context.Context, prompt string) (string, error)

	// Probe checks that the backing service is reachable. It returns
	// nil when the service answers, an error wrapping ErrUnhealthy when
	// it answers with an error status, and the transport error when it
	// cannot be reached at all.
	Probe(ctx context.Context) error
}

// Config selects and configures a provider.
type Config struct {
	// Provider is "ollama" or "openai". Empty selects ollama.
	Provider string

	// URL is the provider base URL. Empty uses the provider default.
	URL string

	// Model is the model identifier sent with every request.
	Model string

	// APIKey authenticates OpenAI-compatible endpoints. Ollama ignores it.
	APIKey string

	// Timeout bounds a single Generate round trip.
	Timeout time.Duration
}

// New builds the provider selected by cfg.Provider.
func New(cfg Config) (Provider, error) {
	switch cfg.Provider {
	case "", "ollama":
		return NewOllama(cfg), nil
	case "openai":
		return NewOpenAI(cfg), nil
	default:
		return nil, fmt.Errorf("llm: unknown provider %q", cfg.Provider)
	}
}

// WithMetrics wraps p so every Generate call is counted and timed.
// A nil metrics value returns p unchanged.
func WithMetrics(p Provider, metrics *observability.Metrics) Provider {
	if metrics == nil {
		return p
	}
	return &instrumented{next: p, metrics: metrics}
}

type instrumented struct {
	next    Provider
	metrics *observability.Metrics
}

func (i *instrumented) Name() string  { return i.next.Name() }
func (i *instrumented) Model() string { return i.next.Model() }

// Probe is not a completion, so it stays out of the request metrics.
func (i *instrumented) Probe(ctx context.Context) error { return i.next.Probe(ctx) }

func (i *instrumented) Generate(ctx context.Context, prompt string) (string, error) {
	start := time.Now()
	text, err := i.next.Generate(ctx, prompt)
	i.metrics.LLMRequestDuration.WithLabelValues(i.next.Name(), i.next.Model()).
		Observe(time.Since(start).Seconds())

	status := "success"
	if err != nil {
		status = "error"
	}
	i.metrics.LLMRequests.WithLabelValues(i.next.Name(), i.next.Model(), status).Inc()
	return text, err
}
