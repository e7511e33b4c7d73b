package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus instruments shared by the tool server and
// the orchestrator. Each process touches only the subset that applies to
// it; unused vecs simply never report.
type Metrics struct {
	// ToolCalls counts dispatched tool calls.
	// Labels: tool, status (success|error)
	ToolCalls *prometheus.CounterVec

	// ToolCallDuration measures tool execution time in seconds.
	// Labels: tool
	ToolCallDuration *prometheus.HistogramVec

	// CacheHits counts Home Assistant state cache hits.
	CacheHits prometheus.Counter

	// CacheMisses counts Home Assistant state cache misses.
	CacheMisses prometheus.Counter

	// CacheInvalidationErrors counts failed cache invalidations after a
	// service call. These are logged too; the counter exists so a stuck
	// cache backend is visible without log scraping.
	CacheInvalidationErrors prometheus.Counter

	// WSReconnects counts Home Assistant WebSocket reconnect attempts.
	WSReconnects prometheus.Counter

	// Interactions counts completed chat turns.
	// Labels: routing_type (direct_shortcut|llm_with_tools|llm_only)
	Interactions *prometheus.CounterVec

	// Feedback counts feedback submissions.
	// Labels: kind (thumbs_up|thumbs_down)
	Feedback *prometheus.CounterVec

	// Transcriptions counts transcription requests.
	// Labels: status (success|error)
	Transcriptions *prometheus.CounterVec

	// LLMRequests counts LLM generate calls.
	// Labels: provider, model, status (success|error)
	LLMRequests *prometheus.CounterVec

	// LLMRequestDuration measures LLM generate latency in seconds.
	// Labels: provider, model
	LLMRequestDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers all metrics on the default registry.
// Call once at startup; use NewMetricsWith in tests to avoid duplicate
// registration panics.
func NewMetrics() *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer)
}

// NewMetricsWith creates all metrics on the given registerer.
func NewMetricsWith(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ToolCalls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "switchboard_tool_calls_total",
				Help: "Total number of tool calls by tool and status",
			},
			[]string{"tool", "status"},
		),

		ToolCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "switchboard_tool_call_duration_seconds",
				Help:    "Duration of tool calls in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"tool"},
		),

		CacheHits: factory.NewCounter(prometheus.CounterOpts{
			Name: "switchboard_ha_cache_hits_total",
			Help: "Total number of Home Assistant state cache hits",
		}),

		CacheMisses: factory.NewCounter(prometheus.CounterOpts{
			Name: "switchboard_ha_cache_misses_total",
			Help: "Total number of Home Assistant state cache misses",
		}),

		CacheInvalidationErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "switchboard_ha_cache_invalidation_errors_total",
			Help: "Total number of failed cache invalidations after service calls",
		}),

		WSReconnects: factory.NewCounter(prometheus.CounterOpts{
			Name: "switchboard_ha_ws_reconnects_total",
			Help: "Total number of Home Assistant WebSocket reconnect attempts",
		}),

		Interactions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "switchboard_interactions_total",
				Help: "Total number of chat turns by routing type",
			},
			[]string{"routing_type"},
		),

		Feedback: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "switchboard_feedback_total",
				Help: "Total number of feedback submissions by kind",
			},
			[]string{"kind"},
		),

		Transcriptions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "switchboard_transcriptions_total",
				Help: "Total number of transcription requests by status",
			},
			[]string{"status"},
		),

		LLMRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "switchboard_llm_requests_total",
				Help: "Total number of LLM requests by provider, model, and status",
			},
			[]string{"provider", "model", "status"},
		),

		LLMRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "switchboard_llm_request_duration_seconds",
				Help:    "Duration of LLM requests in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"provider", "model"},
		),
	}
}
