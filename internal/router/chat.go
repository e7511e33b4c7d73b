package router

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/haasonsaas/switchboard/internal/interaction"
	"github.com/haasonsaas/switchboard/internal/llm"
	"github.com/haasonsaas/switchboard/internal/observability"
	"github.com/haasonsaas/switchboard/internal/tools"
)

// ChatService answers one chat message at a time. A shortcut hit calls
// its tool directly and skips the LLM; everything else takes one LLM
// pass, plus a synthesis pass when the model requests tools. Every turn
// is recorded in the interaction log under exactly one routing type.
type ChatService struct {
	rules   Rules
	llm     llm.Provider
	tools   *ToolClient
	log     interaction.Log
	metrics *observability.Metrics
	tracer  *observability.Tracer
	logger  *slog.Logger

	now   func() time.Time
	newID func() string

	mu       sync.Mutex
	lastList []tools.Descriptor
}

// NewChatService wires the routing pipeline. log may be nil when no
// ephemeral store is configured; recording then becomes a no-op.
// Metrics and tracer may be nil.
func NewChatService(rules Rules, provider llm.Provider, tc *ToolClient, log interaction.Log, metrics *observability.Metrics, tracer *observability.Tracer, logger *slog.Logger) *ChatService {
	if logger == nil {
		logger = slog.Default()
	}
	return &ChatService{
		rules:   rules,
		llm:     provider,
		tools:   tc,
		log:     log,
		metrics: metrics,
		tracer:  tracer,
		logger:  logger.With("component", "router"),
		now:     time.Now,
		newID:   interaction.NewID,
	}
}

// Reply is the chat endpoint payload.
type Reply struct {
	Response      string         `json:"response"`
	ToolsUsed     []string       `json:"tools_used"`
	SessionID     string         `json:"session_id"`
	Timestamp     time.Time      `json:"timestamp"`
	InteractionID string         `json:"interaction_id"`
	Debug         map[string]any `json:"debug"`
}

// Process routes and answers one message. A shortcut whose tool call
// fails does not error out: the message falls back to the LLM path,
// which can still produce a useful answer.
func (s *ChatService) Process(ctx context.Context, message, sessionID string) (*Reply, error) {
	ctx, span := s.tracer.Start(ctx, "chat.process",
		attribute.String("session.id", sessionID),
	)
	defer span.End()

	interactionID := s.newID()

	if dec := s.rules.Decide(message); dec != nil {
		if reply := s.runShortcut(ctx, dec, message, sessionID, interactionID); reply != nil {
			span.SetAttributes(attribute.String("routing.type", string(interaction.RoutingDirectShortcut)))
			return reply, nil
		}
	}
	reply, err := s.runLLM(ctx, message, sessionID, interactionID)
	if err == nil {
		if routing, ok := reply.Debug["routing"].(string); ok {
			span.SetAttributes(attribute.String("routing.type", routing))
		}
	}
	return reply, err
}

// runShortcut executes a shortcut decision end to end. A nil return
// means the tool call did not produce a usable result and the caller
// should fall back to the LLM path.
func (s *ChatService) runShortcut(ctx context.Context, dec *Shortcut, message, sessionID, interactionID string) *Reply {
	res, err := s.tools.CallTool(ctx, dec.Tool, dec.Arguments, sessionID)
	if err != nil {
		s.logger.Warn("shortcut tool call failed, falling back to llm",
			"tool", dec.Tool, "pattern", dec.Pattern, "error", err)
		return nil
	}
	if !res.OK() {
		kind := ""
		if res.Err != nil {
			kind = string(res.Err.Kind)
		}
		s.logger.Warn("shortcut tool reported failure, falling back to llm",
			"tool", dec.Tool, "pattern", dec.Pattern, "kind", kind)
		return nil
	}

	response := formatShortcutResponse(dec, res)
	outcomes := []interaction.ToolOutcome{{Tool: dec.Tool, Result: res}}
	debug := map[string]any{
		"routing":           string(interaction.RoutingDirectShortcut),
		"explanation":       "⚡ Direct routing bypassed the LLM entirely",
		"user_message":      message,
		"pattern_matched":   dec.Pattern,
		"keywords_detected": dec.Keywords,
		"extracted_params":  dec.Extracted,
		"tool_call": map[string]any{
			"tool_name": dec.Tool,
			"arguments": dec.Arguments,
		},
		"tools_used":   []string{dec.Tool},
		"tool_results": outcomes,
		"why_no_llm":   "the router matched a shortcut pattern and called the tool directly",
	}

	now := s.now()
	s.record(ctx, &interaction.Interaction{
		InteractionID: interactionID,
		SessionID:     sessionID,
		UserMessage:   message,
		FinalResponse: response,
		RoutingType:   interaction.RoutingDirectShortcut,
		ToolsUsed:     []string{dec.Tool},
		ToolResults:   outcomes,
		Debug:         debug,
		Feedback:      interaction.FeedbackNone,
		CreatedAt:     now,
	})
	return &Reply{
		Response:      response,
		ToolsUsed:     []string{dec.Tool},
		SessionID:     sessionID,
		Timestamp:     now,
		InteractionID: interactionID,
		Debug:         debug,
	}
}

func (s *ChatService) runLLM(ctx context.Context, message, sessionID, interactionID string) (*Reply, error) {
	initialPrompt := buildInitialPrompt(message, s.toolDescriptors(ctx))
	initial, err := s.llm.Generate(ctx, initialPrompt)
	if err != nil {
		return nil, fmt.Errorf("router: initial completion: %w", err)
	}

	calls, failures := parseToolCalls(initial)
	now := s.now()

	if len(calls) == 0 && len(failures) == 0 {
		debug := map[string]any{
			"routing":      string(interaction.RoutingLLMOnly),
			"user_message": message,
			"prompt":       initialPrompt,
			"llm_response": initial,
			"model":        s.llm.Model(),
		}
		s.record(ctx, &interaction.Interaction{
			InteractionID: interactionID,
			SessionID:     sessionID,
			UserMessage:   message,
			FinalResponse: initial,
			RoutingType:   interaction.RoutingLLMOnly,
			LLMPayload:    map[string]any{"prompt": initialPrompt},
			LLMResponse:   initial,
			Debug:         debug,
			Feedback:      interaction.FeedbackNone,
			CreatedAt:     now,
		})
		return &Reply{
			Response:      initial,
			ToolsUsed:     []string{},
			SessionID:     sessionID,
			Timestamp:     now,
			InteractionID: interactionID,
			Debug:         debug,
		}, nil
	}

	// Dispatch every parsed call in the order the model emitted them.
	outcomes := make([]interaction.ToolOutcome, 0, len(calls))
	toolsUsed := make([]string, 0, len(calls))
	for _, call := range calls {
		res, err := s.tools.CallTool(ctx, call.Name, call.Args, sessionID)
		if err != nil {
			s.logger.Warn("tool call failed", "tool", call.Name, "error", err)
			res = tools.Failure(tools.KindEffectorUnavailable, "tool server unreachable: "+err.Error())
		}
		outcomes = append(outcomes, interaction.ToolOutcome{Tool: call.Name, Result: res})
		toolsUsed = append(toolsUsed, call.Name)
	}

	resultsJSON, err := json.MarshalIndent(outcomes, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("router: marshal tool results: %w", err)
	}
	finalPrompt := buildSynthesisPrompt(message, string(resultsJSON))
	final, err := s.llm.Generate(ctx, finalPrompt)
	if err != nil {
		return nil, fmt.Errorf("router: synthesis completion: %w", err)
	}

	debug := map[string]any{
		"routing":              string(interaction.RoutingLLMWithTools),
		"user_message":         message,
		"initial_prompt":       initialPrompt,
		"initial_llm_response": initial,
		"tools_used":           toolsUsed,
		"tool_results":         outcomes,
		"final_prompt":         finalPrompt,
		"final_llm_response":   final,
		"model":                s.llm.Model(),
	}
	if len(failures) > 0 {
		debug["parse_failures"] = failures
	}

	s.record(ctx, &interaction.Interaction{
		InteractionID: interactionID,
		SessionID:     sessionID,
		UserMessage:   message,
		FinalResponse: final,
		RoutingType:   interaction.RoutingLLMWithTools,
		ToolsUsed:     toolsUsed,
		ToolResults:   outcomes,
		LLMPayload: map[string]any{
			"initial_prompt": initialPrompt,
			"final_prompt":   finalPrompt,
		},
		LLMResponse: fmt.Sprintf("Initial: %s\nFinal: %s", initial, final),
		Debug:       debug,
		Feedback:    interaction.FeedbackNone,
		CreatedAt:   now,
	})
	return &Reply{
		Response:      final,
		ToolsUsed:     toolsUsed,
		SessionID:     sessionID,
		Timestamp:     now,
		InteractionID: interactionID,
		Debug:         debug,
	}, nil
}

// toolDescriptors returns the live tool list, falling back to the last
// known list when the server is unreachable so prompts degrade instead
// of the whole request failing.
func (s *ChatService) toolDescriptors(ctx context.Context) []tools.Descriptor {
	list, err := s.tools.ListTools(ctx)
	if err != nil {
		s.logger.Warn("tool list unavailable, using last known", "error", err)
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.lastList
	}
	s.mu.Lock()
	s.lastList = list
	s.mu.Unlock()
	return list
}

// record counts the turn and writes it to the ephemeral log. Log
// failures are advisory: the user still gets their answer.
func (s *ChatService) record(ctx context.Context, in *interaction.Interaction) {
	if s.metrics != nil {
		s.metrics.Interactions.WithLabelValues(string(in.RoutingType)).Inc()
	}
	if s.log == nil {
		return
	}
	if err := s.log.Put(ctx, in); err != nil {
		s.logger.Warn("failed to record interaction",
			"interaction_id", in.InteractionID, "session_id", in.SessionID, "error", err)
	}
}
