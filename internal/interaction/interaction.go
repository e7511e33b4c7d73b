// Package interaction records chat turns and user feedback. Every turn
// lands in an ephemeral Redis record bounded to 24 hours; a thumbs-up
// copies the record into MySQL and removes the expiry, a thumbs-down
// stores a durable negative-feedback row and drops the ephemeral entry.
package interaction

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/switchboard/internal/tools"
)

// RoutingType records which path produced the reply for a turn.
type RoutingType string

const (
	RoutingDirectShortcut RoutingType = "direct_shortcut"
	RoutingLLMWithTools   RoutingType = "llm_with_tools"
	RoutingLLMOnly        RoutingType = "llm_only"
)

// Feedback is the user's verdict on an interaction.
type Feedback string

const (
	FeedbackNone       Feedback = "none"
	FeedbackThumbsUp   Feedback = "thumbs_up"
	FeedbackThumbsDown Feedback = "thumbs_down"
)

// ToolOutcome pairs a tool name with the result it returned. Outcomes
// keep dispatch order; the synthesis pass and the durable record both
// see tools in the order the model asked for them.
type ToolOutcome struct {
	Tool   string        `json:"tool"`
	Result *tools.Result `json:"result"`
}

// Interaction is one complete chat turn.
type Interaction struct {
	InteractionID string         `json:"interaction_id"`
	SessionID     string         `json:"session_id"`
	UserMessage   string         `json:"user_message"`
	FinalResponse string         `json:"final_response"`
	RoutingType   RoutingType    `json:"routing_type"`
	ToolsUsed     []string       `json:"tools_used,omitempty"`
	ToolResults   []ToolOutcome  `json:"tool_results,omitempty"`
	LLMPayload    map[string]any `json:"llm_payload,omitempty"`
	LLMResponse   string         `json:"llm_response,omitempty"`
	Debug         map[string]any `json:"debug_info,omitempty"`
	Feedback      Feedback       `json:"feedback"`
	CreatedAt     time.Time      `json:"created_at"`
}

// NewID returns a fresh interaction ID: a random UUID rendered without
// dashes, 32 hex characters.
func NewID() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")
}

// Log is the ephemeral store the orchestrator writes each turn and the
// feedback flow reads back.
type Log interface {
	Put(ctx context.Context, in *Interaction) error
	Get(ctx context.Context, sessionID, interactionID string) (*Interaction, error)
	Delete(ctx context.Context, sessionID, interactionID string) error
	Persist(ctx context.Context, in *Interaction) error
	MarkFeedback(ctx context.Context, sessionID, interactionID string, verdict Feedback) error
	SessionIDs(ctx context.Context, sessionID string) ([]string, error)
}

// Archive is the durable half of the feedback flow.
type Archive interface {
	SaveInteraction(ctx context.Context, in *Interaction) error
	SaveNegativeFeedback(ctx context.Context, in *Interaction, reason string) error
}
