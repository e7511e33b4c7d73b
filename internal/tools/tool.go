// Package tools provides the tool registry and dispatcher: the typed,
// schema-driven surface through which every effector is published,
// validated, and executed.
package tools

import (
	"context"
	"encoding/json"
	"time"
)

// Tool is a callable effector. Implementations declare their argument
// shape as a JSON schema; the dispatcher validates arguments against it
// before Execute is ever invoked.
type Tool interface {
	// Name returns the unique tool identifier.
	Name() string

	// Description returns the free-text purpose consumed by the LLM.
	Description() string

	// Schema returns the JSON schema for the arguments object.
	Schema() json.RawMessage

	// Timeout returns the per-call execution deadline. Zero means the
	// dispatcher default.
	Timeout() time.Duration

	// Execute runs the effector. Arguments have already passed schema
	// validation. Implementations return a typed Result, or an error for
	// conditions the dispatcher should classify (timeouts, panics, and
	// unrecognized failures map into the closed error taxonomy).
	Execute(ctx context.Context, args map[string]any) (*Result, error)
}

// Descriptor is the published form of a tool, served on the list
// endpoint and embedded in LLM prompts. Immutable after registration.
type Descriptor struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// Call is a single tool invocation request.
type Call struct {
	ToolName  string         `json:"tool_name"`
	Arguments map[string]any `json:"arguments"`
	SessionID string         `json:"session_id"`
}
