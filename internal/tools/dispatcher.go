package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"go.opentelemetry.io/otel/attribute"

	"github.com/haasonsaas/switchboard/internal/observability"
)

// defaultTimeout bounds tools that do not declare their own deadline.
const defaultTimeout = 10 * time.Second

// Dispatcher is the single entry point for tool execution. It owns the
// registry and guarantees that every call resolves to a Result whose
// status is success or a typed error from the closed set, regardless of
// what the effector does (including panicking).
type Dispatcher struct {
	registry *Registry
	logger   *slog.Logger
	metrics  *observability.Metrics
	tracer   *observability.Tracer
}

// NewDispatcher wires a dispatcher. Metrics and tracer may be nil.
func NewDispatcher(registry *Registry, logger *slog.Logger, metrics *observability.Metrics, tracer *observability.Tracer) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		registry: registry,
		logger:   logger.With("component", "dispatcher"),
		metrics:  metrics,
		tracer:   tracer,
	}
}

// Registry exposes the dispatcher's registry for descriptor listing.
func (d *Dispatcher) Registry() *Registry {
	return d.registry
}

// Dispatch validates and executes a tool call. Always returns a Result.
func (d *Dispatcher) Dispatch(ctx context.Context, call Call) *Result {
	start := time.Now()
	ctx, span := d.tracer.Start(ctx, "tool.dispatch",
		attribute.String("tool.name", call.ToolName),
		attribute.String("session.id", call.SessionID),
	)
	defer span.End()

	res := d.dispatch(ctx, call)

	if d.metrics != nil {
		d.metrics.ToolCalls.WithLabelValues(call.ToolName, string(res.Status)).Inc()
		d.metrics.ToolCallDuration.WithLabelValues(call.ToolName).Observe(time.Since(start).Seconds())
	}
	if res.Status == StatusError {
		d.logger.Warn("tool call failed",
			"tool", call.ToolName,
			"session_id", call.SessionID,
			"kind", res.Err.Kind,
			"error", res.Err.Message,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	} else {
		d.logger.Debug("tool call succeeded",
			"tool", call.ToolName,
			"session_id", call.SessionID,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
	return res
}

func (d *Dispatcher) dispatch(ctx context.Context, call Call) *Result {
	tool, ok := d.registry.Get(call.ToolName)
	if !ok {
		return Failuref(KindUnknownTool, "unknown tool: %s", call.ToolName)
	}

	args, err := normalizeArguments(call.Arguments)
	if err != nil {
		return Failuref(KindInvalidArguments, "arguments are not a JSON object: %v", err)
	}
	if schema, ok := d.registry.schema(call.ToolName); ok {
		if err := schema.Validate(args); err != nil {
			return Failure(KindInvalidArguments, validationMessage(err))
		}
	}

	timeout := tool.Timeout()
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	res, err := runTool(ctx, tool, args)
	if err != nil {
		return classify(ctx, call.ToolName, err)
	}
	if res == nil {
		return Failuref(KindEffectorFailed, "tool %s returned no result", call.ToolName)
	}
	return res
}

// runTool executes the effector, converting panics into errors so a
// misbehaving tool fails the request, never the process.
func runTool(ctx context.Context, tool Tool, args map[string]any) (res *Result, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			res = nil
			err = fmt.Errorf("tools: panic in %s: %v", tool.Name(), rec)
		}
	}()
	return tool.Execute(ctx, args)
}

// classify maps effector errors into the closed taxonomy.
func classify(ctx context.Context, toolName string, err error) *Result {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return Failuref(KindEffectorTimeout, "tool %s timed out", toolName)
	}
	if errors.Is(err, ErrUnavailable) {
		return Failure(KindEffectorUnavailable, err.Error())
	}
	var upstream *UpstreamError
	if errors.As(err, &upstream) {
		return FailureDetail(KindUpstreamRejected, err.Error(), map[string]any{
			"status_code": upstream.StatusCode,
		})
	}
	return Failure(KindEffectorFailed, err.Error())
}

// normalizeArguments round-trips the arguments through JSON so schema
// validation sees canonical decoded types (float64 numbers, etc.) no
// matter how the caller constructed the map.
func normalizeArguments(args map[string]any) (map[string]any, error) {
	if args == nil {
		return map[string]any{}, nil
	}
	encoded, err := json.Marshal(args)
	if err != nil {
		return nil, err
	}
	var normalized map[string]any
	if err := json.Unmarshal(encoded, &normalized); err != nil {
		return nil, err
	}
	if normalized == nil {
		normalized = map[string]any{}
	}
	return normalized, nil
}

// validationMessage renders a schema violation as a short message naming
// the offending key where the schema identifies one.
func validationMessage(err error) string {
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return err.Error()
	}
	leaf := ve
	for len(leaf.Causes) > 0 {
		leaf = leaf.Causes[0]
	}
	loc := strings.TrimPrefix(leaf.InstanceLocation, "/")
	if loc == "" {
		return leaf.Message
	}
	return fmt.Sprintf("%s: %s", strings.ReplaceAll(loc, "/", "."), leaf.Message)
}
