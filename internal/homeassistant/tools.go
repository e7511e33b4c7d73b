package homeassistant

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/haasonsaas/switchboard/internal/tools"
)

const (
	notConfiguredMessage = "home assistant is not configured"
	deviceListLimit      = 20
	haToolTimeout        = 5 * time.Second
)

// GetDeviceStateTool answers device and sensor queries from the
// synchronizer's read model.
type GetDeviceStateTool struct {
	sync   *Synchronizer
	logger *slog.Logger
}

func NewGetDeviceStateTool(sync *Synchronizer, logger *slog.Logger) *GetDeviceStateTool {
	if logger == nil {
		logger = slog.Default()
	}
	return &GetDeviceStateTool{sync: sync, logger: logger.With("tool", "ha_get_device_state")}
}

func (t *GetDeviceStateTool) Name() string { return "ha_get_device_state" }

func (t *GetDeviceStateTool) Description() string {
	return "Get the current state of Home Assistant devices and sensors"
}

func (t *GetDeviceStateTool) Schema() json.RawMessage {
	return json.RawMessage(`{
  "type": "object",
  "properties": {
    "entity_id":   { "type": "string", "description": "Specific entity ID (e.g., light.kitchen)" },
    "domain":      { "type": "string", "description": "Entity domain filter (e.g., light, switch, sensor)" },
    "name_filter": { "type": "string", "description": "Fuzzy name filter (e.g., kitchen lights)" }
  }
}`)
}

func (t *GetDeviceStateTool) Timeout() time.Duration { return haToolTimeout }

func (t *GetDeviceStateTool) Execute(ctx context.Context, args map[string]any) (*tools.Result, error) {
	if !t.sync.Configured() {
		return tools.Failure(tools.KindEffectorUnavailable, notConfiguredMessage), nil
	}

	if entityID, _ := args["entity_id"].(string); entityID != "" {
		ent, err := t.sync.GetState(ctx, entityID)
		if err != nil {
			return nil, err
		}
		return tools.Success(map[string]any{
			"entity_id":    ent.EntityID,
			"state":        ent.State,
			"attributes":   ent.Attributes,
			"last_changed": ent.LastChanged,
			"last_updated": ent.LastUpdated,
			"fetched_at":   ent.FetchedAt,
		}), nil
	}

	domain, _ := args["domain"].(string)
	nameFilter, _ := args["name_filter"].(string)
	states, err := t.sync.ListStates(ctx, domain, nameFilter)
	if err != nil {
		return nil, err
	}
	if len(states) == 0 {
		return tools.Failuref(tools.KindEffectorFailed, "no devices found with filter: %s", describeFilter(domain, nameFilter)), nil
	}

	shown := states
	if len(shown) > deviceListLimit {
		shown = shown[:deviceListLimit]
	}
	entities := make([]map[string]any, 0, len(shown))
	for _, ent := range shown {
		entities = append(entities, map[string]any{
			"entity_id":    ent.EntityID,
			"name":         ent.FriendlyName(),
			"state":        ent.State,
			"unit":         ent.Attributes["unit_of_measurement"],
			"device_class": ent.Attributes["device_class"],
		})
	}

	data := map[string]any{
		"count":    len(entities),
		"entities": entities,
	}
	if len(states) > deviceListLimit {
		data["note"] = fmt.Sprintf("showing %d of %d matching devices", len(entities), len(states))
	}
	return tools.Success(data), nil
}

func describeFilter(domain, nameFilter string) string {
	desc := "all"
	if domain != "" {
		desc = "domain=" + domain
	}
	if nameFilter != "" {
		desc += ", name=" + nameFilter
	}
	return desc
}

// ControlLightTool turns lights on and off. When the name filter
// matches no lights it retries against switches, since lamps are often
// plugged into smart plugs; the result reports which domain was
// actually actuated.
type ControlLightTool struct {
	sync   *Synchronizer
	logger *slog.Logger
}

func NewControlLightTool(sync *Synchronizer, logger *slog.Logger) *ControlLightTool {
	if logger == nil {
		logger = slog.Default()
	}
	return &ControlLightTool{sync: sync, logger: logger.With("tool", "ha_control_light")}
}

func (t *ControlLightTool) Name() string { return "ha_control_light" }

func (t *ControlLightTool) Description() string {
	return "Turn Home Assistant lights on or off, toggle them, or set brightness"
}

func (t *ControlLightTool) Schema() json.RawMessage {
	return json.RawMessage(`{
  "type": "object",
  "properties": {
    "action":      { "type": "string", "enum": ["turn_on", "turn_off", "toggle"] },
    "entity_id":   { "type": "string", "description": "Specific light entity ID" },
    "name_filter": { "type": "string", "description": "Fuzzy name filter (e.g., kitchen, living room lamp)" },
    "brightness":  { "type": "integer", "minimum": 0, "maximum": 255 }
  },
  "required": ["action"]
}`)
}

func (t *ControlLightTool) Timeout() time.Duration { return haToolTimeout }

func (t *ControlLightTool) Execute(ctx context.Context, args map[string]any) (*tools.Result, error) {
	if !t.sync.Configured() {
		return tools.Failure(tools.KindEffectorUnavailable, notConfiguredMessage), nil
	}
	action, _ := args["action"].(string)

	var (
		ids            []string
		domainActuated = "light"
	)
	switch {
	case stringArg(args, "entity_id") != "":
		entityID := stringArg(args, "entity_id")
		ids = []string{entityID}
		domainActuated = serviceDomain(entityID, "light")
	case stringArg(args, "name_filter") != "":
		filter := stringArg(args, "name_filter")
		matches, err := t.sync.ListStates(ctx, "light", filter)
		if err != nil {
			return nil, err
		}
		if len(matches) == 0 {
			// Lamps behind smart plugs live in the switch domain.
			matches, err = t.sync.ListStates(ctx, "switch", filter)
			if err != nil {
				return nil, err
			}
			domainActuated = "switch"
		}
		if len(matches) == 0 {
			return tools.Failuref(tools.KindEffectorFailed, "no lights or switches found matching %q", filter), nil
		}
		ids = entityIDs(matches)
	default:
		return tools.Failure(tools.KindInvalidArguments, "either entity_id or name_filter must be provided"), nil
	}

	var extra map[string]any
	if b, ok := args["brightness"].(float64); ok && action == "turn_on" && domainActuated == "light" {
		extra = map[string]any{"brightness": int(b)}
	}

	entries := controlEntities(ctx, t.sync, t.logger, domainActuated, action, ids, extra)
	return tools.Success(controlData(action, domainActuated, entries)), nil
}

// ControlSwitchTool turns switches and smart plugs on and off.
type ControlSwitchTool struct {
	sync   *Synchronizer
	logger *slog.Logger
}

func NewControlSwitchTool(sync *Synchronizer, logger *slog.Logger) *ControlSwitchTool {
	if logger == nil {
		logger = slog.Default()
	}
	return &ControlSwitchTool{sync: sync, logger: logger.With("tool", "ha_control_switch")}
}

func (t *ControlSwitchTool) Name() string { return "ha_control_switch" }

func (t *ControlSwitchTool) Description() string {
	return "Turn Home Assistant switches and smart plugs on or off, or toggle them"
}

func (t *ControlSwitchTool) Schema() json.RawMessage {
	return json.RawMessage(`{
  "type": "object",
  "properties": {
    "action":      { "type": "string", "enum": ["turn_on", "turn_off", "toggle"] },
    "entity_id":   { "type": "string", "description": "Specific switch entity ID" },
    "name_filter": { "type": "string", "description": "Fuzzy name filter (e.g., coffee maker)" }
  },
  "required": ["action"]
}`)
}

func (t *ControlSwitchTool) Timeout() time.Duration { return haToolTimeout }

func (t *ControlSwitchTool) Execute(ctx context.Context, args map[string]any) (*tools.Result, error) {
	if !t.sync.Configured() {
		return tools.Failure(tools.KindEffectorUnavailable, notConfiguredMessage), nil
	}
	action, _ := args["action"].(string)

	var (
		ids            []string
		domainActuated = "switch"
	)
	switch {
	case stringArg(args, "entity_id") != "":
		entityID := stringArg(args, "entity_id")
		ids = []string{entityID}
		domainActuated = serviceDomain(entityID, "switch")
	case stringArg(args, "name_filter") != "":
		filter := stringArg(args, "name_filter")
		matches, err := t.sync.ListStates(ctx, "switch", filter)
		if err != nil {
			return nil, err
		}
		if len(matches) == 0 {
			return tools.Failuref(tools.KindEffectorFailed, "no switches found matching %q", filter), nil
		}
		ids = entityIDs(matches)
	default:
		return tools.Failure(tools.KindInvalidArguments, "either entity_id or name_filter must be provided"), nil
	}

	entries := controlEntities(ctx, t.sync, t.logger, domainActuated, action, ids, nil)
	return tools.Success(controlData(action, domainActuated, entries)), nil
}

// controlEntities runs the service call for each target and collects
// per-entity outcomes. A failing entity becomes an error entry instead
// of aborting the rest, matching the multi-device contract.
func controlEntities(ctx context.Context, sync *Synchronizer, logger *slog.Logger, domain, action string, ids []string, extra map[string]any) []map[string]any {
	entries := make([]map[string]any, 0, len(ids))
	for _, id := range ids {
		ent, err := sync.CallService(ctx, domain, action, id, extra)
		if err != nil {
			logger.Warn("service call failed", "entity_id", id, "action", action, "error", err)
			entries = append(entries, map[string]any{"entity_id": id, "error": err.Error()})
			continue
		}
		entry := map[string]any{
			"entity_id":     id,
			"friendly_name": ent.FriendlyName(),
			"new_state":     ent.State,
		}
		if b, ok := ent.Attributes["brightness"]; ok && b != nil {
			entry["brightness"] = b
		}
		entries = append(entries, entry)
	}
	return entries
}

func controlData(action, domainActuated string, entries []map[string]any) map[string]any {
	key := "lights"
	if domainActuated == "switch" {
		key = "switches"
	}
	return map[string]any{
		"action":          action,
		"count":           len(entries),
		key:               entries,
		"domain_actuated": domainActuated,
	}
}

// serviceDomain picks the service domain for a directly addressed
// entity: its own domain when it is a light or switch, the tool's
// domain otherwise.
func serviceDomain(entityID, fallback string) string {
	if i := strings.IndexByte(entityID, '.'); i > 0 {
		switch d := entityID[:i]; d {
		case "light", "switch":
			return d
		}
	}
	return fallback
}

func stringArg(args map[string]any, key string) string {
	v, _ := args[key].(string)
	return v
}

func entityIDs(entities []*Entity) []string {
	ids := make([]string, 0, len(entities))
	for _, ent := range entities {
		ids = append(ids, ent.EntityID)
	}
	return ids
}
