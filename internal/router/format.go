package router

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/haasonsaas/switchboard/internal/tools"
)

// formatShortcutResponse renders a successful shortcut result as the
// user-facing reply text.
func formatShortcutResponse(dec *Shortcut, res *tools.Result) string {
	switch dec.Pattern {
	case "time_query":
		return fmt.Sprintf("The current time according to NTP server (%s) is: %s",
			stringField(res.Data, "source", "unknown source"),
			stringField(res.Data, "readable_time", "unknown time"))
	case "light_control":
		return formatControlResponse(res.Data, "lights", "light", "light(s)")
	case "switch_control":
		return formatControlResponse(res.Data, "switches", "switch", "switch(es)")
	case "ping_query":
		hostname, _ := dec.Arguments["hostname"].(string)
		return formatPingResponse(res.Data, hostname)
	default:
		return stringField(res.Data, "message", "Done.")
	}
}

// formatControlResponse summarizes a device control result: the single
// entity form when exactly one device changed, a bullet list otherwise.
func formatControlResponse(data map[string]any, listKey, fallbackName, plural string) string {
	entries, ok := data[listKey].([]any)
	if !ok {
		// Single-entity result shape.
		return fmt.Sprintf("✓ %s is now %s",
			entityName(data, fallbackName), stringField(data, "new_state", "unknown"))
	}
	count := len(entries)
	switch n := data["count"].(type) {
	case float64:
		count = int(n)
	case int:
		count = n
	}
	if count == 1 && len(entries) > 0 {
		entry, _ := entries[0].(map[string]any)
		return fmt.Sprintf("✓ %s is now %s",
			entityName(entry, fallbackName), stringField(entry, "new_state", "unknown"))
	}

	var b strings.Builder
	fmt.Fprintf(&b, "✓ Controlled %d %s:", count, plural)
	for _, e := range entries {
		entry, _ := e.(map[string]any)
		fmt.Fprintf(&b, "\n  • %s: %s",
			entityName(entry, fallbackName), stringField(entry, "new_state", "unknown"))
	}
	return b.String()
}

// formatPingResponse summarizes a ping result. Zero packet loss reads
// as success with latency; anything else reports the loss. An
// unreachable host is a success-shaped observation, so it lands here
// rather than in the error path.
func formatPingResponse(data map[string]any, hostname string) string {
	reachable, _ := data["reachable"].(bool)
	var b strings.Builder
	if !reachable {
		fmt.Fprintf(&b, "Ping test to %s: unreachable.", hostname)
		if loss := numberString(data, "packet_loss_pct", ""); loss != "" {
			fmt.Fprintf(&b, " %s%% packet loss detected.", loss)
		}
		return b.String()
	}
	fmt.Fprintf(&b, "Ping test to %s: reachable. ", hostname)
	if numberField(data, "packet_loss_pct", 0) == 0 {
		fmt.Fprintf(&b, "Connection successful with %s ms average latency.",
			numberString(data, "avg_latency_ms", "unknown"))
	} else {
		fmt.Fprintf(&b, "%s%% packet loss detected.",
			numberString(data, "packet_loss_pct", "unknown"))
	}
	return b.String()
}

func entityName(m map[string]any, fallback string) string {
	if s, ok := m["friendly_name"].(string); ok && s != "" {
		return s
	}
	if s, ok := m["entity_id"].(string); ok && s != "" {
		return s
	}
	return fallback
}

func stringField(m map[string]any, key, fallback string) string {
	if s, ok := m[key].(string); ok && s != "" {
		return s
	}
	return fallback
}

func numberField(m map[string]any, key string, fallback float64) float64 {
	switch n := m[key].(type) {
	case float64:
		return n
	case int:
		return float64(n)
	}
	return fallback
}

// numberString renders a numeric field plainly (no exponent, no
// trailing zeros), or fallback when the field is missing.
func numberString(m map[string]any, key, fallback string) string {
	switch n := m[key].(type) {
	case float64:
		return strconv.FormatFloat(n, 'f', -1, 64)
	case int:
		return strconv.Itoa(n)
	}
	return fallback
}
