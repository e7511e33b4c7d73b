// Package router decides how a chat message is served: a direct tool
// shortcut that skips the LLM entirely, or one or two LLM passes with
// tool dispatch in between. The policy itself is a pure function over
// the message text; all I/O lives in the chat pipeline.
package router

import "strings"

// Rules holds the keyword tables the shortcut matcher scans. The tables
// are configuration, not contract: deployments tune them without
// touching the matcher. The zero value matches nothing, routing every
// message to the LLM.
type Rules struct {
	TimeKeywords   []string
	LightKeywords  []string
	SwitchKeywords []string
	PingKeywords   []string
}

// DefaultRules returns the stock keyword tables.
func DefaultRules() Rules {
	return Rules{
		TimeKeywords:   []string{"time", "date", "current time", "what time", "when is it", "ntp"},
		LightKeywords:  []string{"light", "lights", "lamp", "brightness", "dim", "bright"},
		SwitchKeywords: []string{"switch", "outlet", "plug", "fan", "coffee"},
		PingKeywords:   []string{"ping", "connectivity", "connect", "reach", "test"},
	}
}

// Shortcut is a routing decision that bypasses the LLM: one tool call
// plus the match evidence that ends up in debug_info.
type Shortcut struct {
	// Tool is the tool to invoke.
	Tool string

	// Arguments is the argument object for the call.
	Arguments map[string]any

	// Pattern names the matched rule: time_query, light_control,
	// switch_control or ping_query.
	Pattern string

	// Keywords lists the configured keywords found in the message.
	Keywords []string

	// Extracted carries the parameters pulled out of the message text,
	// for debugging.
	Extracted map[string]any
}

// actionPhrases maps control wording onto service actions. Scanned in
// order, so "turn on" wins over the bare "on" inside it.
var actionPhrases = []struct {
	phrase string
	action string
}{
	{"turn on", "turn_on"},
	{"on", "turn_on"},
	{"turn off", "turn_off"},
	{"off", "turn_off"},
	{"toggle", "toggle"},
}

// Decide scans message and returns the first matching shortcut, or nil
// when the message should go to the LLM.
//
// Rules are checked in a fixed order: time, light, switch, ping. A
// device rule needs both a keyword and an action phrase; a message like
// "how bright is it outside" mentions lights but orders nothing, so it
// falls through to the later rules and ultimately to the LLM.
func (r Rules) Decide(message string) *Shortcut {
	lower := strings.ToLower(message)

	if kws := matchKeywords(lower, r.TimeKeywords); len(kws) > 0 {
		return &Shortcut{
			Tool:      "get_network_time",
			Arguments: map[string]any{},
			Pattern:   "time_query",
			Keywords:  kws,
			Extracted: map[string]any{"query_type": "current_time"},
		}
	}

	if kws := matchKeywords(lower, r.LightKeywords); len(kws) > 0 {
		if sc := deviceShortcut(lower, kws, "ha_control_light", "light_control", "lights", "light"); sc != nil {
			return sc
		}
	}

	if kws := matchKeywords(lower, r.SwitchKeywords); len(kws) > 0 {
		if sc := deviceShortcut(lower, kws, "ha_control_switch", "switch_control", "switches", "switch"); sc != nil {
			return sc
		}
	}

	if kws := matchKeywords(lower, r.PingKeywords); len(kws) > 0 {
		hostname, raw := extractHostname(message)
		extractedFrom := raw
		if extractedFrom == "" {
			extractedFrom = "(default: " + hostname + ")"
		}
		return &Shortcut{
			Tool:      "ping_host",
			Arguments: map[string]any{"hostname": hostname},
			Pattern:   "ping_query",
			Keywords:  kws,
			Extracted: map[string]any{
				"hostname":               hostname,
				"extracted_from_message": extractedFrom,
			},
		}
	}

	return nil
}

func matchKeywords(lower string, keywords []string) []string {
	var hits []string
	for _, kw := range keywords {
		if kw != "" && strings.Contains(lower, kw) {
			hits = append(hits, kw)
		}
	}
	return hits
}

// deviceShortcut builds a control shortcut when the message carries an
// action phrase. Keywords alone are not an order, so it returns nil and
// lets the caller fall through.
func deviceShortcut(lower string, kws []string, tool, pattern string, nouns ...string) *Shortcut {
	phrase, action, ok := matchAction(lower)
	if !ok {
		return nil
	}
	target := extractTarget(lower, nouns...)
	args := map[string]any{"action": action}
	targetName := "(all matching)"
	if target != "" {
		args["name_filter"] = target
		targetName = target
	}
	return &Shortcut{
		Tool:      tool,
		Arguments: args,
		Pattern:   pattern,
		Keywords:  kws,
		Extracted: map[string]any{
			"action_phrase": phrase,
			"action":        action,
			"target_name":   targetName,
		},
	}
}

func matchAction(lower string) (phrase, action string, ok bool) {
	for _, ap := range actionPhrases {
		if strings.Contains(lower, ap.phrase) {
			return ap.phrase, ap.action, true
		}
	}
	return "", "", false
}

// extractTarget strips control wording and the device nouns from the
// lowered message, leaving the name filter: "turn on the desk lamp"
// becomes "desk lamp". An empty result means "all matching devices".
func extractTarget(lower string, nouns ...string) string {
	clean := lower
	for _, phrase := range []string{"turn on", "turn off", "toggle", "the"} {
		clean = strings.ReplaceAll(clean, phrase, "")
	}
	for _, noun := range nouns {
		clean = strings.ReplaceAll(clean, noun, "")
	}
	return strings.TrimSpace(clean)
}

// extractHostname finds the first dotted token in the original message
// that is not a URL, falling back to google.com. raw is the token as it
// appeared, empty when the fallback was used.
func extractHostname(message string) (hostname, raw string) {
	for _, word := range strings.Fields(message) {
		if strings.Contains(word, ".") && !strings.HasPrefix(word, "http") && len(word) > 3 {
			return strings.Trim(word, ".,!?"), word
		}
	}
	return "google.com", ""
}
