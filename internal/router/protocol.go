package router

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/haasonsaas/switchboard/internal/tools"
)

// toolCallMarker opens a tool request line in LLM output.
const toolCallMarker = "USE_TOOL:"

// buildInitialPrompt asks the model to either answer directly or
// request tools. The published descriptors are enumerated so the model
// sees the same names and schemas the dispatcher validates against.
func buildInitialPrompt(message string, descriptors []tools.Descriptor) string {
	var b strings.Builder
	b.WriteString("You are an assistant with access to network and smart home tools.\n\n")
	fmt.Fprintf(&b, "User request: %s\n\n", message)

	if len(descriptors) > 0 {
		b.WriteString("Available tools:\n")
		for i, d := range descriptors {
			fmt.Fprintf(&b, "%d. %s - %s\n", i+1, d.Name, d.Description)
			if schema := compactSchema(d.Parameters); schema != "" {
				fmt.Fprintf(&b, "   parameters: %s\n", schema)
			}
		}
		b.WriteString("\nTo call a tool, respond with one line per call, exactly:\n")
		b.WriteString("USE_TOOL:<tool_name>:<json_arguments>\n\n")
		b.WriteString("The arguments must be a single JSON object matching the tool's parameters, ")
		b.WriteString("and a call line must contain nothing else: no backticks, no prose.\n")
		b.WriteString("If no tool is needed, just answer the user directly.\n\n")
	}
	b.WriteString("Your response:")
	return b.String()
}

// buildSynthesisPrompt feeds the tool results back to the model for the
// final user-facing answer.
func buildSynthesisPrompt(message, resultsJSON string) string {
	return fmt.Sprintf(`Based on the tool results below, provide a helpful answer to the user's question.

Tool Results:
%s

User Question: %s

Provide a clear, helpful response using the information from the tools.`, resultsJSON, message)
}

// compactSchema renders a JSON schema on one line for prompt embedding.
func compactSchema(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(raw)
	}
	return buf.String()
}

// ToolCall is one parsed tool request line.
type ToolCall struct {
	Name string
	Args map[string]any
}

// parseToolCalls scans LLM output for tool request lines. Calls come
// back in text order. A line that carries the marker but does not parse
// becomes a failure note for debug_info instead of a call; the caller
// proceeds with whatever did parse.
func parseToolCalls(output string) (calls []ToolCall, failures []string) {
	for _, raw := range strings.Split(output, "\n") {
		line := strings.TrimSpace(raw)
		if !strings.Contains(line, toolCallMarker) {
			continue
		}
		if !strings.HasPrefix(line, toolCallMarker) {
			failures = append(failures, fmt.Sprintf("%s: marker must start the line", line))
			continue
		}
		name, argsJSON, ok := strings.Cut(line[len(toolCallMarker):], ":")
		if !ok {
			failures = append(failures, fmt.Sprintf("%s: missing arguments object", line))
			continue
		}
		name = strings.TrimSpace(name)
		if name == "" {
			failures = append(failures, fmt.Sprintf("%s: missing tool name", line))
			continue
		}
		var args map[string]any
		if err := json.Unmarshal([]byte(strings.TrimSpace(argsJSON)), &args); err != nil {
			failures = append(failures, fmt.Sprintf("%s: invalid arguments: %v", line, err))
			continue
		}
		if args == nil {
			// "null" decodes without error but is not an object literal.
			failures = append(failures, fmt.Sprintf("%s: arguments are not an object", line))
			continue
		}
		calls = append(calls, ToolCall{Name: name, Args: args})
	}
	return calls, failures
}
