package router

import (
	"encoding/json"
	"reflect"
	"strings"
	"testing"

	"github.com/haasonsaas/switchboard/internal/tools"
)

func TestParseToolCalls(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		output       string
		wantCalls    []ToolCall
		wantFailures int
	}{
		{
			name:   "no markers",
			output: "Paris is the capital of France.",
		},
		{
			name:   "single call",
			output: "USE_TOOL:get_network_time:{}",
			wantCalls: []ToolCall{
				{Name: "get_network_time", Args: map[string]any{}},
			},
		},
		{
			name:   "multiple calls keep order",
			output: "USE_TOOL:ping_host:{\"hostname\":\"a.example\"}\nUSE_TOOL:get_network_time:{}",
			wantCalls: []ToolCall{
				{Name: "ping_host", Args: map[string]any{"hostname": "a.example"}},
				{Name: "get_network_time", Args: map[string]any{}},
			},
		},
		{
			name:   "colons inside arguments survive",
			output: `USE_TOOL:ping_host:{"hostname":"fe80::1"}`,
			wantCalls: []ToolCall{
				{Name: "ping_host", Args: map[string]any{"hostname": "fe80::1"}},
			},
		},
		{
			name:   "prose around call lines is ignored",
			output: "Let me check that for you.\nUSE_TOOL:get_network_time:{}\nOne moment.",
			wantCalls: []ToolCall{
				{Name: "get_network_time", Args: map[string]any{}},
			},
		},
		{
			name:   "leading whitespace is trimmed",
			output: "   USE_TOOL:get_network_time:{}",
			wantCalls: []ToolCall{
				{Name: "get_network_time", Args: map[string]any{}},
			},
		},
		{
			name:         "prose on the call line fails",
			output:       "I will run `USE_TOOL:ping_host:{}` for you",
			wantFailures: 1,
		},
		{
			name:         "missing arguments object fails",
			output:       "USE_TOOL:get_network_time",
			wantFailures: 1,
		},
		{
			name:         "empty tool name fails",
			output:       "USE_TOOL::{}",
			wantFailures: 1,
		},
		{
			name:         "broken json fails",
			output:       "USE_TOOL:ping_host:{hostname}",
			wantFailures: 1,
		},
		{
			name:         "null arguments fail",
			output:       "USE_TOOL:ping_host:null",
			wantFailures: 1,
		},
		{
			name:         "array arguments fail",
			output:       `USE_TOOL:ping_host:["a.example"]`,
			wantFailures: 1,
		},
		{
			name:   "good calls survive bad neighbors",
			output: "USE_TOOL:ping_host:{oops\nUSE_TOOL:get_network_time:{}",
			wantCalls: []ToolCall{
				{Name: "get_network_time", Args: map[string]any{}},
			},
			wantFailures: 1,
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			calls, failures := parseToolCalls(tt.output)
			if !reflect.DeepEqual(calls, tt.wantCalls) {
				t.Errorf("calls = %+v, want %+v", calls, tt.wantCalls)
			}
			if len(failures) != tt.wantFailures {
				t.Errorf("failures = %v, want %d entries", failures, tt.wantFailures)
			}
		})
	}
}

func TestBuildInitialPrompt(t *testing.T) {
	t.Parallel()

	descriptors := []tools.Descriptor{
		{
			Name:        "get_network_time",
			Description: "Returns the current time from an NTP server",
			Parameters:  json.RawMessage(`{"type": "object", "properties": {}}`),
		},
		{
			Name:        "ping_host",
			Description: "Pings a host and reports latency",
			Parameters:  json.RawMessage(`{"type": "object", "properties": {"hostname": {"type": "string"}}}`),
		},
	}

	prompt := buildInitialPrompt("is my router up?", descriptors)

	for _, want := range []string{
		"User request: is my router up?",
		"1. get_network_time - Returns the current time from an NTP server",
		"2. ping_host - Pings a host and reports latency",
		`parameters: {"type":"object","properties":{"hostname":{"type":"string"}}}`,
		"USE_TOOL:<tool_name>:<json_arguments>",
	} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q\nprompt:\n%s", want, prompt)
		}
	}
	if !strings.HasSuffix(prompt, "Your response:") {
		t.Errorf("prompt should end with the response cue, got tail %q", prompt[len(prompt)-30:])
	}
}

func TestBuildInitialPromptNoTools(t *testing.T) {
	t.Parallel()

	prompt := buildInitialPrompt("hello", nil)
	if strings.Contains(prompt, "Available tools") {
		t.Error("prompt should not advertise tools when none are published")
	}
	if strings.Contains(prompt, toolCallMarker) {
		t.Error("prompt should not teach the call syntax when no tools exist")
	}
}

func TestBuildSynthesisPrompt(t *testing.T) {
	t.Parallel()

	prompt := buildSynthesisPrompt("is my router up?", `[{"tool":"ping_host"}]`)
	if !strings.Contains(prompt, `[{"tool":"ping_host"}]`) {
		t.Error("prompt missing the tool results")
	}
	if !strings.Contains(prompt, "User Question: is my router up?") {
		t.Error("prompt missing the user question")
	}
}
