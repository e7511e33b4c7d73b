package router

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/haasonsaas/switchboard/internal/interaction"
	"github.com/haasonsaas/switchboard/internal/observability"
	"github.com/haasonsaas/switchboard/internal/tools"
)

// fakeToolServer stands in for the tool server HTTP surface: a fixed
// descriptor list plus canned per-tool results.
type fakeToolServer struct {
	t   *testing.T
	srv *httptest.Server

	mu      sync.Mutex
	calls   []tools.Call
	results map[string]*tools.Result
}

func newFakeToolServer(t *testing.T) *fakeToolServer {
	t.Helper()

	f := &fakeToolServer{t: t, results: make(map[string]*tools.Result)}
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/tools/list", func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"tools": []tools.Descriptor{
				{Name: "get_network_time", Description: "Returns the current NTP time", Parameters: json.RawMessage(`{"type":"object"}`)},
				{Name: "ping_host", Description: "Pings a host", Parameters: json.RawMessage(`{"type":"object"}`)},
			},
		})
	})
	mux.HandleFunc("/v1/tools/call", func(w http.ResponseWriter, r *http.Request) {
		var call tools.Call
		if err := json.NewDecoder(r.Body).Decode(&call); err != nil {
			f.t.Errorf("decode tool call: %v", err)
		}
		f.mu.Lock()
		f.calls = append(f.calls, call)
		res := f.results[call.ToolName]
		f.mu.Unlock()
		if res == nil {
			res = tools.Failuref(tools.KindUnknownTool, "tool %s is not registered", call.ToolName)
		}
		_ = json.NewEncoder(w).Encode(res)
	})
	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeToolServer) recorded() []tools.Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]tools.Call(nil), f.calls...)
}

// scriptedProvider returns canned completions in order and records the
// prompts it saw. An exhausted script is a test failure surfaced as an
// error from Generate.
type scriptedProvider struct {
	mu      sync.Mutex
	replies []string
	prompts []string
}

func (p *scriptedProvider) Name() string                { return "scripted" }
func (p *scriptedProvider) Model() string               { return "test-model" }
func (p *scriptedProvider) Probe(context.Context) error { return nil }

func (p *scriptedProvider) Generate(_ context.Context, prompt string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.prompts = append(p.prompts, prompt)
	if len(p.replies) == 0 {
		return "", errors.New("scripted provider exhausted")
	}
	reply := p.replies[0]
	p.replies = p.replies[1:]
	return reply, nil
}

type recordingLog struct {
	mu     sync.Mutex
	puts   []*interaction.Interaction
	putErr error
}

func (l *recordingLog) Put(_ context.Context, in *interaction.Interaction) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.puts = append(l.puts, in)
	return l.putErr
}

func (l *recordingLog) Get(context.Context, string, string) (*interaction.Interaction, error) {
	return nil, interaction.ErrNotFound
}
func (l *recordingLog) Delete(context.Context, string, string) error            { return nil }
func (l *recordingLog) Persist(context.Context, *interaction.Interaction) error { return nil }
func (l *recordingLog) SessionIDs(context.Context, string) ([]string, error)    { return nil, nil }
func (l *recordingLog) MarkFeedback(context.Context, string, string, interaction.Feedback) error {
	return nil
}

func newTestChat(t *testing.T, f *fakeToolServer, provider *scriptedProvider) (*ChatService, *recordingLog, *observability.Metrics) {
	t.Helper()

	log := &recordingLog{}
	metrics := observability.NewMetricsWith(prometheus.NewRegistry())
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := NewChatService(DefaultRules(), provider, NewToolClient(f.srv.URL), log, metrics, nil, logger)
	svc.newID = func() string { return "itx1" }
	svc.now = func() time.Time { return time.Date(2025, 3, 14, 15, 0, 0, 0, time.UTC) }
	return svc, log, metrics
}

func TestProcessShortcut(t *testing.T) {
	t.Parallel()

	f := newFakeToolServer(t)
	f.results["get_network_time"] = tools.Success(map[string]any{
		"source":        "pool.ntp.org",
		"readable_time": "2025-03-14 15:04:05 UTC",
	})
	provider := &scriptedProvider{} // must never be consulted
	svc, log, metrics := newTestChat(t, f, provider)

	reply, err := svc.Process(context.Background(), "what time is it?", "sess-1")
	if err != nil {
		t.Fatalf("Process: %v", err)
	}

	want := "The current time according to NTP server (pool.ntp.org) is: 2025-03-14 15:04:05 UTC"
	if reply.Response != want {
		t.Errorf("response = %q\nwant       %q", reply.Response, want)
	}
	if !reflect.DeepEqual(reply.ToolsUsed, []string{"get_network_time"}) {
		t.Errorf("tools_used = %v", reply.ToolsUsed)
	}
	if reply.InteractionID != "itx1" || reply.SessionID != "sess-1" {
		t.Errorf("identity = %q/%q", reply.InteractionID, reply.SessionID)
	}
	if got := reply.Debug["routing"]; got != "direct_shortcut" {
		t.Errorf("debug routing = %v", got)
	}
	if got := reply.Debug["pattern_matched"]; got != "time_query" {
		t.Errorf("debug pattern = %v", got)
	}
	if len(provider.prompts) != 0 {
		t.Errorf("llm consulted %d times, want 0", len(provider.prompts))
	}

	calls := f.recorded()
	if len(calls) != 1 || calls[0].ToolName != "get_network_time" || calls[0].SessionID != "sess-1" {
		t.Errorf("tool server calls = %+v", calls)
	}

	if len(log.puts) != 1 {
		t.Fatalf("recorded %d interactions, want 1", len(log.puts))
	}
	in := log.puts[0]
	if in.RoutingType != interaction.RoutingDirectShortcut {
		t.Errorf("routing_type = %q", in.RoutingType)
	}
	if in.LLMPayload != nil || in.LLMResponse != "" {
		t.Error("shortcut interaction should carry no llm payload")
	}
	if got := testutil.ToFloat64(metrics.Interactions.WithLabelValues("direct_shortcut")); got != 1 {
		t.Errorf("direct_shortcut count = %v, want 1", got)
	}
}

func TestProcessShortcutFailureFallsBackToLLM(t *testing.T) {
	t.Parallel()

	f := newFakeToolServer(t)
	f.results["ping_host"] = tools.Failure(tools.KindEffectorUnavailable, "ping binary not found")
	provider := &scriptedProvider{replies: []string{"I could not reach the network tools, sorry."}}
	svc, log, metrics := newTestChat(t, f, provider)

	reply, err := svc.Process(context.Background(), "ping 10.0.0.9 please", "sess-2")
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if reply.Response != "I could not reach the network tools, sorry." {
		t.Errorf("response = %q", reply.Response)
	}
	if got := reply.Debug["routing"]; got != "llm_only" {
		t.Errorf("debug routing = %v, want llm_only", got)
	}
	if len(reply.ToolsUsed) != 0 {
		t.Errorf("tools_used = %v, want none", reply.ToolsUsed)
	}

	// The failed shortcut attempt hit the tool server once; the llm
	// pass added no further calls.
	if calls := f.recorded(); len(calls) != 1 || calls[0].ToolName != "ping_host" {
		t.Errorf("tool server calls = %+v", calls)
	}

	if len(log.puts) != 1 || log.puts[0].RoutingType != interaction.RoutingLLMOnly {
		t.Fatalf("recorded = %+v, want one llm_only interaction", log.puts)
	}
	if got := testutil.ToFloat64(metrics.Interactions.WithLabelValues("direct_shortcut")); got != 0 {
		t.Errorf("direct_shortcut count = %v, want 0", got)
	}
}

func TestProcessLLMWithTools(t *testing.T) {
	t.Parallel()

	f := newFakeToolServer(t)
	f.results["ping_host"] = tools.Success(map[string]any{
		"status":              "success",
		"packet_loss_percent": 0,
		"average_latency_ms":  12.5,
	})
	f.results["get_network_time"] = tools.Success(map[string]any{
		"source": "pool.ntp.org",
	})
	initial := "USE_TOOL:ping_host:{\"hostname\":\"gateway.local\"}\nUSE_TOOL:get_network_time:{}"
	provider := &scriptedProvider{replies: []string{initial, "All good: latency is low."}}
	svc, log, _ := newTestChat(t, f, provider)

	reply, err := svc.Process(context.Background(), "how is my network doing", "sess-7")
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if reply.Response != "All good: latency is low." {
		t.Errorf("response = %q", reply.Response)
	}
	if !reflect.DeepEqual(reply.ToolsUsed, []string{"ping_host", "get_network_time"}) {
		t.Errorf("tools_used = %v, want dispatch order preserved", reply.ToolsUsed)
	}

	calls := f.recorded()
	if len(calls) != 2 {
		t.Fatalf("tool server calls = %+v, want 2", calls)
	}
	if calls[0].ToolName != "ping_host" || calls[0].Arguments["hostname"] != "gateway.local" {
		t.Errorf("first call = %+v", calls[0])
	}
	if calls[1].ToolName != "get_network_time" {
		t.Errorf("second call = %+v", calls[1])
	}

	if len(provider.prompts) != 2 {
		t.Fatalf("llm consulted %d times, want 2", len(provider.prompts))
	}
	if !strings.Contains(provider.prompts[0], "Available tools") {
		t.Error("initial prompt should enumerate tools")
	}
	synth := provider.prompts[1]
	for _, want := range []string{"Tool Results:", `"tool": "ping_host"`, "User Question: how is my network doing"} {
		if !strings.Contains(synth, want) {
			t.Errorf("synthesis prompt missing %q", want)
		}
	}

	if len(log.puts) != 1 {
		t.Fatalf("recorded %d interactions, want 1", len(log.puts))
	}
	in := log.puts[0]
	if in.RoutingType != interaction.RoutingLLMWithTools {
		t.Errorf("routing_type = %q", in.RoutingType)
	}
	if in.LLMPayload["initial_prompt"] != provider.prompts[0] || in.LLMPayload["final_prompt"] != synth {
		t.Error("llm_payload should carry both prompts")
	}
	wantLLM := "Initial: " + initial + "\nFinal: All good: latency is low."
	if in.LLMResponse != wantLLM {
		t.Errorf("llm_response = %q\nwant         %q", in.LLMResponse, wantLLM)
	}
	if len(in.ToolResults) != 2 || in.ToolResults[0].Tool != "ping_host" {
		t.Errorf("tool_results = %+v", in.ToolResults)
	}
	if _, ok := in.Debug["parse_failures"]; ok {
		t.Error("no parse failures expected")
	}
}

func TestProcessLLMOnly(t *testing.T) {
	t.Parallel()

	f := newFakeToolServer(t)
	provider := &scriptedProvider{replies: []string{"Why did the gopher cross the road?"}}
	svc, log, metrics := newTestChat(t, f, provider)

	reply, err := svc.Process(context.Background(), "tell me a joke", "sess-3")
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if reply.Response != "Why did the gopher cross the road?" {
		t.Errorf("response = %q", reply.Response)
	}
	if len(f.recorded()) != 0 {
		t.Errorf("tool server calls = %+v, want none", f.recorded())
	}
	if len(provider.prompts) != 1 {
		t.Fatalf("llm consulted %d times, want 1", len(provider.prompts))
	}

	in := log.puts[0]
	if in.RoutingType != interaction.RoutingLLMOnly {
		t.Errorf("routing_type = %q", in.RoutingType)
	}
	if !reflect.DeepEqual(in.LLMPayload, map[string]any{"prompt": provider.prompts[0]}) {
		t.Errorf("llm_payload = %v", in.LLMPayload)
	}
	if got := testutil.ToFloat64(metrics.Interactions.WithLabelValues("llm_only")); got != 1 {
		t.Errorf("llm_only count = %v, want 1", got)
	}
}

func TestProcessParseFailuresStillDispatchParsedCalls(t *testing.T) {
	t.Parallel()

	f := newFakeToolServer(t)
	f.results["get_network_time"] = tools.Success(map[string]any{"source": "pool.ntp.org"})
	provider := &scriptedProvider{replies: []string{
		"USE_TOOL:ping_host:{broken\nUSE_TOOL:get_network_time:{}",
		"It is mid-afternoon.",
	}}
	svc, log, _ := newTestChat(t, f, provider)

	reply, err := svc.Process(context.Background(), "hello there", "sess-4")
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if !reflect.DeepEqual(reply.ToolsUsed, []string{"get_network_time"}) {
		t.Errorf("tools_used = %v", reply.ToolsUsed)
	}
	failures, ok := reply.Debug["parse_failures"].([]string)
	if !ok || len(failures) != 1 {
		t.Fatalf("parse_failures = %v, want one entry", reply.Debug["parse_failures"])
	}
	if !strings.Contains(failures[0], "ping_host") {
		t.Errorf("failure note = %q, should name the broken line", failures[0])
	}
	if log.puts[0].RoutingType != interaction.RoutingLLMWithTools {
		t.Errorf("routing_type = %q, want llm_with_tools", log.puts[0].RoutingType)
	}
}

func TestProcessRecordFailureStillAnswers(t *testing.T) {
	t.Parallel()

	f := newFakeToolServer(t)
	f.results["get_network_time"] = tools.Success(map[string]any{
		"source":        "pool.ntp.org",
		"readable_time": "soon",
	})
	provider := &scriptedProvider{}
	svc, log, _ := newTestChat(t, f, provider)
	log.putErr = errors.New("redis connection refused")

	reply, err := svc.Process(context.Background(), "what time is it?", "sess-5")
	if err != nil {
		t.Fatalf("Process should tolerate a failing log: %v", err)
	}
	if reply.Response == "" {
		t.Error("reply should still carry the answer")
	}
}

func TestProcessLLMErrorPropagates(t *testing.T) {
	t.Parallel()

	f := newFakeToolServer(t)
	provider := &scriptedProvider{} // exhausted script fails Generate
	svc, _, _ := newTestChat(t, f, provider)

	_, err := svc.Process(context.Background(), "tell me a joke", "sess-6")
	if err == nil {
		t.Fatal("want error when the provider fails")
	}
	if !strings.Contains(err.Error(), "initial completion") {
		t.Errorf("err = %v, want initial completion context", err)
	}
}
