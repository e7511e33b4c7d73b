package tools

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

type stubTool struct {
	name    string
	schema  string
	timeout time.Duration
	execute func(ctx context.Context, args map[string]any) (*Result, error)
	calls   atomic.Int64
}

func (s *stubTool) Name() string        { return s.name }
func (s *stubTool) Description() string { return "stub tool for tests" }
func (s *stubTool) Schema() json.RawMessage {
	if s.schema == "" {
		return json.RawMessage(`{"type":"object"}`)
	}
	return json.RawMessage(s.schema)
}
func (s *stubTool) Timeout() time.Duration { return s.timeout }
func (s *stubTool) Execute(ctx context.Context, args map[string]any) (*Result, error) {
	s.calls.Add(1)
	if s.execute == nil {
		return Success(map[string]any{"echo": args}), nil
	}
	return s.execute(ctx, args)
}

const stubSchema = `{
  "type": "object",
  "properties": {
    "name":  { "type": "string" },
    "count": { "type": "integer", "minimum": 0, "maximum": 255 }
  },
  "required": ["name"],
  "additionalProperties": false
}`

func newTestDispatcher(t *testing.T, tool *stubTool) *Dispatcher {
	t.Helper()
	reg := NewRegistry()
	if tool != nil {
		if err := reg.Register(tool); err != nil {
			t.Fatalf("Register: %v", err)
		}
	}
	return NewDispatcher(reg, nil, nil, nil)
}

func TestDispatchUnknownTool(t *testing.T) {
	t.Parallel()

	d := newTestDispatcher(t, nil)
	res := d.Dispatch(context.Background(), Call{ToolName: "nope"})
	if res.Status != StatusError {
		t.Fatalf("status = %q, want error", res.Status)
	}
	if res.Err.Kind != KindUnknownTool {
		t.Fatalf("kind = %q, want unknown_tool", res.Err.Kind)
	}
}

func TestDispatchValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		args       map[string]any
		wantErr    bool
		wantInMsg  string
		wantCalled bool
	}{
		{
			name:       "valid minimal",
			args:       map[string]any{"name": "kitchen"},
			wantCalled: true,
		},
		{
			name:       "valid with count",
			args:       map[string]any{"name": "kitchen", "count": 255},
			wantCalled: true,
		},
		{
			name:      "missing required",
			args:      map[string]any{"count": 3},
			wantErr:   true,
			wantInMsg: "name",
		},
		{
			name:      "wrong type",
			args:      map[string]any{"name": 42},
			wantErr:   true,
			wantInMsg: "name",
		},
		{
			name:      "count above maximum",
			args:      map[string]any{"name": "x", "count": 256},
			wantErr:   true,
			wantInMsg: "count",
		},
		{
			name:      "count below minimum",
			args:      map[string]any{"name": "x", "count": -1},
			wantErr:   true,
			wantInMsg: "count",
		},
		{
			name:      "unexpected key",
			args:      map[string]any{"name": "x", "extra": true},
			wantErr:   true,
			wantInMsg: "extra",
		},
		{
			name:      "nil arguments missing required",
			args:      nil,
			wantErr:   true,
			wantInMsg: "name",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			tool := &stubTool{name: "stub", schema: stubSchema}
			d := newTestDispatcher(t, tool)
			res := d.Dispatch(context.Background(), Call{ToolName: "stub", Arguments: tt.args})

			if tt.wantErr {
				if res.Status != StatusError {
					t.Fatalf("status = %q, want error", res.Status)
				}
				if res.Err.Kind != KindInvalidArguments {
					t.Fatalf("kind = %q, want invalid_arguments", res.Err.Kind)
				}
				if !strings.Contains(res.Err.Message, tt.wantInMsg) {
					t.Errorf("message %q does not name %q", res.Err.Message, tt.wantInMsg)
				}
			} else if res.Status != StatusSuccess {
				t.Fatalf("status = %q, want success (err: %+v)", res.Status, res.Err)
			}

			called := tool.calls.Load() > 0
			if called != tt.wantCalled {
				t.Errorf("effector called = %v, want %v", called, tt.wantCalled)
			}
		})
	}
}

func TestDispatchTimeout(t *testing.T) {
	t.Parallel()

	tool := &stubTool{
		name:    "slow",
		timeout: 30 * time.Millisecond,
		execute: func(ctx context.Context, _ map[string]any) (*Result, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
	d := newTestDispatcher(t, tool)
	res := d.Dispatch(context.Background(), Call{ToolName: "slow"})
	if res.Err == nil || res.Err.Kind != KindEffectorTimeout {
		t.Fatalf("result = %+v, want effector_timeout", res)
	}
}

func TestDispatchPanic(t *testing.T) {
	t.Parallel()

	tool := &stubTool{
		name: "boom",
		execute: func(context.Context, map[string]any) (*Result, error) {
			panic("effector exploded")
		},
	}
	d := newTestDispatcher(t, tool)
	res := d.Dispatch(context.Background(), Call{ToolName: "boom"})
	if res.Err == nil || res.Err.Kind != KindEffectorFailed {
		t.Fatalf("result = %+v, want effector_failed", res)
	}
	if !strings.Contains(res.Err.Message, "effector exploded") {
		t.Errorf("message %q should carry the panic value", res.Err.Message)
	}
}

func TestDispatchClassification(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		err      error
		wantKind ErrorKind
	}{
		{"unavailable", ErrUnavailable, KindEffectorUnavailable},
		{"wrapped unavailable", errors.Join(errors.New("dial"), ErrUnavailable), KindEffectorUnavailable},
		{"upstream", &UpstreamError{StatusCode: 502, Body: "bad gateway"}, KindUpstreamRejected},
		{"generic", errors.New("something broke"), KindEffectorFailed},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			tool := &stubTool{
				name: "fail",
				execute: func(context.Context, map[string]any) (*Result, error) {
					return nil, tt.err
				},
			}
			d := newTestDispatcher(t, tool)
			res := d.Dispatch(context.Background(), Call{ToolName: "fail"})
			if res.Err == nil || res.Err.Kind != tt.wantKind {
				t.Fatalf("result = %+v, want kind %q", res, tt.wantKind)
			}
		})
	}
}

func TestDispatchUpstreamDetail(t *testing.T) {
	t.Parallel()

	tool := &stubTool{
		name: "ha",
		execute: func(context.Context, map[string]any) (*Result, error) {
			return nil, &UpstreamError{StatusCode: 404}
		},
	}
	d := newTestDispatcher(t, tool)
	res := d.Dispatch(context.Background(), Call{ToolName: "ha"})
	if res.Err == nil || res.Err.Kind != KindUpstreamRejected {
		t.Fatalf("result = %+v, want upstream_rejected", res)
	}
	if got := res.Err.Detail["status_code"]; got != 404 {
		t.Errorf("detail status_code = %v, want 404", got)
	}
}

// Every dispatch outcome is success or a typed error; never both fields,
// never neither.
func TestDispatchTotality(t *testing.T) {
	t.Parallel()

	tool := &stubTool{name: "stub", schema: stubSchema}
	d := newTestDispatcher(t, tool)

	calls := []Call{
		{ToolName: "missing"},
		{ToolName: "stub"},
		{ToolName: "stub", Arguments: map[string]any{"name": "ok"}},
		{ToolName: "stub", Arguments: map[string]any{"name": 1}},
		{ToolName: "stub", Arguments: map[string]any{"x": func() {}}},
	}
	for i, call := range calls {
		res := d.Dispatch(context.Background(), call)
		if res == nil {
			t.Fatalf("call %d: nil result", i)
		}
		switch res.Status {
		case StatusSuccess:
			if res.Err != nil {
				t.Errorf("call %d: success result carries error", i)
			}
		case StatusError:
			if res.Err == nil {
				t.Errorf("call %d: error result missing error", i)
			}
			if res.Data != nil {
				t.Errorf("call %d: error result carries data", i)
			}
		default:
			t.Errorf("call %d: status = %q", i, res.Status)
		}
	}
}

func TestResultWireShape(t *testing.T) {
	t.Parallel()

	ok := Success(map[string]any{"host": "example.com"})
	encoded, err := json.Marshal(ok)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(encoded), `"status":"success"`) || !strings.Contains(string(encoded), `"result_data"`) {
		t.Errorf("success wire shape = %s", encoded)
	}

	fail := Failure(KindInvalidArguments, "hostname: length must be <= 253")
	encoded, err = json.Marshal(fail)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(encoded), `"status":"error"`) || !strings.Contains(string(encoded), `"kind":"invalid_arguments"`) {
		t.Errorf("error wire shape = %s", encoded)
	}
	if strings.Contains(string(encoded), "result_data") {
		t.Errorf("error result must not carry result_data: %s", encoded)
	}
}
