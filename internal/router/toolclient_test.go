package router

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/haasonsaas/switchboard/internal/tools"
)

func TestToolClientListTools(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/v1/tools/list" {
			t.Errorf("request = %s %s", r.Method, r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"tools": []tools.Descriptor{
				{Name: "ping_host", Description: "Pings a host", Parameters: json.RawMessage(`{"type":"object"}`)},
			},
		})
	}))
	defer srv.Close()

	// Trailing slash must not produce a double-slash URL.
	c := NewToolClient(srv.URL + "/")
	list, err := c.ListTools(context.Background())
	if err != nil {
		t.Fatalf("ListTools: %v", err)
	}
	if len(list) != 1 || list[0].Name != "ping_host" {
		t.Errorf("list = %+v", list)
	}
}

func TestToolClientCallTool(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/tools/call" {
			t.Errorf("request = %s %s", r.Method, r.URL.Path)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("content-type = %q", ct)
		}
		var call tools.Call
		if err := json.NewDecoder(r.Body).Decode(&call); err != nil {
			t.Errorf("decode call: %v", err)
		}
		if call.ToolName != "ping_host" || call.SessionID != "sess-9" {
			t.Errorf("call = %+v", call)
		}
		if call.Arguments["hostname"] != "example.com" {
			t.Errorf("arguments = %v", call.Arguments)
		}
		_ = json.NewEncoder(w).Encode(tools.Success(map[string]any{"status": "success"}))
	}))
	defer srv.Close()

	c := NewToolClient(srv.URL)
	res, err := c.CallTool(context.Background(), "ping_host", map[string]any{"hostname": "example.com"}, "sess-9")
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	if !res.OK() {
		t.Fatalf("result = %+v, want success", res)
	}
	if res.Data["status"] != "success" {
		t.Errorf("data = %v", res.Data)
	}
}

func TestToolClientCallToolFailureEnvelope(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(tools.Failure(tools.KindEffectorTimeout, "ping timed out"))
	}))
	defer srv.Close()

	c := NewToolClient(srv.URL)
	res, err := c.CallTool(context.Background(), "ping_host", nil, "s")
	if err != nil {
		t.Fatalf("typed failures must not surface as transport errors: %v", err)
	}
	if res.OK() || res.Err == nil || res.Err.Kind != tools.KindEffectorTimeout {
		t.Errorf("result = %+v", res)
	}
}

func TestToolClientCallToolUpstreamStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "tool server melted", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewToolClient(srv.URL)
	_, err := c.CallTool(context.Background(), "ping_host", nil, "s")
	var ue *tools.UpstreamError
	if !errors.As(err, &ue) {
		t.Fatalf("err = %v, want UpstreamError", err)
	}
	if ue.StatusCode != http.StatusInternalServerError {
		t.Errorf("status = %d", ue.StatusCode)
	}
}

func TestToolClientProbe(t *testing.T) {
	t.Parallel()

	t.Run("healthy", func(t *testing.T) {
		t.Parallel()

		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_ = json.NewEncoder(w).Encode(map[string]any{"status": "ok"})
		}))
		defer srv.Close()

		if err := NewToolClient(srv.URL).Probe(context.Background()); err != nil {
			t.Fatalf("Probe: %v", err)
		}
	})

	t.Run("unhealthy answer", func(t *testing.T) {
		t.Parallel()

		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "degraded", http.StatusServiceUnavailable)
		}))
		defer srv.Close()

		err := NewToolClient(srv.URL).Probe(context.Background())
		var ue *tools.UpstreamError
		if !errors.As(err, &ue) || ue.StatusCode != http.StatusServiceUnavailable {
			t.Fatalf("err = %v, want UpstreamError with 503", err)
		}
	})

	t.Run("unreachable", func(t *testing.T) {
		t.Parallel()

		srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
		url := srv.URL
		srv.Close()

		err := NewToolClient(url).Probe(context.Background())
		if err == nil {
			t.Fatal("want error for unreachable server")
		}
		var ue *tools.UpstreamError
		if errors.As(err, &ue) {
			t.Errorf("transport failure should not be an UpstreamError: %v", err)
		}
	})
}
