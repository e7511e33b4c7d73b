package router

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/haasonsaas/switchboard/internal/tools"
)

// defaultCallTimeout bounds one tool server round trip. Per-tool
// execution deadlines live on the server; this only guards against a
// hung socket.
const defaultCallTimeout = 30 * time.Second

// maxToolResponse caps how much of a tool server response is decoded.
const maxToolResponse = 4 << 20

// ToolClient talks to the tool server's invocation API.
type ToolClient struct {
	baseURL string
	httpc   *http.Client
}

// NewToolClient creates a client for the tool server at baseURL.
func NewToolClient(baseURL string) *ToolClient {
	return &ToolClient{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		httpc:   &http.Client{Timeout: defaultCallTimeout},
	}
}

// ListTools fetches the published tool descriptors.
func (c *ToolClient) ListTools(ctx context.Context) ([]tools.Descriptor, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/tools/list", nil)
	if err != nil {
		return nil, fmt.Errorf("router: build list request: %w", err)
	}
	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("router: list tools: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, rejection(resp)
	}
	var out struct {
		Tools []tools.Descriptor `json:"tools"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxToolResponse)).Decode(&out); err != nil {
		return nil, fmt.Errorf("router: decode tool list: %w", err)
	}
	return out.Tools, nil
}

// CallTool invokes one tool and returns the decoded result envelope.
// Typed tool failures come back inside the Result; the error return is
// reserved for transport and protocol problems.
func (c *ToolClient) CallTool(ctx context.Context, name string, args map[string]any, sessionID string) (*tools.Result, error) {
	body, err := json.Marshal(tools.Call{ToolName: name, Arguments: args, SessionID: sessionID})
	if err != nil {
		return nil, fmt.Errorf("router: marshal call for %s: %w", name, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/tools/call", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("router: build call request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("router: call %s: %w", name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, rejection(resp)
	}
	var result tools.Result
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxToolResponse)).Decode(&result); err != nil {
		return nil, fmt.Errorf("router: decode result for %s: %w", name, err)
	}
	return &result, nil
}

// Probe checks the tool server health endpoint. It returns nil when
// the server answers 200, an UpstreamError when it answers anything
// else, and the transport error when it is unreachable.
func (c *ToolClient) Probe(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("router: build probe request: %w", err)
	}
	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("router: tool server probe: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 8<<10))

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("router: tool server probe: %w", &tools.UpstreamError{StatusCode: resp.StatusCode})
	}
	return nil
}

func rejection(resp *http.Response) error {
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 8<<10))
	return fmt.Errorf("router: tool server: %w", &tools.UpstreamError{
		StatusCode: resp.StatusCode,
		Body:       strings.TrimSpace(string(snippet)),
	})
}
