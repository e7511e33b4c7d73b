package homeassistant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/haasonsaas/switchboard/internal/tools"
)

const (
	defaultRESTTimeout = 5 * time.Second
	maxResponseBytes   = 4 << 20
	errorSnippetBytes  = 512
)

// Client is the REST side of the synchronizer: bulk and single state
// reads plus service calls, authenticated with a long-lived bearer
// token.
type Client struct {
	baseURL string
	token   string
	httpc   *http.Client
}

// NewClient validates the URL and token up front so a misconfigured
// synchronizer fails at startup, not on first use.
func NewClient(baseURL, token string, httpc *http.Client) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("homeassistant: base URL is required")
	}
	if !strings.HasPrefix(baseURL, "http://") && !strings.HasPrefix(baseURL, "https://") {
		return nil, fmt.Errorf("homeassistant: base URL %q must be http or https", baseURL)
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, errors.New("homeassistant: token is required")
	}
	if httpc == nil {
		httpc = &http.Client{Timeout: defaultRESTTimeout}
	}
	return &Client{baseURL: baseURL, token: token, httpc: httpc}, nil
}

// WebSocketURL derives the event endpoint from the REST base URL.
func (c *Client) WebSocketURL() string {
	url := strings.Replace(c.baseURL, "http://", "ws://", 1)
	url = strings.Replace(url, "https://", "wss://", 1)
	return url + "/api/websocket"
}

// States fetches the bulk state endpoint.
func (c *Client) States(ctx context.Context) ([]*Entity, error) {
	var states []*Entity
	if err := c.doJSON(ctx, http.MethodGet, "/api/states", nil, &states); err != nil {
		return nil, err
	}
	now := time.Now()
	for _, ent := range states {
		ent.FetchedAt = now
	}
	return states, nil
}

// State fetches a single entity.
func (c *Client) State(ctx context.Context, entityID string) (*Entity, error) {
	var ent Entity
	if err := c.doJSON(ctx, http.MethodGet, "/api/states/"+entityID, nil, &ent); err != nil {
		return nil, err
	}
	ent.FetchedAt = time.Now()
	return &ent, nil
}

// CallService posts to /api/services/{domain}/{service}. data must
// carry the entity_id key along with any service parameters.
func (c *Client) CallService(ctx context.Context, domain, service string, data map[string]any) error {
	path := fmt.Sprintf("/api/services/%s/%s", domain, service)
	return c.doJSON(ctx, http.MethodPost, path, data, nil)
}

func (c *Client) doJSON(ctx context.Context, method, path string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("homeassistant: encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("homeassistant: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return fmt.Errorf("homeassistant: %s %s: %w", method, path, err)
		}
		return fmt.Errorf("homeassistant: %s %s: %v: %w", method, path, err, tools.ErrUnavailable)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, errorSnippetBytes))
		return &tools.UpstreamError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(out); err != nil {
		return fmt.Errorf("homeassistant: decode %s %s response: %w", method, path, err)
	}
	return nil
}
