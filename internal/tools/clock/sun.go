package clock

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/haasonsaas/switchboard/internal/config"
	"github.com/haasonsaas/switchboard/internal/tools"
)

const sunMaxResponseBytes = 64 << 10

// SunTool answers get_sun_times using the sunrise-sunset.org API
// (formatted=0 returns ISO 8601 timestamps and day length in seconds).
type SunTool struct {
	baseURL string
	lat     float64
	lng     float64
	loc     *time.Location
	client  *http.Client
}

// NewSunTool builds the tool. The base URL is configurable so tests can
// point it at a local server.
func NewSunTool(cfg config.Sun, loc *time.Location, client *http.Client) *SunTool {
	if loc == nil {
		loc = time.UTC
	}
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	return &SunTool{
		baseURL: cfg.BaseURL,
		lat:     cfg.DefaultLatitude,
		lng:     cfg.DefaultLongitude,
		loc:     loc,
		client:  client,
	}
}

func (t *SunTool) Name() string { return "get_sun_times" }

func (t *SunTool) Description() string {
	return "Get sunrise, sunset, and solar noon times for a location. Defaults to the configured home coordinates and today's date."
}

func (t *SunTool) Schema() json.RawMessage {
	return json.RawMessage(`{
  "type": "object",
  "properties": {
    "latitude":  { "type": "number", "minimum": -90, "maximum": 90 },
    "longitude": { "type": "number", "minimum": -180, "maximum": 180 },
    "date":      { "type": "string", "pattern": "^(today|tomorrow|[0-9]{4}-[0-9]{2}-[0-9]{2})$" }
  }
}`)
}

func (t *SunTool) Timeout() time.Duration { return 5 * time.Second }

func (t *SunTool) Execute(ctx context.Context, args map[string]any) (*tools.Result, error) {
	lat, lng := t.lat, t.lng
	if v, ok := args["latitude"].(float64); ok {
		lat = v
	}
	if v, ok := args["longitude"].(float64); ok {
		lng = v
	}
	date := "today"
	if v, ok := args["date"].(string); ok && v != "" {
		date = v
	}

	query := url.Values{}
	query.Set("lat", strconv.FormatFloat(lat, 'f', -1, 64))
	query.Set("lng", strconv.FormatFloat(lng, 'f', -1, 64))
	query.Set("date", date)
	query.Set("formatted", "0")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.baseURL+"?"+query.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("clock: create sun request: %w", err)
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("clock: sun api unreachable: %w", tools.ErrUnavailable)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, sunMaxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("clock: read sun response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &tools.UpstreamError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var payload struct {
		Status  string `json:"status"`
		Results struct {
			Sunrise   string `json:"sunrise"`
			Sunset    string `json:"sunset"`
			SolarNoon string `json:"solar_noon"`
			DayLength int64  `json:"day_length"`
		} `json:"results"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("clock: decode sun response: %w", err)
	}
	if payload.Status != "OK" {
		return nil, &tools.UpstreamError{StatusCode: resp.StatusCode, Body: "sun api status " + payload.Status}
	}

	return tools.Success(map[string]any{
		"sunrise":            t.localize(payload.Results.Sunrise),
		"sunset":             t.localize(payload.Results.Sunset),
		"solar_noon":         t.localize(payload.Results.SolarNoon),
		"day_length_seconds": payload.Results.DayLength,
		"date":               date,
		"latitude":           lat,
		"longitude":          lng,
	}), nil
}

// localize re-renders an upstream ISO timestamp in the local timezone.
// Unparseable values pass through untouched rather than being dropped.
func (t *SunTool) localize(iso string) string {
	parsed, err := time.Parse(time.RFC3339, iso)
	if err != nil {
		return iso
	}
	return parsed.In(t.loc).Format(time.RFC3339)
}
