// Package clock implements the time effectors: network time via NTP
// with a backup server and a system-clock fallback, and sunrise/sunset
// lookups against the public sunrise-sunset API.
package clock

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/beevik/ntp"

	"github.com/haasonsaas/switchboard/internal/config"
	"github.com/haasonsaas/switchboard/internal/tools"
)

const readableLayout = "Monday, January 2, 2006 at 3:04:05 PM MST"

// queryFunc matches ntp.QueryWithOptions; injectable for tests.
type queryFunc func(server string, timeout time.Duration) (*ntp.Response, error)

// TimeTool answers get_network_time. It queries the primary then the
// backup NTP server; when both fail it reports the system clock with a
// warning instead of failing the call.
type TimeTool struct {
	cfg    config.NTP
	loc    *time.Location
	logger *slog.Logger
	query  queryFunc
	now    func() time.Time
}

// NewTimeTool builds the tool. An unknown local timezone falls back to
// UTC so a bad LOCAL_TIMEZONE never breaks time queries.
func NewTimeTool(cfg config.NTP, logger *slog.Logger) *TimeTool {
	if logger == nil {
		logger = slog.Default()
	}
	loc, err := time.LoadLocation(cfg.LocalTimezone)
	if err != nil {
		logger.Warn("unknown local timezone, using UTC", "timezone", cfg.LocalTimezone)
		loc = time.UTC
	}
	return &TimeTool{
		cfg:    cfg,
		loc:    loc,
		logger: logger.With("component", "clock"),
		query: func(server string, timeout time.Duration) (*ntp.Response, error) {
			return ntp.QueryWithOptions(server, ntp.QueryOptions{Timeout: timeout})
		},
		now: time.Now,
	}
}

// Location returns the resolved local timezone, shared with the sun tool.
func (t *TimeTool) Location() *time.Location { return t.loc }

func (t *TimeTool) Name() string { return "get_network_time" }

func (t *TimeTool) Description() string {
	return "Get the current date and time from an NTP server. Falls back to the system clock when NTP is unreachable."
}

func (t *TimeTool) Schema() json.RawMessage {
	return json.RawMessage(`{
  "type": "object",
  "properties": {}
}`)
}

func (t *TimeTool) Timeout() time.Duration { return 5 * time.Second }

// Execute never returns an error: the system-clock fallback is part of
// the contract.
func (t *TimeTool) Execute(ctx context.Context, _ map[string]any) (*tools.Result, error) {
	for _, server := range []string{t.cfg.Server, t.cfg.BackupServer} {
		if server == "" {
			continue
		}
		timeout := t.queryBudget(ctx)
		if timeout <= 0 {
			break
		}
		resp, err := t.query(server, timeout)
		if err != nil {
			t.logger.Warn("ntp query failed", "server", server, "error", err)
			continue
		}
		if err := resp.Validate(); err != nil {
			t.logger.Warn("ntp response invalid", "server", server, "error", err)
			continue
		}
		now := t.now().Add(resp.ClockOffset)
		return tools.Success(t.timeData(now, "ntp:"+server, resp.ClockOffset, "")), nil
	}

	now := t.now()
	return tools.Success(t.timeData(now, "system", 0,
		"NTP servers unreachable; time is from the local system clock")), nil
}

// queryBudget caps each NTP query by the configured timeout and by the
// time remaining on the call deadline, leaving headroom for the fallback.
func (t *TimeTool) queryBudget(ctx context.Context) time.Duration {
	timeout := t.cfg.Timeout
	if deadline, ok := ctx.Deadline(); ok {
		remaining := time.Until(deadline) - 100*time.Millisecond
		if remaining < timeout {
			timeout = remaining
		}
	}
	return timeout
}

func (t *TimeTool) timeData(now time.Time, source string, offset time.Duration, warning string) map[string]any {
	local := now.In(t.loc)
	data := map[string]any{
		"current_time":  now.UTC().Format(time.RFC3339),
		"timestamp":     now.Unix(),
		"timezone":      t.loc.String(),
		"readable_time": local.Format(readableLayout),
		"source":        source,
		"offset_ms":     float64(offset) / float64(time.Millisecond),
	}
	if warning != "" {
		data["warning"] = warning
	}
	return data
}
