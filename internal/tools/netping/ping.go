// Package netping implements the ping_host tool on top of the platform
// ping binary. Parsing is locale-independent: per-echo time= values are
// averaged instead of trusting the summary line.
package netping

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os/exec"
	"regexp"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/haasonsaas/switchboard/internal/tools"
)

const (
	pingCount      = 4
	maxOutputBytes = 8 << 10
	snippetBytes   = 400
)

var (
	hostnamePattern = regexp.MustCompile(`^[A-Za-z0-9._-]{1,253}$`)
	unixLossPattern = regexp.MustCompile(`(\d+(?:\.\d+)?)% packet loss`)
	winLossPattern  = regexp.MustCompile(`\((\d+)% loss\)`)
	latencyPattern  = regexp.MustCompile(`time[=<]([\d.]+)\s*ms`)
)

// runResult carries subprocess output separately from the exit status so
// that non-zero exits (host down) still reach the parser.
type runResult struct {
	output   string
	exitCode int
}

type runFunc func(ctx context.Context, host string) (runResult, error)

// PingTool probes a single host with the system ping binary and reports
// reachability, average latency, and packet loss.
type PingTool struct {
	logger *slog.Logger
	run    runFunc
}

// NewPingTool creates the ping_host tool.
func NewPingTool(logger *slog.Logger) *PingTool {
	if logger == nil {
		logger = slog.Default()
	}
	return &PingTool{
		logger: logger.With("component", "netping"),
		run:    runPing,
	}
}

func (t *PingTool) Name() string { return "ping_host" }

func (t *PingTool) Description() string {
	return "Ping a host to check network connectivity and measure latency"
}

func (t *PingTool) Schema() json.RawMessage {
	return json.RawMessage(`{
  "type": "object",
  "properties": {
    "hostname": {
      "type": "string",
      "description": "Hostname or IP address to ping",
      "pattern": "^[A-Za-z0-9._-]{1,253}$"
    }
  },
  "required": ["hostname"]
}`)
}

func (t *PingTool) Timeout() time.Duration { return 10 * time.Second }

func (t *PingTool) Execute(ctx context.Context, args map[string]any) (*tools.Result, error) {
	host, _ := args["hostname"].(string)
	// Revalidated here even though the schema already rejects bad input:
	// the hostname becomes a subprocess argument.
	if !hostnamePattern.MatchString(host) {
		return tools.Failure(tools.KindInvalidArguments, "hostname must match ^[A-Za-z0-9._-]{1,253}$"), nil
	}

	res, err := t.run(ctx, host)
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return nil, fmt.Errorf("ping binary not found: %w", tools.ErrUnavailable)
		}
		return nil, fmt.Errorf("netping: run ping: %w", err)
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	loss, lossOK := parsePacketLoss(res.output)
	avg, avgOK := parseAvgLatency(res.output)

	reachable := res.exitCode == 0
	if lossOK && loss >= 100 {
		reachable = false
	}

	data := map[string]any{
		"host":            host,
		"reachable":       reachable,
		"avg_latency_ms":  nil,
		"packet_loss_pct": nil,
		"raw_snippet":     snippet(res.output, snippetBytes),
	}
	if avgOK {
		data["avg_latency_ms"] = math.Round(avg*100) / 100
	}
	if lossOK {
		data["packet_loss_pct"] = loss
	}

	t.logger.Debug("ping complete",
		"host", host,
		"exit_code", res.exitCode,
		"reachable", reachable)
	return tools.Success(data), nil
}

func runPing(ctx context.Context, host string) (runResult, error) {
	args := []string{"-c", strconv.Itoa(pingCount), host}
	if runtime.GOOS == "windows" {
		args = []string{"-n", strconv.Itoa(pingCount), host}
	}

	cmd := exec.CommandContext(ctx, "ping", args...)
	out := newLimitedBuffer(maxOutputBytes)
	cmd.Stdout = out
	cmd.Stderr = out

	err := cmd.Run()
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return runResult{}, err
		}
	}
	return runResult{output: out.String(), exitCode: exitCode(err)}, nil
}

// parsePacketLoss extracts the loss percentage from GNU/BSD ("0% packet
// loss") or Windows ("(0% loss)") statistics lines.
func parsePacketLoss(output string) (float64, bool) {
	for _, pattern := range []*regexp.Regexp{unixLossPattern, winLossPattern} {
		m := pattern.FindStringSubmatch(output)
		if m == nil {
			continue
		}
		v, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			continue
		}
		return v, true
	}
	return 0, false
}

// parseAvgLatency averages the per-echo time= values. The summary
// min/avg/max line is deliberately ignored: its layout varies by
// platform and locale, the echo lines do not.
func parseAvgLatency(output string) (float64, bool) {
	matches := latencyPattern.FindAllStringSubmatch(output, -1)
	if len(matches) == 0 {
		return 0, false
	}
	var sum float64
	var n int
	for _, m := range matches {
		v, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			continue
		}
		sum += v
		n++
	}
	if n == 0 {
		return 0, false
	}
	return sum / float64(n), true
}

func snippet(output string, max int) string {
	output = strings.TrimSpace(output)
	if len(output) <= max {
		return output
	}
	return output[:max]
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

type limitedBuffer struct {
	mu  sync.Mutex
	buf []byte
	max int
}

func newLimitedBuffer(max int) *limitedBuffer {
	return &limitedBuffer{max: max}
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.max > 0 && len(b.buf) >= b.max {
		return len(p), nil
	}
	remaining := b.max - len(b.buf)
	if b.max > 0 && len(p) > remaining {
		b.buf = append(b.buf, p[:remaining]...)
		return len(p), nil
	}
	b.buf = append(b.buf, p...)
	return len(p), nil
}

func (b *limitedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}
