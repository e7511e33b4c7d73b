package transcribe

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"strings"
	"time"

	"github.com/haasonsaas/switchboard/internal/observability"
	"github.com/haasonsaas/switchboard/internal/tools"
)

const (
	defaultDialTimeout = 5 * time.Second
	defaultReadTimeout = 10 * time.Second

	// chunkSize bounds audio-chunk payloads so the transcoder can start
	// decoding before the full clip has arrived.
	chunkSize = 4096

	// maxEventPayload caps payloads announced by the transcoder.
	maxEventPayload = 1 << 20
)

// Bridge event types.
const (
	eventTranscribe = "transcribe"
	eventAudioStart = "audio-start"
	eventAudioChunk = "audio-chunk"
	eventAudioStop  = "audio-stop"
	eventTranscript = "transcript"
	eventError      = "error"
)

// event is one frame on the bridge connection: a JSON header line plus
// an optional raw payload of PayloadLength bytes.
type event struct {
	Type          string         `json:"type"`
	Data          map[string]any `json:"data,omitempty"`
	PayloadLength int            `json:"payload_length,omitempty"`
}

// Client streams PCM samples to the transcoder and reads back the
// transcript. One connection per request.
type Client struct {
	addr        string
	dialTimeout time.Duration
	readTimeout time.Duration
	logger      *slog.Logger
	metrics     *observability.Metrics
}

// NewClient prepares a bridge client for addr (host:port, a tcp://
// prefix is tolerated).
func NewClient(addr string, metrics *observability.Metrics, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		addr:        strings.TrimPrefix(addr, "tcp://"),
		dialTimeout: defaultDialTimeout,
		readTimeout: defaultReadTimeout,
		logger:      logger.With("component", "transcribe"),
		metrics:     metrics,
	}
}

// Transcribe sends one clip through the bridge and returns the
// recognized text. An empty string with a nil error means the
// transcoder heard nothing; the bridge never invents a transcript.
func (c *Client) Transcribe(ctx context.Context, format Format, pcm []byte, language string) (text string, err error) {
	defer func() {
		if c.metrics != nil {
			status := "success"
			if err != nil {
				status = "error"
			}
			c.metrics.Transcriptions.WithLabelValues(status).Inc()
		}
	}()

	if language == "" {
		language = "en"
	}

	dialer := net.Dialer{Timeout: c.dialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", c.addr)
	if err != nil {
		return "", fmt.Errorf("transcribe: dial %s: %v: %w", c.addr, err, tools.ErrUnavailable)
	}
	defer conn.Close()

	// Caller disconnect tears down the stream mid-flight.
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	if err := c.sendClip(conn, format, pcm, language); err != nil {
		if ctx.Err() != nil {
			return "", fmt.Errorf("transcribe: send clip: %w", ctx.Err())
		}
		return "", err
	}

	text, err = c.readTranscript(ctx, conn)
	if err != nil {
		return "", err
	}
	c.logger.Debug("transcript received", "bytes", len(pcm), "chars", len(text))
	return text, nil
}

func (c *Client) sendClip(conn net.Conn, format Format, pcm []byte, language string) error {
	if err := conn.SetWriteDeadline(time.Now().Add(c.readTimeout)); err != nil {
		return fmt.Errorf("transcribe: set write deadline: %w", err)
	}

	w := bufio.NewWriter(conn)
	if err := writeEvent(w, event{
		Type: eventTranscribe,
		Data: map[string]any{"language": language},
	}, nil); err != nil {
		return err
	}

	audio := map[string]any{
		"rate":     format.SampleRate,
		"width":    format.Width(),
		"channels": format.Channels,
	}
	if err := writeEvent(w, event{Type: eventAudioStart, Data: audio}, nil); err != nil {
		return err
	}
	for off := 0; off < len(pcm); off += chunkSize {
		end := off + chunkSize
		if end > len(pcm) {
			end = len(pcm)
		}
		if err := writeEvent(w, event{Type: eventAudioChunk, Data: audio}, pcm[off:end]); err != nil {
			return err
		}
	}
	if err := writeEvent(w, event{Type: eventAudioStop}, nil); err != nil {
		return err
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("transcribe: flush clip: %w", err)
	}
	return nil
}

func writeEvent(w *bufio.Writer, ev event, payload []byte) error {
	ev.PayloadLength = len(payload)
	header, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("transcribe: encode %s event: %w", ev.Type, err)
	}
	if _, err := w.Write(header); err != nil {
		return fmt.Errorf("transcribe: write %s event: %w", ev.Type, err)
	}
	if err := w.WriteByte('\n'); err != nil {
		return fmt.Errorf("transcribe: write %s event: %w", ev.Type, err)
	}
	if len(payload) > 0 {
		if _, err := w.Write(payload); err != nil {
			return fmt.Errorf("transcribe: write %s payload: %w", ev.Type, err)
		}
	}
	return nil
}

// readTranscript consumes transcoder events until a transcript arrives.
// Progress events are skipped; a stalled connection fails the request
// once the read deadline passes.
func (c *Client) readTranscript(ctx context.Context, conn net.Conn) (string, error) {
	r := bufio.NewReader(conn)
	for {
		if err := conn.SetReadDeadline(time.Now().Add(c.readTimeout)); err != nil {
			return "", fmt.Errorf("transcribe: set read deadline: %w", err)
		}
		line, err := r.ReadBytes('\n')
		if err != nil {
			if ctx.Err() != nil {
				return "", fmt.Errorf("transcribe: read event: %w", ctx.Err())
			}
			return "", fmt.Errorf("transcribe: read event: %w", err)
		}

		var ev event
		if err := json.Unmarshal(line, &ev); err != nil {
			return "", fmt.Errorf("transcribe: malformed event: %w", err)
		}
		if ev.PayloadLength < 0 || ev.PayloadLength > maxEventPayload {
			return "", fmt.Errorf("transcribe: event payload of %d bytes out of range", ev.PayloadLength)
		}
		if ev.PayloadLength > 0 {
			if _, err := io.CopyN(io.Discard, r, int64(ev.PayloadLength)); err != nil {
				return "", fmt.Errorf("transcribe: read event payload: %w", err)
			}
		}

		switch ev.Type {
		case eventTranscript:
			text, _ := ev.Data["text"].(string)
			return text, nil
		case eventError:
			msg, _ := ev.Data["message"].(string)
			if msg == "" {
				msg = "transcoder reported an error"
			}
			return "", fmt.Errorf("transcribe: %s", msg)
		}
	}
}

// KindOf maps a bridge failure onto the tool error taxonomy so the
// HTTP surface reports the same closed set of kinds as tool calls.
func KindOf(err error) tools.ErrorKind {
	switch {
	case errors.Is(err, tools.ErrUnavailable):
		return tools.KindEffectorUnavailable
	case errors.Is(err, os.ErrDeadlineExceeded), errors.Is(err, context.DeadlineExceeded):
		return tools.KindEffectorTimeout
	default:
		return tools.KindEffectorFailed
	}
}
