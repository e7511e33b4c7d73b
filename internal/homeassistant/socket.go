package homeassistant

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	wsHandshakeTimeout = 10 * time.Second
	wsWriteWait        = 10 * time.Second
	wsPongWait         = 45 * time.Second
	wsPingPeriod       = 15 * time.Second
	wsReadLimit        = 1 << 20
)

// stateChange is one state_changed event off the socket. A nil
// NewState means the entity was removed.
type stateChange struct {
	EntityID  string
	NewState  *Entity
	TimeFired time.Time
}

// eventSource abstracts the authenticated, subscribed socket so the
// synchronizer can be driven by a fake in tests.
type eventSource interface {
	NextStateChange() (*stateChange, error)
	Close() error
}

type wsServerMessage struct {
	ID      int64           `json:"id,omitempty"`
	Type    string          `json:"type"`
	Success *bool           `json:"success,omitempty"`
	Message string          `json:"message,omitempty"`
	Event   *wsEventPayload `json:"event,omitempty"`
}

type wsEventPayload struct {
	EventType string      `json:"event_type"`
	TimeFired string      `json:"time_fired"`
	Data      wsEventData `json:"data"`
}

type wsEventData struct {
	EntityID string  `json:"entity_id"`
	NewState *Entity `json:"new_state"`
}

type haSocket struct {
	conn      *websocket.Conn
	writeMu   sync.Mutex
	done      chan struct{}
	closeOnce sync.Once
}

// dialSocket connects to the Home Assistant event endpoint, runs the
// auth handshake, and subscribes to state_changed events. The returned
// socket keeps itself alive with ping frames; events arrive only when
// states actually change.
func dialSocket(ctx context.Context, url, token string) (*haSocket, error) {
	dialer := websocket.Dialer{HandshakeTimeout: wsHandshakeTimeout}
	conn, resp, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		if resp != nil {
			_ = resp.Body.Close()
		}
		return nil, fmt.Errorf("homeassistant: dial %s: %w", url, err)
	}
	conn.SetReadLimit(wsReadLimit)
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	s := &haSocket{conn: conn, done: make(chan struct{})}
	if err := s.handshake(token); err != nil {
		_ = conn.Close()
		return nil, err
	}
	go s.keepAlive()
	return s, nil
}

// handshake implements HA's websocket auth flow: auth_required -> auth
// -> auth_ok, then a subscribe_events request acknowledged by a result
// message. Anything else aborts the connection.
func (s *haSocket) handshake(token string) error {
	var hello wsServerMessage
	if err := s.readMessage(&hello); err != nil {
		return fmt.Errorf("homeassistant: read auth_required: %w", err)
	}
	if hello.Type != "auth_required" {
		return fmt.Errorf("homeassistant: unexpected handshake message %q", hello.Type)
	}

	if err := s.writeJSON(map[string]any{"type": "auth", "access_token": token}); err != nil {
		return fmt.Errorf("homeassistant: send auth: %w", err)
	}
	var authRes wsServerMessage
	if err := s.readMessage(&authRes); err != nil {
		return fmt.Errorf("homeassistant: read auth result: %w", err)
	}
	if authRes.Type != "auth_ok" {
		return fmt.Errorf("homeassistant: authentication failed: %s", messageOrType(authRes))
	}

	if err := s.writeJSON(map[string]any{"id": 1, "type": "subscribe_events", "event_type": "state_changed"}); err != nil {
		return fmt.Errorf("homeassistant: subscribe: %w", err)
	}
	var subRes wsServerMessage
	if err := s.readMessage(&subRes); err != nil {
		return fmt.Errorf("homeassistant: read subscribe result: %w", err)
	}
	if subRes.Type != "result" || subRes.Success == nil || !*subRes.Success {
		return fmt.Errorf("homeassistant: subscription rejected: %s", messageOrType(subRes))
	}
	return nil
}

// NextStateChange blocks until the next state_changed event, skipping
// everything else on the stream.
func (s *haSocket) NextStateChange() (*stateChange, error) {
	for {
		var msg wsServerMessage
		if err := s.readMessage(&msg); err != nil {
			return nil, err
		}
		if msg.Type != "event" || msg.Event == nil || msg.Event.EventType != "state_changed" {
			continue
		}
		change := &stateChange{
			EntityID:  msg.Event.Data.EntityID,
			NewState:  msg.Event.Data.NewState,
			TimeFired: time.Now(),
		}
		if t, err := time.Parse(time.RFC3339Nano, msg.Event.TimeFired); err == nil {
			change.TimeFired = t
		}
		return change, nil
	}
}

func (s *haSocket) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		err = s.conn.Close()
	})
	return err
}

func (s *haSocket) readMessage(out *wsServerMessage) error {
	if err := s.conn.SetReadDeadline(time.Now().Add(wsPongWait)); err != nil {
		return err
	}
	return s.conn.ReadJSON(out)
}

func (s *haSocket) writeJSON(v any) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.SetWriteDeadline(time.Now().Add(wsWriteWait)); err != nil {
		return err
	}
	return s.conn.WriteJSON(v)
}

func (s *haSocket) keepAlive() {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		}
	}
}

func messageOrType(msg wsServerMessage) string {
	if msg.Message != "" {
		return msg.Message
	}
	return msg.Type
}
