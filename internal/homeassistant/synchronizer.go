package homeassistant

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/haasonsaas/switchboard/internal/backoff"
	"github.com/haasonsaas/switchboard/internal/observability"
	"github.com/haasonsaas/switchboard/internal/tools"
)

// ErrNotConfigured is returned by every synchronizer operation when no
// Home Assistant URL or token was supplied at startup. It wraps
// tools.ErrUnavailable so the dispatcher classifies it.
var ErrNotConfigured = fmt.Errorf("home assistant is not configured: %w", tools.ErrUnavailable)

const (
	defaultSettleDelay   = 500 * time.Millisecond
	defaultReconnectWait = 5 * time.Second
)

// Health is the synchronizer's connection state as reported by
// GET /health.
type Health int32

const (
	// HealthNotConfigured means no URL or token was supplied; the
	// state is permanent for the life of the process.
	HealthNotConfigured Health = iota
	// HealthConfigured means REST is usable but the event socket has
	// not connected yet.
	HealthConfigured
	// HealthConnected means the event subscription is live.
	HealthConnected
	// HealthDisconnected means the socket dropped; the supervisor is
	// reconnecting and reads fall through to REST.
	HealthDisconnected
)

func (h Health) String() string {
	switch h {
	case HealthConfigured:
		return "configured"
	case HealthConnected:
		return "connected"
	case HealthDisconnected:
		return "disconnected"
	default:
		return "not_configured"
	}
}

// Synchronizer maintains the local read model of Home Assistant: a
// WebSocket subscription feeds the cache, REST fills misses and
// carries writes, and a write-through invalidation keeps readers from
// seeing pre-write state after a successful command.
type Synchronizer struct {
	client  *Client
	cache   StateCache
	logger  *slog.Logger
	metrics *observability.Metrics

	settle    time.Duration
	reconnect backoff.Policy
	dial      func(ctx context.Context) (eventSource, error)

	health atomic.Int32
	cancel context.CancelFunc
	done   chan struct{}
}

// NewSynchronizer wires the read model. A nil client puts the
// synchronizer into the permanent not_configured state in which every
// operation returns ErrNotConfigured.
func NewSynchronizer(client *Client, cache StateCache, logger *slog.Logger, metrics *observability.Metrics) *Synchronizer {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Synchronizer{
		client:    client,
		cache:     cache,
		logger:    logger.With("component", "ha_synchronizer"),
		metrics:   metrics,
		settle:    defaultSettleDelay,
		reconnect: backoff.Fixed(defaultReconnectWait),
	}
	s.dial = func(ctx context.Context) (eventSource, error) {
		return dialSocket(ctx, client.WebSocketURL(), client.token)
	}
	return s
}

// Configured reports whether a Home Assistant endpoint was supplied.
func (s *Synchronizer) Configured() bool { return s.client != nil }

// Health returns the current connection state.
func (s *Synchronizer) Health() Health {
	if s.client == nil {
		return HealthNotConfigured
	}
	return Health(s.health.Load())
}

// CacheBackend names the active cache implementation for /health.
func (s *Synchronizer) CacheBackend() string { return s.cache.Backend() }

// Start launches the event supervisor. It returns immediately; the
// supervisor reconnects on a fixed cadence until the context is
// cancelled or Stop is called.
func (s *Synchronizer) Start(ctx context.Context) {
	if s.client == nil {
		s.logger.Warn("home assistant not configured; device tools disabled")
		return
	}
	s.health.Store(int32(HealthConfigured))

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.supervise(runCtx)
}

// Stop tears down the event socket and waits for the supervisor to
// exit. Safe to call when Start never ran.
func (s *Synchronizer) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
}

func (s *Synchronizer) supervise(ctx context.Context) {
	defer close(s.done)
	attempt := 0
	for {
		src, err := s.dial(ctx)
		if err != nil {
			s.health.Store(int32(HealthDisconnected))
			if ctx.Err() != nil {
				return
			}
			attempt++
			delay := s.reconnect.Delay(attempt)
			s.logger.Warn("event socket connect failed", "error", err, "retry_in", delay)
			s.metrics.WSReconnects.Inc()
			if backoff.Sleep(ctx, delay) != nil {
				return
			}
			continue
		}

		s.health.Store(int32(HealthConnected))
		s.logger.Info("subscribed to state_changed events")
		attempt = 0

		// The socket read blocks on the wire, so context cancellation
		// has to reach it through Close.
		readerDone := make(chan struct{})
		go func() {
			select {
			case <-ctx.Done():
				_ = src.Close()
			case <-readerDone:
			}
		}()

		err = s.pump(ctx, src)
		close(readerDone)
		_ = src.Close()
		s.health.Store(int32(HealthDisconnected))
		if ctx.Err() != nil {
			return
		}

		attempt++
		delay := s.reconnect.Delay(attempt)
		s.logger.Warn("event socket dropped", "error", err, "retry_in", delay)
		s.metrics.WSReconnects.Inc()
		if backoff.Sleep(ctx, delay) != nil {
			return
		}
	}
}

func (s *Synchronizer) pump(ctx context.Context, src eventSource) error {
	for {
		change, err := src.NextStateChange()
		if err != nil {
			return err
		}
		s.applyEvent(ctx, change)
	}
}

// applyEvent is the event-sourced cache path: the only writer that
// moves an entry forward without a paired REST fetch.
func (s *Synchronizer) applyEvent(ctx context.Context, change *stateChange) {
	if change == nil || change.EntityID == "" {
		return
	}
	if change.NewState == nil {
		// Entity removed upstream; evict rather than hold a ghost.
		if err := s.cache.Invalidate(ctx, change.EntityID); err != nil {
			s.metrics.CacheInvalidationErrors.Inc()
			s.logger.Error("evict removed entity", "entity_id", change.EntityID, "error", err)
		}
		return
	}
	change.NewState.FetchedAt = change.TimeFired
	if err := s.cache.Put(ctx, change.NewState); err != nil {
		s.logger.Warn("cache state event", "entity_id", change.EntityID, "error", err)
	}
}

// GetState returns an entity, serving from cache when a fresh entry
// exists and falling through to REST otherwise.
func (s *Synchronizer) GetState(ctx context.Context, entityID string) (*Entity, error) {
	if s.client == nil {
		return nil, ErrNotConfigured
	}

	ent, ok, err := s.cache.Get(ctx, entityID)
	switch {
	case err != nil:
		s.metrics.CacheMisses.Inc()
		s.logger.Warn("cache read", "entity_id", entityID, "error", err)
	case ok:
		s.metrics.CacheHits.Inc()
		return ent, nil
	default:
		s.metrics.CacheMisses.Inc()
	}

	ent, err = s.client.State(ctx, entityID)
	if err != nil {
		return nil, err
	}
	if err := s.cache.Put(ctx, ent); err != nil {
		s.logger.Warn("cache fetched state", "entity_id", entityID, "error", err)
	}
	return ent, nil
}

// ListStates bulk-fetches all entities over REST, caches each one, and
// applies the domain and fuzzy name filters in memory.
func (s *Synchronizer) ListStates(ctx context.Context, domain, nameFilter string) ([]*Entity, error) {
	if s.client == nil {
		return nil, ErrNotConfigured
	}

	states, err := s.client.States(ctx)
	if err != nil {
		return nil, err
	}

	matched := make([]*Entity, 0, len(states))
	for _, ent := range states {
		if err := s.cache.Put(ctx, ent); err != nil {
			s.logger.Warn("cache listed state", "entity_id", ent.EntityID, "error", err)
		}
		if domain != "" && ent.Domain() != domain {
			continue
		}
		matched = append(matched, ent)
	}
	if nameFilter != "" {
		matched = MatchEntities(nameFilter, matched)
	}
	return matched, nil
}

// CallService executes a write: REST service call, immediate cache
// invalidation, a bounded settle wait for HA to apply the change, then
// a refetch that recaches the post-write state. If the settle or
// refetch fails the entry stays invalidated, so the next read is
// guaranteed fresh.
func (s *Synchronizer) CallService(ctx context.Context, domain, service, entityID string, extra map[string]any) (*Entity, error) {
	if s.client == nil {
		return nil, ErrNotConfigured
	}

	payload := map[string]any{"entity_id": entityID}
	for k, v := range extra {
		payload[k] = v
	}
	if err := s.client.CallService(ctx, domain, service, payload); err != nil {
		return nil, err
	}

	if err := s.cache.Invalidate(ctx, entityID); err != nil {
		s.metrics.CacheInvalidationErrors.Inc()
		s.logger.Error("cache invalidation failed", "entity_id", entityID, "error", err)
	}

	if err := backoff.Sleep(ctx, s.settle); err != nil {
		return nil, err
	}

	ent, err := s.client.State(ctx, entityID)
	if err != nil {
		return nil, fmt.Errorf("refetch after %s.%s: %w", domain, service, err)
	}
	if err := s.cache.Put(ctx, ent); err != nil {
		s.logger.Warn("cache refetched state", "entity_id", entityID, "error", err)
	}
	return ent, nil
}
