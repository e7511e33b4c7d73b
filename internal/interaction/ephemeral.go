package interaction

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// ephemeralTTL bounds how long an unjudged interaction survives.
	ephemeralTTL = 24 * time.Hour

	// sessionIndexLimit caps the per-session index so a chatty session
	// cannot grow a list without bound.
	sessionIndexLimit = 50
)

// ErrNotFound reports a missing (or already expired) interaction.
var ErrNotFound = errors.New("interaction not found")

// EphemeralStore keeps recent interactions in Redis. Records live under
// interaction:{session_id}:{interaction_id} with a 24h expiry, plus a
// newest-first per-session index under interactions:{session_id}.
type EphemeralStore struct {
	client *redis.Client
}

var _ Log = (*EphemeralStore)(nil)

// NewEphemeralStore wraps an existing Redis client.
func NewEphemeralStore(client *redis.Client) *EphemeralStore {
	return &EphemeralStore{client: client}
}

func interactionKey(sessionID, interactionID string) string {
	return fmt.Sprintf("interaction:%s:%s", sessionID, interactionID)
}

func sessionIndexKey(sessionID string) string {
	return "interactions:" + sessionID
}

func feedbackIndexKey(verdict Feedback, sessionID string) string {
	return fmt.Sprintf("feedback:%s:%s", verdict, sessionID)
}

// Put stores the interaction with the 24h expiry and pushes its ID onto
// the session index.
func (s *EphemeralStore) Put(ctx context.Context, in *Interaction) error {
	data, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("interaction: encode %s: %w", in.InteractionID, err)
	}
	if err := s.client.SetEx(ctx, interactionKey(in.SessionID, in.InteractionID), data, ephemeralTTL).Err(); err != nil {
		return fmt.Errorf("interaction: store %s: %w", in.InteractionID, err)
	}

	indexKey := sessionIndexKey(in.SessionID)
	if err := s.client.LPush(ctx, indexKey, in.InteractionID).Err(); err != nil {
		return fmt.Errorf("interaction: index push %s: %w", in.SessionID, err)
	}
	if err := s.client.LTrim(ctx, indexKey, 0, sessionIndexLimit-1).Err(); err != nil {
		return fmt.Errorf("interaction: index trim %s: %w", in.SessionID, err)
	}
	if err := s.client.Expire(ctx, indexKey, ephemeralTTL).Err(); err != nil {
		return fmt.Errorf("interaction: index expire %s: %w", in.SessionID, err)
	}
	return nil
}

// Get returns the stored interaction or ErrNotFound.
func (s *EphemeralStore) Get(ctx context.Context, sessionID, interactionID string) (*Interaction, error) {
	data, err := s.client.Get(ctx, interactionKey(sessionID, interactionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("interaction: get %s: %w", interactionID, err)
	}
	var in Interaction
	if err := json.Unmarshal(data, &in); err != nil {
		return nil, fmt.Errorf("interaction: decode %s: %w", interactionID, err)
	}
	return &in, nil
}

// Delete removes the interaction record. Deleting a missing record is
// not an error.
func (s *EphemeralStore) Delete(ctx context.Context, sessionID, interactionID string) error {
	if err := s.client.Del(ctx, interactionKey(sessionID, interactionID)).Err(); err != nil {
		return fmt.Errorf("interaction: delete %s: %w", interactionID, err)
	}
	return nil
}

// Persist rewrites the record with no expiry so it outlives the 24h
// bound. The record passed in carries the updated feedback verdict.
func (s *EphemeralStore) Persist(ctx context.Context, in *Interaction) error {
	data, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("interaction: encode %s: %w", in.InteractionID, err)
	}
	if err := s.client.Set(ctx, interactionKey(in.SessionID, in.InteractionID), data, 0).Err(); err != nil {
		return fmt.Errorf("interaction: persist %s: %w", in.InteractionID, err)
	}
	return nil
}

// MarkFeedback adds the interaction to the per-session verdict set.
// Thumbs-down sets expire with the ephemeral bound; thumbs-up sets stay
// as long as the promoted records they point at.
func (s *EphemeralStore) MarkFeedback(ctx context.Context, sessionID, interactionID string, verdict Feedback) error {
	key := feedbackIndexKey(verdict, sessionID)
	if err := s.client.SAdd(ctx, key, interactionID).Err(); err != nil {
		return fmt.Errorf("interaction: feedback index %s: %w", sessionID, err)
	}
	if verdict == FeedbackThumbsDown {
		if err := s.client.Expire(ctx, key, ephemeralTTL).Err(); err != nil {
			return fmt.Errorf("interaction: feedback index expire %s: %w", sessionID, err)
		}
	}
	return nil
}

// SessionIDs returns the interaction IDs logged for a session, newest
// first, up to the index cap.
func (s *EphemeralStore) SessionIDs(ctx context.Context, sessionID string) ([]string, error) {
	ids, err := s.client.LRange(ctx, sessionIndexKey(sessionID), 0, sessionIndexLimit-1).Result()
	if err != nil {
		return nil, fmt.Errorf("interaction: session index %s: %w", sessionID, err)
	}
	return ids, nil
}
