package interaction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/haasonsaas/switchboard/internal/observability"
)

// ErrInvalidFeedback reports a verdict outside thumbs_up/thumbs_down.
var ErrInvalidFeedback = errors.New("feedback must be thumbs_up or thumbs_down")

// negativeReason is the fixed reason recorded for thumbs-down rows.
const negativeReason = "User gave thumbs down"

// FeedbackService applies a user verdict to a logged interaction.
//
// thumbs_up: the record is copied into the durable store first, then the
// ephemeral copy loses its expiry, so a promoted interaction is never
// durable-missing while ephemeral-permanent. thumbs_down: the negative
// row is captured before the ephemeral record is deleted.
type FeedbackService struct {
	log     Log
	archive Archive
	metrics *observability.Metrics
	logger  *slog.Logger
}

// NewFeedbackService wires the two stores. archive may be nil when
// MySQL is not configured; verdicts still apply to the ephemeral store
// and the durable half is skipped with a warning.
func NewFeedbackService(log Log, archive Archive, metrics *observability.Metrics, logger *slog.Logger) *FeedbackService {
	if logger == nil {
		logger = slog.Default()
	}
	return &FeedbackService{
		log:     log,
		archive: archive,
		metrics: metrics,
		logger:  logger.With("component", "feedback"),
	}
}

// Apply records the verdict for the interaction. It returns the
// user-facing confirmation message, ErrNotFound when the interaction is
// missing or expired, or ErrInvalidFeedback for an unknown verdict.
func (f *FeedbackService) Apply(ctx context.Context, sessionID, interactionID string, verdict Feedback) (string, error) {
	if verdict != FeedbackThumbsUp && verdict != FeedbackThumbsDown {
		return "", ErrInvalidFeedback
	}

	in, err := f.log.Get(ctx, sessionID, interactionID)
	if err != nil {
		return "", err
	}
	in.Feedback = verdict

	switch verdict {
	case FeedbackThumbsUp:
		if f.archive != nil {
			if err := f.archive.SaveInteraction(ctx, in); err != nil {
				return "", fmt.Errorf("interaction: promote %s: %w", interactionID, err)
			}
		} else {
			f.logger.Warn("mysql not configured; thumbs_up kept only in redis", "interaction_id", interactionID)
		}
		if err := f.log.Persist(ctx, in); err != nil {
			return "", err
		}
	case FeedbackThumbsDown:
		if f.archive != nil {
			if err := f.archive.SaveNegativeFeedback(ctx, in, negativeReason); err != nil {
				return "", fmt.Errorf("interaction: record negative feedback %s: %w", interactionID, err)
			}
		} else {
			f.logger.Warn("mysql not configured; thumbs_down not archived", "interaction_id", interactionID)
		}
		if err := f.log.Delete(ctx, sessionID, interactionID); err != nil {
			return "", err
		}
	}

	if err := f.log.MarkFeedback(ctx, sessionID, interactionID, verdict); err != nil {
		// The verdict itself already took effect; the per-session index
		// is advisory.
		f.logger.Warn("failed to index feedback", "interaction_id", interactionID, "error", err)
	}

	if f.metrics != nil {
		f.metrics.Feedback.WithLabelValues(string(verdict)).Inc()
	}
	f.logger.Info("feedback recorded",
		"session_id", sessionID,
		"interaction_id", interactionID,
		"feedback", string(verdict),
	)

	if verdict == FeedbackThumbsUp {
		return "Feedback recorded. This interaction will be kept permanently.", nil
	}
	return "Feedback recorded. This interaction has been removed.", nil
}
