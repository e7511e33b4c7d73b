package interaction

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

var cronParser = cron.NewParser(
	cron.SecondOptional |
		cron.Minute |
		cron.Hour |
		cron.Dom |
		cron.Month |
		cron.Dow |
		cron.Descriptor,
)

// StatsAggregator rolls the previous day's feedback into feedback_stats
// on a cron schedule. It runs inside the orchestrator process and is
// only constructed when MySQL is configured.
type StatsAggregator struct {
	store    *DurableStore
	schedule cron.Schedule
	logger   *slog.Logger
	now      func() time.Time

	cancel context.CancelFunc
	done   chan struct{}
}

// NewStatsAggregator parses spec (robfig cron syntax, descriptors like
// @daily included; empty means @daily) and prepares the aggregator.
func NewStatsAggregator(store *DurableStore, spec string, logger *slog.Logger) (*StatsAggregator, error) {
	if store == nil {
		return nil, fmt.Errorf("interaction: stats aggregator needs a durable store")
	}
	spec = strings.TrimSpace(spec)
	if spec == "" {
		spec = "@daily"
	}
	schedule, err := cronParser.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("interaction: invalid stats schedule %q: %w", spec, err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &StatsAggregator{
		store:    store,
		schedule: schedule,
		logger:   logger.With("component", "stats"),
		now:      time.Now,
		done:     make(chan struct{}),
	}, nil
}

// Start launches the scheduler goroutine.
func (a *StatsAggregator) Start(ctx context.Context) {
	ctx, a.cancel = context.WithCancel(ctx)
	go a.run(ctx)
}

// Stop cancels the scheduler and waits for it to exit.
func (a *StatsAggregator) Stop() {
	if a.cancel == nil {
		return
	}
	a.cancel()
	<-a.done
}

func (a *StatsAggregator) run(ctx context.Context) {
	defer close(a.done)
	for {
		next := a.schedule.Next(a.now())
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		if err := a.RunOnce(ctx); err != nil {
			a.logger.Error("stats aggregation failed", "error", err)
		}
	}
}

// RunOnce aggregates the previous calendar day and upserts its row.
// Rerunning for the same day replaces the row (date-unique key), so a
// crashed or doubled run cannot double-count.
func (a *StatsAggregator) RunOnce(ctx context.Context) error {
	day := a.now().AddDate(0, 0, -1)
	stats, err := a.store.CollectDailyStats(ctx, day)
	if err != nil {
		return err
	}
	if err := a.store.UpsertDailyStats(ctx, stats); err != nil {
		return err
	}
	a.logger.Info("daily stats aggregated",
		"date", stats.Date.Format("2006-01-02"),
		"total", stats.TotalInteractions,
		"thumbs_up", stats.ThumbsUp,
		"thumbs_down", stats.ThumbsDown,
	)
	return nil
}
