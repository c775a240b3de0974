package app

import (
	"context"
	"log/slog"
	"time"
)

// StatsSource exposes lifecycle counters.
type StatsSource interface {
	Stats() Stats
}

// StatusReporter periodically logs engine counters. It runs independently
// of the lifecycle and never touches order state.
type StatusReporter struct {
	source   StatsSource
	interval time.Duration
	logger   *slog.Logger
	last     Stats
}

func NewStatusReporter(source StatsSource, interval time.Duration, logger *slog.Logger) *StatusReporter {
	if interval <= 0 {
		interval = time.Minute
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &StatusReporter{source: source, interval: interval, logger: logger}
}

// Run reports until ctx is cancelled.
func (r *StatusReporter) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			r.Report(ctx)
		}
	}
}

// Report logs the current counters and returns them.
func (r *StatusReporter) Report(ctx context.Context) Stats {
	s := r.source.Stats()
	r.logger.LogAttrs(ctx, slog.LevelInfo, "engine_status",
		slog.Int64("created", s.Created),
		slog.Int64("delivered", s.Delivered),
		slog.Int64("rejected", s.Rejected),
		slog.Int64("decided_since_last", (s.Delivered+s.Rejected)-(r.last.Delivered+r.last.Rejected)),
		slog.Int64("lost_races", s.LostRaces),
		slog.Int64("recovered_writes", s.RecoveredWrites),
		slog.Int64("notification_failures", s.NotificationFailures),
	)
	r.last = s
	return s
}
