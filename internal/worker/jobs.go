package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/helpdesk-labs/support-chat/internal/observability"
	"github.com/helpdesk-labs/support-chat/internal/service"
)

// PresenceSweepJob evicts stale presence records.
func PresenceSweepJob(tracker *service.PresenceTracker, interval time.Duration) Job {
	return Job{
		Name:     "presence-sweep",
		Interval: interval,
		Run: func(ctx context.Context) {
			tracker.Sweep(ctx)
		},
	}
}

// LimiterPurgeJob drops limiter state for identities idle longer than maxIdle.
func LimiterPurgeJob(messages *service.MessageAuthorizer, tracker *service.PresenceTracker, interval, maxIdle time.Duration, logger *zap.Logger) Job {
	return Job{
		Name:     "limiter-purge",
		Interval: interval,
		Run: func(context.Context) {
			removed := messages.PurgeIdle() + tracker.PurgeLimiter(maxIdle)
			if removed > 0 {
				logger.Debug("limiter state purged", zap.Int("keys", removed))
			}
		},
	}
}

// StatsJob logs connection counts and metric counters.
func StatsJob(connections func() int, online func() int, metrics *observability.Metrics, interval time.Duration, logger *zap.Logger) Job {
	return Job{
		Name:     "stats",
		Interval: interval,
		Run: func(context.Context) {
			logger.Info("realtime stats",
				zap.Int("connections", connections()),
				zap.Int("online", online()),
				zap.Any("metrics", metrics.Snapshot()))
		},
	}
}
