package escalation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Purger deletes idempotency ledger entries older than a cutoff.
type Purger interface {
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// Start schedules Sweep on the cron spec (standard five-field or "@every"
// descriptors). A sweep still running when the next one is due is skipped.
// When purger is non-nil and retention positive, ledger entries older than
// retention are deleted daily. The returned function stops the schedule and
// waits for a running sweep to finish.
func (s *Sweeper) Start(ctx context.Context, spec string, purger Purger, retention time.Duration) (func(), error) {
	if spec == "" {
		spec = DefaultSchedule
	}
	logger := cronLogger{s.cfg.Logger}
	c := cron.New(cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)))

	if _, err := c.AddFunc(spec, func() {
		if _, err := s.Sweep(ctx); err != nil {
			s.cfg.Logger.ErrorContext(ctx, "escalation sweep failed", slog.String("error", err.Error()))
		}
	}); err != nil {
		return nil, fmt.Errorf("invalid escalation schedule %q: %w", spec, err)
	}

	if purger != nil && retention > 0 {
		if _, err := c.AddFunc("@daily", func() {
			cutoff := s.cfg.Now().Add(-retention)
			n, err := purger.DeleteOlderThan(ctx, cutoff)
			if err != nil {
				s.cfg.Logger.ErrorContext(ctx, "idempotency purge failed", slog.String("error", err.Error()))
				return
			}
			s.cfg.Logger.InfoContext(ctx, "idempotency ledger purged", slog.Int64("deleted", n))
		}); err != nil {
			return nil, err
		}
	}

	c.Start()
	s.cfg.Logger.InfoContext(ctx, "escalation sweep scheduled", slog.String("schedule", spec))

	return func() {
		<-c.Stop().Done()
		s.cfg.Logger.Info("escalation sweep stopped")
	}, nil
}

// cronLogger routes robfig/cron's logging into slog.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error(msg, append(keysAndValues, "error", err)...)
}
