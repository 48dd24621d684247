// Package retry replays webhook deliveries whose processing failed.
package retry

import (
	"context"
	"time"

	"reconciler/internal/app/webhooks"
	"reconciler/internal/domain"
	"reconciler/internal/repository/retry_repo"

	"go.uber.org/zap"
)

type Replayer interface {
	Replay(ctx context.Context, task domain.RetryTask) webhooks.Result
}

type Config struct {
	Enabled        bool
	Interval       time.Duration
	BatchSize      int
	Backoff        Backoff
	AlertAttempts  int
	AttemptTimeout time.Duration
}

type Scheduler struct {
	db       domain.Database
	tasks    retry_repo.RetryTaskRepository
	replayer Replayer
	cfg      Config
	now      func() time.Time
	logger   *zap.Logger
}

func NewScheduler(db domain.Database, tasks retry_repo.RetryTaskRepository, replayer Replayer, cfg Config, logger *zap.Logger) *Scheduler {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = 30 * time.Second
	}
	return &Scheduler{
		db:       db,
		tasks:    tasks,
		replayer: replayer,
		cfg:      cfg,
		now:      time.Now,
		logger:   logger,
	}
}

func (s *Scheduler) WithClock(now func() time.Time) *Scheduler {
	s.now = now
	return s
}

// Start blocks until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	if !s.cfg.Enabled {
		s.logger.Info("Retry scheduler disabled")
		return
	}
	s.logger.Info("Retry scheduler started", zap.Duration("interval", s.cfg.Interval))
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Retry scheduler stopped")
			return
		case <-ticker.C:
			if _, err := s.RunOnce(ctx); err != nil {
				s.logger.Error("Retry sweep failed", zap.Error(err))
			}
		}
	}
}

// RunOnce replays one batch of due tasks and returns how many were
// completed.
func (s *Scheduler) RunOnce(ctx context.Context) (int, error) {
	now := s.now()
	lease := s.cfg.AttemptTimeout * time.Duration(s.cfg.BatchSize)

	var due []domain.RetryTask
	err := s.db.RunInTx(ctx, func(q domain.Querier) error {
		var err error
		due, err = s.tasks.ClaimDueTx(ctx, q, now, lease, s.cfg.BatchSize)
		return err
	})
	if err != nil {
		return 0, err
	}
	if len(due) == 0 {
		s.logger.Debug("No due retry tasks")
		return 0, nil
	}
	s.logger.Info("Replaying due retry tasks", zap.Int("count", len(due)))

	completed := 0
	for i := range due {
		if ctx.Err() != nil {
			return completed, ctx.Err()
		}
		if s.attempt(ctx, &due[i]) {
			completed++
		}
	}
	return completed, nil
}

func (s *Scheduler) attempt(ctx context.Context, task *domain.RetryTask) bool {
	logger := s.logger.With(
		zap.String("retry_task_id", task.ID),
		zap.String("provider", string(task.Provider)),
		zap.Int("attempt", task.AttemptCount+1),
	)

	attemptCtx, cancel := context.WithTimeout(ctx, s.cfg.AttemptTimeout)
	res := s.replayer.Replay(attemptCtx, *task)
	cancel()

	now := s.now()
	done := res.Final()
	lastError := ""
	if res.Outcome != webhooks.OutcomeProcessed && res.Outcome != webhooks.OutcomeIgnored {
		lastError = res.Message()
	}
	task.RecordAttempt(done, lastError, now.Add(s.cfg.Backoff.Next(task.AttemptCount+1)), now)

	if err := s.tasks.UpdateTx(ctx, s.db, task); err != nil {
		logger.Error("Failed to update retry task", zap.Error(err))
		return false
	}

	if done {
		logger.Info("Retry task completed", zap.String("outcome", string(res.Outcome)))
		return true
	}

	logger.Warn("Retry attempt failed",
		zap.Time("next_attempt_at", task.NextAttemptAt),
		zap.Error(res.Err))
	if s.cfg.AlertAttempts > 0 && task.AttemptCount == s.cfg.AlertAttempts {
		logger.Error("Retry task exceeded alert threshold, manual attention required",
			zap.Int("attempt_count", task.AttemptCount),
			zap.String("last_error", task.LastError))
	}
	return false
}
