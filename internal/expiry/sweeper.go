// Package expiry fails payments that never received a payment link.
package expiry

import (
	"context"
	"time"

	"reconciler/internal/domain"
	"reconciler/internal/repository/audit_repo"
	"reconciler/internal/repository/payments_repo"
	"reconciler/internal/util"

	"go.uber.org/zap"
)

type FailurePublisher interface {
	PublishFailure(ctx context.Context, event domain.PaymentFailedEvent)
}

type Config struct {
	Enabled   bool
	Interval  time.Duration
	Cutoff    time.Duration
	BatchSize int
}

type Sweeper struct {
	db        domain.Database
	payments  payments_repo.PaymentRepository
	audit     audit_repo.AuditRepository
	publisher FailurePublisher
	cfg       Config
	now       func() time.Time
	logger    *zap.Logger
}

func NewSweeper(db domain.Database, payments payments_repo.PaymentRepository, audit audit_repo.AuditRepository, publisher FailurePublisher, cfg Config, logger *zap.Logger) *Sweeper {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 500
	}
	return &Sweeper{
		db:        db,
		payments:  payments,
		audit:     audit,
		publisher: publisher,
		cfg:       cfg,
		now:       time.Now,
		logger:    logger,
	}
}

func (s *Sweeper) WithClock(now func() time.Time) *Sweeper {
	s.now = now
	return s
}

func (s *Sweeper) Start(ctx context.Context) {
	if !s.cfg.Enabled {
		s.logger.Info("Payment expiry sweeper disabled")
		return
	}
	s.logger.Info("Payment expiry sweeper started",
		zap.Duration("interval", s.cfg.Interval),
		zap.Duration("cutoff", s.cfg.Cutoff))
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Payment expiry sweeper stopped")
			return
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil {
				s.logger.Error("Payment expiry sweep failed", zap.Error(err))
			}
		}
	}
}

// Sweep fails every INITIATED payment created at or before now minus the
// cutoff, paging through the backlog BatchSize rows at a time. Each payment is
// re-read under lock so that a concurrent webhook wins over expiry.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	now := s.now()
	cutoff := now.Add(-s.cfg.Cutoff)

	expired := 0
	// Rows that could not be expired stay INITIATED and come back in the
	// next page; they are remembered so the sweep still terminates.
	failed := make(map[string]bool)
	for {
		if err := ctx.Err(); err != nil {
			return expired, err
		}
		page, err := s.payments.ListByStatusCreatedBeforeTx(ctx, s.db, domain.PaymentStatusInitiated, cutoff, s.cfg.BatchSize)
		if err != nil {
			return expired, err
		}

		progressed := false
		for _, candidate := range page {
			if failed[candidate.ID] {
				continue
			}
			ok, err := s.expire(ctx, candidate, cutoff, now)
			if err != nil {
				failed[candidate.ID] = true
				continue
			}
			progressed = true
			if ok {
				expired++
			}
		}

		if len(page) < s.cfg.BatchSize || !progressed {
			break
		}
	}

	if expired > 0 || len(failed) > 0 {
		s.logger.Info("Payment expiry sweep finished", zap.Int("expired", expired), zap.Int("failed", len(failed)))
	}
	return expired, nil
}

// expire reports false when the payment changed since it was listed.
func (s *Sweeper) expire(ctx context.Context, candidate domain.Payment, cutoff, now time.Time) (bool, error) {
	logger := s.logger.With(zap.String("order_id", candidate.OrderID), zap.String("payment_id", candidate.ID))

	var payment *domain.Payment
	err := s.db.RunInTx(ctx, func(q domain.Querier) error {
		p, err := s.payments.GetByIDForUpdateTx(ctx, q, candidate.ID)
		if err != nil {
			return err
		}
		if p.Status != domain.PaymentStatusInitiated || p.CreatedAt.After(cutoff) {
			return nil
		}
		if err := p.TransitionTo(domain.PaymentStatusFailed, now); err != nil {
			return err
		}
		if err := s.payments.UpdateTx(ctx, q, p); err != nil {
			return err
		}
		entry := domain.NewAuditLogEntry(util.GenerateUUID(), p, domain.AuditActionFailed, domain.DetailsAutoExpired, now)
		if err := s.audit.CreateTx(ctx, q, entry); err != nil {
			return err
		}
		payment = p
		return nil
	})
	if err != nil {
		logger.Error("Failed to expire payment", zap.Error(err))
		return false, err
	}
	if payment == nil {
		logger.Debug("Payment changed since listing, skipped")
		return false, nil
	}

	logger.Info("Payment auto-expired")
	if s.publisher != nil {
		s.publisher.PublishFailure(ctx, domain.PaymentFailedEvent{
			OrderID:       payment.OrderID,
			UserID:        payment.UserID,
			Provider:      payment.Provider,
			FailureReason: domain.DetailsAutoExpired,
			Timestamp:     now,
		})
	}
	return true, nil
}
