package webhooks

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"reconciler/internal/domain"
	"reconciler/internal/repository/audit_repo"
	"reconciler/internal/repository/inbox_repo"
	"reconciler/internal/repository/payments_repo"
	"reconciler/internal/repository/retry_repo"
	"reconciler/internal/signature"
	"reconciler/internal/util"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

type EventPublisher interface {
	PublishSuccess(ctx context.Context, event domain.PaymentSucceededEvent)
	PublishFailure(ctx context.Context, event domain.PaymentFailedEvent)
}

type Notifier interface {
	NotifyPaymentSucceeded(ctx context.Context, payment *domain.Payment) error
}

type Locker interface {
	// TryLock returns the token that identifies this holder.
	TryLock(ctx context.Context, eventID string, ttl time.Duration) (token string, acquired bool, err error)
	// Unlock releases the lock only if token still owns it.
	Unlock(ctx context.Context, eventID, token string) error
}

type Admission interface {
	TryConsume(key string) bool
}

// errNoCommit aborts a transaction whose outcome is already decided.
var errNoCommit = errors.New("no commit")

type Service struct {
	db        domain.Database
	payments  payments_repo.PaymentRepository
	inbox     inbox_repo.InboxRepository
	retries   retry_repo.RetryTaskRepository
	audit     audit_repo.AuditRepository
	publisher EventPublisher
	adapters  map[domain.Provider]ProviderAdapter
	validate  *validator.Validate
	logger    *zap.Logger

	notifier  Notifier
	locker    Locker
	lockTTL   time.Duration
	admission Admission
	now       func() time.Time
}

func NewService(
	db domain.Database,
	payments payments_repo.PaymentRepository,
	inbox inbox_repo.InboxRepository,
	retries retry_repo.RetryTaskRepository,
	audit audit_repo.AuditRepository,
	publisher EventPublisher,
	adapters []ProviderAdapter,
	logger *zap.Logger,
) *Service {
	byProvider := make(map[domain.Provider]ProviderAdapter, len(adapters))
	for _, a := range adapters {
		byProvider[a.Provider()] = a
	}
	return &Service{
		db:        db,
		payments:  payments,
		inbox:     inbox,
		retries:   retries,
		audit:     audit,
		publisher: publisher,
		adapters:  byProvider,
		validate:  validator.New(),
		logger:    logger,
		now:       time.Now,
	}
}

func (s *Service) WithNotifier(n Notifier) *Service {
	s.notifier = n
	return s
}

func (s *Service) WithLocker(l Locker, ttl time.Duration) *Service {
	s.locker = l
	s.lockTTL = ttl
	return s
}

func (s *Service) WithAdmission(a Admission) *Service {
	s.admission = a
	return s
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

func RouteKey(provider domain.Provider) string {
	return strings.ToLower(string(provider)) + "-webhook"
}

// Ingest handles a live delivery. Transient failures are persisted as retry
// tasks before returning.
func (s *Service) Ingest(ctx context.Context, provider domain.Provider, payload []byte, sig string) Result {
	adapter, ok := s.adapters[provider]
	if !ok {
		return Result{Outcome: OutcomeMalformed, Err: fmt.Errorf("%w: %s", domain.ErrUnsupportedProvider, provider)}
	}
	if s.admission != nil && !s.admission.TryConsume(RouteKey(provider)) {
		s.logger.Warn("Webhook rejected by rate limiter", zap.String("provider", string(provider)))
		return Result{Outcome: OutcomeRateLimited}
	}

	res := s.process(ctx, adapter, payload, sig, signature.ModeLive)
	if res.Outcome != OutcomeTransientFailure {
		return res
	}

	task := domain.NewRetryTask(util.GenerateUUID(), provider, payload, sig, res.Message(), s.now())
	if err := s.retries.CreateTx(ctx, s.db, task); err != nil {
		s.logger.Error("Failed to persist retry task",
			zap.String("provider", string(provider)),
			zap.String("event_id", res.EventID),
			zap.Error(err))
		res.Err = errors.Join(res.Err, err)
		return res
	}
	s.logger.Warn("Webhook processing failed, retry scheduled",
		zap.String("provider", string(provider)),
		zap.String("event_id", res.EventID),
		zap.String("retry_task_id", task.ID),
		zap.Error(res.Err))
	res.Outcome = OutcomeRetryScheduled
	res.RetryTaskID = task.ID
	return res
}

// Replay re-runs a stored delivery. It never creates retry tasks.
func (s *Service) Replay(ctx context.Context, task domain.RetryTask) Result {
	adapter, ok := s.adapters[task.Provider]
	if !ok {
		return Result{Outcome: OutcomeMalformed, Err: fmt.Errorf("%w: %s", domain.ErrUnsupportedProvider, task.Provider)}
	}
	return s.process(ctx, adapter, task.Payload, task.Signature, signature.ModeReplay)
}

func (s *Service) process(ctx context.Context, adapter ProviderAdapter, payload []byte, sig string, mode signature.Mode) Result {
	provider := adapter.Provider()
	logger := s.logger.With(zap.String("provider", string(provider)))

	if !adapter.VerifySignature(payload, sig, mode) {
		logger.Warn("Webhook signature verification failed")
		return Result{Outcome: OutcomeInvalidSignature, Err: domain.ErrInvalidSignature}
	}

	event, err := adapter.ParseEvent(payload)
	if err != nil {
		logger.Warn("Malformed webhook payload", zap.Error(err))
		return Result{Outcome: OutcomeMalformed, Err: err}
	}
	res := Result{EventID: event.EventID, OrderID: event.OrderID}
	logger = logger.With(zap.String("event_id", event.EventID), zap.String("event_type", event.Type))

	if event.Action == ActionIgnore {
		logger.Info("Ignoring webhook event with no payment transition")
		res.Outcome = OutcomeIgnored
		return res
	}
	if err := s.validate.Struct(event); err != nil {
		logger.Warn("Webhook event failed validation", zap.Error(err))
		res.Outcome = OutcomeMalformed
		res.Err = fmt.Errorf("%w: %v", domain.ErrMalformedPayload, err)
		return res
	}
	logger = logger.With(zap.String("order_id", event.OrderID))

	exists, err := s.inbox.ExistsTx(ctx, s.db, event.EventID)
	if err != nil {
		res.Outcome = OutcomeTransientFailure
		res.Err = err
		return res
	}
	if exists {
		logger.Info("Duplicate webhook event")
		res.Outcome = OutcomeDuplicate
		res.Err = domain.ErrEventAlreadyProcessed
		return res
	}

	if s.locker != nil {
		token, acquired, err := s.locker.TryLock(ctx, event.EventID, s.lockTTL)
		switch {
		case err != nil:
			logger.Warn("Event lock unavailable, continuing without it", zap.Error(err))
		case !acquired:
			logger.Info("Webhook event already in flight")
			res.Outcome = OutcomeDuplicate
			res.Err = domain.ErrEventAlreadyProcessed
			return res
		default:
			defer func() {
				if err := s.locker.Unlock(context.WithoutCancel(ctx), event.EventID, token); err != nil {
					logger.Warn("Failed to release event lock", zap.Error(err))
				}
			}()
		}
	}

	return s.apply(ctx, provider, event, res, logger)
}

func (s *Service) apply(ctx context.Context, provider domain.Provider, event *ParsedEvent, res Result, logger *zap.Logger) Result {
	now := s.now()
	var payment *domain.Payment

	err := s.db.RunInTx(ctx, func(q domain.Querier) error {
		recorded, err := s.inbox.RecordTx(ctx, q, &domain.ProcessedEvent{
			EventID:     event.EventID,
			Provider:    provider,
			ProcessedAt: now,
		})
		if err != nil {
			return err
		}
		if !recorded {
			res.Outcome = OutcomeDuplicate
			res.Err = domain.ErrEventAlreadyProcessed
			return errNoCommit
		}

		p, err := s.payments.GetByOrderIDForUpdateTx(ctx, q, event.OrderID)
		if errors.Is(err, domain.ErrPaymentNotFound) {
			res.Outcome = OutcomeNotFound
			res.Err = err
			return errNoCommit
		}
		if err != nil {
			return err
		}

		if p.Status.IsTerminal() {
			res.Outcome = OutcomeIgnored
			return nil
		}

		if err := p.TransitionTo(event.targetStatus(), now); err != nil {
			return err
		}
		if event.ExternalPaymentID != "" {
			p.ExternalPaymentID = event.ExternalPaymentID
		}
		if err := s.payments.UpdateTx(ctx, q, p); err != nil {
			return err
		}

		action := domain.AuditActionSucceeded
		details := event.Type
		if p.Status == domain.PaymentStatusFailed {
			action = domain.AuditActionFailed
			details = event.FailureReason
		}
		if err := s.audit.CreateTx(ctx, q, domain.NewAuditLogEntry(util.GenerateUUID(), p, action, details, now)); err != nil {
			return err
		}

		payment = p
		res.Outcome = OutcomeProcessed
		return nil
	})
	if err != nil && !errors.Is(err, errNoCommit) {
		logger.Error("Webhook processing failed", zap.Error(err))
		return Result{Outcome: OutcomeTransientFailure, EventID: res.EventID, OrderID: res.OrderID, Err: err}
	}

	switch res.Outcome {
	case OutcomeProcessed:
		logger.Info("Payment status updated from webhook", zap.String("status", string(payment.Status)))
		s.announce(ctx, payment, event.FailureReason, now, logger)
	case OutcomeIgnored:
		logger.Info("Payment already in terminal state, webhook ignored")
	case OutcomeNotFound:
		logger.Warn("No payment matches webhook order id")
		s.publisher.PublishFailure(ctx, domain.PaymentFailedEvent{
			OrderID:       event.OrderID,
			Provider:      provider,
			FailureReason: domain.DetailsNoMatchingPayment,
			Timestamp:     now,
		})
	case OutcomeDuplicate:
		logger.Info("Duplicate webhook event")
	}
	return res
}

func (s *Service) announce(ctx context.Context, p *domain.Payment, reason string, now time.Time, logger *zap.Logger) {
	if p.Status == domain.PaymentStatusFailed {
		s.publisher.PublishFailure(ctx, domain.PaymentFailedEvent{
			OrderID:       p.OrderID,
			UserID:        p.UserID,
			Provider:      p.Provider,
			FailureReason: reason,
			Timestamp:     now,
		})
		return
	}

	s.publisher.PublishSuccess(ctx, domain.PaymentSucceededEvent{
		OrderID:           p.OrderID,
		Status:            p.Status,
		PaymentProvider:   p.Provider,
		ExternalPaymentID: p.ExternalPaymentID,
	})
	if s.notifier != nil {
		if err := s.notifier.NotifyPaymentSucceeded(ctx, p); err != nil {
			logger.Warn("Payment notification failed", zap.Error(err))
		}
	}
}
