package payments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"reconciler/internal/domain"
	"reconciler/internal/gateway"
	"reconciler/internal/repository/audit_repo"
	"reconciler/internal/repository/payments_repo"
	"reconciler/internal/util"

	"go.uber.org/zap"
)

type CreateLinkRequest struct {
	OrderID     string
	UserID      string
	UserEmail   string
	Provider    domain.Provider
	Amount      int64
	Currency    string
	Description string
}

type PaymentService interface {
	CreatePaymentLink(ctx context.Context, req CreateLinkRequest) (*domain.Payment, *gateway.LinkResult, error)
	GetPayment(ctx context.Context, orderID string) (*domain.Payment, error)
	Rollback(ctx context.Context, orderID, reason string) (*domain.Payment, error)
}

type GatewayResolver interface {
	Get(provider domain.Provider) (gateway.PaymentGateway, error)
}

type FailurePublisher interface {
	PublishFailure(ctx context.Context, event domain.PaymentFailedEvent)
}

type paymentService struct {
	db          domain.Database
	paymentRepo payments_repo.PaymentRepository
	auditRepo   audit_repo.AuditRepository
	gateways    GatewayResolver
	publisher   FailurePublisher
	now         func() time.Time
	logger      *zap.Logger
}

func NewPaymentService(
	db domain.Database,
	paymentRepo payments_repo.PaymentRepository,
	auditRepo audit_repo.AuditRepository,
	gateways GatewayResolver,
	publisher FailurePublisher,
	logger *zap.Logger,
) PaymentService {
	return newPaymentService(db, paymentRepo, auditRepo, gateways, publisher, time.Now, logger)
}

func newPaymentService(
	db domain.Database,
	paymentRepo payments_repo.PaymentRepository,
	auditRepo audit_repo.AuditRepository,
	gateways GatewayResolver,
	publisher FailurePublisher,
	now func() time.Time,
	logger *zap.Logger,
) *paymentService {
	return &paymentService{
		db:          db,
		paymentRepo: paymentRepo,
		auditRepo:   auditRepo,
		gateways:    gateways,
		publisher:   publisher,
		now:         now,
		logger:      logger,
	}
}

// CreatePaymentLink records an INITIATED payment, asks the provider for a
// hosted link and moves the payment to LINK_CREATED. When the provider call
// fails the payment stays INITIATED and is later failed by the expiry sweep.
func (s *paymentService) CreatePaymentLink(ctx context.Context, req CreateLinkRequest) (*domain.Payment, *gateway.LinkResult, error) {
	gw, err := s.gateways.Get(req.Provider)
	if err != nil {
		return nil, nil, err
	}

	created := s.now()
	payment := domain.NewPayment(util.GenerateUUID(), req.OrderID, req.UserID, req.UserEmail, req.Provider, req.Amount, req.Currency, created)

	err = s.db.RunInTx(ctx, func(q domain.Querier) error {
		if err := s.paymentRepo.CreateTx(ctx, q, payment); err != nil {
			return err
		}
		return s.auditRepo.CreateTx(ctx, q, domain.NewAuditLogEntry(util.GenerateUUID(), payment, domain.AuditActionInitiated, "", created))
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create payment for order %s: %w", req.OrderID, err)
	}
	s.logger.Info("Payment initiated",
		zap.String("order_id", req.OrderID),
		zap.String("payment_id", payment.ID),
		zap.String("provider", string(req.Provider)))

	description := req.Description
	if description == "" {
		// Stripe rejects line items without a product name.
		description = "Order " + req.OrderID
	}
	link, err := gw.CreatePaymentLink(ctx, gateway.LinkRequest{
		OrderID:     req.OrderID,
		UserID:      req.UserID,
		UserEmail:   req.UserEmail,
		Amount:      req.Amount,
		Currency:    req.Currency,
		Description: description,
	})
	if err != nil {
		s.logger.Error("Payment link creation failed", zap.String("order_id", req.OrderID), zap.Error(err))
		return payment, nil, err
	}

	var updated *domain.Payment
	err = s.db.RunInTx(ctx, func(q domain.Querier) error {
		p, err := s.paymentRepo.GetByIDForUpdateTx(ctx, q, payment.ID)
		if err != nil {
			return err
		}
		updated = p
		if p.Status != domain.PaymentStatusInitiated {
			// A webhook or the expiry sweep got here first.
			return nil
		}
		now := s.now()
		if err := p.TransitionTo(domain.PaymentStatusLinkCreated, now); err != nil {
			return err
		}
		p.ExternalPaymentID = link.ExternalRef
		if err := s.paymentRepo.UpdateTx(ctx, q, p); err != nil {
			return err
		}
		return s.auditRepo.CreateTx(ctx, q, domain.NewAuditLogEntry(util.GenerateUUID(), p, domain.AuditActionLinkCreated, link.URL, now))
	})
	if err != nil {
		return payment, link, fmt.Errorf("failed to record payment link for order %s: %w", req.OrderID, err)
	}

	s.logger.Info("Payment link created",
		zap.String("order_id", req.OrderID),
		zap.String("external_ref", link.ExternalRef),
		zap.String("status", string(updated.Status)))
	return updated, link, nil
}

func (s *paymentService) GetPayment(ctx context.Context, orderID string) (*domain.Payment, error) {
	return s.paymentRepo.GetByOrderIDTx(ctx, s.db, orderID)
}

// Rollback fails a payment that has not succeeded. Rolling back a failed
// payment is a no-op.
func (s *paymentService) Rollback(ctx context.Context, orderID, reason string) (*domain.Payment, error) {
	var (
		payment *domain.Payment
		changed bool
	)
	now := s.now()

	err := s.db.RunInTx(ctx, func(q domain.Querier) error {
		p, err := s.paymentRepo.GetByOrderIDForUpdateTx(ctx, q, orderID)
		if err != nil {
			return err
		}
		payment = p
		switch p.Status {
		case domain.PaymentStatusFailed:
			return nil
		case domain.PaymentStatusSucceeded:
			return fmt.Errorf("cannot roll back order %s: %w", orderID, domain.ErrPaymentTerminal)
		}
		if err := p.TransitionTo(domain.PaymentStatusFailed, now); err != nil {
			return err
		}
		if err := s.paymentRepo.UpdateTx(ctx, q, p); err != nil {
			return err
		}
		changed = true
		return s.auditRepo.CreateTx(ctx, q, domain.NewAuditLogEntry(util.GenerateUUID(), p, domain.AuditActionFailed, reason, now))
	})
	if err != nil {
		if !errors.Is(err, domain.ErrPaymentNotFound) && !errors.Is(err, domain.ErrPaymentTerminal) {
			s.logger.Error("Payment rollback failed", zap.String("order_id", orderID), zap.Error(err))
		}
		return nil, err
	}

	if changed {
		s.logger.Info("Payment rolled back", zap.String("order_id", orderID), zap.String("reason", reason))
		s.publisher.PublishFailure(ctx, domain.PaymentFailedEvent{
			OrderID:       payment.OrderID,
			UserID:        payment.UserID,
			Provider:      payment.Provider,
			FailureReason: reason,
			Timestamp:     now,
		})
	}
	return payment, nil
}
