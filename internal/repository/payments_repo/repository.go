package payments_repo

import (
	"context"
	"time"

	"reconciler/internal/domain"
)

type PaymentRepository interface {
	CreateTx(ctx context.Context, querier domain.Querier, payment *domain.Payment) error
	GetByOrderIDTx(ctx context.Context, querier domain.Querier, orderID string) (*domain.Payment, error)
	GetByOrderIDForUpdateTx(ctx context.Context, querier domain.Querier, orderID string) (*domain.Payment, error)
	GetByIDForUpdateTx(ctx context.Context, querier domain.Querier, id string) (*domain.Payment, error)
	UpdateTx(ctx context.Context, querier domain.Querier, payment *domain.Payment) error
	ListByStatusCreatedBeforeTx(ctx context.Context, querier domain.Querier, status domain.PaymentStatus, cutoff time.Time, limit int) ([]domain.Payment, error)
}
