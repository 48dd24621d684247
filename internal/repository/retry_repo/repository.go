package retry_repo

import (
	"context"
	"time"

	"reconciler/internal/domain"
)

type RetryTaskRepository interface {
	CreateTx(ctx context.Context, querier domain.Querier, task *domain.RetryTask) error
	// ClaimDueTx leases up to limit due tasks, oldest first, by pushing their
	// next attempt past the lease so that concurrent schedulers skip them.
	ClaimDueTx(ctx context.Context, querier domain.Querier, now time.Time, lease time.Duration, limit int) ([]domain.RetryTask, error)
	UpdateTx(ctx context.Context, querier domain.Querier, task *domain.RetryTask) error
}
