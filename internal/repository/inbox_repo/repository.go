package inbox_repo

import (
	"context"

	"reconciler/internal/domain"
)

// InboxRepository is the ledger of webhook events that have been applied.
type InboxRepository interface {
	ExistsTx(ctx context.Context, querier domain.Querier, eventID string) (bool, error)
	// RecordTx inserts the event and reports false if it was already present.
	RecordTx(ctx context.Context, querier domain.Querier, event *domain.ProcessedEvent) (bool, error)
}
