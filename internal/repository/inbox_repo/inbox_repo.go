package inbox_repo

import (
	"context"
	"fmt"

	"reconciler/internal/domain"
)

type inboxRepository struct{}

func NewInboxRepository() *inboxRepository {
	return &inboxRepository{}
}

func (r *inboxRepository) ExistsTx(ctx context.Context, querier domain.Querier, eventID string) (bool, error) {
	query := `SELECT EXISTS (SELECT 1 FROM processed_events WHERE event_id = $1)`
	var exists bool
	if err := querier.QueryRowContext(ctx, query, eventID).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check processed event %s: %w", eventID, err)
	}
	return exists, nil
}

func (r *inboxRepository) RecordTx(ctx context.Context, querier domain.Querier, event *domain.ProcessedEvent) (bool, error) {
	query := `
		INSERT INTO processed_events (event_id, provider, processed_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (event_id) DO NOTHING
	`
	res, err := querier.ExecContext(ctx, query, event.EventID, event.Provider, event.ProcessedAt)
	if err != nil {
		return false, fmt.Errorf("failed to record processed event %s: %w", event.EventID, err)
	}
	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected for processed event: %w", err)
	}
	return rowsAffected == 1, nil
}
