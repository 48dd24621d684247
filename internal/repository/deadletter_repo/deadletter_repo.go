package deadletter_repo

import (
	"context"
	"fmt"

	"reconciler/internal/domain"
)

type DeadLetterRepository interface {
	CreateTx(ctx context.Context, querier domain.Querier, dl *domain.DeadLetter) error
}

type deadLetterRepository struct{}

func NewDeadLetterRepository() *deadLetterRepository {
	return &deadLetterRepository{}
}

func (r *deadLetterRepository) CreateTx(ctx context.Context, querier domain.Querier, dl *domain.DeadLetter) error {
	query := `
		INSERT INTO publish_dead_letters (id, topic, message_key, payload, error_message, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := querier.ExecContext(ctx, query, dl.ID, dl.Topic, dl.Key, dl.Payload, dl.ErrorMessage, dl.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to store dead letter for topic %s: %w", dl.Topic, err)
	}
	return nil
}
