package retry_repo

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	"reconciler/internal/domain"
)

type retryTaskRepository struct{}

func NewRetryTaskRepository() *retryTaskRepository {
	return &retryTaskRepository{}
}

func (r *retryTaskRepository) CreateTx(ctx context.Context, querier domain.Querier, task *domain.RetryTask) error {
	query := `
		INSERT INTO webhook_retry_tasks (id, provider, payload, signature, attempt_count, processed, last_error, next_attempt_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := querier.ExecContext(ctx, query,
		task.ID,
		task.Provider,
		task.Payload,
		task.Signature,
		task.AttemptCount,
		task.Processed,
		task.LastError,
		task.NextAttemptAt,
		task.CreatedAt,
		task.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create retry task: %w", err)
	}
	return nil
}

func (r *retryTaskRepository) ClaimDueTx(ctx context.Context, querier domain.Querier, now time.Time, lease time.Duration, limit int) ([]domain.RetryTask, error) {
	query := `
		UPDATE webhook_retry_tasks
		SET next_attempt_at = $1
		WHERE id IN (
			SELECT id
			FROM webhook_retry_tasks
			WHERE processed = FALSE AND next_attempt_at <= $2
			ORDER BY created_at ASC
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, provider, payload, signature, attempt_count, processed, last_error, next_attempt_at, created_at, updated_at
	`
	rows, err := querier.QueryContext(ctx, query, now.Add(lease), now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to claim due retry tasks: %w", err)
	}
	defer rows.Close()

	var tasks []domain.RetryTask
	for rows.Next() {
		task := domain.RetryTask{}
		var lastError sql.NullString
		err := rows.Scan(
			&task.ID,
			&task.Provider,
			&task.Payload,
			&task.Signature,
			&task.AttemptCount,
			&task.Processed,
			&lastError,
			&task.NextAttemptAt,
			&task.CreatedAt,
			&task.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan retry task: %w", err)
		}
		task.LastError = lastError.String
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating retry tasks: %w", err)
	}

	// RETURNING does not preserve the subquery order.
	sort.SliceStable(tasks, func(i, j int) bool { return tasks[i].CreatedAt.Before(tasks[j].CreatedAt) })
	return tasks, nil
}

func (r *retryTaskRepository) UpdateTx(ctx context.Context, querier domain.Querier, task *domain.RetryTask) error {
	query := `
		UPDATE webhook_retry_tasks
		SET attempt_count = $1, processed = $2, last_error = $3, next_attempt_at = $4, updated_at = $5
		WHERE id = $6
	`
	res, err := querier.ExecContext(ctx, query,
		task.AttemptCount,
		task.Processed,
		task.LastError,
		task.NextAttemptAt,
		task.UpdatedAt,
		task.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update retry task %s: %w", task.ID, err)
	}
	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected for retry task update: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("retry task %s: %w", task.ID, domain.ErrRetryTaskNotFound)
	}
	return nil
}
