package payments_repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"reconciler/internal/domain"

	"github.com/lib/pq"
)

const paymentColumns = `id, order_id, user_id, user_email, provider, amount, currency, external_payment_id, status, created_at, updated_at`

type paymentRepository struct{}

func NewPaymentRepository() *paymentRepository {
	return &paymentRepository{}
}

func (r *paymentRepository) CreateTx(ctx context.Context, querier domain.Querier, payment *domain.Payment) error {
	query := `
		INSERT INTO payments (` + paymentColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err := querier.ExecContext(ctx, query,
		payment.ID,
		payment.OrderID,
		payment.UserID,
		payment.UserEmail,
		payment.Provider,
		payment.Amount,
		payment.Currency,
		// Empty until the gateway responds; the column is NOT NULL DEFAULT ''.
		payment.ExternalPaymentID,
		payment.Status,
		payment.CreatedAt,
		payment.UpdatedAt,
	)
	if err != nil {
		var pgErr *pq.Error
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("order %s: %w", payment.OrderID, domain.ErrPaymentAlreadyExists)
		}
		return fmt.Errorf("failed to create payment: %w", err)
	}
	return nil
}

// GetByOrderIDTx returns the most recent payment for the order.
func (r *paymentRepository) GetByOrderIDTx(ctx context.Context, querier domain.Querier, orderID string) (*domain.Payment, error) {
	query := `
		SELECT ` + paymentColumns + `
		FROM payments
		WHERE order_id = $1
		ORDER BY created_at DESC
		LIMIT 1
	`
	return r.getOne(ctx, querier, query, orderID)
}

func (r *paymentRepository) GetByOrderIDForUpdateTx(ctx context.Context, querier domain.Querier, orderID string) (*domain.Payment, error) {
	query := `
		SELECT ` + paymentColumns + `
		FROM payments
		WHERE order_id = $1
		ORDER BY created_at DESC
		LIMIT 1
		FOR UPDATE
	`
	return r.getOne(ctx, querier, query, orderID)
}

func (r *paymentRepository) GetByIDForUpdateTx(ctx context.Context, querier domain.Querier, id string) (*domain.Payment, error) {
	query := `
		SELECT ` + paymentColumns + `
		FROM payments
		WHERE id = $1
		FOR UPDATE
	`
	return r.getOne(ctx, querier, query, id)
}

func (r *paymentRepository) UpdateTx(ctx context.Context, querier domain.Querier, payment *domain.Payment) error {
	query := `
		UPDATE payments
		SET status = $1, external_payment_id = $2, updated_at = $3
		WHERE id = $4
	`
	res, err := querier.ExecContext(ctx, query,
		payment.Status,
		payment.ExternalPaymentID,
		payment.UpdatedAt,
		payment.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update payment %s: %w", payment.ID, err)
	}
	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected for payment update: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("payment %s: %w", payment.ID, domain.ErrPaymentNotFound)
	}
	return nil
}

func (r *paymentRepository) ListByStatusCreatedBeforeTx(ctx context.Context, querier domain.Querier, status domain.PaymentStatus, cutoff time.Time, limit int) ([]domain.Payment, error) {
	query := `
		SELECT ` + paymentColumns + `
		FROM payments
		WHERE status = $1 AND created_at <= $2
		ORDER BY created_at ASC
		LIMIT $3
	`
	rows, err := querier.QueryContext(ctx, query, status, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s payments created before %s: %w", status, cutoff, err)
	}
	defer rows.Close()

	var payments []domain.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		payments = append(payments, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating payments: %w", err)
	}
	return payments, nil
}

func (r *paymentRepository) getOne(ctx context.Context, querier domain.Querier, query string, arg string) (*domain.Payment, error) {
	payment, err := scanPayment(querier.QueryRowContext(ctx, query, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", arg, domain.ErrPaymentNotFound)
		}
		return nil, err
	}
	return payment, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPayment(row rowScanner) (*domain.Payment, error) {
	p := &domain.Payment{}
	var externalID sql.NullString
	err := row.Scan(
		&p.ID,
		&p.OrderID,
		&p.UserID,
		&p.UserEmail,
		&p.Provider,
		&p.Amount,
		&p.Currency,
		&externalID,
		&p.Status,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan payment: %w", err)
	}
	p.ExternalPaymentID = externalID.String
	return p, nil
}
