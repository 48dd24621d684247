package audit_repo

import (
	"context"
	"fmt"

	"reconciler/internal/domain"
)

type AuditRepository interface {
	CreateTx(ctx context.Context, querier domain.Querier, entry *domain.AuditLogEntry) error
}

type auditRepository struct{}

func NewAuditRepository() *auditRepository {
	return &auditRepository{}
}

func (r *auditRepository) CreateTx(ctx context.Context, querier domain.Querier, entry *domain.AuditLogEntry) error {
	query := `
		INSERT INTO payment_audit_logs (id, payment_id, order_id, user_id, provider, amount, currency, external_payment_id, action, details, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err := querier.ExecContext(ctx, query,
		entry.ID,
		entry.PaymentID,
		entry.OrderID,
		entry.UserID,
		entry.Provider,
		entry.Amount,
		entry.Currency,
		entry.ExternalPaymentID,
		entry.Action,
		entry.Details,
		entry.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to write audit log for order %s: %w", entry.OrderID, err)
	}
	return nil
}
