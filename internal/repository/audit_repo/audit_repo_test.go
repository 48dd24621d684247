package audit_repo

import (
	"context"
	"regexp"
	"testing"
	"time"

	"reconciler/internal/domain"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuditRepository_CreateTx(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	now := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	p := domain.NewPayment("p1", "order123", "u1", "", domain.ProviderStripe, 1000, "USD", now)
	entry := domain.NewAuditLogEntry("a1", p, domain.AuditActionFailed, domain.DetailsAutoExpired, now)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO payment_audit_logs")).
		WithArgs("a1", "p1", "order123", "u1", domain.ProviderStripe, int64(1000), "USD", "", domain.AuditActionFailed, "auto-expired", now).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, NewAuditRepository().CreateTx(context.Background(), db, entry))
	assert.NoError(t, mock.ExpectationsWereMet())
}
