package inbox_repo

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"reconciler/internal/domain"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInboxRepository_ExistsTx(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := NewInboxRepository()

	mock.ExpectQuery(regexp.QuoteMeta("SELECT EXISTS")).WithArgs("evt_1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	exists, err := repo.ExistsTx(context.Background(), db, "evt_1")
	require.NoError(t, err)
	assert.True(t, exists)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT EXISTS")).WithArgs("evt_2").
		WillReturnError(errors.New("connection reset"))
	_, err = repo.ExistsTx(context.Background(), db, "evt_2")
	assert.Error(t, err)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInboxRepository_RecordTx(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := NewInboxRepository()

	now := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	ev := &domain.ProcessedEvent{EventID: "evt_1", Provider: domain.ProviderStripe, ProcessedAt: now}

	mock.ExpectExec(regexp.QuoteMeta("ON CONFLICT (event_id) DO NOTHING")).
		WithArgs("evt_1", domain.ProviderStripe, now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	inserted, err := repo.RecordTx(context.Background(), db, ev)
	require.NoError(t, err)
	assert.True(t, inserted)

	mock.ExpectExec(regexp.QuoteMeta("ON CONFLICT (event_id) DO NOTHING")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	inserted, err = repo.RecordTx(context.Background(), db, ev)
	require.NoError(t, err)
	assert.False(t, inserted)

	assert.NoError(t, mock.ExpectationsWereMet())
}
