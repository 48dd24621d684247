package domain

import (
	"context"
	"database/sql"
)

// Querier is satisfied by both *sql.DB and *sql.Tx.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Database runs statements directly or inside a transaction. If fn returns an
// error the transaction is rolled back and the error is returned unchanged.
type Database interface {
	Querier
	RunInTx(ctx context.Context, fn func(q Querier) error) error
}
