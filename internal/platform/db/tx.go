package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// ErrNoTenantDB is returned by repositories when no tenant pool is bound to the context.
var ErrNoTenantDB = errors.New("no tenant database in context")

// Querier is the subset of pgx shared by pools, connections and transactions.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// TxFromContext retrieves the active transaction from context.
func TxFromContext(ctx context.Context) pgx.Tx {
	tx, _ := ctx.Value(DBTxKey).(pgx.Tx)
	return tx
}

// WithTx begins a transaction on the tenant pool bound to ctx and returns a
// context carrying it. Repositories called with the returned context run
// inside the transaction. The caller commits or rolls back.
func WithTx(ctx context.Context) (context.Context, pgx.Tx, error) {
	pool := PoolFromContext(ctx)
	if pool == nil {
		return ctx, nil, fmt.Errorf("no database connection in context")
	}
	tx, err := pool.Begin(ctx)
	if err != nil {
		return ctx, nil, fmt.Errorf("begin transaction: %w", err)
	}
	return context.WithValue(ctx, DBTxKey, tx), tx, nil
}

// TenantQuerier returns the transaction or tenant pool bound to ctx.
func TenantQuerier(ctx context.Context) (Querier, error) {
	if tx := TxFromContext(ctx); tx != nil {
		return tx, nil
	}
	if pool := PoolFromContext(ctx); pool != nil {
		return pool, nil
	}
	return nil, ErrNoTenantDB
}

// RunInTx runs fn inside a transaction on the tenant pool bound to ctx,
// committing when fn returns nil and rolling back otherwise. A transaction
// already bound to ctx is reused.
func RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if TxFromContext(ctx) != nil {
		return fn(ctx)
	}
	txCtx, tx, err := WithTx(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := fn(txCtx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
