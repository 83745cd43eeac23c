package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// TransactionProvider follows the pattern described in https://threedots.tech/post/database-transactions-in-go/
// It hides pgx transactions behind a callback that receives data-access adapters.
type TransactionProvider[A any] struct {
	pool       *pgxpool.Pool
	newAdapter func(pgx.Tx) A
}

// NewTransactionProvider は新しいTransactionProviderを作成します
// newAdapter はトランザクションごとにリポジトリ群を組み立てます
func NewTransactionProvider[A any](pool *pgxpool.Pool, newAdapter func(pgx.Tx) A) *TransactionProvider[A] {
	return &TransactionProvider[A]{pool: pool, newAdapter: newAdapter}
}

// Transact opens a transaction, builds adapters, and passes them to fn.
func Transact[A, T any](ctx context.Context, p *TransactionProvider[A], fn func(A) (T, error)) (T, error) {
	var zero T
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return zero, fmt.Errorf("failed to begin transaction: %w", err)
	}

	result, err := fn(p.newAdapter(tx))
	if err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			return zero, fmt.Errorf("tx rollback failed: %v (original err: %w)", rbErr, err)
		}
		return zero, err
	}

	if err := tx.Commit(ctx); err != nil {
		return zero, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return result, nil
}
