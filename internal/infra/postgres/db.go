package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const pgErrCodeUniqueViolation = "23505"

// ErrNotFound は対象の行が存在しない場合に返されます
var ErrNotFound = errors.New("not found")

// DBTX は pgxpool.Pool と pgx.Tx の共通部分
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// IsUniqueViolation は PostgreSQL の unique_violation(23505) かどうかを判定します
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgErrCodeUniqueViolation
	}
	return false
}

// Adapter は1つのトランザクション内で動作するリポジトリ群
type Adapter struct {
	Documents *DocumentRepository
	Chunks    *ChunkRepository
	Exchanges *ExchangeRepository
	Evals     *EvalRepository
}

// NewAdapter はトランザクションからリポジトリ群を組み立てます
func NewAdapter(tx pgx.Tx) *Adapter {
	return &Adapter{
		Documents: NewDocumentRepository(tx),
		Chunks:    NewChunkRepository(tx),
		Exchanges: NewExchangeRepository(tx),
		Evals:     NewEvalRepository(tx),
	}
}
