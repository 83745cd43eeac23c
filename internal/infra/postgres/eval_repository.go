package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jinford/kb-rag/internal/core/eval"
	"github.com/jinford/kb-rag/internal/core/retrieval"
)

// EvalRepository は評価セット・ケース・実行結果へのアクセスを提供する
type EvalRepository struct {
	db DBTX
}

// NewEvalRepository は新しい EvalRepository を作成する
func NewEvalRepository(db DBTX) *EvalRepository {
	return &EvalRepository{db: db}
}

// CreateSet は評価セットを作成する
func (r *EvalRepository) CreateSet(ctx context.Context, tenantID uuid.UUID, name string) (uuid.UUID, error) {
	var id pgtype.UUID
	if err := r.db.QueryRow(ctx,
		`INSERT INTO eval_sets (tenant_id, name) VALUES ($1, $2) RETURNING id`,
		UUIDToPgtype(tenantID), name,
	).Scan(&id); err != nil {
		return uuid.Nil, fmt.Errorf("failed to create eval set: %w", err)
	}
	return PgtypeToUUID(id), nil
}

// AddCase は評価ケースを追加する
func (r *EvalRepository) AddCase(ctx context.Context, setID uuid.UUID, c eval.Case) (uuid.UUID, error) {
	var id pgtype.UUID
	if err := r.db.QueryRow(ctx, `
		INSERT INTO eval_cases (eval_set_id, question, expected_answer, expected_source_ids)
		VALUES ($1, $2, $3, $4::uuid[])
		RETURNING id`,
		UUIDToPgtype(setID), c.Question, c.ExpectedAnswer, UUIDsToPgtype(c.ExpectedSourceIDs),
	).Scan(&id); err != nil {
		return uuid.Nil, fmt.Errorf("failed to add eval case: %w", err)
	}
	return PgtypeToUUID(id), nil
}

// ListCases はテナントの評価セットに属するケースを作成順に返す
// セットが存在しないか別テナントのものであれば ErrNotFound を返す
func (r *EvalRepository) ListCases(ctx context.Context, scope retrieval.Scope, setID uuid.UUID) ([]eval.Case, error) {
	var exists bool
	if err := r.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM eval_sets WHERE id = $1 AND tenant_id = $2)`,
		UUIDToPgtype(setID), UUIDToPgtype(scope.TenantID()),
	).Scan(&exists); err != nil {
		return nil, fmt.Errorf("failed to get eval set: %w", err)
	}
	if !exists {
		return nil, fmt.Errorf("eval set %s: %w", setID, ErrNotFound)
	}

	rows, err := r.db.Query(ctx, `
		SELECT id, question, expected_answer, expected_source_ids
		FROM eval_cases
		WHERE eval_set_id = $1
		ORDER BY created_at, id`,
		UUIDToPgtype(setID),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list eval cases: %w", err)
	}
	defer rows.Close()

	var cases []eval.Case
	for rows.Next() {
		var (
			id        pgtype.UUID
			sourceIDs []pgtype.UUID
			c         eval.Case
		)
		if err := rows.Scan(&id, &c.Question, &c.ExpectedAnswer, &sourceIDs); err != nil {
			return nil, fmt.Errorf("failed to scan eval case: %w", err)
		}
		c.ID = PgtypeToUUID(id).String()
		c.ExpectedSourceIDs = PgtypeToUUIDs(sourceIDs)
		cases = append(cases, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list eval cases: %w", err)
	}

	return cases, nil
}

// RecordRun は評価結果を保存し、実行IDを返す
func (r *EvalRepository) RecordRun(ctx context.Context, setID uuid.UUID, scope retrieval.Scope, summary *eval.Summary) (uuid.UUID, error) {
	details, err := json.Marshal(summary.Details)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to marshal eval details: %w", err)
	}

	var id pgtype.UUID
	err = r.db.QueryRow(ctx, `
		INSERT INTO eval_runs (eval_set_id, tenant_id, recall_at_k, answer_accuracy, k_value, details)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`,
		UUIDToPgtype(setID),
		UUIDToPgtype(scope.TenantID()),
		summary.RecallAtK,
		summary.AnswerAccuracy,
		int32(summary.KValue),
		details,
	).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return uuid.Nil, fmt.Errorf("failed to record eval run: %w", ErrNotFound)
		}
		return uuid.Nil, fmt.Errorf("failed to record eval run: %w", err)
	}

	return PgtypeToUUID(id), nil
}

var _ eval.RunRecorder = (*EvalRepository)(nil)
