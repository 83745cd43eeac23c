package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jinford/kb-rag/internal/core/ask"
)

// ExchangeRepository は chat_messages / missing_kb_entries への書き込みを提供する
type ExchangeRepository struct {
	db DBTX
}

// NewExchangeRepository は新しい ExchangeRepository を作成する
func NewExchangeRepository(db DBTX) *ExchangeRepository {
	return &ExchangeRepository{db: db}
}

// InsertExchange は質問と回答の2メッセージを書き込む
// 両方を同時に残すにはトランザクション内のリポジトリで呼び出すこと
func (r *ExchangeRepository) InsertExchange(ctx context.Context, ex ask.Exchange) error {
	citations, err := json.Marshal(ex.Citations)
	if err != nil {
		return fmt.Errorf("failed to marshal citations: %w", err)
	}

	if _, err := r.db.Exec(ctx, `
		INSERT INTO chat_messages (tenant_id, thread_id, role, content)
		VALUES ($1, $2, 'user', $3)`,
		UUIDToPgtype(ex.TenantID), UUIDToPgtype(ex.ThreadID), ex.Question,
	); err != nil {
		return fmt.Errorf("failed to insert user message: %w", err)
	}

	if _, err := r.db.Exec(ctx, `
		INSERT INTO chat_messages (tenant_id, thread_id, role, content, citations)
		VALUES ($1, $2, 'assistant', $3, $4)`,
		UUIDToPgtype(ex.TenantID), UUIDToPgtype(ex.ThreadID), ex.Answer, citations,
	); err != nil {
		return fmt.Errorf("failed to insert assistant message: %w", err)
	}

	return nil
}

// InsertKnowledgeGap は根拠不足の質問を記録する
func (r *ExchangeRepository) InsertKnowledgeGap(ctx context.Context, gap ask.KnowledgeGap) error {
	if _, err := r.db.Exec(ctx, `
		INSERT INTO missing_kb_entries (tenant_id, question, context)
		VALUES ($1, $2, $3)`,
		UUIDToPgtype(gap.TenantID), gap.Question, gap.Context,
	); err != nil {
		return fmt.Errorf("failed to insert knowledge gap: %w", err)
	}
	return nil
}
