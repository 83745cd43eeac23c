package container

import (
	"context"

	"github.com/google/uuid"
	"github.com/jinford/kb-rag/internal/core/ask"
	"github.com/jinford/kb-rag/internal/core/eval"
	"github.com/jinford/kb-rag/internal/infra/postgres"
	"github.com/jinford/kb-rag/internal/platform/database"
)

// exchangeRecorder は質問と回答の2メッセージを1トランザクションで保存する
type exchangeRecorder struct {
	tx   *database.TransactionProvider[*postgres.Adapter]
	gaps *postgres.ExchangeRepository
}

func (r *exchangeRecorder) RecordExchange(ctx context.Context, ex ask.Exchange) error {
	_, err := database.Transact(ctx, r.tx, func(a *postgres.Adapter) (struct{}, error) {
		return struct{}{}, a.Exchanges.InsertExchange(ctx, ex)
	})
	return err
}

func (r *exchangeRecorder) RecordKnowledgeGap(ctx context.Context, gap ask.KnowledgeGap) error {
	return r.gaps.InsertKnowledgeGap(ctx, gap)
}

var _ ask.ExchangeRecorder = (*exchangeRecorder)(nil)

// ImportEvalSet は評価セットとそのケースを1トランザクションで登録する
// いずれかのケースが失敗した場合はセットごとロールバックする
func (c *ServiceContainer) ImportEvalSet(ctx context.Context, tenantID uuid.UUID, name string, cases []eval.Case) (uuid.UUID, error) {
	return database.Transact(ctx, c.tx, func(a *postgres.Adapter) (uuid.UUID, error) {
		return eval.ImportSet(ctx, a.Evals, tenantID, name, cases)
	})
}
