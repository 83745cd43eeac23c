package ask

import (
	"github.com/google/uuid"
	"github.com/jinford/kb-rag/internal/core/citation"
	"github.com/jinford/kb-rag/internal/core/generation"
	"github.com/jinford/kb-rag/internal/core/retrieval"
	"github.com/samber/mo"
)

// AskParams は質問応答のパラメータを表す
type AskParams struct {
	Question string                       // ユーザーの質問文
	ThreadID mo.Option[uuid.UUID]         // 会話スレッド（未指定の場合は記録しない）
	Options  mo.Option[retrieval.Options] // 未指定の場合はサービスのデフォルト値
}

// AskResult は質問応答の結果を表す
type AskResult struct {
	Answer        string           // 送出したテキスト全文
	Citations     []citation.Entry // 回答の引用表
	State         generation.State // ストリームの終了状態
	MaxSimilarity float64          // 検索結果の最大類似度
}

// Exchange は記録対象の1往復
type Exchange struct {
	TenantID  uuid.UUID
	ThreadID  uuid.UUID
	Question  string
	Answer    string
	Citations []citation.Entry
}

// KnowledgeGap は十分な根拠が見つからなかった質問
type KnowledgeGap struct {
	TenantID uuid.UUID
	Question string
	Context  string
}
