package retrieval

import (
	"github.com/google/uuid"
	"github.com/samber/mo"
)

// UnknownDocument はファイル名の参照に失敗した場合に使う表示名
const UnknownDocument = "Unknown document"

// Scope は検証済みテナントに限定された検索スコープ
// メンバーシップ確認を終えた呼び出し元だけが TrustedScope で生成する
type Scope struct {
	tenantID uuid.UUID
}

// TrustedScope は呼び出し元で検証済みのテナントIDからScopeを作成する
func TrustedScope(tenantID uuid.UUID) Scope {
	return Scope{tenantID: tenantID}
}

// TenantID はスコープのテナントIDを返す
func (s Scope) TenantID() uuid.UUID {
	return s.tenantID
}

// Options は検索パラメータ
type Options struct {
	K               int         // 返却する最大件数
	Threshold       float64     // 類似度の下限（これ未満は除外）
	CollectionScope []uuid.UUID // 空の場合はテナント全体
}

// ChatDefaults は対話用のデフォルト値
func ChatDefaults() Options {
	return Options{K: 8, Threshold: 0.5}
}

// SuggestDefaults はチケット提案用のデフォルト値
func SuggestDefaults() Options {
	return Options{K: 3, Threshold: 0.4}
}

// EvalDefaults は評価用のデフォルト値
func EvalDefaults() Options {
	return Options{K: 5, Threshold: 0.3}
}

// MatchQuery はベクトルストアに渡す近傍検索クエリ
type MatchQuery struct {
	TenantID      uuid.UUID
	Vector        []float32
	CollectionIDs []uuid.UUID
	Threshold     float64
	K             int
}

// ChunkRow はベクトルストアが返す生の行
type ChunkRow struct {
	ChunkID      uuid.UUID
	DocumentID   uuid.UUID
	CollectionID mo.Option[uuid.UUID]
	Text         string
	ChunkIndex   int
	Similarity   float64
}

// RetrievedChunk は表示用メタデータを付与した検索結果
type RetrievedChunk struct {
	ChunkRow
	TenantID uuid.UUID
	Filename string
}
