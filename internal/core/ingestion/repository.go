package ingestion

import (
	"context"

	"github.com/google/uuid"
	"github.com/samber/mo"
)

// Repository はインデックス処理に必要なデータアクセスを定義する
// テスト時のモック用に消費者側で定義
type Repository interface {
	GetDocument(ctx context.Context, id uuid.UUID) (mo.Option[*Document], error)
	MarkProcessing(ctx context.Context, id uuid.UUID) error
	MarkIndexed(ctx context.Context, id uuid.UUID, tokenCount, chunkCount int) error
	MarkFailed(ctx context.Context, id uuid.UUID, message string) error
	DeleteDocument(ctx context.Context, id uuid.UUID) error

	InsertChunks(ctx context.Context, chunks []*Chunk) error
	DeleteChunksByDocument(ctx context.Context, documentID uuid.UUID) (int64, error)
}

// Storage はドキュメント本体の保存先
// パスはアップロード処理が発行した不透明な文字列として扱う
type Storage interface {
	Download(ctx context.Context, path string) ([]byte, error)
	Delete(ctx context.Context, path string) error
}

// Extractor はバイト列からテキストを抽出する
// 破損した入力に対しては *ExtractionError を返す
type Extractor interface {
	Extract(ctx context.Context, data []byte, mimeHint string) (string, error)
}

// Embedder はテキスト群をベクトル化する
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Observer はインデックス処理の結果を受け取る
type Observer interface {
	ObserveIngestion(status Status, chunks int)
}
