package ingestion

import (
	"github.com/google/uuid"
	"github.com/samber/mo"
)

// Status はドキュメントのインデックス状態
type Status string

const (
	StatusProcessing Status = "processing"
	StatusIndexed    Status = "indexed"
	StatusFailed     Status = "failed"
)

// Document はアップロード済みドキュメントを表す
type Document struct {
	ID           uuid.UUID
	TenantID     uuid.UUID
	CollectionID mo.Option[uuid.UUID]
	Filename     string
	StoragePath  string
	MimeType     string
	Status       Status
	ErrorMessage string
	TokenCount   int
	ChunkCount   int
}

// Chunk は永続化されるチャンク
type Chunk struct {
	ID           uuid.UUID
	DocumentID   uuid.UUID
	TenantID     uuid.UUID
	CollectionID mo.Option[uuid.UUID]
	Text         string
	TokenCount   int
	ChunkIndex   int
	Embedding    []float32
}

// Result はインデックス処理の結果
type Result struct {
	DocumentID  uuid.UUID
	Status      Status
	ChunkCount  int
	TotalTokens int
	Err         error // Status が failed の場合の原因
}
