package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jinford/kb-rag/internal/core/ingestion"
	"github.com/jinford/kb-rag/internal/core/retrieval"
	pgvector "github.com/pgvector/pgvector-go"
)

// ChunkRepository は document_chunks テーブル（ベクトルストア）へのアクセスを提供する
type ChunkRepository struct {
	db DBTX
}

// NewChunkRepository は新しい ChunkRepository を作成する
func NewChunkRepository(db DBTX) *ChunkRepository {
	return &ChunkRepository{db: db}
}

const insertChunkSQL = `
	INSERT INTO document_chunks (id, document_id, tenant_id, collection_id, chunk_text, token_count, chunk_index, embedding)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8::vector)`

// InsertChunks はチャンク群を1回のバッチで挿入する
func (r *ChunkRepository) InsertChunks(ctx context.Context, chunks []*ingestion.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, c := range chunks {
		id := c.ID
		if id == uuid.Nil {
			id = uuid.New()
		}
		batch.Queue(insertChunkSQL,
			UUIDToPgtype(id),
			UUIDToPgtype(c.DocumentID),
			UUIDToPgtype(c.TenantID),
			OptionUUIDToPgtype(c.CollectionID),
			c.Text,
			int32(c.TokenCount),
			int32(c.ChunkIndex),
			pgvector.NewVector(c.Embedding),
		)
	}

	results := r.db.SendBatch(ctx, batch)
	defer results.Close()

	for i := range chunks {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("failed to insert chunk %d: %w", chunks[i].ChunkIndex, err)
		}
	}

	return nil
}

// DeleteChunksByDocument はドキュメントの全チャンクを削除し、削除件数を返す
func (r *ChunkRepository) DeleteChunksByDocument(ctx context.Context, documentID uuid.UUID) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM document_chunks WHERE document_id = $1`, UUIDToPgtype(documentID))
	if err != nil {
		return 0, fmt.Errorf("failed to delete chunks: %w", err)
	}
	return tag.RowsAffected(), nil
}

// MatchChunks は類似度が閾値以上のチャンクを類似度降順（同値はチャンクID昇順）で返す
// テナント条件は常に付与し、コレクションは空なら絞り込まない
func (r *ChunkRepository) MatchChunks(ctx context.Context, q retrieval.MatchQuery) ([]retrieval.ChunkRow, error) {
	rows, err := r.db.Query(ctx, `
		SELECT c.id, c.document_id, c.collection_id, c.chunk_text, c.chunk_index,
		       1 - (c.embedding <=> $1::vector) AS similarity
		FROM document_chunks c
		WHERE c.tenant_id = $2
		  AND (cardinality($3::uuid[]) = 0 OR c.collection_id = ANY($3::uuid[]))
		  AND 1 - (c.embedding <=> $1::vector) >= $4
		ORDER BY c.embedding <=> $1::vector, c.id
		LIMIT $5`,
		pgvector.NewVector(q.Vector),
		UUIDToPgtype(q.TenantID),
		UUIDsToPgtype(q.CollectionIDs),
		q.Threshold,
		int32(q.K),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to match chunks: %w", err)
	}
	defer rows.Close()

	var result []retrieval.ChunkRow
	for rows.Next() {
		var (
			chunkID      pgtype.UUID
			documentID   pgtype.UUID
			collectionID pgtype.UUID
			chunkIndex   int32
			row          retrieval.ChunkRow
		)
		if err := rows.Scan(&chunkID, &documentID, &collectionID, &row.Text, &chunkIndex, &row.Similarity); err != nil {
			return nil, fmt.Errorf("failed to scan chunk: %w", err)
		}
		row.ChunkID = PgtypeToUUID(chunkID)
		row.DocumentID = PgtypeToUUID(documentID)
		row.CollectionID = PgtypeToOptionUUID(collectionID)
		row.ChunkIndex = int(chunkIndex)
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to match chunks: %w", err)
	}

	return result, nil
}

var _ retrieval.VectorStore = (*ChunkRepository)(nil)

// IngestionRepository は ingestion.Repository をドキュメントとチャンクのリポジトリから構成する
type IngestionRepository struct {
	*DocumentRepository
	*ChunkRepository
}

// NewIngestionRepository は新しい IngestionRepository を作成する
func NewIngestionRepository(db DBTX) *IngestionRepository {
	return &IngestionRepository{
		DocumentRepository: NewDocumentRepository(db),
		ChunkRepository:    NewChunkRepository(db),
	}
}

var _ ingestion.Repository = (*IngestionRepository)(nil)
