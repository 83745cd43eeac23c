package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jinford/kb-rag/internal/core/ingestion"
	"github.com/jinford/kb-rag/internal/core/retrieval"
	"github.com/samber/mo"
)

// DocumentRepository は documents テーブルへのアクセスを提供する
type DocumentRepository struct {
	db DBTX
}

// NewDocumentRepository は新しい DocumentRepository を作成する
func NewDocumentRepository(db DBTX) *DocumentRepository {
	return &DocumentRepository{db: db}
}

// CreateDocumentParams はドキュメント登録のパラメータ
type CreateDocumentParams struct {
	TenantID     uuid.UUID
	CollectionID mo.Option[uuid.UUID]
	Filename     string
	StoragePath  string
	MimeType     string
}

// CreateDocument はアップロード済みドキュメントを processing 状態で登録する
func (r *DocumentRepository) CreateDocument(ctx context.Context, params CreateDocumentParams) (*ingestion.Document, error) {
	var id pgtype.UUID
	err := r.db.QueryRow(ctx, `
		INSERT INTO documents (tenant_id, collection_id, filename, storage_path, mime_type, status)
		VALUES ($1, $2, $3, $4, $5, 'processing')
		RETURNING id`,
		UUIDToPgtype(params.TenantID),
		OptionUUIDToPgtype(params.CollectionID),
		params.Filename,
		params.StoragePath,
		params.MimeType,
	).Scan(&id)
	if err != nil {
		return nil, fmt.Errorf("failed to create document: %w", err)
	}

	return &ingestion.Document{
		ID:           PgtypeToUUID(id),
		TenantID:     params.TenantID,
		CollectionID: params.CollectionID,
		Filename:     params.Filename,
		StoragePath:  params.StoragePath,
		MimeType:     params.MimeType,
		Status:       ingestion.StatusProcessing,
	}, nil
}

// GetDocument はドキュメントを取得する。存在しない場合は None を返す
func (r *DocumentRepository) GetDocument(ctx context.Context, id uuid.UUID) (mo.Option[*ingestion.Document], error) {
	var (
		docID        pgtype.UUID
		tenantID     pgtype.UUID
		collectionID pgtype.UUID
		status       string
		errorMessage pgtype.Text
		tokenCount   int32
		chunkCount   int32
		doc          ingestion.Document
	)

	err := r.db.QueryRow(ctx, `
		SELECT id, tenant_id, collection_id, filename, storage_path, mime_type,
		       status, error_message, token_count, chunk_count
		FROM documents
		WHERE id = $1`,
		UUIDToPgtype(id),
	).Scan(
		&docID,
		&tenantID,
		&collectionID,
		&doc.Filename,
		&doc.StoragePath,
		&doc.MimeType,
		&status,
		&errorMessage,
		&tokenCount,
		&chunkCount,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return mo.None[*ingestion.Document](), nil
		}
		return mo.None[*ingestion.Document](), fmt.Errorf("failed to get document: %w", err)
	}

	doc.ID = PgtypeToUUID(docID)
	doc.TenantID = PgtypeToUUID(tenantID)
	doc.CollectionID = PgtypeToOptionUUID(collectionID)
	doc.Status = ingestion.Status(status)
	doc.ErrorMessage = PgtextToString(errorMessage)
	doc.TokenCount = int(tokenCount)
	doc.ChunkCount = int(chunkCount)

	return mo.Some(&doc), nil
}

// MarkProcessing は processing 状態に戻し、前回のエラーを消去する
func (r *DocumentRepository) MarkProcessing(ctx context.Context, id uuid.UUID) error {
	return r.updateStatus(ctx, "mark document processing", `
		UPDATE documents
		SET status = 'processing', error_message = NULL, updated_at = now()
		WHERE id = $1`,
		UUIDToPgtype(id),
	)
}

// MarkIndexed は indexed 状態にしてトークン数とチャンク数を記録する
func (r *DocumentRepository) MarkIndexed(ctx context.Context, id uuid.UUID, tokenCount, chunkCount int) error {
	return r.updateStatus(ctx, "mark document indexed", `
		UPDATE documents
		SET status = 'indexed', error_message = NULL, token_count = $2, chunk_count = $3, updated_at = now()
		WHERE id = $1`,
		UUIDToPgtype(id), int32(tokenCount), int32(chunkCount),
	)
}

// MarkFailed は failed 状態にしてエラーメッセージを記録する
func (r *DocumentRepository) MarkFailed(ctx context.Context, id uuid.UUID, message string) error {
	return r.updateStatus(ctx, "mark document failed", `
		UPDATE documents
		SET status = 'failed', error_message = $2, chunk_count = 0, updated_at = now()
		WHERE id = $1`,
		UUIDToPgtype(id), StringToNullableText(message),
	)
}

func (r *DocumentRepository) updateStatus(ctx context.Context, op, sql string, args ...any) error {
	tag, err := r.db.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("failed to %s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("failed to %s: %w", op, ErrNotFound)
	}
	return nil
}

// DeleteDocument はドキュメント行を削除する（チャンクは外部キーで連鎖削除される）
func (r *DocumentRepository) DeleteDocument(ctx context.Context, id uuid.UUID) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM documents WHERE id = $1`, UUIDToPgtype(id)); err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}
	return nil
}

// FilenamesByID はドキュメントIDからファイル名を引く。存在しないIDは結果に含めない
func (r *DocumentRepository) FilenamesByID(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]string, error) {
	names := make(map[uuid.UUID]string, len(ids))
	if len(ids) == 0 {
		return names, nil
	}

	rows, err := r.db.Query(ctx, `SELECT id, filename FROM documents WHERE id = ANY($1::uuid[])`, UUIDsToPgtype(ids))
	if err != nil {
		return nil, fmt.Errorf("failed to lookup filenames: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id       pgtype.UUID
			filename string
		)
		if err := rows.Scan(&id, &filename); err != nil {
			return nil, fmt.Errorf("failed to scan filename: %w", err)
		}
		names[PgtypeToUUID(id)] = filename
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to lookup filenames: %w", err)
	}

	return names, nil
}

var _ retrieval.DocumentLookup = (*DocumentRepository)(nil)
