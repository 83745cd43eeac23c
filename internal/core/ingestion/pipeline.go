package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/jinford/kb-rag/internal/core/chunk"
)

// DefaultPersistBatchSize は1回の書き込みで保存するチャンク数
const DefaultPersistBatchSize = 500

// Chunker はテキストをチャンクに分割する
type Chunker interface {
	Chunk(text string) []chunk.Piece
}

// Pipeline はドキュメント1件を 取得→抽出→チャンク化→埋め込み→保存 する
// 途中で失敗した場合はこの実行で保存したチャンクを削除し、ドキュメントを failed にする
type Pipeline struct {
	repo             Repository
	storage          Storage
	extractor        Extractor
	chunker          Chunker
	embedder         Embedder
	persistBatchSize int
	observer         Observer
	logger           *slog.Logger
}

type PipelineOption func(*Pipeline)

// WithPipelineLogger は Pipeline にロガーを設定する
func WithPipelineLogger(logger *slog.Logger) PipelineOption {
	return func(p *Pipeline) {
		p.logger = logger
	}
}

// WithPersistBatchSize はチャンク保存のバッチサイズを上書きする
func WithPersistBatchSize(size int) PipelineOption {
	return func(p *Pipeline) {
		if size > 0 {
			p.persistBatchSize = size
		}
	}
}

// WithPipelineObserver は計測値の送信先を設定する
func WithPipelineObserver(observer Observer) PipelineOption {
	return func(p *Pipeline) {
		p.observer = observer
	}
}

// NewPipeline は新しいPipelineを作成する
func NewPipeline(
	repo Repository,
	storage Storage,
	extractor Extractor,
	chunker Chunker,
	embedder Embedder,
	opts ...PipelineOption,
) *Pipeline {
	p := &Pipeline{
		repo:             repo,
		storage:          storage,
		extractor:        extractor,
		chunker:          chunker,
		embedder:         embedder,
		persistBatchSize: DefaultPersistBatchSize,
		logger:           slog.Default(),
	}

	for _, opt := range opts {
		opt(p)
	}

	if p.logger == nil {
		p.logger = slog.Default()
	}

	return p
}

// Ingest はドキュメントをインデックス化する
// 処理ステップの失敗は Result.Err と failed 状態として記録し、error としては返さない。
// error を返すのはドキュメントが存在しない場合と、状態の更新自体に失敗した場合のみ
func (p *Pipeline) Ingest(ctx context.Context, documentID uuid.UUID) (*Result, error) {
	docOpt, err := p.repo.GetDocument(ctx, documentID)
	if err != nil {
		return nil, fmt.Errorf("failed to get document: %w", err)
	}
	doc, ok := docOpt.Get()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrDocumentNotFound, documentID)
	}

	if err := p.repo.MarkProcessing(ctx, doc.ID); err != nil {
		return nil, fmt.Errorf("failed to mark document processing: %w", err)
	}

	log := p.logger.With("documentID", doc.ID, "filename", doc.Filename)
	log.Info("ingestion started")

	chunks, runErr := p.run(ctx, doc, log)
	if runErr != nil {
		return p.fail(ctx, doc, runErr, log)
	}

	totalTokens := 0
	for _, c := range chunks {
		totalTokens += c.TokenCount
	}

	if err := p.repo.MarkIndexed(ctx, doc.ID, totalTokens, len(chunks)); err != nil {
		return p.fail(ctx, doc, fmt.Errorf("failed to mark document indexed: %w", err), log)
	}

	p.observe(StatusIndexed, len(chunks))
	log.Info("ingestion completed", "chunks", len(chunks), "tokens", totalTokens)

	return &Result{
		DocumentID:  doc.ID,
		Status:      StatusIndexed,
		ChunkCount:  len(chunks),
		TotalTokens: totalTokens,
	}, nil
}

func (p *Pipeline) run(ctx context.Context, doc *Document, log *slog.Logger) ([]*Chunk, error) {
	// 1. 取得
	data, err := p.storage.Download(ctx, doc.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("failed to download document: %w", err)
	}

	// 2. 抽出
	text, err := p.extractor.Extract(ctx, data, mimeHint(doc))
	if err != nil {
		return nil, err
	}

	// 3. 空チェック
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyExtraction
	}

	// 4. チャンク化
	pieces := p.chunker.Chunk(text)
	if len(pieces) == 0 {
		return nil, ErrNoChunksProduced
	}
	log.Debug("document chunked", "chunks", len(pieces), "bytes", len(data))

	// 5. 埋め込み
	texts := make([]string, len(pieces))
	for i, piece := range pieces {
		texts[i] = piece.Text
	}
	vectors, err := p.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("failed to embed chunks: %w", err)
	}

	chunks := make([]*Chunk, len(pieces))
	for i, piece := range pieces {
		chunks[i] = &Chunk{
			ID:           uuid.New(),
			DocumentID:   doc.ID,
			TenantID:     doc.TenantID,
			CollectionID: doc.CollectionID,
			Text:         piece.Text,
			TokenCount:   piece.TokenCount,
			ChunkIndex:   piece.ChunkIndex,
			Embedding:    vectors[i],
		}
	}

	// 6. 保存（再実行時は以前のチャンクを置き換える）
	if _, err := p.repo.DeleteChunksByDocument(ctx, doc.ID); err != nil {
		return nil, fmt.Errorf("%w: clear previous chunks: %w", ErrPersistence, err)
	}
	for start := 0; start < len(chunks); start += p.persistBatchSize {
		end := min(start+p.persistBatchSize, len(chunks))
		if err := p.repo.InsertChunks(ctx, chunks[start:end]); err != nil {
			return nil, fmt.Errorf("%w: batch [%d:%d]: %w", ErrPersistence, start, end, err)
		}
	}

	return chunks, nil
}

// fail は保存済みチャンクを削除し、ドキュメントを failed にする
func (p *Pipeline) fail(ctx context.Context, doc *Document, cause error, log *slog.Logger) (*Result, error) {
	// 呼び出し元がキャンセルしても後始末は完了させる
	cleanupCtx := context.WithoutCancel(ctx)

	log.Warn("ingestion failed", "error", cause)
	p.observe(StatusFailed, 0)

	result := &Result{DocumentID: doc.ID, Status: StatusFailed, Err: cause}

	deleted, err := p.repo.DeleteChunksByDocument(cleanupCtx, doc.ID)
	if err != nil {
		return result, errors.Join(cause, fmt.Errorf("failed to clean up chunks: %w", err))
	}
	if deleted > 0 {
		log.Info("removed partially persisted chunks", "chunks", deleted)
	}

	if err := p.repo.MarkFailed(cleanupCtx, doc.ID, cause.Error()); err != nil {
		return result, errors.Join(cause, fmt.Errorf("failed to mark document failed: %w", err))
	}

	return result, nil
}

func (p *Pipeline) observe(status Status, chunks int) {
	if p.observer != nil {
		p.observer.ObserveIngestion(status, chunks)
	}
}

// DeleteDocument はドキュメントとそのチャンク、保存済みファイルを削除する
func (p *Pipeline) DeleteDocument(ctx context.Context, documentID uuid.UUID) error {
	docOpt, err := p.repo.GetDocument(ctx, documentID)
	if err != nil {
		return fmt.Errorf("failed to get document: %w", err)
	}
	doc, ok := docOpt.Get()
	if !ok {
		return fmt.Errorf("%w: %s", ErrDocumentNotFound, documentID)
	}

	if _, err := p.repo.DeleteChunksByDocument(ctx, doc.ID); err != nil {
		return fmt.Errorf("failed to delete chunks: %w", err)
	}
	if err := p.repo.DeleteDocument(ctx, doc.ID); err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}

	// レコード削除後のファイル削除失敗は孤立ファイルが残るだけなので警告に留める
	if err := p.storage.Delete(ctx, doc.StoragePath); err != nil {
		p.logger.Warn("failed to delete stored file", "documentID", doc.ID, "path", doc.StoragePath, "error", err)
	}

	p.logger.Info("document deleted", "documentID", doc.ID)
	return nil
}

// mimeHint はドキュメントのMIMEタイプを返す。未設定の場合は拡張子から推定する
func mimeHint(doc *Document) string {
	if doc.MimeType != "" {
		return doc.MimeType
	}
	return mime.TypeByExtension(strings.ToLower(filepath.Ext(doc.Filename)))
}
