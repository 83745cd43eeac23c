package ingestion

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/jinford/kb-rag/internal/core/chunk"
	"github.com/samber/mo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memoryRepo はインメモリのRepository実装
type memoryRepo struct {
	docs          map[uuid.UUID]*Document
	chunks        map[uuid.UUID][]*Chunk
	insertCalls   int
	failInsertOn  int // 1始まり。0なら失敗しない
	markFailedErr error
}

func newMemoryRepo(docs ...*Document) *memoryRepo {
	r := &memoryRepo{docs: map[uuid.UUID]*Document{}, chunks: map[uuid.UUID][]*Chunk{}}
	for _, d := range docs {
		r.docs[d.ID] = d
	}
	return r
}

func (r *memoryRepo) GetDocument(ctx context.Context, id uuid.UUID) (mo.Option[*Document], error) {
	doc, ok := r.docs[id]
	if !ok {
		return mo.None[*Document](), nil
	}
	return mo.Some(doc), nil
}

func (r *memoryRepo) MarkProcessing(ctx context.Context, id uuid.UUID) error {
	r.docs[id].Status = StatusProcessing
	r.docs[id].ErrorMessage = ""
	return nil
}

func (r *memoryRepo) MarkIndexed(ctx context.Context, id uuid.UUID, tokenCount, chunkCount int) error {
	r.docs[id].Status = StatusIndexed
	r.docs[id].TokenCount = tokenCount
	r.docs[id].ChunkCount = chunkCount
	return nil
}

func (r *memoryRepo) MarkFailed(ctx context.Context, id uuid.UUID, message string) error {
	if r.markFailedErr != nil {
		return r.markFailedErr
	}
	r.docs[id].Status = StatusFailed
	r.docs[id].ErrorMessage = message
	return nil
}

func (r *memoryRepo) DeleteDocument(ctx context.Context, id uuid.UUID) error {
	delete(r.docs, id)
	return nil
}

func (r *memoryRepo) InsertChunks(ctx context.Context, chunks []*Chunk) error {
	r.insertCalls++
	if r.insertCalls == r.failInsertOn {
		return errors.New("too many parameters")
	}
	for _, c := range chunks {
		r.chunks[c.DocumentID] = append(r.chunks[c.DocumentID], c)
	}
	return nil
}

func (r *memoryRepo) DeleteChunksByDocument(ctx context.Context, documentID uuid.UUID) (int64, error) {
	n := len(r.chunks[documentID])
	delete(r.chunks, documentID)
	return int64(n), nil
}

type stubStorage struct {
	data    map[string][]byte
	deleted []string
}

func (s *stubStorage) Download(ctx context.Context, path string) ([]byte, error) {
	data, ok := s.data[path]
	if !ok {
		return nil, fmt.Errorf("object %s not found", path)
	}
	return data, nil
}

func (s *stubStorage) Delete(ctx context.Context, path string) error {
	s.deleted = append(s.deleted, path)
	return nil
}

type stubExtractor struct {
	err      error
	lastMime string
}

func (e *stubExtractor) Extract(ctx context.Context, data []byte, mimeHint string) (string, error) {
	e.lastMime = mimeHint
	if e.err != nil {
		return "", e.err
	}
	return string(data), nil
}

// wordChunker は空白区切りの単語を1チャンクとするスタブ
type wordChunker struct{}

func (wordChunker) Chunk(text string) []chunk.Piece {
	words := strings.Fields(text)
	pieces := make([]chunk.Piece, len(words))
	for i, w := range words {
		pieces[i] = chunk.Piece{Text: w, TokenCount: len(w), ChunkIndex: i}
	}
	return pieces
}

type stubEmbedder struct {
	err error
}

func (e *stubEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if e.err != nil {
		return nil, e.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{float32(i), 0.5}
	}
	return out, nil
}

type countingObserver struct {
	statuses []Status
}

func (o *countingObserver) ObserveIngestion(status Status, chunks int) {
	o.statuses = append(o.statuses, status)
}

type fixture struct {
	doc       *Document
	repo      *memoryRepo
	storage   *stubStorage
	extractor *stubExtractor
	embedder  *stubEmbedder
	observer  *countingObserver
}

func newFixture(content string) *fixture {
	doc := &Document{
		ID:           uuid.New(),
		TenantID:     uuid.New(),
		CollectionID: mo.Some(uuid.New()),
		Filename:     "handbook.txt",
		StoragePath:  "tenant/handbook.txt",
		Status:       StatusProcessing,
	}
	return &fixture{
		doc:       doc,
		repo:      newMemoryRepo(doc),
		storage:   &stubStorage{data: map[string][]byte{doc.StoragePath: []byte(content)}},
		extractor: &stubExtractor{},
		embedder:  &stubEmbedder{},
		observer:  &countingObserver{},
	}
}

func (f *fixture) pipeline(opts ...PipelineOption) *Pipeline {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	opts = append([]PipelineOption{WithPipelineLogger(logger), WithPipelineObserver(f.observer)}, opts...)
	return NewPipeline(f.repo, f.storage, f.extractor, wordChunker{}, f.embedder, opts...)
}

func TestPipeline_IngestSuccess(t *testing.T) {
	f := newFixture("alpha beta gamma delta epsilon")

	res, err := f.pipeline(WithPersistBatchSize(2)).Ingest(context.Background(), f.doc.ID)
	require.NoError(t, err)
	require.NoError(t, res.Err)

	assert.Equal(t, StatusIndexed, res.Status)
	assert.Equal(t, 5, res.ChunkCount)
	assert.Equal(t, 5+4+5+5+7, res.TotalTokens)
	assert.Equal(t, 3, f.repo.insertCalls)

	stored := f.repo.chunks[f.doc.ID]
	require.Len(t, stored, 5)
	for i, c := range stored {
		assert.Equal(t, i, c.ChunkIndex)
		assert.Equal(t, f.doc.TenantID, c.TenantID)
		assert.Equal(t, f.doc.CollectionID, c.CollectionID)
		assert.NotEmpty(t, c.Embedding)
	}

	assert.Equal(t, StatusIndexed, f.doc.Status)
	assert.Equal(t, res.TotalTokens, f.doc.TokenCount)
	assert.True(t, strings.HasPrefix(f.extractor.lastMime, "text/plain"))
	assert.Equal(t, []Status{StatusIndexed}, f.observer.statuses)
}

func TestPipeline_FailureAfterTwoOfThreeBatchesLeavesNoChunks(t *testing.T) {
	f := newFixture("alpha beta gamma delta epsilon")
	f.repo.failInsertOn = 3

	res, err := f.pipeline(WithPersistBatchSize(2)).Ingest(context.Background(), f.doc.ID)
	require.NoError(t, err)

	assert.Equal(t, StatusFailed, res.Status)
	assert.ErrorIs(t, res.Err, ErrPersistence)
	assert.Empty(t, f.repo.chunks[f.doc.ID])
	assert.Equal(t, StatusFailed, f.doc.Status)
	assert.Contains(t, f.doc.ErrorMessage, "failed to persist chunks")
	assert.Equal(t, []Status{StatusFailed}, f.observer.statuses)
}

func TestPipeline_StepFailures(t *testing.T) {
	tests := []struct {
		name    string
		content string
		setup   func(f *fixture)
		wantErr error
		wantMsg string
	}{
		{
			name:    "download fails",
			content: "alpha",
			setup:   func(f *fixture) { f.doc.StoragePath = "missing" },
			wantMsg: "failed to download document",
		},
		{
			name:    "extraction fails",
			content: "alpha",
			setup: func(f *fixture) {
				f.extractor.err = &ExtractionError{Format: "pdf", Err: errors.New("malformed xref")}
			},
			wantMsg: "failed to extract pdf text",
		},
		{
			name:    "blank extraction",
			content: "   \n\t",
			wantErr: ErrEmptyExtraction,
		},
		{
			name:    "embedding fails",
			content: "alpha beta",
			setup:   func(f *fixture) { f.embedder.err = errors.New("rate limited") },
			wantMsg: "failed to embed chunks",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(tt.content)
			if tt.setup != nil {
				tt.setup(f)
			}

			res, err := f.pipeline().Ingest(context.Background(), f.doc.ID)
			require.NoError(t, err)
			assert.Equal(t, StatusFailed, res.Status)
			assert.Equal(t, StatusFailed, f.doc.Status)
			assert.Empty(t, f.repo.chunks[f.doc.ID])
			if tt.wantErr != nil {
				assert.ErrorIs(t, res.Err, tt.wantErr)
			}
			if tt.wantMsg != "" {
				assert.Contains(t, f.doc.ErrorMessage, tt.wantMsg)
			}
		})
	}
}

func TestPipeline_NoChunksProduced(t *testing.T) {
	f := newFixture("content")
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	p := NewPipeline(f.repo, f.storage, f.extractor, emptyChunker{}, f.embedder, WithPipelineLogger(logger))

	res, err := p.Ingest(context.Background(), f.doc.ID)
	require.NoError(t, err)
	assert.ErrorIs(t, res.Err, ErrNoChunksProduced)
	assert.Equal(t, StatusFailed, f.doc.Status)
}

type emptyChunker struct{}

func (emptyChunker) Chunk(text string) []chunk.Piece { return []chunk.Piece{} }

func TestPipeline_ReRunReplacesPreviousChunks(t *testing.T) {
	f := newFixture("alpha beta")
	p := f.pipeline()

	_, err := p.Ingest(context.Background(), f.doc.ID)
	require.NoError(t, err)
	res, err := p.Ingest(context.Background(), f.doc.ID)
	require.NoError(t, err)

	assert.Equal(t, StatusIndexed, res.Status)
	assert.Len(t, f.repo.chunks[f.doc.ID], 2)
}

func TestPipeline_DocumentNotFound(t *testing.T) {
	f := newFixture("alpha")

	res, err := f.pipeline().Ingest(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrDocumentNotFound)
	assert.Nil(t, res)
}

func TestPipeline_CleanupFailureIsReported(t *testing.T) {
	f := newFixture("   ")
	f.repo.markFailedErr = errors.New("db down")

	res, err := f.pipeline().Ingest(context.Background(), f.doc.ID)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrEmptyExtraction)
	require.NotNil(t, res)
	assert.Equal(t, StatusFailed, res.Status)
}

func TestPipeline_DeleteDocument(t *testing.T) {
	f := newFixture("alpha beta")
	p := f.pipeline()

	_, err := p.Ingest(context.Background(), f.doc.ID)
	require.NoError(t, err)

	require.NoError(t, p.DeleteDocument(context.Background(), f.doc.ID))
	assert.Empty(t, f.repo.chunks[f.doc.ID])
	assert.NotContains(t, f.repo.docs, f.doc.ID)
	assert.Equal(t, []string{"tenant/handbook.txt"}, f.storage.deleted)

	assert.ErrorIs(t, p.DeleteDocument(context.Background(), f.doc.ID), ErrDocumentNotFound)
}
