package suggest

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jinford/kb-rag/internal/core/citation"
	"github.com/jinford/kb-rag/internal/core/retrieval"
)

// QuestionEmbedder はテキストをベクトル化する
type QuestionEmbedder interface {
	EmbedOne(ctx context.Context, text string) ([]float32, error)
}

// Retriever はスコープ内の関連チャンクを返す
type Retriever interface {
	Retrieve(ctx context.Context, scope retrieval.Scope, vector []float32, opts retrieval.Options) ([]retrieval.RetrievedChunk, error)
}

// Suggestion はチケットに関連するナレッジベースの一節
type Suggestion struct {
	ChunkID    string  `json:"chunkId"`
	DocumentID string  `json:"documentId"`
	Filename   string  `json:"filename"`
	Snippet    string  `json:"snippet"`
	Similarity float64 `json:"similarity"`
}

// Service はサポートチケットのタイトルから関連記事を提案する
type Service struct {
	embedder  QuestionEmbedder
	retriever Retriever
	defaults  retrieval.Options
	logger    *slog.Logger
}

type ServiceOption func(*Service)

// WithSuggestLogger は Service にロガーを設定する
func WithSuggestLogger(logger *slog.Logger) ServiceOption {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithSuggestDefaults は検索パラメータのデフォルト値を上書きする
func WithSuggestDefaults(opts retrieval.Options) ServiceOption {
	return func(s *Service) {
		s.defaults = opts
	}
}

// NewService は新しいServiceを作成する
func NewService(embedder QuestionEmbedder, retriever Retriever, opts ...ServiceOption) *Service {
	s := &Service{
		embedder:  embedder,
		retriever: retriever,
		defaults:  retrieval.SuggestDefaults(),
		logger:    slog.Default(),
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.logger == nil {
		s.logger = slog.Default()
	}

	return s
}

// Suggest はテキストに近いチャンクを返す。空白のみの入力は埋め込みを呼ばずに空を返す
func (s *Service) Suggest(ctx context.Context, scope retrieval.Scope, text string) ([]Suggestion, error) {
	if strings.TrimSpace(text) == "" {
		return []Suggestion{}, nil
	}

	vector, err := s.embedder.EmbedOne(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("failed to embed ticket text: %w", err)
	}

	chunks, err := s.retriever.Retrieve(ctx, scope, vector, s.defaults)
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve suggestions: %w", err)
	}

	suggestions := make([]Suggestion, len(chunks))
	for i, c := range chunks {
		suggestions[i] = Suggestion{
			ChunkID:    c.ChunkID.String(),
			DocumentID: c.DocumentID.String(),
			Filename:   c.Filename,
			Snippet:    citation.Snippet(c.Text),
			Similarity: c.Similarity,
		}
	}

	s.logger.Debug("suggestions retrieved", "tenantID", scope.TenantID(), "count", len(suggestions))
	return suggestions, nil
}
