package ask

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jinford/kb-rag/internal/core/citation"
	"github.com/jinford/kb-rag/internal/core/generation"
	"github.com/jinford/kb-rag/internal/core/retrieval"
)

// DefaultMissingKBThreshold はこれ未満の最大類似度をナレッジ不足として記録する閾値
const DefaultMissingKBThreshold = 0.6

// ErrEmptyQuestion は質問文が空の場合に返されます
var ErrEmptyQuestion = errors.New("question is required")

// QuestionEmbedder は質問文をベクトル化する
type QuestionEmbedder interface {
	EmbedOne(ctx context.Context, text string) ([]float32, error)
}

// Retriever はスコープ内の関連チャンクを返す
type Retriever interface {
	Retrieve(ctx context.Context, scope retrieval.Scope, vector []float32, opts retrieval.Options) ([]retrieval.RetrievedChunk, error)
}

// StreamRunner は生成ストリームを sink に中継する
type StreamRunner interface {
	Run(ctx context.Context, req generation.Request, sink generation.Sink) (generation.Result, error)
}

// ExchangeRecorder は会話とナレッジ不足を記録する
type ExchangeRecorder interface {
	RecordExchange(ctx context.Context, ex Exchange) error
	RecordKnowledgeGap(ctx context.Context, gap KnowledgeGap) error
}

// TaskRunner はレスポンスのライフサイクルから切り離してタスクを実行する
type TaskRunner interface {
	Go(name string, fn func(ctx context.Context) error)
}

// AskService は質問応答のビジネスロジックを提供する
type AskService struct {
	embedder           QuestionEmbedder
	retriever          Retriever
	streams            StreamRunner
	recorder           ExchangeRecorder
	tasks              TaskRunner
	defaults           retrieval.Options
	missingKBThreshold float64
	logger             *slog.Logger
}

type AskServiceOption func(*AskService)

// WithAskLogger は AskService にロガーを設定する
func WithAskLogger(logger *slog.Logger) AskServiceOption {
	return func(s *AskService) {
		s.logger = logger
	}
}

// WithAskDefaults は検索パラメータのデフォルト値を上書きする
func WithAskDefaults(opts retrieval.Options) AskServiceOption {
	return func(s *AskService) {
		s.defaults = opts
	}
}

// WithMissingKBThreshold はナレッジ不足を記録する閾値を上書きする
func WithMissingKBThreshold(threshold float64) AskServiceOption {
	return func(s *AskService) {
		s.missingKBThreshold = threshold
	}
}

// WithExchangeRecording は回答完了後の記録先と実行基盤を設定する
func WithExchangeRecording(recorder ExchangeRecorder, tasks TaskRunner) AskServiceOption {
	return func(s *AskService) {
		s.recorder = recorder
		s.tasks = tasks
	}
}

// NewAskService は新しいAskServiceを作成する
func NewAskService(
	embedder QuestionEmbedder,
	retriever Retriever,
	streams StreamRunner,
	opts ...AskServiceOption,
) *AskService {
	svc := &AskService{
		embedder:           embedder,
		retriever:          retriever,
		streams:            streams,
		defaults:           retrieval.ChatDefaults(),
		missingKBThreshold: DefaultMissingKBThreshold,
		logger:             slog.Default(),
	}

	for _, opt := range opts {
		opt(svc)
	}

	if svc.logger == nil {
		svc.logger = slog.Default()
	}

	return svc
}

// Ask は質問に対して根拠付きの回答を sink にストリーミングする
// 埋め込み・検索の失敗はストリーム開始前に error として返す（根拠のない回答は生成しない）。
// ストリームが正常完了した場合のみ、会話とナレッジ不足の記録をバックグラウンドで行う
func (s *AskService) Ask(ctx context.Context, scope retrieval.Scope, params AskParams, sink generation.Sink) (*AskResult, error) {
	if params.Question == "" {
		return nil, ErrEmptyQuestion
	}
	opts := params.Options.OrElse(s.defaults)

	// 1. 質問の埋め込み
	vector, err := s.embedder.EmbedOne(ctx, params.Question)
	if err != nil {
		return nil, fmt.Errorf("failed to embed question: %w", err)
	}

	// 2. 検索
	chunks, err := s.retriever.Retrieve(ctx, scope, vector, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve chunks: %w", err)
	}

	s.logger.Info("retrieval completed",
		"tenantID", scope.TenantID(),
		"chunks", len(chunks),
		"k", opts.K,
		"threshold", opts.Threshold,
	)

	// 3. プロンプト組み立て
	assembly := citation.Assemble(chunks)

	// 4. ストリーミング生成
	rec := generation.NewRecorder(sink)
	res, streamErr := s.streams.Run(ctx, generation.Request{
		SystemPrompt: assembly.Prompt,
		UserMessage:  params.Question,
		Citations:    assembly.Citations,
	}, rec)

	result := &AskResult{
		Answer:        rec.Answer(),
		Citations:     assembly.Citations,
		State:         res.State,
		MaxSimilarity: retrieval.MaxSimilarity(chunks),
	}

	if streamErr != nil {
		return result, streamErr
	}

	// 5. 記録（レスポンス完了後に切り離して実行）
	// 会話はスレッド指定時のみ、ナレッジ不足はスレッドの有無に関わらず記録する
	if s.recorder != nil && s.tasks != nil {
		threadID, hasThread := params.ThreadID.Get()
		gap, hasGap := s.knowledgeGap(scope, params.Question, result.MaxSimilarity)
		ex := Exchange{
			TenantID:  scope.TenantID(),
			ThreadID:  threadID,
			Question:  params.Question,
			Answer:    result.Answer,
			Citations: assembly.Citations,
		}

		switch {
		case hasThread:
			s.tasks.Go("record-exchange", func(ctx context.Context) error {
				if err := s.recorder.RecordExchange(ctx, ex); err != nil {
					return fmt.Errorf("failed to record exchange: %w", err)
				}
				if hasGap {
					if err := s.recorder.RecordKnowledgeGap(ctx, gap); err != nil {
						return fmt.Errorf("failed to record knowledge gap: %w", err)
					}
				}
				return nil
			})
		case hasGap:
			s.tasks.Go("record-knowledge-gap", func(ctx context.Context) error {
				if err := s.recorder.RecordKnowledgeGap(ctx, gap); err != nil {
					return fmt.Errorf("failed to record knowledge gap: %w", err)
				}
				return nil
			})
		}
	}

	return result, nil
}

func (s *AskService) knowledgeGap(scope retrieval.Scope, question string, maxSimilarity float64) (KnowledgeGap, bool) {
	if maxSimilarity >= s.missingKBThreshold {
		return KnowledgeGap{}, false
	}
	return KnowledgeGap{
		TenantID: scope.TenantID(),
		Question: question,
		Context:  fmt.Sprintf("Best similarity: %.1f%%", maxSimilarity*100),
	}, true
}
