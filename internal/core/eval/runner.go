package eval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jinford/kb-rag/internal/core/citation"
	"github.com/jinford/kb-rag/internal/core/generation"
	"github.com/jinford/kb-rag/internal/core/retrieval"
)

// ErrNoCases は評価ケースが1件もない場合に返されます
var ErrNoCases = errors.New("no eval cases")

// QuestionEmbedder は質問文をベクトル化する
type QuestionEmbedder interface {
	EmbedOne(ctx context.Context, text string) ([]float32, error)
}

// Retriever はスコープ内の関連チャンクを返す
type Retriever interface {
	Retrieve(ctx context.Context, scope retrieval.Scope, vector []float32, opts retrieval.Options) ([]retrieval.RetrievedChunk, error)
}

// Generator は生成ストリームを最後まで読み切って回答全文を返す
type Generator interface {
	Drain(ctx context.Context, req generation.Request) (string, error)
}

// Judge は期待回答と生成回答を比較し、生のJSONテキストを返す
type Judge interface {
	Judge(ctx context.Context, expectedAnswer, generatedAnswer string) (string, error)
}

// Observer はケースごとの評価結果を受け取る
type Observer interface {
	ObserveEvalCase(recallHit bool, score float64, judgeFailed bool)
}

// ProgressFunc はケース完了ごとに呼ばれる（current は完了件数）
type ProgressFunc func(current, total int)

// Runner は評価ケースを 埋め込み→検索→生成→採点 の順に逐次実行する
type Runner struct {
	embedder  QuestionEmbedder
	retriever Retriever
	generator Generator
	judge     Judge
	options   retrieval.Options
	observer  Observer
	logger    *slog.Logger
}

type RunnerOption func(*Runner)

// WithRunnerLogger は Runner にロガーを設定する
func WithRunnerLogger(logger *slog.Logger) RunnerOption {
	return func(r *Runner) {
		r.logger = logger
	}
}

// WithRetrievalOptions は検索パラメータを上書きする（CollectionScope も含む）
func WithRetrievalOptions(opts retrieval.Options) RunnerOption {
	return func(r *Runner) {
		r.options = opts
	}
}

// WithRunnerObserver は計測値の送信先を設定する
func WithRunnerObserver(observer Observer) RunnerOption {
	return func(r *Runner) {
		r.observer = observer
	}
}

// NewRunner は新しいRunnerを作成する
func NewRunner(embedder QuestionEmbedder, retriever Retriever, generator Generator, judge Judge, opts ...RunnerOption) *Runner {
	r := &Runner{
		embedder:  embedder,
		retriever: retriever,
		generator: generator,
		judge:     judge,
		options:   retrieval.EvalDefaults(),
		logger:    slog.Default(),
	}

	for _, opt := range opts {
		opt(r)
	}

	if r.logger == nil {
		r.logger = slog.Default()
	}

	return r
}

// K は検索件数を返す
func (r *Runner) K() int {
	return r.options.K
}

// Options は検索パラメータを返す
func (r *Runner) Options() retrieval.Options {
	return r.options
}

// WithOptions は検索パラメータだけを差し替えた Runner を返す
func (r *Runner) WithOptions(opts retrieval.Options) *Runner {
	clone := *r
	clone.options = opts
	return &clone
}

// RunCase は1ケースを評価する
// 埋め込み・検索・生成の失敗はスコア0の結果とともに error として返す。ジャッジの失敗はスコア0として吸収する
func (r *Runner) RunCase(ctx context.Context, scope retrieval.Scope, c Case) (CaseResult, error) {
	result := CaseResult{
		CaseID:            c.ID,
		Question:          c.Question,
		ExpectedAnswer:    c.ExpectedAnswer,
		RetrievedChunkIDs: []uuid.UUID{},
	}

	// 1. 質問の埋め込み
	vector, err := r.embedder.EmbedOne(ctx, c.Question)
	if err != nil {
		return r.caseFailed(result, fmt.Errorf("failed to embed question: %w", err))
	}

	// 2. 検索
	chunks, err := r.retriever.Retrieve(ctx, scope, vector, r.options)
	if err != nil {
		return r.caseFailed(result, fmt.Errorf("failed to retrieve chunks: %w", err))
	}
	for _, chunk := range chunks {
		result.RetrievedChunkIDs = append(result.RetrievedChunkIDs, chunk.ChunkID)
	}

	// 3. recall 判定
	result.RecallHit = RecallHit(c.ExpectedSourceIDs, result.RetrievedChunkIDs)

	// 4. 回答生成
	assembly := citation.Assemble(chunks)
	answer, err := r.generator.Drain(ctx, generation.Request{
		SystemPrompt: assembly.Prompt,
		UserMessage:  c.Question,
		Citations:    assembly.Citations,
	})
	result.GeneratedAnswer = answer
	if err != nil {
		return r.caseFailed(result, fmt.Errorf("failed to generate answer: %w", err))
	}

	// 5-6. 採点（失敗は0点）
	score, judgeErr := r.score(ctx, c.ExpectedAnswer, answer)
	if judgeErr != nil {
		r.logger.Warn("judge failed, scoring 0", "caseID", c.ID, "error", judgeErr)
	}
	result.JudgeScore = score

	if r.observer != nil {
		r.observer.ObserveEvalCase(result.RecallHit, result.JudgeScore, judgeErr != nil)
	}

	return result, nil
}

func (r *Runner) score(ctx context.Context, expected, generated string) (float64, error) {
	raw, err := r.judge.Judge(ctx, expected, generated)
	if err != nil {
		return 0, err
	}
	return ParseScore(raw)
}

func (r *Runner) caseFailed(result CaseResult, err error) (CaseResult, error) {
	result.JudgeScore = 0
	result.Error = err.Error()
	if r.observer != nil {
		r.observer.ObserveEvalCase(result.RecallHit, 0, false)
	}
	return result, err
}

// RunSet は全ケースを逐次評価し、集計を返す
// 個々のケースの失敗は0点として記録して続行する。ctx のキャンセルのみ全体を中断する
func (r *Runner) RunSet(ctx context.Context, scope retrieval.Scope, cases []Case, progress ProgressFunc) (*Summary, error) {
	if len(cases) == 0 {
		return nil, ErrNoCases
	}

	results := make([]CaseResult, 0, len(cases))
	for i, c := range cases {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("eval run aborted after %d of %d cases: %w", i, len(cases), err)
		}

		result, err := r.RunCase(ctx, scope, c)
		if err != nil {
			r.logger.Warn("eval case failed", "caseID", c.ID, "error", err)
		}
		results = append(results, result)

		if progress != nil {
			progress(i+1, len(cases))
		}
	}

	summary := Summarize(results, r.options.K)
	r.logger.Info("eval run completed",
		"cases", summary.Total,
		"recallAtK", summary.RecallAtK,
		"answerAccuracy", summary.AnswerAccuracy,
	)

	return &summary, nil
}
