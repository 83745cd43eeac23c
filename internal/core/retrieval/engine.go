package retrieval

import (
	"bytes"
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"
)

// ErrBackendFailure はベクトルストアまたはドキュメント参照の失敗を表します
var ErrBackendFailure = errors.New("retrieval backend failure")

// VectorStore はテナント単位の近傍検索を提供する
type VectorStore interface {
	MatchChunks(ctx context.Context, q MatchQuery) ([]ChunkRow, error)
}

// DocumentLookup はドキュメントIDからファイル名を引く
// 見つからないIDは結果のマップに含めない
type DocumentLookup interface {
	FilenamesByID(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]string, error)
}

// Observer は検索の計測値を受け取る
type Observer interface {
	ObserveRetrieval(duration time.Duration, results int)
}

// Engine は検索の閾値・順位付けポリシーを実装する
type Engine struct {
	store    VectorStore
	docs     DocumentLookup
	observer Observer
	logger   *slog.Logger
}

type EngineOption func(*Engine)

// WithRetrievalLogger は Engine にロガーを設定する
func WithRetrievalLogger(logger *slog.Logger) EngineOption {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithRetrievalObserver は計測値の送信先を設定する
func WithRetrievalObserver(observer Observer) EngineOption {
	return func(e *Engine) {
		e.observer = observer
	}
}

// NewEngine は新しいEngineを作成する
func NewEngine(store VectorStore, docs DocumentLookup, opts ...EngineOption) *Engine {
	e := &Engine{
		store:  store,
		docs:   docs,
		logger: slog.Default(),
	}

	for _, opt := range opts {
		opt(e)
	}

	if e.logger == nil {
		e.logger = slog.Default()
	}

	return e
}

// Retrieve はスコープ内で閾値以上の類似度を持つチャンクを上位K件返す
// 閾値で絞り込んでから上位K件を取る。該当なしの場合は空スライスを返し、ファイル名参照は行わない
func (e *Engine) Retrieve(ctx context.Context, scope Scope, vector []float32, opts Options) ([]RetrievedChunk, error) {
	if len(vector) == 0 {
		return nil, fmt.Errorf("query vector is empty")
	}
	if opts.K <= 0 {
		return nil, fmt.Errorf("k must be positive: %d", opts.K)
	}
	if opts.Threshold < 0 || opts.Threshold > 1 {
		return nil, fmt.Errorf("threshold must be in [0, 1]: %v", opts.Threshold)
	}

	started := time.Now()

	rows, err := e.store.MatchChunks(ctx, MatchQuery{
		TenantID:      scope.TenantID(),
		Vector:        vector,
		CollectionIDs: opts.CollectionScope,
		Threshold:     opts.Threshold,
		K:             opts.K,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: match chunks: %w", ErrBackendFailure, err)
	}

	rows = rank(rows, opts.Threshold, opts.K)
	if len(rows) == 0 {
		e.observe(started, 0)
		e.logger.Debug("no chunks above threshold", "threshold", opts.Threshold)
		return []RetrievedChunk{}, nil
	}

	filenames, err := e.docs.FilenamesByID(ctx, distinctDocumentIDs(rows))
	if err != nil {
		return nil, fmt.Errorf("%w: lookup filenames: %w", ErrBackendFailure, err)
	}

	results := make([]RetrievedChunk, len(rows))
	for i, row := range rows {
		filename, ok := filenames[row.DocumentID]
		if !ok {
			filename = UnknownDocument
		}
		results[i] = RetrievedChunk{
			ChunkRow: row,
			TenantID: scope.TenantID(),
			Filename: filename,
		}
	}

	e.observe(started, len(results))
	e.logger.Debug("retrieval completed",
		"results", len(results),
		"topSimilarity", results[0].Similarity,
	)

	return results, nil
}

func (e *Engine) observe(started time.Time, results int) {
	if e.observer != nil {
		e.observer.ObserveRetrieval(time.Since(started), results)
	}
}

// rank は閾値未満を除外し、類似度降順・チャンクID昇順に並べて上位k件に切り詰める
func rank(rows []ChunkRow, threshold float64, k int) []ChunkRow {
	kept := make([]ChunkRow, 0, len(rows))
	for _, row := range rows {
		if row.Similarity >= threshold {
			kept = append(kept, row)
		}
	}

	slices.SortFunc(kept, func(a, b ChunkRow) int {
		if c := cmp.Compare(b.Similarity, a.Similarity); c != 0 {
			return c
		}
		return bytes.Compare(a.ChunkID[:], b.ChunkID[:])
	})

	if len(kept) > k {
		kept = kept[:k]
	}
	return kept
}

func distinctDocumentIDs(rows []ChunkRow) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(rows))
	ids := make([]uuid.UUID, 0, len(rows))
	for _, row := range rows {
		if _, ok := seen[row.DocumentID]; ok {
			continue
		}
		seen[row.DocumentID] = struct{}{}
		ids = append(ids, row.DocumentID)
	}
	return ids
}

// MaxSimilarity は結果中の最大類似度を返す。空の場合は0
func MaxSimilarity(chunks []RetrievedChunk) float64 {
	best := 0.0
	for _, c := range chunks {
		best = max(best, c.Similarity)
	}
	return best
}
