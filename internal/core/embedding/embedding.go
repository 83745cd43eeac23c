package embedding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// DefaultBatchSize は1回のAPI呼び出しで送る最大件数
const DefaultBatchSize = 100

// ErrEmbeddingBatchFailure はバッチのいずれかが失敗した場合に返されます
var ErrEmbeddingBatchFailure = errors.New("embedding batch failure")

// BatchError は失敗したバッチの位置を保持します
type BatchError struct {
	Offset int // 入力スライス中のバッチ開始位置
	Size   int
	Err    error
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("embedding batch [%d:%d] failed: %v", e.Offset, e.Offset+e.Size, e.Err)
}

func (e *BatchError) Unwrap() error {
	return e.Err
}

// Is は ErrEmbeddingBatchFailure との比較を可能にします
func (e *BatchError) Is(target error) bool {
	return target == ErrEmbeddingBatchFailure
}

// Client は1回の上流呼び出しでテキスト群をベクトル化するインターフェース
// 戻り値は入力と同じ順序・同じ件数であること
type Client interface {
	CreateEmbeddings(ctx context.Context, texts []string) ([][]float32, error)
}

// Service はバッチ分割と順序保証を担うEmbeddingクライアント
type Service struct {
	client    Client
	batchSize int
	logger    *slog.Logger
}

type ServiceOption func(*Service)

// WithEmbeddingLogger は Service にロガーを設定する
func WithEmbeddingLogger(logger *slog.Logger) ServiceOption {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithBatchSize はバッチサイズを上書きする
func WithBatchSize(size int) ServiceOption {
	return func(s *Service) {
		if size > 0 {
			s.batchSize = size
		}
	}
}

// NewService は新しいServiceを作成する
func NewService(client Client, opts ...ServiceOption) *Service {
	svc := &Service{
		client:    client,
		batchSize: DefaultBatchSize,
		logger:    slog.Default(),
	}

	for _, opt := range opts {
		opt(svc)
	}

	if svc.logger == nil {
		svc.logger = slog.Default()
	}

	return svc
}

// EmbedOne は単一テキストをベクトル化する
func (s *Service) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	vectors, err := s.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch はテキスト群をバッチに分けてベクトル化する
// いずれかのバッチが失敗した時点で全体を失敗とし、部分的な結果は返さない
func (s *Service) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, 0, len(texts))

	for offset := 0; offset < len(texts); offset += s.batchSize {
		end := min(offset+s.batchSize, len(texts))
		batch := texts[offset:end]

		out, err := s.client.CreateEmbeddings(ctx, batch)
		if err != nil {
			return nil, &BatchError{Offset: offset, Size: len(batch), Err: err}
		}
		if len(out) != len(batch) {
			return nil, &BatchError{
				Offset: offset,
				Size:   len(batch),
				Err:    fmt.Errorf("expected %d vectors, got %d", len(batch), len(out)),
			}
		}
		for i, v := range out {
			if len(v) == 0 {
				return nil, &BatchError{Offset: offset, Size: len(batch), Err: fmt.Errorf("empty vector at index %d", offset+i)}
			}
		}

		vectors = append(vectors, out...)

		s.logger.Debug("embedding batch completed",
			"offset", offset,
			"size", len(batch),
			"total", len(texts),
		)
	}

	return vectors, nil
}
