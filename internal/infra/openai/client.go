package openai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

const (
	// DefaultChatModel は回答生成・ジャッジで使用するデフォルトモデル
	DefaultChatModel = "gpt-4o-mini"

	// DefaultTimeout は非ストリーミングAPI呼び出しのデフォルトタイムアウト
	DefaultTimeout = 60 * time.Second

	// MaxRetries はレート制限エラー時の最大リトライ回数
	MaxRetries = 3

	// BaseBackoff はExponential Backoffの基底時間
	BaseBackoff = 2 * time.Second

	// MaxBackoff はExponential Backoffの最大待機時間
	MaxBackoff = 32 * time.Second
)

var (
	// ErrAPIKeyNotSet はAPIキーが設定されていない場合のエラー
	ErrAPIKeyNotSet = errors.New("OpenAI API key not set: please set OPENAI_API_KEY environment variable")

	// ErrMaxRetriesExceeded は最大リトライ回数を超過した場合のエラー
	ErrMaxRetriesExceeded = errors.New("max retries exceeded")
)

// Client は Embedder / ChatStreamer / Judge が共有する OpenAI クライアント
// レート制限（429）のリトライはSDKではなくこちらで制御する
type Client struct {
	api         openai.Client
	baseBackoff time.Duration
	logger      *slog.Logger
}

type clientOptions struct {
	baseURL     string
	httpClient  *http.Client
	baseBackoff time.Duration
	logger      *slog.Logger
}

// ClientOption は Client のオプション設定
type ClientOption func(*clientOptions)

// WithBaseURL はAPIのベースURLを上書きする（互換サーバーやテスト用）
func WithBaseURL(baseURL string) ClientOption {
	return func(o *clientOptions) {
		o.baseURL = baseURL
	}
}

// WithHTTPClient はHTTPクライアントを上書きする
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(o *clientOptions) {
		o.httpClient = httpClient
	}
}

// WithBaseBackoff はリトライ待機の基底時間を上書きする
func WithBaseBackoff(d time.Duration) ClientOption {
	return func(o *clientOptions) {
		o.baseBackoff = d
	}
}

// WithClientLogger はロガーを設定する
func WithClientLogger(logger *slog.Logger) ClientOption {
	return func(o *clientOptions) {
		o.logger = logger
	}
}

// NewClient は新しい Client を作成する
func NewClient(apiKey string, opts ...ClientOption) (*Client, error) {
	if apiKey == "" {
		return nil, ErrAPIKeyNotSet
	}

	options := clientOptions{
		baseBackoff: BaseBackoff,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(&options)
	}

	requestOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if options.baseURL != "" {
		requestOpts = append(requestOpts, option.WithBaseURL(options.baseURL))
	}
	if options.httpClient != nil {
		requestOpts = append(requestOpts, option.WithHTTPClient(options.httpClient))
	}

	logger := options.logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		api:         openai.NewClient(requestOpts...),
		baseBackoff: options.baseBackoff,
		logger:      logger,
	}, nil
}

// withRetry はレート制限エラーのときだけ指数バックオフで再試行する
func withRetry[T any](ctx context.Context, c *Client, operation string, call func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error

	for attempt := 0; attempt <= MaxRetries; attempt++ {
		if attempt > 0 {
			wait := backoff(c.baseBackoff, attempt)
			c.logger.Warn("rate limited by OpenAI, retrying", "operation", operation, "attempt", attempt, "wait", wait)

			select {
			case <-ctx.Done():
				return zero, ctx.Err()
			case <-time.After(wait):
			}
		}

		result, err := call(ctx)
		if err == nil {
			return result, nil
		}

		lastErr = err
		if !isRateLimitError(err) {
			return zero, err
		}
	}

	return zero, fmt.Errorf("%w: %v", ErrMaxRetriesExceeded, lastErr)
}

func backoff(base time.Duration, attempt int) time.Duration {
	d := time.Duration(math.Pow(2, float64(attempt-1))) * base
	return min(d, MaxBackoff)
}

func isRateLimitError(err error) bool {
	if err == nil {
		return false
	}

	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == http.StatusTooManyRequests
	}

	return false
}
