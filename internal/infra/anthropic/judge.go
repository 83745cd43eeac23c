package anthropic

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/jinford/kb-rag/internal/core/eval"
)

const (
	// DefaultModel はジャッジに使用するデフォルトモデル
	DefaultModel = "claude-3-5-haiku-latest"

	// DefaultMaxTokens はジャッジ応答の最大トークン数（スコアJSONのみ）
	DefaultMaxTokens = 64

	// DefaultTimeout はAPI呼び出しのデフォルトタイムアウト
	DefaultTimeout = 60 * time.Second
)

// ErrAPIKeyNotSet はAPIキーが設定されていない場合のエラー
var ErrAPIKeyNotSet = errors.New("Anthropic API key not set: please set ANTHROPIC_API_KEY environment variable")

// Judge は Anthropic Messages API で回答の一致度を採点する
type Judge struct {
	client anthropic.Client
	model  string
}

type judgeOptions struct {
	model   string
	baseURL string
}

// JudgeOption は Judge のオプション設定
type JudgeOption func(*judgeOptions)

// WithModel はモデル名を上書きする
func WithModel(model string) JudgeOption {
	return func(o *judgeOptions) {
		if model != "" {
			o.model = model
		}
	}
}

// WithBaseURL はAPIのベースURLを上書きする
func WithBaseURL(baseURL string) JudgeOption {
	return func(o *judgeOptions) {
		o.baseURL = baseURL
	}
}

// NewJudge は新しい Judge を作成する
func NewJudge(apiKey string, opts ...JudgeOption) (*Judge, error) {
	if apiKey == "" {
		return nil, ErrAPIKeyNotSet
	}

	options := judgeOptions{model: DefaultModel}
	for _, opt := range opts {
		opt(&options)
	}

	requestOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if strings.TrimSpace(options.baseURL) != "" {
		requestOpts = append(requestOpts, option.WithBaseURL(options.baseURL))
	}

	return &Judge{
		client: anthropic.NewClient(requestOpts...),
		model:  options.model,
	}, nil
}

// Judge はテキストブロックを連結した生の応答を返す。解釈は eval.ParseScore が行う
func (j *Judge) Judge(ctx context.Context, expectedAnswer, generatedAnswer string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, DefaultTimeout)
	defer cancel()

	message, err := j.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(j.model),
		MaxTokens: DefaultMaxTokens,
		System: []anthropic.TextBlockParam{
			{Text: eval.JudgeSystemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(eval.JudgeUserMessage(expectedAnswer, generatedAnswer))),
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to call judge model: %w", err)
	}

	var text strings.Builder
	for _, block := range message.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	if text.Len() == 0 {
		return "", fmt.Errorf("judge returned no text content")
	}

	return text.String(), nil
}

// インターフェース実装の確認
var _ eval.Judge = (*Judge)(nil)
