package openai

import (
	"context"
	"fmt"

	"github.com/jinford/kb-rag/internal/core/generation"
	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/shared"
)

// ChatStreamer は Chat Completions のストリーミングで回答トークンを返す
type ChatStreamer struct {
	client *Client
	model  string
}

// NewChatStreamer は新しい ChatStreamer を作成する
func NewChatStreamer(client *Client, model string) *ChatStreamer {
	if model == "" {
		model = DefaultChatModel
	}
	return &ChatStreamer{
		client: client,
		model:  model,
	}
}

// Stream はストリーミング生成を開始する
// 接続エラーは ssestream 側で保持され、最初の Next で false / Err として現れる
func (s *ChatStreamer) Stream(ctx context.Context, systemPrompt, userMessage string) (generation.TokenStream, error) {
	params := openai.ChatCompletionNewParams{
		Model: shared.ChatModel(s.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(userMessage),
		},
	}

	stream := s.client.api.Chat.Completions.NewStreaming(ctx, params)
	if stream == nil {
		return nil, fmt.Errorf("failed to open completion stream")
	}

	return &tokenStream{chunks: stream}, nil
}

// chunkStream は ssestream.Stream[openai.ChatCompletionChunk] のうち使用する部分
type chunkStream interface {
	Next() bool
	Current() openai.ChatCompletionChunk
	Err() error
	Close() error
}

// tokenStream は空のデルタ（role のみ、finish_reason のみ等）を読み飛ばす
type tokenStream struct {
	chunks  chunkStream
	current string
}

func (t *tokenStream) Next() bool {
	for t.chunks.Next() {
		chunk := t.chunks.Current()
		if len(chunk.Choices) == 0 {
			continue
		}
		content := chunk.Choices[0].Delta.Content
		if content == "" {
			continue
		}
		t.current = content
		return true
	}
	return false
}

func (t *tokenStream) Current() string {
	return t.current
}

func (t *tokenStream) Err() error {
	return t.chunks.Err()
}

func (t *tokenStream) Close() error {
	return t.chunks.Close()
}

// インターフェース実装の確認
var (
	_ generation.Streamer    = (*ChatStreamer)(nil)
	_ generation.TokenStream = (*tokenStream)(nil)
)
