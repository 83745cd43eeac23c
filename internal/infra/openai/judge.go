package openai

import (
	"context"
	"fmt"

	"github.com/jinford/kb-rag/internal/core/eval"
	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/shared"
)

// Judge は JSON モードで回答の一致度を採点する
type Judge struct {
	client *Client
	model  string
}

// NewJudge は新しい Judge を作成する
func NewJudge(client *Client, model string) *Judge {
	if model == "" {
		model = DefaultChatModel
	}
	return &Judge{
		client: client,
		model:  model,
	}
}

// Judge はジャッジの生の応答テキストを返す。解釈は eval.ParseScore が行う
func (j *Judge) Judge(ctx context.Context, expectedAnswer, generatedAnswer string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, DefaultTimeout)
	defer cancel()

	params := openai.ChatCompletionNewParams{
		Model: shared.ChatModel(j.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(eval.JudgeSystemPrompt),
			openai.UserMessage(eval.JudgeUserMessage(expectedAnswer, generatedAnswer)),
		},
		Temperature: openai.Float(0),
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{
				Type: "json_object",
			},
		},
	}

	completion, err := withRetry(ctx, j.client, "judge", func(ctx context.Context) (*openai.ChatCompletion, error) {
		return j.client.api.Chat.Completions.New(ctx, params)
	})
	if err != nil {
		return "", fmt.Errorf("failed to call judge model: %w", err)
	}

	if len(completion.Choices) == 0 {
		return "", fmt.Errorf("no completion choices returned")
	}

	return completion.Choices[0].Message.Content, nil
}

// インターフェース実装の確認
var _ eval.Judge = (*Judge)(nil)
