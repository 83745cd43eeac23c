package eval

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// JudgeSystemPrompt はジャッジモデルへのシステムプロンプト
const JudgeSystemPrompt = "You are an evaluator. Score how well the generated answer matches the expected answer on a scale from 0.0 to 1.0. " +
	"Consider semantic similarity, completeness, and correctness. " +
	`Respond with JSON only: {"score": 0.85}`

// ErrJudgeParse はジャッジの応答を解釈できない場合に返されます
var ErrJudgeParse = errors.New("judge parse failure")

// JudgeUserMessage はジャッジに渡すユーザーメッセージを組み立てる
func JudgeUserMessage(expectedAnswer, generatedAnswer string) string {
	return fmt.Sprintf("Expected answer: %s\n\nGenerated answer: %s", expectedAnswer, generatedAnswer)
}

// ParseScore はジャッジの応答 {"score": x} を解釈し、[0,1] に丸めて返す
func ParseScore(raw string) (float64, error) {
	var payload struct {
		Score *float64 `json:"score"`
	}
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &payload); err != nil {
		return 0, fmt.Errorf("%w: %w", ErrJudgeParse, err)
	}
	if payload.Score == nil {
		return 0, fmt.Errorf("%w: missing numeric score in %q", ErrJudgeParse, raw)
	}
	return Clamp(*payload.Score), nil
}

// Clamp はスコアを [0,1] に収める
func Clamp(score float64) float64 {
	return min(1, max(0, score))
}
