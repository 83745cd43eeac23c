package generation

import (
	"context"
	"errors"

	"github.com/jinford/kb-rag/internal/core/citation"
)

var (
	// ErrUpstream は上流の生成ストリームが失敗した場合に返されます
	ErrUpstream = errors.New("upstream generation failure")

	// ErrConsumerDetached は受信側が途中で切断した場合に返されます
	ErrConsumerDetached = errors.New("consumer detached")
)

// State は1回の生成呼び出しの状態
type State int

const (
	StateStreaming State = iota
	StateDone
	StateClosedOnError
)

func (s State) String() string {
	switch s {
	case StateStreaming:
		return "streaming"
	case StateDone:
		return "done"
	case StateClosedOnError:
		return "closed_on_error"
	default:
		return "unknown"
	}
}

// TokenStream は上流の補完APIが返すトークンストリーム
// Next が false を返した後に Err で終了理由を確認する
type TokenStream interface {
	Next() bool
	Current() string
	Err() error
	Close() error
}

// Streamer はシステムプロンプトとユーザーメッセージからトークンストリームを開始する
type Streamer interface {
	Stream(ctx context.Context, systemPrompt, userMessage string) (TokenStream, error)
}

// Sink は送出側のイベントを受け取る
// Text はトークンごとに、Citations は正常完了時に1回だけ、Close は必ず1回呼ばれる
type Sink interface {
	Text(token string) error
	Citations(entries []citation.Entry) error
	Close() error
}

// Request は1回の生成に必要な入力
type Request struct {
	SystemPrompt string
	UserMessage  string
	Citations    []citation.Entry
}

// Result は生成の終了状態
type Result struct {
	State  State
	Tokens int // 送出したトークン数
}
