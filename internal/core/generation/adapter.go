package generation

import (
	"context"
	"fmt"
	"log/slog"
)

// Observer はストリームの終了状態を受け取る
type Observer interface {
	ObserveStream(state State, tokens int)
}

// Adapter は上流のトークンストリームをテキストイベントと末尾の引用イベントに変換する
type Adapter struct {
	streamer Streamer
	observer Observer
	logger   *slog.Logger
}

type AdapterOption func(*Adapter)

// WithAdapterLogger は Adapter にロガーを設定する
func WithAdapterLogger(logger *slog.Logger) AdapterOption {
	return func(a *Adapter) {
		a.logger = logger
	}
}

// WithAdapterObserver は計測値の送信先を設定する
func WithAdapterObserver(observer Observer) AdapterOption {
	return func(a *Adapter) {
		a.observer = observer
	}
}

// NewAdapter は新しいAdapterを作成する
func NewAdapter(streamer Streamer, opts ...AdapterOption) *Adapter {
	a := &Adapter{
		streamer: streamer,
		logger:   slog.Default(),
	}

	for _, opt := range opts {
		opt(a)
	}

	if a.logger == nil {
		a.logger = slog.Default()
	}

	return a
}

// Run は上流ストリームを sink に中継する
// トークンは受け取るたびに転送し、上流の完了後に引用イベントを1回だけ送る。
// 上流のエラー時は引用イベントを送らずに閉じる。sink への書き込みが失敗した場合や
// ctx がキャンセルされた場合は上流の読み出しを中断する
func (a *Adapter) Run(ctx context.Context, req Request, sink Sink) (Result, error) {
	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	res := Result{State: StateStreaming}
	defer func() {
		if err := sink.Close(); err != nil {
			a.logger.Warn("failed to close sink", "error", err)
		}
		if a.observer != nil {
			a.observer.ObserveStream(res.State, res.Tokens)
		}
	}()

	stream, err := a.streamer.Stream(streamCtx, req.SystemPrompt, req.UserMessage)
	if err != nil {
		res.State = StateClosedOnError
		return res, fmt.Errorf("%w: %w", ErrUpstream, err)
	}
	defer func() {
		if err := stream.Close(); err != nil {
			a.logger.Debug("failed to close upstream stream", "error", err)
		}
	}()

	for {
		if ctx.Err() != nil {
			res.State = StateClosedOnError
			return res, fmt.Errorf("%w: %w", ErrConsumerDetached, ctx.Err())
		}
		if !stream.Next() {
			break
		}
		if err := sink.Text(stream.Current()); err != nil {
			cancel()
			res.State = StateClosedOnError
			a.logger.Info("consumer detached during stream", "tokens", res.Tokens, "error", err)
			return res, fmt.Errorf("%w: %w", ErrConsumerDetached, err)
		}
		res.Tokens++
	}

	if err := stream.Err(); err != nil {
		res.State = StateClosedOnError
		if ctx.Err() != nil {
			return res, fmt.Errorf("%w: %w", ErrConsumerDetached, err)
		}
		a.logger.Warn("upstream stream failed", "tokens", res.Tokens, "error", err)
		return res, fmt.Errorf("%w: %w", ErrUpstream, err)
	}

	if err := sink.Citations(req.Citations); err != nil {
		res.State = StateClosedOnError
		return res, fmt.Errorf("%w: %w", ErrConsumerDetached, err)
	}

	res.State = StateDone
	return res, nil
}
