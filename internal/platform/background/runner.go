package background

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// DefaultTaskTimeout は1タスクあたりの実行時間の上限
const DefaultTaskTimeout = 30 * time.Second

// TaskError はバックグラウンドタスクの失敗
type TaskError struct {
	Name string
	Err  error
}

func (e TaskError) Error() string {
	return fmt.Sprintf("background task %s failed: %v", e.Name, e.Err)
}

// Runner はリクエストのライフサイクルから切り離してタスクを実行する
// タスクの失敗はログに記録し、Errors チャネルにも送る（受信者がいなければ破棄）
type Runner struct {
	base    context.Context
	timeout time.Duration
	errs    chan TaskError
	wg      sync.WaitGroup
	logger  *slog.Logger
}

type RunnerOption func(*Runner)

// WithRunnerLogger は Runner にロガーを設定する
func WithRunnerLogger(logger *slog.Logger) RunnerOption {
	return func(r *Runner) {
		r.logger = logger
	}
}

// WithTaskTimeout はタスクのタイムアウトを上書きする
func WithTaskTimeout(timeout time.Duration) RunnerOption {
	return func(r *Runner) {
		if timeout > 0 {
			r.timeout = timeout
		}
	}
}

// NewRunner は新しいRunnerを作成する
// base のキャンセルは伝播しない（値のみ引き継ぐ）
func NewRunner(base context.Context, opts ...RunnerOption) *Runner {
	r := &Runner{
		base:    context.WithoutCancel(base),
		timeout: DefaultTaskTimeout,
		errs:    make(chan TaskError, 16),
		logger:  slog.Default(),
	}

	for _, opt := range opts {
		opt(r)
	}

	if r.logger == nil {
		r.logger = slog.Default()
	}

	return r
}

// Go はタスクを非同期に実行する
func (r *Runner) Go(name string, fn func(ctx context.Context) error) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()

		ctx, cancel := context.WithTimeout(r.base, r.timeout)
		defer cancel()

		err := r.run(ctx, fn)
		if err == nil {
			return
		}

		r.logger.Error("background task failed", "task", name, "error", err)
		select {
		case r.errs <- TaskError{Name: name, Err: err}:
		default:
		}
	}()
}

func (r *Runner) run(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return fn(ctx)
}

// Errors はタスク失敗の通知チャネルを返す
func (r *Runner) Errors() <-chan TaskError {
	return r.errs
}

// Wait は実行中のタスクの完了を待つ。ctx が先に終了した場合は ctx.Err を返す
func (r *Runner) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
