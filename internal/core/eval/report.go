package eval

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/jinford/kb-rag/internal/core/retrieval"
	"github.com/samber/mo"
)

// ProgressEvent はケース完了ごとの進捗イベント
type ProgressEvent struct {
	Type    string `json:"type"`
	Current int    `json:"current"`
	Total   int    `json:"total"`
}

// CompleteEvent は評価完了イベント
type CompleteEvent struct {
	Type           string       `json:"type"`
	RunID          *uuid.UUID   `json:"runId,omitempty"`
	RecallAtK      float64      `json:"recallAtK"`
	AnswerAccuracy float64      `json:"answerAccuracy"`
	Total          int          `json:"total"`
	KValue         int          `json:"kValue"`
	Details        []CaseResult `json:"perCaseDetails"`
}

// ErrorEvent は評価全体の中断イベント
type ErrorEvent struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// Reporter は評価イベントの送出先
type Reporter interface {
	Progress(current, total int) error
	Complete(summary *Summary, runID mo.Option[uuid.UUID]) error
	Error(message string) error
}

// RunRecorder は評価結果を永続化する
type RunRecorder interface {
	RecordRun(ctx context.Context, setID uuid.UUID, scope retrieval.Scope, summary *Summary) (uuid.UUID, error)
}

// NDJSONReporter はイベントを1行1JSONで書き出す
type NDJSONReporter struct {
	enc   *json.Encoder
	flush func()
}

var _ Reporter = (*NDJSONReporter)(nil)

// NewNDJSONReporter は w に書き出す Reporter を作成する。flush は各行の後に呼ばれる（nil 可）
func NewNDJSONReporter(w io.Writer, flush func()) *NDJSONReporter {
	return &NDJSONReporter{enc: json.NewEncoder(w), flush: flush}
}

func (r *NDJSONReporter) write(v any) error {
	if err := r.enc.Encode(v); err != nil {
		return fmt.Errorf("failed to write eval event: %w", err)
	}
	if r.flush != nil {
		r.flush()
	}
	return nil
}

func (r *NDJSONReporter) Progress(current, total int) error {
	return r.write(ProgressEvent{Type: "progress", Current: current, Total: total})
}

func (r *NDJSONReporter) Complete(summary *Summary, runID mo.Option[uuid.UUID]) error {
	ev := CompleteEvent{
		Type:           "complete",
		RecallAtK:      summary.RecallAtK,
		AnswerAccuracy: summary.AnswerAccuracy,
		Total:          summary.Total,
		KValue:         summary.KValue,
		Details:        summary.Details,
	}
	if id, ok := runID.Get(); ok {
		ev.RunID = &id
	}
	return r.write(ev)
}

func (r *NDJSONReporter) Error(message string) error {
	return r.write(ErrorEvent{Type: "error", Message: message})
}

// Execute は評価セットを実行して reporter にイベントを送る
// setID が指定され recorder が設定されている場合は結果を保存し、完了イベントに runId を含める
func (r *Runner) Execute(
	ctx context.Context,
	scope retrieval.Scope,
	setID mo.Option[uuid.UUID],
	cases []Case,
	recorder RunRecorder,
	reporter Reporter,
) (*Summary, error) {
	var reportErr error
	summary, err := r.RunSet(ctx, scope, cases, func(current, total int) {
		if err := reporter.Progress(current, total); err != nil && reportErr == nil {
			reportErr = err
		}
	})
	if err != nil {
		_ = reporter.Error(err.Error())
		return nil, err
	}

	runID := mo.None[uuid.UUID]()
	if id, ok := setID.Get(); ok && recorder != nil {
		recorded, err := recorder.RecordRun(ctx, id, scope, summary)
		if err != nil {
			err = fmt.Errorf("failed to record eval run: %w", err)
			_ = reporter.Error(err.Error())
			return summary, err
		}
		runID = mo.Some(recorded)
	}

	if err := reporter.Complete(summary, runID); err != nil {
		return summary, err
	}
	if reportErr != nil {
		r.logger.Warn("failed to report eval progress", "error", reportErr)
	}

	return summary, nil
}
