package generation

import (
	"context"
	"strings"

	"github.com/jinford/kb-rag/internal/core/citation"
)

// Collector はイベントをメモリに溜める Sink
type Collector struct {
	text      strings.Builder
	citations []citation.Entry
	gotCites  bool
	closed    bool
}

var _ Sink = (*Collector)(nil)

func (c *Collector) Text(token string) error {
	c.text.WriteString(token)
	return nil
}

func (c *Collector) Citations(entries []citation.Entry) error {
	c.citations = entries
	c.gotCites = true
	return nil
}

func (c *Collector) Close() error {
	c.closed = true
	return nil
}

// String は受信したテキスト全体を返す
func (c *Collector) String() string {
	return c.text.String()
}

// CitationsReceived は引用イベントを受信したかを返す
func (c *Collector) CitationsReceived() bool {
	return c.gotCites
}

// Drain はストリームを最後まで読み切り、回答全文を返す
func (a *Adapter) Drain(ctx context.Context, req Request) (string, error) {
	var c Collector
	if _, err := a.Run(ctx, req, &c); err != nil {
		return c.String(), err
	}
	return c.String(), nil
}

// Recorder は転送しながら回答全文を記録する Sink ラッパー
type Recorder struct {
	inner Sink
	text  strings.Builder
}

var _ Sink = (*Recorder)(nil)

// NewRecorder は inner に転送する Recorder を作成する
func NewRecorder(inner Sink) *Recorder {
	return &Recorder{inner: inner}
}

func (r *Recorder) Text(token string) error {
	if err := r.inner.Text(token); err != nil {
		return err
	}
	r.text.WriteString(token)
	return nil
}

func (r *Recorder) Citations(entries []citation.Entry) error {
	return r.inner.Citations(entries)
}

func (r *Recorder) Close() error {
	return r.inner.Close()
}

// Answer は転送済みのテキスト全文を返す
func (r *Recorder) Answer() string {
	return r.text.String()
}
