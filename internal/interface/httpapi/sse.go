package httpapi

import (
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gin-contrib/sse"
	"github.com/gin-gonic/gin"
	"github.com/jinford/kb-rag/internal/core/citation"
	"github.com/jinford/kb-rag/internal/core/generation"
)

// citationsEvent は引用表を送るSSEイベント名
const citationsEvent = "citations"

// sseSink は生成イベントを Server-Sent Events として書き出す
// ヘッダーは最初のイベントで確定するため、開始前の失敗は通常のエラーレスポンスにできる
type sseSink struct {
	c       *gin.Context
	started bool
}

var _ generation.Sink = (*sseSink)(nil)

func newSSESink(c *gin.Context) *sseSink {
	return &sseSink{c: c}
}

func (s *sseSink) start() {
	if s.started {
		return
	}
	s.started = true
	h := s.c.Writer.Header()
	h.Set("Content-Type", sse.ContentType)
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	s.c.Status(http.StatusOK)
	s.c.Writer.WriteHeaderNow()
}

func (s *sseSink) write(ev sse.Event) error {
	s.start()
	if err := sse.Encode(s.c.Writer, ev); err != nil {
		return fmt.Errorf("failed to write sse event: %w", err)
	}
	s.c.Writer.Flush()
	return nil
}

// Text は1トークンを data フレームとして書き出す
// 行頭の空白を保つため "data: " の後に本文を置き、改行を含む場合は複数の data 行に分ける
func (s *sseSink) Text(token string) error {
	s.start()
	if _, err := io.WriteString(s.c.Writer, encodeData(token)); err != nil {
		return fmt.Errorf("failed to write sse event: %w", err)
	}
	s.c.Writer.Flush()
	return nil
}

func (s *sseSink) Citations(entries []citation.Entry) error {
	if entries == nil {
		entries = []citation.Entry{}
	}
	return s.write(sse.Event{Event: citationsEvent, Data: entries})
}

func (s *sseSink) Close() error {
	return nil
}

// Started はレスポンスの送信を開始したかを返す
func (s *sseSink) Started() bool {
	return s.started
}

var newlineNormalizer = strings.NewReplacer("\r\n", "\n", "\r", "\n")

func encodeData(text string) string {
	var b strings.Builder
	for _, line := range strings.Split(newlineNormalizer.Replace(text), "\n") {
		b.WriteString("data: ")
		b.WriteString(line)
		b.WriteString("\n")
	}
	b.WriteString("\n")
	return b.String()
}
