package extract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"strings"
	"unicode/utf8"

	"github.com/go-enry/go-enry/v2"
	"github.com/jinford/kb-rag/internal/core/ingestion"
	"github.com/ledongthuc/pdf"
)

const (
	FormatPDF  = "pdf"
	FormatText = "text"
)

var (
	// ErrUnsupportedFormat は抽出に対応していない形式
	ErrUnsupportedFormat = errors.New("unsupported document format")
	// ErrBinaryContent はテキストとして扱えないバイナリ
	ErrBinaryContent = errors.New("content is binary")
	// ErrInvalidEncoding は UTF-8 として不正なテキスト
	ErrInvalidEncoding = errors.New("content is not valid UTF-8")
)

var pdfMagic = []byte("%PDF-")

// textMimeTypes は text/* 以外でテキストとして扱うMIMEタイプ
var textMimeTypes = map[string]bool{
	"application/json":     true,
	"application/xml":      true,
	"application/x-yaml":   true,
	"application/yaml":     true,
	"application/markdown": true,
}

// Extractor はMIMEタイプに応じてPDFまたはプレーンテキストから本文を取り出す
type Extractor struct{}

// New は新しい Extractor を作成する
func New() *Extractor {
	return &Extractor{}
}

// Extract は data からテキストを抽出する
// 判別できない場合（MIMEタイプ未指定や application/octet-stream）は先頭のマジックバイトで判定する
func (e *Extractor) Extract(ctx context.Context, data []byte, mimeHint string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	switch format := detectFormat(data, mimeHint); format {
	case FormatPDF:
		return extractPDF(data)
	case FormatText:
		return extractText(data)
	default:
		return "", &ingestion.ExtractionError{
			Format: format,
			Err:    ErrUnsupportedFormat,
		}
	}
}

func detectFormat(data []byte, mimeHint string) string {
	mediaType, _, err := mime.ParseMediaType(mimeHint)
	if err != nil {
		mediaType = strings.ToLower(strings.TrimSpace(mimeHint))
	}

	switch {
	case mediaType == "application/pdf":
		return FormatPDF
	case strings.HasPrefix(mediaType, "text/"), textMimeTypes[mediaType]:
		return FormatText
	case mediaType == "" || mediaType == "application/octet-stream":
		if bytes.HasPrefix(data, pdfMagic) {
			return FormatPDF
		}
		return FormatText
	default:
		return mediaType
	}
}

// extractText はバイナリと不正なUTF-8を拒否し、NULとBOMを除去する
func extractText(data []byte) (string, error) {
	if enry.IsBinary(data) {
		return "", &ingestion.ExtractionError{Format: FormatText, Err: ErrBinaryContent}
	}
	if !utf8.Valid(data) {
		return "", &ingestion.ExtractionError{Format: FormatText, Err: ErrInvalidEncoding}
	}

	text := strings.TrimPrefix(string(data), "\ufeff")
	return strings.ReplaceAll(text, "\x00", ""), nil
}

// extractPDF はPDFのテキストレイヤーを読み出す
// 壊れたPDFでライブラリが panic することがあるため、ExtractionError に変換する
func extractPDF(data []byte) (text string, err error) {
	defer func() {
		if p := recover(); p != nil {
			text = ""
			err = &ingestion.ExtractionError{Format: FormatPDF, Err: fmt.Errorf("malformed pdf: %v", p)}
		}
	}()

	rdr, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", &ingestion.ExtractionError{Format: FormatPDF, Err: err}
	}

	plain, err := rdr.GetPlainText()
	if err != nil {
		return "", &ingestion.ExtractionError{Format: FormatPDF, Err: err}
	}

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, plain); err != nil {
		return "", &ingestion.ExtractionError{Format: FormatPDF, Err: err}
	}

	return strings.ReplaceAll(strings.ToValidUTF8(buf.String(), ""), "\x00", ""), nil
}

var _ ingestion.Extractor = (*Extractor)(nil)
