package ingestion

import (
	"errors"
	"fmt"
)

var (
	// ErrDocumentNotFound は対象ドキュメントが存在しない場合に返されます
	ErrDocumentNotFound = errors.New("document not found")

	// ErrEmptyExtraction は抽出結果が空白のみの場合に返されます
	ErrEmptyExtraction = errors.New("no text could be extracted from the document")

	// ErrNoChunksProduced はチャンクが1件も生成されなかった場合に返されます
	ErrNoChunksProduced = errors.New("document produced no chunks")

	// ErrPersistence はチャンクの保存に失敗した場合に返されます
	ErrPersistence = errors.New("failed to persist chunks")
)

// ExtractionError は破損したファイルなど抽出処理の失敗を表します
type ExtractionError struct {
	Format string // "pdf", "text" など
	Err    error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("failed to extract %s text: %v", e.Format, e.Err)
}

func (e *ExtractionError) Unwrap() error {
	return e.Err
}
