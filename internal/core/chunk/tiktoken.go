package chunk

import (
	"fmt"
	"strings"

	"github.com/pkoukk/tiktoken-go"
)

// DefaultEncoding はtext-embedding-3-smallと互換のエンコーディング
const DefaultEncoding = "cl100k_base"

// TiktokenTokenizer はtiktokenによるTokenizer実装
type TiktokenTokenizer struct {
	encoder *tiktoken.Tiktoken
}

var _ Tokenizer = (*TiktokenTokenizer)(nil)

// NewTiktokenTokenizer は指定エンコーディングのTokenizerを作成します
func NewTiktokenTokenizer(encoding string) (*TiktokenTokenizer, error) {
	if encoding == "" {
		encoding = DefaultEncoding
	}
	encoder, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("failed to get tiktoken encoder: %w", err)
	}
	return &TiktokenTokenizer{encoder: encoder}, nil
}

// Encode はテキストをトークン列に変換します
func (t *TiktokenTokenizer) Encode(text string) []int {
	return t.encoder.Encode(text, nil, nil)
}

// Decode はトークン列をテキストに戻します
// ウィンドウ境界でマルチバイト文字が分断されると不正なUTF-8になるため除去する
func (t *TiktokenTokenizer) Decode(tokens []int) string {
	return strings.ToValidUTF8(t.encoder.Decode(tokens), "")
}

// Count はテキストのトークン数を返します
func (t *TiktokenTokenizer) Count(text string) int {
	return len(t.Encode(text))
}
