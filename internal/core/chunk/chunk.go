package chunk

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidConfig は設定が不正な場合に返されます
var ErrInvalidConfig = errors.New("invalid chunker config")

// Tokenizer はテキストとトークン列を相互変換します
// クエリ埋め込み時と同じトークナイザーを使う必要がある
type Tokenizer interface {
	Encode(text string) []int
	Decode(tokens []int) string
}

// Config はチャンク化の設定
type Config struct {
	ChunkSize int // ウィンドウのトークン数
	Overlap   int // 隣接ウィンドウで共有するトークン数
	MinTokens int // 末尾ウィンドウの最小トークン数
}

// DefaultConfig はデフォルトのチャンク設定
func DefaultConfig() Config {
	return Config{
		ChunkSize: 512,
		Overlap:   50,
		MinTokens: 50,
	}
}

// Stride はウィンドウの開始位置の間隔を返します
func (c Config) Stride() int {
	return c.ChunkSize - c.Overlap
}

func (c Config) validate() error {
	if c.ChunkSize <= 0 {
		return fmt.Errorf("%w: chunk size must be positive (got %d)", ErrInvalidConfig, c.ChunkSize)
	}
	if c.Overlap < 0 || c.Overlap >= c.ChunkSize {
		return fmt.Errorf("%w: overlap must be in [0, %d) (got %d)", ErrInvalidConfig, c.ChunkSize, c.Overlap)
	}
	if c.MinTokens < 0 {
		return fmt.Errorf("%w: min tokens must not be negative (got %d)", ErrInvalidConfig, c.MinTokens)
	}
	return nil
}

// Piece はチャンク化の結果1件分
type Piece struct {
	Text       string
	TokenCount int
	ChunkIndex int
}

// Chunker はテキストを重なりのある固定長トークンウィンドウに分割します
type Chunker struct {
	tokenizer Tokenizer
	cfg       Config
}

// New は新しいChunkerを作成します
func New(tokenizer Tokenizer, cfg Config) (*Chunker, error) {
	if tokenizer == nil {
		return nil, fmt.Errorf("%w: tokenizer is nil", ErrInvalidConfig)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Chunker{tokenizer: tokenizer, cfg: cfg}, nil
}

// Config は現在の設定を返します
func (c *Chunker) Config() Config {
	return c.cfg
}

// Chunk はテキストをウィンドウに分割します
// ウィンドウは 0, stride, 2*stride, ... から始まる。空白のみの入力は空スライスを返す。
// MinTokens 未満の末尾ウィンドウは、それが唯一のチャンクでない限り捨てる
func (c *Chunker) Chunk(text string) []Piece {
	if strings.TrimSpace(text) == "" {
		return []Piece{}
	}

	tokens := c.tokenizer.Encode(text)
	if len(tokens) == 0 {
		return []Piece{}
	}

	stride := c.cfg.Stride()
	pieces := make([]Piece, 0, len(tokens)/stride+1)

	for start := 0; start < len(tokens); start += stride {
		end := min(start+c.cfg.ChunkSize, len(tokens))
		window := tokens[start:end]

		if len(window) < c.cfg.MinTokens && len(pieces) > 0 {
			break
		}

		pieces = append(pieces, Piece{
			Text:       c.tokenizer.Decode(window),
			TokenCount: len(window),
			ChunkIndex: len(pieces),
		})
	}

	return pieces
}

// TotalTokens はチャンク群のトークン数合計を返します
func TotalTokens(pieces []Piece) int {
	total := 0
	for _, p := range pieces {
		total += p.TokenCount
	}
	return total
}
