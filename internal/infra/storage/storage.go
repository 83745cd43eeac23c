package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/jinford/kb-rag/internal/core/ingestion"
)

// ErrObjectNotFound は保存先にオブジェクトが存在しない場合に返されます
var ErrObjectNotFound = errors.New("object not found")

// Storage はドキュメント本体の保存先
type Storage interface {
	// Upload はファイルを保存し、保存先パスを返す
	Upload(ctx context.Context, fileID uuid.UUID, filename string, data io.Reader) (string, error)
	// Download は保存先パスの内容をすべて読み込む
	Download(ctx context.Context, storagePath string) ([]byte, error)
	// Delete は保存先パスのファイルを削除する（存在しなくてもエラーにしない）
	Delete(ctx context.Context, storagePath string) error
}

// Type は保存先の種類
type Type string

const (
	TypeLocal Type = "local"
	TypeS3    Type = "s3"
)

// Config は保存先の設定
type Config struct {
	Type         Type
	LocalPath    string
	S3Bucket     string
	S3Region     string
	AWSAccessKey string
	AWSSecretKey string
	S3Endpoint   string // MinIO などS3互換エンドポイント
}

// New は設定に応じた Storage を作成する
func New(ctx context.Context, cfg Config) (Storage, error) {
	switch cfg.Type {
	case TypeLocal, "":
		return NewLocalStorage(cfg.LocalPath)
	case TypeS3:
		return NewS3Storage(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown storage type: %s", cfg.Type)
	}
}

// ContentType は拡張子からMIMEタイプを推定する
func ContentType(filename string) string {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".pdf":
		return "application/pdf"
	case ".txt":
		return "text/plain"
	case ".md", ".markdown":
		return "text/markdown"
	case ".csv":
		return "text/csv"
	case ".json":
		return "application/json"
	default:
		return "application/octet-stream"
	}
}

// generateStoragePath はファイルIDで一意になる保存先パスを生成する
func generateStoragePath(fileID uuid.UUID, filename string) string {
	ext := filepath.Ext(filename)
	baseName := strings.TrimSuffix(filepath.Base(filename), ext)
	baseName = strings.NewReplacer(" ", "_", "/", "_", "\\", "_").Replace(baseName)

	id := fileID.String()
	return fmt.Sprintf("%s/%s_%s%s", id[:2], id, baseName, ext)
}

var (
	_ ingestion.Storage = (Storage)(nil)
	_ Storage           = (*LocalStorage)(nil)
	_ Storage           = (*S3Storage)(nil)
)
