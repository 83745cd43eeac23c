package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/google/uuid"
	"github.com/urfave/cli/v3"

	"github.com/jinford/kb-rag/internal/platform/config"
	"github.com/jinford/kb-rag/internal/platform/container"
	"github.com/jinford/kb-rag/internal/platform/logger"
)

// AppContext はコマンド実行に必要な共通コンテキストを保持する
type AppContext struct {
	Container *container.ServiceContainer
}

// NewAppContext は設定ファイルを読み込み、DBに接続して AppContext を作成する
func NewAppContext(ctx context.Context, envFile string) (*AppContext, error) {
	cfg, appLogger, err := loadConfig(envFile)
	if err != nil {
		return nil, err
	}

	cont, err := container.NewContainer(ctx, cfg, container.WithContainerLogger(appLogger))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize container: %w", err)
	}

	return &AppContext{
		Container: cont,
	}, nil
}

// Close はAppContextが保持するリソースをクリーンアップする
func (ac *AppContext) Close() {
	if ac.Container != nil {
		ac.Container.Close()
	}
}

// Logger はAppContextのロガーを返す
func (ac *AppContext) Logger() *slog.Logger {
	if ac.Container != nil {
		return ac.Container.Logger()
	}
	return slog.Default()
}

// loadConfig は設定を読み込み、設定に従ってロガーを初期化する
func loadConfig(envFile string) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(envFile)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	appLogger := logger.New(logger.Config{
		Level:  cfg.Log.SlogLevel(),
		Format: cfg.Log.Format,
	})
	return cfg, appLogger, nil
}

// uuidFlag は UUID 形式のフラグを解釈する
func uuidFlag(cmd *cli.Command, name string) (uuid.UUID, error) {
	raw := cmd.String(name)
	if raw == "" {
		return uuid.Nil, fmt.Errorf("--%s is required", name)
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("--%s must be a UUID: %w", name, err)
	}
	return id, nil
}

// uuidSliceFlag は UUID のリストフラグを解釈する
func uuidSliceFlag(cmd *cli.Command, name string) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	for _, raw := range cmd.StringSlice(name) {
		id, err := uuid.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("--%s must be UUIDs: %w", name, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// stdout はコマンドの出力先を返す
func stdout(cmd *cli.Command) io.Writer {
	if w := cmd.Root().Writer; w != nil {
		return w
	}
	return os.Stdout
}
