package cli

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/jinford/kb-rag/internal/infra/postgres"
	"github.com/jinford/kb-rag/internal/platform/database"
)

// MigrateAction はスキーマのマイグレーションを適用する
// モデルAPIのキーが無くても実行できるよう、コンテナを経由せずDBだけに接続する
func MigrateAction(ctx context.Context, cmd *cli.Command) error {
	cfg, appLogger, err := loadConfig(cmd.String("env"))
	if err != nil {
		return err
	}

	db, err := database.New(ctx, database.ConnectionParams{
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		DBName:   cfg.Database.DBName,
		SSLMode:  cfg.Database.SSLMode,
	})
	if err != nil {
		return fmt.Errorf("failed to connect database: %w", err)
	}
	defer db.Close()

	migrator, err := database.NewMigrator(db.Pool, postgres.Migrations(), appLogger)
	if err != nil {
		return err
	}
	applied, err := migrator.Up(ctx)
	if err != nil {
		return err
	}

	out := stdout(cmd)
	if len(applied) == 0 {
		fmt.Fprintln(out, "schema is up to date")
		return nil
	}
	for _, id := range applied {
		fmt.Fprintf(out, "applied %s\n", id)
	}
	return nil
}
