package database

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"path"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const migrationsTable = "schema_migrations"

// Migration は1つのSQLマイグレーション
type Migration struct {
	ID  string
	SQL string
}

// LoadMigrations は fsys 直下の *.sql をファイル名順に読み込みます
// ID は拡張子を除いたファイル名
func LoadMigrations(fsys fs.FS) ([]Migration, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations: %w", err)
	}

	var migrations []Migration
	for _, entry := range entries {
		if entry.IsDir() || path.Ext(entry.Name()) != ".sql" {
			continue
		}
		data, err := fs.ReadFile(fsys, entry.Name())
		if err != nil {
			return nil, fmt.Errorf("failed to read migration %s: %w", entry.Name(), err)
		}
		migrations = append(migrations, Migration{
			ID:  strings.TrimSuffix(entry.Name(), ".sql"),
			SQL: string(data),
		})
	}

	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].ID < migrations[j].ID
	})

	return migrations, nil
}

// Migrator は未適用のマイグレーションを順に適用します
// 複数プロセスからの同時実行はアドバイザリロックで直列化します
type Migrator struct {
	pool       *pgxpool.Pool
	migrations []Migration
	logger     *slog.Logger
}

// NewMigrator は新しいMigratorを作成します
func NewMigrator(pool *pgxpool.Pool, fsys fs.FS, logger *slog.Logger) (*Migrator, error) {
	migrations, err := LoadMigrations(fsys)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Migrator{pool: pool, migrations: migrations, logger: logger}, nil
}

// Up は未適用のマイグレーションを適用し、適用したIDを返します
func (m *Migrator) Up(ctx context.Context) ([]string, error) {
	if _, err := m.pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS `+migrationsTable+` (
		id TEXT PRIMARY KEY,
		applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`); err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", migrationsTable, err)
	}

	var applied []string
	for _, migration := range m.migrations {
		ok, err := m.apply(ctx, migration)
		if err != nil {
			return applied, err
		}
		if ok {
			m.logger.Info("migration applied", "id", migration.ID)
			applied = append(applied, migration.ID)
		}
	}

	return applied, nil
}

func (m *Migrator) apply(ctx context.Context, migration Migration) (bool, error) {
	tx, err := m.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return false, fmt.Errorf("failed to begin migration %s: %w", migration.ID, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := AcquireXactLock(ctx, tx, LockID(migrationsTable)); err != nil {
		return false, err
	}

	var exists bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM `+migrationsTable+` WHERE id = $1)`, migration.ID).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check migration %s: %w", migration.ID, err)
	}
	if exists {
		return false, nil
	}

	if _, err := tx.Exec(ctx, migration.SQL); err != nil {
		return false, fmt.Errorf("failed to apply migration %s: %w", migration.ID, err)
	}
	if _, err := tx.Exec(ctx, `INSERT INTO `+migrationsTable+` (id) VALUES ($1)`, migration.ID); err != nil {
		return false, fmt.Errorf("failed to record migration %s: %w", migration.ID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("failed to commit migration %s: %w", migration.ID, err)
	}
	return true, nil
}
