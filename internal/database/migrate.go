// Package database はデータベース接続とマイグレーション管理を提供する。
package database

import (
	"embed"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/postgres/*.sql migrations/sqlite3/*.sql
var migrationsFS embed.FS

// NewMigrator はマイグレーション実行用のmigrateインスタンスを生成する。
// storageURLのスキームに応じてダイアレクト別のマイグレーションを選択する。
func NewMigrator(storageURL string) (*migrate.Migrate, error) {
	dialect, dsn, err := ParseStorageURL(storageURL)
	if err != nil {
		return nil, err
	}

	var dir, databaseURL string
	switch dialect {
	case DialectPostgres:
		dir, databaseURL = "migrations/postgres", dsn
	case DialectSQLite:
		dir, databaseURL = "migrations/sqlite3", "sqlite3://"+dsn
	default:
		return nil, fmt.Errorf("storage %q has no migrations", storageURL)
	}

	source, err := iofs.New(migrationsFS, dir)
	if err != nil {
		return nil, fmt.Errorf("failed to create migration source: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", source, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrator: %w", err)
	}

	return m, nil
}

// RunMigrations はすべてのマイグレーションを適用する。
// すでに最新の場合、またはmemory://の場合はエラーなしで返る。
func RunMigrations(storageURL string) error {
	dialect, _, err := ParseStorageURL(storageURL)
	if err != nil {
		return err
	}
	if dialect == DialectMemory {
		return nil
	}

	m, err := NewMigrator(storageURL)
	if err != nil {
		return err
	}
	defer m.Close()

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}
