package repository

import (
	"context"
	"database/sql"
	"fmt"
)

// PostgresSlotRepo はPostgreSQLを使用したスロットリポジトリ。
type PostgresSlotRepo struct {
	db *sql.DB
}

// NewPostgresSlotRepo はPostgresSlotRepoを生成する。
func NewPostgresSlotRepo(db *sql.DB) *PostgresSlotRepo {
	return &PostgresSlotRepo{db: db}
}

// Get は指定キーの値を取得する。
func (r *PostgresSlotRepo) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := r.db.QueryRowContext(ctx,
		`SELECT value FROM kv_slots WHERE key = $1`,
		key,
	).Scan(&value)

	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get slot %q: %w", key, err)
	}
	return value, true, nil
}

// Set は指定キーに値をUPSERTする。
func (r *PostgresSlotRepo) Set(ctx context.Context, key, value string) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO kv_slots (key, value, updated_at)
		 VALUES ($1, $2, now())
		 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`,
		key, value,
	)
	if err != nil {
		return fmt.Errorf("failed to set slot %q: %w", key, err)
	}
	return nil
}

// Delete は指定キーを削除する。
func (r *PostgresSlotRepo) Delete(ctx context.Context, key string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM kv_slots WHERE key = $1`, key); err != nil {
		return fmt.Errorf("failed to delete slot %q: %w", key, err)
	}
	return nil
}

// compile-time interface check
var _ SlotRepository = (*PostgresSlotRepo)(nil)
