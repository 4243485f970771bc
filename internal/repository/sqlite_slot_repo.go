package repository

import (
	"context"
	"database/sql"
	"fmt"
)

// SQLiteSlotRepo はローカルのSQLiteファイルを使用したスロットリポジトリ。
type SQLiteSlotRepo struct {
	db *sql.DB
}

// NewSQLiteSlotRepo はSQLiteSlotRepoを生成する。
func NewSQLiteSlotRepo(db *sql.DB) *SQLiteSlotRepo {
	return &SQLiteSlotRepo{db: db}
}

// Get は指定キーの値を取得する。
func (r *SQLiteSlotRepo) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := r.db.QueryRowContext(ctx,
		`SELECT value FROM kv_slots WHERE key = ?`,
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
func (r *SQLiteSlotRepo) Set(ctx context.Context, key, value string) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO kv_slots (key, value, updated_at)
		 VALUES (?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP`,
		key, value,
	)
	if err != nil {
		return fmt.Errorf("failed to set slot %q: %w", key, err)
	}
	return nil
}

// Delete は指定キーを削除する。
func (r *SQLiteSlotRepo) Delete(ctx context.Context, key string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM kv_slots WHERE key = ?`, key); err != nil {
		return fmt.Errorf("failed to delete slot %q: %w", key, err)
	}
	return nil
}

// compile-time interface check
var _ SlotRepository = (*SQLiteSlotRepo)(nil)
