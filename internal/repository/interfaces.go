// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
)

// SlotRepository は文字列キーに1つの文字列値を保持する永続スロットのインターフェース。
// カレンダーのスナップショットとセッショントークンの保存先として使われる。
type SlotRepository interface {
	// Get は指定キーの値を取得する。キーが存在しない場合はfound=falseを返す。
	Get(ctx context.Context, key string) (value string, found bool, err error)

	// Set は指定キーに値を書き込む。既存の値は上書きされる。
	Set(ctx context.Context, key, value string) error

	// Delete は指定キーを削除する。存在しないキーの削除はエラーにならない。
	Delete(ctx context.Context, key string) error
}
