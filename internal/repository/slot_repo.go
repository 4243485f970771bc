package repository

import (
	"database/sql"
	"fmt"

	"github.com/hitoshi/calman/internal/database"
)

// OpenSlotRepository はSTORAGE_URLに対応するスロットリポジトリを生成する。
// 返されるDBは呼び出し側がCloseする。memory:// の場合DBはnilになる。
// スキーマの作成は行わないため、事前にdatabase.RunMigrationsを実行すること。
func OpenSlotRepository(storageURL string) (SlotRepository, *sql.DB, error) {
	dialect, _, err := database.ParseStorageURL(storageURL)
	if err != nil {
		return nil, nil, err
	}

	if dialect == database.DialectMemory {
		return NewMemorySlotRepo(), nil, nil
	}

	db, err := database.Open(storageURL)
	if err != nil {
		return nil, nil, err
	}

	switch dialect {
	case database.DialectPostgres:
		return NewPostgresSlotRepo(db), db, nil
	case database.DialectSQLite:
		return NewSQLiteSlotRepo(db), db, nil
	default:
		db.Close()
		return nil, nil, fmt.Errorf("unsupported storage dialect: %s", dialect)
	}
}
