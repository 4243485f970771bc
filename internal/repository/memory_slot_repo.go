package repository

import (
	"context"
	"sync"
)

// MemorySlotRepo はプロセス内のマップに値を保持するスロットリポジトリ。
// プロセス終了時に内容は失われる。
type MemorySlotRepo struct {
	mu    sync.RWMutex
	slots map[string]string
}

// NewMemorySlotRepo はMemorySlotRepoを生成する。
func NewMemorySlotRepo() *MemorySlotRepo {
	return &MemorySlotRepo{slots: make(map[string]string)}
}

func (r *MemorySlotRepo) Get(_ context.Context, key string) (string, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.slots[key]
	return v, ok, nil
}

func (r *MemorySlotRepo) Set(_ context.Context, key, value string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.slots[key] = value
	return nil
}

func (r *MemorySlotRepo) Delete(_ context.Context, key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.slots, key)
	return nil
}

// compile-time interface check
var _ SlotRepository = (*MemorySlotRepo)(nil)
