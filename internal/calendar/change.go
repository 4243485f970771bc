package calendar

import "github.com/hitoshi/calman/internal/model"

// ChangeKind はキャッシュ変更通知の種類。WebSocketのメッセージ種別と一致する。
type ChangeKind string

const (
	ChangeEvents  ChangeKind = "events.changed"
	ChangeDraft   ChangeKind = "draft.changed"
	ChangeCleared ChangeKind = "events.cleared"
)

// ChangeOp は確定イベントに対する操作。
type ChangeOp string

const (
	OpAdded   ChangeOp = "added"
	OpUpdated ChangeOp = "updated"
	OpDeleted ChangeOp = "deleted"
)

// Change はキャッシュの変更通知。
type Change struct {
	Kind  ChangeKind           `json:"-"`
	Op    ChangeOp             `json:"op,omitempty"`
	IDs   []string             `json:"ids,omitempty"`
	Draft *model.CalendarEvent `json:"draft,omitempty"`
}

// Listener は変更通知を受け取る関数。ロックを保持しない状態で同期的に呼ばれる。
type Listener func(Change)

// Subscribe は変更通知のリスナーを登録する。
func (c *Cache) Subscribe(l Listener) {
	c.listenersMu.Lock()
	defer c.listenersMu.Unlock()
	c.listeners = append(c.listeners, l)
}

func (c *Cache) notify(change Change) {
	c.listenersMu.RLock()
	listeners := c.listeners
	c.listenersMu.RUnlock()
	for _, l := range listeners {
		l(change)
	}
}
