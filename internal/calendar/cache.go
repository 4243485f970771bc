// Package calendar はセッション中にUIへ見せるイベントの唯一の保持者であるイベントキャッシュを提供する。
// 確定イベントの集合と1件の下書きスロットを持ち、変更のたびにスナップショットを永続化する。
package calendar

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/calman/internal/model"
	"github.com/hitoshi/calman/internal/store"
)

// Persister はキャッシュ状態の永続化先。store.Adapterが実装する。
type Persister interface {
	Load(ctx context.Context) store.State
	Save(ctx context.Context, state store.State) error
	Erase(ctx context.Context) error
}

// CacheConfig はCacheの設定。
type CacheConfig struct {
	// Location は月別クエリで年月を判定するタイムゾーン。nilの場合UTC。
	Location *time.Location
	// NewID はID未指定のイベントに割り当てるIDを生成する。nilの場合UUIDv4。
	NewID func() string
}

// Cache はイベントの挿入順を保持するid->イベントのマッピングと下書きスロットを管理する。
// すべての変更操作は永続化に成功してから内部状態に反映される。
type Cache struct {
	mu     sync.RWMutex
	events []model.CalendarEvent
	index  map[string]int
	draft  *model.CalendarEvent

	persister Persister
	logger    *slog.Logger
	loc       *time.Location
	newID     func() string

	listenersMu sync.RWMutex
	listeners   []Listener
}

// NewCache はCacheを生成する。状態は空で、Loadで永続化済みの内容を復元する。
func NewCache(persister Persister, logger *slog.Logger, config CacheConfig) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	loc := config.Location
	if loc == nil {
		loc = time.UTC
	}
	newID := config.NewID
	if newID == nil {
		newID = func() string { return uuid.New().String() }
	}
	return &Cache{
		index:     make(map[string]int),
		persister: persister,
		logger:    logger,
		loc:       loc,
		newID:     newID,
	}
}

// Load は永続化済みのスナップショットから状態を復元する。
// 読み込みに失敗した場合は空の状態から開始する。
func (c *Cache) Load(ctx context.Context) {
	state := c.persister.Load(ctx)

	events := make([]model.CalendarEvent, 0, len(state.Events))
	index := make(map[string]int, len(state.Events))
	for _, e := range state.Events {
		e = e.Normalized()
		e.IsDraft = false
		if pos, ok := index[e.ID]; ok {
			events[pos] = e
			continue
		}
		index[e.ID] = len(events)
		events = append(events, e)
	}

	var draft *model.CalendarEvent
	if state.Draft != nil {
		d := state.Draft.Normalized()
		d.IsDraft = true
		draft = &d
	}

	c.mu.Lock()
	c.events, c.index, c.draft = events, index, draft
	c.mu.Unlock()

	c.logger.Info("calendar cache loaded",
		slog.Int("events", len(events)),
		slog.Bool("draft", draft != nil),
	)
}

// AddEvent は確定イベントを追加し、保存されたイベントを返す。
// IDが空の場合は新しいIDを割り当てる。同じIDのイベントが既にあれば元の位置で上書きする。
// 追加に成功すると下書きスロットはクリアされる。
func (c *Cache) AddEvent(ctx context.Context, event model.CalendarEvent) (model.CalendarEvent, error) {
	added, err := c.AddEvents(ctx, []model.CalendarEvent{event})
	if err != nil {
		return model.CalendarEvent{}, err
	}
	return added[0], nil
}

// AddEvents は複数の確定イベントを1回の永続化でまとめて追加する。
// 1件でも検証に失敗した場合は何も追加しない。
func (c *Cache) AddEvents(ctx context.Context, events []model.CalendarEvent) ([]model.CalendarEvent, error) {
	if len(events) == 0 {
		return []model.CalendarEvent{}, nil
	}

	prepared := make([]model.CalendarEvent, 0, len(events))
	for _, e := range events {
		if e.ID == "" {
			e.ID = c.newID()
		}
		e = e.Normalized()
		e.IsDraft = false
		if err := e.Validate(); err != nil {
			return nil, err
		}
		prepared = append(prepared, e)
	}

	c.mu.Lock()
	nextEvents := slices.Clone(c.events)
	nextIndex := cloneIndex(c.index)
	for _, e := range prepared {
		if pos, ok := nextIndex[e.ID]; ok {
			nextEvents[pos] = e
			continue
		}
		nextIndex[e.ID] = len(nextEvents)
		nextEvents = append(nextEvents, e)
	}
	draftCleared := c.draft != nil
	if err := c.commitLocked(ctx, nextEvents, nextIndex, nil); err != nil {
		c.mu.Unlock()
		return nil, err
	}
	c.mu.Unlock()

	ids := make([]string, 0, len(prepared))
	for _, e := range prepared {
		ids = append(ids, e.ID)
	}
	c.notify(Change{Kind: ChangeEvents, Op: OpAdded, IDs: ids})
	if draftCleared {
		c.notify(Change{Kind: ChangeDraft})
	}
	return prepared, nil
}

// UpdateEvent は同じIDの確定イベントを置き換える。
// IDが存在しない場合はEVENT_NOT_FOUNDを返し、集合は変更しない。
func (c *Cache) UpdateEvent(ctx context.Context, event model.CalendarEvent) (model.CalendarEvent, error) {
	event = event.Normalized()
	event.IsDraft = false
	if err := event.Validate(); err != nil {
		return model.CalendarEvent{}, err
	}

	c.mu.Lock()
	pos, ok := c.index[event.ID]
	if !ok {
		c.mu.Unlock()
		return model.CalendarEvent{}, model.NewEventNotFoundError(event.ID)
	}
	nextEvents := slices.Clone(c.events)
	nextEvents[pos] = event
	if err := c.commitLocked(ctx, nextEvents, c.index, c.draft); err != nil {
		c.mu.Unlock()
		return model.CalendarEvent{}, err
	}
	c.mu.Unlock()

	c.notify(Change{Kind: ChangeEvents, Op: OpUpdated, IDs: []string{event.ID}})
	return event, nil
}

// DeleteEvent は指定IDのイベントを削除する。存在しない場合は何もせずnilを返す。
func (c *Cache) DeleteEvent(ctx context.Context, id string) error {
	c.mu.Lock()
	pos, ok := c.index[id]
	if !ok {
		c.mu.Unlock()
		return nil
	}
	nextEvents := slices.Delete(slices.Clone(c.events), pos, pos+1)
	if err := c.commitLocked(ctx, nextEvents, buildIndex(nextEvents), c.draft); err != nil {
		c.mu.Unlock()
		return err
	}
	c.mu.Unlock()

	c.notify(Change{Kind: ChangeEvents, Op: OpDeleted, IDs: []string{id}})
	return nil
}

// SetDraftEvent は下書きスロットを置き換える。nilを渡すとクリアする。
// 下書きのタイトルは空でもよいが、日時範囲は検証する。
func (c *Cache) SetDraftEvent(ctx context.Context, event *model.CalendarEvent) (*model.CalendarEvent, error) {
	var draft *model.CalendarEvent
	if event != nil {
		d := event.Normalized()
		d.IsDraft = true
		if d.ID == "" {
			d.ID = c.newID()
		}
		if err := d.ValidateRange(); err != nil {
			return nil, err
		}
		draft = &d
	}

	c.mu.Lock()
	if err := c.commitLocked(ctx, c.events, c.index, draft); err != nil {
		c.mu.Unlock()
		return nil, err
	}
	c.mu.Unlock()

	c.notify(Change{Kind: ChangeDraft, Draft: copyEvent(draft)})
	return copyEvent(draft), nil
}

// ClearEvents は確定イベントと下書きをすべて破棄し、永続化済みのスナップショットを削除する。
// スナップショットの削除に失敗した場合もメモリ上の状態はクリアされる。
func (c *Cache) ClearEvents(ctx context.Context) error {
	c.mu.Lock()
	c.events = nil
	c.index = make(map[string]int)
	c.draft = nil
	err := c.persister.Erase(ctx)
	c.mu.Unlock()

	c.notify(Change{Kind: ChangeCleared})
	if err != nil {
		return fmt.Errorf("failed to clear calendar: %w", err)
	}
	return nil
}

// EventsByMonth は開始日時が指定した年月に含まれる確定イベントを挿入順に列挙する。
// 呼び出し時点の状態に対するクエリで、何度でも列挙し直せる。
func (c *Cache) EventsByMonth(year int, month time.Month) iter.Seq[model.CalendarEvent] {
	snapshot := c.Events()
	loc := c.loc
	return func(yield func(model.CalendarEvent) bool) {
		for _, e := range snapshot {
			if !e.InMonth(year, month, loc) {
				continue
			}
			if !yield(e) {
				return
			}
		}
	}
}

// Events は確定イベントを挿入順に返す。
func (c *Cache) Events() []model.CalendarEvent {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.events)
}

// Event は指定IDの確定イベントを返す。
func (c *Cache) Event(id string) (model.CalendarEvent, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	pos, ok := c.index[id]
	if !ok {
		return model.CalendarEvent{}, false
	}
	return c.events[pos], true
}

// Draft は現在の下書きを返す。下書きがない場合はnil。
func (c *Cache) Draft() *model.CalendarEvent {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return copyEvent(c.draft)
}

// Len は確定イベントの件数を返す。
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.events)
}

// Location は月別クエリのタイムゾーンを返す。
func (c *Cache) Location() *time.Location {
	return c.loc
}

// commitLocked は次の状態を永続化し、成功した場合のみ内部状態に反映する。
// c.muを保持した状態で呼び出すこと。
func (c *Cache) commitLocked(ctx context.Context, events []model.CalendarEvent, index map[string]int, draft *model.CalendarEvent) error {
	state := store.State{Events: events, Draft: draft}
	if err := c.persister.Save(ctx, state); err != nil {
		c.logger.Error("failed to persist calendar",
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("failed to persist calendar: %w", err)
	}
	c.events, c.index, c.draft = events, index, draft
	return nil
}

func buildIndex(events []model.CalendarEvent) map[string]int {
	index := make(map[string]int, len(events))
	for i, e := range events {
		index[e.ID] = i
	}
	return index
}

func cloneIndex(index map[string]int) map[string]int {
	out := make(map[string]int, len(index)+1)
	for k, v := range index {
		out[k] = v
	}
	return out
}

func copyEvent(e *model.CalendarEvent) *model.CalendarEvent {
	if e == nil {
		return nil
	}
	cp := *e
	return &cp
}
