// Package store はカレンダー状態のスナップショットを永続スロットに読み書きする。
// 日時は保存時に固定フォーマットの文字列へ、読み込み時にtime.Timeへ変換する。
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/calman/internal/model"
	"github.com/hitoshi/calman/internal/repository"
)

// DefaultKey はスナップショットを保存するスロットキー。
const DefaultKey = "calendar-storage"

// TimeFormat は保存時の日時フォーマット（ミリ秒精度のUTC）。
const TimeFormat = "2006-01-02T15:04:05.000Z"

// snapshotVersion は保存フォーマットのバージョン。
const snapshotVersion = 0

// State はキャッシュが保持する状態。
type State struct {
	Events []model.CalendarEvent
	Draft  *model.CalendarEvent
}

// Options はAdapterの動作設定。
type Options struct {
	// Key は保存先のスロットキー。空の場合DefaultKeyを使用する。
	Key string
	// PersistDraft がtrueの場合、下書きもスナップショットに含める。
	PersistDraft bool
}

// Adapter はStateとスロット上のJSON表現を相互変換する。
type Adapter struct {
	repo         repository.SlotRepository
	key          string
	persistDraft bool
	logger       *slog.Logger
}

// NewAdapter はAdapterを生成する。
func NewAdapter(repo repository.SlotRepository, logger *slog.Logger, opts Options) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	key := opts.Key
	if key == "" {
		key = DefaultKey
	}
	return &Adapter{
		repo:         repo,
		key:          key,
		persistDraft: opts.PersistDraft,
		logger:       logger,
	}
}

// Key は保存先のスロットキーを返す。
func (a *Adapter) Key() string {
	return a.key
}

type snapshot struct {
	State   *snapshotState `json:"state"`
	Version int            `json:"version"`
}

type snapshotState struct {
	Events     []snapshotEvent `json:"events"`
	DraftEvent *snapshotEvent  `json:"draftEvent"`
}

type snapshotEvent struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Start       string `json:"start"`
	End         string `json:"end"`
	IsDraft     bool   `json:"isDraft,omitempty"`
}

var errMissingState = errors.New("snapshot has no state object")

// Load はスロットから状態を復元する。
// キーが存在しない場合、または内容が壊れている場合は警告を記録して空の状態を返す。
func (a *Adapter) Load(ctx context.Context) State {
	raw, found, err := a.repo.Get(ctx, a.key)
	if err != nil {
		a.logger.Warn("failed to read calendar snapshot, starting empty",
			slog.String("key", a.key),
			slog.String("error", err.Error()),
		)
		return State{}
	}
	if !found {
		return State{}
	}

	state, err := decode(raw, a.persistDraft)
	if err != nil {
		a.logger.Warn("discarding malformed calendar snapshot",
			slog.String("key", a.key),
			slog.String("error", err.Error()),
		)
		return State{}
	}
	return state
}

// Save は状態をJSONに変換してスロットへ書き込む。
func (a *Adapter) Save(ctx context.Context, state State) error {
	raw, err := encode(state, a.persistDraft)
	if err != nil {
		return err
	}
	if err := a.repo.Set(ctx, a.key, raw); err != nil {
		return fmt.Errorf("failed to save calendar snapshot: %w", err)
	}
	return nil
}

// Erase はスロットのキーを削除する。
func (a *Adapter) Erase(ctx context.Context) error {
	if err := a.repo.Delete(ctx, a.key); err != nil {
		return fmt.Errorf("failed to erase calendar snapshot: %w", err)
	}
	return nil
}

func encode(state State, persistDraft bool) (string, error) {
	s := snapshotState{Events: make([]snapshotEvent, 0, len(state.Events))}
	for _, e := range state.Events {
		s.Events = append(s.Events, toSnapshotEvent(e))
	}
	if persistDraft && state.Draft != nil {
		d := toSnapshotEvent(*state.Draft)
		s.DraftEvent = &d
	}

	b, err := json.Marshal(snapshot{State: &s, Version: snapshotVersion})
	if err != nil {
		return "", fmt.Errorf("failed to encode calendar snapshot: %w", err)
	}
	return string(b), nil
}

func decode(raw string, persistDraft bool) (State, error) {
	var snap snapshot
	if err := json.Unmarshal([]byte(raw), &snap); err != nil {
		return State{}, err
	}
	if snap.State == nil {
		return State{}, errMissingState
	}

	var state State
	for i, se := range snap.State.Events {
		e, err := fromSnapshotEvent(se)
		if err != nil {
			return State{}, fmt.Errorf("events[%d]: %w", i, err)
		}
		state.Events = append(state.Events, e)
	}

	if persistDraft && snap.State.DraftEvent != nil {
		d, err := fromSnapshotEvent(*snap.State.DraftEvent)
		if err != nil {
			return State{}, fmt.Errorf("draftEvent: %w", err)
		}
		state.Draft = &d
	}
	return state, nil
}

func toSnapshotEvent(e model.CalendarEvent) snapshotEvent {
	return snapshotEvent{
		ID:          e.ID,
		Title:       e.Title,
		Description: e.Description,
		Start:       e.Start.UTC().Format(TimeFormat),
		End:         e.End.UTC().Format(TimeFormat),
		IsDraft:     e.IsDraft,
	}
}

func fromSnapshotEvent(se snapshotEvent) (model.CalendarEvent, error) {
	if se.ID == "" {
		return model.CalendarEvent{}, errors.New("missing id")
	}
	start, err := parseTime(se.Start)
	if err != nil {
		return model.CalendarEvent{}, fmt.Errorf("start: %w", err)
	}
	end, err := parseTime(se.End)
	if err != nil {
		return model.CalendarEvent{}, fmt.Errorf("end: %w", err)
	}
	return model.CalendarEvent{
		ID:          se.ID,
		Title:       se.Title,
		Description: se.Description,
		Start:       start,
		End:         end,
		IsDraft:     se.IsDraft,
	}, nil
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, errors.New("missing timestamp")
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, err
	}
	return model.NormalizeTime(t), nil
}
