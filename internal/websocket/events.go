package websocket

import (
	"context"
	"errors"

	"github.com/hitoshi/calman/internal/calendar"
	"github.com/hitoshi/calman/internal/model"
	"github.com/hitoshi/calman/internal/session"
)

// EventBroadcaster はドメインの変更をWebSocketメッセージに変換して配信する。
type EventBroadcaster struct {
	hub *Hub
}

// NewEventBroadcaster はEventBroadcasterを生成する。
func NewEventBroadcaster(hub *Hub) *EventBroadcaster {
	return &EventBroadcaster{hub: hub}
}

// CalendarChanged はキャッシュの変更通知を配信する。calendar.Cache.Subscribeに渡して使う。
func (b *EventBroadcaster) CalendarChanged(change calendar.Change) {
	var msgType MessageType
	switch change.Kind {
	case calendar.ChangeEvents:
		msgType = TypeEventsChanged
	case calendar.ChangeDraft:
		msgType = TypeDraftChanged
	case calendar.ChangeCleared:
		msgType = TypeEventsCleared
	default:
		return
	}
	b.hub.Broadcast(NewMessage(msgType, change))
}

// SessionDestroyed はセッション破棄を配信する。session.Manager.OnDestroyに渡して使う。
func (b *EventBroadcaster) SessionDestroyed(_ context.Context, reason session.DestroyReason) {
	b.hub.Broadcast(NewMessage(TypeSessionDestroyed, SessionPayload{Reason: string(reason)}))
}

// ProfileUpdated は遅延送信されたプロフィール更新の結果を配信する。
func (b *EventBroadcaster) ProfileUpdated(profile *model.UserProfile) {
	b.hub.Broadcast(NewMessage(TypeProfileUpdated, profile))
}

// ProfileError は遅延送信されたプロフィール更新の失敗を配信する。
func (b *EventBroadcaster) ProfileError(err error) {
	payload := ErrorPayload{Code: "INTERNAL_ERROR", Message: "プロフィールの更新に失敗しました。"}
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		payload = ErrorPayload{Code: apiErr.Code, Message: apiErr.Message, Action: apiErr.Action}
	}
	b.hub.Broadcast(NewMessage(TypeProfileError, payload))
}
