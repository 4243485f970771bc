package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/hitoshi/calman/internal/calendar"
	"github.com/hitoshi/calman/internal/model"
	"github.com/hitoshi/calman/internal/session"
)

func startHub(t *testing.T) (*Hub, *Client) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	hub := NewHub(nil)
	go hub.Run(ctx)

	client := NewClient()
	hub.Register(client)
	return hub, client
}

func receive(t *testing.T, client *Client) Message {
	t.Helper()
	select {
	case data, ok := <-client.Send():
		if !ok {
			t.Fatal("send channel closed")
		}
		var raw struct {
			Type    MessageType     `json:"type"`
			Payload json.RawMessage `json:"payload"`
		}
		if err := json.Unmarshal(data, &raw); err != nil {
			t.Fatalf("invalid message JSON: %v", err)
		}
		return Message{Type: raw.Type, Payload: raw.Payload}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message")
	}
	return Message{}
}

func TestHub_BroadcastReachesClient(t *testing.T) {
	hub, client := startHub(t)

	hub.Broadcast(NewMessage(TypeEventsCleared, nil))

	msg := receive(t, client)
	if msg.Type != TypeEventsCleared {
		t.Errorf("Type = %q, want %q", msg.Type, TypeEventsCleared)
	}
	if hub.ClientCount() != 1 {
		t.Errorf("ClientCount() = %d, want 1", hub.ClientCount())
	}
}

func TestHub_UnregisterClosesSend(t *testing.T) {
	hub, client := startHub(t)

	hub.Unregister(client)

	select {
	case _, ok := <-client.Send():
		if ok {
			t.Error("expected closed channel")
		}
	case <-time.After(time.Second):
		t.Fatal("send channel was not closed")
	}
}

func TestHub_RunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	hub := NewHub(nil)
	done := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(done)
	}()

	client := NewClient()
	hub.Register(client)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if _, ok := <-client.Send(); ok {
		t.Error("client channel should be closed after hub stops")
	}
}

func TestHub_RegisterAndUnregisterAfterStopDoNotBlock(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	hub := NewHub(nil)
	stopped := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(stopped)
	}()

	connected := NewClient()
	hub.Register(connected)
	cancel()
	<-stopped

	returned := make(chan struct{})
	late := NewClient()
	go func() {
		hub.Unregister(connected)
		hub.Register(late)
		hub.Unregister(late)
		close(returned)
	}()

	select {
	case <-returned:
	case <-time.After(time.Second):
		t.Fatal("Register/Unregister blocked after the hub stopped")
	}
	if _, ok := <-late.Send(); ok {
		t.Error("late client channel should be closed")
	}
}

func TestEventBroadcaster_MessageTypes(t *testing.T) {
	tests := []struct {
		name string
		emit func(b *EventBroadcaster)
		want MessageType
	}{
		{
			name: "イベント追加",
			emit: func(b *EventBroadcaster) {
				b.CalendarChanged(calendar.Change{Kind: calendar.ChangeEvents, Op: calendar.OpAdded, IDs: []string{"1"}})
			},
			want: TypeEventsChanged,
		},
		{
			name: "下書き変更",
			emit: func(b *EventBroadcaster) { b.CalendarChanged(calendar.Change{Kind: calendar.ChangeDraft}) },
			want: TypeDraftChanged,
		},
		{
			name: "全削除",
			emit: func(b *EventBroadcaster) { b.CalendarChanged(calendar.Change{Kind: calendar.ChangeCleared}) },
			want: TypeEventsCleared,
		},
		{
			name: "セッション破棄",
			emit: func(b *EventBroadcaster) { b.SessionDestroyed(context.Background(), session.ReasonExpired) },
			want: TypeSessionDestroyed,
		},
		{
			name: "プロフィール更新",
			emit: func(b *EventBroadcaster) { b.ProfileUpdated(&model.UserProfile{Fullname: "Hanako"}) },
			want: TypeProfileUpdated,
		},
		{
			name: "プロフィール更新失敗",
			emit: func(b *EventBroadcaster) { b.ProfileError(model.NewAuthExpiredError()) },
			want: TypeProfileError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hub, client := startHub(t)
			tt.emit(NewEventBroadcaster(hub))

			msg := receive(t, client)
			if msg.Type != tt.want {
				t.Errorf("Type = %q, want %q", msg.Type, tt.want)
			}
		})
	}
}

func TestEventBroadcaster_ProfileErrorPayload(t *testing.T) {
	hub, client := startHub(t)
	b := NewEventBroadcaster(hub)

	b.ProfileError(errors.New("boom"))
	msg := receive(t, client)

	var payload ErrorPayload
	if err := json.Unmarshal(msg.Payload.(json.RawMessage), &payload); err != nil {
		t.Fatalf("invalid payload: %v", err)
	}
	if payload.Code != "INTERNAL_ERROR" {
		t.Errorf("Code = %q, want INTERNAL_ERROR", payload.Code)
	}

	b.ProfileError(model.NewAuthExpiredError())
	msg = receive(t, client)
	if err := json.Unmarshal(msg.Payload.(json.RawMessage), &payload); err != nil {
		t.Fatalf("invalid payload: %v", err)
	}
	if payload.Code != model.ErrCodeAuthExpired {
		t.Errorf("Code = %q, want %q", payload.Code, model.ErrCodeAuthExpired)
	}
}
