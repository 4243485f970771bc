package websocket

import (
	"encoding/json"
	"time"
)

// MessageType はWebSocketメッセージの種別。
type MessageType string

const (
	TypeEventsChanged    MessageType = "events.changed"
	TypeDraftChanged     MessageType = "draft.changed"
	TypeEventsCleared    MessageType = "events.cleared"
	TypeSessionDestroyed MessageType = "session.destroyed"
	TypeProfileUpdated   MessageType = "profile.updated"
	TypeProfileError     MessageType = "profile.error"
)

// Message はWebSocketメッセージのエンベロープ。
type Message struct {
	Type      MessageType `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   any         `json:"payload"`
}

// NewMessage は現在時刻を付けたメッセージを生成する。
func NewMessage(msgType MessageType, payload any) Message {
	return Message{
		Type:      msgType,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}
}

// JSON はメッセージをJSONにする。
func (m Message) JSON() ([]byte, error) {
	return json.Marshal(m)
}

// SessionPayload はsession.destroyedのペイロード。
type SessionPayload struct {
	Reason string `json:"reason"`
}

// ErrorPayload はprofile.errorのペイロード。
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Action  string `json:"action,omitempty"`
}
