// Package websocket はカレンダーグリッドへ変更を配信するWebSocketハブを提供する。
package websocket

import (
	"context"
	"log/slog"
	"sync"
)

// sendBuffer はクライアントごとの送信キューの長さ。
const sendBuffer = 64

// Hub は接続中のクライアントを管理し、メッセージを全クライアントへ配信する。
type Hub struct {
	clients    map[*Client]struct{}
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	// done はRunの終了時に閉じられる。
	done   chan struct{}
	logger *slog.Logger

	mu sync.RWMutex
}

// NewHub はHubを生成する。配信を開始するにはRunを呼び出す。
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		clients:    make(map[*Client]struct{}),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		logger:     logger,
	}
}

// Run はctxがキャンセルされるまでハブのイベントループを実行する。
// 終了時には全クライアントの送信キューを閉じる。
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				close(client.send)
				delete(h.clients, client)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = struct{}{}
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug("websocket client connected", slog.Int("total", total))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug("websocket client disconnected", slog.Int("total", total))

		case message := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					// 送信キューが詰まったクライアントは切断する
					close(client.send)
					delete(h.clients, client)
					h.logger.Warn("websocket client dropped: send buffer full")
				}
			}
			h.mu.Unlock()
		}
	}
}

// Broadcast はメッセージを全クライアントへ送る。配信キューが満杯の場合は破棄する。
func (h *Hub) Broadcast(msg Message) {
	data, err := msg.JSON()
	if err != nil {
		h.logger.Error("failed to encode websocket message",
			slog.String("type", string(msg.Type)),
			slog.String("error", err.Error()),
		)
		return
	}
	select {
	case h.broadcast <- data:
	default:
		h.logger.Warn("websocket broadcast queue full, dropping message",
			slog.String("type", string(msg.Type)),
		)
	}
}

// Register はクライアントをハブに登録する。
// ハブが停止済みの場合は送信キューを閉じ、接続側の書き込みループを終了させる。
func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.done:
		close(client.send)
	}
}

// Unregister はクライアントをハブから外す。ハブが停止済みの場合は何もしない。
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// ClientCount は接続中のクライアント数を返す。
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Client はWebSocket接続1本分の送信キュー。
type Client struct {
	send chan []byte
}

// NewClient はClientを生成する。
func NewClient() *Client {
	return &Client{send: make(chan []byte, sendBuffer)}
}

// Send は送信キューを返す。ハブから外されると閉じられる。
func (c *Client) Send() <-chan []byte {
	return c.send
}
