// Package remote はカレンダーバックエンド（認証、プロフィール、PDFインポート）を呼び出すHTTPクライアントを提供する。
// 認証付きリクエストにはセッションのベアラートークンを付与し、
// 401/403を受け取った場合はセッションを強制的に破棄する。
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/hitoshi/calman/internal/model"
)

const (
	// maxErrorBodySize はエラーメッセージ抽出のために読み取るボディの上限。
	maxErrorBodySize = 64 << 10
	// maxErrorMessageLen はプレーンテキストのエラーメッセージを切り詰める長さ。
	maxErrorMessageLen = 300
)

// TokenSource はベアラートークンの供給元。session.Managerが実装する。
type TokenSource interface {
	// Token は現在のトークンを返す。セッションがない場合は空文字。
	Token() string
	// Expire はトークンが拒否されたときにセッションを破棄する。
	Expire(ctx context.Context)
}

// CallObserver はリモート呼び出しの結果を記録する。metrics.Collectorが実装する。
type CallObserver interface {
	ObserveRemoteCall(operation, outcome string, duration time.Duration)
}

// 呼び出し結果の分類
const (
	OutcomeSuccess      = "success"
	OutcomeAuthRejected = "auth_rejected"
	OutcomeHTTPError    = "http_error"
	OutcomeNetworkError = "network_error"
)

// Client はカレンダーバックエンドのAPIクライアント。
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	baseURL    string
	tokens     TokenSource
	observer   CallObserver
}

// NewClient はClientの新しいインスタンスを生成する。
// baseURLは末尾のスラッシュを含まない形に正規化される。
func NewClient(httpClient *http.Client, logger *slog.Logger, baseURL string, tokens TokenSource) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		httpClient: httpClient,
		logger:     logger,
		baseURL:    strings.TrimRight(baseURL, "/"),
		tokens:     tokens,
	}
}

// SetObserver は呼び出し結果の記録先を設定する。
func (c *Client) SetObserver(o CallObserver) {
	c.observer = o
}

// request は1回のAPI呼び出しの内容。
type request struct {
	operation   string
	method      string
	path        string
	body        io.Reader
	contentType string
	auth        bool
	// fallback はレスポンスからメッセージを抽出できない場合のエラーメッセージ。
	fallback string
}

// doJSON はJSONボディを送信し、レスポンスをoutにデコードする。inとoutはnilでもよい。
func (c *Client) doJSON(ctx context.Context, req request, in, out any) error {
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
		req.body = bytes.NewReader(b)
		req.contentType = "application/json"
	}

	body, err := c.do(ctx, req)
	if err != nil {
		return err
	}
	if out == nil || len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		c.logger.Error("failed to decode remote response",
			slog.String("operation", req.operation),
			slog.String("error", err.Error()),
		)
		return model.NewRemoteFailedError(req.fallback)
	}
	return nil
}

// do はリクエストを送信し、2xxの場合はレスポンスボディを返す。
// エラーはすべてmodel.APIErrorに正規化される。
func (c *Client) do(ctx context.Context, req request) ([]byte, error) {
	var token string
	if req.auth {
		token = c.tokens.Token()
		if token == "" {
			return nil, model.NewAuthRequiredError()
		}
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.method, c.baseURL+req.path, req.body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("User-Agent", "calman/1.0")
	if req.contentType != "" {
		httpReq.Header.Set("Content-Type", req.contentType)
	}
	if token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.observe(req.operation, OutcomeNetworkError, start)
		c.logger.Error("remote call failed",
			slog.String("operation", req.operation),
			slog.String("error", err.Error()),
		)
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, model.NewRemoteFailedError(req.fallback)
	}
	defer resp.Body.Close()

	if req.auth && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
		c.observe(req.operation, OutcomeAuthRejected, start)
		c.logger.Warn("remote rejected bearer token, destroying session",
			slog.String("operation", req.operation),
			slog.Int("http_status", resp.StatusCode),
		)
		c.tokens.Expire(context.WithoutCancel(ctx))
		return nil, model.NewAuthExpiredError()
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.observe(req.operation, OutcomeHTTPError, start)
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
		message := extractErrorMessage(raw, req.fallback)
		c.logger.Warn("remote returned error status",
			slog.String("operation", req.operation),
			slog.Int("http_status", resp.StatusCode),
			slog.String("message", message),
		)
		return nil, model.NewRemoteFailedError(message)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		c.observe(req.operation, OutcomeNetworkError, start)
		return nil, model.NewRemoteFailedError(req.fallback)
	}
	c.observe(req.operation, OutcomeSuccess, start)
	return body, nil
}

func (c *Client) observe(operation, outcome string, start time.Time) {
	if c.observer != nil {
		c.observer.ObserveRemoteCall(operation, outcome, time.Since(start))
	}
}

// extractErrorMessage はエラーレスポンスのボディから利用者向けのメッセージを取り出す。
// JSONのmessage（またはerror）フィールド、JSON文字列、プレーンテキストの順に試し、
// どれも得られない場合はfallbackを返す。
func extractErrorMessage(body []byte, fallback string) string {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return fallback
	}

	switch trimmed[0] {
	case '{':
		var payload struct {
			Message string `json:"message"`
			Error   string `json:"error"`
		}
		if err := json.Unmarshal(trimmed, &payload); err != nil {
			return fallback
		}
		if payload.Message != "" {
			return payload.Message
		}
		if payload.Error != "" {
			return payload.Error
		}
		return fallback
	case '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err == nil && s != "" {
			return s
		}
		return fallback
	case '[', '<':
		return fallback
	}

	text := string(trimmed)
	if len(text) > maxErrorMessageLen {
		// マルチバイト文字の途中で切らない
		cut := maxErrorMessageLen
		for cut > 0 && !utf8.RuneStart(text[cut]) {
			cut--
		}
		text = text[:cut]
	}
	return text
}
