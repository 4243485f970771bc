// Package session はリモートAPIのベアラートークンとローカルセッションのライフサイクルを管理する。
// セッションはプロセス内に1つだけ存在し、生成と破棄は明示的な操作で行う。
package session

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync"

	"github.com/hitoshi/calman/internal/model"
	"github.com/hitoshi/calman/internal/repository"
)

const (
	// TokenKey はベアラートークンを保存するスロットキー。
	TokenKey = "token"
	// SessionIDKey はローカルセッションIDを保存するスロットキー。
	SessionIDKey = "session_id"
)

// DestroyReason はセッション破棄の理由。
type DestroyReason string

const (
	// ReasonLogout はユーザー操作によるログアウト。
	ReasonLogout DestroyReason = "logout"
	// ReasonExpired はリモートAPIが401/403を返したことによる強制ログアウト。
	ReasonExpired DestroyReason = "expired"
)

// DestroyHook はセッション破棄後に呼ばれる関数。
type DestroyHook func(ctx context.Context, reason DestroyReason)

// Manager はベアラートークンとローカルセッションIDを保持する。
type Manager struct {
	mu        sync.RWMutex
	token     string
	sessionID string

	repo   repository.SlotRepository
	logger *slog.Logger

	hooksMu sync.RWMutex
	hooks   []DestroyHook
}

// NewManager はManagerを生成する。
func NewManager(repo repository.SlotRepository, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{repo: repo, logger: logger}
}

// Create はトークンを保持する新しいセッションを開始し、ローカルセッションIDを返す。
// 既存のセッションは置き換えられる。
func (m *Manager) Create(ctx context.Context, token string) (string, error) {
	if token == "" {
		return "", model.NewValidationError("トークンが空です")
	}

	sessionID, err := generateSessionID()
	if err != nil {
		return "", fmt.Errorf("failed to generate session ID: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.repo.Set(ctx, TokenKey, token); err != nil {
		return "", fmt.Errorf("failed to persist token: %w", err)
	}
	if err := m.repo.Set(ctx, SessionIDKey, sessionID); err != nil {
		return "", fmt.Errorf("failed to persist session ID: %w", err)
	}
	m.token, m.sessionID = token, sessionID

	m.logger.Info("session created")
	return sessionID, nil
}

// Destroy はセッションを破棄し、永続化済みのトークンを削除してから登録済みフックを実行する。
// セッションが存在しない場合もフックは実行される。
func (m *Manager) Destroy(ctx context.Context, reason DestroyReason) error {
	m.mu.Lock()
	m.token, m.sessionID = "", ""
	errToken := m.repo.Delete(ctx, TokenKey)
	errSession := m.repo.Delete(ctx, SessionIDKey)
	m.mu.Unlock()

	m.logger.Info("session destroyed", slog.String("reason", string(reason)))

	m.hooksMu.RLock()
	hooks := m.hooks
	m.hooksMu.RUnlock()
	for _, h := range hooks {
		h(ctx, reason)
	}

	if errToken != nil {
		return fmt.Errorf("failed to delete token: %w", errToken)
	}
	if errSession != nil {
		return fmt.Errorf("failed to delete session ID: %w", errSession)
	}
	return nil
}

// Expire はリモートAPIがトークンを拒否した場合に呼ばれ、セッションを強制的に破棄する。
func (m *Manager) Expire(ctx context.Context) {
	if err := m.Destroy(ctx, ReasonExpired); err != nil {
		m.logger.Error("failed to expire session", slog.String("error", err.Error()))
	}
}

// Restore は永続化済みのトークンとセッションIDを読み込む。
// どちらかが欠けている場合はセッションなしの状態になる。
func (m *Manager) Restore(ctx context.Context) error {
	token, foundToken, err := m.repo.Get(ctx, TokenKey)
	if err != nil {
		return fmt.Errorf("failed to read token: %w", err)
	}
	sessionID, foundSession, err := m.repo.Get(ctx, SessionIDKey)
	if err != nil {
		return fmt.Errorf("failed to read session ID: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if !foundToken || !foundSession || token == "" || sessionID == "" {
		m.token, m.sessionID = "", ""
		return nil
	}
	m.token, m.sessionID = token, sessionID
	m.logger.Info("session restored")
	return nil
}

// Token は現在のベアラートークンを返す。セッションがない場合は空文字。
func (m *Manager) Token() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.token
}

// Active はセッションが存在するかを返す。
func (m *Manager) Active() bool {
	return m.Token() != ""
}

// Validate はローカルセッションIDが現在のセッションと一致するかを返す。
func (m *Manager) Validate(sessionID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.token == "" || m.sessionID == "" || sessionID == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(m.sessionID), []byte(sessionID)) == 1
}

// OnDestroy はセッション破棄時に実行するフックを登録する。
func (m *Manager) OnDestroy(hook DestroyHook) {
	m.hooksMu.Lock()
	defer m.hooksMu.Unlock()
	m.hooks = append(m.hooks, hook)
}

// generateSessionID は暗号的に安全なセッションIDを生成する。
func generateSessionID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
