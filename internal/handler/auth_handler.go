// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/hitoshi/calman/internal/auth"
	"github.com/hitoshi/calman/internal/middleware"
	"github.com/hitoshi/calman/internal/model"
)

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	Login(ctx context.Context, email, password string) (*auth.LoginResult, error)
	VerifyTwoFactor(ctx context.Context, otp, challenge string) (*auth.LoginResult, error)
	Register(ctx context.Context, req model.RegisterRequest) (*auth.LoginResult, error)
	Logout(ctx context.Context) error
	CurrentSession(sessionID string) auth.SessionInfo
}

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	CookieSecure  bool
	SessionMaxAge int // セッションCookieの有効期間（秒）
}

// AuthHandler はログイン・登録・ログアウトのHTTPハンドラー。
type AuthHandler struct {
	service AuthServiceInterface
	config  AuthHandlerConfig
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AuthServiceInterface, config AuthHandlerConfig) *AuthHandler {
	return &AuthHandler{service: service, config: config}
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type twoFactorRequest struct {
	OTP     string `json:"otp"`
	Session string `json:"session"`
}

// Login はメールアドレスとパスワードでログインする。
// POST /auth/login
// 2段階認証が必要な場合はCookieを設定せずにチャレンジを返す。
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	result, err := h.service.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	h.respondLogin(w, result)
}

// VerifyTwoFactor はログイン時の2段階認証コードを検証する。
// POST /auth/two-factor
func (h *AuthHandler) VerifyTwoFactor(w http.ResponseWriter, r *http.Request) {
	var req twoFactorRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	result, err := h.service.VerifyTwoFactor(r.Context(), req.OTP, req.Session)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	h.respondLogin(w, result)
}

// Register はユーザーを登録してログインする。
// POST /auth/register
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req model.RegisterRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	result, err := h.service.Register(r.Context(), req)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	if result.SessionID != "" {
		middleware.SetSessionCookie(w, result.SessionID, h.cookieConfig())
	}
	writeJSON(w, http.StatusCreated, result)
}

// Logout はセッションを破棄し、Cookieを削除する。
// POST /auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Logout(r.Context()); err != nil {
		// Cookieは削除してログアウト状態にする
		slog.Error("logout failed", slog.String("error", err.Error()))
	}
	middleware.ClearSessionCookie(w, h.cookieConfig())
	w.WriteHeader(http.StatusNoContent)
}

// Session は現在のセッション状態を返す。
// GET /auth/session
func (h *AuthHandler) Session(w http.ResponseWriter, r *http.Request) {
	var sessionID string
	if cookie, err := r.Cookie(middleware.SessionCookieName); err == nil {
		sessionID = cookie.Value
	}
	writeJSON(w, http.StatusOK, h.service.CurrentSession(sessionID))
}

func (h *AuthHandler) respondLogin(w http.ResponseWriter, result *auth.LoginResult) {
	if result.SessionID != "" {
		middleware.SetSessionCookie(w, result.SessionID, h.cookieConfig())
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *AuthHandler) cookieConfig() middleware.SessionCookieConfig {
	return middleware.SessionCookieConfig{Secure: h.config.CookieSecure, MaxAge: h.config.SessionMaxAge}
}
