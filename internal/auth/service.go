// Package auth はリモートAPIへのサインイン・サインアップと、ローカルセッションの発行を提供する。
package auth

import (
	"context"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"

	"github.com/hitoshi/calman/internal/model"
	"github.com/hitoshi/calman/internal/session"
)

// RemoteAuth はリモートAPIの認証エンドポイント。remote.Clientが実装する。
type RemoteAuth interface {
	Login(ctx context.Context, email, password string) (*model.AuthResponse, error)
	VerifyTwoFactor(ctx context.Context, otp, session string) (*model.AuthResponse, error)
	Register(ctx context.Context, user model.RegisterRequest) (*model.AuthResponse, error)
}

// SessionStore はセッションの生成と破棄。session.Managerが実装する。
type SessionStore interface {
	Create(ctx context.Context, token string) (string, error)
	Destroy(ctx context.Context, reason session.DestroyReason) error
	Active() bool
	Validate(sessionID string) bool
}

// LoginResult はログイン・2段階認証・登録の結果。
// RequiresTwoFactorがtrueの場合、SessionIDは空でChallengeを使って2段階認証を続ける。
type LoginResult struct {
	SessionID         string `json:"-"`
	RequiresTwoFactor bool   `json:"requiresTwoFactor"`
	Challenge         string `json:"session,omitempty"`
	Message           string `json:"message,omitempty"`
}

// SessionInfo は現在のセッション状態。
type SessionInfo struct {
	Authenticated bool `json:"authenticated"`
}

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	remote   RemoteAuth
	sessions SessionStore
	logger   *slog.Logger
}

// NewService はServiceを生成する。
func NewService(remote RemoteAuth, sessions SessionStore, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{remote: remote, sessions: sessions, logger: logger}
}

// Login はメールアドレスとパスワードでサインインし、トークンを受け取った場合はセッションを開始する。
// 2段階認証が必要なユーザーの場合はセッションを開始せずにチャレンジを返す。
func (s *Service) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return nil, model.NewValidationError("メールアドレスとパスワードを入力してください。")
	}

	resp, err := s.remote.Login(ctx, email, password)
	if err != nil {
		return nil, err
	}
	if resp.RequiresTwoFactor {
		s.logger.Info("two-factor challenge issued")
		return &LoginResult{
			RequiresTwoFactor: true,
			Challenge:         resp.Session,
			Message:           resp.Message,
		}, nil
	}
	return s.startSession(ctx, resp, "ログインに成功しましたが、トークンが返されませんでした。")
}

// VerifyTwoFactor はチャレンジとワンタイムコードを検証し、セッションを開始する。
func (s *Service) VerifyTwoFactor(ctx context.Context, otp, challenge string) (*LoginResult, error) {
	otp = strings.TrimSpace(otp)
	if otp == "" || challenge == "" {
		return nil, model.NewValidationError("認証コードを入力してください。")
	}

	resp, err := s.remote.VerifyTwoFactor(ctx, otp, challenge)
	if err != nil {
		return nil, err
	}
	return s.startSession(ctx, resp, "認証コードは受け付けられましたが、トークンが返されませんでした。")
}

// Register はユーザーを登録し、トークンを受け取った場合はセッションを開始する。
func (s *Service) Register(ctx context.Context, req model.RegisterRequest) (*LoginResult, error) {
	req.Fullname = strings.TrimSpace(req.Fullname)
	req.Email = strings.TrimSpace(req.Email)
	if req.Fullname == "" || req.Email == "" || req.Password == "" {
		return nil, model.NewValidationError("氏名、メールアドレス、パスワードは必須です。")
	}
	if _, err := mail.ParseAddress(req.Email); err != nil {
		return nil, model.NewValidationError("メールアドレスの形式が正しくありません。")
	}

	resp, err := s.remote.Register(ctx, req)
	if err != nil {
		return nil, err
	}
	return s.startSession(ctx, resp, "登録に成功しましたが、トークンが返されませんでした。")
}

// Logout はセッションを破棄する。破棄フックによりイベントキャッシュもクリアされる。
func (s *Service) Logout(ctx context.Context) error {
	if err := s.sessions.Destroy(ctx, session.ReasonLogout); err != nil {
		return fmt.Errorf("failed to destroy session: %w", err)
	}
	s.logger.Info("user logged out")
	return nil
}

// CurrentSession はローカルセッションIDが現在のセッションと一致するかを返す。
func (s *Service) CurrentSession(sessionID string) SessionInfo {
	return SessionInfo{Authenticated: s.sessions.Active() && s.sessions.Validate(sessionID)}
}

func (s *Service) startSession(ctx context.Context, resp *model.AuthResponse, missingToken string) (*LoginResult, error) {
	if resp.JWT == "" {
		msg := resp.Message
		if msg == "" {
			msg = missingToken
		}
		return nil, model.NewRemoteFailedError(msg)
	}

	sessionID, err := s.sessions.Create(ctx, resp.JWT)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	s.logger.Info("session started")
	return &LoginResult{SessionID: sessionID, Message: resp.Message}, nil
}
