package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hitoshi/calman/internal/auth"
	"github.com/hitoshi/calman/internal/middleware"
	"github.com/hitoshi/calman/internal/model"
)

// mockAuthService はAuthServiceInterfaceのテスト用モック。
type mockAuthService struct {
	loginFn          func(ctx context.Context, email, password string) (*auth.LoginResult, error)
	verifyFn         func(ctx context.Context, otp, challenge string) (*auth.LoginResult, error)
	registerFn       func(ctx context.Context, req model.RegisterRequest) (*auth.LoginResult, error)
	logoutFn         func(ctx context.Context) error
	currentSessionFn func(sessionID string) auth.SessionInfo
}

func (m *mockAuthService) Login(ctx context.Context, email, password string) (*auth.LoginResult, error) {
	if m.loginFn != nil {
		return m.loginFn(ctx, email, password)
	}
	return &auth.LoginResult{}, nil
}

func (m *mockAuthService) VerifyTwoFactor(ctx context.Context, otp, challenge string) (*auth.LoginResult, error) {
	if m.verifyFn != nil {
		return m.verifyFn(ctx, otp, challenge)
	}
	return &auth.LoginResult{}, nil
}

func (m *mockAuthService) Register(ctx context.Context, req model.RegisterRequest) (*auth.LoginResult, error) {
	if m.registerFn != nil {
		return m.registerFn(ctx, req)
	}
	return &auth.LoginResult{}, nil
}

func (m *mockAuthService) Logout(ctx context.Context) error {
	if m.logoutFn != nil {
		return m.logoutFn(ctx)
	}
	return nil
}

func (m *mockAuthService) CurrentSession(sessionID string) auth.SessionInfo {
	if m.currentSessionFn != nil {
		return m.currentSessionFn(sessionID)
	}
	return auth.SessionInfo{}
}

var _ AuthServiceInterface = (*mockAuthService)(nil)

func sessionCookie(resp *http.Response) *http.Cookie {
	for _, c := range resp.Cookies() {
		if c.Name == middleware.SessionCookieName {
			return c
		}
	}
	return nil
}

func TestAuthHandler_Login_SetsSessionCookie(t *testing.T) {
	svc := &mockAuthService{
		loginFn: func(ctx context.Context, email, password string) (*auth.LoginResult, error) {
			if email != "user@example.com" || password != "secret" {
				t.Errorf("Login(%q, %q), unexpected arguments", email, password)
			}
			return &auth.LoginResult{SessionID: "sess-1"}, nil
		},
	}
	h := NewAuthHandler(svc, AuthHandlerConfig{SessionMaxAge: 3600})

	req := httptest.NewRequest(http.MethodPost, "/auth/login",
		strings.NewReader(`{"email":"user@example.com","password":"secret"}`))
	w := httptest.NewRecorder()
	h.Login(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	cookie := sessionCookie(resp)
	if cookie == nil || cookie.Value != "sess-1" {
		t.Fatalf("session cookie = %+v, want value sess-1", cookie)
	}
	if !cookie.HttpOnly {
		t.Error("session cookie must be HttpOnly")
	}
	if strings.Contains(w.Body.String(), "sess-1") {
		t.Errorf("response body leaks session id: %s", w.Body.String())
	}
}

func TestAuthHandler_Login_TwoFactorChallenge(t *testing.T) {
	svc := &mockAuthService{
		loginFn: func(ctx context.Context, email, password string) (*auth.LoginResult, error) {
			return &auth.LoginResult{RequiresTwoFactor: true, Challenge: "challenge-1"}, nil
		},
	}
	h := NewAuthHandler(svc, AuthHandlerConfig{})

	req := httptest.NewRequest(http.MethodPost, "/auth/login",
		strings.NewReader(`{"email":"user@example.com","password":"secret"}`))
	w := httptest.NewRecorder()
	h.Login(w, req)

	resp := w.Result()
	if sessionCookie(resp) != nil {
		t.Error("session cookie must not be set before the second factor")
	}
	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if body["requiresTwoFactor"] != true || body["session"] != "challenge-1" {
		t.Errorf("body = %v, want requiresTwoFactor=true session=challenge-1", body)
	}
}

func TestAuthHandler_Login_Errors(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{
			name:       "不正なJSON",
			body:       `{`,
			wantStatus: http.StatusBadRequest,
			wantCode:   "INVALID_REQUEST",
		},
		{
			name:       "入力検証エラー",
			body:       `{}`,
			err:        model.NewValidationError("メールアドレスとパスワードを入力してください。"),
			wantStatus: http.StatusBadRequest,
			wantCode:   model.ErrCodeValidationFailed,
		},
		{
			name:       "リモートAPIの拒否",
			body:       `{"email":"a@example.com","password":"x"}`,
			err:        model.NewRemoteFailedError("Invalid credentials"),
			wantStatus: http.StatusBadGateway,
			wantCode:   model.ErrCodeRemoteFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &mockAuthService{
				loginFn: func(ctx context.Context, email, password string) (*auth.LoginResult, error) {
					return nil, tt.err
				},
			}
			h := NewAuthHandler(svc, AuthHandlerConfig{})

			req := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(tt.body))
			w := httptest.NewRecorder()
			h.Login(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			var body middleware.ErrorResponseBody
			if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
				t.Fatalf("failed to decode body: %v", err)
			}
			if body.Code != tt.wantCode {
				t.Errorf("code = %q, want %q", body.Code, tt.wantCode)
			}
		})
	}
}

func TestAuthHandler_VerifyTwoFactor(t *testing.T) {
	var gotOTP, gotChallenge string
	svc := &mockAuthService{
		verifyFn: func(ctx context.Context, otp, challenge string) (*auth.LoginResult, error) {
			gotOTP, gotChallenge = otp, challenge
			return &auth.LoginResult{SessionID: "sess-2"}, nil
		},
	}
	h := NewAuthHandler(svc, AuthHandlerConfig{})

	req := httptest.NewRequest(http.MethodPost, "/auth/two-factor",
		strings.NewReader(`{"otp":"123456","session":"challenge-1"}`))
	w := httptest.NewRecorder()
	h.VerifyTwoFactor(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if gotOTP != "123456" || gotChallenge != "challenge-1" {
		t.Errorf("VerifyTwoFactor(%q, %q), want (123456, challenge-1)", gotOTP, gotChallenge)
	}
	if c := sessionCookie(w.Result()); c == nil || c.Value != "sess-2" {
		t.Errorf("session cookie = %+v, want sess-2", c)
	}
}

func TestAuthHandler_Register_Returns201(t *testing.T) {
	svc := &mockAuthService{
		registerFn: func(ctx context.Context, req model.RegisterRequest) (*auth.LoginResult, error) {
			if req.Fullname != "Taro" || req.Email != "taro@example.com" {
				t.Errorf("Register(%+v), unexpected request", req)
			}
			return &auth.LoginResult{SessionID: "sess-3"}, nil
		},
	}
	h := NewAuthHandler(svc, AuthHandlerConfig{})

	req := httptest.NewRequest(http.MethodPost, "/auth/register",
		strings.NewReader(`{"fullname":"Taro","email":"taro@example.com","password":"pw"}`))
	w := httptest.NewRecorder()
	h.Register(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusCreated)
	}
	if c := sessionCookie(w.Result()); c == nil || c.Value != "sess-3" {
		t.Errorf("session cookie = %+v, want sess-3", c)
	}
}

func TestAuthHandler_Logout_ClearsCookieEvenOnError(t *testing.T) {
	svc := &mockAuthService{
		logoutFn: func(ctx context.Context) error {
			return context.DeadlineExceeded
		},
	}
	h := NewAuthHandler(svc, AuthHandlerConfig{})

	req := httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
	w := httptest.NewRecorder()
	h.Logout(w, req)

	if w.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusNoContent)
	}
	c := sessionCookie(w.Result())
	if c == nil || c.MaxAge >= 0 {
		t.Errorf("session cookie = %+v, want cleared cookie", c)
	}
}

func TestAuthHandler_Session(t *testing.T) {
	svc := &mockAuthService{
		currentSessionFn: func(sessionID string) auth.SessionInfo {
			return auth.SessionInfo{Authenticated: sessionID == "sess-1"}
		},
	}
	h := NewAuthHandler(svc, AuthHandlerConfig{})

	tests := []struct {
		name   string
		cookie string
		want   bool
	}{
		{name: "有効なセッション", cookie: "sess-1", want: true},
		{name: "Cookieなし", want: false},
		{name: "不明なセッション", cookie: "other", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/auth/session", nil)
			if tt.cookie != "" {
				req.AddCookie(&http.Cookie{Name: middleware.SessionCookieName, Value: tt.cookie})
			}
			w := httptest.NewRecorder()
			h.Session(w, req)

			var info auth.SessionInfo
			if err := json.NewDecoder(w.Body).Decode(&info); err != nil {
				t.Fatalf("failed to decode body: %v", err)
			}
			if info.Authenticated != tt.want {
				t.Errorf("authenticated = %v, want %v", info.Authenticated, tt.want)
			}
		})
	}
}
