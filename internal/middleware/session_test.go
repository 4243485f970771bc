package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hitoshi/calman/internal/model"
)

// --- モック定義 ---

type mockSessionValidator struct {
	validateFn func(sessionID string) bool
}

func (m *mockSessionValidator) Validate(sessionID string) bool {
	if m.validateFn != nil {
		return m.validateFn(sessionID)
	}
	return false
}

func validatorFor(valid string) *mockSessionValidator {
	return &mockSessionValidator{validateFn: func(id string) bool { return id == valid }}
}

// --- テスト ---

func TestSessionMiddleware_ValidSession_InjectsSessionID(t *testing.T) {
	mw := NewSessionMiddleware(validatorFor("sess-1"))

	var captured string
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := SessionIDFromContext(r.Context())
		if err != nil {
			t.Errorf("expected no error, got %v", err)
		}
		captured = id
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/events", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "sess-1"})
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if captured != "sess-1" {
		t.Errorf("session id = %q, want sess-1", captured)
	}
}

func TestSessionMiddleware_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		cookie *http.Cookie
	}{
		{name: "Cookieなし", cookie: nil},
		{name: "空のCookie", cookie: &http.Cookie{Name: SessionCookieName, Value: ""}},
		{name: "一致しないセッション", cookie: &http.Cookie{Name: SessionCookieName, Value: "stale"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mw := NewSessionMiddleware(validatorFor("sess-1"))
			handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				t.Error("handler should not be called")
			}))

			req := httptest.NewRequest(http.MethodGet, "/api/events", nil)
			if tt.cookie != nil {
				req.AddCookie(tt.cookie)
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			if w.Code != http.StatusUnauthorized {
				t.Fatalf("status = %d, want %d", w.Code, http.StatusUnauthorized)
			}
			var body ErrorResponseBody
			if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
				t.Fatalf("failed to decode body: %v", err)
			}
			if body.Code != model.ErrCodeAuthRequired || body.Action == "" {
				t.Errorf("body = %+v, want AUTH_REQUIRED with action", body)
			}
		})
	}
}

func TestSessionCookieHelpers(t *testing.T) {
	w := httptest.NewRecorder()
	SetSessionCookie(w, "sess-1", SessionCookieConfig{Secure: true, MaxAge: 3600})

	cookies := w.Result().Cookies()
	if len(cookies) != 1 {
		t.Fatalf("cookies = %d, want 1", len(cookies))
	}
	c := cookies[0]
	if c.Name != SessionCookieName || c.Value != "sess-1" || !c.HttpOnly || !c.Secure || c.MaxAge != 3600 {
		t.Errorf("unexpected cookie: %+v", c)
	}

	w = httptest.NewRecorder()
	ClearSessionCookie(w, SessionCookieConfig{})
	cleared := w.Result().Cookies()[0]
	if cleared.MaxAge >= 0 || cleared.Value != "" {
		t.Errorf("cookie not cleared: %+v", cleared)
	}
}

func TestSessionIDFromContext_Missing(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if _, err := SessionIDFromContext(req.Context()); err == nil {
		t.Error("expected error for empty context")
	}
	ctx := ContextWithSessionID(req.Context(), "x")
	if id, err := SessionIDFromContext(ctx); err != nil || id != "x" {
		t.Errorf("got %q, %v", id, err)
	}
}
