package app

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/http/cookiejar"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/calman/internal/config"
	"github.com/hitoshi/calman/internal/middleware"
)

// fakeBackend はリモートのカレンダーバックエンドを模したテストサーバー。
type fakeBackend struct {
	server       *httptest.Server
	rejectTokens atomic.Bool
}

func newFakeBackend(t *testing.T) *fakeBackend {
	t.Helper()
	b := &fakeBackend{}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/signin", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"jwt":"token-1","status":true,"message":"ok"}`)
	})
	mux.HandleFunc("GET /api/users/profile", func(w http.ResponseWriter, r *http.Request) {
		if b.rejectTokens.Load() || r.Header.Get("Authorization") != "Bearer token-1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"id":1,"fullname":"Hanako","email":"hanako@example.com","mobile":"","twoFactorAuth":{"enabled":false,"sendTo":null}}`)
	})
	b.server = httptest.NewServer(mux)
	t.Cleanup(b.server.Close)
	return b
}

// startTestApp はmemoryストレージでアプリケーションを組み立て、HTTPサーバーとして起動する。
func startTestApp(t *testing.T, backendURL string) (*application, *httptest.Server) {
	t.Helper()
	cfg := &config.Config{
		APIBaseURL:        backendURL,
		RemoteTimeout:     5 * time.Second,
		StorageURL:        "memory://",
		StorageKey:        "calendar-storage",
		Location:          time.UTC,
		ProfileDebounce:   50 * time.Millisecond,
		ImportMaxSize:     1 << 20,
		ICSFetchTimeout:   time.Second,
		RateLimitGeneral:  1000,
		RateLimitImport:   100,
		SessionMaxAge:     3600,
		CORSAllowedOrigin: "http://localhost:5173",
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	app, err := newApplication(ctx, cfg, slog.New(slog.NewTextHandler(io.Discard, nil)), prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("newApplication: %v", err)
	}
	t.Cleanup(app.Close)
	go app.hub.Run(ctx)

	srv := httptest.NewServer(app.handler)
	t.Cleanup(srv.Close)
	return app, srv
}

// apiClient はCookieとCSRFトークンを保持するテスト用クライアント。
type apiClient struct {
	t      *testing.T
	base   string
	client *http.Client
	csrf   string
}

func newAPIClient(t *testing.T, base string) *apiClient {
	t.Helper()
	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("cookiejar.New: %v", err)
	}
	c := &apiClient{t: t, base: base, client: &http.Client{Jar: jar}}

	resp := c.do(http.MethodGet, "/api/csrf-token", "")
	var body map[string]string
	json.NewDecoder(resp.Body).Decode(&body)
	resp.Body.Close()
	for _, v := range body {
		c.csrf = v
	}
	if c.csrf == "" {
		t.Fatal("failed to obtain CSRF token")
	}
	return c
}

func (c *apiClient) do(method, path, body string) *http.Response {
	c.t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, c.base+path, reader)
	if err != nil {
		c.t.Fatalf("NewRequest: %v", err)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.csrf != "" {
		req.Header.Set(middleware.CSRFHeaderName, c.csrf)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("%s %s: %v", method, path, err)
	}
	return resp
}

func (c *apiClient) status(method, path, body string) int {
	c.t.Helper()
	resp := c.do(method, path, body)
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	return resp.StatusCode
}

func TestApplication_LoginThenCalendarFlow(t *testing.T) {
	backend := newFakeBackend(t)
	app, srv := startTestApp(t, backend.server.URL)
	c := newAPIClient(t, srv.URL)

	if got := c.status(http.MethodGet, "/api/events", ""); got != http.StatusUnauthorized {
		t.Fatalf("GET /api/events before login = %d, want %d", got, http.StatusUnauthorized)
	}

	if got := c.status(http.MethodPost, "/auth/login", `{"email":"hanako@example.com","password":"pw"}`); got != http.StatusOK {
		t.Fatalf("POST /auth/login = %d, want %d", got, http.StatusOK)
	}
	if !app.sessions.Active() {
		t.Fatal("session should be active after login")
	}

	if got := c.status(http.MethodPost, "/api/events",
		`{"title":"Standup","start":"2024-05-01T09:00:00Z","end":"2024-05-01T09:30:00Z"}`); got != http.StatusCreated {
		t.Fatalf("POST /api/events = %d, want %d", got, http.StatusCreated)
	}

	resp := c.do(http.MethodGet, "/api/events?year=2024&month=4", "")
	var list struct {
		Events []struct {
			Title string `json:"title"`
		} `json:"events"`
	}
	json.NewDecoder(resp.Body).Decode(&list)
	resp.Body.Close()
	if len(list.Events) != 1 || list.Events[0].Title != "Standup" {
		t.Errorf("events in May = %+v, want [Standup]", list.Events)
	}

	if got := c.status(http.MethodGet, "/api/profile", ""); got != http.StatusOK {
		t.Errorf("GET /api/profile = %d, want %d", got, http.StatusOK)
	}
}

func TestApplication_RemoteRejectionForcesLogout(t *testing.T) {
	backend := newFakeBackend(t)
	app, srv := startTestApp(t, backend.server.URL)
	c := newAPIClient(t, srv.URL)

	c.status(http.MethodPost, "/auth/login", `{"email":"hanako@example.com","password":"pw"}`)
	c.status(http.MethodPost, "/api/events",
		`{"title":"Standup","start":"2024-05-01T09:00:00Z","end":"2024-05-01T09:30:00Z"}`)
	if app.cache.Len() != 1 {
		t.Fatalf("cache has %d events, want 1", app.cache.Len())
	}

	backend.rejectTokens.Store(true)
	if got := c.status(http.MethodGet, "/api/profile", ""); got != http.StatusUnauthorized {
		t.Fatalf("GET /api/profile after revocation = %d, want %d", got, http.StatusUnauthorized)
	}

	if app.sessions.Active() {
		t.Error("session should be destroyed after 401 from the backend")
	}
	if app.cache.Len() != 0 {
		t.Errorf("cache has %d events after forced logout, want 0", app.cache.Len())
	}
	if got := c.status(http.MethodGet, "/api/events", ""); got != http.StatusUnauthorized {
		t.Errorf("GET /api/events after forced logout = %d, want %d", got, http.StatusUnauthorized)
	}
}

func TestApplication_LogoutClearsCalendar(t *testing.T) {
	backend := newFakeBackend(t)
	app, srv := startTestApp(t, backend.server.URL)
	c := newAPIClient(t, srv.URL)

	c.status(http.MethodPost, "/auth/login", `{"email":"hanako@example.com","password":"pw"}`)
	c.status(http.MethodPost, "/api/events",
		`{"title":"Standup","start":"2024-05-01T09:00:00Z","end":"2024-05-01T09:30:00Z"}`)

	if got := c.status(http.MethodPost, "/auth/logout", ""); got != http.StatusNoContent {
		t.Fatalf("POST /auth/logout = %d, want %d", got, http.StatusNoContent)
	}
	if app.cache.Len() != 0 {
		t.Errorf("cache has %d events after logout, want 0", app.cache.Len())
	}
}

func TestApplication_HealthAndMetrics(t *testing.T) {
	backend := newFakeBackend(t)
	_, srv := startTestApp(t, backend.server.URL)
	c := newAPIClient(t, srv.URL)

	if got := c.status(http.MethodGet, "/health", ""); got != http.StatusOK {
		t.Errorf("GET /health = %d, want %d", got, http.StatusOK)
	}

	c.status(http.MethodPost, "/auth/login", `{"email":"hanako@example.com","password":"pw"}`)

	resp := c.do(http.MethodGet, "/metrics", "")
	data, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	for _, want := range []string{"calman_remote_calls_total", "calman_http_status_total"} {
		if !strings.Contains(string(data), want) {
			t.Errorf("/metrics missing %q", want)
		}
	}
}
