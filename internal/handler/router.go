package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/calman/internal/middleware"
	ws "github.com/hitoshi/calman/internal/websocket"
)

// HealthChecker はヘルスチェックで疎通確認する永続化先。*sql.DBが実装する。
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	Logger *slog.Logger

	// ミドルウェア依存
	HealthChecker     HealthChecker // memoryストレージの場合はnil
	SessionValidator  middleware.SessionValidator
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	StatusRecorder    middleware.StatusRecorder
	CSRFConfig        middleware.CSRFConfig
	MetricsHandler    http.Handler

	// 認証
	AuthService AuthServiceInterface
	AuthConfig  AuthHandlerConfig

	// イベント
	EventCache  EventCacheInterface
	Importer    ImportServiceInterface
	EventConfig EventHandlerConfig

	// プロフィール
	ProfileService ProfileServiceInterface

	// 変更通知
	Hub *ws.Hub
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → Logging → SecurityHeaders → CORS → Session → CSRF → RateLimit(General)
//
// 認証ルート（/auth/*）とヘルスチェックはSession以降のチェーンの外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware(logger))
	r.Use(middleware.NewLoggingMiddleware(logger, deps.StatusRecorder))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	authHandler := NewAuthHandler(deps.AuthService, deps.AuthConfig)
	eventHandler := NewEventHandler(deps.EventCache, deps.Importer, deps.EventConfig)
	profileHandler := NewProfileHandler(deps.ProfileService)

	// --- 認証不要のルート ---

	r.Get("/health", healthHandler(deps.HealthChecker))
	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}

	r.Route("/auth", func(r chi.Router) {
		r.Post("/login", authHandler.Login)
		r.Post("/two-factor", authHandler.VerifyTwoFactor)
		r.Post("/register", authHandler.Register)
		r.Post("/logout", authHandler.Logout)
		r.Get("/session", authHandler.Session)
	})

	r.Handle("/api/csrf-token", middleware.NewCSRFTokenHandler(deps.CSRFConfig))

	// --- 認証が必要なルート ---
	// ミドルウェアスタック: Session → CSRF → RateLimit(General)
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewSessionMiddleware(deps.SessionValidator))
		r.Use(middleware.NewCSRFMiddleware(deps.CSRFConfig))
		r.Use(deps.RateLimiter.GeneralMiddleware())

		// イベント管理
		r.Route("/api/events", func(r chi.Router) {
			r.Get("/", eventHandler.ListEvents)
			r.Post("/", eventHandler.CreateEvent)
			r.Delete("/", eventHandler.ClearEvents)

			// インポートは専用のレート制限を追加
			r.With(deps.RateLimiter.ImportMiddleware()).Post("/import", eventHandler.ImportPDF)
			r.With(deps.RateLimiter.ImportMiddleware()).Post("/import/ics", eventHandler.ImportICS)
			r.Get("/export.ics", eventHandler.ExportICS)

			// 下書き
			r.Route("/draft", func(r chi.Router) {
				r.Get("/", eventHandler.GetDraft)
				r.Put("/", eventHandler.PutDraft)
				r.Delete("/", eventHandler.DeleteDraft)
			})

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", eventHandler.GetEvent)
				r.Put("/", eventHandler.UpdateEvent)
				r.Delete("/", eventHandler.DeleteEvent)
			})
		})

		// プロフィール
		r.Route("/api/profile", func(r chi.Router) {
			r.Get("/", profileHandler.GetProfile)
			r.Patch("/", profileHandler.UpdateProfile)
			r.Post("/fields", profileHandler.EditField)
			r.Put("/password", profileHandler.ChangePassword)

			r.Route("/two-factor", func(r chi.Router) {
				r.Put("/", profileHandler.SetTwoFactor)
				r.Post("/send-otp/{type}", profileHandler.SendOTP)
				r.Post("/verify/{otp}", profileHandler.VerifyOTP)
			})
		})

		if deps.Hub != nil {
			r.Get("/ws", NewWebSocketHandler(deps.Hub, deps.CORSAllowedOrigin).Serve)
		}
	})

	return r
}

// healthHandler は永続化先への疎通を確認するハンドラーを返す。
// GET /health
func healthHandler(checker HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if checker != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
			defer cancel()
			if err := checker.PingContext(ctx); err != nil {
				slog.Error("health check failed", slog.String("error", err.Error()))
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
