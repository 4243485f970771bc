package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/hitoshi/calman/internal/auth"
	"github.com/hitoshi/calman/internal/calendar"
	"github.com/hitoshi/calman/internal/config"
	"github.com/hitoshi/calman/internal/database"
	"github.com/hitoshi/calman/internal/handler"
	"github.com/hitoshi/calman/internal/importer"
	"github.com/hitoshi/calman/internal/metrics"
	"github.com/hitoshi/calman/internal/middleware"
	"github.com/hitoshi/calman/internal/profile"
	"github.com/hitoshi/calman/internal/remote"
	"github.com/hitoshi/calman/internal/repository"
	"github.com/hitoshi/calman/internal/security"
	"github.com/hitoshi/calman/internal/session"
	"github.com/hitoshi/calman/internal/store"
	ws "github.com/hitoshi/calman/internal/websocket"
)

// application はserveモードで組み立てた依存関係一式。
type application struct {
	handler  http.Handler
	hub      *ws.Hub
	cache    *calendar.Cache
	sessions *session.Manager
	profile  *profile.Service
	limiter  *middleware.RateLimiter
	db       *sql.DB
}

// Close はアプリケーションが保持するリソースを解放する。保留中のプロフィール更新は送信してから閉じる。
func (a *application) Close() {
	a.profile.Flush()
	a.limiter.Stop()
	if a.db != nil {
		a.db.Close()
	}
}

// openStorage はストレージを開き、キャッシュを復元する。
// SQLiteの場合は起動時にマイグレーションを適用する。
func openStorage(ctx context.Context, cfg *config.Config, logger *slog.Logger) (repository.SlotRepository, *sql.DB, *calendar.Cache, error) {
	dialect, _, err := database.ParseStorageURL(cfg.StorageURL)
	if err != nil {
		return nil, nil, nil, err
	}
	if dialect == database.DialectSQLite {
		if err := database.RunMigrations(cfg.StorageURL); err != nil {
			return nil, nil, nil, fmt.Errorf("failed to migrate storage: %w", err)
		}
	}

	repo, db, err := repository.OpenSlotRepository(cfg.StorageURL)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to open storage: %w", err)
	}
	if db != nil {
		if err := db.PingContext(ctx); err != nil {
			db.Close()
			return nil, nil, nil, fmt.Errorf("failed to connect to storage: %w", err)
		}
	}

	adapter := store.NewAdapter(repo, logger, store.Options{
		Key:          cfg.StorageKey,
		PersistDraft: cfg.PersistDraft,
	})
	cache := calendar.NewCache(adapter, logger, calendar.CacheConfig{Location: cfg.Location})
	cache.Load(ctx)

	return repo, db, cache, nil
}

// newApplication は設定から全依存関係をワイヤリングする。
func newApplication(ctx context.Context, cfg *config.Config, logger *slog.Logger, reg *prometheus.Registry) (*application, error) {
	// 1. ストレージとキャッシュ
	repo, db, cache, err := openStorage(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	collector := metrics.NewCollector(reg)
	collector.SetCachedEvents(cache.Len())

	// 2. セッション
	sessions := session.NewManager(repo, logger)
	if err := sessions.Restore(ctx); err != nil {
		logger.Warn("failed to restore session", slog.String("error", err.Error()))
	}

	// 3. 変更通知
	hub := ws.NewHub(logger)
	broadcaster := ws.NewEventBroadcaster(hub)

	// 4. リモートAPIクライアント
	remoteClient := remote.NewClient(&http.Client{Timeout: cfg.RemoteTimeout}, logger, cfg.APIBaseURL, sessions)
	remoteClient.SetObserver(collector)

	// 5. ドメインサービス
	guard := security.NewSSRFGuard()
	importService := importer.NewService(
		remoteClient, cache, security.NewTextSanitizer(), guard,
		guard.NewSafeClient(cfg.ICSFetchTimeout), logger,
		importer.Config{
			MaxFileSize:      cfg.ImportMaxSize,
			MaxICSSize:       cfg.ImportMaxSize,
			RecurrenceWindow: cfg.ICSWindow,
			MaxOccurrences:   cfg.ICSMaxOccurrence,
		},
	)
	importService.SetRecorder(collector)

	profileService := profile.NewService(remoteClient, broadcaster, logger, profile.Config{Debounce: cfg.ProfileDebounce})
	profileService.SetRecorder(collector)

	authService := auth.NewService(remoteClient, sessions, logger)

	// 6. セッション破棄時はキャッシュを空にしてUIに通知する
	sessions.OnDestroy(func(ctx context.Context, reason session.DestroyReason) {
		profileService.Discard()
		if err := cache.ClearEvents(ctx); err != nil {
			logger.Error("failed to clear calendar on session end", slog.String("error", err.Error()))
		}
		if reason == session.ReasonExpired {
			collector.RecordForcedLogout()
		}
		broadcaster.SessionDestroyed(ctx, reason)
	})
	cache.Subscribe(func(change calendar.Change) {
		broadcaster.CalendarChanged(change)
		collector.SetCachedEvents(cache.Len())
	})

	// 7. ルーター
	limiter := middleware.NewRateLimiter(middleware.RateLimiterConfig{
		GeneralRate:  perMinute(cfg.RateLimitGeneral),
		GeneralBurst: cfg.RateLimitGeneral,
		ImportRate:   perMinute(cfg.RateLimitImport),
		ImportBurst:  cfg.RateLimitImport,
	})

	deps := &handler.RouterDeps{
		Logger:            logger,
		SessionValidator:  sessions,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       limiter,
		StatusRecorder:    collector,
		CSRFConfig:        middleware.CSRFConfig{CookieSecure: cfg.CookieSecure},
		MetricsHandler:    metrics.Handler(reg),

		AuthService: authService,
		AuthConfig: handler.AuthHandlerConfig{
			CookieSecure:  cfg.CookieSecure,
			SessionMaxAge: cfg.SessionMaxAge,
		},

		EventCache:  cache,
		Importer:    importService,
		EventConfig: handler.EventHandlerConfig{MaxUploadSize: cfg.ImportMaxSize},

		ProfileService: profileService,
		Hub:            hub,
	}
	if db != nil {
		deps.HealthChecker = db
	}

	return &application{
		handler:  handler.NewRouter(deps),
		hub:      hub,
		cache:    cache,
		sessions: sessions,
		profile:  profileService,
		limiter:  limiter,
		db:       db,
	}, nil
}

// perMinute はreq/min単位の設定値をrate.Limit（req/sec）に変換する。
func perMinute(n int) rate.Limit {
	if n <= 0 {
		return rate.Inf
	}
	return rate.Limit(float64(n) / 60)
}
