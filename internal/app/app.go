// Package app はコマンドの解析、依存関係のワイヤリング、サーバーのライフサイクルを提供する。
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/calman/internal/config"
	"github.com/hitoshi/calman/internal/database"
	"github.com/hitoshi/calman/internal/importer"
	"github.com/hitoshi/calman/internal/logger"
)

// Init はアプリケーションの初期化を行う。
// カレントディレクトリの.envを読み込んだ後、環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, slog.LevelInfo)

	// 2. .envは任意。既に設定済みの環境変数は上書きしない
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("failed to load .env", slog.String("error", err.Error()))
	}

	// 3. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger.SetupDefault(w, logger.ParseLevel(cfg.LogLevel))
	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("storage", maskStorageURL(cfg.StorageURL)),
	)

	switch cmd {
	case CommandMigrate:
		return runMigrate(cfg)
	case CommandExport:
		return runExport(cfg, args[1:])
	default:
		return runServe(cfg)
	}
}

// runServe はAPIサーバーモードで起動する。
// ストレージを開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app, err := newApplication(ctx, cfg, slog.Default(), prometheus.NewRegistry())
	if err != nil {
		return err
	}
	defer app.Close()

	go app.hub.Run(ctx)

	server := &http.Server{
		Addr:        ":" + cfg.ServerPort,
		Handler:     app.handler,
		ReadTimeout: 15 * time.Second,
		// インポートはリモートAPIの応答を待つため、書き込みタイムアウトはリモート呼び出しより長くする
		WriteTimeout: cfg.RemoteTimeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
			slog.Int("cached_events", app.cache.Len()),
			slog.Bool("session_active", app.sessions.Active()),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-stop:
	case err := <-errCh:
		return fmt.Errorf("server listen error: %w", err)
	}
	slog.Info("shutting down API server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	cancel()

	slog.Info("API server stopped gracefully")
	return nil
}

// runMigrate はストレージのマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running storage migrations",
		slog.String("storage", maskStorageURL(cfg.StorageURL)),
	)

	if err := database.RunMigrations(cfg.StorageURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("storage migrations completed successfully")
	return nil
}

// runExport は保存済みの確定イベントをiCalendar形式で書き出す。
// 引数にパスを指定した場合はファイルへ、省略した場合は標準出力へ書き出す。
func runExport(cfg *config.Config, args []string) error {
	ctx := context.Background()

	_, db, cache, err := openStorage(ctx, cfg, slog.Default())
	if err != nil {
		return err
	}
	if db != nil {
		defer db.Close()
	}

	out := io.Writer(os.Stdout)
	if len(args) > 0 && args[0] != "-" {
		f, err := os.Create(args[0])
		if err != nil {
			return fmt.Errorf("failed to create export file: %w", err)
		}
		defer f.Close()
		out = f
	}

	events := cache.Events()
	if err := importer.EncodeICS(out, events, time.Now()); err != nil {
		return fmt.Errorf("failed to export calendar: %w", err)
	}

	slog.Info("calendar exported", slog.Int("events", len(events)))
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	target := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(target)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskStorageURL はストレージURLの認証情報をマスクする。
func maskStorageURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "***"
	}
	if u.User != nil {
		u.User = url.User("***")
	}
	return u.String()
}
