// Package config は環境変数からアプリケーション設定を読み込む。
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Remote API
	APIBaseURL    string
	RemoteTimeout time.Duration

	// Storage
	StorageURL   string
	StorageKey   string
	PersistDraft bool

	// Calendar
	Location *time.Location

	// Profile
	ProfileDebounce time.Duration

	// Import
	ImportMaxSize    int64
	ICSFetchTimeout  time.Duration
	ICSWindow        time.Duration
	ICSMaxOccurrence int

	// Rate Limit（req/min）
	RateLimitGeneral int
	RateLimitImport  int

	// Session
	SessionMaxAge int

	// Server
	ServerPort string

	// Cookie
	CookieSecure bool

	// CORS
	CORSAllowedOrigin string

	// Logging
	LogLevel string
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定、または値が不正な場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.APIBaseURL = strings.TrimRight(os.Getenv("API_BASE_URL"), "/")
	if cfg.APIBaseURL == "" {
		missing = append(missing, "API_BASE_URL")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	if u, err := url.Parse(cfg.APIBaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("API_BASE_URL must be an absolute URL: %q", cfg.APIBaseURL)
	}

	tz := getEnvString("TIMEZONE", "Local")
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("invalid TIMEZONE %q: %w", tz, err)
	}
	cfg.Location = loc

	// Optional fields with defaults
	cfg.RemoteTimeout = getEnvDuration("REMOTE_TIMEOUT", 15*time.Second)
	cfg.StorageURL = getEnvString("STORAGE_URL", "sqlite3://./data/calman.db")
	cfg.StorageKey = getEnvString("STORAGE_KEY", "calendar-storage")
	cfg.PersistDraft = getEnvBool("PERSIST_DRAFT", false)
	cfg.ProfileDebounce = getEnvDuration("PROFILE_DEBOUNCE", time.Second)
	cfg.ImportMaxSize = getEnvInt64("IMPORT_MAX_SIZE", 10<<20)
	cfg.ICSFetchTimeout = getEnvDuration("ICS_FETCH_TIMEOUT", 10*time.Second)
	cfg.ICSWindow = getEnvDuration("ICS_RECURRENCE_WINDOW", 365*24*time.Hour)
	cfg.ICSMaxOccurrence = getEnvInt("ICS_MAX_OCCURRENCES", 500)
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitImport = getEnvInt("RATE_LIMIT_IMPORT", 10)
	cfg.SessionMaxAge = getEnvInt("SESSION_MAX_AGE", 7*86400)
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.CookieSecure = getEnvBool("COOKIE_SECURE", false)
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:5173")
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")

	return cfg, nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvInt64(key string, defaultVal int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
