// Package importer は外部ファイル・URLからのイベント取り込みと、iCalendar形式での書き出しを提供する。
// 取り込んだイベントはサニタイズした上でキャッシュへ直接書き込まれる。
package importer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/hitoshi/calman/internal/model"
	"github.com/hitoshi/calman/internal/security"
)

// 取り込み元（メトリクスのラベル）
const (
	SourcePDF = "pdf"
	SourceICS = "ics"
)

// sniffLen はContent-Type判定に使うファイル先頭のバイト数。
const sniffLen = 512

// PDFImporter はPDFからイベントを抽出するリモートAPI。remote.Clientが実装する。
type PDFImporter interface {
	ImportEventsFromPDF(ctx context.Context, filename string, content io.Reader) ([]model.CalendarEvent, error)
}

// EventStore は取り込み先のイベントキャッシュ。calendar.Cacheが実装する。
type EventStore interface {
	AddEvents(ctx context.Context, events []model.CalendarEvent) ([]model.CalendarEvent, error)
	Events() []model.CalendarEvent
}

// ImportRecorder はインポート件数を記録する。metrics.Collectorが実装する。
type ImportRecorder interface {
	RecordImportedEvents(source string, count int)
}

// Config はインポートサービスの設定。
type Config struct {
	// MaxFileSize はアップロードできるPDFの最大バイト数。
	MaxFileSize int64
	// MaxICSSize は取得するICSの最大バイト数。
	MaxICSSize int64
	// RecurrenceWindow は繰り返しイベントを展開する期間（現在時刻の前後）。
	RecurrenceWindow time.Duration
	// MaxOccurrences は繰り返しイベント1件あたりの最大展開数。
	MaxOccurrences int
}

// Service はイベントの取り込みと書き出しを行う。
// 取り込みはプロセス内で同時に1件のみ実行できる。
type Service struct {
	pdf       PDFImporter
	store     EventStore
	sanitizer security.TextSanitizerService
	guard     security.SSRFGuardService
	fetcher   *http.Client
	recorder  ImportRecorder
	logger    *slog.Logger
	config    Config
	now       func() time.Time

	inFlight sync.Mutex
}

// NewService はServiceを生成する。fetcherはICS取得用のHTTPクライアントで、
// 通常はguard.NewSafeClientで生成したものを渡す。
func NewService(
	pdf PDFImporter,
	store EventStore,
	sanitizer security.TextSanitizerService,
	guard security.SSRFGuardService,
	fetcher *http.Client,
	logger *slog.Logger,
	config Config,
) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if config.MaxOccurrences <= 0 {
		config.MaxOccurrences = 500
	}
	if config.RecurrenceWindow <= 0 {
		config.RecurrenceWindow = 365 * 24 * time.Hour
	}
	return &Service{
		pdf:       pdf,
		store:     store,
		sanitizer: sanitizer,
		guard:     guard,
		fetcher:   fetcher,
		logger:    logger,
		config:    config,
		now:       time.Now,
	}
}

// SetRecorder はインポート件数の記録先を設定する。
func (s *Service) SetRecorder(r ImportRecorder) {
	s.recorder = r
}

// ImportPDF はPDFを検証してリモートAPIに送り、抽出されたイベントをキャッシュに追加する。
// 検証はネットワーク呼び出しの前に行う。
// 空の選択、拡張子またはファイル内容がPDFでない場合、サイズ超過の場合はリモートAPIを呼ばない。
func (s *Service) ImportPDF(ctx context.Context, filename string, size int64, content io.Reader) ([]model.CalendarEvent, error) {
	if strings.TrimSpace(filename) == "" || content == nil || size == 0 {
		return nil, model.NewValidationError("ファイルが選択されていません。")
	}
	if !strings.EqualFold(filepath.Ext(filename), ".pdf") {
		return nil, model.NewInvalidFileTypeError(filename)
	}
	if s.config.MaxFileSize > 0 && size > s.config.MaxFileSize {
		return nil, model.NewFileTooLargeError(s.config.MaxFileSize)
	}

	head := make([]byte, sniffLen)
	n, err := io.ReadFull(content, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to read uploaded file: %w", err)
	}
	head = head[:n]
	if n == 0 {
		return nil, model.NewValidationError("ファイルが空です。")
	}
	if ct := http.DetectContentType(head); ct != "application/pdf" {
		s.logger.Warn("rejected upload with non-PDF content",
			slog.String("filename", filename),
			slog.String("detected_type", ct),
		)
		return nil, model.NewInvalidFileTypeError(filename)
	}

	if !s.inFlight.TryLock() {
		return nil, model.NewImportInProgressError()
	}
	defer s.inFlight.Unlock()

	events, err := s.pdf.ImportEventsFromPDF(ctx, filename, io.MultiReader(bytes.NewReader(head), content))
	if err != nil {
		return nil, err
	}
	return s.addImported(ctx, SourcePDF, events)
}

// ImportICS は公開カレンダーのURL（http/https/webcal）からICSを取得し、イベントをキャッシュに追加する。
// 繰り返しイベントは現在時刻の前後RecurrenceWindowの範囲で展開する。
func (s *Service) ImportICS(ctx context.Context, rawURL string) ([]model.CalendarEvent, error) {
	if strings.TrimSpace(rawURL) == "" {
		return nil, model.NewValidationError("URLが入力されていません。")
	}
	target, err := s.guard.NormalizeURL(rawURL)
	if err != nil {
		var blocked *security.BlockedAddressError
		if errors.As(err, &blocked) {
			return nil, model.NewSSRFBlockedError()
		}
		return nil, model.NewInvalidURLError(err.Error())
	}

	if !s.inFlight.TryLock() {
		return nil, model.NewImportInProgressError()
	}
	defer s.inFlight.Unlock()

	body, err := s.fetchICS(ctx, target)
	if err != nil {
		return nil, err
	}

	events, err := s.ParseICS(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	return s.addImported(ctx, SourceICS, events)
}

func (s *Service) fetchICS(ctx context.Context, target string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, model.NewInvalidURLError(err.Error())
	}
	req.Header.Set("Accept", "text/calendar, */*;q=0.5")
	req.Header.Set("User-Agent", "calman/1.0")

	resp, err := s.fetcher.Do(req)
	if err != nil {
		s.logger.Warn("failed to fetch calendar",
			slog.String("url", target),
			slog.String("error", err.Error()),
		)
		return nil, model.NewImportFailedError("カレンダーを取得できませんでした。")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, model.NewImportFailedError(fmt.Sprintf("カレンダーの取得でステータス %d が返されました。", resp.StatusCode))
	}

	limit := s.config.MaxICSSize
	if limit <= 0 {
		limit = 10 << 20
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, model.NewImportFailedError("カレンダーの読み取りに失敗しました。")
	}
	if int64(len(body)) > limit {
		return nil, model.NewFileTooLargeError(limit)
	}
	return body, nil
}

// sanitize はタイトルと説明文をプレーンテキストにする。タイトルが空になった場合は "Event <id>" を使う。
func (s *Service) sanitize(events []model.CalendarEvent) []model.CalendarEvent {
	out := make([]model.CalendarEvent, 0, len(events))
	for _, e := range events {
		e.Title = s.sanitizer.SanitizeTitle(e.Title)
		e.Description = s.sanitizer.SanitizeDescription(e.Description)
		if e.Title == "" {
			e.Title = "Event " + e.ID
		}
		e.IsDraft = false
		out = append(out, e)
	}
	return out
}

// addImported はサニタイズしたイベントを1回の書き込みでキャッシュへ追加する。
func (s *Service) addImported(ctx context.Context, source string, events []model.CalendarEvent) ([]model.CalendarEvent, error) {
	if len(events) == 0 {
		return nil, model.NewImportFailedError("取り込めるイベントがありませんでした。")
	}
	added, err := s.store.AddEvents(ctx, s.sanitize(events))
	if err != nil {
		return nil, err
	}
	if s.recorder != nil {
		s.recorder.RecordImportedEvents(source, len(added))
	}
	s.logger.Info("events imported",
		slog.String("source", source),
		slog.Int("count", len(added)),
	)
	return added, nil
}
