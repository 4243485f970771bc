package handler

import (
	"bytes"
	"context"
	"errors"
	"io"
	"iter"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/calman/internal/model"
)

// EventCacheInterface はイベントハンドラーが必要とするキャッシュ操作。calendar.Cacheが実装する。
type EventCacheInterface interface {
	AddEvent(ctx context.Context, event model.CalendarEvent) (model.CalendarEvent, error)
	UpdateEvent(ctx context.Context, event model.CalendarEvent) (model.CalendarEvent, error)
	DeleteEvent(ctx context.Context, id string) error
	SetDraftEvent(ctx context.Context, event *model.CalendarEvent) (*model.CalendarEvent, error)
	ClearEvents(ctx context.Context) error
	EventsByMonth(year int, month time.Month) iter.Seq[model.CalendarEvent]
	Events() []model.CalendarEvent
	Event(id string) (model.CalendarEvent, bool)
	Draft() *model.CalendarEvent
}

// ImportServiceInterface はインポート・エクスポートのサービス。importer.Serviceが実装する。
type ImportServiceInterface interface {
	ImportPDF(ctx context.Context, filename string, size int64, content io.Reader) ([]model.CalendarEvent, error)
	ImportICS(ctx context.Context, rawURL string) ([]model.CalendarEvent, error)
	ExportICS(w io.Writer) error
}

// EventHandlerConfig はイベントハンドラーの設定。
type EventHandlerConfig struct {
	// MaxUploadSize はアップロードを受け付けるファイルの最大バイト数。
	MaxUploadSize int64
}

// EventHandler はイベントキャッシュのHTTPハンドラー。
type EventHandler struct {
	cache    EventCacheInterface
	importer ImportServiceInterface
	config   EventHandlerConfig
}

// NewEventHandler はEventHandlerを生成する。
func NewEventHandler(cache EventCacheInterface, importer ImportServiceInterface, config EventHandlerConfig) *EventHandler {
	if config.MaxUploadSize <= 0 {
		config.MaxUploadSize = 10 << 20
	}
	return &EventHandler{cache: cache, importer: importer, config: config}
}

// eventRequest はイベント作成・更新・下書きのリクエストボディ。日時はRFC 3339文字列。
type eventRequest struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
}

func (req eventRequest) toEvent() model.CalendarEvent {
	return model.CalendarEvent{
		ID:          req.ID,
		Title:       req.Title,
		Description: req.Description,
		Start:       req.Start,
		End:         req.End,
	}
}

type eventListResponse struct {
	Events []model.CalendarEvent `json:"events"`
}

type draftResponse struct {
	Draft *model.CalendarEvent `json:"draft"`
}

type importResponse struct {
	Imported int                   `json:"imported"`
	Events   []model.CalendarEvent `json:"events"`
}

type importICSRequest struct {
	URL string `json:"url"`
}

// ListEvents はイベント一覧を返す。
// GET /api/events?year=2024&month=4
// monthは0始まり（0=1月）。year/monthを省略すると全件を返す。
func (h *EventHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	yearStr, monthStr := q.Get("year"), q.Get("month")

	if yearStr == "" && monthStr == "" {
		writeJSON(w, http.StatusOK, eventListResponse{Events: nonNil(h.cache.Events())})
		return
	}

	year, errYear := strconv.Atoi(yearStr)
	month, errMonth := strconv.Atoi(monthStr)
	if errYear != nil || errMonth != nil || month < 0 || month > 11 {
		writeAPIErrorResponse(w, http.StatusBadRequest,
			model.NewValidationError("yearとmonth（0〜11）を指定してください。"))
		return
	}

	events := []model.CalendarEvent{}
	for e := range h.cache.EventsByMonth(year, time.Month(month+1)) {
		events = append(events, e)
	}
	writeJSON(w, http.StatusOK, eventListResponse{Events: events})
}

// GetEvent はイベントを1件返す。
// GET /api/events/{id}
func (h *EventHandler) GetEvent(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	event, ok := h.cache.Event(id)
	if !ok {
		handleServiceError(w, model.NewEventNotFoundError(id))
		return
	}
	writeJSON(w, http.StatusOK, event)
}

// CreateEvent はイベントを追加する。
// POST /api/events
func (h *EventHandler) CreateEvent(w http.ResponseWriter, r *http.Request) {
	var req eventRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	event, err := h.cache.AddEvent(r.Context(), req.toEvent())
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, event)
}

// UpdateEvent はイベントを置き換える。パスのIDがボディのIDより優先される。
// PUT /api/events/{id}
func (h *EventHandler) UpdateEvent(w http.ResponseWriter, r *http.Request) {
	var req eventRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.ID = chi.URLParam(r, "id")
	event, err := h.cache.UpdateEvent(r.Context(), req.toEvent())
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, event)
}

// DeleteEvent はイベントを削除する。存在しないIDでも204を返す。
// DELETE /api/events/{id}
func (h *EventHandler) DeleteEvent(w http.ResponseWriter, r *http.Request) {
	if err := h.cache.DeleteEvent(r.Context(), chi.URLParam(r, "id")); err != nil {
		handleServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ClearEvents はすべてのイベントと下書きを削除する。
// DELETE /api/events
func (h *EventHandler) ClearEvents(w http.ResponseWriter, r *http.Request) {
	if err := h.cache.ClearEvents(r.Context()); err != nil {
		handleServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetDraft は下書きを返す。下書きがない場合はdraftがnull。
// GET /api/events/draft
func (h *EventHandler) GetDraft(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, draftResponse{Draft: h.cache.Draft()})
}

// PutDraft は下書きを置き換える。
// PUT /api/events/draft
func (h *EventHandler) PutDraft(w http.ResponseWriter, r *http.Request) {
	var req eventRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	event := req.toEvent()
	draft, err := h.cache.SetDraftEvent(r.Context(), &event)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, draftResponse{Draft: draft})
}

// DeleteDraft は下書きを破棄する。
// DELETE /api/events/draft
func (h *EventHandler) DeleteDraft(w http.ResponseWriter, r *http.Request) {
	if _, err := h.cache.SetDraftEvent(r.Context(), nil); err != nil {
		handleServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ImportPDF はアップロードされたPDFからイベントを取り込む。
// POST /api/events/import（multipart/form-data、フィールド名 file）
func (h *EventHandler) ImportPDF(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.config.MaxUploadSize+(1<<20))
	file, header, err := r.FormFile("file")
	if err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.As(err, &maxErr):
			handleServiceError(w, model.NewFileTooLargeError(h.config.MaxUploadSize))
		case errors.Is(err, http.ErrMissingFile):
			handleServiceError(w, model.NewValidationError("ファイルが選択されていません。"))
		default:
			slog.Warn("failed to read multipart upload", slog.String("error", err.Error()))
			handleServiceError(w, model.NewValidationError("アップロードされたファイルを読み取れませんでした。"))
		}
		return
	}
	defer file.Close()

	events, err := h.importer.ImportPDF(r.Context(), header.Filename, header.Size, file)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, importResponse{Imported: len(events), Events: events})
}

// ImportICS は公開カレンダーのURLからイベントを取り込む。
// POST /api/events/import/ics
func (h *EventHandler) ImportICS(w http.ResponseWriter, r *http.Request) {
	var req importICSRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	events, err := h.importer.ImportICS(r.Context(), req.URL)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, importResponse{Imported: len(events), Events: events})
}

// ExportICS は確定イベントをiCalendar形式で返す。
// GET /api/events/export.ics
func (h *EventHandler) ExportICS(w http.ResponseWriter, r *http.Request) {
	var buf bytes.Buffer
	if err := h.importer.ExportICS(&buf); err != nil {
		handleServiceError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="calendar.ics"`)
	w.Write(buf.Bytes())
}

func nonNil(events []model.CalendarEvent) []model.CalendarEvent {
	if events == nil {
		return []model.CalendarEvent{}
	}
	return events
}
