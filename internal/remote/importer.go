package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/calman/internal/model"
)

// importedEvent はPDFインポートAPIが返すイベント1件。
// idは数値または文字列、タイトルはsummaryまたはtitle、説明はdescriptionまたはlocationで返る。
type importedEvent struct {
	ID            json.RawMessage `json:"id"`
	Summary       string          `json:"summary"`
	Title         string          `json:"title"`
	Description   string          `json:"description"`
	Location      string          `json:"location"`
	StartDateTime string          `json:"startDateTime"`
	EndDateTime   string          `json:"endDateTime"`
}

// importLayouts はインポート結果の日時として受け付けるフォーマット。
// タイムゾーンのない表記はUTCとして扱う。
var importLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
}

// ImportEventsFromPDF はPDFをアップロードし、バックエンドが抽出したイベントを返す。
// ファイル形式の検証は呼び出し側で行うこと。
func (c *Client) ImportEventsFromPDF(ctx context.Context, filename string, content io.Reader) ([]model.CalendarEvent, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return nil, fmt.Errorf("failed to create multipart part: %w", err)
	}
	if _, err := io.Copy(part, content); err != nil {
		return nil, fmt.Errorf("failed to write multipart content: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart writer: %w", err)
	}

	body, err := c.do(ctx, request{
		operation:   "events.import",
		method:      http.MethodPost,
		path:        "/api/events/import",
		body:        &buf,
		contentType: mw.FormDataContentType(),
		auth:        true,
		fallback:    "PDFからのイベント取り込みに失敗しました。",
	})
	if err != nil {
		return nil, err
	}

	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, model.NewImportFailedError("PDFにイベントが見つかりませんでした。")
	}

	var items []importedEvent
	if err := json.Unmarshal(trimmed, &items); err != nil {
		c.logger.Error("failed to decode import response")
		return nil, model.NewImportFailedError("インポート結果の形式が不正です。")
	}

	events := make([]model.CalendarEvent, 0, len(items))
	for i, item := range items {
		e, err := item.toEvent()
		if err != nil {
			return nil, model.NewImportFailedError(fmt.Sprintf("%d件目: %s", i+1, err.Error()))
		}
		events = append(events, e)
	}
	return events, nil
}

func (it importedEvent) toEvent() (model.CalendarEvent, error) {
	id := rawID(it.ID)
	if it.StartDateTime == "" || it.EndDateTime == "" {
		return model.CalendarEvent{}, fmt.Errorf("日時がありません")
	}
	start, err := parseImportTime(it.StartDateTime)
	if err != nil {
		return model.CalendarEvent{}, fmt.Errorf("開始日時の形式が不正です: %s", it.StartDateTime)
	}
	end, err := parseImportTime(it.EndDateTime)
	if err != nil {
		return model.CalendarEvent{}, fmt.Errorf("終了日時の形式が不正です: %s", it.EndDateTime)
	}

	title := it.Summary
	if title == "" {
		title = it.Title
	}
	if id == "" {
		id = uuid.New().String()
	}
	if title == "" {
		title = "Event " + id
	}
	description := it.Description
	if description == "" {
		description = it.Location
	}

	return model.CalendarEvent{
		ID:          id,
		Title:       title,
		Description: description,
		Start:       start,
		End:         end,
	}.Normalized(), nil
}

// rawID は数値または文字列のIDを文字列に変換する。nullや欠落は空文字になる。
func rawID(raw json.RawMessage) string {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return ""
	}
	var s string
	if err := json.Unmarshal(trimmed, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(trimmed, &n); err == nil {
		if i, err := n.Int64(); err == nil {
			return strconv.FormatInt(i, 10)
		}
		return n.String()
	}
	return ""
}

func parseImportTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	var lastErr error
	for _, layout := range importLayouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			return t, nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}
