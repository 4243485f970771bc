package model

import (
	"fmt"
	"strings"
	"time"
)

// CalendarEvent はカレンダー上の1件のイベントを表す。
// IDは作成時に割り当てられ、以後変更されない。
type CalendarEvent struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	IsDraft     bool      `json:"isDraft,omitempty"`
}

// TimePrecision はキャッシュが保持する日時の精度。
// スナップショットのテキスト表現（ミリ秒まで）と揃える。
const TimePrecision = time.Millisecond

// NormalizeTime は日時をキャッシュ内部の表現に正規化する。
// モノトニッククロックの読みを除去し、ミリ秒精度に切り詰めてUTCに変換する。
func NormalizeTime(t time.Time) time.Time {
	return t.Round(0).Truncate(TimePrecision).UTC()
}

// スナップショットのRFC 3339表現で読み戻せるUTCの年の範囲。
const (
	minYear = 0
	maxYear = 9999
)

func storableYear(t time.Time) bool {
	y := t.UTC().Year()
	return y >= minYear && y <= maxYear
}

// Normalized は開始・終了日時を正規化したコピーを返す。
func (e CalendarEvent) Normalized() CalendarEvent {
	e.Start = NormalizeTime(e.Start)
	e.End = NormalizeTime(e.End)
	return e
}

// ValidateRange は開始・終了日時の整合性を検証する。
// 下書きイベントにも適用する。
func (e CalendarEvent) ValidateRange() error {
	if e.Start.IsZero() || e.End.IsZero() {
		return NewValidationError("開始日時と終了日時は必須です")
	}
	if !storableYear(e.Start) || !storableYear(e.End) {
		return NewValidationError(fmt.Sprintf("日時は%d年から%d年の範囲で指定してください", minYear, maxYear))
	}
	if e.End.Before(e.Start) {
		return NewInvalidEventRangeError()
	}
	return nil
}

// Validate は確定イベントとして保存可能かを検証する。
// タイトルは空白のみを不可とし、日時範囲はValidateRangeで検証する。
func (e CalendarEvent) Validate() error {
	if strings.TrimSpace(e.Title) == "" {
		return NewValidationError("タイトルは必須です")
	}
	return e.ValidateRange()
}

// InMonth はイベントの開始日時が指定した年月に含まれるかを返す。
// 年月の判定はlocのタイムゾーンで行う。locがnilの場合はUTCとみなす。
func (e CalendarEvent) InMonth(year int, month time.Month, loc *time.Location) bool {
	if loc == nil {
		loc = time.UTC
	}
	start := e.Start.In(loc)
	return start.Year() == year && start.Month() == month
}
