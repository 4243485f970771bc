package importer

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/emersion/go-ical"
	"github.com/teambition/rrule-go"

	"github.com/hitoshi/calman/internal/model"
)

// ProductID はエクスポートするカレンダーのPRODID。
const ProductID = "-//calman//Calendar Export//EN"

// icsOccurrenceLayout は繰り返しイベントの各回に付けるIDのサフィックス書式。
const icsOccurrenceLayout = "20060102T150405Z"

// ParseICS はiCalendarストリームからVEVENTを読み取り、確定イベントに変換する。
// RRULEを持つイベントは現在時刻の前後RecurrenceWindowの範囲で展開し、EXDATEに一致する回は除く。
// 取り込める日時を持たないVEVENTは読み飛ばす。
func (s *Service) ParseICS(r io.Reader) ([]model.CalendarEvent, error) {
	dec := ical.NewDecoder(r)
	now := s.now()
	rangeStart := now.Add(-s.config.RecurrenceWindow)
	rangeEnd := now.Add(s.config.RecurrenceWindow)

	var events []model.CalendarEvent
	calendars := 0
	for {
		cal, err := dec.Decode()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, model.NewImportFailedError("iCalendarの解析に失敗しました: " + err.Error())
		}
		calendars++

		for _, ev := range cal.Events() {
			parsed, ok := s.parseVEvent(ev)
			if !ok {
				continue
			}
			if rule := ev.Props.Get(ical.PropRecurrenceRule); rule != nil {
				events = append(events, s.expandRecurring(parsed, rule.Value, exceptionDates(ev), rangeStart, rangeEnd)...)
				continue
			}
			events = append(events, parsed)
		}
	}
	if calendars == 0 {
		return nil, model.NewImportFailedError("VCALENDARが見つかりません。")
	}
	return events, nil
}

// parseVEvent はVEVENTの単発の回を組み立てる。DTSTARTが読めない場合はfalseを返す。
func (s *Service) parseVEvent(ev ical.Event) (model.CalendarEvent, bool) {
	uid, _ := ev.Props.Text(ical.PropUID)

	start, err := ev.DateTimeStart(time.UTC)
	if err != nil || start.IsZero() {
		s.logger.Warn("skipping VEVENT without usable DTSTART", slog.String("uid", uid))
		return model.CalendarEvent{}, false
	}
	end, err := ev.DateTimeEnd(time.UTC)
	if err != nil || end.IsZero() || end.Before(start) {
		end = start
	}

	summary, _ := ev.Props.Text(ical.PropSummary)
	description, _ := ev.Props.Text(ical.PropDescription)
	if description == "" {
		description, _ = ev.Props.Text(ical.PropLocation)
	}

	if uid == "" {
		uid = "ics-" + start.UTC().Format(icsOccurrenceLayout)
	}
	return model.CalendarEvent{
		ID:          uid,
		Title:       summary,
		Description: description,
		Start:       start,
		End:         end,
	}, true
}

// expandRecurring は繰り返しルールを範囲内の各回に展開する。ルールが解釈できない場合は初回のみを返す。
func (s *Service) expandRecurring(base model.CalendarEvent, rawRule string, exdates []time.Time, rangeStart, rangeEnd time.Time) []model.CalendarEvent {
	r, err := rrule.StrToRRule(rawRule)
	if err != nil {
		s.logger.Warn("failed to parse RRULE",
			slog.String("uid", base.ID),
			slog.String("rrule", rawRule),
			slog.String("error", err.Error()),
		)
		return []model.CalendarEvent{base}
	}
	r.DTStart(base.Start)

	var set rrule.Set
	set.RRule(r)
	for _, ex := range exdates {
		set.ExDate(ex.In(base.Start.Location()))
	}

	starts := set.Between(rangeStart.In(base.Start.Location()), rangeEnd.In(base.Start.Location()), true)
	if len(starts) > s.config.MaxOccurrences {
		s.logger.Warn("recurring event truncated",
			slog.String("uid", base.ID),
			slog.Int("occurrences", len(starts)),
			slog.Int("max", s.config.MaxOccurrences),
		)
		starts = starts[:s.config.MaxOccurrences]
	}

	duration := base.End.Sub(base.Start)
	out := make([]model.CalendarEvent, 0, len(starts))
	for _, st := range starts {
		occ := base
		occ.ID = fmt.Sprintf("%s-%s", base.ID, st.UTC().Format(icsOccurrenceLayout))
		occ.Start = st
		occ.End = st.Add(duration)
		out = append(out, occ)
	}
	return out
}

// exceptionDates はEXDATEプロパティ（カンマ区切りの複数値を含む）を読み取る。
func exceptionDates(ev ical.Event) []time.Time {
	var out []time.Time
	for _, prop := range ev.Props.Values(ical.PropExceptionDates) {
		for _, v := range strings.Split(prop.Value, ",") {
			single := ical.Prop{Name: prop.Name, Params: prop.Params, Value: strings.TrimSpace(v)}
			t, err := single.DateTime(time.UTC)
			if err != nil {
				continue
			}
			out = append(out, t)
		}
	}
	return out
}

// ExportICS はキャッシュ中の確定イベントをiCalendar形式でwに書き出す。日時はUTCで出力する。
func (s *Service) ExportICS(w io.Writer) error {
	return EncodeICS(w, s.store.Events(), s.now())
}

// EncodeICS はイベント列をVCALENDARとしてエンコードする。stampは各VEVENTのDTSTAMPに使う。
// VCALENDARは1つ以上のコンポーネントを必要とするため、イベントが空の場合はVALIDATION_FAILEDを返す。
func EncodeICS(w io.Writer, events []model.CalendarEvent, stamp time.Time) error {
	if len(events) == 0 {
		return model.NewValidationError("エクスポートするイベントがありません。")
	}

	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, ProductID)

	for _, e := range events {
		vevent := ical.NewEvent()
		vevent.Props.SetText(ical.PropUID, e.ID)
		vevent.Props.SetText(ical.PropSummary, e.Title)
		if e.Description != "" {
			vevent.Props.SetText(ical.PropDescription, e.Description)
		}
		vevent.Props.SetDateTime(ical.PropDateTimeStart, e.Start.UTC())
		vevent.Props.SetDateTime(ical.PropDateTimeEnd, e.End.UTC())
		vevent.Props.SetDateTime(ical.PropDateTimeStamp, stamp.UTC())
		cal.Children = append(cal.Children, vevent.Component)
	}

	if err := ical.NewEncoder(w).Encode(cal); err != nil {
		return fmt.Errorf("failed to encode calendar: %w", err)
	}
	return nil
}
