// Package calendar synchronizes events from a Notion database into a
// Google Calendar.  Both APIs are spoken over plain REST; the Notion
// page id is stamped onto every calendar event so subsequent runs can
// tell managed events apart from hand-created ones.
package calendar

import (
	"time"
)

// EventTime is the start/end shape shared by both APIs: all-day events
// carry Date, timed events carry DateTime (RFC 3339).
type EventTime struct {
	Date     string `json:"date,omitempty"`
	DateTime string `json:"dateTime,omitempty"`
	TimeZone string `json:"timeZone,omitempty"`
}

// Event is a normalized calendar entry sourced from one Notion page.
type Event struct {
	NotionPageID string
	Summary      string
	Location     string
	Description  string
	Start        EventTime
	End          EventTime
}

// ensureEnd fills in a missing end: timed events get one hour, all-day
// events get the exclusive next day Google expects.
func (e *Event) ensureEnd() {
	if e.End.Date != "" || e.End.DateTime != "" {
		return
	}
	if e.Start.DateTime != "" {
		if t, err := time.Parse(time.RFC3339, e.Start.DateTime); err == nil {
			e.End = EventTime{DateTime: t.Add(time.Hour).Format(time.RFC3339)}
		}
		return
	}
	if e.Start.Date != "" {
		if d, err := time.Parse("2006-01-02", e.Start.Date); err == nil {
			e.End = EventTime{Date: d.AddDate(0, 0, 1).Format("2006-01-02")}
		}
	}
}

// parseTime turns a Notion date string into an EventTime.  Notion emits
// either a bare date or an RFC 3339 timestamp.
func parseTime(s string) (EventTime, bool) {
	if s == "" {
		return EventTime{}, false
	}
	if _, err := time.Parse("2006-01-02", s); err == nil {
		return EventTime{Date: s}, true
	}
	if _, err := time.Parse(time.RFC3339, s); err == nil {
		return EventTime{DateTime: s}, true
	}
	return EventTime{}, false
}
