package caldavapi

import (
	"strings"
	"testing"
	"time"

	"github.com/emersion/go-ical"

	"github.com/jw6ventures/mailvite/internal/itip"
)

// storedSeries decodes a calendar object holding a weekly master, one
// single-edit override and a VTIMEZONE, the shape a CalDAV server hands back
// for a recurring series.
func storedSeries(t *testing.T) *ical.Calendar {
	t.Helper()
	raw := strings.Join([]string{
		"BEGIN:VCALENDAR",
		"VERSION:2.0",
		"PRODID:-//Test//EN",
		"BEGIN:VTIMEZONE",
		"TZID:Europe/Berlin",
		"BEGIN:STANDARD",
		"DTSTART:19701025T030000",
		"TZOFFSETFROM:+0200",
		"TZOFFSETTO:+0100",
		"END:STANDARD",
		"END:VTIMEZONE",
		"BEGIN:VEVENT",
		"UID:series-1",
		"DTSTAMP:20260501T080000Z",
		"DTSTART:20260603T100000Z",
		"DTEND:20260603T110000Z",
		"SUMMARY:Standup",
		"RRULE:FREQ=WEEKLY",
		"END:VEVENT",
		"BEGIN:VEVENT",
		"UID:series-1",
		"DTSTAMP:20260501T090000Z",
		"DTSTART:20260610T100000Z",
		"DTEND:20260610T110000Z",
		"SUMMARY:Standup (moved)",
		"RECURRENCE-ID:20260610T100000Z",
		"END:VEVENT",
		"END:VCALENDAR",
		"",
	}, "\r\n")

	cal, err := ical.NewDecoder(strings.NewReader(raw)).Decode()
	if err != nil {
		t.Fatalf("decode fixture: %v", err)
	}
	return cal
}

func veventsOf(cal *ical.Calendar) []*ical.Component {
	var out []*ical.Component
	for _, child := range cal.Children {
		if child.Name == ical.CompEvent {
			out = append(out, child)
		}
	}
	return out
}

func TestObjectPath(t *testing.T) {
	tests := []struct {
		eventID string
		want    string
	}{
		{"/cal/personal/series-1.ics", "/cal/personal/series-1.ics"},
		{"/cal/personal/series-1.ics#20260610T100000Z", "/cal/personal/series-1.ics"},
	}
	for _, tc := range tests {
		if got := ObjectPath(tc.eventID); got != tc.want {
			t.Errorf("ObjectPath(%q) = %q, want %q", tc.eventID, got, tc.want)
		}
	}
}

func TestMergeObjectReplacesOverrideOnly(t *testing.T) {
	stored := storedSeries(t)
	update := &itip.Vevent{
		UID:          "series-1",
		Stamp:        time.Date(2026, 5, 2, 8, 0, 0, 0, time.UTC),
		Start:        itip.DateTime{Time: time.Date(2026, 6, 10, 12, 0, 0, 0, time.UTC)},
		Status:       itip.StatusConfirmed,
		Summary:      "Standup (moved again)",
		RecurrenceID: &itip.DateTime{Time: time.Date(2026, 6, 10, 10, 0, 0, 0, time.UTC)},
	}

	merged := mergeObject(stored, update)

	if len(merged.Children) != len(stored.Children) {
		t.Fatalf("children = %d, want %d", len(merged.Children), len(stored.Children))
	}
	events := veventsOf(merged)
	if len(events) != 2 {
		t.Fatalf("vevents = %d, want 2", len(events))
	}
	for _, ev := range events {
		summary := ev.Props.Get(ical.PropSummary).Value
		if ev.Props.Get(ical.PropRecurrenceID) != nil {
			if summary != "Standup (moved again)" {
				t.Errorf("override summary = %q", summary)
			}
			continue
		}
		if summary != "Standup" {
			t.Errorf("master summary = %q, must stay untouched", summary)
		}
		if ev.Props.Get(ical.PropRecurrenceRule) == nil {
			t.Error("master lost its RRULE")
		}
	}
}

func TestMergeObjectReplacesMasterKeepsOverride(t *testing.T) {
	stored := storedSeries(t)
	update := &itip.Vevent{
		UID:     "series-1",
		Stamp:   time.Date(2026, 5, 2, 8, 0, 0, 0, time.UTC),
		Start:   itip.DateTime{Time: time.Date(2026, 6, 3, 10, 0, 0, 0, time.UTC)},
		Status:  itip.StatusConfirmed,
		Summary: "Standup",
		RRule:   "FREQ=WEEKLY",
		ExDates: []itip.DateTime{{Time: time.Date(2026, 6, 17, 10, 0, 0, 0, time.UTC)}},
	}

	merged := mergeObject(stored, update)

	events := veventsOf(merged)
	if len(events) != 2 {
		t.Fatalf("vevents = %d, want 2", len(events))
	}
	var sawOverride, sawExdate bool
	for _, ev := range events {
		if ev.Props.Get(ical.PropRecurrenceID) != nil {
			sawOverride = true
			continue
		}
		if ev.Props.Get(ical.PropExceptionDates) != nil {
			sawExdate = true
		}
	}
	if !sawOverride {
		t.Error("master update dropped the stored override")
	}
	if !sawExdate {
		t.Error("updated master lost its EXDATE")
	}
}

func TestMergeObjectAppendsUnknownOverride(t *testing.T) {
	stored := storedSeries(t)
	update := &itip.Vevent{
		UID:          "series-1",
		Stamp:        time.Date(2026, 5, 2, 8, 0, 0, 0, time.UTC),
		Start:        itip.DateTime{Time: time.Date(2026, 6, 17, 14, 0, 0, 0, time.UTC)},
		Status:       itip.StatusConfirmed,
		Summary:      "Standup (one-off)",
		RecurrenceID: &itip.DateTime{Time: time.Date(2026, 6, 17, 10, 0, 0, 0, time.UTC)},
	}

	merged := mergeObject(stored, update)

	if got := len(veventsOf(merged)); got != 3 {
		t.Errorf("vevents = %d, want 3 after appending a new override", got)
	}
}
