package itip

import (
	"fmt"
	"strings"
	"testing"
	"time"
)

func decodeTestICS(t *testing.T, body string) (*EventInvitation, error) {
	t.Helper()
	ics := "BEGIN:VCALENDAR\nVERSION:2.0\nPRODID:-//Test//EN\n" + body + "END:VCALENDAR\n"
	ics = strings.ReplaceAll(ics, "\n", "\r\n")
	cal, hash, err := Parse([]byte(ics))
	if err != nil {
		t.Fatalf("failed to parse test ICS: %v", err)
	}
	return Normalize(cal, NormalizeOptions{
		ReceivedAt:      time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		DefaultTimezone: time.UTC,
		Hash:            hash,
	})
}

func TestNormalize_ImportModes(t *testing.T) {
	tests := []struct {
		name   string
		method string
	}{
		{"missing method", ""},
		{"publish", "METHOD:PUBLISH\n"},
		{"publish lowercase", "METHOD:publish\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inv, err := decodeTestICS(t, tt.method+
				"BEGIN:VEVENT\nUID:import-1\nDTSTART:20260301T100000Z\nEND:VEVENT\n")
			if err != nil {
				t.Fatalf("import mode must not fail: %v", err)
			}
			if !inv.IsImport() {
				t.Errorf("expected IsImport for method %q", tt.method)
			}
		})
	}
}

func TestNormalize_EnvelopeRejections(t *testing.T) {
	tests := []struct {
		name string
		ics  string
		kind ErrorKind
	}{
		{
			"non-gregorian calscale",
			"CALSCALE:BUDDHIST\nBEGIN:VEVENT\nUID:a\nDTSTART:20260301T100000Z\nEND:VEVENT\n",
			KindUnsupported,
		},
		{
			"missing uid",
			"METHOD:REQUEST\nBEGIN:VEVENT\nDTSTART:20260301T100000Z\nEND:VEVENT\n",
			KindInvalid,
		},
		{
			"missing dtstart",
			"METHOD:REQUEST\nBEGIN:VEVENT\nUID:a\nEND:VEVENT\n",
			KindInvalid,
		},
		{
			"two vevents",
			"METHOD:REQUEST\nBEGIN:VEVENT\nUID:a\nDTSTART:20260301T100000Z\nEND:VEVENT\n" +
				"BEGIN:VEVENT\nUID:b\nDTSTART:20260302T100000Z\nEND:VEVENT\n",
			KindUnsupported,
		},
		{
			"unknown method",
			"METHOD:SNOOZE\nBEGIN:VEVENT\nUID:a\nDTSTART:20260301T100000Z\nEND:VEVENT\n",
			KindUnsupported,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := decodeTestICS(t, tt.ics)
			if err == nil {
				t.Fatal("expected an error")
			}
			if got := KindOf(err); got != tt.kind {
				t.Errorf("kind = %s, want %s", got, tt.kind)
			}
		})
	}
}

func TestNormalize_WrongVersionRejected(t *testing.T) {
	ics := "BEGIN:VCALENDAR\nVERSION:1.0\nMETHOD:REQUEST\n" +
		"BEGIN:VEVENT\nUID:a\nDTSTART:20260301T100000Z\nEND:VEVENT\nEND:VCALENDAR\n"
	ics = strings.ReplaceAll(ics, "\n", "\r\n")
	cal, hash, err := Parse([]byte(ics))
	if err != nil {
		// Some parsers reject VERSION:1.0 outright; that is fine too.
		if KindOf(err) != KindParsing {
			t.Fatalf("unexpected kind: %v", err)
		}
		return
	}
	_, err = Normalize(cal, NormalizeOptions{Hash: hash})
	if KindOf(err) != KindUnsupported {
		t.Fatalf("kind = %v, want %s", err, KindUnsupported)
	}
}

func TestNormalize_MissingDTSTAMPSynthesized(t *testing.T) {
	inv, err := decodeTestICS(t,
		"METHOD:REQUEST\nBEGIN:VEVENT\nUID:stamp-1\nDTSTART:20260301T100000Z\nEND:VEVENT\n")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	if !inv.Vevent.Stamp.Equal(want) {
		t.Errorf("Stamp = %v, want received time %v", inv.Vevent.Stamp, want)
	}
}

func TestNormalize_AttendeeLimits(t *testing.T) {
	var big strings.Builder
	big.WriteString("METHOD:REQUEST\nBEGIN:VEVENT\nUID:many\nDTSTART:20260301T100000Z\n")
	for i := 0; i <= MaxAttendees; i++ {
		fmt.Fprintf(&big, "ATTENDEE:mailto:user%d@example.com\n", i)
	}
	big.WriteString("END:VEVENT\n")

	tests := []struct {
		name string
		ics  string
	}{
		{"over limit", big.String()},
		{
			"duplicate case-insensitive",
			"METHOD:REQUEST\nBEGIN:VEVENT\nUID:dup\nDTSTART:20260301T100000Z\n" +
				"ATTENDEE:mailto:Alice@Example.com\nATTENDEE:mailto:alice@example.com\nEND:VEVENT\n",
		},
		{
			"duplicate plus alias",
			"METHOD:REQUEST\nBEGIN:VEVENT\nUID:dup2\nDTSTART:20260301T100000Z\n" +
				"ATTENDEE:mailto:alice+work@example.com\nATTENDEE:mailto:alice@example.com\nEND:VEVENT\n",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := decodeTestICS(t, tt.ics)
			if KindOf(err) != KindUnsupported {
				t.Errorf("kind = %v, want %s", err, KindUnsupported)
			}
		})
	}
}

func TestNormalize_TextTruncation(t *testing.T) {
	long := strings.Repeat("x", MaxSummaryLen+50)
	inv, err := decodeTestICS(t,
		"METHOD:REQUEST\nBEGIN:VEVENT\nUID:trunc\nDTSTART:20260301T100000Z\nSUMMARY:"+long+"\nEND:VEVENT\n")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := len([]rune(inv.Vevent.Summary)); got != MaxSummaryLen {
		t.Errorf("summary length = %d, want %d", got, MaxSummaryLen)
	}
}

func TestNormalize_SequenceClamp(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want int64
	}{
		{"absent", "", 0},
		{"negative", "SEQUENCE:-3\n", 0},
		{"garbage", "SEQUENCE:banana\n", 0},
		{"normal", "SEQUENCE:7\n", 7},
		{"huge", "SEQUENCE:99999999999999\n", 1<<31 - 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inv, err := decodeTestICS(t,
				"METHOD:REQUEST\nBEGIN:VEVENT\nUID:seq\nDTSTART:20260301T100000Z\n"+tt.raw+"END:VEVENT\n")
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if inv.Vevent.Sequence != tt.want {
				t.Errorf("Sequence = %d, want %d", inv.Vevent.Sequence, tt.want)
			}
		})
	}
}

func TestNormalize_Timezones(t *testing.T) {
	t.Run("unresolvable tzid is unsupported", func(t *testing.T) {
		_, err := decodeTestICS(t,
			"METHOD:REQUEST\nBEGIN:VEVENT\nUID:mars\nDTSTART;TZID=Mars/Olympus:20260301T100000\nEND:VEVENT\n")
		if KindOf(err) != KindUnsupported {
			t.Fatalf("kind = %v, want %s", err, KindUnsupported)
		}
	})

	t.Run("windows zone name resolves", func(t *testing.T) {
		inv, err := decodeTestICS(t,
			"METHOD:REQUEST\nBEGIN:VEVENT\nUID:win\nDTSTART;TZID=W. Europe Standard Time:20260301T100000\nEND:VEVENT\n")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		// 10:00 Berlin in March (CET, +01:00) is 09:00 UTC.
		want := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
		if !inv.Vevent.Start.Time.Equal(want) {
			t.Errorf("Start = %v, want %v", inv.Vevent.Start.Time, want)
		}
	})

	t.Run("all-day passes through", func(t *testing.T) {
		inv, err := decodeTestICS(t,
			"METHOD:REQUEST\nBEGIN:VEVENT\nUID:allday\nDTSTART;VALUE=DATE:20260301\nEND:VEVENT\n")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !inv.Vevent.Start.AllDay {
			t.Error("expected all-day start")
		}
	})
}

func TestNormalize_XWRTimezoneHint(t *testing.T) {
	ics := "BEGIN:VCALENDAR\nVERSION:2.0\nPRODID:-//Test//EN\nX-WR-TIMEZONE:Europe/Zurich\nMETHOD:REQUEST\n" +
		"BEGIN:VEVENT\nUID:hint\nDTSTART:20260301T100000Z\nEND:VEVENT\nEND:VCALENDAR\n"
	ics = strings.ReplaceAll(ics, "\n", "\r\n")
	cal, hash, err := Parse([]byte(ics))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	inv, err := Normalize(cal, NormalizeOptions{Hash: hash, ReceivedAt: time.Now()})
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	// The Zulu wall clock is reinterpreted in the hinted zone: 10:00 Zurich
	// (CET, +01:00) is 09:00 UTC.
	want := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	if !inv.Vevent.Start.Time.Equal(want) {
		t.Errorf("Start = %v, want %v", inv.Vevent.Start.Time, want)
	}
}

func TestNormalize_StartEndRules(t *testing.T) {
	tests := []struct {
		name    string
		ics     string
		wantErr ErrorKind
		wantEnd bool
	}{
		{
			"mismatched all-dayness",
			"METHOD:REQUEST\nBEGIN:VEVENT\nUID:mix\nDTSTART;VALUE=DATE:20260301\nDTEND:20260301T100000Z\nEND:VEVENT\n",
			KindInvalid, false,
		},
		{
			"negative duration drops dtend",
			"METHOD:REQUEST\nBEGIN:VEVENT\nUID:neg\nDTSTART:20260301T100000Z\nDTEND:20260301T090000Z\nEND:VEVENT\n",
			"", false,
		},
		{
			"equal all-day tolerated",
			"METHOD:REQUEST\nBEGIN:VEVENT\nUID:eq\nDTSTART;VALUE=DATE:20260301\nDTEND;VALUE=DATE:20260301\nEND:VEVENT\n",
			"", false,
		},
		{
			"regular end kept",
			"METHOD:REQUEST\nBEGIN:VEVENT\nUID:ok\nDTSTART:20260301T100000Z\nDTEND:20260301T110000Z\nEND:VEVENT\n",
			"", true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inv, err := decodeTestICS(t, tt.ics)
			if tt.wantErr != "" {
				if KindOf(err) != tt.wantErr {
					t.Fatalf("kind = %v, want %s", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got := inv.Vevent.End != nil; got != tt.wantEnd {
				t.Errorf("End present = %v, want %v", got, tt.wantEnd)
			}
		})
	}
}

func TestNormalize_Recurrence(t *testing.T) {
	tests := []struct {
		name    string
		ics     string
		wantErr ErrorKind
	}{
		{
			"master plus single-edit in one component",
			"METHOD:REQUEST\nBEGIN:VEVENT\nUID:r1\nDTSTART:20260301T100000Z\n" +
				"RECURRENCE-ID:20260301T100000Z\nRRULE:FREQ=WEEKLY\nEND:VEVENT\n",
			KindUnsupported,
		},
		{
			"hourly frequency unsupported",
			"METHOD:REQUEST\nBEGIN:VEVENT\nUID:r2\nDTSTART:20260301T100000Z\nRRULE:FREQ=HOURLY\nEND:VEVENT\n",
			KindUnsupported,
		},
		{
			"malformed rule invalid",
			"METHOD:REQUEST\nBEGIN:VEVENT\nUID:r3\nDTSTART:20260301T100000Z\nRRULE:FREQ=SOMETIMES\nEND:VEVENT\n",
			KindInvalid,
		},
		{
			"exdate all-dayness mismatch invalid",
			"METHOD:REQUEST\nBEGIN:VEVENT\nUID:r4\nDTSTART:20260301T100000Z\n" +
				"RRULE:FREQ=DAILY\nEXDATE;VALUE=DATE:20260302\nEND:VEVENT\n",
			KindInvalid,
		},
		{
			"weekly ok",
			"METHOD:REQUEST\nBEGIN:VEVENT\nUID:r5\nDTSTART:20260301T100000Z\n" +
				"RRULE:FREQ=WEEKLY;BYDAY=MO,WE\nEXDATE:20260302T100000Z\nEND:VEVENT\n",
			"",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inv, err := decodeTestICS(t, tt.ics)
			if tt.wantErr != "" {
				if KindOf(err) != tt.wantErr {
					t.Fatalf("kind = %v, want %s", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !inv.Vevent.IsRecurring() {
				t.Error("expected recurring event")
			}
		})
	}
}

func TestNormalize_Idempotent(t *testing.T) {
	inv, err := decodeTestICS(t,
		"METHOD:REQUEST\nBEGIN:VEVENT\nUID:round\nDTSTAMP:20260101T000000Z\n"+
			"DTSTART:20260301T100000Z\nDTEND:20260301T110000Z\nSEQUENCE:2\n"+
			"SUMMARY:Planning\nLOCATION:Room 4\n"+
			"ORGANIZER;CN=Bob:mailto:bob@example.com\n"+
			"ATTENDEE;CN=Alice;PARTSTAT=NEEDS-ACTION;RSVP=TRUE:mailto:alice@example.com\nEND:VEVENT\n")
	if err != nil {
		t.Fatalf("first normalize: %v", err)
	}

	again, err := Normalize(inv.Vevent.Calendar(inv.Method, nil), NormalizeOptions{
		ReceivedAt:      time.Now(),
		DefaultTimezone: time.UTC,
	})
	if err != nil {
		t.Fatalf("second normalize: %v", err)
	}

	a, b := inv.Vevent, again.Vevent
	if a.UID != b.UID || a.Sequence != b.Sequence || a.Summary != b.Summary ||
		a.Location != b.Location || !a.Stamp.Equal(b.Stamp) ||
		!a.Start.Equal(b.Start) || (a.End == nil) != (b.End == nil) {
		t.Errorf("round trip changed semantic fields:\n  first  %+v\n  second %+v", a, b)
	}
	if a.End != nil && b.End != nil && !a.End.Equal(*b.End) {
		t.Errorf("round trip changed end: %v vs %v", a.End, b.End)
	}
	if len(a.Attendees) != len(b.Attendees) {
		t.Fatalf("attendee count changed: %d vs %d", len(a.Attendees), len(b.Attendees))
	}
	if a.Attendees[0].Email != b.Attendees[0].Email || a.Attendees[0].Partstat != b.Attendees[0].Partstat {
		t.Errorf("attendee changed: %+v vs %+v", a.Attendees[0], b.Attendees[0])
	}
}

func TestCanonicalEmail(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"mailto:Alice@Example.COM", "alice@example.com"},
		{"bob+calendar@example.com", "bob@example.com"},
		{"  carol@example.com  ", "carol@example.com"},
		{"not-an-email", "not-an-email"},
	}
	for _, tt := range tests {
		if got := CanonicalEmail(tt.in); got != tt.want {
			t.Errorf("CanonicalEmail(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
