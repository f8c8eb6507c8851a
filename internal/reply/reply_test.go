package reply

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/emersion/go-ical"

	"github.com/jw6ventures/mailvite/internal/itip"
)

func testInvitation() *itip.EventInvitation {
	return &itip.EventInvitation{
		Method: itip.MethodRequest,
		Hash:   "cafe",
		Vevent: &itip.Vevent{
			UID:      "u1",
			Stamp:    time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC),
			Start:    itip.DateTime{Time: time.Date(2027, 6, 1, 10, 0, 0, 0, time.UTC)},
			Sequence: 3,
			Summary:  "Team sync",
			Organizer: &itip.Participant{
				Email: "bob@example.com",
			},
			Attendees: []itip.Participant{
				{Email: "alice@example.com", Name: "Alice", Partstat: itip.PartstatNeedsAction, Role: itip.RoleRequired},
				{Email: "carol@example.com", Partstat: itip.PartstatNeedsAction},
			},
		},
	}
}

func TestBuildReply(t *testing.T) {
	now := time.Date(2026, 5, 2, 9, 0, 0, 0, time.UTC)
	cal, err := Build(testInvitation(), "alice@example.com", itip.PartstatAccepted, now)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	if got := cal.Props.Get(ical.PropMethod); got == nil || got.Value != "REPLY" {
		t.Fatalf("METHOD = %v, want REPLY", got)
	}

	var event *ical.Component
	for _, child := range cal.Children {
		if child.Name == ical.CompEvent {
			event = child
		}
	}
	if event == nil {
		t.Fatal("reply carries no VEVENT")
	}
	if got := event.Props.Get(ical.PropUID); got == nil || got.Value != "u1" {
		t.Errorf("UID = %v, want u1", got)
	}
	if got := event.Props.Get(ical.PropSequence); got == nil || got.Value != "3" {
		t.Errorf("SEQUENCE = %v, want 3", got)
	}

	attendees := event.Props.Values(ical.PropAttendee)
	if len(attendees) != 1 {
		t.Fatalf("reply carries %d attendees, want only the replying one", len(attendees))
	}
	if !strings.Contains(attendees[0].Value, "alice@example.com") {
		t.Errorf("attendee = %q, want alice", attendees[0].Value)
	}
	if got := attendees[0].Params.Get(ical.ParamParticipationStatus); got != "ACCEPTED" {
		t.Errorf("PARTSTAT = %q, want ACCEPTED", got)
	}
}

func TestBuildRejectsUnknownAttendee(t *testing.T) {
	_, err := Build(testInvitation(), "mallory@example.com", itip.PartstatAccepted, time.Now())
	if !itip.IsKind(err, itip.KindMissingAttendee) {
		t.Errorf("Build error = %v, want missing_attendee", err)
	}
}

func TestSubject(t *testing.T) {
	inv := testInvitation()
	tests := []struct {
		partstat itip.Partstat
		want     string
	}{
		{itip.PartstatAccepted, "Accepted: Team sync"},
		{itip.PartstatDeclined, "Declined: Team sync"},
		{itip.PartstatTentative, "Tentatively accepted: Team sync"},
	}
	for _, tt := range tests {
		if got := Subject(inv, tt.partstat); got != tt.want {
			t.Errorf("Subject(%s) = %q, want %q", tt.partstat, got, tt.want)
		}
	}
}

type captureSender struct {
	from string
	to   []string
	body []byte
}

func (c *captureSender) Send(_ context.Context, from string, to []string, body []byte) error {
	c.from, c.to, c.body = from, to, body
	return nil
}

func TestMailerSendsToOrganizer(t *testing.T) {
	cap := &captureSender{}
	m := &Mailer{
		From:   "alice@example.com",
		Sender: cap,
		Now:    func() time.Time { return time.Date(2026, 5, 2, 9, 0, 0, 0, time.UTC) },
	}
	if err := m.SendReply(context.Background(), testInvitation(), "alice@example.com", itip.PartstatDeclined); err != nil {
		t.Fatalf("SendReply: %v", err)
	}
	if len(cap.to) != 1 || cap.to[0] != "bob@example.com" {
		t.Errorf("to = %v, want the organizer", cap.to)
	}
	body := string(cap.body)
	if !strings.Contains(body, "Content-Type: text/calendar; charset=utf-8; method=REPLY") {
		t.Error("body missing text/calendar content type")
	}
	if !strings.Contains(body, "METHOD:REPLY") {
		t.Error("body missing METHOD:REPLY")
	}
	if !strings.Contains(body, "Subject: Declined: Team sync") {
		t.Error("body missing subject line")
	}
}
