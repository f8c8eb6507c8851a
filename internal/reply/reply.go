// Package reply builds and sends the iTIP REPLY mail confirming the user's
// answer to an invitation (RFC 5546 section 3.2.3).
package reply

import (
	"bytes"
	"context"
	"fmt"
	"net/smtp"
	"strings"
	"time"

	"github.com/emersion/go-ical"

	"github.com/jw6ventures/mailvite/internal/itip"
)

// Build assembles the REPLY calendar for the given answer. Per the RFC the
// reply carries only the replying attendee, the organizer, and the revision
// identifiers of the event being answered.
func Build(inv *itip.EventInvitation, attendeeEmail string, partstat itip.Partstat, now time.Time) (*ical.Calendar, error) {
	if inv == nil || inv.Vevent == nil {
		return nil, fmt.Errorf("reply: no invitation to answer")
	}
	v := inv.Vevent
	att := v.Attendee(attendeeEmail)
	if att == nil {
		return nil, itip.NewError(itip.KindMissingAttendee, inv.Hash)
	}
	if v.Organizer == nil {
		return nil, itip.NewError(itip.KindInvalid, inv.Hash)
	}

	reply := itip.Vevent{
		UID:          v.UID,
		Stamp:        now.UTC(),
		Start:        v.Start,
		Sequence:     v.Sequence,
		Organizer:    v.Organizer,
		RecurrenceID: v.RecurrenceID,
		Attendees: []itip.Participant{{
			Email:    att.Email,
			Name:     att.Name,
			Partstat: partstat,
			Role:     att.Role,
			Token:    att.Token,
			Prop:     att.Prop,
		}},
	}
	return reply.Calendar(itip.MethodReply, inv.Timezone), nil
}

// Subject produces the conventional "Accepted: <summary>" subject line.
func Subject(inv *itip.EventInvitation, partstat itip.Partstat) string {
	verb := "Replied"
	switch partstat {
	case itip.PartstatAccepted:
		verb = "Accepted"
	case itip.PartstatDeclined:
		verb = "Declined"
	case itip.PartstatTentative:
		verb = "Tentatively accepted"
	}
	what := inv.Vevent.Summary
	if what == "" {
		what = inv.Vevent.UID
	}
	return fmt.Sprintf("%s: %s", verb, what)
}

// Sender delivers a rendered reply mail.
type Sender interface {
	Send(ctx context.Context, from string, to []string, body []byte) error
}

// SMTPSender sends mail over plain-auth SMTP.
type SMTPSender struct {
	Addr     string // host:port
	Username string
	Password string
}

func (s *SMTPSender) Send(_ context.Context, from string, to []string, body []byte) error {
	host := s.Addr
	if i := strings.IndexByte(host, ':'); i >= 0 {
		host = host[:i]
	}
	var auth smtp.Auth
	if s.Username != "" {
		auth = smtp.PlainAuth("", s.Username, s.Password, host)
	}
	return smtp.SendMail(s.Addr, auth, from, to, body)
}

// Mailer wires Build and a Sender into the shape the reconciliation machine
// expects.
type Mailer struct {
	From   string
	Sender Sender
	Now    func() time.Time
}

func (m *Mailer) SendReply(ctx context.Context, inv *itip.EventInvitation, attendeeEmail string, partstat itip.Partstat) error {
	now := time.Now
	if m.Now != nil {
		now = m.Now
	}
	cal, err := Build(inv, attendeeEmail, partstat, now())
	if err != nil {
		return err
	}
	to := strings.TrimPrefix(inv.Vevent.Organizer.Email, "mailto:")
	body, err := renderMail(m.From, to, Subject(inv, partstat), cal)
	if err != nil {
		return err
	}
	return m.Sender.Send(ctx, m.From, []string{to}, body)
}

// renderMail produces a minimal single-part message with a text/calendar
// body, the shape calendar clients expect for method replies.
func renderMail(from, to, subject string, cal *ical.Calendar) ([]byte, error) {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "From: %s\r\n", from)
	fmt.Fprintf(&buf, "To: %s\r\n", to)
	fmt.Fprintf(&buf, "Subject: %s\r\n", subject)
	fmt.Fprintf(&buf, "Date: %s\r\n", time.Now().UTC().Format(time.RFC1123Z))
	buf.WriteString("MIME-Version: 1.0\r\n")
	buf.WriteString("Content-Type: text/calendar; charset=utf-8; method=REPLY\r\n")
	buf.WriteString("Content-Transfer-Encoding: 8bit\r\n")
	buf.WriteString("\r\n")
	if err := ical.NewEncoder(&buf).Encode(cal); err != nil {
		return nil, fmt.Errorf("encode reply calendar: %w", err)
	}
	return buf.Bytes(), nil
}
