package itip

import (
	"strings"
	"time"

	"github.com/emersion/go-ical"
)

// Method is the iTIP interaction verb carried by a VCALENDAR (RFC 5546).
type Method string

const (
	MethodPublish        Method = "PUBLISH"
	MethodRequest        Method = "REQUEST"
	MethodReply          Method = "REPLY"
	MethodCancel         Method = "CANCEL"
	MethodCounter        Method = "COUNTER"
	MethodDeclineCounter Method = "DECLINECOUNTER"
	MethodRefresh        Method = "REFRESH"
	MethodAdd            Method = "ADD"
)

// ParseMethod normalizes a raw METHOD value. An empty value is reported as
// not-ok so callers can fall back to import handling.
func ParseMethod(s string) (Method, bool) {
	switch Method(strings.ToUpper(strings.TrimSpace(s))) {
	case MethodPublish:
		return MethodPublish, true
	case MethodRequest:
		return MethodRequest, true
	case MethodReply:
		return MethodReply, true
	case MethodCancel:
		return MethodCancel, true
	case MethodCounter:
		return MethodCounter, true
	case MethodDeclineCounter:
		return MethodDeclineCounter, true
	case MethodRefresh:
		return MethodRefresh, true
	case MethodAdd:
		return MethodAdd, true
	}
	return "", false
}

// Partstat is an attendee participation status.
type Partstat string

const (
	PartstatNeedsAction Partstat = "NEEDS-ACTION"
	PartstatAccepted    Partstat = "ACCEPTED"
	PartstatDeclined    Partstat = "DECLINED"
	PartstatTentative   Partstat = "TENTATIVE"
)

// ParsePartstat maps a raw PARTSTAT parameter to a supported status,
// defaulting to NEEDS-ACTION for absent or unknown values.
func ParsePartstat(s string) Partstat {
	switch Partstat(strings.ToUpper(strings.TrimSpace(s))) {
	case PartstatAccepted:
		return PartstatAccepted
	case PartstatDeclined:
		return PartstatDeclined
	case PartstatTentative:
		return PartstatTentative
	}
	return PartstatNeedsAction
}

// Answered reports whether the status represents a given answer.
func (p Partstat) Answered() bool {
	return p == PartstatAccepted || p == PartstatDeclined || p == PartstatTentative
}

// AttendeeRole distinguishes required from optional participants.
type AttendeeRole string

const (
	RoleRequired AttendeeRole = "REQ-PARTICIPANT"
	RoleOptional AttendeeRole = "OPT-PARTICIPANT"
)

// EventStatus is the VEVENT STATUS property.
type EventStatus string

const (
	StatusConfirmed EventStatus = "CONFIRMED"
	StatusCancelled EventStatus = "CANCELLED"
	StatusTentative EventStatus = "TENTATIVE"
)

// TimeStatus places an event relative to a reference instant.
type TimeStatus int

const (
	TimeFuture TimeStatus = iota
	TimeHappening
	TimePast
)

func (s TimeStatus) String() string {
	switch s {
	case TimePast:
		return "past"
	case TimeHappening:
		return "happening"
	}
	return "future"
}

// DateTime is a date-or-datetime iCalendar value. All-day values carry only
// the calendar date; their Time is midnight UTC of that date.
type DateTime struct {
	Time   time.Time
	AllDay bool
}

// Equal compares instant and all-day-ness.
func (d DateTime) Equal(o DateTime) bool {
	return d.AllDay == o.AllDay && d.Time.Equal(o.Time)
}

// Participant is the normalized view of an ORGANIZER or ATTENDEE property.
// Prop keeps a back-reference to the raw property so unchanged parameters
// survive re-serialization.
type Participant struct {
	Email    string // canonical form, see CanonicalEmail
	Name     string
	Partstat Partstat
	Role     AttendeeRole
	RSVP     bool
	Token    string // opaque X-PM-TOKEN style parameter, passed through

	Prop *ical.Prop
}

// Vevent is the supported-subset calendar event payload, produced by the
// normalizer from either an ICS attachment or a backend event.
type Vevent struct {
	UID          string
	Stamp        time.Time // DTSTAMP, UTC
	Start        DateTime
	End          *DateTime // nil for instantaneous events
	Sequence     int64
	Status       EventStatus
	Summary      string
	Description  string
	Location     string
	Organizer    *Participant
	Attendees    []Participant
	RecurrenceID *DateTime
	RRule        string // raw RRULE value, empty when not recurring
	ExDates      []DateTime

	Raw *ical.Component
}

// IsRecurring reports whether the event carries a recurrence rule.
func (v *Vevent) IsRecurring() bool { return v.RRule != "" }

// IsSingleEdit reports whether the event is an exception occurrence of a
// recurring series.
func (v *Vevent) IsSingleEdit() bool { return v.RecurrenceID != nil }

// EffectiveEnd returns the end instant, falling back to the start for
// instantaneous events and to the next midnight for all-day events.
func (v *Vevent) EffectiveEnd() time.Time {
	if v.End != nil {
		if v.End.AllDay {
			return v.End.Time.AddDate(0, 0, 1)
		}
		return v.End.Time
	}
	if v.Start.AllDay {
		return v.Start.Time.AddDate(0, 0, 1)
	}
	return v.Start.Time
}

// Attendee finds the attendee matching the given address, by canonical email.
func (v *Vevent) Attendee(email string) *Participant {
	canon := CanonicalEmail(email)
	for i := range v.Attendees {
		if v.Attendees[i].Email == canon {
			return &v.Attendees[i]
		}
	}
	return nil
}

// EventInvitation is the parsed-and-validated ICS side of a widget instance.
// It is created once per processed attachment and never mutated afterwards.
type EventInvitation struct {
	Method   Method
	Vevent   *Vevent
	Timezone *ical.Component // original VTIMEZONE, if any
	ProdID   string
	Hash     string // SHA-256 of the source ICS, for telemetry
}

// IsImport reports whether the calendar object is a plain import rather than
// an invitation (missing METHOD or PUBLISH).
func (e *EventInvitation) IsImport() bool {
	return e.Method == "" || e.Method == MethodPublish
}

// CanonicalEmail lowercases an address, strips a mailto: prefix, and removes
// any +tag from the local part so aliased addresses compare equal.
func CanonicalEmail(addr string) string {
	addr = strings.TrimSpace(addr)
	addr = strings.TrimPrefix(strings.ToLower(addr), "mailto:")
	at := strings.LastIndex(addr, "@")
	if at <= 0 {
		return addr
	}
	local, domain := addr[:at], addr[at+1:]
	if plus := strings.Index(local, "+"); plus > 0 {
		local = local[:plus]
	}
	return local + "@" + domain
}
