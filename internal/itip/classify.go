package itip

import "time"

// Classification facts are pure functions of the ICS event, the stored API
// event (which may be absent), and the viewer's perspective. They never touch
// the backend.

// IsOutdated reports whether the ICS describes an older revision than the
// stored event. DTSTAMP orders revisions first; SEQUENCE breaks ties.
func IsOutdated(ics, api *Vevent) bool {
	if api == nil {
		return false
	}
	if ics.Stamp.Before(api.Stamp) {
		return true
	}
	if ics.Stamp.After(api.Stamp) {
		return false
	}
	return ics.Sequence < api.Sequence
}

// IsFromFuture reports whether a response references an event revision the
// stored copy cannot have produced: its SEQUENCE is ahead of everything we
// know. Only meaningful from the organizer's perspective on REPLY, COUNTER
// and REFRESH.
func IsFromFuture(ics, api *Vevent) bool {
	if api == nil {
		return false
	}
	return ics.Sequence > api.Sequence
}

// TimeStatusAt places the event relative to now. Recurring events are always
// reported as future; expanding the recurrence set is not this check's job.
func TimeStatusAt(v *Vevent, now time.Time) TimeStatus {
	if v.IsRecurring() {
		return TimeFuture
	}
	end := v.EffectiveEnd()
	if !now.Before(end) {
		return TimePast
	}
	start := v.Start.Time
	if !now.Before(start) {
		return TimeHappening
	}
	return TimeFuture
}

// Crasher describes a responding party that the event's attendee list does
// not know about.
type Crasher int

const (
	// CrasherNone: the party is a listed attendee.
	CrasherNone Crasher = iota
	// CrasherNonBlocking: uninvited, but the stored copy can still absorb
	// the response (external organizer copy).
	CrasherNonBlocking
	// CrasherBlocking: uninvited and the organizer's copy is held on an
	// internal calendar account, which cannot currently merge an uninvited
	// response.
	CrasherBlocking
)

func (c Crasher) IsCrasher() bool { return c != CrasherNone }

// PartyCrasher reports whether email is missing from the attendee list. The
// API event's list is authoritative when present; the ICS list is the only
// evidence otherwise. internalCopy marks whether the stored copy lives on an
// internal calendar account, which upgrades the finding to blocking.
func PartyCrasher(email string, ics, api *Vevent, internalCopy bool) Crasher {
	ref := ics
	if api != nil {
		ref = api
	}
	if ref == nil || ref.Attendee(email) != nil {
		return CrasherNone
	}
	if internalCopy {
		return CrasherBlocking
	}
	return CrasherNonBlocking
}

// IsReinvite detects a REQUEST or ADD arriving for a UID whose stored event
// is a stale leftover nobody ever answered. The right move then is to delete
// the stale row and recreate from the ICS rather than patch in place.
// attendeeEmail identifies the viewer's own attendee record on the stored
// event.
func IsReinvite(method Method, ics, api *Vevent, attendeeEmail string) bool {
	if method != MethodRequest && method != MethodAdd {
		return false
	}
	if api == nil {
		return false
	}
	if !IsOutdated(api, ics) { // stored copy must be the stale side
		return false
	}
	att := api.Attendee(attendeeEmail)
	if att == nil {
		return true // no record at all: nothing worth preserving
	}
	return att.Partstat == PartstatNeedsAction
}
