// Package invite drives the reconciliation of a parsed invitation against
// the user's calendar. The Machine owns the fetch/classify/sync pipeline and
// publishes immutable Model snapshots; the presentation layer only ever reads
// a Model and feeds user intents back into the Machine.
package invite

import (
	"time"

	"github.com/jw6ventures/mailvite/internal/backend"
	"github.com/jw6ventures/mailvite/internal/itip"
)

// State is the reconciliation pipeline state for one widget instance.
type State int

const (
	StateUninitialized State = iota
	StateFetching
	StateNotFound
	StateFound
	StateUpdating
	StateUpdated
	StateUpdateFailed
	StateSettled
	StateErrored
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateFetching:
		return "fetching"
	case StateNotFound:
		return "not_found"
	case StateFound:
		return "found"
	case StateUpdating:
		return "updating"
	case StateUpdated:
		return "updated"
	case StateUpdateFailed:
		return "update_failed"
	case StateSettled:
		return "settled"
	case StateErrored:
		return "errored"
	default:
		return "unknown"
	}
}

// Terminal reports whether the pipeline has fully settled. Only a terminal
// machine accepts user intents or a retry.
func (s State) Terminal() bool {
	return s == StateSettled || s == StateErrored
}

// Role is the user's perspective on the invitation.
type Role int

const (
	RoleAttendee Role = iota
	RoleOrganizer
)

func (r Role) String() string {
	if r == RoleOrganizer {
		return "organizer"
	}
	return "attendee"
}

// UpdateAction describes the server-side write the pipeline decided on.
type UpdateAction int

const (
	ActionNone UpdateAction = iota
	// ActionKeepPartstat overwrites event data but preserves the user's
	// recorded answer.
	ActionKeepPartstat
	// ActionResetPartstat overwrites event data and resets the user's answer
	// to needs-action, used when a revision changes the event meaningfully.
	ActionResetPartstat
	ActionCancel
)

func (a UpdateAction) String() string {
	switch a {
	case ActionKeepPartstat:
		return "keep_partstat"
	case ActionResetPartstat:
		return "reset_partstat"
	case ActionCancel:
		return "cancel"
	default:
		return "none"
	}
}

// Model is the immutable snapshot consumed by the presentation layer. The
// Machine replaces it wholesale on every transition; readers must never
// mutate it.
type Model struct {
	State State

	// Ics is the invitation parsed from the attachment. Nil only when the
	// attachment could not be decrypted.
	Ics *itip.EventInvitation
	// API is the matching stored event, when one was found. It is retained
	// across write failures so the widget can keep rendering the last known
	// good copy.
	API *backend.Event

	Role Role
	// Attendee is the user's own row in the invitation's attendee list, when
	// present.
	Attendee *itip.Participant

	IsOutdated         bool
	IsFromFuture       bool
	IsReinvite         bool
	PartyCrasher       itip.Crasher
	TimeStatus         itip.TimeStatus
	HasDecryptionError bool

	UpdateAction UpdateAction

	// AttemptedPartstat holds the answer the user tried to record when the
	// write failed, so a retry resumes with the same target rather than
	// making the user pick again.
	AttemptedPartstat itip.Partstat

	Calendars []backend.Calendar
	// Calendar is the write target, nil when no writable calendar exists.
	Calendar *backend.Calendar
	Settings *backend.UserSettings

	Err *itip.Error
}

// HasNoCalendars reports whether no writable calendar is available.
func (m *Model) HasNoCalendars() bool {
	return m.Calendar == nil
}

// CanAnswer reports whether accept/decline/tentative intents are currently
// meaningful.
func (m *Model) CanAnswer() bool {
	if !m.State.Terminal() || m.Ics == nil || m.Ics.IsImport() {
		return false
	}
	if m.Role != RoleAttendee || m.Attendee == nil {
		return false
	}
	if m.Err != nil && !m.Err.Kind.Retryable() {
		return false
	}
	return m.Ics.Method == itip.MethodRequest || m.Ics.Method == itip.MethodAdd
}

// WritableTarget reports whether the stored event can be updated in place:
// the fetch produced a complete event on a calendar we hold full write
// access to.
func (m *Model) WritableTarget() bool {
	if !m.API.Complete() {
		return false
	}
	for i := range m.Calendars {
		if m.Calendars[i].ID == m.API.CalendarID {
			return m.Calendars[i].Writable()
		}
	}
	return false
}

// UserPartstat is the user's recorded answer, preferring the stored copy
// over the attachment.
func (m *Model) UserPartstat(userEmail string) itip.Partstat {
	if m.API.Complete() {
		if p := m.API.Vevent.Attendee(userEmail); p != nil {
			return p.Partstat
		}
	}
	if m.Ics != nil && m.Ics.Vevent != nil {
		if p := m.Ics.Vevent.Attendee(userEmail); p != nil {
			return p.Partstat
		}
	}
	return itip.PartstatNeedsAction
}

// classify fills the derived flags from the invitation and the fetched
// event. It is the single place where classification facts enter the model.
func (m *Model) classify(userEmail string, now time.Time) {
	if m.Ics == nil || m.Ics.Vevent == nil {
		return
	}
	ics := m.Ics.Vevent

	m.Role = RoleAttendee
	if ics.Organizer != nil && ics.Organizer.Email == itip.CanonicalEmail(userEmail) {
		m.Role = RoleOrganizer
	}
	m.Attendee = ics.Attendee(userEmail)

	var api *itip.Vevent
	if m.API.Complete() {
		api = m.API.Vevent
	}

	m.IsOutdated = itip.IsOutdated(ics, api)
	m.TimeStatus = itip.TimeStatusAt(ics, now)

	if m.Role == RoleOrganizer {
		switch m.Ics.Method {
		case itip.MethodReply, itip.MethodCounter, itip.MethodRefresh:
			m.IsFromFuture = itip.IsFromFuture(ics, api)
			if len(ics.Attendees) > 0 {
				internal := false
				for i := range m.Calendars {
					if m.API != nil && m.Calendars[i].ID == m.API.CalendarID {
						internal = m.Calendars[i].Internal
					}
				}
				m.PartyCrasher = itip.PartyCrasher(ics.Attendees[0].Email, ics, api, internal)
			}
		case itip.MethodRequest, itip.MethodAdd:
			// The stale-row check looks at the invited attendee, not the
			// organizer reading the message.
			email := itip.CanonicalEmail(userEmail)
			if ics.Attendee(email) == nil && len(ics.Attendees) > 0 {
				email = ics.Attendees[0].Email
			}
			m.IsReinvite = itip.IsReinvite(m.Ics.Method, ics, api, email)
		}
	}
}
