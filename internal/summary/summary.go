// Package summary selects the user-facing summary line for an invitation
// widget. The mapping from classification facts to message is a literal
// lookup table so every combination stays independently testable; rendering
// fills in participant names, counts and the outdated prefix afterwards.
package summary

import (
	"fmt"

	"github.com/jw6ventures/mailvite/internal/invite"
	"github.com/jw6ventures/mailvite/internal/itip"
)

// MessageID names one summary variant. IDs are stable; the English templates
// live in templates below.
type MessageID string

const (
	// MsgNone marks a designed no-op: the widget shows controls (or nothing)
	// instead of a summary line.
	MsgNone MessageID = "none"

	MsgDecryptionError MessageID = "decryption_error"
	MsgNoCalendars     MessageID = "no_calendars"

	MsgAttendeeAccepted            MessageID = "attendee_accepted"
	MsgAttendeeAcceptedOccurrence  MessageID = "attendee_accepted_occurrence"
	MsgAttendeeDeclined            MessageID = "attendee_declined"
	MsgAttendeeDeclinedOccurrence  MessageID = "attendee_declined_occurrence"
	MsgAttendeeTentative           MessageID = "attendee_tentative"
	MsgAttendeeTentativeOccurrence MessageID = "attendee_tentative_occurrence"

	MsgEventCancelled      MessageID = "event_cancelled"
	MsgOccurrenceCancelled MessageID = "occurrence_cancelled"

	MsgAttendeeUnexpectedResponse MessageID = "attendee_unexpected_response"
	MsgAttendeeCounter            MessageID = "attendee_counter"
	MsgProposalRejected           MessageID = "proposal_rejected"
	MsgAttendeeRefresh            MessageID = "attendee_refresh"

	MsgReplyAccepted  MessageID = "reply_accepted"
	MsgReplyDeclined  MessageID = "reply_declined"
	MsgReplyTentative MessageID = "reply_tentative"

	MsgReplyAcceptedCrasher  MessageID = "reply_accepted_crasher"
	MsgReplyDeclinedCrasher  MessageID = "reply_declined_crasher"
	MsgReplyTentativeCrasher MessageID = "reply_tentative_crasher"

	MsgReplyAcceptedCrasherBlocked  MessageID = "reply_accepted_crasher_blocked"
	MsgReplyDeclinedCrasherBlocked  MessageID = "reply_declined_crasher_blocked"
	MsgReplyTentativeCrasherBlocked MessageID = "reply_tentative_crasher_blocked"

	MsgReplyMismatch      MessageID = "reply_mismatch"
	MsgCounter            MessageID = "counter"
	MsgCounterMismatch    MessageID = "counter_mismatch"
	MsgRefresh            MessageID = "refresh"
	MsgOrganizerOwnInvite MessageID = "organizer_own_invite"
	MsgDeclineCounter     MessageID = "decline_counter"
)

// Key is the full decision-table coordinate. Irrelevant dimensions are
// blanked by normalize before lookup, so the table enumerates only the
// combinations that can change the message.
type Key struct {
	Role            invite.Role
	Method          itip.Method
	Outdated        bool
	FromFuture      bool
	Partstat        itip.Partstat
	SingleEdit      bool
	Crasher         itip.Crasher
	DecryptionError bool
	NoCalendars     bool
}

// normalize blanks the dimensions that cannot influence the message for the
// key's method and role. The outdated flag never picks a different message,
// only a prefix, so it is always blanked here and handled by Render.
func normalize(k Key) Key {
	if k.DecryptionError {
		return Key{DecryptionError: true}
	}
	if k.Method == "" || k.Method == itip.MethodPublish {
		// Plain import: no summary by design.
		return Key{Method: itip.MethodPublish}
	}
	k.Outdated = false
	if k.Method == itip.MethodAdd {
		// Added occurrences read the same as an update request.
		k.Method = itip.MethodRequest
	}

	if k.Role == invite.RoleAttendee {
		k.FromFuture = false
		k.Crasher = itip.CrasherNone
		switch k.Method {
		case itip.MethodRequest:
			if k.Partstat == "" {
				k.Partstat = itip.PartstatNeedsAction
			}
			// No writable calendar only matters while the answer is pending;
			// a recorded answer still reads as such.
			if k.NoCalendars && !k.Partstat.Answered() {
				return Key{Role: k.Role, Method: k.Method, NoCalendars: true}
			}
			k.NoCalendars = false
		case itip.MethodCancel:
			k.Partstat = ""
			k.NoCalendars = false
		default:
			k.Partstat = ""
			k.SingleEdit = false
			k.NoCalendars = false
		}
		return k
	}

	// Organizer perspective.
	k.NoCalendars = false
	switch k.Method {
	case itip.MethodReply:
		k.SingleEdit = false
		if k.Partstat == "" {
			k.Partstat = itip.PartstatNeedsAction
		}
		if k.FromFuture {
			return Key{Role: k.Role, Method: k.Method, FromFuture: true}
		}
	case itip.MethodCounter:
		k.Partstat = ""
		k.SingleEdit = false
		k.Crasher = itip.CrasherNone
	default:
		k.Partstat = ""
		k.SingleEdit = false
		k.Crasher = itip.CrasherNone
		k.FromFuture = false
	}
	return k
}

func attendeeKey(method itip.Method, partstat itip.Partstat, singleEdit bool) Key {
	return Key{Role: invite.RoleAttendee, Method: method, Partstat: partstat, SingleEdit: singleEdit}
}

func replyKey(partstat itip.Partstat, crasher itip.Crasher) Key {
	return Key{Role: invite.RoleOrganizer, Method: itip.MethodReply, Partstat: partstat, Crasher: crasher}
}

// table is the decision table proper. A missing entry for a reachable
// normalized key is a bug, not a silent no-message case; designed no-ops are
// listed explicitly as MsgNone.
var table = map[Key]MessageID{
	{DecryptionError: true}: MsgDecryptionError,

	// Attendee, REQUEST (and ADD, folded in by normalize).
	{Role: invite.RoleAttendee, Method: itip.MethodRequest, NoCalendars: true}: MsgNoCalendars,
	attendeeKey(itip.MethodRequest, itip.PartstatNeedsAction, false):           MsgNone,
	attendeeKey(itip.MethodRequest, itip.PartstatNeedsAction, true):            MsgNone,
	attendeeKey(itip.MethodRequest, itip.PartstatAccepted, false):              MsgAttendeeAccepted,
	attendeeKey(itip.MethodRequest, itip.PartstatAccepted, true):               MsgAttendeeAcceptedOccurrence,
	attendeeKey(itip.MethodRequest, itip.PartstatDeclined, false):              MsgAttendeeDeclined,
	attendeeKey(itip.MethodRequest, itip.PartstatDeclined, true):               MsgAttendeeDeclinedOccurrence,
	attendeeKey(itip.MethodRequest, itip.PartstatTentative, false):             MsgAttendeeTentative,
	attendeeKey(itip.MethodRequest, itip.PartstatTentative, true):              MsgAttendeeTentativeOccurrence,

	// Attendee, CANCEL.
	attendeeKey(itip.MethodCancel, "", false): MsgEventCancelled,
	attendeeKey(itip.MethodCancel, "", true):  MsgOccurrenceCancelled,

	// Attendee, methods normally aimed at an organizer.
	attendeeKey(itip.MethodReply, "", false):          MsgAttendeeUnexpectedResponse,
	attendeeKey(itip.MethodCounter, "", false):        MsgAttendeeCounter,
	attendeeKey(itip.MethodDeclineCounter, "", false): MsgProposalRejected,
	attendeeKey(itip.MethodRefresh, "", false):        MsgAttendeeRefresh,

	// Organizer, REPLY.
	{Role: invite.RoleOrganizer, Method: itip.MethodReply, FromFuture: true}: MsgReplyMismatch,
	replyKey(itip.PartstatNeedsAction, itip.CrasherNone):                     MsgNone,
	replyKey(itip.PartstatNeedsAction, itip.CrasherNonBlocking):              MsgNone,
	replyKey(itip.PartstatNeedsAction, itip.CrasherBlocking):                 MsgNone,
	replyKey(itip.PartstatAccepted, itip.CrasherNone):                        MsgReplyAccepted,
	replyKey(itip.PartstatDeclined, itip.CrasherNone):                        MsgReplyDeclined,
	replyKey(itip.PartstatTentative, itip.CrasherNone):                       MsgReplyTentative,
	replyKey(itip.PartstatAccepted, itip.CrasherNonBlocking):                 MsgReplyAcceptedCrasher,
	replyKey(itip.PartstatDeclined, itip.CrasherNonBlocking):                 MsgReplyDeclinedCrasher,
	replyKey(itip.PartstatTentative, itip.CrasherNonBlocking):                MsgReplyTentativeCrasher,
	replyKey(itip.PartstatAccepted, itip.CrasherBlocking):                    MsgReplyAcceptedCrasherBlocked,
	replyKey(itip.PartstatDeclined, itip.CrasherBlocking):                    MsgReplyDeclinedCrasherBlocked,
	replyKey(itip.PartstatTentative, itip.CrasherBlocking):                   MsgReplyTentativeCrasherBlocked,

	// Organizer, remaining methods.
	{Role: invite.RoleOrganizer, Method: itip.MethodCounter}:                   MsgCounter,
	{Role: invite.RoleOrganizer, Method: itip.MethodCounter, FromFuture: true}: MsgCounterMismatch,
	{Role: invite.RoleOrganizer, Method: itip.MethodRefresh}:                   MsgRefresh,
	{Role: invite.RoleOrganizer, Method: itip.MethodCancel}:                    MsgEventCancelled,
	{Role: invite.RoleOrganizer, Method: itip.MethodRequest}:                   MsgOrganizerOwnInvite,
	{Role: invite.RoleOrganizer, Method: itip.MethodDeclineCounter}:            MsgDeclineCounter,
}

// templates hold the English text per message. %s is the responding
// participant's display name where present.
var templates = map[MessageID]string{
	MsgDecryptionError: "The event details could not be decrypted.",
	MsgNoCalendars:     "You cannot answer this invitation because you have no active calendar.",

	MsgAttendeeAccepted:            "You already accepted this invitation.",
	MsgAttendeeAcceptedOccurrence:  "You already accepted this occurrence of the event.",
	MsgAttendeeDeclined:            "You already declined this invitation.",
	MsgAttendeeDeclinedOccurrence:  "You already declined this occurrence of the event.",
	MsgAttendeeTentative:           "You already tentatively accepted this invitation.",
	MsgAttendeeTentativeOccurrence: "You already tentatively accepted this occurrence of the event.",

	MsgEventCancelled:      "This event has been cancelled.",
	MsgOccurrenceCancelled: "This occurrence of the event has been cancelled.",

	MsgAttendeeUnexpectedResponse: "This response was sent to you although you are not the organizer of this event.",
	MsgAttendeeCounter:            "A new time was proposed for this event.",
	MsgProposalRejected:           "The organizer rejected your proposed new time.",
	MsgAttendeeRefresh:            "A participant asked for the latest event details.",

	MsgReplyAccepted:  "%s accepted your invitation.",
	MsgReplyDeclined:  "%s declined your invitation.",
	MsgReplyTentative: "%s tentatively accepted your invitation.",

	MsgReplyAcceptedCrasher:  "%s accepted your invitation. They are not in the participants list; you can add them.",
	MsgReplyDeclinedCrasher:  "%s declined your invitation. They are not in the participants list; you can add them.",
	MsgReplyTentativeCrasher: "%s tentatively accepted your invitation. They are not in the participants list; you can add them.",

	MsgReplyAcceptedCrasherBlocked:  "%s accepted your invitation. They are not in the participants list and cannot be added.",
	MsgReplyDeclinedCrasherBlocked:  "%s declined your invitation. They are not in the participants list and cannot be added.",
	MsgReplyTentativeCrasherBlocked: "%s tentatively accepted your invitation. They are not in the participants list and cannot be added.",

	MsgReplyMismatch:      "This response does not match your invitation details. Please verify the invitation details in your calendar.",
	MsgCounter:            "%s proposed a new time for this event.",
	MsgCounterMismatch:    "This proposal does not match your invitation details. Please verify the invitation details in your calendar.",
	MsgRefresh:            "%s asked you to send the latest event details.",
	MsgOrganizerOwnInvite: "This invitation is for an event you organize.",
	MsgDeclineCounter:     "The proposed new time was rejected.",
}

const (
	prefixOutdatedResponse   = "This response is out of date. "
	prefixOutdatedInvitation = "This invitation is out of date. "
)

// Select looks up the message for the key. ok is false only for the designed
// no-message cases: MsgNone cells and the plain-import key.
func Select(k Key) (MessageID, bool) {
	id, found := table[normalize(k)]
	if !found || id == MsgNone {
		return MsgNone, false
	}
	return id, true
}

// KeyFor derives the table coordinate from a settled model.
func KeyFor(mo *invite.Model, userEmail string) Key {
	k := Key{
		Role:            mo.Role,
		Outdated:        mo.IsOutdated,
		FromFuture:      mo.IsFromFuture,
		Crasher:         mo.PartyCrasher,
		DecryptionError: mo.HasDecryptionError,
		NoCalendars:     mo.HasNoCalendars(),
	}
	if mo.Err != nil && mo.Err.Kind == itip.KindDecryption {
		k.DecryptionError = true
	}
	if mo.Ics == nil {
		return k
	}
	k.Method = mo.Ics.Method
	if mo.Ics.Vevent != nil {
		k.SingleEdit = mo.Ics.Vevent.IsSingleEdit()
	}
	switch mo.Role {
	case invite.RoleAttendee:
		k.Partstat = mo.UserPartstat(userEmail)
	case invite.RoleOrganizer:
		if mo.Ics.Vevent != nil && len(mo.Ics.Vevent.Attendees) > 0 {
			k.Partstat = mo.Ics.Vevent.Attendees[0].Partstat
		}
	}
	return k
}

// Render produces the final summary text for a settled model, or ok=false
// when the widget should show no summary (import mode, pipeline not settled,
// or a designed no-op cell).
func Render(mo *invite.Model, userEmail string) (string, bool) {
	if mo == nil || !mo.State.Terminal() {
		return "", false
	}
	k := KeyFor(mo, userEmail)
	id, ok := Select(k)
	if !ok {
		return "", false
	}

	text := templates[id]
	if needsParticipant(id) {
		text = fmt.Sprintf(text, participantLabel(mo))
	}
	if k.Outdated && !k.DecryptionError {
		if mo.Role == invite.RoleOrganizer {
			text = prefixOutdatedResponse + text
		} else {
			text = prefixOutdatedInvitation + text
		}
	}
	return text, true
}

func needsParticipant(id MessageID) bool {
	switch id {
	case MsgReplyAccepted, MsgReplyDeclined, MsgReplyTentative,
		MsgReplyAcceptedCrasher, MsgReplyDeclinedCrasher, MsgReplyTentativeCrasher,
		MsgReplyAcceptedCrasherBlocked, MsgReplyDeclinedCrasherBlocked, MsgReplyTentativeCrasherBlocked,
		MsgCounter, MsgRefresh:
		return true
	}
	return false
}

// participantLabel names the responding party, folding additional attendees
// into a count.
func participantLabel(mo *invite.Model) string {
	if mo.Ics == nil || mo.Ics.Vevent == nil || len(mo.Ics.Vevent.Attendees) == 0 {
		return "A participant"
	}
	atts := mo.Ics.Vevent.Attendees
	first := atts[0].Name
	if first == "" {
		first = atts[0].Email
	}
	switch len(atts) {
	case 1:
		return first
	case 2:
		return fmt.Sprintf("%s and 1 other participant", first)
	default:
		return fmt.Sprintf("%s and %d other participants", first, len(atts)-1)
	}
}
