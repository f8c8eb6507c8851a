package itip

import (
	"fmt"
	"strconv"
	"time"

	"github.com/emersion/go-ical"
)

const prodID = "-//Mailvite//EN"

// Component serializes the normalized event back into a VEVENT component.
// Participant back-references are reused when available so parameters the
// normalizer does not model survive a round trip.
func (v *Vevent) Component() *ical.Component {
	ve := ical.NewComponent(ical.CompEvent)
	ve.Props.SetText(ical.PropUID, v.UID)
	ve.Props.SetDateTime(ical.PropDateTimeStamp, v.Stamp.UTC())
	setDateTimeProp(ve, ical.PropDateTimeStart, v.Start)
	if v.End != nil {
		setDateTimeProp(ve, ical.PropDateTimeEnd, *v.End)
	}
	if v.Sequence > 0 {
		ve.Props.SetText(ical.PropSequence, strconv.FormatInt(v.Sequence, 10))
	}
	if v.Status != "" {
		ve.Props.SetText(ical.PropStatus, string(v.Status))
	}
	if v.Summary != "" {
		ve.Props.SetText(ical.PropSummary, v.Summary)
	}
	if v.Description != "" {
		ve.Props.SetText(ical.PropDescription, v.Description)
	}
	if v.Location != "" {
		ve.Props.SetText(ical.PropLocation, v.Location)
	}
	if v.Organizer != nil {
		ve.Props.Add(participantProp(ical.PropOrganizer, *v.Organizer))
	}
	for _, att := range v.Attendees {
		ve.Props.Add(participantProp(ical.PropAttendee, att))
	}
	if v.RecurrenceID != nil {
		setDateTimeProp(ve, ical.PropRecurrenceID, *v.RecurrenceID)
	}
	if v.RRule != "" {
		ve.Props.SetText(ical.PropRecurrenceRule, v.RRule)
	}
	for _, ex := range v.ExDates {
		p := ical.NewProp(ical.PropExceptionDates)
		fillDateTimeProp(p, ex)
		ve.Props.Add(p)
	}
	return ve
}

// Calendar wraps the event in a VCALENDAR envelope, optionally carrying a
// METHOD and the original VTIMEZONE.
func (v *Vevent) Calendar(method Method, vtimezone *ical.Component) *ical.Calendar {
	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, prodID)
	if method != "" {
		cal.Props.SetText(ical.PropMethod, string(method))
	}
	if vtimezone != nil {
		cal.Children = append(cal.Children, vtimezone)
	}
	cal.Children = append(cal.Children, v.Component())
	return cal
}

func setDateTimeProp(comp *ical.Component, name string, dt DateTime) {
	p := ical.NewProp(name)
	fillDateTimeProp(p, dt)
	comp.Props.Set(p)
}

func fillDateTimeProp(p *ical.Prop, dt DateTime) {
	if dt.AllDay {
		p.Params.Set(ical.ParamValue, "DATE")
		p.Value = dt.Time.UTC().Format("20060102")
		return
	}
	p.Value = dt.Time.UTC().Format("20060102T150405Z")
}

func participantProp(name string, part Participant) *ical.Prop {
	if part.Prop != nil {
		clone := *part.Prop
		clone.Name = name
		// PARTSTAT may have been changed since the property was parsed.
		if name == ical.PropAttendee {
			clone.Params = cloneParams(part.Prop.Params)
			clone.Params.Set(ical.ParamParticipationStatus, string(part.Partstat))
		}
		return &clone
	}
	p := ical.NewProp(name)
	p.Value = fmt.Sprintf("mailto:%s", part.Email)
	if part.Name != "" {
		p.Params.Set(ical.ParamCommonName, part.Name)
	}
	if name == ical.PropAttendee {
		p.Params.Set(ical.ParamParticipationStatus, string(part.Partstat))
		p.Params.Set(ical.ParamRole, string(part.Role))
		if part.RSVP {
			p.Params.Set(ical.ParamRSVP, "TRUE")
		}
		if part.Token != "" {
			p.Params.Set("X-PM-TOKEN", part.Token)
		}
	}
	return p
}

func cloneParams(src ical.Params) ical.Params {
	dst := make(ical.Params, len(src))
	for k, vs := range src {
		dst[k] = append([]string(nil), vs...)
	}
	return dst
}

// Excludes reports whether the given occurrence instant is excluded from the
// series by an EXDATE entry. Used to infer that a single-edit cancellation
// was already applied to the parent series.
func (v *Vevent) Excludes(occurrence DateTime) bool {
	for _, ex := range v.ExDates {
		if ex.AllDay == occurrence.AllDay && sameInstant(ex.Time, occurrence.Time, ex.AllDay) {
			return true
		}
	}
	return false
}

func sameInstant(a, b time.Time, allDay bool) bool {
	if allDay {
		ay, am, ad := a.Date()
		by, bm, bd := b.Date()
		return ay == by && am == bm && ad == bd
	}
	return a.Equal(b)
}
