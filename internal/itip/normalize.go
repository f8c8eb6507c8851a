package itip

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-ical"
	"github.com/teambition/rrule-go"
)

// Limits applied while normalizing. Text fields beyond these lengths are
// truncated, not rejected.
const (
	MaxAttendees      = 100
	MaxSummaryLen     = 255
	MaxLocationLen    = 255
	MaxDescriptionLen = 3000
)

var icalDateTimeFormats = []string{
	"20060102T150405Z",
	"20060102T150405",
	"2006-01-02T15:04:05Z",
	"2006-01-02T15:04:05",
}

var icalDateFormats = []string{
	"20060102",
	"2006-01-02",
}

// NormalizeOptions carries the message and calendar context the normalizer
// needs beyond the parsed calendar object itself.
type NormalizeOptions struct {
	// ReceivedAt synthesizes DTSTAMP when the ICS omits it. Missing DTSTAMP
	// is never a rejection reason.
	ReceivedAt time.Time

	// DefaultTimezone localizes floating times when the ICS carries no TZID
	// and no usable X-WR-TIMEZONE hint. Nil means no calendar fallback.
	DefaultTimezone *time.Location

	// Hash of the source ICS bytes, attached to errors for telemetry.
	Hash string
}

// Normalize validates a parsed calendar object and reduces it to the
// supported-subset EventInvitation. The rules run in a fixed order and the
// first failing rule wins; anything unexpected inside the property rules is
// reported as unsupported rather than allowed to escape.
func Normalize(cal *ical.Calendar, opts NormalizeOptions) (*EventInvitation, error) {
	if cal == nil {
		return nil, NewError(KindParsing, opts.Hash)
	}

	method, err := normalizeMethod(cal, opts.Hash)
	if err != nil {
		return nil, err
	}

	if err := checkCalendarEnvelope(cal, opts.Hash); err != nil {
		return nil, err
	}

	vevent, vtimezone, err := pickComponents(cal, opts.Hash)
	if err != nil {
		return nil, err
	}

	if vevent.Props.Get(ical.PropUID) == nil || vevent.Props.Get(ical.PropDateTimeStart) == nil {
		return nil, NewError(KindInvalid, opts.Hash)
	}

	inv := &EventInvitation{
		Method:   method,
		Timezone: vtimezone,
		Hash:     opts.Hash,
	}
	if p := cal.Props.Get(ical.PropProductID); p != nil {
		inv.ProdID = p.Value
	}

	v, err := normalizeVevent(cal, vevent, opts)
	if err != nil {
		return nil, err
	}
	inv.Vevent = v
	return inv, nil
}

func normalizeMethod(cal *ical.Calendar, hash string) (Method, error) {
	p := cal.Props.Get(ical.PropMethod)
	if p == nil || strings.TrimSpace(p.Value) == "" {
		return "", nil // plain import
	}
	method, ok := ParseMethod(p.Value)
	if !ok {
		return "", NewError(KindUnsupported, hash)
	}
	return method, nil
}

func checkCalendarEnvelope(cal *ical.Calendar, hash string) error {
	if p := cal.Props.Get(ical.PropCalendarScale); p != nil &&
		!strings.EqualFold(strings.TrimSpace(p.Value), "GREGORIAN") {
		return NewError(KindUnsupported, hash)
	}
	if p := cal.Props.Get(ical.PropVersion); p != nil &&
		strings.TrimSpace(p.Value) != "2.0" {
		return NewError(KindUnsupported, hash)
	}
	return nil
}

func pickComponents(cal *ical.Calendar, hash string) (vevent, vtimezone *ical.Component, err error) {
	for _, child := range cal.Children {
		switch child.Name {
		case ical.CompEvent:
			if vevent != nil {
				return nil, nil, NewError(KindUnsupported, hash)
			}
			vevent = child
		case ical.CompTimezone:
			vtimezone = child
		default:
			// X-*/IANA extension components are ignored, not rejected.
		}
	}
	if vevent == nil {
		return nil, nil, NewError(KindInvalid, hash)
	}
	return vevent, vtimezone, nil
}

// normalizeVevent applies the per-property rules. Unexpected failures are
// downgraded to unsupported so a malformed attachment can never crash the
// widget pipeline.
func normalizeVevent(cal *ical.Calendar, comp *ical.Component, opts NormalizeOptions) (v *Vevent, err error) {
	defer func() {
		if r := recover(); r != nil {
			v = nil
			err = WrapError(KindUnsupported, opts.Hash, fmt.Errorf("panic normalizing event: %v", r))
		}
		var ie *Error
		if err != nil && !errors.As(err, &ie) {
			err = WrapError(KindUnsupported, opts.Hash, err)
		}
	}()

	v = &Vevent{Raw: comp}
	v.UID = strings.TrimSpace(comp.Props.Get(ical.PropUID).Value)
	if v.UID == "" {
		return nil, NewError(KindInvalid, opts.Hash)
	}

	v.Stamp = normalizeStamp(comp, opts.ReceivedAt)
	v.Sequence = clampSequence(comp.Props.Get(ical.PropSequence))
	v.Status = normalizeStatus(comp.Props.Get(ical.PropStatus))
	v.Summary = normalizeText(comp.Props.Get(ical.PropSummary), MaxSummaryLen)
	v.Description = normalizeText(comp.Props.Get(ical.PropDescription), MaxDescriptionLen)
	v.Location = normalizeText(comp.Props.Get(ical.PropLocation), MaxLocationLen)

	if err := normalizeParticipants(comp, v, opts.Hash); err != nil {
		return nil, err
	}

	hint := timezoneHint(cal)
	start, err := parseDateTimeProp(comp.Props.Get(ical.PropDateTimeStart), hint, opts.DefaultTimezone)
	if err != nil {
		return nil, WrapError(KindUnsupported, opts.Hash, err)
	}
	v.Start = start

	if endProp := comp.Props.Get(ical.PropDateTimeEnd); endProp != nil {
		end, err := parseDateTimeProp(endProp, hint, opts.DefaultTimezone)
		if err != nil {
			return nil, WrapError(KindUnsupported, opts.Hash, err)
		}
		if end.AllDay != start.AllDay {
			return nil, NewError(KindInvalid, opts.Hash)
		}
		// A zero or negative duration means the exporter got DTEND wrong;
		// treat the event as instantaneous instead of rejecting. All-day
		// events with DTSTART==DTEND are a known non-RFC export shape.
		if end.Time.After(start.Time) {
			v.End = &end
		}
	}

	if ridProp := comp.Props.Get(ical.PropRecurrenceID); ridProp != nil {
		rid, err := parseDateTimeProp(ridProp, hint, opts.DefaultTimezone)
		if err != nil {
			return nil, WrapError(KindUnsupported, opts.Hash, err)
		}
		v.RecurrenceID = &rid
	}

	if err := normalizeRecurrence(comp, v, hint, opts); err != nil {
		return nil, err
	}
	return v, nil
}

func normalizeStamp(comp *ical.Component, receivedAt time.Time) time.Time {
	if p := comp.Props.Get(ical.PropDateTimeStamp); p != nil {
		for _, layout := range icalDateTimeFormats {
			if t, err := time.Parse(layout, strings.TrimSpace(p.Value)); err == nil {
				return t.UTC()
			}
		}
	}
	if receivedAt.IsZero() {
		return time.Now().UTC()
	}
	return receivedAt.UTC()
}

func clampSequence(p *ical.Prop) int64 {
	if p == nil {
		return 0
	}
	n, err := strconv.ParseInt(strings.TrimSpace(p.Value), 10, 64)
	if err != nil || n < 0 {
		return 0
	}
	const maxSafe = 1<<31 - 1
	if n > maxSafe {
		return maxSafe
	}
	return n
}

func normalizeStatus(p *ical.Prop) EventStatus {
	if p == nil {
		return StatusConfirmed
	}
	switch EventStatus(strings.ToUpper(strings.TrimSpace(p.Value))) {
	case StatusCancelled:
		return StatusCancelled
	case StatusTentative:
		return StatusTentative
	}
	return StatusConfirmed
}

func normalizeText(p *ical.Prop, max int) string {
	if p == nil {
		return ""
	}
	s := strings.TrimSpace(unescapeText(p.Value))
	if s == "" {
		return ""
	}
	runes := []rune(s)
	if len(runes) > max {
		s = strings.TrimSpace(string(runes[:max]))
	}
	return s
}

func unescapeText(s string) string {
	s = strings.ReplaceAll(s, `\n`, "\n")
	s = strings.ReplaceAll(s, `\N`, "\n")
	s = strings.ReplaceAll(s, `\,`, ",")
	s = strings.ReplaceAll(s, `\;`, ";")
	s = strings.ReplaceAll(s, `\\`, `\`)
	return s
}

func normalizeParticipants(comp *ical.Component, v *Vevent, hash string) error {
	if p := comp.Props.Get(ical.PropOrganizer); p != nil {
		org := participantFromProp(p)
		v.Organizer = &org
	}

	attendeeProps := comp.Props.Values(ical.PropAttendee)
	if len(attendeeProps) > MaxAttendees {
		return NewError(KindUnsupported, hash)
	}
	seen := make(map[string]bool, len(attendeeProps))
	for i := range attendeeProps {
		att := participantFromProp(&attendeeProps[i])
		if att.Email == "" {
			continue
		}
		if seen[att.Email] {
			return NewError(KindUnsupported, hash)
		}
		seen[att.Email] = true
		v.Attendees = append(v.Attendees, att)
	}
	return nil
}

func participantFromProp(p *ical.Prop) Participant {
	part := Participant{
		Email:    CanonicalEmail(p.Value),
		Name:     p.Params.Get(ical.ParamCommonName),
		Partstat: ParsePartstat(p.Params.Get(ical.ParamParticipationStatus)),
		Role:     RoleRequired,
		Token:    p.Params.Get("X-PM-TOKEN"),
		Prop:     p,
	}
	if strings.EqualFold(p.Params.Get(ical.ParamRole), string(RoleOptional)) {
		part.Role = RoleOptional
	}
	if strings.EqualFold(p.Params.Get(ical.ParamRSVP), "TRUE") {
		part.RSVP = true
	}
	return part
}

func timezoneHint(cal *ical.Calendar) *time.Location {
	p := cal.Props.Get("X-WR-TIMEZONE")
	if p == nil {
		return nil
	}
	loc, err := ResolveTimezone(p.Value)
	if err != nil {
		return nil
	}
	return loc
}

// parseDateTimeProp resolves a DTSTART/DTEND/RECURRENCE-ID property to a
// DateTime. All-day values pass through unchanged. Timed values need a
// resolvable zone: an explicit TZID, a Zulu suffix, the calendar's
// X-WR-TIMEZONE hint, or the default calendar timezone, in that order of
// specificity.
func parseDateTimeProp(p *ical.Prop, hint, fallback *time.Location) (DateTime, error) {
	if p == nil {
		return DateTime{}, fmt.Errorf("missing date-time property")
	}
	value := strings.TrimSpace(p.Value)

	if strings.EqualFold(p.Params.Get(ical.ParamValue), "DATE") || isDateOnly(value) {
		for _, layout := range icalDateFormats {
			if t, err := time.Parse(layout, value); err == nil {
				return DateTime{Time: t.UTC(), AllDay: true}, nil
			}
		}
		return DateTime{}, fmt.Errorf("invalid date value %q", value)
	}

	if tzid := p.Params.Get(ical.ParamTimezoneID); tzid != "" {
		loc, err := ResolveTimezone(tzid)
		if err != nil {
			return DateTime{}, err
		}
		return parseInZone(strings.TrimSuffix(value, "Z"), loc)
	}

	if strings.HasSuffix(value, "Z") {
		// Google's exporter emits floating Zulu times together with an
		// X-WR-TIMEZONE hint; localize into the hinted zone when present.
		if hint != nil {
			return parseInZone(strings.TrimSuffix(value, "Z"), hint)
		}
		return parseInZone(strings.TrimSuffix(value, "Z"), time.UTC)
	}

	// Floating time: only acceptable with a calendar fallback zone.
	if fallback == nil {
		return DateTime{}, fmt.Errorf("floating time %q without a calendar timezone", value)
	}
	return parseInZone(value, fallback)
}

func parseInZone(value string, loc *time.Location) (DateTime, error) {
	for _, layout := range []string{"20060102T150405", "2006-01-02T15:04:05"} {
		if t, err := time.ParseInLocation(layout, value, loc); err == nil {
			return DateTime{Time: t.UTC()}, nil
		}
	}
	return DateTime{}, fmt.Errorf("invalid date-time value %q", value)
}

func isDateOnly(value string) bool {
	if len(value) != 8 {
		return false
	}
	for _, r := range value {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func normalizeRecurrence(comp *ical.Component, v *Vevent, hint *time.Location, opts NormalizeOptions) error {
	rruleProp := comp.Props.Get(ical.PropRecurrenceRule)
	if rruleProp == nil {
		return exdatesOnly(comp, v, hint, opts)
	}

	// A master and a single-edit must not coexist in one component.
	if v.RecurrenceID != nil {
		return NewError(KindUnsupported, opts.Hash)
	}

	ruleStr := strings.TrimSpace(rruleProp.Value)
	opt, err := rrule.StrToROption(ruleStr)
	if err != nil {
		return WrapError(KindInvalid, opts.Hash, err)
	}
	switch opt.Freq {
	case rrule.SECONDLY, rrule.MINUTELY, rrule.HOURLY:
		return NewError(KindUnsupported, opts.Hash)
	}
	if _, err := rrule.NewRRule(*opt); err != nil {
		return WrapError(KindInvalid, opts.Hash, err)
	}
	v.RRule = ruleStr

	return exdatesOnly(comp, v, hint, opts)
}

func exdatesOnly(comp *ical.Component, v *Vevent, hint *time.Location, opts NormalizeOptions) error {
	for _, p := range comp.Props.Values(ical.PropExceptionDates) {
		prop := p
		for _, value := range strings.Split(prop.Value, ",") {
			single := prop
			single.Value = strings.TrimSpace(value)
			if single.Value == "" {
				continue
			}
			ex, err := parseDateTimeProp(&single, hint, opts.DefaultTimezone)
			if err != nil {
				return WrapError(KindInvalid, opts.Hash, err)
			}
			// EXDATE entries must agree with DTSTART's value type.
			if ex.AllDay != v.Start.AllDay {
				return NewError(KindInvalid, opts.Hash)
			}
			v.ExDates = append(v.ExDates, ex)
		}
	}
	return nil
}
