// Package googleapi implements the calendar backend on top of the Google
// Calendar API. Events are matched by iCalUID so invitations reconcile
// against copies Google created on its own.
package googleapi

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"

	"github.com/jw6ventures/mailvite/internal/backend"
	"github.com/jw6ventures/mailvite/internal/itip"
	"github.com/jw6ventures/mailvite/internal/metrics"
)

type Backend struct {
	service *calendar.Service
}

// New builds a backend from an OAuth2 config and a previously obtained token.
func New(ctx context.Context, config *oauth2.Config, token *oauth2.Token) (*Backend, error) {
	client := config.Client(ctx, token)
	service, err := calendar.NewService(ctx, option.WithHTTPClient(client))
	if err != nil {
		return nil, fmt.Errorf("create calendar service: %w", err)
	}
	return &Backend{service: service}, nil
}

func (b *Backend) FindEventsByUID(ctx context.Context, uid string, recurrenceID *time.Time) ([]backend.Event, error) {
	defer metrics.ObserveBackendLatency(ctx, "find_events_by_uid", time.Now())
	list, err := b.service.CalendarList.List().Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("list calendars: %w", err)
	}

	var out []backend.Event
	for _, item := range list.Items {
		events, err := b.service.Events.List(item.Id).
			ICalUID(uid).
			ShowDeleted(false).
			Context(ctx).
			Do()
		if err != nil {
			return nil, fmt.Errorf("list events on %s: %w", item.Id, err)
		}
		for _, ge := range events.Items {
			v, err := fromGoogle(ge)
			if err != nil {
				continue
			}
			if recurrenceID != nil {
				if v.RecurrenceID == nil || !v.RecurrenceID.Time.Equal(*recurrenceID) {
					continue
				}
			}
			out = append(out, backend.Event{ID: ge.Id, CalendarID: item.Id, Vevent: v})
		}
	}
	return out, nil
}

func (b *Backend) CreateEvent(ctx context.Context, calendarID string, v *itip.Vevent) (*backend.Event, error) {
	defer metrics.ObserveBackendLatency(ctx, "create_event", time.Now())
	created, err := b.service.Events.Insert(calendarID, toGoogle(v)).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("insert event: %w", err)
	}
	return &backend.Event{ID: created.Id, CalendarID: calendarID, Vevent: v}, nil
}

func (b *Backend) UpdateEvent(ctx context.Context, calendarID, eventID string, v *itip.Vevent) (*backend.Event, error) {
	defer metrics.ObserveBackendLatency(ctx, "update_event", time.Now())
	updated, err := b.service.Events.Update(calendarID, eventID, toGoogle(v)).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("update event: %w", err)
	}
	return &backend.Event{ID: updated.Id, CalendarID: calendarID, Vevent: v}, nil
}

func (b *Backend) ListCalendars(ctx context.Context) ([]backend.Calendar, error) {
	defer metrics.ObserveBackendLatency(ctx, "list_calendars", time.Now())
	list, err := b.service.CalendarList.List().Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("list calendars: %w", err)
	}
	out := make([]backend.Calendar, 0, len(list.Items))
	for _, item := range list.Items {
		writable := item.AccessRole == "owner" || item.AccessRole == "writer"
		out = append(out, backend.Calendar{
			ID:          item.Id,
			Name:        item.Summary,
			Primary:     item.Primary,
			Disabled:    !writable,
			HasFullKeys: true,
		})
	}
	return out, nil
}

func (b *Backend) GetUserSettings(ctx context.Context) (*backend.UserSettings, error) {
	defer metrics.ObserveBackendLatency(ctx, "get_user_settings", time.Now())
	settings := &backend.UserSettings{PrimaryTimezone: "UTC"}

	tz, err := b.service.Settings.Get("timezone").Context(ctx).Do()
	if err == nil && tz.Value != "" {
		settings.PrimaryTimezone = tz.Value
	}

	list, err := b.service.CalendarList.List().Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("list calendars: %w", err)
	}
	for _, item := range list.Items {
		if item.Primary {
			settings.DefaultCalendarID = item.Id
			break
		}
	}
	return settings, nil
}

var partstatByResponse = map[string]itip.Partstat{
	"needsAction": itip.PartstatNeedsAction,
	"accepted":    itip.PartstatAccepted,
	"declined":    itip.PartstatDeclined,
	"tentative":   itip.PartstatTentative,
}

var responseByPartstat = map[itip.Partstat]string{
	itip.PartstatNeedsAction: "needsAction",
	itip.PartstatAccepted:    "accepted",
	itip.PartstatDeclined:    "declined",
	itip.PartstatTentative:   "tentative",
}

var statusByGoogle = map[string]itip.EventStatus{
	"confirmed": itip.StatusConfirmed,
	"tentative": itip.StatusTentative,
	"cancelled": itip.StatusCancelled,
}

func fromGoogle(ge *calendar.Event) (*itip.Vevent, error) {
	start, err := fromEventDateTime(ge.Start)
	if err != nil || start == nil {
		return nil, fmt.Errorf("event %s has no usable start: %w", ge.Id, err)
	}
	end, err := fromEventDateTime(ge.End)
	if err != nil {
		return nil, err
	}

	v := &itip.Vevent{
		UID:         ge.ICalUID,
		Start:       *start,
		End:         end,
		Sequence:    ge.Sequence,
		Summary:     ge.Summary,
		Description: ge.Description,
		Location:    ge.Location,
		Status:      statusByGoogle[ge.Status],
	}
	if ge.Updated != "" {
		if stamp, err := time.Parse(time.RFC3339, ge.Updated); err == nil {
			v.Stamp = stamp.UTC()
		}
	}
	if ge.Organizer != nil {
		v.Organizer = &itip.Participant{
			Email: itip.CanonicalEmail(ge.Organizer.Email),
			Name:  ge.Organizer.DisplayName,
		}
	}
	for _, a := range ge.Attendees {
		role := itip.RoleRequired
		if a.Optional {
			role = itip.RoleOptional
		}
		v.Attendees = append(v.Attendees, itip.Participant{
			Email:    itip.CanonicalEmail(a.Email),
			Name:     a.DisplayName,
			Partstat: partstatByResponse[a.ResponseStatus],
			Role:     role,
		})
	}
	for _, line := range ge.Recurrence {
		switch {
		case strings.HasPrefix(line, "RRULE:"):
			v.RRule = strings.TrimPrefix(line, "RRULE:")
		case strings.HasPrefix(line, "EXDATE"):
			for _, raw := range strings.Split(line[strings.Index(line, ":")+1:], ",") {
				if t, err := parseGoogleDate(raw, start.AllDay); err == nil {
					v.ExDates = append(v.ExDates, itip.DateTime{Time: t, AllDay: start.AllDay})
				}
			}
		}
	}
	if ge.OriginalStartTime != nil {
		rid, err := fromEventDateTime(ge.OriginalStartTime)
		if err == nil && rid != nil {
			v.RecurrenceID = rid
		}
	}
	return v, nil
}

func toGoogle(v *itip.Vevent) *calendar.Event {
	ge := &calendar.Event{
		ICalUID:     v.UID,
		Summary:     v.Summary,
		Description: v.Description,
		Location:    v.Location,
		Sequence:    v.Sequence,
		Start:       toEventDateTime(&v.Start),
		End:         toEventDateTime(v.End),
	}
	if ge.End == nil {
		ge.End = ge.Start
	}
	switch v.Status {
	case itip.StatusTentative:
		ge.Status = "tentative"
	case itip.StatusCancelled:
		ge.Status = "cancelled"
	default:
		ge.Status = "confirmed"
	}
	if v.Organizer != nil {
		ge.Organizer = &calendar.EventOrganizer{Email: v.Organizer.Email, DisplayName: v.Organizer.Name}
	}
	for _, a := range v.Attendees {
		ge.Attendees = append(ge.Attendees, &calendar.EventAttendee{
			Email:          a.Email,
			DisplayName:    a.Name,
			Optional:       a.Role == itip.RoleOptional,
			ResponseStatus: responseByPartstat[a.Partstat],
		})
	}
	if v.RRule != "" {
		ge.Recurrence = append(ge.Recurrence, "RRULE:"+v.RRule)
	}
	for _, ex := range v.ExDates {
		if ex.AllDay {
			ge.Recurrence = append(ge.Recurrence, "EXDATE;VALUE=DATE:"+ex.Time.Format("20060102"))
		} else {
			ge.Recurrence = append(ge.Recurrence, "EXDATE:"+ex.Time.UTC().Format("20060102T150405Z"))
		}
	}
	if v.RecurrenceID != nil {
		ge.OriginalStartTime = toEventDateTime(v.RecurrenceID)
	}
	return ge
}

func fromEventDateTime(edt *calendar.EventDateTime) (*itip.DateTime, error) {
	if edt == nil {
		return nil, nil
	}
	if edt.Date != "" {
		t, err := time.Parse("2006-01-02", edt.Date)
		if err != nil {
			return nil, fmt.Errorf("parse all-day date %q: %w", edt.Date, err)
		}
		return &itip.DateTime{Time: t, AllDay: true}, nil
	}
	t, err := time.Parse(time.RFC3339, edt.DateTime)
	if err != nil {
		return nil, fmt.Errorf("parse datetime %q: %w", edt.DateTime, err)
	}
	if edt.TimeZone != "" {
		if loc, lerr := time.LoadLocation(edt.TimeZone); lerr == nil {
			t = t.In(loc)
		}
	}
	return &itip.DateTime{Time: t}, nil
}

func toEventDateTime(dt *itip.DateTime) *calendar.EventDateTime {
	if dt == nil {
		return nil
	}
	if dt.AllDay {
		return &calendar.EventDateTime{Date: dt.Time.Format("2006-01-02")}
	}
	edt := &calendar.EventDateTime{DateTime: dt.Time.Format(time.RFC3339)}
	if name := dt.Time.Location().String(); name != "Local" && name != "" {
		edt.TimeZone = name
	}
	return edt
}

func parseGoogleDate(raw string, allDay bool) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if allDay {
		return time.Parse("20060102", raw)
	}
	return time.Parse("20060102T150405Z", raw)
}
