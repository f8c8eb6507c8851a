// Package caldavapi implements the calendar backend against a CalDAV server
// (RFC 4791). Events are addressed as one calendar object per UID; recurring
// series and their single-edits share an object and are split into separate
// backend events when read.
package caldavapi

import (
	"context"
	"fmt"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/emersion/go-ical"
	"github.com/emersion/go-webdav"
	"github.com/emersion/go-webdav/caldav"

	"github.com/jw6ventures/mailvite/internal/backend"
	"github.com/jw6ventures/mailvite/internal/itip"
	"github.com/jw6ventures/mailvite/internal/metrics"
)

type Backend struct {
	client          *caldav.Client
	homeSet         string
	primaryTimezone string
}

// Config carries the connection parameters for a CalDAV backend.
type Config struct {
	Endpoint        string
	Username        string
	Password        string
	PrimaryTimezone string
}

// New connects to the CalDAV endpoint and discovers the calendar home set.
func New(ctx context.Context, cfg Config) (*Backend, error) {
	httpClient := webdav.HTTPClientWithBasicAuth(&http.Client{Timeout: 30 * time.Second}, cfg.Username, cfg.Password)
	client, err := caldav.NewClient(httpClient, cfg.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("create caldav client: %w", err)
	}

	principal, err := client.FindCurrentUserPrincipal(ctx)
	if err != nil {
		return nil, fmt.Errorf("find principal: %w", err)
	}
	homeSet, err := client.FindCalendarHomeSet(ctx, principal)
	if err != nil {
		return nil, fmt.Errorf("find calendar home set: %w", err)
	}

	tz := cfg.PrimaryTimezone
	if tz == "" {
		tz = "UTC"
	}
	return &Backend{client: client, homeSet: homeSet, primaryTimezone: tz}, nil
}

func (b *Backend) FindEventsByUID(ctx context.Context, uid string, recurrenceID *time.Time) ([]backend.Event, error) {
	defer metrics.ObserveBackendLatency(ctx, "find_events_by_uid", time.Now())
	calendars, err := b.client.FindCalendars(ctx, b.homeSet)
	if err != nil {
		return nil, fmt.Errorf("list calendars: %w", err)
	}

	query := &caldav.CalendarQuery{
		CompRequest: caldav.CalendarCompRequest{
			Name:     ical.CompCalendar,
			AllProps: true,
			AllComps: true,
		},
		CompFilter: caldav.CompFilter{
			Name: ical.CompCalendar,
			Comps: []caldav.CompFilter{{
				Name: ical.CompEvent,
				Props: []caldav.PropFilter{{
					Name:      ical.PropUID,
					TextMatch: &caldav.TextMatch{Text: uid},
				}},
			}},
		},
	}

	var out []backend.Event
	for _, cal := range calendars {
		objects, err := b.client.QueryCalendar(ctx, cal.Path, query)
		if err != nil {
			return nil, fmt.Errorf("query calendar %s: %w", cal.Path, err)
		}
		for _, obj := range objects {
			events, err := splitObject(obj)
			if err != nil {
				return nil, err
			}
			for _, ev := range events {
				if ev.Vevent.UID != uid {
					continue
				}
				if recurrenceID != nil {
					if ev.Vevent.RecurrenceID == nil || !ev.Vevent.RecurrenceID.Time.Equal(*recurrenceID) {
						continue
					}
				}
				ev.CalendarID = cal.Path
				out = append(out, ev)
			}
		}
	}
	return out, nil
}

func (b *Backend) CreateEvent(ctx context.Context, calendarID string, v *itip.Vevent) (*backend.Event, error) {
	defer metrics.ObserveBackendLatency(ctx, "create_event", time.Now())
	objPath := path.Join(calendarID, v.UID+".ics")
	if _, err := b.client.PutCalendarObject(ctx, objPath, v.Calendar("", nil)); err != nil {
		return nil, fmt.Errorf("put calendar object: %w", err)
	}
	return &backend.Event{ID: objPath, CalendarID: calendarID, Vevent: v}, nil
}

// UpdateEvent rewrites one VEVENT of a stored object. The object is fetched
// first and merged so sibling components (a series master alongside its
// overrides, VTIMEZONEs) survive the PUT.
func (b *Backend) UpdateEvent(ctx context.Context, calendarID, eventID string, v *itip.Vevent) (*backend.Event, error) {
	defer metrics.ObserveBackendLatency(ctx, "update_event", time.Now())
	objPath := ObjectPath(eventID)
	existing, err := b.client.GetCalendarObject(ctx, objPath)
	if err != nil {
		return nil, fmt.Errorf("get calendar object %s: %w", objPath, err)
	}
	if _, err := b.client.PutCalendarObject(ctx, objPath, mergeObject(existing.Data, v)); err != nil {
		return nil, fmt.Errorf("put calendar object: %w", err)
	}
	return &backend.Event{ID: eventID, CalendarID: calendarID, Vevent: v}, nil
}

func (b *Backend) ListCalendars(ctx context.Context) ([]backend.Calendar, error) {
	defer metrics.ObserveBackendLatency(ctx, "list_calendars", time.Now())
	calendars, err := b.client.FindCalendars(ctx, b.homeSet)
	if err != nil {
		return nil, fmt.Errorf("list calendars: %w", err)
	}
	out := make([]backend.Calendar, 0, len(calendars))
	for i, cal := range calendars {
		out = append(out, backend.Calendar{
			ID:          cal.Path,
			Name:        cal.Name,
			Primary:     i == 0,
			HasFullKeys: true,
		})
	}
	return out, nil
}

func (b *Backend) GetUserSettings(ctx context.Context) (*backend.UserSettings, error) {
	defer metrics.ObserveBackendLatency(ctx, "get_user_settings", time.Now())
	calendars, err := b.ListCalendars(ctx)
	if err != nil {
		return nil, err
	}
	settings := &backend.UserSettings{PrimaryTimezone: b.primaryTimezone}
	if len(calendars) > 0 {
		settings.DefaultCalendarID = calendars[0].ID
	}
	return settings, nil
}

// splitObject turns a stored calendar object into one backend event per
// VEVENT. The object path identifies the whole series; single-edits get a
// fragment suffix so update targets stay distinguishable.
func splitObject(obj caldav.CalendarObject) ([]backend.Event, error) {
	if obj.Data == nil {
		return nil, nil
	}
	var out []backend.Event
	for _, child := range obj.Data.Children {
		if child.Name != ical.CompEvent {
			continue
		}
		v, err := normalizeComponent(obj.Data, child)
		if err != nil {
			// A stored event we cannot read should not hide the rest.
			continue
		}
		id := obj.Path
		if v.IsSingleEdit() {
			id = obj.Path + "#" + v.RecurrenceID.Time.UTC().Format("20060102T150405Z")
		}
		out = append(out, backend.Event{ID: id, Vevent: v})
	}
	return out, nil
}

func normalizeComponent(src *ical.Calendar, comp *ical.Component) (*itip.Vevent, error) {
	wrapper := ical.NewCalendar()
	wrapper.Props.SetText(ical.PropVersion, "2.0")
	wrapper.Props.SetText(ical.PropProductID, "-//Mailvite//EN")
	for _, child := range src.Children {
		if child.Name == ical.CompTimezone {
			wrapper.Children = append(wrapper.Children, child)
		}
	}
	wrapper.Children = append(wrapper.Children, comp)

	inv, err := itip.Normalize(wrapper, itip.NormalizeOptions{
		ReceivedAt:      time.Now().UTC(),
		DefaultTimezone: time.UTC,
	})
	if err != nil {
		return nil, err
	}
	return inv.Vevent, nil
}

// ObjectPath strips a single-edit fragment from an event ID, yielding the
// CalDAV object path to write to.
func ObjectPath(eventID string) string {
	if i := strings.Index(eventID, "#"); i >= 0 {
		return eventID[:i]
	}
	return eventID
}

// mergeObject replaces the occurrence v describes inside the stored object
// and keeps everything else. A master replaces the master, a single-edit
// replaces the override with the same RECURRENCE-ID; an override not yet
// stored is appended.
func mergeObject(stored *ical.Calendar, v *itip.Vevent) *ical.Calendar {
	if stored == nil {
		return v.Calendar("", nil)
	}
	merged := ical.NewCalendar()
	merged.Props = stored.Props

	replaced := false
	for _, child := range stored.Children {
		if child.Name == ical.CompEvent && sameOccurrence(stored, child, v) {
			merged.Children = append(merged.Children, v.Component())
			replaced = true
			continue
		}
		merged.Children = append(merged.Children, child)
	}
	if !replaced {
		merged.Children = append(merged.Children, v.Component())
	}
	return merged
}

// sameOccurrence reports whether a stored VEVENT describes the same
// occurrence as v: both the master, or both the override of one instant.
// Components the normalizer rejects never match, so they are carried along
// untouched.
func sameOccurrence(stored *ical.Calendar, comp *ical.Component, v *itip.Vevent) bool {
	sv, err := normalizeComponent(stored, comp)
	if err != nil {
		return false
	}
	if v.RecurrenceID == nil {
		return sv.RecurrenceID == nil
	}
	return sv.RecurrenceID != nil && sv.RecurrenceID.Time.Equal(v.RecurrenceID.Time)
}
