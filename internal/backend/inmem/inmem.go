// Package inmem provides an in-memory backend used by tests and local
// development. It applies the same completeness rules as the real backends
// but keeps everything in a mutex-guarded map.
package inmem

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jw6ventures/mailvite/internal/backend"
	"github.com/jw6ventures/mailvite/internal/itip"
)

type Backend struct {
	mu        sync.Mutex
	calendars map[string]backend.Calendar
	events    map[string]backend.Event // by event ID
	settings  backend.UserSettings

	// FailFetch, FailWrite force the corresponding operations to error,
	// for exercising degradation paths in tests.
	FailFetch bool
	FailWrite bool
}

// New returns a backend with a single writable primary calendar.
func New() *Backend {
	calID := uuid.NewString()
	return &Backend{
		calendars: map[string]backend.Calendar{
			calID: {ID: calID, Name: "Personal", Primary: true, Internal: true, HasFullKeys: true},
		},
		events: make(map[string]backend.Event),
		settings: backend.UserSettings{
			PrimaryTimezone:   "UTC",
			DefaultCalendarID: calID,
		},
	}
}

// PrimaryCalendarID returns the backing calendar created by New.
func (b *Backend) PrimaryCalendarID() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.settings.DefaultCalendarID
}

// AddCalendar registers an additional calendar.
func (b *Backend) AddCalendar(cal backend.Calendar) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calendars[cal.ID] = cal
}

// Seed stores an event directly, bypassing CreateEvent's bookkeeping.
func (b *Backend) Seed(calendarID string, v *itip.Vevent) *backend.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	ev := backend.Event{ID: uuid.NewString(), CalendarID: calendarID, Vevent: v}
	b.events[ev.ID] = ev
	return &ev
}

func (b *Backend) FindEventsByUID(ctx context.Context, uid string, recurrenceID *time.Time) ([]backend.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.FailFetch {
		return nil, fmt.Errorf("inmem: fetch failure injected")
	}
	var out []backend.Event
	for _, ev := range b.events {
		if ev.Vevent == nil || ev.Vevent.UID != uid {
			continue
		}
		if recurrenceID != nil {
			if ev.Vevent.RecurrenceID == nil || !ev.Vevent.RecurrenceID.Time.Equal(*recurrenceID) {
				continue
			}
		}
		out = append(out, ev)
	}
	return out, nil
}

func (b *Backend) CreateEvent(ctx context.Context, calendarID string, v *itip.Vevent) (*backend.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.FailWrite {
		return nil, fmt.Errorf("inmem: write failure injected")
	}
	cal, ok := b.calendars[calendarID]
	if !ok {
		return nil, backend.ErrNotFound
	}
	if !cal.Writable() {
		return nil, fmt.Errorf("inmem: calendar %s is not writable", calendarID)
	}
	ev := backend.Event{ID: uuid.NewString(), CalendarID: calendarID, Vevent: v}
	b.events[ev.ID] = ev
	return &ev, nil
}

func (b *Backend) UpdateEvent(ctx context.Context, calendarID, eventID string, v *itip.Vevent) (*backend.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.FailWrite {
		return nil, fmt.Errorf("inmem: write failure injected")
	}
	ev, ok := b.events[eventID]
	if !ok || ev.CalendarID != calendarID {
		return nil, backend.ErrNotFound
	}
	ev.Vevent = v
	b.events[eventID] = ev
	return &ev, nil
}

func (b *Backend) ListCalendars(ctx context.Context) ([]backend.Calendar, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]backend.Calendar, 0, len(b.calendars))
	for _, cal := range b.calendars {
		out = append(out, cal)
	}
	return out, nil
}

func (b *Backend) GetUserSettings(ctx context.Context) (*backend.UserSettings, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	settings := b.settings
	return &settings, nil
}
