// Package backend defines the calendar backend collaborator consumed by the
// reconciliation engine, together with the adapters that implement it. The
// engine only ever sees the Client interface; which transport sits behind it
// is a deployment decision.
package backend

import (
	"context"
	"errors"
	"time"

	"github.com/jw6ventures/mailvite/internal/itip"
)

// ErrNotFound is returned by lookups that matched nothing. Callers must not
// treat it as a transport failure.
var ErrNotFound = errors.New("backend: not found")

// Calendar describes one of the user's calendars.
type Calendar struct {
	ID   string
	Name string

	// Primary marks the default calendar for new events.
	Primary bool
	// Disabled calendars can be displayed but not written to.
	Disabled bool
	// NeedsUserAction calendars await a reactivation step (e.g. key reset)
	// and are treated as unwritable until the user resolves it.
	NeedsUserAction bool
	// Internal marks a calendar hosted on this provider's own accounts, as
	// opposed to an external subscription.
	Internal bool
	// HasFullKeys reports whether all key material needed to write is
	// available.
	HasFullKeys bool
}

// Writable reports whether events can be created or updated on the calendar.
func (c *Calendar) Writable() bool {
	return !c.Disabled && !c.NeedsUserAction && c.HasFullKeys
}

// Event is the backend's typed representation of a stored calendar event.
type Event struct {
	ID         string
	CalendarID string
	Vevent     *itip.Vevent
}

// Complete reports whether the stored event carries everything the engine
// needs to issue updates against it.
func (e *Event) Complete() bool {
	return e != nil && e.ID != "" && e.Vevent != nil
}

// UserSettings is the slice of calendar user settings the engine consults.
type UserSettings struct {
	PrimaryTimezone   string
	DefaultCalendarID string
}

// Client is the calendar backend API. All operations honor context
// cancellation; implementations must not retry internally.
type Client interface {
	// FindEventsByUID returns all stored events sharing the UID. When
	// recurrenceID is non-nil the result is filtered to the matching
	// single-edit occurrence; passing nil returns masters and single-edits
	// alike. An empty result is not an error.
	FindEventsByUID(ctx context.Context, uid string, recurrenceID *time.Time) ([]Event, error)

	// CreateEvent stores a new event on the calendar.
	CreateEvent(ctx context.Context, calendarID string, v *itip.Vevent) (*Event, error)

	// UpdateEvent overwrites the stored event's payload.
	UpdateEvent(ctx context.Context, calendarID, eventID string, v *itip.Vevent) (*Event, error)

	// ListCalendars returns the user's calendars.
	ListCalendars(ctx context.Context) ([]Calendar, error)

	// GetUserSettings returns the user's calendar settings.
	GetUserSettings(ctx context.Context) (*UserSettings, error)
}
