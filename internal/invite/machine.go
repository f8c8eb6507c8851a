package invite

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/jw6ventures/mailvite/internal/backend"
	"github.com/jw6ventures/mailvite/internal/itip"
)

// Replier sends the iTIP REPLY mail after the user's answer was recorded.
// Failures are reported but never undo the calendar write.
type Replier interface {
	SendReply(ctx context.Context, inv *itip.EventInvitation, attendeeEmail string, partstat itip.Partstat) error
}

var errNoWritableCalendar = errors.New("no writable calendar available")

// Options configures a Machine.
type Options struct {
	Client    backend.Client
	UserEmail string

	// Invitation is the parsed attachment. Nil together with a non-nil
	// DecryptionError when the attachment could not be decrypted.
	Invitation      *itip.EventInvitation
	DecryptionError error

	// Replier is optional; when set, successful answers trigger a REPLY mail.
	Replier Replier
	// Report is the telemetry hook, called once per surfaced error.
	Report func(*itip.Error)

	Now    func() time.Time
	Logger *log.Logger
}

// Machine runs the reconciliation pipeline for one widget instance. A single
// pipeline run executes serially; a retry only starts after the previous run
// has fully settled. Results of a run that outlived its widget (Close was
// called, or the context was cancelled) are discarded before every mutation.
type Machine struct {
	client    backend.Client
	userEmail string
	ics       *itip.EventInvitation
	decErr    error
	replier   Replier
	report    func(*itip.Error)
	now       func() time.Time
	logger    *log.Logger

	mu      sync.Mutex
	gen     int
	model   Model
	subs    map[int]func(Model)
	nextSub int
}

// New builds a Machine in the uninitialized state. Call Start to run the
// pipeline.
func New(opts Options) *Machine {
	m := &Machine{
		client:    opts.Client,
		userEmail: opts.UserEmail,
		ics:       opts.Invitation,
		decErr:    opts.DecryptionError,
		replier:   opts.Replier,
		report:    opts.Report,
		now:       opts.Now,
		logger:    opts.Logger,
		subs:      make(map[int]func(Model)),
	}
	if m.now == nil {
		m.now = time.Now
	}
	if m.logger == nil {
		m.logger = log.Default()
	}
	if m.report == nil {
		m.report = func(*itip.Error) {}
	}
	m.model = Model{State: StateUninitialized, Ics: m.ics}
	return m
}

// Model returns the current snapshot.
func (m *Machine) Model() Model {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.model
}

// Subscribe registers a callback invoked with every new snapshot. The
// returned function unsubscribes.
func (m *Machine) Subscribe(fn func(Model)) func() {
	m.mu.Lock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = fn
	m.mu.Unlock()
	return func() {
		m.mu.Lock()
		delete(m.subs, id)
		m.mu.Unlock()
	}
}

// Close invalidates the machine: results of any in-flight operation are
// discarded instead of applied.
func (m *Machine) Close() {
	m.mu.Lock()
	m.gen++
	m.mu.Unlock()
}

// Start runs the fetch→classify→sync pipeline to completion. The returned
// error, if any, is also recorded on the model.
func (m *Machine) Start(ctx context.Context) error {
	m.mu.Lock()
	if !m.model.State.Terminal() && m.model.State != StateUninitialized {
		m.mu.Unlock()
		return fmt.Errorf("invite: pipeline already running in state %s", m.model.State)
	}
	m.gen++
	gen := m.gen
	m.mu.Unlock()
	return m.run(ctx, gen)
}

// Retry re-runs the whole pipeline from scratch, then re-applies the answer
// the user attempted before the failure, if there was one.
func (m *Machine) Retry(ctx context.Context) error {
	attempted := m.Model().AttemptedPartstat
	if err := m.Start(ctx); err != nil {
		return err
	}
	if attempted.Answered() {
		return m.SetPartstat(ctx, attempted)
	}
	return nil
}

// Accept records an ACCEPTED answer.
func (m *Machine) Accept(ctx context.Context) error {
	return m.SetPartstat(ctx, itip.PartstatAccepted)
}

// Decline records a DECLINED answer.
func (m *Machine) Decline(ctx context.Context) error {
	return m.SetPartstat(ctx, itip.PartstatDeclined)
}

// Tentative records a TENTATIVE answer.
func (m *Machine) Tentative(ctx context.Context) error {
	return m.SetPartstat(ctx, itip.PartstatTentative)
}

// commit applies a mutation and notifies subscribers, unless the context is
// done or the machine moved on to a newer generation. Reports whether the
// mutation was applied.
func (m *Machine) commit(ctx context.Context, gen int, mutate func(*Model)) bool {
	m.mu.Lock()
	if ctx.Err() != nil || gen != m.gen {
		m.mu.Unlock()
		return false
	}
	mutate(&m.model)
	snapshot := m.model
	subs := make([]func(Model), 0, len(m.subs))
	for _, fn := range m.subs {
		subs = append(subs, fn)
	}
	m.mu.Unlock()
	for _, fn := range subs {
		fn(snapshot)
	}
	return true
}

func (m *Machine) hash() string {
	if m.ics != nil {
		return m.ics.Hash
	}
	return ""
}

// toError coerces any failure into the tagged error type, defaulting to the
// external kind for anything unanticipated.
func (m *Machine) toError(err error, fallback itip.ErrorKind) *itip.Error {
	var ie *itip.Error
	if errors.As(err, &ie) {
		return ie
	}
	return itip.WrapError(fallback, m.hash(), err)
}

// fail moves the machine to the errored state, preserving the last known
// good API event and any attempted answer.
func (m *Machine) fail(ctx context.Context, gen int, ierr *itip.Error) error {
	m.report(ierr)
	m.logger.Printf("[ERROR] invite: %v (ics=%s)", ierr, ierr.Hash)
	m.commit(ctx, gen, func(mo *Model) {
		mo.State = StateErrored
		mo.Err = ierr
	})
	return ierr
}

func (m *Machine) run(ctx context.Context, gen int) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = m.fail(ctx, gen, itip.WrapError(itip.KindExternal, m.hash(), fmt.Errorf("panic: %v", r)))
		}
	}()

	if !m.commit(ctx, gen, func(mo *Model) {
		attempted := mo.AttemptedPartstat
		*mo = Model{State: StateFetching, Ics: m.ics, AttemptedPartstat: attempted}
	}) {
		return ctx.Err()
	}

	if m.ics == nil {
		return m.fail(ctx, gen, itip.WrapError(itip.KindDecryption, "", m.decErr))
	}

	calendars, settings := m.loadCalendarContext(ctx)
	api, parent := m.fetch(ctx)

	now := m.now()
	if !m.commit(ctx, gen, func(mo *Model) {
		mo.Calendars = calendars
		mo.Settings = settings
		mo.Calendar = pickTargetCalendar(calendars, settings)
		mo.API = api
		mo.classify(m.userEmail, now)
		if mo.WritableTarget() {
			mo.State = StateFound
		} else {
			// Incomplete or unwritable data degrades to not-found for update
			// purposes; the raw event stays on the model for display.
			mo.State = StateNotFound
		}
	}) {
		return ctx.Err()
	}

	snapshot := m.Model()
	action, target, payload := decideAction(&snapshot, parent)
	if action == ActionNone {
		m.commit(ctx, gen, func(mo *Model) { mo.State = StateSettled })
		return nil
	}

	if !m.commit(ctx, gen, func(mo *Model) {
		mo.State = StateUpdating
		mo.UpdateAction = action
	}) {
		return ctx.Err()
	}

	updated, werr := m.client.UpdateEvent(ctx, target.CalendarID, target.ID, payload)
	if werr != nil {
		kind := itip.KindUpdating
		if action == ActionCancel {
			kind = itip.KindCancellation
		}
		m.commit(ctx, gen, func(mo *Model) { mo.State = StateUpdateFailed })
		return m.fail(ctx, gen, m.toError(werr, kind))
	}

	m.commit(ctx, gen, func(mo *Model) {
		mo.State = StateUpdated
		mo.API = updated
	})
	m.commit(ctx, gen, func(mo *Model) { mo.State = StateSettled })
	return nil
}

// loadCalendarContext fetches the calendar list and user settings. Failures
// here must not block the widget; they degrade to an empty calendar list.
func (m *Machine) loadCalendarContext(ctx context.Context) ([]backend.Calendar, *backend.UserSettings) {
	calendars, err := m.client.ListCalendars(ctx)
	if err != nil {
		m.logger.Printf("[WARN] invite: list calendars failed, continuing without: %v", err)
		return nil, nil
	}
	settings, err := m.client.GetUserSettings(ctx)
	if err != nil {
		m.logger.Printf("[WARN] invite: get user settings failed, continuing without: %v", err)
		settings = nil
	}
	return calendars, settings
}

// fetch looks up the stored event matching the invitation, and for a
// single-edit additionally the parent series. Fetch failures are swallowed
// and treated as not-found so a transient backend error never blocks the
// widget.
func (m *Machine) fetch(ctx context.Context) (api, parent *backend.Event) {
	v := m.ics.Vevent
	var rid *time.Time
	if v.IsSingleEdit() {
		t := v.RecurrenceID.Time
		rid = &t
	}
	events, err := m.client.FindEventsByUID(ctx, v.UID, rid)
	if err != nil && !errors.Is(err, backend.ErrNotFound) {
		m.report(itip.WrapError(itip.KindFetching, m.hash(), err))
		m.logger.Printf("[WARN] invite: fetch by uid failed, treating as not found: %v", err)
		events = nil
	}
	if len(events) > 0 {
		api = &events[0]
	}

	if v.IsSingleEdit() {
		masters, err := m.client.FindEventsByUID(ctx, v.UID, nil)
		if err != nil && !errors.Is(err, backend.ErrNotFound) {
			m.logger.Printf("[WARN] invite: fetch parent series failed: %v", err)
			masters = nil
		}
		for i := range masters {
			if masters[i].Vevent != nil && !masters[i].Vevent.IsSingleEdit() {
				parent = &masters[i]
				break
			}
		}
	}
	return api, parent
}

// pickTargetCalendar selects the calendar new events go to: the user's
// configured default when writable, else the primary, else any writable one.
func pickTargetCalendar(calendars []backend.Calendar, settings *backend.UserSettings) *backend.Calendar {
	if settings != nil && settings.DefaultCalendarID != "" {
		for i := range calendars {
			if calendars[i].ID == settings.DefaultCalendarID && calendars[i].Writable() {
				return &calendars[i]
			}
		}
	}
	for i := range calendars {
		if calendars[i].Primary && calendars[i].Writable() {
			return &calendars[i]
		}
	}
	for i := range calendars {
		if calendars[i].Writable() {
			return &calendars[i]
		}
	}
	return nil
}

// decideAction determines the automatic server-side sync for the invitation.
// Only REQUEST and CANCEL ever write; replies and counters are informational.
func decideAction(mo *Model, parent *backend.Event) (UpdateAction, *backend.Event, *itip.Vevent) {
	if mo.Ics == nil || mo.Ics.IsImport() {
		return ActionNone, nil, nil
	}
	ics := mo.Ics.Vevent

	switch mo.Ics.Method {
	case itip.MethodRequest:
		if mo.State != StateFound || !mo.WritableTarget() {
			return ActionNone, nil, nil
		}
		api := mo.API.Vevent
		if ics.Sequence < api.Sequence {
			return ActionNone, nil, nil
		}
		if ics.Sequence == api.Sequence && !itip.SemanticDiff(ics, api) {
			return ActionNone, nil, nil
		}
		if ics.Sequence > api.Sequence {
			return ActionResetPartstat, mo.API, resetPartstats(ics)
		}
		return ActionKeepPartstat, mo.API, keepPartstats(ics, api)

	case itip.MethodCancel:
		if mo.State == StateFound && mo.WritableTarget() {
			if mo.API.Vevent.Status == itip.StatusCancelled {
				return ActionNone, nil, nil
			}
			payload := cloneVevent(mo.API.Vevent)
			payload.Status = itip.StatusCancelled
			payload.Stamp = ics.Stamp
			payload.Sequence = ics.Sequence
			return ActionCancel, mo.API, payload
		}
		// A single-edit cancellation with no stored single-edit is applied to
		// the parent series by excluding the occurrence, unless the series
		// already excludes it.
		if ics.IsSingleEdit() && parent.Complete() {
			if parent.Vevent.Excludes(*ics.RecurrenceID) {
				return ActionNone, nil, nil
			}
			payload := cloneVevent(parent.Vevent)
			payload.ExDates = append(payload.ExDates, *ics.RecurrenceID)
			return ActionCancel, parent, payload
		}
		return ActionNone, nil, nil
	}
	return ActionNone, nil, nil
}

// resetPartstats returns the ICS payload with every attendee reset to
// needs-action, used when a new revision changes the event meaningfully.
func resetPartstats(ics *itip.Vevent) *itip.Vevent {
	out := cloneVevent(ics)
	for i := range out.Attendees {
		out.Attendees[i].Partstat = itip.PartstatNeedsAction
	}
	return out
}

// keepPartstats returns the ICS payload with recorded answers carried over
// from the stored copy.
func keepPartstats(ics, api *itip.Vevent) *itip.Vevent {
	out := cloneVevent(ics)
	for i := range out.Attendees {
		if stored := api.Attendee(out.Attendees[i].Email); stored != nil && stored.Partstat.Answered() {
			out.Attendees[i].Partstat = stored.Partstat
		}
	}
	return out
}

func cloneVevent(v *itip.Vevent) *itip.Vevent {
	out := *v
	out.Attendees = append([]itip.Participant(nil), v.Attendees...)
	out.ExDates = append([]itip.DateTime(nil), v.ExDates...)
	return &out
}

// SetPartstat records the user's answer on the stored event, creating it
// first when no writable copy exists. A write failure keeps the attempted
// answer on the model so Retry resumes with the same target.
func (m *Machine) SetPartstat(ctx context.Context, partstat itip.Partstat) (err error) {
	m.mu.Lock()
	if !m.model.State.Terminal() {
		m.mu.Unlock()
		return fmt.Errorf("invite: cannot answer in state %s", m.model.State)
	}
	gen := m.gen
	snapshot := m.model
	m.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			err = m.fail(ctx, gen, itip.WrapError(itip.KindExternal, m.hash(), fmt.Errorf("panic: %v", r)))
		}
	}()

	if m.ics == nil || snapshot.Ics == nil {
		return m.fail(ctx, gen, itip.NewError(itip.KindExternal, m.hash()))
	}
	if m.ics.Vevent.Attendee(m.userEmail) == nil {
		return m.fail(ctx, gen, itip.NewError(itip.KindMissingAttendee, m.hash()))
	}

	if !m.commit(ctx, gen, func(mo *Model) {
		mo.State = StateUpdating
		mo.AttemptedPartstat = partstat
		mo.Err = nil
	}) {
		return ctx.Err()
	}

	if snapshot.WritableTarget() {
		payload := cloneVevent(snapshot.API.Vevent)
		answer(payload, m.userEmail, partstat)
		updated, werr := m.client.UpdateEvent(ctx, snapshot.API.CalendarID, snapshot.API.ID, payload)
		if werr != nil {
			m.commit(ctx, gen, func(mo *Model) { mo.State = StateUpdateFailed })
			return m.fail(ctx, gen, m.toError(werr, itip.KindEventUpdate))
		}
		return m.settleAnswer(ctx, gen, updated, partstat)
	}

	if snapshot.Calendar == nil {
		m.commit(ctx, gen, func(mo *Model) { mo.State = StateUpdateFailed })
		return m.fail(ctx, gen, itip.WrapError(itip.KindEventCreation, m.hash(), errNoWritableCalendar))
	}
	payload := cloneVevent(m.ics.Vevent)
	answer(payload, m.userEmail, partstat)
	created, werr := m.client.CreateEvent(ctx, snapshot.Calendar.ID, payload)
	if werr != nil {
		m.commit(ctx, gen, func(mo *Model) { mo.State = StateUpdateFailed })
		return m.fail(ctx, gen, m.toError(werr, itip.KindEventCreation))
	}
	return m.settleAnswer(ctx, gen, created, partstat)
}

func (m *Machine) settleAnswer(ctx context.Context, gen int, ev *backend.Event, partstat itip.Partstat) error {
	m.commit(ctx, gen, func(mo *Model) {
		mo.State = StateUpdated
		mo.API = ev
		mo.AttemptedPartstat = ""
		mo.Err = nil
	})
	m.commit(ctx, gen, func(mo *Model) { mo.State = StateSettled })

	if m.replier != nil {
		if err := m.replier.SendReply(ctx, m.ics, m.userEmail, partstat); err != nil {
			// The calendar write already succeeded; a reply failure is
			// reported but does not fail the answer.
			m.report(itip.WrapError(itip.KindExternal, m.hash(), err))
			m.logger.Printf("[WARN] invite: sending reply failed: %v", err)
		}
	}
	return nil
}

func answer(v *itip.Vevent, email string, partstat itip.Partstat) {
	if att := v.Attendee(email); att != nil {
		att.Partstat = partstat
	}
}

// Import copies the event into the user's calendar without treating it as an
// invitation. Used for PUBLISH and method-less attachments.
func (m *Machine) Import(ctx context.Context) error {
	m.mu.Lock()
	if !m.model.State.Terminal() {
		m.mu.Unlock()
		return fmt.Errorf("invite: cannot import in state %s", m.model.State)
	}
	gen := m.gen
	snapshot := m.model
	m.mu.Unlock()

	if m.ics == nil {
		return m.fail(ctx, gen, itip.NewError(itip.KindExternal, m.hash()))
	}
	if snapshot.Calendar == nil {
		return m.fail(ctx, gen, itip.WrapError(itip.KindEventCreation, m.hash(), errNoWritableCalendar))
	}

	if !m.commit(ctx, gen, func(mo *Model) { mo.State = StateUpdating }) {
		return ctx.Err()
	}
	created, err := m.client.CreateEvent(ctx, snapshot.Calendar.ID, cloneVevent(m.ics.Vevent))
	if err != nil {
		m.commit(ctx, gen, func(mo *Model) { mo.State = StateUpdateFailed })
		return m.fail(ctx, gen, m.toError(err, itip.KindEventCreation))
	}
	m.commit(ctx, gen, func(mo *Model) {
		mo.State = StateUpdated
		mo.API = created
		mo.Err = nil
	})
	m.commit(ctx, gen, func(mo *Model) { mo.State = StateSettled })
	return nil
}

// AddParticipant merges a non-blocking party crasher into the stored event's
// attendee list, an organizer-side affordance.
func (m *Machine) AddParticipant(ctx context.Context) error {
	m.mu.Lock()
	if !m.model.State.Terminal() {
		m.mu.Unlock()
		return fmt.Errorf("invite: cannot add participant in state %s", m.model.State)
	}
	gen := m.gen
	snapshot := m.model
	m.mu.Unlock()

	if snapshot.PartyCrasher != itip.CrasherNonBlocking || !snapshot.WritableTarget() {
		return fmt.Errorf("invite: no mergeable participant")
	}
	if m.ics == nil || len(m.ics.Vevent.Attendees) == 0 {
		return fmt.Errorf("invite: invitation carries no attendee to merge")
	}

	if !m.commit(ctx, gen, func(mo *Model) { mo.State = StateUpdating }) {
		return ctx.Err()
	}
	payload := cloneVevent(snapshot.API.Vevent)
	payload.Attendees = append(payload.Attendees, m.ics.Vevent.Attendees[0])
	updated, err := m.client.UpdateEvent(ctx, snapshot.API.CalendarID, snapshot.API.ID, payload)
	if err != nil {
		m.commit(ctx, gen, func(mo *Model) { mo.State = StateUpdateFailed })
		return m.fail(ctx, gen, m.toError(err, itip.KindEventUpdate))
	}
	m.commit(ctx, gen, func(mo *Model) {
		mo.State = StateUpdated
		mo.API = updated
		mo.PartyCrasher = itip.CrasherNone
		mo.Err = nil
	})
	m.commit(ctx, gen, func(mo *Model) { mo.State = StateSettled })
	return nil
}
