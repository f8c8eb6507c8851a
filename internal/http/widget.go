package httpserver

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/jw6ventures/mailvite/internal/backend"
	httperrors "github.com/jw6ventures/mailvite/internal/http/errors"
	"github.com/jw6ventures/mailvite/internal/invite"
	"github.com/jw6ventures/mailvite/internal/itip"
	"github.com/jw6ventures/mailvite/internal/mailin"
	"github.com/jw6ventures/mailvite/internal/metrics"
	"github.com/jw6ventures/mailvite/internal/summary"
)

// maxMessageBytes bounds uploaded message size.
const maxMessageBytes = 25 << 20

// Widget sessions not touched for widgetTTL are torn down by a background
// sweep so abandoned sessions do not accumulate.
const (
	widgetTTL        = time.Hour
	widgetSweepEvery = 10 * time.Minute
)

// widget pairs one invitation attachment with its reconciliation machine.
// Attachments that failed before an invitation existed carry a terminal
// error instead.
type widget struct {
	id      string
	machine *invite.Machine
	err     *itip.Error

	lastAccess time.Time // guarded by WidgetHandler.mu
}

// WidgetHandler owns the live widget instances and the JSON API around them.
type WidgetHandler struct {
	client    backend.Client
	userEmail string
	replier   invite.Replier
	defaultTZ *time.Location
	decryptor mailin.Decryptor

	mu      sync.Mutex
	widgets map[string]*widget
}

func NewWidgetHandler(client backend.Client, userEmail string, replier invite.Replier, defaultTZ *time.Location, decryptor mailin.Decryptor) *WidgetHandler {
	h := &WidgetHandler{
		client:    client,
		userEmail: userEmail,
		replier:   replier,
		defaultTZ: defaultTZ,
		decryptor: decryptor,
		widgets:   make(map[string]*widget),
	}
	go h.sweepStale()
	return h
}

// CreateFromMessage ingests a raw email, extracts its calendar attachments
// and runs the reconciliation pipeline for each surviving one.
func (h *WidgetHandler) CreateFromMessage(w http.ResponseWriter, r *http.Request) {
	msg, err := mailin.Read(http.MaxBytesReader(w, r.Body, maxMessageBytes))
	if err != nil {
		httperrors.BadRequestError(w, r, err, "message could not be parsed")
		return
	}
	if len(msg.Attachments) == 0 {
		httperrors.BadRequestError(w, r, nil, "message carries no calendar attachment")
		return
	}

	results := mailin.Process(r.Context(), msg, mailin.Options{
		Decryptor:       h.decryptor,
		DefaultTimezone: h.defaultTZ,
	})

	views := make([]widgetView, 0, len(results))
	for _, res := range results {
		wd := h.attach(r, res)
		views = append(views, h.view(wd))
	}

	writeJSON(w, http.StatusCreated, map[string]any{"widgets": views})
}

// attach builds a widget for one processed attachment and runs its pipeline
// to the first settle.
func (h *WidgetHandler) attach(r *http.Request, res mailin.Result) *widget {
	wd := &widget{id: uuid.NewString()}

	switch {
	case res.Err != nil && res.Err.Kind == itip.KindDecryption:
		wd.machine = h.newMachine(nil, res.Err)
	case res.Err != nil:
		// Content errors are terminal for the attachment; no machine runs.
		metrics.ReportInviteError(res.Err)
		wd.err = res.Err
	default:
		metrics.CountInvitation(res.Invitation.Method)
		wd.machine = h.newMachine(res.Invitation, nil)
	}

	if wd.machine != nil {
		if err := wd.machine.Start(r.Context()); err != nil {
			httperrors.LogError(r, "invitation pipeline", err)
		}
	}

	h.mu.Lock()
	wd.lastAccess = time.Now()
	h.widgets[wd.id] = wd
	h.mu.Unlock()
	return wd
}

func (h *WidgetHandler) sweepStale() {
	ticker := time.NewTicker(widgetSweepEvery)
	defer ticker.Stop()
	for range ticker.C {
		h.expireBefore(time.Now().Add(-widgetTTL))
	}
}

// expireBefore drops every widget last touched before the cutoff. Machines
// are closed outside the map lock.
func (h *WidgetHandler) expireBefore(cutoff time.Time) {
	h.mu.Lock()
	var stale []*widget
	for id, wd := range h.widgets {
		if wd.lastAccess.Before(cutoff) {
			delete(h.widgets, id)
			stale = append(stale, wd)
		}
	}
	h.mu.Unlock()

	for _, wd := range stale {
		if wd.machine != nil {
			wd.machine.Close()
		}
	}
}

func (h *WidgetHandler) newMachine(inv *itip.EventInvitation, decErr *itip.Error) *invite.Machine {
	var cause error
	if decErr != nil {
		cause = decErr
	}
	return invite.New(invite.Options{
		Client:          h.client,
		UserEmail:       h.userEmail,
		Invitation:      inv,
		DecryptionError: cause,
		Replier:         h.replier,
		Report:          metrics.ReportInviteError,
	})
}

func (h *WidgetHandler) lookup(w http.ResponseWriter, r *http.Request) *widget {
	id := chi.URLParam(r, "id")
	h.mu.Lock()
	wd := h.widgets[id]
	if wd != nil {
		wd.lastAccess = time.Now()
	}
	h.mu.Unlock()
	if wd == nil {
		http.Error(w, "unknown widget", http.StatusNotFound)
		return nil
	}
	return wd
}

// Get renders the current widget snapshot.
func (h *WidgetHandler) Get(w http.ResponseWriter, r *http.Request) {
	wd := h.lookup(w, r)
	if wd == nil {
		return
	}
	writeJSON(w, http.StatusOK, h.view(wd))
}

// Intent routes a user action back into the machine.
func (h *WidgetHandler) Intent(w http.ResponseWriter, r *http.Request) {
	wd := h.lookup(w, r)
	if wd == nil {
		return
	}
	if wd.machine == nil {
		http.Error(w, "widget is terminally failed", http.StatusConflict)
		return
	}

	var err error
	switch action := chi.URLParam(r, "action"); action {
	case "accept":
		err = wd.machine.Accept(r.Context())
	case "decline":
		err = wd.machine.Decline(r.Context())
	case "tentative":
		err = wd.machine.Tentative(r.Context())
	case "retry":
		err = wd.machine.Retry(r.Context())
	case "import":
		err = wd.machine.Import(r.Context())
	case "add-participant":
		err = wd.machine.AddParticipant(r.Context())
	default:
		http.Error(w, "unknown action", http.StatusNotFound)
		return
	}

	if err != nil {
		if ie, ok := err.(*itip.Error); ok {
			httperrors.InviteError(w, r, ie)
			return
		}
		httperrors.BadRequestError(w, r, err, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, h.view(wd))
}

// Delete tears the widget down; in-flight operation results are discarded.
func (h *WidgetHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	h.mu.Lock()
	wd := h.widgets[id]
	delete(h.widgets, id)
	h.mu.Unlock()
	if wd != nil && wd.machine != nil {
		wd.machine.Close()
	}
	w.WriteHeader(http.StatusNoContent)
}

type widgetView struct {
	ID    string `json:"id"`
	State string `json:"state"`

	Method string `json:"method,omitempty"`
	Role   string `json:"role,omitempty"`
	UID    string `json:"uid,omitempty"`

	Summary  string     `json:"summary,omitempty"`
	Location string     `json:"location,omitempty"`
	Start    *time.Time `json:"start,omitempty"`
	End      *time.Time `json:"end,omitempty"`
	AllDay   bool       `json:"allDay,omitempty"`

	TimeStatus   string `json:"timeStatus,omitempty"`
	IsOutdated   bool   `json:"isOutdated,omitempty"`
	IsReinvite   bool   `json:"isReinvite,omitempty"`
	PartyCrasher bool   `json:"partyCrasher,omitempty"`

	CanAnswer         bool   `json:"canAnswer"`
	AttemptedPartstat string `json:"attemptedPartstat,omitempty"`
	SummaryText       string `json:"summaryText,omitempty"`

	Error     string `json:"error,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
}

func (h *WidgetHandler) view(wd *widget) widgetView {
	view := widgetView{ID: wd.id}

	if wd.err != nil {
		view.State = invite.StateErrored.String()
		view.Error = string(wd.err.Kind)
		view.Retryable = wd.err.Kind.Retryable()
		return view
	}

	mo := wd.machine.Model()
	view.State = mo.State.String()
	view.CanAnswer = mo.CanAnswer()
	view.AttemptedPartstat = string(mo.AttemptedPartstat)
	view.IsOutdated = mo.IsOutdated
	view.IsReinvite = mo.IsReinvite
	view.PartyCrasher = mo.PartyCrasher.IsCrasher()

	if mo.Ics != nil && mo.Ics.Vevent != nil {
		v := mo.Ics.Vevent
		view.Method = string(mo.Ics.Method)
		view.Role = mo.Role.String()
		view.UID = v.UID
		view.Summary = v.Summary
		view.Location = v.Location
		start := v.Start.Time
		view.Start = &start
		if v.End != nil {
			end := v.End.Time
			view.End = &end
		}
		view.AllDay = v.Start.AllDay
		view.TimeStatus = mo.TimeStatus.String()
	}

	if text, ok := summary.Render(&mo, h.userEmail); ok {
		view.SummaryText = text
	}
	if mo.Err != nil {
		view.Error = string(mo.Err.Kind)
		view.Retryable = mo.Err.Kind.Retryable()
	}
	return view
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
