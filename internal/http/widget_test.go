package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jw6ventures/mailvite/internal/backend/inmem"
	"github.com/jw6ventures/mailvite/internal/config"
)

func testConfig() *config.Config {
	cfg := &config.Config{
		ListenAddr:      ":0",
		UserEmail:       "alice@example.com",
		DefaultTimezone: time.UTC,
		Backend:         config.BackendInmem,
		TrustedProxies:  []string{"127.0.0.1"},
	}
	return cfg
}

func requestMail() string {
	ics := strings.Join([]string{
		"BEGIN:VCALENDAR",
		"VERSION:2.0",
		"PRODID:-//Test//EN",
		"METHOD:REQUEST",
		"BEGIN:VEVENT",
		"UID:widget-1",
		"DTSTAMP:20260501T080000Z",
		"DTSTART:20270601T100000Z",
		"DTEND:20270601T110000Z",
		"SUMMARY:Planning",
		"ORGANIZER:mailto:bob@example.com",
		"ATTENDEE;PARTSTAT=NEEDS-ACTION:mailto:alice@example.com",
		"END:VEVENT",
		"END:VCALENDAR",
		"",
	}, "\r\n")

	return strings.Join([]string{
		"From: Bob <bob@example.com>",
		"To: alice@example.com",
		"Subject: Invitation: Planning",
		"Date: Mon, 04 May 2026 10:00:00 +0000",
		"MIME-Version: 1.0",
		`Content-Type: multipart/mixed; boundary="b1"`,
		"",
		"--b1",
		"Content-Type: text/plain; charset=utf-8",
		"",
		"Join us.",
		"--b1",
		"Content-Type: text/calendar; charset=utf-8; method=REQUEST",
		`Content-Disposition: attachment; filename="invite.ics"`,
		"",
		ics,
		"--b1--",
		"",
	}, "\r\n")
}

func postMessage(t *testing.T, handler http.Handler) widgetView {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/messages", strings.NewReader(requestMail()))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("POST /api/messages = %d, body %s", rec.Code, rec.Body.String())
	}
	var body struct {
		Widgets []widgetView `json:"widgets"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(body.Widgets) != 1 {
		t.Fatalf("widgets = %d, want 1", len(body.Widgets))
	}
	return body.Widgets[0]
}

func TestMessageIngestionCreatesWidget(t *testing.T) {
	handler := NewRouter(testConfig(), inmem.New(), nil, nil)
	view := postMessage(t, handler)

	if view.State != "settled" {
		t.Errorf("state = %q, want settled", view.State)
	}
	if view.UID != "widget-1" || view.Method != "REQUEST" {
		t.Errorf("view = %+v", view)
	}
	if !view.CanAnswer {
		t.Error("fresh invitation must be answerable")
	}
	if view.SummaryText != "" {
		t.Errorf("unanswered invitation shows buttons, not a summary (got %q)", view.SummaryText)
	}
}

func TestAcceptIntent(t *testing.T) {
	be := inmem.New()
	handler := NewRouter(testConfig(), be, nil, nil)
	view := postMessage(t, handler)

	req := httptest.NewRequest(http.MethodPost, "/api/invitations/"+view.ID+"/accept", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("accept = %d, body %s", rec.Code, rec.Body.String())
	}

	var after widgetView
	if err := json.Unmarshal(rec.Body.Bytes(), &after); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if after.SummaryText != "You already accepted this invitation." {
		t.Errorf("summaryText = %q", after.SummaryText)
	}

	events, err := be.FindEventsByUID(req.Context(), "widget-1", nil)
	if err != nil || len(events) != 1 {
		t.Fatalf("backend events = %v, %v", events, err)
	}
}

func TestGetUnknownWidget(t *testing.T) {
	handler := NewRouter(testConfig(), inmem.New(), nil, nil)
	req := httptest.NewRequest(http.MethodGet, "/api/invitations/nope", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Errorf("GET unknown = %d, want 404", rec.Code)
	}
}

func TestDeleteWidget(t *testing.T) {
	handler := NewRouter(testConfig(), inmem.New(), nil, nil)
	view := postMessage(t, handler)

	req := httptest.NewRequest(http.MethodDelete, "/api/invitations/"+view.ID, nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("DELETE = %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/invitations/"+view.ID, nil)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Errorf("GET after delete = %d, want 404", rec.Code)
	}
}

type failingDecryptor struct{}

func (failingDecryptor) Decrypt(_ context.Context, _ []byte) ([]byte, error) {
	return nil, errors.New("no key material")
}

func TestDecryptionFailureYieldsErroredWidget(t *testing.T) {
	handler := NewRouter(testConfig(), inmem.New(), nil, failingDecryptor{})

	req := httptest.NewRequest(http.MethodPost, "/api/messages", strings.NewReader(requestMail()))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("POST /api/messages = %d, body %s", rec.Code, rec.Body.String())
	}

	var body struct {
		Widgets []widgetView `json:"widgets"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(body.Widgets) != 1 {
		t.Fatalf("widgets = %d, want 1", len(body.Widgets))
	}
	view := body.Widgets[0]
	if view.State != "errored" {
		t.Errorf("state = %q, want errored", view.State)
	}
	if view.Error != "decryption_error" {
		t.Errorf("error = %q, want decryption_error", view.Error)
	}
	if !view.Retryable {
		t.Error("decryption failures must offer a retry")
	}
}

func TestStaleWidgetsExpire(t *testing.T) {
	h := NewWidgetHandler(inmem.New(), "alice@example.com", nil, time.UTC, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/messages", strings.NewReader(requestMail()))
	rec := httptest.NewRecorder()
	h.CreateFromMessage(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("CreateFromMessage = %d", rec.Code)
	}

	h.mu.Lock()
	if len(h.widgets) != 1 {
		h.mu.Unlock()
		t.Fatalf("widgets = %d, want 1", len(h.widgets))
	}
	for _, wd := range h.widgets {
		wd.lastAccess = time.Now().Add(-2 * widgetTTL)
	}
	h.mu.Unlock()

	h.expireBefore(time.Now().Add(-widgetTTL))

	h.mu.Lock()
	remaining := len(h.widgets)
	h.mu.Unlock()
	if remaining != 0 {
		t.Errorf("widgets after sweep = %d, want 0", remaining)
	}
}

func TestMessageWithoutCalendarPart(t *testing.T) {
	handler := NewRouter(testConfig(), inmem.New(), nil, nil)
	raw := strings.Join([]string{
		"From: Bob <bob@example.com>",
		"To: alice@example.com",
		"Subject: hello",
		"Date: Mon, 04 May 2026 10:00:00 +0000",
		"Content-Type: text/plain; charset=utf-8",
		"",
		"no attachment here",
		"",
	}, "\r\n")
	req := httptest.NewRequest(http.MethodPost, "/api/messages", strings.NewReader(raw))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("POST plain mail = %d, want 400", rec.Code)
	}
}
