package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/jw6ventures/mailvite/internal/itip"
)

func TestObserveBackendLatencyRecords(t *testing.T) {
	ctx := context.WithValue(context.Background(), routeLabelKey, "/api/invitations/{id}")
	ObserveBackendLatency(ctx, "find_events_by_uid", time.Now())

	if got := testutil.CollectAndCount(backendLatency); got == 0 {
		t.Error("backend latency observation was not collected")
	}
}

func TestObserveBackendLatencyWithoutRoute(t *testing.T) {
	// Calls outside an HTTP request still record, under the unknown route.
	ObserveBackendLatency(context.Background(), "list_calendars", time.Now())

	h, err := backendLatency.GetMetricWithLabelValues("list_calendars", "unknown")
	if err != nil || h == nil {
		t.Fatalf("expected a series for the unknown route, got %v", err)
	}
}

func TestCountInvitationFoldsImports(t *testing.T) {
	before := testutil.ToFloat64(invitationsTotal.WithLabelValues("PUBLISH"))
	CountInvitation("")
	CountInvitation(itip.MethodPublish)
	after := testutil.ToFloat64(invitationsTotal.WithLabelValues("PUBLISH"))

	if after != before+2 {
		t.Errorf("PUBLISH count = %v, want %v", after, before+2)
	}
}

func TestReportInviteError(t *testing.T) {
	before := testutil.ToFloat64(inviteErrorsTotal.WithLabelValues(string(itip.KindFetching)))
	ReportInviteError(itip.NewError(itip.KindFetching, "deadbeef"))
	ReportInviteError(nil)
	after := testutil.ToFloat64(inviteErrorsTotal.WithLabelValues(string(itip.KindFetching)))

	if after != before+1 {
		t.Errorf("fetching error count = %v, want %v", after, before+1)
	}
}
