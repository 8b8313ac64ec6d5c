package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
)

func TestIncAndGet(t *testing.T) {
	m := New()
	if got := m.Get(RelayCreated); got != 0 {
		t.Fatalf("expected zero counter, got %d", got)
	}
	m.Inc(RelayCreated)
	m.Inc(RelayCreated)
	m.Inc(CandidateQueued)
	if got := m.Get(RelayCreated); got != 2 {
		t.Fatalf("expected 2, got %d", got)
	}
	if got := m.Get(CandidateQueued); got != 1 {
		t.Fatalf("expected 1, got %d", got)
	}
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	m.Inc(RoomCreated) // must not panic
	if got := m.Get(RoomCreated); got != 0 {
		t.Fatalf("expected 0 from nil metrics, got %d", got)
	}
}

func TestHandlerExposesEvents(t *testing.T) {
	m := New()
	m.Inc(ParticipantJoin)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body := rec.Body.String()
	want := `groupcast_events_total{event="participant_joined"} 1`
	if !strings.Contains(body, want) {
		t.Fatalf("exposition missing %q:\n%s", want, body)
	}
}
