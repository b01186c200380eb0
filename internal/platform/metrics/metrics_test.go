package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func scrape(t *testing.T, h http.Handler) string {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("scrape status %d", rec.Code)
	}
	body, _ := io.ReadAll(rec.Body)
	return string(body)
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.IncRoutesResolved()
	m.IncResolveFailures()
	m.IncSegmentsLoaded("local")
	m.IncSegmentsLoaded("local")
	m.IncSegmentLoadFailures()

	called := false
	body := scrape(t, m.Handler(func() {
		called = true
		m.SetActiveSegments(4)
	}))
	if !called {
		t.Error("updateGauges was not called")
	}
	for _, want := range []string{
		"replay_routes_resolved_total 1",
		"replay_route_resolve_failures_total 1",
		`replay_segments_loaded_total{source="local"} 2`,
		"replay_segment_load_failures_total 1",
		"replay_active_segments 4",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("scrape missing %q", want)
		}
	}
}

func TestRequestMiddleware(t *testing.T) {
	m := New()
	mw := RequestMiddleware(m)
	ok := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	bad := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	ok.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	bad.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	body := scrape(t, m.Handler(nil))
	if !strings.Contains(body, "replay_requests_total 2") {
		t.Error("expected 2 requests")
	}
	if !strings.Contains(body, "replay_errors_total 1") {
		t.Error("expected 1 error")
	}
}

func TestRequestMiddleware_skipsScrapes(t *testing.T) {
	m := New()
	h := RequestMiddleware(m)(m.Handler(nil))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if body := scrape(t, m.Handler(nil)); !strings.Contains(body, "replay_requests_total 0") {
		t.Error("scrapes should not be counted as requests")
	}
}
