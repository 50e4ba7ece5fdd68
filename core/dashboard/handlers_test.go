package dashboard

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/pluginforge/core/pluginapi"
	"github.com/pluginforge/core/scheduler"
)

func newTestServer() *Server {
	sched := scheduler.New(scheduler.Config{TicksPerSecond: 1000}, pluginapi.SystemClock{})
	return NewServer(sched, nil)
}

func TestHandleMetricsReturnsJSON(t *testing.T) {
	s := newTestServer()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/metrics", nil)
	rec := httptest.NewRecorder()
	s.Mux().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Header().Get("Content-Type"), "application/json") {
		t.Fatalf("content-type = %q, want application/json", rec.Header().Get("Content-Type"))
	}
}

func TestHandleAdmissionSetsMode(t *testing.T) {
	s := newTestServer()
	body := strings.NewReader(`{"mode":"drain"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/admission", body)
	rec := httptest.NewRecorder()
	s.Mux().ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}
	if s.sched.GetMetrics().AdmissionMode != "drain" {
		t.Fatalf("admission mode = %q, want drain", s.sched.GetMetrics().AdmissionMode)
	}
}

func TestHandleAdmissionRejectsUnknownMode(t *testing.T) {
	s := newTestServer()
	body := strings.NewReader(`{"mode":"bogus"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/admission", body)
	rec := httptest.NewRecorder()
	s.Mux().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestHandleCancelTaskRequiresHandleParam(t *testing.T) {
	s := newTestServer()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/cancel/task", nil)
	rec := httptest.NewRecorder()
	s.Mux().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestHandleCancelOwnerRejectsGet(t *testing.T) {
	s := newTestServer()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/cancel/owner?owner=1", nil)
	rec := httptest.NewRecorder()
	s.Mux().ServeHTTP(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", rec.Code)
	}
}
