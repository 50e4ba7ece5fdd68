package dashboard

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/pluginforge/core/events"
	"github.com/pluginforge/core/pluginapi"
	"github.com/pluginforge/core/scheduler"
)

// Server wires the scheduler and event dispatcher into an HTTP mux,
// grounded on control_plane/api_dashboard.go's handler shape, narrowed to
// this core's own metrics (no tenancy, leadership, or store concerns).
type Server struct {
	sched *scheduler.Scheduler
	disp  *events.Dispatcher
	hub   *Hub
}

// NewServer constructs a Server. disp may be nil if the host has no event
// dispatcher wired.
func NewServer(sched *scheduler.Scheduler, disp *events.Dispatcher) *Server {
	return &Server{sched: sched, disp: disp, hub: NewHub(sched)}
}

// Hub returns the underlying WebSocket hub so the caller can Run it
// alongside the HTTP server.
func (s *Server) Hub() *Hub { return s.hub }

// Mux builds the dashboard's full route table with no auth gating, handy
// for tests and for embedding behind a caller-supplied auth layer.
func (s *Server) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/metrics", s.handleMetrics)
	mux.HandleFunc("/api/v1/admission", s.handleAdmission)
	mux.HandleFunc("/api/v1/cancel/owner", s.handleCancelOwner)
	mux.HandleFunc("/api/v1/cancel/task", s.handleCancelTask)
	mux.HandleFunc("/ws", s.hub.ServeWS)
	return mux
}

// MetricsHandler serves the scheduler metrics snapshot.
func (s *Server) MetricsHandler() http.HandlerFunc { return s.handleMetrics }

// AdmissionHandler sets the scheduler's admission mode. Callers should gate
// this behind an admin-only auth check (see middleware.RequireRole).
func (s *Server) AdmissionHandler() http.HandlerFunc { return s.handleAdmission }

// CancelOwnerHandler bulk-cancels an owner's tasks and event registrations.
// Callers should gate this behind an admin-only auth check.
func (s *Server) CancelOwnerHandler() http.HandlerFunc { return s.handleCancelOwner }

// CancelTaskHandler cancels a single task by handle. Callers should gate
// this behind an admin-only auth check.
func (s *Server) CancelTaskHandler() http.HandlerFunc { return s.handleCancelTask }

// WebSocketHandler upgrades and registers a dashboard streaming client.
func (s *Server) WebSocketHandler() http.HandlerFunc { return s.hub.ServeWS }

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.sched.GetMetrics())
}

type admissionRequest struct {
	Mode string `json:"mode"`
}

// handleAdmission sets the scheduler's AdmissionMode (normal/drain/freeze).
func (s *Server) handleAdmission(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req admissionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	mode, ok := parseAdmissionMode(req.Mode)
	if !ok {
		http.Error(w, "unknown admission mode", http.StatusBadRequest)
		return
	}
	s.sched.SetAdmissionMode(mode)
	w.WriteHeader(http.StatusNoContent)
}

func parseAdmissionMode(s string) (scheduler.AdmissionMode, bool) {
	switch s {
	case "normal":
		return scheduler.AdmissionNormal, true
	case "drain":
		return scheduler.AdmissionDrain, true
	case "freeze":
		return scheduler.AdmissionFreeze, true
	default:
		return scheduler.AdmissionNormal, false
	}
}

// handleCancelOwner cancels every task (and, if a dispatcher is wired,
// every event registration) owned by the given owner id, enforcing
// spec.md §4.4's lifecycle-coupling order: scheduler.cancel before
// events.remove_plugin.
func (s *Server) handleCancelOwner(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	owner, err := parseOwnerParam(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.sched.Cancel(owner)
	if s.disp != nil {
		s.disp.RemovePlugin(owner)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCancelTask(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	raw := r.URL.Query().Get("handle")
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		http.Error(w, "invalid or missing handle parameter", http.StatusBadRequest)
		return
	}
	s.sched.CancelTask(scheduler.TaskHandle(v))
	w.WriteHeader(http.StatusNoContent)
}

func parseOwnerParam(r *http.Request) (pluginapi.OwnerID, error) {
	raw := r.URL.Query().Get("owner")
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, err
	}
	return pluginapi.OwnerID(v), nil
}
