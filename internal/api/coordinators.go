package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/emberhaus/ember-core/internal/coordinator"
)

// coordinatorStatus is the API view of a coordinator's health.
type coordinatorStatus struct {
	ID                  string `json:"id"`
	Name                string `json:"name"`
	Interval            string `json:"interval"`
	HasData             bool   `json:"has_data"`
	LastUpdateSuccess   bool   `json:"last_update_success"`
	ConsecutiveFailures int    `json:"consecutive_failures"`
	LastError           string `json:"last_error,omitempty"`
	LastUpdated         string `json:"last_updated,omitempty"`
}

func statusOf(c *coordinator.Coordinator) coordinatorStatus {
	st := coordinatorStatus{
		ID:                  c.ID(),
		Name:                c.Name(),
		Interval:            c.Interval().String(),
		HasData:             c.HasData(),
		LastUpdateSuccess:   c.LastUpdateSuccess(),
		ConsecutiveFailures: c.ConsecutiveFailures(),
	}
	if err := c.LastError(); err != nil {
		st.LastError = err.Error()
	}
	if t := c.LastUpdated(); !t.IsZero() {
		st.LastUpdated = t.UTC().Format(time.RFC3339)
	}
	return st
}

// findCoordinator resolves a coordinator by name.
func (s *Server) findCoordinator(name string) (*coordinator.Coordinator, bool) {
	for _, c := range s.coordinators {
		if c.Name() == name {
			return c, true
		}
	}
	return nil, false
}

// handleListCoordinators returns the status of every registered coordinator.
//
// GET /api/v1/coordinators
func (s *Server) handleListCoordinators(w http.ResponseWriter, _ *http.Request) {
	statuses := make([]coordinatorStatus, 0, len(s.coordinators))
	for _, c := range s.coordinators {
		statuses = append(statuses, statusOf(c))
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"coordinators": statuses,
		"count":        len(statuses),
	})
}

// handleRefreshCoordinator forces an immediate fetch on a coordinator.
// Concurrent callers share the in-flight fetch rather than stacking requests.
//
// POST /api/v1/coordinators/{name}/refresh
func (s *Server) handleRefreshCoordinator(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	c, ok := s.findCoordinator(name)
	if !ok {
		writeNotFound(w, "coordinator not found: "+name)
		return
	}

	if err := c.Refresh(r.Context()); err != nil {
		if errors.Is(err, coordinator.ErrShutDown) {
			writeError(w, http.StatusServiceUnavailable, ErrCodeInternal, "coordinator is shut down")
			return
		}
		// The fetch failed; the status body carries the failure detail.
		writeJSON(w, http.StatusBadGateway, statusOf(c))
		return
	}

	writeJSON(w, http.StatusOK, statusOf(c))
}
