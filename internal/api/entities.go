package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/emberhaus/ember-core/internal/entity"
)

// managerFor resolves the lifecycle manager owning an entity ID.
func (s *Server) managerFor(entityID string) (*entity.Manager, bool) {
	domain, _ := entity.SplitEntityID(entityID)
	m, ok := s.managers[domain]
	return m, ok
}

// handleListEntities returns all registered entities, optionally filtered
// by the ?domain= query parameter.
//
// GET /api/v1/entities
// GET /api/v1/entities?domain=sensor
func (s *Server) handleListEntities(w http.ResponseWriter, r *http.Request) {
	domain := r.URL.Query().Get("domain")
	if domain != "" {
		if _, ok := s.managers[domain]; !ok {
			writeNotFound(w, "unknown domain: "+domain)
			return
		}
	}

	entities := make([]entity.Snapshot, 0)
	for _, d := range s.domains {
		if domain != "" && d != domain {
			continue
		}
		entities = append(entities, s.managers[d].Entities()...)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"entities": entities,
		"count":    len(entities),
	})
}

// handleGetEntity returns a single entity snapshot.
//
// GET /api/v1/entities/{id}
func (s *Server) handleGetEntity(w http.ResponseWriter, r *http.Request) {
	entityID := chi.URLParam(r, "id")

	m, ok := s.managerFor(entityID)
	if !ok {
		writeNotFound(w, "entity not found: "+entityID)
		return
	}

	snap, ok := m.Get(entityID)
	if !ok {
		writeNotFound(w, "entity not found: "+entityID)
		return
	}

	writeJSON(w, http.StatusOK, snap)
}

// handleUpdateEntity forces an immediate refresh of a single entity,
// outside its normal polling cadence.
//
// POST /api/v1/entities/{id}/update
func (s *Server) handleUpdateEntity(w http.ResponseWriter, r *http.Request) {
	entityID := chi.URLParam(r, "id")

	m, ok := s.managerFor(entityID)
	if !ok {
		writeNotFound(w, "entity not found: "+entityID)
		return
	}

	if err := m.UpdateEntity(r.Context(), entityID); err != nil {
		switch {
		case errors.Is(err, entity.ErrEntityNotFound):
			writeNotFound(w, "entity not found: "+entityID)
		case errors.Is(err, entity.ErrManagerStopped):
			writeError(w, http.StatusServiceUnavailable, ErrCodeInternal, "entity manager is shut down")
		default:
			// Update ran but the entity reported a failure. The snapshot
			// below still reflects the projected (unavailable) state.
			writeError(w, http.StatusBadGateway, ErrCodeUpstream, err.Error())
		}
		return
	}

	snap, ok := m.Get(entityID)
	if !ok {
		writeNotFound(w, "entity not found: "+entityID)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// handleDeleteEntity removes an entity from its manager and clears its
// projected state.
//
// DELETE /api/v1/entities/{id}
func (s *Server) handleDeleteEntity(w http.ResponseWriter, r *http.Request) {
	entityID := chi.URLParam(r, "id")

	m, ok := s.managerFor(entityID)
	if !ok {
		writeNotFound(w, "entity not found: "+entityID)
		return
	}
	if _, ok := m.Get(entityID); !ok {
		writeNotFound(w, "entity not found: "+entityID)
		return
	}

	if err := m.RemoveEntity(r.Context(), entityID); err != nil {
		writeInternalError(w, "failed to remove entity")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
