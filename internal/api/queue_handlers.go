package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/loseyco/revshareracing-sub002/internal/auth"
)

// ========== Queue and session handlers ==========

// rigIDParam parses the rig ID path parameter
func (s *RESTServer) rigIDParam(w http.ResponseWriter, r *http.Request) (uuid.UUID, *auth.Claims, bool) {
	claims := claimsFrom(r)
	if claims == nil {
		s.respondError(w, http.StatusUnauthorized, "missing claims")
		return uuid.Nil, nil, false
	}

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid rig id")
		return uuid.Nil, nil, false
	}

	return id, claims, true
}

// HandleListQueue lists the rig's queue
func (s *RESTServer) HandleListQueue(w http.ResponseWriter, r *http.Request) {
	rigID, _, ok := s.rigIDParam(w, r)
	if !ok {
		return
	}

	entries, err := s.store.ListQueueEntries(r.Context(), rigID)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"queue": entries,
		"total": len(entries),
	})
}

// HandleJoinQueue appends the authenticated account to the rig's queue
func (s *RESTServer) HandleJoinQueue(w http.ResponseWriter, r *http.Request) {
	rigID, claims, ok := s.rigIDParam(w, r)
	if !ok {
		return
	}

	entry, err := s.coordinator.JoinQueue(r.Context(), rigID, claims.UserID)
	if err != nil {
		s.respondCoordinationError(w, err)
		return
	}

	s.respondJSON(w, http.StatusCreated, entry)
}

// HandleLeaveQueue removes the authenticated account from the rig's queue
func (s *RESTServer) HandleLeaveQueue(w http.ResponseWriter, r *http.Request) {
	rigID, claims, ok := s.rigIDParam(w, r)
	if !ok {
		return
	}

	if _, err := s.coordinator.LeaveQueue(r.Context(), rigID, claims.UserID); err != nil {
		s.respondCoordinationError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// HandleActivateSession starts a session for the account at the front of
// the queue
func (s *RESTServer) HandleActivateSession(w http.ResponseWriter, r *http.Request) {
	rigID, claims, ok := s.rigIDParam(w, r)
	if !ok {
		return
	}

	state, err := s.coordinator.Activate(r.Context(), rigID, claims.UserID)
	if err != nil {
		s.respondCoordinationError(w, err)
		return
	}

	s.respondJSON(w, http.StatusCreated, map[string]interface{}{
		"session":   state,
		"remaining": int(state.Remaining(time.Now()).Seconds()),
	})
}

// HandleCompleteSession ends the rig's current session. Only the session
// holder or an admin may end it.
func (s *RESTServer) HandleCompleteSession(w http.ResponseWriter, r *http.Request) {
	rigID, claims, ok := s.rigIDParam(w, r)
	if !ok {
		return
	}

	if !claims.IsAdmin {
		entry, err := s.store.GetActiveQueueEntry(r.Context(), rigID)
		if err == nil && entry.AccountID != claims.UserID {
			s.respondError(w, http.StatusForbidden, "not the session holder")
			return
		}
	}

	completed, err := s.coordinator.Complete(r.Context(), rigID, "ended by holder", true)
	if err != nil {
		s.respondCoordinationError(w, err)
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"completed": completed,
	})
}
