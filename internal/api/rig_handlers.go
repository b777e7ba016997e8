package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/loseyco/revshareracing-sub002/internal/models"
	"github.com/loseyco/revshareracing-sub002/internal/storage"
	"github.com/loseyco/revshareracing-sub002/pkg/crypto"
)

// ========== Rig handlers ==========

// HandleListRigs lists rigs
func (s *RESTServer) HandleListRigs(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit == 0 {
		limit = 20
	}
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	rigs, total, err := s.store.ListRigs(ctx, limit, offset)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"rigs":  rigs,
		"total": total,
	})
}

// HandleCreateRig registers a rig. The agent API key is generated here and
// returned exactly once; only its hash is stored.
func (s *RESTServer) HandleCreateRig(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r)
	if claims == nil || !claims.IsAdmin {
		s.respondError(w, http.StatusForbidden, "admin access required")
		return
	}

	var req struct {
		Name        string `json:"name" validate:"required,min=3,max=100"`
		Description string `json:"description"`
		Location    string `json:"location"`
		OwnerID     string `json:"owner_id"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := s.validator.Validate(req); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	rig := &models.Rig{
		Name:        req.Name,
		Description: req.Description,
		Location:    req.Location,
	}

	if req.OwnerID != "" {
		ownerID, err := uuid.Parse(req.OwnerID)
		if err != nil {
			s.respondError(w, http.StatusBadRequest, "invalid owner id")
			return
		}
		rig.OwnerID = &ownerID
		rig.Claimed = true
	}

	apiKey, hash, err := crypto.GenerateAPIKey()
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, "failed to generate API key")
		return
	}
	rig.APIKeyHash = hash

	if err := s.store.CreateRig(r.Context(), rig); err != nil {
		if err == storage.ErrDuplicateKey {
			s.respondError(w, http.StatusConflict, "rig already exists")
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.respondJSON(w, http.StatusCreated, map[string]interface{}{
		"rig":     rig,
		"api_key": apiKey,
	})
}

// HandleGetRig gets a rig with its live queue
func (s *RESTServer) HandleGetRig(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid rig id")
		return
	}

	rig, err := s.store.GetRig(ctx, id)
	if err != nil {
		if err == storage.ErrNotFound {
			s.respondError(w, http.StatusNotFound, "rig not found")
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	entries, err := s.store.ListQueueEntries(ctx, id)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"rig":    rig,
		"queue":  entries,
		"online": s.coordinator.Presence().Online(rig, time.Now()),
	})
}

// HandleUpdateRig updates a rig
func (s *RESTServer) HandleUpdateRig(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	claims := claimsFrom(r)
	if claims == nil || !claims.IsAdmin {
		s.respondError(w, http.StatusForbidden, "admin access required")
		return
	}

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid rig id")
		return
	}

	var req struct {
		Name        string `json:"name" validate:"required,min=3,max=100"`
		Description string `json:"description"`
		Location    string `json:"location"`
		OwnerID     string `json:"owner_id"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := s.validator.Validate(req); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	rig, err := s.store.GetRig(ctx, id)
	if err != nil {
		if err == storage.ErrNotFound {
			s.respondError(w, http.StatusNotFound, "rig not found")
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	rig.Name = req.Name
	rig.Description = req.Description
	rig.Location = req.Location

	if req.OwnerID != "" {
		ownerID, err := uuid.Parse(req.OwnerID)
		if err != nil {
			s.respondError(w, http.StatusBadRequest, "invalid owner id")
			return
		}
		rig.OwnerID = &ownerID
		rig.Claimed = true
	} else {
		rig.OwnerID = nil
		rig.Claimed = false
	}

	if err := s.store.UpdateRig(ctx, rig); err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.respondJSON(w, http.StatusOK, rig)
}

// HandleDeleteRig deletes a rig
func (s *RESTServer) HandleDeleteRig(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	claims := claimsFrom(r)
	if claims == nil || !claims.IsAdmin {
		s.respondError(w, http.StatusForbidden, "admin access required")
		return
	}

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid rig id")
		return
	}

	if err := s.store.DeleteRig(ctx, id); err != nil {
		if err == storage.ErrNotFound {
			s.respondError(w, http.StatusNotFound, "rig not found")
			return
		}
		if err == storage.ErrConflict {
			s.respondError(w, http.StatusConflict, "rig is claimed, release it first")
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// HandleIssueAPIKey rotates the rig's agent API key
func (s *RESTServer) HandleIssueAPIKey(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	claims := claimsFrom(r)
	if claims == nil || !claims.IsAdmin {
		s.respondError(w, http.StatusForbidden, "admin access required")
		return
	}

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid rig id")
		return
	}

	rig, err := s.store.GetRig(ctx, id)
	if err != nil {
		if err == storage.ErrNotFound {
			s.respondError(w, http.StatusNotFound, "rig not found")
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	apiKey, hash, err := crypto.GenerateAPIKey()
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, "failed to generate API key")
		return
	}

	rig.APIKeyHash = hash
	if err := s.store.UpdateRig(ctx, rig); err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"rig_id":  rig.ID,
		"api_key": apiKey,
	})
}

// HandleListRigTelemetry lists recent telemetry for a rig
func (s *RESTServer) HandleListRigTelemetry(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid rig id")
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit == 0 {
		limit = 50
	}

	samples, err := s.store.ListRecentTelemetry(ctx, id, limit)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"samples": samples,
	})
}
