package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/loseyco/revshareracing-sub002/internal/models"
	"github.com/loseyco/revshareracing-sub002/internal/monitoring"
	"github.com/loseyco/revshareracing-sub002/internal/storage"
	"github.com/loseyco/revshareracing-sub002/pkg/crypto"
)

// ========== Agent handlers ==========
//
// Agents authenticate with the X-Rig-ID and X-API-Key headers. They have no
// inbound connectivity: every interaction is agent-initiated, including
// command delivery, which happens by polling.

// agentAuthMiddleware authenticates rig agents by API key
func (s *RESTServer) agentAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rigIDHeader := r.Header.Get("X-Rig-ID")
		apiKey := r.Header.Get("X-API-Key")
		if rigIDHeader == "" || apiKey == "" {
			s.respondError(w, http.StatusUnauthorized, "missing agent credentials")
			return
		}

		rigID, err := uuid.Parse(rigIDHeader)
		if err != nil {
			s.respondError(w, http.StatusUnauthorized, "invalid rig id")
			return
		}

		rig, err := s.store.GetRig(r.Context(), rigID)
		if err != nil {
			s.respondError(w, http.StatusUnauthorized, "invalid agent credentials")
			return
		}

		if !crypto.VerifyAPIKey(apiKey, rig.APIKeyHash) {
			s.respondError(w, http.StatusUnauthorized, "invalid agent credentials")
			return
		}

		ctx := context.WithValue(r.Context(), rigKey, rig)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// rigFrom extracts the authenticated rig from the request context
func rigFrom(r *http.Request) *models.Rig {
	rig, _ := r.Context().Value(rigKey).(*models.Rig)
	return rig
}

// HandleAgentHeartbeat records agent liveness and hardware readiness
func (s *RESTServer) HandleAgentHeartbeat(w http.ResponseWriter, r *http.Request) {
	rig := rigFrom(r)
	if rig == nil {
		s.respondError(w, http.StatusUnauthorized, "missing rig context")
		return
	}

	var req struct {
		HardwareReady *bool `json:"hardware_ready,omitempty"`
	}

	// An empty body is a plain liveness ping
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		req.HardwareReady = nil
	}

	if err := s.store.TouchRigHeartbeat(r.Context(), rig.ID, req.HardwareReady); err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"time": time.Now(),
	})
}

// HandleAgentTelemetry ingests a motion sample
func (s *RESTServer) HandleAgentTelemetry(w http.ResponseWriter, r *http.Request) {
	rig := rigFrom(r)
	if rig == nil {
		s.respondError(w, http.StatusUnauthorized, "missing rig context")
		return
	}

	var req struct {
		SpeedKPH   float64    `json:"speed_kph"`
		Moving     bool       `json:"moving"`
		RecordedAt *time.Time `json:"recorded_at,omitempty"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	recordedAt := time.Now()
	if req.RecordedAt != nil {
		recordedAt = *req.RecordedAt
	}

	sample := &models.TelemetrySample{
		RigID:      rig.ID,
		SpeedKPH:   req.SpeedKPH,
		Moving:     req.Moving,
		RecordedAt: recordedAt,
	}

	if err := s.store.CreateTelemetrySample(r.Context(), sample); err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if err := s.coordinator.HandleTelemetry(r.Context(), rig.ID, sample); err != nil {
		log.Error().Err(err).Str("rigId", rig.ID.String()).Msg("Failed to process telemetry")
	}

	w.WriteHeader(http.StatusNoContent)
}

// HandleAgentPollCommands returns pending commands, oldest first. Polling
// doubles as a liveness signal.
func (s *RESTServer) HandleAgentPollCommands(w http.ResponseWriter, r *http.Request) {
	rig := rigFrom(r)
	if rig == nil {
		s.respondError(w, http.StatusUnauthorized, "missing rig context")
		return
	}

	monitoring.CommandPoll()

	if err := s.store.TouchRigHeartbeat(r.Context(), rig.ID, nil); err != nil {
		log.Error().Err(err).Str("rigId", rig.ID.String()).Msg("Failed to record heartbeat")
	}

	commands, err := s.store.GetPendingCommands(r.Context(), rig.ID, s.config.Session.CommandPollBatch)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"commands": commands,
	})
}

// HandleAgentCompleteCommand reports a command outcome. The transition to
// a terminal status happens exactly once; a repeated report is a conflict.
func (s *RESTServer) HandleAgentCompleteCommand(w http.ResponseWriter, r *http.Request) {
	rig := rigFrom(r)
	if rig == nil {
		s.respondError(w, http.StatusUnauthorized, "missing rig context")
		return
	}

	commandID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid command id")
		return
	}

	var req struct {
		Status string           `json:"status" validate:"required"`
		Result models.Variables `json:"result,omitempty"`
		Error  string           `json:"error,omitempty"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	status := models.CommandStatus(req.Status)
	if status != models.CommandStatusCompleted && status != models.CommandStatusFailed {
		s.respondError(w, http.StatusBadRequest, "status must be completed or failed")
		return
	}

	cmd, err := s.store.CompleteCommand(r.Context(), commandID, rig.ID, status, req.Result, req.Error)
	if err != nil {
		if err == storage.ErrNotFound {
			s.respondError(w, http.StatusNotFound, "command not found")
			return
		}
		if err == storage.ErrConflict {
			s.respondError(w, http.StatusConflict, "command already completed")
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if err := s.coordinator.HandleCommandResult(r.Context(), cmd); err != nil {
		log.Error().Err(err).Str("commandId", cmd.ID.String()).Msg("Failed to process command result")
	}

	s.respondJSON(w, http.StatusOK, cmd)
}
