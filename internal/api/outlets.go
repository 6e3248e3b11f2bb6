package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-logic-pdu/internal/accessory"
	"github.com/nerrad567/gray-logic-pdu/internal/audit"
	"github.com/nerrad567/gray-logic-pdu/internal/unifi"
)

// SetStateRequest is the body of PUT /outlets/{id}/state.
type SetStateRequest struct {
	On *bool `json:"on"`
}

// TelemetryResponse is the body of GET /outlets/{id}/telemetry.
type TelemetryResponse struct {
	DeviceID  string          `json:"device_id"`
	Telemetry unifi.Telemetry `json:"telemetry"`
	At        time.Time       `json:"at"`

	// Source is "live" for a reading taken this run, "stored" for one
	// loaded from the cache.
	Source string `json:"source"`
}

// handleListOutlets returns every exposed outlet.
func (s *Server) handleListOutlets(w http.ResponseWriter, _ *http.Request) {
	accessories := s.directory.Accessories()
	outlets := make([]accessory.Snapshot, len(accessories))
	for i, a := range accessories {
		outlets[i] = a.Snapshot()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"outlets": outlets,
		"count":   len(outlets),
	})
}

// handleGetOutlet returns the cached snapshot of one outlet.
func (s *Server) handleGetOutlet(w http.ResponseWriter, r *http.Request) {
	a, err := s.lookup(r)
	if err != nil {
		writeOutletError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a.Snapshot())
}

// handleGetOutletState reads the outlet from the controller.
func (s *Server) handleGetOutletState(w http.ResponseWriter, r *http.Request) {
	a, err := s.lookup(r)
	if err != nil {
		writeOutletError(w, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), outletTimeout)
	defer cancel()

	st, err := a.Read(ctx)
	if err != nil {
		writeOutletError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"device_id": a.ID().String(),
		"state":     st,
	})
}

// handleSetOutletState power-cycles the outlet. The confirmed state
// follows on MQTT once the controller reports it.
func (s *Server) handleSetOutletState(w http.ResponseWriter, r *http.Request) {
	a, err := s.lookup(r)
	if err != nil {
		writeOutletError(w, err)
		return
	}

	var req SetStateRequest
	if decodeErr := json.NewDecoder(r.Body).Decode(&req); decodeErr != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.On == nil {
		writeBadRequest(w, "on field is required")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), outletTimeout)
	defer cancel()

	entry := audit.Entry{
		Action:     audit.ActionSwitch,
		EntityType: audit.EntityOutlet,
		EntityID:   a.ID().String(),
		Outcome:    audit.OutcomeAccepted,
		Details:    map[string]any{"requested_on": *req.On},
	}
	if err := a.Write(ctx, *req.On); err != nil {
		entry.Outcome = audit.OutcomeFailed
		entry.Details["error"] = err.Error()
		s.recordAudit(r, entry)
		writeOutletError(w, err)
		return
	}
	s.recordAudit(r, entry)
	writeJSON(w, http.StatusAccepted, map[string]any{
		"status":       "accepted",
		"device_id":    a.ID().String(),
		"requested_on": *req.On,
	})
}

// handleGetOutletTelemetry returns the latest reading of a metered outlet,
// falling back to the persisted one. Unmetered outlets, and metered ones
// without any reading yet, answer 204.
func (s *Server) handleGetOutletTelemetry(w http.ResponseWriter, r *http.Request) {
	a, err := s.lookup(r)
	if err != nil {
		writeOutletError(w, err)
		return
	}
	if !a.Metered() {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if st := a.State(); st.Telemetry != nil {
		writeJSON(w, http.StatusOK, TelemetryResponse{
			DeviceID:  a.ID().String(),
			Telemetry: *st.Telemetry,
			At:        *st.TelemetryAt,
			Source:    "live",
		})
		return
	}

	if s.telemetry != nil {
		t, at, ok, err := s.telemetry.StoredTelemetry(r.Context(), a.ID())
		if err != nil {
			s.logger.Error("loading stored telemetry failed", "id", a.ID(), "error", err)
			writeInternalError(w, "failed to load telemetry")
			return
		}
		if ok {
			writeJSON(w, http.StatusOK, TelemetryResponse{
				DeviceID:  a.ID().String(),
				Telemetry: t,
				At:        at,
				Source:    "stored",
			})
			return
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleDiscover runs one discovery pass.
func (s *Server) handleDiscover(w http.ResponseWriter, r *http.Request) {
	if s.rediscover == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "discovery not available")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), outletTimeout)
	defer cancel()

	entry := audit.Entry{
		Action:     audit.ActionDiscovery,
		EntityType: audit.EntityBridge,
		Outcome:    audit.OutcomeAccepted,
	}
	if err := s.rediscover(ctx); err != nil {
		entry.Outcome = audit.OutcomeFailed
		entry.Details = map[string]any{"error": err.Error()}
		s.recordAudit(r, entry)
		writeOutletError(w, err)
		return
	}
	count := len(s.directory.Accessories())
	entry.Details = map[string]any{"count": count}
	s.recordAudit(r, entry)
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"count":  count,
	})
}

// lookup resolves the {id} URL parameter.
func (s *Server) lookup(r *http.Request) (*accessory.Accessory, error) {
	id, err := accessory.ParseIdentity(chi.URLParam(r, "id"))
	if err != nil {
		return nil, err
	}
	return s.directory.Lookup(id)
}
