package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/clawinfra/applytrack/internal/actions"
	"github.com/clawinfra/applytrack/internal/offline"
)

type statusResponse struct {
	offline.Status
	UptimeSeconds float64 `json:"uptimeSeconds"`
}

func (s *Server) status() statusResponse {
	return statusResponse{
		Status:        s.queue.Status(),
		UptimeSeconds: time.Since(s.startedAt).Seconds(),
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.status())
}

func (s *Server) handleListActions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.queue.Snapshot())
}

// handleEnqueue validates the body against the draft schema and queues it.
func (s *Server) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := validateDraftJSON(body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var draft actions.Draft
	if err := json.Unmarshal(body, &draft); err != nil {
		writeError(w, http.StatusBadRequest, "invalid draft: "+err.Error())
		return
	}

	id, err := s.queue.Enqueue(r.Context(), draft)
	if err != nil {
		if errors.Is(err, actions.ErrInvalidDraft) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.Error("enqueue failed", "error", err)
		writeError(w, http.StatusInternalServerError, "enqueue failed")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

func (s *Server) handleRemove(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !s.queue.Remove(r.Context(), id) {
		writeError(w, http.StatusNotFound, "action not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	s.queue.Clear(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

// handleSync runs one sync cycle and returns its per-action results. An
// empty list means the cycle did not run (offline, busy, or nothing queued).
// handleSync runs one cycle to completion even if the caller hangs up.
func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	results := s.queue.SyncNow(context.WithoutCancel(r.Context()))
	writeJSON(w, http.StatusOK, results)
}

type connectivityRequest struct {
	Online *bool `json:"online"`
}

func (s *Server) handleConnectivity(w http.ResponseWriter, r *http.Request) {
	var req connectivityRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil || req.Online == nil {
		writeError(w, http.StatusBadRequest, `body must be {"online": true|false}`)
		return
	}
	s.queue.SetOnline(*req.Online)
	writeJSON(w, http.StatusOK, s.status())
}

type visibilityRequest struct {
	Visible *bool `json:"visible"`
}

func (s *Server) handleVisibility(w http.ResponseWriter, r *http.Request) {
	var req visibilityRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil || req.Visible == nil {
		writeError(w, http.StatusBadRequest, `body must be {"visible": true|false}`)
		return
	}
	s.queue.SetVisible(*req.Visible)
	writeJSON(w, http.StatusOK, s.status())
}
