package server

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/CLIAIMONITOR/internal/events"
	"github.com/CLIAIMONITOR/internal/store"
	"github.com/CLIAIMONITOR/internal/types"
)

// routeDashboard mounts the read-mostly overview endpoints plus the
// system-wide pause/resume and conference-info controls (spec.md §4.7,
// §6.3).
func (s *Server) routeDashboard(r *mux.Router) {
	readRoute(r, "/state", http.MethodGet, s.handleGetState)
	writeRoute(r, s, "/pause", http.MethodPost, types.PermissionManageChallenge, s.handlePause)
	writeRoute(r, s, "/resume", http.MethodPost, types.PermissionManageChallenge, s.handleResume)
	writeRoute(r, s, "/conference", http.MethodPut, types.PermissionManageChallenge, s.handleSetConference)
	readRoute(r, "/transmissions", http.MethodGet, s.handleListTransmissions)
	readRoute(r, "/push", http.MethodGet, s.handleOperatorPush)
}

func (s *Server) handleGetState(w http.ResponseWriter, r *http.Request) {
	var state *types.SystemState
	err := s.store.WithRead(r.Context(), func(tx *store.Tx) error {
		var err error
		state, err = tx.GetSystemState()
		return err
	})
	if err != nil {
		writeStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, state)
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	err := s.store.WithWrite(r.Context(), func(tx *store.Tx) error {
		return tx.SetPaused(true)
	})
	if err != nil {
		writeStoreError(w, err)
		return
	}
	s.notify.NotifySystemPaused(true)
	respondOK(w)
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	err := s.store.WithWrite(r.Context(), func(tx *store.Tx) error {
		return tx.SetPaused(false)
	})
	if err != nil {
		writeStoreError(w, err)
		return
	}
	s.notify.NotifySystemPaused(false)
	respondOK(w)
}

func (s *Server) handleSetConference(w http.ResponseWriter, r *http.Request) {
	limitBody(r, maxJSONBytes)
	var req types.SystemState
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "bad request")
		return
	}
	err := s.store.WithWrite(r.Context(), func(tx *store.Tx) error {
		return tx.SetConferenceInfo(req)
	})
	if err != nil {
		writeStoreError(w, err)
		return
	}
	respondOK(w)
}

func (s *Server) handleListTransmissions(w http.ResponseWriter, r *http.Request) {
	challengeID := r.URL.Query().Get("challenge_id")
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	var records interface{}
	err := s.store.WithRead(r.Context(), func(tx *store.Tx) error {
		recs, err := tx.ListTransmissions(challengeID, limit)
		records = recs
		return err
	})
	if err != nil {
		writeStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, records)
}

// handleOperatorPush is the dashboard's websocket feed: every domain event
// broadcast room, plus a connected greeting (spec.md §4.8).
func (s *Server) handleOperatorPush(w http.ResponseWriter, r *http.Request) {
	session := sessionFromContext(r)
	username := ""
	if session != nil {
		username = session.Username
	}
	serveWebSocket(w, r, s.bus, events.BroadcastRoom, s.log, map[string]interface{}{
		"type": "connected",
		"user": username,
	})
}
