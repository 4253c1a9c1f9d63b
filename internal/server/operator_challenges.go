package server

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/CLIAIMONITOR/internal/config"
	"github.com/CLIAIMONITOR/internal/store"
	"github.com/CLIAIMONITOR/internal/types"
)

// routeChallenges mounts challenge CRUD, enable/disable, and the
// trigger-now override (spec.md §4.5, §6.3). Every mutation requires
// manage_challenges.
func (s *Server) routeChallenges(r *mux.Router) {
	readRoute(r, "/challenges", http.MethodGet, s.handleListChallenges)
	readRoute(r, "/challenges/{id}", http.MethodGet, s.handleGetChallenge)
	writeRoute(r, s, "/challenges", http.MethodPost, types.PermissionManageChallenge, s.handleCreateChallenge)
	writeRoute(r, s, "/challenges/{id}", http.MethodPut, types.PermissionManageChallenge, s.handleUpdateChallenge)
	writeRoute(r, s, "/challenges/{id}", http.MethodDelete, types.PermissionManageChallenge, s.handleDeleteChallenge)
	writeRoute(r, s, "/challenges/{id}/enable", http.MethodPost, types.PermissionManageChallenge, s.handleEnableChallenge)
	writeRoute(r, s, "/challenges/{id}/disable", http.MethodPost, types.PermissionManageChallenge, s.handleDisableChallenge)
	writeRoute(r, s, "/challenges/{id}/trigger", http.MethodPost, types.PermissionManageChallenge, s.handleTriggerChallenge)
}

func (s *Server) handleListChallenges(w http.ResponseWriter, r *http.Request) {
	var challenges []*types.Challenge
	err := s.store.WithRead(r.Context(), func(tx *store.Tx) error {
		var err error
		challenges, err = tx.ListChallenges()
		return err
	})
	if err != nil {
		writeStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, challenges)
}

func (s *Server) handleGetChallenge(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var c *types.Challenge
	err := s.store.WithRead(r.Context(), func(tx *store.Tx) error {
		var err error
		c, err = tx.GetChallenge(id)
		return err
	})
	if err != nil {
		writeStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, c)
}

// handleCreateChallenge accepts the wire ChallengeSpec shape (spec.md
// §6.4) and parses it into a typed ChallengeConfig at the ingress
// (spec.md §9 "parse once at the ingress ... reject ill-formed
// records"), the same path config-file import uses via
// config.ParseChallengeSpec.
func (s *Server) handleCreateChallenge(w http.ResponseWriter, r *http.Request) {
	limitBody(r, maxJSONBytes)
	var spec types.ChallengeSpec
	if err := json.NewDecoder(r.Body).Decode(&spec); err != nil {
		respondError(w, http.StatusBadRequest, "bad request")
		return
	}
	cfg, err := config.ParseChallengeSpec(r.Context(), s.store, s.freqCatalog(), spec)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	enabled := true
	if spec.Enabled != nil {
		enabled = *spec.Enabled
	}
	c := &types.Challenge{
		ID:       uuid.NewString(),
		Name:     spec.Name,
		Config:   cfg,
		Status:   types.ChallengeQueued,
		Priority: spec.Priority,
		Enabled:  enabled,
	}
	err = s.store.WithWrite(r.Context(), func(tx *store.Tx) error {
		c.CreatedAt = tx.Now()
		return tx.CreateChallenge(c)
	})
	if err != nil {
		writeStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, c)
}

func (s *Server) handleUpdateChallenge(w http.ResponseWriter, r *http.Request) {
	limitBody(r, maxJSONBytes)
	id := mux.Vars(r)["id"]
	var spec types.ChallengeSpec
	if err := json.NewDecoder(r.Body).Decode(&spec); err != nil {
		respondError(w, http.StatusBadRequest, "bad request")
		return
	}
	cfg, err := config.ParseChallengeSpec(r.Context(), s.store, s.freqCatalog(), spec)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	err = s.store.WithWrite(r.Context(), func(tx *store.Tx) error {
		return tx.UpdateChallengeConfig(id, cfg, spec.Priority)
	})
	if err != nil {
		writeStoreError(w, err)
		return
	}
	respondOK(w)
}

func (s *Server) handleDeleteChallenge(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	err := s.store.WithWrite(r.Context(), func(tx *store.Tx) error {
		return tx.RemoveChallenge(id)
	})
	if err != nil {
		writeStoreError(w, err)
		return
	}
	respondOK(w)
}

func (s *Server) handleEnableChallenge(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.engine.EnableChallenge(r.Context(), id); err != nil {
		writeStoreError(w, err)
		return
	}
	respondOK(w)
}

func (s *Server) handleDisableChallenge(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.engine.DisableChallenge(r.Context(), id); err != nil {
		writeStoreError(w, err)
		return
	}
	respondOK(w)
}

// handleTriggerChallenge forces a challenge immediately eligible for
// dispatch, bypassing its remaining per-challenge delay (spec.md §4.5.6
// "operator override: trigger now").
func (s *Server) handleTriggerChallenge(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.engine.TriggerNow(r.Context(), id); err != nil {
		writeStoreError(w, err)
		return
	}
	respondOK(w)
}
