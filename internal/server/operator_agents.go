package server

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/CLIAIMONITOR/internal/store"
	"github.com/CLIAIMONITOR/internal/types"
)

// routeAgents mounts agent administration (spec.md §6.3: list, enable,
// disable, delete). Enable/disable/delete require manage_agents.
func (s *Server) routeAgents(r *mux.Router) {
	readRoute(r, "/agents", http.MethodGet, s.handleListAgents)
	writeRoute(r, s, "/agents/{id}/enable", http.MethodPost, types.PermissionManageAgents, s.handleSetAgentEnabled(true))
	writeRoute(r, s, "/agents/{id}/disable", http.MethodPost, types.PermissionManageAgents, s.handleSetAgentEnabled(false))
	writeRoute(r, s, "/agents/{id}", http.MethodDelete, types.PermissionManageAgents, s.handleDeleteAgent)
}

func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	var agents []*types.Agent
	err := s.store.WithRead(r.Context(), func(tx *store.Tx) error {
		var err error
		agents, err = tx.ListAgents()
		return err
	})
	if err != nil {
		writeStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, agents)
}

// handleSetAgentEnabled disables a transmitter's challenge eligibility or a
// receiver's recording eligibility without revoking its credential
// (spec.md §4.4 "Agent enable/disable").
func (s *Server) handleSetAgentEnabled(enabled bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		err := s.store.WithWrite(r.Context(), func(tx *store.Tx) error {
			a, err := tx.GetAgent(id)
			if err != nil {
				return err
			}
			a.Enabled = enabled
			return tx.UpdateAgent(a)
		})
		if err != nil {
			writeStoreError(w, err)
			return
		}
		s.notify.NotifyAgentEnabled(id, enabled)
		respondOK(w)
	}
}

func (s *Server) handleDeleteAgent(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	err := s.store.WithWrite(r.Context(), func(tx *store.Tx) error {
		if _, err := tx.RequeueOwnedBy(id); err != nil {
			return err
		}
		return tx.RemoveAgent(id)
	})
	if err != nil {
		writeStoreError(w, err)
		return
	}
	respondOK(w)
}
