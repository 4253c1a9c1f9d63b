package server

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/CLIAIMONITOR/internal/auth"
	"github.com/CLIAIMONITOR/internal/store"
	"github.com/CLIAIMONITOR/internal/types"
)

// routeUsers mounts dashboard-account administration (spec.md §4.3, §6.3):
// create/list/remove users, enable/disable, and permission grant/revoke.
// Every mutation requires create_users, matching the teacher's
// single-admin-permission gate for account management.
func (s *Server) routeUsers(r *mux.Router) {
	readRoute(r, "/users", http.MethodGet, s.handleListUsers)
	writeRoute(r, s, "/users", http.MethodPost, types.PermissionCreateUsers, s.handleCreateUser)
	writeRoute(r, s, "/users/{username}", http.MethodDelete, types.PermissionCreateUsers, s.handleRemoveUser)
	writeRoute(r, s, "/users/{username}/enable", http.MethodPost, types.PermissionCreateUsers, s.handleSetUserEnabled(true))
	writeRoute(r, s, "/users/{username}/disable", http.MethodPost, types.PermissionCreateUsers, s.handleSetUserEnabled(false))
	writeRoute(r, s, "/users/{username}/permissions", http.MethodPost, types.PermissionCreateUsers, s.handleGrantPermission)
	writeRoute(r, s, "/users/{username}/permissions/{permission}", http.MethodDelete, types.PermissionCreateUsers, s.handleRevokePermission)
}

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	var users []*types.OperatorUser
	err := s.store.WithRead(r.Context(), func(tx *store.Tx) error {
		var err error
		users, err = tx.ListUsers()
		return err
	})
	if err != nil {
		writeStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, users)
}

type createUserRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	limitBody(r, maxJSONBytes)
	var req createUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "bad request")
		return
	}
	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "could not hash password")
		return
	}
	u := &types.OperatorUser{
		Username:           req.Username,
		PasswordHash:       hash,
		Enabled:            true,
		MustChangePassword: true,
	}
	err = s.store.WithWrite(r.Context(), func(tx *store.Tx) error {
		return tx.CreateUser(u)
	})
	if err != nil {
		writeStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, u)
}

func (s *Server) handleRemoveUser(w http.ResponseWriter, r *http.Request) {
	username := mux.Vars(r)["username"]
	err := s.store.WithWrite(r.Context(), func(tx *store.Tx) error {
		return tx.RemoveUser(username)
	})
	if err != nil {
		writeStoreError(w, err)
		return
	}
	respondOK(w)
}

func (s *Server) handleSetUserEnabled(enabled bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		username := mux.Vars(r)["username"]
		err := s.store.WithWrite(r.Context(), func(tx *store.Tx) error {
			return tx.SetUserEnabled(username, enabled)
		})
		if err != nil {
			writeStoreError(w, err)
			return
		}
		respondOK(w)
	}
}

type grantPermissionRequest struct {
	Permission string `json:"permission"`
}

func (s *Server) handleGrantPermission(w http.ResponseWriter, r *http.Request) {
	limitBody(r, maxJSONBytes)
	username := mux.Vars(r)["username"]
	var req grantPermissionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "bad request")
		return
	}
	err := s.store.WithWrite(r.Context(), func(tx *store.Tx) error {
		return tx.GrantPermission(username, req.Permission)
	})
	if err != nil {
		writeStoreError(w, err)
		return
	}
	respondOK(w)
}

func (s *Server) handleRevokePermission(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	err := s.store.WithWrite(r.Context(), func(tx *store.Tx) error {
		return tx.RevokePermission(vars["username"], vars["permission"])
	})
	if err != nil {
		writeStoreError(w, err)
		return
	}
	respondOK(w)
}
