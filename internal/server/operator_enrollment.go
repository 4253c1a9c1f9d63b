package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/CLIAIMONITOR/internal/enrollment"
	"github.com/CLIAIMONITOR/internal/types"
)

// routeEnrollment mounts operator-issued enrollment tokens and the
// stateless provisioning-credential flow (spec.md §4.3). Token issuance
// requires manage_agents; provisioning-credential issuance requires the
// narrower provision_agents permission.
func (s *Server) routeEnrollment(r *mux.Router) {
	readRoute(r, "/enrollment/tokens", http.MethodGet, s.handleListEnrollmentTokens)
	writeRoute(r, s, "/enrollment/tokens", http.MethodPost, types.PermissionManageAgents, s.handleIssueEnrollmentToken)
	writeRoute(r, s, "/enrollment/tokens/{token}", http.MethodDelete, types.PermissionManageAgents, s.handleRevokeEnrollmentToken)

	readRoute(r, "/provisioning/credentials", http.MethodGet, s.handleListProvisioningCredentials)
	writeRoute(r, s, "/provisioning/credentials", http.MethodPost, types.PermissionProvision, s.handleCreateProvisioningCredential)
	writeRoute(r, s, "/provisioning/credentials/{key_id}/enable", http.MethodPost, types.PermissionProvision, s.handleSetProvisioningCredentialEnabled(true))
	writeRoute(r, s, "/provisioning/credentials/{key_id}/disable", http.MethodPost, types.PermissionProvision, s.handleSetProvisioningCredentialEnabled(false))
	writeRoute(r, s, "/provisioning/credentials/{key_id}", http.MethodDelete, types.PermissionProvision, s.handleDeleteProvisioningCredential)
}

type issueTokenRequest struct {
	AgentID string `json:"agent_id"`
	TTLSecs int    `json:"ttl_secs"`
}

func (s *Server) handleIssueEnrollmentToken(w http.ResponseWriter, r *http.Request) {
	limitBody(r, maxJSONBytes)
	var req issueTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "bad request")
		return
	}
	ttl := enrollment.DefaultTokenTTL
	if req.TTLSecs > 0 {
		ttl = time.Duration(req.TTLSecs) * time.Second
	}
	session := sessionFromContext(r)
	tok, err := s.enroll.IssueToken(r.Context(), req.AgentID, session.Username, ttl)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, tok)
}

func (s *Server) handleListEnrollmentTokens(w http.ResponseWriter, r *http.Request) {
	toks, err := s.enroll.ListTokens(r.Context())
	if err != nil {
		writeStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, toks)
}

func (s *Server) handleRevokeEnrollmentToken(w http.ResponseWriter, r *http.Request) {
	token := mux.Vars(r)["token"]
	if err := s.enroll.RevokeToken(r.Context(), token); err != nil {
		writeStoreError(w, err)
		return
	}
	respondOK(w)
}

type createProvisioningRequest struct {
	Description string `json:"description"`
}

func (s *Server) handleCreateProvisioningCredential(w http.ResponseWriter, r *http.Request) {
	limitBody(r, maxJSONBytes)
	var req createProvisioningRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "bad request")
		return
	}
	session := sessionFromContext(r)
	issue, err := s.enroll.CreateProvisioningCredential(r.Context(), req.Description, session.Username)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, issue)
}

func (s *Server) handleListProvisioningCredentials(w http.ResponseWriter, r *http.Request) {
	creds, err := s.enroll.ListProvisioningCredentials(r.Context())
	if err != nil {
		writeStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, creds)
}

func (s *Server) handleSetProvisioningCredentialEnabled(enabled bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		keyID := mux.Vars(r)["key_id"]
		if err := s.enroll.SetProvisioningCredentialEnabled(r.Context(), keyID, enabled); err != nil {
			writeStoreError(w, err)
			return
		}
		respondOK(w)
	}
}

func (s *Server) handleDeleteProvisioningCredential(w http.ResponseWriter, r *http.Request) {
	keyID := mux.Vars(r)["key_id"]
	if err := s.enroll.DeleteProvisioningCredential(r.Context(), keyID); err != nil {
		writeStoreError(w, err)
		return
	}
	respondOK(w)
}
