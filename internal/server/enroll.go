package server

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/CLIAIMONITOR/internal/enrollment"
	"github.com/CLIAIMONITOR/internal/types"
)

// routeEnroll mounts the two unauthenticated bootstrap endpoints a brand
// new agent uses before it holds a bearer credential (spec.md §4.3): the
// operator-issued single-use token consume, and the stateless-automated
// provisioning flow. Neither sits under /api/v1/operator (no session) or
// /api/v1/worker (no credential yet to present).
func (s *Server) routeEnroll(r *mux.Router) {
	r.HandleFunc("/api/v1/enroll", s.handleEnroll).Methods(http.MethodPost)
	r.HandleFunc("/api/v1/provision", s.handleProvision).Methods(http.MethodPost)
}

func (s *Server) handleEnroll(w http.ResponseWriter, r *http.Request) {
	limitBody(r, maxJSONBytes)
	var req enrollment.EnrollRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "bad request")
		return
	}
	if !s.registerLimiter.Allow(requestIP(r)) {
		respondError(w, http.StatusTooManyRequests, "rate limited")
		return
	}
	if req.Host.IP == "" {
		req.Host.IP = requestIP(r)
	}
	resp, err := s.enroll.Consume(r.Context(), req)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, resp)
}

type provisionRequest struct {
	KeyID   string                   `json:"key_id"`
	Secret  string                   `json:"secret"`
	Kind    types.AgentKind          `json:"kind"`
	Host    types.HostIdentity       `json:"host"`
	Devices []types.DeviceDescriptor `json:"devices"`
}

// handleProvision performs the operator-initiated enrollment flow
// end-to-end under a single provisioning credential (spec.md §4.3
// "stateless-automated"). It cannot modify existing agents, read
// challenges, or touch any other administrative surface — the only
// store procedure it reaches is enrollment.Service.Provision, which
// creates exactly one new agent row.
func (s *Server) handleProvision(w http.ResponseWriter, r *http.Request) {
	limitBody(r, maxJSONBytes)
	var req provisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "bad request")
		return
	}
	if !s.provisionLimiter.Allow(requestIP(r)) {
		respondError(w, http.StatusTooManyRequests, "rate limited")
		return
	}
	if req.Kind == "" {
		req.Kind = types.AgentKindTransmitter
	}
	if req.Host.IP == "" {
		req.Host.IP = requestIP(r)
	}
	resp, err := s.enroll.Provision(r.Context(), enrollment.ProvisionRequest{
		KeyID:   req.KeyID,
		Secret:  req.Secret,
		Kind:    req.Kind,
		Host:    req.Host,
		Devices: req.Devices,
	})
	if err != nil {
		writeStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, resp)
}
