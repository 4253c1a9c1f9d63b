package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/CLIAIMONITOR/internal/store"
	"github.com/CLIAIMONITOR/internal/types"
)

// routeWorker mounts the transmitter protocol (spec.md §6.1). Every
// endpoint carries a bearer credential; register/heartbeat additionally
// rate-limit per agent id (spec.md §4.2's table).
func (s *Server) routeWorker(r *mux.Router) {
	wr := r.PathPrefix("/api/v1/worker").Subrouter()
	wr.HandleFunc("/register", s.handleWorkerRegister).Methods(http.MethodPost)
	wr.HandleFunc("/heartbeat", s.handleWorkerHeartbeat).Methods(http.MethodPost)
	wr.HandleFunc("/poll", s.handleWorkerPoll).Methods(http.MethodPost)
	wr.HandleFunc("/complete", s.handleWorkerComplete).Methods(http.MethodPost)
	wr.HandleFunc("/signout", s.handleWorkerSignout).Methods(http.MethodPost)
	wr.HandleFunc("/log", s.handleWorkerPushLog).Methods(http.MethodPost)
	wr.HandleFunc("/artifacts/{hash}", s.handleDownloadArtifact).Methods(http.MethodGet)
}

type registerRequest struct {
	AgentID  string                   `json:"agent_id"`
	Hostname string                   `json:"hostname"`
	Devices  []types.DeviceDescriptor `json:"devices"`
}

func (s *Server) handleWorkerRegister(w http.ResponseWriter, r *http.Request) {
	limitBody(r, maxJSONBytes)
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "bad request")
		return
	}
	if !s.registerLimiter.Allow(clientIPOrUser(r, req.AgentID)) {
		respondError(w, http.StatusTooManyRequests, "rate limited")
		return
	}
	token, ok := bearerToken(r)
	if !ok {
		respondError(w, http.StatusUnauthorized, errNoCredential.Error())
		return
	}
	ip := requestIP(r)
	presented := presentedHostIdentity(r, ip, req.Hostname)
	agent, err := authenticateAgent(r.Context(), s.store, req.AgentID, token, presented, "")
	if err != nil {
		respondError(w, http.StatusUnauthorized, errNoCredential.Error())
		return
	}

	err = s.store.WithWrite(r.Context(), func(tx *store.Tx) error {
		agent.Hostname = req.Hostname
		agent.Devices = req.Devices
		agent.IP = ip
		agent.MAC = presented.MAC
		agent.MachineID = presented.MachineID
		agent.Status = types.AgentOnline
		agent.LastHeartbeat = tx.Now()
		return tx.UpdateAgent(agent)
	})
	if err != nil {
		writeStoreError(w, err)
		return
	}
	respondOK(w)
}

type heartbeatRequest struct {
	AgentID  string `json:"agent_id"`
	Hostname string `json:"hostname"`
}

func (s *Server) handleWorkerHeartbeat(w http.ResponseWriter, r *http.Request) {
	limitBody(r, maxJSONBytes)
	var req heartbeatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "bad request")
		return
	}
	if !s.heartbeatLimiter.Allow(clientIPOrUser(r, req.AgentID)) {
		respondError(w, http.StatusTooManyRequests, "rate limited")
		return
	}
	token, ok := bearerToken(r)
	if !ok {
		respondError(w, http.StatusUnauthorized, errNoCredential.Error())
		return
	}
	ip := requestIP(r)
	presented := presentedHostIdentity(r, ip, req.Hostname)
	agent, err := authenticateAgent(r.Context(), s.store, req.AgentID, token, presented, "")
	if err != nil {
		respondError(w, http.StatusUnauthorized, errNoCredential.Error())
		return
	}

	err = s.store.WithWrite(r.Context(), func(tx *store.Tx) error {
		return tx.RegisterHeartbeat(agent.ID, ip, req.Hostname, presented.MAC, presented.MachineID)
	})
	if err != nil {
		writeStoreError(w, err)
		return
	}
	respondOK(w)
}

type pollRequest struct {
	AgentID string `json:"agent_id"`
}

type pollResponse struct {
	None             bool                   `json:"none"`
	ChallengeID      string                 `json:"challenge_id,omitempty"`
	Name             string                 `json:"name,omitempty"`
	FrequencyHz      int64                  `json:"frequency_hz,omitempty"`
	Modulation       types.ModulationKind   `json:"modulation,omitempty"`
	Params           types.ModulationParams `json:"params,omitempty"`
	PayloadText      string                 `json:"payload_text,omitempty"`
	PayloadHash      string                 `json:"payload_hash,omitempty"`
	AssignmentExpiry *time.Time             `json:"assignment_expiry,omitempty"`
}


// estimatedDuration is a rough per-modulation transmission window used
// only to tell the Recording Coordinator when to expect the capture to
// end; workers report their own actual completion independently.
func estimatedDuration(cfg types.ChallengeConfig) time.Duration {
	switch cfg.Modulation {
	case types.ModulationFHSS:
		if cfg.Params.HopCount > 0 && cfg.Params.HopIntervalMs > 0 {
			return time.Duration(cfg.Params.HopCount*cfg.Params.HopIntervalMs) * time.Millisecond
		}
	case types.ModulationCW:
		if cfg.Params.SpeedWPM > 0 {
			return 30 * time.Second
		}
	}
	return 30 * time.Second
}

func (s *Server) handleWorkerPoll(w http.ResponseWriter, r *http.Request) {
	limitBody(r, maxJSONBytes)
	var req pollRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "bad request")
		return
	}
	token, ok := bearerToken(r)
	if !ok {
		respondError(w, http.StatusUnauthorized, errNoCredential.Error())
		return
	}
	presented := presentedHostIdentity(r, requestIP(r), "")
	agent, err := authenticateAgent(r.Context(), s.store, req.AgentID, token, presented, types.AgentKindTransmitter)
	if err != nil {
		respondError(w, http.StatusUnauthorized, errNoCredential.Error())
		return
	}

	result, err := s.engine.Dispatch(r.Context(), agent.ID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if result.None() {
		respondJSON(w, http.StatusOK, pollResponse{None: true})
		return
	}

	c := result.Challenge
	if s.recorder != nil {
		started := time.Now().UTC()
		if _, err := s.recorder.Evaluate(r.Context(), c.ID, 0, c.Priority, result.FrequencyHz, started, estimatedDuration(c.Config)); err != nil {
			s.log.Printf("recording evaluate failed for %s: %v", c.ID, err)
		}
	}

	respondJSON(w, http.StatusOK, pollResponse{
		ChallengeID:      c.ID,
		Name:             c.Name,
		FrequencyHz:      result.FrequencyHz,
		Modulation:       c.Config.Modulation,
		Params:           c.Config.Params,
		PayloadText:      c.Config.Payload.Text,
		PayloadHash:      c.Config.Payload.ArtifactHash,
		AssignmentExpiry: c.AssignmentExpiry,
	})
}

type completeRequest struct {
	AgentID     string                    `json:"agent_id"`
	ChallengeID string                    `json:"challenge_id"`
	Outcome     types.TransmissionOutcome `json:"outcome"`
	Error       string                    `json:"error,omitempty"`
	FrequencyHz int64                     `json:"frequency_hz"`
	StartedAt   time.Time                 `json:"started_at"`
}

func (s *Server) handleWorkerComplete(w http.ResponseWriter, r *http.Request) {
	limitBody(r, maxJSONBytes)
	var req completeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "bad request")
		return
	}
	token, ok := bearerToken(r)
	if !ok {
		respondError(w, http.StatusUnauthorized, errNoCredential.Error())
		return
	}
	presented := presentedHostIdentity(r, requestIP(r), "")
	agent, err := authenticateAgent(r.Context(), s.store, req.AgentID, token, presented, types.AgentKindTransmitter)
	if err != nil {
		respondError(w, http.StatusUnauthorized, errNoCredential.Error())
		return
	}

	rec, err := s.engine.Complete(r.Context(), req.ChallengeID, agent.ID, req.Outcome, req.Error, req.FrequencyHz, req.StartedAt)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if req.Outcome == types.OutcomeFailure && s.recorder != nil {
		if err := s.recorder.CancelForTransmissionFailure(r.Context(), req.ChallengeID); err != nil {
			s.log.Printf("cancel recording for failed transmission %d: %v", rec.ID, err)
		}
	}
	respondOK(w)
}

type signoutRequest struct {
	AgentID string `json:"agent_id"`
}

func (s *Server) handleWorkerSignout(w http.ResponseWriter, r *http.Request) {
	limitBody(r, maxJSONBytes)
	var req signoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "bad request")
		return
	}
	token, ok := bearerToken(r)
	if !ok {
		respondError(w, http.StatusUnauthorized, errNoCredential.Error())
		return
	}
	presented := presentedHostIdentity(r, requestIP(r), "")
	agent, err := authenticateAgent(r.Context(), s.store, req.AgentID, token, presented, "")
	if err != nil {
		respondError(w, http.StatusUnauthorized, errNoCredential.Error())
		return
	}

	err = s.store.WithWrite(r.Context(), func(tx *store.Tx) error {
		if agent.Kind == types.AgentKindTransmitter {
			if _, err := tx.RequeueOwnedBy(agent.ID); err != nil {
				return err
			}
		}
		return tx.MarkAgentOffline(agent.ID)
	})
	if err != nil {
		writeStoreError(w, err)
		return
	}
	respondOK(w)
}

type pushLogRequest struct {
	AgentID string `json:"agent_id"`
	Level   string `json:"level"`
	Message string `json:"message"`
}

func (s *Server) handleWorkerPushLog(w http.ResponseWriter, r *http.Request) {
	limitBody(r, maxJSONBytes)
	var req pushLogRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "bad request")
		return
	}
	token, ok := bearerToken(r)
	if !ok {
		respondError(w, http.StatusUnauthorized, errNoCredential.Error())
		return
	}
	presented := presentedHostIdentity(r, requestIP(r), "")
	agent, err := authenticateAgent(r.Context(), s.store, req.AgentID, token, presented, "")
	if err != nil {
		respondError(w, http.StatusUnauthorized, errNoCredential.Error())
		return
	}
	s.notify.NotifyLog(agent.ID, req.Level, req.Message)
	respondOK(w)
}

func (s *Server) handleDownloadArtifact(w http.ResponseWriter, r *http.Request) {
	hash := mux.Vars(r)["hash"]
	token, ok := bearerToken(r)
	if !ok {
		respondError(w, http.StatusUnauthorized, errNoCredential.Error())
		return
	}
	agentID := r.Header.Get("X-Agent-ID")
	presented := presentedHostIdentity(r, requestIP(r), "")
	if _, err := authenticateAgent(r.Context(), s.store, agentID, token, presented, ""); err != nil {
		respondError(w, http.StatusUnauthorized, errNoCredential.Error())
		return
	}

	meta, err := s.artifacts.Get(r.Context(), hash)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	f, err := s.artifacts.Open(hash)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	defer f.Close()
	w.Header().Set("Content-Type", meta.MediaType)
	http.ServeContent(w, r, meta.Filename, meta.CreatedAt, f)
}
