package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/CLIAIMONITOR/internal/events"
	"github.com/CLIAIMONITOR/internal/store"
	"github.com/CLIAIMONITOR/internal/types"
)

// routeReceiver mounts the receiver (listener) protocol (spec.md §6.2):
// the same bearer credential as workers, plus a push-channel connection
// and the recording-lifecycle callbacks.
func (s *Server) routeReceiver(r *mux.Router) {
	rr := r.PathPrefix("/api/v1/receiver").Subrouter()
	rr.HandleFunc("/recordings/{id}/started", s.handleRecordingStarted).Methods(http.MethodPost)
	rr.HandleFunc("/recordings/{id}/completed", s.handleRecordingCompleted).Methods(http.MethodPost)
	rr.HandleFunc("/recordings/{id}/failed", s.handleRecordingFailed).Methods(http.MethodPost)
	rr.HandleFunc("/push", s.handleReceiverPush)
}

func (s *Server) authenticateReceiverRequest(r *http.Request) (*types.Agent, error) {
	token, ok := bearerToken(r)
	if !ok {
		return nil, errNoCredential
	}
	agentID := r.Header.Get("X-Agent-ID")
	if agentID == "" {
		agentID = r.URL.Query().Get("agent_id")
	}
	presented := presentedHostIdentity(r, requestIP(r), "")
	return authenticateAgent(r.Context(), s.store, agentID, token, presented, types.AgentKindReceiver)
}

func assignmentIDFromPath(r *http.Request) (int64, error) {
	return strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
}

func (s *Server) handleRecordingStarted(w http.ResponseWriter, r *http.Request) {
	if _, err := s.authenticateReceiverRequest(r); err != nil {
		respondError(w, http.StatusUnauthorized, errNoCredential.Error())
		return
	}
	id, err := assignmentIDFromPath(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "bad assignment id")
		return
	}
	if err := s.recorder.ReportStarted(r.Context(), id); err != nil {
		writeStoreError(w, err)
		return
	}
	respondOK(w)
}

type recordingCompletedRequest struct {
	Outcome      types.TransmissionOutcome `json:"outcome"`
	ImagePath    string                    `json:"image_path"`
	ImageWidth   int                       `json:"image_width"`
	ImageHeight  int                       `json:"image_height"`
	SampleRateHz int                       `json:"sample_rate_hz"`
	DurationMs   int64                     `json:"duration_ms"`
	Error        string                    `json:"error,omitempty"`
}

func (req recordingCompletedRequest) duration() time.Duration {
	return time.Duration(req.DurationMs) * time.Millisecond
}

func (s *Server) handleRecordingCompleted(w http.ResponseWriter, r *http.Request) {
	if _, err := s.authenticateReceiverRequest(r); err != nil {
		respondError(w, http.StatusUnauthorized, errNoCredential.Error())
		return
	}
	id, err := assignmentIDFromPath(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "bad assignment id")
		return
	}
	limitBody(r, maxUploadBytes)
	var req recordingCompletedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "bad request")
		return
	}

	now := time.Now().UTC()
	rec := &types.Recording{
		StartedAt:    now.Add(-req.duration()),
		CompletedAt:  now,
		Outcome:      req.Outcome,
		ImagePath:    req.ImagePath,
		ImageWidth:   req.ImageWidth,
		ImageHeight:  req.ImageHeight,
		SampleRateHz: req.SampleRateHz,
		Duration:     req.duration(),
		Error:        req.Error,
	}
	if _, err := s.recorder.ReportCompleted(r.Context(), id, rec); err != nil {
		writeStoreError(w, err)
		return
	}
	respondOK(w)
}

type recordingFailedRequest struct {
	Error string `json:"error"`
}

func (s *Server) handleRecordingFailed(w http.ResponseWriter, r *http.Request) {
	if _, err := s.authenticateReceiverRequest(r); err != nil {
		respondError(w, http.StatusUnauthorized, errNoCredential.Error())
		return
	}
	id, err := assignmentIDFromPath(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "bad assignment id")
		return
	}
	var req recordingFailedRequest
	json.NewDecoder(r.Body).Decode(&req)
	if err := s.recorder.ReportFailed(r.Context(), id); err != nil {
		writeStoreError(w, err)
		return
	}
	respondOK(w)
}

// handleReceiverPush upgrades to the receiver's private push channel
// (spec.md §4.8 "every receiver agent joins a private agent_<id> room"),
// delivering recording_assignment / assignment_cancelled directives plus
// an initial connected frame.
func (s *Server) handleReceiverPush(w http.ResponseWriter, r *http.Request) {
	agent, err := s.authenticateReceiverRequest(r)
	if err != nil {
		respondError(w, http.StatusUnauthorized, errNoCredential.Error())
		return
	}

	if err := s.store.WithWrite(r.Context(), func(tx *store.Tx) error {
		return tx.SetPushConnected(agent.ID, true)
	}); err != nil {
		writeStoreError(w, err)
		return
	}
	defer s.store.WithWrite(r.Context(), func(tx *store.Tx) error {
		return tx.SetPushConnected(agent.ID, false)
	})

	serveWebSocket(w, r, s.bus, events.AgentRoom(agent.ID), s.log, map[string]interface{}{
		"type":     "connected",
		"agent_id": agent.ID,
	})
}
