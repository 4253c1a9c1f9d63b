package server

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/CLIAIMONITOR/internal/store"
	"github.com/CLIAIMONITOR/internal/types"
)

// routeFiles mounts artifact upload/list/delete, backing a challenge's
// payload-by-reference form (spec.md §4.5.3 "payload either inline text or
// a stored artifact").
func (s *Server) routeFiles(r *mux.Router) {
	readRoute(r, "/files", http.MethodGet, s.handleListFiles)
	writeRoute(r, s, "/files", http.MethodPost, types.PermissionManageChallenge, s.handleUploadFile)
	writeRoute(r, s, "/files/{hash}", http.MethodDelete, types.PermissionManageChallenge, s.handleDeleteFile)
}

func (s *Server) handleListFiles(w http.ResponseWriter, r *http.Request) {
	files, err := s.artifacts.List(r.Context())
	if err != nil {
		writeStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, files)
}

func (s *Server) handleUploadFile(w http.ResponseWriter, r *http.Request) {
	limitBody(r, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		respondError(w, http.StatusBadRequest, "bad upload")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		respondError(w, http.StatusBadRequest, "missing file")
		return
	}
	defer file.Close()

	mediaType := header.Header.Get("Content-Type")
	if mediaType == "" {
		mediaType = "application/octet-stream"
	}
	f, err := s.artifacts.Put(r.Context(), header.Filename, mediaType, file)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, f)
}

func (s *Server) handleDeleteFile(w http.ResponseWriter, r *http.Request) {
	hash := mux.Vars(r)["hash"]
	var referenced bool
	err := s.store.WithRead(r.Context(), func(tx *store.Tx) error {
		var err error
		referenced, err = tx.ChallengeReferencesHash(hash)
		return err
	})
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if referenced {
		respondError(w, http.StatusConflict, "file referenced by a challenge")
		return
	}
	if err := s.artifacts.Remove(r.Context(), hash); err != nil {
		writeStoreError(w, err)
		return
	}
	respondOK(w)
}
