package server

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
)

// routeAuth mounts the login/TOTP-verify endpoints with no session
// middleware, the logout/TOTP-enrollment endpoints behind a session that
// may still be awaiting TOTP, and password change behind a fully
// authenticated session (spec.md §6.3, §4.3 "Identity & Session").
func (s *Server) routeAuth(r *mux.Router) {
	r.HandleFunc("/login", s.handleLogin).Methods(http.MethodPost)
	r.HandleFunc("/totp/verify", s.handleVerifyTOTP).Methods(http.MethodPost)

	pending := r.NewRoute().Subrouter()
	pending.Use(requireSessionPendingOK(s.authSvc))
	pending.HandleFunc("/logout", s.handleLogout).Methods(http.MethodPost)
	pending.HandleFunc("/totp/enroll", s.handleEnrollTOTP).Methods(http.MethodPost)

	authed := r.NewRoute().Subrouter()
	authed.Use(requireSession(s.authSvc))
	authed.HandleFunc("/password", s.handleChangePassword).Methods(http.MethodPost)
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	limitBody(r, maxJSONBytes)
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "bad request")
		return
	}
	if !s.loginLimiter.Allow(clientIPOrUser(r, req.Username)) {
		respondError(w, http.StatusTooManyRequests, "rate limited")
		return
	}
	session, err := s.authSvc.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		respondError(w, http.StatusUnauthorized, errNoCredential.Error())
		return
	}
	setSessionCookies(w, r, session)

	needsEnroll, err := s.authSvc.NeedsTOTPEnrollment(r.Context(), req.Username)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"username":          session.Username,
		"totp_verified":     session.TOTPVerified,
		"needs_totp_enroll": needsEnroll,
	})
}

func (s *Server) handleEnrollTOTP(w http.ResponseWriter, r *http.Request) {
	session := sessionFromContext(r)
	url, err := s.authSvc.EnrollTOTP(r.Context(), session.Username)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"otpauth_url": url})
}

type verifyTOTPRequest struct {
	Code string `json:"code"`
}

func (s *Server) handleVerifyTOTP(w http.ResponseWriter, r *http.Request) {
	limitBody(r, maxJSONBytes)
	cookie, err := r.Cookie(sessionCookieName)
	if err != nil || cookie.Value == "" {
		respondError(w, http.StatusUnauthorized, errNoCredential.Error())
		return
	}
	var req verifyTOTPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "bad request")
		return
	}
	if !s.loginLimiter.Allow(clientIPOrUser(r, cookie.Value)) {
		respondError(w, http.StatusTooManyRequests, "rate limited")
		return
	}
	if err := s.authSvc.VerifyTOTP(r.Context(), cookie.Value, req.Code); err != nil {
		respondError(w, http.StatusUnauthorized, "invalid code")
		return
	}
	respondOK(w)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(sessionCookieName)
	if err == nil && cookie.Value != "" {
		if err := s.authSvc.Logout(r.Context(), cookie.Value); err != nil {
			writeStoreError(w, err)
			return
		}
	}
	clearSessionCookies(w, r)
	respondOK(w)
}

type changePasswordRequest struct {
	NewPassword string `json:"new_password"`
}

func (s *Server) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	limitBody(r, maxJSONBytes)
	session := sessionFromContext(r)
	var req changePasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "bad request")
		return
	}
	if err := s.authSvc.ChangePassword(r.Context(), session.Username, req.NewPassword, session.Token); err != nil {
		writeStoreError(w, err)
		return
	}
	respondOK(w)
}
