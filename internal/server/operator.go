package server

import (
	"net/http"

	"github.com/gorilla/mux"
)

// routeOperator mounts every dashboard endpoint (spec.md §6.3): the session
// login/logout/TOTP endpoints through routeAuth (login and TOTP verify
// with no session middleware, logout and TOTP enroll behind a session
// still awaiting TOTP), everything else behind
// requireSession (+ requireCSRF on state-changing verbs, + a named
// permission where the spec calls for one).
func (s *Server) routeOperator(r *mux.Router) {
	op := r.PathPrefix("/api/v1/operator").Subrouter()

	s.routeAuth(op)

	authed := op.NewRoute().Subrouter()
	authed.Use(requireSession(s.authSvc))

	s.routeDashboard(authed)
	s.routeAgents(authed)
	s.routeChallenges(authed)
	s.routeFiles(authed)
	s.routeEnrollment(authed)
	s.routeUsers(authed)
}

// writeRoute registers a state-changing route behind CSRF + an optional
// permission, matching spec.md §4.2/§7's authorization shape.
func writeRoute(r *mux.Router, s *Server, path, method, permission string, h http.HandlerFunc) {
	var handler http.Handler = http.HandlerFunc(h)
	if permission != "" {
		handler = requirePermission(s.store, permission)(handler)
	}
	handler = requireCSRF(handler)
	r.Handle(path, handler).Methods(method)
}

func readRoute(r *mux.Router, path, method string, h http.HandlerFunc) {
	r.HandleFunc(path, h).Methods(method)
}
