// Package server implements the Request Surface (spec.md §4.9): it
// unwraps HTTP requests, applies authentication/CSRF/rate-limit
// middleware, invokes a procedure on one of the domain packages, and
// renders the result as JSON. No business logic lives here, matching the
// teacher's internal/handlers dispatcher-then-render shape generalized
// onto ChallengeCtl's three protocols (worker, receiver, operator).
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"golang.org/x/time/rate"

	"github.com/CLIAIMONITOR/internal/artifact"
	"github.com/CLIAIMONITOR/internal/assignment"
	"github.com/CLIAIMONITOR/internal/auth"
	"github.com/CLIAIMONITOR/internal/config"
	"github.com/CLIAIMONITOR/internal/enrollment"
	"github.com/CLIAIMONITOR/internal/events"
	"github.com/CLIAIMONITOR/internal/logging"
	"github.com/CLIAIMONITOR/internal/recording"
	"github.com/CLIAIMONITOR/internal/store"
	"github.com/CLIAIMONITOR/internal/types"
)

// Deps collects every already-constructed domain component the Request
// Surface wires together. Built by the process entry point
// (cmd/challengectld), matching cmd/cliaimonitor/main.go's
// wire-everything-in-main shape — no DI framework (spec.md §2).
type Deps struct {
	Store       *store.Store
	Auth        *auth.Service
	Enrollment  *enrollment.Service
	Artifacts   *artifact.Store
	Engine      *assignment.Engine
	Recorder    *recording.Coordinator
	Bus         *events.Bus
	Notifier    *EventNotifier
	Config      *config.Loader
	BindAddress string
	Port        int
}

// Server is the HTTP front door onto the controller's domain packages.
type Server struct {
	store    *store.Store
	authSvc  *auth.Service
	enroll   *enrollment.Service
	artifacts *artifact.Store
	engine   *assignment.Engine
	recorder *recording.Coordinator
	bus      *events.Bus
	notify   *busNotifier
	cfg      *config.Loader
	log      *logging.Logger

	loginLimiter     *auth.KeyedLimiter
	heartbeatLimiter *auth.KeyedLimiter
	registerLimiter  *auth.KeyedLimiter
	provisionLimiter *auth.KeyedLimiter

	httpServer *http.Server
}

// New builds a Server and wires its route table. Rate limits follow
// spec.md §4.2's table exactly: 5/15min login & verify-totp, 1000/min
// heartbeat, 100/min register/enroll, 100/hour provisioning.
func New(d Deps) *Server {
	notify := d.Notifier
	if notify == nil {
		notify = NewEventNotifier(d.Bus)
	}
	s := &Server{
		store:     d.Store,
		authSvc:   d.Auth,
		enroll:    d.Enrollment,
		artifacts: d.Artifacts,
		engine:    d.Engine,
		recorder:  d.Recorder,
		bus:       d.Bus,
		notify:    notify,
		cfg:       d.Config,
		log:       logging.New("SERVER"),

		loginLimiter:     auth.NewKeyedLimiter(rate.Every(15*time.Minute/5), 5),
		heartbeatLimiter: auth.NewKeyedLimiter(rate.Every(time.Minute/1000), 1000),
		registerLimiter:  auth.NewKeyedLimiter(rate.Every(time.Minute/100), 100),
		provisionLimiter: auth.NewKeyedLimiter(rate.Every(time.Hour/100), 100),
	}

	router := mux.NewRouter()
	router.Use(securityHeaders)
	router.Use(requestLogger(s.log))

	router.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)

	s.routeEnroll(router)
	s.routeWorker(router)
	s.routeReceiver(router)
	s.routeOperator(router)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", d.BindAddress, d.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	return s
}

// freqCatalog returns the currently configured named frequency ranges
// (spec.md §6.5), or nil if the server was built without a config.Loader
// (e.g. a test that only exercises a single challenge-less protocol).
func (s *Server) freqCatalog() []types.NamedFreqRange {
	if s.cfg == nil {
		return nil
	}
	return s.cfg.Current().FreqRanges
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Run starts the HTTP server and blocks until ctx is cancelled, then
// drains in-flight requests before returning (spec.md §5 supplement
// "graceful shutdown"), mirroring the teacher's ShutdownChan-on-signal
// pattern.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Printf("listening on %s", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		s.log.Printf("shutting down")
		return s.httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// clientIPOrUser picks the rate-limit key: username when known, else
// source IP, matching spec.md §4.2 "per source address".
func clientIPOrUser(r *http.Request, username string) string {
	if username != "" {
		return username
	}
	return requestIP(r)
}
