package server

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/CLIAIMONITOR/internal/auth"
	"github.com/CLIAIMONITOR/internal/store"
	"github.com/CLIAIMONITOR/internal/types"
)

// sessionCookieName and csrfCookieName follow spec.md §4.2's double-submit
// shape: an HTTP-only cookie carrying the opaque session token, and a
// companion readable cookie carrying the CSRF token the browser echoes
// back in a header on state-changing requests.
const (
	sessionCookieName = "challengectl_session"
	csrfCookieName     = "challengectl_csrf"
	csrfHeaderName     = "X-CSRF-Token"
)

type contextKey string

const (
	ctxSessionKey contextKey = "session"
	ctxAgentKey   contextKey = "agent"
)

// errNoCredential covers every way a request can fail to present a usable
// credential, collapsed to one generic message at the handler boundary
// (spec.md §7 "all surfaced to the caller as a generic invalid credential
// error to prevent enumeration").
var errNoCredential = errors.New("invalid credential")

// secureCookie reports whether cookies should carry Secure/SameSite=Strict,
// inspecting direct TLS or a forwarded-proto header (spec.md §4.9
// "Secure-cookie and SameSite flags are auto-selected by inspecting the
// transport").
func secureCookie(r *http.Request) bool {
	if r.TLS != nil {
		return true
	}
	return strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https")
}

func setSessionCookies(w http.ResponseWriter, r *http.Request, s *types.Session) {
	secure := secureCookie(r)
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    s.Token,
		Path:     "/",
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteStrictMode,
		Expires:  s.ExpiresAt,
	})
	http.SetCookie(w, &http.Cookie{
		Name:     csrfCookieName,
		Value:    s.CSRFToken,
		Path:     "/",
		HttpOnly: false,
		Secure:   secure,
		SameSite: http.SameSiteStrictMode,
		Expires:  s.ExpiresAt,
	})
}

func clearSessionCookies(w http.ResponseWriter, r *http.Request) {
	secure := secureCookie(r)
	for _, name := range []string{sessionCookieName, csrfCookieName} {
		http.SetCookie(w, &http.Cookie{
			Name:     name,
			Value:    "",
			Path:     "/",
			HttpOnly: name == sessionCookieName,
			Secure:   secure,
			SameSite: http.SameSiteStrictMode,
			Expires:  time.Unix(0, 0),
			MaxAge:   -1,
		})
	}
}

// requireSession authenticates the operator session cookie and renews its
// sliding expiry (spec.md §4.2), storing the resolved session in the
// request context for downstream handlers and the CSRF check. Rejects a
// session that has not yet completed its TOTP step.
func requireSession(authSvc *auth.Service) func(http.Handler) http.Handler {
	return requireSessionInternal(authSvc, false)
}

// requireSessionPendingOK is like requireSession but also admits a session
// still awaiting its TOTP step, for the two endpoints a freshly-logged-in
// operator must be able to reach before verifying: TOTP enrollment and
// logout.
func requireSessionPendingOK(authSvc *auth.Service) func(http.Handler) http.Handler {
	return requireSessionInternal(authSvc, true)
}

func requireSessionInternal(authSvc *auth.Service, allowPending bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cookie, err := r.Cookie(sessionCookieName)
			if err != nil || cookie.Value == "" {
				respondError(w, http.StatusUnauthorized, errNoCredential.Error())
				return
			}
			session, err := authSvc.Authenticate(r.Context(), cookie.Value)
			if err != nil {
				if errors.Is(err, auth.ErrTOTPPending) {
					if allowPending && session != nil {
						ctx := context.WithValue(r.Context(), ctxSessionKey, session)
						next.ServeHTTP(w, r.WithContext(ctx))
						return
					}
					respondError(w, http.StatusForbidden, "totp verification required")
					return
				}
				respondError(w, http.StatusUnauthorized, errNoCredential.Error())
				return
			}
			setSessionCookies(w, r, session)
			ctx := context.WithValue(r.Context(), ctxSessionKey, session)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// requireCSRF enforces the double-submit check on state-changing requests
// (spec.md §4.2). Must run after requireSession.
func requireCSRF(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		session, ok := r.Context().Value(ctxSessionKey).(*types.Session)
		if !ok {
			respondError(w, http.StatusUnauthorized, errNoCredential.Error())
			return
		}
		header := r.Header.Get(csrfHeaderName)
		if !auth.CheckCSRF(header, session.CSRFToken) {
			respondError(w, http.StatusForbidden, "csrf token mismatch")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func sessionFromContext(r *http.Request) *types.Session {
	s, _ := r.Context().Value(ctxSessionKey).(*types.Session)
	return s
}

// requirePermission rejects the request unless the session's user holds
// permission (spec.md §7 "Authorization — permission denied. Names the
// missing permission.").
func requirePermission(s *store.Store, permission string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			session := sessionFromContext(r)
			if session == nil {
				respondError(w, http.StatusUnauthorized, errNoCredential.Error())
				return
			}
			var has bool
			err := s.WithRead(r.Context(), func(tx *store.Tx) error {
				ok, err := tx.HasPermission(session.Username, permission)
				has = ok
				return err
			})
			if err != nil {
				writeStoreError(w, err)
				return
			}
			if !has {
				respondError(w, http.StatusForbidden, "permission denied: "+permission)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// presentedHostIdentity extracts the host identity headers an agent
// carries on every request (spec.md §4.2), alongside ip/hostname supplied
// in the envelope body by the caller.
func presentedHostIdentity(r *http.Request, ip, hostname string) types.HostIdentity {
	return types.HostIdentity{
		IP:        ip,
		Hostname:  hostname,
		MAC:       r.Header.Get("X-Agent-MAC"),
		MachineID: r.Header.Get("X-Agent-Machine-ID"),
	}
}

// bearerToken extracts the raw token from an Authorization: Bearer header.
func bearerToken(r *http.Request) (string, bool) {
	v := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(v, prefix) {
		return "", false
	}
	return strings.TrimPrefix(v, prefix), true
}

// requestIP takes the first X-Forwarded-For hop if present, else
// RemoteAddr, matching the teacher's agent IP bookkeeping.
func requestIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i >= 0 {
			return strings.TrimSpace(fwd[:i])
		}
		return strings.TrimSpace(fwd)
	}
	host := r.RemoteAddr
	if i := strings.LastIndexByte(host, ':'); i >= 0 {
		return host[:i]
	}
	return host
}

// authenticateAgent verifies the bearer credential and host-identity
// binding for agentID (spec.md §4.2 "Agent credential verification with
// host binding"). kindFilter, if non-empty, rejects an agent of the wrong
// kind (e.g. a receiver endpoint presented with a transmitter's token).
func authenticateAgent(ctx context.Context, s *store.Store, agentID, token string, presented types.HostIdentity, kindFilter types.AgentKind) (*types.Agent, error) {
	if agentID == "" || token == "" {
		return nil, errNoCredential
	}
	var agent *types.Agent
	err := s.WithRead(ctx, func(tx *store.Tx) error {
		a, err := tx.GetAgent(agentID)
		if err != nil {
			return errNoCredential
		}
		if !auth.VerifyAgentCredential(a.CredentialHash, token) {
			return errNoCredential
		}
		if kindFilter != "" && a.Kind != kindFilter {
			return errNoCredential
		}
		stale := tx.Now().Sub(a.LastHeartbeat) >= 90*time.Second
		if !stale && !auth.MatchHostIdentity(a.HostIdentity(), presented) {
			log.Printf("[AUTH] security: host identity mismatch for agent %s: stored=%+v presented=%+v",
				agentID, a.HostIdentity(), presented)
			return errNoCredential
		}
		agent = a
		return nil
	})
	if err != nil {
		return nil, err
	}
	return agent, nil
}
