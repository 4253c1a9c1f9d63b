package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/CLIAIMONITOR/internal/store"
	"github.com/CLIAIMONITOR/internal/types"
)

// ErrTOTPPending is returned by Authenticate when a session has passed
// password verification but has not yet completed its TOTP step (spec.md
// §4.2 "password-verified (TOTP pending)").
var ErrTOTPPending = errors.New("totp verification pending")

// ErrInvalidCredentials covers any password/TOTP rejection without
// distinguishing which factor failed, so failed-login responses cannot be
// used to enumerate valid usernames.
var ErrInvalidCredentials = errors.New("invalid credentials")

// Service implements the operator login state machine on top of a Store
// (spec.md §4.2). It holds no mutable state of its own beyond the TOTP
// replay guard, which is process-local by design.
type Service struct {
	store  *store.Store
	box    secretBoxKey
	issuer string
	replay *ReplayGuard
}

// NewService builds an auth Service. boxKeyMaterial seeds the at-rest
// encryption key for TOTP secrets and should come from deployment
// configuration, not a hardcoded value.
func NewService(s *store.Store, boxKeyMaterial []byte, issuer string) *Service {
	return &Service{
		store:  s,
		box:    NewSecretBoxKey(boxKeyMaterial),
		issuer: issuer,
		replay: NewReplayGuard(2 * time.Minute),
	}
}

// SweepReplayGuard purges stale TOTP replay entries (spec.md §4.7 TOTP
// replay sweep).
func (svc *Service) SweepReplayGuard() {
	svc.replay.Sweep()
}

// Replay exposes the Service's TOTP replay guard so internal/sweep can
// run its periodic cleanup against the same map Authenticate checks
// against, rather than sweeping an independent instance.
func (svc *Service) Replay() *ReplayGuard {
	return svc.replay
}

// Login verifies a username/password pair and opens a new session (spec.md
// §4.2 login state machine). If the account has a TOTP secret enrolled,
// the session opens password-verified but TOTP-pending, awaiting
// VerifyTOTP. If the account has no TOTP secret, the session opens
// already authenticated ("If the account has no TOTP secret, mark
// verified and return authenticated") — spec.md §4.2 states this
// unconditionally, so an account is never forced through enrollment
// before it can reach an authenticated session. The caller is
// responsible for rate-limiting attempts before calling this.
func (svc *Service) Login(ctx context.Context, username, password string) (*types.Session, error) {
	var session *types.Session
	err := svc.store.WithWrite(ctx, func(tx *store.Tx) error {
		user, err := tx.GetUser(username)
		if err != nil {
			var notFound *store.NotFoundError
			if errors.As(err, &notFound) {
				return ErrInvalidCredentials
			}
			return err
		}
		if !user.Enabled {
			return ErrInvalidCredentials
		}
		if !VerifyPassword(user.PasswordHash, password) {
			return ErrInvalidCredentials
		}

		s := &types.Session{
			Token:        uuid.New().String(),
			Username:     username,
			ExpiresAt:    tx.Now().Add(store.SessionTTL),
			TOTPVerified: user.TOTPSecretEncrypted == "",
			CSRFToken:    NewCSRFToken(),
			CreatedAt:    tx.Now(),
		}
		if err := tx.CreateSession(s); err != nil {
			return err
		}
		session = s
		return nil
	})
	return session, err
}

// NeedsTOTPEnrollment reports whether username has not yet configured TOTP
// (spec.md §4.2 "first login prompts TOTP enrollment").
func (svc *Service) NeedsTOTPEnrollment(ctx context.Context, username string) (bool, error) {
	var needs bool
	err := svc.store.WithRead(ctx, func(tx *store.Tx) error {
		user, err := tx.GetUser(username)
		if err != nil {
			return err
		}
		needs = user.TOTPSecretEncrypted == ""
		return nil
	})
	return needs, err
}

// EnrollTOTP generates and persists a new encrypted TOTP secret for
// username, returning the otpauth:// URI for the operator to scan. The
// secret takes effect immediately; until the operator successfully submits
// a code derived from it, VerifyTOTP will simply keep rejecting.
func (svc *Service) EnrollTOTP(ctx context.Context, username string) (otpauthURL string, err error) {
	secret, url, err := GenerateTOTPSecret(username, svc.issuer)
	if err != nil {
		return "", err
	}
	encrypted, err := EncryptTOTPSecret(svc.box, secret)
	if err != nil {
		return "", err
	}
	err = svc.store.WithWrite(ctx, func(tx *store.Tx) error {
		return tx.UpdateUserTOTPSecret(username, encrypted)
	})
	if err != nil {
		return "", err
	}
	return url, nil
}

// VerifyTOTP checks a 6-digit code against the session's user, rejecting
// replayed codes, and on success marks the session fully authenticated
// (spec.md §4.2 "authenticated").
func (svc *Service) VerifyTOTP(ctx context.Context, token, code string) error {
	return svc.store.WithWrite(ctx, func(tx *store.Tx) error {
		session, err := tx.GetSession(token)
		if err != nil {
			return err
		}
		user, err := tx.GetUser(session.Username)
		if err != nil {
			return err
		}
		if user.TOTPSecretEncrypted == "" {
			return fmt.Errorf("totp not enrolled for %s", session.Username)
		}
		secret, err := DecryptTOTPSecret(svc.box, user.TOTPSecretEncrypted)
		if err != nil {
			return err
		}
		if !ValidateTOTPCode(secret, code) {
			return ErrInvalidCredentials
		}
		if !svc.replay.CheckAndConsume(session.Username, code) {
			return ErrInvalidCredentials
		}
		if err := tx.MarkSessionTOTPVerified(token); err != nil {
			return err
		}
		return tx.RecordLogin(session.Username)
	})
}

// Authenticate resolves a session token to a fully-authenticated session,
// sliding its expiry forward (spec.md §4.2 "any authenticated request
// renews the session"). Returns ErrTOTPPending if the TOTP step has not
// completed.
func (svc *Service) Authenticate(ctx context.Context, token string) (*types.Session, error) {
	var session *types.Session
	err := svc.store.WithWrite(ctx, func(tx *store.Tx) error {
		s, err := tx.GetSession(token)
		if err != nil {
			return err
		}
		if !s.TOTPVerified {
			session = s
			return ErrTOTPPending
		}
		if err := tx.RenewSession(token); err != nil {
			return err
		}
		s.ExpiresAt = tx.Now().Add(store.SessionTTL)
		session = s
		return nil
	})
	if err != nil && !errors.Is(err, ErrTOTPPending) {
		return nil, err
	}
	return session, err
}

// Logout deletes a session (spec.md §4.2 logout).
func (svc *Service) Logout(ctx context.Context, token string) error {
	return svc.store.WithWrite(ctx, func(tx *store.Tx) error {
		return tx.DeleteSession(token)
	})
}

// ChangePassword rehashes and stores a new password, then invalidates every
// other session for that user (spec.md §4.2 "password or TOTP reset
// invalidates every session for that user except, optionally, the
// caller's own").
func (svc *Service) ChangePassword(ctx context.Context, username, newPassword, keepToken string) error {
	hash, err := HashPassword(newPassword)
	if err != nil {
		return err
	}
	return svc.store.WithWrite(ctx, func(tx *store.Tx) error {
		if err := tx.UpdateUserPassword(username, hash); err != nil {
			return err
		}
		return tx.DeleteSessionsForUser(username, keepToken)
	})
}
