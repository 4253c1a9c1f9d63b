// Package enrollment implements the two ways a new agent binds a
// credential to a host identity: an operator-issued single-use token, and
// a stateless long-lived provisioning key for automated fleets (spec.md
// §4.3). Request/response envelopes follow the teacher's phone-home client
// shape — small typed structs carried over HTTP, not ad-hoc maps.
package enrollment

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/CLIAIMONITOR/internal/auth"
	"github.com/CLIAIMONITOR/internal/store"
	"github.com/CLIAIMONITOR/internal/types"
)

// DefaultTokenTTL bounds how long an operator-issued enrollment token stays
// valid before it must be reissued (spec.md §4.3 "an expiry (default 24h)").
const DefaultTokenTTL = 24 * time.Hour

// EnrollRequest is what a newly-booted agent presents to consume its
// enrollment token.
type EnrollRequest struct {
	Token   string                   `json:"token"`
	Host    types.HostIdentity       `json:"host"`
	Devices []types.DeviceDescriptor `json:"devices"`
}

// EnrollResponse hands the agent back its permanent bearer credential. The
// raw credential is returned exactly once; only its bcrypt hash is stored.
type EnrollResponse struct {
	AgentID    string    `json:"agent_id"`
	Credential string    `json:"credential"`
	IssuedAt   time.Time `json:"issued_at"`
}

// Service issues and consumes enrollment tokens against a Store.
type Service struct {
	store *store.Store
}

// NewService builds an enrollment Service.
func NewService(s *store.Store) *Service {
	return &Service{store: s}
}

// IssueToken creates a single-use token binding to agentID, for an operator
// to hand to a specific new machine (spec.md §4.3 "operator-issued
// token"). The target agent row must already exist (created via the
// operator's agent-registration form); an agent that already holds a
// credential may be issued a token too, and consuming it replaces the
// stored credential hash (re-enrollment).
func (svc *Service) IssueToken(ctx context.Context, agentID, createdBy string, ttl time.Duration) (*types.EnrollmentToken, error) {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	var tok *types.EnrollmentToken
	err := svc.store.WithWrite(ctx, func(tx *store.Tx) error {
		if _, err := tx.GetAgent(agentID); err != nil {
			return err
		}
		t := &types.EnrollmentToken{
			Token:     uuid.New().String(),
			AgentID:   agentID,
			CreatedBy: createdBy,
			CreatedAt: tx.Now(),
			ExpiresAt: tx.Now().Add(ttl),
		}
		if err := tx.CreateEnrollmentToken(t); err != nil {
			return err
		}
		tok = t
		return nil
	})
	return tok, err
}

// Consume resolves an EnrollRequest: validates the token, mints a fresh
// bearer credential, binds the presented host identity and device list to
// the target agent, and marks the token used (spec.md §4.1
// "ConsumeEnrollmentToken", §4.3).
func (svc *Service) Consume(ctx context.Context, req EnrollRequest) (*EnrollResponse, error) {
	raw, hash, err := auth.GenerateAgentCredential()
	if err != nil {
		return nil, fmt.Errorf("mint agent credential: %w", err)
	}

	var resp *EnrollResponse
	err = svc.store.WithWrite(ctx, func(tx *store.Tx) error {
		agent, err := tx.ConsumeEnrollmentToken(req.Token, hash, req.Host, req.Devices)
		if err != nil {
			return err
		}
		resp = &EnrollResponse{AgentID: agent.ID, Credential: raw, IssuedAt: tx.Now()}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// ListTokens returns every enrollment token, newest first, for operator
// audit (spec.md §6.3).
func (svc *Service) ListTokens(ctx context.Context) ([]*types.EnrollmentToken, error) {
	var out []*types.EnrollmentToken
	err := svc.store.WithRead(ctx, func(tx *store.Tx) error {
		list, err := tx.ListEnrollmentTokens()
		out = list
		return err
	})
	return out, err
}

// RevokeToken deletes an unused (or used) token row.
func (svc *Service) RevokeToken(ctx context.Context, token string) error {
	return svc.store.WithWrite(ctx, func(tx *store.Tx) error {
		return tx.DeleteEnrollmentToken(token)
	})
}
