package enrollment

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/CLIAIMONITOR/internal/auth"
	"github.com/CLIAIMONITOR/internal/store"
	"github.com/CLIAIMONITOR/internal/types"
)

// ProvisioningCredentialIssue is returned exactly once, at creation time;
// only the bcrypt hash of Secret is retained.
type ProvisioningCredentialIssue struct {
	KeyID  string `json:"key_id"`
	Secret string `json:"secret"`
}

// CreateProvisioningCredential mints a long-lived stateless key an
// automated fleet-provisioning pipeline can use to bring up agents without
// an operator issuing a token per machine (spec.md §4.3 "stateless
// provisioning flow").
func (svc *Service) CreateProvisioningCredential(ctx context.Context, description, createdBy string) (*ProvisioningCredentialIssue, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return nil, fmt.Errorf("generate provisioning secret: %w", err)
	}
	secret := hex.EncodeToString(buf)
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash provisioning secret: %w", err)
	}

	keyID := uuid.New().String()
	err = svc.store.WithWrite(ctx, func(tx *store.Tx) error {
		return tx.CreateProvisioningCredential(&types.ProvisioningCredential{
			KeyID:          keyID,
			CredentialHash: string(hash),
			Description:    description,
			CreatedBy:      createdBy,
			CreatedAt:      tx.Now(),
			Enabled:        true,
		})
	})
	if err != nil {
		return nil, err
	}
	return &ProvisioningCredentialIssue{KeyID: keyID, Secret: secret}, nil
}

// ProvisionRequest is what an automated agent presents to self-enroll
// using a provisioning credential instead of an operator-issued token.
type ProvisionRequest struct {
	KeyID   string                   `json:"key_id"`
	Secret  string                   `json:"secret"`
	Kind    types.AgentKind          `json:"kind"`
	Host    types.HostIdentity       `json:"host"`
	Devices []types.DeviceDescriptor `json:"devices"`
}

// Provision verifies a provisioning credential and creates a brand-new
// agent row bound to the presented host identity, bypassing the
// single-use token flow entirely (spec.md §4.3).
func (svc *Service) Provision(ctx context.Context, req ProvisionRequest) (*EnrollResponse, error) {
	rawCred, credHash, err := auth.GenerateAgentCredential()
	if err != nil {
		return nil, fmt.Errorf("mint agent credential: %w", err)
	}

	var resp *EnrollResponse
	err = svc.store.WithWrite(ctx, func(tx *store.Tx) error {
		cred, err := tx.GetProvisioningCredential(req.KeyID)
		if err != nil {
			return err
		}
		if !cred.Enabled {
			return store.InvariantViolation("provisioning credential disabled")
		}
		if bcrypt.CompareHashAndPassword([]byte(cred.CredentialHash), []byte(req.Secret)) != nil {
			return store.InvariantViolation("provisioning secret mismatch")
		}

		agent := &types.Agent{
			ID:             uuid.New().String(),
			Kind:           req.Kind,
			Hostname:       req.Host.Hostname,
			IP:             req.Host.IP,
			MAC:            req.Host.MAC,
			MachineID:      req.Host.MachineID,
			Status:         types.AgentOnline,
			Enabled:        true,
			LastHeartbeat:  tx.Now(),
			CredentialHash: credHash,
			Devices:        req.Devices,
			CreatedAt:      tx.Now(),
		}
		if err := tx.CreateAgent(agent); err != nil {
			return err
		}
		if err := tx.RecordProvisioningUse(req.KeyID); err != nil {
			return err
		}
		resp = &EnrollResponse{AgentID: agent.ID, Credential: rawCred, IssuedAt: tx.Now()}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// ListProvisioningCredentials returns every provisioning key for operator
// audit (spec.md §6.3).
func (svc *Service) ListProvisioningCredentials(ctx context.Context) ([]*types.ProvisioningCredential, error) {
	var out []*types.ProvisioningCredential
	err := svc.store.WithRead(ctx, func(tx *store.Tx) error {
		list, err := tx.ListProvisioningCredentials()
		out = list
		return err
	})
	return out, err
}

// SetProvisioningCredentialEnabled toggles a key on or off without
// deleting its audit history.
func (svc *Service) SetProvisioningCredentialEnabled(ctx context.Context, keyID string, enabled bool) error {
	return svc.store.WithWrite(ctx, func(tx *store.Tx) error {
		return tx.SetProvisioningCredentialEnabled(keyID, enabled)
	})
}

// DeleteProvisioningCredential removes a key outright.
func (svc *Service) DeleteProvisioningCredential(ctx context.Context, keyID string) error {
	return svc.store.WithWrite(ctx, func(tx *store.Tx) error {
		return tx.DeleteProvisioningCredential(keyID)
	})
}
