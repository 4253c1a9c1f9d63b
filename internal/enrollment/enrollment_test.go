package enrollment

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/CLIAIMONITOR/internal/store"
	"github.com/CLIAIMONITOR/internal/types"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func seedAgent(t *testing.T, s *store.Store, id string) {
	t.Helper()
	ctx := context.Background()
	err := s.WithWrite(ctx, func(tx *store.Tx) error {
		return tx.CreateAgent(&types.Agent{
			ID:        id,
			Kind:      types.AgentKindTransmitter,
			Status:    types.AgentOffline,
			Enabled:   true,
			CreatedAt: tx.Now(),
		})
	})
	if err != nil {
		t.Fatalf("seed agent: %v", err)
	}
}

func TestIssueAndConsumeToken(t *testing.T) {
	s := newTestStore(t)
	svc := NewService(s)
	ctx := context.Background()

	agentID := uuid.New().String()
	seedAgent(t, s, agentID)

	tok, err := svc.IssueToken(ctx, agentID, "operator1", 0)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	if tok.Token == "" {
		t.Fatal("expected a non-empty token")
	}

	resp, err := svc.Consume(ctx, EnrollRequest{
		Token: tok.Token,
		Host:  types.HostIdentity{IP: "10.0.0.1", Hostname: "tx-1", MAC: "aa:bb", MachineID: "mid"},
		Devices: []types.DeviceDescriptor{
			{Name: "sdr0", Enabled: true},
		},
	})
	if err != nil {
		t.Fatalf("Consume: %v", err)
	}
	if resp.AgentID != agentID {
		t.Errorf("AgentID = %q, want %q", resp.AgentID, agentID)
	}
	if resp.Credential == "" {
		t.Error("expected a non-empty credential")
	}

	if _, err := svc.Consume(ctx, EnrollRequest{Token: tok.Token}); err == nil {
		t.Error("expected re-consuming a used token to fail")
	}
}

func TestConsumeExpiredTokenFails(t *testing.T) {
	s := newTestStore(t)
	svc := NewService(s)
	ctx := context.Background()

	agentID := uuid.New().String()
	seedAgent(t, s, agentID)

	tok, err := svc.IssueToken(ctx, agentID, "operator1", time.Nanosecond)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	time.Sleep(time.Millisecond)

	if _, err := svc.Consume(ctx, EnrollRequest{Token: tok.Token}); err == nil {
		t.Error("expected consuming an expired token to fail")
	}
}

func TestProvisioningFlow(t *testing.T) {
	s := newTestStore(t)
	svc := NewService(s)
	ctx := context.Background()

	issue, err := svc.CreateProvisioningCredential(ctx, "fleet-a", "operator1")
	if err != nil {
		t.Fatalf("CreateProvisioningCredential: %v", err)
	}

	resp, err := svc.Provision(ctx, ProvisionRequest{
		KeyID:  issue.KeyID,
		Secret: issue.Secret,
		Kind:   types.AgentKindReceiver,
		Host:   types.HostIdentity{IP: "10.0.0.2", Hostname: "rx-1"},
	})
	if err != nil {
		t.Fatalf("Provision: %v", err)
	}
	if resp.AgentID == "" || resp.Credential == "" {
		t.Error("expected a non-empty agent id and credential")
	}

	if _, err := svc.Provision(ctx, ProvisionRequest{KeyID: issue.KeyID, Secret: "wrong-secret"}); err == nil {
		t.Error("expected provisioning with the wrong secret to fail")
	}

	if err := svc.SetProvisioningCredentialEnabled(ctx, issue.KeyID, false); err != nil {
		t.Fatalf("SetProvisioningCredentialEnabled: %v", err)
	}
	if _, err := svc.Provision(ctx, ProvisionRequest{KeyID: issue.KeyID, Secret: issue.Secret}); err == nil {
		t.Error("expected provisioning with a disabled credential to fail")
	}
}
