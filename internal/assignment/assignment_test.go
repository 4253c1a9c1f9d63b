package assignment

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

func seedAgent(t *testing.T, s *store.Store, kind types.AgentKind, devices []types.DeviceDescriptor) string {
	t.Helper()
	id := uuid.New().String()
	ctx := context.Background()
	err := s.WithWrite(ctx, func(tx *store.Tx) error {
		return tx.CreateAgent(&types.Agent{
			ID:        id,
			Kind:      kind,
			Status:    types.AgentOnline,
			Enabled:   true,
			Devices:   devices,
			CreatedAt: tx.Now(),
		})
	})
	if err != nil {
		t.Fatalf("seed agent: %v", err)
	}
	return id
}

func seedChallenge(t *testing.T, s *store.Store, cfg types.ChallengeConfig, priority int) string {
	t.Helper()
	id := uuid.New().String()
	ctx := context.Background()
	err := s.WithWrite(ctx, func(tx *store.Tx) error {
		return tx.CreateChallenge(&types.Challenge{
			ID:        id,
			Name:      id,
			Config:    cfg,
			Status:    types.ChallengeQueued,
			Priority:  priority,
			Enabled:   true,
			CreatedAt: tx.Now(),
		})
	})
	if err != nil {
		t.Fatalf("seed challenge: %v", err)
	}
	return id
}

func singleFreqConfig(hz int64) types.ChallengeConfig {
	return types.ChallengeConfig{
		Frequency: types.FrequencySpec{Kind: types.FrequencySingle, SingleHz: hz},
		MinDelayS: 10,
		MaxDelayS: 20,
	}
}

func TestDispatchAssignsHighestPriorityFirst(t *testing.T) {
	s := newTestStore(t)
	e := NewEngine(s, nil, nil)
	ctx := context.Background()

	low := seedChallenge(t, s, singleFreqConfig(100000), 1)
	high := seedChallenge(t, s, singleFreqConfig(200000), 10)
	agentID := seedAgent(t, s, types.AgentKindTransmitter, nil)

	res, err := e.Dispatch(ctx, agentID)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if res.None() {
		t.Fatal("expected a dispatch, got none")
	}
	if res.Challenge.ID != high {
		t.Errorf("dispatched %s, want higher-priority challenge %s (low was %s)", res.Challenge.ID, high, low)
	}
	if res.FrequencyHz != 200000 {
		t.Errorf("FrequencyHz = %d, want 200000", res.FrequencyHz)
	}
}

func TestDispatchSkipsAlreadyAssignedChallenge(t *testing.T) {
	s := newTestStore(t)
	e := NewEngine(s, nil, nil)
	ctx := context.Background()

	cid := seedChallenge(t, s, singleFreqConfig(100000), 5)
	agentA := seedAgent(t, s, types.AgentKindTransmitter, nil)
	agentB := seedAgent(t, s, types.AgentKindTransmitter, nil)

	first, err := e.Dispatch(ctx, agentA)
	if err != nil || first.None() {
		t.Fatalf("expected first dispatch to succeed, got %+v, err %v", first, err)
	}
	if first.Challenge.ID != cid {
		t.Fatalf("dispatched wrong challenge")
	}

	second, err := e.Dispatch(ctx, agentB)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if !second.None() {
		t.Errorf("expected the second agent to find nothing, got %+v", second.Challenge)
	}
}

func TestDispatchRespectsDeviceFrequencyLimits(t *testing.T) {
	s := newTestStore(t)
	e := NewEngine(s, nil, nil)
	ctx := context.Background()

	seedChallenge(t, s, singleFreqConfig(500000), 1)
	limited := []types.DeviceDescriptor{
		{Name: "sdr0", Enabled: true, FreqLimitHz: []types.FreqRangeRaw{{MinHz: 1000000, MaxHz: 2000000}}},
	}
	agentID := seedAgent(t, s, types.AgentKindTransmitter, limited)

	res, err := e.Dispatch(ctx, agentID)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if !res.None() {
		t.Errorf("expected no dispatch for an out-of-range frequency, got %+v", res.Challenge)
	}
}

func TestDispatchSkippedWhilePaused(t *testing.T) {
	s := newTestStore(t)
	e := NewEngine(s, nil, nil)
	ctx := context.Background()

	seedChallenge(t, s, singleFreqConfig(100000), 1)
	agentID := seedAgent(t, s, types.AgentKindTransmitter, nil)

	if err := s.WithWrite(ctx, func(tx *store.Tx) error { return tx.SetPaused(true) }); err != nil {
		t.Fatalf("SetPaused: %v", err)
	}

	res, err := e.Dispatch(ctx, agentID)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if !res.None() {
		t.Error("expected no dispatch while the system is paused")
	}
}

func TestDispatchIgnoresReceiverAgents(t *testing.T) {
	s := newTestStore(t)
	e := NewEngine(s, nil, nil)
	ctx := context.Background()

	seedChallenge(t, s, singleFreqConfig(100000), 1)
	agentID := seedAgent(t, s, types.AgentKindReceiver, nil)

	res, err := e.Dispatch(ctx, agentID)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if !res.None() {
		t.Error("expected a receiver agent never to be dispatched a challenge")
	}
}

func TestCompleteReturnsChallengeToWaiting(t *testing.T) {
	s := newTestStore(t)
	e := NewEngine(s, nil, nil)
	ctx := context.Background()

	cid := seedChallenge(t, s, singleFreqConfig(100000), 1)
	agentID := seedAgent(t, s, types.AgentKindTransmitter, nil)

	res, err := e.Dispatch(ctx, agentID)
	if err != nil || res.None() {
		t.Fatalf("dispatch setup failed: %+v, %v", res, err)
	}

	rec, err := e.Complete(ctx, cid, agentID, types.OutcomeSuccess, "", res.FrequencyHz, time.Now())
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if rec.Outcome != types.OutcomeSuccess {
		t.Errorf("Outcome = %q, want success", rec.Outcome)
	}

	var got *types.Challenge
	if err := s.WithRead(ctx, func(tx *store.Tx) error {
		c, err := tx.GetChallenge(cid)
		got = c
		return err
	}); err != nil {
		t.Fatalf("GetChallenge: %v", err)
	}
	if got.Status != types.ChallengeWaiting {
		t.Errorf("Status = %q, want waiting", got.Status)
	}
	if got.OwnerAgentID != "" {
		t.Errorf("expected ownership cleared, got owner %q", got.OwnerAgentID)
	}
	if got.TransmitCount != 1 {
		t.Errorf("TransmitCount = %d, want 1", got.TransmitCount)
	}
}

func TestCompleteByStaleOwnerDoesNotReassignOwnership(t *testing.T) {
	s := newTestStore(t)
	e := NewEngine(s, nil, nil)
	ctx := context.Background()

	cid := seedChallenge(t, s, singleFreqConfig(100000), 1)
	staleAgent := seedAgent(t, s, types.AgentKindTransmitter, nil)

	res, err := e.Dispatch(ctx, staleAgent)
	if err != nil || res.None() {
		t.Fatalf("dispatch setup failed: %+v, %v", res, err)
	}

	// Reclaim the assignment from the stale agent (as the offline sweep
	// does) and hand the challenge to a new owner before the stale agent
	// reports in.
	if err := s.WithWrite(ctx, func(tx *store.Tx) error {
		_, err := tx.RequeueOwnedBy(staleAgent)
		return err
	}); err != nil {
		t.Fatalf("RequeueOwnedBy: %v", err)
	}
	newOwner := seedAgent(t, s, types.AgentKindTransmitter, nil)
	res2, err := e.Dispatch(ctx, newOwner)
	if err != nil || res2.None() || res2.Challenge.ID != cid {
		t.Fatalf("reassignment failed: %+v, %v", res2, err)
	}

	if _, err := e.Complete(ctx, cid, staleAgent, types.OutcomeSuccess, "", res.FrequencyHz, time.Now()); err != nil {
		t.Fatalf("Complete by stale owner: %v", err)
	}

	var got *types.Challenge
	if err := s.WithRead(ctx, func(tx *store.Tx) error {
		c, err := tx.GetChallenge(cid)
		got = c
		return err
	}); err != nil {
		t.Fatalf("GetChallenge: %v", err)
	}
	if got.Status != types.ChallengeAssigned || got.OwnerAgentID != newOwner {
		t.Errorf("status/owner = %q/%q, want assigned/%q", got.Status, got.OwnerAgentID, newOwner)
	}
	if got.LastTxTime != nil {
		t.Errorf("LastTxTime = %v, want unset after a stale completion", got.LastTxTime)
	}
	if got.TransmitCount != 1 {
		t.Errorf("TransmitCount = %d, want 1", got.TransmitCount)
	}
}

func TestTriggerNowBypassesDelay(t *testing.T) {
	s := newTestStore(t)
	e := NewEngine(s, nil, nil)
	ctx := context.Background()

	cid := seedChallenge(t, s, singleFreqConfig(100000), 1)
	agentID := seedAgent(t, s, types.AgentKindTransmitter, nil)

	res, err := e.Dispatch(ctx, agentID)
	if err != nil || res.None() {
		t.Fatalf("dispatch setup failed: %+v, %v", res, err)
	}
	if _, err := e.Complete(ctx, cid, agentID, types.OutcomeSuccess, "", res.FrequencyHz, time.Now()); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	if err := e.TriggerNow(ctx, cid); err != nil {
		t.Fatalf("TriggerNow: %v", err)
	}

	res2, err := e.Dispatch(ctx, agentID)
	if err != nil {
		t.Fatalf("Dispatch after trigger: %v", err)
	}
	if res2.None() || res2.Challenge.ID != cid {
		t.Error("expected trigger-now to make the challenge immediately dispatchable despite its delay")
	}
}

func TestDisableThenEnableChallenge(t *testing.T) {
	s := newTestStore(t)
	e := NewEngine(s, nil, nil)
	ctx := context.Background()

	cid := seedChallenge(t, s, singleFreqConfig(100000), 1)
	agentID := seedAgent(t, s, types.AgentKindTransmitter, nil)

	if err := e.DisableChallenge(ctx, cid); err != nil {
		t.Fatalf("DisableChallenge: %v", err)
	}
	res, err := e.Dispatch(ctx, agentID)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if !res.None() {
		t.Error("expected a disabled challenge never to be dispatched")
	}

	if err := e.EnableChallenge(ctx, cid); err != nil {
		t.Fatalf("EnableChallenge: %v", err)
	}
	res, err = e.Dispatch(ctx, agentID)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if res.None() || res.Challenge.ID != cid {
		t.Error("expected a re-enabled challenge to be dispatchable again")
	}
}

func TestSampleFrequencyNamedRange(t *testing.T) {
	catalog := RangeCatalog{"ham-2m": {MinHz: 144000000, MaxHz: 148000000}}
	spec := types.FrequencySpec{Kind: types.FrequencyNamedRange, NamedRanges: []string{"ham-2m"}}

	for i := 0; i < 20; i++ {
		hz, err := sampleFrequency(spec, catalog)
		if err != nil {
			t.Fatalf("sampleFrequency: %v", err)
		}
		if hz < 144000000 || hz > 148000000 {
			t.Fatalf("sampled %d outside named range bounds", hz)
		}
	}
}

func TestSampleFrequencyUnknownNamedRange(t *testing.T) {
	spec := types.FrequencySpec{Kind: types.FrequencyNamedRange, NamedRanges: []string{"missing"}}
	if _, err := sampleFrequency(spec, RangeCatalog{}); err == nil {
		t.Error("expected an unknown named range to error")
	}
}

func TestFreqAllowedForAgentNoLimitsAllowsAnything(t *testing.T) {
	devices := []types.DeviceDescriptor{{Name: "sdr0", Enabled: true}}
	if !freqAllowedForAgent(devices, 999999999) {
		t.Error("expected an agent with no declared limits to allow any frequency")
	}
}

func TestFreqAllowedForAgentRejectsOutOfRange(t *testing.T) {
	devices := []types.DeviceDescriptor{
		{Name: "sdr0", Enabled: true, FreqLimitHz: []types.FreqRangeRaw{{MinHz: 1000, MaxHz: 2000}}},
	}
	if freqAllowedForAgent(devices, 5000) {
		t.Error("expected a frequency outside every declared range to be rejected")
	}
	if !freqAllowedForAgent(devices, 1500) {
		t.Error("expected a frequency inside a declared range to be allowed")
	}
}
