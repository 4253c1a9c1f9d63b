// Package assignment implements the Assignment Engine (spec.md §4.5): the
// policy that decides, on each agent poll, which queued or waiting
// challenge (if any) that agent should transmit next. The state machine
// transitions themselves live in internal/store as plain transactional
// procedures; this package supplies the eligibility filter, frequency
// sampling, and selection order, all evaluated inside a single writer
// transaction so the store's single-writer lock is the only synchronization
// the engine needs (spec.md §4.5.7).
package assignment

import (
	"context"
	"sort"
	"sync/atomic"
	"time"

	"github.com/CLIAIMONITOR/internal/store"
	"github.com/CLIAIMONITOR/internal/types"
)

// Notifier is how the engine reports state changes to the Event Bus
// (spec.md §4.8) without depending on its wire shape directly.
type Notifier interface {
	NotifyChallengeAssigned(challengeID, agentID string, freqHz int64)
	NotifyTransmissionComplete(challengeID, agentID string, outcome types.TransmissionOutcome)
}

// Engine evaluates dispatch policy against a Store.
type Engine struct {
	store   *store.Store
	catalog atomic.Value // RangeCatalog
	notify  Notifier
}

// NewEngine builds an Engine. notify may be nil, in which case state
// changes are silent (used in tests).
func NewEngine(s *store.Store, catalog RangeCatalog, notify Notifier) *Engine {
	e := &Engine{store: s, notify: notify}
	e.catalog.Store(catalog)
	return e
}

// SetCatalog replaces the named frequency-range catalog an in-flight
// engine samples against, so a config reload (spec.md §6.5) can add
// ranges without restarting the process.
func (e *Engine) SetCatalog(catalog RangeCatalog) {
	e.catalog.Store(catalog)
}

func (e *Engine) rangeCatalog() RangeCatalog {
	c, _ := e.catalog.Load().(RangeCatalog)
	return c
}

// DispatchResult is the outcome of a poll: either a freshly assigned
// challenge with its sampled frequency, or nothing available.
type DispatchResult struct {
	Challenge   *types.Challenge
	FrequencyHz int64
}

// None reports whether the poll found no eligible challenge.
func (d *DispatchResult) None() bool {
	return d == nil || d.Challenge == nil
}

// Dispatch evaluates one agent's poll against every dispatch candidate and,
// if one is eligible, assigns it and returns the sampled frequency
// (spec.md §4.5.1 "queued | poll from eligible agent | assigned").
func (e *Engine) Dispatch(ctx context.Context, agentID string) (*DispatchResult, error) {
	result := &DispatchResult{}
	err := e.store.WithWrite(ctx, func(tx *store.Tx) error {
		agent, err := tx.GetAgent(agentID)
		if err != nil {
			return err
		}
		if !agent.Enabled || agent.Kind != types.AgentKindTransmitter {
			return nil
		}

		state, err := tx.GetSystemState()
		if err != nil {
			return err
		}
		if state.Paused {
			return nil
		}

		candidates, err := tx.ListDispatchCandidates()
		if err != nil {
			return err
		}

		eligible := filterDelayElapsed(candidates, tx.Now())
		orderForSelection(eligible)

		for _, c := range eligible {
			freqHz, err := sampleFrequency(c.Config.Frequency, e.rangeCatalog())
			if err != nil {
				continue
			}
			if !freqAllowedForAgent(agent.Devices, freqHz) {
				continue
			}
			assigned, err := tx.AssignChallenge(c.ID, agentID)
			if err != nil {
				return err
			}
			result.Challenge = assigned
			result.FrequencyHz = freqHz
			return nil
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !result.None() && e.notify != nil {
		e.notify.NotifyChallengeAssigned(result.Challenge.ID, agentID, result.FrequencyHz)
	}
	return result, nil
}

// filterDelayElapsed drops waiting challenges whose per-challenge delay
// (spec.md §4.5.5) has not yet elapsed. Queued challenges always pass.
func filterDelayElapsed(candidates []*types.Challenge, now time.Time) []*types.Challenge {
	out := make([]*types.Challenge, 0, len(candidates))
	for _, c := range candidates {
		if c.Status == types.ChallengeWaiting {
			if c.LastTxTime == nil || now.Before(c.LastTxTime.Add(c.Config.MeanDelay())) {
				continue
			}
		}
		out = append(out, c)
	}
	return out
}

// orderForSelection sorts candidates in place by priority descending, then
// last-transmission ascending with nulls first, then a random perturbation
// to break remaining ties (spec.md §4.5.4).
func orderForSelection(candidates []*types.Challenge) {
	jitter := make([]float64, len(candidates))
	for i := range jitter {
		jitter[i] = randFloat()
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		aNil, bNil := a.LastTxTime == nil, b.LastTxTime == nil
		if aNil != bNil {
			return aNil
		}
		if !aNil && !a.LastTxTime.Equal(*b.LastTxTime) {
			return a.LastTxTime.Before(*b.LastTxTime)
		}
		return jitter[i] < jitter[j]
	})
}

// Complete records a transmission report and, if the reporting agent is
// still the challenge's owner, returns it to waiting (spec.md §4.5.9).
func (e *Engine) Complete(ctx context.Context, challengeID, agentID string, outcome types.TransmissionOutcome, errText string, freqHz int64, startedAt time.Time) (*types.TransmissionRecord, error) {
	var rec *types.TransmissionRecord
	err := e.store.WithWrite(ctx, func(tx *store.Tx) error {
		r, _, err := tx.CompleteAssignment(challengeID, agentID, outcome, errText, freqHz, startedAt)
		if err != nil {
			return err
		}
		rec = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	if e.notify != nil {
		e.notify.NotifyTransmissionComplete(challengeID, agentID, outcome)
	}
	return rec, nil
}

// TriggerNow implements the operator "trigger now" action (spec.md §4.5.8).
func (e *Engine) TriggerNow(ctx context.Context, challengeID string) error {
	return e.store.WithWrite(ctx, func(tx *store.Tx) error {
		return tx.TriggerNow(challengeID)
	})
}

// EnableChallenge turns a disabled challenge back on, returning it to
// queued (spec.md §4.5.1).
func (e *Engine) EnableChallenge(ctx context.Context, challengeID string) error {
	return e.store.WithWrite(ctx, func(tx *store.Tx) error {
		return tx.EnableChallenge(challengeID)
	})
}

// DisableChallenge takes a challenge out of rotation, clearing ownership
// first if it is currently assigned (spec.md §4.5.1).
func (e *Engine) DisableChallenge(ctx context.Context, challengeID string) error {
	return e.store.WithWrite(ctx, func(tx *store.Tx) error {
		return tx.DisableChallenge(challengeID)
	})
}
