// Package sweep runs the Maintenance Sweeps (spec.md §4.7): cooperative
// periodic tasks, each acquiring the Store's writer briefly, that expire
// stale sessions, mark silent agents offline and requeue their work,
// expire stuck assignments, and clean the TOTP replay cache. Grounded on
// the teacher's internal/server ticker+ctx.Done() loop idiom
// (heartbeat.go's StartHeartbeatChecker, cleanup.go's CleanupService),
// generalized into four independent timers instead of one.
package sweep

import (
	"context"
	"time"

	"github.com/CLIAIMONITOR/internal/auth"
	"github.com/CLIAIMONITOR/internal/logging"
	"github.com/CLIAIMONITOR/internal/store"
)

// Periods match spec.md §4.7's table.
const (
	AgentOfflineInterval     = 30 * time.Second
	AssignmentExpiryInterval = 30 * time.Second
	SessionExpiryInterval    = 60 * time.Second
	TOTPReplayInterval       = 60 * time.Second

	// OfflineCutoff is how stale a heartbeat must be before an agent is
	// marked offline (spec.md §4.7 "last_heartbeat < now - 90s").
	OfflineCutoff = 90 * time.Second
)

// Notifier reports sweep-driven state changes to the Event Bus (spec.md
// §4.8) without this package depending on its wire shape.
type Notifier interface {
	NotifyAgentOffline(agentID string, requeuedChallengeIDs []string)
	NotifyAssignmentExpired(challengeID string)
}

// Runner owns the four independent sweep timers. Each runs in its own
// goroutine and stops when ctx is cancelled, mirroring the teacher's
// one-goroutine-per-periodic-task shape rather than a single multiplexed
// loop.
type Runner struct {
	store   *store.Store
	notify  Notifier
	replay  *auth.ReplayGuard
	log     *logging.Logger

	agentOfflineInterval     time.Duration
	assignmentExpiryInterval time.Duration
	sessionExpiryInterval    time.Duration
	totpReplayInterval       time.Duration
}

// NewRunner builds a Runner. replay may be nil if TOTP is not in use, in
// which case the replay sweep is a no-op.
func NewRunner(s *store.Store, notify Notifier, replay *auth.ReplayGuard) *Runner {
	return &Runner{
		store:                    s,
		notify:                   notify,
		replay:                   replay,
		log:                      logging.New("SWEEP"),
		agentOfflineInterval:     AgentOfflineInterval,
		assignmentExpiryInterval: AssignmentExpiryInterval,
		sessionExpiryInterval:    SessionExpiryInterval,
		totpReplayInterval:       TOTPReplayInterval,
	}
}

// Start launches all four sweeps as independent goroutines and returns
// immediately. They stop when ctx is cancelled.
func (r *Runner) Start(ctx context.Context) {
	go r.loop(ctx, "agent-offline", r.agentOfflineInterval, r.sweepAgentOffline)
	go r.loop(ctx, "assignment-expiry", r.assignmentExpiryInterval, r.sweepAssignmentExpiry)
	go r.loop(ctx, "session-expiry", r.sessionExpiryInterval, r.sweepSessionExpiry)
	go r.loop(ctx, "totp-replay", r.totpReplayInterval, r.sweepTOTPReplay)
}

func (r *Runner) loop(ctx context.Context, name string, interval time.Duration, task func(context.Context)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	r.log.Printf("starting %s sweep (interval: %v)", name, interval)

	for {
		select {
		case <-ctx.Done():
			r.log.Printf("%s sweep stopping", name)
			return
		case <-ticker.C:
			task(ctx)
		}
	}
}

// sweepAgentOffline marks silent agents offline and requeues the
// challenges they owned (spec.md §4.7 "agent offline sweep").
func (r *Runner) sweepAgentOffline(ctx context.Context) {
	err := r.store.WithWrite(ctx, func(tx *store.Tx) error {
		cutoff := tx.Now().Add(-OfflineCutoff)
		stale, err := tx.ListStaleOnlineAgents(cutoff)
		if err != nil {
			return err
		}
		for _, agent := range stale {
			if err := tx.MarkAgentOffline(agent.ID); err != nil {
				return err
			}
			requeued, err := tx.RequeueOwnedBy(agent.ID)
			if err != nil {
				return err
			}
			if r.notify != nil {
				r.notify.NotifyAgentOffline(agent.ID, requeued)
			}
		}
		return nil
	})
	if err != nil {
		r.log.Printf("agent-offline sweep failed: %v", err)
	}
}

// sweepAssignmentExpiry clears ownership on challenges whose assignment
// TTL has lapsed (spec.md §4.7 "assignment expiry sweep").
func (r *Runner) sweepAssignmentExpiry(ctx context.Context) {
	err := r.store.WithWrite(ctx, func(tx *store.Tx) error {
		expired, err := tx.ExpireStaleAssignments()
		if err != nil {
			return err
		}
		if r.notify != nil {
			for _, challengeID := range expired {
				r.notify.NotifyAssignmentExpired(challengeID)
			}
		}
		return nil
	})
	if err != nil {
		r.log.Printf("assignment-expiry sweep failed: %v", err)
	}
}

// sweepSessionExpiry deletes sessions past their sliding expiry (spec.md
// §4.7 "session expiry sweep").
func (r *Runner) sweepSessionExpiry(ctx context.Context) {
	err := r.store.WithWrite(ctx, func(tx *store.Tx) error {
		_, err := tx.ExpireSessions()
		return err
	})
	if err != nil {
		r.log.Printf("session-expiry sweep failed: %v", err)
	}
}

// sweepTOTPReplay drops entries from the in-memory replay cache older
// than two 30s windows (spec.md §4.7 "TOTP replay sweep").
func (r *Runner) sweepTOTPReplay(ctx context.Context) {
	if r.replay == nil {
		return
	}
	r.replay.Sweep()
}
