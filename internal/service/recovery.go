package service

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Operation tags keying the recovery policy table.
const (
	OpCapacityCheck   = "capacity_check"
	OpUsageIncrement  = "usage_increment"
	OpSessionCreation = "session_creation"
	OpRollback        = "rollback"
	OpConflict        = "concurrent_access_conflict"
	OpDatabase        = "database"
)

// RecoveryAction tells the caller what to do after recovery completes.
type RecoveryAction string

const (
	// ActionRetryStep means the failed sub-step was retried in place.
	ActionRetryStep RecoveryAction = "retry_step"
	// ActionRetryFlow means the caller should re-run the whole admission:
	// the losing side of a race must re-observe capacity, not replay a
	// stale decision.
	ActionRetryFlow RecoveryAction = "retry_flow"
)

// RecoveryPolicy bounds retries for one operation tag.
type RecoveryPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Action         RecoveryAction
}

// DefaultRecoveryPolicies encodes the per-kind retry posture. Conflicts get a
// short single sleep and a flow-level retry signal; check/increment failures
// absorb transient datastore hiccups with a few medium backoffs; session
// creation retries barely at all because it pairs with immediate rollback;
// generic database errors probe connectivity longest before giving up.
func DefaultRecoveryPolicies() map[string]RecoveryPolicy {
	return map[string]RecoveryPolicy{
		OpConflict:        {MaxAttempts: 1, InitialBackoff: 50 * time.Millisecond, MaxBackoff: 400 * time.Millisecond, Action: ActionRetryFlow},
		OpCapacityCheck:   {MaxAttempts: 3, InitialBackoff: 200 * time.Millisecond, MaxBackoff: 2 * time.Second, Action: ActionRetryStep},
		OpUsageIncrement:  {MaxAttempts: 3, InitialBackoff: 200 * time.Millisecond, MaxBackoff: 2 * time.Second, Action: ActionRetryStep},
		OpSessionCreation: {MaxAttempts: 2, InitialBackoff: 100 * time.Millisecond, MaxBackoff: 500 * time.Millisecond, Action: ActionRetryFlow},
		OpDatabase:        {MaxAttempts: 4, InitialBackoff: 500 * time.Millisecond, MaxBackoff: 5 * time.Second, Action: ActionRetryStep},
	}
}

// RecoveryResult summarizes one recovery run.
type RecoveryResult struct {
	Success  bool           `json:"success"`
	Attempts int            `json:"attempts"`
	Duration time.Duration  `json:"duration"`
	Action   RecoveryAction `json:"action"`
}

// RecoveryManager executes bounded, jittered-exponential retries for
// idempotent sub-operations and tracks in-flight recoveries per tag.
// One instance per process, injected into the admission service.
type RecoveryManager struct {
	mu       sync.Mutex
	policies map[string]RecoveryPolicy
	inFlight map[string]int
	logger   *zap.Logger

	sleep func(ctx context.Context, d time.Duration) error
}

func NewRecoveryManager(policies map[string]RecoveryPolicy, logger *zap.Logger) *RecoveryManager {
	if policies == nil {
		policies = DefaultRecoveryPolicies()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RecoveryManager{
		policies: policies,
		inFlight: make(map[string]int),
		logger:   logger,
		sleep:    sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (m *RecoveryManager) policy(op string) RecoveryPolicy {
	if p, ok := m.policies[op]; ok {
		return p
	}
	return m.policies[OpDatabase]
}

// backoff returns the jittered exponential delay for the given attempt
// (1-based): half the window is deterministic, half random.
func (m *RecoveryManager) backoff(p RecoveryPolicy, attempt int) time.Duration {
	d := p.InitialBackoff << (attempt - 1)
	if d > p.MaxBackoff || d <= 0 {
		d = p.MaxBackoff
	}
	return d/2 + time.Duration(rand.Int63n(int64(d/2)+1))
}

func (m *RecoveryManager) track(op string, delta int) {
	m.mu.Lock()
	m.inFlight[op] += delta
	if m.inFlight[op] <= 0 {
		delete(m.inFlight, op)
	}
	m.mu.Unlock()
}

// Run retries fn under the policy for op until it succeeds, attempts are
// exhausted, or ctx is done. A nil fn performs no retries and only applies
// the policy's backoff sleep; the conflict tag uses this to pace the caller
// before signaling a flow-level retry.
func (m *RecoveryManager) Run(ctx context.Context, op string, codeID uuid.UUID, fn func(context.Context) error) RecoveryResult {
	p := m.policy(op)
	start := time.Now()

	m.track(op, 1)
	defer m.track(op, -1)

	if fn == nil {
		_ = m.sleep(ctx, m.backoff(p, 1))
		return RecoveryResult{Attempts: 0, Duration: time.Since(start), Action: p.Action}
	}

	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			m.logger.Info("recovery succeeded",
				zap.String("op", op),
				zap.String("code_id", codeID.String()),
				zap.Int("attempts", attempt))
			return RecoveryResult{Success: true, Attempts: attempt, Duration: time.Since(start), Action: p.Action}
		}
		if attempt == p.MaxAttempts {
			break
		}
		if err := m.sleep(ctx, m.backoff(p, attempt)); err != nil {
			lastErr = err
			break
		}
	}

	m.logger.Warn("recovery exhausted",
		zap.String("op", op),
		zap.String("code_id", codeID.String()),
		zap.Int("max_attempts", p.MaxAttempts),
		zap.Error(lastErr))
	return RecoveryResult{Attempts: p.MaxAttempts, Duration: time.Since(start), Action: p.Action}
}

// ActiveRecoveries snapshots in-flight recovery counts by operation.
func (m *RecoveryManager) ActiveRecoveries() map[string]int {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]int, len(m.inFlight))
	for op, n := range m.inFlight {
		out[op] = n
	}
	return out
}
