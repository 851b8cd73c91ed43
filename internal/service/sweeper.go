package service

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"streamportal/gatekeeper/internal/cache"
	"streamportal/gatekeeper/internal/model"
	"streamportal/gatekeeper/internal/repository"
)

// SweepResult reports what one sweep pass changed.
type SweepResult struct {
	SessionsCleaned    int `json:"sessions_cleaned"`
	CodesDeactivated   int `json:"codes_deactivated"`
	SessionsTerminated int `json:"sessions_terminated"`
	CodesReconciled    int `json:"codes_reconciled"`
	Errors             int `json:"errors"`
}

func (r *SweepResult) add(other SweepResult) {
	r.SessionsCleaned += other.SessionsCleaned
	r.CodesDeactivated += other.CodesDeactivated
	r.SessionsTerminated += other.SessionsTerminated
	r.CodesReconciled += other.CodesReconciled
	r.Errors += other.Errors
}

// Sweeper reconciles session and ledger state against time-based rules. It
// shares no locks with the admission path: every mutation goes through the
// same guarded statements, so the two converge without coordination.
type Sweeper struct {
	codes    repository.AccessCodeRepository
	sessions repository.SessionRepository
	ledger   repository.CapacityLedger
	cache    cache.SnapshotCache
	audit    *AuditLog
	logger   *zap.Logger

	interval            time.Duration
	inactivityThreshold time.Duration
	now                 func() time.Time

	mu       sync.Mutex
	suspects map[uuid.UUID]struct{}
}

func NewSweeper(
	codes repository.AccessCodeRepository,
	sessions repository.SessionRepository,
	ledger repository.CapacityLedger,
	snapCache cache.SnapshotCache,
	audit *AuditLog,
	logger *zap.Logger,
	interval, inactivityThreshold time.Duration,
) *Sweeper {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if inactivityThreshold <= 0 {
		inactivityThreshold = 30 * time.Minute
	}
	return &Sweeper{
		codes:               codes,
		sessions:            sessions,
		ledger:              ledger,
		cache:               snapCache,
		audit:               audit,
		logger:              logger,
		interval:            interval,
		inactivityThreshold: inactivityThreshold,
		now:                 func() time.Time { return time.Now().UTC() },
		suspects:            make(map[uuid.UUID]struct{}),
	}
}

// WithClock overrides the internal clock for deterministic tests.
func (s *Sweeper) WithClock(clock func() time.Time) {
	if clock != nil {
		s.now = clock
	}
}

// MarkSuspect queues a code for forced usage reconciliation on the next pass.
// Fed by failed compensations, whose overcount would otherwise persist.
func (s *Sweeper) MarkSuspect(codeID uuid.UUID) {
	s.mu.Lock()
	s.suspects[codeID] = struct{}{}
	s.mu.Unlock()
}

// Run executes sweep passes on a timer until ctx is done.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("sweeper started",
		zap.Duration("interval", s.interval),
		zap.Duration("inactivity_threshold", s.inactivityThreshold))

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("sweeper stopped")
			return
		case <-ticker.C:
			result := s.Sweep(ctx)
			s.logger.Info("sweep pass finished",
				zap.Int("sessions_cleaned", result.SessionsCleaned),
				zap.Int("codes_deactivated", result.CodesDeactivated),
				zap.Int("sessions_terminated", result.SessionsTerminated),
				zap.Int("codes_reconciled", result.CodesReconciled),
				zap.Int("errors", result.Errors))
		}
	}
}

// Sweep runs all reconciliation actions in one pass.
func (s *Sweeper) Sweep(ctx context.Context) SweepResult {
	var result SweepResult
	result.add(s.SweepInactive(ctx))
	result.add(s.SweepExpired(ctx))
	result.add(s.reconcileSuspects(ctx))
	return result
}

// SweepInactive ends sessions without a heartbeat inside the threshold window
// and releases their bulk codes' slots. It processes the snapshot taken at
// sweep start; a failure on one session never blocks the rest of the batch.
func (s *Sweeper) SweepInactive(ctx context.Context) SweepResult {
	var result SweepResult
	now := s.now()
	cutoff := now.Add(-s.inactivityThreshold)

	stale, err := s.sessions.FindInactiveSince(ctx, cutoff)
	if err != nil {
		s.logger.Error("inactivity sweep: snapshot query failed", zap.Error(err))
		result.Errors++
		return result
	}

	for i := range stale {
		session := &stale[i]
		ended, err := s.sessions.End(ctx, session.ID, now)
		if err != nil {
			s.logger.Error("inactivity sweep: failed to end session",
				zap.String("session_id", session.ID.String()), zap.Error(err))
			result.Errors++
			continue
		}
		if !ended {
			// Lost a race with logout or a previous sweep; the slot was
			// already released by whoever ended it.
			continue
		}
		result.SessionsCleaned++

		if err := s.releaseSlot(ctx, session.CodeID); err != nil {
			result.Errors++
			continue
		}
	}

	if result.SessionsCleaned > 0 && s.audit != nil {
		s.audit.Record(AuditEntry{
			Event:   "inactivity_sweep",
			Message: "ended stale sessions",
			Current: result.SessionsCleaned,
		})
	}
	return result
}

// releaseSlot decrements the ledger for a bulk code's ended session.
func (s *Sweeper) releaseSlot(ctx context.Context, codeID uuid.UUID) error {
	ac, err := s.codes.GetByID(ctx, codeID)
	if err != nil {
		s.logger.Error("inactivity sweep: code lookup failed",
			zap.String("code_id", codeID.String()), zap.Error(err))
		return err
	}
	if ac.Type != model.CodeTypeBulk {
		return nil
	}
	if _, err := s.ledger.DecrementUsage(ctx, ac.ID); err != nil {
		s.logger.Error("inactivity sweep: decrement failed",
			zap.String("code_id", ac.ID.String()), zap.Error(err))
		s.MarkSuspect(ac.ID)
		return err
	}
	s.cache.Invalidate(ctx, ac.Code)
	return nil
}

// SweepExpired deactivates bulk codes past expiry, zeroes their usage, and
// force-ends all their remaining sessions regardless of activity recency.
func (s *Sweeper) SweepExpired(ctx context.Context) SweepResult {
	var result SweepResult
	now := s.now()

	expired, err := s.codes.FindExpiredBulk(ctx, now)
	if err != nil {
		s.logger.Error("expiry sweep: query failed", zap.Error(err))
		result.Errors++
		return result
	}

	for i := range expired {
		ac := &expired[i]
		deactivated, err := s.codes.DeactivateExpired(ctx, ac.ID, now)
		if err != nil {
			s.logger.Error("expiry sweep: deactivate failed",
				zap.String("code_id", ac.ID.String()), zap.Error(err))
			result.Errors++
			continue
		}
		if deactivated {
			result.CodesDeactivated++
		}

		terminated, err := s.sessions.EndAllByCode(ctx, ac.ID, now)
		if err != nil {
			s.logger.Error("expiry sweep: force-end failed",
				zap.String("code_id", ac.ID.String()), zap.Error(err))
			result.Errors++
			continue
		}
		result.SessionsTerminated += int(terminated)
		s.cache.Invalidate(ctx, ac.Code)

		if s.audit != nil {
			s.audit.Record(AuditEntry{
				Event:   "expiry_sweep",
				CodeID:  ac.ID,
				Message: "expired code deactivated",
				Current: int(terminated),
			})
		}
	}
	return result
}

// reconcileSuspects rewrites usage_count from the active-session count for
// codes flagged by failed compensations. Requeues on failure.
func (s *Sweeper) reconcileSuspects(ctx context.Context) SweepResult {
	var result SweepResult

	s.mu.Lock()
	pending := make([]uuid.UUID, 0, len(s.suspects))
	for id := range s.suspects {
		pending = append(pending, id)
	}
	s.suspects = make(map[uuid.UUID]struct{})
	s.mu.Unlock()

	for _, codeID := range pending {
		if err := s.ledger.SyncUsageToActiveSessions(ctx, codeID); err != nil {
			s.logger.Error("suspect reconciliation failed",
				zap.String("code_id", codeID.String()), zap.Error(err))
			s.MarkSuspect(codeID)
			result.Errors++
			continue
		}
		result.CodesReconciled++
		s.logger.Info("suspect code reconciled", zap.String("code_id", codeID.String()))
	}
	return result
}

// Outstanding reports work visible before a sweep: stale sessions, expired
// codes, and queued suspects. Read-only, for the admin surface.
func (s *Sweeper) Outstanding(ctx context.Context) (staleSessions, expiredCodes, suspects int, err error) {
	now := s.now()

	stale, err := s.sessions.FindInactiveSince(ctx, now.Add(-s.inactivityThreshold))
	if err != nil {
		return 0, 0, 0, err
	}
	expired, err := s.codes.FindExpiredBulk(ctx, now)
	if err != nil {
		return 0, 0, 0, err
	}
	s.mu.Lock()
	suspects = len(s.suspects)
	s.mu.Unlock()
	return len(stale), len(expired), suspects, nil
}

var _ SuspectRecorder = (*Sweeper)(nil)
