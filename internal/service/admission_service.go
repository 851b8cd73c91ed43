package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"streamportal/gatekeeper/internal/cache"
	"streamportal/gatekeeper/internal/model"
	"streamportal/gatekeeper/internal/repository"
	jwtpkg "streamportal/gatekeeper/pkg/jwt"
)

var (
	ErrSessionNotFound = errors.New("session not found or already ended")
	ErrSessionEnded    = errors.New("session already ended")
)

// EventInfo carries the display fields of a linked event.
type EventInfo struct {
	ID       uuid.UUID  `json:"id"`
	Title    string     `json:"title"`
	StartsAt *time.Time `json:"starts_at,omitempty"`
	EndsAt   *time.Time `json:"ends_at,omitempty"`
}

// AdmissionResult is the success payload of one admission.
type AdmissionResult struct {
	SessionID uuid.UUID      `json:"session_id"`
	Token     string         `json:"token"`
	CodeID    uuid.UUID      `json:"code_id"`
	CodeName  string         `json:"code_name"`
	CodeType  model.CodeType `json:"code_type"`
	Event     *EventInfo     `json:"event,omitempty"`
}

// SessionLimiter is the collaborator handling individual/center codes, whose
// per-code session rules live outside the bulk capacity ledger.
type SessionLimiter interface {
	Authorize(ctx context.Context, code *model.AccessCode) error
}

// SuspectRecorder receives code ids whose ledger state may be inconsistent
// (failed compensation) so the next sweep can force-reconcile them.
type SuspectRecorder interface {
	MarkSuspect(codeID uuid.UUID)
}

type AdmissionService interface {
	// Admit runs one login attempt against an access code. Exactly one
	// terminal outcome per call: a result, or an *AdmissionError.
	Admit(ctx context.Context, rawCode string) (*AdmissionResult, error)
	// Heartbeat advances last_activity on an active session.
	Heartbeat(ctx context.Context, token string) error
	// Logout ends a session and releases its ledger slot.
	Logout(ctx context.Context, token string) error
}

type admissionService struct {
	codes    repository.AccessCodeRepository
	sessions repository.SessionRepository
	ledger   repository.CapacityLedger
	cache    cache.SnapshotCache
	recovery *RecoveryManager
	audit    *AuditLog
	monitor  *PerformanceMonitor
	limiter  SessionLimiter
	tokens   *jwtpkg.Manager
	suspects SuspectRecorder
	logger   *zap.Logger
	now      func() time.Time
}

func NewAdmissionService(
	codes repository.AccessCodeRepository,
	sessions repository.SessionRepository,
	ledger repository.CapacityLedger,
	snapCache cache.SnapshotCache,
	recovery *RecoveryManager,
	audit *AuditLog,
	monitor *PerformanceMonitor,
	limiter SessionLimiter,
	tokens *jwtpkg.Manager,
	suspects SuspectRecorder,
	logger *zap.Logger,
) AdmissionService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &admissionService{
		codes:    codes,
		sessions: sessions,
		ledger:   ledger,
		cache:    snapCache,
		recovery: recovery,
		audit:    audit,
		monitor:  monitor,
		limiter:  limiter,
		tokens:   tokens,
		suspects: suspects,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the internal clock for deterministic tests.
func (s *admissionService) WithClock(clock func() time.Time) {
	if clock != nil {
		s.now = clock
	}
}

func (s *admissionService) Admit(ctx context.Context, rawCode string) (result *AdmissionResult, err error) {
	done := s.monitor.Begin("admit")
	defer func() {
		done(err != nil)
		if ae, ok := AsAdmissionError(err); ok {
			s.audit.RecordError(ae)
		}
	}()

	codeStr := strings.ToUpper(strings.TrimSpace(rawCode))
	if codeStr == "" {
		return nil, newInvalidCode()
	}

	snap, err := s.resolve(ctx, codeStr)
	if err != nil {
		return nil, err
	}
	now := s.now()

	if !snap.IsActive {
		return nil, newInvalidCode()
	}
	if snap.ExpiresAt != nil && snap.ExpiresAt.Before(now) {
		return nil, newCodeExpired(snap.ID)
	}

	if snap.Type != model.CodeTypeBulk {
		return s.admitNonBulk(ctx, snap)
	}

	// Advisory fast-reject before any ledger round trip. A full cache is
	// grounds to refuse; an under-capacity cache proves nothing.
	if snap.AtCapacity() {
		return nil, newCapacityExceeded(snap.ID, snap.UsageCount, snap.MaxUsageCount)
	}

	if err := s.checkCapacity(ctx, snap); err != nil {
		return nil, err
	}
	if err := s.incrementUsage(ctx, snap); err != nil {
		return nil, err
	}

	session, token, err := s.createSession(ctx, snap, now)
	if err != nil {
		return nil, err
	}

	s.cache.SetUsageCount(ctx, snap.Code, snap.UsageCount+1)
	s.audit.Record(AuditEntry{
		Event:   "admission_granted",
		CodeID:  snap.ID,
		Message: "viewer admitted",
		Current: snap.UsageCount + 1,
		Max:     snap.MaxUsageCount,
	})

	return s.buildResult(ctx, snap, session, token), nil
}

// resolve maps the normalized code string to a snapshot, consulting the cache
// first and populating it for bulk codes on a miss.
func (s *admissionService) resolve(ctx context.Context, codeStr string) (*cache.Snapshot, error) {
	if snap, ok := s.cache.Get(ctx, codeStr); ok {
		return snap, nil
	}

	ac, err := s.codes.GetByCode(ctx, codeStr)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, newInvalidCode()
		}
		return nil, newDatabaseError("code_lookup", uuid.Nil, err)
	}

	snap := cache.SnapshotFromCode(ac, s.now())
	if ac.Type == model.CodeTypeBulk {
		s.cache.Put(ctx, snap)
	}
	return snap, nil
}

// checkCapacity runs the authoritative read-only predicate with step-level
// recovery. The result only gates the expensive path: the increment
// re-validates the same predicate atomically.
func (s *admissionService) checkCapacity(ctx context.Context, snap *cache.Snapshot) error {
	hasCapacity, err := s.ledger.CheckCapacity(ctx, snap.ID)
	if err != nil {
		res := s.recovery.Run(ctx, OpCapacityCheck, snap.ID, func(ctx context.Context) error {
			var e error
			hasCapacity, e = s.ledger.CheckCapacity(ctx, snap.ID)
			return e
		})
		s.audit.Record(AuditEntry{
			Event:   "capacity_check_recovered",
			Op:      OpCapacityCheck,
			CodeID:  snap.ID,
			Message: "capacity check recovery finished",
		})
		if !res.Success {
			return newCapacityCheckFailed(snap.ID, err)
		}
	}
	if !hasCapacity {
		return newCapacityExceeded(snap.ID, snap.UsageCount, snap.MaxUsageCount)
	}
	return nil
}

// incrementUsage performs the atomic check-and-increment. A clean false is the
// expected outcome of losing a burst race and surfaces as a conflict the
// caller should resubmit, after the conflict policy's pacing sleep.
func (s *admissionService) incrementUsage(ctx context.Context, snap *cache.Snapshot) error {
	admitted, err := s.ledger.IncrementUsage(ctx, snap.ID)
	if err != nil {
		res := s.recovery.Run(ctx, OpUsageIncrement, snap.ID, func(ctx context.Context) error {
			var e error
			admitted, e = s.ledger.IncrementUsage(ctx, snap.ID)
			return e
		})
		if !res.Success {
			return newUsageIncrementFailed(snap.ID, err)
		}
	}
	if !admitted {
		s.audit.Record(AuditEntry{
			Event:   "concurrent_access_attempt",
			Op:      OpUsageIncrement,
			CodeID:  snap.ID,
			Message: "increment lost capacity race",
			Max:     snap.MaxUsageCount,
		})
		s.recovery.Run(ctx, OpConflict, snap.ID, nil)
		return newConcurrentAccessConflict(snap.ID, snap.MaxUsageCount)
	}
	return nil
}

// createSession inserts the session row; on persistent failure it must release
// the slot taken by the preceding increment before returning.
func (s *admissionService) createSession(ctx context.Context, snap *cache.Snapshot, now time.Time) (*model.Session, string, error) {
	jti := uuid.New().String()
	session := &model.Session{
		ID:           uuid.New(),
		CodeID:       snap.ID,
		Token:        jti,
		StartedAt:    now,
		LastActivity: now,
		IsActive:     true,
	}

	err := s.sessions.Create(ctx, session)
	if err != nil {
		res := s.recovery.Run(ctx, OpSessionCreation, snap.ID, func(ctx context.Context) error {
			return s.sessions.Create(ctx, session)
		})
		if !res.Success {
			return nil, "", s.compensate(ctx, snap, err)
		}
	}

	token, err := s.tokens.GenerateSessionToken(session.ID, snap.ID, jti)
	if err != nil {
		// Token signing is local; a failure here still ends the session
		// and releases the slot like any other post-increment failure.
		if _, endErr := s.sessions.End(ctx, session.ID, s.now()); endErr != nil {
			s.logger.Error("failed to end session after token failure",
				zap.String("session_id", session.ID.String()), zap.Error(endErr))
		}
		return nil, "", s.compensate(ctx, snap, err)
	}
	return session, token, nil
}

// compensate decrements the ledger after a failed session creation and
// classifies the outcome. A failed compensation is the one operator-severity
// condition: the ledger is left overcounted, so the code is marked for forced
// reconciliation on the next sweep.
func (s *admissionService) compensate(ctx context.Context, snap *cache.Snapshot, cause error) error {
	_, rbErr := s.ledger.DecrementUsage(ctx, snap.ID)
	s.audit.Record(AuditEntry{
		Event:   "rollback_attempt",
		Op:      OpRollback,
		CodeID:  snap.ID,
		Message: "compensating decrement after failed session creation",
	})
	if rbErr != nil {
		s.logger.Error("compensating decrement failed, ledger overcounted",
			zap.String("code_id", snap.ID.String()),
			zap.NamedError("cause", cause),
			zap.Error(rbErr))
		if s.suspects != nil {
			s.suspects.MarkSuspect(snap.ID)
		}
		return newRollbackFailed(snap.ID, rbErr)
	}
	s.cache.Invalidate(ctx, snap.Code)
	return newSessionCreationFailed(snap.ID, cause)
}

// admitNonBulk delegates individual/center codes to the external session-limit
// collaborator; they do not touch the capacity ledger.
func (s *admissionService) admitNonBulk(ctx context.Context, snap *cache.Snapshot) (*AdmissionResult, error) {
	ac, err := s.codes.GetByID(ctx, snap.ID)
	if err != nil {
		return nil, newDatabaseError("code_lookup", snap.ID, err)
	}
	if s.limiter != nil {
		if err := s.limiter.Authorize(ctx, ac); err != nil {
			var ae *AdmissionError
			if errors.As(err, &ae) {
				return nil, ae
			}
			return nil, newCapacityExceeded(ac.ID, ac.UsageCount, ac.MaxUsageCount)
		}
	}

	now := s.now()
	jti := uuid.New().String()
	session := &model.Session{
		ID:           uuid.New(),
		CodeID:       ac.ID,
		Token:        jti,
		StartedAt:    now,
		LastActivity: now,
		IsActive:     true,
	}
	if err := s.sessions.Create(ctx, session); err != nil {
		return nil, newSessionCreationFailed(ac.ID, err)
	}
	token, err := s.tokens.GenerateSessionToken(session.ID, ac.ID, jti)
	if err != nil {
		return nil, newSessionCreationFailed(ac.ID, err)
	}

	result := &AdmissionResult{
		SessionID: session.ID,
		Token:     token,
		CodeID:    ac.ID,
		CodeName:  ac.Code,
		CodeType:  ac.Type,
	}
	if ac.Event != nil {
		result.Event = &EventInfo{
			ID:       ac.Event.ID,
			Title:    ac.Event.Title,
			StartsAt: ac.Event.StartsAt,
			EndsAt:   ac.Event.EndsAt,
		}
	}
	return result, nil
}

func (s *admissionService) buildResult(ctx context.Context, snap *cache.Snapshot, session *model.Session, token string) *AdmissionResult {
	result := &AdmissionResult{
		SessionID: session.ID,
		Token:     token,
		CodeID:    snap.ID,
		CodeName:  snap.Code,
		CodeType:  snap.Type,
	}
	if snap.EventID == nil {
		return result
	}
	// Event fields are display-only; a lookup failure degrades the response
	// rather than failing an admission that already holds its slot.
	ac, err := s.codes.GetByID(ctx, snap.ID)
	if err != nil || ac.Event == nil {
		return result
	}
	result.Event = &EventInfo{
		ID:       ac.Event.ID,
		Title:    ac.Event.Title,
		StartsAt: ac.Event.StartsAt,
		EndsAt:   ac.Event.EndsAt,
	}
	return result
}

func (s *admissionService) Heartbeat(ctx context.Context, token string) error {
	claims, err := s.tokens.ValidateSessionToken(token)
	if err != nil {
		return ErrSessionNotFound
	}
	touched, err := s.sessions.Touch(ctx, claims.ID, s.now())
	if err != nil {
		return err
	}
	if !touched {
		return ErrSessionNotFound
	}
	return nil
}

func (s *admissionService) Logout(ctx context.Context, token string) error {
	claims, err := s.tokens.ValidateSessionToken(token)
	if err != nil {
		return ErrSessionNotFound
	}
	session, err := s.sessions.GetByToken(ctx, claims.ID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrSessionNotFound
		}
		return err
	}
	ended, err := s.sessions.End(ctx, session.ID, s.now())
	if err != nil {
		return err
	}
	if !ended {
		return ErrSessionEnded
	}

	ac, err := s.codes.GetByID(ctx, session.CodeID)
	if err != nil {
		return err
	}
	if ac.Type == model.CodeTypeBulk {
		if _, err := s.ledger.DecrementUsage(ctx, ac.ID); err != nil {
			s.logger.Error("failed to release slot on logout",
				zap.String("code_id", ac.ID.String()), zap.Error(err))
			if s.suspects != nil {
				s.suspects.MarkSuspect(ac.ID)
			}
			return err
		}
		s.cache.Invalidate(ctx, ac.Code)
	}
	s.audit.Record(AuditEntry{
		Event:   "session_ended",
		CodeID:  ac.ID,
		Message: "viewer logged out",
	})
	return nil
}

var _ AdmissionService = (*admissionService)(nil)
