package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"streamportal/gatekeeper/internal/cache"
	"streamportal/gatekeeper/internal/model"
	jwtpkg "streamportal/gatekeeper/pkg/jwt"
)

type fakeSuspects struct {
	mu  sync.Mutex
	ids []uuid.UUID
}

func (f *fakeSuspects) MarkSuspect(codeID uuid.UUID) {
	f.mu.Lock()
	f.ids = append(f.ids, codeID)
	f.mu.Unlock()
}

type admissionEnv struct {
	store    *memStore
	codes    *fakeCodeRepo
	sessions *fakeSessionRepo
	ledger   *fakeLedger
	cache    cache.SnapshotCache
	suspects *fakeSuspects
	svc      *admissionService
}

func newAdmissionEnv(codes ...*model.AccessCode) *admissionEnv {
	store := newMemStore(codes...)
	env := &admissionEnv{
		store:    store,
		codes:    &fakeCodeRepo{store: store},
		sessions: &fakeSessionRepo{store: store},
		ledger:   &fakeLedger{store: store},
		cache:    cache.NewMemorySnapshotCache(time.Minute),
		suspects: &fakeSuspects{},
	}

	recovery := NewRecoveryManager(nil, nil)
	recovery.sleep = func(context.Context, time.Duration) error { return nil }

	tokens := jwtpkg.NewManager("test-signing-key", "gatekeeper-test", time.Hour, time.Hour)
	svc := NewAdmissionService(
		env.codes, env.sessions, env.ledger, env.cache,
		recovery, NewAuditLog(nil), NewPerformanceMonitor(),
		NewSingleSessionLimiter(env.sessions),
		tokens, env.suspects, nil,
	)
	env.svc = svc.(*admissionService)
	return env
}

func bulkCode(code string, usage, max int) *model.AccessCode {
	return &model.AccessCode{
		ID:            uuid.New(),
		Code:          code,
		Type:          model.CodeTypeBulk,
		UsageCount:    usage,
		MaxUsageCount: max,
		IsActive:      true,
	}
}

func kindOfErr(t *testing.T, err error) ErrorKind {
	t.Helper()
	ae, ok := AsAdmissionError(err)
	if !ok {
		t.Fatalf("expected AdmissionError, got %v", err)
	}
	return ae.Kind
}

func TestAdmitSuccess(t *testing.T) {
	code := bulkCode("EVENT2026", 0, 5)
	env := newAdmissionEnv(code)

	result, err := env.svc.Admit(context.Background(), "  event2026 ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.CodeName != "EVENT2026" || result.CodeType != model.CodeTypeBulk {
		t.Errorf("unexpected result: %+v", result)
	}
	if result.Token == "" {
		t.Error("expected a session token")
	}
	if got := env.store.code(code.ID).UsageCount; got != 1 {
		t.Errorf("usage_count = %d, want 1", got)
	}
	if got := env.store.activeSessionCount(code.ID); got != 1 {
		t.Errorf("active sessions = %d, want 1", got)
	}
}

func TestAdmitInvalidCode(t *testing.T) {
	env := newAdmissionEnv()
	_, err := env.svc.Admit(context.Background(), "NOPE")
	if kindOfErr(t, err) != KindInvalidCode {
		t.Errorf("kind = %v, want %v", kindOfErr(t, err), KindInvalidCode)
	}

	_, err = env.svc.Admit(context.Background(), "   ")
	if kindOfErr(t, err) != KindInvalidCode {
		t.Errorf("blank code kind = %v, want %v", kindOfErr(t, err), KindInvalidCode)
	}
}

func TestAdmitInactiveCode(t *testing.T) {
	code := bulkCode("GONE", 0, 5)
	code.IsActive = false
	env := newAdmissionEnv(code)

	_, err := env.svc.Admit(context.Background(), "GONE")
	if kindOfErr(t, err) != KindInvalidCode {
		t.Errorf("kind = %v, want %v", kindOfErr(t, err), KindInvalidCode)
	}
}

func TestAdmitExpiredCode(t *testing.T) {
	code := bulkCode("OLD", 0, 5)
	past := time.Now().Add(-time.Hour)
	code.ExpiresAt = &past
	env := newAdmissionEnv(code)

	_, err := env.svc.Admit(context.Background(), "OLD")
	if kindOfErr(t, err) != KindCodeExpired {
		t.Errorf("kind = %v, want %v", kindOfErr(t, err), KindCodeExpired)
	}
	if env.ledger.incCalls != 0 {
		t.Errorf("expired code reached the ledger: %d increment calls", env.ledger.incCalls)
	}
}

// Ten concurrent admissions against two free slots: exactly two succeed, the
// rest split between conflict and capacity refusals, and the counter lands on
// the cap.
func TestAdmitConcurrentBurstNoOvershoot(t *testing.T) {
	code := bulkCode("BURST", 3, 5)
	env := newAdmissionEnv(code)

	const attempts = 10
	var wg sync.WaitGroup
	errs := make([]error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = env.svc.Admit(context.Background(), "BURST")
		}(i)
	}
	wg.Wait()

	var succeeded, refused int
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		switch kindOfErr(t, err) {
		case KindConcurrentAccessConflict, KindCapacityExceeded:
			refused++
		default:
			t.Errorf("unexpected kind %v", kindOfErr(t, err))
		}
	}
	if succeeded != 2 {
		t.Errorf("succeeded = %d, want 2", succeeded)
	}
	if refused != attempts-2 {
		t.Errorf("refused = %d, want %d", refused, attempts-2)
	}
	if got := env.store.code(code.ID).UsageCount; got != 5 {
		t.Errorf("usage_count = %d, want 5", got)
	}
	if got := env.store.activeSessionCount(code.ID); got != 2 {
		t.Errorf("active sessions = %d, want 2", got)
	}
}

// A failed session insert after a successful increment must leave the counter
// exactly where it started and no session behind.
func TestAdmitCompensatesFailedSessionCreation(t *testing.T) {
	code := bulkCode("COMP", 2, 5)
	env := newAdmissionEnv(code)
	env.sessions.createFailures = 10
	env.sessions.createErr = errors.New("insert failed")

	_, err := env.svc.Admit(context.Background(), "COMP")
	if kindOfErr(t, err) != KindSessionCreationFailed {
		t.Fatalf("kind = %v, want %v", kindOfErr(t, err), KindSessionCreationFailed)
	}
	if got := env.store.code(code.ID).UsageCount; got != 2 {
		t.Errorf("usage_count = %d, want 2 (net zero)", got)
	}
	if got := env.store.activeSessionCount(code.ID); got != 0 {
		t.Errorf("active sessions = %d, want 0", got)
	}
	if env.ledger.decCalls == 0 {
		t.Error("expected a compensating decrement")
	}
}

func TestAdmitRollbackFailureMarksSuspect(t *testing.T) {
	code := bulkCode("RB", 0, 5)
	env := newAdmissionEnv(code)
	env.sessions.createFailures = 10
	env.sessions.createErr = errors.New("insert failed")
	env.ledger.decErr = errors.New("connection lost")

	_, err := env.svc.Admit(context.Background(), "RB")
	if kindOfErr(t, err) != KindRollbackFailed {
		t.Fatalf("kind = %v, want %v", kindOfErr(t, err), KindRollbackFailed)
	}
	ae, _ := AsAdmissionError(err)
	if !ae.OperatorAttention() {
		t.Error("rollback failure should demand operator attention")
	}
	env.suspects.mu.Lock()
	defer env.suspects.mu.Unlock()
	if len(env.suspects.ids) != 1 || env.suspects.ids[0] != code.ID {
		t.Errorf("suspects = %v, want [%v]", env.suspects.ids, code.ID)
	}
}

// Session creation is retried per policy before the rollback fires.
func TestAdmitRetriesSessionCreationBeforeCompensating(t *testing.T) {
	code := bulkCode("FLAKY", 0, 5)
	env := newAdmissionEnv(code)
	env.sessions.createFailures = 1
	env.sessions.createErr = errors.New("transient")

	result, err := env.svc.Admit(context.Background(), "FLAKY")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.SessionID == uuid.Nil {
		t.Error("expected a session id")
	}
	if got := env.store.code(code.ID).UsageCount; got != 1 {
		t.Errorf("usage_count = %d, want 1", got)
	}
}

// With the cache reporting a full code, the ledger must not be called at all.
func TestAdmitFastRejectSkipsLedger(t *testing.T) {
	code := bulkCode("FULL", 5, 5)
	env := newAdmissionEnv(code)
	env.cache.Put(context.Background(), cache.SnapshotFromCode(code, time.Now()))

	_, err := env.svc.Admit(context.Background(), "FULL")
	if kindOfErr(t, err) != KindCapacityExceeded {
		t.Fatalf("kind = %v, want %v", kindOfErr(t, err), KindCapacityExceeded)
	}
	if env.ledger.checkCalls != 0 || env.ledger.incCalls != 0 {
		t.Errorf("ledger touched on fast-reject: check=%d inc=%d",
			env.ledger.checkCalls, env.ledger.incCalls)
	}
}

// The cache claiming free capacity is never sufficient: with the authoritative
// path failing closed there must be zero admissions.
func TestAdmitCacheAloneNeverAdmits(t *testing.T) {
	code := bulkCode("CACHED", 0, 5)
	env := newAdmissionEnv(code)
	env.cache.Put(context.Background(), cache.SnapshotFromCode(code, time.Now()))
	env.ledger.failClosed = true

	for i := 0; i < 5; i++ {
		_, err := env.svc.Admit(context.Background(), "CACHED")
		if err == nil {
			t.Fatal("admission succeeded on cache evidence alone")
		}
		if kind := kindOfErr(t, err); kind != KindCapacityExceeded {
			t.Errorf("kind = %v, want %v", kind, KindCapacityExceeded)
		}
	}
	if got := env.store.activeSessionCount(code.ID); got != 0 {
		t.Errorf("active sessions = %d, want 0", got)
	}
}

// Transient ledger errors on the increment are absorbed by step recovery.
func TestAdmitRecoversTransientIncrementFailure(t *testing.T) {
	code := bulkCode("HICCUP", 0, 5)
	env := newAdmissionEnv(code)
	env.ledger.incFailures = 2
	env.ledger.opErr = errors.New("timeout")

	result, err := env.svc.Admit(context.Background(), "HICCUP")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.SessionID == uuid.Nil {
		t.Error("expected a session id")
	}
	if got := env.store.code(code.ID).UsageCount; got != 1 {
		t.Errorf("usage_count = %d, want 1", got)
	}
}

func TestAdmitCapacityCheckExhaustionFails(t *testing.T) {
	code := bulkCode("DOWN", 0, 5)
	env := newAdmissionEnv(code)
	env.ledger.checkFailures = 100
	env.ledger.opErr = errors.New("connection refused")

	_, err := env.svc.Admit(context.Background(), "DOWN")
	if kindOfErr(t, err) != KindCapacityCheckFailed {
		t.Fatalf("kind = %v, want %v", kindOfErr(t, err), KindCapacityCheckFailed)
	}
	ae, _ := AsAdmissionError(err)
	if !ae.RetryableByCaller() {
		t.Error("capacity check failure should be retryable by the caller")
	}
	if env.ledger.incCalls != 0 {
		t.Error("increment must not run after a failed capacity check")
	}
}

func TestAdmitConflictIsRetryableByCaller(t *testing.T) {
	code := bulkCode("RACE", 5, 5)
	env := newAdmissionEnv(code)
	// Cache snapshot is stale and claims a free slot; the ledger says no.
	stale := *code
	stale.UsageCount = 4
	env.cache.Put(context.Background(), cache.SnapshotFromCode(&stale, time.Now()))
	// CheckCapacity passes on the stale view only if the ledger agrees; force
	// the pre-check through and let the increment lose.
	env.ledger.failClosed = false

	_, err := env.svc.Admit(context.Background(), "RACE")
	ae, ok := AsAdmissionError(err)
	if !ok {
		t.Fatalf("expected AdmissionError, got %v", err)
	}
	if ae.Kind != KindCapacityExceeded && ae.Kind != KindConcurrentAccessConflict {
		t.Fatalf("kind = %v, want capacity refusal", ae.Kind)
	}
}

func TestAdmitNonBulkUsesSessionLimiter(t *testing.T) {
	code := &model.AccessCode{
		ID:            uuid.New(),
		Code:          "SOLO",
		Type:          model.CodeTypeIndividual,
		MaxUsageCount: 1,
		IsActive:      true,
	}
	env := newAdmissionEnv(code)

	first, err := env.svc.Admit(context.Background(), "SOLO")
	if err != nil {
		t.Fatalf("first admission failed: %v", err)
	}
	if first.CodeType != model.CodeTypeIndividual {
		t.Errorf("code type = %v", first.CodeType)
	}
	if env.ledger.incCalls != 0 {
		t.Error("non-bulk codes must not touch the capacity ledger")
	}

	_, err = env.svc.Admit(context.Background(), "SOLO")
	if kindOfErr(t, err) != KindCapacityExceeded {
		t.Errorf("second admission kind = %v, want %v", kindOfErr(t, err), KindCapacityExceeded)
	}
}

func TestHeartbeatAdvancesLastActivity(t *testing.T) {
	code := bulkCode("HB", 0, 5)
	env := newAdmissionEnv(code)

	result, err := env.svc.Admit(context.Background(), "HB")
	if err != nil {
		t.Fatalf("admit failed: %v", err)
	}

	later := time.Now().Add(10 * time.Minute).UTC()
	env.svc.WithClock(func() time.Time { return later })

	if err := env.svc.Heartbeat(context.Background(), result.Token); err != nil {
		t.Fatalf("heartbeat failed: %v", err)
	}

	env.store.mu.Lock()
	session := env.store.sessions[result.SessionID]
	env.store.mu.Unlock()
	if !session.LastActivity.Equal(later) {
		t.Errorf("last_activity = %v, want %v", session.LastActivity, later)
	}

	if err := env.svc.Heartbeat(context.Background(), "not-a-token"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("bogus token error = %v, want ErrSessionNotFound", err)
	}
}

func TestLogoutReleasesSlot(t *testing.T) {
	code := bulkCode("OUT", 0, 5)
	env := newAdmissionEnv(code)

	result, err := env.svc.Admit(context.Background(), "OUT")
	if err != nil {
		t.Fatalf("admit failed: %v", err)
	}
	if got := env.store.code(code.ID).UsageCount; got != 1 {
		t.Fatalf("usage_count = %d, want 1", got)
	}

	if err := env.svc.Logout(context.Background(), result.Token); err != nil {
		t.Fatalf("logout failed: %v", err)
	}
	if got := env.store.code(code.ID).UsageCount; got != 0 {
		t.Errorf("usage_count = %d, want 0 after logout", got)
	}
	if got := env.store.activeSessionCount(code.ID); got != 0 {
		t.Errorf("active sessions = %d, want 0", got)
	}

	// Second logout of the same session must not double-decrement.
	if err := env.svc.Logout(context.Background(), result.Token); !errors.Is(err, ErrSessionEnded) {
		t.Errorf("second logout error = %v, want ErrSessionEnded", err)
	}
	if got := env.store.code(code.ID).UsageCount; got != 0 {
		t.Errorf("usage_count = %d, want 0 after repeat logout", got)
	}
}
