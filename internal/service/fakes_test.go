package service

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"streamportal/gatekeeper/internal/model"
	"streamportal/gatekeeper/internal/repository"
)

// memStore backs the fake repositories with one mutex, so the fake ledger's
// check-and-increment is as atomic as the real single-statement UPDATE.
type memStore struct {
	mu       sync.Mutex
	codes    map[uuid.UUID]*model.AccessCode
	sessions map[uuid.UUID]*model.Session
	now      func() time.Time
}

func newMemStore(codes ...*model.AccessCode) *memStore {
	s := &memStore{
		codes:    make(map[uuid.UUID]*model.AccessCode),
		sessions: make(map[uuid.UUID]*model.Session),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, c := range codes {
		copied := *c
		s.codes[c.ID] = &copied
	}
	return s
}

func (s *memStore) code(id uuid.UUID) *model.AccessCode {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.codes[id]
	if !ok {
		return nil
	}
	copied := *c
	return &copied
}

func (s *memStore) activeSessionCount(codeID uuid.UUID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, sess := range s.sessions {
		if sess.CodeID == codeID && sess.IsActive {
			n++
		}
	}
	return n
}

type fakeCodeRepo struct {
	store  *memStore
	getErr error
}

func (r *fakeCodeRepo) Create(_ context.Context, code *model.AccessCode) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if code.ID == uuid.Nil {
		code.ID = uuid.New()
	}
	copied := *code
	r.store.codes[code.ID] = &copied
	return nil
}

func (r *fakeCodeRepo) GetByCode(_ context.Context, code string) (*model.AccessCode, error) {
	if r.getErr != nil {
		return nil, r.getErr
	}
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	for _, c := range r.store.codes {
		if strings.ToUpper(c.Code) == code {
			copied := *c
			return &copied, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *fakeCodeRepo) GetByID(_ context.Context, id uuid.UUID) (*model.AccessCode, error) {
	if r.getErr != nil {
		return nil, r.getErr
	}
	c := r.store.code(id)
	if c == nil {
		return nil, repository.ErrNotFound
	}
	return c, nil
}

func (r *fakeCodeRepo) List(_ context.Context) ([]model.AccessCode, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	out := make([]model.AccessCode, 0, len(r.store.codes))
	for _, c := range r.store.codes {
		out = append(out, *c)
	}
	return out, nil
}

func (r *fakeCodeRepo) SetActive(_ context.Context, id uuid.UUID, active bool) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if c, ok := r.store.codes[id]; ok {
		c.IsActive = active
	}
	return nil
}

func (r *fakeCodeRepo) FindExpiredBulk(_ context.Context, now time.Time) ([]model.AccessCode, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	var out []model.AccessCode
	for _, c := range r.store.codes {
		if c.Type == model.CodeTypeBulk && c.IsActive && c.ExpiresAt != nil && c.ExpiresAt.Before(now) {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (r *fakeCodeRepo) DeactivateExpired(_ context.Context, id uuid.UUID, now time.Time) (bool, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	c, ok := r.store.codes[id]
	if !ok || !c.IsActive || c.ExpiresAt == nil || !c.ExpiresAt.Before(now) {
		return false, nil
	}
	c.IsActive = false
	c.UsageCount = 0
	return true, nil
}

type fakeSessionRepo struct {
	store *memStore

	createFailures int // fail this many Create calls, then succeed
	createErr      error
	createCalls    int
}

func (r *fakeSessionRepo) Create(_ context.Context, session *model.Session) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	r.createCalls++
	if r.createFailures > 0 {
		r.createFailures--
		return r.createErr
	}
	copied := *session
	r.store.sessions[session.ID] = &copied
	return nil
}

func (r *fakeSessionRepo) GetByToken(_ context.Context, token string) (*model.Session, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	for _, s := range r.store.sessions {
		if s.Token == token {
			copied := *s
			return &copied, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *fakeSessionRepo) Touch(_ context.Context, token string, at time.Time) (bool, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	for _, s := range r.store.sessions {
		if s.Token == token && s.IsActive {
			s.LastActivity = at
			return true, nil
		}
	}
	return false, nil
}

func (r *fakeSessionRepo) End(_ context.Context, id uuid.UUID, at time.Time) (bool, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	s, ok := r.store.sessions[id]
	if !ok || !s.IsActive {
		return false, nil
	}
	s.IsActive = false
	ended := at
	s.EndedAt = &ended
	return true, nil
}

func (r *fakeSessionRepo) FindInactiveSince(_ context.Context, cutoff time.Time) ([]model.Session, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	var out []model.Session
	for _, s := range r.store.sessions {
		if s.IsActive && s.LastActivity.Before(cutoff) {
			out = append(out, *s)
		}
	}
	return out, nil
}

func (r *fakeSessionRepo) EndAllByCode(_ context.Context, codeID uuid.UUID, at time.Time) (int64, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	var n int64
	for _, s := range r.store.sessions {
		if s.CodeID == codeID && s.IsActive {
			s.IsActive = false
			ended := at
			s.EndedAt = &ended
			n++
		}
	}
	return n, nil
}

func (r *fakeSessionRepo) CountActiveByCode(_ context.Context, codeID uuid.UUID) (int64, error) {
	return int64(r.store.activeSessionCount(codeID)), nil
}

type fakeLedger struct {
	store *memStore

	checkFailures int // error out this many CheckCapacity calls
	incFailures   int // error out this many IncrementUsage calls
	opErr         error
	decErr        error
	failClosed    bool // authoritative path always says no

	checkCalls int
	incCalls   int
	decCalls   int
}

func (l *fakeLedger) predicate(c *model.AccessCode, now time.Time) bool {
	return c.IsActive && c.UsageCount < c.MaxUsageCount &&
		(c.ExpiresAt == nil || c.ExpiresAt.After(now))
}

func (l *fakeLedger) CheckCapacity(_ context.Context, codeID uuid.UUID) (bool, error) {
	l.store.mu.Lock()
	defer l.store.mu.Unlock()
	l.checkCalls++
	if l.checkFailures > 0 {
		l.checkFailures--
		return false, l.opErr
	}
	if l.failClosed {
		return false, nil
	}
	c, ok := l.store.codes[codeID]
	if !ok {
		return false, nil
	}
	return l.predicate(c, l.store.now()), nil
}

func (l *fakeLedger) IncrementUsage(_ context.Context, codeID uuid.UUID) (bool, error) {
	l.store.mu.Lock()
	defer l.store.mu.Unlock()
	l.incCalls++
	if l.incFailures > 0 {
		l.incFailures--
		return false, l.opErr
	}
	if l.failClosed {
		return false, nil
	}
	c, ok := l.store.codes[codeID]
	if !ok || !l.predicate(c, l.store.now()) {
		return false, nil
	}
	c.UsageCount++
	return true, nil
}

func (l *fakeLedger) DecrementUsage(_ context.Context, codeID uuid.UUID) (bool, error) {
	l.store.mu.Lock()
	defer l.store.mu.Unlock()
	l.decCalls++
	if l.decErr != nil {
		return false, l.decErr
	}
	c, ok := l.store.codes[codeID]
	if !ok {
		return false, nil
	}
	if c.UsageCount > 0 {
		c.UsageCount--
	}
	return true, nil
}

func (l *fakeLedger) SyncUsageToActiveSessions(_ context.Context, codeID uuid.UUID) error {
	l.store.mu.Lock()
	defer l.store.mu.Unlock()
	c, ok := l.store.codes[codeID]
	if !ok {
		return repository.ErrNotFound
	}
	n := 0
	for _, s := range l.store.sessions {
		if s.CodeID == codeID && s.IsActive {
			n++
		}
	}
	c.UsageCount = n
	return nil
}

var (
	_ repository.AccessCodeRepository = (*fakeCodeRepo)(nil)
	_ repository.SessionRepository    = (*fakeSessionRepo)(nil)
	_ repository.CapacityLedger       = (*fakeLedger)(nil)
)
