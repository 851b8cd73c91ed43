package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"streamportal/gatekeeper/internal/model"
)

type SessionRepository interface {
	Create(ctx context.Context, session *model.Session) error
	GetByToken(ctx context.Context, token string) (*model.Session, error)
	// Touch advances last_activity on an active session. Returns false when
	// the session does not exist or is already ended.
	Touch(ctx context.Context, token string, at time.Time) (bool, error)
	// End marks one session inactive with ended_at set, guarded on is_active
	// so concurrent or repeated ends report false instead of double-counting.
	End(ctx context.Context, id uuid.UUID, at time.Time) (bool, error)
	// FindInactiveSince returns the snapshot of active sessions whose
	// last_activity predates the cutoff.
	FindInactiveSince(ctx context.Context, cutoff time.Time) ([]model.Session, error)
	// EndAllByCode force-ends every active session of a code and returns how
	// many rows were changed.
	EndAllByCode(ctx context.Context, codeID uuid.UUID, at time.Time) (int64, error)
	CountActiveByCode(ctx context.Context, codeID uuid.UUID) (int64, error)
}
