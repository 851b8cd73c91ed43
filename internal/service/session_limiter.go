package service

import (
	"context"

	"streamportal/gatekeeper/internal/model"
	"streamportal/gatekeeper/internal/repository"
)

// singleSessionLimiter is the default collaborator for individual and center
// codes: at most one active session per code. The richer per-center policy
// lives outside this service.
type singleSessionLimiter struct {
	sessions repository.SessionRepository
}

func NewSingleSessionLimiter(sessions repository.SessionRepository) SessionLimiter {
	return &singleSessionLimiter{sessions: sessions}
}

func (l *singleSessionLimiter) Authorize(ctx context.Context, code *model.AccessCode) error {
	active, err := l.sessions.CountActiveByCode(ctx, code.ID)
	if err != nil {
		return newDatabaseError("session_count", code.ID, err)
	}
	limit := int64(code.MaxUsageCount)
	if limit < 1 {
		limit = 1
	}
	if active >= limit {
		return newCapacityExceeded(code.ID, int(active), int(limit))
	}
	return nil
}
