package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"streamportal/gatekeeper/internal/model"
)

type AccessCodeRepository interface {
	Create(ctx context.Context, code *model.AccessCode) error
	// GetByCode looks a code up by its uppercase-normalized string, with the
	// linked event preloaded. Returns ErrNotFound when absent.
	GetByCode(ctx context.Context, code string) (*model.AccessCode, error)
	GetByID(ctx context.Context, id uuid.UUID) (*model.AccessCode, error)
	List(ctx context.Context) ([]model.AccessCode, error)
	SetActive(ctx context.Context, id uuid.UUID, active bool) error
	// FindExpiredBulk returns active bulk codes whose expiry has passed.
	FindExpiredBulk(ctx context.Context, now time.Time) ([]model.AccessCode, error)
	// DeactivateExpired flips the code inactive and zeroes its usage in one
	// statement, guarded on is_active so a repeat run is a no-op. Returns
	// whether the row was changed.
	DeactivateExpired(ctx context.Context, id uuid.UUID, now time.Time) (bool, error)
}
