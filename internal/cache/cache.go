package cache

import (
	"context"
	"time"

	"github.com/google/uuid"

	"streamportal/gatekeeper/internal/model"
)

// Snapshot is a point-in-time copy of an access code's admission-relevant
// fields. It is never authoritative: the admission path may use it only to
// fast-reject obviously-full codes, never to grant admission.
type Snapshot struct {
	ID            uuid.UUID      `json:"id"`
	Code          string         `json:"code"`
	Type          model.CodeType `json:"type"`
	UsageCount    int            `json:"usage_count"`
	MaxUsageCount int            `json:"max_usage_count"`
	IsActive      bool           `json:"is_active"`
	ExpiresAt     *time.Time     `json:"expires_at,omitempty"`
	EventID       *uuid.UUID     `json:"event_id,omitempty"`
	CachedAt      time.Time      `json:"cached_at"`
}

// AtCapacity reports whether the cached counters leave no free slot.
// True short-circuits an admission; false means nothing.
func (s *Snapshot) AtCapacity() bool {
	return s.UsageCount >= s.MaxUsageCount
}

// SnapshotFromCode builds a snapshot from a freshly loaded ledger row.
func SnapshotFromCode(ac *model.AccessCode, now time.Time) *Snapshot {
	return &Snapshot{
		ID:            ac.ID,
		Code:          ac.Code,
		Type:          ac.Type,
		UsageCount:    ac.UsageCount,
		MaxUsageCount: ac.MaxUsageCount,
		IsActive:      ac.IsActive,
		ExpiresAt:     ac.ExpiresAt,
		EventID:       ac.EventID,
		CachedAt:      now,
	}
}

// Stats is the read-mostly snapshot exposed on the admin surface.
type Stats struct {
	Entries int    `json:"entries"`
	Backend string `json:"backend"`
}

// SnapshotCache mirrors ledger rows for the fast-reject pre-check.
// Implementations: in-process map (default, per-process as designed) or Redis
// for deployments that want the advisory state shared across instances.
type SnapshotCache interface {
	Get(ctx context.Context, code string) (*Snapshot, bool)
	Put(ctx context.Context, snap *Snapshot)
	// SetUsageCount overwrites the cached counter after the admission
	// controller's own ledger mutation, so the cache does not lag its writer.
	// A no-op when the code is not cached.
	SetUsageCount(ctx context.Context, code string, count int)
	Invalidate(ctx context.Context, code string)
	Stats(ctx context.Context) Stats
	// Reset drops every entry. Test/teardown hook.
	Reset(ctx context.Context)
}
