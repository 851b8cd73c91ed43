package repository

import (
	"context"

	"github.com/google/uuid"
)

// CapacityLedger exposes the three atomic capacity-accounting operations on an
// access code. Each call is a single indivisible statement at the datastore:
// concurrent callers on the same code id serialize on the row, which is what
// keeps usage_count within [0, max_usage_count] without any in-process lock.
//
// A false return means the datastore said no (capacity unavailable, code
// inactive or expired); an error means the datastore could not answer. Callers
// must treat the two differently.
type CapacityLedger interface {
	// CheckCapacity reports whether the code is active, unexpired, and below
	// its cap. Read-only; a true result is advisory and can be invalidated by
	// a concurrent admission before the caller acts on it.
	CheckCapacity(ctx context.Context, codeID uuid.UUID) (bool, error)

	// IncrementUsage re-validates the capacity predicate and bumps usage_count
	// in one statement. Returns false without mutating when the predicate no
	// longer holds (another caller won the last slot, the code was deactivated
	// or expired).
	IncrementUsage(ctx context.Context, codeID uuid.UUID) (bool, error)

	// DecrementUsage releases one slot, clamped at zero. Used for normal
	// session end and for compensating rollback.
	DecrementUsage(ctx context.Context, codeID uuid.UUID) (bool, error)

	// SyncUsageToActiveSessions rewrites usage_count from the count of active
	// sessions for the code. Reconciliation only; never on the admission path.
	SyncUsageToActiveSessions(ctx context.Context, codeID uuid.UUID) error
}
