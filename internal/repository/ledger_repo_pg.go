package repository

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"streamportal/gatekeeper/internal/model"
)

type pgCapacityLedger struct {
	db *gorm.DB
}

func NewPGCapacityLedger(db *gorm.DB) CapacityLedger {
	return &pgCapacityLedger{db: db}
}

const capacityPredicate = "id = ? AND is_active AND usage_count < max_usage_count " +
	"AND (expires_at IS NULL OR expires_at > now())"

func (r *pgCapacityLedger) CheckCapacity(ctx context.Context, codeID uuid.UUID) (bool, error) {
	var n int64
	err := r.db.WithContext(ctx).
		Model(&model.AccessCode{}).
		Where(capacityPredicate, codeID).
		Count(&n).Error
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *pgCapacityLedger) IncrementUsage(ctx context.Context, codeID uuid.UUID) (bool, error) {
	// The predicate re-check and the increment share one UPDATE statement, so
	// two racers for the last slot cannot both pass: the row lock serializes
	// them and the loser's WHERE no longer matches.
	tx := r.db.WithContext(ctx).
		Model(&model.AccessCode{}).
		Where(capacityPredicate, codeID).
		UpdateColumn("usage_count", gorm.Expr("usage_count + 1"))
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected == 1, nil
}

func (r *pgCapacityLedger) DecrementUsage(ctx context.Context, codeID uuid.UUID) (bool, error) {
	tx := r.db.WithContext(ctx).
		Model(&model.AccessCode{}).
		Where("id = ?", codeID).
		UpdateColumn("usage_count", gorm.Expr("GREATEST(usage_count - 1, 0)"))
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected == 1, nil
}

func (r *pgCapacityLedger) SyncUsageToActiveSessions(ctx context.Context, codeID uuid.UUID) error {
	return r.db.WithContext(ctx).
		Model(&model.AccessCode{}).
		Where("id = ?", codeID).
		UpdateColumn("usage_count", gorm.Expr(
			"(SELECT count(*) FROM sessions WHERE sessions.code_id = access_codes.id AND sessions.is_active)",
		)).Error
}
