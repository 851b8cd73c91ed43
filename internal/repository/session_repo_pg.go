package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"streamportal/gatekeeper/internal/model"
)

type pgSessionRepository struct {
	db *gorm.DB
}

func NewPGSessionRepository(db *gorm.DB) SessionRepository {
	return &pgSessionRepository{db: db}
}

func (r *pgSessionRepository) Create(ctx context.Context, session *model.Session) error {
	return r.db.WithContext(ctx).Create(session).Error
}

func (r *pgSessionRepository) GetByToken(ctx context.Context, token string) (*model.Session, error) {
	var s model.Session
	err := r.db.WithContext(ctx).Where("token = ?", token).First(&s).Error
	if err != nil {
		return nil, translateError(err)
	}
	return &s, nil
}

func (r *pgSessionRepository) Touch(ctx context.Context, token string, at time.Time) (bool, error) {
	tx := r.db.WithContext(ctx).
		Model(&model.Session{}).
		Where("token = ? AND is_active", token).
		UpdateColumn("last_activity", at)
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected == 1, nil
}

func (r *pgSessionRepository) End(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	tx := r.db.WithContext(ctx).
		Model(&model.Session{}).
		Where("id = ? AND is_active", id).
		UpdateColumns(map[string]interface{}{
			"is_active": false,
			"ended_at":  at,
		})
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected == 1, nil
}

func (r *pgSessionRepository) FindInactiveSince(ctx context.Context, cutoff time.Time) ([]model.Session, error) {
	var sessions []model.Session
	err := r.db.WithContext(ctx).
		Where("is_active AND last_activity < ?", cutoff).
		Find(&sessions).Error
	if err != nil {
		return nil, err
	}
	return sessions, nil
}

func (r *pgSessionRepository) EndAllByCode(ctx context.Context, codeID uuid.UUID, at time.Time) (int64, error) {
	tx := r.db.WithContext(ctx).
		Model(&model.Session{}).
		Where("code_id = ? AND is_active", codeID).
		UpdateColumns(map[string]interface{}{
			"is_active": false,
			"ended_at":  at,
		})
	return tx.RowsAffected, tx.Error
}

func (r *pgSessionRepository) CountActiveByCode(ctx context.Context, codeID uuid.UUID) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).
		Model(&model.Session{}).
		Where("code_id = ? AND is_active", codeID).
		Count(&n).Error
	return n, err
}
