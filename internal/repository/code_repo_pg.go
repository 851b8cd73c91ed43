package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"streamportal/gatekeeper/internal/model"
)

type pgAccessCodeRepository struct {
	db *gorm.DB
}

func NewPGAccessCodeRepository(db *gorm.DB) AccessCodeRepository {
	return &pgAccessCodeRepository{db: db}
}

func (r *pgAccessCodeRepository) Create(ctx context.Context, code *model.AccessCode) error {
	return r.db.WithContext(ctx).Create(code).Error
}

func (r *pgAccessCodeRepository) GetByCode(ctx context.Context, code string) (*model.AccessCode, error) {
	var ac model.AccessCode
	err := r.db.WithContext(ctx).
		Preload("Event").
		Where("upper(code) = ?", code).
		First(&ac).Error
	if err != nil {
		return nil, translateError(err)
	}
	return &ac, nil
}

func (r *pgAccessCodeRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.AccessCode, error) {
	var ac model.AccessCode
	err := r.db.WithContext(ctx).
		Preload("Event").
		First(&ac, "id = ?", id).Error
	if err != nil {
		return nil, translateError(err)
	}
	return &ac, nil
}

func (r *pgAccessCodeRepository) List(ctx context.Context) ([]model.AccessCode, error) {
	var codes []model.AccessCode
	if err := r.db.WithContext(ctx).Order("created_at DESC").Find(&codes).Error; err != nil {
		return nil, err
	}
	return codes, nil
}

func (r *pgAccessCodeRepository) SetActive(ctx context.Context, id uuid.UUID, active bool) error {
	return r.db.WithContext(ctx).
		Model(&model.AccessCode{}).
		Where("id = ?", id).
		UpdateColumn("is_active", active).Error
}

func (r *pgAccessCodeRepository) FindExpiredBulk(ctx context.Context, now time.Time) ([]model.AccessCode, error) {
	var codes []model.AccessCode
	err := r.db.WithContext(ctx).
		Where("type = ? AND is_active AND expires_at IS NOT NULL AND expires_at < ?",
			model.CodeTypeBulk, now).
		Find(&codes).Error
	if err != nil {
		return nil, err
	}
	return codes, nil
}

func (r *pgAccessCodeRepository) DeactivateExpired(ctx context.Context, id uuid.UUID, now time.Time) (bool, error) {
	tx := r.db.WithContext(ctx).
		Model(&model.AccessCode{}).
		Where("id = ? AND is_active AND expires_at IS NOT NULL AND expires_at < ?", id, now).
		UpdateColumns(map[string]interface{}{
			"is_active":   false,
			"usage_count": 0,
		})
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected == 1, nil
}
