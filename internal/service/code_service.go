package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"streamportal/gatekeeper/internal/model"
	"streamportal/gatekeeper/internal/repository"
	"streamportal/gatekeeper/pkg/crypto"
)

type CreateCodeParams struct {
	Code          string
	Type          model.CodeType
	MaxUsageCount int
	ExpiresAt     *time.Time
	EventID       *uuid.UUID
}

type CodeService interface {
	CreateCode(ctx context.Context, params CreateCodeParams) (*model.AccessCode, error)
	ListCodes(ctx context.Context) ([]model.AccessCode, error)
	DeactivateCode(ctx context.Context, id uuid.UUID) error
}

type codeService struct {
	codes repository.AccessCodeRepository
}

func NewCodeService(codes repository.AccessCodeRepository) CodeService {
	return &codeService{codes: codes}
}

func (s *codeService) CreateCode(ctx context.Context, params CreateCodeParams) (*model.AccessCode, error) {
	if params.MaxUsageCount <= 0 {
		params.MaxUsageCount = 1
	}
	switch params.Type {
	case model.CodeTypeIndividual, model.CodeTypeCenter, model.CodeTypeBulk:
	default:
		return nil, fmt.Errorf("unsupported code type %q", params.Type)
	}

	codeStr := strings.ToUpper(strings.TrimSpace(params.Code))
	if codeStr == "" {
		generated, err := crypto.GenerateAccessCode()
		if err != nil {
			return nil, fmt.Errorf("generate access code: %w", err)
		}
		codeStr = generated
	}

	ac := &model.AccessCode{
		Code:          codeStr,
		Type:          params.Type,
		MaxUsageCount: params.MaxUsageCount,
		IsActive:      true,
		ExpiresAt:     params.ExpiresAt,
		EventID:       params.EventID,
	}
	if err := s.codes.Create(ctx, ac); err != nil {
		return nil, fmt.Errorf("create access code: %w", err)
	}
	return ac, nil
}

func (s *codeService) ListCodes(ctx context.Context) ([]model.AccessCode, error) {
	return s.codes.List(ctx)
}

func (s *codeService) DeactivateCode(ctx context.Context, id uuid.UUID) error {
	return s.codes.SetActive(ctx, id, false)
}
