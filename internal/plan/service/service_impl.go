package service

import (
	"context"
	"errors"
	"strings"

	plandomain "github.com/smallbiznis/couture/internal/plan/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB   *gorm.DB
	Log  *zap.Logger
	Repo plandomain.Repository
}

type Service struct {
	db   *gorm.DB
	log  *zap.Logger
	repo plandomain.Repository
}

func New(p Params) plandomain.Service {
	return &Service{
		db:   p.DB,
		log:  p.Log.Named("plan.service"),
		repo: p.Repo,
	}
}

func (s *Service) GetByCode(ctx context.Context, code string) (*plandomain.Plan, error) {
	return s.repo.FindByCode(ctx, s.db, code)
}

func (s *Service) List(ctx context.Context) ([]plandomain.Plan, error) {
	return s.repo.List(ctx, s.db)
}

func (s *Service) HasFeature(ctx context.Context, planCode, featureName string) (bool, error) {
	featureName = strings.TrimSpace(featureName)
	if featureName == "" {
		return false, nil
	}
	plan, err := s.repo.FindByCode(ctx, s.db, planCode)
	if err != nil {
		if errors.Is(err, plandomain.ErrPlanNotFound) || errors.Is(err, plandomain.ErrInvalidCode) {
			return false, nil
		}
		return false, err
	}
	return plan.HasFeature(featureName), nil
}
