package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"estatehub/internal/caching"
	"estatehub/internal/common"
	"estatehub/internal/models"
	"estatehub/internal/repositories"

	"github.com/sirupsen/logrus"
)

const defaultCatalogTTL = 10 * time.Minute

// CatalogService serves plans and featured packages, read-through cached.
type CatalogService interface {
	GetPlan(ctx context.Context, slug string) (*models.Plan, error)
	ListPlans(ctx context.Context) ([]*models.Plan, error)
	GetFeaturedPackage(ctx context.Context, id int64) (*models.FeaturedPackage, error)
	ListFeaturedPackages(ctx context.Context) ([]*models.FeaturedPackage, error)
}

type catalogService struct {
	plans  repositories.PlanRepository
	cache  caching.CacheService
	ttl    time.Duration
	logger logrus.FieldLogger
}

// NewCatalogService creates a catalog. cache may be nil to always read the database.
func NewCatalogService(plans repositories.PlanRepository, cache caching.CacheService, ttl time.Duration, logger logrus.FieldLogger) CatalogService {
	if ttl <= 0 {
		ttl = defaultCatalogTTL
	}
	return &catalogService{plans: plans, cache: cache, ttl: ttl, logger: logger}
}

// GetPlan returns an active plan or a validation error.
func (s *catalogService) GetPlan(ctx context.Context, slug string) (*models.Plan, error) {
	if s.cache != nil {
		plan, err := s.cache.GetPlan(ctx, slug)
		if err != nil {
			s.logger.WithError(err).Warn("plan cache read failed")
		} else if plan != nil {
			return plan, nil
		}
	}

	plan, err := s.plans.GetPlanBySlug(ctx, slug)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, common.NewValidationError("plan %q is not available", slug)
		}
		return nil, fmt.Errorf("failed to load plan: %w", err)
	}
	if !plan.Active {
		return nil, common.NewValidationError("plan %q is not available", slug)
	}

	if s.cache != nil {
		if err := s.cache.SetPlan(ctx, plan, s.ttl); err != nil {
			s.logger.WithError(err).Warn("plan cache write failed")
		}
	}
	return plan, nil
}

func (s *catalogService) ListPlans(ctx context.Context) ([]*models.Plan, error) {
	if s.cache != nil {
		plans, err := s.cache.GetActivePlans(ctx)
		if err != nil {
			s.logger.WithError(err).Warn("plan list cache read failed")
		} else if plans != nil {
			return plans, nil
		}
	}

	plans, err := s.plans.ListActivePlans(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list plans: %w", err)
	}
	if plans == nil {
		plans = []*models.Plan{}
	}

	if s.cache != nil {
		if err := s.cache.SetActivePlans(ctx, plans, s.ttl); err != nil {
			s.logger.WithError(err).Warn("plan list cache write failed")
		}
	}
	return plans, nil
}

// GetFeaturedPackage returns an active featured package or a validation error.
func (s *catalogService) GetFeaturedPackage(ctx context.Context, id int64) (*models.FeaturedPackage, error) {
	if s.cache != nil {
		pkg, err := s.cache.GetFeaturedPackage(ctx, id)
		if err != nil {
			s.logger.WithError(err).Warn("featured package cache read failed")
		} else if pkg != nil {
			return pkg, nil
		}
	}

	pkg, err := s.plans.GetFeaturedPackage(ctx, id)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, common.NewValidationError("featured package %d is not available", id)
		}
		return nil, fmt.Errorf("failed to load featured package: %w", err)
	}
	if !pkg.Active {
		return nil, common.NewValidationError("featured package %d is not available", id)
	}

	if s.cache != nil {
		if err := s.cache.SetFeaturedPackage(ctx, pkg, s.ttl); err != nil {
			s.logger.WithError(err).Warn("featured package cache write failed")
		}
	}
	return pkg, nil
}

func (s *catalogService) ListFeaturedPackages(ctx context.Context) ([]*models.FeaturedPackage, error) {
	if s.cache != nil {
		packages, err := s.cache.GetActiveFeaturedPackages(ctx)
		if err != nil {
			s.logger.WithError(err).Warn("featured package list cache read failed")
		} else if packages != nil {
			return packages, nil
		}
	}

	packages, err := s.plans.ListActiveFeaturedPackages(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list featured packages: %w", err)
	}
	if packages == nil {
		packages = []*models.FeaturedPackage{}
	}

	if s.cache != nil {
		if err := s.cache.SetActiveFeaturedPackages(ctx, packages, s.ttl); err != nil {
			s.logger.WithError(err).Warn("featured package list cache write failed")
		}
	}
	return packages, nil
}
