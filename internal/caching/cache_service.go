package caching

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"estatehub/internal/models"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const keyPrefix = "estatehub:billing"

// CacheService caches billing reference data. A miss returns (nil, nil).
type CacheService interface {
	GetPlan(ctx context.Context, slug string) (*models.Plan, error)
	SetPlan(ctx context.Context, plan *models.Plan, ttl time.Duration) error
	GetActivePlans(ctx context.Context) ([]*models.Plan, error)
	SetActivePlans(ctx context.Context, plans []*models.Plan, ttl time.Duration) error

	GetFeaturedPackage(ctx context.Context, id int64) (*models.FeaturedPackage, error)
	SetFeaturedPackage(ctx context.Context, pkg *models.FeaturedPackage, ttl time.Duration) error
	GetActiveFeaturedPackages(ctx context.Context) ([]*models.FeaturedPackage, error)
	SetActiveFeaturedPackages(ctx context.Context, packages []*models.FeaturedPackage, ttl time.Duration) error

	InvalidateCatalog(ctx context.Context) error
	Ping(ctx context.Context) error
}

type redisCacheService struct {
	client *redis.Client
}

func NewRedisCacheService(addr, password string, db int, logger logrus.FieldLogger) CacheService {
	// Accept redis://host:port as well as host:port
	parsedAddr := strings.TrimPrefix(strings.TrimPrefix(addr, "redis://"), "rediss://")

	client := redis.NewClient(&redis.Options{
		Addr:     parsedAddr,
		Password: password,
		DB:       db,
	})

	if pingErr := client.Ping(context.Background()).Err(); pingErr != nil {
		logger.WithError(pingErr).WithField("address", parsedAddr).Warn("redis ping failed on initialization")
	} else {
		logger.WithField("address", parsedAddr).Debug("redis connection established")
	}

	return &redisCacheService{client: client}
}

// NewCacheServiceFromClient wraps an existing client.
func NewCacheServiceFromClient(client *redis.Client) CacheService {
	return &redisCacheService{client: client}
}

func planKey(slug string) string {
	return fmt.Sprintf("%s:plan:%s", keyPrefix, slug)
}

func featuredPackageKey(id int64) string {
	return fmt.Sprintf("%s:featured_package:%d", keyPrefix, id)
}

var (
	activePlansKey    = keyPrefix + ":plans:active"
	activePackagesKey = keyPrefix + ":featured_packages:active"
)

func (r *redisCacheService) getJSON(ctx context.Context, key string, dest interface{}) (bool, error) {
	data, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, err
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return false, err
	}
	return true, nil
}

func (r *redisCacheService) setJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, key, data, ttl).Err()
}

func (r *redisCacheService) GetPlan(ctx context.Context, slug string) (*models.Plan, error) {
	var plan models.Plan
	found, err := r.getJSON(ctx, planKey(slug), &plan)
	if err != nil || !found {
		return nil, err
	}
	return &plan, nil
}

func (r *redisCacheService) SetPlan(ctx context.Context, plan *models.Plan, ttl time.Duration) error {
	return r.setJSON(ctx, planKey(plan.Slug), plan, ttl)
}

func (r *redisCacheService) GetActivePlans(ctx context.Context) ([]*models.Plan, error) {
	var plans []*models.Plan
	found, err := r.getJSON(ctx, activePlansKey, &plans)
	if err != nil || !found {
		return nil, err
	}
	return plans, nil
}

func (r *redisCacheService) SetActivePlans(ctx context.Context, plans []*models.Plan, ttl time.Duration) error {
	return r.setJSON(ctx, activePlansKey, plans, ttl)
}

func (r *redisCacheService) GetFeaturedPackage(ctx context.Context, id int64) (*models.FeaturedPackage, error) {
	var pkg models.FeaturedPackage
	found, err := r.getJSON(ctx, featuredPackageKey(id), &pkg)
	if err != nil || !found {
		return nil, err
	}
	return &pkg, nil
}

func (r *redisCacheService) SetFeaturedPackage(ctx context.Context, pkg *models.FeaturedPackage, ttl time.Duration) error {
	return r.setJSON(ctx, featuredPackageKey(pkg.ID), pkg, ttl)
}

func (r *redisCacheService) GetActiveFeaturedPackages(ctx context.Context) ([]*models.FeaturedPackage, error) {
	var packages []*models.FeaturedPackage
	found, err := r.getJSON(ctx, activePackagesKey, &packages)
	if err != nil || !found {
		return nil, err
	}
	return packages, nil
}

func (r *redisCacheService) SetActiveFeaturedPackages(ctx context.Context, packages []*models.FeaturedPackage, ttl time.Duration) error {
	return r.setJSON(ctx, activePackagesKey, packages, ttl)
}

// InvalidateCatalog drops every cached plan and featured package.
func (r *redisCacheService) InvalidateCatalog(ctx context.Context) error {
	iter := r.client.Scan(ctx, 0, keyPrefix+":*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	return r.client.Del(ctx, keys...).Err()
}

func (r *redisCacheService) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
