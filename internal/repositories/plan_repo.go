package repositories

import (
	"context"

	"estatehub/internal/models"
)

// PlanRepository reads billing reference data. Plans and featured packages
// are maintained through the admin tooling.
type PlanRepository interface {
	GetPlanBySlug(ctx context.Context, slug string) (*models.Plan, error)
	ListActivePlans(ctx context.Context) ([]*models.Plan, error)
	GetFeaturedPackage(ctx context.Context, id int64) (*models.FeaturedPackage, error)
	ListActiveFeaturedPackages(ctx context.Context) ([]*models.FeaturedPackage, error)
}

type planRepo struct {
	db Database
}

func NewPlanRepo(db Database) PlanRepository {
	return &planRepo{db: db}
}

const planColumns = `id, slug, name, description, price, currency, billing_interval, external_price_ref, active, created_at`

func scanPlan(row rowScanner) (*models.Plan, error) {
	plan := &models.Plan{}
	err := row.Scan(&plan.ID, &plan.Slug, &plan.Name, &plan.Description, &plan.Price, &plan.Currency, &plan.Interval,
		&plan.ExternalPriceRef, &plan.Active, &plan.CreatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return plan, nil
}

const featuredPackageColumns = `id, name, price, currency, duration_days, active, created_at`

func scanFeaturedPackage(row rowScanner) (*models.FeaturedPackage, error) {
	pkg := &models.FeaturedPackage{}
	err := row.Scan(&pkg.ID, &pkg.Name, &pkg.Price, &pkg.Currency, &pkg.DurationDays, &pkg.Active, &pkg.CreatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return pkg, nil
}

func (r *planRepo) GetPlanBySlug(ctx context.Context, slug string) (*models.Plan, error) {
	query := `SELECT ` + planColumns + ` FROM plans WHERE slug = $1`
	return scanPlan(r.db.QueryRow(ctx, query, slug))
}

func (r *planRepo) ListActivePlans(ctx context.Context) ([]*models.Plan, error) {
	query := `SELECT ` + planColumns + ` FROM plans WHERE active = TRUE ORDER BY price`
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var plans []*models.Plan
	for rows.Next() {
		plan, err := scanPlan(rows)
		if err != nil {
			return nil, err
		}
		plans = append(plans, plan)
	}
	return plans, rows.Err()
}

func (r *planRepo) GetFeaturedPackage(ctx context.Context, id int64) (*models.FeaturedPackage, error) {
	query := `SELECT ` + featuredPackageColumns + ` FROM featured_packages WHERE id = $1`
	return scanFeaturedPackage(r.db.QueryRow(ctx, query, id))
}

func (r *planRepo) ListActiveFeaturedPackages(ctx context.Context) ([]*models.FeaturedPackage, error) {
	query := `SELECT ` + featuredPackageColumns + ` FROM featured_packages WHERE active = TRUE ORDER BY duration_days`
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var packages []*models.FeaturedPackage
	for rows.Next() {
		pkg, err := scanFeaturedPackage(rows)
		if err != nil {
			return nil, err
		}
		packages = append(packages, pkg)
	}
	return packages, rows.Err()
}
