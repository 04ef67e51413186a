package repositories

import (
	"context"
	"time"

	"estatehub/internal/models"
)

// ListingRepository covers the featured-placement columns of listings.
// Listing CRUD belongs to the marketplace catalogue.
type ListingRepository interface {
	GetByID(ctx context.Context, id int64) (*models.Listing, error)
	SetFeatured(ctx context.Context, id int64, until time.Time) error
	ClearFeatured(ctx context.Context, id int64) error
	ClearExpiredFeatured(ctx context.Context, now time.Time) (int64, error)
}

type listingRepo struct {
	db Database
}

func NewListingRepo(db Database) ListingRepository {
	return &listingRepo{db: db}
}

func (r *listingRepo) GetByID(ctx context.Context, id int64) (*models.Listing, error) {
	listing := &models.Listing{}
	query := `SELECT id, owner_id, is_featured, featured_until FROM listings WHERE id = $1`
	err := r.db.QueryRow(ctx, query, id).Scan(&listing.ID, &listing.OwnerID, &listing.IsFeatured, &listing.FeaturedUntil)
	if err != nil {
		return nil, notFound(err)
	}
	return listing, nil
}

func (r *listingRepo) SetFeatured(ctx context.Context, id int64, until time.Time) error {
	query := `UPDATE listings SET is_featured = TRUE, featured_until = $1, updated_at = NOW() WHERE id = $2`
	tag, err := r.db.Exec(ctx, query, until, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *listingRepo) ClearFeatured(ctx context.Context, id int64) error {
	query := `UPDATE listings SET is_featured = FALSE, featured_until = NULL, updated_at = NOW() WHERE id = $1`
	_, err := r.db.Exec(ctx, query, id)
	return err
}

func (r *listingRepo) ClearExpiredFeatured(ctx context.Context, now time.Time) (int64, error) {
	query := `
		UPDATE listings SET is_featured = FALSE, featured_until = NULL, updated_at = NOW()
		WHERE is_featured = TRUE AND featured_until IS NOT NULL AND featured_until <= $1
	`
	tag, err := r.db.Exec(ctx, query, now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
