package repositories

import (
	"context"
	"fmt"
	"time"

	"estatehub/internal/models"

	"github.com/google/uuid"
)

type SubscriptionRepository interface {
	Create(ctx context.Context, subscription *models.Subscription) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Subscription, error)
	GetByExternalRef(ctx context.Context, externalRef string) (*models.Subscription, error)
	GetLatestByOwner(ctx context.Context, ownerID int64) (*models.Subscription, error)
	GetActiveByOwner(ctx context.Context, ownerID int64) (*models.Subscription, error)
	ListLapsed(ctx context.Context, now time.Time, limit int) ([]*models.Subscription, error)
	DisableAutoRenew(ctx context.Context, id uuid.UUID) error
	MarkExpired(ctx context.Context, id uuid.UUID, now time.Time) (bool, error)
	MarkCancelled(ctx context.Context, id uuid.UUID) (bool, error)
	ExtendPeriod(ctx context.Context, id uuid.UUID, endsAt time.Time) error
	ApplyGatewayState(ctx context.Context, id uuid.UUID, status models.SubscriptionStatus, endsAt time.Time, autoRenew bool) error
}

type subscriptionRepo struct {
	db Database
}

func NewSubscriptionRepo(db Database) SubscriptionRepository {
	return &subscriptionRepo{db: db}
}

const subscriptionColumns = `id, owner_id, plan_slug, status, starts_at, ends_at, auto_renew, external_subscription_ref, external_customer_ref, created_at, updated_at`

func scanSubscription(row rowScanner) (*models.Subscription, error) {
	subscription := &models.Subscription{}
	err := row.Scan(&subscription.ID, &subscription.OwnerID, &subscription.PlanSlug, &subscription.Status, &subscription.StartsAt, &subscription.EndsAt,
		&subscription.AutoRenew, &subscription.ExternalSubscriptionRef, &subscription.ExternalCustomerRef, &subscription.CreatedAt, &subscription.UpdatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return subscription, nil
}

// Create inserts a subscription. Losing the one-active-per-owner race
// surfaces as ErrActiveSubscriptionExists.
func (r *subscriptionRepo) Create(ctx context.Context, subscription *models.Subscription) error {
	query := `
		INSERT INTO subscriptions (id, owner_id, plan_slug, status, starts_at, ends_at, auto_renew, external_subscription_ref, external_customer_ref, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW(), NOW())
	`
	_, err := r.db.Exec(ctx, query, subscription.ID, subscription.OwnerID, subscription.PlanSlug, subscription.Status, subscription.StartsAt, subscription.EndsAt,
		subscription.AutoRenew, subscription.ExternalSubscriptionRef, subscription.ExternalCustomerRef)
	if err != nil {
		if isUniqueViolation(err, constraintOneActiveSubscription) {
			return ErrActiveSubscriptionExists
		}
		return fmt.Errorf("failed to insert subscription: %w", err)
	}
	return nil
}

func (r *subscriptionRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE id = $1`
	return scanSubscription(r.db.QueryRow(ctx, query, id))
}

func (r *subscriptionRepo) GetByExternalRef(ctx context.Context, externalRef string) (*models.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE external_subscription_ref = $1`
	return scanSubscription(r.db.QueryRow(ctx, query, externalRef))
}

func (r *subscriptionRepo) GetLatestByOwner(ctx context.Context, ownerID int64) (*models.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE owner_id = $1 ORDER BY created_at DESC LIMIT 1`
	return scanSubscription(r.db.QueryRow(ctx, query, ownerID))
}

func (r *subscriptionRepo) GetActiveByOwner(ctx context.Context, ownerID int64) (*models.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE owner_id = $1 AND status = 'active'`
	return scanSubscription(r.db.QueryRow(ctx, query, ownerID))
}

func (r *subscriptionRepo) ListLapsed(ctx context.Context, now time.Time, limit int) ([]*models.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE status = 'active' AND ends_at <= $1 ORDER BY ends_at LIMIT $2`
	rows, err := r.db.Query(ctx, query, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var subscriptions []*models.Subscription
	for rows.Next() {
		subscription, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		subscriptions = append(subscriptions, subscription)
	}
	return subscriptions, rows.Err()
}

func (r *subscriptionRepo) DisableAutoRenew(ctx context.Context, id uuid.UUID) error {
	query := `UPDATE subscriptions SET auto_renew = FALSE, updated_at = NOW() WHERE id = $1`
	tag, err := r.db.Exec(ctx, query, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkExpired flips an active subscription whose period has elapsed.
func (r *subscriptionRepo) MarkExpired(ctx context.Context, id uuid.UUID, now time.Time) (bool, error) {
	query := `
		UPDATE subscriptions SET status = 'expired', updated_at = NOW()
		WHERE id = $1 AND status = 'active' AND ends_at <= $2
	`
	tag, err := r.db.Exec(ctx, query, id, now)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *subscriptionRepo) MarkCancelled(ctx context.Context, id uuid.UUID) (bool, error) {
	query := `
		UPDATE subscriptions SET status = 'cancelled', auto_renew = FALSE, updated_at = NOW()
		WHERE id = $1 AND status <> 'cancelled'
	`
	tag, err := r.db.Exec(ctx, query, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// ExtendPeriod moves the paid-through time forward. An earlier endsAt is ignored.
func (r *subscriptionRepo) ExtendPeriod(ctx context.Context, id uuid.UUID, endsAt time.Time) error {
	query := `UPDATE subscriptions SET ends_at = GREATEST(ends_at, $1), updated_at = NOW() WHERE id = $2`
	_, err := r.db.Exec(ctx, query, endsAt, id)
	return err
}

// ApplyGatewayState mirrors the gateway's view of a subscription. While the
// subscription stays active ends_at only moves forward.
func (r *subscriptionRepo) ApplyGatewayState(ctx context.Context, id uuid.UUID, status models.SubscriptionStatus, endsAt time.Time, autoRenew bool) error {
	query := `
		UPDATE subscriptions
		SET status = $1,
			ends_at = CASE WHEN $1 = 'active' THEN GREATEST(ends_at, $2) ELSE $2 END,
			auto_renew = $3,
			updated_at = NOW()
		WHERE id = $4
	`
	_, err := r.db.Exec(ctx, query, status, endsAt, autoRenew, id)
	if err != nil {
		if isUniqueViolation(err, constraintOneActiveSubscription) {
			return ErrActiveSubscriptionExists
		}
		return err
	}
	return nil
}
