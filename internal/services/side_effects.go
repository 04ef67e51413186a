package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"estatehub/internal/models"
	"estatehub/internal/observability"
	"estatehub/internal/repositories"

	"github.com/sirupsen/logrus"
)

// SideEffectApplier applies the domain consequence of a settled payment.
// Both methods run inside the caller's transaction.
type SideEffectApplier interface {
	Apply(ctx context.Context, store repositories.Store, payment *models.Payment, now time.Time) error
	Reverse(ctx context.Context, store repositories.Store, payment *models.Payment) error
}

type sideEffectApplier struct {
	metrics *observability.Metrics
	logger  logrus.FieldLogger
}

func NewSideEffectApplier(metrics *observability.Metrics, logger logrus.FieldLogger) SideEffectApplier {
	return &sideEffectApplier{metrics: metrics, logger: logger}
}

func (a *sideEffectApplier) Apply(ctx context.Context, store repositories.Store, payment *models.Payment, now time.Time) error {
	switch d := payment.Details.(type) {
	case models.FeaturedListingDetails:
		until := now.AddDate(0, 0, d.DurationDays)
		if err := store.Listings().SetFeatured(ctx, d.ListingID, until); err != nil {
			if errors.Is(err, repositories.ErrNotFound) {
				// The money is captured; the payment still completes.
				a.logger.WithFields(logrus.Fields{
					"payment_id": payment.ID,
					"listing_id": d.ListingID,
				}).Warn("listing to feature no longer exists, skipping side effect")
				a.metrics.SideEffects.WithLabelValues(string(payment.Kind), "skipped").Inc()
				return nil
			}
			return fmt.Errorf("failed to feature listing %d: %w", d.ListingID, err)
		}
		a.logger.WithFields(logrus.Fields{
			"payment_id":     payment.ID,
			"listing_id":     d.ListingID,
			"featured_until": until,
		}).Info("listing featured")
	case models.SubscriptionDetails:
		// The subscription row itself is the effect.
	default:
		return fmt.Errorf("no side effect defined for payment details %T", payment.Details)
	}
	a.metrics.SideEffects.WithLabelValues(string(payment.Kind), "applied").Inc()
	return nil
}

func (a *sideEffectApplier) Reverse(ctx context.Context, store repositories.Store, payment *models.Payment) error {
	switch d := payment.Details.(type) {
	case models.FeaturedListingDetails:
		if err := store.Listings().ClearFeatured(ctx, d.ListingID); err != nil {
			return fmt.Errorf("failed to unfeature listing %d: %w", d.ListingID, err)
		}
		a.logger.WithFields(logrus.Fields{
			"payment_id": payment.ID,
			"listing_id": d.ListingID,
		}).Info("listing unfeatured after refund")
	case models.SubscriptionDetails:
	default:
		return fmt.Errorf("no side effect defined for payment details %T", payment.Details)
	}
	a.metrics.SideEffects.WithLabelValues(string(payment.Kind), "reversed").Inc()
	return nil
}
