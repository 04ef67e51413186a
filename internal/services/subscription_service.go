package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"estatehub/internal/common"
	"estatehub/internal/gateway"
	"estatehub/internal/models"
	"estatehub/internal/observability"
	"estatehub/internal/repositories"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// SubscriptionService handles recurring plan subscriptions.
type SubscriptionService interface {
	CreateSubscription(ctx context.Context, actor models.Actor, planSlug string) (*models.Subscription, error)
	CancelSubscription(ctx context.Context, subscriptionID uuid.UUID, actor models.Actor) (*models.Subscription, error)
	CheckStatus(ctx context.Context, ownerID int64) (*SubscriptionStatusReport, error)
	ExpireLapsed(ctx context.Context, limit int) (int, error)
	ListPlans(ctx context.Context) ([]*models.Plan, error)
}

// SubscriptionStatusReport describes an owner's current subscription state.
type SubscriptionStatusReport struct {
	Subscription *models.Subscription `json:"subscription,omitempty"`
	Active       bool                 `json:"active"`
	Status       string               `json:"status"`
}

const subscriptionStatusNone = "none"

type subscriptionService struct {
	store     repositories.Store
	gateway   gateway.Client
	catalog   CatalogService
	customers *customerResolver
	metrics   *observability.Metrics
	logger    logrus.FieldLogger
	now       Clock
}

// NewSubscriptionService creates a new SubscriptionService instance
func NewSubscriptionService(
	store repositories.Store,
	gatewayClient gateway.Client,
	catalog CatalogService,
	metrics *observability.Metrics,
	logger logrus.FieldLogger,
	now Clock,
) SubscriptionService {
	if now == nil {
		now = time.Now
	}
	return &subscriptionService{
		store:     store,
		gateway:   gatewayClient,
		catalog:   catalog,
		customers: &customerResolver{store: store, gateway: gatewayClient},
		metrics:   metrics,
		logger:    logger,
		now:       now,
	}
}

// CreateSubscription subscribes the actor to a plan. The gateway subscription
// is created first; if the local rows cannot be written it is cancelled again.
func (s *subscriptionService) CreateSubscription(ctx context.Context, actor models.Actor, planSlug string) (*models.Subscription, error) {
	if planSlug == "" {
		return nil, common.NewValidationError("plan is required")
	}
	if err := s.ensureNoActive(ctx, actor.UserID); err != nil {
		return nil, err
	}

	plan, err := s.catalog.GetPlan(ctx, planSlug)
	if err != nil {
		return nil, err
	}
	if plan.ExternalPriceRef == "" {
		return nil, common.NewValidationError("plan %q cannot be purchased", planSlug)
	}
	if !plan.Price.IsPositive() {
		return nil, common.NewValidationError("plan %q has no price to charge", planSlug)
	}

	customerRef, err := s.customers.resolve(ctx, actor.UserID)
	if err != nil {
		return nil, err
	}

	subscriptionID := uuid.New()
	log := s.logger.WithFields(logrus.Fields{"subscription_id": subscriptionID, "owner_id": actor.UserID, "plan": plan.Slug})

	result, err := s.gateway.CreateSubscription(ctx, gateway.SubscriptionRequest{
		CustomerRef: customerRef,
		PriceRef:    plan.ExternalPriceRef,
		Metadata: map[string]string{
			"subscription_id": subscriptionID.String(),
			"owner_id":        strconv.FormatInt(actor.UserID, 10),
			"plan":            plan.Slug,
		},
		IdempotencyKey: "subscription-" + subscriptionID.String(),
	})
	if err != nil {
		log.WithError(err).Warn("gateway subscription creation failed")
		if result != nil && result.Ref != "" {
			s.compensate(ctx, log, result.Ref)
		}
		return nil, gatewayError(err)
	}

	now := s.now()
	subscription := &models.Subscription{
		ID:                      subscriptionID,
		OwnerID:                 actor.UserID,
		PlanSlug:                plan.Slug,
		Status:                  models.SubscriptionStatusActive,
		StartsAt:                now,
		EndsAt:                  result.PeriodEnd,
		AutoRenew:               true,
		ExternalSubscriptionRef: result.Ref,
		ExternalCustomerRef:     customerRef,
		CreatedAt:               now,
		UpdatedAt:               now,
	}

	err = s.store.WithTx(ctx, func(tx repositories.Store) error {
		if err := tx.Subscriptions().Create(ctx, subscription); err != nil {
			return err
		}
		return s.recordInitialPayment(ctx, tx, subscription, plan, result.LatestInvoiceRef)
	})
	if err != nil {
		s.compensate(ctx, log, result.Ref)
		if errors.Is(err, repositories.ErrActiveSubscriptionExists) {
			log.Info("concurrent subscription won the race")
			return nil, common.NewAlreadySubscribedError()
		}
		return nil, fmt.Errorf("failed to record subscription: %w", err)
	}

	s.metrics.PaymentTransitions.WithLabelValues(string(models.PaymentKindSubscription), string(models.PaymentStatusCompleted), sourceCreate).Inc()
	log.WithField("ends_at", subscription.EndsAt).Info("subscription created")
	return subscription, nil
}

// ensureNoActive expires a lapsed active row and rejects a current one.
func (s *subscriptionService) ensureNoActive(ctx context.Context, ownerID int64) error {
	active, err := s.store.Subscriptions().GetActiveByOwner(ctx, ownerID)
	if errors.Is(err, repositories.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load active subscription: %w", err)
	}

	now := s.now()
	if active.IsCurrent(now) {
		return common.NewAlreadySubscribedError()
	}
	if _, err := s.store.Subscriptions().MarkExpired(ctx, active.ID, now); err != nil {
		return fmt.Errorf("failed to expire lapsed subscription: %w", err)
	}
	return nil
}

func (s *subscriptionService) recordInitialPayment(ctx context.Context, tx repositories.Store, sub *models.Subscription, plan *models.Plan, invoiceRef string) error {
	payment := models.NewPendingPayment(sub.OwnerID, plan.Price, plan.Currency, models.SubscriptionDetails{
		SubscriptionID: &sub.ID,
		PlanSlug:       plan.Slug,
	})
	payment.Status = models.PaymentStatusCompleted

	if invoiceRef == "" {
		return tx.Payments().Create(ctx, payment)
	}
	payment.InvoiceRef = &invoiceRef
	if _, err := tx.Payments().CreateForInvoice(ctx, payment); err != nil {
		return err
	}
	return nil
}

// compensate cancels a gateway subscription that has no local row.
func (s *subscriptionService) compensate(ctx context.Context, log logrus.FieldLogger, subscriptionRef string) {
	if err := s.gateway.CancelSubscription(context.WithoutCancel(ctx), subscriptionRef, false); err != nil {
		log.WithError(err).WithField("external_subscription_ref", subscriptionRef).
			Error("failed to cancel orphaned gateway subscription")
		return
	}
	log.WithField("external_subscription_ref", subscriptionRef).Info("orphaned gateway subscription cancelled")
}

// CancelSubscription stops renewal at the end of the paid period. Access
// continues until ends_at.
func (s *subscriptionService) CancelSubscription(ctx context.Context, subscriptionID uuid.UUID, actor models.Actor) (*models.Subscription, error) {
	subscription, err := s.store.Subscriptions().GetByID(ctx, subscriptionID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, common.NewNotFoundError("subscription")
		}
		return nil, fmt.Errorf("failed to load subscription: %w", err)
	}
	if !actor.CanAct(subscription.OwnerID) {
		return nil, common.NewUnauthorizedError("subscription belongs to another user")
	}
	if subscription.Status != models.SubscriptionStatusActive {
		return nil, common.NewValidationError("subscription is %s", subscription.Status)
	}
	if !subscription.AutoRenew {
		return subscription, nil
	}

	if err := s.gateway.CancelSubscription(ctx, subscription.ExternalSubscriptionRef, true); err != nil {
		return nil, gatewayError(err)
	}
	if err := s.store.Subscriptions().DisableAutoRenew(ctx, subscription.ID); err != nil {
		return nil, fmt.Errorf("failed to disable auto renew: %w", err)
	}

	subscription.AutoRenew = false
	s.logger.WithFields(logrus.Fields{"subscription_id": subscription.ID, "ends_at": subscription.EndsAt}).
		Info("subscription set to end at period end")
	return subscription, nil
}

// CheckStatus reports the owner's most recent subscription, persisting
// expiry if the paid period has passed.
func (s *subscriptionService) CheckStatus(ctx context.Context, ownerID int64) (*SubscriptionStatusReport, error) {
	subscription, err := s.store.Subscriptions().GetLatestByOwner(ctx, ownerID)
	if errors.Is(err, repositories.ErrNotFound) {
		return &SubscriptionStatusReport{Status: subscriptionStatusNone}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load subscription: %w", err)
	}

	now := s.now()
	if subscription.IsLapsed(now) {
		expired, err := s.store.Subscriptions().MarkExpired(ctx, subscription.ID, now)
		if err != nil {
			return nil, fmt.Errorf("failed to expire subscription: %w", err)
		}
		if expired {
			s.logger.WithField("subscription_id", subscription.ID).Info("subscription expired")
		}
		subscription.Status = models.SubscriptionStatusExpired
	}

	return &SubscriptionStatusReport{
		Subscription: subscription,
		Active:       subscription.IsCurrent(now),
		Status:       string(subscription.Status),
	}, nil
}

// ExpireLapsed flips up to limit lapsed active subscriptions to expired and
// returns how many it changed.
func (s *subscriptionService) ExpireLapsed(ctx context.Context, limit int) (int, error) {
	now := s.now()
	lapsed, err := s.store.Subscriptions().ListLapsed(ctx, now, limit)
	if err != nil {
		return 0, fmt.Errorf("failed to list lapsed subscriptions: %w", err)
	}

	expired := 0
	for _, subscription := range lapsed {
		if err := ctx.Err(); err != nil {
			return expired, err
		}
		ok, err := s.store.Subscriptions().MarkExpired(ctx, subscription.ID, now)
		if err != nil {
			return expired, fmt.Errorf("failed to expire subscription %s: %w", subscription.ID, err)
		}
		if ok {
			expired++
		}
	}
	return expired, nil
}

func (s *subscriptionService) ListPlans(ctx context.Context) ([]*models.Plan, error) {
	return s.catalog.ListPlans(ctx)
}
