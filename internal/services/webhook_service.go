package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"estatehub/internal/common"
	"estatehub/internal/gateway"
	"estatehub/internal/models"
	"estatehub/internal/observability"
	"estatehub/internal/repositories"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// WebhookService reconciles local state with verified gateway events.
type WebhookService interface {
	HandleEvent(ctx context.Context, payload []byte, signature string) error
}

// Outcomes recorded on the webhook events counter.
const (
	outcomeProcessed        = "processed"
	outcomeNoop             = "noop"
	outcomeIgnored          = "ignored"
	outcomeDuplicate        = "duplicate"
	outcomeError            = "error"
	outcomeMalformed        = "malformed"
	outcomeSignatureInvalid = "signature_invalid"
)

const unknownEventLabel = "unknown"

type webhookService struct {
	store      repositories.Store
	verifier   gateway.Verifier
	settlement *Settlement
	archive    EventArchive
	metrics    *observability.Metrics
	logger     logrus.FieldLogger
	now        Clock
}

// NewWebhookService creates the reconciler. archive may be nil.
func NewWebhookService(
	store repositories.Store,
	verifier gateway.Verifier,
	settlement *Settlement,
	archive EventArchive,
	metrics *observability.Metrics,
	logger logrus.FieldLogger,
	now Clock,
) WebhookService {
	if now == nil {
		now = time.Now
	}
	return &webhookService{
		store:      store,
		verifier:   verifier,
		settlement: settlement,
		archive:    archive,
		metrics:    metrics,
		logger:     logger,
		now:        now,
	}
}

// HandleEvent verifies, deduplicates and applies one gateway event. A nil
// return means the gateway may stop delivering it. Store failures are
// returned so the delivery is retried.
func (s *webhookService) HandleEvent(ctx context.Context, payload []byte, signature string) error {
	receivedAt := s.now()

	event, err := s.verifier.Verify(payload, signature)
	if err != nil {
		if errors.Is(err, gateway.ErrMalformedEvent) {
			// Authentic but undecodable; redelivery would fail the same way.
			s.count(unknownEventLabel, outcomeMalformed)
			s.logger.WithError(err).Error("acknowledging malformed webhook event")
			return nil
		}
		s.count(unknownEventLabel, outcomeSignatureInvalid)
		s.logger.WithError(err).Warn("rejected webhook with invalid signature")
		return common.NewSignatureInvalidError(err)
	}

	log := s.logger.WithFields(logrus.Fields{"event_id": event.ID, "event_type": event.Type})

	processed, err := s.store.WebhookEvents().IsProcessed(ctx, event.ID)
	if err != nil {
		s.count(event.Type, outcomeError)
		return fmt.Errorf("failed to check webhook event %s: %w", event.ID, err)
	}
	if processed {
		s.count(event.Type, outcomeDuplicate)
		log.Debug("webhook event already processed")
		return nil
	}

	if s.archive != nil {
		if err := s.archive.Archive(ctx, event, payload); err != nil {
			log.WithError(err).Warn("failed to archive webhook event")
		}
	}

	outcome, err := s.dispatch(ctx, log, event)
	if err != nil {
		s.count(event.Type, outcomeError)
		log.WithError(err).Error("webhook event processing failed")
		return err
	}

	if err := s.store.WebhookEvents().MarkProcessed(ctx, &models.WebhookEvent{
		EventID:    event.ID,
		EventType:  event.Type,
		ReceivedAt: receivedAt,
	}); err != nil {
		s.count(event.Type, outcomeError)
		return fmt.Errorf("failed to mark webhook event %s processed: %w", event.ID, err)
	}

	s.count(event.Type, outcome)
	log.WithField("outcome", outcome).Info("webhook event handled")
	return nil
}

func (s *webhookService) dispatch(ctx context.Context, log logrus.FieldLogger, event *gateway.Event) (string, error) {
	switch event.Type {
	case gateway.EventIntentSucceeded:
		return s.onIntentSucceeded(ctx, log, event.Intent)
	case gateway.EventIntentFailed:
		return s.onIntentFailed(ctx, log, event.Intent)
	case gateway.EventSubscriptionCreated:
		return s.onSubscriptionCreated(ctx, log, event.Subscription)
	case gateway.EventSubscriptionUpdated:
		return s.onSubscriptionUpdated(ctx, log, event.Subscription)
	case gateway.EventSubscriptionDeleted:
		return s.onSubscriptionDeleted(ctx, log, event.Subscription)
	case gateway.EventInvoicePaid:
		return s.onInvoicePaid(ctx, log, event.Invoice)
	case gateway.EventInvoicePaymentFailed:
		s.metrics.InvoicePaymentFailures.Inc()
		if event.Invoice != nil {
			log = log.WithFields(logrus.Fields{"invoice_ref": event.Invoice.Ref, "external_subscription_ref": event.Invoice.SubscriptionRef})
		}
		log.Warn("gateway reported a failed invoice payment")
		return outcomeNoop, nil
	default:
		return outcomeIgnored, nil
	}
}

// findPayment resolves the payment behind an intent, falling back to the
// payment_id metadata for intents whose reference was never recorded.
func (s *webhookService) findPayment(ctx context.Context, intent *gateway.IntentEvent) (*models.Payment, error) {
	payment, err := s.store.Payments().GetByIntentRef(ctx, intent.Ref)
	if err == nil {
		return payment, nil
	}
	if !errors.Is(err, repositories.ErrNotFound) {
		return nil, err
	}

	id, parseErr := uuid.Parse(intent.Metadata["payment_id"])
	if parseErr != nil {
		return nil, repositories.ErrNotFound
	}
	return s.store.Payments().GetByID(ctx, id)
}

func (s *webhookService) onIntentSucceeded(ctx context.Context, log logrus.FieldLogger, intent *gateway.IntentEvent) (string, error) {
	payment, err := s.findPayment(ctx, intent)
	if errors.Is(err, repositories.ErrNotFound) {
		log.WithField("intent_ref", intent.Ref).Warn("no payment for succeeded intent")
		return outcomeNoop, nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to load payment: %w", err)
	}

	_, transitioned, err := s.settlement.Complete(ctx, payment.ID, intent.TransactionRef, sourceWebhook)
	if err != nil {
		return "", err
	}
	if !transitioned {
		return outcomeNoop, nil
	}
	return outcomeProcessed, nil
}

func (s *webhookService) onIntentFailed(ctx context.Context, log logrus.FieldLogger, intent *gateway.IntentEvent) (string, error) {
	payment, err := s.findPayment(ctx, intent)
	if errors.Is(err, repositories.ErrNotFound) {
		log.WithField("intent_ref", intent.Ref).Warn("no payment for failed intent")
		return outcomeNoop, nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to load payment: %w", err)
	}
	if payment.Status != models.PaymentStatusPending {
		return outcomeNoop, nil
	}

	_, transitioned, err := s.settlement.Fail(ctx, payment.ID, sourceWebhook)
	if err != nil {
		return "", err
	}
	if !transitioned {
		return outcomeNoop, nil
	}
	return outcomeProcessed, nil
}

func (s *webhookService) findSubscription(ctx context.Context, log logrus.FieldLogger, ref string) (*models.Subscription, error) {
	subscription, err := s.store.Subscriptions().GetByExternalRef(ctx, ref)
	if errors.Is(err, repositories.ErrNotFound) {
		log.WithField("external_subscription_ref", ref).Info("no local subscription for gateway event")
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load subscription: %w", err)
	}
	return subscription, nil
}

func (s *webhookService) onSubscriptionCreated(ctx context.Context, log logrus.FieldLogger, ev *gateway.SubscriptionEvent) (string, error) {
	subscription, err := s.findSubscription(ctx, log, ev.Ref)
	if err != nil || subscription == nil {
		return outcomeNoop, err
	}
	if ev.CurrentPeriodEnd.IsZero() || !ev.CurrentPeriodEnd.After(subscription.EndsAt) {
		return outcomeNoop, nil
	}
	if err := s.store.Subscriptions().ExtendPeriod(ctx, subscription.ID, ev.CurrentPeriodEnd); err != nil {
		return "", fmt.Errorf("failed to extend subscription: %w", err)
	}
	return outcomeProcessed, nil
}

func (s *webhookService) onSubscriptionUpdated(ctx context.Context, log logrus.FieldLogger, ev *gateway.SubscriptionEvent) (string, error) {
	subscription, err := s.findSubscription(ctx, log, ev.Ref)
	if err != nil || subscription == nil {
		return outcomeNoop, err
	}
	log = log.WithField("subscription_id", subscription.ID)

	// A cancelled subscription never comes back; an update delivered after
	// the deletion is stale.
	if subscription.Status == models.SubscriptionStatusCancelled {
		log.Debug("ignoring update for cancelled subscription")
		return outcomeNoop, nil
	}

	status := ev.Status
	if status == "" {
		log.WithField("gateway_status", ev.GatewayStatus).Info("gateway status has no local equivalent, keeping current status")
		status = subscription.Status
	}
	endsAt := ev.CurrentPeriodEnd
	if endsAt.IsZero() {
		endsAt = subscription.EndsAt
	}

	err = s.store.Subscriptions().ApplyGatewayState(ctx, subscription.ID, status, endsAt, !ev.CancelAtPeriodEnd)
	if errors.Is(err, repositories.ErrActiveSubscriptionExists) {
		log.Warn("cannot reactivate subscription, owner already has an active one")
		return outcomeNoop, nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to apply gateway subscription state: %w", err)
	}
	return outcomeProcessed, nil
}

func (s *webhookService) onSubscriptionDeleted(ctx context.Context, log logrus.FieldLogger, ev *gateway.SubscriptionEvent) (string, error) {
	subscription, err := s.findSubscription(ctx, log, ev.Ref)
	if err != nil || subscription == nil {
		return outcomeNoop, err
	}

	cancelled, err := s.store.Subscriptions().MarkCancelled(ctx, subscription.ID)
	if err != nil {
		return "", fmt.Errorf("failed to cancel subscription: %w", err)
	}
	if !cancelled {
		return outcomeNoop, nil
	}
	log.WithField("subscription_id", subscription.ID).Info("subscription cancelled by gateway")
	return outcomeProcessed, nil
}

// onInvoicePaid records a renewal payment and extends the paid period. The
// unique invoice reference makes replays insert nothing.
func (s *webhookService) onInvoicePaid(ctx context.Context, log logrus.FieldLogger, ev *gateway.InvoiceEvent) (string, error) {
	if ev.SubscriptionRef == "" {
		return outcomeIgnored, nil
	}
	subscription, err := s.findSubscription(ctx, log, ev.SubscriptionRef)
	if err != nil || subscription == nil {
		return outcomeNoop, err
	}
	log = log.WithFields(logrus.Fields{"subscription_id": subscription.ID, "invoice_ref": ev.Ref})

	var recorded, extended bool
	err = s.store.WithTx(ctx, func(tx repositories.Store) error {
		if ev.AmountPaidMinor > 0 && ev.Ref != "" {
			payment := models.NewPendingPayment(subscription.OwnerID, models.FromMinorUnits(ev.AmountPaidMinor, ev.Currency), ev.Currency,
				models.SubscriptionDetails{
					SubscriptionID: &subscription.ID,
					PlanSlug:       subscription.PlanSlug,
					Renewal:        true,
				})
			payment.Status = models.PaymentStatusCompleted
			payment.InvoiceRef = &ev.Ref
			if ev.TransactionRef != "" {
				payment.TransactionRef = &ev.TransactionRef
			}
			inserted, err := tx.Payments().CreateForInvoice(ctx, payment)
			if err != nil {
				return err
			}
			recorded = inserted
		}

		// Expired and cancelled rows are not revived by a late invoice.
		if subscription.Status == models.SubscriptionStatusActive && ev.PeriodEnd.After(subscription.EndsAt) {
			if err := tx.Subscriptions().ExtendPeriod(ctx, subscription.ID, ev.PeriodEnd); err != nil {
				return err
			}
			extended = true
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("failed to record invoice payment: %w", err)
	}

	if recorded {
		s.metrics.PaymentTransitions.WithLabelValues(string(models.PaymentKindSubscription), string(models.PaymentStatusCompleted), sourceInvoice).Inc()
	}
	if !recorded && !extended {
		return outcomeNoop, nil
	}
	log.WithField("ends_at", ev.PeriodEnd).Info("subscription renewed")
	return outcomeProcessed, nil
}

func (s *webhookService) count(eventType, outcome string) {
	switch eventType {
	case gateway.EventIntentSucceeded, gateway.EventIntentFailed,
		gateway.EventSubscriptionCreated, gateway.EventSubscriptionUpdated, gateway.EventSubscriptionDeleted,
		gateway.EventInvoicePaid, gateway.EventInvoicePaymentFailed:
	default:
		eventType = unknownEventLabel
	}
	s.metrics.WebhookEvents.WithLabelValues(eventType, outcome).Inc()
}
