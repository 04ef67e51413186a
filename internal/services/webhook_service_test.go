package services

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"estatehub/internal/common"
	"estatehub/internal/gateway"
	"estatehub/internal/models"
	"estatehub/internal/observability"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"
)

type WebhookServiceTestSuite struct {
	suite.Suite
	db         *memoryDB
	store      *memoryStore
	clock      *fixedClock
	metrics    *observability.Metrics
	archive    *MockEventArchive
	events     map[string]*gateway.Event
	verifyErr  error
	settlement *Settlement
	service    WebhookService
}

func (suite *WebhookServiceTestSuite) SetupTest() {
	suite.clock = &fixedClock{t: clockStart}
	suite.db = newMemoryDB()
	suite.db.now = suite.clock.Now
	suite.db.put(func(db *memoryDB) {
		db.listings[7] = models.Listing{ID: 7, OwnerID: 42}
	})
	suite.store = newMemoryStore(suite.db)
	suite.metrics = observability.NewMetrics(nil)
	suite.archive = new(MockEventArchive)
	suite.archive.On("Archive", mock.Anything, mock.Anything, mock.Anything).Return(nil).Maybe()
	suite.events = map[string]*gateway.Event{}
	suite.verifyErr = nil

	verifier := stubVerifier(func(payload []byte, _ string) (*gateway.Event, error) {
		if suite.verifyErr != nil {
			return nil, suite.verifyErr
		}
		return suite.events[string(payload)], nil
	})

	logger := observability.NopLogger()
	suite.settlement = NewSettlement(suite.store, NewSideEffectApplier(suite.metrics, logger), suite.metrics, logger, suite.clock.Now)
	suite.service = NewWebhookService(suite.store, verifier, suite.settlement, suite.archive, suite.metrics, logger, suite.clock.Now)
}

func (suite *WebhookServiceTestSuite) TearDownTest() {
	suite.archive.AssertExpectations(suite.T())
}

func TestWebhookServiceTestSuite(t *testing.T) {
	suite.Run(t, new(WebhookServiceTestSuite))
}

func (suite *WebhookServiceTestSuite) deliver(event *gateway.Event) error {
	suite.events[event.ID] = event
	return suite.service.HandleEvent(context.Background(), []byte(event.ID), "t=1,v1=abc")
}

func (suite *WebhookServiceTestSuite) outcome(eventType, outcome string) float64 {
	return testutil.ToFloat64(suite.metrics.WebhookEvents.WithLabelValues(eventType, outcome))
}

func (suite *WebhookServiceTestSuite) seedPayment(intentRef *string) models.Payment {
	payment := models.NewPendingPayment(42, decimal.RequireFromString("29.99"), "USD", models.FeaturedListingDetails{ListingID: 7, DurationDays: 30})
	payment.IntentRef = intentRef
	suite.db.put(func(db *memoryDB) { db.payments[payment.ID] = *payment })
	return *payment
}

func (suite *WebhookServiceTestSuite) seedSubscription(ref string, status models.SubscriptionStatus, endsAt time.Time) models.Subscription {
	sub := models.Subscription{
		ID:                      uuid.New(),
		OwnerID:                 42,
		PlanSlug:                "pro",
		Status:                  status,
		StartsAt:                endsAt.AddDate(0, -1, 0),
		EndsAt:                  endsAt,
		AutoRenew:               true,
		ExternalSubscriptionRef: ref,
	}
	suite.db.put(func(db *memoryDB) { db.subscriptions[sub.ID] = sub })
	return sub
}

func (suite *WebhookServiceTestSuite) processed(eventID string) bool {
	ok, err := suite.store.WebhookEvents().IsProcessed(context.Background(), eventID)
	suite.Require().NoError(err)
	return ok
}

func intentEvent(id, eventType, intentRef string) *gateway.Event {
	return &gateway.Event{ID: id, Type: eventType, Created: clockStart, Intent: &gateway.IntentEvent{Ref: intentRef, TransactionRef: "ch_" + intentRef}}
}

func (suite *WebhookServiceTestSuite) TestInvalidSignatureRejected() {
	suite.verifyErr = fmt.Errorf("%w: timestamp outside tolerance", gateway.ErrInvalidSignature)

	err := suite.service.HandleEvent(context.Background(), []byte(`{"id":"evt_forged"}`), "t=1,v1=forged")

	suite.True(errors.Is(err, common.ErrSignatureInvalid))
	suite.Equal(1.0, suite.outcome("unknown", "signature_invalid"))
	suite.archive.AssertNotCalled(suite.T(), "Archive", mock.Anything, mock.Anything, mock.Anything)
}

func (suite *WebhookServiceTestSuite) TestMalformedEventAcknowledged() {
	suite.verifyErr = fmt.Errorf("%w: event evt_1 has no data object", gateway.ErrMalformedEvent)

	err := suite.service.HandleEvent(context.Background(), []byte(`{}`), "t=1,v1=abc")

	suite.NoError(err)
	suite.Equal(1.0, suite.outcome("unknown", "malformed"))
}

func (suite *WebhookServiceTestSuite) TestIntentSucceeded_CompletesAndReplayIsNoop() {
	intentRef := "pi_1"
	payment := suite.seedPayment(&intentRef)

	suite.Require().NoError(suite.deliver(intentEvent("evt_1", gateway.EventIntentSucceeded, "pi_1")))

	stored := suite.db.payment(payment.ID)
	suite.Equal(models.PaymentStatusCompleted, stored.Status)
	suite.Equal("ch_pi_1", *stored.TransactionRef)
	suite.True(suite.db.listing(7).IsFeatured)
	suite.True(suite.processed("evt_1"))

	// Same event redelivered.
	suite.clock.Advance(time.Hour)
	suite.Require().NoError(suite.deliver(intentEvent("evt_1", gateway.EventIntentSucceeded, "pi_1")))
	suite.Equal(1.0, suite.outcome(gateway.EventIntentSucceeded, "duplicate"))

	// A distinct event for the same intent.
	suite.Require().NoError(suite.deliver(intentEvent("evt_2", gateway.EventIntentSucceeded, "pi_1")))
	suite.Equal(1.0, suite.outcome(gateway.EventIntentSucceeded, "noop"))

	suite.True(suite.db.listing(7).FeaturedUntil.Equal(clockStart.AddDate(0, 0, 30)))
	suite.Equal(1.0, testutil.ToFloat64(suite.metrics.SideEffects.WithLabelValues("featured_listing", "applied")))
	suite.archive.AssertNumberOfCalls(suite.T(), "Archive", 2)
}

func (suite *WebhookServiceTestSuite) TestIntentSucceeded_FallsBackToPaymentMetadata() {
	payment := suite.seedPayment(nil)
	event := intentEvent("evt_meta", gateway.EventIntentSucceeded, "pi_unrecorded")
	event.Intent.Metadata = map[string]string{"payment_id": payment.ID.String()}

	suite.Require().NoError(suite.deliver(event))

	suite.Equal(models.PaymentStatusCompleted, suite.db.payment(payment.ID).Status)
}

func (suite *WebhookServiceTestSuite) TestIntentSucceeded_UnknownPaymentIsNoop() {
	suite.Require().NoError(suite.deliver(intentEvent("evt_ghost", gateway.EventIntentSucceeded, "pi_ghost")))

	suite.Equal(1.0, suite.outcome(gateway.EventIntentSucceeded, "noop"))
	suite.True(suite.processed("evt_ghost"))
}

func (suite *WebhookServiceTestSuite) TestIntentSucceeded_MissingListingStillCompletes() {
	intentRef := "pi_orphan_listing"
	payment := models.NewPendingPayment(42, decimal.RequireFromString("29.99"), "USD", models.FeaturedListingDetails{ListingID: 777, DurationDays: 30})
	payment.IntentRef = &intentRef
	suite.db.put(func(db *memoryDB) { db.payments[payment.ID] = *payment })

	for i := 0; i < 3; i++ {
		suite.Require().NoError(suite.deliver(intentEvent("evt_777", gateway.EventIntentSucceeded, intentRef)))
	}

	suite.Equal(models.PaymentStatusCompleted, suite.db.payment(payment.ID).Status)
	suite.True(suite.processed("evt_777"))
	suite.Equal(1.0, testutil.ToFloat64(suite.metrics.SideEffects.WithLabelValues("featured_listing", "skipped")))
	suite.Equal(0.0, testutil.ToFloat64(suite.metrics.SideEffects.WithLabelValues("featured_listing", "applied")))
}

func (suite *WebhookServiceTestSuite) TestIntentFailed() {
	pendingRef, completedRef := "pi_pending", "pi_completed"
	pending := suite.seedPayment(&pendingRef)
	completed := suite.seedPayment(&completedRef)
	_, _, err := suite.settlement.Complete(context.Background(), completed.ID, "ch_ok", sourceConfirm)
	suite.Require().NoError(err)

	suite.Require().NoError(suite.deliver(intentEvent("evt_f1", gateway.EventIntentFailed, "pi_pending")))
	suite.Require().NoError(suite.deliver(intentEvent("evt_f2", gateway.EventIntentFailed, "pi_completed")))

	suite.Equal(models.PaymentStatusFailed, suite.db.payment(pending.ID).Status)
	suite.Equal(models.PaymentStatusCompleted, suite.db.payment(completed.ID).Status)
}

func (suite *WebhookServiceTestSuite) TestSubscriptionDeletedBeforeUpdateStaysCancelled() {
	sub := suite.seedSubscription("sub_1", models.SubscriptionStatusActive, clockStart.AddDate(0, 0, 5))

	suite.Require().NoError(suite.deliver(&gateway.Event{
		ID: "evt_del", Type: gateway.EventSubscriptionDeleted,
		Subscription: &gateway.SubscriptionEvent{Ref: "sub_1", Status: models.SubscriptionStatusCancelled, GatewayStatus: "canceled"},
	}))
	suite.Require().NoError(suite.deliver(&gateway.Event{
		ID: "evt_upd", Type: gateway.EventSubscriptionUpdated,
		Subscription: &gateway.SubscriptionEvent{Ref: "sub_1", Status: models.SubscriptionStatusActive, GatewayStatus: "active", CurrentPeriodEnd: clockStart.AddDate(0, 1, 0)},
	}))

	stored := suite.db.subscription(sub.ID)
	suite.Equal(models.SubscriptionStatusCancelled, stored.Status)
	suite.False(stored.AutoRenew)
	suite.True(stored.EndsAt.Equal(sub.EndsAt))
}

func (suite *WebhookServiceTestSuite) TestSubscriptionDeletedForUnknownSubscription() {
	err := suite.deliver(&gateway.Event{
		ID: "evt_del_unknown", Type: gateway.EventSubscriptionDeleted,
		Subscription: &gateway.SubscriptionEvent{Ref: "sub_unknown", Status: models.SubscriptionStatusCancelled},
	})

	suite.NoError(err)
	suite.True(suite.processed("evt_del_unknown"))
}

func (suite *WebhookServiceTestSuite) TestSubscriptionUpdated_MirrorsGatewayState() {
	sub := suite.seedSubscription("sub_1", models.SubscriptionStatusActive, clockStart.AddDate(0, 0, 5))
	periodEnd := clockStart.AddDate(0, 1, 0)

	suite.Require().NoError(suite.deliver(&gateway.Event{
		ID: "evt_upd", Type: gateway.EventSubscriptionUpdated,
		Subscription: &gateway.SubscriptionEvent{Ref: "sub_1", Status: models.SubscriptionStatusActive, GatewayStatus: "active", CurrentPeriodEnd: periodEnd, CancelAtPeriodEnd: true},
	}))

	stored := suite.db.subscription(sub.ID)
	suite.Equal(models.SubscriptionStatusActive, stored.Status)
	suite.False(stored.AutoRenew)
	suite.True(stored.EndsAt.Equal(periodEnd))

	// An unmapped gateway status keeps the local one.
	suite.Require().NoError(suite.deliver(&gateway.Event{
		ID: "evt_upd_incomplete", Type: gateway.EventSubscriptionUpdated,
		Subscription: &gateway.SubscriptionEvent{Ref: "sub_1", GatewayStatus: "incomplete", CurrentPeriodEnd: periodEnd},
	}))
	stored = suite.db.subscription(sub.ID)
	suite.Equal(models.SubscriptionStatusActive, stored.Status)
	suite.True(stored.AutoRenew)
}

func (suite *WebhookServiceTestSuite) TestSubscriptionCreated_ExtendsForwardOnly() {
	sub := suite.seedSubscription("sub_1", models.SubscriptionStatusActive, clockStart.AddDate(0, 1, 0))

	suite.Require().NoError(suite.deliver(&gateway.Event{
		ID: "evt_created", Type: gateway.EventSubscriptionCreated,
		Subscription: &gateway.SubscriptionEvent{Ref: "sub_1", Status: models.SubscriptionStatusActive, CurrentPeriodEnd: clockStart.AddDate(0, 0, 10)},
	}))

	suite.True(suite.db.subscription(sub.ID).EndsAt.Equal(sub.EndsAt))
	suite.Equal(1.0, suite.outcome(gateway.EventSubscriptionCreated, "noop"))
}

func (suite *WebhookServiceTestSuite) TestInvoicePaid_RecordsRenewalOnce() {
	sub := suite.seedSubscription("sub_1", models.SubscriptionStatusActive, clockStart.AddDate(0, 0, 1))
	nextEnd := clockStart.AddDate(0, 1, 1)
	invoice := &gateway.InvoiceEvent{Ref: "in_2", SubscriptionRef: "sub_1", AmountPaidMinor: 4900, Currency: "USD", PeriodEnd: nextEnd, TransactionRef: "ch_in_2"}

	suite.Require().NoError(suite.deliver(&gateway.Event{ID: "evt_inv", Type: gateway.EventInvoicePaid, Invoice: invoice}))
	suite.Require().NoError(suite.deliver(&gateway.Event{ID: "evt_inv_retry", Type: gateway.EventInvoicePaid, Invoice: invoice}))

	suite.Equal(1, suite.db.paymentCount())
	suite.True(suite.db.subscription(sub.ID).EndsAt.Equal(nextEnd))

	var payment models.Payment
	suite.db.put(func(db *memoryDB) {
		for _, p := range db.payments {
			payment = p
		}
	})
	suite.Equal(models.PaymentStatusCompleted, payment.Status)
	suite.True(payment.Amount.Equal(decimal.RequireFromString("49.00")))
	details := payment.Details.(models.SubscriptionDetails)
	suite.True(details.Renewal)
	suite.Equal(sub.ID, *details.SubscriptionID)

	suite.Equal(1.0, suite.outcome(gateway.EventInvoicePaid, "processed"))
	suite.Equal(1.0, suite.outcome(gateway.EventInvoicePaid, "noop"))
}

func (suite *WebhookServiceTestSuite) TestInvoicePaid_DoesNotReviveExpiredSubscription() {
	sub := suite.seedSubscription("sub_1", models.SubscriptionStatusExpired, clockStart.AddDate(0, 0, -1))

	suite.Require().NoError(suite.deliver(&gateway.Event{ID: "evt_late", Type: gateway.EventInvoicePaid, Invoice: &gateway.InvoiceEvent{
		Ref: "in_late", SubscriptionRef: "sub_1", AmountPaidMinor: 4900, Currency: "USD", PeriodEnd: clockStart.AddDate(0, 1, 0),
	}}))

	stored := suite.db.subscription(sub.ID)
	suite.Equal(models.SubscriptionStatusExpired, stored.Status)
	suite.True(stored.EndsAt.Equal(sub.EndsAt))
	suite.Equal(1, suite.db.paymentCount())
}

func (suite *WebhookServiceTestSuite) TestInvoicePaymentFailedCounted() {
	sub := suite.seedSubscription("sub_1", models.SubscriptionStatusActive, clockStart.AddDate(0, 0, 1))

	suite.Require().NoError(suite.deliver(&gateway.Event{ID: "evt_fail", Type: gateway.EventInvoicePaymentFailed, Invoice: &gateway.InvoiceEvent{Ref: "in_3", SubscriptionRef: "sub_1"}}))

	suite.Equal(1.0, testutil.ToFloat64(suite.metrics.InvoicePaymentFailures))
	suite.Equal(sub, suite.db.subscription(sub.ID))
}

func (suite *WebhookServiceTestSuite) TestUnknownEventIgnored() {
	err := suite.deliver(&gateway.Event{ID: "evt_other", Type: "customer.created", Created: clockStart})

	suite.NoError(err)
	suite.Equal(1.0, suite.outcome("unknown", "ignored"))
	suite.True(suite.processed("evt_other"))
}

func (suite *WebhookServiceTestSuite) TestArchiveFailureDoesNotBlockProcessing() {
	suite.archive.ExpectedCalls = nil
	suite.archive.On("Archive", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("bucket unreachable")).Once()
	intentRef := "pi_1"
	payment := suite.seedPayment(&intentRef)

	suite.Require().NoError(suite.deliver(intentEvent("evt_1", gateway.EventIntentSucceeded, "pi_1")))

	suite.Equal(models.PaymentStatusCompleted, suite.db.payment(payment.ID).Status)
}

func (suite *WebhookServiceTestSuite) TestStoreFailureIsRetried() {
	intentRef := "pi_1"
	payment := suite.seedPayment(&intentRef)
	suite.db.failOn("webhookEvents.MarkProcessed", errors.New("connection reset"))

	err := suite.deliver(intentEvent("evt_1", gateway.EventIntentSucceeded, "pi_1"))
	suite.Error(err)
	suite.False(suite.processed("evt_1"))

	suite.db.failOn("webhookEvents.MarkProcessed", nil)
	suite.Require().NoError(suite.deliver(intentEvent("evt_1", gateway.EventIntentSucceeded, "pi_1")))

	suite.True(suite.processed("evt_1"))
	suite.Equal(models.PaymentStatusCompleted, suite.db.payment(payment.ID).Status)
	suite.Equal(1.0, testutil.ToFloat64(suite.metrics.SideEffects.WithLabelValues("featured_listing", "applied")))
}
