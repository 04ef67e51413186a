package services

import (
	"context"
	"fmt"
	"time"

	"estatehub/internal/models"
	"estatehub/internal/observability"
	"estatehub/internal/repositories"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Clock returns the current time.
type Clock func() time.Time

// Sources recorded on transition metrics.
const (
	sourceConfirm = "confirm"
	sourceWebhook = "webhook"
	sourceRefund  = "refund"
	sourceCreate  = "create"
	sourceInvoice = "invoice"
)

// Settlement owns every payment status transition. The confirm endpoint and
// the webhook reconciler both go through it, so a payment completes (and its
// side effect applies) at most once however many times success is observed.
type Settlement struct {
	store   repositories.Store
	effects SideEffectApplier
	metrics *observability.Metrics
	logger  logrus.FieldLogger
	now     Clock
}

func NewSettlement(store repositories.Store, effects SideEffectApplier, metrics *observability.Metrics, logger logrus.FieldLogger, now Clock) *Settlement {
	if now == nil {
		now = time.Now
	}
	return &Settlement{store: store, effects: effects, metrics: metrics, logger: logger, now: now}
}

// Complete moves a pending payment to completed and applies its side effect
// in the same transaction. The bool reports whether this call made the
// transition; false means the payment had already left pending.
func (s *Settlement) Complete(ctx context.Context, paymentID uuid.UUID, transactionRef, source string) (*models.Payment, bool, error) {
	var txnRef *string
	if transactionRef != "" {
		txnRef = &transactionRef
	}

	var payment *models.Payment
	var transitioned bool
	err := s.store.WithTx(ctx, func(tx repositories.Store) error {
		completed, err := tx.Payments().MarkCompleted(ctx, paymentID, txnRef)
		if err != nil {
			return fmt.Errorf("failed to complete payment: %w", err)
		}
		payment, err = tx.Payments().GetByID(ctx, paymentID)
		if err != nil {
			return fmt.Errorf("failed to load payment: %w", err)
		}
		if !completed {
			return nil
		}
		if err := s.effects.Apply(ctx, tx, payment, s.now()); err != nil {
			return err
		}
		transitioned = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}

	s.record(payment, transitioned, source)
	return payment, transitioned, nil
}

// Fail moves a pending payment to failed.
func (s *Settlement) Fail(ctx context.Context, paymentID uuid.UUID, source string) (*models.Payment, bool, error) {
	var payment *models.Payment
	var transitioned bool
	err := s.store.WithTx(ctx, func(tx repositories.Store) error {
		var err error
		transitioned, err = tx.Payments().MarkFailed(ctx, paymentID)
		if err != nil {
			return fmt.Errorf("failed to mark payment failed: %w", err)
		}
		payment, err = tx.Payments().GetByID(ctx, paymentID)
		if err != nil {
			return fmt.Errorf("failed to load payment: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}

	s.record(payment, transitioned, source)
	return payment, transitioned, nil
}

// Refund moves a completed payment to refunded and reverses its side effect.
// The gateway refund must already have succeeded.
func (s *Settlement) Refund(ctx context.Context, paymentID uuid.UUID, source string) (*models.Payment, bool, error) {
	var payment *models.Payment
	var transitioned bool
	err := s.store.WithTx(ctx, func(tx repositories.Store) error {
		refunded, err := tx.Payments().MarkRefunded(ctx, paymentID)
		if err != nil {
			return fmt.Errorf("failed to mark payment refunded: %w", err)
		}
		payment, err = tx.Payments().GetByID(ctx, paymentID)
		if err != nil {
			return fmt.Errorf("failed to load payment: %w", err)
		}
		if !refunded {
			return nil
		}
		if err := s.effects.Reverse(ctx, tx, payment); err != nil {
			return err
		}
		transitioned = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}

	s.record(payment, transitioned, source)
	return payment, transitioned, nil
}

func (s *Settlement) record(payment *models.Payment, transitioned bool, source string) {
	entry := s.logger.WithFields(logrus.Fields{
		"payment_id": payment.ID,
		"status":     payment.Status,
		"source":     source,
	})
	if !transitioned {
		entry.Debug("payment already settled, nothing to do")
		return
	}
	s.metrics.PaymentTransitions.WithLabelValues(string(payment.Kind), string(payment.Status), source).Inc()
	entry.Info("payment status changed")
}
