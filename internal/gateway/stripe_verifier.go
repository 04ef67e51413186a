package gateway

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"estatehub/internal/models"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"
)

// Stripe event names mapped to the normalized types the reconciler handles.
var stripeEventTypes = map[stripe.EventType]string{
	"payment_intent.succeeded":      EventIntentSucceeded,
	"payment_intent.payment_failed": EventIntentFailed,
	"payment_intent.canceled":       EventIntentFailed,
	"customer.subscription.created": EventSubscriptionCreated,
	"customer.subscription.updated": EventSubscriptionUpdated,
	"customer.subscription.deleted": EventSubscriptionDeleted,
	"invoice.paid":                  EventInvoicePaid,
	"invoice.payment_failed":        EventInvoicePaymentFailed,
}

type StripeVerifier struct {
	secret string
}

func NewStripeVerifier(webhookSecret string) *StripeVerifier {
	return &StripeVerifier{secret: webhookSecret}
}

func (v *StripeVerifier) Verify(payload []byte, signatureHeader string) (*Event, error) {
	if v.secret == "" || signatureHeader == "" {
		return nil, ErrInvalidSignature
	}
	evt, err := webhook.ConstructEventWithOptions(payload, signatureHeader, v.secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return decodeStripeEvent(evt)
}

func decodeStripeEvent(evt stripe.Event) (*Event, error) {
	event := &Event{
		ID:      evt.ID,
		Type:    string(evt.Type),
		Created: time.Unix(evt.Created, 0).UTC(),
	}

	normalized, known := stripeEventTypes[evt.Type]
	if !known {
		return event, nil
	}
	event.Type = normalized

	if evt.Data == nil || len(evt.Data.Raw) == 0 {
		return nil, fmt.Errorf("%w: event %s has no data object", ErrMalformedEvent, evt.ID)
	}
	raw := evt.Data.Raw

	var err error
	switch normalized {
	case EventIntentSucceeded, EventIntentFailed:
		event.Intent, err = decodeIntent(raw)
	case EventSubscriptionCreated, EventSubscriptionUpdated, EventSubscriptionDeleted:
		event.Subscription, err = decodeSubscription(raw)
	case EventInvoicePaid, EventInvoicePaymentFailed:
		event.Invoice, err = decodeInvoice(raw)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: event %s: %v", ErrMalformedEvent, evt.ID, err)
	}
	return event, nil
}

type stripeIntentObject struct {
	ID           string            `json:"id"`
	LatestCharge json.RawMessage   `json:"latest_charge"`
	Metadata     map[string]string `json:"metadata"`
}

func decodeIntent(raw []byte) (*IntentEvent, error) {
	var obj stripeIntentObject
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, err
	}
	if obj.ID == "" {
		return nil, fmt.Errorf("payment intent id missing")
	}
	charge, err := expandableID(obj.LatestCharge)
	if err != nil {
		return nil, err
	}
	return &IntentEvent{Ref: obj.ID, TransactionRef: charge, Metadata: obj.Metadata}, nil
}

type stripeSubscriptionObject struct {
	ID                string `json:"id"`
	Status            string `json:"status"`
	CancelAtPeriodEnd bool   `json:"cancel_at_period_end"`
	CurrentPeriodEnd  int64  `json:"current_period_end"`
	EndedAt           int64  `json:"ended_at"`
	Items             struct {
		Data []struct {
			CurrentPeriodEnd int64 `json:"current_period_end"`
		} `json:"data"`
	} `json:"items"`
}

func decodeSubscription(raw []byte) (*SubscriptionEvent, error) {
	var obj stripeSubscriptionObject
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, err
	}
	if obj.ID == "" {
		return nil, fmt.Errorf("subscription id missing")
	}

	periodEnd := obj.CurrentPeriodEnd
	for _, item := range obj.Items.Data {
		if item.CurrentPeriodEnd > periodEnd {
			periodEnd = item.CurrentPeriodEnd
		}
	}
	status := subscriptionStatus(obj.Status)
	if status != models.SubscriptionStatusActive && obj.EndedAt > 0 {
		periodEnd = obj.EndedAt
	}

	event := &SubscriptionEvent{
		Ref:               obj.ID,
		Status:            status,
		GatewayStatus:     obj.Status,
		CancelAtPeriodEnd: obj.CancelAtPeriodEnd,
	}
	if periodEnd > 0 {
		event.CurrentPeriodEnd = time.Unix(periodEnd, 0).UTC()
	}
	return event, nil
}

// subscriptionStatus maps Stripe subscription states onto local ones.
// past_due stays active: the gateway cancels after dunning.
func subscriptionStatus(status string) models.SubscriptionStatus {
	switch status {
	case "active", "trialing", "past_due":
		return models.SubscriptionStatusActive
	case "canceled":
		return models.SubscriptionStatusCancelled
	case "incomplete_expired", "unpaid":
		return models.SubscriptionStatusExpired
	}
	return ""
}

type stripeInvoiceObject struct {
	ID           string          `json:"id"`
	Subscription json.RawMessage `json:"subscription"`
	Parent       *struct {
		SubscriptionDetails *struct {
			Subscription json.RawMessage `json:"subscription"`
		} `json:"subscription_details"`
	} `json:"parent"`
	AmountPaid int64           `json:"amount_paid"`
	Currency   string          `json:"currency"`
	PeriodEnd  int64           `json:"period_end"`
	Charge     json.RawMessage `json:"charge"`
	Lines      struct {
		Data []struct {
			Period struct {
				End int64 `json:"end"`
			} `json:"period"`
		} `json:"data"`
	} `json:"lines"`
}

func decodeInvoice(raw []byte) (*InvoiceEvent, error) {
	var obj stripeInvoiceObject
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, err
	}
	if obj.ID == "" {
		return nil, fmt.Errorf("invoice id missing")
	}

	subRef, err := expandableID(obj.Subscription)
	if err != nil {
		return nil, err
	}
	if subRef == "" && obj.Parent != nil && obj.Parent.SubscriptionDetails != nil {
		if subRef, err = expandableID(obj.Parent.SubscriptionDetails.Subscription); err != nil {
			return nil, err
		}
	}
	charge, err := expandableID(obj.Charge)
	if err != nil {
		return nil, err
	}

	// Line periods describe the service period being paid for; the invoice's
	// own period_end trails it by one cycle on renewals.
	periodEnd := obj.PeriodEnd
	for _, line := range obj.Lines.Data {
		if line.Period.End > periodEnd {
			periodEnd = line.Period.End
		}
	}

	event := &InvoiceEvent{
		Ref:             obj.ID,
		SubscriptionRef: subRef,
		AmountPaidMinor: obj.AmountPaid,
		Currency:        models.NormalizeCurrency(obj.Currency),
		TransactionRef:  charge,
	}
	if periodEnd > 0 {
		event.PeriodEnd = time.Unix(periodEnd, 0).UTC()
	}
	return event, nil
}

// expandableID reads a Stripe field that is either an id string or an
// expanded object carrying an id.
func expandableID(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", nil
	}
	if raw[0] == '"' {
		var id string
		err := json.Unmarshal(raw, &id)
		return id, err
	}
	var obj struct {
		ID string `json:"id"`
	}
	err := json.Unmarshal(raw, &obj)
	return obj.ID, err
}
