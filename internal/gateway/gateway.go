package gateway

import (
	"context"
	"errors"
	"time"

	"estatehub/internal/models"
)

var (
	// ErrUnavailable covers network failures, timeouts, rate limiting and 5xx
	// responses. The operation is safe to retry.
	ErrUnavailable = errors.New("payment gateway unavailable")
	// ErrRejected is a 4xx answer: the gateway understood and refused the request.
	ErrRejected = errors.New("payment gateway rejected request")

	ErrInvalidSignature = errors.New("invalid webhook signature")
	ErrMalformedEvent   = errors.New("malformed webhook event")
)

// Client is the outbound surface of the payment gateway.
type Client interface {
	CreateOrGetCustomer(ctx context.Context, ownerID int64, email, name string) (string, error)
	CreateIntent(ctx context.Context, req IntentRequest) (*Intent, error)
	GetIntent(ctx context.Context, intentRef string) (*IntentState, error)
	CancelIntent(ctx context.Context, intentRef string) error
	CreateSubscription(ctx context.Context, req SubscriptionRequest) (*SubscriptionResult, error)
	CancelSubscription(ctx context.Context, subscriptionRef string, atPeriodEnd bool) error
	Refund(ctx context.Context, transactionRef string) error
}

// Verifier authenticates an inbound webhook body and normalizes it.
type Verifier interface {
	Verify(payload []byte, signatureHeader string) (*Event, error)
}

type IntentRequest struct {
	AmountMinor    int64
	Currency       string
	CustomerRef    string
	Metadata       map[string]string
	IdempotencyKey string
}

type Intent struct {
	Ref          string
	ClientSecret string
}

type IntentStatus string

const (
	IntentSucceeded             IntentStatus = "succeeded"
	IntentProcessing            IntentStatus = "processing"
	IntentRequiresPaymentMethod IntentStatus = "requires_payment_method"
	IntentRequiresConfirmation  IntentStatus = "requires_confirmation"
	IntentRequiresAction        IntentStatus = "requires_action"
	IntentCanceled              IntentStatus = "canceled"
)

type IntentState struct {
	Status         IntentStatus
	TransactionRef string
}

type SubscriptionRequest struct {
	CustomerRef    string
	PriceRef       string
	Metadata       map[string]string
	IdempotencyKey string
}

// SubscriptionResult describes a created subscription. CreateSubscription may
// return a non-nil result together with an error when the gateway created the
// subscription but it cannot be used; Ref is then set.
type SubscriptionResult struct {
	Ref              string
	PeriodEnd        time.Time
	LatestInvoiceRef string
}

// Normalized webhook event types.
const (
	EventIntentSucceeded      = "intent.succeeded"
	EventIntentFailed         = "intent.failed"
	EventSubscriptionCreated  = "subscription.created"
	EventSubscriptionUpdated  = "subscription.updated"
	EventSubscriptionDeleted  = "subscription.deleted"
	EventInvoicePaid          = "invoice.paid"
	EventInvoicePaymentFailed = "invoice.payment_failed"
)

// Event is a verified gateway notification. Exactly one of Intent,
// Subscription or Invoice is set for the known types; unknown types carry
// only ID, Type and Created.
type Event struct {
	ID           string
	Type         string
	Created      time.Time
	Intent       *IntentEvent
	Subscription *SubscriptionEvent
	Invoice      *InvoiceEvent
}

type IntentEvent struct {
	Ref            string
	TransactionRef string
	Metadata       map[string]string
}

type SubscriptionEvent struct {
	Ref string
	// Status is empty when the gateway state has no local equivalent.
	Status            models.SubscriptionStatus
	GatewayStatus     string
	CurrentPeriodEnd  time.Time
	CancelAtPeriodEnd bool
}

type InvoiceEvent struct {
	Ref             string
	SubscriptionRef string
	AmountPaidMinor int64
	Currency        string
	PeriodEnd       time.Time
	TransactionRef  string
}
