package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v82"
)

const defaultTimeout = 15 * time.Second

type stripeClient struct {
	sc      *stripe.Client
	timeout time.Duration
}

// NewStripeClient builds a Client on the Stripe API. Every call is bounded by timeout.
func NewStripeClient(secretKey string, timeout time.Duration) Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	httpClient := &http.Client{Timeout: timeout}
	return &stripeClient{
		sc:      stripe.NewClient(secretKey, stripe.WithBackends(stripe.NewBackends(httpClient))),
		timeout: timeout,
	}
}

func (c *stripeClient) CreateOrGetCustomer(ctx context.Context, ownerID int64, email, name string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	params := &stripe.CustomerCreateParams{
		Email:    stripe.String(email),
		Metadata: map[string]string{"user_id": strconv.FormatInt(ownerID, 10)},
	}
	if name != "" {
		params.Name = stripe.String(name)
	}
	// Retries for the same owner resolve to the customer created first.
	params.SetIdempotencyKey("customer-" + strconv.FormatInt(ownerID, 10))

	customer, err := c.sc.V1Customers.Create(ctx, params)
	if err != nil {
		return "", translateError("create customer", err)
	}
	return customer.ID, nil
}

func (c *stripeClient) CreateIntent(ctx context.Context, req IntentRequest) (*Intent, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	params := &stripe.PaymentIntentCreateParams{
		Amount:   stripe.Int64(req.AmountMinor),
		Currency: stripe.String(strings.ToLower(req.Currency)),
		AutomaticPaymentMethods: &stripe.PaymentIntentCreateAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
		Metadata: req.Metadata,
	}
	if req.CustomerRef != "" {
		params.Customer = stripe.String(req.CustomerRef)
	}
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}

	pi, err := c.sc.V1PaymentIntents.Create(ctx, params)
	if err != nil {
		return nil, translateError("create payment intent", err)
	}
	return &Intent{Ref: pi.ID, ClientSecret: pi.ClientSecret}, nil
}

func (c *stripeClient) GetIntent(ctx context.Context, intentRef string) (*IntentState, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	pi, err := c.sc.V1PaymentIntents.Retrieve(ctx, intentRef, &stripe.PaymentIntentRetrieveParams{})
	if err != nil {
		return nil, translateError("retrieve payment intent", err)
	}

	state := &IntentState{Status: IntentStatus(pi.Status)}
	if pi.LatestCharge != nil {
		state.TransactionRef = pi.LatestCharge.ID
	}
	return state, nil
}

func (c *stripeClient) CancelIntent(ctx context.Context, intentRef string) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	params := &stripe.PaymentIntentCancelParams{}
	params.SetIdempotencyKey("cancel-" + intentRef)
	if _, err := c.sc.V1PaymentIntents.Cancel(ctx, intentRef, params); err != nil {
		return translateError("cancel payment intent", err)
	}
	return nil
}

func (c *stripeClient) CreateSubscription(ctx context.Context, req SubscriptionRequest) (*SubscriptionResult, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	params := &stripe.SubscriptionCreateParams{
		Customer: stripe.String(req.CustomerRef),
		Items: []*stripe.SubscriptionCreateItemParams{
			{Price: stripe.String(req.PriceRef)},
		},
		// The first charge must settle before the subscription exists.
		PaymentBehavior: stripe.String("error_if_incomplete"),
		Metadata:        req.Metadata,
	}
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}

	sub, err := c.sc.V1Subscriptions.Create(ctx, params)
	if err != nil {
		return nil, translateError("create subscription", err)
	}

	return subscriptionResult(sub)
}

// subscriptionResult normalizes a created subscription. When it has no
// current period the result still carries Ref so the caller can cancel it.
func subscriptionResult(sub *stripe.Subscription) (*SubscriptionResult, error) {
	result := &SubscriptionResult{Ref: sub.ID}
	if sub.Items != nil {
		for _, item := range sub.Items.Data {
			if end := time.Unix(item.CurrentPeriodEnd, 0).UTC(); end.After(result.PeriodEnd) {
				result.PeriodEnd = end
			}
		}
	}
	if sub.LatestInvoice != nil {
		result.LatestInvoiceRef = sub.LatestInvoice.ID
	}
	if result.PeriodEnd.IsZero() {
		return result, fmt.Errorf("create subscription: %w: subscription %s has no current period", ErrRejected, sub.ID)
	}
	return result, nil
}

func (c *stripeClient) CancelSubscription(ctx context.Context, subscriptionRef string, atPeriodEnd bool) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var err error
	if atPeriodEnd {
		_, err = c.sc.V1Subscriptions.Update(ctx, subscriptionRef, &stripe.SubscriptionUpdateParams{
			CancelAtPeriodEnd: stripe.Bool(true),
		})
	} else {
		_, err = c.sc.V1Subscriptions.Cancel(ctx, subscriptionRef, &stripe.SubscriptionCancelParams{})
	}
	if err != nil {
		return translateError("cancel subscription", err)
	}
	return nil
}

func (c *stripeClient) Refund(ctx context.Context, transactionRef string) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	params := &stripe.RefundCreateParams{Charge: stripe.String(transactionRef)}
	params.SetIdempotencyKey("refund-" + transactionRef)

	if _, err := c.sc.V1Refunds.Create(ctx, params); err != nil {
		return translateError("refund", err)
	}
	return nil
}

// translateError sorts a Stripe SDK error into ErrUnavailable or ErrRejected.
func translateError(op string, err error) error {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		if stripeErr.HTTPStatusCode >= http.StatusInternalServerError || stripeErr.HTTPStatusCode == http.StatusTooManyRequests ||
			stripeErr.Type == stripe.ErrorTypeAPI {
			return fmt.Errorf("%s: %w: %s", op, ErrUnavailable, stripeErr.Msg)
		}
		return fmt.Errorf("%s: %w: %s", op, ErrRejected, stripeErr.Msg)
	}
	return fmt.Errorf("%s: %w: %v", op, ErrUnavailable, err)
}
