package gateway

import (
	"context"
	"time"

	"estatehub/internal/observability"
)

type instrumentedClient struct {
	next    Client
	metrics *observability.Metrics
}

// NewInstrumentedClient records latency and failures of every call made through next.
func NewInstrumentedClient(next Client, metrics *observability.Metrics) Client {
	return &instrumentedClient{next: next, metrics: metrics}
}

func (c *instrumentedClient) observe(op string, start time.Time, err error) {
	c.metrics.GatewayRequests.WithLabelValues(op).Observe(time.Since(start).Seconds())
	if err != nil {
		c.metrics.GatewayErrors.WithLabelValues(op).Inc()
	}
}

func (c *instrumentedClient) CreateOrGetCustomer(ctx context.Context, ownerID int64, email, name string) (string, error) {
	start := time.Now()
	ref, err := c.next.CreateOrGetCustomer(ctx, ownerID, email, name)
	c.observe("create_customer", start, err)
	return ref, err
}

func (c *instrumentedClient) CreateIntent(ctx context.Context, req IntentRequest) (*Intent, error) {
	start := time.Now()
	intent, err := c.next.CreateIntent(ctx, req)
	c.observe("create_intent", start, err)
	return intent, err
}

func (c *instrumentedClient) GetIntent(ctx context.Context, intentRef string) (*IntentState, error) {
	start := time.Now()
	state, err := c.next.GetIntent(ctx, intentRef)
	c.observe("get_intent", start, err)
	return state, err
}

func (c *instrumentedClient) CancelIntent(ctx context.Context, intentRef string) error {
	start := time.Now()
	err := c.next.CancelIntent(ctx, intentRef)
	c.observe("cancel_intent", start, err)
	return err
}

func (c *instrumentedClient) CreateSubscription(ctx context.Context, req SubscriptionRequest) (*SubscriptionResult, error) {
	start := time.Now()
	result, err := c.next.CreateSubscription(ctx, req)
	c.observe("create_subscription", start, err)
	return result, err
}

func (c *instrumentedClient) CancelSubscription(ctx context.Context, subscriptionRef string, atPeriodEnd bool) error {
	start := time.Now()
	err := c.next.CancelSubscription(ctx, subscriptionRef, atPeriodEnd)
	c.observe("cancel_subscription", start, err)
	return err
}

func (c *instrumentedClient) Refund(ctx context.Context, transactionRef string) error {
	start := time.Now()
	err := c.next.Refund(ctx, transactionRef)
	c.observe("refund", start, err)
	return err
}
