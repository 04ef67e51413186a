package handlers

import (
	"context"

	"estatehub/internal/common"
	"estatehub/internal/models"
	"estatehub/internal/services"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/mock"
)

type MockPaymentService struct {
	mock.Mock
}

func (m *MockPaymentService) CreatePayment(ctx context.Context, actor models.Actor, req services.CreatePaymentRequest) (*services.CreatePaymentResult, error) {
	args := m.Called(ctx, actor, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.CreatePaymentResult), args.Error(1)
}

func (m *MockPaymentService) CreateFeaturedListingPayment(ctx context.Context, actor models.Actor, listingID, packageID int64) (*services.CreatePaymentResult, error) {
	args := m.Called(ctx, actor, listingID, packageID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.CreatePaymentResult), args.Error(1)
}

func (m *MockPaymentService) ConfirmPayment(ctx context.Context, paymentID uuid.UUID, actor models.Actor) (*models.Payment, error) {
	args := m.Called(ctx, paymentID, actor)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Payment), args.Error(1)
}

func (m *MockPaymentService) RequestRefund(ctx context.Context, paymentID uuid.UUID, actor models.Actor) (*models.Payment, error) {
	args := m.Called(ctx, paymentID, actor)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Payment), args.Error(1)
}

func (m *MockPaymentService) GetPayment(ctx context.Context, paymentID uuid.UUID, actor models.Actor) (*models.Payment, error) {
	args := m.Called(ctx, paymentID, actor)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Payment), args.Error(1)
}

func (m *MockPaymentService) ListPayments(ctx context.Context, actor models.Actor, ownerID int64, limit, offset int) ([]*models.Payment, error) {
	args := m.Called(ctx, actor, ownerID, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.Payment), args.Error(1)
}

func (m *MockPaymentService) ListFeaturedPackages(ctx context.Context) ([]*models.FeaturedPackage, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.FeaturedPackage), args.Error(1)
}

type MockSubscriptionService struct {
	mock.Mock
}

func (m *MockSubscriptionService) CreateSubscription(ctx context.Context, actor models.Actor, planSlug string) (*models.Subscription, error) {
	args := m.Called(ctx, actor, planSlug)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Subscription), args.Error(1)
}

func (m *MockSubscriptionService) CancelSubscription(ctx context.Context, subscriptionID uuid.UUID, actor models.Actor) (*models.Subscription, error) {
	args := m.Called(ctx, subscriptionID, actor)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Subscription), args.Error(1)
}

func (m *MockSubscriptionService) CheckStatus(ctx context.Context, ownerID int64) (*services.SubscriptionStatusReport, error) {
	args := m.Called(ctx, ownerID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.SubscriptionStatusReport), args.Error(1)
}

func (m *MockSubscriptionService) ExpireLapsed(ctx context.Context, limit int) (int, error) {
	args := m.Called(ctx, limit)
	return args.Int(0), args.Error(1)
}

func (m *MockSubscriptionService) ListPlans(ctx context.Context) ([]*models.Plan, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.Plan), args.Error(1)
}

type MockWebhookService struct {
	mock.Mock
}

func (m *MockWebhookService) HandleEvent(ctx context.Context, payload []byte, signature string) error {
	args := m.Called(ctx, payload, signature)
	return args.Error(0)
}

type stubPinger struct{ err error }

func (p stubPinger) Ping(ctx context.Context) error { return p.err }

// withActor mimics the JWT middleware.
func withActor(c echo.Context, actor models.Actor) {
	c.SetRequest(c.Request().WithContext(common.WithActor(c.Request().Context(), actor)))
}
