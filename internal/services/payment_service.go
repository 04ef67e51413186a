package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"estatehub/internal/common"
	"estatehub/internal/gateway"
	"estatehub/internal/models"
	"estatehub/internal/repositories"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// PaymentService handles one-off payments: creation against the gateway,
// client confirmation and refunds.
type PaymentService interface {
	CreatePayment(ctx context.Context, actor models.Actor, req CreatePaymentRequest) (*CreatePaymentResult, error)
	CreateFeaturedListingPayment(ctx context.Context, actor models.Actor, listingID, packageID int64) (*CreatePaymentResult, error)
	ConfirmPayment(ctx context.Context, paymentID uuid.UUID, actor models.Actor) (*models.Payment, error)
	RequestRefund(ctx context.Context, paymentID uuid.UUID, actor models.Actor) (*models.Payment, error)
	GetPayment(ctx context.Context, paymentID uuid.UUID, actor models.Actor) (*models.Payment, error)
	ListPayments(ctx context.Context, actor models.Actor, ownerID int64, limit, offset int) ([]*models.Payment, error)
	ListFeaturedPackages(ctx context.Context) ([]*models.FeaturedPackage, error)
}

type CreatePaymentRequest struct {
	Kind      models.PaymentKind
	Amount    decimal.Decimal
	Currency  string
	ListingID *int64
	Details   models.PaymentDetails
}

type CreatePaymentResult struct {
	Payment      *models.Payment `json:"payment"`
	ClientSecret string          `json:"client_secret"`
}

type paymentService struct {
	store      repositories.Store
	gateway    gateway.Client
	settlement *Settlement
	catalog    CatalogService
	customers  *customerResolver
	logger     logrus.FieldLogger
}

// NewPaymentService creates a new PaymentService instance
func NewPaymentService(
	store repositories.Store,
	gatewayClient gateway.Client,
	settlement *Settlement,
	catalog CatalogService,
	logger logrus.FieldLogger,
) PaymentService {
	return &paymentService{
		store:      store,
		gateway:    gatewayClient,
		settlement: settlement,
		catalog:    catalog,
		customers:  &customerResolver{store: store, gateway: gatewayClient},
		logger:     logger,
	}
}

// CreatePayment reserves a pending payment, opens a gateway intent for it and
// returns the client secret. When the gateway cannot be reached no payment
// row survives.
func (s *paymentService) CreatePayment(ctx context.Context, actor models.Actor, req CreatePaymentRequest) (*CreatePaymentResult, error) {
	details, err := s.validateCreate(ctx, actor, req)
	if err != nil {
		return nil, err
	}
	amountMinor, err := models.ToMinorUnits(req.Amount, req.Currency)
	if err != nil {
		return nil, common.NewValidationError("%v", err)
	}

	payment := models.NewPendingPayment(actor.UserID, req.Amount, req.Currency, details)
	if err := s.store.Payments().Create(ctx, payment); err != nil {
		return nil, fmt.Errorf("failed to reserve payment: %w", err)
	}

	log := s.logger.WithFields(logrus.Fields{"payment_id": payment.ID, "owner_id": payment.OwnerID, "kind": payment.Kind})

	intent, err := s.openIntent(ctx, payment, amountMinor)
	if err != nil {
		// The reservation never reached the gateway. Drop it even if the
		// caller has gone away.
		if relErr := s.store.Payments().ReleaseReservation(context.WithoutCancel(ctx), payment.ID); relErr != nil {
			log.WithError(relErr).Error("failed to release payment reservation")
		}
		log.WithError(err).Warn("payment creation aborted")
		return nil, err
	}

	payment.IntentRef = &intent.Ref
	log.WithField("intent_ref", intent.Ref).Info("payment created")
	return &CreatePaymentResult{Payment: payment, ClientSecret: intent.ClientSecret}, nil
}

func (s *paymentService) validateCreate(ctx context.Context, actor models.Actor, req CreatePaymentRequest) (models.PaymentDetails, error) {
	if !req.Kind.Valid() {
		return nil, common.NewValidationError("unknown payment kind %q", req.Kind)
	}
	if req.Details == nil {
		return nil, common.NewValidationError("payment details are required")
	}
	if req.Details.Kind() != req.Kind {
		return nil, common.NewValidationError("details do not match payment kind %q", req.Kind)
	}
	if err := models.ValidateAmount(req.Amount, req.Currency); err != nil {
		return nil, common.NewValidationError("%v", err)
	}

	details := req.Details
	if fl, ok := details.(models.FeaturedListingDetails); ok {
		if req.ListingID == nil {
			return nil, common.NewValidationError("target_listing_id is required for featured listing payments")
		}
		fl.ListingID = *req.ListingID
		details = fl

		listing, err := s.store.Listings().GetByID(ctx, fl.ListingID)
		if err != nil {
			if errors.Is(err, repositories.ErrNotFound) {
				return nil, common.NewValidationError("listing %d not found", fl.ListingID)
			}
			return nil, fmt.Errorf("failed to load listing: %w", err)
		}
		if !actor.CanAct(listing.OwnerID) {
			return nil, common.NewUnauthorizedError("listing belongs to another user")
		}
	}
	if err := details.Validate(); err != nil {
		return nil, common.NewValidationError("%v", err)
	}
	return details, nil
}

func (s *paymentService) openIntent(ctx context.Context, payment *models.Payment, amountMinor int64) (*gateway.Intent, error) {
	customerRef, err := s.customers.resolve(ctx, payment.OwnerID)
	if err != nil {
		return nil, err
	}

	metadata := map[string]string{
		"payment_id": payment.ID.String(),
		"owner_id":   strconv.FormatInt(payment.OwnerID, 10),
		"kind":       string(payment.Kind),
	}
	if payment.ListingID != nil {
		metadata["listing_id"] = strconv.FormatInt(*payment.ListingID, 10)
	}

	intent, err := s.gateway.CreateIntent(ctx, gateway.IntentRequest{
		AmountMinor:    amountMinor,
		Currency:       payment.Currency,
		CustomerRef:    customerRef,
		Metadata:       metadata,
		IdempotencyKey: "payment-" + payment.ID.String(),
	})
	if err != nil {
		return nil, gatewayError(err)
	}

	if err := s.store.Payments().SetIntentRef(ctx, payment.ID, intent.Ref); err != nil {
		// The row is about to be released; the intent must not outlive it.
		if cancelErr := s.gateway.CancelIntent(context.WithoutCancel(ctx), intent.Ref); cancelErr != nil {
			s.logger.WithError(cancelErr).WithFields(logrus.Fields{"payment_id": payment.ID, "intent_ref": intent.Ref}).
				Error("failed to cancel unrecorded gateway intent")
		}
		return nil, fmt.Errorf("failed to record intent reference: %w", err)
	}
	return intent, nil
}

// CreateFeaturedListingPayment prices a featured placement from the package catalogue.
func (s *paymentService) CreateFeaturedListingPayment(ctx context.Context, actor models.Actor, listingID, packageID int64) (*CreatePaymentResult, error) {
	pkg, err := s.catalog.GetFeaturedPackage(ctx, packageID)
	if err != nil {
		return nil, err
	}
	return s.CreatePayment(ctx, actor, CreatePaymentRequest{
		Kind:      models.PaymentKindFeaturedListing,
		Amount:    pkg.Price,
		Currency:  pkg.Currency,
		ListingID: &listingID,
		Details: models.FeaturedListingDetails{
			ListingID:    listingID,
			PackageID:    &pkg.ID,
			DurationDays: pkg.DurationDays,
		},
	})
}

// ConfirmPayment asks the gateway for the intent status and settles the payment accordingly.
func (s *paymentService) ConfirmPayment(ctx context.Context, paymentID uuid.UUID, actor models.Actor) (*models.Payment, error) {
	payment, err := s.loadForActor(ctx, paymentID, actor)
	if err != nil {
		return nil, err
	}
	if !payment.Status.CanTransitionTo(models.PaymentStatusCompleted) {
		return payment, nil
	}
	if payment.IntentRef == nil {
		return nil, common.NewValidationError("payment has no gateway intent to confirm")
	}

	state, err := s.gateway.GetIntent(ctx, *payment.IntentRef)
	if err != nil {
		return nil, gatewayError(err)
	}

	if state.Status == gateway.IntentSucceeded {
		payment, _, err = s.settlement.Complete(ctx, payment.ID, state.TransactionRef, sourceConfirm)
	} else {
		payment, _, err = s.settlement.Fail(ctx, payment.ID, sourceConfirm)
	}
	if err != nil {
		return nil, err
	}
	return payment, nil
}

// RequestRefund refunds a completed payment at the gateway, then records it
// and reverses the payment's side effect.
func (s *paymentService) RequestRefund(ctx context.Context, paymentID uuid.UUID, actor models.Actor) (*models.Payment, error) {
	payment, err := s.loadForActor(ctx, paymentID, actor)
	if err != nil {
		return nil, err
	}
	if !payment.Status.CanTransitionTo(models.PaymentStatusRefunded) {
		return nil, common.NewNotRefundableError(fmt.Sprintf("payment is %s, only completed payments can be refunded", payment.Status))
	}
	if payment.TransactionRef == nil {
		return nil, common.NewNotRefundableError("payment has no settled transaction to refund")
	}

	if err := s.gateway.Refund(ctx, *payment.TransactionRef); err != nil {
		s.logger.WithError(err).WithField("payment_id", payment.ID).Warn("gateway refund failed")
		return nil, gatewayError(err)
	}

	payment, _, err = s.settlement.Refund(ctx, payment.ID, sourceRefund)
	if err != nil {
		return nil, err
	}
	return payment, nil
}

func (s *paymentService) GetPayment(ctx context.Context, paymentID uuid.UUID, actor models.Actor) (*models.Payment, error) {
	return s.loadForActor(ctx, paymentID, actor)
}

// ListPayments lists an owner's payments, newest first. ownerID 0 means the
// actor's own; other owners are visible to elevated actors only.
func (s *paymentService) ListPayments(ctx context.Context, actor models.Actor, ownerID int64, limit, offset int) ([]*models.Payment, error) {
	if ownerID == 0 {
		ownerID = actor.UserID
	}
	if !actor.CanAct(ownerID) {
		return nil, common.NewUnauthorizedError("payments belong to another user")
	}
	payments, err := s.store.Payments().ListByOwner(ctx, ownerID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list payments: %w", err)
	}
	if payments == nil {
		payments = []*models.Payment{}
	}
	return payments, nil
}

func (s *paymentService) ListFeaturedPackages(ctx context.Context) ([]*models.FeaturedPackage, error) {
	return s.catalog.ListFeaturedPackages(ctx)
}

func (s *paymentService) loadForActor(ctx context.Context, paymentID uuid.UUID, actor models.Actor) (*models.Payment, error) {
	payment, err := s.store.Payments().GetByID(ctx, paymentID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, common.NewNotFoundError("payment")
		}
		return nil, fmt.Errorf("failed to load payment: %w", err)
	}
	if !actor.CanAct(payment.OwnerID) {
		return nil, common.NewUnauthorizedError("payment belongs to another user")
	}
	return payment, nil
}

