package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"estatehub/internal/common"
	"estatehub/internal/models"
	"estatehub/internal/services"

	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"
)

// PaymentHandlers handles HTTP requests for one-off payments
type PaymentHandlers struct {
	paymentService services.PaymentService
}

// NewPaymentHandlers creates a new payment handlers instance
func NewPaymentHandlers(paymentService services.PaymentService) *PaymentHandlers {
	return &PaymentHandlers{paymentService: paymentService}
}

type createPaymentRequest struct {
	Kind            string          `json:"kind" validate:"required,oneof=featured_listing subscription"`
	Amount          decimal.Decimal `json:"amount"`
	Currency        string          `json:"currency" validate:"required,len=3,alpha"`
	TargetListingID *int64          `json:"target_listing_id" validate:"omitempty,gt=0"`
	Details         json.RawMessage `json:"details"`
}

type createFeaturedPaymentRequest struct {
	ListingID int64 `json:"listing_id" validate:"required,gt=0"`
	PackageID int64 `json:"package_id" validate:"required,gt=0"`
}

// CreatePayment handles POST /payments
func (h *PaymentHandlers) CreatePayment(c echo.Context) error {
	actor, ok, err := actorFrom(c)
	if !ok {
		return err
	}

	var req createPaymentRequest
	if ok, err := bindAndValidate(c, &req); !ok {
		return err
	}

	kind := models.PaymentKind(req.Kind)
	raw := req.Details
	if len(raw) == 0 {
		raw = json.RawMessage(`{}`)
	}
	details, err := models.DecodePaymentDetails(kind, raw)
	if err != nil {
		return common.SendValidationError(c, "details", "invalid payment details")
	}

	result, err := h.paymentService.CreatePayment(c.Request().Context(), actor, services.CreatePaymentRequest{
		Kind:      kind,
		Amount:    req.Amount,
		Currency:  req.Currency,
		ListingID: req.TargetListingID,
		Details:   details,
	})
	if err != nil {
		return common.SendAppError(c, err)
	}
	return c.JSON(http.StatusCreated, result)
}

// CreateFeaturedListingPayment handles POST /payments/featured
func (h *PaymentHandlers) CreateFeaturedListingPayment(c echo.Context) error {
	actor, ok, err := actorFrom(c)
	if !ok {
		return err
	}

	var req createFeaturedPaymentRequest
	if ok, err := bindAndValidate(c, &req); !ok {
		return err
	}

	result, err := h.paymentService.CreateFeaturedListingPayment(c.Request().Context(), actor, req.ListingID, req.PackageID)
	if err != nil {
		return common.SendAppError(c, err)
	}
	return c.JSON(http.StatusCreated, result)
}

// ListPayments handles GET /payments
func (h *PaymentHandlers) ListPayments(c echo.Context) error {
	actor, ok, err := actorFrom(c)
	if !ok {
		return err
	}

	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	offset, _ := strconv.Atoi(c.QueryParam("offset"))
	limit, offset, err = common.ValidatePaginationParams(limit, offset)
	if err != nil {
		return common.SendValidationError(c, "offset", err.Error())
	}

	var ownerID int64
	if raw := c.QueryParam("owner_id"); raw != "" {
		ownerID, err = strconv.ParseInt(raw, 10, 64)
		if err != nil || ownerID <= 0 {
			return common.SendValidationError(c, "owner_id", "owner_id must be a positive integer")
		}
	}

	payments, err := h.paymentService.ListPayments(c.Request().Context(), actor, ownerID, limit, offset)
	if err != nil {
		return common.SendAppError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"payments": payments,
		"limit":    limit,
		"offset":   offset,
	})
}

// GetPayment handles GET /payments/:id
func (h *PaymentHandlers) GetPayment(c echo.Context) error {
	actor, ok, err := actorFrom(c)
	if !ok {
		return err
	}
	id, err := common.ValidateUUID(c.Param("id"), "payment id")
	if err != nil {
		return common.SendValidationError(c, "id", err.Error())
	}

	payment, err := h.paymentService.GetPayment(c.Request().Context(), id, actor)
	if err != nil {
		return common.SendAppError(c, err)
	}
	return c.JSON(http.StatusOK, payment)
}

// ConfirmPayment handles POST /payments/:id/confirm
func (h *PaymentHandlers) ConfirmPayment(c echo.Context) error {
	actor, ok, err := actorFrom(c)
	if !ok {
		return err
	}
	id, err := common.ValidateUUID(c.Param("id"), "payment id")
	if err != nil {
		return common.SendValidationError(c, "id", err.Error())
	}

	payment, err := h.paymentService.ConfirmPayment(c.Request().Context(), id, actor)
	if err != nil {
		return common.SendAppError(c, err)
	}
	return c.JSON(http.StatusOK, payment)
}

// RequestRefund handles POST /payments/:id/refund
func (h *PaymentHandlers) RequestRefund(c echo.Context) error {
	actor, ok, err := actorFrom(c)
	if !ok {
		return err
	}
	id, err := common.ValidateUUID(c.Param("id"), "payment id")
	if err != nil {
		return common.SendValidationError(c, "id", err.Error())
	}

	payment, err := h.paymentService.RequestRefund(c.Request().Context(), id, actor)
	if err != nil {
		return common.SendAppError(c, err)
	}
	return c.JSON(http.StatusOK, payment)
}

// ListFeaturedPackages handles GET /featured-packages
func (h *PaymentHandlers) ListFeaturedPackages(c echo.Context) error {
	packages, err := h.paymentService.ListFeaturedPackages(c.Request().Context())
	if err != nil {
		return common.SendAppError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"featured_packages": packages})
}
