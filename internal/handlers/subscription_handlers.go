package handlers

import (
	"net/http"

	"estatehub/internal/common"
	"estatehub/internal/services"

	"github.com/labstack/echo/v4"
)

// SubscriptionHandlers handles HTTP requests for subscriptions
type SubscriptionHandlers struct {
	subscriptionService services.SubscriptionService
}

// NewSubscriptionHandlers creates a new subscription handlers instance
func NewSubscriptionHandlers(subscriptionService services.SubscriptionService) *SubscriptionHandlers {
	return &SubscriptionHandlers{subscriptionService: subscriptionService}
}

type createSubscriptionRequest struct {
	Plan string `json:"plan" validate:"required,max=64"`
}

// CreateSubscription handles POST /subscriptions
func (h *SubscriptionHandlers) CreateSubscription(c echo.Context) error {
	actor, ok, err := actorFrom(c)
	if !ok {
		return err
	}

	var req createSubscriptionRequest
	if ok, err := bindAndValidate(c, &req); !ok {
		return err
	}

	subscription, err := h.subscriptionService.CreateSubscription(c.Request().Context(), actor, req.Plan)
	if err != nil {
		return common.SendAppError(c, err)
	}
	return c.JSON(http.StatusCreated, subscription)
}

// CancelSubscription handles DELETE /subscriptions/:id
func (h *SubscriptionHandlers) CancelSubscription(c echo.Context) error {
	actor, ok, err := actorFrom(c)
	if !ok {
		return err
	}
	id, err := common.ValidateUUID(c.Param("id"), "subscription id")
	if err != nil {
		return common.SendValidationError(c, "id", err.Error())
	}

	subscription, err := h.subscriptionService.CancelSubscription(c.Request().Context(), id, actor)
	if err != nil {
		return common.SendAppError(c, err)
	}
	return c.JSON(http.StatusOK, subscription)
}

// GetStatus handles GET /subscriptions/status
func (h *SubscriptionHandlers) GetStatus(c echo.Context) error {
	actor, ok, err := actorFrom(c)
	if !ok {
		return err
	}

	report, err := h.subscriptionService.CheckStatus(c.Request().Context(), actor.UserID)
	if err != nil {
		return common.SendAppError(c, err)
	}
	return c.JSON(http.StatusOK, report)
}

// ListPlans handles GET /plans
func (h *SubscriptionHandlers) ListPlans(c echo.Context) error {
	plans, err := h.subscriptionService.ListPlans(c.Request().Context())
	if err != nil {
		return common.SendAppError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"plans": plans})
}
