package main

import (
	"net/http"

	"estatehub/internal/common"
	"estatehub/internal/handlers"
	"estatehub/internal/middleware"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type routeHandlers struct {
	payments      *handlers.PaymentHandlers
	subscriptions *handlers.SubscriptionHandlers
	webhooks      *handlers.WebhookHandlers
	health        *handlers.HealthHandlers
}

func registerRoutes(e *echo.Echo, h routeHandlers, gatherer prometheus.Gatherer, auth, apiLimit, webhookLimit echo.MiddlewareFunc) {
	// Health, metrics and gateway callbacks (no JWT)
	e.GET("/health", h.health.LivenessCheck)
	e.GET("/health/ready", h.health.ReadinessCheck)
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	e.POST("/webhooks/gateway", h.webhooks.GatewayWebhook, webhookLimit)

	v1 := middleware.VersionRoute(e, "v1", version, apiLimit, auth)

	v1.POST("/payments", h.payments.CreatePayment)
	v1.POST("/payments/featured", h.payments.CreateFeaturedListingPayment)
	v1.GET("/payments", h.payments.ListPayments)
	v1.GET("/payments/:id", h.payments.GetPayment)
	v1.POST("/payments/:id/confirm", h.payments.ConfirmPayment)
	v1.POST("/payments/:id/refund", h.payments.RequestRefund)
	v1.GET("/featured-packages", h.payments.ListFeaturedPackages)

	v1.POST("/subscriptions", h.subscriptions.CreateSubscription)
	v1.DELETE("/subscriptions/:id", h.subscriptions.CancelSubscription)
	v1.GET("/subscriptions/status", h.subscriptions.GetStatus)
	v1.GET("/plans", h.subscriptions.ListPlans)

	e.RouteNotFound("/*", func(c echo.Context) error {
		return c.JSON(http.StatusNotFound, common.CreateErrorResponse(string(common.KindNotFound), "Route not found", nil))
	})
}
