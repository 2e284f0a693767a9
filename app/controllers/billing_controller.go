package controllers

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/TitanCloudAI/titan-cloud/internal/pkg/analytics"
	"github.com/TitanCloudAI/titan-cloud/internal/pkg/billing"
)

const billingRequestTimeout = 15 * time.Second

var (
	billingService    *billing.Service
	billingDispatcher *billing.Dispatcher
	billingConfig     billing.Config
	billingValidate   = validator.New()
)

// InitializeBillingController wires the billing HTTP handlers to their
// dependencies. Must be called before the routes are installed.
func InitializeBillingController(svc *billing.Service, dispatcher *billing.Dispatcher, cfg billing.Config) {
	billingService = svc
	billingDispatcher = dispatcher
	billingConfig = cfg
}

type createSubscriptionRequest struct {
	PlanID     string `json:"plan_id" validate:"required"`
	CustomerID string `json:"customer_id"`
	Email      string `json:"email" validate:"required_without=CustomerID,omitempty,email"`
}

type updateSubscriptionRequest struct {
	SubscriptionID string `json:"subscription_id" validate:"required"`
	PriceID        string `json:"price_id" validate:"required"`
}

type cancelSubscriptionRequest struct {
	SubscriptionID string `json:"subscription_id" validate:"required"`
}

// HandleBillingConfig returns the publishable key the dashboard needs to
// bootstrap its payment form.
func HandleBillingConfig(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"publishable_key": billingConfig.ClientPublishableKey(),
	})
}

func HandleCreateSubscription(c *fiber.Ctx) error {
	var req createSubscriptionRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_request", "message": "Malformed JSON body"})
	}
	if err := billingValidate.Struct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_request", "message": err.Error()})
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	result, err := billingService.CreateSubscription(ctx, req.PlanID, req.CustomerID, req.Email)
	if err != nil {
		return billingErrorResponse(c, err)
	}
	return c.JSON(result)
}

func HandleSubscriptionStatus(c *fiber.Ctx) error {
	sessionID := c.Query("session_id")
	if sessionID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_request", "message": "session_id is required"})
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	result, err := billingService.GetSubscriptionStatus(ctx, sessionID, c.Query("customer_id"))
	if err != nil {
		return billingErrorResponse(c, err)
	}
	return c.JSON(result)
}

func HandleListInvoices(c *fiber.Ctx) error {
	customerID := c.Query("customer_id")
	if customerID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_request", "message": "customer_id is required"})
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	invoices, err := billingService.GetInvoices(ctx, customerID)
	if err != nil {
		return billingErrorResponse(c, err)
	}
	return c.JSON(fiber.Map{"invoices": invoices})
}

func HandleFinancialReport(c *fiber.Ctx) error {
	customerID := c.Query("customer_id")
	if customerID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_request", "message": "customer_id is required"})
	}

	start, err := parseReportDate(c.Query("start_date"), time.Now().AddDate(0, -1, 0))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_request", "message": "start_date must be YYYY-MM-DD"})
	}
	end, err := parseReportDate(c.Query("end_date"), time.Now())
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_request", "message": "end_date must be YYYY-MM-DD"})
	}
	if end.Before(start) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_request", "message": "end_date must not precede start_date"})
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	report, err := billingService.GetFinancialReport(ctx, customerID, start, end)
	if err != nil {
		return billingErrorResponse(c, err)
	}
	return c.JSON(report)
}

func HandleCancelSubscription(c *fiber.Ctx) error {
	var req cancelSubscriptionRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_request", "message": "Malformed JSON body"})
	}
	if err := billingValidate.Struct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_request", "message": err.Error()})
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	state, err := billingService.CancelSubscription(ctx, req.SubscriptionID)
	if err != nil {
		return billingErrorResponse(c, err)
	}
	return c.JSON(state)
}

func HandleUpdateSubscription(c *fiber.Ctx) error {
	var req updateSubscriptionRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_request", "message": "Malformed JSON body"})
	}
	if err := billingValidate.Struct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_request", "message": err.Error()})
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	state, err := billingService.UpdateSubscription(ctx, req.SubscriptionID, req.PriceID)
	if err != nil {
		return billingErrorResponse(c, err)
	}
	return c.JSON(state)
}

// HandleBillingAnalytics reports the operational event counters recorded for
// one UTC day, defaulting to today.
func HandleBillingAnalytics(c *fiber.Ctx) error {
	day, err := parseReportDate(c.Query("date"), time.Now())
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_request", "message": "date must be YYYY-MM-DD"})
	}

	counts, err := analytics.EventCounts(day)
	if err != nil {
		log.Printf("analytics counter read failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "analytics_unavailable"})
	}
	return c.JSON(fiber.Map{
		"date":   day.Format("2006-01-02"),
		"events": counts,
	})
}

// HandleStripeWebhook receives provider deliveries. The raw body is passed
// to signature verification untouched; Fiber reuses its buffer so it is
// copied first.
func HandleStripeWebhook(c *fiber.Ctx) error {
	rawBody := append([]byte(nil), c.BodyRaw()...)
	signature := c.Get("Stripe-Signature")

	ctx, cancel := requestContext(c)
	defer cancel()

	result, err := billingDispatcher.Handle(ctx, rawBody, signature)
	if err != nil {
		var sigErr *billing.InvalidSignatureError
		if errors.As(err, &sigErr) {
			return c.Status(fiber.StatusBadRequest).SendString("invalid signature")
		}
		// Non-2xx makes Stripe redeliver; the event row keeps the retry
		// from repeating completed side effects.
		log.Printf("webhook processing failed: %v", err)
		return c.Status(fiber.StatusBadRequest).SendString("webhook processing failed")
	}
	if result.Duplicate {
		return c.JSON(fiber.Map{"received": true, "duplicate": true})
	}
	return c.JSON(fiber.Map{"received": true})
}

func requestContext(c *fiber.Ctx) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.UserContext(), billingRequestTimeout)
}

func parseReportDate(value string, fallback time.Time) (time.Time, error) {
	if value == "" {
		return fallback.UTC().Truncate(24 * time.Hour), nil
	}
	return time.Parse("2006-01-02", value)
}

// billingErrorResponse maps service errors to HTTP responses without leaking
// provider internals.
func billingErrorResponse(c *fiber.Ctx, err error) error {
	var cfgErr *billing.ConfigurationError
	if errors.As(err, &cfgErr) {
		log.Printf("billing misconfigured: %v", cfgErr)
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "billing_unavailable", "message": "Billing is not configured"})
	}

	var initErr *billing.InitializationError
	if errors.As(err, &initErr) {
		log.Printf("billing provider unavailable: %v", initErr)
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "billing_unavailable", "message": "Payment system unavailable, please try again"})
	}

	var createErr *billing.SubscriptionCreationError
	if errors.As(err, &createErr) {
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "subscription_create_failed", "message": createErr.Error()})
	}

	var provErr *billing.ProviderError
	if errors.As(err, &provErr) {
		log.Printf("billing provider call failed: %v", provErr)
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "provider_error", "message": "Payment provider request failed"})
	}

	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_request", "message": err.Error()})
}
