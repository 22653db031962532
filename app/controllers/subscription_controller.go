package controllers

import (
	"context"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	fiberlog "github.com/gofiber/fiber/v2/log"

	"github.com/CloudKeepHQ/CloudKeep/internal/pkg/billing"
	"github.com/CloudKeepHQ/CloudKeep/internal/pkg/database"
	"github.com/CloudKeepHQ/CloudKeep/internal/pkg/usercontext"
)

type createSubscriptionRequest struct {
	PlanID string `json:"plan_id" validate:"required"`
}

type changePlanRequest struct {
	TargetPlanID string `json:"target_plan_id" validate:"required"`
}

var requestValidator = validator.New()

// HandleCreateSubscription starts a new subscription for the authenticated
// user and returns the external subscription id for checkout.
func HandleCreateSubscription(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized"})
	}

	var req createSubscriptionRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "Invalid request body"})
	}
	if err := requestValidator.Struct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "plan_id is required"})
	}

	svc := billing.NewServiceFromDB(database.GetDB())
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	subscriptionID, err := svc.CreateSubscription(ctx, userCtx.UserID, req.PlanID)
	if err != nil {
		return billingErrorResponse(c, "create subscription", err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"subscription_id": subscriptionID})
}

// HandleCancelSubscription cancels the user's live subscription. Blocked
// while the user stores more than the free tier allows.
func HandleCancelSubscription(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized"})
	}

	svc := billing.NewServiceFromDB(database.GetDB())
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := svc.CancelSubscription(ctx, userCtx.UserID); err != nil {
		return billingErrorResponse(c, "cancel subscription", err)
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true})
}

// HandleChangePlan upgrades the user to a higher-priced plan with prorated
// bonus days.
func HandleChangePlan(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized"})
	}

	var req changePlanRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "Invalid request body"})
	}
	if err := requestValidator.Struct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "target_plan_id is required"})
	}

	svc := billing.NewServiceFromDB(database.GetDB())
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	subscriptionID, err := svc.ChangePlan(ctx, userCtx.UserID, req.TargetPlanID)
	if err != nil {
		return billingErrorResponse(c, "change plan", err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"subscription_id": subscriptionID})
}

// HandleGetEligiblePlans lists upgrade targets with the bonus days each
// would grant today.
func HandleGetEligiblePlans(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized"})
	}

	svc := billing.NewServiceFromDB(database.GetDB())
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	result, err := svc.EligiblePlans(ctx, userCtx.UserID)
	if err != nil {
		return billingErrorResponse(c, "eligible plans", err)
	}

	return c.Status(fiber.StatusOK).JSON(result)
}

// billingErrorResponse maps the billing error taxonomy to an HTTP response.
// Raw provider internals stay in the server log; the client only sees the
// safe message.
func billingErrorResponse(c *fiber.Ctx, op string, err error) error {
	status := billing.StatusOf(err)
	if status >= fiber.StatusInternalServerError {
		fiberlog.Errorf("[Billing] %s failed: %v", op, err)
	} else {
		fiberlog.Warnf("[Billing] %s rejected: %v", op, err)
	}
	return c.Status(status).JSON(fiber.Map{"error": billing.MessageOf(err)})
}
