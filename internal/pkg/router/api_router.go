package router

import (
	"github.com/CloudKeepHQ/CloudKeep/app/controllers"
	"github.com/CloudKeepHQ/CloudKeep/internal/pkg/middleware"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
)

type ApiRouter struct {
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	// The provider posts here with its own HMAC signature; no API key and no
	// rate limit, otherwise a burst of retries would drop real events.
	app.Post("/api/v1/webhooks/billing", controllers.HandleBillingWebhook)

	api := app.Group("/api", limiter.New())
	api.Get("/", func(ctx *fiber.Ctx) error {
		return ctx.Status(fiber.StatusOK).JSON(fiber.Map{
			"message": "CloudKeep API",
		})
	})

	// API v1 routes
	v1 := api.Group("/v1", middleware.APIKeyAuthMiddleware())
	v1.Post("/subscriptions", controllers.HandleCreateSubscription)
	v1.Delete("/subscriptions/current", controllers.HandleCancelSubscription)
	v1.Post("/subscriptions/change-plan", controllers.HandleChangePlan)
	v1.Get("/subscriptions/eligible-plans", controllers.HandleGetEligiblePlans)
}

func NewApiRouter() *ApiRouter {
	return &ApiRouter{}
}
