package controllers

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	fiberlog "github.com/gofiber/fiber/v2/log"

	"github.com/CloudKeepHQ/CloudKeep/internal/pkg/billing"
	"github.com/CloudKeepHQ/CloudKeep/internal/pkg/database"
)

// HandleBillingWebhook receives provider events. The response is a success
// acknowledgment on every outcome except a signature mismatch, so the
// provider never enters a retry storm over an internal handler failure;
// failed handlers are visible in the webhook log instead.
func HandleBillingWebhook(c *fiber.Ctx) error {
	rawBody := append([]byte(nil), c.BodyRaw()...)
	signature := strings.TrimSpace(c.Get("X-Billing-Signature"))

	ing, err := billing.NewIngestorFromDB(database.GetDB())
	if err != nil {
		fiberlog.Errorf("[Webhook] Ingestor setup failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "webhook_setup_failed"})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	outcome, err := ing.Ingest(ctx, rawBody, signature)
	if err != nil {
		if errors.Is(err, billing.ErrInvalidSignature) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_signature"})
		}
		fiberlog.Errorf("[Webhook] Persisting event failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "webhook_persist_failed"})
	}

	if outcome.HandlerErr != nil {
		fiberlog.Errorf("[Webhook] Event %s (log %d) failed: %v", outcome.EventType, outcome.LogID, outcome.HandlerErr)
	}
	if outcome.Duplicate {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true, "duplicate": true})
	}
	if outcome.Ignored {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true, "ignored": true})
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true})
}
