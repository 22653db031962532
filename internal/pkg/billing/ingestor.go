package billing

import (
	"context"
	"fmt"

	"github.com/CloudKeepHQ/CloudKeep/app/models"
	"github.com/CloudKeepHQ/CloudKeep/internal/pkg/env"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"
)

// EventHandler is one state-transition handler in the dispatch table.
type EventHandler func(ctx context.Context, ev *WebhookEvent) error

// IngestOutcome reports what happened to one delivery. HandlerErr is recorded
// in the log row and never propagated: the provider always gets a success
// acknowledgment so its retry machinery stays quiet.
type IngestOutcome struct {
	LogID      uint
	EventType  string
	Duplicate  bool
	Ignored    bool
	HandlerErr error
}

// Ingestor verifies, deduplicates and dispatches inbound provider events.
type Ingestor struct {
	repo     Repository
	secret   string
	handlers map[string]EventHandler
	ignored  map[string]struct{}
}

// knownEvents is every event name the provider can deliver. The dispatch
// table must cover all of them, either with a handler or an explicit ignore.
func knownEvents() []string {
	return []string{
		EventSubscriptionActivated,
		EventSubscriptionCharged,
		EventSubscriptionPending,
		EventSubscriptionHalted,
		EventSubscriptionPaused,
		EventSubscriptionResumed,
		EventSubscriptionCancelled,
		EventSubscriptionUpdated,
		EventSubscriptionCompleted,
		EventPaymentAuthorized,
	}
}

// NewIngestor builds the dispatch table over a billing service and validates
// its coverage.
func NewIngestor(svc *Service, secret string) (*Ingestor, error) {
	ing := &Ingestor{
		repo:   svc.repo,
		secret: secret,
		handlers: map[string]EventHandler{
			EventSubscriptionActivated: svc.HandleActivated,
			EventSubscriptionCharged:   svc.HandleCharged,
			EventSubscriptionPending:   svc.HandlePending,
			EventSubscriptionHalted:    svc.HandleHalted,
			EventSubscriptionPaused:    svc.HandlePaused,
			EventSubscriptionResumed:   svc.HandleResumed,
			EventSubscriptionCancelled: svc.HandleCancelled,
		},
		ignored: map[string]struct{}{
			EventSubscriptionUpdated:   {},
			EventSubscriptionCompleted: {},
			EventPaymentAuthorized:     {},
		},
	}

	for _, name := range knownEvents() {
		_, handled := ing.handlers[name]
		_, skipped := ing.ignored[name]
		if !handled && !skipped {
			return nil, fmt.Errorf("webhook event %q has neither a handler nor an ignore marker", name)
		}
		if handled && skipped {
			return nil, fmt.Errorf("webhook event %q is both handled and ignored", name)
		}
	}
	return ing, nil
}

// NewIngestorFromDB wires an ingestor with the default service stack and the
// webhook secret from the environment.
func NewIngestorFromDB(db *gorm.DB) (*Ingestor, error) {
	return NewIngestor(NewServiceFromDB(db), env.GetEnv("BILLING_WEBHOOK_SECRET", ""))
}

// Ingest processes one raw delivery. A signature mismatch returns
// ErrInvalidSignature with no side effects and no log row; every other
// outcome is recorded in the webhook log.
func (i *Ingestor) Ingest(ctx context.Context, body []byte, signatureHeader string) (*IngestOutcome, error) {
	if !VerifyWebhookSignature(body, signatureHeader, i.secret) {
		return nil, ErrInvalidSignature
	}

	ev, parseErr := ParseWebhookEvent(body)

	entry := &models.WebhookLog{
		Signature: signatureHeader,
		Payload:   string(body),
		Status:    models.WebhookLogStatusPending,
	}
	if ev != nil {
		entry.EventType = ev.Event
		entry.ExternalID = ev.Payload.Subscription.Entity.ID
		entry.UserID = ev.Payload.Subscription.Entity.NoteUserID()
	}

	created, stored, err := i.repo.CreateWebhookLogIfNotExists(entry)
	if err != nil {
		return nil, err
	}
	outcome := &IngestOutcome{LogID: stored.ID, EventType: entry.EventType}
	if !created {
		// Same signature seen before: replayed delivery, the original
		// outcome stands.
		outcome.Duplicate = true
		return outcome, nil
	}

	if parseErr != nil {
		outcome.HandlerErr = parseErr
		i.recordOutcome(stored.ID, models.WebhookLogStatusFailed, "malformed payload: "+parseErr.Error())
		return outcome, nil
	}

	handler, ok := i.handlers[ev.Event]
	if !ok {
		// Unknown and explicitly ignored events are acknowledged, not errors.
		outcome.Ignored = true
		i.recordOutcome(stored.ID, models.WebhookLogStatusProcessed, "event ignored")
		return outcome, nil
	}

	if err := i.invoke(ctx, handler, ev); err != nil {
		outcome.HandlerErr = err
		i.recordOutcome(stored.ID, models.WebhookLogStatusFailed, err.Error())
		return outcome, nil
	}

	i.recordOutcome(stored.ID, models.WebhookLogStatusProcessed, "")
	return outcome, nil
}

// invoke runs a handler, converting a panic into an error so the log row
// still gets its outcome.
func (i *Ingestor) invoke(ctx context.Context, handler EventHandler, ev *WebhookEvent) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return handler(ctx, ev)
}

func (i *Ingestor) recordOutcome(logID uint, status, message string) {
	if err := i.repo.MarkWebhookLogOutcome(logID, status, message); err != nil {
		log.Errorf("[Webhook] Updating log %d to %s failed: %v", logID, status, err)
	}
}
