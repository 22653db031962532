package billing

import (
	"encoding/json"
	"strconv"
	"time"
)

// Provider webhook event names.
const (
	EventSubscriptionActivated = "subscription.activated"
	EventSubscriptionCharged   = "subscription.charged"
	EventSubscriptionPending   = "subscription.pending"
	EventSubscriptionHalted    = "subscription.halted"
	EventSubscriptionPaused    = "subscription.paused"
	EventSubscriptionResumed   = "subscription.resumed"
	EventSubscriptionCancelled = "subscription.cancelled"
	// Delivered by the provider but carrying nothing this core acts on.
	EventSubscriptionUpdated   = "subscription.updated"
	EventSubscriptionCompleted = "subscription.completed"
	EventPaymentAuthorized     = "payment.authorized"
)

// Note keys the gateway round-trips on subscription objects.
const (
	NoteKeyUserID       = "user_id"
	NoteKeyMigratedFrom = "migrated_from"
	NoteKeyBonusDays    = "bonus_days"
)

// WebhookEvent is the provider's envelope:
// { event, payload: { <entityType>: { entity: {...} } } }.
type WebhookEvent struct {
	Event   string `json:"event"`
	Payload struct {
		Subscription struct {
			Entity SubscriptionEntity `json:"entity"`
		} `json:"subscription"`
		Payment struct {
			Entity PaymentEntity `json:"entity"`
		} `json:"payment"`
	} `json:"payload"`
}

// SubscriptionEntity is the provider-side subscription object. Timestamps are
// epoch seconds.
type SubscriptionEntity struct {
	ID           string            `json:"id"`
	PlanID       string            `json:"plan_id"`
	Status       string            `json:"status"`
	CurrentStart int64             `json:"current_start"`
	CurrentEnd   int64             `json:"current_end"`
	StartAt      int64             `json:"start_at"`
	EndAt        int64             `json:"end_at"`
	PaidCount    int               `json:"paid_count"`
	Notes        map[string]string `json:"notes"`
}

// PaymentEntity is the provider-side payment object attached to charge
// events.
type PaymentEntity struct {
	ID        string `json:"id"`
	InvoiceID string `json:"invoice_id"`
	Amount    int64  `json:"amount"`
	Status    string `json:"status"`
}

// ParseWebhookEvent decodes a raw webhook body.
func ParseWebhookEvent(body []byte) (*WebhookEvent, error) {
	var ev WebhookEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return nil, err
	}
	return &ev, nil
}

// Note returns a note value from the subscription entity, or "".
func (e *SubscriptionEntity) Note(key string) string {
	if e.Notes == nil {
		return ""
	}
	return e.Notes[key]
}

// NoteUserID extracts the owning user id note, 0 when absent or malformed.
func (e *SubscriptionEntity) NoteUserID() uint {
	v, err := strconv.ParseUint(e.Note(NoteKeyUserID), 10, 32)
	if err != nil {
		return 0
	}
	return uint(v)
}

// NoteBonusDays extracts the carried-over bonus days note, 0 when absent.
func (e *SubscriptionEntity) NoteBonusDays() int {
	v, err := strconv.Atoi(e.Note(NoteKeyBonusDays))
	if err != nil || v < 0 {
		return 0
	}
	return v
}

func epochToTime(sec int64) *time.Time {
	if sec <= 0 {
		return nil
	}
	t := time.Unix(sec, 0)
	return &t
}
