package models

import "time"

const (
	WebhookLogStatusPending   = "pending"
	WebhookLogStatusProcessed = "processed"
	WebhookLogStatusFailed    = "failed"
)

// WebhookLogRetention is how long webhook log rows are kept before the
// sweeper purges them.
const WebhookLogRetention = 7 * 24 * time.Hour

// WebhookLog stores one inbound provider event. The signature column is
// unique so a replayed delivery is rejected instead of re-running its
// handler. Rows are append-only and expire via retention, never deleted by
// handler code.
type WebhookLog struct {
	ID              uint       `gorm:"primaryKey" json:"id"`
	EventType       string     `gorm:"type:varchar(100);not null;index" json:"event_type"`
	Signature       string     `gorm:"type:varchar(191);not null;uniqueIndex" json:"signature"`
	Payload         string     `gorm:"type:longtext;not null" json:"payload"`
	UserID          uint       `gorm:"index" json:"user_id"`
	ExternalID      string     `gorm:"type:varchar(100);index" json:"external_id"`
	Status          string     `gorm:"type:varchar(20);not null;default:'pending';index" json:"status"`
	ResponseMessage string     `gorm:"type:text" json:"response_message"`
	ReceivedAt      time.Time  `gorm:"autoCreateTime;index" json:"received_at"`
	ProcessedAt     *time.Time `gorm:"type:timestamp;default:null" json:"processed_at,omitempty"`
}
