package models

import "time"

// Subscription lifecycle statuses. "created" and "authenticated" are
// transient states entered before the first successful charge; "halted" and
// "expired" are terminal.
const (
	SubscriptionStatusCreated       = "created"
	SubscriptionStatusAuthenticated = "authenticated"
	SubscriptionStatusActive        = "active"
	SubscriptionStatusPending       = "pending"
	SubscriptionStatusHalted        = "halted"
	SubscriptionStatusCancelled     = "cancelled"
	SubscriptionStatusExpired       = "expired"
	SubscriptionStatusPaused        = "paused"
)

// Subscription mirrors one external provider subscription. A user has at most
// one subscription in a live status at any time; that record governs the
// user's entitlement limits.
type Subscription struct {
	ID                       uint       `gorm:"primaryKey" json:"id"`
	UserID                   uint       `gorm:"not null;index" json:"user_id"`
	ExternalID               string     `gorm:"type:varchar(100);not null;uniqueIndex" json:"external_id"`
	PlanID                   string     `gorm:"type:varchar(100);not null;index" json:"plan_id"`
	Status                   string     `gorm:"type:varchar(32);not null;default:'created';index" json:"status"`
	RetryCount               int        `gorm:"not null;default:0" json:"retry_count"`
	LastPaymentAttempt       *time.Time `gorm:"type:timestamp;default:null" json:"last_payment_attempt,omitempty"`
	GracePeriodEndsAt        *time.Time `gorm:"type:timestamp;default:null;index" json:"grace_period_ends_at,omitempty"`
	CurrentPeriodStart       *time.Time `gorm:"type:timestamp;default:null" json:"current_period_start,omitempty"`
	CurrentPeriodEnd         *time.Time `gorm:"type:timestamp;default:null;index" json:"current_period_end,omitempty"`
	StartDate                *time.Time `gorm:"type:timestamp;default:null" json:"start_date,omitempty"`
	EndDate                  *time.Time `gorm:"type:timestamp;default:null" json:"end_date,omitempty"`
	CancelledAt              *time.Time `gorm:"type:timestamp;default:null" json:"cancelled_at,omitempty"`
	InvoiceID                string     `gorm:"type:varchar(100);default:''" json:"invoice_id"`
	BonusDays                int        `gorm:"not null;default:0" json:"bonus_days"`
	AuthenticatedPeriodStart *time.Time `gorm:"type:timestamp;default:null" json:"authenticated_period_start,omitempty"`
	AuthenticatedPeriodEnd   *time.Time `gorm:"type:timestamp;default:null;index" json:"authenticated_period_end,omitempty"`
	CreatedAt                time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt                time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// LiveSubscriptionStatuses returns the set of statuses in which a
// subscription still governs the user's entitlements.
func LiveSubscriptionStatuses() []string {
	return []string{
		SubscriptionStatusCreated,
		SubscriptionStatusAuthenticated,
		SubscriptionStatusActive,
		SubscriptionStatusPending,
		SubscriptionStatusPaused,
	}
}

// IsLive reports whether the subscription is in a non-terminal status.
func (s *Subscription) IsLive() bool {
	switch s.Status {
	case SubscriptionStatusCreated,
		SubscriptionStatusAuthenticated,
		SubscriptionStatusActive,
		SubscriptionStatusPending,
		SubscriptionStatusPaused:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether no further transitions are expected.
func (s *Subscription) IsTerminal() bool {
	return s.Status == SubscriptionStatusExpired || s.Status == SubscriptionStatusHalted
}

// GraceExpired reports whether the payment-failure grace window has passed.
func (s *Subscription) GraceExpired(now time.Time) bool {
	return s.Status == SubscriptionStatusPending &&
		s.GracePeriodEndsAt != nil &&
		s.GracePeriodEndsAt.Before(now)
}
