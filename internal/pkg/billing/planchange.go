package billing

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/CloudKeepHQ/CloudKeep/app/models"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"
)

// Unused time on the old plan converts into at most this many days on the
// new plan, bounding the credit exposure of an upgrade.
const maxBonusDays = 15

// EligiblePlan is a candidate upgrade target with the bonus days the switch
// would grant today.
type EligiblePlan struct {
	Plan      Plan `json:"plan"`
	BonusDays int  `json:"bonus_days"`
}

// EligiblePlansResult answers the "what can I upgrade to" query. Message is
// set for the terminal cases (top plan, credit too small) so an empty list is
// distinguishable from an error.
type EligiblePlansResult struct {
	EligiblePlans []EligiblePlan `json:"eligible_plans"`
	DaysRemaining int            `json:"days_remaining"`
	Message       string         `json:"message,omitempty"`
}

// remainingDays counts whole days until the period end, rounding partial days
// up, never below zero.
func remainingDays(periodEnd, now time.Time) int {
	diff := periodEnd.Sub(now)
	if diff <= 0 {
		return 0
	}
	days := int((diff + 24*time.Hour - 1) / (24 * time.Hour))
	return days
}

// prorate converts unused days on the current plan into bonus days on the
// target plan. A flat 30-day month is assumed regardless of the actual
// billing period.
func prorate(currentPrice, targetPrice, daysRemaining int) (creditAmount, bonusDays int) {
	if daysRemaining <= 0 || currentPrice <= 0 || targetPrice <= 0 {
		return 0, 0
	}
	creditAmount = currentPrice * daysRemaining / billingCycleDays
	bonusDays = creditAmount * billingCycleDays / targetPrice
	if bonusDays > maxBonusDays {
		bonusDays = maxBonusDays
	}
	return creditAmount, bonusDays
}

// ChangePlan moves the user from their active plan to a strictly
// higher-priced one mid-cycle. The old subscription stays untouched until the
// replacement's first payment succeeds, so a failed upgrade never strands the
// user without a plan.
func (s *Service) ChangePlan(ctx context.Context, userID uint, targetPlanID string) (string, error) {
	// An unpaid "created" record means a checkout or an earlier plan change is
	// still in flight; creating another replacement for the same predecessor
	// would expose the user to a double charge.
	if _, err := s.repo.GetSubscriptionByUserAndStatus(userID, models.SubscriptionStatusCreated); err == nil {
		return "", NewValidationError("a subscription checkout is already in progress; complete it or wait for it to settle")
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return "", err
	}

	sub, err := s.repo.GetLiveSubscriptionByUser(userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", NewValidationError("an active subscription is required to change plans")
		}
		return "", err
	}
	if sub.Status != models.SubscriptionStatusActive {
		return "", NewValidationError("an active subscription is required to change plans")
	}

	now := s.now()
	if sub.CurrentPeriodEnd == nil || sub.CurrentPeriodEnd.Before(now) {
		return "", NewValidationError("current subscription period has expired")
	}

	currentPlan, ok := s.catalog.Plan(sub.PlanID)
	if !ok {
		return "", NewNotFoundError("plan %q missing from catalog", sub.PlanID)
	}
	targetPlan, ok := s.catalog.Plan(targetPlanID)
	if !ok {
		return "", NewValidationError("unknown plan %q", targetPlanID)
	}
	if targetPlan.Price <= currentPlan.Price {
		return "", NewValidationError("plan changes must move to a higher-priced plan")
	}

	days := remainingDays(*sub.CurrentPeriodEnd, now)
	credit, bonus := prorate(currentPlan.Price, targetPlan.Price, days)
	if bonus < 1 {
		return "", NewValidationError("remaining credit is too small to carry over; wait until closer to renewal or upgrade after the next cycle")
	}

	gwSub, err := s.gateway.CreateSubscription(ctx, CreateSubscriptionInput{
		PlanID: targetPlan.ID,
		Notes: map[string]string{
			NoteKeyUserID:       strconv.FormatUint(uint64(userID), 10),
			NoteKeyMigratedFrom: sub.ExternalID,
			NoteKeyBonusDays:    strconv.Itoa(bonus),
		},
	})
	if err != nil {
		return "", err
	}

	replacement := &models.Subscription{
		UserID:     userID,
		ExternalID: gwSub.ID,
		PlanID:     targetPlan.ID,
		Status:     models.SubscriptionStatusCreated,
		BonusDays:  bonus,
	}
	if err := s.repo.CreateSubscription(replacement); err != nil {
		s.compensateCreate(ctx, gwSub.ID, err)
		return "", err
	}

	log.Infof("[Billing] Plan change for user %d: %s -> %s, credit %d, bonus days %d (sub %s)",
		userID, currentPlan.ID, targetPlan.ID, credit, bonus, gwSub.ID)
	return gwSub.ID, nil
}

// EligiblePlans lists the plans the user can upgrade to today, with the bonus
// days each switch would grant. Plans whose converted credit rounds below one
// day are omitted.
func (s *Service) EligiblePlans(ctx context.Context, userID uint) (*EligiblePlansResult, error) {
	sub, err := s.repo.GetLiveSubscriptionByUser(userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, NewValidationError("an active subscription is required to list upgrades")
		}
		return nil, err
	}
	if sub.Status != models.SubscriptionStatusActive || sub.CurrentPeriodEnd == nil {
		return nil, NewValidationError("an active subscription is required to list upgrades")
	}

	currentPlan, ok := s.catalog.Plan(sub.PlanID)
	if !ok {
		return nil, NewNotFoundError("plan %q missing from catalog", sub.PlanID)
	}

	days := remainingDays(*sub.CurrentPeriodEnd, s.now())
	result := &EligiblePlansResult{DaysRemaining: days}

	if currentPlan.Price >= s.catalog.TopPlan().Price {
		result.Message = "You are already on the highest tier."
		return result, nil
	}

	for _, p := range s.catalog.PlansAbove(currentPlan.Price) {
		if _, bonus := prorate(currentPlan.Price, p.Price, days); bonus >= 1 {
			result.EligiblePlans = append(result.EligiblePlans, EligiblePlan{Plan: p, BonusDays: bonus})
		}
	}
	if len(result.EligiblePlans) == 0 {
		result.Message = "Remaining credit is too small to carry over to a higher plan right now."
	}
	return result, nil
}
