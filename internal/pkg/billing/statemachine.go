package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/CloudKeepHQ/CloudKeep/app/models"
	"github.com/gofiber/fiber/v2/log"
)

// Event handlers, one per provider event type. Each performs a validated
// transition of the local subscription record plus the matching entitlement
// sync. Handlers tolerate replay: mutations assign absolute state, the one
// exception being RetryCount (a genuine increment, see HandlePending).

// HandleActivated processes the provider's confirmation that a subscription
// exists with billing dates set.
func (s *Service) HandleActivated(ctx context.Context, ev *WebhookEvent) error {
	ent := &ev.Payload.Subscription.Entity
	sub, err := s.repo.GetSubscriptionByExternalID(ent.ID)
	if err != nil {
		return fmt.Errorf("activated: subscription %s not found locally: %w", ent.ID, err)
	}
	if sub.IsTerminal() || sub.Status == models.SubscriptionStatusCancelled {
		return nil
	}

	sub.CurrentPeriodStart = epochToTime(ent.CurrentStart)
	sub.CurrentPeriodEnd = epochToTime(ent.CurrentEnd)
	sub.StartDate = epochToTime(ent.StartAt)
	sub.EndDate = epochToTime(ent.EndAt)
	if sub.Status == models.SubscriptionStatusCreated {
		sub.Status = models.SubscriptionStatusActive
	}
	if err := s.repo.SaveSubscription(sub); err != nil {
		return err
	}

	// Guard against cross-talk: an activation for a different plan must not
	// grant this record's entitlements.
	if ent.PlanID == "" || ent.PlanID == sub.PlanID {
		if plan, ok := s.catalog.Plan(sub.PlanID); ok {
			if err := s.entitle.ApplyPlan(sub.UserID, sub.ExternalID, plan.Limits); err != nil {
				return err
			}
		}
	}

	// An upgrade activation references the subscription it replaces; the
	// predecessor record is dropped once this one is durably active.
	if pred := ent.Note(NoteKeyMigratedFrom); pred != "" {
		if err := s.repo.DeleteSubscriptionByExternalID(pred); err != nil {
			return err
		}
	}
	return nil
}

// HandleCharged processes a successful payment. The first payment activates
// the subscription and settles any upgrade; a recurring payment either opens
// a bonus-day trial window or renews the cycle.
func (s *Service) HandleCharged(ctx context.Context, ev *WebhookEvent) error {
	ent := &ev.Payload.Subscription.Entity
	pay := &ev.Payload.Payment.Entity

	sub, err := s.repo.GetSubscriptionByExternalID(ent.ID)
	if err != nil {
		return fmt.Errorf("charged: subscription %s not found locally: %w", ent.ID, err)
	}
	// A late charge for a cancelled or terminal record must not resurrect it;
	// access was already revoked.
	if sub.IsTerminal() || sub.Status == models.SubscriptionStatusCancelled {
		return nil
	}

	invoiceRef := pay.InvoiceID
	if invoiceRef == "" {
		invoiceRef = pay.ID
	}
	// Same invoice seen before: replayed delivery, nothing left to do.
	if invoiceRef != "" && sub.InvoiceID == invoiceRef {
		return nil
	}

	firstPayment := sub.InvoiceID == "" || sub.Status == models.SubscriptionStatusCreated
	if firstPayment {
		return s.settleFirstPayment(ctx, sub, ent, invoiceRef)
	}
	return s.settleRecurringPayment(sub, ent, invoiceRef)
}

func (s *Service) settleFirstPayment(ctx context.Context, sub *models.Subscription, ent *SubscriptionEntity, invoiceRef string) error {
	now := s.now()

	sub.Status = models.SubscriptionStatusActive
	sub.InvoiceID = invoiceRef
	sub.BonusDays = ent.NoteBonusDays()
	sub.RetryCount = 0
	sub.GracePeriodEndsAt = nil
	sub.LastPaymentAttempt = &now
	s.applyPeriod(sub, ent, now)

	if err := s.repo.SaveSubscription(sub); err != nil {
		return err
	}

	plan, ok := s.catalog.Plan(sub.PlanID)
	if !ok {
		return NewNotFoundError("plan %q missing from catalog", sub.PlanID)
	}
	if err := s.entitle.ApplyPlan(sub.UserID, sub.ExternalID, plan.Limits); err != nil {
		return err
	}

	// An upgrade's predecessor is cancelled at the provider and removed
	// locally only now, after the replacement has actually been paid.
	if pred := ent.Note(NoteKeyMigratedFrom); pred != "" {
		if err := s.gateway.CancelSubscription(ctx, pred); err != nil {
			log.Warnf("[Billing] Cancel of replaced subscription %s failed: %v", pred, err)
		}
		if err := s.repo.DeleteSubscriptionByExternalID(pred); err != nil {
			return err
		}
	}

	s.notify.Notify(sub.UserID, "Subscription active",
		fmt.Sprintf("Your %s subscription is now active.", plan.Name))
	return nil
}

func (s *Service) settleRecurringPayment(sub *models.Subscription, ent *SubscriptionEntity, invoiceRef string) error {
	now := s.now()

	// Unconsumed upgrade credit: honor the prepaid bonus days as a trial
	// window before billing the next normal cycle.
	if sub.BonusDays > 0 && sub.Status != models.SubscriptionStatusAuthenticated {
		windowEnd := now.Add(time.Duration(sub.BonusDays) * 24 * time.Hour)
		sub.Status = models.SubscriptionStatusAuthenticated
		sub.AuthenticatedPeriodStart = &now
		sub.AuthenticatedPeriodEnd = &windowEnd
		sub.InvoiceID = invoiceRef
		sub.RetryCount = 0
		sub.GracePeriodEndsAt = nil
		sub.LastPaymentAttempt = &now
		if err := s.repo.SaveSubscription(sub); err != nil {
			return err
		}
		s.notify.Notify(sub.UserID, "Bonus days applied",
			fmt.Sprintf("Your %d carried-over bonus days are active before the next billing cycle.", sub.BonusDays))
		return nil
	}

	// Renewal consumes any open or leftover bonus window; the credit is spent
	// exactly once.
	sub.Status = models.SubscriptionStatusActive
	sub.InvoiceID = invoiceRef
	sub.RetryCount = 0
	sub.GracePeriodEndsAt = nil
	sub.LastPaymentAttempt = &now
	sub.BonusDays = 0
	sub.AuthenticatedPeriodStart = nil
	sub.AuthenticatedPeriodEnd = nil
	s.applyPeriod(sub, ent, now)

	if err := s.repo.SaveSubscription(sub); err != nil {
		return err
	}

	if plan, ok := s.catalog.Plan(sub.PlanID); ok {
		if err := s.entitle.ApplyPlan(sub.UserID, sub.ExternalID, plan.Limits); err != nil {
			return err
		}
	}

	s.notify.Notify(sub.UserID, "Subscription renewed", "Your subscription has been renewed for the next cycle.")
	return nil
}

// applyPeriod sets cycle boundaries from provider timestamps, falling back to
// a fresh 30-day window when the event omits them.
func (s *Service) applyPeriod(sub *models.Subscription, ent *SubscriptionEntity, now time.Time) {
	if start := epochToTime(ent.CurrentStart); start != nil {
		sub.CurrentPeriodStart = start
	} else if sub.CurrentPeriodStart == nil {
		sub.CurrentPeriodStart = &now
	}
	if end := epochToTime(ent.CurrentEnd); end != nil {
		sub.CurrentPeriodEnd = end
	} else if sub.CurrentPeriodEnd == nil {
		cycleEnd := now.Add(billingCycleDays * 24 * time.Hour)
		sub.CurrentPeriodEnd = &cycleEnd
	}
	if start := epochToTime(ent.StartAt); start != nil {
		sub.StartDate = start
	}
	if end := epochToTime(ent.EndAt); end != nil {
		sub.EndDate = end
	}
}

// HandlePending processes a failed payment. Entitlements stay intact during
// the grace window; the sweeper halts the subscription if it is never
// resolved. RetryCount is a true increment and can double-count under
// concurrent duplicate delivery.
func (s *Service) HandlePending(ctx context.Context, ev *WebhookEvent) error {
	ent := &ev.Payload.Subscription.Entity
	sub, err := s.repo.GetSubscriptionByExternalID(ent.ID)
	if err != nil {
		return fmt.Errorf("pending: subscription %s not found locally: %w", ent.ID, err)
	}
	if sub.IsTerminal() || sub.Status == models.SubscriptionStatusCancelled {
		return nil
	}

	now := s.now()
	graceEnd := now.Add(gracePeriod)
	sub.Status = models.SubscriptionStatusPending
	sub.RetryCount++
	sub.LastPaymentAttempt = &now
	sub.GracePeriodEndsAt = &graceEnd
	if err := s.repo.SaveSubscription(sub); err != nil {
		return err
	}

	s.notify.Notify(sub.UserID, "Payment failed",
		fmt.Sprintf("A payment attempt failed. Please update your payment method before %s to keep your plan.",
			graceEnd.Format("2006-01-02")))
	return nil
}

// HandleHalted processes the provider's hard stop after exhausted retries.
func (s *Service) HandleHalted(ctx context.Context, ev *WebhookEvent) error {
	ent := &ev.Payload.Subscription.Entity
	sub, err := s.repo.GetSubscriptionByExternalID(ent.ID)
	if err != nil {
		return fmt.Errorf("halted: subscription %s not found locally: %w", ent.ID, err)
	}
	return s.applyHalt(sub)
}

// applyHalt cuts access immediately: entitlements reset to free tier and
// plan-exclusive resources are removed. Shared with the sweeper's
// grace-expiry rule.
func (s *Service) applyHalt(sub *models.Subscription) error {
	if sub.Status == models.SubscriptionStatusHalted {
		return nil
	}

	if err := s.entitle.ResetToFree(sub.UserID); err != nil {
		return err
	}

	sub.Status = models.SubscriptionStatusHalted
	sub.GracePeriodEndsAt = nil
	if err := s.repo.SaveSubscription(sub); err != nil {
		return err
	}

	s.notify.Notify(sub.UserID, "Subscription halted",
		"Your subscription was halted after repeated payment failures. Your account is back on the free tier.")
	return nil
}

// HandlePaused keeps entitlements in place: a paused subscription keeps its
// quota, unlike a halted one.
func (s *Service) HandlePaused(ctx context.Context, ev *WebhookEvent) error {
	ent := &ev.Payload.Subscription.Entity
	sub, err := s.repo.GetSubscriptionByExternalID(ent.ID)
	if err != nil {
		return fmt.Errorf("paused: subscription %s not found locally: %w", ent.ID, err)
	}
	if sub.IsTerminal() || sub.Status == models.SubscriptionStatusCancelled {
		return nil
	}

	sub.Status = models.SubscriptionStatusPaused
	if err := s.repo.SaveSubscription(sub); err != nil {
		return err
	}

	s.notify.Notify(sub.UserID, "Subscription paused", "Your subscription is paused. Your storage limits remain unchanged.")
	return nil
}

// HandleResumed re-applies entitlements in case they drifted while paused.
func (s *Service) HandleResumed(ctx context.Context, ev *WebhookEvent) error {
	ent := &ev.Payload.Subscription.Entity
	sub, err := s.repo.GetSubscriptionByExternalID(ent.ID)
	if err != nil {
		return fmt.Errorf("resumed: subscription %s not found locally: %w", ent.ID, err)
	}
	if sub.IsTerminal() || sub.Status == models.SubscriptionStatusCancelled {
		return nil
	}

	sub.Status = models.SubscriptionStatusActive
	if err := s.repo.SaveSubscription(sub); err != nil {
		return err
	}

	if plan, ok := s.catalog.Plan(sub.PlanID); ok {
		if err := s.entitle.ApplyPlan(sub.UserID, sub.ExternalID, plan.Limits); err != nil {
			return err
		}
	}

	s.notify.Notify(sub.UserID, "Subscription resumed", "Your subscription is active again.")
	return nil
}

// HandleCancelled processes a provider- or user-initiated cancellation.
func (s *Service) HandleCancelled(ctx context.Context, ev *WebhookEvent) error {
	ent := &ev.Payload.Subscription.Entity
	sub, err := s.repo.GetSubscriptionByExternalID(ent.ID)
	if err != nil {
		return fmt.Errorf("cancelled: subscription %s not found locally: %w", ent.ID, err)
	}
	return s.applyCancellation(sub)
}

// applyCancellation revokes access immediately rather than at period end.
// Shared with the direct cancel API path.
func (s *Service) applyCancellation(sub *models.Subscription) error {
	if sub.Status == models.SubscriptionStatusCancelled || sub.Status == models.SubscriptionStatusExpired {
		return nil
	}

	if err := s.entitle.ResetToFree(sub.UserID); err != nil {
		return err
	}

	now := s.now()
	sub.Status = models.SubscriptionStatusCancelled
	sub.CancelledAt = &now
	sub.GracePeriodEndsAt = nil
	if err := s.repo.SaveSubscription(sub); err != nil {
		return err
	}

	s.notify.Notify(sub.UserID, "Subscription cancelled",
		"Your subscription has been cancelled and your account is back on the free tier.")
	return nil
}
