package billing

import (
	"context"
	"time"

	"github.com/CloudKeepHQ/CloudKeep/app/models"
	"github.com/gofiber/fiber/v2/log"
)

// Time-based transitions not driven by provider events. Each rule re-checks
// its predicate per record, so a second run in the same window finds nothing
// left to advance.

// SweepGraceExpired halts every pending subscription whose grace window has
// passed. Side effects (entitlement revocation, cleanup, notification) run
// per record.
func (s *Service) SweepGraceExpired(ctx context.Context) (int, error) {
	now := s.now()
	subs, err := s.repo.ListPendingGraceExpired(now)
	if err != nil {
		return 0, err
	}

	halted := 0
	for i := range subs {
		sub := &subs[i]
		if !sub.GraceExpired(now) {
			continue
		}
		if err := s.applyHalt(sub); err != nil {
			log.Errorf("[Sweep] Halting subscription %s failed: %v", sub.ExternalID, err)
			continue
		}
		halted++
	}
	return halted, nil
}

// SweepCancelledSettled moves cancelled subscriptions whose paid period has
// run out into the terminal expired state. Pure bookkeeping: entitlements
// were already revoked at cancellation.
func (s *Service) SweepCancelledSettled(ctx context.Context) (int, error) {
	now := s.now()
	subs, err := s.repo.ListCancelledPeriodEnded(now)
	if err != nil {
		return 0, err
	}

	expired := 0
	for i := range subs {
		sub := &subs[i]
		if sub.Status != models.SubscriptionStatusCancelled {
			continue
		}
		sub.Status = models.SubscriptionStatusExpired
		if err := s.repo.SaveSubscription(sub); err != nil {
			log.Errorf("[Sweep] Expiring subscription %s failed: %v", sub.ExternalID, err)
			continue
		}
		expired++
	}
	return expired, nil
}

// SweepTrialWindows advances finished bonus-day windows into the next normal
// billing cycle: a fresh 30-day period with the bonus credit consumed.
func (s *Service) SweepTrialWindows(ctx context.Context) (int, error) {
	now := s.now()
	subs, err := s.repo.ListAuthenticatedWindowEnded(now)
	if err != nil {
		return 0, err
	}

	advanced := 0
	for i := range subs {
		sub := &subs[i]
		if sub.Status != models.SubscriptionStatusAuthenticated {
			continue
		}
		cycleEnd := now.Add(billingCycleDays * 24 * time.Hour)
		sub.Status = models.SubscriptionStatusActive
		sub.CurrentPeriodStart = &now
		sub.CurrentPeriodEnd = &cycleEnd
		sub.BonusDays = 0
		sub.AuthenticatedPeriodStart = nil
		sub.AuthenticatedPeriodEnd = nil
		if err := s.repo.SaveSubscription(sub); err != nil {
			log.Errorf("[Sweep] Advancing trial window for %s failed: %v", sub.ExternalID, err)
			continue
		}
		advanced++
	}
	return advanced, nil
}

// PurgeWebhookLogs drops webhook log rows past the retention window.
func (s *Service) PurgeWebhookLogs(ctx context.Context) (int64, error) {
	cutoff := s.now().Add(-models.WebhookLogRetention)
	return s.repo.DeleteWebhookLogsBefore(cutoff)
}
