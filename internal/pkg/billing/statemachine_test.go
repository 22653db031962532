package billing

import (
	"context"
	"testing"
	"time"

	"github.com/CloudKeepHQ/CloudKeep/app/models"
)

func TestHandleActivated_SetsPeriodsAndEntitlements(t *testing.T) {
	f := newTestFixture()
	f.repo.put(models.Subscription{
		UserID:     7,
		ExternalID: "sub_1",
		PlanID:     "plan_basic_349",
		Status:     models.SubscriptionStatusCreated,
	})

	start := testNow.Unix()
	end := testNow.Add(30 * 24 * time.Hour).Unix()
	ev := subscriptionEvent(EventSubscriptionActivated, "sub_1", func(e *SubscriptionEntity) {
		e.PlanID = "plan_basic_349"
		e.CurrentStart = start
		e.CurrentEnd = end
	})

	if err := f.svc.HandleActivated(context.Background(), ev); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	sub, _ := f.repo.GetSubscriptionByExternalID("sub_1")
	if sub.Status != models.SubscriptionStatusActive {
		t.Fatalf("expected status active, got %q", sub.Status)
	}
	if sub.CurrentPeriodStart == nil || sub.CurrentPeriodStart.Unix() != start {
		t.Fatalf("period start not taken from the event")
	}
	if sub.CurrentPeriodEnd == nil || sub.CurrentPeriodEnd.Unix() != end {
		t.Fatalf("period end not taken from the event")
	}

	if len(f.entitle.applied) != 1 {
		t.Fatalf("expected one entitlement sync, got %d", len(f.entitle.applied))
	}
	plan, _ := f.svc.catalog.Plan("plan_basic_349")
	got := f.entitle.applied[0]
	if got.userID != 7 || got.subscriptionID != "sub_1" || got.limits != plan.Limits {
		t.Fatalf("unexpected entitlement sync: %+v", got)
	}
}

func TestHandleActivated_PlanMismatchSkipsEntitlements(t *testing.T) {
	f := newTestFixture()
	f.repo.put(models.Subscription{
		UserID:     7,
		ExternalID: "sub_1",
		PlanID:     "plan_basic_349",
		Status:     models.SubscriptionStatusCreated,
	})

	ev := subscriptionEvent(EventSubscriptionActivated, "sub_1", func(e *SubscriptionEntity) {
		e.PlanID = "plan_premium_999"
	})

	if err := f.svc.HandleActivated(context.Background(), ev); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(f.entitle.applied) != 0 {
		t.Fatalf("plan mismatch must not grant entitlements")
	}
}

func TestHandleActivated_TerminalStatusUntouched(t *testing.T) {
	for _, status := range []string{
		models.SubscriptionStatusHalted,
		models.SubscriptionStatusExpired,
		models.SubscriptionStatusCancelled,
	} {
		f := newTestFixture()
		f.repo.put(models.Subscription{UserID: 7, ExternalID: "sub_1", PlanID: "plan_basic_349", Status: status})

		ev := subscriptionEvent(EventSubscriptionActivated, "sub_1", nil)
		if err := f.svc.HandleActivated(context.Background(), ev); err != nil {
			t.Fatalf("%s: unexpected error: %v", status, err)
		}

		sub, _ := f.repo.GetSubscriptionByExternalID("sub_1")
		if sub.Status != status {
			t.Fatalf("expected %s subscription to stay put, got %q", status, sub.Status)
		}
		if len(f.entitle.applied) != 0 {
			t.Fatalf("%s: entitlements must not be granted", status)
		}
	}
}

func chargedEvent(externalID, invoiceID string, mutate func(*SubscriptionEntity)) *WebhookEvent {
	ev := subscriptionEvent(EventSubscriptionCharged, externalID, mutate)
	ev.Payload.Payment.Entity = PaymentEntity{ID: "pay_" + invoiceID, InvoiceID: invoiceID, Status: "captured"}
	return ev
}

func TestHandleCharged_FirstPaymentActivates(t *testing.T) {
	f := newTestFixture()
	f.repo.put(models.Subscription{
		UserID:     7,
		ExternalID: "sub_1",
		PlanID:     "plan_basic_349",
		Status:     models.SubscriptionStatusCreated,
	})

	ev := chargedEvent("sub_1", "inv_1", nil)
	if err := f.svc.HandleCharged(context.Background(), ev); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	sub, _ := f.repo.GetSubscriptionByExternalID("sub_1")
	if sub.Status != models.SubscriptionStatusActive {
		t.Fatalf("expected status active, got %q", sub.Status)
	}
	if sub.InvoiceID != "inv_1" {
		t.Fatalf("expected invoice inv_1 recorded, got %q", sub.InvoiceID)
	}
	if sub.CurrentPeriodEnd == nil || !sub.CurrentPeriodEnd.Equal(testNow.Add(30*24*time.Hour)) {
		t.Fatalf("expected 30-day fallback period, got %v", sub.CurrentPeriodEnd)
	}
	if len(f.entitle.applied) != 1 {
		t.Fatalf("expected one entitlement sync, got %d", len(f.entitle.applied))
	}
	if len(f.notify.sent) != 1 || f.notify.sent[0].subject != "Subscription active" {
		t.Fatalf("unexpected notifications: %+v", f.notify.sent)
	}
}

func TestHandleCharged_TerminalOrCancelledUntouched(t *testing.T) {
	for _, status := range []string{
		models.SubscriptionStatusCancelled,
		models.SubscriptionStatusHalted,
		models.SubscriptionStatusExpired,
	} {
		f := newTestFixture()
		f.repo.put(models.Subscription{
			UserID:     7,
			ExternalID: "sub_1",
			PlanID:     "plan_basic_349",
			Status:     status,
			InvoiceID:  "inv_1",
		})

		ev := chargedEvent("sub_1", "inv_2", nil)
		if err := f.svc.HandleCharged(context.Background(), ev); err != nil {
			t.Fatalf("%s: unexpected error: %v", status, err)
		}

		sub, _ := f.repo.GetSubscriptionByExternalID("sub_1")
		if sub.Status != status {
			t.Fatalf("late charge resurrected %s subscription to %q", status, sub.Status)
		}
		if len(f.entitle.applied) != 0 {
			t.Fatalf("%s: entitlements must not be re-applied after revocation", status)
		}
		if len(f.notify.sent) != 0 {
			t.Fatalf("%s: no notification expected", status)
		}
	}
}

func TestHandleCharged_ReplayedInvoiceIsNoop(t *testing.T) {
	f := newTestFixture()
	f.repo.put(models.Subscription{
		UserID:     7,
		ExternalID: "sub_1",
		PlanID:     "plan_basic_349",
		Status:     models.SubscriptionStatusCreated,
	})

	ev := chargedEvent("sub_1", "inv_1", nil)
	if err := f.svc.HandleCharged(context.Background(), ev); err != nil {
		t.Fatalf("first delivery: %v", err)
	}
	if err := f.svc.HandleCharged(context.Background(), ev); err != nil {
		t.Fatalf("replayed delivery: %v", err)
	}

	if len(f.entitle.applied) != 1 {
		t.Fatalf("replay must not re-run entitlement sync, got %d", len(f.entitle.applied))
	}
	if len(f.notify.sent) != 1 {
		t.Fatalf("replay must not re-notify, got %d", len(f.notify.sent))
	}
}

func TestHandleCharged_FirstPaymentSettlesUpgrade(t *testing.T) {
	f := newTestFixture()
	f.repo.put(models.Subscription{
		UserID:     7,
		ExternalID: "sub_old",
		PlanID:     "plan_basic_349",
		Status:     models.SubscriptionStatusActive,
		InvoiceID:  "inv_0",
	})
	f.repo.put(models.Subscription{
		UserID:     7,
		ExternalID: "sub_new",
		PlanID:     "plan_premium_999",
		Status:     models.SubscriptionStatusCreated,
		BonusDays:  3,
	})

	ev := chargedEvent("sub_new", "inv_1", func(e *SubscriptionEntity) {
		e.Notes = map[string]string{
			NoteKeyUserID:       "7",
			NoteKeyMigratedFrom: "sub_old",
			NoteKeyBonusDays:    "3",
		}
	})
	if err := f.svc.HandleCharged(context.Background(), ev); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := f.repo.GetSubscriptionByExternalID("sub_old"); err == nil {
		t.Fatalf("expected replaced subscription to be deleted")
	}
	if len(f.gateway.cancelled) != 1 || f.gateway.cancelled[0] != "sub_old" {
		t.Fatalf("expected provider cancel of sub_old, got %v", f.gateway.cancelled)
	}

	sub, _ := f.repo.GetSubscriptionByExternalID("sub_new")
	if sub.Status != models.SubscriptionStatusActive || sub.BonusDays != 3 {
		t.Fatalf("unexpected replacement state: status=%q bonus=%d", sub.Status, sub.BonusDays)
	}
}

func TestHandleCharged_RecurringOpensBonusWindow(t *testing.T) {
	f := newTestFixture()
	f.repo.put(models.Subscription{
		UserID:     7,
		ExternalID: "sub_1",
		PlanID:     "plan_premium_999",
		Status:     models.SubscriptionStatusActive,
		InvoiceID:  "inv_1",
		BonusDays:  3,
	})

	ev := chargedEvent("sub_1", "inv_2", nil)
	if err := f.svc.HandleCharged(context.Background(), ev); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	sub, _ := f.repo.GetSubscriptionByExternalID("sub_1")
	if sub.Status != models.SubscriptionStatusAuthenticated {
		t.Fatalf("expected authenticated window, got %q", sub.Status)
	}
	if sub.AuthenticatedPeriodEnd == nil || !sub.AuthenticatedPeriodEnd.Equal(testNow.Add(3*24*time.Hour)) {
		t.Fatalf("expected 3-day window end, got %v", sub.AuthenticatedPeriodEnd)
	}
	if sub.InvoiceID != "inv_2" {
		t.Fatalf("expected invoice inv_2 recorded, got %q", sub.InvoiceID)
	}
}

func TestHandleCharged_RenewalConsumesBonusCreditOnce(t *testing.T) {
	f := newTestFixture()
	f.repo.put(models.Subscription{
		UserID:                   7,
		ExternalID:               "sub_1",
		PlanID:                   "plan_premium_999",
		Status:                   models.SubscriptionStatusAuthenticated,
		InvoiceID:                "inv_1",
		BonusDays:                3,
		AuthenticatedPeriodStart: timePtr(testNow.Add(-24 * time.Hour)),
		AuthenticatedPeriodEnd:   timePtr(testNow.Add(2 * 24 * time.Hour)),
	})

	// Charge lands while the bonus window is still open.
	if err := f.svc.HandleCharged(context.Background(), chargedEvent("sub_1", "inv_2", nil)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	sub, _ := f.repo.GetSubscriptionByExternalID("sub_1")
	if sub.Status != models.SubscriptionStatusActive {
		t.Fatalf("expected renewal to active, got %q", sub.Status)
	}
	if sub.BonusDays != 0 || sub.AuthenticatedPeriodStart != nil || sub.AuthenticatedPeriodEnd != nil {
		t.Fatalf("renewal must consume the bonus credit: bonus=%d window=%v..%v",
			sub.BonusDays, sub.AuthenticatedPeriodStart, sub.AuthenticatedPeriodEnd)
	}

	// The next cycle's charge must not re-open a window from spent credit.
	if err := f.svc.HandleCharged(context.Background(), chargedEvent("sub_1", "inv_3", nil)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sub, _ = f.repo.GetSubscriptionByExternalID("sub_1")
	if sub.Status != models.SubscriptionStatusActive {
		t.Fatalf("expected plain renewal, got %q", sub.Status)
	}
	if sub.AuthenticatedPeriodEnd != nil {
		t.Fatalf("spent credit must not open a second bonus window")
	}
}

func TestHandleCharged_RecurringRenewsCycle(t *testing.T) {
	f := newTestFixture()
	f.repo.put(models.Subscription{
		UserID:           7,
		ExternalID:       "sub_1",
		PlanID:           "plan_basic_349",
		Status:           models.SubscriptionStatusActive,
		InvoiceID:        "inv_1",
		RetryCount:       2,
		GracePeriodEndsAt: timePtr(testNow.Add(24 * time.Hour)),
	})

	start := testNow.Unix()
	end := testNow.Add(30 * 24 * time.Hour).Unix()
	ev := chargedEvent("sub_1", "inv_2", func(e *SubscriptionEntity) {
		e.CurrentStart = start
		e.CurrentEnd = end
	})
	if err := f.svc.HandleCharged(context.Background(), ev); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	sub, _ := f.repo.GetSubscriptionByExternalID("sub_1")
	if sub.Status != models.SubscriptionStatusActive {
		t.Fatalf("expected status active, got %q", sub.Status)
	}
	if sub.RetryCount != 0 || sub.GracePeriodEndsAt != nil {
		t.Fatalf("renewal must clear payment-failure state: retries=%d grace=%v", sub.RetryCount, sub.GracePeriodEndsAt)
	}
	if sub.CurrentPeriodEnd == nil || sub.CurrentPeriodEnd.Unix() != end {
		t.Fatalf("period end not taken from the event")
	}
	if len(f.entitle.applied) != 1 {
		t.Fatalf("renewal should re-apply entitlements once, got %d", len(f.entitle.applied))
	}
}

func TestHandlePending_GraceWindowAndRetryCount(t *testing.T) {
	f := newTestFixture()
	f.repo.put(models.Subscription{
		UserID:     7,
		ExternalID: "sub_1",
		PlanID:     "plan_basic_349",
		Status:     models.SubscriptionStatusActive,
		InvoiceID:  "inv_1",
	})

	ev := subscriptionEvent(EventSubscriptionPending, "sub_1", nil)
	if err := f.svc.HandlePending(context.Background(), ev); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	sub, _ := f.repo.GetSubscriptionByExternalID("sub_1")
	if sub.Status != models.SubscriptionStatusPending {
		t.Fatalf("expected status pending, got %q", sub.Status)
	}
	if sub.RetryCount != 1 {
		t.Fatalf("expected retry count 1, got %d", sub.RetryCount)
	}
	if sub.GracePeriodEndsAt == nil || !sub.GracePeriodEndsAt.Equal(testNow.Add(gracePeriod)) {
		t.Fatalf("expected grace end %v, got %v", testNow.Add(gracePeriod), sub.GracePeriodEndsAt)
	}

	// Entitlements stay intact during the grace window.
	if len(f.entitle.resets) != 0 {
		t.Fatalf("pending must not revoke entitlements")
	}

	if err := f.svc.HandlePending(context.Background(), ev); err != nil {
		t.Fatalf("second failure: %v", err)
	}
	sub, _ = f.repo.GetSubscriptionByExternalID("sub_1")
	if sub.RetryCount != 2 {
		t.Fatalf("expected retry count 2 after second failure, got %d", sub.RetryCount)
	}
}

func TestHandleHalted_ResetsAndIsIdempotent(t *testing.T) {
	f := newTestFixture()
	f.repo.put(models.Subscription{
		UserID:            7,
		ExternalID:        "sub_1",
		PlanID:            "plan_basic_349",
		Status:            models.SubscriptionStatusPending,
		GracePeriodEndsAt: timePtr(testNow.Add(-time.Hour)),
	})

	ev := subscriptionEvent(EventSubscriptionHalted, "sub_1", nil)
	if err := f.svc.HandleHalted(context.Background(), ev); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	sub, _ := f.repo.GetSubscriptionByExternalID("sub_1")
	if sub.Status != models.SubscriptionStatusHalted || sub.GracePeriodEndsAt != nil {
		t.Fatalf("unexpected state after halt: status=%q grace=%v", sub.Status, sub.GracePeriodEndsAt)
	}
	if len(f.entitle.resets) != 1 || f.entitle.resets[0] != 7 {
		t.Fatalf("expected one entitlement reset for user 7, got %v", f.entitle.resets)
	}

	if err := f.svc.HandleHalted(context.Background(), ev); err != nil {
		t.Fatalf("replayed halt: %v", err)
	}
	if len(f.entitle.resets) != 1 {
		t.Fatalf("replayed halt must not reset again")
	}
}

func TestHandlePaused_KeepsEntitlements(t *testing.T) {
	f := newTestFixture()
	f.repo.put(models.Subscription{
		UserID:     7,
		ExternalID: "sub_1",
		PlanID:     "plan_basic_349",
		Status:     models.SubscriptionStatusActive,
	})

	ev := subscriptionEvent(EventSubscriptionPaused, "sub_1", nil)
	if err := f.svc.HandlePaused(context.Background(), ev); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	sub, _ := f.repo.GetSubscriptionByExternalID("sub_1")
	if sub.Status != models.SubscriptionStatusPaused {
		t.Fatalf("expected status paused, got %q", sub.Status)
	}
	if len(f.entitle.resets) != 0 {
		t.Fatalf("pausing must not revoke entitlements")
	}
}

func TestHandleResumed_ReappliesEntitlements(t *testing.T) {
	f := newTestFixture()
	f.repo.put(models.Subscription{
		UserID:     7,
		ExternalID: "sub_1",
		PlanID:     "plan_basic_349",
		Status:     models.SubscriptionStatusPaused,
	})

	ev := subscriptionEvent(EventSubscriptionResumed, "sub_1", nil)
	if err := f.svc.HandleResumed(context.Background(), ev); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	sub, _ := f.repo.GetSubscriptionByExternalID("sub_1")
	if sub.Status != models.SubscriptionStatusActive {
		t.Fatalf("expected status active, got %q", sub.Status)
	}
	if len(f.entitle.applied) != 1 {
		t.Fatalf("expected entitlements re-applied on resume")
	}
}

func TestHandleCancelled_RevokesImmediatelyAndIsIdempotent(t *testing.T) {
	f := newTestFixture()
	f.repo.put(models.Subscription{
		UserID:     7,
		ExternalID: "sub_1",
		PlanID:     "plan_basic_349",
		Status:     models.SubscriptionStatusActive,
	})

	ev := subscriptionEvent(EventSubscriptionCancelled, "sub_1", nil)
	if err := f.svc.HandleCancelled(context.Background(), ev); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	sub, _ := f.repo.GetSubscriptionByExternalID("sub_1")
	if sub.Status != models.SubscriptionStatusCancelled || sub.CancelledAt == nil {
		t.Fatalf("unexpected state after cancel: status=%q cancelledAt=%v", sub.Status, sub.CancelledAt)
	}
	if len(f.entitle.resets) != 1 {
		t.Fatalf("expected entitlements reset on cancel")
	}

	if err := f.svc.HandleCancelled(context.Background(), ev); err != nil {
		t.Fatalf("replayed cancel: %v", err)
	}
	if len(f.entitle.resets) != 1 || len(f.notify.sent) != 1 {
		t.Fatalf("replayed cancel must be a no-op")
	}
}
