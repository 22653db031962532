package billing

import (
	"context"
	"errors"
	"time"

	"github.com/CloudKeepHQ/CloudKeep/app/models"
	"github.com/CloudKeepHQ/CloudKeep/internal/pkg/entitlements"
	"gorm.io/gorm"
)

// In-memory fakes for the service collaborators. The repo returns copies and
// applies writes on Save, mirroring the row-per-write semantics of the real
// GORM repository.

type fakeRepo struct {
	subs      map[string]models.Subscription
	logs      map[string]models.WebhookLog
	nextSubID uint
	nextLogID uint

	createErr error
	saveErr   error
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		subs: make(map[string]models.Subscription),
		logs: make(map[string]models.WebhookLog),
	}
}

func (r *fakeRepo) put(sub models.Subscription) {
	if sub.ID == 0 {
		r.nextSubID++
		sub.ID = r.nextSubID
	}
	r.subs[sub.ExternalID] = sub
}

func (r *fakeRepo) GetSubscriptionByExternalID(externalID string) (*models.Subscription, error) {
	sub, ok := r.subs[externalID]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	out := sub
	return &out, nil
}

func (r *fakeRepo) GetLiveSubscriptionByUser(userID uint) (*models.Subscription, error) {
	// Newest record wins, like the id-ordered query in the GORM repository.
	var newest *models.Subscription
	for _, sub := range r.subs {
		if sub.UserID == userID && sub.IsLive() {
			if newest == nil || sub.ID > newest.ID {
				out := sub
				newest = &out
			}
		}
	}
	if newest == nil {
		return nil, gorm.ErrRecordNotFound
	}
	return newest, nil
}

func (r *fakeRepo) GetSubscriptionByUserAndStatus(userID uint, status string) (*models.Subscription, error) {
	var newest *models.Subscription
	for _, sub := range r.subs {
		if sub.UserID == userID && sub.Status == status {
			if newest == nil || sub.ID > newest.ID {
				out := sub
				newest = &out
			}
		}
	}
	if newest == nil {
		return nil, gorm.ErrRecordNotFound
	}
	return newest, nil
}

func (r *fakeRepo) CreateSubscription(sub *models.Subscription) error {
	if r.createErr != nil {
		return r.createErr
	}
	if _, exists := r.subs[sub.ExternalID]; exists {
		return errors.New("duplicate external id")
	}
	r.nextSubID++
	sub.ID = r.nextSubID
	r.subs[sub.ExternalID] = *sub
	return nil
}

func (r *fakeRepo) SaveSubscription(sub *models.Subscription) error {
	if r.saveErr != nil {
		return r.saveErr
	}
	r.subs[sub.ExternalID] = *sub
	return nil
}

func (r *fakeRepo) DeleteSubscriptionByExternalID(externalID string) error {
	delete(r.subs, externalID)
	return nil
}

func (r *fakeRepo) ListPendingGraceExpired(now time.Time) ([]models.Subscription, error) {
	var out []models.Subscription
	for _, sub := range r.subs {
		if sub.Status == models.SubscriptionStatusPending &&
			sub.GracePeriodEndsAt != nil && sub.GracePeriodEndsAt.Before(now) {
			out = append(out, sub)
		}
	}
	return out, nil
}

func (r *fakeRepo) ListCancelledPeriodEnded(now time.Time) ([]models.Subscription, error) {
	var out []models.Subscription
	for _, sub := range r.subs {
		if sub.Status == models.SubscriptionStatusCancelled &&
			sub.CurrentPeriodEnd != nil && sub.CurrentPeriodEnd.Before(now) {
			out = append(out, sub)
		}
	}
	return out, nil
}

func (r *fakeRepo) ListAuthenticatedWindowEnded(now time.Time) ([]models.Subscription, error) {
	var out []models.Subscription
	for _, sub := range r.subs {
		if sub.Status == models.SubscriptionStatusAuthenticated &&
			sub.AuthenticatedPeriodEnd != nil && sub.AuthenticatedPeriodEnd.Before(now) {
			out = append(out, sub)
		}
	}
	return out, nil
}

func (r *fakeRepo) CreateWebhookLogIfNotExists(entry *models.WebhookLog) (bool, *models.WebhookLog, error) {
	if r.createErr != nil {
		return false, nil, r.createErr
	}
	if stored, exists := r.logs[entry.Signature]; exists {
		out := stored
		return false, &out, nil
	}
	r.nextLogID++
	entry.ID = r.nextLogID
	entry.ReceivedAt = time.Now()
	r.logs[entry.Signature] = *entry
	out := *entry
	return true, &out, nil
}

func (r *fakeRepo) MarkWebhookLogOutcome(id uint, status, message string) error {
	for sig, entry := range r.logs {
		if entry.ID == id {
			now := time.Now()
			entry.Status = status
			entry.ResponseMessage = message
			entry.ProcessedAt = &now
			r.logs[sig] = entry
			return nil
		}
	}
	return gorm.ErrRecordNotFound
}

func (r *fakeRepo) DeleteWebhookLogsBefore(cutoff time.Time) (int64, error) {
	var deleted int64
	for sig, entry := range r.logs {
		if entry.ReceivedAt.Before(cutoff) {
			delete(r.logs, sig)
			deleted++
		}
	}
	return deleted, nil
}

type fakeGateway struct {
	created   []CreateSubscriptionInput
	cancelled []string
	paused    []string
	resumed   []string
	nextID    string
	createErr error
	cancelErr error
}

func (g *fakeGateway) CreateSubscription(ctx context.Context, in CreateSubscriptionInput) (*GatewaySubscription, error) {
	if g.createErr != nil {
		return nil, g.createErr
	}
	g.created = append(g.created, in)
	id := g.nextID
	if id == "" {
		id = "sub_gw_1"
	}
	return &GatewaySubscription{ID: id, PlanID: in.PlanID, Status: "created", Notes: in.Notes}, nil
}

func (g *fakeGateway) CancelSubscription(ctx context.Context, externalID string) error {
	if g.cancelErr != nil {
		return g.cancelErr
	}
	g.cancelled = append(g.cancelled, externalID)
	return nil
}

func (g *fakeGateway) PauseSubscription(ctx context.Context, externalID string) error {
	g.paused = append(g.paused, externalID)
	return nil
}

func (g *fakeGateway) ResumeSubscription(ctx context.Context, externalID string) error {
	g.resumed = append(g.resumed, externalID)
	return nil
}

func (g *fakeGateway) FetchInvoice(ctx context.Context, invoiceID string) (*GatewayInvoice, error) {
	return &GatewayInvoice{ID: invoiceID, Status: "paid"}, nil
}

type appliedPlan struct {
	userID         uint
	subscriptionID string
	limits         entitlements.Limits
}

type fakeEntitle struct {
	applied  []appliedPlan
	resets   []uint
	applyErr error
	resetErr error
}

func (e *fakeEntitle) ApplyPlan(userID uint, subscriptionID string, limits entitlements.Limits) error {
	if e.applyErr != nil {
		return e.applyErr
	}
	e.applied = append(e.applied, appliedPlan{userID: userID, subscriptionID: subscriptionID, limits: limits})
	return nil
}

func (e *fakeEntitle) ResetToFree(userID uint) error {
	if e.resetErr != nil {
		return e.resetErr
	}
	e.resets = append(e.resets, userID)
	return nil
}

type fakeStorage struct {
	used int64
	err  error
}

func (s *fakeStorage) StorageUsed(userID uint) (int64, error) {
	return s.used, s.err
}

type notification struct {
	userID  uint
	subject string
}

type fakeNotify struct {
	sent []notification
}

func (n *fakeNotify) Notify(userID uint, subject, body string) {
	n.sent = append(n.sent, notification{userID: userID, subject: subject})
}

// testNow is the fixed clock all service tests run against.
var testNow = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

type testFixture struct {
	svc     *Service
	repo    *fakeRepo
	gateway *fakeGateway
	entitle *fakeEntitle
	storage *fakeStorage
	notify  *fakeNotify
}

func newTestFixture() *testFixture {
	catalog, err := LoadCatalog()
	if err != nil {
		panic(err)
	}
	f := &testFixture{
		repo:    newFakeRepo(),
		gateway: &fakeGateway{},
		entitle: &fakeEntitle{},
		storage: &fakeStorage{},
		notify:  &fakeNotify{},
	}
	f.svc = NewService(f.repo, f.gateway, catalog, f.entitle, f.storage, f.notify)
	f.svc.now = func() time.Time { return testNow }
	return f
}

func subscriptionEvent(event, externalID string, mutate func(*SubscriptionEntity)) *WebhookEvent {
	ev := &WebhookEvent{Event: event}
	ev.Payload.Subscription.Entity = SubscriptionEntity{ID: externalID}
	if mutate != nil {
		mutate(&ev.Payload.Subscription.Entity)
	}
	return ev
}

func timePtr(t time.Time) *time.Time {
	return &t
}
