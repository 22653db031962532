package billing

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/CloudKeepHQ/CloudKeep/app/models"
	"github.com/CloudKeepHQ/CloudKeep/app/repository"
	"github.com/CloudKeepHQ/CloudKeep/internal/pkg/entitlements"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"
)

// EntitlementSync applies or revokes a plan's resource limits on a user
// record. Implementations must assign absolute values so repeated calls are
// safe.
type EntitlementSync interface {
	ApplyPlan(userID uint, subscriptionID string, limits entitlements.Limits) error
	ResetToFree(userID uint) error
}

// StorageUsage reports how many bytes a user currently stores.
type StorageUsage interface {
	StorageUsed(userID uint) (int64, error)
}

// NotificationSink receives "subscription entered state X" notifications.
// Sends are fire-and-forget; a sink failure never rolls back a transition.
type NotificationSink interface {
	Notify(userID uint, subject, body string)
}

// Grace window granted after a failed payment before access is cut.
const gracePeriod = 3 * 24 * time.Hour

// Length of the billing cycle the proration math assumes, regardless of the
// provider's actual period.
const billingCycleDays = 30

// Service owns every subscription state transition. Webhook events, direct
// API calls and the sweeper all funnel through it.
type Service struct {
	repo    Repository
	gateway GatewayClient
	catalog *Catalog
	entitle EntitlementSync
	storage StorageUsage
	notify  NotificationSink
	now     func() time.Time
}

// NewService creates a billing service from injected collaborators.
func NewService(repo Repository, gateway GatewayClient, catalog *Catalog, entitle EntitlementSync, storage StorageUsage, notify NotificationSink) *Service {
	return &Service{
		repo:    repo,
		gateway: gateway,
		catalog: catalog,
		entitle: entitle,
		storage: storage,
		notify:  notify,
		now:     time.Now,
	}
}

// NewServiceFromDB wires the service with GORM repositories, the HTTP gateway
// adapter and the SMTP notification sink.
func NewServiceFromDB(db *gorm.DB) *Service {
	users := repository.NewUserRepository(db)
	files := repository.NewFileRepository(db)
	return NewService(
		NewRepository(db),
		NewHTTPGatewayFromEnv(),
		GetCatalog(),
		entitlements.NewSyncer(users, files),
		files,
		NewMailSink(users),
	)
}

var (
	globalCatalog *Catalog
	catalogOnce   sync.Once
)

// GetCatalog returns the process-wide plan catalog, loading and validating it
// on first use.
func GetCatalog() *Catalog {
	catalogOnce.Do(func() {
		c, err := LoadCatalog()
		if err != nil {
			log.Fatalf("[Billing] invalid plan catalog: %v", err)
		}
		globalCatalog = c
	})
	return globalCatalog
}

// CreateSubscription creates an external subscription for the user and a
// local record in "created" status. The external call happens first; if the
// local write fails afterwards, a compensating cancellation is attempted.
func (s *Service) CreateSubscription(ctx context.Context, userID uint, planID string) (string, error) {
	plan, ok := s.catalog.Plan(planID)
	if !ok {
		return "", NewValidationError("unknown plan %q", planID)
	}

	existing, err := s.repo.GetLiveSubscriptionByUser(userID)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return "", err
	}
	if existing != nil {
		// An unpaid "created" record is re-surfaced so the client can retry
		// checkout against the same external subscription.
		if existing.Status == models.SubscriptionStatusCreated {
			return existing.ExternalID, nil
		}
		return "", NewValidationError("user already has an active subscription")
	}

	gwSub, err := s.gateway.CreateSubscription(ctx, CreateSubscriptionInput{
		PlanID: plan.ID,
		Notes: map[string]string{
			NoteKeyUserID: strconv.FormatUint(uint64(userID), 10),
		},
	})
	if err != nil {
		return "", err
	}

	sub := &models.Subscription{
		UserID:     userID,
		ExternalID: gwSub.ID,
		PlanID:     plan.ID,
		Status:     models.SubscriptionStatusCreated,
	}
	if err := s.repo.CreateSubscription(sub); err != nil {
		s.compensateCreate(ctx, gwSub.ID, err)
		return "", err
	}

	log.Infof("[Billing] Created subscription %s (plan %s) for user %d", gwSub.ID, plan.ID, userID)
	return gwSub.ID, nil
}

// compensateCreate cancels the just-created external subscription after a
// failed local write. A failed compensation leaves a manual-reconciliation
// gap and is only logged.
func (s *Service) compensateCreate(ctx context.Context, externalID string, cause error) {
	log.Errorf("[Billing] Local write failed after external create of %s: %v; attempting compensating cancel", externalID, cause)
	if err := s.gateway.CancelSubscription(ctx, externalID); err != nil {
		log.Errorf("[Billing] RECONCILIATION NEEDED: compensating cancel of %s failed: %v", externalID, err)
	}
}

// CancelSubscription cancels the user's live subscription. Cancellation is
// blocked while the user stores more than the free-tier cap, since access is
// revoked immediately.
func (s *Service) CancelSubscription(ctx context.Context, userID uint) error {
	sub, err := s.repo.GetLiveSubscriptionByUser(userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return NewNotFoundError("no active subscription")
		}
		return err
	}

	used, err := s.storage.StorageUsed(userID)
	if err != nil {
		return err
	}
	if used > models.FreeTierStorageLimit {
		return NewValidationError(
			"storage usage (%d bytes) exceeds the free tier limit (%d bytes); delete files before cancelling",
			used, models.FreeTierStorageLimit)
	}

	if err := s.gateway.CancelSubscription(ctx, sub.ExternalID); err != nil {
		return err
	}

	return s.applyCancellation(sub)
}
