package billing

import (
	"time"

	"github.com/CloudKeepHQ/CloudKeep/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository provides DB operations used by the billing service. Single-row
// updates are the atomicity unit; there is no cross-record locking.
type Repository interface {
	GetSubscriptionByExternalID(externalID string) (*models.Subscription, error)
	// GetLiveSubscriptionByUser returns the newest live record when a user
	// briefly holds more than one (an upgrade's "created" replacement
	// alongside the still-active predecessor).
	GetLiveSubscriptionByUser(userID uint) (*models.Subscription, error)
	GetSubscriptionByUserAndStatus(userID uint, status string) (*models.Subscription, error)
	CreateSubscription(sub *models.Subscription) error
	SaveSubscription(sub *models.Subscription) error
	// DeleteSubscriptionByExternalID removes a record; deleting an absent
	// record is a successful no-op so replays stay idempotent.
	DeleteSubscriptionByExternalID(externalID string) error

	ListPendingGraceExpired(now time.Time) ([]models.Subscription, error)
	ListCancelledPeriodEnded(now time.Time) ([]models.Subscription, error)
	ListAuthenticatedWindowEnded(now time.Time) ([]models.Subscription, error)

	CreateWebhookLogIfNotExists(entry *models.WebhookLog) (bool, *models.WebhookLog, error)
	MarkWebhookLogOutcome(id uint, status, message string) error
	DeleteWebhookLogsBefore(cutoff time.Time) (int64, error)
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a billing repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) GetSubscriptionByExternalID(externalID string) (*models.Subscription, error) {
	var sub models.Subscription
	err := r.db.Where("external_id = ?", externalID).First(&sub).Error
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *gormRepository) GetLiveSubscriptionByUser(userID uint) (*models.Subscription, error) {
	var sub models.Subscription
	err := r.db.
		Where("user_id = ? AND status IN ?", userID, models.LiveSubscriptionStatuses()).
		Order("id DESC").
		First(&sub).Error
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *gormRepository) GetSubscriptionByUserAndStatus(userID uint, status string) (*models.Subscription, error) {
	var sub models.Subscription
	err := r.db.
		Where("user_id = ? AND status = ?", userID, status).
		Order("id DESC").
		First(&sub).Error
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *gormRepository) CreateSubscription(sub *models.Subscription) error {
	return r.db.Create(sub).Error
}

func (r *gormRepository) SaveSubscription(sub *models.Subscription) error {
	return r.db.Save(sub).Error
}

func (r *gormRepository) DeleteSubscriptionByExternalID(externalID string) error {
	return r.db.Where("external_id = ?", externalID).
		Delete(&models.Subscription{}).Error
}

func (r *gormRepository) ListPendingGraceExpired(now time.Time) ([]models.Subscription, error) {
	var subs []models.Subscription
	err := r.db.
		Where("status = ? AND grace_period_ends_at IS NOT NULL AND grace_period_ends_at < ?",
			models.SubscriptionStatusPending, now).
		Find(&subs).Error
	return subs, err
}

func (r *gormRepository) ListCancelledPeriodEnded(now time.Time) ([]models.Subscription, error) {
	var subs []models.Subscription
	err := r.db.
		Where("status = ? AND current_period_end IS NOT NULL AND current_period_end < ?",
			models.SubscriptionStatusCancelled, now).
		Find(&subs).Error
	return subs, err
}

func (r *gormRepository) ListAuthenticatedWindowEnded(now time.Time) ([]models.Subscription, error) {
	var subs []models.Subscription
	err := r.db.
		Where("status = ? AND authenticated_period_end IS NOT NULL AND authenticated_period_end < ?",
			models.SubscriptionStatusAuthenticated, now).
		Find(&subs).Error
	return subs, err
}

func (r *gormRepository) CreateWebhookLogIfNotExists(entry *models.WebhookLog) (bool, *models.WebhookLog, error) {
	tx := r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "signature"}},
		DoNothing: true,
	}).Create(entry)
	if tx.Error != nil {
		return false, nil, tx.Error
	}

	created := tx.RowsAffected > 0
	var stored models.WebhookLog
	if err := r.db.Where("signature = ?", entry.Signature).First(&stored).Error; err != nil {
		return false, nil, err
	}
	return created, &stored, nil
}

func (r *gormRepository) MarkWebhookLogOutcome(id uint, status, message string) error {
	now := time.Now()
	return r.db.Model(&models.WebhookLog{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":           status,
			"response_message": message,
			"processed_at":     &now,
		}).Error
}

func (r *gormRepository) DeleteWebhookLogsBefore(cutoff time.Time) (int64, error) {
	tx := r.db.Where("received_at < ?", cutoff).Delete(&models.WebhookLog{})
	return tx.RowsAffected, tx.Error
}
