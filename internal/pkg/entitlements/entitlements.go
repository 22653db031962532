package entitlements

import (
	"github.com/CloudKeepHQ/CloudKeep/app/models"
	"github.com/CloudKeepHQ/CloudKeep/app/repository"
)

// Limits is the set of resource entitlements a plan grants.
type Limits struct {
	MaxStorage  int64
	MaxDevices  int
	MaxFileSize int64
}

// FreeTier returns the default limits applied to users without a live
// subscription.
func FreeTier() Limits {
	return Limits{
		MaxStorage:  models.FreeTierStorageLimit,
		MaxDevices:  models.FreeTierMaxDevices,
		MaxFileSize: models.FreeTierMaxFileSize,
	}
}

// Syncer applies plan entitlements to user records. Every write assigns
// absolute values, so repeating a sync after a replayed event cannot drift a
// user's limits.
type Syncer struct {
	users repository.UserRepository
	files repository.FileRepository
}

// NewSyncer creates an entitlement syncer from injected repositories.
func NewSyncer(users repository.UserRepository, files repository.FileRepository) *Syncer {
	return &Syncer{users: users, files: files}
}

// ApplyPlan writes a plan's limits and the governing subscription id to the
// user record.
func (s *Syncer) ApplyPlan(userID uint, subscriptionID string, limits Limits) error {
	return s.users.ApplyEntitlements(userID, limits.MaxStorage, limits.MaxDevices, limits.MaxFileSize, subscriptionID)
}

// ResetToFree returns a user to the free-tier defaults and removes
// plan-exclusive resources (files above the free-tier per-file ceiling).
// Safe to repeat: the second pass assigns the same values and deletes zero
// rows.
func (s *Syncer) ResetToFree(userID uint) error {
	free := FreeTier()
	if err := s.users.ApplyEntitlements(userID, free.MaxStorage, free.MaxDevices, free.MaxFileSize, ""); err != nil {
		return err
	}
	return s.files.DeleteLargerThan(userID, free.MaxFileSize)
}
