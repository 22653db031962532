package repository

import (
	"github.com/CloudKeepHQ/CloudKeep/app/models"
)

// UserRepository handles user persistence including the entitlement fields
// owned by the billing core.
type UserRepository interface {
	Create(user *models.User) error
	GetByID(id uint) (*models.User, error)
	GetByEmail(email string) (*models.User, error)
	GetByAPIKeyHash(hash string) (*models.User, error)
	Update(user *models.User) error
	// ApplyEntitlements writes absolute entitlement values for a user. The
	// assignment is idempotent: repeating it leaves the row unchanged.
	ApplyEntitlements(userID uint, maxStorage int64, maxDevices int, maxFileSize int64, subscriptionID string) error
}

// FileRepository exposes the stored-file operations the billing core needs:
// usage accounting and plan-exclusive cleanup.
type FileRepository interface {
	Create(file *models.File) error
	GetByUUID(uuid string) (*models.File, error)
	ListByUser(userID uint) ([]models.File, error)
	Delete(file *models.File) error
	// StorageUsed sums the file sizes currently held by the user.
	StorageUsed(userID uint) (int64, error)
	// DeleteLargerThan removes all of a user's files above the given size.
	// Deleting zero rows is a successful no-op.
	DeleteLargerThan(userID uint, size int64) error
}

// Repositories bundles all repository instances
type Repositories struct {
	User UserRepository
	File FileRepository
}
