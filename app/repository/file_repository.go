package repository

import (
	"github.com/CloudKeepHQ/CloudKeep/app/models"
	"gorm.io/gorm"
)

// fileRepository implements the FileRepository interface
type fileRepository struct {
	db *gorm.DB
}

// NewFileRepository creates a new file repository instance
func NewFileRepository(db *gorm.DB) FileRepository {
	return &fileRepository{db: db}
}

func (r *fileRepository) Create(file *models.File) error {
	return r.db.Create(file).Error
}

func (r *fileRepository) GetByUUID(uuid string) (*models.File, error) {
	var file models.File
	err := r.db.Where("uuid = ?", uuid).First(&file).Error
	if err != nil {
		return nil, err
	}
	return &file, nil
}

func (r *fileRepository) ListByUser(userID uint) ([]models.File, error) {
	var files []models.File
	err := r.db.Where("user_id = ?", userID).Find(&files).Error
	return files, err
}

func (r *fileRepository) Delete(file *models.File) error {
	return r.db.Delete(file).Error
}

// StorageUsed sums the file sizes currently held by the user.
func (r *fileRepository) StorageUsed(userID uint) (int64, error) {
	var total int64
	err := r.db.Model(&models.File{}).
		Where("user_id = ?", userID).
		Select("COALESCE(SUM(file_size), 0)").
		Scan(&total).Error
	return total, err
}

// DeleteLargerThan removes all of a user's files above the given size.
func (r *fileRepository) DeleteLargerThan(userID uint, size int64) error {
	return r.db.Where("user_id = ? AND file_size > ?", userID, size).
		Delete(&models.File{}).Error
}
