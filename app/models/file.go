package models

import (
	"time"

	"gorm.io/gorm"
)

// File is the stored-object record the billing core interacts with. Byte
// storage and directory structure live elsewhere; entitlement revocation only
// needs the owner, the size and the delete operation.
type File struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	UUID      string         `gorm:"type:varchar(36);not null;uniqueIndex" json:"uuid"`
	UserID    uint           `gorm:"not null;index" json:"user_id"`
	FileName  string         `gorm:"type:varchar(255);not null" json:"file_name"`
	FilePath  string         `gorm:"type:varchar(512);not null" json:"file_path"`
	FileSize  int64          `gorm:"not null;default:0;index" json:"file_size"`
	MimeType  string         `gorm:"type:varchar(100);default:''" json:"mime_type"`
	ShareLink string         `gorm:"type:varchar(64);default:'';index" json:"share_link"`
	CreatedAt time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

// IsPlanExclusive reports whether the file could only have been uploaded on a
// paid plan, i.e. it exceeds the free-tier per-file ceiling. These files are
// removed when entitlements are revoked.
func (f *File) IsPlanExclusive() bool {
	return f.FileSize > FreeTierMaxFileSize
}
