package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// BaseModel defines the common fields for all rows.
// ID is a UUID string assigned on insert; DeletedAt marks a tombstone instead of removing the row.
type BaseModel struct {
	ID        string         `gorm:"type:varchar(36);primaryKey" json:"id"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deletedAt,omitempty"` // For soft deletes
}

// BeforeCreate assigns a fresh id when the caller did not set one.
func (b *BaseModel) BeforeCreate(tx *gorm.DB) error {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	return nil
}

// IsDeleted reports whether the row is a tombstone.
func (b *BaseModel) IsDeleted() bool {
	return b.DeletedAt.Valid
}
