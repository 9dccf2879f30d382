package models

import "time"

// StatusMapping maps an ERP-native progress status to the portal action for one ERP system.
type StatusMapping struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	ErpSystemID  uint64 `gorm:"not null;uniqueIndex:idx_status_mappings_system_source"`                   // Owning ERP system.
	SourceStatus string `gorm:"type:varchar(255);not null;uniqueIndex:idx_status_mappings_system_source"` // ERP-native status code.
	TargetStatus string `gorm:"type:varchar(255);not null"`                                               // Portal-facing status.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}
