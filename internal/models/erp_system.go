package models

import "time"

// ErpSystem registers one tenant's ERP backend.
type ErpSystem struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	Name   string `gorm:"type:varchar(255);not null"`             // Display name.
	Domain string `gorm:"type:varchar(255);not null;uniqueIndex"` // Base domain or URL of the ERP API.
	APIKey string `gorm:"column:api_key;type:text"`               // API credential, stored as-is.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}

// Configured reports whether the system carries both a domain and a credential.
func (s ErpSystem) Configured() bool {
	return trimmed(s.Domain) != "" && trimmed(s.APIKey) != ""
}
