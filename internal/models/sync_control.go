package models

import "time"

// SyncControlID is the primary key of the single sync control row.
const SyncControlID uint64 = 1

// DefaultSyncIntervalSeconds is applied when the control row is created.
const DefaultSyncIntervalSeconds = 3600

// SyncControl holds the process-wide scheduling state of the ERP sync.
type SyncControl struct {
	ID uint64 `gorm:"primaryKey;autoIncrement:false"` // Always SyncControlID.

	ForceSync       bool       `gorm:"not null;default:false"` // Run on next check and skip the change filter.
	IntervalSeconds int        `gorm:"not null;default:3600"`  // Minimum seconds between runs.
	LastSync        *time.Time // Start time of the last completed run.
	LastStartedAt   *time.Time // Start time of the most recent run attempt.

	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}

// TableName overrides the default table name.
func (SyncControl) TableName() string {
	return "sync_control"
}

// Interval returns the configured interval, falling back to the default for non-positive values.
func (c SyncControl) Interval() time.Duration {
	seconds := c.IntervalSeconds
	if seconds <= 0 {
		seconds = DefaultSyncIntervalSeconds
	}
	return time.Duration(seconds) * time.Second
}
