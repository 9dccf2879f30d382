package models

import (
	"fmt"
	"strings"
	"time"

	"gorm.io/datatypes"
)

// CachedJob stores the denormalized copy of an ERP job.
// Rows are keyed by (erp_system_id, id) so native ids never collide across tenants.
type CachedJob struct {
	ErpSystemID uint64 `gorm:"primaryKey;autoIncrement:false"`         // Owning ERP system.
	ID          string `gorm:"column:id;primaryKey;type:varchar(255)"` // ERP-native job id.

	Description                string  `gorm:"type:text;not null"`               // Job description.
	EquipmentDescription       *string `gorm:"type:text"`                        // Equipment description.
	ProcessFunctionDescription *string `gorm:"type:text"`                        // Process function description.
	ProgressStatus             string  `gorm:"type:varchar(255);not null;index"` // ERP-native progress status.
	VendorID                   *string `gorm:"type:varchar(255);index"`          // ERP vendor id.

	Payload         datatypes.JSON `gorm:"type:jsonb;not null"` // Raw ERP record as fetched.
	RecordChangedAt time.Time      `gorm:"not null;index"`      // Upstream change timestamp.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last local change timestamp.
}

// Key returns the composite identity of the job.
func (j CachedJob) Key() JobKey {
	return JobKey{ErpSystemID: j.ErpSystemID, JobID: j.ID}
}

// JobKey identifies a cached job within its ERP system.
type JobKey struct {
	ErpSystemID uint64
	JobID       string
}

// Valid reports whether both key parts are set.
func (k JobKey) Valid() bool {
	return k.ErpSystemID != 0 && strings.TrimSpace(k.JobID) != ""
}

func (k JobKey) String() string {
	return fmt.Sprintf("%d/%s", k.ErpSystemID, k.JobID)
}

func trimmed(s string) string {
	return strings.TrimSpace(s)
}
