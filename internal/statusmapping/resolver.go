package statusmapping

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/leveranciersportal/portalsync/internal/models"
	"gorm.io/gorm"
)

// Resolver answers "what portal status does this ERP status map to" per tenant.
type Resolver struct {
	db *gorm.DB
}

// NewResolver constructs a resolver over the status_mappings table.
func NewResolver(db *gorm.DB) *Resolver {
	return &Resolver{db: db}
}

// Resolve looks up the target status for a tenant's source status.
// A missing mapping is reported through ok, never as an error.
func (r *Resolver) Resolve(ctx context.Context, tenantID uint64, sourceStatus string) (string, bool, error) {
	if r == nil || r.db == nil {
		return "", false, fmt.Errorf("statusmapping: nil db")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	var row models.StatusMapping
	errFind := r.db.WithContext(ctx).
		Where("erp_system_id = ? AND source_status = ?", tenantID, sourceStatus).
		Take(&row).Error
	if errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("statusmapping: resolve: %w", errFind)
	}
	return row.TargetStatus, true, nil
}

// Snapshot loads every mapping once, for annotating a list of jobs without a query per job.
func (r *Resolver) Snapshot(ctx context.Context) (*Snapshot, error) {
	if r == nil || r.db == nil {
		return nil, fmt.Errorf("statusmapping: nil db")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	var rows []models.StatusMapping
	if errFind := r.db.WithContext(ctx).Find(&rows).Error; errFind != nil {
		return nil, fmt.Errorf("statusmapping: load snapshot: %w", errFind)
	}
	return NewSnapshot(rows), nil
}

// Snapshot is an immutable view of the mapping table.
type Snapshot struct {
	targets map[string]string
}

// NewSnapshot indexes rows by tenant and source status.
func NewSnapshot(rows []models.StatusMapping) *Snapshot {
	targets := make(map[string]string, len(rows))
	for _, row := range rows {
		targets[makeKey(row.ErpSystemID, row.SourceStatus)] = row.TargetStatus
	}
	return &Snapshot{targets: targets}
}

// Lookup returns the target status for a tenant's source status.
func (s *Snapshot) Lookup(tenantID uint64, sourceStatus string) (string, bool) {
	if s == nil {
		return "", false
	}
	target, ok := s.targets[makeKey(tenantID, sourceStatus)]
	return target, ok
}

// Len returns the number of mappings in the snapshot.
func (s *Snapshot) Len() int {
	if s == nil {
		return 0
	}
	return len(s.targets)
}

func makeKey(tenantID uint64, status string) string {
	return strconv.FormatUint(tenantID, 10) + "\x00" + status
}
