package jobcache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/leveranciersportal/portalsync/internal/db"
	"github.com/leveranciersportal/portalsync/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DefaultBatchSize bounds the rows loaded per page by EachJob.
const DefaultBatchSize = 500

var (
	// ErrJobNotFound is returned when no cached job matches a key.
	ErrJobNotFound = errors.New("jobcache: job not found")
	// ErrTenantNotFound is returned when no ERP system matches an id.
	ErrTenantNotFound = errors.New("jobcache: erp system not found")
	// ErrMappingNotFound is returned when no status mapping matches an id.
	ErrMappingNotFound = errors.New("jobcache: status mapping not found")
	// ErrDuplicateDomain is returned when an ERP system domain is already registered.
	ErrDuplicateDomain = errors.New("jobcache: domain already registered")
	// ErrDuplicateMapping is returned when a tenant already maps the source status.
	ErrDuplicateMapping = errors.New("jobcache: status already mapped for erp system")
)

// upsertColumns are overwritten when a job key already exists.
var upsertColumns = []string{
	"description",
	"equipment_description",
	"process_function_description",
	"progress_status",
	"vendor_id",
	"payload",
	"record_changed_at",
	"updated_at",
}

// Store persists cached jobs, ERP systems and status mappings.
type Store struct {
	db *gorm.DB
}

// NewStore wraps a database connection.
func NewStore(conn *gorm.DB) *Store {
	return &Store{db: conn}
}

func (s *Store) conn(ctx context.Context) (*gorm.DB, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("jobcache: nil db")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	return s.db.WithContext(ctx), nil
}

// UpsertJob inserts a job or overwrites every mutable column of the existing row.
func (s *Store) UpsertJob(ctx context.Context, job *models.CachedJob) error {
	conn, err := s.conn(ctx)
	if err != nil {
		return err
	}
	if job == nil || !job.Key().Valid() {
		return fmt.Errorf("jobcache: upsert job: invalid key")
	}
	if job.UpdatedAt.IsZero() {
		job.UpdatedAt = time.Now().UTC()
	}
	errUpsert := conn.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "erp_system_id"}, {Name: "id"}},
		DoUpdates: clause.AssignmentColumns(upsertColumns),
	}).Create(job).Error
	if errUpsert != nil {
		return fmt.Errorf("jobcache: upsert job %s: %w", job.Key(), errUpsert)
	}
	return nil
}

// GetJob loads one job by key.
func (s *Store) GetJob(ctx context.Context, key models.JobKey) (*models.CachedJob, error) {
	conn, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	if !key.Valid() {
		return nil, ErrJobNotFound
	}
	var job models.CachedJob
	errFind := conn.Where("erp_system_id = ? AND id = ?", key.ErpSystemID, key.JobID).Take(&job).Error
	if errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return nil, ErrJobNotFound
		}
		return nil, fmt.Errorf("jobcache: get job %s: %w", key, errFind)
	}
	return &job, nil
}

// ListJobsForTenant returns the jobs of one ERP system ordered by id.
func (s *Store) ListJobsForTenant(ctx context.Context, tenantID uint64) ([]models.CachedJob, error) {
	conn, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	var jobs []models.CachedJob
	if errFind := conn.Where("erp_system_id = ?", tenantID).Order("id ASC").Find(&jobs).Error; errFind != nil {
		return nil, fmt.Errorf("jobcache: list jobs for %d: %w", tenantID, errFind)
	}
	return jobs, nil
}

// ListAllJobs returns every cached job ordered by key.
func (s *Store) ListAllJobs(ctx context.Context) ([]models.CachedJob, error) {
	conn, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	var jobs []models.CachedJob
	if errFind := conn.Order("erp_system_id ASC").Order("id ASC").Find(&jobs).Error; errFind != nil {
		return nil, fmt.Errorf("jobcache: list jobs: %w", errFind)
	}
	return jobs, nil
}

// EachJob walks all jobs in key order, handing batches of at most batchSize rows to fn.
// Pages are keyed on (erp_system_id, id) so equal native ids across tenants are never skipped.
func (s *Store) EachJob(ctx context.Context, batchSize int, fn func([]models.CachedJob) error) error {
	conn, err := s.conn(ctx)
	if err != nil {
		return err
	}
	if fn == nil {
		return nil
	}
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	var (
		lastTenant uint64
		lastID     string
		started    bool
	)
	for {
		query := conn.Order("erp_system_id ASC").Order("id ASC").Limit(batchSize)
		if started {
			query = query.Where("erp_system_id > ? OR (erp_system_id = ? AND id > ?)", lastTenant, lastTenant, lastID)
		}
		var batch []models.CachedJob
		if errFind := query.Find(&batch).Error; errFind != nil {
			return fmt.Errorf("jobcache: scan jobs: %w", errFind)
		}
		if len(batch) == 0 {
			return nil
		}
		if errFn := fn(batch); errFn != nil {
			return errFn
		}
		if len(batch) < batchSize {
			return nil
		}
		last := batch[len(batch)-1]
		lastTenant, lastID, started = last.ErpSystemID, last.ID, true
	}
}

// TouchUpdatedAt bumps updated_at of one job.
func (s *Store) TouchUpdatedAt(ctx context.Context, key models.JobKey) error {
	return s.updateJob(ctx, key, map[string]any{"updated_at": time.Now().UTC()})
}

// SetStatus overwrites the progress status of one job in a single statement.
func (s *Store) SetStatus(ctx context.Context, key models.JobKey, status string) error {
	return s.updateJob(ctx, key, map[string]any{
		"progress_status": status,
		"updated_at":      time.Now().UTC(),
	})
}

func (s *Store) updateJob(ctx context.Context, key models.JobKey, values map[string]any) error {
	conn, err := s.conn(ctx)
	if err != nil {
		return err
	}
	if !key.Valid() {
		return ErrJobNotFound
	}
	res := conn.Model(&models.CachedJob{}).
		Where("erp_system_id = ? AND id = ?", key.ErpSystemID, key.JobID).
		UpdateColumns(values)
	if res.Error != nil {
		return fmt.Errorf("jobcache: update job %s: %w", key, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrJobNotFound
	}
	return nil
}

// ListTenants returns all ERP systems ordered by id.
func (s *Store) ListTenants(ctx context.Context) ([]models.ErpSystem, error) {
	conn, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	var systems []models.ErpSystem
	if errFind := conn.Order("id ASC").Find(&systems).Error; errFind != nil {
		return nil, fmt.Errorf("jobcache: list erp systems: %w", errFind)
	}
	return systems, nil
}

// GetTenant loads one ERP system.
func (s *Store) GetTenant(ctx context.Context, id uint64) (*models.ErpSystem, error) {
	conn, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	var system models.ErpSystem
	if errFind := conn.Take(&system, id).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return nil, ErrTenantNotFound
		}
		return nil, fmt.Errorf("jobcache: get erp system %d: %w", id, errFind)
	}
	return &system, nil
}

// CreateTenant registers an ERP system.
func (s *Store) CreateTenant(ctx context.Context, system *models.ErpSystem) error {
	conn, err := s.conn(ctx)
	if err != nil {
		return err
	}
	if system == nil {
		return fmt.Errorf("jobcache: create erp system: nil system")
	}
	system.Name = strings.TrimSpace(system.Name)
	system.Domain = strings.TrimSpace(system.Domain)
	if errCreate := conn.Create(system).Error; errCreate != nil {
		if db.IsUniqueViolation(errCreate) {
			return ErrDuplicateDomain
		}
		return fmt.Errorf("jobcache: create erp system: %w", errCreate)
	}
	return nil
}

// TenantUpdate carries optional ERP system field changes.
type TenantUpdate struct {
	Name   *string
	Domain *string
	APIKey *string
}

// UpdateTenant applies the non-nil fields of update.
func (s *Store) UpdateTenant(ctx context.Context, id uint64, update TenantUpdate) (*models.ErpSystem, error) {
	conn, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	values := make(map[string]any)
	if update.Name != nil {
		values["name"] = strings.TrimSpace(*update.Name)
	}
	if update.Domain != nil {
		values["domain"] = strings.TrimSpace(*update.Domain)
	}
	if update.APIKey != nil {
		values["api_key"] = *update.APIKey
	}
	if len(values) > 0 {
		values["updated_at"] = time.Now().UTC()
		res := conn.Model(&models.ErpSystem{}).Where("id = ?", id).Updates(values)
		if res.Error != nil {
			if db.IsUniqueViolation(res.Error) {
				return nil, ErrDuplicateDomain
			}
			return nil, fmt.Errorf("jobcache: update erp system %d: %w", id, res.Error)
		}
		if res.RowsAffected == 0 {
			return nil, ErrTenantNotFound
		}
	}
	return s.GetTenant(ctx, id)
}

// DeleteTenant removes an ERP system with its cached jobs and mappings in one transaction.
func (s *Store) DeleteTenant(ctx context.Context, id uint64) error {
	conn, err := s.conn(ctx)
	if err != nil {
		return err
	}
	return conn.Transaction(func(tx *gorm.DB) error {
		if errJobs := tx.Where("erp_system_id = ?", id).Delete(&models.CachedJob{}).Error; errJobs != nil {
			return fmt.Errorf("jobcache: delete erp system %d: jobs: %w", id, errJobs)
		}
		if errMappings := tx.Where("erp_system_id = ?", id).Delete(&models.StatusMapping{}).Error; errMappings != nil {
			return fmt.Errorf("jobcache: delete erp system %d: mappings: %w", id, errMappings)
		}
		res := tx.Where("id = ?", id).Delete(&models.ErpSystem{})
		if res.Error != nil {
			return fmt.Errorf("jobcache: delete erp system %d: %w", id, res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrTenantNotFound
		}
		return nil
	})
}

// ListMappings returns status mappings, optionally restricted to one tenant (0 means all).
func (s *Store) ListMappings(ctx context.Context, tenantID uint64) ([]models.StatusMapping, error) {
	conn, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	query := conn.Order("erp_system_id ASC").Order("source_status ASC")
	if tenantID != 0 {
		query = query.Where("erp_system_id = ?", tenantID)
	}
	var rows []models.StatusMapping
	if errFind := query.Find(&rows).Error; errFind != nil {
		return nil, fmt.Errorf("jobcache: list status mappings: %w", errFind)
	}
	return rows, nil
}

// CreateMapping adds a status mapping for an existing tenant.
func (s *Store) CreateMapping(ctx context.Context, mapping *models.StatusMapping) error {
	conn, err := s.conn(ctx)
	if err != nil {
		return err
	}
	if mapping == nil {
		return fmt.Errorf("jobcache: create status mapping: nil mapping")
	}
	if _, errTenant := s.GetTenant(ctx, mapping.ErpSystemID); errTenant != nil {
		return errTenant
	}
	if errCreate := conn.Create(mapping).Error; errCreate != nil {
		if db.IsUniqueViolation(errCreate) {
			return ErrDuplicateMapping
		}
		return fmt.Errorf("jobcache: create status mapping: %w", errCreate)
	}
	return nil
}

// UpdateMapping changes the source and/or target status of a mapping.
func (s *Store) UpdateMapping(ctx context.Context, id uint64, source, target *string) (*models.StatusMapping, error) {
	conn, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	values := make(map[string]any)
	if source != nil {
		values["source_status"] = *source
	}
	if target != nil {
		values["target_status"] = *target
	}
	if len(values) > 0 {
		values["updated_at"] = time.Now().UTC()
		res := conn.Model(&models.StatusMapping{}).Where("id = ?", id).Updates(values)
		if res.Error != nil {
			if db.IsUniqueViolation(res.Error) {
				return nil, ErrDuplicateMapping
			}
			return nil, fmt.Errorf("jobcache: update status mapping %d: %w", id, res.Error)
		}
		if res.RowsAffected == 0 {
			return nil, ErrMappingNotFound
		}
	}
	var mapping models.StatusMapping
	if errFind := conn.Take(&mapping, id).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return nil, ErrMappingNotFound
		}
		return nil, fmt.Errorf("jobcache: get status mapping %d: %w", id, errFind)
	}
	return &mapping, nil
}

// DeleteMapping removes one status mapping.
func (s *Store) DeleteMapping(ctx context.Context, id uint64) error {
	conn, err := s.conn(ctx)
	if err != nil {
		return err
	}
	res := conn.Where("id = ?", id).Delete(&models.StatusMapping{})
	if res.Error != nil {
		return fmt.Errorf("jobcache: delete status mapping %d: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrMappingNotFound
	}
	return nil
}
