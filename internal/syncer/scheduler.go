package syncer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/leveranciersportal/portalsync/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ShouldRun reports whether a sync cycle is due at now.
func ShouldRun(control models.SyncControl, now time.Time) bool {
	if control.ForceSync || control.LastSync == nil {
		return true
	}
	return now.Sub(*control.LastSync) >= control.Interval()
}

// Scheduler owns the single sync_control row.
type Scheduler struct {
	db *gorm.DB
}

// NewScheduler constructs a scheduler over the sync_control table.
func NewScheduler(db *gorm.DB) *Scheduler {
	return &Scheduler{db: db}
}

func (s *Scheduler) conn(ctx context.Context) (*gorm.DB, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("sync scheduler: nil db")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	return s.db.WithContext(ctx), nil
}

// Load returns the control row, creating it on first access.
// A fresh row requests a forced first run.
func (s *Scheduler) Load(ctx context.Context) (models.SyncControl, error) {
	conn, err := s.conn(ctx)
	if err != nil {
		return models.SyncControl{}, err
	}

	var control models.SyncControl
	errFind := conn.Take(&control, models.SyncControlID).Error
	if errFind == nil {
		return control, nil
	}
	if !errors.Is(errFind, gorm.ErrRecordNotFound) {
		return models.SyncControl{}, fmt.Errorf("sync scheduler: load control: %w", errFind)
	}

	seed := models.SyncControl{
		ID:              models.SyncControlID,
		ForceSync:       true,
		IntervalSeconds: models.DefaultSyncIntervalSeconds,
	}
	if errCreate := conn.Clauses(clause.OnConflict{DoNothing: true}).Create(&seed).Error; errCreate != nil {
		return models.SyncControl{}, fmt.Errorf("sync scheduler: create control: %w", errCreate)
	}
	if errReload := conn.Take(&control, models.SyncControlID).Error; errReload != nil {
		return models.SyncControl{}, fmt.Errorf("sync scheduler: reload control: %w", errReload)
	}
	return control, nil
}

// MarkRunStarted records the start of a run attempt.
func (s *Scheduler) MarkRunStarted(ctx context.Context, startedAt time.Time) error {
	return s.update(ctx, "mark started", map[string]any{"last_started_at": startedAt.UTC()})
}

// MarkRunCompleted clears the force flag and stamps the last run with the cycle start time.
func (s *Scheduler) MarkRunCompleted(ctx context.Context, startedAt time.Time) error {
	return s.update(ctx, "mark completed", map[string]any{
		"force_sync": false,
		"last_sync":  startedAt.UTC(),
	})
}

// MarkRunAborted clears the force flag without stamping a run.
func (s *Scheduler) MarkRunAborted(ctx context.Context) error {
	return s.update(ctx, "mark aborted", map[string]any{"force_sync": false})
}

// Trigger requests a full sync on the next check.
func (s *Scheduler) Trigger(ctx context.Context) error {
	if _, err := s.Load(ctx); err != nil {
		return err
	}
	return s.update(ctx, "trigger", map[string]any{"force_sync": true})
}

// SetInterval changes the minimum number of seconds between runs.
func (s *Scheduler) SetInterval(ctx context.Context, seconds int) error {
	if seconds <= 0 {
		return fmt.Errorf("sync scheduler: interval must be positive, got %d", seconds)
	}
	if _, err := s.Load(ctx); err != nil {
		return err
	}
	return s.update(ctx, "set interval", map[string]any{"interval_seconds": seconds})
}

func (s *Scheduler) update(ctx context.Context, action string, values map[string]any) error {
	conn, err := s.conn(ctx)
	if err != nil {
		return err
	}
	values["updated_at"] = time.Now().UTC()
	res := conn.Model(&models.SyncControl{}).Where("id = ?", models.SyncControlID).Updates(values)
	if res.Error != nil {
		return fmt.Errorf("sync scheduler: %s: %w", action, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("sync scheduler: %s: control row missing", action)
	}
	return nil
}
