package db

import (
	"fmt"

	"github.com/leveranciersportal/portalsync/internal/models"
	"gorm.io/gorm"
)

// Migrate runs database migrations for the current dialect.
func Migrate(conn *gorm.DB) error {
	if conn == nil {
		return fmt.Errorf("db: nil connection")
	}
	switch DialectName(conn) {
	case DialectSQLite, DialectPostgres, "":
	default:
		return fmt.Errorf("db: unsupported dialect: %s", DialectName(conn))
	}

	if errAutoMigrate := conn.AutoMigrate(
		&models.ErpSystem{},
		&models.CachedJob{},
		&models.StatusMapping{},
		&models.SyncControl{},
	); errAutoMigrate != nil {
		return fmt.Errorf("db: migrate: %w", errAutoMigrate)
	}

	if errIndex := conn.Exec(`
		CREATE INDEX IF NOT EXISTS idx_cached_jobs_system_status
		ON cached_jobs (erp_system_id, progress_status)
	`).Error; errIndex != nil {
		return fmt.Errorf("db: create cached job status index: %w", errIndex)
	}

	return nil
}
