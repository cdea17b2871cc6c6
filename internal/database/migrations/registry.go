// Package migrations provides database migration management for compressarr.
package migrations

import (
	"gorm.io/gorm"

	"github.com/jmylchreest/compressarr/internal/models"
)

// AllMigrations returns all registered migrations in order.
// - 001: Schema creation using GORM AutoMigrate, the workflow indexes, and
//   the updated_at trigger. AutoMigrate also forward-migrates databases
//   created by earlier releases by adding any missing columns.
// - 002: Status history table.
func AllMigrations() []Migration {
	return []Migration{
		migration001Schema(),
		migration002StatusHistory(),
	}
}

// migration001Schema creates the videos table with its indexes and the
// trigger that stamps updated_at on every update, covering writers that
// bypass the ORM.
func migration001Schema() Migration {
	return Migration{
		Version:     "001",
		Description: "Create videos table, workflow indexes, and updated_at trigger",
		Up: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&models.Video{}); err != nil {
				return err
			}

			// AutoMigrate builds idx_filepath, idx_status and idx_created_at
			// from the model tags, but skips them for databases whose videos
			// table predates this tool.
			indexes := []string{
				"CREATE INDEX IF NOT EXISTS idx_filepath ON videos(filepath)",
				"CREATE INDEX IF NOT EXISTS idx_status ON videos(status)",
				"CREATE INDEX IF NOT EXISTS idx_created_at ON videos(created_at)",
			}
			for _, q := range indexes {
				if err := tx.Exec(q).Error; err != nil {
					return err
				}
			}

			// Older databases have rows without updated_at.
			if err := tx.Exec("UPDATE videos SET updated_at = created_at WHERE updated_at IS NULL").Error; err != nil {
				return err
			}

			// GORM stamps updated_at on its own writes; the trigger covers
			// direct SQL. SQLite leaves recursive triggers off, so the
			// trigger's own UPDATE does not re-fire it. Server databases
			// have their own trigger syntax and are managed by the ORM only.
			if tx.Dialector.Name() == "sqlite" {
				trigger := `
CREATE TRIGGER IF NOT EXISTS trg_videos_updated_at
AFTER UPDATE ON videos
FOR EACH ROW
BEGIN
    UPDATE videos SET updated_at = CURRENT_TIMESTAMP WHERE id = NEW.id;
END`
				if err := tx.Exec(trigger).Error; err != nil {
					return err
				}
			}

			return nil
		},
		Down: func(tx *gorm.DB) error {
			if tx.Dialector.Name() == "sqlite" {
				if err := tx.Exec("DROP TRIGGER IF EXISTS trg_videos_updated_at").Error; err != nil {
					return err
				}
			}
			if tx.Migrator().HasTable("videos") {
				return tx.Migrator().DropTable("videos")
			}
			return nil
		},
	}
}

// migration002StatusHistory adds the append-only status trail. The table is
// optional for the workers (they write it when present) and read only by the
// HTTP surface.
func migration002StatusHistory() Migration {
	return Migration{
		Version:     "002",
		Description: "Add status_history table",
		Up: func(tx *gorm.DB) error {
			return tx.AutoMigrate(&models.StatusHistory{})
		},
		Down: func(tx *gorm.DB) error {
			if tx.Migrator().HasTable("status_history") {
				return tx.Migrator().DropTable("status_history")
			}
			return nil
		},
	}
}
