package database

import (
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/nimbusnotes/nimbus/backend/internal/notes"
)

const migrationBackfillNotebookRows = "2026-07-18_backfill_notebook_rows"

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationBackfillNotebookRows, apply: backfillNotebookRows},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := migration.apply(db); err != nil {
			return err
		}
		appliedAt := time.Now().UTC().Unix()
		if err := db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// backfillNotebookRows creates notebook rows for notes that reference a
// notebook id with no backing row. Early deployments created notes with a
// bare notebook id and no notebooks table.
func backfillNotebookRows(db *gorm.DB) error {
	type orphan struct {
		UserID     string
		NotebookID string
	}
	var orphans []orphan
	err := db.Model(&notes.Note{}).
		Select("notes.user_id, notes.notebook_id").
		Joins("LEFT JOIN notebooks ON notebooks.user_id = notes.user_id AND notebooks.notebook_id = notes.notebook_id").
		Where("notebooks.notebook_id IS NULL").
		Group("notes.user_id, notes.notebook_id").
		Scan(&orphans).Error
	if err != nil {
		return err
	}
	now := time.Now().UTC().Unix()
	for _, row := range orphans {
		name := row.NotebookID
		if row.NotebookID == notes.DefaultNotebookID {
			name = "Inbox"
		}
		notebook := notes.Notebook{
			UserID:           row.UserID,
			NotebookID:       row.NotebookID,
			Name:             name,
			CreatedAtSeconds: now,
		}
		if err := db.Create(&notebook).Error; err != nil {
			return err
		}
	}
	return nil
}
