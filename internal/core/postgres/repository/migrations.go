package repository

import (
	"go-lookflow/internal/domain"

	"gorm.io/gorm"
)

// Migrate creates or updates the engine tables. Catalog and profile tables
// belong to the surrounding application and are only migrated when asked.
func Migrate(db *gorm.DB, includeCollaborators bool) error {
	models := []interface{}{
		&domain.WorkflowRun{},
		&domain.StepExecution{},
		&domain.Look{},
	}
	if includeCollaborators {
		models = append(models, &domain.Item{}, &domain.UserProfile{})
	}
	return db.AutoMigrate(models...)
}
