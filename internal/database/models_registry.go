package database

import "vibesync/internal/models"

// PersistentModels returns the authoritative set of schema-managed GORM models.
func PersistentModels() []interface{} {
	return []interface{}{
		&models.AlertDelivery{},
		&models.ModerationAudit{},
	}
}
