package repository

import (
	"context"

	"vibesync/internal/models"

	"gorm.io/gorm"
)

// AuditRepository stores moderation actions.
type AuditRepository interface {
	Create(ctx context.Context, entry *models.ModerationAudit) error
	ListByTarget(ctx context.Context, targetID string, limit int) ([]models.ModerationAudit, error)
	ListRecent(ctx context.Context, limit int) ([]models.ModerationAudit, error)
}

type auditRepository struct {
	db *gorm.DB
}

// NewAuditRepository creates a new audit repository
func NewAuditRepository(db *gorm.DB) AuditRepository {
	return &auditRepository{db: db}
}

func (r *auditRepository) Create(ctx context.Context, entry *models.ModerationAudit) error {
	if err := r.db.WithContext(ctx).Create(entry).Error; err != nil {
		return models.NewInternalError(err)
	}
	return nil
}

func (r *auditRepository) ListByTarget(ctx context.Context, targetID string, limit int) ([]models.ModerationAudit, error) {
	var entries []models.ModerationAudit
	if err := r.db.WithContext(ctx).
		Where("target_id = ?", targetID).
		Order("created_at desc, id desc").
		Limit(clampLimit(limit)).
		Find(&entries).Error; err != nil {
		return nil, models.NewInternalError(err)
	}
	return entries, nil
}

func (r *auditRepository) ListRecent(ctx context.Context, limit int) ([]models.ModerationAudit, error) {
	var entries []models.ModerationAudit
	if err := r.db.WithContext(ctx).
		Order("created_at desc, id desc").
		Limit(clampLimit(limit)).
		Find(&entries).Error; err != nil {
		return nil, models.NewInternalError(err)
	}
	return entries, nil
}

func clampLimit(limit int) int {
	if limit <= 0 || limit > 200 {
		return 50
	}
	return limit
}
