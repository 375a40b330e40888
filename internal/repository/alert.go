// Package repository provides data access layer implementations for the application.
package repository

import (
	"context"

	"vibesync/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AlertRepository defines the interface for alert delivery bookkeeping.
type AlertRepository interface {
	// Record claims the delivery of notificationID to viewerID. first is
	// false when any instance already claimed it.
	Record(ctx context.Context, viewerID, notificationID string) (first bool, err error)
	Delivered(ctx context.Context, viewerID, notificationID string) (bool, error)
}

type alertRepository struct {
	db *gorm.DB
}

// NewAlertRepository creates a new alert repository
func NewAlertRepository(db *gorm.DB) AlertRepository {
	return &alertRepository{db: db}
}

func (r *alertRepository) Record(ctx context.Context, viewerID, notificationID string) (bool, error) {
	row := models.AlertDelivery{ViewerID: viewerID, NotificationID: notificationID}
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&row)
	if res.Error != nil {
		return false, models.NewInternalError(res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (r *alertRepository) Delivered(ctx context.Context, viewerID, notificationID string) (bool, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&models.AlertDelivery{}).
		Where("viewer_id = ? AND notification_id = ?", viewerID, notificationID).
		Count(&count).Error; err != nil {
		return false, models.NewInternalError(err)
	}
	return count > 0, nil
}
