package models

import "time"

// AlertDelivery records that an alert for one notification reached one
// viewer. The unique index makes delivery at-most-once across instances.
type AlertDelivery struct {
	ID             uint      `gorm:"primaryKey" json:"-"`
	ViewerID       string    `gorm:"size:64;not null;uniqueIndex:idx_alert_viewer_notification" json:"viewer_id"`
	NotificationID string    `gorm:"size:64;not null;uniqueIndex:idx_alert_viewer_notification" json:"notification_id"`
	DeliveredAt    time.Time `gorm:"autoCreateTime" json:"delivered_at"`
}

// TableName overrides the gorm default.
func (AlertDelivery) TableName() string { return "alert_deliveries" }

// Moderation actions recorded in the audit log.
const (
	AuditBanUser    = "ban_user"
	AuditUnbanUser  = "unban_user"
	AuditDeletePost = "delete_post"
)

// ModerationAudit is one admin action.
type ModerationAudit struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	ActorID   string    `gorm:"size:64;not null;index" json:"actor_id"`
	Action    string    `gorm:"size:32;not null" json:"action"`
	TargetID  string    `gorm:"size:64;not null;index" json:"target_id"`
	Reason    string    `gorm:"type:text" json:"reason,omitempty"`
	CreatedAt time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}

// TableName overrides the gorm default.
func (ModerationAudit) TableName() string { return "moderation_audits" }
