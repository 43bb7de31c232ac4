package models

import "time"

type NotificationType string

const (
	NotificationEventAnnouncement NotificationType = "event_announcement"
	NotificationCertificateIssued NotificationType = "certificate_issued"
	NotificationSystem            NotificationType = "system"
)

// Notification is one in-app inbox item. ActivityID is the dedupe key: an
// activity notifies each user at most once.
type Notification struct {
	ID         uint             `gorm:"primaryKey"`
	UserID     uint             `gorm:"not null;index:idx_notification_user_read;uniqueIndex:idx_notification_user_activity"`
	Type       NotificationType `gorm:"type:varchar(64);not null;index"`
	Title      string           `gorm:"type:varchar(255);not null"`
	Body       string           `gorm:"type:text"`
	IsRead     bool             `gorm:"default:false;not null;index:idx_notification_user_read"`
	EventID    *uint            `gorm:"index"`
	ActivityID *uint            `gorm:"uniqueIndex:idx_notification_user_activity"`
	CreatedAt  time.Time        `gorm:"autoCreateTime"`
}

func (Notification) TableName() string {
	return "notifications"
}
