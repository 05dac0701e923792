package notification

import "time"

type NotificationStatus string

const (
	NotificationStatusSent   NotificationStatus = "sent"
	NotificationStatusFailed NotificationStatus = "failed"
)

// Notification is the audit row behind the fire-and-forget sender.
type Notification struct {
	ID        string             `gorm:"column:id;primaryKey"`
	Recipient string             `gorm:"column:recipient;type:varchar(255);not null"`
	Subject   string             `gorm:"column:subject;type:varchar(255)"`
	Body      string             `gorm:"column:body;type:text"`
	Status    NotificationStatus `gorm:"column:status;type:varchar(50);not null"`
	CreatedAt time.Time          `gorm:"column:created_at;autoCreateTime"`
}

func (Notification) TableName() string { return "notifications" }
