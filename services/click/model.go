package click

import "time"

type DeviceType string

const (
	DeviceDesktop DeviceType = "desktop"
	DeviceMobile  DeviceType = "mobile"
	DeviceTablet  DeviceType = "tablet"
	DeviceUnknown DeviceType = "unknown"
)

const (
	maxUserAgentLength = 500
	maxReferrerLength  = 1000

	// DedupWindow is the trailing window for session+link deduplication.
	DedupWindow = 30 * time.Minute

	// AttributionWindow bounds last-click attribution lookups.
	AttributionWindow = 30 * 24 * time.Hour
)

// Click is an immutable click event. Only the conversion back-reference is
// set after creation. The stored IP is always anonymized.
type Click struct {
	ID           string     `gorm:"column:id;primaryKey"`
	LinkID       string     `gorm:"column:link_id;index;not null"`
	PartnerID    string     `gorm:"column:partner_id;index;not null"`
	ProductID    string     `gorm:"column:product_id;index"`
	SessionID    string     `gorm:"column:session_id;index;not null"`
	IPAddress    string     `gorm:"column:ip_address;type:varchar(64)"`
	UserAgent    string     `gorm:"column:user_agent;type:varchar(500)"`
	Referrer     string     `gorm:"column:referrer;type:varchar(1000)"`
	DeviceType   DeviceType `gorm:"column:device_type;type:varchar(20);not null;default:'unknown'"`
	Browser      string     `gorm:"column:browser;type:varchar(50)"`
	OS           string     `gorm:"column:os;type:varchar(50)"`
	CountryCode  string     `gorm:"column:country_code;type:varchar(2)"`
	IsBot        bool       `gorm:"column:is_bot;not null;default:false"`
	BotSignature string     `gorm:"column:bot_signature;type:varchar(100)"`
	ConversionID string     `gorm:"column:conversion_id;index"`
	ClickedAt    time.Time  `gorm:"column:clicked_at;index;autoCreateTime"`
}

func (Click) TableName() string { return "clicks" }
