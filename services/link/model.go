package link

import (
	"time"

	"gorm.io/datatypes"
)

type LinkStatus string
type PlacementType string

const (
	LinkStatusActive  LinkStatus = "active"
	LinkStatusPaused  LinkStatus = "paused"
	LinkStatusExpired LinkStatus = "expired"

	PlacementBanner  PlacementType = "banner"
	PlacementText    PlacementType = "text"
	PlacementEmail   PlacementType = "email"
	PlacementSocial  PlacementType = "social"
	PlacementUnknown PlacementType = "unknown"
)

// Link is a short affiliate link tied to a partner and optionally a product.
// Counters are append-only and updated atomically.
type Link struct {
	ID               string         `gorm:"column:id;primaryKey"`
	ShortCode        string         `gorm:"column:short_code;type:varchar(100);uniqueIndex;not null"`
	PartnerID        string         `gorm:"column:partner_id;index;not null"`
	ProductID        string         `gorm:"column:product_id;index"`
	OriginalURL      string         `gorm:"column:original_url;type:text;not null"`
	TrackingURL      string         `gorm:"column:tracking_url;type:text;not null"`
	PlacementType    PlacementType  `gorm:"column:placement_type;type:varchar(50);not null;default:'unknown'"`
	Status           LinkStatus     `gorm:"column:status;type:varchar(50);not null;default:'active'"`
	UTMParams        datatypes.JSON `gorm:"column:utm_params;type:jsonb"`
	ExpiresAt        *time.Time     `gorm:"column:expires_at"`
	TotalClicks      int64          `gorm:"column:total_clicks;not null;default:0"`
	TotalConversions int64          `gorm:"column:total_conversions;not null;default:0"`
	CreatedAt        time.Time      `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time      `gorm:"column:updated_at;autoUpdateTime"`
}

func (Link) TableName() string { return "links" }

// IsExpired reports whether the link's expiry has passed at the given time.
func (l *Link) IsExpired(now time.Time) bool {
	return l.ExpiresAt != nil && now.After(*l.ExpiresAt)
}

// HealthResult is the outcome of probing a link target. Status 0 means the
// probe never received an HTTP response.
type HealthResult struct {
	LinkID     string `json:"link_id"`
	ShortCode  string `json:"short_code"`
	URL        string `json:"url"`
	StatusCode int    `json:"status_code"`
	Healthy    bool   `json:"healthy"`
	Error      string `json:"error,omitempty"`
}
