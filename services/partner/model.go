package partner

import (
	"time"

	"gorm.io/datatypes"
)

type CommissionType string
type PartnerStatus string
type ProductStatus string
type CampaignType string
type CampaignStatus string

const (
	CommissionTypePercentage CommissionType = "percentage"
	CommissionTypeFixed      CommissionType = "fixed"
	CommissionTypeTiered     CommissionType = "tiered"
	CommissionTypeHybrid     CommissionType = "hybrid"

	PartnerStatusActive     PartnerStatus = "active"
	PartnerStatusPending    PartnerStatus = "pending"
	PartnerStatusPaused     PartnerStatus = "paused"
	PartnerStatusTerminated PartnerStatus = "terminated"

	ProductStatusActive     ProductStatus = "active"
	ProductStatusInactive   ProductStatus = "inactive"
	ProductStatusOutOfStock ProductStatus = "out_of_stock"

	CampaignTypeSeasonal      CampaignType = "seasonal"
	CampaignTypeProductLaunch CampaignType = "product_launch"
	CampaignTypePromotion     CampaignType = "promotion"
	CampaignTypeEvergreen     CampaignType = "evergreen"

	CampaignStatusDraft     CampaignStatus = "draft"
	CampaignStatusActive    CampaignStatus = "active"
	CampaignStatusPaused    CampaignStatus = "paused"
	CampaignStatusCompleted CampaignStatus = "completed"
	CampaignStatusCancelled CampaignStatus = "cancelled"
)

// Partner is an affiliate account earning commission on conversions.
type Partner struct {
	ID                 string         `gorm:"column:id;primaryKey"`
	CompanyName        string         `gorm:"column:company_name;type:varchar(255);not null"`
	CommissionType     CommissionType `gorm:"column:commission_type;type:varchar(50);not null;default:'percentage'"`
	CommissionRate     float64        `gorm:"column:commission_rate;not null"`
	PaymentMethod      string         `gorm:"column:payment_method;type:varchar(50)"`
	Status             PartnerStatus  `gorm:"column:status;type:varchar(50);not null;default:'pending'"`
	MinPayoutThreshold float64        `gorm:"column:min_payout_threshold;not null;default:0"`
	CreatedAt          time.Time      `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt          time.Time      `gorm:"column:updated_at;autoUpdateTime"`
}

func (Partner) TableName() string { return "partners" }

type Product struct {
	ID                 string         `gorm:"column:id;primaryKey"`
	PartnerID          string         `gorm:"column:partner_id;index;not null"`
	Name               string         `gorm:"column:name;type:varchar(255);not null"`
	Slug               string         `gorm:"column:slug;type:varchar(255);index"`
	Tags               datatypes.JSON `gorm:"column:tags;type:jsonb"`
	AffiliateURL       string         `gorm:"column:affiliate_url;type:text"`
	CommissionOverride *float64       `gorm:"column:commission_override"`
	Status             ProductStatus  `gorm:"column:status;type:varchar(50);not null;default:'active'"`
	CreatedAt          time.Time      `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt          time.Time      `gorm:"column:updated_at;autoUpdateTime"`
}

func (Product) TableName() string { return "products" }

type Campaign struct {
	ID            string         `gorm:"column:id;primaryKey"`
	PartnerID     string         `gorm:"column:partner_id;index"`
	Name          string         `gorm:"column:name;type:varchar(255);not null"`
	Type          CampaignType   `gorm:"column:type;type:varchar(50);not null;default:'promotion'"`
	Status        CampaignStatus `gorm:"column:status;type:varchar(50);not null;default:'draft'"`
	StartDate     *time.Time     `gorm:"column:start_date"`
	EndDate       *time.Time     `gorm:"column:end_date"`
	BonusRate     *float64       `gorm:"column:bonus_rate"`
	DiscountCode  string         `gorm:"column:discount_code;type:varchar(100)"`
	TargetMetrics datatypes.JSON `gorm:"column:target_metrics;type:jsonb"`
	Budget        float64        `gorm:"column:budget"`
	CreatedAt     time.Time      `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time      `gorm:"column:updated_at;autoUpdateTime"`
}

func (Campaign) TableName() string { return "campaigns" }

// IsActive checks if the campaign applies at the given time based on
// status and date range.
func (c *Campaign) IsActive(now time.Time) bool {
	if c.Status != CampaignStatusActive {
		return false
	}
	if c.StartDate != nil && now.Before(*c.StartDate) {
		return false
	}
	if c.EndDate != nil && now.After(*c.EndDate) {
		return false
	}
	return true
}
