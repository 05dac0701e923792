package commission

import (
	"math"
	"time"
)

type ConversionType string
type ConversionStatus string
type PayoutStatus string
type PayoutState string
type ValidationMethod string

const (
	ConversionTypeSale     ConversionType = "sale"
	ConversionTypeLead     ConversionType = "lead"
	ConversionTypeSignup   ConversionType = "signup"
	ConversionTypeTrial    ConversionType = "trial"
	ConversionTypeDownload ConversionType = "download"

	ConversionStatusPending  ConversionStatus = "pending"
	ConversionStatusApproved ConversionStatus = "approved"
	ConversionStatusRejected ConversionStatus = "rejected"
	ConversionStatusReversed ConversionStatus = "reversed"

	PayoutStatusUnpaid     PayoutStatus = "unpaid"
	PayoutStatusPending    PayoutStatus = "pending"
	PayoutStatusProcessing PayoutStatus = "processing"
	PayoutStatusPaid       PayoutStatus = "paid"
	PayoutStatusFailed     PayoutStatus = "failed"

	PayoutStatePending    PayoutState = "pending"
	PayoutStateProcessing PayoutState = "processing"
	PayoutStateCompleted  PayoutState = "completed"
	PayoutStateFailed     PayoutState = "failed"

	ValidationPostback ValidationMethod = "postback"
	ValidationManual   ValidationMethod = "manual"
)

// Conversion is created once; only status, payout linkage and notes change
// afterwards. CommissionAmount is immutable after approval.
type Conversion struct {
	ID               string           `gorm:"column:id;primaryKey"`
	ClickID          string           `gorm:"column:click_id;index"`
	PartnerID        string           `gorm:"column:partner_id;index;not null"`
	ProductID        string           `gorm:"column:product_id;index"`
	OrderID          string           `gorm:"column:order_id;index"`
	TransactionID    string           `gorm:"column:transaction_id"`
	Type             ConversionType   `gorm:"column:type;type:varchar(50);not null;default:'sale'"`
	SaleAmount       float64          `gorm:"column:sale_amount;not null"`
	Currency         string           `gorm:"column:currency;type:varchar(3);not null;default:'USD'"`
	CommissionAmount float64          `gorm:"column:commission_amount;not null"`
	Status           ConversionStatus `gorm:"column:status;type:varchar(50);index;not null;default:'pending'"`
	PayoutStatus     PayoutStatus     `gorm:"column:payout_status;type:varchar(50);index;not null;default:'unpaid'"`
	PayoutID         string           `gorm:"column:payout_id;index"`
	ValidationMethod ValidationMethod `gorm:"column:validation_method;type:varchar(50);not null;default:'manual'"`
	FraudScore       int              `gorm:"column:fraud_score;not null;default:0"`
	Notes            string           `gorm:"column:notes;type:text"`
	ConvertedAt      time.Time        `gorm:"column:converted_at;index"`
	ApprovedAt       *time.Time       `gorm:"column:approved_at"`
	CreatedAt        time.Time        `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time        `gorm:"column:updated_at;autoUpdateTime"`
}

func (Conversion) TableName() string { return "conversions" }

// Payout aggregates approved unpaid conversions for a period. Immutable once
// completed; transitions only move forward.
type Payout struct {
	ID               string      `gorm:"column:id;primaryKey"`
	Code             string      `gorm:"column:code;type:varchar(100);uniqueIndex"`
	PartnerID        string      `gorm:"column:partner_id;index;not null"`
	PeriodStart      time.Time   `gorm:"column:period_start;not null"`
	PeriodEnd        time.Time   `gorm:"column:period_end;not null"`
	TotalConversions int64       `gorm:"column:total_conversions;not null"`
	TotalCommission  float64     `gorm:"column:total_commission;not null"`
	PayoutMethod     string      `gorm:"column:payout_method;type:varchar(50)"`
	Status           PayoutState `gorm:"column:status;type:varchar(50);not null;default:'pending'"`
	TransactionRef   string      `gorm:"column:transaction_ref;type:varchar(255)"`
	PaidAt           *time.Time  `gorm:"column:paid_at"`
	CreatedAt        time.Time   `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time   `gorm:"column:updated_at;autoUpdateTime"`
}

func (Payout) TableName() string { return "payouts" }

// roundAmount rounds half-up to 2 decimal places and never returns a
// negative amount.
func roundAmount(v float64) float64 {
	if v < 0 {
		return 0
	}
	return math.Round(v*100) / 100
}
