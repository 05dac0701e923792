package experiment

import (
	"time"

	"affiliate-controlplane/pkg/errutil"

	"gorm.io/datatypes"
)

type ExperimentStatus string

const (
	ExperimentStatusDraft     ExperimentStatus = "draft"
	ExperimentStatusActive    ExperimentStatus = "active"
	ExperimentStatusCompleted ExperimentStatus = "completed"
)

// Experiment admits a fraction of all users (TargetPercentage) and splits
// the admitted ones across its variants by weight.
type Experiment struct {
	ID               string           `gorm:"column:id;primaryKey"`
	Name             string           `gorm:"column:name;type:varchar(255);not null"`
	Status           ExperimentStatus `gorm:"column:status;type:varchar(50);not null;default:'draft'"`
	TargetPercentage int              `gorm:"column:target_percentage;not null;default:100"`
	Variants         []Variant        `gorm:"foreignKey:ExperimentID"`
	CreatedAt        time.Time        `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time        `gorm:"column:updated_at;autoUpdateTime"`
}

func (Experiment) TableName() string { return "experiments" }

type Variant struct {
	ID           string         `gorm:"column:id;primaryKey"`
	ExperimentID string         `gorm:"column:experiment_id;index;not null"`
	Key          string         `gorm:"column:key;type:varchar(100);not null"`
	Weight       int            `gorm:"column:weight;not null"`
	Position     int            `gorm:"column:position;not null;default:0"`
	Config       datatypes.JSON `gorm:"column:config;type:jsonb"`
	CreatedAt    time.Time      `gorm:"column:created_at;autoCreateTime"`
}

func (Variant) TableName() string { return "experiment_variants" }

// ValidateWeights rejects an experiment whose variant weights do not sum to
// exactly 100, before any persistence write.
func (e *Experiment) ValidateWeights() error {
	if len(e.Variants) == 0 {
		return errutil.ValidationFailed("experiment has no variants")
	}

	sum := 0
	for _, v := range e.Variants {
		if v.Weight < 0 {
			return errutil.ValidationFailed("variant weight must be non-negative")
		}
		sum += v.Weight
	}

	if sum != 100 {
		return errutil.ValidationFailed("variant weights must sum to 100")
	}
	return nil
}
