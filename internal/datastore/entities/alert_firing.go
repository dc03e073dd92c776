package entities

import "time"

// Firing statuses derived from channel outcomes.
const (
	FiringSent     = "sent"
	FiringDegraded = "degraded"
	FiringFailed   = "failed"
	FiringSkipped  = "skipped"
)

// Channel outcomes.
const (
	OutcomeSent            = "sent"
	OutcomeFailed          = "failed"
	OutcomeSkippedDisabled = "skipped-disabled"
)

// AlertFiring records one rule firing for one entity. Rows are append-only;
// they are not tied to the rule by a foreign key so history survives rule
// deletion.
type AlertFiring struct {
	ID         string            `gorm:"primaryKey;size:36" json:"id"`
	RuleID     string            `gorm:"size:36;not null;index:idx_alert_firings_rule_fired,priority:1" json:"rule_id"`
	RuleName   string            `gorm:"size:255;not null" json:"rule_name"`
	EntityID   string            `gorm:"size:255;not null;index" json:"entity_id"`
	EntityName string            `gorm:"size:255;default:''" json:"entity_name"`
	Metric     string            `gorm:"size:100;not null" json:"metric"`
	Operator   string            `gorm:"size:4;not null" json:"operator"`
	Value      float64           `json:"value"`
	ValueText  string            `gorm:"size:50;default:''" json:"value_text,omitempty"`
	Threshold  string            `gorm:"size:50;default:''" json:"threshold"`
	Priority   string            `gorm:"size:20;not null" json:"priority"`
	Status     string            `gorm:"size:20;not null;index" json:"status"`
	Test       bool              `gorm:"not null;default:false" json:"test,omitempty"`
	FiredAt    time.Time         `gorm:"not null;index;index:idx_alert_firings_rule_fired,priority:2" json:"fired_at"`
	Outcomes   []DeliveryOutcome `gorm:"foreignKey:FiringID;constraint:OnDelete:CASCADE" json:"outcomes"`
}

// TableName returns the table name for GORM.
func (AlertFiring) TableName() string {
	return "alert_firings"
}

// DeliveryOutcome is the result of delivering a firing to one channel.
type DeliveryOutcome struct {
	ID           uint   `gorm:"primaryKey" json:"-"`
	FiringID     string `gorm:"size:36;not null;index" json:"-"`
	ChannelIndex int    `gorm:"not null" json:"channel_index"`
	ChannelType  string `gorm:"size:30;not null" json:"channel_type"`
	Outcome      string `gorm:"size:20;not null" json:"outcome"`
	Error        string `gorm:"size:1000;default:''" json:"error,omitempty"`
	Attempts     int    `gorm:"default:0" json:"attempts"`
}

// TableName returns the table name for GORM.
func (DeliveryOutcome) TableName() string {
	return "alert_delivery_outcomes"
}

// DeriveStatus folds channel outcomes into a firing status.
func DeriveStatus(outcomes []DeliveryOutcome) string {
	var sent, failed int
	for _, o := range outcomes {
		switch o.Outcome {
		case OutcomeSent:
			sent++
		case OutcomeFailed:
			failed++
		}
	}
	switch {
	case sent > 0 && failed == 0:
		return FiringSent
	case sent > 0:
		return FiringDegraded
	case failed > 0:
		return FiringFailed
	default:
		return FiringSkipped
	}
}

// All returns every model for AutoMigrate.
func All() []any {
	return []any{
		&AlertRule{},
		&NotificationChannel{},
		&AlertFiring{},
		&DeliveryOutcome{},
	}
}
