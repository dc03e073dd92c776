package entities

import "time"

// AlertRule is a user-defined threshold rule evaluated against the metric
// stream. Channels are owned by the rule and deleted with it.
type AlertRule struct {
	ID            string                `gorm:"primaryKey;size:36" json:"id"`
	Name          string                `gorm:"size:255;not null;uniqueIndex" json:"name"`
	Description   string                `gorm:"size:1000;default:''" json:"description"`
	Metric        string                `gorm:"size:100;not null;index" json:"metric"`
	Operator      string                `gorm:"size:4;not null" json:"operator"`
	Threshold     float64               `gorm:"not null;default:0" json:"threshold"`
	ThresholdText string                `gorm:"size:50;default:''" json:"threshold_text,omitempty"`
	Priority      string                `gorm:"size:20;not null;default:'medium'" json:"priority"`
	CooldownMin   *int                  `json:"cooldown_min"`
	Enabled       bool                  `gorm:"not null;index" json:"enabled"`
	BuiltIn       bool                  `gorm:"not null;default:false" json:"built_in"`
	EntityID      string                `gorm:"size:255;default:''" json:"entity_id,omitempty"`
	CreatedAt     time.Time             `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time             `gorm:"autoUpdateTime" json:"updated_at"`
	Channels      []NotificationChannel `gorm:"foreignKey:RuleID;constraint:OnDelete:CASCADE" json:"channels"`
}

// TableName returns the table name for GORM.
func (AlertRule) TableName() string {
	return "alert_rules"
}

// Cooldown returns the rule's cooldown, or def when the rule does not set one.
func (r *AlertRule) Cooldown(def time.Duration) time.Duration {
	if r.CooldownMin == nil {
		return def
	}
	return time.Duration(*r.CooldownMin) * time.Minute
}

// Clone returns a deep copy so callers can hand rules across goroutines
// without sharing the channel slice.
func (r *AlertRule) Clone() AlertRule {
	c := *r
	if r.CooldownMin != nil {
		v := *r.CooldownMin
		c.CooldownMin = &v
	}
	if r.Channels != nil {
		c.Channels = make([]NotificationChannel, len(r.Channels))
		for i := range r.Channels {
			c.Channels[i] = r.Channels[i].Clone()
		}
	}
	return c
}
