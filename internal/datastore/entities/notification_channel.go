package entities

import "maps"

// Channel types.
const (
	ChannelEmail          = "email"
	ChannelChatWebhook    = "chat-webhook"
	ChannelGenericWebhook = "generic-webhook"
)

// NotificationChannel is one delivery target of a rule.
// Address holds comma separated recipients for email channels; URL holds the
// webhook endpoint or a shoutrrr service URL.
type NotificationChannel struct {
	ID        uint              `gorm:"primaryKey" json:"id"`
	RuleID    string            `gorm:"size:36;not null;index" json:"rule_id"`
	SortOrder int               `gorm:"default:0" json:"sort_order"`
	Type      string            `gorm:"size:30;not null" json:"type"`
	Enabled   bool              `gorm:"not null" json:"enabled"`
	Address   string            `gorm:"size:1000;default:''" json:"address,omitempty"`
	URL       string            `gorm:"size:2000;default:''" json:"url,omitempty"`
	Headers   map[string]string `gorm:"serializer:json;type:text" json:"headers,omitempty"`
}

// TableName returns the table name for GORM.
func (NotificationChannel) TableName() string {
	return "alert_channels"
}

func (c NotificationChannel) Clone() NotificationChannel {
	c.Headers = maps.Clone(c.Headers)
	return c
}
