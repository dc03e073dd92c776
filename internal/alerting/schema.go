package alerting

import (
	"github.com/homeops/opswatch/internal/datastore/entities"
	"github.com/homeops/opswatch/internal/health"
	"github.com/homeops/opswatch/internal/runtime"
)

// Schema describes the metrics, operators and channel types rules can use.
type Schema struct {
	Metrics      []MetricSchema   `json:"metrics"`
	Operators    []OperatorSchema `json:"operators"`
	Priorities   []string         `json:"priorities"`
	States       []string         `json:"states"`
	ChannelTypes []ChannelSchema  `json:"channel_types"`
}

// MetricSchema describes one rule target.
type MetricSchema struct {
	Name  string         `json:"name"`
	Label string         `json:"label"`
	Unit  string         `json:"unit,omitempty"`
	Type  string         `json:"type"` // "number" or "state"
	Kinds []runtime.Kind `json:"kinds"`
}

// OperatorSchema describes an operator for the UI.
type OperatorSchema struct {
	Name  string `json:"name"`
	Label string `json:"label"`
	Type  string `json:"type"` // "number" or "all"
}

// ChannelSchema describes a notification channel type and its fields.
type ChannelSchema struct {
	Type   string   `json:"type"`
	Label  string   `json:"label"`
	Fields []string `json:"fields"`
}

var bothKinds = []runtime.Kind{runtime.KindContainer, runtime.KindHost}

// GetSchema returns the alerting catalog for the UI.
func GetSchema() Schema {
	states := make([]string, len(health.States))
	for i, s := range health.States {
		states[i] = string(s)
	}
	return Schema{
		Metrics: []MetricSchema{
			{Name: runtime.MetricCPUPercent, Label: "CPU Usage", Unit: "%", Type: "number", Kinds: bothKinds},
			{Name: runtime.MetricMemoryPercent, Label: "Memory Usage", Unit: "%", Type: "number", Kinds: bothKinds},
			{Name: runtime.MetricMemoryBytes, Label: "Memory Used", Unit: "bytes", Type: "number", Kinds: bothKinds},
			{Name: runtime.MetricDiskPercent, Label: "Disk Usage", Unit: "%", Type: "number", Kinds: []runtime.Kind{runtime.KindHost}},
			{Name: runtime.MetricNetworkRxBytes, Label: "Network Received", Unit: "bytes", Type: "number", Kinds: bothKinds},
			{Name: runtime.MetricNetworkTxBytes, Label: "Network Sent", Unit: "bytes", Type: "number", Kinds: bothKinds},
			{Name: runtime.MetricRestartCount, Label: "Restart Count", Type: "number", Kinds: []runtime.Kind{runtime.KindContainer}},
			{Name: MetricContainerStatus, Label: "Health State", Type: "state", Kinds: bothKinds},
		},
		Operators: []OperatorSchema{
			{Name: OperatorGreaterThan, Label: "greater than", Type: "number"},
			{Name: OperatorGreaterOrEqual, Label: "greater or equal", Type: "number"},
			{Name: OperatorLessThan, Label: "less than", Type: "number"},
			{Name: OperatorLessOrEqual, Label: "less or equal", Type: "number"},
			{Name: OperatorEqual, Label: "equals", Type: "all"},
			{Name: OperatorNotEqual, Label: "does not equal", Type: "all"},
		},
		Priorities: Priorities,
		States:     states,
		ChannelTypes: []ChannelSchema{
			{Type: entities.ChannelEmail, Label: "Email", Fields: []string{"address"}},
			{Type: entities.ChannelChatWebhook, Label: "Chat Webhook", Fields: []string{"url"}},
			{Type: entities.ChannelGenericWebhook, Label: "Webhook", Fields: []string{"url", "headers"}},
		},
	}
}
