package alerting

import (
	"strconv"
	"time"

	"github.com/homeops/opswatch/internal/datastore/entities"
)

// Firing is one rule firing for one entity, handed to the notification
// router and then recorded in history.
type Firing struct {
	ID         string
	Rule       entities.AlertRule
	EntityID   string
	EntityName string
	Value      float64
	// ValueText holds the observed state for container_status rules.
	ValueText string
	At        time.Time
	Test      bool
}

// IsStatus reports whether the firing compares health states.
func (f *Firing) IsStatus() bool {
	return f.Rule.Metric == MetricContainerStatus
}

// ValueString formats the observed value for messages.
func (f *Firing) ValueString() string {
	if f.IsStatus() {
		return f.ValueText
	}
	return formatFloat(f.Value)
}

// ThresholdString formats the rule threshold for messages.
func (f *Firing) ThresholdString() string {
	return ThresholdString(&f.Rule)
}

// ThresholdString formats a rule threshold.
func ThresholdString(rule *entities.AlertRule) string {
	if rule.Metric == MetricContainerStatus {
		return rule.ThresholdText
	}
	return formatFloat(rule.Threshold)
}

// Record builds the history row for this firing.
func (f *Firing) Record(outcomes []entities.DeliveryOutcome) entities.AlertFiring {
	return entities.AlertFiring{
		ID:         f.ID,
		RuleID:     f.Rule.ID,
		RuleName:   f.Rule.Name,
		EntityID:   f.EntityID,
		EntityName: f.EntityName,
		Metric:     f.Rule.Metric,
		Operator:   f.Rule.Operator,
		Value:      f.Value,
		ValueText:  f.ValueText,
		Threshold:  f.ThresholdString(),
		Priority:   f.Rule.Priority,
		Status:     entities.DeriveStatus(outcomes),
		Test:       f.Test,
		FiredAt:    f.At,
		Outcomes:   outcomes,
	}
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
