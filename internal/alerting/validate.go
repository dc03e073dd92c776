package alerting

import (
	"math"
	"slices"
	"strings"

	"github.com/google/uuid"

	"github.com/homeops/opswatch/internal/datastore/entities"
	"github.com/homeops/opswatch/internal/errors"
	"github.com/homeops/opswatch/internal/health"
)

// Normalize trims user input and assigns an id and defaults. It does not
// validate.
func Normalize(rule *entities.AlertRule) {
	rule.ID = strings.TrimSpace(rule.ID)
	if rule.ID == "" {
		rule.ID = uuid.New().String()
	}
	rule.Name = strings.TrimSpace(rule.Name)
	rule.Metric = strings.TrimSpace(rule.Metric)
	rule.Operator = strings.TrimSpace(rule.Operator)
	rule.Priority = strings.ToLower(strings.TrimSpace(rule.Priority))
	if rule.Priority == "" {
		rule.Priority = PriorityMedium
	}
	rule.EntityID = strings.TrimSpace(rule.EntityID)
	if rule.Metric == MetricContainerStatus {
		if s, ok := health.ParseState(rule.ThresholdText); ok {
			rule.ThresholdText = string(s)
		}
		rule.Threshold = 0
	} else {
		rule.ThresholdText = ""
	}
	for i := range rule.Channels {
		NormalizeChannel(&rule.Channels[i])
		rule.Channels[i].SortOrder = i
	}
}

// NormalizeChannel trims channel fields and lowercases the type.
func NormalizeChannel(ch *entities.NotificationChannel) {
	ch.Type = strings.ToLower(strings.TrimSpace(ch.Type))
	ch.Address = strings.TrimSpace(ch.Address)
	ch.URL = strings.TrimSpace(ch.URL)
}

// ValidateRule checks a rule before it is stored or evaluated.
func ValidateRule(rule *entities.AlertRule) error {
	if rule == nil {
		return invalid("rule is required", "")
	}
	if strings.TrimSpace(rule.Name) == "" {
		return invalid("name is required", "name")
	}
	if !IsKnownMetric(rule.Metric) {
		return invalid("unknown metric: "+rule.Metric, "metric")
	}
	if !slices.Contains(Operators, rule.Operator) {
		return invalid("unknown operator: "+rule.Operator, "operator")
	}
	if !slices.Contains(Priorities, rule.Priority) {
		return invalid("unknown priority: "+rule.Priority, "priority")
	}
	if rule.CooldownMin != nil && *rule.CooldownMin < 0 {
		return invalid("cooldown must not be negative", "cooldown_min")
	}

	if rule.Metric == MetricContainerStatus {
		if rule.Operator != OperatorEqual && rule.Operator != OperatorNotEqual {
			return invalid("container_status rules only support = and !=", "operator")
		}
		if _, ok := health.ParseState(rule.ThresholdText); !ok {
			return invalid("unknown health state: "+rule.ThresholdText, "threshold_text")
		}
	} else if math.IsNaN(rule.Threshold) || math.IsInf(rule.Threshold, 0) {
		return invalid("threshold must be a finite number", "threshold")
	}

	for i := range rule.Channels {
		if err := ValidateChannel(&rule.Channels[i]); err != nil {
			return err
		}
	}
	return nil
}

// ValidateChannel checks the per-type configuration of a channel.
func ValidateChannel(ch *entities.NotificationChannel) error {
	switch ch.Type {
	case entities.ChannelEmail:
		if strings.TrimSpace(ch.Address) == "" {
			return invalid("email channel requires an address", "channels.address")
		}
	case entities.ChannelChatWebhook, entities.ChannelGenericWebhook:
		if strings.TrimSpace(ch.URL) == "" {
			return invalid(ch.Type+" channel requires a url", "channels.url")
		}
	default:
		return invalid("unsupported channel type: "+ch.Type, "channels.type")
	}
	return nil
}

func invalid(msg, field string) error {
	eb := errors.New(errors.NewStd(msg)).
		Component("alerting").
		Category(errors.CategoryValidation)
	if field != "" {
		eb = eb.Context("field", field)
	}
	return eb.Build()
}
