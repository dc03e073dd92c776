package notification

import (
	"fmt"
	"strings"
	"time"

	"github.com/homeops/opswatch/internal/alerting"
	"github.com/homeops/opswatch/internal/datastore/entities"
)

// Default templates. Placeholders are replaced by Render.
const (
	DefaultTitleTemplate = "[{{priority}}] {{rule_name}} on {{entity_name}}"
	DefaultBodyTemplate  = "{{rule_name}} fired for {{entity_name}}: {{metric}} {{operator}} {{threshold}} (observed {{value}}) at {{fired_at}}"
)

// Render substitutes firing fields into tmpl.
func Render(tmpl string, f *alerting.Firing) string {
	entity := f.EntityName
	if entity == "" {
		entity = f.EntityID
	}
	r := strings.NewReplacer(
		"{{rule_name}}", f.Rule.Name,
		"{{entity_name}}", entity,
		"{{entity_id}}", f.EntityID,
		"{{metric}}", f.Rule.Metric,
		"{{operator}}", f.Rule.Operator,
		"{{value}}", f.ValueString(),
		"{{threshold}}", f.ThresholdString(),
		"{{priority}}", strings.ToUpper(f.Rule.Priority),
		"{{fired_at}}", f.At.UTC().Format(time.RFC3339),
	)
	return r.Replace(tmpl)
}

// NewMessage renders the default message for a firing.
func NewMessage(f *alerting.Firing) Message {
	title := Render(DefaultTitleTemplate, f)
	if f.Test {
		title = "[TEST] " + title
	}
	return Message{
		Title:    title,
		Body:     Render(DefaultBodyTemplate, f),
		Priority: f.Rule.Priority,
		Firing:   f,
	}
}

// TestMessage is the synthetic message sent by channel tests.
func TestMessage(ch *entities.NotificationChannel, at time.Time) Message {
	return Message{
		Title:    "[TEST] opswatch notification",
		Body:     fmt.Sprintf("This is a test of your %s channel sent at %s.", ch.Type, at.UTC().Format(time.RFC3339)),
		Priority: alerting.PriorityLow,
	}
}
