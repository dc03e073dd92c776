package entities

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestAlertRuleJSONKeys verifies that AlertRule serializes with the snake_case
// keys the dashboard reads.
func TestAlertRuleJSONKeys(t *testing.T) {
	t.Parallel()

	cooldown := 15
	rule := AlertRule{
		ID:          "5f1f6a52-43c4-4b1e-9f0b-7d1c0f2b8a11",
		Name:        "Host memory high",
		Metric:      "memory_percent",
		Operator:    ">",
		Threshold:   90,
		Priority:    "high",
		CooldownMin: &cooldown,
		Enabled:     true,
		CreatedAt:   time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		UpdatedAt:   time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		Channels: []NotificationChannel{
			{Type: ChannelEmail, Enabled: true, Address: "ops@example.com"},
		},
	}

	data, err := json.Marshal(rule)
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(data, &m))

	for _, key := range []string{
		"id", "name", "description", "metric", "operator", "threshold", "priority",
		"cooldown_min", "enabled", "built_in", "created_at", "updated_at", "channels",
	} {
		assert.Contains(t, m, key, "JSON should contain snake_case key %q", key)
	}
	for _, key := range []string{"ID", "CooldownMin", "Channels", "ThresholdText"} {
		assert.NotContains(t, m, key)
	}
	// empty optional fields are omitted
	assert.NotContains(t, m, "threshold_text")
	assert.NotContains(t, m, "entity_id")
	assert.EqualValues(t, 15, m["cooldown_min"])
}

func TestAlertRuleJSONNilCooldown(t *testing.T) {
	t.Parallel()

	var rule AlertRule
	require.NoError(t, json.Unmarshal([]byte(`{"name":"x","metric":"cpu_percent","operator":">","threshold":80}`), &rule))
	assert.Nil(t, rule.CooldownMin)
	assert.Equal(t, 15*time.Minute, rule.Cooldown(15*time.Minute))

	zero := 0
	rule.CooldownMin = &zero
	assert.Equal(t, time.Duration(0), rule.Cooldown(15*time.Minute))
}

func TestAlertRuleClone(t *testing.T) {
	t.Parallel()

	cooldown := 5
	orig := AlertRule{
		ID:          "r1",
		CooldownMin: &cooldown,
		Channels: []NotificationChannel{
			{Type: ChannelGenericWebhook, URL: "https://hooks.example.com", Headers: map[string]string{"X-Token": "a"}},
		},
	}

	c := orig.Clone()
	*c.CooldownMin = 10
	c.Channels[0].Headers["X-Token"] = "b"
	c.Channels[0].URL = "https://other.example.com"

	assert.Equal(t, 5, *orig.CooldownMin)
	assert.Equal(t, "a", orig.Channels[0].Headers["X-Token"])
	assert.Equal(t, "https://hooks.example.com", orig.Channels[0].URL)
}

func TestAlertFiringJSONKeys(t *testing.T) {
	t.Parallel()

	f := AlertFiring{
		ID:       "f1",
		RuleID:   "r1",
		RuleName: "CPU high",
		EntityID: "c-web",
		Metric:   "cpu_percent",
		Operator: ">",
		Value:    91.5,
		Priority: "high",
		Status:   FiringDegraded,
		FiredAt:  time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC),
		Outcomes: []DeliveryOutcome{
			{ID: 9, FiringID: "f1", ChannelIndex: 0, ChannelType: ChannelEmail, Outcome: OutcomeSent, Attempts: 1},
			{ID: 10, FiringID: "f1", ChannelIndex: 1, ChannelType: ChannelChatWebhook, Outcome: OutcomeFailed, Error: "HTTP 500", Attempts: 2},
		},
	}

	data, err := json.Marshal(f)
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(data, &m))

	for _, key := range []string{"id", "rule_id", "rule_name", "entity_id", "metric", "value", "priority", "status", "fired_at", "outcomes"} {
		assert.Contains(t, m, key)
	}
	assert.NotContains(t, m, "test", "false test flag is omitted")

	outcomes, ok := m["outcomes"].([]any)
	require.True(t, ok)
	require.Len(t, outcomes, 2)
	second, ok := outcomes[1].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "HTTP 500", second["error"])
	assert.NotContains(t, second, "id", "outcome row ids are internal")
}

func TestDeriveStatus(t *testing.T) {
	t.Parallel()

	sent := DeliveryOutcome{Outcome: OutcomeSent}
	failed := DeliveryOutcome{Outcome: OutcomeFailed}
	skipped := DeliveryOutcome{Outcome: OutcomeSkippedDisabled}

	tests := []struct {
		name     string
		outcomes []DeliveryOutcome
		want     string
	}{
		{"all sent", []DeliveryOutcome{sent, sent}, FiringSent},
		{"sent and skipped", []DeliveryOutcome{sent, skipped}, FiringSent},
		{"partial", []DeliveryOutcome{sent, failed}, FiringDegraded},
		{"all failed", []DeliveryOutcome{failed, failed}, FiringFailed},
		{"failed and skipped", []DeliveryOutcome{failed, skipped}, FiringFailed},
		{"only disabled", []DeliveryOutcome{skipped}, FiringSkipped},
		{"no channels", nil, FiringSkipped},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, DeriveStatus(tt.outcomes))
		})
	}
}
