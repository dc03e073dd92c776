package alerting

import (
	"github.com/homeops/opswatch/internal/datastore/entities"
	"github.com/homeops/opswatch/internal/health"
	"github.com/homeops/opswatch/internal/runtime"
)

func intPtr(v int) *int { return &v }

// DefaultRules returns the built-in rules seeded on first start. They have
// no channels until the user adds some.
func DefaultRules() []entities.AlertRule {
	return []entities.AlertRule{
		{
			ID:            "builtin-container-down",
			Name:          "Container stopped",
			Description:   "Notifies when a container stops running",
			Metric:        MetricContainerStatus,
			Operator:      OperatorEqual,
			ThresholdText: string(health.StateStopped),
			Priority:      PriorityHigh,
			CooldownMin:   intPtr(30),
			Enabled:       true,
			BuiltIn:       true,
		},
		{
			ID:            "builtin-container-restarting",
			Name:          "Container restarting",
			Description:   "Notifies when a container restarts",
			Metric:        MetricContainerStatus,
			Operator:      OperatorEqual,
			ThresholdText: string(health.StateRestarting),
			Priority:      PriorityMedium,
			CooldownMin:   intPtr(15),
			Enabled:       true,
			BuiltIn:       true,
		},
		{
			ID:          "builtin-host-memory-high",
			Name:        "High memory usage",
			Description: "Notifies when memory usage exceeds 90%",
			Metric:      runtime.MetricMemoryPercent,
			Operator:    OperatorGreaterThan,
			Threshold:   90,
			Priority:    PriorityHigh,
			CooldownMin: intPtr(15),
			Enabled:     true,
			BuiltIn:     true,
			EntityID:    "host",
		},
		{
			ID:          "builtin-host-disk-high",
			Name:        "Low disk space",
			Description: "Notifies when disk usage exceeds 85%",
			Metric:      runtime.MetricDiskPercent,
			Operator:    OperatorGreaterThan,
			Threshold:   85,
			Priority:    PriorityCritical,
			CooldownMin: intPtr(60),
			Enabled:     true,
			BuiltIn:     true,
			EntityID:    "host",
		},
	}
}
