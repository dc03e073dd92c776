// Package alerting evaluates threshold rules against the metric stream.
package alerting

import (
	"github.com/homeops/opswatch/internal/health"
	"github.com/homeops/opswatch/internal/runtime"
)

// Comparison operators.
const (
	OperatorGreaterThan    = ">"
	OperatorGreaterOrEqual = ">="
	OperatorLessThan       = "<"
	OperatorLessOrEqual    = "<="
	OperatorEqual          = "="
	OperatorNotEqual       = "!="
)

// Rule priorities, lowest first.
const (
	PriorityLow      = "low"
	PriorityMedium   = "medium"
	PriorityHigh     = "high"
	PriorityCritical = "critical"
)

// MetricContainerStatus is the health-state pseudo-metric.
const MetricContainerStatus = health.MetricContainerStatus

// Operators lists every supported operator.
var Operators = []string{
	OperatorGreaterThan,
	OperatorGreaterOrEqual,
	OperatorLessThan,
	OperatorLessOrEqual,
	OperatorEqual,
	OperatorNotEqual,
}

// Priorities lists every priority, lowest first.
var Priorities = []string{PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical}

// numericMetrics are the metrics a sample can carry.
var numericMetrics = []string{
	runtime.MetricCPUPercent,
	runtime.MetricMemoryPercent,
	runtime.MetricMemoryBytes,
	runtime.MetricDiskPercent,
	runtime.MetricNetworkRxBytes,
	runtime.MetricNetworkTxBytes,
	runtime.MetricRestartCount,
}

// IsKnownMetric reports whether rules may target metric.
func IsKnownMetric(metric string) bool {
	if metric == MetricContainerStatus {
		return true
	}
	for _, m := range numericMetrics {
		if m == metric {
			return true
		}
	}
	return false
}
