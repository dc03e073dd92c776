// Package runtime talks to the systems that host monitored entities: the
// Docker Engine for containers and the local machine for host metrics.
package runtime

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Kind distinguishes containers from hosts.
type Kind string

const (
	KindContainer Kind = "container"
	KindHost      Kind = "host"
)

// Metric names produced by the runtimes.
const (
	MetricCPUPercent     = "cpu_percent"
	MetricMemoryPercent  = "memory_percent"
	MetricMemoryBytes    = "memory_bytes"
	MetricDiskPercent    = "disk_percent"
	MetricNetworkRxBytes = "network_rx_bytes"
	MetricNetworkTxBytes = "network_tx_bytes"
	MetricRestartCount   = "restart_count"
)

// Container states as reported by the Docker Engine.
const (
	StateRunning    = "running"
	StateExited     = "exited"
	StateRestarting = "restarting"
	StatePaused     = "paused"
	StateDead       = "dead"
	StateCreated    = "created"
)

// Health check results.
const (
	HealthHealthy   = "healthy"
	HealthUnhealthy = "unhealthy"
	HealthStarting  = "starting"
	HealthNone      = "none"
)

// EntityRef identifies an entity within the runtime that reported it.
type EntityRef struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Kind      Kind   `json:"kind"`
	Source    string `json:"source"`
	RuntimeID string `json:"-"`
}

func (e EntityRef) String() string {
	return fmt.Sprintf("%s/%s", e.Source, e.ID)
}

// RawSample is a single observation as reported by a runtime. A metric
// absent from Values is missing, not zero.
type RawSample struct {
	Running bool
	State   string
	Health  string
	Values  map[string]float64
	At      time.Time
}

// Runtime is the source of entities and their metrics.
type Runtime interface {
	// Name identifies the runtime in entity refs and errors.
	Name() string
	ListEntities(ctx context.Context) ([]EntityRef, error)
	SampleMetrics(ctx context.Context, ref EntityRef) (RawSample, error)
	GetRestartCount(ctx context.Context, ref EntityRef) (int, error)
}

// ListError reports which sources failed while listing. Entities from the
// remaining sources are still returned alongside it.
type ListError struct {
	Failed map[string]error
}

func (e *ListError) Error() string {
	parts := make([]string, 0, len(e.Failed))
	for src, err := range e.Failed {
		parts = append(parts, fmt.Sprintf("%s: %v", src, err))
	}
	return "list entities failed: " + strings.Join(parts, "; ")
}

// Sources returns the names of the failed sources.
func (e *ListError) Sources() []string {
	out := make([]string, 0, len(e.Failed))
	for src := range e.Failed {
		out = append(out, src)
	}
	return out
}
