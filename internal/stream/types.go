// Package stream fans out engine state to dashboard subscribers.
package stream

import (
	"maps"
	"time"

	"github.com/homeops/opswatch/internal/datastore/entities"
	"github.com/homeops/opswatch/internal/health"
	"github.com/homeops/opswatch/internal/history"
	"github.com/homeops/opswatch/internal/sampler"
)

// Message types.
const (
	TypeSnapshot = "snapshot"
	TypeUpdate   = "update"
)

// Engine status values.
const (
	StatusHealthy  = "healthy"
	StatusDegraded = "degraded"
)

// EntityView is the dashboard view of one entity.
type EntityView struct {
	ID           string                 `json:"id"`
	Name         string                 `json:"name"`
	Kind         string                 `json:"kind"`
	State        health.State           `json:"state"`
	StateSince   time.Time              `json:"state_since"`
	Stale        bool                   `json:"stale"`
	Failures     int                    `json:"failures"`
	RestartCount int                    `json:"restart_count"`
	LastSample   time.Time              `json:"last_sample"`
	Values       map[string]float64     `json:"values,omitempty"`
	Window       []sampler.MetricSample `json:"window,omitempty"`
}

// sameAs compares everything but the charting window.
func (v EntityView) sameAs(o EntityView) bool {
	return v.ID == o.ID &&
		v.Name == o.Name &&
		v.Kind == o.Kind &&
		v.State == o.State &&
		v.StateSince.Equal(o.StateSince) &&
		v.Stale == o.Stale &&
		v.Failures == o.Failures &&
		v.RestartCount == o.RestartCount &&
		v.LastSample.Equal(o.LastSample) &&
		maps.Equal(v.Values, o.Values)
}

// Message is one push to a subscriber. A snapshot carries the full state;
// an update carries only what changed since the previous push.
type Message struct {
	Type        string                 `json:"type"`
	Seq         uint64                 `json:"seq"`
	At          time.Time              `json:"at"`
	Status      string                 `json:"status"`
	Entities    []EntityView           `json:"entities"`
	Firings     []entities.AlertFiring `json:"firings"`
	Transitions []health.Transition    `json:"transitions,omitempty"`
	MetaAlerts  []history.MetaAlert    `json:"meta_alerts"`
}

func (m *Message) empty() bool {
	return len(m.Entities) == 0 && len(m.Firings) == 0 &&
		len(m.Transitions) == 0 && len(m.MetaAlerts) == 0
}
