// Package repository provides gorm-backed persistence for alert rules and
// firing history.
package repository

import (
	"context"
	"time"

	"github.com/homeops/opswatch/internal/datastore/entities"
	"github.com/homeops/opswatch/internal/errors"
)

var (
	// ErrAlertRuleNotFound is returned when a rule id does not exist.
	ErrAlertRuleNotFound = errors.NewStd("alert rule not found")
	// ErrFiringNotFound is returned when a firing id does not exist.
	ErrFiringNotFound = errors.NewStd("alert firing not found")
)

// AlertRuleRepository handles alert rule CRUD.
type AlertRuleRepository interface {
	ListRules(ctx context.Context, filter AlertRuleFilter) ([]entities.AlertRule, error)
	GetRule(ctx context.Context, id string) (*entities.AlertRule, error)
	// SaveRule inserts the rule or replaces it, channels included.
	SaveRule(ctx context.Context, rule *entities.AlertRule) error
	DeleteRule(ctx context.Context, id string) error
	ToggleRule(ctx context.Context, id string, enabled bool) error

	GetEnabledRules(ctx context.Context) ([]entities.AlertRule, error)
	CountRulesByName(ctx context.Context, name string) (int64, error)
}

// FiringRepository is the append-only firing history.
type FiringRepository interface {
	// AppendFiring stores the firing unless a firing with the same id exists.
	// The boolean reports whether a row was inserted.
	AppendFiring(ctx context.Context, firing *entities.AlertFiring) (bool, error)
	// AppendFirings stores a batch in one transaction and returns the number
	// of new rows. Already stored ids are skipped.
	AppendFirings(ctx context.Context, firings []entities.AlertFiring) (int, error)
	GetFiring(ctx context.Context, id string) (*entities.AlertFiring, error)
	QueryFirings(ctx context.Context, filter FiringFilter) ([]entities.AlertFiring, int64, error)
	DeleteFiringsBefore(ctx context.Context, before time.Time) (int64, error)
}

// AlertRuleFilter controls rule listing queries.
type AlertRuleFilter struct {
	Metric  string
	Enabled *bool
	BuiltIn *bool
}

// FiringFilter controls history queries. Zero values disable a criterion.
type FiringFilter struct {
	RuleID   string
	EntityID string
	From     time.Time
	To       time.Time
	Limit    int
	Offset   int
}
