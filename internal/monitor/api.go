package monitor

import (
	"context"
	"time"

	"github.com/homeops/opswatch/internal/alerting"
	"github.com/homeops/opswatch/internal/datastore/entities"
	"github.com/homeops/opswatch/internal/datastore/repository"
	"github.com/homeops/opswatch/internal/errors"
	"github.com/homeops/opswatch/internal/history"
	"github.com/homeops/opswatch/internal/logger"
	"github.com/homeops/opswatch/internal/stream"
)

// Status is the engine health reported by /health.
type Status struct {
	Status      string              `json:"status"`
	Entities    map[string]int      `json:"entities"`
	MetaAlerts  []history.MetaAlert `json:"meta_alerts"`
	Rules       int                 `json:"rules_active"`
	Subscribers int                 `json:"stream_subscribers"`
}

// Subscribe opens a stream subscription. intervalMs 0 selects the
// configured default.
func (m *Monitor) Subscribe(intervalMs int) (*stream.Subscription, error) {
	if intervalMs == 0 {
		intervalMs = m.cfg.Stream.DefaultIntervalMs
	}
	return m.publisher.Subscribe(time.Duration(intervalMs) * time.Millisecond)
}

// GetCurrentSnapshot returns the full current state.
func (m *Monitor) GetCurrentSnapshot() stream.Message {
	return m.publisher.Snapshot()
}

// Status reports healthy unless a meta-alert is active.
func (m *Monitor) Status() Status {
	active := m.meta.Active()
	st := Status{
		Status:      stream.StatusHealthy,
		Entities:    m.classifier.Counts(),
		MetaAlerts:  active,
		Rules:       len(m.engine.Rules()),
		Subscribers: m.publisher.Subscribers(),
	}
	if len(active) > 0 {
		st.Status = stream.StatusDegraded
	}
	return st
}

// TestChannel sends a test message through one channel.
func (m *Monitor) TestChannel(ctx context.Context, ch entities.NotificationChannel) (entities.DeliveryOutcome, error) {
	alerting.NormalizeChannel(&ch)
	if err := alerting.ValidateChannel(&ch); err != nil {
		return entities.DeliveryOutcome{}, err
	}
	return m.router.TestChannel(ctx, ch), nil
}

// ConfigureRule validates and stores a rule, creating it when the id is
// new. The change applies from the next tick.
func (m *Monitor) ConfigureRule(ctx context.Context, rule entities.AlertRule) (entities.AlertRule, error) {
	alerting.Normalize(&rule)
	if err := alerting.ValidateRule(&rule); err != nil {
		return entities.AlertRule{}, err
	}

	existing, err := m.rules.GetRule(ctx, rule.ID)
	switch {
	case err == nil:
		rule.CreatedAt = existing.CreatedAt
		rule.BuiltIn = existing.BuiltIn
		if existing.Name != rule.Name {
			if err := m.checkNameFree(ctx, rule.Name); err != nil {
				return entities.AlertRule{}, err
			}
		}
	case errors.Is(err, repository.ErrAlertRuleNotFound):
		if err := m.checkNameFree(ctx, rule.Name); err != nil {
			return entities.AlertRule{}, err
		}
	default:
		return entities.AlertRule{}, dbError(err, "get_rule")
	}

	if err := m.rules.SaveRule(ctx, &rule); err != nil {
		return entities.AlertRule{}, dbError(err, "save_rule")
	}
	m.refreshRules(ctx)

	m.log.Info("alert rule saved",
		logger.String("rule_id", rule.ID),
		logger.String("name", rule.Name),
		logger.Bool("enabled", rule.Enabled))

	saved, err := m.rules.GetRule(ctx, rule.ID)
	if err != nil {
		return rule, nil //nolint:nilerr // rule is stored
	}
	return *saved, nil
}

func (m *Monitor) checkNameFree(ctx context.Context, name string) error {
	n, err := m.rules.CountRulesByName(ctx, name)
	if err != nil {
		return dbError(err, "count_rules")
	}
	if n > 0 {
		return errors.Newf("a rule named %q already exists", name).
			Component("monitor").
			Category(errors.CategoryConflict).
			Context("field", "name").
			Build()
	}
	return nil
}

// DeleteRule removes a rule and its cooldown state. History is kept.
func (m *Monitor) DeleteRule(ctx context.Context, id string) error {
	if err := m.rules.DeleteRule(ctx, id); err != nil {
		return ruleError(err, id, "delete_rule")
	}
	m.engine.ForgetRule(id)
	m.refreshRules(ctx)
	m.log.Info("alert rule deleted", logger.String("rule_id", id))
	return nil
}

// ListRules returns stored rules matching filter.
func (m *Monitor) ListRules(ctx context.Context, filter repository.AlertRuleFilter) ([]entities.AlertRule, error) {
	rules, err := m.rules.ListRules(ctx, filter)
	if err != nil {
		return nil, dbError(err, "list_rules")
	}
	return rules, nil
}

// GetRule returns one rule.
func (m *Monitor) GetRule(ctx context.Context, id string) (entities.AlertRule, error) {
	rule, err := m.rules.GetRule(ctx, id)
	if err != nil {
		return entities.AlertRule{}, ruleError(err, id, "get_rule")
	}
	return *rule, nil
}

// ToggleRule enables or disables a rule. A disabled rule keeps its
// cooldown state, so re-enabling it does not fire early.
func (m *Monitor) ToggleRule(ctx context.Context, id string, enabled bool) (entities.AlertRule, error) {
	if enabled {
		rule, err := m.rules.GetRule(ctx, id)
		if err != nil {
			return entities.AlertRule{}, ruleError(err, id, "get_rule")
		}
		if err := alerting.ValidateRule(rule); err != nil {
			return entities.AlertRule{}, err
		}
	}
	if err := m.rules.ToggleRule(ctx, id, enabled); err != nil {
		return entities.AlertRule{}, ruleError(err, id, "toggle_rule")
	}
	m.refreshRules(ctx)
	m.log.Info("alert rule toggled", logger.String("rule_id", id), logger.Bool("enabled", enabled))
	return m.GetRule(ctx, id)
}

// QueryHistory pages through recorded firings.
func (m *Monitor) QueryHistory(ctx context.Context, filter history.Filter) (history.Page, error) {
	return m.history.Query(ctx, filter)
}

// TestRule fires the rule once for entityID, ignoring its condition and
// cooldown, and waits for delivery. An empty entityID uses the rule's
// entity filter or a placeholder entity.
func (m *Monitor) TestRule(ctx context.Context, id, entityID string) (entities.AlertFiring, error) {
	rule, err := m.rules.GetRule(ctx, id)
	if err != nil {
		return entities.AlertFiring{}, ruleError(err, id, "get_rule")
	}
	if entityID == "" {
		entityID = rule.EntityID
	}

	target := alerting.Target{EntityID: entityID, EntityName: entityID, State: m.classifier.State(entityID)}
	if entityID == "" {
		target.EntityID, target.EntityName = "test-entity", "Test entity"
	}
	if e, ok := m.sampler.Entity(entityID); ok {
		target.EntityName = e.Name
		if latest, ok := m.sampler.Latest(entityID); ok {
			target.Sample = &latest
		}
	}

	f := m.engine.TestFireRule(rule, target)
	return m.deliver(ctx, &f), nil
}

// Recent returns the newest firings known to this process.
func (m *Monitor) Recent(n int) []entities.AlertFiring {
	return m.history.Recent(n)
}

func (m *Monitor) refreshRules(ctx context.Context) {
	if err := m.engine.RefreshRules(ctx); err != nil {
		// The previous snapshot stays active until the next change.
		m.log.Error("failed to reload alert rules", logger.Error(err))
	}
}

func ruleError(err error, id, op string) error {
	if errors.Is(err, repository.ErrAlertRuleNotFound) {
		return errors.New(err).
			Component("monitor").
			Category(errors.CategoryNotFound).
			Context("rule_id", id).
			Build()
	}
	return dbError(err, op)
}

func dbError(err error, op string) error {
	return errors.New(err).
		Component("monitor").
		Category(errors.CategoryDatabase).
		Context("operation", op).
		Build()
}
