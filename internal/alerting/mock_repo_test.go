package alerting

import (
	"cmp"
	"context"
	"slices"
	"sync"

	"github.com/homeops/opswatch/internal/datastore/entities"
	"github.com/homeops/opswatch/internal/datastore/repository"
	"github.com/homeops/opswatch/internal/health"
	"github.com/homeops/opswatch/internal/logger"
	"github.com/homeops/opswatch/internal/runtime"
	"github.com/homeops/opswatch/internal/sampler"
)

// mockRuleRepo is a minimal in-memory AlertRuleRepository.
type mockRuleRepo struct {
	mu    sync.Mutex
	rules []entities.AlertRule
	err   error
}

func newMockRepo(rules ...entities.AlertRule) *mockRuleRepo {
	return &mockRuleRepo{rules: rules}
}

func (m *mockRuleRepo) ListRules(_ context.Context, _ repository.AlertRuleFilter) ([]entities.AlertRule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.rules), m.err
}

func (m *mockRuleRepo) GetRule(_ context.Context, id string) (*entities.AlertRule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.rules {
		if m.rules[i].ID == id {
			r := m.rules[i].Clone()
			return &r, nil
		}
	}
	return nil, repository.ErrAlertRuleNotFound
}

func (m *mockRuleRepo) SaveRule(_ context.Context, rule *entities.AlertRule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.rules {
		if m.rules[i].ID == rule.ID {
			m.rules[i] = rule.Clone()
			return nil
		}
	}
	m.rules = append(m.rules, rule.Clone())
	slices.SortFunc(m.rules, func(a, b entities.AlertRule) int { return cmp.Compare(a.Name, b.Name) })
	return nil
}

func (m *mockRuleRepo) DeleteRule(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rules = slices.DeleteFunc(m.rules, func(r entities.AlertRule) bool { return r.ID == id })
	return nil
}

func (m *mockRuleRepo) ToggleRule(_ context.Context, id string, enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.rules {
		if m.rules[i].ID == id {
			m.rules[i].Enabled = enabled
			return nil
		}
	}
	return repository.ErrAlertRuleNotFound
}

func (m *mockRuleRepo) GetEnabledRules(_ context.Context) ([]entities.AlertRule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	var out []entities.AlertRule
	for i := range m.rules {
		if m.rules[i].Enabled {
			out = append(out, m.rules[i].Clone())
		}
	}
	return out, nil
}

func (m *mockRuleRepo) CountRulesByName(_ context.Context, name string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for i := range m.rules {
		if m.rules[i].Name == name {
			n++
		}
	}
	return n, nil
}

func (m *mockRuleRepo) byName(name string) (entities.AlertRule, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.rules {
		if m.rules[i].Name == name {
			return m.rules[i].Clone(), true
		}
	}
	return entities.AlertRule{}, false
}

func testLogger() logger.Logger {
	return logger.NewNop()
}

func cooldown(v int) *int { return &v }

func cpuRule(id string, threshold float64, cooldownMin int) entities.AlertRule {
	return entities.AlertRule{
		ID:          id,
		Name:        "cpu " + id,
		Metric:      runtime.MetricCPUPercent,
		Operator:    OperatorGreaterThan,
		Threshold:   threshold,
		Priority:    PriorityHigh,
		CooldownMin: cooldown(cooldownMin),
		Enabled:     true,
	}
}

func cpuTarget(id string, cpu float64) Target {
	return Target{
		EntityID:   id,
		EntityName: id,
		State:      health.StateRunningHealthy,
		Sample: &sampler.MetricSample{
			EntityID: id,
			Running:  true,
			Values:   map[string]float64{runtime.MetricCPUPercent: cpu},
		},
	}
}
