package alerting

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/homeops/opswatch/internal/datastore/entities"
	"github.com/homeops/opswatch/internal/datastore/repository"
	"github.com/homeops/opswatch/internal/health"
	"github.com/homeops/opswatch/internal/logger"
	"github.com/homeops/opswatch/internal/observability"
	"github.com/homeops/opswatch/internal/sampler"
)

// Target is one entity as seen by the evaluator on a tick.
type Target struct {
	EntityID   string
	EntityName string
	Stale      bool
	// Sample is nil when the entity produced no sample this tick.
	Sample *sampler.MetricSample
	State  health.State
}

// Engine evaluates the cached rule snapshot against each tick.
type Engine struct {
	repo            repository.AlertRuleRepository
	cooldowns       *CooldownTracker
	defaultCooldown time.Duration
	log             logger.Logger
	metrics         *observability.Metrics
	now             func() time.Time

	rules   []entities.AlertRule
	rulesMu sync.RWMutex
}

// NewEngine creates a rule engine. Call RefreshRules before the first tick.
func NewEngine(repo repository.AlertRuleRepository, defaultCooldown time.Duration, log logger.Logger, metrics *observability.Metrics) *Engine {
	return &Engine{
		repo:            repo,
		cooldowns:       NewCooldownTracker(),
		defaultCooldown: defaultCooldown,
		log:             log.Module("alerting"),
		metrics:         metrics,
		now:             time.Now,
	}
}

// SetClock replaces the time source used for cooldowns and firing times.
func (e *Engine) SetClock(now func() time.Time) { e.now = now }

// RefreshRules reloads enabled rules from the store. Rules that fail
// validation are skipped and logged. Call this whenever rules change.
func (e *Engine) RefreshRules(ctx context.Context) error {
	rules, err := e.repo.GetEnabledRules(ctx)
	if err != nil {
		return err
	}

	valid := make([]entities.AlertRule, 0, len(rules))
	for i := range rules {
		if err := ValidateRule(&rules[i]); err != nil {
			e.log.Warn("skipping invalid alert rule",
				logger.String("rule_id", rules[i].ID),
				logger.String("rule_name", rules[i].Name),
				logger.Error(err))
			continue
		}
		valid = append(valid, rules[i].Clone())
	}

	e.rulesMu.Lock()
	e.rules = valid
	e.rulesMu.Unlock()
	return nil
}

// Rules returns a copy of the active rule snapshot.
func (e *Engine) Rules() []entities.AlertRule {
	e.rulesMu.RLock()
	defer e.rulesMu.RUnlock()
	out := make([]entities.AlertRule, len(e.rules))
	for i := range e.rules {
		out[i] = e.rules[i].Clone()
	}
	return out
}

// Evaluate checks every enabled rule against every non-stale target and
// returns the firings that passed their cooldown. The cooldown timestamp is
// set before the firing is returned.
func (e *Engine) Evaluate(ctx context.Context, targets []Target) []Firing {
	e.rulesMu.RLock()
	rules := e.rules
	e.rulesMu.RUnlock()

	now := e.now()
	var firings []Firing
	for i := range rules {
		if ctx.Err() != nil {
			break
		}
		rule := &rules[i]
		if !rule.Enabled {
			continue
		}
		cooldown := rule.Cooldown(e.defaultCooldown)

		for j := range targets {
			t := &targets[j]
			if t.Stale || (rule.EntityID != "" && rule.EntityID != t.EntityID) {
				continue
			}
			value, text, ok := Matches(rule, t)
			if !ok {
				continue
			}
			if !e.cooldowns.TryFire(rule.ID, t.EntityID, cooldown, now) {
				e.metrics.RuleSuppressedByCooldown()
				continue
			}
			e.metrics.RuleFired(rule.Priority)
			firings = append(firings, Firing{
				ID:         uuid.New().String(),
				Rule:       rule.Clone(),
				EntityID:   t.EntityID,
				EntityName: t.EntityName,
				Value:      value,
				ValueText:  text,
				At:         now,
			})
		}
	}
	return firings
}

// Matches resolves the rule metric for a target and applies the operator.
// A missing metric never matches.
func Matches(rule *entities.AlertRule, t *Target) (value float64, text string, ok bool) {
	if rule.Metric == MetricContainerStatus {
		state := string(t.State)
		if state == "" {
			return 0, "", false
		}
		return 0, state, CompareText(rule.Operator, state, rule.ThresholdText)
	}
	if t.Sample == nil {
		return 0, "", false
	}
	v, present := t.Sample.Value(rule.Metric)
	if !present {
		return 0, "", false
	}
	return v, "", Compare(rule.Operator, v, rule.Threshold)
}

// TestFireRule builds a firing for the rule and target, bypassing the
// condition and the cooldown.
func (e *Engine) TestFireRule(rule *entities.AlertRule, t Target) Firing {
	f := Firing{
		ID:         uuid.New().String(),
		Rule:       rule.Clone(),
		EntityID:   t.EntityID,
		EntityName: t.EntityName,
		At:         e.now(),
		Test:       true,
	}
	if rule.Metric == MetricContainerStatus {
		f.ValueText = string(t.State)
		if f.ValueText == "" {
			f.ValueText = rule.ThresholdText
		}
	} else if t.Sample != nil {
		if v, ok := t.Sample.Value(rule.Metric); ok {
			f.Value = v
		}
	}
	return f
}

// ForgetRule drops cooldown state of a deleted rule. Disabled rules keep
// theirs.
func (e *Engine) ForgetRule(ruleID string) {
	e.cooldowns.Forget(ruleID)
}

// LongestCooldown returns the longest cooldown among active rules, or the
// default when it is longer.
func (e *Engine) LongestCooldown() time.Duration {
	e.rulesMu.RLock()
	defer e.rulesMu.RUnlock()
	longest := e.defaultCooldown
	for i := range e.rules {
		longest = max(longest, e.rules[i].Cooldown(e.defaultCooldown))
	}
	return longest
}

// RestoreCooldowns seeds the tracker from stored firings so a restart does
// not re-notify inside a running cooldown. Test firings never started one
// and are ignored. It returns the number of pairs restored.
func (e *Engine) RestoreCooldowns(firings []entities.AlertFiring) int {
	n := 0
	for i := range firings {
		f := &firings[i]
		if f.Test || f.RuleID == "" || f.EntityID == "" {
			continue
		}
		if e.cooldowns.Restore(f.RuleID, f.EntityID, f.FiredAt) {
			n++
		}
	}
	return n
}

// Cooldowns exposes the cooldown tracker.
func (e *Engine) Cooldowns() *CooldownTracker {
	return e.cooldowns
}

// HasRule reports whether the active snapshot contains the rule.
func (e *Engine) HasRule(id string) bool {
	e.rulesMu.RLock()
	defer e.rulesMu.RUnlock()
	return slices.ContainsFunc(e.rules, func(r entities.AlertRule) bool { return r.ID == id })
}
