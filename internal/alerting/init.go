package alerting

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/homeops/opswatch/internal/conf"
	"github.com/homeops/opswatch/internal/datastore/entities"
	"github.com/homeops/opswatch/internal/datastore/repository"
	"github.com/homeops/opswatch/internal/errors"
	"github.com/homeops/opswatch/internal/logger"
	"github.com/homeops/opswatch/internal/observability"
)

// Initialize seeds rules, disables stored rules that no longer validate and
// returns an engine with its rule snapshot loaded.
func Initialize(
	ctx context.Context,
	repo repository.AlertRuleRepository,
	cfg conf.AlertingSettings,
	log logger.Logger,
	metrics *observability.Metrics,
) (*Engine, error) {
	log = log.Module("alerting")

	if cfg.SeedDefaults {
		if err := seedRules(ctx, repo, DefaultRules(), log); err != nil {
			return nil, err
		}
	}

	if cfg.RulesFile != "" {
		rules, err := LoadRulesFile(cfg.RulesFile)
		if err != nil {
			return nil, err
		}
		if err := seedRules(ctx, repo, rules, log); err != nil {
			return nil, err
		}
	}

	if err := disableInvalidRules(ctx, repo, log); err != nil {
		return nil, err
	}

	engine := NewEngine(repo, cfg.DefaultCooldown(), log, metrics)
	if err := engine.RefreshRules(ctx); err != nil {
		return nil, err
	}

	log.Info("alerting engine initialized",
		logger.Int("rules_loaded", len(engine.Rules())))

	return engine, nil
}

// seedRules creates the rules whose names do not exist yet, so partial seeds
// from earlier runs self-heal on restart. Invalid rules are stored disabled.
func seedRules(ctx context.Context, repo repository.AlertRuleRepository, rules []entities.AlertRule, log logger.Logger) error {
	var created int
	for i := range rules {
		rule := rules[i].Clone()
		n, err := repo.CountRulesByName(ctx, rule.Name)
		if err != nil {
			return err
		}
		if n > 0 {
			continue
		}
		Normalize(&rule)
		if err := ValidateRule(&rule); err != nil {
			log.Warn("seeded alert rule is invalid, storing it disabled",
				logger.String("rule_name", rule.Name),
				logger.Error(err))
			rule.Enabled = false
		}
		if err := repo.SaveRule(ctx, &rule); err != nil {
			return err
		}
		created++
	}
	if created > 0 {
		log.Info("seeded alert rules", logger.Int("created", created))
	}
	return nil
}

func disableInvalidRules(ctx context.Context, repo repository.AlertRuleRepository, log logger.Logger) error {
	rules, err := repo.GetEnabledRules(ctx)
	if err != nil {
		return err
	}
	for i := range rules {
		verr := ValidateRule(&rules[i])
		if verr == nil {
			continue
		}
		log.Warn("disabling invalid alert rule",
			logger.String("rule_id", rules[i].ID),
			logger.String("rule_name", rules[i].Name),
			logger.Error(verr))
		if err := repo.ToggleRule(ctx, rules[i].ID, false); err != nil {
			return err
		}
	}
	return nil
}

// rulesFile is the YAML layout of a rules seed file.
type rulesFile struct {
	Rules []fileRule `yaml:"rules"`
}

type fileRule struct {
	ID          string        `yaml:"id"`
	Name        string        `yaml:"name"`
	Description string        `yaml:"description"`
	Metric      string        `yaml:"metric"`
	Operator    string        `yaml:"operator"`
	Threshold   float64       `yaml:"threshold"`
	State       string        `yaml:"state"`
	Priority    string        `yaml:"priority"`
	CooldownMin *int          `yaml:"cooldown_min"`
	Enabled     *bool         `yaml:"enabled"`
	EntityID    string        `yaml:"entity_id"`
	Channels    []fileChannel `yaml:"channels"`
}

type fileChannel struct {
	Type    string            `yaml:"type"`
	Enabled *bool             `yaml:"enabled"`
	Address string            `yaml:"address"`
	URL     string            `yaml:"url"`
	Headers map[string]string `yaml:"headers"`
}

// LoadRulesFile reads rules from a YAML file. Rules and channels are enabled
// unless the file says otherwise. The rules are normalized but not
// validated.
func LoadRulesFile(path string) ([]entities.AlertRule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Newf("failed to read rules file: %w", err).
			Component("alerting").
			Category(errors.CategoryConfiguration).
			Context("path", path).
			Build()
	}
	return ParseRules(data)
}

// ParseRules decodes a YAML rules document.
func ParseRules(data []byte) ([]entities.AlertRule, error) {
	var doc rulesFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, errors.Newf("failed to parse rules file: %w", err).
			Component("alerting").
			Category(errors.CategoryConfiguration).
			Build()
	}

	rules := make([]entities.AlertRule, 0, len(doc.Rules))
	for i := range doc.Rules {
		fr := &doc.Rules[i]
		rule := entities.AlertRule{
			ID:            fr.ID,
			Name:          fr.Name,
			Description:   fr.Description,
			Metric:        fr.Metric,
			Operator:      fr.Operator,
			Threshold:     fr.Threshold,
			ThresholdText: fr.State,
			Priority:      fr.Priority,
			CooldownMin:   fr.CooldownMin,
			Enabled:       fr.Enabled == nil || *fr.Enabled,
			EntityID:      fr.EntityID,
		}
		for _, fc := range fr.Channels {
			rule.Channels = append(rule.Channels, entities.NotificationChannel{
				Type:    fc.Type,
				Enabled: fc.Enabled == nil || *fc.Enabled,
				Address: fc.Address,
				URL:     fc.URL,
				Headers: fc.Headers,
			})
		}
		Normalize(&rule)
		rules = append(rules, rule)
	}
	return rules, nil
}

// ValidateRules validates every rule and reports all failures, keyed by
// position and name.
func ValidateRules(rules []entities.AlertRule) error {
	var errs []error
	seen := make(map[string]int, len(rules))
	for i := range rules {
		if err := ValidateRule(&rules[i]); err != nil {
			errs = append(errs, fmt.Errorf("rule %d (%q): %w", i+1, rules[i].Name, err))
			continue
		}
		if prev, dup := seen[rules[i].Name]; dup {
			errs = append(errs, fmt.Errorf("rule %d (%q): duplicate name, first defined as rule %d", i+1, rules[i].Name, prev))
			continue
		}
		seen[rules[i].Name] = i + 1
	}
	return errors.Join(errs...)
}
