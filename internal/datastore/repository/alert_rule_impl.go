package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/homeops/opswatch/internal/datastore/entities"
	"github.com/homeops/opswatch/internal/errors"
)

// alertRuleRepository implements AlertRuleRepository.
type alertRuleRepository struct {
	db *gorm.DB
}

// NewAlertRuleRepository creates a new AlertRuleRepository.
func NewAlertRuleRepository(db *gorm.DB) AlertRuleRepository {
	return &alertRuleRepository{db: db}
}

func preloadChannels(db *gorm.DB) *gorm.DB {
	return db.Order("sort_order ASC, id ASC")
}

// ListRules returns alert rules matching the given filter ordered by name.
func (r *alertRuleRepository) ListRules(ctx context.Context, filter AlertRuleFilter) ([]entities.AlertRule, error) {
	var rules []entities.AlertRule
	query := r.db.WithContext(ctx).Preload("Channels", preloadChannels)

	if filter.Metric != "" {
		query = query.Where("metric = ?", filter.Metric)
	}
	if filter.Enabled != nil {
		query = query.Where("enabled = ?", *filter.Enabled)
	}
	if filter.BuiltIn != nil {
		query = query.Where("built_in = ?", *filter.BuiltIn)
	}

	if err := query.Order("name ASC").Find(&rules).Error; err != nil {
		return nil, fmt.Errorf("failed to list alert rules: %w", err)
	}
	return rules, nil
}

// GetRule returns a single alert rule with its channels.
// Returns ErrAlertRuleNotFound if the rule does not exist.
func (r *alertRuleRepository) GetRule(ctx context.Context, id string) (*entities.AlertRule, error) {
	var rule entities.AlertRule
	err := r.db.WithContext(ctx).Preload("Channels", preloadChannels).Where("id = ?", id).First(&rule).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAlertRuleNotFound
		}
		return nil, fmt.Errorf("failed to get alert rule %s: %w", id, err)
	}
	return &rule, nil
}

// SaveRule upserts a rule, deleting existing channels first.
func (r *alertRuleRepository) SaveRule(ctx context.Context, rule *entities.AlertRule) error {
	if rule.ID == "" {
		return fmt.Errorf("failed to save alert rule: missing rule ID")
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("rule_id = ?", rule.ID).Delete(&entities.NotificationChannel{}).Error; err != nil {
			return fmt.Errorf("failed to delete old channels: %w", err)
		}
		// Zero out IDs so GORM inserts new rows instead of trying to update deleted ones
		for i := range rule.Channels {
			rule.Channels[i].ID = 0
			rule.Channels[i].RuleID = rule.ID
			rule.Channels[i].SortOrder = i
		}
		if err := tx.Save(rule).Error; err != nil {
			return fmt.Errorf("failed to save alert rule: %w", err)
		}
		return nil
	})
}

// DeleteRule deletes an alert rule and its channels.
func (r *alertRuleRepository) DeleteRule(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// explicit child delete; sqlite only cascades with foreign_keys=ON
		if err := tx.Where("rule_id = ?", id).Delete(&entities.NotificationChannel{}).Error; err != nil {
			return fmt.Errorf("failed to delete channels of alert rule %s: %w", id, err)
		}
		result := tx.Where("id = ?", id).Delete(&entities.AlertRule{})
		if result.Error != nil {
			return fmt.Errorf("failed to delete alert rule %s: %w", id, result.Error)
		}
		if result.RowsAffected == 0 {
			return ErrAlertRuleNotFound
		}
		return nil
	})
}

// ToggleRule enables or disables an alert rule.
func (r *alertRuleRepository) ToggleRule(ctx context.Context, id string, enabled bool) error {
	result := r.db.WithContext(ctx).Model(&entities.AlertRule{}).Where("id = ?", id).Update("enabled", enabled)
	if result.Error != nil {
		return fmt.Errorf("failed to toggle alert rule %s: %w", id, result.Error)
	}
	if result.RowsAffected > 0 {
		return nil
	}
	// MySQL reports zero affected rows when the value is unchanged
	var count int64
	if err := r.db.WithContext(ctx).Model(&entities.AlertRule{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return fmt.Errorf("failed to toggle alert rule %s: %w", id, err)
	}
	if count == 0 {
		return ErrAlertRuleNotFound
	}
	return nil
}

// GetEnabledRules returns all enabled alert rules with their channels.
func (r *alertRuleRepository) GetEnabledRules(ctx context.Context) ([]entities.AlertRule, error) {
	enabled := true
	return r.ListRules(ctx, AlertRuleFilter{Enabled: &enabled})
}

// CountRulesByName returns the number of rules with the given name.
func (r *alertRuleRepository) CountRulesByName(ctx context.Context, name string) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&entities.AlertRule{}).Where("name = ?", name).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("failed to count rules by name: %w", err)
	}
	return count, nil
}
