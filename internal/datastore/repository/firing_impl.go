package repository

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/homeops/opswatch/internal/datastore/entities"
	"github.com/homeops/opswatch/internal/errors"
)

type firingRepository struct {
	db *gorm.DB
}

// NewFiringRepository creates a new FiringRepository.
func NewFiringRepository(db *gorm.DB) FiringRepository {
	return &firingRepository{db: db}
}

// insertFiring writes one firing with ON CONFLICT DO NOTHING and only adds
// outcome rows when the firing itself was new, so replays never duplicate.
func insertFiring(tx *gorm.DB, f *entities.AlertFiring) (bool, error) {
	if f.ID == "" {
		return false, fmt.Errorf("failed to append alert firing: missing firing ID")
	}
	result := tx.Omit(clause.Associations).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "id"}}, DoNothing: true}).
		Create(f)
	if result.Error != nil {
		return false, fmt.Errorf("failed to append alert firing %s: %w", f.ID, result.Error)
	}
	if result.RowsAffected == 0 {
		return false, nil
	}
	if len(f.Outcomes) == 0 {
		return true, nil
	}
	for i := range f.Outcomes {
		f.Outcomes[i].ID = 0
		f.Outcomes[i].FiringID = f.ID
	}
	if err := tx.Create(&f.Outcomes).Error; err != nil {
		return false, fmt.Errorf("failed to append outcomes of alert firing %s: %w", f.ID, err)
	}
	return true, nil
}

// AppendFiring stores a single firing.
func (r *firingRepository) AppendFiring(ctx context.Context, firing *entities.AlertFiring) (bool, error) {
	var inserted bool
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		inserted, err = insertFiring(tx, firing)
		return err
	})
	return inserted, err
}

// AppendFirings stores a batch of firings atomically.
func (r *firingRepository) AppendFirings(ctx context.Context, firings []entities.AlertFiring) (int, error) {
	if len(firings) == 0 {
		return 0, nil
	}
	var inserted int
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		inserted = 0
		for i := range firings {
			ok, err := insertFiring(tx, &firings[i])
			if err != nil {
				return err
			}
			if ok {
				inserted++
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return inserted, nil
}

func preloadOutcomes(db *gorm.DB) *gorm.DB {
	return db.Order("channel_index ASC")
}

// GetFiring returns one firing with its outcomes.
func (r *firingRepository) GetFiring(ctx context.Context, id string) (*entities.AlertFiring, error) {
	var f entities.AlertFiring
	err := r.db.WithContext(ctx).Preload("Outcomes", preloadOutcomes).Where("id = ?", id).First(&f).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrFiringNotFound
		}
		return nil, fmt.Errorf("failed to get alert firing %s: %w", id, err)
	}
	return &f, nil
}

func applyFiringFilter(query *gorm.DB, filter FiringFilter) *gorm.DB {
	if filter.RuleID != "" {
		query = query.Where("rule_id = ?", filter.RuleID)
	}
	if filter.EntityID != "" {
		query = query.Where("entity_id = ?", filter.EntityID)
	}
	if !filter.From.IsZero() {
		query = query.Where("fired_at >= ?", filter.From)
	}
	if !filter.To.IsZero() {
		query = query.Where("fired_at <= ?", filter.To)
	}
	return query
}

// QueryFirings returns firings newest first together with the total count
// matching the filter.
func (r *firingRepository) QueryFirings(ctx context.Context, filter FiringFilter) ([]entities.AlertFiring, int64, error) {
	var items []entities.AlertFiring
	var total int64

	countQuery := applyFiringFilter(r.db.WithContext(ctx).Model(&entities.AlertFiring{}), filter)
	if err := countQuery.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count alert firings: %w", err)
	}

	query := applyFiringFilter(r.db.WithContext(ctx).Preload("Outcomes", preloadOutcomes), filter).
		Order("fired_at DESC").Order("id DESC")
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		query = query.Offset(filter.Offset)
	}
	if err := query.Find(&items).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to query alert firings: %w", err)
	}
	return items, total, nil
}

// DeleteFiringsBefore deletes firings older than the given time.
func (r *firingRepository) DeleteFiringsBefore(ctx context.Context, before time.Time) (int64, error) {
	var deleted int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		old := tx.Model(&entities.AlertFiring{}).Select("id").Where("fired_at < ?", before)
		if err := tx.Where("firing_id IN (?)", old).Delete(&entities.DeliveryOutcome{}).Error; err != nil {
			return fmt.Errorf("failed to delete outcomes before %v: %w", before, err)
		}
		result := tx.Where("fired_at < ?", before).Delete(&entities.AlertFiring{})
		if result.Error != nil {
			return fmt.Errorf("failed to delete alert firings before %v: %w", before, result.Error)
		}
		deleted = result.RowsAffected
		return nil
	})
	return deleted, err
}
