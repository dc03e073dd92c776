package history

import (
	"context"
	"slices"
	"strings"
	"time"

	"github.com/homeops/opswatch/internal/datastore/entities"
	"github.com/homeops/opswatch/internal/datastore/repository"
	"github.com/homeops/opswatch/internal/errors"
	"github.com/homeops/opswatch/internal/logger"
)

// Query limits.
const (
	DefaultLimit = 50
	MaxLimit     = 200
)

// Filter selects firings. Zero values match everything.
type Filter struct {
	RuleID   string
	EntityID string
	From     time.Time
	To       time.Time
	Limit    int
	Offset   int
}

// Page is one page of history, newest first. Partial is set when the
// database could not be read and only in-memory firings are included.
type Page struct {
	Firings []entities.AlertFiring `json:"firings"`
	Total   int64                  `json:"total"`
	Limit   int                    `json:"limit"`
	Offset  int                    `json:"offset"`
	Partial bool                   `json:"partial,omitempty"`
}

func (f Filter) normalized() Filter {
	if f.Limit <= 0 {
		f.Limit = DefaultLimit
	}
	f.Limit = min(f.Limit, MaxLimit)
	f.Offset = max(f.Offset, 0)
	return f
}

func (f Filter) validate() error {
	if !f.From.IsZero() && !f.To.IsZero() && f.From.After(f.To) {
		return errors.Newf("from must not be after to").
			Component("history").
			Category(errors.CategoryValidation).
			Context("field", "from").
			Build()
	}
	return nil
}

func (f Filter) matches(firing *entities.AlertFiring) bool {
	if f.RuleID != "" && firing.RuleID != f.RuleID {
		return false
	}
	if f.EntityID != "" && firing.EntityID != f.EntityID {
		return false
	}
	if !f.From.IsZero() && firing.FiredAt.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && firing.FiredAt.After(f.To) {
		return false
	}
	return true
}

// Query returns firings matching filter. Firings not yet written, whether
// queued or held during an outage, are merged with stored ones.
func (s *Store) Query(ctx context.Context, filter Filter) (Page, error) {
	filter = filter.normalized()
	if err := filter.validate(); err != nil {
		return Page{}, err
	}

	var held []entities.AlertFiring
	for _, f := range s.Unwritten() {
		if filter.matches(&f) {
			held = append(held, f)
		}
	}

	rows, total, err := s.repo.QueryFirings(ctx, repository.FiringFilter{
		RuleID:   filter.RuleID,
		EntityID: filter.EntityID,
		From:     filter.From,
		To:       filter.To,
		Limit:    filter.Offset + filter.Limit,
	})
	partial := false
	if err != nil {
		if len(held) == 0 && !s.InOutage() {
			return Page{}, errors.New(err).
				Component("history").
				Category(errors.CategoryDatabase).
				Build()
		}
		s.log.Warn("history query served from memory", logger.Error(err))
		rows, total, partial = nil, 0, true
	}

	merged := mergeNewestFirst(rows, held)
	// Held firings already written are counted by the database too.
	dupes := (len(rows) + len(held)) - len(merged)
	total += int64(len(held) - dupes)

	page := Page{Total: total, Limit: filter.Limit, Offset: filter.Offset, Partial: partial}
	if filter.Offset < len(merged) {
		end := min(filter.Offset+filter.Limit, len(merged))
		page.Firings = merged[filter.Offset:end]
	}
	if page.Firings == nil {
		page.Firings = []entities.AlertFiring{}
	}
	return page, nil
}

func mergeNewestFirst(rows, held []entities.AlertFiring) []entities.AlertFiring {
	out := make([]entities.AlertFiring, 0, len(rows)+len(held))
	seen := make(map[string]struct{}, len(rows)+len(held))
	for _, group := range [][]entities.AlertFiring{rows, held} {
		for _, f := range group {
			if _, ok := seen[f.ID]; ok {
				continue
			}
			seen[f.ID] = struct{}{}
			out = append(out, f)
		}
	}
	slices.SortStableFunc(out, func(a, b entities.AlertFiring) int {
		if c := b.FiredAt.Compare(a.FiredAt); c != 0 {
			return c
		}
		return strings.Compare(b.ID, a.ID)
	})
	return out
}
