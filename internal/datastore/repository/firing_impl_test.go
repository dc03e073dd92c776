package repository

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/homeops/opswatch/internal/datastore/entities"
)

func testFiring(id, ruleID string, firedAt time.Time) entities.AlertFiring {
	return entities.AlertFiring{
		ID:       id,
		RuleID:   ruleID,
		RuleName: "rule " + ruleID,
		EntityID: "c-web",
		Metric:   "cpu_percent",
		Operator: ">",
		Value:    91,
		Priority: "high",
		Status:   entities.FiringDegraded,
		FiredAt:  firedAt,
		Outcomes: []entities.DeliveryOutcome{
			{ChannelIndex: 0, ChannelType: entities.ChannelEmail, Outcome: entities.OutcomeSent, Attempts: 1},
			{ChannelIndex: 1, ChannelType: entities.ChannelChatWebhook, Outcome: entities.OutcomeFailed, Error: "HTTP 502", Attempts: 2},
		},
	}
}

func TestFiringRepository_AppendAndGet(t *testing.T) {
	db := setupTestDB(t)
	repo := NewFiringRepository(db)
	ctx := t.Context()

	now := time.Now().UTC().Truncate(time.Second)
	f := testFiring("f-1", "r-1", now)

	inserted, err := repo.AppendFiring(ctx, &f)
	require.NoError(t, err)
	assert.True(t, inserted)

	got, err := repo.GetFiring(ctx, "f-1")
	require.NoError(t, err)
	assert.Equal(t, "r-1", got.RuleID)
	assert.Equal(t, entities.FiringDegraded, got.Status)
	assert.True(t, now.Equal(got.FiredAt))
	require.Len(t, got.Outcomes, 2)
	assert.Equal(t, entities.OutcomeSent, got.Outcomes[0].Outcome)
	assert.Equal(t, "HTTP 502", got.Outcomes[1].Error)
	assert.Equal(t, 2, got.Outcomes[1].Attempts)
}

func TestFiringRepository_AppendIsIdempotent(t *testing.T) {
	db := setupTestDB(t)
	repo := NewFiringRepository(db)
	ctx := t.Context()

	f := testFiring("f-1", "r-1", time.Now())
	inserted, err := repo.AppendFiring(ctx, &f)
	require.NoError(t, err)
	require.True(t, inserted)

	replay := testFiring("f-1", "r-1", time.Now())
	inserted, err = repo.AppendFiring(ctx, &replay)
	require.NoError(t, err)
	assert.False(t, inserted, "replay with the same id must not insert")

	var firings, outcomes int64
	require.NoError(t, db.Model(&entities.AlertFiring{}).Count(&firings).Error)
	require.NoError(t, db.Model(&entities.DeliveryOutcome{}).Count(&outcomes).Error)
	assert.Equal(t, int64(1), firings)
	assert.Equal(t, int64(2), outcomes, "outcomes must not be duplicated by a replay")
}

func TestFiringRepository_AppendFiringsBatch(t *testing.T) {
	db := setupTestDB(t)
	repo := NewFiringRepository(db)
	ctx := t.Context()

	base := time.Now().Add(-time.Hour)
	first := testFiring("f-1", "r-1", base)
	_, err := repo.AppendFiring(ctx, &first)
	require.NoError(t, err)

	batch := []entities.AlertFiring{
		testFiring("f-1", "r-1", base),
		testFiring("f-2", "r-1", base.Add(time.Minute)),
		testFiring("f-3", "r-2", base.Add(2*time.Minute)),
	}
	n, err := repo.AppendFirings(ctx, batch)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = repo.AppendFirings(ctx, nil)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestFiringRepository_MissingID(t *testing.T) {
	db := setupTestDB(t)
	repo := NewFiringRepository(db)

	f := testFiring("", "r-1", time.Now())
	_, err := repo.AppendFiring(t.Context(), &f)
	require.Error(t, err)
}

func TestFiringRepository_QueryFirings(t *testing.T) {
	db := setupTestDB(t)
	repo := NewFiringRepository(db)
	ctx := t.Context()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	var batch []entities.AlertFiring
	for i := range 10 {
		rule := "r-1"
		if i%2 == 1 {
			rule = "r-2"
		}
		batch = append(batch, testFiring(fmt.Sprintf("f-%02d", i), rule, base.Add(time.Duration(i)*time.Minute)))
	}
	_, err := repo.AppendFirings(ctx, batch)
	require.NoError(t, err)

	t.Run("newest first with total", func(t *testing.T) {
		items, total, err := repo.QueryFirings(ctx, FiringFilter{Limit: 3})
		require.NoError(t, err)
		assert.Equal(t, int64(10), total)
		require.Len(t, items, 3)
		assert.Equal(t, "f-09", items[0].ID)
		assert.Equal(t, "f-08", items[1].ID)
		assert.Len(t, items[0].Outcomes, 2)
	})

	t.Run("pagination", func(t *testing.T) {
		items, _, err := repo.QueryFirings(ctx, FiringFilter{Limit: 3, Offset: 3})
		require.NoError(t, err)
		require.Len(t, items, 3)
		assert.Equal(t, "f-06", items[0].ID)
	})

	t.Run("rule filter", func(t *testing.T) {
		items, total, err := repo.QueryFirings(ctx, FiringFilter{RuleID: "r-2"})
		require.NoError(t, err)
		assert.Equal(t, int64(5), total)
		for _, f := range items {
			assert.Equal(t, "r-2", f.RuleID)
		}
	})

	t.Run("time range inclusive", func(t *testing.T) {
		items, total, err := repo.QueryFirings(ctx, FiringFilter{
			From: base.Add(2 * time.Minute),
			To:   base.Add(4 * time.Minute),
		})
		require.NoError(t, err)
		assert.Equal(t, int64(3), total)
		require.Len(t, items, 3)
		assert.Equal(t, "f-04", items[0].ID)
		assert.Equal(t, "f-02", items[2].ID)
	})
}

func TestFiringRepository_DeleteFiringsBefore(t *testing.T) {
	db := setupTestDB(t)
	repo := NewFiringRepository(db)
	ctx := t.Context()

	now := time.Now().UTC()
	_, err := repo.AppendFirings(ctx, []entities.AlertFiring{
		testFiring("old-1", "r-1", now.Add(-48*time.Hour)),
		testFiring("old-2", "r-1", now.Add(-36*time.Hour)),
		testFiring("new-1", "r-1", now.Add(-time.Hour)),
	})
	require.NoError(t, err)

	deleted, err := repo.DeleteFiringsBefore(ctx, now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)

	_, err = repo.GetFiring(ctx, "old-1")
	require.ErrorIs(t, err, ErrFiringNotFound)

	var outcomes int64
	require.NoError(t, db.Model(&entities.DeliveryOutcome{}).Count(&outcomes).Error)
	assert.Equal(t, int64(2), outcomes, "only the remaining firing's outcomes are kept")
}
