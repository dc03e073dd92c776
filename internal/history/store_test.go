package history

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/homeops/opswatch/internal/datastore/entities"
	"github.com/homeops/opswatch/internal/datastore/repository"
	"github.com/homeops/opswatch/internal/errors"
	"github.com/homeops/opswatch/internal/logger"
)

func storedCount(t *testing.T, repo *flakyRepo) int64 {
	t.Helper()
	_, total, err := repo.FiringRepository.QueryFirings(context.Background(), repository.FiringFilter{})
	require.NoError(t, err)
	return total
}

func TestStore_RecordIsWritten(t *testing.T) {
	store, repo := newTestStore(t, testSettings())

	require.True(t, store.Record(firing("f-1", 0)))
	require.True(t, store.Record(firing("f-2", time.Second)))

	require.Eventually(t, func() bool { return storedCount(t, repo) == 2 }, 2*time.Second, 10*time.Millisecond)
	assert.False(t, store.InOutage())
	assert.Empty(t, store.Pending())

	got, err := repo.GetFiring(context.Background(), "f-1")
	require.NoError(t, err)
	require.Len(t, got.Outcomes, 1)
}

func TestStore_RecordIsIdempotent(t *testing.T) {
	store, repo := newTestStore(t, testSettings())

	f := firing("f-dup", 0)
	assert.True(t, store.Record(f))
	assert.False(t, store.Record(f), "replayed id should be rejected")

	require.Eventually(t, func() bool { return storedCount(t, repo) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Len(t, store.Recent(10), 1)
}

func TestStore_RecordRejectsEmptyID(t *testing.T) {
	store, _ := newTestStore(t, testSettings())
	assert.False(t, store.Record(firing("", 0)))
}

func TestStore_OutageRaisesSingleMetaAlert(t *testing.T) {
	store, repo := newTestStore(t, testSettings())
	repo.down.Store(true)

	var raised atomic.Int32
	store.MetaAlerts().OnChange(func(a MetaAlert) {
		if a.Kind == MetaHistoryUnreachable && a.Active() {
			raised.Add(1)
		}
	})

	for i := range 5 {
		store.Record(firing(fmt.Sprintf("f-%d", i), time.Duration(i)*time.Second))
	}

	require.Eventually(t, func() bool { return len(store.Pending()) == 5 }, 2*time.Second, 10*time.Millisecond)
	// Several failing flush attempts must not raise the alert twice.
	require.Eventually(t, func() bool { return repo.writes.Load() >= 3 }, 2*time.Second, 10*time.Millisecond)

	assert.True(t, store.InOutage())
	assert.True(t, store.MetaAlerts().IsActive(MetaHistoryUnreachable))
	assert.Equal(t, int32(1), raised.Load())
	assert.Equal(t, []string{"f-0", "f-1", "f-2", "f-3", "f-4"}, ids(store.Pending()), "held in arrival order")
}

func TestStore_RecoveryDrainsInOrder(t *testing.T) {
	store, repo := newTestStore(t, testSettings())
	repo.down.Store(true)

	for i := range 4 {
		store.Record(firing(fmt.Sprintf("f-%d", i), time.Duration(i)*time.Second))
	}
	require.Eventually(t, func() bool { return len(store.Pending()) == 4 }, 2*time.Second, 10*time.Millisecond)

	repo.down.Store(false)
	require.Eventually(t, func() bool { return storedCount(t, repo) == 4 }, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, []string{"f-0", "f-1", "f-2", "f-3"}, repo.lastBatch())
	assert.False(t, store.InOutage())
	assert.False(t, store.MetaAlerts().IsActive(MetaHistoryUnreachable))
	assert.Empty(t, store.Pending())

	alerts := store.MetaAlerts().Active()
	assert.Empty(t, alerts)
}

func TestStore_RingDropsOldest(t *testing.T) {
	cfg := testSettings()
	cfg.RingCapacity = 3
	store, repo := newTestStore(t, cfg)
	repo.down.Store(true)

	for i := range 5 {
		store.Record(firing(fmt.Sprintf("f-%d", i), time.Duration(i)*time.Second))
	}

	require.Eventually(t, func() bool {
		p := ids(store.Pending())
		return len(p) == 3 && p[2] == "f-4"
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"f-2", "f-3", "f-4"}, ids(store.Pending()))
}

func TestStore_QueryMergesHeldFirings(t *testing.T) {
	store, repo := newTestStore(t, testSettings())

	store.Record(firing("f-old", 0))
	require.Eventually(t, func() bool { return storedCount(t, repo) == 1 }, 2*time.Second, 10*time.Millisecond)

	// Outage with the database still readable: held rows join stored rows.
	repo.failWrites.Store(true)
	store.Record(firing("f-new", time.Minute))
	require.Eventually(t, func() bool { return len(store.Pending()) == 1 }, 2*time.Second, 10*time.Millisecond)

	page, err := store.Query(context.Background(), Filter{})
	require.NoError(t, err)
	assert.False(t, page.Partial)
	assert.Equal(t, int64(2), page.Total)
	assert.Equal(t, []string{"f-new", "f-old"}, ids(page.Firings))
}

func TestStore_QueryIncludesQueuedFirings(t *testing.T) {
	cfg := testSettings()
	cfg.FlushIntervalMs = 60_000
	store, repo := newTestStore(t, cfg)

	require.True(t, store.Record(firing("q-1", 0)))
	require.True(t, store.Record(firing("q-2", time.Second)))

	page, err := store.Query(context.Background(), Filter{})
	require.NoError(t, err)
	assert.Equal(t, int64(2), page.Total, "recorded firings are visible before the flush")
	assert.Equal(t, []string{"q-2", "q-1"}, ids(page.Firings))
	assert.Zero(t, storedCount(t, repo))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, store.Close(ctx))
	assert.Empty(t, store.Unwritten())

	page, err = store.Query(context.Background(), Filter{})
	require.NoError(t, err)
	assert.Equal(t, int64(2), page.Total, "written firings are not counted twice")
}

func TestStore_QueryDuringFullOutageIsPartial(t *testing.T) {
	store, repo := newTestStore(t, testSettings())
	repo.down.Store(true)

	store.Record(firing("f-1", 0))
	store.Record(firing("f-2", time.Second))
	require.Eventually(t, func() bool { return len(store.Pending()) == 2 }, 2*time.Second, 10*time.Millisecond)

	page, err := store.Query(context.Background(), Filter{Limit: 1})
	require.NoError(t, err)
	assert.True(t, page.Partial)
	assert.Equal(t, int64(2), page.Total)
	assert.Equal(t, []string{"f-2"}, ids(page.Firings))

	page, err = store.Query(context.Background(), Filter{Limit: 1, Offset: 1})
	require.NoError(t, err)
	assert.Equal(t, []string{"f-1"}, ids(page.Firings))
}

func TestStore_QueryFilters(t *testing.T) {
	store, repo := newTestStore(t, testSettings())

	a := firing("f-a", 0)
	b := firing("f-b", time.Hour)
	b.RuleID = "rule-mem"
	c := firing("f-c", 2*time.Hour)
	c.EntityID = "host"
	for _, f := range []entities.AlertFiring{a, b, c} {
		store.Record(f)
	}
	require.Eventually(t, func() bool { return storedCount(t, repo) == 3 }, 2*time.Second, 10*time.Millisecond)

	page, err := store.Query(context.Background(), Filter{RuleID: "rule-mem"})
	require.NoError(t, err)
	assert.Equal(t, []string{"f-b"}, ids(page.Firings))

	page, err = store.Query(context.Background(), Filter{EntityID: "host"})
	require.NoError(t, err)
	assert.Equal(t, []string{"f-c"}, ids(page.Firings))

	page, err = store.Query(context.Background(), Filter{From: baseTime.Add(30 * time.Minute), To: baseTime.Add(time.Hour)})
	require.NoError(t, err)
	assert.Equal(t, []string{"f-b"}, ids(page.Firings))
}

func TestStore_QueryLimits(t *testing.T) {
	store, _ := newTestStore(t, testSettings())

	page, err := store.Query(context.Background(), Filter{})
	require.NoError(t, err)
	assert.Equal(t, DefaultLimit, page.Limit)
	assert.NotNil(t, page.Firings)

	page, err = store.Query(context.Background(), Filter{Limit: 5000})
	require.NoError(t, err)
	assert.Equal(t, MaxLimit, page.Limit)

	_, err = store.Query(context.Background(), Filter{From: baseTime, To: baseTime.Add(-time.Hour)})
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryValidation))
}

func TestStore_RecentNewestFirst(t *testing.T) {
	store, _ := newTestStore(t, testSettings())
	for i := range 3 {
		store.Record(firing(fmt.Sprintf("f-%d", i), time.Duration(i)*time.Second))
	}
	assert.Equal(t, []string{"f-2", "f-1"}, ids(store.Recent(2)))
	assert.Len(t, store.Recent(-1), 3)
}

func TestStore_CloseFlushesQueue(t *testing.T) {
	cfg := testSettings()
	cfg.FlushIntervalMs = 60_000
	cfg.BatchSize = 100
	repo := &flakyRepo{FiringRepository: repository.NewFiringRepository(setupTestDB(t))}
	store := NewStore(repo, cfg, nil, logger.NewNop(), nil)
	store.Start()

	for i := range 7 {
		store.Record(firing(fmt.Sprintf("f-%d", i), time.Duration(i)*time.Second))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, store.Close(ctx))
	assert.Equal(t, int64(7), storedCount(t, repo))
	assert.False(t, store.Record(firing("f-late", 0)), "closed store rejects firings")
}

func TestStore_Cleanup(t *testing.T) {
	cfg := testSettings()
	cfg.RetentionDays = 7
	store, repo := newTestStore(t, cfg)
	store.now = func() time.Time { return baseTime.AddDate(0, 0, 10) }

	store.Record(firing("f-old", 0))
	store.Record(firing("f-new", 9*24*time.Hour))
	require.Eventually(t, func() bool { return storedCount(t, repo) == 2 }, 2*time.Second, 10*time.Millisecond)

	deleted, err := store.Cleanup(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)
	assert.Equal(t, int64(1), storedCount(t, repo))

	repo.down.Store(true)
	_, err = store.Cleanup(context.Background())
	require.Error(t, err)
}
