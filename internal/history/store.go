// Package history persists rule firings asynchronously and keeps them
// queryable while the database is unreachable.
package history

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/homeops/opswatch/internal/conf"
	"github.com/homeops/opswatch/internal/datastore/entities"
	"github.com/homeops/opswatch/internal/datastore/repository"
	"github.com/homeops/opswatch/internal/logger"
	"github.com/homeops/opswatch/internal/observability"
	"github.com/homeops/opswatch/internal/ringbuf"
)

const (
	// seenTTL bounds how long a firing id is remembered for deduplication
	// before the repository's conflict handling takes over.
	seenTTL = time.Hour
	// recentCapacity is the number of firings kept in memory for snapshots.
	recentCapacity = 200
	// cleanupInterval is how often old firings are deleted.
	cleanupInterval = time.Hour
	cleanupTimeout  = 30 * time.Second
)

// Store is the alert history. Record never blocks; a background flusher
// writes batches to the repository.
type Store struct {
	repo    repository.FiringRepository
	cfg     conf.HistorySettings
	log     logger.Logger
	metrics *observability.Metrics
	meta    *MetaAlertBoard
	now     func() time.Time

	queue chan entities.AlertFiring
	seen  *cache.Cache

	mu      sync.Mutex
	pending *ringbuf.Ring[entities.AlertFiring] // failed or overflowed writes
	recent  *ringbuf.Ring[entities.AlertFiring]
	// unflushed holds firings queued or being written, by id. A firing is
	// in at most one of unflushed and pending.
	unflushed map[string]entities.AlertFiring
	outage  bool
	closed  bool

	startOnce sync.Once
	stopOnce  sync.Once
	stop      chan struct{}
	wg        sync.WaitGroup
}

// NewStore creates a store. Call Start to run the flusher.
func NewStore(repo repository.FiringRepository, cfg conf.HistorySettings, meta *MetaAlertBoard, log logger.Logger, metrics *observability.Metrics) *Store {
	if meta == nil {
		meta = NewMetaAlertBoard()
	}
	return &Store{
		repo:    repo,
		cfg:     cfg,
		log:     log.Module("history"),
		metrics: metrics,
		meta:    meta,
		now:     time.Now,
		queue:   make(chan entities.AlertFiring, max(cfg.QueueSize, 1)),
		// No janitor goroutine; expired ids are purged by the cleanup loop.
		seen:    cache.New(seenTTL, 0),
		pending: ringbuf.New[entities.AlertFiring](cfg.RingCapacity),
		recent:  ringbuf.New[entities.AlertFiring](recentCapacity),
		stop:    make(chan struct{}),

		unflushed: make(map[string]entities.AlertFiring),
	}
}

// SetClock replaces the time source. Call before Start.
func (s *Store) SetClock(now func() time.Time) { s.now = now }

// Start launches the flusher and, when retention is configured, the
// cleanup loop.
func (s *Store) Start() {
	s.startOnce.Do(func() {
		s.wg.Add(1)
		go s.runFlusher()
		if s.cfg.RetentionDays > 0 {
			s.wg.Add(1)
			go s.runCleanup()
		}
	})
}

// Record enqueues a firing. It returns false when the id was already
// recorded or the store is closed. A full queue spills into the pending
// ring so the caller never waits.
func (s *Store) Record(f entities.AlertFiring) bool {
	if f.ID == "" {
		s.log.Warn("dropping firing without id", logger.String("rule_id", f.RuleID))
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	if err := s.seen.Add(f.ID, struct{}{}, cache.DefaultExpiration); err != nil {
		return false
	}
	s.recent.Push(f)

	select {
	case s.queue <- f:
		s.unflushed[f.ID] = f
	default:
		s.pushPendingLocked(f)
		s.log.Debug("history queue full, firing held in memory", logger.String("firing_id", f.ID))
	}
	return true
}

// Recent returns up to n firings, newest first, including ones not yet
// written.
func (s *Store) Recent(n int) []entities.AlertFiring {
	s.mu.Lock()
	items := s.recent.Items()
	s.mu.Unlock()

	slices.Reverse(items)
	if n >= 0 && len(items) > n {
		items = items[:n]
	}
	return items
}

// Pending returns the firings held in memory because they could not be
// written yet, oldest first.
func (s *Store) Pending() []entities.AlertFiring {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending.Items()
}

// Unwritten returns every firing recorded but not yet confirmed written:
// queued, in a batch being written, or held after a failed write.
func (s *Store) Unwritten() []entities.AlertFiring {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.pending.Items()
	for _, f := range s.unflushed {
		out = append(out, f)
	}
	return out
}

// InOutage reports whether the last write failed.
func (s *Store) InOutage() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.outage
}

// MetaAlerts returns the board the store raises its outage on.
func (s *Store) MetaAlerts() *MetaAlertBoard {
	return s.meta
}

// Close stops accepting firings and flushes what is queued. It returns
// ctx.Err() when ctx ends first.
func (s *Store) Close(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	s.stopOnce.Do(func() { close(s.stop) })

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Store) runFlusher() {
	defer s.wg.Done()

	interval := s.cfg.FlushInterval()
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	batchSize := max(s.cfg.BatchSize, 1)
	batch := make([]entities.AlertFiring, 0, batchSize)

	for {
		select {
		case f := <-s.queue:
			batch = append(batch, f)
			if len(batch) >= batchSize {
				s.flush(batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			s.flush(batch)
			batch = batch[:0]
		case <-s.stop:
			for {
				select {
				case f := <-s.queue:
					batch = append(batch, f)
				default:
					s.flush(batch)
					return
				}
			}
		}
	}
}

// flush writes pending ring entries followed by batch. On failure
// everything moves to the ring and the store enters outage mode.
func (s *Store) flush(batch []entities.AlertFiring) {
	s.mu.Lock()
	held := s.pending.Drain()
	for _, f := range held {
		s.unflushed[f.ID] = f
	}
	s.mu.Unlock()

	if len(held) == 0 && len(batch) == 0 {
		return
	}
	writes := make([]entities.AlertFiring, 0, len(held)+len(batch))
	writes = append(writes, held...)
	writes = append(writes, batch...)

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.WriteTimeout())
	inserted, err := s.repo.AppendFirings(ctx, writes)
	cancel()

	if err != nil {
		s.metrics.HistoryWrite("error")
		s.holdFailed(writes, err)
		return
	}

	s.metrics.HistoryWrite("ok")
	s.mu.Lock()
	for _, f := range writes {
		delete(s.unflushed, f.ID)
	}
	wasOutage := s.outage
	s.outage = false
	size := s.pending.Len()
	s.mu.Unlock()
	s.metrics.SetHistoryRing(size, false)

	if wasOutage {
		s.meta.Clear(MetaHistoryUnreachable, s.now())
		s.log.Info("history store reachable again",
			logger.Int("drained", len(held)),
			logger.Int("inserted", inserted))
	}
}

func (s *Store) holdFailed(writes []entities.AlertFiring, err error) {
	s.mu.Lock()
	newer := s.pending.Drain()
	for _, f := range writes {
		delete(s.unflushed, f.ID)
		s.pushPendingLocked(f)
	}
	for _, f := range newer {
		s.pushPendingLocked(f)
	}
	first := !s.outage
	s.outage = true
	size := s.pending.Len()
	s.mu.Unlock()
	s.metrics.SetHistoryRing(size, true)

	if first {
		s.log.Error("history store unreachable, holding firings in memory",
			logger.Int("held", size),
			logger.Error(err))
		s.meta.Raise(MetaHistoryUnreachable, "history store unreachable: "+err.Error(), s.now())
	} else {
		s.log.Debug("history write retry failed", logger.Int("held", size), logger.Error(err))
	}
}

func (s *Store) pushPendingLocked(f entities.AlertFiring) {
	if evicted, dropped := s.pending.Push(f); dropped {
		s.metrics.HistoryDroppedInc()
		s.log.Warn("history ring full, dropping oldest firing",
			logger.String("firing_id", evicted.ID),
			logger.Time("fired_at", evicted.FiredAt))
	}
}

func (s *Store) runCleanup() {
	defer s.wg.Done()

	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
			_, _ = s.Cleanup(ctx)
			cancel()
		case <-s.stop:
			return
		}
	}
}

// Cleanup deletes firings older than the retention period and purges
// expired ids from the dedup cache.
func (s *Store) Cleanup(ctx context.Context) (int64, error) {
	s.seen.DeleteExpired()
	if s.cfg.RetentionDays <= 0 {
		return 0, nil
	}
	cutoff := s.now().AddDate(0, 0, -s.cfg.RetentionDays)
	deleted, err := s.repo.DeleteFiringsBefore(ctx, cutoff)
	if err != nil {
		s.log.Error("alert history cleanup failed", logger.Error(err))
		return 0, err
	}
	if deleted > 0 {
		s.log.Info("alert history cleanup completed",
			logger.Int64("deleted", deleted),
			logger.Int("retention_days", s.cfg.RetentionDays))
	}
	return deleted, nil
}
