// Package sampler polls the runtime for every known entity on each tick.
package sampler

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/homeops/opswatch/internal/conf"
	"github.com/homeops/opswatch/internal/errors"
	"github.com/homeops/opswatch/internal/logger"
	"github.com/homeops/opswatch/internal/observability"
	"github.com/homeops/opswatch/internal/ringbuf"
	"github.com/homeops/opswatch/internal/runtime"
)

// Entity is the sampler's view of a monitored entity.
type Entity struct {
	ID           string       `json:"id"`
	Name         string       `json:"name"`
	Kind         runtime.Kind `json:"kind"`
	Source       string       `json:"source"`
	Failures     int          `json:"consecutive_failures"`
	LastSample   time.Time    `json:"last_sample_at"`
	LastSeen     time.Time    `json:"last_seen_at"`
	RestartCount int          `json:"restart_count"`
	Stale        bool         `json:"stale"`

	ref runtime.EntityRef
}

// MetricSample is one immutable observation of an entity.
type MetricSample struct {
	EntityID string             `json:"entity_id"`
	At       time.Time          `json:"at"`
	Values   map[string]float64 `json:"values"`
	Running  bool               `json:"running"`
	State    string             `json:"state"`
	Health   string             `json:"health"`
}

// Value returns the metric and whether it was present.
func (s MetricSample) Value(metric string) (float64, bool) {
	v, ok := s.Values[metric]
	return v, ok
}

// EntityFailure records an entity that produced no sample this tick.
type EntityFailure struct {
	EntityID string
	Failures int
	Err      error
}

// TickResult is the output of one sampling cycle.
type TickResult struct {
	At       time.Time
	Samples  []MetricSample
	Failures []EntityFailure
	// Deferred lists entities the tick had no time left to sample. They keep
	// their previous state and go first on the next tick.
	Deferred []string
	// ListErr is set when listing entities failed for at least one source.
	ListErr error
}

// errDeferred marks an entity that was not attempted before the tick deadline.
var errDeferred = errors.NewStd("sampling deferred to the next tick")

type entityState struct {
	Entity
	window *ringbuf.Ring[MetricSample]
}

type sampleResult struct {
	ref    runtime.EntityRef
	sample MetricSample
	err    error
}

// Sampler owns the entity registry and the per-entity rolling windows.
type Sampler struct {
	rt      runtime.Runtime
	cfg     conf.SamplerSettings
	log     logger.Logger
	metrics *observability.Metrics
	limiter *rate.Limiter
	now     func() time.Time

	mu       sync.RWMutex
	entities map[string]*entityState
}

func New(rt runtime.Runtime, cfg conf.SamplerSettings, log logger.Logger, metrics *observability.Metrics) *Sampler {
	limit := rate.Inf
	if cfg.MaxCallsPerSec > 0 {
		limit = rate.Limit(cfg.MaxCallsPerSec)
	}
	burst := max(cfg.Concurrency, 1)
	if cfg.WindowSize < 1 {
		cfg.WindowSize = 1
	}
	return &Sampler{
		rt:       rt,
		cfg:      cfg,
		log:      log.Module("sampler"),
		metrics:  metrics,
		limiter:  rate.NewLimiter(limit, burst),
		now:      time.Now,
		entities: make(map[string]*entityState),
	}
}

// SetClock replaces the time source. Call before the first Sample.
func (s *Sampler) SetClock(now func() time.Time) { s.now = now }

// Sample runs one cycle. It never takes longer than the configured interval.
// A call is only started when the tick has room for its full call timeout;
// entities left over are deferred, not counted as misses.
func (s *Sampler) Sample(ctx context.Context) TickResult {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Interval())
	defer cancel()

	now := s.now()
	result := TickResult{At: now}

	refs, failedSources, listErr := s.list(ctx)
	result.ListErr = listErr

	targets := s.register(refs, failedSources, listErr, now)
	result.Failures = append(result.Failures, s.missSources(failedSources, listErr)...)

	results := make([]sampleResult, len(targets))
	g := new(errgroup.Group)
	g.SetLimit(max(s.cfg.Concurrency, 1))
	for i, ref := range targets {
		g.Go(func() error {
			sample, err := s.sampleOne(ctx, ref)
			results[i] = sampleResult{ref: ref, sample: sample, err: err}
			return nil // one entity never aborts the tick
		})
	}
	_ = g.Wait()

	s.mu.Lock()
	for _, r := range results {
		st, ok := s.entities[r.ref.ID]
		if !ok {
			continue
		}
		if errors.Is(r.err, errDeferred) {
			result.Deferred = append(result.Deferred, r.ref.ID)
			continue
		}
		if r.err != nil {
			st.Failures++
			s.metrics.SamplerFailure("sample")
			s.log.Debug("sample failed",
				logger.String("entity", r.ref.ID),
				logger.Int("failures", st.Failures),
				logger.Error(r.err))
			result.Failures = append(result.Failures, EntityFailure{EntityID: r.ref.ID, Failures: st.Failures, Err: r.err})
			continue
		}
		st.Failures = 0
		st.LastSample = r.sample.At
		if rc, ok := r.sample.Value(runtime.MetricRestartCount); ok {
			st.RestartCount = int(rc)
		}
		st.window.Push(r.sample)
		result.Samples = append(result.Samples, r.sample)
	}
	s.mu.Unlock()

	if len(result.Deferred) > 0 {
		s.log.Warn("tick ended before every entity was sampled",
			logger.Int("deferred", len(result.Deferred)),
			logger.Int("targets", len(targets)))
	}

	slices.Sort(result.Deferred)
	slices.SortFunc(result.Samples, func(a, b MetricSample) int { return cmp.Compare(a.EntityID, b.EntityID) })
	slices.SortFunc(result.Failures, func(a, b EntityFailure) int { return cmp.Compare(a.EntityID, b.EntityID) })
	return result
}

func (s *Sampler) list(ctx context.Context) ([]runtime.EntityRef, map[string]bool, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, nil, err
	}
	callCtx, cancel := context.WithTimeout(ctx, s.cfg.CallTimeout())
	defer cancel()

	refs, err := s.rt.ListEntities(callCtx)
	if err == nil {
		return refs, nil, nil
	}

	s.metrics.SamplerFailure("list")
	s.log.Warn("list entities failed", logger.Error(err))

	var listErr *runtime.ListError
	if errors.As(err, &listErr) {
		failed := make(map[string]bool, len(listErr.Failed))
		for src := range listErr.Failed {
			failed[src] = true
		}
		return refs, failed, err
	}
	// nil map with an error means every source failed
	return nil, nil, err
}

// register records listed entities and returns those to sample this tick,
// least recently sampled first.
// Entities of sources that listed fine but no longer report them go stale
// after the grace period.
func (s *Sampler) register(refs []runtime.EntityRef, failedSources map[string]bool, listErr error, now time.Time) []runtime.EntityRef {
	s.mu.Lock()
	defer s.mu.Unlock()

	listed := make(map[string]bool, len(refs))
	targets := make([]runtime.EntityRef, 0, len(refs))
	for _, ref := range refs {
		listed[ref.ID] = true
		st, ok := s.entities[ref.ID]
		if !ok {
			st = &entityState{
				Entity: Entity{ID: ref.ID, Name: ref.Name, Kind: ref.Kind, Source: ref.Source},
				window: ringbuf.New[MetricSample](s.cfg.WindowSize),
			}
			s.entities[ref.ID] = st
			s.log.Info("entity discovered", logger.String("entity", ref.ID), logger.String("source", ref.Source))
		}
		st.ref = ref
		st.Name = ref.Name
		st.LastSeen = now
		st.Stale = false
		targets = append(targets, ref)
	}
	slices.SortStableFunc(targets, func(a, b runtime.EntityRef) int {
		if c := s.entities[a.ID].LastSample.Compare(s.entities[b.ID].LastSample); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})

	grace := s.cfg.StaleAfter.Std()
	allFailed := listErr != nil && failedSources == nil
	for id, st := range s.entities {
		if listed[id] || st.Stale || failedSources[st.Source] || allFailed {
			continue
		}
		if now.Sub(st.LastSeen) >= grace {
			st.Stale = true
			s.log.Info("entity stale", logger.String("entity", id), logger.Time("last_seen", st.LastSeen))
		}
	}
	return targets
}

// missSources counts one miss for every known entity whose source could not
// be listed.
func (s *Sampler) missSources(failedSources map[string]bool, listErr error) []EntityFailure {
	if listErr == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []EntityFailure
	for id, st := range s.entities {
		if st.Stale {
			continue
		}
		if failedSources != nil && !failedSources[st.Source] {
			continue
		}
		st.Failures++
		out = append(out, EntityFailure{EntityID: id, Failures: st.Failures, Err: listErr})
	}
	return out
}

// callBudget is the time left in the tick required to start a call.
func (s *Sampler) callBudget() time.Duration {
	return min(s.cfg.CallTimeout(), s.cfg.Interval()/2)
}

func (s *Sampler) sampleOne(ctx context.Context, ref runtime.EntityRef) (MetricSample, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return MetricSample{}, errDeferred
	}
	if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) < s.callBudget() {
		return MetricSample{}, errDeferred
	}
	callCtx, cancel := context.WithTimeout(ctx, s.cfg.CallTimeout())
	raw, err := s.rt.SampleMetrics(callCtx, ref)
	cancel()
	if err != nil {
		return MetricSample{}, err
	}

	values := make(map[string]float64, len(raw.Values)+1)
	for k, v := range raw.Values {
		values[k] = v
	}
	if _, ok := values[runtime.MetricRestartCount]; !ok {
		if err := s.limiter.Wait(ctx); err == nil {
			callCtx, cancel := context.WithTimeout(ctx, s.cfg.CallTimeout())
			if n, err := s.rt.GetRestartCount(callCtx, ref); err == nil {
				values[runtime.MetricRestartCount] = float64(n)
			}
			cancel()
		}
	}

	at := raw.At
	if at.IsZero() {
		at = s.now()
	}
	return MetricSample{
		EntityID: ref.ID,
		At:       at,
		Values:   values,
		Running:  raw.Running,
		State:    raw.State,
		Health:   raw.Health,
	}, nil
}

// Entities returns a copy of every known entity sorted by id.
func (s *Sampler) Entities() []Entity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Entity, 0, len(s.entities))
	for _, st := range s.entities {
		out = append(out, st.Entity)
	}
	slices.SortFunc(out, func(a, b Entity) int { return cmp.Compare(a.ID, b.ID) })
	return out
}

// Entity returns one entity by id.
func (s *Sampler) Entity(id string) (Entity, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.entities[id]
	if !ok {
		return Entity{}, false
	}
	return st.Entity, true
}

// Window returns the entity's rolling window, oldest first.
func (s *Sampler) Window(id string) []MetricSample {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.entities[id]
	if !ok {
		return nil
	}
	return st.window.Items()
}

// Latest returns the newest sample of the entity.
func (s *Sampler) Latest(id string) (MetricSample, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.entities[id]
	if !ok {
		return MetricSample{}, false
	}
	return st.window.Last()
}
