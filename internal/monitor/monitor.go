// Package monitor wires the sampling pipeline together and exposes the
// operations the dashboard uses.
package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/homeops/opswatch/internal/alerting"
	"github.com/homeops/opswatch/internal/conf"
	"github.com/homeops/opswatch/internal/datastore/entities"
	"github.com/homeops/opswatch/internal/datastore/repository"
	"github.com/homeops/opswatch/internal/health"
	"github.com/homeops/opswatch/internal/history"
	"github.com/homeops/opswatch/internal/logger"
	"github.com/homeops/opswatch/internal/mqtt"
	"github.com/homeops/opswatch/internal/notification"
	"github.com/homeops/opswatch/internal/observability"
	"github.com/homeops/opswatch/internal/runtime"
	"github.com/homeops/opswatch/internal/sampler"
	"github.com/homeops/opswatch/internal/stream"
)

// shutdownTimeout bounds the flush of queued history on Run's exit.
const shutdownTimeout = 10 * time.Second

// Deps are the collaborators of a Monitor. MQTT and Metrics are optional.
type Deps struct {
	Runtime runtime.Runtime
	Rules   repository.AlertRuleRepository
	Firings repository.FiringRepository
	Router  *notification.Router
	MQTT    *mqtt.Bridge
	Metrics *observability.Metrics
	Logger  logger.Logger
	// Now replaces the wall clock in every stage.
	Now func() time.Time
}

// Monitor runs the pipeline sampler -> classifier -> engine -> router ->
// history, feeding the stream publisher and the MQTT bridge on the way.
type Monitor struct {
	cfg     *conf.Settings
	log     logger.Logger
	metrics *observability.Metrics
	now     func() time.Time

	rules      repository.AlertRuleRepository
	sampler    *sampler.Sampler
	classifier *health.Classifier
	engine     *alerting.Engine
	router     *notification.Router
	history    *history.Store
	publisher  *stream.Publisher
	bridge     *mqtt.Bridge
	meta       *history.MetaAlertBoard

	dispatches sync.WaitGroup
	startOnce  sync.Once
}

// New builds a monitor. Rules are seeded and loaded; nothing runs until
// Run or Tick.
func New(ctx context.Context, cfg *conf.Settings, deps Deps) (*Monitor, error) {
	log := deps.Logger
	if log == nil {
		log = logger.NewNop()
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}

	engine, err := alerting.Initialize(ctx, deps.Rules, cfg.Alerting, log, deps.Metrics)
	if err != nil {
		return nil, err
	}
	engine.SetClock(now)

	router := deps.Router
	if router == nil {
		router = notification.NewDefaultRouter(cfg.Notification, log, deps.Metrics)
	}

	m := &Monitor{
		cfg:        cfg,
		log:        log.Module("monitor"),
		metrics:    deps.Metrics,
		now:        now,
		rules:      deps.Rules,
		sampler:    sampler.New(deps.Runtime, cfg.Sampler, log, deps.Metrics),
		classifier: health.New(cfg.Health),
		engine:     engine,
		router:     router,
		publisher:  stream.NewPublisher(cfg.Stream, log, deps.Metrics),
		bridge:     deps.MQTT,
		meta:       history.NewMetaAlertBoard(),
	}
	m.sampler.SetClock(now)
	m.publisher.SetClock(now)
	m.history = history.NewStore(deps.Firings, cfg.History, m.meta, log, deps.Metrics)
	m.history.SetClock(now)
	m.meta.OnChange(m.onMetaAlert)

	m.seedRecent(ctx)
	m.seedCooldowns(ctx)
	return m, nil
}

// seedCooldowns restores cooldowns from firings inside the longest cooldown
// window.
func (m *Monitor) seedCooldowns(ctx context.Context) {
	window := m.engine.LongestCooldown()
	if window <= 0 {
		return
	}
	filter := history.Filter{From: m.now().Add(-window), Limit: history.MaxLimit}
	restored := 0
	for {
		page, err := m.history.Query(ctx, filter)
		if err != nil {
			m.log.Warn("could not restore cooldowns", logger.Error(err))
			return
		}
		restored += m.engine.RestoreCooldowns(page.Firings)
		filter.Offset += len(page.Firings)
		if len(page.Firings) < filter.Limit || int64(filter.Offset) >= page.Total {
			break
		}
	}
	if restored > 0 {
		m.log.Info("cooldowns restored", logger.Int("pairs", restored), logger.Duration("window", window))
	}
}

// seedRecent loads the latest stored firings so snapshots are not empty
// after a restart.
func (m *Monitor) seedRecent(ctx context.Context) {
	page, err := m.history.Query(ctx, history.Filter{Limit: max(m.cfg.Stream.RecentFirings, 1)})
	if err != nil {
		m.log.Warn("could not load recent firings", logger.Error(err))
		return
	}
	for i := len(page.Firings) - 1; i >= 0; i-- {
		m.publisher.PublishFiring(page.Firings[i])
	}
}

func (m *Monitor) onMetaAlert(a history.MetaAlert) {
	m.publisher.PublishMetaAlert(a)
	m.metrics.SetMetaAlerts(len(m.meta.Active()))
	if a.Active() {
		m.log.Error("meta-alert raised", logger.String("kind", a.Kind), logger.String("message", a.Message))
	} else {
		m.log.Info("meta-alert cleared", logger.String("kind", a.Kind))
	}
}

// Start launches background workers. Run calls it.
func (m *Monitor) Start() {
	m.startOnce.Do(func() {
		m.history.Start()
		if m.bridge != nil {
			m.bridge.Start()
		}
	})
}

// Run ticks until ctx ends, then waits for in-flight notifications and
// flushes history.
func (m *Monitor) Run(ctx context.Context) error {
	m.Start()

	interval := m.cfg.Sampler.Interval()
	m.log.Info("monitor started", logger.Duration("interval", interval))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	m.Tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return m.shutdown()
		case <-ticker.C:
			m.Tick(ctx)
		}
	}
}

func (m *Monitor) shutdown() error {
	m.log.Info("monitor stopping")
	m.WaitDispatches()
	m.publisher.Close()

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if m.bridge != nil {
		if err := m.bridge.Close(ctx); err != nil {
			m.log.Warn("mqtt queue not drained", logger.Error(err))
		}
	}
	if err := m.history.Close(ctx); err != nil {
		m.log.Warn("history flush incomplete", logger.Error(err))
		return err
	}
	return nil
}

// WaitDispatches blocks until every notification started so far is done.
func (m *Monitor) WaitDispatches() {
	m.dispatches.Wait()
}

// Tick runs one pipeline cycle.
func (m *Monitor) Tick(ctx context.Context) {
	start := time.Now()
	res := m.sampler.Sample(ctx)

	if res.ListErr != nil {
		m.meta.Raise(history.MetaRuntimeUnreachable, "runtime unreachable: "+res.ListErr.Error(), res.At)
	} else {
		m.meta.Clear(history.MetaRuntimeUnreachable, res.At)
	}

	var transitions []health.Transition
	samples := make(map[string]*sampler.MetricSample, len(res.Samples))
	for i := range res.Samples {
		s := &res.Samples[i]
		samples[s.EntityID] = s
		if t, ok := m.classifier.Observe(*s); ok {
			transitions = append(transitions, t)
		}
	}
	for _, f := range res.Failures {
		if t, ok := m.classifier.Miss(f.EntityID, res.At); ok {
			transitions = append(transitions, t)
		}
	}
	for _, t := range transitions {
		m.publishTransition(t)
	}

	known := m.sampler.Entities()
	targets := make([]alerting.Target, 0, len(known))
	for _, e := range known {
		targets = append(targets, alerting.Target{
			EntityID:   e.ID,
			EntityName: e.Name,
			Stale:      e.Stale,
			Sample:     samples[e.ID],
			State:      m.classifier.State(e.ID),
		})
	}

	for _, f := range m.engine.Evaluate(ctx, targets) {
		m.dispatch(ctx, f)
	}

	m.publisher.UpdateEntities(m.entityViews(known))
	m.metrics.SetEntityStates(m.classifier.Counts())
	m.metrics.ObserveTick(time.Since(start))
}

// dispatch notifies the rule's channels in the background. The firing is
// recorded once every channel has an outcome.
func (m *Monitor) dispatch(ctx context.Context, f alerting.Firing) {
	ctx = context.WithoutCancel(ctx)
	m.dispatches.Add(1)
	go func() {
		defer m.dispatches.Done()
		m.deliver(ctx, &f)
	}()
}

func (m *Monitor) deliver(ctx context.Context, f *alerting.Firing) entities.AlertFiring {
	outcomes := m.router.Dispatch(ctx, f, f.Rule.Channels)
	rec := f.Record(outcomes)

	m.log.Info("rule fired",
		logger.String("rule", f.Rule.Name),
		logger.String("entity", f.EntityID),
		logger.String("value", f.ValueString()),
		logger.String("status", rec.Status),
		logger.Bool("test", f.Test))

	m.history.Record(rec)
	m.publisher.PublishFiring(rec)
	if m.bridge != nil {
		m.bridge.QueueFiring(rec)
	}
	return rec
}

func (m *Monitor) publishTransition(t health.Transition) {
	m.log.Info("entity state changed",
		logger.String("entity", t.EntityID),
		logger.String("from", string(t.From)),
		logger.String("to", string(t.To)),
		logger.String("reason", t.Reason))
	m.publisher.PublishTransition(t)
	if m.bridge != nil {
		m.bridge.QueueTransition(t)
	}
}

func (m *Monitor) entityViews(known []sampler.Entity) []stream.EntityView {
	views := make([]stream.EntityView, 0, len(known))
	for _, e := range known {
		v := stream.EntityView{
			ID:           e.ID,
			Name:         e.Name,
			Kind:         string(e.Kind),
			State:        m.classifier.State(e.ID),
			StateSince:   m.classifier.Since(e.ID),
			Stale:        e.Stale,
			Failures:     e.Failures,
			RestartCount: e.RestartCount,
			LastSample:   e.LastSample,
			Window:       m.sampler.Window(e.ID),
		}
		if latest, ok := m.sampler.Latest(e.ID); ok {
			v.Values = latest.Values
		}
		views = append(views, v)
	}
	return views
}
