package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gorm_logger "gorm.io/gorm/logger"

	"github.com/homeops/opswatch/internal/conf"
	"github.com/homeops/opswatch/internal/datastore/entities"
	"github.com/homeops/opswatch/internal/datastore/repository"
	"github.com/homeops/opswatch/internal/logger"
	"github.com/homeops/opswatch/internal/monitor"
	"github.com/homeops/opswatch/internal/notification"
	"github.com/homeops/opswatch/internal/observability"
	"github.com/homeops/opswatch/internal/runtime"
)

// staticRuntime reports a fixed set of containers with fixed metrics.
type staticRuntime struct {
	mu      sync.Mutex
	values  map[string]map[string]float64
	listErr error
}

func (r *staticRuntime) Name() string { return "static" }

func (r *staticRuntime) ListEntities(context.Context) ([]runtime.EntityRef, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.listErr != nil {
		return nil, r.listErr
	}
	refs := make([]runtime.EntityRef, 0, len(r.values))
	for id := range r.values {
		refs = append(refs, runtime.EntityRef{ID: id, Name: id, Kind: runtime.KindContainer, Source: "static"})
	}
	return refs, nil
}

func (r *staticRuntime) SampleMetrics(_ context.Context, ref runtime.EntityRef) (runtime.RawSample, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	values := make(map[string]float64, len(r.values[ref.ID]))
	for k, v := range r.values[ref.ID] {
		values[k] = v
	}
	return runtime.RawSample{Running: true, State: runtime.StateRunning, Health: runtime.HealthNone, Values: values}, nil
}

func (r *staticRuntime) GetRestartCount(context.Context, runtime.EntityRef) (int, error) {
	return 0, nil
}

// okSender accepts every message.
type okSender struct {
	typ string

	mu   sync.Mutex
	sent int
}

func (s *okSender) Type() string { return s.typ }

func (s *okSender) Send(context.Context, entities.NotificationChannel, notification.Message) error {
	s.mu.Lock()
	s.sent++
	s.mu.Unlock()
	return nil
}

type testServer struct {
	e       *echo.Echo
	mon     *monitor.Monitor
	rt      *staticRuntime
	metrics *observability.Metrics
}

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		Logger: gorm_logger.Default.LogMode(gorm_logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(entities.All()...))
	return db
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	cfg := conf.Defaults()
	cfg.Alerting.SeedDefaults = false
	cfg.Alerting.RulesFile = ""
	cfg.History.FlushIntervalMs = 20
	cfg.Server.StreamConnectRate = 1
	cfg.Server.StreamConnectBurst = 2

	db := setupTestDB(t)
	rt := &staticRuntime{values: map[string]map[string]float64{
		"nginx": {runtime.MetricCPUPercent: 95, runtime.MetricMemoryPercent: 40},
	}}
	metrics := observability.NewMetrics()

	router := notification.NewRouter(time.Second, logger.NewNop(), metrics,
		&okSender{typ: entities.ChannelEmail},
		&okSender{typ: entities.ChannelChatWebhook},
		&okSender{typ: entities.ChannelGenericWebhook},
	)
	mon, err := monitor.New(context.Background(), cfg, monitor.Deps{
		Runtime: rt,
		Rules:   repository.NewAlertRuleRepository(db),
		Firings: repository.NewFiringRepository(db),
		Router:  router,
		Metrics: metrics,
		Logger:  logger.NewNop(),
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = mon.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	require.Eventually(t, func() bool {
		return len(mon.GetCurrentSnapshot().Entities) == 1
	}, 2*time.Second, 10*time.Millisecond, "first tick never ran")

	e := echo.New()
	New(e, mon, cfg.Server, metrics, logger.NewNop())
	return &testServer{e: e, mon: mon, rt: rt, metrics: metrics}
}

func (s *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	s.e.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}
