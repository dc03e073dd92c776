package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/homeops/opswatch/internal/datastore/entities"
	"github.com/homeops/opswatch/internal/errors"
	"github.com/homeops/opswatch/internal/history"
	"github.com/homeops/opswatch/internal/monitor"
	"github.com/homeops/opswatch/internal/stream"
)

func newRule(name string) entities.AlertRule {
	return entities.AlertRule{
		Name:      name,
		Metric:    "cpu_percent",
		Operator:  ">",
		Threshold: 80,
		Priority:  "high",
		Enabled:   true,
		Channels: []entities.NotificationChannel{
			{Type: entities.ChannelEmail, Enabled: true, Address: "ops@example.net"},
		},
	}
}

func TestGetSnapshot(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/api/v2/snapshot", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	msg := decode[stream.Message](t, rec)
	assert.Equal(t, stream.TypeSnapshot, msg.Type)
	assert.Equal(t, stream.StatusHealthy, msg.Status)
	require.Len(t, msg.Entities, 1)
	assert.Equal(t, "nginx", msg.Entities[0].ID)
	assert.InDelta(t, 95, msg.Entities[0].Values["cpu_percent"], 0.001)
}

func TestAlertRuleLifecycle(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/v2/alerts/rules", newRule("nginx cpu"))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[entities.AlertRule](t, rec)
	require.NotEmpty(t, created.ID)
	path := "/api/v2/alerts/rules/" + created.ID

	rec = s.do(t, http.MethodGet, path, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "nginx cpu", decode[entities.AlertRule](t, rec).Name)

	update := newRule("nginx cpu")
	update.Threshold = 99
	rec = s.do(t, http.MethodPut, path, update)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.InDelta(t, 99, decode[entities.AlertRule](t, rec).Threshold, 0.001)

	rec = s.do(t, http.MethodPatch, path+"/toggle", map[string]bool{"enabled": false})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.False(t, decode[entities.AlertRule](t, rec).Enabled)

	rec = s.do(t, http.MethodGet, "/api/v2/alerts/rules?enabled=false", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[struct {
		Rules []entities.AlertRule `json:"rules"`
		Count int                  `json:"count"`
	}](t, rec)
	assert.Equal(t, 1, list.Count)

	rec = s.do(t, http.MethodPost, path+"/test", map[string]string{"entity_id": "nginx"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	fired := decode[entities.AlertFiring](t, rec)
	assert.True(t, fired.Test)
	assert.Equal(t, entities.FiringSent, fired.Status)
	assert.Equal(t, "nginx", fired.EntityID)

	rec = s.do(t, http.MethodDelete, path, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = s.do(t, http.MethodGet, path, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, http.MethodPut, path, update)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateAlertRuleErrors(t *testing.T) {
	s := newTestServer(t)

	bad := newRule("bad")
	bad.Metric = "temperature"
	rec := s.do(t, http.MethodPost, "/api/v2/alerts/rules", bad)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "metric", decode[ErrorResponse](t, rec).Field)

	rec = s.do(t, http.MethodPost, "/api/v2/alerts/rules", newRule("dup"))
	require.Equal(t, http.StatusCreated, rec.Code)
	rec = s.do(t, http.MethodPost, "/api/v2/alerts/rules", newRule("dup"))
	assert.Equal(t, http.StatusConflict, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/v2/alerts/rules", strings.NewReader("{not json"))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec = httptest.NewRecorder()
	s.e.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPatch, "/api/v2/alerts/rules/x/toggle", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListAlertHistory(t *testing.T) {
	s := newTestServer(t)

	quiet := newRule("cpu")
	quiet.Threshold = 99 // never matches, so only the test firing is recorded
	rec := s.do(t, http.MethodPost, "/api/v2/alerts/rules", quiet)
	require.Equal(t, http.StatusCreated, rec.Code)
	rule := decode[entities.AlertRule](t, rec)
	rec = s.do(t, http.MethodPost, "/api/v2/alerts/rules/"+rule.ID+"/test", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	require.Eventually(t, func() bool {
		rec := httptest.NewRecorder()
		s.e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v2/alerts/history?rule_id="+rule.ID, http.NoBody))
		var page history.Page
		return rec.Code == http.StatusOK && json.Unmarshal(rec.Body.Bytes(), &page) == nil && page.Total == 1
	}, 2*time.Second, 20*time.Millisecond)

	rec = s.do(t, http.MethodGet, "/api/v2/alerts/history?limit=1000", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	page := decode[history.Page](t, rec)
	assert.Equal(t, history.MaxLimit, page.Limit)
	assert.NotNil(t, page.Firings)

	rec = s.do(t, http.MethodGet, "/api/v2/alerts/history", nil)
	assert.Equal(t, history.DefaultLimit, decode[history.Page](t, rec).Limit)

	for _, q := range []string{"limit=abc", "limit=0", "offset=-1", "from=yesterday"} {
		rec = s.do(t, http.MethodGet, "/api/v2/alerts/history?"+q, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, q)
	}

	rec = s.do(t, http.MethodGet, "/api/v2/alerts/history?from=2026-02-01T00:00:00Z&to=2026-01-01T00:00:00Z", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "from", decode[ErrorResponse](t, rec).Field)
}

func TestGetAlertSchema(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/api/v2/alerts/schema", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "container_status")
	assert.Contains(t, rec.Body.String(), entities.ChannelGenericWebhook)
}

func TestTestChannelEndpoint(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/v2/channels/test", entities.NotificationChannel{
		Type: entities.ChannelGenericWebhook,
		URL:  "https://hooks.example.net/x",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	out := decode[entities.DeliveryOutcome](t, rec)
	assert.Equal(t, entities.OutcomeSent, out.Outcome)

	rec = s.do(t, http.MethodPost, "/api/v2/channels/test", entities.NotificationChannel{Type: entities.ChannelEmail})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/api/v2/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	st := decode[monitor.Status](t, rec)
	assert.Equal(t, stream.StatusHealthy, st.Status)
	assert.Equal(t, 1, st.Entities["running-healthy"])

	rec = s.do(t, http.MethodGet, "/api/v2/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "opswatch_sampler_ticks_total")
}

func TestStatusFor(t *testing.T) {
	t.Parallel()

	build := func(cat errors.Category) error {
		return errors.Newf("boom").Category(cat).Build()
	}
	tests := []struct {
		err  error
		want int
	}{
		{build(errors.CategoryValidation), http.StatusBadRequest},
		{build(errors.CategoryNotFound), http.StatusNotFound},
		{build(errors.CategoryConflict), http.StatusConflict},
		{build(errors.CategoryTimeout), http.StatusGatewayTimeout},
		{build(errors.CategoryDatabase), http.StatusServiceUnavailable},
		{build(errors.CategoryNetwork), http.StatusServiceUnavailable},
		{errors.NewStd("plain"), http.StatusTeapot},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err, http.StatusTeapot), tt.err.Error())
	}
}

func TestStreamWebSocket(t *testing.T) {
	s := newTestServer(t)
	srv := httptest.NewServer(s.e)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v2/stream?interval_ms=1000"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	_ = resp.Body.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg stream.Message
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, stream.TypeSnapshot, msg.Type)
	require.Len(t, msg.Entities, 1)

	require.Eventually(t, func() bool {
		return s.mon.Status().Subscribers == 1
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool {
		return s.mon.Status().Subscribers == 0
	}, 2*time.Second, 10*time.Millisecond, "subscription must be released on disconnect")
}

func TestStreamRejectsBadInterval(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/api/v2/stream?interval_ms=50", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "interval_ms", decode[ErrorResponse](t, rec).Field)

	rec = s.do(t, http.MethodGet, "/api/v2/stream?interval_ms=soon", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStreamRateLimit(t *testing.T) {
	s := newTestServer(t)

	// Burst is 2 in the test settings; refill is far slower than the loop.
	codes := make([]int, 0, 3)
	for range 3 {
		rec := s.do(t, http.MethodGet, "/api/v2/stream?interval_ms=50", nil)
		codes = append(codes, rec.Code)
	}
	assert.Equal(t, []int{http.StatusBadRequest, http.StatusBadRequest, http.StatusTooManyRequests}, codes)
}

func TestCheckNtfyServer(t *testing.T) {
	ntfy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"healthy":true}`))
	}))
	defer ntfy.Close()
	nginx := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html><body>Welcome</body></html>`))
	}))
	defer nginx.Close()

	e := echo.New()
	ctrl := &Controller{}
	check := func(host string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/api/v2/channels/check-ntfy-server?host="+host, http.NoBody)
		rec := httptest.NewRecorder()
		require.NoError(t, ctrl.CheckNtfyServer(e.NewContext(req, rec)))
		return rec
	}

	rec := check(ntfy.Listener.Addr().String())
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[NtfyServerCheckResponse](t, rec)
	assert.Equal(t, "http", resp.Recommended)
	assert.True(t, resp.HTTP)
	assert.False(t, resp.HTTPS)

	rec = check(nginx.Listener.Addr().String())
	assert.Equal(t, "unreachable", decode[NtfyServerCheckResponse](t, rec).Recommended)

	assert.Equal(t, http.StatusBadRequest, check("").Code)
	assert.Equal(t, http.StatusBadRequest, check("169.254.169.254").Code)
}

func TestIsValidNtfyHost(t *testing.T) {
	t.Parallel()

	tests := []struct {
		host string
		want bool
	}{
		{"ntfy.sh", true},
		{"ntfy.example.net:8080", true},
		{"192.168.1.10", true},
		{"[::1]:80", true},
		{"https://ntfy.sh", false},
		{"ntfy.sh:0", false},
		{"ntfy.sh:99999", false},
		{"bad_host", false},
		{"[fd00:ec2::254]:80", false},
		{"", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, isValidNtfyHost(tt.host), tt.host)
	}
}
