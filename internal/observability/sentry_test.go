package observability

import (
	"sync"
	"testing"

	"github.com/getsentry/sentry-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/homeops/opswatch/internal/conf"
	"github.com/homeops/opswatch/internal/errors"
	"github.com/homeops/opswatch/internal/logger"
)

func TestInitSentry_DisabledWithoutDSN(t *testing.T) {
	t.Parallel()

	flush, err := InitSentry(conf.TelemetrySettings{}, "dev", logger.NewNop())
	require.NoError(t, err)
	require.NotNil(t, flush)
	assert.NotPanics(t, flush)
}

func TestInitSentry_InvalidDSN(t *testing.T) {
	t.Parallel()

	_, err := InitSentry(conf.TelemetrySettings{SentryDSN: "::not-a-dsn"}, "dev", logger.NewNop())
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))
}

func TestReportToSentry_Tags(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var events []*sentry.Event
	client, err := sentry.NewClient(sentry.ClientOptions{
		BeforeSend: func(event *sentry.Event, _ *sentry.EventHint) *sentry.Event {
			mu.Lock()
			events = append(events, event)
			mu.Unlock()
			return nil
		},
	})
	require.NoError(t, err)
	hub := sentry.NewHub(client, sentry.NewScope())

	report := reportToSentry(hub)
	report(errors.Newf("history store unreachable").
		Component("history").
		Category(errors.CategoryDatabase).
		Context("ring_size", 12).
		Build())

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, events, 1)
	assert.Equal(t, "history", events[0].Tags["component"])
	assert.Equal(t, "database", events[0].Tags["category"])
	require.Contains(t, events[0].Contexts, "error")
	assert.EqualValues(t, 12, events[0].Contexts["error"]["ring_size"])
}
