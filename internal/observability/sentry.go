package observability

import (
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/homeops/opswatch/internal/conf"
	"github.com/homeops/opswatch/internal/errors"
	"github.com/homeops/opswatch/internal/logger"
)

const sentryFlushTimeout = 2 * time.Second

// InitSentry enables error telemetry when a DSN is configured and installs
// the errors package reporter. The returned func flushes pending events and
// is always safe to call.
func InitSentry(cfg conf.TelemetrySettings, release string, log logger.Logger) (func(), error) {
	if cfg.SentryDSN == "" {
		return func() {}, nil
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:              cfg.SentryDSN,
		Environment:      cfg.Environment,
		Release:          "opswatch@" + release,
		AttachStacktrace: true,
	})
	if err != nil {
		return func() {}, errors.Newf("failed to initialize sentry: %w", err).
			Component("observability").
			Category(errors.CategoryConfiguration).
			Build()
	}

	errors.SetReporter(reportToSentry(sentry.CurrentHub()))
	log.Info("error telemetry enabled", logger.String("environment", cfg.Environment))

	return func() {
		errors.SetReporter(nil)
		sentry.Flush(sentryFlushTimeout)
	}, nil
}

// reportToSentry captures an enhanced error with its component, category and
// context attached as tags.
func reportToSentry(hub *sentry.Hub) errors.Reporter {
	return func(ee *errors.EnhancedError) {
		hub.WithScope(func(scope *sentry.Scope) {
			scope.SetTag("component", ee.GetComponent())
			scope.SetTag("category", string(ee.GetCategory()))
			if ctx := ee.GetContext(); len(ctx) > 0 {
				scope.SetContext("error", ctx)
			}
			hub.CaptureException(ee)
		})
	}
}
