package cmd

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	api "github.com/homeops/opswatch/internal/api/v2"
	"github.com/homeops/opswatch/internal/conf"
	"github.com/homeops/opswatch/internal/datastore"
	"github.com/homeops/opswatch/internal/datastore/repository"
	apperrors "github.com/homeops/opswatch/internal/errors"
	"github.com/homeops/opswatch/internal/logger"
	"github.com/homeops/opswatch/internal/monitor"
	"github.com/homeops/opswatch/internal/mqtt"
	"github.com/homeops/opswatch/internal/observability"
	"github.com/homeops/opswatch/internal/runtime"
)

const (
	httpShutdownTimeout = 10 * time.Second
	dockerPingTimeout   = 3 * time.Second
)

func newServeCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the monitor and the dashboard API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			settings, log, err := flags.load()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, settings, log)
		},
	}
}

func serve(ctx context.Context, settings *conf.Settings, log logger.Logger) error {
	flush, err := observability.InitSentry(settings.Telemetry, Version, log)
	if err != nil {
		log.Warn("error telemetry disabled", logger.Error(err))
	}
	defer flush()

	db, err := datastore.Open(settings.Database, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := datastore.Close(db); err != nil {
			log.Warn("failed to close database", logger.Error(err))
		}
	}()

	rt, err := buildRuntime(ctx, settings.Runtime, log)
	if err != nil {
		return err
	}

	metrics := observability.NewMetrics()

	var bridge *mqtt.Bridge
	if settings.MQTT.Enabled {
		client, err := mqtt.NewClient(settings.MQTT, log)
		if err != nil {
			return err
		}
		if err := client.Connect(ctx); err != nil {
			// paho keeps retrying in the background
			log.Warn("mqtt broker not reachable yet", logger.String("broker", settings.MQTT.Broker), logger.Error(err))
		}
		defer client.Disconnect()
		bridge = mqtt.NewBridge(client, settings.MQTT.TopicPrefix, log)
	}

	mon, err := monitor.New(ctx, settings, monitor.Deps{
		Runtime: rt,
		Rules:   repository.NewAlertRuleRepository(db),
		Firings: repository.NewFiringRepository(db),
		MQTT:    bridge,
		Metrics: metrics,
		Logger:  log,
	})
	if err != nil {
		return err
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	api.New(e, mon, settings.Server, metrics, log)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return mon.Run(gctx)
	})
	g.Go(func() error {
		log.Info("http server listening", logger.String("addr", settings.Server.Listen))
		if err := e.Start(settings.Server.Listen); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), httpShutdownTimeout)
		defer cancel()
		return e.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	log.Info("opswatch stopped")
	return err
}

// buildRuntime combines the enabled runtimes. An unreachable Docker Engine
// is not fatal; it surfaces as a meta-alert once sampling starts.
func buildRuntime(ctx context.Context, cfg conf.RuntimeSettings, log logger.Logger) (runtime.Runtime, error) {
	var runtimes []runtime.Runtime
	if cfg.Docker.Enabled {
		docker := runtime.NewDocker(cfg.Docker.Socket)
		pingCtx, cancel := context.WithTimeout(ctx, dockerPingTimeout)
		if err := docker.Ping(pingCtx); err != nil {
			log.Warn("docker engine not reachable", logger.String("socket", cfg.Docker.Socket), logger.Error(err))
		}
		cancel()
		runtimes = append(runtimes, docker)
	}
	if cfg.Host.Enabled {
		runtimes = append(runtimes, runtime.NewHost(cfg.Host))
	}
	if len(runtimes) == 0 {
		return nil, apperrors.Newf("no runtime enabled: set runtime.docker.enabled or runtime.host.enabled").
			Component("cmd").
			Category(apperrors.CategoryConfiguration).
			Build()
	}
	return runtime.NewMulti(runtimes...), nil
}
