package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"

	"github.com/homeops/opswatch/internal/logger"
	"github.com/homeops/opswatch/internal/stream"
)

const (
	rateLimitWindow = time.Minute

	// Fallbacks when the server settings leave the limiter unset.
	defaultStreamRate  = 10
	defaultStreamBurst = 15
)

func (c *Controller) initStreamRoutes() {
	perMinute := c.settings.StreamConnectRate
	if perMinute <= 0 {
		perMinute = defaultStreamRate
	}
	burst := c.settings.StreamConnectBurst
	if burst <= 0 {
		burst = defaultStreamBurst
	}

	rateLimiterConfig := middleware.RateLimiterConfig{
		Skipper: middleware.DefaultSkipper,
		Store: middleware.NewRateLimiterMemoryStoreWithConfig(
			middleware.RateLimiterMemoryStoreConfig{
				Rate:      rate.Every(rateLimitWindow / time.Duration(perMinute)),
				Burst:     burst,
				ExpiresIn: rateLimitWindow,
			},
		),
		IdentifierExtractor: func(ctx echo.Context) (string, error) {
			return ctx.RealIP(), nil
		},
		ErrorHandler: func(ctx echo.Context, err error) error {
			return ctx.JSON(http.StatusForbidden, ErrorResponse{Error: "forbidden", Message: "could not identify client"})
		},
		DenyHandler: func(ctx echo.Context, identifier string, err error) error {
			return ctx.JSON(http.StatusTooManyRequests, ErrorResponse{
				Error:   "rate_limited",
				Message: "Too many stream connection attempts, please wait before trying again",
			})
		},
	}

	c.Group.GET("/snapshot", c.GetSnapshot)
	c.Group.GET("/stream", c.StreamState, middleware.RateLimiterWithConfig(rateLimiterConfig))
}

// GetSnapshot returns the full current state.
func (c *Controller) GetSnapshot(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, c.monitor.GetCurrentSnapshot())
}

// StreamState upgrades to a WebSocket that receives a snapshot followed by
// incremental updates every interval_ms.
func (c *Controller) StreamState(ctx echo.Context) error {
	intervalMs := 0
	if v := ctx.QueryParam("interval_ms"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return badRequest(ctx, "interval_ms must be an integer")
		}
		intervalMs = n
	}

	sub, err := c.monitor.Subscribe(intervalMs)
	if err != nil {
		return c.HandleError(ctx, err, "Failed to open stream", http.StatusServiceUnavailable)
	}

	c.logger.Debug("stream client connected",
		logger.String("remote", ctx.RealIP()),
		logger.Duration("interval", sub.Interval()))
	if err := stream.ServeWS(ctx.Response(), ctx.Request(), sub, c.logger); err != nil {
		// The upgrader already answered the request.
		return nil //nolint:nilerr // response written
	}
	c.logger.Debug("stream client disconnected", logger.String("remote", ctx.RealIP()))
	return nil
}
