// Package api serves the dashboard HTTP API under /api/v2.
package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/homeops/opswatch/internal/conf"
	"github.com/homeops/opswatch/internal/errors"
	"github.com/homeops/opswatch/internal/logger"
	"github.com/homeops/opswatch/internal/monitor"
	"github.com/homeops/opswatch/internal/observability"
)

// Prefix is the mount point of every route.
const Prefix = "/api/v2"

// Controller holds the handlers' collaborators.
type Controller struct {
	Echo     *echo.Echo
	Group    *echo.Group
	monitor  *monitor.Monitor
	settings conf.ServerSettings
	metrics  *observability.Metrics
	logger   logger.Logger
}

// New registers every route on e. metrics may be nil, in which case
// /metrics is not served.
func New(e *echo.Echo, mon *monitor.Monitor, settings conf.ServerSettings, metrics *observability.Metrics, log logger.Logger) *Controller {
	if log == nil {
		log = logger.NewNop()
	}
	c := &Controller{
		Echo:     e,
		Group:    e.Group(Prefix),
		monitor:  mon,
		settings: settings,
		metrics:  metrics,
		logger:   log.Module("api"),
	}
	c.initRoutes()
	return c
}

func (c *Controller) initRoutes() {
	c.initStreamRoutes()
	c.initAlertRoutes()
	c.initChannelRoutes()
	c.initHealthRoutes()
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error   string         `json:"error"`
	Message string         `json:"message"`
	Field   string         `json:"field,omitempty"`
	Context map[string]any `json:"context,omitempty"`
}

// HandleError writes err with a status derived from its category.
// fallback is used for uncategorized errors.
func (c *Controller) HandleError(ctx echo.Context, err error, message string, fallback int) error {
	code := statusFor(err, fallback)
	resp := ErrorResponse{Error: err.Error(), Message: message}

	var ee *errors.EnhancedError
	if errors.As(err, &ee) {
		if field, ok := ee.GetContext()["field"].(string); ok {
			resp.Field = field
		}
	}

	if code >= http.StatusInternalServerError {
		c.logger.Error(message,
			logger.Error(err),
			logger.String("path", ctx.Path()),
			logger.Int("status", code))
	}
	return ctx.JSON(code, resp)
}

func statusFor(err error, fallback int) int {
	switch {
	case errors.IsCategory(err, errors.CategoryValidation):
		return http.StatusBadRequest
	case errors.IsCategory(err, errors.CategoryNotFound):
		return http.StatusNotFound
	case errors.IsCategory(err, errors.CategoryConflict):
		return http.StatusConflict
	case errors.IsCategory(err, errors.CategoryTimeout):
		return http.StatusGatewayTimeout
	case errors.IsCategory(err, errors.CategoryDatabase), errors.IsCategory(err, errors.CategoryNetwork):
		return http.StatusServiceUnavailable
	default:
		return fallback
	}
}

func badRequest(ctx echo.Context, message string) error {
	return ctx.JSON(http.StatusBadRequest, ErrorResponse{Error: "bad_request", Message: message})
}
