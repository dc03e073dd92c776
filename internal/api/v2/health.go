package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/homeops/opswatch/internal/stream"
)

func (c *Controller) initHealthRoutes() {
	c.Group.GET("/health", c.GetHealth)
	if c.metrics != nil {
		c.Group.GET("/metrics", echo.WrapHandler(c.metrics.Handler()))
	}
}

// GetHealth reports the engine status. A degraded engine answers 503 so
// load balancers and uptime checks notice active meta-alerts.
func (c *Controller) GetHealth(ctx echo.Context) error {
	st := c.monitor.Status()
	code := http.StatusOK
	if st.Status == stream.StatusDegraded {
		code = http.StatusServiceUnavailable
	}
	return ctx.JSON(code, st)
}
