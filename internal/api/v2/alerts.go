package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/homeops/opswatch/internal/alerting"
	"github.com/homeops/opswatch/internal/datastore/entities"
	"github.com/homeops/opswatch/internal/datastore/repository"
	"github.com/homeops/opswatch/internal/history"
)

// QueryValueTrue is the accepted spelling of boolean query parameters.
const QueryValueTrue = "true"

// initAlertRoutes registers alert rule API endpoints.
func (c *Controller) initAlertRoutes() {
	alerts := c.Group.Group("/alerts")

	alerts.GET("/schema", c.GetAlertSchema)
	alerts.GET("/rules", c.ListAlertRules)
	alerts.GET("/rules/:id", c.GetAlertRule)
	alerts.POST("/rules", c.CreateAlertRule)
	alerts.PUT("/rules/:id", c.UpdateAlertRule)
	alerts.PATCH("/rules/:id/toggle", c.ToggleAlertRule)
	alerts.DELETE("/rules/:id", c.DeleteAlertRule)
	alerts.POST("/rules/:id/test", c.TestAlertRule)
	alerts.GET("/history", c.ListAlertHistory)
}

// GetAlertSchema returns the metrics, operators and channel types rules may use.
func (c *Controller) GetAlertSchema(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, alerting.GetSchema())
}

// ListAlertRules returns all alert rules, optionally filtered.
func (c *Controller) ListAlertRules(ctx echo.Context) error {
	filter := repository.AlertRuleFilter{
		Metric: ctx.QueryParam("metric"),
	}
	if enabledParam := ctx.QueryParam("enabled"); enabledParam != "" {
		v := enabledParam == QueryValueTrue
		filter.Enabled = &v
	}
	if builtInParam := ctx.QueryParam("built_in"); builtInParam != "" {
		v := builtInParam == QueryValueTrue
		filter.BuiltIn = &v
	}

	rules, err := c.monitor.ListRules(ctx.Request().Context(), filter)
	if err != nil {
		return c.HandleError(ctx, err, "Failed to list alert rules", http.StatusInternalServerError)
	}

	return ctx.JSON(http.StatusOK, map[string]any{
		"rules": rules,
		"count": len(rules),
	})
}

// GetAlertRule returns a single alert rule by ID.
func (c *Controller) GetAlertRule(ctx echo.Context) error {
	rule, err := c.monitor.GetRule(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return c.HandleError(ctx, err, "Failed to get alert rule", http.StatusInternalServerError)
	}
	return ctx.JSON(http.StatusOK, rule)
}

// CreateAlertRule creates a new alert rule. Any id in the body is ignored.
func (c *Controller) CreateAlertRule(ctx echo.Context) error {
	var rule entities.AlertRule
	if err := ctx.Bind(&rule); err != nil {
		return badRequest(ctx, "Invalid request body")
	}
	rule.ID = ""
	rule.BuiltIn = false

	saved, err := c.monitor.ConfigureRule(ctx.Request().Context(), rule)
	if err != nil {
		return c.HandleError(ctx, err, "Failed to create alert rule", http.StatusInternalServerError)
	}
	return ctx.JSON(http.StatusCreated, saved)
}

// UpdateAlertRule replaces an existing alert rule.
func (c *Controller) UpdateAlertRule(ctx echo.Context) error {
	reqCtx := ctx.Request().Context()
	id := ctx.Param("id")

	if _, err := c.monitor.GetRule(reqCtx, id); err != nil {
		return c.HandleError(ctx, err, "Failed to get alert rule", http.StatusInternalServerError)
	}

	var rule entities.AlertRule
	if err := ctx.Bind(&rule); err != nil {
		return badRequest(ctx, "Invalid request body")
	}
	rule.ID = id

	saved, err := c.monitor.ConfigureRule(reqCtx, rule)
	if err != nil {
		return c.HandleError(ctx, err, "Failed to update alert rule", http.StatusInternalServerError)
	}
	return ctx.JSON(http.StatusOK, saved)
}

// ToggleAlertRule enables or disables an alert rule.
func (c *Controller) ToggleAlertRule(ctx echo.Context) error {
	var body struct {
		Enabled *bool `json:"enabled"`
	}
	if err := ctx.Bind(&body); err != nil || body.Enabled == nil {
		return badRequest(ctx, "Body must contain enabled")
	}

	rule, err := c.monitor.ToggleRule(ctx.Request().Context(), ctx.Param("id"), *body.Enabled)
	if err != nil {
		return c.HandleError(ctx, err, "Failed to toggle alert rule", http.StatusInternalServerError)
	}
	return ctx.JSON(http.StatusOK, rule)
}

// DeleteAlertRule deletes an alert rule. Its history is kept.
func (c *Controller) DeleteAlertRule(ctx echo.Context) error {
	if err := c.monitor.DeleteRule(ctx.Request().Context(), ctx.Param("id")); err != nil {
		return c.HandleError(ctx, err, "Failed to delete alert rule", http.StatusInternalServerError)
	}
	return ctx.NoContent(http.StatusNoContent)
}

// TestAlertRule fires a rule once, bypassing its condition and cooldown,
// and returns the delivery result.
func (c *Controller) TestAlertRule(ctx echo.Context) error {
	var body struct {
		EntityID string `json:"entity_id"`
	}
	if ctx.Request().ContentLength != 0 {
		if err := ctx.Bind(&body); err != nil {
			return badRequest(ctx, "Invalid request body")
		}
	}
	if q := ctx.QueryParam("entity_id"); q != "" {
		body.EntityID = q
	}

	rec, err := c.monitor.TestRule(ctx.Request().Context(), ctx.Param("id"), body.EntityID)
	if err != nil {
		return c.HandleError(ctx, err, "Failed to test alert rule", http.StatusInternalServerError)
	}
	return ctx.JSON(http.StatusOK, rec)
}

// ListAlertHistory returns paginated firing history, newest first.
func (c *Controller) ListAlertHistory(ctx echo.Context) error {
	filter := history.Filter{
		RuleID:   ctx.QueryParam("rule_id"),
		EntityID: ctx.QueryParam("entity_id"),
	}

	var err error
	if filter.From, err = parseTimeParam(ctx, "from"); err != nil {
		return badRequest(ctx, "from must be an RFC 3339 timestamp")
	}
	if filter.To, err = parseTimeParam(ctx, "to"); err != nil {
		return badRequest(ctx, "to must be an RFC 3339 timestamp")
	}
	if limitParam := ctx.QueryParam("limit"); limitParam != "" {
		v, err := strconv.Atoi(limitParam)
		if err != nil || v < 1 {
			return badRequest(ctx, "limit must be a positive integer")
		}
		filter.Limit = min(v, history.MaxLimit)
	}
	if offsetParam := ctx.QueryParam("offset"); offsetParam != "" {
		v, err := strconv.Atoi(offsetParam)
		if err != nil || v < 0 {
			return badRequest(ctx, "offset must be a non-negative integer")
		}
		filter.Offset = v
	}

	page, err := c.monitor.QueryHistory(ctx.Request().Context(), filter)
	if err != nil {
		return c.HandleError(ctx, err, "Failed to list alert history", http.StatusInternalServerError)
	}
	return ctx.JSON(http.StatusOK, page)
}

func parseTimeParam(ctx echo.Context, name string) (time.Time, error) {
	v := ctx.QueryParam(name)
	if v == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, v)
}
