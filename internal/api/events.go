package api

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
)

// parseLimit reads the limit query parameter; 0 selects the archive default
func parseLimit(ctx echo.Context) (int, error) {
	raw := ctx.QueryParam("limit")
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "limit must be a non-negative integer")
	}
	return n, nil
}

// GetEvents handles GET /api/v1/events
func (c *Controller) GetEvents(ctx echo.Context) error {
	if c.Archive == nil {
		return c.HandleError(ctx, nil, "event archive is not enabled", http.StatusNotFound)
	}
	limit, err := parseLimit(ctx)
	if err != nil {
		return c.HandleError(ctx, err, "invalid limit", http.StatusBadRequest)
	}

	events, err := c.Archive.LatestEvents(limit)
	if err != nil {
		return c.HandleError(ctx, err, "failed to read events", http.StatusInternalServerError)
	}
	return ctx.JSON(http.StatusOK, events)
}

// GetCameraErrors handles GET /api/v1/cameras/errors?camera=<id>
func (c *Controller) GetCameraErrors(ctx echo.Context) error {
	if c.Archive == nil {
		return c.HandleError(ctx, nil, "event archive is not enabled", http.StatusNotFound)
	}
	limit, err := parseLimit(ctx)
	if err != nil {
		return c.HandleError(ctx, err, "invalid limit", http.StatusBadRequest)
	}

	errs, err := c.Archive.CameraErrors(ctx.QueryParam("camera"), limit)
	if err != nil {
		return c.HandleError(ctx, err, "failed to read camera errors", http.StatusInternalServerError)
	}
	return ctx.JSON(http.StatusOK, errs)
}
