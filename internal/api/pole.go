package api

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/tphakala/polecam/internal/errors"
	"github.com/tphakala/polecam/internal/logger"
	"github.com/tphakala/polecam/internal/pole"
)

// DownloadsRequest is the body of PUT /pole/downloads
type DownloadsRequest struct {
	Slots int `json:"slots"`
}

// DownloadsResponse reports the effective download concurrency
type DownloadsResponse struct {
	Requested int `json:"requested"`
	Slots     int `json:"slots"`
	Max       int `json:"max"`
}

// ControlResult is the result of a control action
type ControlResult struct {
	Success   bool      `json:"success"`
	Message   string    `json:"message"`
	Action    string    `json:"action"`
	Timestamp time.Time `json:"timestamp"`
}

// GetPoleStatus handles GET /api/v1/pole
func (c *Controller) GetPoleStatus(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, c.Pole.Status())
}

// SetDownloads handles PUT /api/v1/pole/downloads
func (c *Controller) SetDownloads(ctx echo.Context) error {
	var req DownloadsRequest
	if err := ctx.Bind(&req); err != nil {
		return c.HandleError(ctx, err, "invalid request body", http.StatusBadRequest)
	}
	if req.Slots < 1 {
		return c.HandleError(ctx, nil, "slots must be at least 1", http.StatusBadRequest)
	}

	slots := c.Pole.SetDownloadConcurrency(req.Slots)
	c.log.Info("download concurrency set over api",
		logger.Int("requested", req.Slots),
		logger.Int("slots", slots),
		logger.String("ip", ctx.RealIP()))

	return ctx.JSON(http.StatusOK, DownloadsResponse{
		Requested: req.Slots,
		Slots:     slots,
		Max:       c.Pole.Status().DownloadMax,
	})
}

// StopPole handles POST /api/v1/pole/stop
func (c *Controller) StopPole(ctx echo.Context) error {
	c.log.Warn("pole stop requested over api", logger.String("ip", ctx.RealIP()))
	c.Pole.Stop()

	return ctx.JSON(http.StatusAccepted, ControlResult{
		Success:   true,
		Message:   "pole is stopping",
		Action:    "stop",
		Timestamp: time.Now(),
	})
}

// DetachCamera handles POST /api/v1/cameras/:id/detach
func (c *Controller) DetachCamera(ctx echo.Context) error {
	id := ctx.Param("id")
	if err := c.Pole.Detach(id); err != nil {
		if errors.Is(err, pole.ErrUnknownCamera) {
			return c.HandleError(ctx, err, "camera not found", http.StatusNotFound)
		}
		return c.HandleError(ctx, err, "failed to detach camera", http.StatusInternalServerError)
	}

	c.log.Warn("camera detach requested over api",
		logger.String("camera_id", id),
		logger.String("ip", ctx.RealIP()))

	return ctx.JSON(http.StatusAccepted, ControlResult{
		Success:   true,
		Message:   "camera " + id + " will be taken out of service",
		Action:    "detach",
		Timestamp: time.Now(),
	})
}
