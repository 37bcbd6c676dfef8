// Package api serves the HTTP control surface of a running pole.
package api

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"

	"github.com/tphakala/polecam/internal/conf"
	"github.com/tphakala/polecam/internal/datastore"
	"github.com/tphakala/polecam/internal/logger"
	"github.com/tphakala/polecam/internal/pole"
)

const (
	apiPrefix     = "/api/v1"
	bodyLimit     = "64K"
	limiterExpiry = 3 * time.Minute
)

// PoleControl is the runtime control surface of a pole
type PoleControl interface {
	Status() pole.Status
	SetDownloadConcurrency(n int) int
	Detach(cameraID string) error
	Stop()
}

// EventArchive is the read side of the event archive
type EventArchive interface {
	LatestEvents(limit int) ([]datastore.Event, error)
	CameraErrors(cameraID string, limit int) ([]datastore.CameraError, error)
}

// Controller manages the API routes and handlers
type Controller struct {
	Echo     *echo.Echo
	Group    *echo.Group
	Pole     PoleControl
	Archive  EventArchive // nil when archiving is off
	Settings *conf.Settings

	log       logger.Logger
	startTime time.Time
}

// ErrorResponse is the body of every failed request
type ErrorResponse struct {
	Error         string `json:"error"`
	Message       string `json:"message"`
	Code          int    `json:"code"`
	CorrelationID string `json:"correlation_id"`
}

// New creates the controller and registers its routes on e. archive may be nil.
func New(e *echo.Echo, settings *conf.Settings, p PoleControl, archive EventArchive, log logger.Logger) *Controller {
	if log == nil {
		log = GetLogger()
	}

	c := &Controller{
		Echo:      e,
		Pole:      p,
		Archive:   archive,
		Settings:  settings,
		log:       log,
		startTime: time.Now(),
	}

	c.Group = e.Group(apiPrefix)
	c.Group.Use(middleware.Recover())
	c.Group.Use(middleware.BodyLimit(bodyLimit))
	c.Group.Use(c.LoggingMiddleware())

	c.initRoutes()
	return c
}

func (c *Controller) initRoutes() {
	limited := c.rateLimiter()

	c.Group.GET("/health", c.GetHealth)
	c.Group.GET("/pole", c.GetPoleStatus)
	c.Group.PUT("/pole/downloads", c.SetDownloads, limited)
	c.Group.POST("/pole/stop", c.StopPole, limited)
	c.Group.POST("/cameras/:id/detach", c.DetachCamera, limited)
	c.Group.GET("/cameras/errors", c.GetCameraErrors)
	c.Group.GET("/events", c.GetEvents)
}

// rateLimiter bounds mutating requests per client IP
func (c *Controller) rateLimiter() echo.MiddlewareFunc {
	limit, burst := 2.0, 5
	if c.Settings != nil {
		if c.Settings.API.RateLimit > 0 {
			limit = c.Settings.API.RateLimit
		}
		if c.Settings.API.Burst > 0 {
			burst = c.Settings.API.Burst
		}
	}

	return middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
		Skipper: middleware.DefaultSkipper,
		Store: middleware.NewRateLimiterMemoryStoreWithConfig(
			middleware.RateLimiterMemoryStoreConfig{
				Rate:      rate.Limit(limit),
				Burst:     burst,
				ExpiresIn: limiterExpiry,
			},
		),
		IdentifierExtractor: func(ctx echo.Context) (string, error) {
			return ctx.RealIP(), nil
		},
		ErrorHandler: func(ctx echo.Context, err error) error {
			return c.HandleError(ctx, err, "could not identify client", http.StatusForbidden)
		},
		DenyHandler: func(ctx echo.Context, _ string, err error) error {
			return c.HandleError(ctx, err, "too many control requests, please wait before trying again", http.StatusTooManyRequests)
		},
	})
}

// LoggingMiddleware logs every request on the api module logger
func (c *Controller) LoggingMiddleware() echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:   true,
		LogURI:      true,
		LogMethod:   true,
		LogLatency:  true,
		LogRemoteIP: true,
		LogError:    true,
		LogValuesFunc: func(_ echo.Context, v middleware.RequestLoggerValues) error {
			fields := []logger.Field{
				logger.String("method", v.Method),
				logger.String("uri", v.URI),
				logger.Int("status", v.Status),
				logger.String("ip", v.RemoteIP),
				logger.Duration("latency", v.Latency),
			}
			if v.Error != nil {
				c.log.Warn("request failed", append(fields, logger.Error(v.Error))...)
				return nil
			}
			c.log.Debug("request", fields...)
			return nil
		},
	})
}

// NewErrorResponse creates an API error response with a fresh correlation id
func NewErrorResponse(err error, message string, code int) *ErrorResponse {
	errorStr := message
	if err != nil {
		errorStr = err.Error()
	}
	return &ErrorResponse{
		Error:         errorStr,
		Message:       message,
		Code:          code,
		CorrelationID: uuid.NewString()[:8],
	}
}

// HandleError logs err and writes it as a JSON error response
func (c *Controller) HandleError(ctx echo.Context, err error, message string, code int) error {
	resp := NewErrorResponse(err, message, code)

	fields := []logger.Field{
		logger.String("correlation_id", resp.CorrelationID),
		logger.String("message", message),
		logger.Int("code", code),
		logger.String("path", ctx.Request().URL.Path),
		logger.String("method", ctx.Request().Method),
		logger.String("ip", ctx.RealIP()),
	}
	if err != nil {
		fields = append(fields, logger.Error(err))
	}
	if code >= http.StatusInternalServerError {
		c.log.Error("api error", fields...)
	} else {
		c.log.Warn("api error", fields...)
	}

	return ctx.JSON(code, resp)
}
