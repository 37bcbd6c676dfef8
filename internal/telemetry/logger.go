package telemetry

import (
	"sync"

	"github.com/tphakala/polecam/internal/logger"
)

var (
	serviceLogger     logger.Logger
	serviceLoggerOnce sync.Once
)

// GetLogger returns the telemetry package logger
func GetLogger() logger.Logger {
	serviceLoggerOnce.Do(func() {
		serviceLogger = logger.Global().Module("telemetry")
	})
	return serviceLogger
}
