package api

import "github.com/tphakala/polecam/internal/logger"

// GetLogger returns the api module logger
func GetLogger() logger.Logger {
	return logger.Global().Module("api")
}
