// conf/utils.go various util functions for configuration package
package conf

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/tphakala/polecam/internal/errors"
	"github.com/tphakala/polecam/internal/logger"
)

// DriverSimulated selects the built-in simulated camera driver
const DriverSimulated = "simulated"

var (
	confLogger     logger.Logger
	confLoggerOnce sync.Once
)

// GetLogger returns the configuration package logger
func GetLogger() logger.Logger {
	confLoggerOnce.Do(func() {
		confLogger = logger.Global().Module("conf")
	})
	return confLogger
}

// userConfigDir is where a default config is created on first run
func userConfigDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", errors.New(err).
			Category(errors.CategorySystem).
			Context("operation", "get-home-directory").
			Build()
	}
	return filepath.Join(homeDir, ".config", "polecam"), nil
}

// GetDefaultConfigPaths returns the directories searched for config.yaml.
// If a config.yaml exists in one of them, only that directory is returned.
func GetDefaultConfigPaths() ([]string, error) {
	userDir, err := userConfigDir()
	if err != nil {
		return nil, err
	}

	configPaths := []string{".", userDir, "/etc/polecam"}

	for _, path := range configPaths {
		if _, err := os.Stat(filepath.Join(path, "config.yaml")); err == nil {
			return []string{path}, nil
		}
	}

	return configPaths, nil
}

// FindConfigFile locates the configuration file in use.
func FindConfigFile() (string, error) {
	configPaths, err := GetDefaultConfigPaths()
	if err != nil {
		return "", err
	}

	for _, path := range configPaths {
		configFilePath := filepath.Join(path, "config.yaml")
		if _, err := os.Stat(configFilePath); err == nil {
			return configFilePath, nil
		}
	}

	return "", errors.Newf("config file not found").
		Category(errors.CategoryFileIO).
		Context("operation", "find-config-file").
		Build()
}

// RunningInContainer checks if the program is running inside a container.
func RunningInContainer() bool {
	if _, err := os.Stat("/.dockerenv"); err == nil {
		return true
	}
	if _, err := os.Stat("/run/.containerenv"); err == nil {
		return true
	}
	containerEnv, exists := os.LookupEnv("container")
	return exists && containerEnv != ""
}
