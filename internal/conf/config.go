// conf/config.go
package conf

import (
	"embed"
	stderrors "errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/tphakala/polecam/internal/errors"
	"github.com/tphakala/polecam/internal/logger"
	"github.com/tphakala/polecam/internal/secrets"
)

//go:embed config.yaml
var configFiles embed.FS

// CameraSettings identifies one camera mounted on the pole
type CameraSettings struct {
	ID           string `yaml:"id"`           // camera identifier, unique within the pole
	IP           string `yaml:"ip"`           // expected camera IP address
	SettingsFile string `yaml:"settingsfile"` // vendor settings file loaded after open
}

// PoleSettings contains the acquisition parameters of one pole
type PoleSettings struct {
	Name             string            `yaml:"name"`             // pole name, used in paths and broker topics
	TriggerTimeout   time.Duration     `yaml:"triggertimeout"`   // max wait for the first trigger, then trigger inactivity window
	MaxFrameDLTime   time.Duration     `yaml:"maxframedltime"`   // max time a camera may spend downloading frames
	EventTimeout     time.Duration     `yaml:"eventtimeout"`     // upper bound for the whole event after the first trigger
	NetworkSemaphore int               `yaml:"networksemaphore"` // simultaneous frame downloads
	WriteDir         string            `yaml:"writedir"`         // local directory for frame files
	FrameHeight      int               `yaml:"frameheight"`      // lines per frame
	FrameWidth       int               `yaml:"framewidth"`       // bytes per line
	BufferCount      int               `yaml:"buffercount"`      // driver stream buffers
	OpenTimeout      time.Duration     `yaml:"opentimeout"`      // bounded wait for a camera to open
	MinFreeBytes     uint64            `yaml:"minfreebytes"`     // warn when free space in writedir drops below
	Retention        RetentionSettings `yaml:"retention"`
	Cameras          []CameraSettings  `yaml:"cameras"`
}

// RetentionSettings controls removal of old event directories below writedir
type RetentionSettings struct {
	Enabled      bool          `yaml:"enabled"`
	MaxAge       time.Duration `yaml:"maxage"`       // events older than this are removed
	Interval     time.Duration `yaml:"interval"`     // time between cleanup runs
	MaxDeletions int           `yaml:"maxdeletions"` // event directories removed per run, 0 for no limit
}

// FrameSize returns the expected byte size of a frame
func (p *PoleSettings) FrameSize() int {
	return p.FrameHeight * p.FrameWidth
}

// DriverSettings selects and tunes the camera driver
type DriverSettings struct {
	Type        string        `yaml:"type"`        // driver implementation, "simulated"
	OpenRetries int           `yaml:"openretries"` // open attempts before giving up on a camera
	OpenBackoff time.Duration `yaml:"openbackoff"` // wait between open attempts
}

// MQTTSettings contains settings for MQTT broker integration
type MQTTSettings struct {
	Enabled      bool   `yaml:"enabled"`      // true to publish events over MQTT
	Broker       string `yaml:"broker"`       // MQTT broker URL
	ClientID     string `yaml:"clientid"`     // MQTT client id, defaults to polecam-<pole>
	Username     string `yaml:"username"`     // MQTT username
	Password     string `yaml:"password"`     // MQTT password, ${VAR} references are expanded
	PasswordFile string `yaml:"passwordfile"` // file holding the password, wins over password
	Topic        string `yaml:"topic"`        // topic prefix
	Retain       bool   `yaml:"retain"`       // retain event messages
	QoS          byte   `yaml:"qos"`          // publish QoS
}

// BrokerSettings configures the downstream report sinks
type BrokerSettings struct {
	MQTT        MQTTSettings  `yaml:"mqtt"`
	DedupWindow time.Duration `yaml:"dedupwindow"` // suppress repeated identical camera errors within this window, 0 disables
}

// SQLiteSettings contains settings for the SQLite event archive
type SQLiteSettings struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// MySQLSettings contains settings for the MySQL event archive
type MySQLSettings struct {
	Enabled      bool   `yaml:"enabled"`
	Username     string `yaml:"username"`
	Password     string `yaml:"password"`
	PasswordFile string `yaml:"passwordfile"`
	Database     string `yaml:"database"`
	Host         string `yaml:"host"`
	Port         string `yaml:"port"`
}

// OutputSettings selects the event archive backend
type OutputSettings struct {
	SQLite SQLiteSettings `yaml:"sqlite"`
	MySQL  MySQLSettings  `yaml:"mysql"`
}

// APISettings configures the HTTP control surface
type APISettings struct {
	Enabled   bool    `yaml:"enabled"`
	Listen    string  `yaml:"listen"`
	RateLimit float64 `yaml:"ratelimit"` // mutating requests per second
	Burst     int     `yaml:"burst"`
}

// TelemetrySettings controls the Prometheus metrics endpoint
type TelemetrySettings struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

// SentrySettings controls error telemetry
type SentrySettings struct {
	Enabled bool   `yaml:"enabled"`
	DSN     string `yaml:"dsn"`
}

// NotificationSettings configures operator alerts
type NotificationSettings struct {
	Enabled bool          `yaml:"enabled"`
	URLs    []string      `yaml:"urls"` // shoutrrr service URLs
	Timeout time.Duration `yaml:"timeout"`
}

// Settings is the root of the configuration
type Settings struct {
	Debug bool `yaml:"debug"`

	Pole         PoleSettings         `yaml:"pole"`
	Driver       DriverSettings       `yaml:"driver"`
	Broker       BrokerSettings       `yaml:"broker"`
	Output       OutputSettings       `yaml:"output"`
	API          APISettings          `yaml:"api"`
	Telemetry    TelemetrySettings    `yaml:"telemetry"`
	Sentry       SentrySettings       `yaml:"sentry"`
	Notification NotificationSettings `yaml:"notification"`

	Logging logger.LoggingConfig `yaml:"logging"`
}

var (
	settingsInstance *Settings
	settingsMutex    sync.RWMutex
)

// Load reads the configuration file and environment variables into Settings.
func Load() (*Settings, error) {
	settingsMutex.Lock()
	defer settingsMutex.Unlock()

	if err := initViper(); err != nil {
		return nil, fmt.Errorf("error initializing viper: %w", err)
	}

	settings := &Settings{}
	if err := viper.Unmarshal(settings); err != nil {
		return nil, errors.New(err).
			Category(errors.CategoryConfiguration).
			Context("operation", "unmarshal-config").
			Build()
	}

	if settings.Broker.MQTT.ClientID == "" {
		settings.Broker.MQTT.ClientID = "polecam-" + settings.Pole.Name
	}

	if err := resolveSecrets(settings, secrets.NewResolver(afero.NewOsFs(), GetLogger())); err != nil {
		return nil, err
	}

	if err := ValidateSettings(settings); err != nil {
		return nil, fmt.Errorf("error validating settings: %w", err)
	}

	settingsInstance = settings
	return settingsInstance, nil
}

// initViper initializes viper with default values and reads the configuration file.
func initViper() error {
	viper.SetConfigType("yaml")
	viper.SetEnvPrefix("POLECAM")
	viper.SetEnvKeyReplacer(envReplacer)
	viper.AutomaticEnv()

	setDefaultConfig()

	// an explicit --config path skips the search
	if viper.ConfigFileUsed() == "" {
		viper.SetConfigName("config")
		configPaths, err := GetDefaultConfigPaths()
		if err != nil {
			return fmt.Errorf("error getting default config paths: %w", err)
		}
		for _, path := range configPaths {
			viper.AddConfigPath(path)
		}
	}

	err := viper.ReadInConfig()
	if err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if stderrors.As(err, &configFileNotFoundError) {
			return createDefaultConfig()
		}
		return errors.New(err).
			Category(errors.CategoryConfiguration).
			Context("operation", "read-config").
			Build()
	}

	return nil
}

// createDefaultConfig writes the embedded default config to the first config path and reads it
func createDefaultConfig() error {
	configDir, err := userConfigDir()
	if err != nil {
		return err
	}
	configPath := filepath.Join(configDir, "config.yaml")

	defaultConfig, err := getDefaultConfig()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		return errors.New(err).
			Category(errors.CategoryFileIO).
			Context("operation", "create-config-dir").
			Context("path", filepath.Dir(configPath)).
			Build()
	}

	if err := os.WriteFile(configPath, defaultConfig, 0o644); err != nil {
		return errors.New(err).
			Category(errors.CategoryFileIO).
			Context("operation", "write-default-config").
			Context("path", configPath).
			Build()
	}

	GetLogger().Info("created default config file", logger.String("path", configPath))
	viper.SetConfigFile(configPath)
	return viper.ReadInConfig()
}

// getDefaultConfig reads the default configuration from the embedded config.yaml file.
func getDefaultConfig() ([]byte, error) {
	data, err := fs.ReadFile(configFiles, "config.yaml")
	if err != nil {
		return nil, errors.New(err).
			Category(errors.CategoryConfiguration).
			Context("operation", "read-embedded-config").
			Build()
	}
	return data, nil
}

// resolveSecrets replaces credential settings with their resolved values.
// Only enabled outputs are resolved so unused references need not be set.
func resolveSecrets(settings *Settings, r *secrets.Resolver) error {
	var err error
	if m := &settings.Broker.MQTT; m.Enabled {
		if m.Password, err = r.Resolve(m.PasswordFile, m.Password); err != nil {
			return fmt.Errorf("mqtt password: %w", err)
		}
	}
	if db := &settings.Output.MySQL; db.Enabled {
		if db.Password, err = r.Resolve(db.PasswordFile, db.Password); err != nil {
			return fmt.Errorf("mysql password: %w", err)
		}
	}
	if settings.Sentry.Enabled {
		if settings.Sentry.DSN, err = secrets.ExpandString(settings.Sentry.DSN); err != nil {
			return fmt.Errorf("sentry dsn: %w", err)
		}
	}
	if settings.Notification.Enabled {
		for i, u := range settings.Notification.URLs {
			if settings.Notification.URLs[i], err = secrets.ExpandString(u); err != nil {
				return fmt.Errorf("notification url %d: %w", i+1, err)
			}
		}
	}
	return nil
}

// GetSettings returns the current settings instance
func GetSettings() *Settings {
	settingsMutex.RLock()
	defer settingsMutex.RUnlock()
	return settingsInstance
}

// SaveYAMLConfig writes settings to configPath.
// It overwrites the existing file, not preserving comments or structure.
func SaveYAMLConfig(configPath string, settings *Settings) error {
	yamlData, err := yaml.Marshal(settings)
	if err != nil {
		return fmt.Errorf("error marshaling settings to YAML: %w", err)
	}

	// write to a temporary file in the same directory and rename over the original
	tempFile, err := os.CreateTemp(filepath.Dir(configPath), "config-*.yaml")
	if err != nil {
		return fmt.Errorf("error creating temporary file: %w", err)
	}
	tempFileName := tempFile.Name()
	defer func() { _ = os.Remove(tempFileName) }()

	if _, err := tempFile.Write(yamlData); err != nil {
		_ = tempFile.Close()
		return fmt.Errorf("error writing to temporary file: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("error closing temporary file: %w", err)
	}

	if err := os.Rename(tempFileName, configPath); err != nil {
		return errors.New(err).
			Category(errors.CategoryFileIO).
			Context("operation", "replace-config").
			Context("path", configPath).
			Build()
	}

	return nil
}
