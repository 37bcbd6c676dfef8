// conf/defaults.go default values for settings
package conf

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

var envReplacer = strings.NewReplacer(".", "_")

// Sets default values for the configuration.
func setDefaultConfig() {
	viper.SetDefault("debug", false)

	viper.SetDefault("pole.name", "pole")
	viper.SetDefault("pole.triggertimeout", 2*time.Second)
	viper.SetDefault("pole.maxframedltime", 10*time.Second)
	viper.SetDefault("pole.eventtimeout", 60*time.Second)
	viper.SetDefault("pole.networksemaphore", 2)
	viper.SetDefault("pole.writedir", "frames")
	viper.SetDefault("pole.frameheight", 1024)
	viper.SetDefault("pole.framewidth", 4096)
	viper.SetDefault("pole.buffercount", 32)
	viper.SetDefault("pole.opentimeout", 15*time.Second)
	viper.SetDefault("pole.minfreebytes", 1<<30)
	viper.SetDefault("pole.retention.enabled", false)
	viper.SetDefault("pole.retention.maxage", 7*24*time.Hour)
	viper.SetDefault("pole.retention.interval", 15*time.Minute)
	viper.SetDefault("pole.retention.maxdeletions", 1000)

	viper.SetDefault("driver.type", "simulated")
	viper.SetDefault("driver.openretries", 3)
	viper.SetDefault("driver.openbackoff", 3*time.Second)

	viper.SetDefault("broker.dedupwindow", 30*time.Second)
	viper.SetDefault("broker.mqtt.enabled", false)
	viper.SetDefault("broker.mqtt.broker", "tcp://localhost:1883")
	viper.SetDefault("broker.mqtt.topic", "polecam")
	viper.SetDefault("broker.mqtt.retain", false)
	viper.SetDefault("broker.mqtt.qos", 1)

	viper.SetDefault("output.sqlite.enabled", false)
	viper.SetDefault("output.sqlite.path", "polecam.db")
	viper.SetDefault("output.mysql.enabled", false)
	viper.SetDefault("output.mysql.host", "localhost")
	viper.SetDefault("output.mysql.port", "3306")
	viper.SetDefault("output.mysql.database", "polecam")

	viper.SetDefault("api.enabled", true)
	viper.SetDefault("api.listen", "127.0.0.1:8080")
	viper.SetDefault("api.ratelimit", 2.0)
	viper.SetDefault("api.burst", 5)

	viper.SetDefault("telemetry.enabled", false)
	viper.SetDefault("telemetry.listen", "0.0.0.0:8090")

	viper.SetDefault("sentry.enabled", false)

	viper.SetDefault("notification.enabled", false)
	viper.SetDefault("notification.urls", []string{})
	viper.SetDefault("notification.timeout", 10*time.Second)

	viper.SetDefault("logging.default_level", "info")
	viper.SetDefault("logging.timezone", "Local")
	viper.SetDefault("logging.console.enabled", true)
	viper.SetDefault("logging.console.level", "info")
	viper.SetDefault("logging.file_output.enabled", false)
	viper.SetDefault("logging.file_output.path", "logs/polecam.log")
	viper.SetDefault("logging.file_output.level", "debug")
}
